package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	CORS     CORSConfig
	Log      LogConfig
	Terms    TermsConfig
	Profiles ProfileConfig
	Session  SessionConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxOpenConns      int
	MaxIdleConns      int
	MigrationsEnabled bool
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret            string
	Issuer            string
	Expiration        time.Duration
	RefreshExpiration time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// TermsConfig tunes term loading and activation.
type TermsConfig struct {
	CacheEnabled     bool
	CacheTTL         time.Duration
	AtomicActivation bool
}

// ProfileConfig controls the profile fetch/auto-create fallback.
type ProfileConfig struct {
	FetchRetries        int
	RetryInterval       time.Duration
	ErrorBackoff        time.Duration
	DefaultRoleLogin    string
	DefaultRoleResolver string
}

// SessionConfig bounds session resolution.
type SessionConfig struct {
	SafetyTimeout time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:              v.GetString("DB_HOST"),
		Port:              v.GetInt("DB_PORT"),
		User:              v.GetString("DB_USER"),
		Password:          v.GetString("DB_PASSWORD"),
		Name:              v.GetString("DB_NAME"),
		SSLMode:           v.GetString("DB_SSL_MODE"),
		MaxOpenConns:      v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns:      v.GetInt("DB_MAX_IDLE_CONNS"),
		MigrationsEnabled: v.GetBool("MIGRATIONS_ENABLED"),
	}

	cfg.Redis = RedisConfig{
		Enabled:  v.GetBool("REDIS_ENABLED"),
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:            v.GetString("JWT_SECRET"),
		Issuer:            v.GetString("JWT_ISSUER"),
		Expiration:        parseDuration(v.GetString("JWT_EXPIRATION"), time.Hour),
		RefreshExpiration: parseDuration(v.GetString("REFRESH_TOKEN_EXPIRATION"), 7*24*time.Hour),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Terms = TermsConfig{
		CacheEnabled:     v.GetBool("TERMS_CACHE_ENABLED"),
		CacheTTL:         parseDuration(v.GetString("TERMS_CACHE_TTL"), 5*time.Minute),
		AtomicActivation: v.GetBool("TERMS_ATOMIC_ACTIVATION"),
	}

	retries := v.GetInt("PROFILE_FETCH_RETRIES")
	if retries <= 0 {
		retries = 3
	}
	cfg.Profiles = ProfileConfig{
		FetchRetries:        retries,
		RetryInterval:       parseDuration(v.GetString("PROFILE_RETRY_INTERVAL"), 500*time.Millisecond),
		ErrorBackoff:        parseDuration(v.GetString("PROFILE_ERROR_BACKOFF"), time.Second),
		DefaultRoleLogin:    v.GetString("PROFILE_DEFAULT_ROLE_LOGIN"),
		DefaultRoleResolver: v.GetString("PROFILE_DEFAULT_ROLE_RESOLVER"),
	}

	cfg.Session = SessionConfig{
		SafetyTimeout: clampDuration(parseDuration(v.GetString("SESSION_SAFETY_TIMEOUT"), 6*time.Second), 5*time.Second, 8*time.Second),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "school_console")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("MIGRATIONS_ENABLED", true)

	v.SetDefault("REDIS_ENABLED", false)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_ISSUER", "sma-console-api")
	v.SetDefault("JWT_EXPIRATION", "1h")
	v.SetDefault("REFRESH_TOKEN_EXPIRATION", "168h")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("TERMS_CACHE_ENABLED", false)
	v.SetDefault("TERMS_CACHE_TTL", "5m")
	v.SetDefault("TERMS_ATOMIC_ACTIVATION", true)

	v.SetDefault("PROFILE_FETCH_RETRIES", 3)
	v.SetDefault("PROFILE_RETRY_INTERVAL", "500ms")
	v.SetDefault("PROFILE_ERROR_BACKOFF", "1s")
	// Login and the background resolver intentionally differ; see DESIGN.md.
	v.SetDefault("PROFILE_DEFAULT_ROLE_LOGIN", "admin")
	v.SetDefault("PROFILE_DEFAULT_ROLE_RESOLVER", "student")

	v.SetDefault("SESSION_SAFETY_TIMEOUT", "6s")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func clampDuration(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
