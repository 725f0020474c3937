package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/sma-console-api/api/swagger"
	"github.com/noah-isme/sma-console-api/internal/handler"
	internalmiddleware "github.com/noah-isme/sma-console-api/internal/middleware"
	"github.com/noah-isme/sma-console-api/internal/models"
	"github.com/noah-isme/sma-console-api/internal/repository"
	"github.com/noah-isme/sma-console-api/internal/service"
	"github.com/noah-isme/sma-console-api/pkg/cache"
	"github.com/noah-isme/sma-console-api/pkg/config"
	"github.com/noah-isme/sma-console-api/pkg/database"
	"github.com/noah-isme/sma-console-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/sma-console-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/sma-console-api/pkg/middleware/requestid"
)

// @title SMA Console API
// @version 1.0.0
// @description Term context and session resolution for the school console
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect database", zap.Error(err))
	}
	defer db.Close()

	if cfg.Database.MigrationsEnabled {
		if err := database.RunMigrations(db.DB, logr); err != nil {
			logr.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, term cache disabled", zap.Error(err))
		redisClient = nil
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	validate := validator.New()
	metrics := service.NewMetricsService()

	termRepo := repository.NewTermRepository(db)
	profileRepo := repository.NewProfileRepository(db)
	identityRepo := repository.NewIdentityRepository(db)
	courseRepo := repository.NewCourseRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient)

	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Terms.CacheTTL, logr, cfg.Terms.CacheEnabled && redisClient != nil)

	events := service.NewAuthEventBus(logr)
	defer events.Close()

	authSvc := service.NewAuthService(identityRepo, events, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             cfg.JWT.Issuer,
	})

	termSvc := service.NewTermService(termRepo, cacheSvc, validate, logr, service.TermServiceConfig{
		AtomicActivation: cfg.Terms.AtomicActivation,
		CacheTTL:         cfg.Terms.CacheTTL,
	})
	registry := service.NewTermContextRegistry(termSvc, logr, metrics)
	termSvc.SetRefresher(registry)
	registry.Listen(authSvc)
	registry.SetIdleTTL(cfg.JWT.RefreshExpiration)
	registry.StartSweeper(registrySweepInterval)
	defer registry.Stop()

	resolver := service.NewSessionResolver(authSvc, profileRepo, service.NewMemoryProfileCache(), metrics, logr, service.ResolverConfig{
		Retries:       cfg.Profiles.FetchRetries,
		RetryInterval: cfg.Profiles.RetryInterval,
		ErrorBackoff:  cfg.Profiles.ErrorBackoff,
		DefaultRoles: map[service.EntryPoint]models.Role{
			service.EntryPointLogin:    roleOrDefault(cfg.Profiles.DefaultRoleLogin, models.RoleAdmin),
			service.EntryPointResolver: roleOrDefault(cfg.Profiles.DefaultRoleResolver, models.RoleStudent),
		},
		SafetyTimeout: cfg.Session.SafetyTimeout,
	})
	resolver.Listen()
	defer resolver.Close()

	loginSvc := service.NewLoginService(authSvc, resolver, logr)
	rosterSvc := service.NewRosterService(courseRepo, logr)

	authHandler := handler.NewAuthHandler(loginSvc, authSvc)
	termContextHandler := handler.NewTermContextHandler(15 * time.Second)
	termHandler := handler.NewTermHandler(termSvc)
	rosterHandler := handler.NewRosterHandler(rosterSvc)
	healthHandler := handler.NewHealthHandler(metrics, readinessChecks(db.PingContext, cacheRepo, redisClient != nil))

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr, internalmiddleware.ContextSessionIDKey))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metrics))

	r.GET("/health", healthHandler.Health)
	r.GET("/ready", healthHandler.Ready)
	r.GET("/metrics", healthHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	auth.POST("/login", authHandler.Login)
	auth.POST("/refresh", authHandler.Refresh)
	auth.GET("/session", internalmiddleware.OptionalSession(resolver), authHandler.Session)
	auth.POST("/logout", internalmiddleware.RequireIdentity(authSvc), authHandler.Logout)

	secured := api.Group("")
	secured.Use(internalmiddleware.Authenticate(resolver))
	secured.Use(internalmiddleware.TermScope(registry))

	termContext := secured.Group("/term-context")
	termContext.Use(internalmiddleware.RequireArea(service.AreaConsole))
	termContext.GET("", termContextHandler.Get)
	termContext.PUT("/selection", termContextHandler.Select)
	termContext.POST("/refresh", termContextHandler.Refresh)
	termContext.GET("/events", termContextHandler.Events)

	admin := secured.Group("/admin")
	admin.Use(internalmiddleware.RequireArea(service.AreaAdmin))
	admin.GET("/terms", termHandler.List)
	admin.POST("/terms", termHandler.Create)
	admin.GET("/terms/:id", termHandler.Get)
	admin.PUT("/terms/:id", termHandler.Update)
	admin.DELETE("/terms/:id", termHandler.Delete)
	admin.POST("/terms/:id/activate", termHandler.Activate)
	admin.GET("/courses", rosterHandler.Courses)
	admin.GET("/enrollments", rosterHandler.Enrollments)
	admin.GET("/enrollments/export", rosterHandler.Export)

	tutor := secured.Group("/tutor")
	tutor.Use(internalmiddleware.RequireArea(service.AreaTutor))
	tutor.GET("/students", rosterHandler.Enrollments)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
}

const registrySweepInterval = 10 * time.Minute

func roleOrDefault(raw string, fallback models.Role) models.Role {
	role := models.Role(raw)
	if !role.Valid() {
		return fallback
	}
	return role
}

func readinessChecks(dbPing func(context.Context) error, redis handler.Pinger, redisEnabled bool) map[string]handler.Pinger {
	checks := map[string]handler.Pinger{"database": handler.PingFunc(dbPing)}
	if redisEnabled {
		checks["redis"] = redis
	}
	return checks
}
