package service

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/sma-console-api/internal/models"
	appErrors "github.com/noah-isme/sma-console-api/pkg/errors"
)

// AuthGateway is the hosted-auth surface the resolver and login flow depend on.
type AuthGateway interface {
	SignInWithPassword(ctx context.Context, req models.LoginRequest) (*models.AuthSession, error)
	CurrentIdentity(ctx context.Context, accessToken string) (*models.Identity, error)
	SignOut(ctx context.Context, identityID, sessionID string) error
	OnAuthStateChange(handler func(models.AuthEvent)) func()
}

type identityRepository interface {
	FindByEmail(ctx context.Context, email string) (*models.Identity, error)
	FindByID(ctx context.Context, id string) (*models.Identity, error)
	CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error
	FindRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error)
	RevokeRefreshToken(ctx context.Context, token string) error
	RevokeSession(ctx context.Context, sessionID string) error
	IsSessionActive(ctx context.Context, sessionID string) (bool, error)
}

// AuthConfig defines configuration for authentication flows.
type AuthConfig struct {
	AccessTokenSecret  string
	AccessTokenExpiry  time.Duration
	RefreshTokenExpiry time.Duration
	Issuer             string
}

// AuthService is the Postgres-backed auth gateway: password sign-in, JWT
// access tokens, rotating refresh tokens and auth state events.
type AuthService struct {
	repo      identityRepository
	events    *AuthEventBus
	validator *validator.Validate
	logger    *zap.Logger
	config    AuthConfig
	now       func() time.Time
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(repo identityRepository, events *AuthEventBus, validate *validator.Validate, logger *zap.Logger, config AuthConfig) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if events == nil {
		events = NewAuthEventBus(logger)
	}
	return &AuthService{repo: repo, events: events, validator: validate, logger: logger, config: config, now: func() time.Time { return time.Now().UTC() }}
}

// SignInWithPassword verifies credentials and opens a new session.
func (s *AuthService) SignInWithPassword(ctx context.Context, req models.LoginRequest) (*models.AuthSession, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid login payload")
	}

	identity, err := s.repo.FindByEmail(ctx, strings.TrimSpace(req.Email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "invalid email or password")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch identity")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(identity.PasswordHash), []byte(req.Password)); err != nil {
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "invalid email or password")
	}

	identity.SessionID = uuid.NewString()
	session, err := s.issue(ctx, identity)
	if err != nil {
		return nil, err
	}

	s.events.Publish(models.AuthEvent{Type: models.AuthEventSignedIn, IdentityID: identity.ID, Email: identity.Email, SessionID: identity.SessionID, At: session.IssuedAt})
	return session, nil
}

// Refresh rotates a refresh token, keeping the session id.
func (s *AuthService) Refresh(ctx context.Context, req models.RefreshTokenRequest) (*models.AuthSession, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid refresh payload")
	}

	stored, err := s.repo.FindRefreshToken(ctx, req.RefreshToken)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "refresh token not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch refresh token")
	}
	if stored.Revoked || s.now().After(stored.ExpiresAt) {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "refresh token is expired or revoked")
	}

	identity, err := s.repo.FindByID(ctx, stored.IdentityID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "identity no longer exists")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load identity")
	}

	if err := s.repo.RevokeRefreshToken(ctx, stored.Token); err != nil {
		s.logger.Warn("failed to revoke used refresh token", zap.Error(err))
	}

	identity.SessionID = stored.SessionID
	session, err := s.issue(ctx, identity)
	if err != nil {
		return nil, err
	}

	s.events.Publish(models.AuthEvent{Type: models.AuthEventTokenRefreshed, IdentityID: identity.ID, Email: identity.Email, SessionID: identity.SessionID, At: session.IssuedAt})
	return session, nil
}

// SignOut revokes every refresh token of the session and announces it.
func (s *AuthService) SignOut(ctx context.Context, identityID, sessionID string) error {
	if sessionID != "" {
		if err := s.repo.RevokeSession(ctx, sessionID); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to revoke session")
		}
	}
	s.events.Publish(models.AuthEvent{Type: models.AuthEventSignedOut, IdentityID: identityID, SessionID: sessionID, At: s.now()})
	return nil
}

// CurrentIdentity validates an access token and returns the identity behind a live session.
func (s *AuthService) CurrentIdentity(ctx context.Context, accessToken string) (*models.Identity, error) {
	claims, err := s.ValidateToken(accessToken)
	if err != nil {
		return nil, err
	}

	active, err := s.repo.IsSessionActive(ctx, claims.SessionID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check session")
	}
	if !active {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "session has ended")
	}

	return &models.Identity{ID: claims.IdentityID, Email: claims.Email, SessionID: claims.SessionID}, nil
}

// OnAuthStateChange subscribes to SIGNED_IN, SIGNED_OUT and TOKEN_REFRESHED events.
func (s *AuthService) OnAuthStateChange(handler func(models.AuthEvent)) func() {
	return s.events.Subscribe(handler)
}

// ValidateToken parses and validates an access token returning the claims.
func (s *AuthService) ValidateToken(tokenString string) (*models.JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &models.JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.config.AccessTokenSecret), nil
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid token")
	}

	claims, ok := token.Claims.(*models.JWTClaims)
	if !ok || !token.Valid || claims.SessionID == "" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token claims")
	}
	return claims, nil
}

func (s *AuthService) issue(ctx context.Context, identity *models.Identity) (*models.AuthSession, error) {
	issuedAt := s.now()
	accessToken, err := s.generateAccessToken(identity, issuedAt)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create access token")
	}

	refreshValue, err := generateRefreshTokenString()
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create refresh token")
	}

	refresh := &models.RefreshToken{
		ID:         uuid.NewString(),
		IdentityID: identity.ID,
		SessionID:  identity.SessionID,
		Token:      refreshValue,
		ExpiresAt:  issuedAt.Add(s.config.RefreshTokenExpiry),
		CreatedAt:  issuedAt,
	}
	if err := s.repo.CreateRefreshToken(ctx, refresh); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist refresh token")
	}

	return &models.AuthSession{
		Identity:     *identity,
		SessionID:    identity.SessionID,
		AccessToken:  accessToken,
		RefreshToken: refresh.Token,
		ExpiresIn:    int64(s.config.AccessTokenExpiry.Seconds()),
		IssuedAt:     issuedAt,
	}, nil
}

func (s *AuthService) generateAccessToken(identity *models.Identity, issuedAt time.Time) (string, error) {
	claims := &models.JWTClaims{
		IdentityID: identity.ID,
		Email:      identity.Email,
		SessionID:  identity.SessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.config.Issuer,
			Subject:   identity.ID,
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(s.config.AccessTokenExpiry)),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.config.AccessTokenSecret))
}

func generateRefreshTokenString() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
