package middleware

import (
	"context"
	"errors"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-console-api/internal/models"
	appErrors "github.com/noah-isme/sma-console-api/pkg/errors"
	"github.com/noah-isme/sma-console-api/pkg/response"
)

// Gin context keys set by the auth middleware.
const (
	ContextSessionKey   = "consoleSession"
	ContextSessionIDKey = "sessionID"
	ContextTokenKey     = "accessToken"
)

type sessionResolver interface {
	ResolveSession(ctx context.Context, accessToken string) (models.Session, error)
}

type identitySource interface {
	CurrentIdentity(ctx context.Context, accessToken string) (*models.Identity, error)
}

// RequireIdentity checks the token only. The profile is not resolved, so
// routes such as logout stay usable when the profile cannot be loaded.
func RequireIdentity(source identitySource) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "missing or invalid authorization header"))
			c.Abort()
			return
		}

		identity, err := source.CurrentIdentity(c.Request.Context(), token)
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}
		if identity == nil {
			response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "session has ended"))
			c.Abort()
			return
		}

		store(c, token, models.Session{Identity: identity})
		c.Next()
	}
}

// Authenticate requires a resolved session with a profile.
func Authenticate(resolver sessionResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "missing or invalid authorization header"))
			c.Abort()
			return
		}

		session, err := resolver.ResolveSession(c.Request.Context(), token)
		if err != nil {
			if errors.Is(err, appErrors.ErrSessionTimeout) {
				c.Header("Retry-After", "1")
			}
			response.Error(c, err)
			c.Abort()
			return
		}
		if session.Anonymous || session.Identity == nil {
			response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "session has ended"))
			c.Abort()
			return
		}

		store(c, token, session)
		c.Next()
	}
}

// OptionalSession attaches the session when one resolves but never blocks.
func OptionalSession(resolver sessionResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			c.Set(ContextSessionKey, models.Session{Anonymous: true})
			c.Next()
			return
		}

		session, err := resolver.ResolveSession(c.Request.Context(), token)
		if err != nil && session.Identity == nil && !session.TimedOut {
			session = models.Session{Anonymous: true}
		}
		store(c, token, session)
		c.Next()
	}
}

// SessionFromContext returns the session stored by Authenticate or OptionalSession.
func SessionFromContext(c *gin.Context) (models.Session, bool) {
	value, exists := c.Get(ContextSessionKey)
	if !exists {
		return models.Session{}, false
	}
	session, ok := value.(models.Session)
	return session, ok
}

func store(c *gin.Context, token string, session models.Session) {
	c.Set(ContextSessionKey, session)
	c.Set(ContextTokenKey, token)
	if session.Identity != nil {
		c.Set(ContextSessionIDKey, session.Identity.SessionID)
	}
}

func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}
