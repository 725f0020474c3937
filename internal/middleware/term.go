package middleware

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-console-api/internal/service"
	appErrors "github.com/noah-isme/sma-console-api/pkg/errors"
	"github.com/noah-isme/sma-console-api/pkg/response"
)

// ContextTermKey holds the session's *service.TermContext.
const ContextTermKey = "termContext"

type termContextRegistry interface {
	Get(ctx context.Context, sessionID, identityID string) *service.TermContext
}

// TermScope attaches the console session's term context. Must run after Authenticate.
func TermScope(registry termContextRegistry) gin.HandlerFunc {
	return func(c *gin.Context) {
		session, ok := SessionFromContext(c)
		if !ok || session.Identity == nil || session.Identity.SessionID == "" {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		tc := registry.Get(c.Request.Context(), session.Identity.SessionID, session.Identity.ID)
		if tc == nil {
			response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "session has ended"))
			c.Abort()
			return
		}
		c.Set(ContextTermKey, tc)
		c.Next()
	}
}

// TermContextFromContext returns the context stored by TermScope.
func TermContextFromContext(c *gin.Context) *service.TermContext {
	value, exists := c.Get(ContextTermKey)
	if !exists {
		return nil
	}
	tc, _ := value.(*service.TermContext)
	return tc
}
