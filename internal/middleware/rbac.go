package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-console-api/internal/service"
	appErrors "github.com/noah-isme/sma-console-api/pkg/errors"
	"github.com/noah-isme/sma-console-api/pkg/response"
)

const loginPath = "/login"

// RequireArea gates a route group on the profile's role. Must run after Authenticate.
func RequireArea(area service.Area) gin.HandlerFunc {
	return func(c *gin.Context) {
		session, ok := SessionFromContext(c)
		if !ok || session.Identity == nil {
			response.Error(c, appErrors.ErrUnauthorized, map[string]interface{}{"redirect": loginPath})
			c.Abort()
			return
		}

		if err := service.Gate(session.Profile, area); err != nil {
			response.Error(c, err, map[string]interface{}{"redirect": loginPath})
			c.Abort()
			return
		}
		c.Next()
	}
}
