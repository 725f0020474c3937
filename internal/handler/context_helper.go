package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-console-api/internal/middleware"
	"github.com/noah-isme/sma-console-api/internal/models"
	"github.com/noah-isme/sma-console-api/internal/service"
	appErrors "github.com/noah-isme/sma-console-api/pkg/errors"
	"github.com/noah-isme/sma-console-api/pkg/response"
)

func identityFromContext(c *gin.Context) *models.Identity {
	session, ok := middleware.SessionFromContext(c)
	if !ok {
		return nil
	}
	return session.Identity
}

// termContextOrAbort writes a 401 when the route was mounted without TermScope.
func termContextOrAbort(c *gin.Context) *service.TermContext {
	tc := middleware.TermContextFromContext(c)
	if tc == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "no console session"))
		c.Abort()
	}
	return tc
}

func termMeta(snap models.TermContextSnapshot) map[string]interface{} {
	return map[string]interface{}{"term_id": snap.SelectedTermID}
}
