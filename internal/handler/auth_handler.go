package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-console-api/internal/middleware"
	"github.com/noah-isme/sma-console-api/internal/models"
	appErrors "github.com/noah-isme/sma-console-api/pkg/errors"
	"github.com/noah-isme/sma-console-api/pkg/response"
)

type loginService interface {
	Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error)
}

type tokenService interface {
	Refresh(ctx context.Context, req models.RefreshTokenRequest) (*models.AuthSession, error)
	SignOut(ctx context.Context, identityID, sessionID string) error
}

// AuthHandler wires HTTP endpoints to the login flow and the auth gateway.
type AuthHandler struct {
	login  loginService
	tokens tokenService
}

// NewAuthHandler creates a new handler.
func NewAuthHandler(login loginService, tokens tokenService) *AuthHandler {
	return &AuthHandler{login: login, tokens: tokens}
}

// Login godoc
// @Summary Console login
// @Description Sign in, resolve the profile and return the landing page for the role
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body models.LoginRequest true "Login payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid login payload"))
		return
	}

	res, err := h.login.Login(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, res)
}

// Refresh godoc
// @Summary Refresh access token
// @Description Exchange a refresh token for a new token pair in the same session
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body models.RefreshTokenRequest true "Refresh payload"
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/refresh [post]
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req models.RefreshTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid refresh payload"))
		return
	}

	session, err := h.tokens.Refresh(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{
		"access_token":  session.AccessToken,
		"refresh_token": session.RefreshToken,
		"expires_in":    session.ExpiresIn,
		"issued_at":     session.IssuedAt,
	})
}

// Logout godoc
// @Summary Logout current session
// @Description Revoke the session's refresh tokens and clear cached state
// @Tags Authentication
// @Security BearerAuth
// @Success 204
// @Failure 401 {object} response.Envelope
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(c *gin.Context) {
	identity := identityFromContext(c)
	if identity == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	if err := h.tokens.SignOut(c.Request.Context(), identity.ID, identity.SessionID); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Session godoc
// @Summary Current session
// @Description Resolve the identity and profile behind the access token
// @Tags Authentication
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /auth/session [get]
func (h *AuthHandler) Session(c *gin.Context) {
	session, ok := middleware.SessionFromContext(c)
	if !ok {
		session = models.Session{Anonymous: true}
	}
	response.JSON(c, http.StatusOK, session)
}
