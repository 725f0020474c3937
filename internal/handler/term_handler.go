package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-console-api/internal/models"
	"github.com/noah-isme/sma-console-api/internal/service"
	appErrors "github.com/noah-isme/sma-console-api/pkg/errors"
	"github.com/noah-isme/sma-console-api/pkg/response"
)

type termService interface {
	List(ctx context.Context) ([]models.Term, error)
	Get(ctx context.Context, id string) (*models.Term, error)
	Create(ctx context.Context, req service.TermPayload) (*models.Term, error)
	Update(ctx context.Context, id string, req service.TermPayload) (*models.Term, error)
	SetActive(ctx context.Context, id string) (*models.Term, error)
	Delete(ctx context.Context, id string) error
}

// TermHandler exposes the term administration endpoints.
type TermHandler struct {
	service termService
}

// NewTermHandler constructs a term handler.
func NewTermHandler(svc termService) *TermHandler {
	return &TermHandler{service: svc}
}

// List godoc
// @Summary List terms
// @Description All terms, highest display order first
// @Tags Terms
// @Security BearerAuth
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /admin/terms [get]
func (h *TermHandler) List(c *gin.Context) {
	terms, err := h.service.List(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, terms, map[string]interface{}{"total": len(terms)})
}

// Get godoc
// @Summary Get term
// @Tags Terms
// @Security BearerAuth
// @Produce json
// @Param id path string true "Term ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /admin/terms/{id} [get]
func (h *TermHandler) Get(c *gin.Context) {
	term, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, term)
}

// Create godoc
// @Summary Create term
// @Description New terms start inactive
// @Tags Terms
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param payload body service.TermPayload true "Term payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /admin/terms [post]
func (h *TermHandler) Create(c *gin.Context) {
	var req service.TermPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid term payload"))
		return
	}
	term, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, term)
}

// Update godoc
// @Summary Update term
// @Tags Terms
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "Term ID"
// @Param payload body service.TermPayload true "Term payload"
// @Success 200 {object} response.Envelope
// @Router /admin/terms/{id} [put]
func (h *TermHandler) Update(c *gin.Context) {
	var req service.TermPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid term payload"))
		return
	}
	term, err := h.service.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, term)
}

// Activate godoc
// @Summary Set active term
// @Description Deactivate every other term and activate this one
// @Tags Terms
// @Security BearerAuth
// @Produce json
// @Param id path string true "Term ID"
// @Success 200 {object} response.Envelope
// @Failure 500 {object} response.Envelope
// @Router /admin/terms/{id}/activate [post]
func (h *TermHandler) Activate(c *gin.Context) {
	term, err := h.service.SetActive(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, term)
}

// Delete godoc
// @Summary Delete term
// @Description Fails when the term is active or referenced by courses or enrollments
// @Tags Terms
// @Security BearerAuth
// @Param id path string true "Term ID"
// @Success 204
// @Failure 409 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /admin/terms/{id} [delete]
func (h *TermHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
