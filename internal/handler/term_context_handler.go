package handler

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-console-api/internal/models"
	appErrors "github.com/noah-isme/sma-console-api/pkg/errors"
	"github.com/noah-isme/sma-console-api/pkg/response"
)

// SelectTermRequest selects the term every scoped view filters by.
type SelectTermRequest struct {
	TermID string `json:"term_id" binding:"required"`
}

// TermContextHandler exposes the console session's term context.
type TermContextHandler struct {
	heartbeat time.Duration
}

// NewTermContextHandler constructs the handler. heartbeat paces SSE keep-alives.
func NewTermContextHandler(heartbeat time.Duration) *TermContextHandler {
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	return &TermContextHandler{heartbeat: heartbeat}
}

// Get godoc
// @Summary Term context
// @Description Terms, active term and selected term for the console session
// @Tags Term Context
// @Security BearerAuth
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /term-context [get]
func (h *TermContextHandler) Get(c *gin.Context) {
	tc := termContextOrAbort(c)
	if tc == nil {
		return
	}
	response.JSON(c, http.StatusOK, tc.Snapshot())
}

// Select godoc
// @Summary Select term
// @Tags Term Context
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param payload body SelectTermRequest true "Term selection"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /term-context/selection [put]
func (h *TermContextHandler) Select(c *gin.Context) {
	tc := termContextOrAbort(c)
	if tc == nil {
		return
	}
	var req SelectTermRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid selection payload"))
		return
	}
	if err := tc.SetSelectedTermID(req.TermID); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, tc.Snapshot())
}

// Refresh godoc
// @Summary Reload terms
// @Description Reload terms keeping the selection when it still exists
// @Tags Term Context
// @Security BearerAuth
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /term-context/refresh [post]
func (h *TermContextHandler) Refresh(c *gin.Context) {
	tc := termContextOrAbort(c)
	if tc == nil {
		return
	}
	var meta map[string]interface{}
	if err := tc.Refresh(c.Request.Context()); err != nil {
		meta = map[string]interface{}{"warning": appErrors.FromError(err).Code}
	}
	response.JSON(c, http.StatusOK, tc.Snapshot(), meta)
}

// Events godoc
// @Summary Term context events
// @Description Server-sent snapshots after every term context change
// @Tags Term Context
// @Security BearerAuth
// @Produce text/event-stream
// @Router /term-context/events [get]
func (h *TermContextHandler) Events(c *gin.Context) {
	tc := termContextOrAbort(c)
	if tc == nil {
		return
	}

	// Latest snapshot wins; subscribers are called serially per context.
	updates := make(chan models.TermContextSnapshot, 1)
	unsubscribe := tc.Subscribe(func(snap models.TermContextSnapshot) {
		select {
		case updates <- snap:
		default:
			select {
			case <-updates:
			default:
			}
			select {
			case updates <- snap:
			default:
			}
		}
	})
	defer unsubscribe()

	c.Header("Cache-Control", "no-store")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent("snapshot", tc.Snapshot())
	c.Writer.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case snap := <-updates:
			c.SSEvent("snapshot", snap)
			return true
		case <-ticker.C:
			if tc.Closed() {
				c.SSEvent("closed", gin.H{"reason": "signed_out"})
				return false
			}
			c.SSEvent("ping", time.Now().UTC().Unix())
			return true
		}
	})
}
