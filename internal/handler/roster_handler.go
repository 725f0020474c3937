package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-console-api/internal/models"
	"github.com/noah-isme/sma-console-api/internal/service"
	"github.com/noah-isme/sma-console-api/pkg/response"
)

type rosterService interface {
	ListCourses(ctx context.Context, termID string) ([]models.Course, error)
	ListEnrollments(ctx context.Context, termID string) ([]models.EnrollmentRow, error)
	ExportEnrollments(ctx context.Context, term *models.Term, format service.ExportFormat) (*service.ExportFile, error)
}

// RosterHandler serves the views scoped to the selected term.
type RosterHandler struct {
	service rosterService
}

// NewRosterHandler constructs the handler.
func NewRosterHandler(svc rosterService) *RosterHandler {
	return &RosterHandler{service: svc}
}

// Courses godoc
// @Summary Courses of the selected term
// @Tags Roster
// @Security BearerAuth
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /admin/courses [get]
func (h *RosterHandler) Courses(c *gin.Context) {
	tc := termContextOrAbort(c)
	if tc == nil {
		return
	}
	snap := tc.Snapshot()
	courses, err := h.service.ListCourses(c.Request.Context(), snap.SelectedTermID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, courses, termMeta(snap))
}

// Enrollments godoc
// @Summary Enrollments of the selected term
// @Tags Roster
// @Security BearerAuth
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /admin/enrollments [get]
// @Router /tutor/students [get]
func (h *RosterHandler) Enrollments(c *gin.Context) {
	tc := termContextOrAbort(c)
	if tc == nil {
		return
	}
	snap := tc.Snapshot()
	rows, err := h.service.ListEnrollments(c.Request.Context(), snap.SelectedTermID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rows, termMeta(snap))
}

// Export godoc
// @Summary Export enrollments of the selected term
// @Tags Roster
// @Security BearerAuth
// @Produce text/csv
// @Produce application/pdf
// @Param format query string false "csv or pdf" default(csv)
// @Success 200 {file} file
// @Failure 412 {object} response.Envelope
// @Router /admin/enrollments/export [get]
func (h *RosterHandler) Export(c *gin.Context) {
	tc := termContextOrAbort(c)
	if tc == nil {
		return
	}
	file, err := h.service.ExportEnrollments(c.Request.Context(), tc.Snapshot().SelectedTerm, service.ExportFormat(c.DefaultQuery("format", "csv")))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, file.Filename, file.ContentType, file.Body)
}
