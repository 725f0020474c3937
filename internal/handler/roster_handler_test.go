package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-console-api/internal/models"
	"github.com/noah-isme/sma-console-api/internal/service"
)

type rosterServiceMock struct {
	lastTermID   string
	exportedTerm *models.Term
	format       service.ExportFormat
}

func (m *rosterServiceMock) ListCourses(ctx context.Context, termID string) ([]models.Course, error) {
	m.lastTermID = termID
	return []models.Course{}, nil
}

func (m *rosterServiceMock) ListEnrollments(ctx context.Context, termID string) ([]models.EnrollmentRow, error) {
	m.lastTermID = termID
	return []models.EnrollmentRow{}, nil
}

func (m *rosterServiceMock) ExportEnrollments(ctx context.Context, term *models.Term, format service.ExportFormat) (*service.ExportFile, error) {
	m.exportedTerm = term
	m.format = format
	return &service.ExportFile{Filename: "enrollments.csv", ContentType: "text/csv; charset=utf-8", Body: []byte("a,b\n")}, nil
}

func TestRosterHandlerUsesSelectedTerm(t *testing.T) {
	svc := &rosterServiceMock{}
	h := NewRosterHandler(svc)
	c, w := newTestContext(http.MethodGet, "/admin/courses", nil)
	tc := withTermContext(c, handlerTerms...)
	require.NoError(t, tc.SetSelectedTermID("t1"))

	h.Courses(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "t1", svc.lastTermID)
	assert.Equal(t, "t1", decode(t, w).Meta["term_id"])
}

func TestRosterHandlerNoTermsMeansEmptyScope(t *testing.T) {
	svc := &rosterServiceMock{lastTermID: "unset"}
	h := NewRosterHandler(svc)
	c, w := newTestContext(http.MethodGet, "/tutor/students", nil)
	withTermContext(c)

	h.Enrollments(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, svc.lastTermID)
}

func TestRosterHandlerExport(t *testing.T) {
	svc := &rosterServiceMock{}
	h := NewRosterHandler(svc)
	c, w := newTestContext(http.MethodGet, "/admin/enrollments/export?format=pdf", nil)
	withTermContext(c, handlerTerms...)

	h.Export(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, service.ExportFormatPDF, svc.format)
	require.NotNil(t, svc.exportedTerm)
	assert.Equal(t, "t2", svc.exportedTerm.ID)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "enrollments.csv")
}
