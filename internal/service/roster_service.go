package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-console-api/internal/models"
	appErrors "github.com/noah-isme/sma-console-api/pkg/errors"
	"github.com/noah-isme/sma-console-api/pkg/export"
)

// ExportFormat selects the roster export encoding.
type ExportFormat string

const (
	ExportFormatCSV ExportFormat = "csv"
	ExportFormatPDF ExportFormat = "pdf"
)

type rosterRepository interface {
	ListCoursesByTerm(ctx context.Context, termID string) ([]models.Course, error)
	ListEnrollmentsByTerm(ctx context.Context, termID string) ([]models.EnrollmentRow, error)
}

// ExportFile is a rendered export ready to stream.
type ExportFile struct {
	Filename    string
	ContentType string
	Body        []byte
}

// RosterService serves the term-scoped course and enrollment views.
type RosterService struct {
	repo   rosterRepository
	logger *zap.Logger
}

// NewRosterService constructs the service.
func NewRosterService(repo rosterRepository, logger *zap.Logger) *RosterService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RosterService{repo: repo, logger: logger}
}

// ListCourses returns the courses of termID. No term means no rows.
func (s *RosterService) ListCourses(ctx context.Context, termID string) ([]models.Course, error) {
	if termID == "" {
		return []models.Course{}, nil
	}
	courses, err := s.repo.ListCoursesByTerm(ctx, termID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list courses")
	}
	return courses, nil
}

// ListEnrollments returns the enrollments of termID. No term means no rows.
func (s *RosterService) ListEnrollments(ctx context.Context, termID string) ([]models.EnrollmentRow, error) {
	if termID == "" {
		return []models.EnrollmentRow{}, nil
	}
	rows, err := s.repo.ListEnrollmentsByTerm(ctx, termID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	return rows, nil
}

// ExportEnrollments renders the term's enrollments as CSV or PDF.
func (s *RosterService) ExportEnrollments(ctx context.Context, term *models.Term, format ExportFormat) (*ExportFile, error) {
	if term == nil {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "select a term before exporting")
	}

	rows, err := s.ListEnrollments(ctx, term.ID)
	if err != nil {
		return nil, err
	}

	table := enrollmentTable(term, rows)
	base := fmt.Sprintf("enrollments-%s-%s", term.Slug, time.Now().UTC().Format("20060102"))

	switch ExportFormat(strings.ToLower(string(format))) {
	case ExportFormatCSV, "":
		body, err := export.RenderCSV(table)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv")
		}
		return &ExportFile{Filename: base + ".csv", ContentType: export.CSVContentType, Body: body}, nil
	case ExportFormatPDF:
		body, err := export.RenderPDF(table)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf")
		}
		return &ExportFile{Filename: base + ".pdf", ContentType: export.PDFContentType, Body: body}, nil
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}
}

func enrollmentTable(term *models.Term, rows []models.EnrollmentRow) export.Table {
	table := export.Table{
		Title: "Enrollments - " + term.Name,
		Columns: []export.Column{
			{Key: "student", Title: "Student", Width: 3},
			{Key: "email", Title: "Email", Width: 3},
			{Key: "course", Title: "Course", Width: 3},
			{Key: "status", Title: "Status", Width: 1.5},
			{Key: "enrolled_at", Title: "Enrolled", Width: 2},
			{Key: "notes", Title: "Notes", Width: 3},
		},
	}
	for _, row := range rows {
		table.Rows = append(table.Rows, map[string]string{
			"student":     deref(row.StudentDisplayName),
			"email":       row.StudentEmail,
			"course":      deref(row.CourseName),
			"status":      row.Status,
			"enrolled_at": row.CreatedAt.Format("2006-01-02"),
			"notes":       deref(row.Notes),
		})
	}
	return table
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
