package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-console-api/internal/models"
)

// CourseRepository serves term-scoped course and enrollment listings.
type CourseRepository struct {
	db *sqlx.DB
}

// NewCourseRepository constructs the repository.
func NewCourseRepository(db *sqlx.DB) *CourseRepository {
	return &CourseRepository{db: db}
}

// ListCoursesByTerm returns the courses attached to a term.
func (r *CourseRepository) ListCoursesByTerm(ctx context.Context, termID string) ([]models.Course, error) {
	const query = `SELECT id, term_id, name, subject, instructor_name, target_grade, status, created_at FROM courses WHERE term_id = $1 ORDER BY name ASC`
	courses := []models.Course{}
	if err := r.db.SelectContext(ctx, &courses, query, termID); err != nil {
		return nil, fmt.Errorf("list courses: %w", err)
	}
	return courses, nil
}

// ListEnrollmentsByTerm returns the enrollments of a term joined with student and course data.
func (r *CourseRepository) ListEnrollmentsByTerm(ctx context.Context, termID string) ([]models.EnrollmentRow, error) {
	const query = `SELECT e.id, e.term_id, e.course_id, c.name AS course_name, e.student_id,
p.email AS student_email, p.display_name AS student_display_name, e.status, e.notes, e.created_at
FROM enrollments e
JOIN profiles p ON p.id = e.student_id
LEFT JOIN courses c ON c.id = e.course_id
WHERE e.term_id = $1
ORDER BY e.created_at DESC`
	rows := []models.EnrollmentRow{}
	if err := r.db.SelectContext(ctx, &rows, query, termID); err != nil {
		return nil, fmt.Errorf("list enrollments: %w", err)
	}
	return rows, nil
}
