package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListCoursesByTerm(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewCourseRepository(db)

	rows := sqlmock.NewRows([]string{"id", "term_id", "name", "subject", "instructor_name", "target_grade", "status", "created_at"}).
		AddRow("c1", "t1", "Algebra", "math", nil, "10", "open", time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("FROM courses WHERE term_id = $1")).WithArgs("t1").WillReturnRows(rows)

	courses, err := repo.ListCoursesByTerm(context.Background(), "t1")
	require.NoError(t, err)
	require.Len(t, courses, 1)
	assert.Nil(t, courses[0].InstructorName)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListEnrollmentsByTerm(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewCourseRepository(db)

	rows := sqlmock.NewRows([]string{"id", "term_id", "course_id", "course_name", "student_id", "student_email", "student_display_name", "status", "notes", "created_at"}).
		AddRow("e1", "t1", nil, nil, "s1", "sam@school.test", "sam", "pending", nil, time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("FROM enrollments e")).WithArgs("t1").WillReturnRows(rows)

	list, err := repo.ListEnrollmentsByTerm(context.Background(), "t1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "sam@school.test", list[0].StudentEmail)
	assert.Nil(t, list[0].CourseID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
