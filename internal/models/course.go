package models

import "time"

// Course is a course offering scoped to a term.
type Course struct {
	ID             string    `db:"id" json:"id"`
	TermID         *string   `db:"term_id" json:"term_id,omitempty"`
	Name           string    `db:"name" json:"name"`
	Subject        *string   `db:"subject" json:"subject,omitempty"`
	InstructorName *string   `db:"instructor_name" json:"instructor_name,omitempty"`
	TargetGrade    *string   `db:"target_grade" json:"target_grade,omitempty"`
	Status         string    `db:"status" json:"status"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// EnrollmentRow is an enrollment joined with its student and (optional) course.
type EnrollmentRow struct {
	ID                 string    `db:"id" json:"id"`
	TermID             *string   `db:"term_id" json:"term_id,omitempty"`
	CourseID           *string   `db:"course_id" json:"course_id,omitempty"`
	CourseName         *string   `db:"course_name" json:"course_name,omitempty"`
	StudentID          string    `db:"student_id" json:"student_id"`
	StudentEmail       string    `db:"student_email" json:"student_email"`
	StudentDisplayName *string   `db:"student_display_name" json:"student_display_name,omitempty"`
	Status             string    `db:"status" json:"status"`
	Notes              *string   `db:"notes" json:"notes,omitempty"`
	CreatedAt          time.Time `db:"created_at" json:"created_at"`
}
