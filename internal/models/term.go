package models

import "time"

// Term is a school administrative period (semester/session) that scopes
// courses and enrollments.
type Term struct {
	ID              string     `db:"id" json:"id"`
	Name            string     `db:"name" json:"name"`
	Slug            string     `db:"slug" json:"slug"`
	StartDate       time.Time  `db:"start_date" json:"start_date"`
	EndDate         time.Time  `db:"end_date" json:"end_date"`
	EnrollmentStart *time.Time `db:"enrollment_start" json:"enrollment_start,omitempty"`
	EnrollmentEnd   *time.Time `db:"enrollment_end" json:"enrollment_end,omitempty"`
	DisplayOrder    int        `db:"display_order" json:"display_order"`
	IsActive        bool       `db:"is_active" json:"is_active"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

// TermContextState is the lifecycle of a term context.
type TermContextState string

const (
	TermContextLoading TermContextState = "loading"
	TermContextReady   TermContextState = "ready"
)

// TermContextSnapshot is an immutable view of a console session's term context.
type TermContextSnapshot struct {
	State          TermContextState `json:"state"`
	Loading        bool             `json:"loading"`
	Terms          []Term           `json:"terms"`
	ActiveTerm     *Term            `json:"active_term"`
	SelectedTermID string           `json:"selected_term_id,omitempty"`
	SelectedTerm   *Term            `json:"selected_term"`
	Version        uint64           `json:"version"`
}
