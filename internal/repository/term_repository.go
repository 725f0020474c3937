package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-console-api/internal/models"
)

const termColumns = "id, name, slug, start_date, end_date, enrollment_start, enrollment_end, display_order, is_active, created_at, updated_at"

// TermRepository handles persistence for terms.
type TermRepository struct {
	db *sqlx.DB
}

// NewTermRepository instantiates a term repository.
func NewTermRepository(db *sqlx.DB) *TermRepository {
	return &TermRepository{db: db}
}

// ListOrdered returns every term, highest display order first.
func (r *TermRepository) ListOrdered(ctx context.Context) ([]models.Term, error) {
	query := fmt.Sprintf("SELECT %s FROM terms ORDER BY display_order DESC, created_at DESC", termColumns)
	terms := []models.Term{}
	if err := r.db.SelectContext(ctx, &terms, query); err != nil {
		return nil, fmt.Errorf("list terms: %w", err)
	}
	return terms, nil
}

// FindByID loads a term by identifier.
func (r *TermRepository) FindByID(ctx context.Context, id string) (*models.Term, error) {
	query := fmt.Sprintf("SELECT %s FROM terms WHERE id = $1", termColumns)
	var term models.Term
	if err := r.db.GetContext(ctx, &term, query, id); err != nil {
		return nil, err
	}
	return &term, nil
}

// ListActiveIDs returns the ids of every term flagged active.
func (r *TermRepository) ListActiveIDs(ctx context.Context) ([]string, error) {
	ids := []string{}
	if err := r.db.SelectContext(ctx, &ids, `SELECT id FROM terms WHERE is_active = TRUE`); err != nil {
		return nil, fmt.Errorf("list active terms: %w", err)
	}
	return ids, nil
}

// Create inserts a new term record.
func (r *TermRepository) Create(ctx context.Context, term *models.Term) error {
	if term.ID == "" {
		term.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if term.CreatedAt.IsZero() {
		term.CreatedAt = now
	}
	term.UpdatedAt = now

	const query = `INSERT INTO terms (id, name, slug, start_date, end_date, enrollment_start, enrollment_end, display_order, is_active, created_at, updated_at) VALUES (:id, :name, :slug, :start_date, :end_date, :enrollment_start, :enrollment_end, :display_order, :is_active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, term); err != nil {
		return translate(err, "create term")
	}
	return nil
}

// Update modifies the editable fields of a term. Activation is handled separately.
func (r *TermRepository) Update(ctx context.Context, term *models.Term) error {
	term.UpdatedAt = time.Now().UTC()
	const query = `UPDATE terms SET name = :name, slug = :slug, start_date = :start_date, end_date = :end_date, enrollment_start = :enrollment_start, enrollment_end = :enrollment_end, display_order = :display_order, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, term); err != nil {
		return translate(err, "update term")
	}
	return nil
}

// SetActive deactivates every other term and activates id in one transaction.
func (r *TermRepository) SetActive(ctx context.Context, id string) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin set active tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	if _, err = tx.ExecContext(ctx, `UPDATE terms SET is_active = FALSE, updated_at = $1 WHERE is_active = TRUE AND id <> $2`, now, id); err != nil {
		return fmt.Errorf("deactivate other terms: %w", err)
	}

	res, err := tx.ExecContext(ctx, `UPDATE terms SET is_active = TRUE, updated_at = $2 WHERE id = $1`, id, now)
	if err != nil {
		return fmt.Errorf("activate term: %w", err)
	}
	if err = expectOneRow(res, "activate term"); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit set active tx: %w", err)
	}
	return nil
}

// ClearActive marks every term inactive. First half of the two-step activation.
func (r *TermRepository) ClearActive(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE terms SET is_active = FALSE, updated_at = $1 WHERE is_active = TRUE`, time.Now().UTC()); err != nil {
		return fmt.Errorf("clear active terms: %w", err)
	}
	return nil
}

// Activate flags a single term active without touching the others.
func (r *TermRepository) Activate(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE terms SET is_active = TRUE, updated_at = $2 WHERE id = $1`, id, time.Now().UTC())
	if err != nil {
		return translate(err, "activate term")
	}
	return expectOneRow(res, "activate term")
}

// Delete removes a term permanently. Referenced terms fail with ErrForeignKey.
func (r *TermRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM terms WHERE id = $1`, id); err != nil {
		return translate(err, "delete term")
	}
	return nil
}

// CountReferences returns how many courses and enrollments point at the term.
func (r *TermRepository) CountReferences(ctx context.Context, id string) (int, error) {
	const query = `SELECT (SELECT COUNT(*) FROM courses WHERE term_id = $1) + (SELECT COUNT(*) FROM enrollments WHERE term_id = $1)`
	var count int
	if err := r.db.GetContext(ctx, &count, query, id); err != nil {
		return 0, fmt.Errorf("count term references: %w", err)
	}
	return count, nil
}
