package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-console-api/internal/models"
)

// IdentityRepository backs the password auth gateway.
type IdentityRepository struct {
	db *sqlx.DB
}

// NewIdentityRepository constructs the repository.
func NewIdentityRepository(db *sqlx.DB) *IdentityRepository {
	return &IdentityRepository{db: db}
}

// FindByEmail loads an identity by email (case-insensitive).
func (r *IdentityRepository) FindByEmail(ctx context.Context, email string) (*models.Identity, error) {
	const query = `SELECT id, email, password_hash, created_at FROM identities WHERE LOWER(email) = LOWER($1) LIMIT 1`
	var identity models.Identity
	if err := r.db.GetContext(ctx, &identity, query, email); err != nil {
		return nil, err
	}
	return &identity, nil
}

// FindByID loads an identity by id.
func (r *IdentityRepository) FindByID(ctx context.Context, id string) (*models.Identity, error) {
	const query = `SELECT id, email, password_hash, created_at FROM identities WHERE id = $1`
	var identity models.Identity
	if err := r.db.GetContext(ctx, &identity, query, id); err != nil {
		return nil, err
	}
	return &identity, nil
}

// CreateRefreshToken persists a refresh token.
func (r *IdentityRepository) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	const query = `INSERT INTO refresh_tokens (id, identity_id, session_id, token, expires_at, created_at, revoked) VALUES (:id, :identity_id, :session_id, :token, :expires_at, :created_at, :revoked)`
	if _, err := r.db.NamedExecContext(ctx, query, token); err != nil {
		return translate(err, "create refresh token")
	}
	return nil
}

// FindRefreshToken fetches a refresh token by its opaque value.
func (r *IdentityRepository) FindRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	const query = `SELECT id, identity_id, session_id, token, expires_at, created_at, revoked, revoked_at FROM refresh_tokens WHERE token = $1`
	var rt models.RefreshToken
	if err := r.db.GetContext(ctx, &rt, query, token); err != nil {
		return nil, err
	}
	return &rt, nil
}

// RevokeRefreshToken marks one refresh token as revoked.
func (r *IdentityRepository) RevokeRefreshToken(ctx context.Context, token string) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2 WHERE token = $1 AND revoked = FALSE`, token, time.Now().UTC()); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

// RevokeSession revokes every refresh token issued for a session.
func (r *IdentityRepository) RevokeSession(ctx context.Context, sessionID string) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2 WHERE session_id = $1 AND revoked = FALSE`, sessionID, time.Now().UTC()); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

// IsSessionActive reports whether the session still has a live refresh token.
func (r *IdentityRepository) IsSessionActive(ctx context.Context, sessionID string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM refresh_tokens WHERE session_id = $1 AND revoked = FALSE AND expires_at > $2)`
	var active bool
	if err := r.db.GetContext(ctx, &active, query, sessionID, time.Now().UTC()); err != nil {
		return false, fmt.Errorf("check session: %w", err)
	}
	return active, nil
}
