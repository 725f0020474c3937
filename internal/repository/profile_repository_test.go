package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-console-api/internal/models"
	appErrors "github.com/noah-isme/sma-console-api/pkg/errors"
)

func TestProfileFindByID(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewProfileRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "email", "display_name", "role", "created_at", "updated_at"}).
		AddRow("u1", "ana@school.test", "ana", "admin", now, now)
	mock.ExpectQuery(regexp.QuoteMeta("FROM profiles WHERE id = $1")).WithArgs("u1").WillReturnRows(rows)

	profile, err := repo.FindByID(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, profile.Role)
	require.NotNil(t, profile.DisplayName)
	assert.Equal(t, "ana", *profile.DisplayName)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProfileFindByIDMissing(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewProfileRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM profiles WHERE id = $1")).WithArgs("u2").WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByID(context.Background(), "u2")
	assert.True(t, errors.Is(err, sql.ErrNoRows))
}

func TestProfileInsertDuplicate(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewProfileRepository(db)

	mock.ExpectExec("INSERT INTO profiles").WillReturnError(&pq.Error{Code: pqUniqueViolation, Constraint: "profiles_pkey"})

	err := repo.Insert(context.Background(), &models.Profile{ID: "u1", Email: "ana@school.test", Role: models.RoleStudent})
	assert.True(t, errors.Is(err, appErrors.ErrDuplicateKey))
	assert.NoError(t, mock.ExpectationsWereMet())
}
