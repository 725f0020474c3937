package repository

import (
	"errors"
	"fmt"

	"github.com/lib/pq"

	appErrors "github.com/noah-isme/sma-console-api/pkg/errors"
)

const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
)

// translate maps Postgres constraint violations onto storage sentinels so
// services never inspect driver errors.
func translate(err error, op string) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case pqUniqueViolation:
			return fmt.Errorf("%s: %w (%s)", op, appErrors.ErrDuplicateKey, pqErr.Constraint)
		case pqForeignKeyViolation:
			return fmt.Errorf("%s: %w (%s)", op, appErrors.ErrForeignKey, pqErr.Constraint)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
