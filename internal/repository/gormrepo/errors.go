package gormrepo

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

var (
	// ErrConflict indicates a unique constraint was violated.
	ErrConflict = errors.New("storage conflict")
	// ErrRetryable indicates a transient failure (serialization, deadlock, busy).
	ErrRetryable = errors.New("storage retryable")
)

// Classify tags a driver error with one of the sentinels above so callers
// can branch with errors.Is without knowing which database is in use.
// Unrecognised errors are returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrConflict), errors.Is(err, ErrRetryable):
		return err
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return errors.Join(ErrConflict, err)
	case errors.Is(err, context.DeadlineExceeded):
		return errors.Join(ErrRetryable, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch strings.TrimSpace(pgErr.Code) {
		case "23505":
			return errors.Join(ErrConflict, err) // unique_violation
		case "40001", "40P01", "55P03":
			return errors.Join(ErrRetryable, err) // serialization/deadlock/lock_not_available
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "unique constraint failed"),
		strings.Contains(msg, "duplicate key value"):
		return errors.Join(ErrConflict, err)
	case strings.Contains(msg, "database is locked"),
		strings.Contains(msg, "deadlock detected"):
		return errors.Join(ErrRetryable, err)
	}
	return err
}

// IsUniqueViolation reports whether err came from a unique constraint.
func IsUniqueViolation(err error) bool {
	return errors.Is(Classify(err), ErrConflict)
}

// IsRetryable reports whether the same work may succeed if run again.
func IsRetryable(err error) bool {
	return errors.Is(Classify(err), ErrRetryable)
}
