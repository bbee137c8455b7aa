package services

import (
	"errors"
	"fmt"

	"trekkr/internal/repository/gormrepo"
)

// Error kinds returned by the services. Handlers match them with errors.Is;
// a *geo.MismatchError is returned unwrapped from single ingests.
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrPersistence  = errors.New("persistence failure")
)

func invalidInput(err error) error {
	return fmt.Errorf("%w: %w", ErrInvalidInput, err)
}

func persistence(err error) error {
	return fmt.Errorf("%w: %w", ErrPersistence, err)
}

// Retryable reports whether a persistence failure was transient, such as
// lock contention or a serialization failure, so the client may resend the
// same request.
func Retryable(err error) bool {
	return errors.Is(err, ErrPersistence) && gormrepo.IsRetryable(err)
}
