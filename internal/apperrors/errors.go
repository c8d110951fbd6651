package apperrors

import (
	"errors"
	"fmt"

	"example.com/backstage/services/transactions/internal/models"
)

// Sentinel errors for common outcomes
var (
	// ErrNotFound means the operation targeted an id with no active matching record.
	ErrNotFound = errors.New("record not found")

	// ErrConcurrentUpdate means a conditional update lost the race against another
	// writer; the caller should re-read and retry.
	ErrConcurrentUpdate = errors.New("transaction was modified concurrently")

	// ErrStoreUnavailable wraps failures to reach the record store.
	ErrStoreUnavailable = errors.New("record store unavailable")
)

// DuplicateExternalIDError is returned when a create collides with an existing
// active transaction. It carries the existing record so callers can treat the
// collision as an idempotent replay.
type DuplicateExternalIDError struct {
	ExternalID string
	Existing   *models.Transaction
}

func (e *DuplicateExternalIDError) Error() string {
	return fmt.Sprintf("transaction with external id %q already exists", e.ExternalID)
}

// InvalidTransitionError is returned when a requested status is not reachable
// from the current status.
type InvalidTransitionError struct {
	From models.TransactionStatus
	To   models.TransactionStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition from %s to %s", e.From, e.To)
}

// IsInvalidTransition reports whether err is an InvalidTransitionError.
func IsInvalidTransition(err error) bool {
	var inv *InvalidTransitionError
	return errors.As(err, &inv)
}
