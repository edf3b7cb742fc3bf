package types

import (
	"errors"
	"fmt"

	"lottery-backend/internal/models"
)

var (
	// ErrInvalidInput malformed commitment, secret or amount. Rejected before any I/O.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidTransition state machine precondition unmet, no mutation occurred
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrAdapterFailure transient network/chain error, retried with backoff
	ErrAdapterFailure = errors.New("adapter failure")
	// ErrRejected the chain or proof service refused the request; never retried
	ErrRejected = errors.New("rejected by adapter")
	// ErrStageFailed retries exhausted, state was not advanced
	ErrStageFailed = errors.New("stage failed")
	// ErrEmptyPool winner selection attempted with zero commitments
	ErrEmptyPool = errors.New("empty pool")
	// ErrAlreadyWithdrawn duplicate settlement attempt
	ErrAlreadyWithdrawn = errors.New("already withdrawn")
	// ErrInconsistentState the two chains report mutually incompatible facts
	ErrInconsistentState = errors.New("inconsistent state")
	// ErrNoActiveEpoch no epoch has been initialized yet
	ErrNoActiveEpoch = errors.New("no active epoch")
)

// CoordinatorError is returned by every coordinator operation that fails.
// It carries the last epoch status observed so callers can report it.
type CoordinatorError struct {
	Op      string
	EpochID uint64
	Status  models.EpochStatus
	Err     error
}

func (e *CoordinatorError) Error() string {
	if e.Status == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s (epoch %d, status %s): %v", e.Op, e.EpochID, e.Status, e.Err)
}

func (e *CoordinatorError) Unwrap() error {
	return e.Err
}

// IsPermanent reports whether err must not be retried.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrRejected) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrInconsistentState) ||
		errors.Is(err, ErrAlreadyWithdrawn) ||
		errors.Is(err, ErrEmptyPool)
}

// StatusOf extracts the last known epoch status from err, if any.
func StatusOf(err error) models.EpochStatus {
	var ce *CoordinatorError
	if errors.As(err, &ce) {
		return ce.Status
	}
	return ""
}
