// Defines the error taxonomy shared by all storage engines.

package recordstore

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when the requested record id is absent.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateID is returned when inserting a record whose id already exists.
	ErrDuplicateID = errors.New("duplicate record id")
	// ErrStorageUnavailable is returned when the backing medium cannot be read or written.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrLockTimeout is returned when a collection lock could not be acquired in time.
	// It also matches ErrStorageUnavailable.
	ErrLockTimeout = fmt.Errorf("%w: lock wait timed out", ErrStorageUnavailable)
	// ErrCascadePartialFailure is matched by every *CascadeError.
	ErrCascadePartialFailure = errors.New("cascade delete failed")

	// ErrInvalidRecord is returned for records without a usable id.
	ErrInvalidRecord = errors.New("invalid record")
	// ErrInvalidCollection is returned for malformed collection names.
	ErrInvalidCollection = errors.New("invalid collection name")
	// ErrInvalidCascade is returned for malformed dependent specifications.
	ErrInvalidCascade = errors.New("invalid cascade specification")
	// ErrInvalidFilter is returned by ParseFilter and Query for malformed predicates.
	ErrInvalidFilter = errors.New("invalid filter")
	// ErrTxDone is returned when using a transaction after Commit or Rollback.
	ErrTxDone = errors.New("transaction already finished")
)

// CascadeError reports which step of a cascade delete failed.
//
// The transactional scope guarantees that no deletion from the failed cascade
// is visible; the caller sees the pre-operation state.
type CascadeError struct {
	// Step is one of "lock", "lookup", "dependents", "root" or "commit".
	Step       string
	Collection string
	Err        error
}

func (e *CascadeError) Error() string {
	if e.Collection == "" {
		return fmt.Sprintf("cascade delete failed at %s: %v", e.Step, e.Err)
	}
	return fmt.Sprintf("cascade delete failed at %s (%s): %v", e.Step, e.Collection, e.Err)
}

// Unwrap returns the underlying cause.
func (e *CascadeError) Unwrap() error {
	return e.Err
}

// Is makes every CascadeError match ErrCascadePartialFailure.
func (e *CascadeError) Is(target error) bool {
	return target == ErrCascadePartialFailure
}

// StorageError wraps an I/O failure so that it matches ErrStorageUnavailable
// while keeping the original cause reachable.
func StorageError(op, target string, err error) error {
	return fmt.Errorf("%w: %s %s: %w", ErrStorageUnavailable, op, target, err)
}
