package chain

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by Read when no entry has the requested sequence.
var ErrNotFound = errors.New("entry not found")

// ErrEmptyChain is returned by Tail when no entry has been appended yet.
var ErrEmptyChain = errors.New("chain is empty")

// ErrReadOnly is returned by Append on a store opened with OpenReadOnly.
var ErrReadOnly = errors.New("store is read-only")

// ValidationError rejects malformed append input before anything is
// written. The caller fixes the input and retries; the chain is untouched.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// PersistenceError means the durability flush failed and the append did
// NOT take effect: the store's tail only advances on confirmed durability.
// The caller must assume the entry was not recorded and may retry.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsPersistence reports whether err is (or wraps) a PersistenceError.
func IsPersistence(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}
