package engine

import (
	"errors"
	"fmt"
)

// ErrLockUnavailable is wrapped by TransientError when another worker holds
// the vault lease.
var ErrLockUnavailable = errors.New("vault lock unavailable")

// TransientError is a failure that the next cycle is expected to clear:
// contention, a store or redis outage, a stale snapshot or a timeout.
type TransientError struct {
	Op      string
	VaultID string
	Err     error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s vault %s: %v", e.Op, e.VaultID, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// InvariantViolation aborts a tick. The vault is flagged for review and is
// not ticked again until an operator clears the flag.
type InvariantViolation struct {
	VaultID string
	Stage   string // "load" or "commit"
	Err     error
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("invariant violation at %s: %v", e.Stage, e.Err)
}

func (e *InvariantViolation) Unwrap() error { return e.Err }

// ComputeError is scoped to one entity. The entity is skipped and the rest of
// the tick commits.
type ComputeError struct {
	System string
	Entity string
	ID     string
	Err    error
}

func (e ComputeError) Error() string {
	return fmt.Sprintf("%s: %s %s: %v", e.System, e.Entity, e.ID, e.Err)
}

func (e ComputeError) Unwrap() error { return e.Err }

// MarshalText lets TickResult carry compute errors as readable strings.
func (e ComputeError) MarshalText() ([]byte, error) { return []byte(e.Error()), nil }

// ConflictError is returned to a user action that could not get the vault
// lease in time, usually because a tick is in flight.
type ConflictError struct {
	VaultID string
	Err     error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("vault %s is busy: %v", e.VaultID, e.Err)
}

func (e *ConflictError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is worth retrying later unchanged.
func IsRetryable(err error) bool {
	var te *TransientError
	var ce *ConflictError
	return errors.As(err, &te) || errors.As(err, &ce)
}
