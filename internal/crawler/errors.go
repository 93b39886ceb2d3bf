package crawler

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by stores when a session or task does not exist.
var ErrNotFound = errors.New("not found")

// TransientError wraps a store failure that is worth retrying: connection
// resets, timeouts, pool exhaustion. Per-task fetch or extraction failures
// are never transient; they terminate the task instead.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Transient wraps err as a TransientError for the given operation.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Op: op, Err: err}
}

// IsTransient reports whether any error in the chain is a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
