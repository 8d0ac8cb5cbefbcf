package objective

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrConfig marks recoverable configuration failures: the object stays
// unusable but the caller can report and exit cleanly.
var ErrConfig = errors.New("objective: invalid configuration")

// ErrNotReady is returned when an evaluation is requested before a
// successful SetUp.
var ErrNotReady = errors.New("objective: not set up")

// ErrSubset is returned for a subset number outside [0, NumSubsets).
var ErrSubset = errors.New("objective: subset out of range")

// FatalError reports a broken precondition. Callers must stop rather than
// retry.
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("objective: fatal: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying cause.
func (e *FatalError) Unwrap() error { return e.Err }

// IsFatal reports whether err is or wraps a *FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

func fatalf(op, format string, args ...interface{}) *FatalError {
	return &FatalError{Op: op, Err: errors.Errorf(format, args...)}
}

func configf(format string, args ...interface{}) error {
	return errors.Wrapf(ErrConfig, format, args...)
}
