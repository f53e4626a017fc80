package activity

import (
	"errors"
	"fmt"

	"github.com/calshift/calshift"
)

// Failure is the terminal error returned when an activity exhausts its
// retry budget. It carries the attempt count and wraps the last error,
// so callers recover both through errors.As instead of parsing the
// message. Failure matches calshift.ErrMaxRetriesExceeded in errors.Is.
type Failure struct {
	Name     string
	Attempts int
	Err      error
}

// Error describes the exhausted activity and its last error.
func (f *Failure) Error() string {
	return fmt.Sprintf("activity %q failed after %d attempts: %v", f.Name, f.Attempts, f.Err)
}

// Unwrap returns the last attempt's error.
func (f *Failure) Unwrap() error { return f.Err }

// Is matches the retry-exhaustion sentinel.
func (f *Failure) Is(target error) bool { return target == calshift.ErrMaxRetriesExceeded }

// PermanentError marks an activity failure as non-retryable. The executor
// stops immediately instead of exhausting the retry policy.
type PermanentError struct {
	Err error
}

// Error returns the wrapped error's message.
func (e *PermanentError) Error() string {
	return e.Err.Error()
}

// Unwrap returns the wrapped error.
func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps err so the executor will not retry it.
// Returns nil if err is nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// TransientError explicitly marks an error as retryable. Errors retry by
// default, so the wrapper exists for handlers that classify at the call
// site and for overriding a permanent cause further down the chain.
type TransientError struct {
	Err error
}

// Error returns the wrapped error's message.
func (e *TransientError) Error() string {
	return e.Err.Error()
}

// Unwrap returns the wrapped error.
func (e *TransientError) Unwrap() error {
	return e.Err
}

// Transient wraps err so the executor retries it even when a wrapped
// cause is permanent. Returns nil if err is nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsPermanent reports whether err is (or wraps) a PermanentError. A
// TransientError anywhere in the chain wins over a permanent cause.
func IsPermanent(err error) bool {
	var te *TransientError
	if errors.As(err, &te) {
		return false
	}
	var pe *PermanentError
	return errors.As(err, &pe)
}
