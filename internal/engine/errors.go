package engine

import "fmt"

// Error is the single error kind surfaced at the engine boundary.
// Sub-kinds (bad input, storage failure, invariant violation) are
// distinguished by message text; a wrapped cause is preserved for
// errors.Is/As inspection.
type Error struct {
	Message string
	Err     error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap exposes the underlying cause
func (e *Error) Unwrap() error {
	return e.Err
}

// errorf creates a boundary error with no underlying cause
func errorf(format string, args ...any) *Error {
	return &Error{Message: fmt.Sprintf(format, args...)}
}

// wrap attaches a boundary message to an underlying failure
func wrap(err error, format string, args ...any) *Error {
	return &Error{Message: fmt.Sprintf(format, args...), Err: err}
}
