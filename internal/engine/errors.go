package engine

import (
	"errors"
	"fmt"
)

// RuntimeError represents an error detected while running a program.
//
// Runtime errors include:
//   - Construction failures: a statement could not be created
//   - Resolution failures: unknown command, method or object
//   - Process failures: a top-level process terminated with an error
//
// RuntimeError carries the process and statement for diagnostics.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// Process is the name of the affected process, if any.
	Process string

	// Statement is the statement index, or -1.
	Statement int

	// Err is the underlying cause, if any.
	Err error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeConstructFailed indicates a module rejected its arguments or
	// could not be created.
	ErrCodeConstructFailed RuntimeErrorCode = "CONSTRUCT_FAILED"

	// ErrCodeUnknownCommand indicates a plain command with no module.
	ErrCodeUnknownCommand RuntimeErrorCode = "UNKNOWN_COMMAND"

	// ErrCodeUnknownMethod indicates the receiver type has no such method.
	ErrCodeUnknownMethod RuntimeErrorCode = "UNKNOWN_METHOD"

	// ErrCodeUnresolvedObject indicates an object or variable path did not
	// resolve.
	ErrCodeUnresolvedObject RuntimeErrorCode = "UNRESOLVED_OBJECT"

	// ErrCodeBadArgument indicates a wrong argument count or kind.
	ErrCodeBadArgument RuntimeErrorCode = "BAD_ARGUMENT"

	// ErrCodeProcessFailed indicates a top-level process terminated with an
	// error.
	ErrCodeProcessFailed RuntimeErrorCode = "PROCESS_FAILED"

	// ErrCodeDuplicateProvider indicates a second non-queueing provider for
	// an active resource name.
	ErrCodeDuplicateProvider RuntimeErrorCode = "DUPLICATE_PROVIDER"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	msg := e.Message
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Process != "" && e.Statement >= 0 {
		return fmt.Sprintf("%s: %s (process=%s, statement=%d)", e.Code, msg, e.Process, e.Statement)
	}
	if e.Process != "" {
		return fmt.Sprintf("%s: %s (process=%s)", e.Code, msg, e.Process)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

// Unwrap returns the underlying cause.
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// NewError creates a RuntimeError not yet tied to a statement. The
// interpreter fills in the process and statement when the error surfaces
// from a module.
func NewError(code RuntimeErrorCode, format string, args ...any) *RuntimeError {
	return &RuntimeError{Code: code, Message: fmt.Sprintf(format, args...), Statement: -1}
}

// ArgError is shorthand for a BAD_ARGUMENT error.
func ArgError(format string, args ...any) *RuntimeError {
	return NewError(ErrCodeBadArgument, format, args...)
}

// ErrorCode returns the code of the first RuntimeError in err's chain, or
// the empty code.
func ErrorCode(err error) RuntimeErrorCode {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}

// IsConstructError returns true if err is a construction failure.
func IsConstructError(err error) bool {
	return ErrorCode(err) == ErrCodeConstructFailed
}

// IsProcessFailed returns true if err reports a failed top-level process.
func IsProcessFailed(err error) bool {
	return ErrorCode(err) == ErrCodeProcessFailed
}

// IsBadArgument returns true if err reports a wrong argument.
func IsBadArgument(err error) bool {
	return ErrorCode(err) == ErrCodeBadArgument
}

// IsResolveError returns true for unknown commands, methods and objects.
func IsResolveError(err error) bool {
	switch ErrorCode(err) {
	case ErrCodeUnknownCommand, ErrCodeUnknownMethod, ErrCodeUnresolvedObject:
		return true
	default:
		return false
	}
}

// withLocation returns err as a RuntimeError located at process/statement.
// Errors that are not RuntimeErrors become CONSTRUCT_FAILED.
func withLocation(err error, process string, statement int) *RuntimeError {
	var re *RuntimeError
	if errors.As(err, &re) {
		located := *re
		if located.Process == "" {
			located.Process = process
			located.Statement = statement
		}
		return &located
	}
	return &RuntimeError{
		Code:      ErrCodeConstructFailed,
		Message:   "statement failed",
		Process:   process,
		Statement: statement,
		Err:       err,
	}
}
