package output

import (
	"errors"
	"fmt"
)

// Error is a structured error with code, message, and optional hint.
type Error struct {
	Code       string
	Message    string
	Hint       string
	HTTPStatus int
	Retryable  bool
	Cause      error
}

func (e *Error) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s", e.Message, e.Hint)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// ExitCode returns the appropriate exit code for this error.
func (e *Error) ExitCode() int {
	return ExitCodeFor(e.Code)
}

// Is matches any *Error carrying the same code, so callers can write
// errors.Is(err, &output.Error{Code: output.CodeTimeout}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code != "" && t.Code == e.Code
}

// Error constructors for common cases.

func ErrUsage(msg string) *Error {
	return &Error{Code: CodeUsage, Message: msg}
}

func ErrUsageHint(msg, hint string) *Error {
	return &Error{Code: CodeUsage, Message: msg, Hint: hint}
}

func ErrNotFound(resource, identifier string) *Error {
	return &Error{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s not found: %s", resource, identifier),
	}
}

func ErrAuth(msg string) *Error {
	return &Error{
		Code:    CodeAuth,
		Message: msg,
		Hint:    "Run: devflow auth login",
	}
}

func ErrForbidden(msg string) *Error {
	return &Error{
		Code:       CodeForbidden,
		Message:    msg,
		HTTPStatus: 403,
	}
}

func ErrNetwork(cause error) *Error {
	return &Error{
		Code:      CodeNetwork,
		Message:   "Network error",
		Hint:      cause.Error(),
		Retryable: true,
		Cause:     cause,
	}
}

func ErrAPI(status int, msg string) *Error {
	return &Error{
		Code:       CodeAPI,
		Message:    msg,
		HTTPStatus: status,
	}
}

// ErrConfiguration reports a missing or invalid configuration value.
func ErrConfiguration(msg string) *Error {
	return &Error{
		Code:    CodeConfiguration,
		Message: msg,
		Hint:    "Run: devflow config set client_id <id> --global",
	}
}

// ErrListenerStart reports that the local callback endpoint could not be bound.
func ErrListenerStart(addr string, cause error) *Error {
	return &Error{
		Code:    CodeListenerStart,
		Message: fmt.Sprintf("Could not listen on %s", addr),
		Hint:    "Another login may still be running; wait for it to finish and retry",
		Cause:   cause,
	}
}

// ErrCSRFMismatch reports a callback whose state did not match the attempt.
func ErrCSRFMismatch() *Error {
	return &Error{
		Code:    CodeCSRFMismatch,
		Message: "Authorization callback rejected: state mismatch",
		Hint:    "The callback did not originate from this login attempt",
	}
}

// ErrUserDenied reports an error parameter returned by the identity provider.
func ErrUserDenied(reason, description string) *Error {
	msg := "Authorization denied"
	if reason != "" {
		msg += " (" + reason + ")"
	}
	return &Error{Code: CodeDenied, Message: msg, Hint: description}
}

// ErrTimeout reports that no callback arrived before the deadline.
func ErrTimeout(msg string) *Error {
	return &Error{
		Code:    CodeTimeout,
		Message: msg,
		Hint:    "Run: devflow auth login",
	}
}

// ErrExchange reports a failed code or refresh exchange.
func ErrExchange(msg string, cause error) *Error {
	e := &Error{Code: CodeExchange, Message: msg, Cause: cause}
	if cause != nil {
		e.Hint = cause.Error()
	}
	return e
}

// ErrValidation reports a record rejected before it reached storage.
func ErrValidation(msg string) *Error {
	return &Error{Code: CodeValidation, Message: msg}
}

// ErrInfrastructure reports an unavailable backing store.
func ErrInfrastructure(msg string, cause error) *Error {
	e := &Error{Code: CodeInfrastructure, Message: msg, Cause: cause}
	if cause != nil {
		e.Hint = cause.Error()
	}
	return e
}

// ErrBusy reports a second login attempt while one is pending.
func ErrBusy() *Error {
	return &Error{
		Code:    CodeBusy,
		Message: "A login attempt is already in progress",
	}
}

// AsError attempts to convert an error to an *Error.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{
		Code:    CodeAPI,
		Message: err.Error(),
		Cause:   err,
	}
}
