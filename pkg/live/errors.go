package live

import (
	"errors"
	"net/http"
)

// Code is a stable error code clients can branch on.
type Code string

// Error codes.
const (
	CodeNoActiveSession     Code = "no-active-session"
	CodeSessionGUIDMismatch Code = "session-guid-mismatch"
	CodeUnknownGuest        Code = "unknown-guest"
	CodeRateLimited         Code = "rate-limited"
	CodeNotFound            Code = "not-found"
	CodeGuestQueueLimit     Code = "guest-queue-limit"
	CodeStorageUnavailable  Code = "storage-unavailable"
	CodeInvariantViolation  Code = "invariant-violation"
	CodeInvalidTransition   Code = "invalid-transition"
	CodeInvalidArgument     Code = "invalid-argument"
)

// HTTPStatus maps the code onto an HTTP status.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeNoActiveSession, CodeGuestQueueLimit, CodeInvalidTransition:
		return http.StatusConflict
	case CodeSessionGUIDMismatch, CodeUnknownGuest:
		return http.StatusForbidden
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeNotFound:
		return http.StatusNotFound
	case CodeStorageUnavailable:
		return http.StatusServiceUnavailable
	case CodeInvalidArgument:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Error is a typed failure returned by Service operations.
type Error struct {
	Code    Code
	Message string

	// Err is the underlying cause. It is shown to operators only.
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error carrying the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Sentinel errors for errors.Is checks.
var (
	ErrNoActiveSession     = &Error{Code: CodeNoActiveSession, Message: "no session is active"}
	ErrSessionGUIDMismatch = &Error{Code: CodeSessionGUIDMismatch, Message: "session does not match the active session"}
	ErrUnknownGuest        = &Error{Code: CodeUnknownGuest, Message: "unknown guest"}
	ErrRateLimited         = &Error{Code: CodeRateLimited, Message: "too many requests"}
	ErrNotFound            = &Error{Code: CodeNotFound, Message: "not found"}
	ErrGuestQueueLimit     = &Error{Code: CodeGuestQueueLimit, Message: "guest queue limit reached"}
	ErrStorageUnavailable  = &Error{Code: CodeStorageUnavailable, Message: "storage unavailable"}
	ErrInvariantViolation  = &Error{Code: CodeInvariantViolation, Message: "queue invariant violated"}
	ErrInvalidTransition   = &Error{Code: CodeInvalidTransition, Message: "invalid status transition"}
	ErrInvalidArgument     = &Error{Code: CodeInvalidArgument, Message: "invalid argument"}
)

func newError(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

func invalidArgument(message string) *Error {
	return &Error{Code: CodeInvalidArgument, Message: message}
}

// CodeOf returns the code of err, or an empty code when err is not an *Error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
