// internal/errors/errors.go
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorType string

const (
	// ErrorTypeNotFound: the referenced revision or ref does not exist.
	ErrorTypeNotFound ErrorType = "NOT_FOUND"
	// ErrorTypePrecondition: a legitimate request the store cannot honour
	// (immutable target, merge-commit base, out-of-bounds hunk). The session
	// is unchanged and the caller can fix the request.
	ErrorTypePrecondition ErrorType = "PRECONDITION"
	// ErrorTypeInternal: an invariant violation (stale hunk, missing rebase
	// entry). The caller's cached state diverged from the store and must be
	// refreshed.
	ErrorTypeInternal ErrorType = "INTERNAL"
)

type Error struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Code    int       `json:"code"`
	Details any       `json:"details,omitempty"`
}

func (e *Error) Error() string {
	return e.Message
}

func NotFound(message string) *Error {
	return &Error{
		Type:    ErrorTypeNotFound,
		Message: message,
		Code:    http.StatusNotFound,
	}
}

func Precondition(format string, args ...any) *Error {
	return &Error{
		Type:    ErrorTypePrecondition,
		Message: fmt.Sprintf(format, args...),
		Code:    http.StatusBadRequest,
	}
}

func Internal(format string, args ...any) *Error {
	return &Error{
		Type:    ErrorTypeInternal,
		Message: fmt.Sprintf(format, args...),
		Code:    http.StatusInternalServerError,
	}
}

// IsPrecondition reports whether err (or anything it wraps) is a
// precondition error rather than a hard failure.
func IsPrecondition(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Type == ErrorTypePrecondition
}

func IsNotFound(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Type == ErrorTypeNotFound
}
