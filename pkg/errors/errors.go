package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrNotFound     = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden    = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrConflict     = New("CONFLICT", http.StatusConflict, "conflict")
	ErrValidation   = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal     = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrCacheMiss    = New("CACHE_MISS", http.StatusNotFound, "cache miss")
)

// Upload pipeline errors. Decode and mapping errors are fatal to the whole
// upload and surface before any manifest exists.
var (
	ErrUnsupportedFormat    = New("UNSUPPORTED_FORMAT", http.StatusUnsupportedMediaType, "file format not supported")
	ErrFileTooLarge         = New("FILE_TOO_LARGE", http.StatusRequestEntityTooLarge, "file exceeds the configured size limit")
	ErrMalformedFile        = New("MALFORMED_FILE", http.StatusBadRequest, "file could not be parsed")
	ErrDuplicateMapping     = New("DUPLICATE_MAPPING", http.StatusBadRequest, "two columns map to the same field")
	ErrMissingRequiredField = New("MISSING_REQUIRED_FIELD", http.StatusBadRequest, "a required field has no mapped column")
)

// Rollback errors.
var (
	ErrManifestNotFound     = New("MANIFEST_NOT_FOUND", http.StatusNotFound, "upload manifest not found")
	ErrAlreadyRolledBack    = New("ALREADY_ROLLED_BACK", http.StatusConflict, "upload has already been rolled back")
	ErrRollbackNotPermitted = New("ROLLBACK_NOT_PERMITTED", http.StatusConflict, "upload cannot be rolled back")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}
