package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

type AppError struct {
	Code       string                 // Error code (e.g., INVALID_STATE)
	Message    string                 // User-facing message
	HTTPStatus int                    // HTTP status code
	Retryable  bool                   // Caller may retry the same operation
	Details    map[string]interface{} // Structured context: resource id, expected/actual state...
	Err        error                  // Wrapped original error (optional)
}

// Error implements error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap implements errors.Unwrap interface for errors.Is/As
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches on the error code so that errors.Is(err, ErrNotFound) holds for
// every not-found error regardless of its message or details.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// With returns a copy of e carrying an extra detail entry.
func (e *AppError) With(key string, value interface{}) *AppError {
	cp := *e
	cp.Details = make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		cp.Details[k] = v
	}
	cp.Details[key] = value
	return &cp
}

// AsRetryable returns a copy of e that callers may retry as is.
func (e *AppError) AsRetryable() *AppError {
	cp := *e
	cp.Retryable = true
	return &cp
}

// New creates a new AppError without wrapping
func New(code, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap creates an AppError that wraps an existing error
func Wrap(err error, code, message string, httpStatus int) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// As extracts the AppError from an error chain.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// CodeOf reports the code of err, INTERNAL_ERROR for foreign errors and "" for nil.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	if appErr, ok := As(err); ok {
		return appErr.Code
	}
	return CodeInternalError
}

func IsRetryable(err error) bool {
	appErr, ok := As(err)
	return ok && appErr.Retryable
}

func NotFound(resource string, id interface{}) *AppError {
	return New(CodeNotFound, resource+" not found", http.StatusNotFound).
		With("resource", resource).
		With("id", fmt.Sprint(id))
}

func Unauthorized(message string) *AppError {
	return New(CodeUnauthorized, message, http.StatusForbidden)
}

func Unauthenticated(message string) *AppError {
	return New(CodeUnauthenticated, message, http.StatusUnauthorized)
}

// InvalidState reports an operation attempted from a state that forbids it.
func InvalidState(resource string, id interface{}, actual string, expected ...string) *AppError {
	err := New(CodeInvalidState,
		fmt.Sprintf("%s %v is in state %s", resource, id, actual),
		http.StatusConflict).
		With("resource", resource).
		With("id", fmt.Sprint(id)).
		With("actual_state", actual)
	if len(expected) > 0 {
		err = err.With("expected_state", expected)
	}
	return err
}

func ValidationFailed(message string) *AppError {
	return New(CodeValidationFailed, message, http.StatusUnprocessableEntity)
}

func Conflict(message string) *AppError {
	return New(CodeConflict, message, http.StatusConflict)
}

// StorageFailure wraps a file storage error. It is always retryable.
func StorageFailure(err error, op string) *AppError {
	appErr := Wrap(err, CodeStorageFailure, "file storage "+op+" failed", http.StatusServiceUnavailable)
	if appErr == nil {
		return nil
	}
	appErr.Retryable = true
	return appErr.With("operation", op)
}

func Internal(err error) *AppError {
	return Wrap(err, CodeInternalError, "An unexpected error occurred", http.StatusInternalServerError)
}
