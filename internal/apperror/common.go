package apperror

import "net/http"

// Sentinels for errors.Is checks. Matching is by code only.
var (
	ErrNotFound         = New(CodeNotFound, "Resource not found", http.StatusNotFound)
	ErrUnauthorized     = New(CodeUnauthorized, "You are not permitted to act on this resource", http.StatusForbidden)
	ErrUnauthenticated  = New(CodeUnauthenticated, "Authentication is required", http.StatusUnauthorized)
	ErrInvalidState     = New(CodeInvalidState, "Operation not allowed in the current state", http.StatusConflict)
	ErrValidationFailed = New(CodeValidationFailed, "Validation failed", http.StatusUnprocessableEntity)
	ErrConflict         = New(CodeConflict, "Conflicting resource state", http.StatusConflict)
	ErrStorageFailure   = New(CodeStorageFailure, "File storage unavailable", http.StatusServiceUnavailable)
	ErrInternal         = New(CodeInternalError, "An unexpected error occurred", http.StatusInternalServerError)
)
