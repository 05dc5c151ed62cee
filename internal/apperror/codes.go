package apperror

const (
	// Client errors (4xx)
	CodeNotFound         = "NOT_FOUND"
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeUnauthenticated  = "UNAUTHENTICATED"
	CodeInvalidState     = "INVALID_STATE"
	CodeValidationFailed = "VALIDATION_FAILED"
	CodeConflict         = "CONFLICT"

	// Server errors (5xx)
	CodeStorageFailure = "STORAGE_FAILURE"
	CodeInternalError  = "INTERNAL_ERROR"
)
