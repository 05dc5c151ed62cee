// internal/i18n/keys.go
package i18n

// Translation keys constants
const (
	// Common
	KeySuccess = "success"
	KeyError   = "error"

	// Authentication
	KeyAuthRequired           = "auth.required"
	KeyAuthInvalidToken       = "auth.invalid_token"
	KeyAuthTokenRevoked       = "auth.token_revoked"
	KeyAuthInvalidCredentials = "auth.invalid_credentials"
	KeyAuthUserExists         = "auth.user_exists"
	KeyAuthLoginSuccess       = "auth.login_success"
	KeyAuthLogoutSuccess      = "auth.logout_success"
	KeyAuthRegisterSuccess    = "auth.register_success"
	KeyAuthForbidden          = "auth.forbidden"
	KeyAuthPasswordChanged    = "auth.password_changed"
	KeyAuthResetRequested     = "auth.password_reset_requested"
	KeyAuthPasswordReset      = "auth.password_reset"
	KeyAuthResetTokenValid    = "auth.reset_token_valid"
	KeyAuthEmailVerified      = "auth.email_verified"
	KeyAuthVerificationSent   = "auth.verification_sent"

	// Accounts
	KeyAccountProfileUpdated = "account.profile_updated"
	KeyAccountNotFound       = "account.not_found"
	KeyAccountSuspended      = "account.suspended"

	// Cases
	KeyCaseCreated       = "case.created"
	KeyCaseSubmitted     = "case.submitted"
	KeyCaseNotFound      = "case.not_found"
	KeyCaseAssigned      = "case.assigned"
	KeyCaseDecided       = "case.decided"
	KeyCaseInfoRequested = "case.info_requested"
	KeyCaseInfoProvided  = "case.info_provided"
	KeyCaseSuspended     = "case.suspended"
	KeyCaseReviewStarted = "case.review_started"

	// Documents
	KeyDocumentUploaded  = "document.uploaded"
	KeyDocumentValidated = "document.validated"
	KeyDocumentNotFound  = "document.not_found"

	// Products
	KeyProductCreated  = "product.created"
	KeyProductUpdated  = "product.updated"
	KeyProductDeleted  = "product.deleted"
	KeyProductNotFound = "product.not_found"

	// Payments
	KeyPaymentRequested = "payment.requested"
	KeyPaymentConfirmed = "payment.confirmed"

	// Validation
	KeyValidationInvalid = "validation.invalid"
	KeyRateLimited       = "error.rate_limited"
)

// ErrorKey is the translation key for an application error code.
func ErrorKey(code string) string {
	return "error." + code
}

// NoticeTitleKey and NoticeBodyKey locate the user-facing text of a notification kind.
func NoticeTitleKey(kind string) string {
	return "notice." + kind + ".title"
}

func NoticeBodyKey(kind string) string {
	return "notice." + kind + ".body"
}
