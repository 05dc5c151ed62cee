// internal/models/account.go
package models

import (
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Account is the role-neutral identity. Role specific data lives in
// separate tables keyed by the account id (see ExporterProfile).
type Account struct {
	BaseModel
	Email        string        `json:"email" gorm:"uniqueIndex;size:255;not null"`
	PasswordHash string        `json:"-" gorm:"size:255;not null"`
	DisplayName  string        `json:"display_name" gorm:"size:150;not null"`
	Phone        string        `json:"phone,omitempty" gorm:"size:30"`
	Role         AccountRole   `json:"role" gorm:"type:varchar(20);not null;index"`
	Status       AccountStatus `json:"status" gorm:"type:varchar(20);default:'active'"`
	LastLoginAt  *time.Time    `json:"last_login_at"`

	EmailVerifiedAt       *time.Time `json:"email_verified_at"`
	PasswordChangedAt     *time.Time `json:"password_changed_at,omitempty"`
	VerificationTokenHash string     `json:"-" gorm:"size:64;index"`
	VerificationExpiresAt *time.Time `json:"-"`
	ResetTokenHash        string     `json:"-" gorm:"size:64;index"`
	ResetExpiresAt        *time.Time `json:"-"`
}

// AccountTokenPurpose names the single-use token slots carried by an account.
type AccountTokenPurpose string

const (
	TokenEmailVerification AccountTokenPurpose = "email_verification"
	TokenPasswordReset     AccountTokenPurpose = "password_reset"
)

// SetToken stores the hash of a freshly issued token, replacing any earlier one
// for the same purpose.
func (a *Account) SetToken(purpose AccountTokenPurpose, hash string, expiresAt time.Time) {
	switch purpose {
	case TokenEmailVerification:
		a.VerificationTokenHash = hash
		a.VerificationExpiresAt = &expiresAt
	case TokenPasswordReset:
		a.ResetTokenHash = hash
		a.ResetExpiresAt = &expiresAt
	}
}

// ClearToken burns the token for purpose.
func (a *Account) ClearToken(purpose AccountTokenPurpose) {
	switch purpose {
	case TokenEmailVerification:
		a.VerificationTokenHash = ""
		a.VerificationExpiresAt = nil
	case TokenPasswordReset:
		a.ResetTokenHash = ""
		a.ResetExpiresAt = nil
	}
}

// TokenValid reports whether hash is the live token for purpose at now.
func (a *Account) TokenValid(purpose AccountTokenPurpose, hash string, now time.Time) bool {
	var stored string
	var expiresAt *time.Time
	switch purpose {
	case TokenEmailVerification:
		stored, expiresAt = a.VerificationTokenHash, a.VerificationExpiresAt
	case TokenPasswordReset:
		stored, expiresAt = a.ResetTokenHash, a.ResetExpiresAt
	default:
		return false
	}
	return stored != "" && stored == hash && expiresAt != nil && now.Before(*expiresAt)
}

func (a *Account) SetPassword(password string) error {
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	a.PasswordHash = string(hashedPassword)
	return nil
}

func (a *Account) CheckPassword(password string) error {
	return bcrypt.CompareHashAndPassword([]byte(a.PasswordHash), []byte(password))
}

type ExporterProfile struct {
	BaseModel
	AccountID       uuid.UUID      `json:"account_id" gorm:"type:uuid;uniqueIndex;not null"`
	CompanyName     string         `json:"company_name" gorm:"size:255;not null"`
	TaxID           string         `json:"tax_id" gorm:"size:50;uniqueIndex"`
	TradeRegister   string         `json:"trade_register" gorm:"size:50"`
	Address         string         `json:"address" gorm:"type:text"`
	ActivitySector  string         `json:"activity_sector" gorm:"size:100"`
	ApprovalStatus  ApprovalStatus `json:"approval_status" gorm:"type:varchar(20);default:'none'"`
	ApprovalNumber  *string        `json:"approval_number" gorm:"size:20"`
	ApprovalDate    *time.Time     `json:"approval_date" gorm:"type:date"`
	LatestCaseID    *uuid.UUID     `json:"latest_case_id" gorm:"type:uuid"`
}

// AccountWithProfile is the query-boundary join of an account and its exporter profile.
type AccountWithProfile struct {
	Account Account          `json:"account"`
	Profile *ExporterProfile `json:"profile,omitempty"`
}
