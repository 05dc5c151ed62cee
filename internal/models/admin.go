// internal/models/admin.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// AuditLog is one mutating HTTP request. Only named request attributes are
// kept; bodies are never persisted.
type AuditLog struct {
	BaseModel
	ActorID      *uuid.UUID `json:"actor_id" gorm:"type:uuid;index"`
	Action       string     `json:"action" gorm:"size:150;not null;index"`
	ResourceType string     `json:"resource_type" gorm:"size:50;not null;index"`
	ResourceID   *uuid.UUID `json:"resource_id" gorm:"type:uuid;index"`
	StatusCode   int        `json:"status_code"`
	DurationMs   int64      `json:"duration_ms"`
	IPAddress    string     `json:"ip_address" gorm:"size:45"`
	UserAgent    string     `json:"user_agent" gorm:"type:text"`
}

type NotificationKind string

const (
	NoticeCaseCreated      NotificationKind = "case_created"
	NoticeCaseSubmitted    NotificationKind = "case_submitted"
	NoticePaymentRequested NotificationKind = "payment_requested"
	NoticePaymentReceived  NotificationKind = "payment_received"
	NoticeCaseAssigned     NotificationKind = "case_assigned"
	NoticeInfoRequested    NotificationKind = "info_requested"
	NoticeInfoProvided     NotificationKind = "info_provided"
	NoticeCaseApproved     NotificationKind = "case_approved"
	NoticeCaseRejected     NotificationKind = "case_rejected"
	NoticeCaseSuspended    NotificationKind = "case_suspended"
	NoticeDocumentReviewed NotificationKind = "document_reviewed"

	NoticeEmailVerification NotificationKind = "email_verification"
	NoticePasswordReset     NotificationKind = "password_reset"
	NoticePasswordChanged   NotificationKind = "password_changed"
)

// Notification is the in-app copy of a notice sent to an account.
type Notification struct {
	BaseModel
	RecipientID uuid.UUID        `json:"recipient_id" gorm:"type:uuid;not null;index"`
	Kind        NotificationKind `json:"kind" gorm:"type:varchar(40);not null;index"`
	Title       string           `json:"title" gorm:"size:255;not null"`
	Message     string           `json:"message" gorm:"type:text;not null"`
	CaseID      *uuid.UUID       `json:"case_id" gorm:"type:uuid"`
	Params      JSONB            `json:"params,omitempty" gorm:"type:jsonb"`
	ReadAt      *time.Time       `json:"read_at"`
}
