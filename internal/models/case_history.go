// internal/models/case_history.go
package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

type HistoryAction string

const (
	ActionCreation       HistoryAction = "CREATION"
	ActionSubmission     HistoryAction = "SUBMISSION"
	ActionPaymentRequest HistoryAction = "PAYMENT_REQUEST"
	ActionPayment        HistoryAction = "PAYMENT"
	ActionAssignment     HistoryAction = "ASSIGNMENT"
	ActionReviewStart    HistoryAction = "REVIEW_START"
	ActionInfoRequest    HistoryAction = "INFO_REQUEST"
	ActionInfoResponse   HistoryAction = "INFO_RESPONSE"
	ActionDecision       HistoryAction = "DECISION"
	ActionSuspension     HistoryAction = "SUSPENSION"
)

// CaseHistoryEntry is an immutable audit record. The serial ID orders
// entries written within the same clock tick.
type CaseHistoryEntry struct {
	ID        uint64        `json:"id" gorm:"primaryKey;autoIncrement"`
	CaseID    uuid.UUID     `json:"case_id" gorm:"type:uuid;not null;index"`
	OldStatus CaseStatus    `json:"old_status,omitempty" gorm:"type:varchar(20)"`
	NewStatus CaseStatus    `json:"new_status" gorm:"type:varchar(20);not null"`
	Action    HistoryAction `json:"action" gorm:"type:varchar(30);not null"`
	Comment   string        `json:"comment,omitempty" gorm:"type:text"`
	ActorID   uuid.UUID     `json:"actor_id" gorm:"type:uuid;not null"`
	CreatedAt time.Time     `json:"created_at" gorm:"not null;index"`
}

// InfoRequest records the documents an applicant must revisit.
type InfoRequest struct {
	BaseModel
	CaseID      uuid.UUID      `json:"case_id" gorm:"type:uuid;not null;index"`
	AgentID     uuid.UUID      `json:"agent_id" gorm:"type:uuid;not null"`
	Message     string         `json:"message" gorm:"type:text;not null"`
	DocumentIDs pq.StringArray `json:"document_ids" gorm:"type:text[]"`
	ResolvedAt  *time.Time     `json:"resolved_at"`
}
