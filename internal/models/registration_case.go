// internal/models/registration_case.go
package models

import (
	"time"

	"github.com/google/uuid"
)

type CaseTrack string

const (
	TrackDeclaration CaseTrack = "declaration"
	TrackDossier     CaseTrack = "dossier"
)

// ReferencePrefix is the track-distinguishing prefix of case references.
func (t CaseTrack) ReferencePrefix() string {
	if t == TrackDossier {
		return "DOS"
	}
	return "DEC"
}

func (t CaseTrack) IsValid() bool {
	return t == TrackDeclaration || t == TrackDossier
}

type RegistrationCase struct {
	BaseModel
	ApplicantID      uuid.UUID     `json:"applicant_id" gorm:"type:uuid;not null;index"`
	Reference        string        `json:"reference" gorm:"uniqueIndex;size:32;not null"`
	Track            CaseTrack     `json:"track" gorm:"type:varchar(20);not null;default:'declaration'"`
	Status           CaseStatus    `json:"status" gorm:"type:varchar(20);not null;index"`
	Version          int           `json:"version" gorm:"not null;default:1"`
	SubmittedAt      *time.Time    `json:"submitted_at"`
	PaymentReference string        `json:"payment_reference,omitempty" gorm:"size:100"`
	PaymentAmount    int64         `json:"payment_amount"`
	PaymentStatus    PaymentStatus `json:"payment_status" gorm:"type:varchar(20);default:'pending'"`
	AssignedAgentID  *uuid.UUID    `json:"assigned_agent_id" gorm:"type:uuid;index"`
	DecisionDate     *time.Time    `json:"decision_date"`
	DecisionComment  string        `json:"decision_comment,omitempty" gorm:"type:text"`
	DecidedBy        *uuid.UUID    `json:"decided_by" gorm:"type:uuid"`
	ApprovalNumber   *string       `json:"approval_number" gorm:"uniqueIndex;size:20"`
	ApprovalDate     *time.Time    `json:"approval_date" gorm:"type:date"`

	// Relationships
	History []CaseHistoryEntry `json:"history,omitempty" gorm:"foreignKey:CaseID;constraint:OnDelete:CASCADE"`
}

// ApprovalConsistent reports whether approval number and date are present
// exactly when the case is approved.
func (c *RegistrationCase) ApprovalConsistent() bool {
	hasApproval := c.ApprovalNumber != nil && c.ApprovalDate != nil
	hasNone := c.ApprovalNumber == nil && c.ApprovalDate == nil
	if c.Status == CaseStatusApproved {
		return hasApproval
	}
	return hasNone
}

func (c *RegistrationCase) IsAssignedTo(agentID uuid.UUID) bool {
	return c.AssignedAgentID != nil && *c.AssignedAgentID == agentID
}
