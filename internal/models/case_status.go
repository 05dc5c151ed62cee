// internal/models/case_status.go
package models

type CaseStatus string

const (
	CaseStatusDraft          CaseStatus = "DRAFT"
	CaseStatusSubmitted      CaseStatus = "SUBMITTED"
	CaseStatusPendingPayment CaseStatus = "PENDING_PAYMENT"
	CaseStatusPaid           CaseStatus = "PAID"
	CaseStatusUnderReview    CaseStatus = "UNDER_REVIEW"
	CaseStatusPendingInfo    CaseStatus = "PENDING_INFO"
	CaseStatusApproved       CaseStatus = "APPROVED"
	CaseStatusRejected       CaseStatus = "REJECTED"
	CaseStatusSuspended      CaseStatus = "SUSPENDED"
)

// caseTransitions is the complete edge set of the lifecycle. Terminal states
// have no outgoing edges; SUSPENDED is reachable from every other state.
var caseTransitions = map[CaseStatus][]CaseStatus{
	CaseStatusDraft:          {CaseStatusSubmitted, CaseStatusSuspended},
	CaseStatusSubmitted:      {CaseStatusPendingPayment, CaseStatusUnderReview, CaseStatusPendingInfo, CaseStatusApproved, CaseStatusRejected, CaseStatusSuspended},
	CaseStatusPendingPayment: {CaseStatusPaid, CaseStatusSuspended},
	CaseStatusPaid:           {CaseStatusUnderReview, CaseStatusSuspended},
	CaseStatusUnderReview:    {CaseStatusPendingInfo, CaseStatusApproved, CaseStatusRejected, CaseStatusSuspended},
	CaseStatusPendingInfo:    {CaseStatusUnderReview, CaseStatusSuspended},
}

func (s CaseStatus) CanTransitionTo(next CaseStatus) bool {
	for _, allowed := range caseTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s CaseStatus) IsValid() bool {
	switch s {
	case CaseStatusDraft, CaseStatusSubmitted, CaseStatusPendingPayment, CaseStatusPaid,
		CaseStatusUnderReview, CaseStatusPendingInfo, CaseStatusApproved, CaseStatusRejected,
		CaseStatusSuspended:
		return true
	}
	return false
}

func (s CaseStatus) IsTerminal() bool {
	return s == CaseStatusApproved || s == CaseStatusRejected || s == CaseStatusSuspended
}

// AwaitingReview covers every post-submission state in which an agent may hold the case.
func (s CaseStatus) AwaitingReview() bool {
	switch s {
	case CaseStatusSubmitted, CaseStatusPaid, CaseStatusUnderReview, CaseStatusPendingInfo:
		return true
	}
	return false
}

// ActiveCaseStatuses lists the non-terminal states.
func ActiveCaseStatuses() []CaseStatus {
	return []CaseStatus{
		CaseStatusDraft, CaseStatusSubmitted, CaseStatusPendingPayment, CaseStatusPaid,
		CaseStatusUnderReview, CaseStatusPendingInfo,
	}
}

func AllCaseStatuses() []CaseStatus {
	return append(ActiveCaseStatuses(), CaseStatusApproved, CaseStatusRejected, CaseStatusSuspended)
}
