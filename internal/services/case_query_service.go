// internal/services/case_query_service.go
package services

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/javajoker/export-registry/internal/apperror"
	"github.com/javajoker/export-registry/internal/models"
	"github.com/javajoker/export-registry/internal/repository"
)

// CaseQueryService is the read side of the registration core.
type CaseQueryService struct {
	store     repository.Store
	files     FileStore
	validator *CompletenessValidator
	history   *HistoryRecorder
}

type CaseDetail struct {
	Case         *models.RegistrationCase    `json:"case"`
	Products     []models.ProductDeclaration `json:"products"`
	Documents    []models.Document           `json:"documents"`
	InfoRequests []models.InfoRequest        `json:"info_requests"`
}

type DocumentCounts struct {
	Total    int `json:"total"`
	Valid    int `json:"valid"`
	Rejected int `json:"rejected"`
	Pending  int `json:"pending"`
}

type CaseStatistics struct {
	ByStatus map[models.CaseStatus]int64 `json:"by_status"`
	Total    int64                       `json:"total"`
}

type AgentStatistics struct {
	InProgress int64 `json:"in_progress"`
	Waiting    int64 `json:"waiting"`
	Decided    int64 `json:"decided"`
}

type CompletenessReport struct {
	CaseID       uuid.UUID         `json:"case_id"`
	Complete     bool              `json:"complete"`
	ProductCount int               `json:"product_count"`
	Missing      []MissingDocument `json:"missing"`
}

func NewCaseQueryService(store repository.Store, files FileStore, validator *CompletenessValidator) *CaseQueryService {
	return &CaseQueryService{
		store:     store,
		files:     files,
		validator: validator,
		history:   NewHistoryRecorder(store, nil),
	}
}

func (s *CaseQueryService) ListByApplicant(ctx context.Context, applicantID uuid.UUID, page repository.Page) ([]models.RegistrationCase, int64, error) {
	return s.store.ListCases(ctx, repository.CaseFilter{ApplicantID: &applicantID}, page)
}

func (s *CaseQueryService) ListByStatus(ctx context.Context, status models.CaseStatus, page repository.Page) ([]models.RegistrationCase, int64, error) {
	if !status.IsValid() {
		return nil, 0, apperror.ValidationFailed("unknown case status " + string(status))
	}
	return s.store.ListCases(ctx, repository.CaseFilter{Statuses: []models.CaseStatus{status}}, page)
}

// ListByAgent lists the agent's assigned cases, optionally narrowed to one status.
func (s *CaseQueryService) ListByAgent(ctx context.Context, agentID uuid.UUID, status *models.CaseStatus, page repository.Page) ([]models.RegistrationCase, int64, error) {
	filter := repository.CaseFilter{AgentID: &agentID}
	if status != nil {
		if !status.IsValid() {
			return nil, 0, apperror.ValidationFailed("unknown case status " + string(*status))
		}
		filter.Statuses = []models.CaseStatus{*status}
	}
	return s.store.ListCases(ctx, filter, page)
}

// ListUnassigned is the assignment queue: cases awaiting review with no agent.
func (s *CaseQueryService) ListUnassigned(ctx context.Context, page repository.Page) ([]models.RegistrationCase, int64, error) {
	return s.store.ListCases(ctx, repository.CaseFilter{
		Unassigned: true,
		Statuses: []models.CaseStatus{
			models.CaseStatusSubmitted, models.CaseStatusPaid,
			models.CaseStatusUnderReview, models.CaseStatusPendingInfo,
		},
	}, page)
}

func (s *CaseQueryService) GetCase(ctx context.Context, caseID uuid.UUID, viewer Identity) (*CaseDetail, error) {
	c, err := s.viewableCase(ctx, caseID, viewer)
	if err != nil {
		return nil, err
	}

	products, err := s.store.ListProductsByApplicant(ctx, c.ApplicantID)
	if err != nil {
		return nil, err
	}
	documents, err := s.store.ListDocumentsByCase(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	requests, err := s.store.ListInfoRequests(ctx, c.ID)
	if err != nil {
		return nil, err
	}

	return &CaseDetail{Case: c, Products: products, Documents: documents, InfoRequests: requests}, nil
}

func (s *CaseQueryService) History(ctx context.Context, caseID uuid.UUID, viewer Identity) ([]models.CaseHistoryEntry, error) {
	if _, err := s.viewableCase(ctx, caseID, viewer); err != nil {
		return nil, err
	}
	return s.history.List(ctx, caseID)
}

func (s *CaseQueryService) DocumentCounts(ctx context.Context, caseID uuid.UUID) (*DocumentCounts, error) {
	if _, err := s.store.GetCase(ctx, caseID); err != nil {
		return nil, err
	}
	documents, err := s.store.ListDocumentsByCase(ctx, caseID)
	if err != nil {
		return nil, err
	}

	counts := &DocumentCounts{Total: len(documents)}
	for _, d := range documents {
		switch d.Status {
		case models.DocumentStatusValid:
			counts.Valid++
		case models.DocumentStatusRejected:
			counts.Rejected++
		default:
			counts.Pending++
		}
	}
	return counts, nil
}

func (s *CaseQueryService) Statistics(ctx context.Context) (*CaseStatistics, error) {
	byStatus, err := s.store.CountCasesByStatus(ctx, repository.CaseFilter{})
	if err != nil {
		return nil, err
	}

	stats := &CaseStatistics{ByStatus: make(map[models.CaseStatus]int64, len(byStatus))}
	for _, st := range models.AllCaseStatuses() {
		stats.ByStatus[st] = byStatus[st]
		stats.Total += byStatus[st]
	}
	return stats, nil
}

func (s *CaseQueryService) AgentStatistics(ctx context.Context, agentID uuid.UUID) (*AgentStatistics, error) {
	assigned, err := s.store.CountCasesByStatus(ctx, repository.CaseFilter{AgentID: &agentID})
	if err != nil {
		return nil, err
	}
	waiting, err := s.store.CountCasesByStatus(ctx, repository.CaseFilter{Unassigned: true})
	if err != nil {
		return nil, err
	}
	decided, err := s.store.CountCasesByStatus(ctx, repository.CaseFilter{DecidedBy: &agentID})
	if err != nil {
		return nil, err
	}

	return &AgentStatistics{
		InProgress: assigned[models.CaseStatusUnderReview],
		Waiting:    waiting[models.CaseStatusSubmitted],
		Decided:    decided[models.CaseStatusApproved] + decided[models.CaseStatusRejected],
	}, nil
}

// Completeness previews every missing document of a case at once.
func (s *CaseQueryService) Completeness(ctx context.Context, caseID uuid.UUID, viewer Identity) (*CompletenessReport, error) {
	c, err := s.viewableCase(ctx, caseID, viewer)
	if err != nil {
		return nil, err
	}

	products, err := s.store.ListProductsByApplicant(ctx, c.ApplicantID)
	if err != nil {
		return nil, err
	}
	documents, err := s.store.ListDocumentsByCase(ctx, c.ID)
	if err != nil {
		return nil, err
	}

	missing := s.validator.ValidateAll(products, documents)
	if missing == nil {
		missing = []MissingDocument{}
	}
	return &CompletenessReport{
		CaseID:       c.ID,
		Complete:     len(products) > 0 && len(missing) == 0,
		ProductCount: len(products),
		Missing:      missing,
	}, nil
}

// DownloadDocument returns the metadata and bytes of a stored document.
func (s *CaseQueryService) DownloadDocument(ctx context.Context, documentID uuid.UUID, viewer Identity) (*models.Document, []byte, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, nil, err
	}
	if !viewer.Role.IsStaff() && doc.ApplicantID != viewer.AccountID {
		return nil, nil, apperror.Unauthorized("you cannot access this document")
	}
	if !doc.IsStored() {
		return nil, nil, apperror.NotFound("file", doc.ID)
	}

	content, err := s.files.Get(ctx, doc.FileLocator)
	if err != nil {
		return nil, nil, err
	}
	return doc, content, nil
}

func (s *CaseQueryService) viewableCase(ctx context.Context, caseID uuid.UUID, viewer Identity) (*models.RegistrationCase, error) {
	c, err := s.store.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if viewer.Role.IsStaff() || c.ApplicantID == viewer.AccountID {
		return c, nil
	}
	return nil, apperror.Unauthorized("you cannot access this case")
}

// FindByReference looks a case up by its public reference.
func (s *CaseQueryService) FindByReference(ctx context.Context, reference string, viewer Identity) (*models.RegistrationCase, error) {
	c, err := s.store.FindCaseByReference(ctx, reference)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.NotFound("case", reference)
		}
		return nil, err
	}
	return s.viewableCase(ctx, c.ID, viewer)
}
