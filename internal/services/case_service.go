// internal/services/case_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/export-registry/internal/apperror"
	"github.com/javajoker/export-registry/internal/config"
	"github.com/javajoker/export-registry/internal/events"
	"github.com/javajoker/export-registry/internal/metrics"
	"github.com/javajoker/export-registry/internal/models"
	"github.com/javajoker/export-registry/internal/repository"
	"github.com/javajoker/export-registry/internal/utils"
)

const defaultStorageRetryDelay = 200 * time.Millisecond

// CaseService owns the registration case state machine. Every operation runs
// in one Store transaction; notifications and events follow the commit.
type CaseService struct {
	store    repository.Store
	files    FileStore
	notifier Notifier
	payments PaymentGateway

	refs      *ReferenceGenerator
	validator *CompletenessValidator
	history   *HistoryRecorder

	publisher  events.Publisher
	metrics    *metrics.Metrics
	policy     config.RegistrationConfig
	storage    config.StorageConfig
	retryDelay time.Duration
	now        func() time.Time

	decisionFrom map[models.CaseStatus]bool
	queue        eventQueue
	wg           sync.WaitGroup
}

type CaseServiceOption func(*CaseService)

func WithPublisher(p events.Publisher) CaseServiceOption {
	return func(s *CaseService) { s.publisher = p }
}

func WithMetrics(m *metrics.Metrics) CaseServiceOption {
	return func(s *CaseService) { s.metrics = m }
}

func WithClock(now func() time.Time) CaseServiceOption {
	return func(s *CaseService) { s.now = now }
}

func WithStorageRetryDelay(d time.Duration) CaseServiceOption {
	return func(s *CaseService) { s.retryDelay = d }
}

func NewCaseService(store repository.Store, files FileStore, notifier Notifier, payments PaymentGateway, cfg *config.Config, opts ...CaseServiceOption) *CaseService {
	s := &CaseService{
		store:      store,
		files:      files,
		notifier:   notifier,
		payments:   payments,
		publisher:  events.NoopPublisher{},
		policy:     cfg.Registration,
		storage:    cfg.Storage,
		retryDelay: defaultStorageRetryDelay,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.policy.NotifyTimeout <= 0 {
		s.policy.NotifyTimeout = 10 * time.Second
	}
	if s.storage.MaxAttempts < 1 {
		s.storage.MaxAttempts = 1
	}

	s.decisionFrom = make(map[models.CaseStatus]bool, len(s.policy.DecisionFrom))
	for _, st := range s.policy.DecisionFrom {
		s.decisionFrom[models.CaseStatus(st)] = true
	}
	if len(s.decisionFrom) == 0 {
		s.decisionFrom[models.CaseStatusSubmitted] = true
		s.decisionFrom[models.CaseStatusUnderReview] = true
	}

	s.refs = NewReferenceGenerator(s.policy.ReferenceAttempts)
	s.validator = NewCompletenessValidator(s.metrics)
	s.history = NewHistoryRecorder(store, s.now)
	return s
}

// Wait blocks until queued events and background notifications have finished.
func (s *CaseService) Wait() {
	s.wg.Wait()
}

func (s *CaseService) CreateCase(ctx context.Context, applicantID uuid.UUID, track models.CaseTrack) (c *models.RegistrationCase, err error) {
	defer s.observe("create", &err)

	if track == "" {
		track = models.TrackDeclaration
	}
	if !track.IsValid() {
		return nil, apperror.ValidationFailed(fmt.Sprintf("unknown case track %q", track))
	}

	applicant, err := s.store.GetAccount(ctx, applicantID)
	if err != nil {
		return nil, err
	}
	if applicant.Role != models.RoleExporter {
		return nil, apperror.Unauthorized("only exporters can open a registration case")
	}

	var change *committed
	create := func(tx repository.Store) error {
		if !s.policy.AllowConcurrentCases {
			// Serialises concurrent creations for the same applicant.
			if err := tx.LockAccount(ctx, applicantID); err != nil {
				return err
			}
			active, err := tx.HasActiveCase(ctx, applicantID)
			if err != nil {
				return err
			}
			if active {
				return apperror.Conflict("the applicant already has a registration case in progress").
					With("applicant_id", applicantID.String())
			}
		}

		now := s.now()
		reference, err := s.refs.CaseReference(ctx, tx, track, now)
		if err != nil {
			return err
		}

		c = &models.RegistrationCase{
			ApplicantID:   applicantID,
			Reference:     reference,
			Track:         track,
			Status:        models.CaseStatusDraft,
			Version:       1,
			PaymentAmount: s.policy.FeeAmount,
			PaymentStatus: models.PaymentStatusPending,
		}
		if err := tx.CreateCase(ctx, c); err != nil {
			return err
		}

		entry, err := s.history.Record(ctx, tx, c.ID, "", models.CaseStatusDraft, models.ActionCreation, "", applicantID)
		if err != nil {
			return err
		}
		change = &committed{
			caseID: c.ID, reference: c.Reference, to: models.CaseStatusDraft,
			action: models.ActionCreation, actorID: applicantID, at: entry.CreatedAt,
		}

		return s.touchProfile(ctx, tx, applicantID, func(p *models.ExporterProfile) {
			p.LatestCaseID = &c.ID
		})
	}
	if err = s.withinTxRetryingCollision(ctx, "create", create); err != nil {
		return nil, err
	}

	s.afterCommit(ctx, change, s.notice(c, applicantID, models.NoticeCaseCreated, nil))
	return c, nil
}

// SubmitCase runs the fail-fast completeness check and moves DRAFT to SUBMITTED.
func (s *CaseService) SubmitCase(ctx context.Context, caseID, callerID uuid.UUID) (c *models.RegistrationCase, err error) {
	defer s.observe("submit", &err)

	var change *committed
	err = s.store.WithinTx(ctx, func(tx repository.Store) error {
		c, err = tx.GetCase(ctx, caseID)
		if err != nil {
			return err
		}
		if c.ApplicantID != callerID {
			return apperror.Unauthorized("only the case owner can submit it")
		}
		if c.Status != models.CaseStatusDraft {
			return apperror.InvalidState("case", c.ID, string(c.Status), string(models.CaseStatusDraft))
		}

		products, err := tx.ListProductsByApplicant(ctx, c.ApplicantID)
		if err != nil {
			return err
		}
		documents, err := tx.ListDocumentsByCase(ctx, c.ID)
		if err != nil {
			return err
		}
		if err := s.validator.Validate(products, documents); err != nil {
			return err
		}

		now := s.now()
		c.SubmittedAt = &now
		change, err = s.transition(ctx, tx, c, models.CaseStatusSubmitted, models.ActionSubmission, callerID, "")
		if err != nil {
			return err
		}

		return s.touchProfile(ctx, tx, c.ApplicantID, func(p *models.ExporterProfile) {
			if p.ApprovalStatus != models.ApprovalStatusApproved {
				p.ApprovalStatus = models.ApprovalStatusPending
			}
		})
	})
	if err != nil {
		return nil, err
	}

	s.afterCommit(ctx, change, s.notice(c, c.ApplicantID, models.NoticeCaseSubmitted, nil))
	return c, nil
}

type UploadDocumentInput struct {
	CaseID       uuid.UUID
	ApplicantID  uuid.UUID
	ProductID    *uuid.UUID
	DocumentType models.DocumentType
	FileName     string
	MimeType     string
	Content      []byte
}

// UploadDocument writes the file first and commits its metadata second. A
// failed commit deletes the file again; a failed delete leaves a logged and
// counted orphan for operators to collect.
func (s *CaseService) UploadDocument(ctx context.Context, in UploadDocumentInput) (doc *models.Document, err error) {
	defer s.observe("upload", &err)

	if err := s.checkUpload(in); err != nil {
		return nil, err
	}

	c, err := s.store.GetCase(ctx, in.CaseID)
	if err != nil {
		return nil, err
	}
	if c.ApplicantID != in.ApplicantID {
		return nil, apperror.Unauthorized("documents can only be added by the case owner")
	}
	if c.Status != models.CaseStatusDraft {
		return nil, apperror.InvalidState("case", c.ID, string(c.Status), string(models.CaseStatusDraft))
	}
	if in.ProductID != nil {
		product, err := s.store.GetProduct(ctx, *in.ProductID)
		if err != nil {
			return nil, err
		}
		if product.ApplicantID != in.ApplicantID {
			return nil, apperror.Unauthorized("the product belongs to another applicant")
		}
	}

	mimeType := in.MimeType
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(in.Content)
	}

	locator, err := s.putWithRetry(ctx, DocumentKey(c.ID, in.ProductID, in.FileName), in.Content, mimeType)
	if err != nil {
		return nil, err
	}

	caseID := c.ID
	doc = &models.Document{
		ApplicantID:  in.ApplicantID,
		CaseID:       &caseID,
		ProductID:    in.ProductID,
		DocumentType: in.DocumentType,
		Status:       models.DocumentStatusPending,
		FileName:     filepath.Base(in.FileName),
		FileLocator:  locator,
		MimeType:     mimeType,
		FileSize:     int64(len(in.Content)),
		Checksum:     utils.HashBytes(in.Content),
		UploadedAt:   s.now(),
	}

	err = s.store.WithinTx(ctx, func(tx repository.Store) error {
		// The case may have been submitted while the file was being written.
		current, err := tx.GetCase(ctx, caseID)
		if err != nil {
			return err
		}
		if current.Status != models.CaseStatusDraft {
			return apperror.InvalidState("case", caseID, string(current.Status), string(models.CaseStatusDraft))
		}
		return tx.CreateDocument(ctx, doc)
	})
	if err != nil {
		s.discardOrphan(ctx, caseID, locator, err)
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"case_id":       caseID,
		"document_id":   doc.ID,
		"document_type": doc.DocumentType,
		"size":          doc.FileSize,
	}).Info("Document uploaded")
	return doc, nil
}

func (s *CaseService) checkUpload(in UploadDocumentInput) error {
	if !in.DocumentType.IsValid() {
		return apperror.ValidationFailed(fmt.Sprintf("unknown document type %q", in.DocumentType)).
			With("document_type", string(in.DocumentType))
	}
	if strings.TrimSpace(in.FileName) == "" {
		return apperror.ValidationFailed("file name is required")
	}
	if len(in.Content) == 0 {
		return apperror.ValidationFailed("the uploaded file is empty")
	}
	if s.storage.MaxFileSize > 0 && int64(len(in.Content)) > s.storage.MaxFileSize {
		return apperror.ValidationFailed(fmt.Sprintf("file size %d bytes exceeds maximum allowed size %d bytes", len(in.Content), s.storage.MaxFileSize))
	}
	if len(s.storage.AllowedTypes) > 0 {
		ext := strings.ToLower(filepath.Ext(in.FileName))
		allowed := false
		for _, allowedType := range s.storage.AllowedTypes {
			if ext == allowedType {
				allowed = true
				break
			}
		}
		if !allowed {
			return apperror.ValidationFailed(fmt.Sprintf("file type %s is not allowed", ext))
		}
	}
	return nil
}

func (s *CaseService) putWithRetry(ctx context.Context, key string, content []byte, mimeType string) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= s.storage.MaxAttempts; attempt++ {
		locator, err := s.files.Put(ctx, key, content, mimeType)
		if err == nil {
			return locator, nil
		}
		lastErr = err
		if !apperror.IsRetryable(err) || attempt == s.storage.MaxAttempts {
			break
		}

		logrus.WithFields(logrus.Fields{
			"key":     key,
			"attempt": attempt,
		}).WithError(err).Warn("File write failed, retrying")

		select {
		case <-ctx.Done():
			return "", apperror.StorageFailure(ctx.Err(), "put")
		case <-time.After(s.retryDelay * time.Duration(attempt)):
		}
	}
	if _, ok := apperror.As(lastErr); !ok {
		lastErr = apperror.StorageFailure(lastErr, "put")
	}
	return "", lastErr
}

func (s *CaseService) discardOrphan(ctx context.Context, caseID uuid.UUID, locator string, cause error) {
	logger := logrus.WithFields(logrus.Fields{
		"case_id": caseID,
		"locator": locator,
	})
	if err := s.files.Delete(context.WithoutCancel(ctx), locator); err != nil {
		s.metrics.OrphanedFile()
		logger.WithError(err).WithField("cause", cause.Error()).Error("Orphaned document file left in storage")
		return
	}
	logger.WithError(cause).Warn("Document metadata not saved, file removed")
}

// AssignCase hands a case awaiting review to an agent. A paid case enters
// review immediately.
func (s *CaseService) AssignCase(ctx context.Context, caseID, agentID, assignedBy uuid.UUID) (c *models.RegistrationCase, err error) {
	defer s.observe("assign", &err)

	agent, err := s.store.GetAccount(ctx, agentID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.NotFound("agent", agentID)
		}
		return nil, err
	}
	if agent.Role != models.RoleAgent {
		return nil, apperror.NotFound("agent", agentID)
	}
	if agent.Status != models.AccountStatusActive {
		return nil, apperror.ValidationFailed("the agent account is suspended")
	}

	var change *committed
	err = s.store.WithinTx(ctx, func(tx repository.Store) error {
		c, err = tx.GetCase(ctx, caseID)
		if err != nil {
			return err
		}
		if !c.Status.AwaitingReview() {
			return apperror.InvalidState("case", c.ID, string(c.Status), statusNames(
				models.CaseStatusSubmitted, models.CaseStatusPaid, models.CaseStatusUnderReview, models.CaseStatusPendingInfo)...)
		}

		c.AssignedAgentID = &agentID
		to := c.Status
		if to == models.CaseStatusPaid {
			to = models.CaseStatusUnderReview
		}
		change, err = s.transition(ctx, tx, c, to, models.ActionAssignment, assignedBy, "assigned to "+agent.DisplayName)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.afterCommit(ctx, change, s.notice(c, agentID, models.NoticeCaseAssigned, nil))
	return c, nil
}

// ValidateDocument records an agent's verdict on one document. It never moves the case.
func (s *CaseService) ValidateDocument(ctx context.Context, documentID, agentID uuid.UUID, comment string, accept bool) (doc *models.Document, err error) {
	defer s.observe("validate_document", &err)

	var c *models.RegistrationCase
	err = s.store.WithinTx(ctx, func(tx repository.Store) error {
		doc, err = tx.GetDocument(ctx, documentID)
		if err != nil {
			return err
		}
		if doc.CaseID == nil {
			return apperror.InvalidState("document", doc.ID, "UNATTACHED")
		}
		c, err = tx.GetCase(ctx, *doc.CaseID)
		if err != nil {
			return err
		}
		if c.Status == models.CaseStatusDraft || c.Status.IsTerminal() {
			return apperror.InvalidState("case", c.ID, string(c.Status), statusNames(
				models.CaseStatusSubmitted, models.CaseStatusPendingPayment, models.CaseStatusPaid,
				models.CaseStatusUnderReview, models.CaseStatusPendingInfo)...)
		}

		now := s.now()
		doc.Status = models.DocumentStatusRejected
		if accept {
			doc.Status = models.DocumentStatusValid
		}
		doc.ValidationComment = comment
		doc.ValidatedBy = &agentID
		doc.ValidatedAt = &now
		return tx.UpdateDocument(ctx, doc)
	})
	if err != nil {
		return nil, err
	}

	s.afterCommit(ctx, nil, s.notice(c, c.ApplicantID, models.NoticeDocumentReviewed, map[string]string{
		"document_type": string(doc.DocumentType),
		"status":        string(doc.Status),
		"comment":       comment,
	}))
	return doc, nil
}

// Decide approves or rejects a case. Two concurrent decisions race on the
// case version and only one commits; the other gets Conflict.
func (s *CaseService) Decide(ctx context.Context, caseID, agentID uuid.UUID, approve bool, comment string) (c *models.RegistrationCase, err error) {
	defer s.observe("decide", &err)

	var change *committed
	decide := func(tx repository.Store) error {
		c, err = tx.GetCase(ctx, caseID)
		if err != nil {
			return err
		}
		if !s.decisionFrom[c.Status] {
			return apperror.InvalidState("case", c.ID, string(c.Status), s.decisionEntryStates()...)
		}

		now := s.now()
		c.DecisionDate = &now
		c.DecisionComment = comment
		c.DecidedBy = &agentID

		to := models.CaseStatusRejected
		historyComment := comment
		if approve {
			number, err := s.refs.ApprovalNumber(ctx, tx, now)
			if err != nil {
				return err
			}
			day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
			c.ApprovalNumber = &number
			c.ApprovalDate = &day
			to = models.CaseStatusApproved
			historyComment = strings.TrimSpace("Approval number " + number + ". " + comment)
		}

		change, err = s.transition(ctx, tx, c, to, models.ActionDecision, agentID, historyComment)
		if err != nil {
			return err
		}

		return s.touchProfile(ctx, tx, c.ApplicantID, func(p *models.ExporterProfile) {
			if approve {
				p.ApprovalStatus = models.ApprovalStatusApproved
				p.ApprovalNumber = c.ApprovalNumber
				p.ApprovalDate = c.ApprovalDate
				return
			}
			if p.ApprovalNumber == nil {
				p.ApprovalStatus = models.ApprovalStatusRejected
			}
		})
	}
	if err = s.withinTxRetryingCollision(ctx, "decide", decide); err != nil {
		return nil, err
	}

	kind := models.NoticeCaseRejected
	params := map[string]string{"comment": comment}
	if approve {
		kind = models.NoticeCaseApproved
		params["approval_number"] = *c.ApprovalNumber
	}
	s.afterCommit(ctx, change, s.notice(c, c.ApplicantID, kind, params))
	return c, nil
}

func (s *CaseService) decisionEntryStates() []string {
	var states []string
	for _, st := range models.AllCaseStatuses() {
		if s.decisionFrom[st] {
			states = append(states, string(st))
		}
	}
	return states
}

// RequestAdditionalInfo parks the case in PENDING_INFO until the applicant
// answers. The listed documents must belong to the case; their status is left alone.
func (s *CaseService) RequestAdditionalInfo(ctx context.Context, caseID, agentID uuid.UUID, message string, documentIDs []uuid.UUID) (c *models.RegistrationCase, err error) {
	defer s.observe("request_info", &err)

	if strings.TrimSpace(message) == "" {
		return nil, apperror.ValidationFailed("a message describing the missing information is required")
	}

	var change *committed
	err = s.store.WithinTx(ctx, func(tx repository.Store) error {
		c, err = tx.GetCase(ctx, caseID)
		if err != nil {
			return err
		}
		if !s.acceptsInfoRequest(c.Status) {
			expected := []models.CaseStatus{models.CaseStatusUnderReview}
			if s.decisionFrom[models.CaseStatusSubmitted] {
				expected = append([]models.CaseStatus{models.CaseStatusSubmitted}, expected...)
			}
			return apperror.InvalidState("case", c.ID, string(c.Status), statusNames(expected...)...)
		}

		ids := make([]string, 0, len(documentIDs))
		for _, id := range documentIDs {
			doc, err := tx.GetDocument(ctx, id)
			if err != nil && !errors.Is(err, apperror.ErrNotFound) {
				return err
			}
			if err != nil || doc.CaseID == nil || *doc.CaseID != c.ID {
				return apperror.ValidationFailed(fmt.Sprintf("document %s does not belong to case %s", id, c.Reference)).
					With("document_id", id.String())
			}
			ids = append(ids, id.String())
		}

		if err := tx.CreateInfoRequest(ctx, &models.InfoRequest{
			CaseID:      c.ID,
			AgentID:     agentID,
			Message:     message,
			DocumentIDs: ids,
		}); err != nil {
			return err
		}

		change, err = s.transition(ctx, tx, c, models.CaseStatusPendingInfo, models.ActionInfoRequest, agentID, message)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.afterCommit(ctx, change, s.notice(c, c.ApplicantID, models.NoticeInfoRequested, map[string]string{"comment": message}))
	return c, nil
}

func (s *CaseService) acceptsInfoRequest(status models.CaseStatus) bool {
	return status == models.CaseStatusUnderReview ||
		(status == models.CaseStatusSubmitted && s.decisionFrom[models.CaseStatusSubmitted])
}

// RespondToInfoRequest returns a PENDING_INFO case to its reviewer.
func (s *CaseService) RespondToInfoRequest(ctx context.Context, caseID, applicantID uuid.UUID, comment string) (c *models.RegistrationCase, err error) {
	defer s.observe("respond_info", &err)

	var change *committed
	err = s.store.WithinTx(ctx, func(tx repository.Store) error {
		c, err = tx.GetCase(ctx, caseID)
		if err != nil {
			return err
		}
		if c.ApplicantID != applicantID {
			return apperror.Unauthorized("only the case owner can answer an information request")
		}
		if c.Status != models.CaseStatusPendingInfo {
			return apperror.InvalidState("case", c.ID, string(c.Status), string(models.CaseStatusPendingInfo))
		}

		if _, err := tx.ResolveInfoRequests(ctx, c.ID, s.now()); err != nil {
			return err
		}
		change, err = s.transition(ctx, tx, c, models.CaseStatusUnderReview, models.ActionInfoResponse, applicantID, comment)
		return err
	})
	if err != nil {
		return nil, err
	}

	var notices []Notice
	if c.AssignedAgentID != nil {
		notices = append(notices, s.notice(c, *c.AssignedAgentID, models.NoticeInfoProvided, map[string]string{"comment": comment}))
	}
	s.afterCommit(ctx, change, notices...)
	return c, nil
}

// StartReview lets the assigned agent open a paid case.
func (s *CaseService) StartReview(ctx context.Context, caseID, agentID uuid.UUID) (c *models.RegistrationCase, err error) {
	defer s.observe("start_review", &err)

	var change *committed
	err = s.store.WithinTx(ctx, func(tx repository.Store) error {
		c, err = tx.GetCase(ctx, caseID)
		if err != nil {
			return err
		}
		if c.Status != models.CaseStatusPaid {
			return apperror.InvalidState("case", c.ID, string(c.Status), string(models.CaseStatusPaid))
		}
		if !c.IsAssignedTo(agentID) {
			return apperror.Unauthorized("only the assigned agent can start the review")
		}
		change, err = s.transition(ctx, tx, c, models.CaseStatusUnderReview, models.ActionReviewStart, agentID, "")
		return err
	})
	if err != nil {
		return nil, err
	}

	s.afterCommit(ctx, change)
	return c, nil
}

// SuspendCase is the administrative override available from every active state.
func (s *CaseService) SuspendCase(ctx context.Context, caseID, adminID uuid.UUID, reason string) (c *models.RegistrationCase, err error) {
	defer s.observe("suspend", &err)

	var change *committed
	err = s.store.WithinTx(ctx, func(tx repository.Store) error {
		c, err = tx.GetCase(ctx, caseID)
		if err != nil {
			return err
		}
		if c.Status.IsTerminal() {
			return apperror.InvalidState("case", c.ID, string(c.Status), statusNames(models.ActiveCaseStatuses()...)...)
		}
		change, err = s.transition(ctx, tx, c, models.CaseStatusSuspended, models.ActionSuspension, adminID, reason)
		return err
	})
	if err != nil {
		return nil, err
	}

	notices := []Notice{s.notice(c, c.ApplicantID, models.NoticeCaseSuspended, map[string]string{"comment": reason})}
	if c.AssignedAgentID != nil {
		notices = append(notices, s.notice(c, *c.AssignedAgentID, models.NoticeCaseSuspended, map[string]string{"comment": reason}))
	}
	s.afterCommit(ctx, change, notices...)
	return c, nil
}

// touchProfile applies fn to the applicant's exporter profile inside tx.
// Accounts created before profiles existed are skipped.
func (s *CaseService) touchProfile(ctx context.Context, tx repository.Store, applicantID uuid.UUID, fn func(*models.ExporterProfile)) error {
	profile, err := tx.GetProfile(ctx, applicantID)
	if errors.Is(err, apperror.ErrNotFound) {
		logrus.WithField("applicant_id", applicantID).Warn("Applicant has no exporter profile")
		return nil
	}
	if err != nil {
		return err
	}
	fn(profile)
	return tx.UpdateProfile(ctx, profile)
}
