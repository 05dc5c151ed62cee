package services

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/javajoker/export-registry/internal/apperror"
	"github.com/javajoker/export-registry/internal/events"
	"github.com/javajoker/export-registry/internal/metrics"
	"github.com/javajoker/export-registry/internal/models"
	"github.com/javajoker/export-registry/internal/repository"
	"github.com/javajoker/export-registry/internal/repository/repositorytest"
)

type CaseServiceTestSuite struct {
	suite.Suite
	ctx      context.Context
	store    *repositorytest.MemStore
	files    *memFiles
	notifier *recordingNotifier
	gateway  *fakeGateway
	registry *prometheus.Registry
	svc      *CaseService

	exporter *models.Account
	agent    *models.Account
	admin    *models.Account
}

func TestCaseServiceTestSuite(t *testing.T) {
	suite.Run(t, new(CaseServiceTestSuite))
}

func (s *CaseServiceTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = repositorytest.New()
	s.files = newMemFiles()
	s.notifier = &recordingNotifier{}
	s.gateway = newFakeGateway()
	s.registry = prometheus.NewRegistry()
	s.svc = NewCaseService(s.store, s.files, s.notifier, s.gateway, testConfig(),
		WithMetrics(metrics.New(s.registry)),
		WithStorageRetryDelay(time.Millisecond),
	)

	s.exporter = seedExporter(s.T(), s.store)
	s.agent = seedAccount(s.T(), s.store, models.RoleAgent, "agent")
	s.admin = seedAccount(s.T(), s.store, models.RoleAdmin, "admin")
}

func (s *CaseServiceTestSuite) TearDownTest() {
	s.svc.Wait()
}

func (s *CaseServiceTestSuite) draft() *models.RegistrationCase {
	c, err := s.svc.CreateCase(s.ctx, s.exporter.ID, models.TrackDeclaration)
	s.Require().NoError(err)
	return c
}

// submitted returns a SUBMITTED case over one complete food declaration.
func (s *CaseServiceTestSuite) submitted() *models.RegistrationCase {
	food := seedProduct(s.T(), s.store, s.exporter.ID, models.ProductTypeFood, false)
	c := s.draft()
	uploadRequired(s.T(), s.svc, c, food)
	c, err := s.svc.SubmitCase(s.ctx, c.ID, s.exporter.ID)
	s.Require().NoError(err)
	return c
}

func (s *CaseServiceTestSuite) history(caseID uuid.UUID) []models.CaseHistoryEntry {
	entries, err := s.svc.history.List(s.ctx, caseID)
	s.Require().NoError(err)
	return entries
}

func (s *CaseServiceTestSuite) profile() *models.ExporterProfile {
	p, err := s.store.GetProfile(s.ctx, s.exporter.ID)
	s.Require().NoError(err)
	return p
}

func (s *CaseServiceTestSuite) counter(name string) float64 {
	return counterValue(s.T(), s.registry, name)
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()

	families, err := reg.Gather()
	require.NoError(t, err)
	var total float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func countActions(entries []models.CaseHistoryEntry, action models.HistoryAction) int {
	n := 0
	for _, e := range entries {
		if e.Action == action {
			n++
		}
	}
	return n
}

// Creation

func (s *CaseServiceTestSuite) TestCreateCase() {
	c := s.draft()

	s.Regexp(referencePattern, c.Reference)
	s.True(strings.HasPrefix(c.Reference, "DEC-"))
	s.Equal(models.CaseStatusDraft, c.Status)
	s.Nil(c.SubmittedAt)
	s.Equal(int64(15000), c.PaymentAmount)

	entries := s.history(c.ID)
	s.Require().Len(entries, 1)
	s.Equal(models.ActionCreation, entries[0].Action)
	s.Equal(models.CaseStatusDraft, entries[0].NewStatus)
	s.Equal(s.exporter.ID, entries[0].ActorID)

	s.Equal(&c.ID, s.profile().LatestCaseID)
	s.Zero(s.counter("export_registry_case_transitions_total"))

	s.svc.Wait()
	s.Equal([]models.NotificationKind{models.NoticeCaseCreated}, s.notifier.kinds())
}

func (s *CaseServiceTestSuite) TestCreateCase_DossierTrack() {
	c, err := s.svc.CreateCase(s.ctx, s.exporter.ID, models.TrackDossier)
	s.Require().NoError(err)
	s.True(strings.HasPrefix(c.Reference, "DOS-"))
}

func (s *CaseServiceTestSuite) TestCreateCase_OneActiveCasePerApplicant() {
	s.draft()

	_, err := s.svc.CreateCase(s.ctx, s.exporter.ID, models.TrackDeclaration)
	s.ErrorIs(err, apperror.ErrConflict)
	s.Equal(float64(1), s.counter("export_registry_case_operations_rejected_total"))

	cfg := testConfig()
	cfg.Registration.AllowConcurrentCases = true
	relaxed := NewCaseService(s.store, s.files, s.notifier, s.gateway, cfg)
	defer relaxed.Wait()
	_, err = relaxed.CreateCase(s.ctx, s.exporter.ID, models.TrackDeclaration)
	s.NoError(err)
}

// lockGateStore lets every transaction reach the applicant lock before any of
// them takes it, so concurrent creations really overlap.
type lockGateStore struct {
	*repositorytest.MemStore
	gate *sync.WaitGroup
}

func (b *lockGateStore) WithinTx(ctx context.Context, fn func(tx repository.Store) error) error {
	return b.MemStore.WithinTx(ctx, func(tx repository.Store) error {
		return fn(&lockGateTx{Store: tx, gate: b.gate})
	})
}

type lockGateTx struct {
	repository.Store
	gate *sync.WaitGroup
	once sync.Once
}

func (t *lockGateTx) LockAccount(ctx context.Context, id uuid.UUID) error {
	t.once.Do(func() {
		t.gate.Done()
		t.gate.Wait()
	})
	return t.Store.LockAccount(ctx, id)
}

func (s *CaseServiceTestSuite) TestCreateCase_ConcurrentCreationsOneWinner() {
	gate := &sync.WaitGroup{}
	gate.Add(2)
	racing := NewCaseService(&lockGateStore{MemStore: s.store, gate: gate}, s.files, s.notifier, s.gateway, testConfig())
	defer racing.Wait()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = racing.CreateCase(s.ctx, s.exporter.ID, models.TrackDeclaration)
		}(i)
	}
	wg.Wait()

	var wins, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case assert.ErrorIs(s.T(), err, apperror.ErrConflict):
			conflicts++
		}
	}
	s.Equal(1, wins)
	s.Equal(1, conflicts)

	applicantID := s.exporter.ID
	_, total, err := s.store.ListCases(s.ctx, repository.CaseFilter{ApplicantID: &applicantID}, repository.Page{Page: 1, Limit: 10})
	s.Require().NoError(err)
	s.Equal(int64(1), total)
}

// staleExistsStore answers every existence check with false, like a
// concurrent writer committing between the check and the insert.
type staleExistsStore struct {
	*repositorytest.MemStore
}

func (b *staleExistsStore) WithinTx(ctx context.Context, fn func(tx repository.Store) error) error {
	return b.MemStore.WithinTx(ctx, func(tx repository.Store) error {
		return fn(&staleExistsTx{Store: tx})
	})
}

type staleExistsTx struct {
	repository.Store
}

func (staleExistsTx) ExistsByReference(context.Context, string) (bool, error) { return false, nil }

func (staleExistsTx) ExistsByApprovalNumber(context.Context, string) (bool, error) { return false, nil }

func scriptedRandom(values ...string) func(int, string) (string, error) {
	var mu sync.Mutex
	return func(int, string) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		v := values[0]
		if len(values) > 1 {
			values = values[1:]
		}
		return v, nil
	}
}

func (s *CaseServiceTestSuite) TestCreateCase_ReferenceCollisionAtCommitIsRetried() {
	day := time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)
	taken := &models.RegistrationCase{
		ApplicantID: uuid.New(),
		Reference:   "DEC-20250314-AAAAAAAA",
		Track:       models.TrackDeclaration,
		Status:      models.CaseStatusApproved,
	}
	s.Require().NoError(s.store.CreateCase(s.ctx, taken))

	err := s.store.CreateCase(s.ctx, &models.RegistrationCase{ApplicantID: uuid.New(), Reference: taken.Reference})
	s.ErrorIs(err, apperror.ErrConflict)
	s.True(apperror.IsRetryable(err))

	svc := NewCaseService(&staleExistsStore{MemStore: s.store}, s.files, s.notifier, s.gateway, testConfig(),
		WithClock(func() time.Time { return day }))
	defer svc.Wait()
	svc.refs.random = scriptedRandom("AAAAAAAA", "BBBBBBBB")

	c, err := svc.CreateCase(s.ctx, s.exporter.ID, models.TrackDeclaration)
	s.Require().NoError(err)
	s.Equal("DEC-20250314-BBBBBBBB", c.Reference)
	s.Len(s.history(c.ID), 1)
}

func (s *CaseServiceTestSuite) TestApprove_NumberCollisionAtCommitIsRetried() {
	first := s.submitted()
	_, err := s.svc.Decide(s.ctx, first.ID, s.agent.ID, true, "")
	s.Require().NoError(err)
	issued, _ := s.store.GetCase(s.ctx, first.ID)

	other := seedExporter(s.T(), s.store)
	second := &models.RegistrationCase{
		ApplicantID: other.ID,
		Reference:   "DEC-20250314-CCCCCCCC",
		Track:       models.TrackDeclaration,
		Status:      models.CaseStatusSubmitted,
	}
	s.Require().NoError(s.store.CreateCase(s.ctx, second))

	svc := NewCaseService(&staleExistsStore{MemStore: s.store}, s.files, s.notifier, s.gateway, testConfig())
	defer svc.Wait()
	digits := strings.TrimPrefix(*issued.ApprovalNumber, fmt.Sprintf("AGR-%04d-", issued.ApprovalDate.Year()))
	svc.refs.random = scriptedRandom(digits, "000001")

	c, err := svc.Decide(s.ctx, second.ID, s.agent.ID, true, "")
	s.Require().NoError(err)
	s.NotEqual(*issued.ApprovalNumber, *c.ApprovalNumber)
	s.True(strings.HasSuffix(*c.ApprovalNumber, "-000001"))
	s.Equal(1, countActions(s.history(second.ID), models.ActionDecision))
}

func (s *CaseServiceTestSuite) TestClockIsSharedWithHistory() {
	day := time.Date(2025, 3, 14, 10, 30, 0, 0, time.UTC)
	svc := NewCaseService(s.store, s.files, s.notifier, s.gateway, testConfig(),
		WithClock(func() time.Time { return day }))
	defer svc.Wait()

	food := seedProduct(s.T(), s.store, s.exporter.ID, models.ProductTypeFood, false)
	c, err := svc.CreateCase(s.ctx, s.exporter.ID, models.TrackDeclaration)
	s.Require().NoError(err)
	uploadRequired(s.T(), svc, c, food)
	c, err = svc.SubmitCase(s.ctx, c.ID, s.exporter.ID)
	s.Require().NoError(err)

	s.Require().NotNil(c.SubmittedAt)
	s.True(c.SubmittedAt.Equal(day))
	for _, entry := range s.history(c.ID) {
		s.True(entry.CreatedAt.Equal(day), "%s stamped %s", entry.Action, entry.CreatedAt)
	}
}

func (s *CaseServiceTestSuite) TestCreateCase_OnlyExporters() {
	_, err := s.svc.CreateCase(s.ctx, s.agent.ID, models.TrackDeclaration)
	s.ErrorIs(err, apperror.ErrUnauthorized)

	_, err = s.svc.CreateCase(s.ctx, uuid.New(), models.TrackDeclaration)
	s.ErrorIs(err, apperror.ErrNotFound)

	_, err = s.svc.CreateCase(s.ctx, s.exporter.ID, models.CaseTrack("express"))
	s.ErrorIs(err, apperror.ErrValidationFailed)
}

// Submission

func (s *CaseServiceTestSuite) TestSubmit_Scenario() {
	food := seedProduct(s.T(), s.store, s.exporter.ID, models.ProductTypeFood, false)
	c := s.draft()
	docs := uploadRequired(s.T(), s.svc, c, food)
	s.Require().Len(docs, 10)

	c, err := s.svc.SubmitCase(s.ctx, c.ID, s.exporter.ID)
	s.Require().NoError(err)

	s.Equal(models.CaseStatusSubmitted, c.Status)
	s.NotNil(c.SubmittedAt)

	entries := s.history(c.ID)
	s.Require().Len(entries, 2)
	s.Equal(models.ActionSubmission, entries[0].Action)
	s.Equal(models.CaseStatusDraft, entries[0].OldStatus)
	s.Equal(models.CaseStatusSubmitted, entries[0].NewStatus)
	s.Equal(1, countActions(entries, models.ActionSubmission))

	attached, err := s.store.ListDocumentsByCase(s.ctx, c.ID)
	s.Require().NoError(err)
	s.Len(attached, 10)
	for _, d := range attached {
		s.Equal(models.DocumentStatusPending, d.Status)
	}

	s.Equal(models.ApprovalStatusPending, s.profile().ApprovalStatus)
	s.Equal(float64(1), s.counter("export_registry_case_transitions_total"))
}

func (s *CaseServiceTestSuite) TestSubmit_MissingFoodDocumentStaysDraft() {
	food := seedProduct(s.T(), s.store, s.exporter.ID, models.ProductTypeFood, false)
	c := s.draft()
	for _, docType := range RequiredDocuments(food.ProductType, false)[:9] {
		productID := food.ID
		_, err := s.svc.UploadDocument(s.ctx, UploadDocumentInput{
			CaseID: c.ID, ApplicantID: s.exporter.ID, ProductID: &productID,
			DocumentType: docType, FileName: "scan.pdf", Content: []byte("%PDF"),
		})
		s.Require().NoError(err)
	}

	_, err := s.svc.SubmitCase(s.ctx, c.ID, s.exporter.ID)
	s.Require().ErrorIs(err, apperror.ErrValidationFailed)
	appErr, _ := apperror.As(err)
	s.Equal(string(models.DocProductSheets), appErr.Details["document_type"])

	stored, err := s.store.GetCase(s.ctx, c.ID)
	s.Require().NoError(err)
	s.Equal(models.CaseStatusDraft, stored.Status)
	s.Nil(stored.SubmittedAt)
	s.Len(s.history(c.ID), 1)
	s.Equal(models.ApprovalStatusNone, s.profile().ApprovalStatus)
}

func (s *CaseServiceTestSuite) TestSubmit_WithoutProducts() {
	c := s.draft()
	_, err := s.svc.SubmitCase(s.ctx, c.ID, s.exporter.ID)
	s.ErrorIs(err, apperror.ErrValidationFailed)
}

func (s *CaseServiceTestSuite) TestSubmit_IndustrialNeedsOnlyConformity() {
	industrial := seedProduct(s.T(), s.store, s.exporter.ID, models.ProductTypeIndustrial, true)
	c := s.draft()
	docs := uploadRequired(s.T(), s.svc, c, industrial)
	s.Require().Len(docs, 1)

	c, err := s.svc.SubmitCase(s.ctx, c.ID, s.exporter.ID)
	s.Require().NoError(err)
	s.Equal(models.CaseStatusSubmitted, c.Status)
}

func (s *CaseServiceTestSuite) TestSubmit_Twice() {
	c := s.submitted()

	_, err := s.svc.SubmitCase(s.ctx, c.ID, s.exporter.ID)
	s.Require().ErrorIs(err, apperror.ErrInvalidState)
	appErr, _ := apperror.As(err)
	s.Equal(string(models.CaseStatusSubmitted), appErr.Details["actual_state"])
	s.Equal(1, countActions(s.history(c.ID), models.ActionSubmission))
}

func (s *CaseServiceTestSuite) TestSubmit_OnlyOwner() {
	c := s.draft()
	_, err := s.svc.SubmitCase(s.ctx, c.ID, s.agent.ID)
	s.ErrorIs(err, apperror.ErrUnauthorized)
}

// Uploads

func (s *CaseServiceTestSuite) TestUpload_Refusals() {
	c := s.draft()
	other := seedExporter(s.T(), s.store)
	foreign := seedProduct(s.T(), s.store, other.ID, models.ProductTypeIndustrial, false)
	foreignID := foreign.ID
	missingID := uuid.New()

	base := UploadDocumentInput{
		CaseID: c.ID, ApplicantID: s.exporter.ID, DocumentType: models.DocOfficialLetter,
		FileName: "letter.pdf", Content: []byte("%PDF"),
	}
	cases := []struct {
		name   string
		mutate func(*UploadDocumentInput)
		want   error
	}{
		{"unknown type", func(in *UploadDocumentInput) { in.DocumentType = "PASSPORT" }, apperror.ErrValidationFailed},
		{"empty content", func(in *UploadDocumentInput) { in.Content = nil }, apperror.ErrValidationFailed},
		{"too large", func(in *UploadDocumentInput) { in.Content = make([]byte, 2<<20) }, apperror.ErrValidationFailed},
		{"extension", func(in *UploadDocumentInput) { in.FileName = "letter.exe" }, apperror.ErrValidationFailed},
		{"missing name", func(in *UploadDocumentInput) { in.FileName = " " }, apperror.ErrValidationFailed},
		{"unknown case", func(in *UploadDocumentInput) { in.CaseID = uuid.New() }, apperror.ErrNotFound},
		{"not owner", func(in *UploadDocumentInput) { in.ApplicantID = other.ID }, apperror.ErrUnauthorized},
		{"foreign product", func(in *UploadDocumentInput) { in.ProductID = &foreignID }, apperror.ErrUnauthorized},
		{"unknown product", func(in *UploadDocumentInput) { in.ProductID = &missingID }, apperror.ErrNotFound},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			in := base
			tc.mutate(&in)
			_, err := s.svc.UploadDocument(s.ctx, in)
			s.ErrorIs(err, tc.want)
		})
	}
	s.Equal(0, s.files.count())
}

func (s *CaseServiceTestSuite) TestUpload_OnlyInDraft() {
	c := s.submitted()
	_, err := s.svc.UploadDocument(s.ctx, UploadDocumentInput{
		CaseID: c.ID, ApplicantID: s.exporter.ID, DocumentType: models.DocOfficialLetter,
		FileName: "late.pdf", Content: []byte("%PDF"),
	})
	s.ErrorIs(err, apperror.ErrInvalidState)
}

func (s *CaseServiceTestSuite) TestUpload_DetectsMimeType() {
	c := s.draft()
	doc, err := s.svc.UploadDocument(s.ctx, UploadDocumentInput{
		CaseID: c.ID, ApplicantID: s.exporter.ID, DocumentType: models.DocOfficialLetter,
		FileName: "../../letter.pdf", Content: []byte("%PDF-1.7 body"),
	})
	s.Require().NoError(err)
	s.Equal("application/pdf", doc.MimeType)
	s.Equal("letter.pdf", doc.FileName)
	s.True(strings.HasPrefix(doc.FileLocator, "documents/"+c.ID.String()+"/global/"))
	s.Nil(doc.ProductID)
	s.Len(doc.Checksum, 64)
}

func (s *CaseServiceTestSuite) TestUpload_RetriesStorageFailure() {
	c := s.draft()
	s.files.putErrs = []error{
		apperror.StorageFailure(errBoom, "put"),
		apperror.StorageFailure(errBoom, "put"),
	}

	doc, err := s.svc.UploadDocument(s.ctx, UploadDocumentInput{
		CaseID: c.ID, ApplicantID: s.exporter.ID, DocumentType: models.DocOfficialLetter,
		FileName: "letter.pdf", Content: []byte("%PDF"),
	})
	s.Require().NoError(err)
	s.Equal(3, s.files.puts)
	s.True(doc.IsStored())
}

func (s *CaseServiceTestSuite) TestUpload_StorageExhausted() {
	c := s.draft()
	s.files.putErrs = []error{
		apperror.StorageFailure(errBoom, "put"),
		apperror.StorageFailure(errBoom, "put"),
		apperror.StorageFailure(errBoom, "put"),
	}

	_, err := s.svc.UploadDocument(s.ctx, UploadDocumentInput{
		CaseID: c.ID, ApplicantID: s.exporter.ID, DocumentType: models.DocOfficialLetter,
		FileName: "letter.pdf", Content: []byte("%PDF"),
	})
	s.ErrorIs(err, apperror.ErrStorageFailure)
	s.True(apperror.IsRetryable(err))
	s.Equal(3, s.files.puts)

	docs, _ := s.store.ListDocumentsByCase(s.ctx, c.ID)
	s.Empty(docs)
}

func (s *CaseServiceTestSuite) TestUpload_OrphanRemovedWhenMetadataFails() {
	c := s.draft()
	s.store.Hooks.CreateDocumentErr = errBoom

	_, err := s.svc.UploadDocument(s.ctx, UploadDocumentInput{
		CaseID: c.ID, ApplicantID: s.exporter.ID, DocumentType: models.DocOfficialLetter,
		FileName: "letter.pdf", Content: []byte("%PDF"),
	})
	s.ErrorIs(err, errBoom)
	s.Equal(0, s.files.count())
	s.Len(s.files.deleted, 1)
	s.Equal(float64(0), s.counter("export_registry_orphaned_files_total"))
}

func (s *CaseServiceTestSuite) TestUpload_OrphanCountedWhenCleanupFails() {
	c := s.draft()
	s.store.Hooks.CreateDocumentErr = errBoom
	s.files.deleteErr = errBoom

	_, err := s.svc.UploadDocument(s.ctx, UploadDocumentInput{
		CaseID: c.ID, ApplicantID: s.exporter.ID, DocumentType: models.DocOfficialLetter,
		FileName: "letter.pdf", Content: []byte("%PDF"),
	})
	s.ErrorIs(err, errBoom)
	s.Equal(1, s.files.count())
	s.Equal(float64(1), s.counter("export_registry_orphaned_files_total"))
}

// Review

func (s *CaseServiceTestSuite) TestAssign() {
	c := s.submitted()

	c, err := s.svc.AssignCase(s.ctx, c.ID, s.agent.ID, s.admin.ID)
	s.Require().NoError(err)
	s.Equal(models.CaseStatusSubmitted, c.Status)
	s.True(c.IsAssignedTo(s.agent.ID))

	entries := s.history(c.ID)
	s.Equal(models.ActionAssignment, entries[0].Action)
	s.Equal(s.admin.ID, entries[0].ActorID)

	s.svc.Wait()
	s.Contains(s.notifier.kinds(), models.NoticeCaseAssigned)
}

func (s *CaseServiceTestSuite) TestAssign_Refusals() {
	draft := s.draft()
	_, err := s.svc.AssignCase(s.ctx, draft.ID, s.agent.ID, s.admin.ID)
	s.ErrorIs(err, apperror.ErrInvalidState)

	_, err = s.svc.AssignCase(s.ctx, draft.ID, s.exporter.ID, s.admin.ID)
	s.ErrorIs(err, apperror.ErrNotFound)

	_, err = s.svc.AssignCase(s.ctx, draft.ID, uuid.New(), s.admin.ID)
	s.ErrorIs(err, apperror.ErrNotFound)

	suspended := seedAccount(s.T(), s.store, models.RoleAgent, "idle")
	suspended.Status = models.AccountStatusSuspended
	s.Require().NoError(s.store.UpdateAccount(s.ctx, suspended))
	_, err = s.svc.AssignCase(s.ctx, draft.ID, suspended.ID, s.admin.ID)
	s.ErrorIs(err, apperror.ErrValidationFailed)
}

func (s *CaseServiceTestSuite) TestValidateDocument_LeavesCaseStatus() {
	c := s.submitted()
	docs, err := s.store.ListDocumentsByCase(s.ctx, c.ID)
	s.Require().NoError(err)

	doc, err := s.svc.ValidateDocument(s.ctx, docs[0].ID, s.agent.ID, "legible", true)
	s.Require().NoError(err)
	s.Equal(models.DocumentStatusValid, doc.Status)
	s.Equal(&s.agent.ID, doc.ValidatedBy)
	s.NotNil(doc.ValidatedAt)

	doc, err = s.svc.ValidateDocument(s.ctx, docs[1].ID, s.agent.ID, "expired", false)
	s.Require().NoError(err)
	s.Equal(models.DocumentStatusRejected, doc.Status)
	s.Equal("expired", doc.ValidationComment)

	stored, _ := s.store.GetCase(s.ctx, c.ID)
	s.Equal(models.CaseStatusSubmitted, stored.Status)
	s.Equal(c.Version, stored.Version)
}

func (s *CaseServiceTestSuite) TestValidateDocument_DraftCase() {
	food := seedProduct(s.T(), s.store, s.exporter.ID, models.ProductTypeIndustrial, false)
	c := s.draft()
	docs := uploadRequired(s.T(), s.svc, c, food)

	_, err := s.svc.ValidateDocument(s.ctx, docs[0].ID, s.agent.ID, "", true)
	s.ErrorIs(err, apperror.ErrInvalidState)
}

// Decisions

func (s *CaseServiceTestSuite) TestDecide_OnDraft() {
	c := s.draft()

	_, err := s.svc.Decide(s.ctx, c.ID, s.agent.ID, true, "ok")
	s.Require().ErrorIs(err, apperror.ErrInvalidState)
	appErr, _ := apperror.As(err)
	s.Equal(string(models.CaseStatusDraft), appErr.Details["actual_state"])
	s.Equal([]string{"SUBMITTED", "UNDER_REVIEW"}, appErr.Details["expected_state"])

	stored, _ := s.store.GetCase(s.ctx, c.ID)
	s.Equal(models.CaseStatusDraft, stored.Status)
	s.True(stored.ApprovalConsistent())
}

func (s *CaseServiceTestSuite) TestApprove_Scenario() {
	c := s.submitted()

	c, err := s.svc.Decide(s.ctx, c.ID, s.agent.ID, true, "All good")
	s.Require().NoError(err)

	s.Equal(models.CaseStatusApproved, c.Status)
	s.Require().NotNil(c.ApprovalNumber)
	s.Regexp(regexp.MustCompile(`^AGR-\d{4}-\d{6}$`), *c.ApprovalNumber)
	s.True(strings.HasPrefix(*c.ApprovalNumber, "AGR-"+time.Now().Format("2006")))
	s.NotNil(c.ApprovalDate)
	s.True(c.ApprovalConsistent())
	s.Equal(&s.agent.ID, c.DecidedBy)

	entries := s.history(c.ID)
	s.Equal(models.ActionDecision, entries[0].Action)
	s.Contains(entries[0].Comment, *c.ApprovalNumber)
	s.Contains(entries[0].Comment, "All good")

	p := s.profile()
	s.Equal(models.ApprovalStatusApproved, p.ApprovalStatus)
	s.Equal(c.ApprovalNumber, p.ApprovalNumber)
	s.Equal(c.ApprovalDate, p.ApprovalDate)

	s.svc.Wait()
	s.Contains(s.notifier.kinds(), models.NoticeCaseApproved)
}

func (s *CaseServiceTestSuite) TestReject() {
	c := s.submitted()

	c, err := s.svc.Decide(s.ctx, c.ID, s.agent.ID, false, "Incomplete analyses")
	s.Require().NoError(err)

	s.Equal(models.CaseStatusRejected, c.Status)
	s.Nil(c.ApprovalNumber)
	s.Nil(c.ApprovalDate)
	s.True(c.ApprovalConsistent())
	s.Equal("Incomplete analyses", c.DecisionComment)

	p := s.profile()
	s.Equal(models.ApprovalStatusRejected, p.ApprovalStatus)
	s.Nil(p.ApprovalNumber)

	_, err = s.svc.Decide(s.ctx, c.ID, s.agent.ID, true, "")
	s.ErrorIs(err, apperror.ErrInvalidState)
}

func (s *CaseServiceTestSuite) TestDecide_EntryStatesFollowPolicy() {
	cfg := testConfig()
	cfg.Registration.DecisionFrom = []string{"UNDER_REVIEW"}
	strict := NewCaseService(s.store, s.files, s.notifier, s.gateway, cfg)
	defer strict.Wait()

	c := s.submitted()
	_, err := strict.Decide(s.ctx, c.ID, s.agent.ID, true, "")
	s.ErrorIs(err, apperror.ErrInvalidState)

	_, err = strict.RequestAdditionalInfo(s.ctx, c.ID, s.agent.ID, "more please", nil)
	s.ErrorIs(err, apperror.ErrInvalidState)
}

// barrierStore holds every transaction at its first case read until both
// racers have read, so both start from the same version.
type barrierStore struct {
	*repositorytest.MemStore
	gate *sync.WaitGroup
}

func (b *barrierStore) WithinTx(ctx context.Context, fn func(tx repository.Store) error) error {
	return b.MemStore.WithinTx(ctx, func(tx repository.Store) error {
		return fn(&barrierTx{Store: tx, gate: b.gate})
	})
}

type barrierTx struct {
	repository.Store
	gate *sync.WaitGroup
	once sync.Once
}

func (t *barrierTx) GetCase(ctx context.Context, id uuid.UUID) (*models.RegistrationCase, error) {
	c, err := t.Store.GetCase(ctx, id)
	t.once.Do(func() {
		t.gate.Done()
		t.gate.Wait()
	})
	return c, err
}

func (s *CaseServiceTestSuite) TestDecide_ConcurrentDecisionsOneWinner() {
	c := s.submitted()

	gate := &sync.WaitGroup{}
	gate.Add(2)
	racing := NewCaseService(&barrierStore{MemStore: s.store, gate: gate}, s.files, s.notifier, s.gateway, testConfig())
	defer racing.Wait()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, approve := range []bool{true, false} {
		wg.Add(1)
		go func(i int, approve bool) {
			defer wg.Done()
			_, errs[i] = racing.Decide(s.ctx, c.ID, s.agent.ID, approve, "race")
		}(i, approve)
	}
	wg.Wait()

	var wins, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case assert.ErrorIs(s.T(), err, apperror.ErrConflict):
			conflicts++
		}
	}
	s.Equal(1, wins)
	s.Equal(1, conflicts)

	stored, _ := s.store.GetCase(s.ctx, c.ID)
	s.True(stored.Status == models.CaseStatusApproved || stored.Status == models.CaseStatusRejected)
	s.True(stored.ApprovalConsistent())
	s.Equal(1, countActions(s.history(c.ID), models.ActionDecision))
}

// Additional information

func (s *CaseServiceTestSuite) TestInfoRequestRoundTrip() {
	c := s.submitted()
	c, err := s.svc.AssignCase(s.ctx, c.ID, s.agent.ID, s.admin.ID)
	s.Require().NoError(err)
	docs, _ := s.store.ListDocumentsByCase(s.ctx, c.ID)

	c, err = s.svc.RequestAdditionalInfo(s.ctx, c.ID, s.agent.ID, "Fumigation certificate is unreadable", []uuid.UUID{docs[7].ID})
	s.Require().NoError(err)
	s.Equal(models.CaseStatusPendingInfo, c.Status)

	requests, err := s.store.ListInfoRequests(s.ctx, c.ID)
	s.Require().NoError(err)
	s.Require().Len(requests, 1)
	s.Equal([]string{docs[7].ID.String()}, []string(requests[0].DocumentIDs))
	s.Nil(requests[0].ResolvedAt)

	_, err = s.svc.Decide(s.ctx, c.ID, s.agent.ID, true, "")
	s.ErrorIs(err, apperror.ErrInvalidState)

	c, err = s.svc.RespondToInfoRequest(s.ctx, c.ID, s.exporter.ID, "Re-scanned")
	s.Require().NoError(err)
	s.Equal(models.CaseStatusUnderReview, c.Status)

	requests, _ = s.store.ListInfoRequests(s.ctx, c.ID)
	s.NotNil(requests[0].ResolvedAt)

	c, err = s.svc.RequestAdditionalInfo(s.ctx, c.ID, s.agent.ID, "One more thing", nil)
	s.Require().NoError(err)
	s.Equal(models.CaseStatusPendingInfo, c.Status)

	s.svc.Wait()
	s.Contains(s.notifier.kinds(), models.NoticeInfoRequested)
	s.Contains(s.notifier.kinds(), models.NoticeInfoProvided)
}

func (s *CaseServiceTestSuite) TestInfoRequest_Refusals() {
	c := s.submitted()

	_, err := s.svc.RequestAdditionalInfo(s.ctx, c.ID, s.agent.ID, "  ", nil)
	s.ErrorIs(err, apperror.ErrValidationFailed)

	_, err = s.svc.RequestAdditionalInfo(s.ctx, c.ID, s.agent.ID, "which one?", []uuid.UUID{uuid.New()})
	s.ErrorIs(err, apperror.ErrValidationFailed)

	_, err = s.svc.RespondToInfoRequest(s.ctx, c.ID, s.exporter.ID, "nothing was asked")
	s.ErrorIs(err, apperror.ErrInvalidState)

	stored, _ := s.store.GetCase(s.ctx, c.ID)
	s.Equal(models.CaseStatusSubmitted, stored.Status)
	requests, _ := s.store.ListInfoRequests(s.ctx, c.ID)
	s.Empty(requests)
}

// Payment

func (s *CaseServiceTestSuite) TestPaymentFlow() {
	c := s.submitted()
	c, err := s.svc.AssignCase(s.ctx, c.ID, s.agent.ID, s.admin.ID)
	s.Require().NoError(err)

	first, err := s.svc.RequestPayment(s.ctx, c.ID, s.exporter.ID)
	s.Require().NoError(err)
	s.Equal(models.CaseStatusPendingPayment, first.Case.Status)
	s.Equal(first.PaymentID, first.Case.PaymentReference)
	s.Equal(int64(15000), first.Amount)
	s.NotEmpty(first.ClientSecret)

	_, err = s.svc.ConfirmPayment(s.ctx, c.ID, s.exporter.ID)
	s.ErrorIs(err, apperror.ErrInvalidState)

	s.gateway.settle(first.PaymentID, FeeFailed, "canceled")
	c, err = s.svc.ConfirmPayment(s.ctx, c.ID, s.exporter.ID)
	s.Require().NoError(err)
	s.Equal(models.CaseStatusPendingPayment, c.Status)
	s.Equal(models.PaymentStatusFailed, c.PaymentStatus)

	retry, err := s.svc.RequestPayment(s.ctx, c.ID, s.exporter.ID)
	s.Require().NoError(err)
	s.NotEqual(first.PaymentID, retry.PaymentID)
	s.Equal(models.PaymentStatusPending, retry.Case.PaymentStatus)

	s.gateway.settle(retry.PaymentID, FeeSucceeded, "succeeded")
	c, err = s.svc.ConfirmPayment(s.ctx, c.ID, s.exporter.ID)
	s.Require().NoError(err)
	s.Equal(models.CaseStatusPaid, c.Status)
	s.Equal(models.PaymentStatusPaid, c.PaymentStatus)

	_, err = s.svc.ConfirmPayment(s.ctx, c.ID, s.exporter.ID)
	s.ErrorIs(err, apperror.ErrInvalidState)

	c, err = s.svc.StartReview(s.ctx, c.ID, s.agent.ID)
	s.Require().NoError(err)
	s.Equal(models.CaseStatusUnderReview, c.Status)

	c, err = s.svc.Decide(s.ctx, c.ID, s.agent.ID, true, "")
	s.Require().NoError(err)
	s.Equal(models.CaseStatusApproved, c.Status)

	entries := s.history(c.ID)
	s.Equal(2, countActions(entries, models.ActionPaymentRequest))
	s.Equal(1, countActions(entries, models.ActionPayment))
	s.Equal(1, countActions(entries, models.ActionReviewStart))
}

func (s *CaseServiceTestSuite) TestPayment_Refusals() {
	draft := s.draft()
	_, err := s.svc.RequestPayment(s.ctx, draft.ID, s.exporter.ID)
	s.ErrorIs(err, apperror.ErrInvalidState)

	_, err = s.svc.RequestPayment(s.ctx, draft.ID, s.agent.ID)
	s.ErrorIs(err, apperror.ErrUnauthorized)

	_, err = s.svc.ConfirmPayment(s.ctx, draft.ID, s.exporter.ID)
	s.ErrorIs(err, apperror.ErrInvalidState)
}

func (s *CaseServiceTestSuite) TestPayment_GatewayFailureLeavesCase() {
	c := s.submitted()
	s.gateway.err = apperror.Internal(errBoom)

	_, err := s.svc.RequestPayment(s.ctx, c.ID, s.exporter.ID)
	s.ErrorIs(err, apperror.ErrInternal)

	stored, _ := s.store.GetCase(s.ctx, c.ID)
	s.Equal(models.CaseStatusSubmitted, stored.Status)
	s.Empty(stored.PaymentReference)
}

func (s *CaseServiceTestSuite) TestStartReview_PaidCaseAwaitingAgent() {
	c := s.submitted()
	_, err := s.svc.AssignCase(s.ctx, c.ID, s.agent.ID, s.admin.ID)
	s.Require().NoError(err)

	intent, err := s.svc.RequestPayment(s.ctx, c.ID, s.exporter.ID)
	s.Require().NoError(err)
	s.gateway.settle(intent.PaymentID, FeeSucceeded, "succeeded")
	_, err = s.svc.ConfirmPayment(s.ctx, c.ID, s.exporter.ID)
	s.Require().NoError(err)

	other := seedAccount(s.T(), s.store, models.RoleAgent, "other")
	_, err = s.svc.StartReview(s.ctx, c.ID, other.ID)
	s.ErrorIs(err, apperror.ErrUnauthorized)

	c, err = s.svc.StartReview(s.ctx, c.ID, s.agent.ID)
	s.Require().NoError(err)
	s.Equal(models.CaseStatusUnderReview, c.Status)

	_, err = s.svc.StartReview(s.ctx, c.ID, s.agent.ID)
	s.ErrorIs(err, apperror.ErrInvalidState)
}

// Suspension

func (s *CaseServiceTestSuite) TestSuspend() {
	c := s.draft()

	c, err := s.svc.SuspendCase(s.ctx, c.ID, s.admin.ID, "fraud investigation")
	s.Require().NoError(err)
	s.Equal(models.CaseStatusSuspended, c.Status)

	entries := s.history(c.ID)
	s.Equal(models.ActionSuspension, entries[0].Action)
	s.Equal("fraud investigation", entries[0].Comment)

	_, err = s.svc.SuspendCase(s.ctx, c.ID, s.admin.ID, "again")
	s.ErrorIs(err, apperror.ErrInvalidState)

	// A suspended case no longer blocks a new one.
	_, err = s.svc.CreateCase(s.ctx, s.exporter.ID, models.TrackDeclaration)
	s.NoError(err)
}

// Side effects

func (s *CaseServiceTestSuite) TestNotifierFailureDoesNotRollBack() {
	s.notifier.err = errBoom

	c := s.draft()
	s.svc.Wait()

	stored, err := s.store.GetCase(s.ctx, c.ID)
	s.Require().NoError(err)
	s.Equal(models.CaseStatusDraft, stored.Status)
	s.Len(s.history(c.ID), 1)
	s.Len(s.notifier.kinds(), 1)
	s.Equal(float64(1), s.counter("export_registry_notification_failures_total"))
}

type failingPublisher struct{ calls int }

func (p *failingPublisher) PublishCaseEvent(context.Context, events.CaseEvent) error {
	p.calls++
	return errBoom
}

func (s *CaseServiceTestSuite) TestPublisherFailureDoesNotRollBack() {
	publisher := &failingPublisher{}
	svc := NewCaseService(s.store, s.files, s.notifier, s.gateway, testConfig(), WithPublisher(publisher))

	c, err := svc.CreateCase(s.ctx, s.exporter.ID, models.TrackDeclaration)
	s.Require().NoError(err)
	svc.Wait()

	s.Equal(1, publisher.calls)
	_, err = s.store.GetCase(s.ctx, c.ID)
	s.NoError(err)
	s.Len(s.notifier.kinds(), 1)
}

// gatedPublisher holds the creation event until released and records the
// order in which events arrive.
type gatedPublisher struct {
	mu      sync.Mutex
	release chan struct{}
	actions []string
}

func (p *gatedPublisher) PublishCaseEvent(_ context.Context, event events.CaseEvent) error {
	if event.Action == string(models.ActionCreation) {
		<-p.release
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.actions = append(p.actions, event.Action)
	return nil
}

func (s *CaseServiceTestSuite) TestEventsOfACaseArePublishedInCommitOrder() {
	publisher := &gatedPublisher{release: make(chan struct{})}
	svc := NewCaseService(s.store, s.files, s.notifier, s.gateway, testConfig(), WithPublisher(publisher))

	c, err := svc.CreateCase(s.ctx, s.exporter.ID, models.TrackDeclaration)
	s.Require().NoError(err)
	_, err = svc.SuspendCase(s.ctx, c.ID, s.admin.ID, "duplicate filing")
	s.Require().NoError(err)

	close(publisher.release)
	svc.Wait()

	s.Equal([]string{string(models.ActionCreation), string(models.ActionSuspension)}, publisher.actions)
}

func (s *CaseServiceTestSuite) TestHistoryFailureRollsBackTransition() {
	c := s.submitted()
	s.store.Hooks.AppendHistoryErr = errBoom

	_, err := s.svc.Decide(s.ctx, c.ID, s.agent.ID, true, "")
	s.ErrorIs(err, errBoom)

	stored, _ := s.store.GetCase(s.ctx, c.ID)
	s.Equal(models.CaseStatusSubmitted, stored.Status)
	s.Nil(stored.ApprovalNumber)
	s.Equal(models.ApprovalStatusPending, s.profile().ApprovalStatus)
}
