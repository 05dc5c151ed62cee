// Package repositorytest provides an in-memory repository.Store for tests.
package repositorytest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/javajoker/export-registry/internal/apperror"
	"github.com/javajoker/export-registry/internal/models"
	"github.com/javajoker/export-registry/internal/repository"
)

// Hooks inject failures into the next matching call.
type Hooks struct {
	CreateDocumentErr error
	AppendHistoryErr  error
	UpdateCaseErr     error
}

type state struct {
	mu            sync.Mutex
	cases         map[uuid.UUID]models.RegistrationCase
	products      map[uuid.UUID]models.ProductDeclaration
	documents     map[uuid.UUID]models.Document
	history       []models.CaseHistoryEntry
	infoRequests  []models.InfoRequest
	accounts      map[uuid.UUID]models.Account
	profiles      map[uuid.UUID]models.ExporterProfile
	notifications map[uuid.UUID]models.Notification
	auditLogs     []models.AuditLog
	nextHistoryID uint64
	accountLocks  map[uuid.UUID]*sync.Mutex

	Hooks Hooks
}

// MemStore mirrors GormStore semantics: optimistic version checks, newest
// first history, account row locks held until the transaction ends and
// rollback of every write made inside a failed WithinTx.
type MemStore struct {
	*state
	undo *[]func()
	held map[uuid.UUID]*sync.Mutex
}

var _ repository.Store = (*MemStore)(nil)

func New() *MemStore {
	return &MemStore{state: &state{
		cases:         map[uuid.UUID]models.RegistrationCase{},
		products:      map[uuid.UUID]models.ProductDeclaration{},
		documents:     map[uuid.UUID]models.Document{},
		accounts:      map[uuid.UUID]models.Account{},
		profiles:      map[uuid.UUID]models.ExporterProfile{},
		notifications: map[uuid.UUID]models.Notification{},
		accountLocks:  map[uuid.UUID]*sync.Mutex{},
	}}
}

func (s *MemStore) WithinTx(ctx context.Context, fn func(tx repository.Store) error) error {
	if s.undo != nil {
		return fn(s)
	}

	var undo []func()
	tx := &MemStore{state: s.state, undo: &undo, held: map[uuid.UUID]*sync.Mutex{}}
	defer func() {
		for _, l := range tx.held {
			l.Unlock()
		}
	}()

	if err := fn(tx); err != nil {
		s.mu.Lock()
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i]()
		}
		s.mu.Unlock()
		return err
	}
	return nil
}

// record must be called with s.mu held.
func (s *MemStore) record(fn func()) {
	if s.undo != nil {
		*s.undo = append(*s.undo, fn)
	}
}

func touch(base *models.BaseModel) {
	now := time.Now()
	if base.ID == uuid.Nil {
		base.ID = uuid.New()
	}
	if base.CreatedAt.IsZero() {
		base.CreatedAt = now
	}
	base.UpdatedAt = now
}

// Cases

func (s *MemStore) CreateCase(ctx context.Context, c *models.RegistrationCase) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.cases {
		if existing.Reference == c.Reference {
			return apperror.Conflict("case reference already exists").With("reference", c.Reference).AsRetryable()
		}
	}
	touch(&c.BaseModel)
	if c.Version == 0 {
		c.Version = 1
	}
	s.cases[c.ID] = *c
	id := c.ID
	s.record(func() { delete(s.cases, id) })
	return nil
}

func (s *MemStore) GetCase(ctx context.Context, id uuid.UUID) (*models.RegistrationCase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.cases[id]
	if !ok {
		return nil, apperror.NotFound("case", id)
	}
	return &c, nil
}

func (s *MemStore) FindCaseByReference(ctx context.Context, reference string) (*models.RegistrationCase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.cases {
		if c.Reference == reference {
			found := c
			return &found, nil
		}
	}
	return nil, apperror.NotFound("case", reference)
}

func (s *MemStore) ExistsByReference(ctx context.Context, reference string) (bool, error) {
	_, err := s.FindCaseByReference(ctx, reference)
	if err != nil {
		return false, nil
	}
	return true, nil
}

func (s *MemStore) ExistsByApprovalNumber(ctx context.Context, number string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.cases {
		if c.ApprovalNumber != nil && *c.ApprovalNumber == number {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemStore) HasActiveCase(ctx context.Context, applicantID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.cases {
		if c.ApplicantID == applicantID && !c.Status.IsTerminal() {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemStore) UpdateCase(ctx context.Context, c *models.RegistrationCase, expectedVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.Hooks.UpdateCaseErr; err != nil {
		s.Hooks.UpdateCaseErr = nil
		return err
	}

	stored, ok := s.cases[c.ID]
	if !ok {
		return apperror.NotFound("case", c.ID)
	}
	if stored.Version != expectedVersion {
		return apperror.Conflict("case was modified concurrently").
			With("case_id", c.ID.String()).
			With("expected_version", expectedVersion)
	}
	if c.ApprovalNumber != nil {
		for id, other := range s.cases {
			if id != c.ID && other.ApprovalNumber != nil && *other.ApprovalNumber == *c.ApprovalNumber {
				return apperror.Conflict("approval number already issued").With("case_id", c.ID.String()).AsRetryable()
			}
		}
	}

	c.Version = expectedVersion + 1
	c.UpdatedAt = time.Now()
	s.cases[c.ID] = *c
	s.record(func() { s.cases[stored.ID] = stored })
	return nil
}

func matches(c models.RegistrationCase, f repository.CaseFilter) bool {
	if f.ApplicantID != nil && c.ApplicantID != *f.ApplicantID {
		return false
	}
	if f.AgentID != nil && !c.IsAssignedTo(*f.AgentID) {
		return false
	}
	if f.Unassigned && c.AssignedAgentID != nil {
		return false
	}
	if f.DecidedBy != nil && (c.DecidedBy == nil || *c.DecidedBy != *f.DecidedBy) {
		return false
	}
	if len(f.Statuses) > 0 {
		for _, st := range f.Statuses {
			if c.Status == st {
				return true
			}
		}
		return false
	}
	return true
}

func (s *MemStore) ListCases(ctx context.Context, filter repository.CaseFilter, page repository.Page) ([]models.RegistrationCase, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.RegistrationCase
	for _, c := range s.cases {
		if matches(c, filter) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if page.Order == "asc" {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	total := int64(len(out))
	if page.Limit > 0 {
		start := page.Offset()
		if start > len(out) {
			start = len(out)
		}
		end := start + page.Limit
		if end > len(out) {
			end = len(out)
		}
		out = out[start:end]
	}
	return out, total, nil
}

func (s *MemStore) CountCasesByStatus(ctx context.Context, filter repository.CaseFilter) (map[models.CaseStatus]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := map[models.CaseStatus]int64{}
	for _, c := range s.cases {
		if matches(c, filter) {
			counts[c.Status]++
		}
	}
	return counts, nil
}

// Products

func (s *MemStore) CreateProduct(ctx context.Context, p *models.ProductDeclaration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	touch(&p.BaseModel)
	s.products[p.ID] = *p
	id := p.ID
	s.record(func() { delete(s.products, id) })
	return nil
}

func (s *MemStore) GetProduct(ctx context.Context, id uuid.UUID) (*models.ProductDeclaration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[id]
	if !ok {
		return nil, apperror.NotFound("product", id)
	}
	return &p, nil
}

func (s *MemStore) UpdateProduct(ctx context.Context, p *models.ProductDeclaration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.products[p.ID]
	if !ok {
		return apperror.NotFound("product", p.ID)
	}
	p.UpdatedAt = time.Now()
	s.products[p.ID] = *p
	s.record(func() { s.products[prev.ID] = prev })
	return nil
}

func (s *MemStore) DeleteProduct(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.products[id]
	if !ok {
		return apperror.NotFound("product", id)
	}
	delete(s.products, id)
	s.record(func() { s.products[id] = prev })
	return nil
}

func (s *MemStore) ListProductsByApplicant(ctx context.Context, applicantID uuid.UUID) ([]models.ProductDeclaration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.ProductDeclaration
	for _, p := range s.products {
		if p.ApplicantID == applicantID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Documents

func (s *MemStore) CreateDocument(ctx context.Context, d *models.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.Hooks.CreateDocumentErr; err != nil {
		s.Hooks.CreateDocumentErr = nil
		return err
	}
	touch(&d.BaseModel)
	s.documents[d.ID] = *d
	id := d.ID
	s.record(func() { delete(s.documents, id) })
	return nil
}

func (s *MemStore) GetDocument(ctx context.Context, id uuid.UUID) (*models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.documents[id]
	if !ok {
		return nil, apperror.NotFound("document", id)
	}
	return &d, nil
}

func (s *MemStore) UpdateDocument(ctx context.Context, d *models.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.documents[d.ID]
	if !ok {
		return apperror.NotFound("document", d.ID)
	}
	d.UpdatedAt = time.Now()
	s.documents[d.ID] = *d
	s.record(func() { s.documents[prev.ID] = prev })
	return nil
}

func (s *MemStore) listDocuments(keep func(models.Document) bool) []models.Document {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Document
	for _, d := range s.documents {
		if keep(d) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UploadedAt.Before(out[j].UploadedAt) })
	return out
}

func (s *MemStore) ListDocumentsByApplicant(ctx context.Context, applicantID uuid.UUID) ([]models.Document, error) {
	return s.listDocuments(func(d models.Document) bool { return d.ApplicantID == applicantID }), nil
}

func (s *MemStore) ListDocumentsByCase(ctx context.Context, caseID uuid.UUID) ([]models.Document, error) {
	return s.listDocuments(func(d models.Document) bool { return d.CaseID != nil && *d.CaseID == caseID }), nil
}

// History

func (s *MemStore) AppendHistory(ctx context.Context, e *models.CaseHistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.Hooks.AppendHistoryErr; err != nil {
		s.Hooks.AppendHistoryErr = nil
		return err
	}
	s.nextHistoryID++
	e.ID = s.nextHistoryID
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	s.history = append(s.history, *e)
	id := e.ID
	s.record(func() {
		for i := range s.history {
			if s.history[i].ID == id {
				s.history = append(s.history[:i], s.history[i+1:]...)
				return
			}
		}
	})
	return nil
}

func (s *MemStore) ListHistory(ctx context.Context, caseID uuid.UUID) ([]models.CaseHistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.CaseHistoryEntry
	for _, e := range s.history {
		if e.CaseID == caseID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

// Info requests

func (s *MemStore) CreateInfoRequest(ctx context.Context, r *models.InfoRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	touch(&r.BaseModel)
	s.infoRequests = append(s.infoRequests, *r)
	n := len(s.infoRequests)
	s.record(func() { s.infoRequests = s.infoRequests[:n-1] })
	return nil
}

func (s *MemStore) ResolveInfoRequests(ctx context.Context, caseID uuid.UUID, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for i := range s.infoRequests {
		r := &s.infoRequests[i]
		if r.CaseID == caseID && r.ResolvedAt == nil {
			resolved := at
			r.ResolvedAt = &resolved
			n++
			idx := i
			s.record(func() { s.infoRequests[idx].ResolvedAt = nil })
		}
	}
	return n, nil
}

func (s *MemStore) ListInfoRequests(ctx context.Context, caseID uuid.UUID) ([]models.InfoRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.InfoRequest
	for i := len(s.infoRequests) - 1; i >= 0; i-- {
		if s.infoRequests[i].CaseID == caseID {
			out = append(out, s.infoRequests[i])
		}
	}
	return out, nil
}

// Accounts

func (s *MemStore) CreateAccount(ctx context.Context, a *models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.accounts {
		if existing.Email == a.Email {
			return apperror.Conflict("account with this email already exists")
		}
	}
	touch(&a.BaseModel)
	s.accounts[a.ID] = *a
	id := a.ID
	s.record(func() { delete(s.accounts, id) })
	return nil
}

func (s *MemStore) GetAccount(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[id]
	if !ok {
		return nil, apperror.NotFound("account", id)
	}
	return &a, nil
}

func (s *MemStore) LockAccount(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	if _, ok := s.accounts[id]; !ok {
		s.mu.Unlock()
		return apperror.NotFound("account", id)
	}
	if s.held == nil || s.held[id] != nil {
		s.mu.Unlock()
		return nil
	}
	l, ok := s.accountLocks[id]
	if !ok {
		l = &sync.Mutex{}
		s.accountLocks[id] = l
	}
	s.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	l.Lock()
	s.held[id] = l
	return nil
}

func (s *MemStore) FindAccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.accounts {
		if a.Email == email {
			found := a
			return &found, nil
		}
	}
	return nil, apperror.NotFound("account", email)
}

func (s *MemStore) FindAccountByToken(ctx context.Context, purpose models.AccountTokenPurpose, tokenHash string) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tokenHash != "" {
		for _, a := range s.accounts {
			stored := a.VerificationTokenHash
			if purpose == models.TokenPasswordReset {
				stored = a.ResetTokenHash
			}
			if stored == tokenHash {
				found := a
				return &found, nil
			}
		}
	}
	return nil, apperror.NotFound("account", string(purpose))
}

func (s *MemStore) UpdateAccount(ctx context.Context, a *models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.accounts[a.ID]
	if !ok {
		return apperror.NotFound("account", a.ID)
	}
	a.UpdatedAt = time.Now()
	s.accounts[a.ID] = *a
	s.record(func() { s.accounts[prev.ID] = prev })
	return nil
}

func (s *MemStore) ListAccountsByRole(ctx context.Context, role models.AccountRole) ([]models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Account
	for _, a := range s.accounts {
		if a.Role == role {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DisplayName < out[j].DisplayName })
	return out, nil
}

func (s *MemStore) CreateProfile(ctx context.Context, p *models.ExporterProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.profiles[p.AccountID]; exists {
		return apperror.Conflict("exporter profile already exists")
	}
	touch(&p.BaseModel)
	s.profiles[p.AccountID] = *p
	accountID := p.AccountID
	s.record(func() { delete(s.profiles, accountID) })
	return nil
}

func (s *MemStore) GetProfile(ctx context.Context, accountID uuid.UUID) (*models.ExporterProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[accountID]
	if !ok {
		return nil, apperror.NotFound("exporter profile", accountID)
	}
	return &p, nil
}

func (s *MemStore) UpdateProfile(ctx context.Context, p *models.ExporterProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.profiles[p.AccountID]
	if !ok {
		return apperror.NotFound("exporter profile", p.AccountID)
	}
	p.UpdatedAt = time.Now()
	s.profiles[p.AccountID] = *p
	s.record(func() { s.profiles[prev.AccountID] = prev })
	return nil
}

// Notifications

func (s *MemStore) CreateNotification(ctx context.Context, n *models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	touch(&n.BaseModel)
	s.notifications[n.ID] = *n
	id := n.ID
	s.record(func() { delete(s.notifications, id) })
	return nil
}

func (s *MemStore) ListNotifications(ctx context.Context, recipientID uuid.UUID, unreadOnly bool) ([]models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Notification
	for _, n := range s.notifications {
		if n.RecipientID != recipientID || (unreadOnly && n.ReadAt != nil) {
			continue
		}
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemStore) MarkNotificationRead(ctx context.Context, id, recipientID uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.notifications[id]
	if !ok || n.RecipientID != recipientID {
		return apperror.NotFound("notification", id)
	}
	prev := n
	n.ReadAt = &at
	s.notifications[id] = n
	s.record(func() { s.notifications[id] = prev })
	return nil
}

// Audit logs

func (s *MemStore) CreateAuditLog(ctx context.Context, l *models.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	touch(&l.BaseModel)
	s.auditLogs = append(s.auditLogs, *l)
	n := len(s.auditLogs)
	s.record(func() { s.auditLogs = s.auditLogs[:n-1] })
	return nil
}

func (s *MemStore) ListAuditLogs(ctx context.Context, page repository.Page) ([]models.AuditLog, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.AuditLog, 0, len(s.auditLogs))
	for i := len(s.auditLogs) - 1; i >= 0; i-- {
		out = append(out, s.auditLogs[i])
	}
	total := int64(len(out))
	if page.Limit > 0 {
		start := page.Offset()
		if start > len(out) {
			start = len(out)
		}
		end := start + page.Limit
		if end > len(out) {
			end = len(out)
		}
		out = out[start:end]
	}
	return out, total, nil
}
