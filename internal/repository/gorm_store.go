package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/javajoker/export-registry/internal/apperror"
	"github.com/javajoker/export-registry/internal/database"
	"github.com/javajoker/export-registry/internal/models"
)

var caseSortFields = map[string]string{
	"created_at":   "created_at",
	"submitted_at": "submitted_at",
	"updated_at":   "updated_at",
	"reference":    "reference",
	"status":       "status",
}

// GormStore implements Store on PostgreSQL through GORM.
type GormStore struct {
	db   *gorm.DB
	inTx bool
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) WithinTx(ctx context.Context, fn func(tx Store) error) error {
	if s.inTx {
		return fn(s)
	}
	return database.WithTransaction(s.db.WithContext(ctx), func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx, inTx: true})
	})
}

func (s *GormStore) conn(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

func notFound(err error, resource string, id interface{}) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperror.NotFound(resource, id)
	}
	return fmt.Errorf("database error loading %s: %w", resource, err)
}

// Cases

func (s *GormStore) CreateCase(ctx context.Context, c *models.RegistrationCase) error {
	if c.Version == 0 {
		c.Version = 1
	}
	if err := s.conn(ctx).Create(c).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return apperror.Conflict("case reference already exists").With("reference", c.Reference).AsRetryable()
		}
		return fmt.Errorf("failed to create case: %w", err)
	}
	return nil
}

func (s *GormStore) GetCase(ctx context.Context, id uuid.UUID) (*models.RegistrationCase, error) {
	var c models.RegistrationCase
	if err := s.conn(ctx).First(&c, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "case", id)
	}
	return &c, nil
}

func (s *GormStore) FindCaseByReference(ctx context.Context, reference string) (*models.RegistrationCase, error) {
	var c models.RegistrationCase
	if err := s.conn(ctx).Where("reference = ?", reference).First(&c).Error; err != nil {
		return nil, notFound(err, "case", reference)
	}
	return &c, nil
}

func (s *GormStore) ExistsByReference(ctx context.Context, reference string) (bool, error) {
	var count int64
	if err := s.conn(ctx).Unscoped().Model(&models.RegistrationCase{}).
		Where("reference = ?", reference).Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check reference: %w", err)
	}
	return count > 0, nil
}

func (s *GormStore) ExistsByApprovalNumber(ctx context.Context, number string) (bool, error) {
	var count int64
	if err := s.conn(ctx).Unscoped().Model(&models.RegistrationCase{}).
		Where("approval_number = ?", number).Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check approval number: %w", err)
	}
	return count > 0, nil
}

func (s *GormStore) HasActiveCase(ctx context.Context, applicantID uuid.UUID) (bool, error) {
	var count int64
	if err := s.conn(ctx).Model(&models.RegistrationCase{}).
		Where("applicant_id = ? AND status IN ?", applicantID, models.ActiveCaseStatuses()).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check active cases: %w", err)
	}
	return count > 0, nil
}

func (s *GormStore) UpdateCase(ctx context.Context, c *models.RegistrationCase, expectedVersion int) error {
	now := time.Now()
	res := s.conn(ctx).Model(&models.RegistrationCase{}).
		Where("id = ? AND version = ?", c.ID, expectedVersion).
		Updates(map[string]interface{}{
			"status":            c.Status,
			"version":           expectedVersion + 1,
			"submitted_at":      c.SubmittedAt,
			"payment_reference": c.PaymentReference,
			"payment_amount":    c.PaymentAmount,
			"payment_status":    c.PaymentStatus,
			"assigned_agent_id": c.AssignedAgentID,
			"decision_date":     c.DecisionDate,
			"decision_comment":  c.DecisionComment,
			"decided_by":        c.DecidedBy,
			"approval_number":   c.ApprovalNumber,
			"approval_date":     c.ApprovalDate,
			"updated_at":        now,
		})
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return apperror.Conflict("approval number already issued").With("case_id", c.ID.String()).AsRetryable()
		}
		return fmt.Errorf("failed to update case: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := s.GetCase(ctx, c.ID); err != nil {
			return err
		}
		return apperror.Conflict("case was modified concurrently").
			With("case_id", c.ID.String()).
			With("expected_version", expectedVersion)
	}

	c.Version = expectedVersion + 1
	c.UpdatedAt = now
	return nil
}

func (s *GormStore) applyCaseFilter(q *gorm.DB, f CaseFilter) *gorm.DB {
	if f.ApplicantID != nil {
		q = q.Where("applicant_id = ?", *f.ApplicantID)
	}
	if f.AgentID != nil {
		q = q.Where("assigned_agent_id = ?", *f.AgentID)
	}
	if f.Unassigned {
		q = q.Where("assigned_agent_id IS NULL")
	}
	if f.DecidedBy != nil {
		q = q.Where("decided_by = ?", *f.DecidedBy)
	}
	if len(f.Statuses) > 0 {
		q = q.Where("status IN ?", f.Statuses)
	}
	return q
}

func (s *GormStore) ListCases(ctx context.Context, filter CaseFilter, page Page) ([]models.RegistrationCase, int64, error) {
	query := s.applyCaseFilter(s.conn(ctx).Model(&models.RegistrationCase{}), filter)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count cases: %w", err)
	}

	sortField, ok := caseSortFields[page.Sort]
	if !ok {
		sortField = "created_at"
	}
	order := "DESC"
	if page.Order == "asc" {
		order = "ASC"
	}
	query = query.Order(sortField + " " + order)
	if page.Limit > 0 {
		query = query.Offset(page.Offset()).Limit(page.Limit)
	}

	var cases []models.RegistrationCase
	if err := query.Find(&cases).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to fetch cases: %w", err)
	}
	return cases, total, nil
}

func (s *GormStore) CountCasesByStatus(ctx context.Context, filter CaseFilter) (map[models.CaseStatus]int64, error) {
	var rows []struct {
		Status models.CaseStatus
		Count  int64
	}
	query := s.applyCaseFilter(s.conn(ctx).Model(&models.RegistrationCase{}), filter)
	if err := query.Select("status, COUNT(*) AS count").Group("status").Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to count cases by status: %w", err)
	}

	counts := make(map[models.CaseStatus]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}

// Products

func (s *GormStore) CreateProduct(ctx context.Context, p *models.ProductDeclaration) error {
	if err := s.conn(ctx).Create(p).Error; err != nil {
		return fmt.Errorf("failed to create product: %w", err)
	}
	return nil
}

func (s *GormStore) GetProduct(ctx context.Context, id uuid.UUID) (*models.ProductDeclaration, error) {
	var p models.ProductDeclaration
	if err := s.conn(ctx).First(&p, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "product", id)
	}
	return &p, nil
}

func (s *GormStore) UpdateProduct(ctx context.Context, p *models.ProductDeclaration) error {
	if err := s.conn(ctx).Save(p).Error; err != nil {
		return fmt.Errorf("failed to update product: %w", err)
	}
	return nil
}

func (s *GormStore) DeleteProduct(ctx context.Context, id uuid.UUID) error {
	res := s.conn(ctx).Delete(&models.ProductDeclaration{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("failed to delete product: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperror.NotFound("product", id)
	}
	return nil
}

func (s *GormStore) ListProductsByApplicant(ctx context.Context, applicantID uuid.UUID) ([]models.ProductDeclaration, error) {
	var products []models.ProductDeclaration
	if err := s.conn(ctx).Where("applicant_id = ?", applicantID).
		Order("created_at ASC").Find(&products).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch products: %w", err)
	}
	return products, nil
}

// Documents

func (s *GormStore) CreateDocument(ctx context.Context, d *models.Document) error {
	if err := s.conn(ctx).Create(d).Error; err != nil {
		return fmt.Errorf("failed to create document: %w", err)
	}
	return nil
}

func (s *GormStore) GetDocument(ctx context.Context, id uuid.UUID) (*models.Document, error) {
	var d models.Document
	if err := s.conn(ctx).First(&d, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "document", id)
	}
	return &d, nil
}

func (s *GormStore) UpdateDocument(ctx context.Context, d *models.Document) error {
	if err := s.conn(ctx).Save(d).Error; err != nil {
		return fmt.Errorf("failed to update document: %w", err)
	}
	return nil
}

func (s *GormStore) ListDocumentsByApplicant(ctx context.Context, applicantID uuid.UUID) ([]models.Document, error) {
	var docs []models.Document
	if err := s.conn(ctx).Where("applicant_id = ?", applicantID).
		Order("uploaded_at ASC").Find(&docs).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch documents: %w", err)
	}
	return docs, nil
}

func (s *GormStore) ListDocumentsByCase(ctx context.Context, caseID uuid.UUID) ([]models.Document, error) {
	var docs []models.Document
	if err := s.conn(ctx).Where("case_id = ?", caseID).
		Order("uploaded_at ASC").Find(&docs).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch documents: %w", err)
	}
	return docs, nil
}

// History

func (s *GormStore) AppendHistory(ctx context.Context, e *models.CaseHistoryEntry) error {
	if err := s.conn(ctx).Create(e).Error; err != nil {
		return fmt.Errorf("failed to append history: %w", err)
	}
	return nil
}

func (s *GormStore) ListHistory(ctx context.Context, caseID uuid.UUID) ([]models.CaseHistoryEntry, error) {
	var entries []models.CaseHistoryEntry
	if err := s.conn(ctx).Where("case_id = ?", caseID).
		Order("created_at DESC, id DESC").Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch history: %w", err)
	}
	return entries, nil
}

// Info requests

func (s *GormStore) CreateInfoRequest(ctx context.Context, r *models.InfoRequest) error {
	if err := s.conn(ctx).Create(r).Error; err != nil {
		return fmt.Errorf("failed to create info request: %w", err)
	}
	return nil
}

func (s *GormStore) ResolveInfoRequests(ctx context.Context, caseID uuid.UUID, at time.Time) (int64, error) {
	res := s.conn(ctx).Model(&models.InfoRequest{}).
		Where("case_id = ? AND resolved_at IS NULL", caseID).
		Update("resolved_at", at)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to resolve info requests: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *GormStore) ListInfoRequests(ctx context.Context, caseID uuid.UUID) ([]models.InfoRequest, error) {
	var requests []models.InfoRequest
	if err := s.conn(ctx).Where("case_id = ?", caseID).
		Order("created_at DESC").Find(&requests).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch info requests: %w", err)
	}
	return requests, nil
}

// Accounts

func (s *GormStore) CreateAccount(ctx context.Context, a *models.Account) error {
	if err := s.conn(ctx).Create(a).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return apperror.Conflict("account with this email already exists")
		}
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

func (s *GormStore) GetAccount(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	var a models.Account
	if err := s.conn(ctx).First(&a, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "account", id)
	}
	return &a, nil
}

func (s *GormStore) LockAccount(ctx context.Context, id uuid.UUID) error {
	var a models.Account
	q := s.conn(ctx).Select("id")
	if s.inTx {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	if err := q.First(&a, "id = ?", id).Error; err != nil {
		return notFound(err, "account", id)
	}
	return nil
}

func (s *GormStore) FindAccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	var a models.Account
	if err := s.conn(ctx).Where("email = ?", email).First(&a).Error; err != nil {
		return nil, notFound(err, "account", email)
	}
	return &a, nil
}

func (s *GormStore) FindAccountByToken(ctx context.Context, purpose models.AccountTokenPurpose, tokenHash string) (*models.Account, error) {
	var column string
	switch purpose {
	case models.TokenEmailVerification:
		column = "verification_token_hash"
	case models.TokenPasswordReset:
		column = "reset_token_hash"
	default:
		return nil, fmt.Errorf("unknown token purpose %q", purpose)
	}
	if tokenHash == "" {
		return nil, apperror.NotFound("account", string(purpose))
	}

	var a models.Account
	if err := s.conn(ctx).Where(column+" = ?", tokenHash).First(&a).Error; err != nil {
		return nil, notFound(err, "account", string(purpose))
	}
	return &a, nil
}

func (s *GormStore) UpdateAccount(ctx context.Context, a *models.Account) error {
	if err := s.conn(ctx).Save(a).Error; err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}
	return nil
}

func (s *GormStore) ListAccountsByRole(ctx context.Context, role models.AccountRole) ([]models.Account, error) {
	var accounts []models.Account
	if err := s.conn(ctx).Where("role = ?", role).Order("display_name ASC").Find(&accounts).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch accounts: %w", err)
	}
	return accounts, nil
}

func (s *GormStore) CreateProfile(ctx context.Context, p *models.ExporterProfile) error {
	if err := s.conn(ctx).Create(p).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return apperror.Conflict("exporter profile already exists")
		}
		return fmt.Errorf("failed to create profile: %w", err)
	}
	return nil
}

func (s *GormStore) GetProfile(ctx context.Context, accountID uuid.UUID) (*models.ExporterProfile, error) {
	var p models.ExporterProfile
	if err := s.conn(ctx).Where("account_id = ?", accountID).First(&p).Error; err != nil {
		return nil, notFound(err, "exporter profile", accountID)
	}
	return &p, nil
}

func (s *GormStore) UpdateProfile(ctx context.Context, p *models.ExporterProfile) error {
	if err := s.conn(ctx).Save(p).Error; err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}
	return nil
}

// Notifications

func (s *GormStore) CreateNotification(ctx context.Context, n *models.Notification) error {
	if err := s.conn(ctx).Create(n).Error; err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

func (s *GormStore) ListNotifications(ctx context.Context, recipientID uuid.UUID, unreadOnly bool) ([]models.Notification, error) {
	query := s.conn(ctx).Where("recipient_id = ?", recipientID)
	if unreadOnly {
		query = query.Where("read_at IS NULL")
	}

	var notifications []models.Notification
	if err := query.Order("created_at DESC").Limit(100).Find(&notifications).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch notifications: %w", err)
	}
	return notifications, nil
}

func (s *GormStore) MarkNotificationRead(ctx context.Context, id, recipientID uuid.UUID, at time.Time) error {
	res := s.conn(ctx).Model(&models.Notification{}).
		Where("id = ? AND recipient_id = ?", id, recipientID).
		Update("read_at", at)
	if res.Error != nil {
		return fmt.Errorf("failed to mark notification read: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperror.NotFound("notification", id)
	}
	return nil
}

// Audit logs

func (s *GormStore) CreateAuditLog(ctx context.Context, l *models.AuditLog) error {
	if err := s.conn(ctx).Create(l).Error; err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	return nil
}

func (s *GormStore) ListAuditLogs(ctx context.Context, page Page) ([]models.AuditLog, int64, error) {
	query := s.conn(ctx).Model(&models.AuditLog{})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count audit logs: %w", err)
	}

	var logs []models.AuditLog
	q := query.Order("created_at DESC")
	if page.Limit > 0 {
		q = q.Offset(page.Offset()).Limit(page.Limit)
	}
	if err := q.Find(&logs).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to fetch audit logs: %w", err)
	}
	return logs, total, nil
}
