// Package repository is the persistence boundary of the registration core.
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/javajoker/export-registry/internal/models"
)

// Page is a 1-based page request.
type Page struct {
	Page  int
	Limit int
	Sort  string
	Order string
}

func (p Page) Offset() int {
	if p.Page < 1 {
		return 0
	}
	return (p.Page - 1) * p.Limit
}

// CaseFilter narrows case listings. Zero values mean "any".
type CaseFilter struct {
	ApplicantID *uuid.UUID
	AgentID     *uuid.UUID
	Statuses    []models.CaseStatus
	Unassigned  bool
	DecidedBy   *uuid.UUID
}

type CaseRepository interface {
	CreateCase(ctx context.Context, c *models.RegistrationCase) error
	GetCase(ctx context.Context, id uuid.UUID) (*models.RegistrationCase, error)
	FindCaseByReference(ctx context.Context, reference string) (*models.RegistrationCase, error)
	ExistsByReference(ctx context.Context, reference string) (bool, error)
	ExistsByApprovalNumber(ctx context.Context, number string) (bool, error)
	HasActiveCase(ctx context.Context, applicantID uuid.UUID) (bool, error)
	// UpdateCase persists c only if the stored version still equals
	// expectedVersion, and bumps c.Version. A lost race returns a Conflict error.
	UpdateCase(ctx context.Context, c *models.RegistrationCase, expectedVersion int) error
	ListCases(ctx context.Context, filter CaseFilter, page Page) ([]models.RegistrationCase, int64, error)
	CountCasesByStatus(ctx context.Context, filter CaseFilter) (map[models.CaseStatus]int64, error)
}

type ProductRepository interface {
	CreateProduct(ctx context.Context, p *models.ProductDeclaration) error
	GetProduct(ctx context.Context, id uuid.UUID) (*models.ProductDeclaration, error)
	UpdateProduct(ctx context.Context, p *models.ProductDeclaration) error
	DeleteProduct(ctx context.Context, id uuid.UUID) error
	ListProductsByApplicant(ctx context.Context, applicantID uuid.UUID) ([]models.ProductDeclaration, error)
}

type DocumentRepository interface {
	CreateDocument(ctx context.Context, d *models.Document) error
	GetDocument(ctx context.Context, id uuid.UUID) (*models.Document, error)
	UpdateDocument(ctx context.Context, d *models.Document) error
	ListDocumentsByApplicant(ctx context.Context, applicantID uuid.UUID) ([]models.Document, error)
	ListDocumentsByCase(ctx context.Context, caseID uuid.UUID) ([]models.Document, error)
}

// HistoryRepository is append-only by construction: it has no update or delete.
type HistoryRepository interface {
	AppendHistory(ctx context.Context, e *models.CaseHistoryEntry) error
	// ListHistory returns entries newest first.
	ListHistory(ctx context.Context, caseID uuid.UUID) ([]models.CaseHistoryEntry, error)
}

type InfoRequestRepository interface {
	CreateInfoRequest(ctx context.Context, r *models.InfoRequest) error
	ResolveInfoRequests(ctx context.Context, caseID uuid.UUID, at time.Time) (int64, error)
	ListInfoRequests(ctx context.Context, caseID uuid.UUID) ([]models.InfoRequest, error)
}

type AccountRepository interface {
	CreateAccount(ctx context.Context, a *models.Account) error
	GetAccount(ctx context.Context, id uuid.UUID) (*models.Account, error)
	// LockAccount holds a row lock on the account until the surrounding
	// transaction ends. Outside WithinTx it only checks that the account exists.
	LockAccount(ctx context.Context, id uuid.UUID) error
	FindAccountByEmail(ctx context.Context, email string) (*models.Account, error)
	// FindAccountByToken looks an account up by the stored hash of one of its
	// single-use tokens. Expiry is left to the caller.
	FindAccountByToken(ctx context.Context, purpose models.AccountTokenPurpose, tokenHash string) (*models.Account, error)
	UpdateAccount(ctx context.Context, a *models.Account) error
	ListAccountsByRole(ctx context.Context, role models.AccountRole) ([]models.Account, error)
	CreateProfile(ctx context.Context, p *models.ExporterProfile) error
	GetProfile(ctx context.Context, accountID uuid.UUID) (*models.ExporterProfile, error)
	UpdateProfile(ctx context.Context, p *models.ExporterProfile) error
}

type NotificationRepository interface {
	CreateNotification(ctx context.Context, n *models.Notification) error
	ListNotifications(ctx context.Context, recipientID uuid.UUID, unreadOnly bool) ([]models.Notification, error)
	MarkNotificationRead(ctx context.Context, id, recipientID uuid.UUID, at time.Time) error
}

// AuditLogRepository keeps the request audit trail written by the HTTP layer.
type AuditLogRepository interface {
	CreateAuditLog(ctx context.Context, l *models.AuditLog) error
	ListAuditLogs(ctx context.Context, page Page) ([]models.AuditLog, int64, error)
}

// Store aggregates every repository and scopes them to a unit of work.
type Store interface {
	CaseRepository
	ProductRepository
	DocumentRepository
	HistoryRepository
	InfoRequestRepository
	AccountRepository
	NotificationRepository
	AuditLogRepository

	// WithinTx runs fn against a Store bound to a single transaction. The
	// transaction commits when fn returns nil and rolls back otherwise.
	WithinTx(ctx context.Context, fn func(tx Store) error) error
}
