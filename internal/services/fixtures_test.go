package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/javajoker/export-registry/internal/apperror"
	"github.com/javajoker/export-registry/internal/config"
	"github.com/javajoker/export-registry/internal/models"
	"github.com/javajoker/export-registry/internal/repository/repositorytest"
)

func testConfig() *config.Config {
	return &config.Config{
		Storage: config.StorageConfig{
			MaxFileSize:  1 << 20,
			MaxAttempts:  3,
			AllowedTypes: []string{".pdf", ".png"},
		},
		Registration: config.RegistrationConfig{
			DecisionFrom:      []string{"SUBMITTED", "UNDER_REVIEW"},
			FeeAmount:         15000,
			NotifyTimeout:     time.Second,
			ReferenceAttempts: 5,
		},
		Payment: config.PaymentConfig{Currency: "eur"},
		JWT: config.JWTConfig{
			SecretKey:       "test-secret",
			AccessTokenTTL:  1,
			RefreshTokenTTL: 24,
			Issuer:          "export-registry-test",
		},
	}
}

// memFiles is an in-memory FileStore with scripted failures.
type memFiles struct {
	mu        sync.Mutex
	objects   map[string][]byte
	putErrs   []error
	deleteErr error
	puts      int
	deleted   []string
}

func newMemFiles() *memFiles {
	return &memFiles{objects: map[string][]byte{}}
}

func (f *memFiles) Put(ctx context.Context, key string, content []byte, mimeType string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.puts++
	if len(f.putErrs) > 0 {
		err := f.putErrs[0]
		f.putErrs = f.putErrs[1:]
		return "", err
	}
	f.objects[key] = append([]byte(nil), content...)
	return key, nil
}

func (f *memFiles) Get(ctx context.Context, locator string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	content, ok := f.objects[locator]
	if !ok {
		return nil, apperror.NotFound("file", locator)
	}
	return content, nil
}

func (f *memFiles) Delete(ctx context.Context, locator string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.objects, locator)
	f.deleted = append(f.deleted, locator)
	return nil
}

func (f *memFiles) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.objects)
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []Notice
	err     error
}

func (n *recordingNotifier) Notify(ctx context.Context, notice Notice) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.notices = append(n.notices, notice)
	return n.err
}

func (n *recordingNotifier) kinds() []models.NotificationKind {
	n.mu.Lock()
	defer n.mu.Unlock()

	kinds := make([]models.NotificationKind, len(n.notices))
	for i, notice := range n.notices {
		kinds[i] = notice.Kind
	}
	return kinds
}

type fakeGateway struct {
	mu      sync.Mutex
	intents map[string]*FeeIntent
	seq     int
	err     error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{intents: map[string]*FeeIntent{}}
}

func (g *fakeGateway) CreateFeeIntent(ctx context.Context, caseID uuid.UUID, reference string, amount int64) (*FeeIntent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.err != nil {
		return nil, g.err
	}
	g.seq++
	intent := &FeeIntent{
		ID:             fmt.Sprintf("pi_%d", g.seq),
		ClientSecret:   fmt.Sprintf("pi_%d_secret", g.seq),
		Amount:         amount,
		Currency:       "eur",
		Status:         FeeProcessing,
		ProviderStatus: "requires_payment_method",
	}
	g.intents[intent.ID] = intent
	cp := *intent
	return &cp, nil
}

func (g *fakeGateway) GetFeeIntent(ctx context.Context, id string) (*FeeIntent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	intent, ok := g.intents[id]
	if !ok {
		return nil, apperror.NotFound("payment", id)
	}
	cp := *intent
	return &cp, nil
}

func (g *fakeGateway) settle(id string, status FeeStatus, providerStatus string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.intents[id].Status = status
	g.intents[id].ProviderStatus = providerStatus
}

type memRevoker struct {
	mu      sync.Mutex
	revoked map[string]time.Duration
}

func newMemRevoker() *memRevoker {
	return &memRevoker{revoked: map[string]time.Duration{}}
}

func (r *memRevoker) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.revoked[jti] = ttl
	return nil
}

func (r *memRevoker) IsRevoked(ctx context.Context, jti string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.revoked[jti]
	return ok, nil
}

var errBoom = errors.New("boom")

func seedAccount(t *testing.T, store *repositorytest.MemStore, role models.AccountRole, name string) *models.Account {
	t.Helper()

	account := &models.Account{
		Email:       fmt.Sprintf("%s-%s@example.com", name, uuid.NewString()[:8]),
		DisplayName: name,
		Role:        role,
		Status:      models.AccountStatusActive,
	}
	require.NoError(t, account.SetPassword("Secret#123"))
	require.NoError(t, store.CreateAccount(context.Background(), account))
	return account
}

func seedExporter(t *testing.T, store *repositorytest.MemStore) *models.Account {
	t.Helper()

	account := seedAccount(t, store, models.RoleExporter, "exporter")
	require.NoError(t, store.CreateProfile(context.Background(), &models.ExporterProfile{
		AccountID:      account.ID,
		CompanyName:    "Atlas Foods",
		TaxID:          uuid.NewString()[:12],
		ApprovalStatus: models.ApprovalStatusNone,
	}))
	return account
}

func seedProduct(t *testing.T, store *repositorytest.MemStore, applicantID uuid.UUID, productType models.ProductType, brandLicense bool) *models.ProductDeclaration {
	t.Helper()

	product := &models.ProductDeclaration{
		ApplicantID:     applicantID,
		ProductType:     productType,
		ProductName:     string(productType) + " product",
		HasBrandLicense: brandLicense,
	}
	require.NoError(t, store.CreateProduct(context.Background(), product))
	return product
}

// uploadRequired uploads every mandatory document of product through the service.
func uploadRequired(t *testing.T, svc *CaseService, c *models.RegistrationCase, product *models.ProductDeclaration) []*models.Document {
	t.Helper()

	var docs []*models.Document
	for _, docType := range RequiredDocuments(product.ProductType, product.HasBrandLicense) {
		productID := product.ID
		doc, err := svc.UploadDocument(context.Background(), UploadDocumentInput{
			CaseID:       c.ID,
			ApplicantID:  c.ApplicantID,
			ProductID:    &productID,
			DocumentType: docType,
			FileName:     string(docType) + ".pdf",
			MimeType:     "application/pdf",
			Content:      []byte("%PDF-1.4 " + string(docType)),
		})
		require.NoError(t, err)
		docs = append(docs, doc)
	}
	return docs
}

func storedDoc(productID uuid.UUID, docType models.DocumentType) models.Document {
	return models.Document{
		ProductID:    &productID,
		DocumentType: docType,
		Status:       models.DocumentStatusPending,
		FileLocator:  "documents/" + uuid.NewString(),
	}
}
