package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/javajoker/export-registry/internal/apperror"
	"github.com/javajoker/export-registry/internal/models"
	"github.com/javajoker/export-registry/internal/repository"
	"github.com/javajoker/export-registry/internal/repository/repositorytest"
	"github.com/javajoker/export-registry/internal/services"
	"github.com/javajoker/export-registry/internal/utils"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type staticResolver map[string]*services.Identity

func (r staticResolver) Resolve(ctx context.Context, token string) (*services.Identity, error) {
	identity, ok := r[token]
	if !ok {
		return nil, apperror.Unauthenticated("invalid or expired token")
	}
	return identity, nil
}

func serve(r *gin.Engine, method, path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthRequired(t *testing.T) {
	agentID := uuid.New()
	resolver := staticResolver{"agent-token": {AccountID: agentID, Role: models.RoleAgent}}

	r := gin.New()
	r.GET("/me", AuthRequired(resolver), func(c *gin.Context) {
		id, _ := utils.GetAccountIDFromContext(c)
		role, _ := utils.GetRoleFromContext(c)
		c.JSON(http.StatusOK, gin.H{"id": id.String(), "role": role})
	})
	r.GET("/admin", AuthRequired(resolver), AdminRequired(), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	w := serve(r, http.MethodGet, "/me", http.Header{"Authorization": {"Bearer agent-token"}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"id":"`+agentID.String()+`","role":"agent"}`, w.Body.String())

	w = serve(r, http.MethodGet, "/me", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = serve(r, http.MethodGet, "/me", http.Header{"Authorization": {"Token agent-token"}})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = serve(r, http.MethodGet, "/me", http.Header{"Authorization": {"Bearer stolen"}})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), apperror.CodeUnauthenticated)

	w = serve(r, http.MethodGet, "/admin", http.Header{"Authorization": {"Bearer agent-token"}})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestPreferredLanguage(t *testing.T) {
	// Without loaded bundles only the default language is supported.
	assert.Equal(t, "fr", preferredLanguage("fr-FR,fr;q=0.9,en;q=0.8"))
	assert.Equal(t, "fr", preferredLanguage(""))
	assert.Equal(t, "fr", preferredLanguage("de-DE"))
}

func TestRateLimiter(t *testing.T) {
	r := gin.New()
	r.GET("/ping", NewRateLimiter(rate.Every(time.Hour), 2).Middleware(), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	assert.Equal(t, http.StatusNoContent, serve(r, http.MethodGet, "/ping", nil).Code)
	assert.Equal(t, http.StatusNoContent, serve(r, http.MethodGet, "/ping", nil).Code)

	w := serve(r, http.MethodGet, "/ping", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
}

func TestRateLimiter_SweepsIdleVisitors(t *testing.T) {
	rl := NewRateLimiter(rate.Every(time.Second), 1)
	now := time.Now()
	rl.now = func() time.Time { return now }

	rl.getVisitor("10.0.0.1")
	now = now.Add(visitorTTL + 2*time.Minute)
	rl.getVisitor("10.0.0.2")

	assert.Len(t, rl.visitors, 1)
	assert.Contains(t, rl.visitors, "10.0.0.2")
}

func TestAuditLogMiddleware(t *testing.T) {
	store := repositorytest.New()
	accountID := uuid.New()
	caseID := uuid.New()

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("account_id", accountID)
		c.Next()
	})
	r.Use(AuditLogMiddleware(store))
	r.POST("/v1/cases/:id/submit", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/v1/cases/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	serve(r, http.MethodGet, "/v1/cases/"+caseID.String(), nil)
	serve(r, http.MethodPost, "/v1/cases/"+caseID.String()+"/submit", nil)

	var logs []models.AuditLog
	require.Eventually(t, func() bool {
		var err error
		logs, _, err = store.ListAuditLogs(context.Background(), repository.Page{Page: 1, Limit: 10})
		return err == nil && len(logs) == 1
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, "POST /v1/cases/:id/submit", logs[0].Action)
	assert.Equal(t, "cases", logs[0].ResourceType)
	assert.Equal(t, caseID, *logs[0].ResourceID)
	assert.Equal(t, accountID, *logs[0].ActorID)
	assert.Equal(t, http.StatusOK, logs[0].StatusCode)
}

func TestCORS(t *testing.T) {
	r := gin.New()
	r.Use(CORS([]string{"https://registry.example"}))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := serve(r, http.MethodGet, "/ping", http.Header{"Origin": {"https://registry.example"}})
	assert.Equal(t, "https://registry.example", w.Header().Get("Access-Control-Allow-Origin"))

	w = serve(r, http.MethodGet, "/ping", http.Header{"Origin": {"https://evil.example"}})
	assert.Equal(t, http.StatusForbidden, w.Code)
}
