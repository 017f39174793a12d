package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/orgstore/orgstore/internal/audit"
	"github.com/orgstore/orgstore/internal/auth"
	"github.com/orgstore/orgstore/internal/config"
	"github.com/orgstore/orgstore/internal/lock"
	"github.com/orgstore/orgstore/internal/services"
	"github.com/orgstore/orgstore/internal/storage"
	"github.com/orgstore/orgstore/internal/storage/memory"
	"github.com/orgstore/orgstore/internal/testutil"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) PingContext(ctx context.Context) error { return f(ctx) }

// pingFailStore reports the namespace backend as unreachable.
type pingFailStore struct {
	storage.NamespaceStore
}

func (pingFailStore) Ping(context.Context) error { return errors.New("connection refused") }

type testServer struct {
	router   *gin.Engine
	registry *testutil.Registry
	store    *memory.Store
	issuer   *auth.TokenIssuer
}

func testConfig() *config.Config {
	return &config.Config{
		Security: config.SecurityConfig{
			RateLimiting: config.RateLimitingConfig{Enabled: false},
		},
	}
}

func newTestServer(t *testing.T, cfg *config.Config, edit func(*Dependencies)) *testServer {
	t.Helper()
	hasher, err := auth.NewPasswordHasher(bcrypt.MinCost)
	require.NoError(t, err)
	issuer, err := auth.NewTokenIssuer("router-test-secret-that-is-32-chars", "orgstore", time.Hour, false)
	require.NoError(t, err)

	ts := &testServer{
		registry: testutil.NewRegistry(),
		store:    memory.New(),
		issuer:   issuer,
	}
	locker := lock.NewMemoryLocker()
	deps := Dependencies{
		DB:            pingerFunc(func(context.Context) error { return nil }),
		Store:         ts.store,
		Organizations: services.NewOrganizationService(ts.registry, ts.store, locker, hasher),
		Auth:          services.NewAdminAuthService(ts.registry, hasher, issuer),
		Documents:     services.NewDocumentService(ts.registry, ts.store, locker),
		Version:       "test",
	}
	if edit != nil {
		edit(&deps)
	}

	router, bg, err := NewRouter(cfg, deps)
	require.NoError(t, err)
	t.Cleanup(bg.Shutdown)
	ts.router = router
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}, token string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)

	var out map[string]interface{}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), "body: %s", w.Body.String())
	}
	return w, out
}

func (ts *testServer) create(t *testing.T, name, email, password string) {
	t.Helper()
	w, body := ts.do(t, http.MethodPost, "/org/create", gin.H{
		"organization_name": name, "email": email, "password": password,
	}, "")
	require.Equal(t, http.StatusOK, w.Code, "create %s: %v", name, body)
}

func (ts *testServer) login(t *testing.T, email, password string) string {
	t.Helper()
	w, body := ts.do(t, http.MethodPost, "/admin/login", gin.H{"email": email, "password": password}, "")
	require.Equal(t, http.StatusOK, w.Code, "login %s: %v", email, body)
	return body["access_token"].(string)
}

// ---------------------------------------------------------------------------
// System endpoints
// ---------------------------------------------------------------------------

func newHealthDB(t *testing.T, pingOK bool) *sql.DB {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	if pingOK {
		mock.ExpectPing()
	} else {
		mock.ExpectPing().WillReturnError(sql.ErrConnDone)
	}
	return db
}

func TestHealthCheckHandler(t *testing.T) {
	r := gin.New()
	r.GET("/health", healthCheckHandler(newHealthDB(t, true)))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"healthy"`)

	r = gin.New()
	r.GET("/health", healthCheckHandler(newHealthDB(t, false)))
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "database connection failed")
}

func TestReadiness_AllHealthy(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	ts := newTestServer(t, testConfig(), func(d *Dependencies) { d.Redis = rdb })
	w, body := ts.do(t, http.MethodGet, "/ready", nil, "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["ready"])
	assert.Equal(t, map[string]interface{}{
		"database": "healthy", "namespaces": "healthy", "redis": "healthy",
	}, body["checks"])
}

func TestReadiness_NamespaceBackendDown(t *testing.T) {
	ts := newTestServer(t, testConfig(), func(d *Dependencies) {
		d.Store = pingFailStore{d.Store}
	})
	w, body := ts.do(t, http.MethodGet, "/ready", nil, "")

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, false, body["ready"])
	checks := body["checks"].(map[string]interface{})
	assert.Equal(t, "unhealthy", checks["namespaces"])
	assert.Equal(t, "namespaces not ready", body["error"])
}

func TestVersion(t *testing.T) {
	ts := newTestServer(t, testConfig(), nil)
	w, body := ts.do(t, http.MethodGet, "/version", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "test", body["version"])
}

func TestNewRouter_BadRateLimitBackend(t *testing.T) {
	cfg := testConfig()
	cfg.Security.RateLimiting = config.RateLimitingConfig{Enabled: true, Backend: "redis", RequestsPerMinute: 10}
	_, _, err := NewRouter(cfg, Dependencies{})
	assert.Error(t, err)
}

// ---------------------------------------------------------------------------
// Lifecycle over HTTP
// ---------------------------------------------------------------------------

func TestLifecycleScenario(t *testing.T) {
	ts := newTestServer(t, testConfig(), nil)

	ts.create(t, "Acme", "a@x.com", "pw1")

	w, body := ts.do(t, http.MethodPost, "/org/create", gin.H{
		"organization_name": "Acme", "email": "b@y.com", "password": "pw2",
	}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Organization already exists", body["detail"])

	w, body = ts.do(t, http.MethodGet, "/org/get?organization_name=Acme", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "a@x.com", body["admin_email"])
	assert.Equal(t, "org_Acme", body["collection_name"])
	assert.NotContains(t, body, "admin_password_hash")

	token := ts.login(t, "a@x.com", "pw1")

	w, body = ts.do(t, http.MethodPost, "/admin/login", gin.H{"email": "a@x.com", "password": "wrong"}, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Invalid credentials", body["detail"])

	w, body = ts.do(t, http.MethodDelete, "/org/delete?organization_name=Acme", nil, token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Organization deleted successfully", body["message"])

	w, body = ts.do(t, http.MethodGet, "/org/get?organization_name=Acme", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Organization not found", body["detail"])
}

func TestLogin_ResponseShape(t *testing.T) {
	ts := newTestServer(t, testConfig(), nil)
	ts.create(t, "Acme", "a@x.com", "pw1")

	w, body := ts.do(t, http.MethodPost, "/admin/login", gin.H{"email": "A@X.com", "password": "pw1"}, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "bearer", body["token_type"])
	assert.Equal(t, float64(3600), body["expires_in"])

	claims, err := ts.issuer.Verify(body["access_token"].(string))
	require.NoError(t, err)
	assert.Equal(t, "Acme", claims.OrganizationID)
}

func TestCreate_ValidationErrors(t *testing.T) {
	ts := newTestServer(t, testConfig(), nil)

	tests := []struct {
		name       string
		body       gin.H
		wantDetail string
	}{
		{"missing password", gin.H{"organization_name": "Acme", "email": "a@x.com"}, "password is required"},
		{"bad email", gin.H{"organization_name": "Acme", "email": "nope", "password": "pw"}, "email must be a valid email address"},
		{"bad name", gin.H{"organization_name": "has space", "email": "a@x.com", "password": "pw"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, body := ts.do(t, http.MethodPost, "/org/create", tt.body, "")
			assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
			if tt.wantDetail != "" {
				assert.Equal(t, tt.wantDetail, body["detail"])
			}
		})
	}
	assert.Equal(t, 0, ts.registry.Len())
}

func TestGet_MissingQuery(t *testing.T) {
	ts := newTestServer(t, testConfig(), nil)
	w, body := ts.do(t, http.MethodGet, "/org/get", nil, "")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "organization_name is required", body["detail"])
}

func TestUpdate_RenameMigratesDocuments(t *testing.T) {
	ts := newTestServer(t, testConfig(), nil)
	ts.create(t, "Acme", "a@x.com", "pw1")
	token := ts.login(t, "a@x.com", "pw1")

	w, _ := ts.do(t, http.MethodPost, "/org/documents", []gin.H{{"sku": "A-1"}, {"sku": "A-2"}}, token)
	require.Equal(t, http.StatusCreated, w.Code)

	w, body := ts.do(t, http.MethodPut, "/org/update", gin.H{
		"organization_name": "Beta", "email": "a@x.com", "password": "pw2",
	}, "")
	require.Equal(t, http.StatusOK, w.Code, "%v", body)
	assert.Equal(t, "Organization updated successfully", body["message"])
	assert.Equal(t, "Beta", body["organization"].(map[string]interface{})["organization_name"])

	w, _ = ts.do(t, http.MethodGet, "/org/get?organization_name=Acme", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	newToken := ts.login(t, "a@x.com", "pw2")
	w, body = ts.do(t, http.MethodGet, "/org/documents", nil, newToken)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Beta", body["organization_name"])
	assert.Len(t, body["documents"], 2)

	// The old token names an organization that no longer exists.
	w, _ = ts.do(t, http.MethodGet, "/org/documents", nil, token)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUpdate_NameConflict(t *testing.T) {
	ts := newTestServer(t, testConfig(), nil)
	ts.create(t, "Acme", "a@x.com", "pw1")
	ts.create(t, "Beta", "b@y.com", "pw2")

	w, body := ts.do(t, http.MethodPut, "/org/update", gin.H{
		"organization_name": "Beta", "email": "a@x.com", "password": "pw3",
	}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Organization name 'Beta' already exists", body["detail"])
}

func TestUpdate_UnknownEmail(t *testing.T) {
	ts := newTestServer(t, testConfig(), nil)
	w, _ := ts.do(t, http.MethodPut, "/org/update", gin.H{
		"organization_name": "Acme", "email": "ghost@x.com", "password": "pw",
	}, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDelete_Authorization(t *testing.T) {
	ts := newTestServer(t, testConfig(), nil)
	ts.create(t, "Acme", "a@x.com", "pw1")
	ts.create(t, "Beta", "b@y.com", "pw2")
	acmeToken := ts.login(t, "a@x.com", "pw1")

	w, body := ts.do(t, http.MethodDelete, "/org/delete?organization_name=Beta", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Bearer", w.Header().Get("WWW-Authenticate"))
	assert.Equal(t, "Not authenticated", body["detail"])

	w, body = ts.do(t, http.MethodDelete, "/org/delete?organization_name=Beta", nil, "garbage")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Invalid or expired token", body["detail"])

	w, body = ts.do(t, http.MethodDelete, "/org/delete?organization_name=Beta", nil, acmeToken)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "Not authorized to delete this organization", body["detail"])

	_, err := ts.store.Get(context.Background(), "Beta")
	assert.NoError(t, err, "Beta namespace must survive rejected deletes")
	assert.Equal(t, 2, ts.registry.Len())
}

func TestDocuments_RequireSession(t *testing.T) {
	ts := newTestServer(t, testConfig(), nil)
	w, _ := ts.do(t, http.MethodGet, "/org/documents", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w, _ = ts.do(t, http.MethodPost, "/org/documents", gin.H{"a": 1}, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestDocuments_InvalidBodies(t *testing.T) {
	ts := newTestServer(t, testConfig(), nil)
	ts.create(t, "Acme", "a@x.com", "pw1")
	token := ts.login(t, "a@x.com", "pw1")

	for _, body := range []interface{}{"just a string", 42, gin.H{"_initialized": true}, []gin.H{}} {
		w, _ := ts.do(t, http.MethodPost, "/org/documents", body, token)
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code, "body %v", body)
	}

	w, body := ts.do(t, http.MethodGet, "/org/documents", nil, token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, body["documents"])
}

func TestDocuments_LargeIntegersRoundTrip(t *testing.T) {
	ts := newTestServer(t, testConfig(), nil)
	ts.create(t, "Acme", "a@x.com", "pw1")
	token := ts.login(t, "a@x.com", "pw1")

	w, _ := ts.do(t, http.MethodPost, "/org/documents", json.RawMessage(`{"sku":"A-1","serial":9007199254740993}`), token)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"serial":9007199254740993`)

	w, _ = ts.do(t, http.MethodGet, "/org/documents", nil, token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"serial":9007199254740993`)
}

func TestDocuments_TrailingDataRejected(t *testing.T) {
	ts := newTestServer(t, testConfig(), nil)
	ts.create(t, "Acme", "a@x.com", "pw1")
	token := ts.login(t, "a@x.com", "pw1")

	req := httptest.NewRequest(http.MethodPost, "/org/documents", bytes.NewBufferString(`{"a":1} {"b":2}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())
}

func TestLogin_RateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.Security.RateLimiting = config.RateLimitingConfig{Enabled: true, Backend: "memory", RequestsPerMinute: 1, Burst: 2}
	ts := newTestServer(t, cfg, nil)

	for i := 0; i < 2; i++ {
		w, _ := ts.do(t, http.MethodPost, "/admin/login", gin.H{"email": "a@x.com", "password": "pw"}, "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	}
	w, body := ts.do(t, http.MethodPost, "/admin/login", gin.H{"email": "a@x.com", "password": "pw"}, "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "Rate limit exceeded", body["detail"])
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestSecurityHeadersAndRequestID(t *testing.T) {
	ts := newTestServer(t, testConfig(), nil)
	w, _ := ts.do(t, http.MethodGet, "/health", nil, "")
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

type recordingShipper struct {
	entries []*audit.Entry
}

func (r *recordingShipper) Ship(_ context.Context, e *audit.Entry) error {
	r.entries = append(r.entries, e)
	return nil
}

func (r *recordingShipper) Close() error { return nil }

func TestAudit_DeleteRecordsActorAndTarget(t *testing.T) {
	shipper := &recordingShipper{}
	ts := newTestServer(t, testConfig(), func(d *Dependencies) { d.Audit = shipper })
	ts.create(t, "Acme", "a@x.com", "pw1")
	token := ts.login(t, "a@x.com", "pw1")

	w, _ := ts.do(t, http.MethodDelete, "/org/delete?organization_name=Acme", nil, token)
	require.Equal(t, http.StatusOK, w.Code)

	require.Len(t, shipper.entries, 3, "create, login and delete are audited")
	del := shipper.entries[2]
	assert.Equal(t, "DELETE /org/delete", del.Action)
	assert.Equal(t, "Acme", del.ActorOrganization)
	assert.Equal(t, "Acme", del.TargetOrganization)
	assert.True(t, del.Success)
	assert.NotEmpty(t, del.RequestID)
	assert.Empty(t, shipper.entries[0].ActorOrganization)
}
