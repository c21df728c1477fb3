package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"contentplane/pkg/config"
	"contentplane/pkg/health"
	"contentplane/services/apikey"
	"contentplane/services/domain"
	"contentplane/services/entitlement"
	"contentplane/services/license"
	"contentplane/services/testutil"
	"contentplane/services/tenant"
	"contentplane/services/usage"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
	gin.SetMode(gin.TestMode)
}

type fakeSequence struct{ n int }

func (f *fakeSequence) NextTenantCode(ctx context.Context) (string, error) {
	f.n++
	return fmt.Sprintf("T%03d", f.n), nil
}

func newTestRouter(t *testing.T, authDisabled bool) (http.Handler, *apikey.Service) {
	t.Helper()

	db := testutil.NewTestDB(t,
		&tenant.Tenant{},
		&license.License{},
		&domain.DomainSlot{},
		&usage.GenerationEvent{},
		&apikey.APIKey{},
	)

	node, err := snowflake.NewNode(9)
	require.NoError(t, err)

	licenses := license.NewService(license.ServiceParams{
		DB:   db,
		Node: node,
		Keys: license.NewKeyGenerator(),
	})
	registry := domain.NewRegistry(domain.RegistryParams{DB: db, Node: node})
	counter := usage.NewCounter(usage.CounterParams{DB: db, Node: node})
	engine := entitlement.NewEngine(entitlement.EngineParams{
		Licenses: licenses,
		Registry: registry,
		Counter:  counter,
	})
	tenants := tenant.NewService(tenant.ServiceParams{
		DB:   db,
		Node: node,
		Seq:  &fakeSequence{},
		Keys: license.NewKeyGenerator(),
	})
	apikeys := apikey.NewService(apikey.ServiceParams{DB: db, Node: node})

	handler := NewHandler(HandlerParams{
		Engine:   engine,
		Licenses: licenses,
		Registry: registry,
		Counter:  counter,
		Tenants:  tenants,
		APIKeys:  apikeys,
	})

	cfg := &config.Config{}
	cfg.Security.AuthDisabled = authDisabled

	router := ProvideRouter(RouterParams{
		Config:  cfg,
		Handler: handler,
		Health:  health.ProvideHealth(health.HealthParams{DB: db}),
		APIKeys: apikeys,
	})
	return router, apikeys
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoints(t *testing.T) {
	router, _ := newTestRouter(t, true)

	rec := doJSON(t, router, http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/readyz", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthorizeEndpointDenialsAre200s(t *testing.T) {
	router, _ := newTestRouter(t, true)

	rec := doJSON(t, router, http.MethodPost, "/v1/entitlements/authorize", map[string]any{
		"license_key": "NOPE-0000-0000-0000-0000",
		"domain":      "a.com",
		"operation":   "validate",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var decision entitlement.Decision
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decision))
	require.False(t, decision.Allowed)
	require.Equal(t, entitlement.DenyInvalidKey, decision.Denial.Reason)
}

func TestTenantAndAuthorizeFlow(t *testing.T) {
	router, _ := newTestRouter(t, true)

	rec := doJSON(t, router, http.MethodPost, "/v1/tenants", map[string]any{
		"name": "Acme Media",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created struct {
		Tenant  tenant.Tenant   `json:"tenant"`
		License license.License `json:"license"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.License.LicenseKey)

	rec = doJSON(t, router, http.MethodPost, "/v1/entitlements/authorize", map[string]any{
		"license_key": created.License.LicenseKey,
		"domain":      "blog.acme.com",
		"operation":   "validate",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var decision entitlement.Decision
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decision))
	require.True(t, decision.Allowed)
	require.Equal(t, license.Active, decision.License.Status)
}

func TestListTenantsPaginates(t *testing.T) {
	router, _ := newTestRouter(t, true)

	for _, name := range []string{"One", "Two", "Three"} {
		rec := doJSON(t, router, http.MethodPost, "/v1/tenants", map[string]any{"name": name}, nil)
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := doJSON(t, router, http.MethodGet, "/v1/tenants?limit=2", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var page struct {
		Tenants  []tenant.Tenant `json:"tenants"`
		PageInfo struct {
			NextCursor string `json:"next_cursor"`
			HasMore    bool   `json:"has_more"`
		} `json:"page_info"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Tenants, 2)
	require.True(t, page.PageInfo.HasMore)

	rec = doJSON(t, router, http.MethodGet, "/v1/tenants?limit=2&cursor="+url.QueryEscape(page.PageInfo.NextCursor), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Tenants, 1)
	require.False(t, page.PageInfo.HasMore)
}

func TestUnknownLicenseIs404(t *testing.T) {
	router, _ := newTestRouter(t, true)

	rec := doJSON(t, router, http.MethodGet, "/v1/licenses/MISSING-KEY", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminRoutesRequireAPIKey(t *testing.T) {
	router, apikeys := newTestRouter(t, false)

	rec := doJSON(t, router, http.MethodPost, "/v1/tenants", map[string]any{
		"name": "Acme Media",
	}, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	key, secret, err := apikeys.Create(context.Background(), apikey.CreateInput{Name: "ci"})
	require.NoError(t, err)

	rec = doJSON(t, router, http.MethodPost, "/v1/tenants", map[string]any{
		"name": "Acme Media",
	}, map[string]string{
		"X-API-Key": key.KeyID + "." + secret,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	// The authorize endpoint stays open; the license key is its credential.
	rec = doJSON(t, router, http.MethodPost, "/v1/entitlements/authorize", map[string]any{
		"license_key": "NOPE-0000-0000-0000-0000",
		"domain":      "a.com",
		"operation":   "validate",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}
