// ABOUTME: HTTP tests for the admin API
// ABOUTME: Covers bearer auth, tenant and key management, signing key rotation, reports and event listing

package gateway

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/passkey-gateway/internal/apikey"
	"github.com/2389/passkey-gateway/internal/auth"
	"github.com/2389/passkey-gateway/internal/store"
)

func TestAdminAuth(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/admin/tenants", nil, nil)
	requireError(t, rec, http.StatusUnauthorized, "unauthenticated")

	rec = f.do(t, http.MethodGet, "/admin/tenants", nil, http.Header{"Authorization": {"Bearer not-a-jwt"}})
	requireError(t, rec, http.StatusUnauthorized, "unauthenticated")

	other, err := auth.NewJWTVerifier([]byte("ffffffffffffffffffffffffffffffff"))
	require.NoError(t, err)
	forged, err := other.Generate("ops", time.Hour)
	require.NoError(t, err)
	rec = f.do(t, http.MethodGet, "/admin/tenants", nil, http.Header{"Authorization": {"Bearer " + forged}})
	requireError(t, rec, http.StatusUnauthorized, "unauthenticated")

	// API keys do not open the admin API.
	rec = f.do(t, http.MethodGet, "/admin/tenants", nil, http.Header{auth.HeaderApiSecret: {f.secretKey}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminTenants(t *testing.T) {
	f := newFixture(t)

	rec := f.admin(t, http.MethodPost, "/admin/tenants", CreateTenantRequest{Name: "globex"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[TenantResponse](t, rec)
	assert.Equal(t, "globex", created.Name)
	assert.Equal(t, store.DefaultFeatures(), created.Features)

	rec = f.admin(t, http.MethodPost, "/admin/tenants", CreateTenantRequest{Name: "globex"})
	requireError(t, rec, http.StatusConflict, "conflict")

	rec = f.admin(t, http.MethodPost, "/admin/tenants", CreateTenantRequest{Name: "Not Valid!"})
	requireError(t, rec, http.StatusBadRequest, "invalid_request")

	rec = f.admin(t, http.MethodGet, "/admin/tenants", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var names []string
	for _, tenant := range decode[[]TenantResponse](t, rec) {
		names = append(names, tenant.Name)
	}
	assert.ElementsMatch(t, []string{"acme", "globex"}, names)

	features := store.Features{EventLogging: true, AllowAttestation: true}
	rec = f.admin(t, http.MethodPut, "/admin/tenants/globex/features", features)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, features, decode[TenantResponse](t, rec).Features)

	rec = f.admin(t, http.MethodPut, "/admin/tenants/missing/features", features)
	requireError(t, rec, http.StatusNotFound, "not_found")
}

func TestAdminApiKeys(t *testing.T) {
	f := newFixture(t)

	rec := f.admin(t, http.MethodPost, "/admin/tenants/acme/keys",
		CreateApiKeyRequest{Kind: apikey.KindPublic, Scopes: []apikey.Scope{apikey.ScopeLogin}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	created := decode[ApiKeyResponse](t, rec)
	assert.NotEmpty(t, created.Key)
	assert.Equal(t, "acme", created.Tenant)
	assert.Equal(t, []apikey.Scope{apikey.ScopeLogin}, created.Scopes)

	rec = f.admin(t, http.MethodGet, "/admin/tenants/acme/keys", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	listed := decode[[]ApiKeyResponse](t, rec)
	assert.Len(t, listed, 3)
	for _, k := range listed {
		assert.Empty(t, k.Key, "plaintext keys are only returned on creation")
	}

	rec = f.admin(t, http.MethodPost, "/admin/keys/"+created.ID+"/lock", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[ApiKeyResponse](t, rec).IsLocked)

	rec = f.admin(t, http.MethodPost, "/admin/keys/"+created.ID+"/unlock", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[ApiKeyResponse](t, rec).IsLocked)

	rec = f.admin(t, http.MethodPost, "/admin/keys/"+created.ID+"/scopes",
		AddScopesRequest{Scopes: []apikey.Scope{apikey.ScopeRegister, apikey.ScopeLogin}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.ElementsMatch(t, []apikey.Scope{apikey.ScopeLogin, apikey.ScopeRegister}, decode[ApiKeyResponse](t, rec).Scopes)

	// The new scope takes effect on the next request.
	rec = f.do(t, http.MethodPost, "/register/begin", TokenRequest{Token: "x"}, http.Header{auth.HeaderApiKey: {created.Key}})
	assert.NotEqual(t, http.StatusForbidden, rec.Code)
}

func TestAdminApiKeys_Rejections(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		path   string
		body   any
		status int
		code   string
	}{
		{"unknown tenant", "/admin/tenants/missing/keys",
			CreateApiKeyRequest{Kind: apikey.KindPublic, Scopes: []apikey.Scope{apikey.ScopeLogin}}, http.StatusNotFound, "not_found"},
		{"unknown kind", "/admin/tenants/acme/keys",
			CreateApiKeyRequest{Kind: "private", Scopes: []apikey.Scope{apikey.ScopeLogin}}, http.StatusBadRequest, "invalid_request"},
		{"scope not allowed for kind", "/admin/tenants/acme/keys",
			CreateApiKeyRequest{Kind: apikey.KindPublic, Scopes: []apikey.Scope{apikey.ScopeTokenVerify}}, http.StatusBadRequest, "invalid_scope"},
		{"lock unknown key", "/admin/keys/missing/lock", nil, http.StatusNotFound, "not_found"},
		{"empty scopes", "/admin/keys/missing/scopes", AddScopesRequest{}, http.StatusBadRequest, "invalid_request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			requireError(t, f.admin(t, http.MethodPost, tt.path, tt.body), tt.status, tt.code)
		})
	}

	rec := f.admin(t, http.MethodGet, "/admin/tenants/missing/keys", nil)
	requireError(t, rec, http.StatusNotFound, "not_found")
}

func TestAdminRotateSigningKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	before, err := f.gw.keys.GetActiveKey(ctx, "acme")
	require.NoError(t, err)

	rec := f.admin(t, http.MethodPost, "/admin/tenants/acme/signing-keys/rotate", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rotated := decode[SigningKeyResponse](t, rec)
	assert.Equal(t, "acme", rotated.Tenant)
	assert.Greater(t, rotated.KeyID, before.KeyID)

	after, err := f.gw.keys.GetActiveKey(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, rotated.KeyID, after.KeyID)

	rec = f.admin(t, http.MethodPost, "/admin/tenants/missing/signing-keys/rotate", nil)
	requireError(t, rec, http.StatusNotFound, "not_found")
}

func TestAdminReports(t *testing.T) {
	f := newFixture(t)

	rec := f.admin(t, http.MethodGet, "/admin/tenants/acme/reports", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]ReportResponse](t, rec))

	now := time.Now().UTC()
	for i, day := range []time.Time{now.AddDate(0, 0, -1), now} {
		require.NoError(t, f.gw.store.UpsertCredentialReport(context.Background(), &store.CredentialReport{
			Tenant:      "acme",
			Date:        day.Format(time.DateOnly),
			Users:       i + 1,
			Credentials: i + 2,
			UpdatedAt:   day,
		}))
	}

	rec = f.admin(t, http.MethodGet, "/admin/tenants/acme/reports?limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	reports := decode[[]ReportResponse](t, rec)
	require.Len(t, reports, 1)
	assert.Equal(t, now.Format(time.DateOnly), reports[0].Date)
	assert.Equal(t, 2, reports[0].Users)

	rec = f.admin(t, http.MethodGet, "/admin/tenants/acme/reports?limit=zero", nil)
	requireError(t, rec, http.StatusBadRequest, "invalid_request")
}

func TestAdminEvents(t *testing.T) {
	f := newFixture(t)

	rec := f.admin(t, http.MethodGet, "/admin/events?tenant=acme&type=api_key_created", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	page := decode[ListEventsResponse](t, rec)
	require.Len(t, page.Events, 2)
	assert.Empty(t, page.NextCursor)
	for _, e := range page.Events {
		assert.Equal(t, "admin:ops", e.PerformedBy)
		assert.Equal(t, "acme", e.Tenant)
	}

	rec = f.admin(t, http.MethodGet, "/admin/events?tenant=acme&limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	first := decode[ListEventsResponse](t, rec)
	require.Len(t, first.Events, 1)
	require.NotEmpty(t, first.NextCursor)

	rec = f.admin(t, http.MethodGet, "/admin/events?tenant=acme&limit=1&cursor="+first.NextCursor, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	second := decode[ListEventsResponse](t, rec)
	require.Len(t, second.Events, 1)
	assert.NotEqual(t, first.Events[0].ID, second.Events[0].ID)

	future := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	rec = f.admin(t, http.MethodGet, "/admin/events?since="+future, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[ListEventsResponse](t, rec).Events)

	requireError(t, f.admin(t, http.MethodGet, "/admin/events?cursor=%21%21", nil), http.StatusBadRequest, "invalid_request")
	requireError(t, f.admin(t, http.MethodGet, "/admin/events?since=yesterday", nil), http.StatusBadRequest, "invalid_request")
	requireError(t, f.admin(t, http.MethodGet, "/admin/events?limit=-1", nil), http.StatusBadRequest, "invalid_request")
}
