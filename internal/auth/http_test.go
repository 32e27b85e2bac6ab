// ABOUTME: Tests for the API key and admin HTTP middleware
// ABOUTME: Covers scope gating, failure events, event suppression and bearer token checks

package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/passkey-gateway/internal/apikey"
	"github.com/2389/passkey-gateway/internal/eventlog"
	"github.com/2389/passkey-gateway/internal/store"
)

func statusWriter(w http.ResponseWriter, r *http.Request, err error) {
	w.WriteHeader(http.StatusUnauthorized)
}

func serveWithEvents(t *testing.T, f *testFixture, scope apikey.Scope, req *http.Request, handler http.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()
	h := eventlog.Middleware(f.store, nil, nil)(RequireScope(f.resolver, scope, statusWriter)(handler))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRequireScope_Allows(t *testing.T) {
	f := setupFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/signin/begin", nil)
	req.Header.Set(HeaderApiKey, f.public)

	var got AuthContext
	rec := serveWithEvents(t, f, apikey.ScopeLogin, req, func(w http.ResponseWriter, r *http.Request) {
		got = MustFromContext(r.Context())
		eventlog.Record(r.Context(), eventlog.NewEvent(store.EventSignInSucceeded, store.SeverityInfo, "ok"))
		w.WriteHeader(http.StatusOK)
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "acme", got.Tenant)

	events, err := f.store.ListEvents(context.Background(), store.EventFilter{Tenant: "acme"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, got.AbbreviatedKey, events[0].AbbreviatedKey)
}

func TestRequireScope_RecordsFailure(t *testing.T) {
	f := setupFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/signin/verify", nil)
	req.Header.Set(HeaderApiKey, f.public)

	called := false
	rec := serveWithEvents(t, f, apikey.ScopeTokenVerify, req, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	assert.False(t, called)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	events, err := f.store.ListEvents(context.Background(), store.EventFilter{EventType: store.EventApiAuthFailed})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "acme", events[0].Tenant)
	assert.Equal(t, store.SeverityWarning, events[0].Severity)
	assert.NotContains(t, events[0].Message, f.public)
}

func TestRequireScope_SuppressesWhenLoggingDisabled(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.UpdateFeatures(ctx, "acme", store.Features{EventLogging: false}))
	f.features.Invalidate(ctx, "acme")

	req := httptest.NewRequest(http.MethodPost, "/signin/begin", nil)
	req.Header.Set(HeaderApiKey, f.public)

	rec := serveWithEvents(t, f, apikey.ScopeLogin, req, func(w http.ResponseWriter, r *http.Request) {
		eventlog.Record(r.Context(), eventlog.NewEvent(store.EventSignInSucceeded, store.SeverityInfo, "ok"))
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	events, err := f.store.ListEvents(ctx, store.EventFilter{Tenant: "acme"})
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestRequireAdmin(t *testing.T) {
	verifier, err := NewJWTVerifier(testSecret)
	require.NoError(t, err)
	valid, err := verifier.Generate("operator", time.Hour)
	require.NoError(t, err)
	expired, err := verifier.Generate("operator", -time.Hour)
	require.NoError(t, err)

	var subject string
	handler := RequireAdmin(verifier)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject, _ = AdminFromContext(r)
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"valid", "Bearer " + valid, http.StatusNoContent},
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"empty bearer", "Bearer ", http.StatusUnauthorized},
		{"expired", "Bearer " + expired, http.StatusUnauthorized},
		{"garbage", "Bearer nope", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin/tenants", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
			if tt.want != http.StatusNoContent {
				assert.Contains(t, rec.Body.String(), `"error":"unauthenticated"`)
			}
		})
	}
	assert.Equal(t, "operator", subject)
}
