// ABOUTME: Admin API handlers for tenants, API keys, signing keys and audit events
// ABOUTME: Thin JSON adapters over admin.Service; the token subject is recorded as the actor

package gateway

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/2389/passkey-gateway/internal/apikey"
	"github.com/2389/passkey-gateway/internal/auth"
	"github.com/2389/passkey-gateway/internal/store"
)

// TenantResponse is the JSON form of a tenant.
type TenantResponse struct {
	Name      string         `json:"name"`
	CreatedAt string         `json:"created_at"`
	Features  store.Features `json:"features"`
}

// CreateTenantRequest is the body of POST /admin/tenants.
type CreateTenantRequest struct {
	Name     string          `json:"name"`
	Features *store.Features `json:"features,omitempty"`
}

// CreateApiKeyRequest is the body of POST /admin/tenants/{tenant}/keys.
type CreateApiKeyRequest struct {
	Kind   apikey.Kind    `json:"kind"`
	Scopes []apikey.Scope `json:"scopes"`
}

// ApiKeyResponse describes a key. Key is only set in the creation response.
type ApiKeyResponse struct {
	ID             string         `json:"id"`
	Tenant         string         `json:"tenant"`
	Kind           apikey.Kind    `json:"kind"`
	AbbreviatedKey string         `json:"abbreviated_key"`
	Scopes         []apikey.Scope `json:"scopes"`
	IsLocked       bool           `json:"is_locked"`
	CreatedAt      string         `json:"created_at"`
	Key            string         `json:"key,omitempty"`
}

// AddScopesRequest is the body of POST /admin/keys/{id}/scopes.
type AddScopesRequest struct {
	Scopes []apikey.Scope `json:"scopes"`
}

// SigningKeyResponse describes a signing key without its material.
type SigningKeyResponse struct {
	Tenant    string `json:"tenant"`
	KeyID     int64  `json:"key_id"`
	CreatedAt string `json:"created_at"`
}

// EventResponse is the JSON form of an audit event.
type EventResponse struct {
	ID             string `json:"id"`
	PerformedAt    string `json:"performed_at"`
	EventType      string `json:"event_type"`
	Severity       string `json:"severity"`
	Message        string `json:"message"`
	PerformedBy    string `json:"performed_by"`
	Subject        string `json:"subject,omitempty"`
	Tenant         string `json:"tenant,omitempty"`
	AbbreviatedKey string `json:"abbreviated_key,omitempty"`
}

// ListEventsResponse is one page of events.
type ListEventsResponse struct {
	Events     []EventResponse `json:"events"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// ReportResponse is the JSON form of a credential report.
type ReportResponse struct {
	Date        string `json:"date"`
	Users       int    `json:"users"`
	Credentials int    `json:"credentials"`
	UpdatedAt   string `json:"updated_at"`
}

func toTenantResponse(t *store.Tenant) TenantResponse {
	return TenantResponse{Name: t.Name, CreatedAt: t.CreatedAt.Format(time.RFC3339), Features: t.Features}
}

func toApiKeyResponse(k *apikey.ApiKey) ApiKeyResponse {
	scopes := k.Scopes
	if scopes == nil {
		scopes = []apikey.Scope{}
	}
	return ApiKeyResponse{
		ID:             k.ID,
		Tenant:         k.Tenant,
		Kind:           k.Kind,
		AbbreviatedKey: k.AbbreviatedKey,
		Scopes:         scopes,
		IsLocked:       k.IsLocked,
		CreatedAt:      k.CreatedAt.Format(time.RFC3339),
	}
}

// actor names the admin performing a request.
func actor(r *http.Request) string {
	if sub, ok := auth.AdminFromContext(r); ok {
		return "admin:" + sub
	}
	return "admin"
}

func (g *Gateway) handleListTenants(w http.ResponseWriter, r *http.Request) {
	tenants, err := g.store.ListTenants(r.Context())
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	resp := make([]TenantResponse, 0, len(tenants))
	for _, t := range tenants {
		resp = append(resp, toTenantResponse(t))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (g *Gateway) handleCreateTenant(w http.ResponseWriter, r *http.Request) {
	var req CreateTenantRequest
	if err := decodeJSON(w, r, &req); err != nil {
		g.writeError(w, r, err)
		return
	}

	t, err := g.admin.CreateTenant(r.Context(), actor(r), req.Name, req.Features)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTenantResponse(t))
}

func (g *Gateway) handleUpdateFeatures(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")

	var features store.Features
	if err := decodeJSON(w, r, &features); err != nil {
		g.writeError(w, r, err)
		return
	}
	if err := g.admin.UpdateFeatures(r.Context(), actor(r), tenant, features); err != nil {
		g.writeError(w, r, err)
		return
	}

	t, err := g.store.GetTenant(r.Context(), tenant)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTenantResponse(t))
}

func (g *Gateway) handleListApiKeys(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")
	if _, err := g.store.GetTenant(r.Context(), tenant); err != nil {
		g.writeError(w, r, err)
		return
	}

	keys, err := g.store.ListApiKeys(r.Context(), tenant)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	resp := make([]ApiKeyResponse, 0, len(keys))
	for _, k := range keys {
		resp = append(resp, toApiKeyResponse(k))
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleCreateApiKey returns the plaintext key. It is never retrievable again.
func (g *Gateway) handleCreateApiKey(w http.ResponseWriter, r *http.Request) {
	var req CreateApiKeyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		g.writeError(w, r, err)
		return
	}

	created, err := g.admin.CreateApiKey(r.Context(), actor(r), chi.URLParam(r, "tenant"), req.Kind, req.Scopes)
	if err != nil {
		g.writeError(w, r, err)
		return
	}

	resp := toApiKeyResponse(created.Key)
	resp.Key = created.Raw
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusCreated, resp)
}

func (g *Gateway) handleLockApiKey(w http.ResponseWriter, r *http.Request) {
	g.setApiKeyLocked(w, r, true)
}

func (g *Gateway) handleUnlockApiKey(w http.ResponseWriter, r *http.Request) {
	g.setApiKeyLocked(w, r, false)
}

func (g *Gateway) setApiKeyLocked(w http.ResponseWriter, r *http.Request, locked bool) {
	key, err := g.admin.SetApiKeyLocked(r.Context(), actor(r), chi.URLParam(r, "id"), locked)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toApiKeyResponse(key))
}

func (g *Gateway) handleAddScopes(w http.ResponseWriter, r *http.Request) {
	var req AddScopesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		g.writeError(w, r, err)
		return
	}

	key, err := g.admin.AddApiKeyScopes(r.Context(), actor(r), chi.URLParam(r, "id"), req.Scopes)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toApiKeyResponse(key))
}

func (g *Gateway) handleRotateSigningKey(w http.ResponseWriter, r *http.Request) {
	key, err := g.admin.RotateSigningKey(r.Context(), actor(r), chi.URLParam(r, "tenant"))
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SigningKeyResponse{
		Tenant:    key.Tenant,
		KeyID:     key.KeyID,
		CreatedAt: key.CreatedAt.Format(time.RFC3339),
	})
}

func (g *Gateway) handleListReports(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")
	limit, err := queryInt(r, "limit", 30)
	if err != nil {
		g.writeError(w, r, err)
		return
	}

	reports, err := g.store.ListCredentialReports(r.Context(), tenant, limit)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	resp := make([]ReportResponse, 0, len(reports))
	for _, rep := range reports {
		resp = append(resp, ReportResponse{
			Date:        rep.Date,
			Users:       rep.Users,
			Credentials: rep.Credentials,
			UpdatedAt:   rep.UpdatedAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleListEvents lists audit events newest first.
// Query: tenant, type, since, until (RFC 3339), limit, cursor.
func (g *Gateway) handleListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.EventFilter{
		Tenant:    q.Get("tenant"),
		EventType: store.EventType(q.Get("type")),
		Cursor:    q.Get("cursor"),
	}

	var err error
	if filter.Limit, err = queryInt(r, "limit", 50); err != nil {
		g.writeError(w, r, err)
		return
	}
	if filter.Since, err = queryTime(r, "since"); err != nil {
		g.writeError(w, r, err)
		return
	}
	if filter.Until, err = queryTime(r, "until"); err != nil {
		g.writeError(w, r, err)
		return
	}

	page, err := g.store.ListEventsPage(r.Context(), filter)
	if err != nil {
		g.writeError(w, r, err)
		return
	}

	resp := ListEventsResponse{Events: make([]EventResponse, 0, len(page.Events)), NextCursor: page.NextCursor}
	for _, e := range page.Events {
		resp.Events = append(resp.Events, EventResponse{
			ID:             e.ID,
			PerformedAt:    e.PerformedAt.Format(time.RFC3339Nano),
			EventType:      string(e.EventType),
			Severity:       string(e.Severity),
			Message:        e.Message,
			PerformedBy:    e.PerformedBy,
			Subject:        e.Subject,
			Tenant:         e.Tenant,
			AbbreviatedKey: e.AbbreviatedKey,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %s must be a positive integer", errBadRequest, name)
	}
	return n, nil
}

func queryTime(r *http.Request, name string) (*time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be an RFC 3339 timestamp", errBadRequest, name)
	}
	return &t, nil
}
