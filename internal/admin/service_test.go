// ABOUTME: Tests for the management operations using a real SQLite store
// ABOUTME: Covers tenant validation, key generation with collision retry, locking, scopes and rotation

package admin

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/passkey-gateway/internal/apikey"
	"github.com/2389/passkey-gateway/internal/eventlog"
	"github.com/2389/passkey-gateway/internal/signingkey"
	"github.com/2389/passkey-gateway/internal/store"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "admin.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

type recordingInvalidator struct {
	tenants []string
}

func (r *recordingInvalidator) Invalidate(_ context.Context, tenant string) {
	r.tenants = append(r.tenants, tenant)
}

// collidingStore reports an abbreviation collision for the first n inserts.
type collidingStore struct {
	*store.SQLiteStore
	collisions int
	attempts   int
}

func (c *collidingStore) CreateApiKey(ctx context.Context, k *apikey.ApiKey) error {
	c.attempts++
	if c.attempts <= c.collisions {
		return store.ErrDuplicateApiKey
	}
	return c.SQLiteStore.CreateApiKey(ctx, k)
}

// withBuffer returns a context collecting events and a func flushing them.
func withBuffer(t *testing.T, s *store.SQLiteStore) (context.Context, func()) {
	t.Helper()
	buf := eventlog.NewBuffer(s)
	ctx := eventlog.WithBuffer(context.Background(), buf)
	return ctx, func() { require.NoError(t, buf.Flush(context.Background())) }
}

func TestCreateTenant(t *testing.T) {
	s := newTestStore(t)
	svc := NewService(s, nil, nil, nil)
	ctx, flush := withBuffer(t, s)

	tenant, err := svc.CreateTenant(ctx, "ops", "acme", nil)
	require.NoError(t, err)
	assert.Equal(t, store.DefaultFeatures(), tenant.Features)

	_, err = svc.CreateTenant(ctx, "ops", "acme", nil)
	assert.ErrorIs(t, err, store.ErrDuplicateTenant)

	custom := store.Features{GenerateSignInToken: true}
	tenant, err = svc.CreateTenant(ctx, "ops", "globex", &custom)
	require.NoError(t, err)
	assert.True(t, tenant.Features.GenerateSignInToken)
	assert.False(t, tenant.Features.EventLogging)

	flush()
	events, err := s.ListEvents(context.Background(), store.EventFilter{EventType: store.EventTenantCreated})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "ops", events[0].PerformedBy)
}

func TestValidateTenantName(t *testing.T) {
	for _, name := range []string{"acme", "a", "acme-corp_2", "0day"} {
		assert.NoError(t, ValidateTenantName(name), name)
	}
	for _, name := range []string{"", "Acme", "ac:me", "-acme", "acme corp", strings.Repeat("a", 64)} {
		assert.ErrorIs(t, ValidateTenantName(name), ErrInvalidArgument, name)
	}
}

func TestUpdateFeatures(t *testing.T) {
	s := newTestStore(t)
	inv := &recordingInvalidator{}
	svc := NewService(s, nil, inv, nil)
	ctx := context.Background()

	_, err := svc.CreateTenant(ctx, "ops", "acme", nil)
	require.NoError(t, err)

	require.NoError(t, svc.UpdateFeatures(ctx, "ops", "acme", store.Features{AllowAttestation: true}))
	assert.Equal(t, []string{"acme"}, inv.tenants)

	got, err := s.GetTenant(ctx, "acme")
	require.NoError(t, err)
	assert.True(t, got.Features.AllowAttestation)
	assert.False(t, got.Features.EventLogging)

	err = svc.UpdateFeatures(ctx, "ops", "nobody", store.Features{})
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Len(t, inv.tenants, 1)
}

func TestCreateApiKey(t *testing.T) {
	s := newTestStore(t)
	svc := NewService(s, nil, nil, nil)
	ctx, flush := withBuffer(t, s)

	_, err := svc.CreateTenant(ctx, "ops", "acme", nil)
	require.NoError(t, err)

	created, err := svc.CreateApiKey(ctx, "ops", "acme", apikey.KindSecret, []apikey.Scope{apikey.ScopeTokenVerify})
	require.NoError(t, err)

	tenant, kind, material, err := apikey.Parse(created.Raw)
	require.NoError(t, err)
	assert.Equal(t, "acme", tenant)
	assert.Equal(t, apikey.KindSecret, kind)
	assert.Empty(t, created.Key.Material, "secret material must not be kept")
	assert.True(t, created.Key.Matches(material))

	stored, err := s.GetApiKey(context.Background(), created.Key.ID)
	require.NoError(t, err)
	assert.True(t, stored.Matches(material))

	flush()
	events, err := s.ListEvents(context.Background(), store.EventFilter{EventType: store.EventApiKeyCreated})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, created.Key.AbbreviatedKey, events[0].AbbreviatedKey)
	assert.NotContains(t, events[0].Message, material)
}

func TestCreateApiKey_Rejections(t *testing.T) {
	s := newTestStore(t)
	svc := NewService(s, nil, nil, nil)
	ctx := context.Background()
	_, err := svc.CreateTenant(ctx, "ops", "acme", nil)
	require.NoError(t, err)

	_, err = svc.CreateApiKey(ctx, "ops", "nobody", apikey.KindPublic, []apikey.Scope{apikey.ScopeLogin})
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = svc.CreateApiKey(ctx, "ops", "acme", apikey.KindPublic, []apikey.Scope{apikey.ScopeTokenVerify})
	assert.ErrorIs(t, err, apikey.ErrInvalidScope)

	_, err = svc.CreateApiKey(ctx, "ops", "acme", apikey.Kind("private"), nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestCreateApiKey_RetriesCollisions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateTenant(ctx, &store.Tenant{Name: "acme"}))

	flaky := &collidingStore{SQLiteStore: s, collisions: 2}
	svc := NewService(flaky, nil, nil, nil)

	created, err := svc.CreateApiKey(ctx, "ops", "acme", apikey.KindPublic, []apikey.Scope{apikey.ScopeLogin})
	require.NoError(t, err)
	assert.Equal(t, 3, flaky.attempts)

	keys, err := s.ListApiKeys(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, created.Key.ID, keys[0].ID)

	exhausted := &collidingStore{SQLiteStore: s, collisions: maxKeyAttempts}
	svc = NewService(exhausted, nil, nil, nil)
	_, err = svc.CreateApiKey(ctx, "ops", "acme", apikey.KindPublic, []apikey.Scope{apikey.ScopeLogin})
	assert.ErrorIs(t, err, store.ErrDuplicateApiKey)
}

func TestLockAndScopes(t *testing.T) {
	s := newTestStore(t)
	svc := NewService(s, nil, nil, nil)
	ctx, flush := withBuffer(t, s)
	_, err := svc.CreateTenant(ctx, "ops", "acme", nil)
	require.NoError(t, err)

	created, err := svc.CreateApiKey(ctx, "ops", "acme", apikey.KindPublic, []apikey.Scope{apikey.ScopeLogin})
	require.NoError(t, err)

	locked, err := svc.SetApiKeyLocked(ctx, "ops", created.Key.ID, true)
	require.NoError(t, err)
	assert.True(t, locked.IsLocked)

	unlocked, err := svc.SetApiKeyLocked(ctx, "ops", created.Key.ID, false)
	require.NoError(t, err)
	assert.False(t, unlocked.IsLocked)

	_, err = svc.SetApiKeyLocked(ctx, "ops", "missing", true)
	assert.ErrorIs(t, err, store.ErrNotFound)

	updated, err := svc.AddApiKeyScopes(ctx, "ops", created.Key.ID, []apikey.Scope{apikey.ScopeRegister, apikey.ScopeLogin})
	require.NoError(t, err)
	assert.ElementsMatch(t, []apikey.Scope{apikey.ScopeLogin, apikey.ScopeRegister}, updated.Scopes)

	_, err = svc.AddApiKeyScopes(ctx, "ops", created.Key.ID, []apikey.Scope{apikey.ScopeTokenRegister})
	assert.ErrorIs(t, err, apikey.ErrInvalidScope)

	_, err = svc.AddApiKeyScopes(ctx, "ops", created.Key.ID, nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	flush()
	for _, et := range []store.EventType{store.EventApiKeyLocked, store.EventApiKeyUnlocked, store.EventApiKeyScopesAdded} {
		events, err := s.ListEvents(context.Background(), store.EventFilter{Tenant: "acme", EventType: et})
		require.NoError(t, err)
		assert.Len(t, events, 1, et)
	}
}

func TestRotateSigningKey(t *testing.T) {
	s := newTestStore(t)
	svc := NewService(s, signingkey.New(s, signingkey.Options{}), nil, nil)
	ctx := context.Background()
	_, err := svc.CreateTenant(ctx, "ops", "acme", nil)
	require.NoError(t, err)

	first, err := svc.RotateSigningKey(ctx, "ops", "acme")
	require.NoError(t, err)
	second, err := svc.RotateSigningKey(ctx, "ops", "acme")
	require.NoError(t, err)
	assert.Equal(t, first.KeyID+1, second.KeyID)

	_, err = svc.RotateSigningKey(ctx, "ops", "nobody")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
