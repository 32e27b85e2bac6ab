// ABOUTME: Tests for API key resolution
// ABOUTME: Covers source priority, kind mismatches, locked keys, scopes and feature caching

package auth

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/passkey-gateway/internal/apikey"
	"github.com/2389/passkey-gateway/internal/cache"
	"github.com/2389/passkey-gateway/internal/store"
)

type testFixture struct {
	store    *store.SQLiteStore
	resolver *Resolver
	features *FeatureCache
	public   string // raw public key with register+login
	secret   string // raw secret key with token_register
	locked   string // raw public key, locked, with login
}

func createKey(t *testing.T, s *store.SQLiteStore, tenant string, kind apikey.Kind, scopes ...apikey.Scope) (string, *apikey.ApiKey) {
	t.Helper()
	raw, material, err := apikey.Generate(tenant, kind)
	require.NoError(t, err)
	k, err := apikey.New(uuid.New().String(), tenant, kind, material, scopes, time.Now())
	require.NoError(t, err)
	require.NoError(t, s.CreateApiKey(context.Background(), k))
	return raw, k
}

func setupFixture(t *testing.T) *testFixture {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	require.NoError(t, s.CreateTenant(ctx, &store.Tenant{Name: "acme", Features: store.Features{EventLogging: true}}))

	f := &testFixture{store: s}
	f.public, _ = createKey(t, s, "acme", apikey.KindPublic, apikey.ScopeRegister, apikey.ScopeLogin)
	f.secret, _ = createKey(t, s, "acme", apikey.KindSecret, apikey.ScopeTokenRegister)

	var locked *apikey.ApiKey
	f.locked, locked = createKey(t, s, "acme", apikey.KindPublic, apikey.ScopeLogin)
	require.NoError(t, s.SetApiKeyLocked(ctx, locked.ID, true))

	f.features = NewFeatureCache(s, cache.NewMemory(time.Minute, ""), time.Minute, nil)
	f.resolver = NewResolver(s, f.features)
	return f
}

func TestResolve_Success(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	ac, err := f.resolver.Resolve(ctx, Credentials{ApiKey: f.public}, apikey.ScopeLogin)
	require.NoError(t, err)
	assert.Equal(t, "acme", ac.Tenant)
	assert.Equal(t, apikey.KindPublic, ac.Kind)
	assert.NotEmpty(t, ac.KeyID)
	assert.Len(t, ac.AbbreviatedKey, 4)
	assert.True(t, ac.Features.EventLogging)

	ac, err = f.resolver.Resolve(ctx, Credentials{ApiSecret: f.secret}, apikey.ScopeTokenRegister)
	require.NoError(t, err)
	assert.Equal(t, apikey.KindSecret, ac.Kind)

	ac, err = f.resolver.Resolve(ctx, Credentials{QueryKey: f.public}, apikey.ScopeRegister)
	require.NoError(t, err)
	assert.Equal(t, apikey.KindPublic, ac.Kind)
}

func TestResolve_Errors(t *testing.T) {
	f := setupFixture(t)
	_, otherMaterial, err := apikey.Generate("acme", apikey.KindPublic)
	require.NoError(t, err)

	tests := []struct {
		name  string
		creds Credentials
		scope apikey.Scope
		want  error
	}{
		{"nothing presented", Credentials{}, apikey.ScopeLogin, ErrUnauthenticated},
		{"unparseable header", Credentials{ApiKey: "garbage"}, apikey.ScopeLogin, apikey.ErrMalformedKey},
		{"secret in ApiKey header", Credentials{ApiKey: f.secret}, apikey.ScopeLogin, apikey.ErrMalformedKey},
		{"public in ApiSecret header", Credentials{ApiSecret: f.public}, apikey.ScopeTokenRegister, apikey.ErrMalformedKey},
		{"secret in query", Credentials{QueryKey: f.secret}, apikey.ScopeTokenRegister, ErrInvalidCredential},
		{"unknown material", Credentials{ApiKey: apikey.Format("acme", apikey.KindPublic, otherMaterial)}, apikey.ScopeLogin, ErrInvalidCredential},
		{"unknown tenant", Credentials{ApiKey: "ghost:public:abcdef"}, apikey.ScopeLogin, ErrInvalidCredential},
		{"missing scope", Credentials{ApiKey: f.public}, apikey.ScopeTokenVerify, ErrInsufficientScope},
		{"secret missing scope", Credentials{ApiSecret: f.secret}, apikey.ScopeTokenVerify, ErrInsufficientScope},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.resolver.Resolve(context.Background(), tt.creds, tt.scope)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, IsAuthError(err))
		})
	}
}

func TestResolve_LockedBeforeScope(t *testing.T) {
	f := setupFixture(t)

	// The locked key lacks token_verify as well; the lock must win.
	_, err := f.resolver.Resolve(context.Background(), Credentials{ApiKey: f.locked}, apikey.ScopeTokenVerify)
	assert.ErrorIs(t, err, ErrInvalidCredential)

	_, err = f.resolver.Resolve(context.Background(), Credentials{ApiKey: f.locked}, apikey.ScopeLogin)
	assert.ErrorIs(t, err, ErrInvalidCredential)
}

func TestResolve_SourcePriority(t *testing.T) {
	f := setupFixture(t)

	// ApiKey wins over ApiSecret and the query parameter, even when it is the weaker key.
	_, err := f.resolver.Resolve(context.Background(), Credentials{
		ApiKey:    f.locked,
		ApiSecret: f.secret,
		QueryKey:  f.public,
	}, "")
	assert.ErrorIs(t, err, ErrInvalidCredential)

	ac, err := f.resolver.Resolve(context.Background(), Credentials{
		ApiSecret: f.secret,
		QueryKey:  f.locked,
	}, "")
	require.NoError(t, err)
	assert.Equal(t, apikey.KindSecret, ac.Kind)
}

func TestResolve_ErrorCarriesAttempt(t *testing.T) {
	f := setupFixture(t)

	_, err := f.resolver.Resolve(context.Background(), Credentials{ApiKey: f.locked}, apikey.ScopeLogin)
	var authErr *Error
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, "acme", authErr.Tenant)
	assert.Equal(t, f.locked[len(f.locked)-4:], authErr.AbbreviatedKey)
}

func TestFeatureCache_InvalidateAfterUpdate(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	features, err := f.features.Get(ctx, "acme")
	require.NoError(t, err)
	assert.True(t, features.EventLogging)

	require.NoError(t, f.store.UpdateFeatures(ctx, "acme", store.Features{GenerateSignInToken: true}))

	features, err = f.features.Get(ctx, "acme")
	require.NoError(t, err)
	assert.True(t, features.EventLogging, "cached value served until invalidated")

	f.features.Invalidate(ctx, "acme")
	features, err = f.features.Get(ctx, "acme")
	require.NoError(t, err)
	assert.False(t, features.EventLogging)
	assert.True(t, features.GenerateSignInToken)
}

func TestFeatureCache_WithoutCache(t *testing.T) {
	f := setupFixture(t)
	fc := NewFeatureCache(f.store, nil, 0, nil)

	_, err := fc.Get(context.Background(), "ghost")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.NotPanics(t, func() { fc.Invalidate(context.Background(), "acme") })
}
