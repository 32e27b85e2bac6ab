// ABOUTME: Tests for signing key store operations
// ABOUTME: Covers latest-key lookup, duplicate key IDs and the batched purge query

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func insertKey(t *testing.T, s *SQLiteStore, tenant string, id int64, created time.Time) {
	t.Helper()
	require.NoError(t, s.InsertSigningKey(context.Background(), &SigningKey{
		Tenant:    tenant,
		KeyID:     id,
		Material:  make([]byte, 32),
		CreatedAt: created,
	}))
}

func TestSigningKeys_Latest(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	createTestTenant(t, store, "acme")

	_, err := store.LatestSigningKey(ctx, "acme")
	assert.ErrorIs(t, err, ErrNotFound)

	now := time.Now().UTC()
	insertKey(t, store, "acme", 1, now.Add(-time.Hour))
	insertKey(t, store, "acme", 2, now)

	latest, err := store.LatestSigningKey(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, int64(2), latest.KeyID)
	assert.Len(t, latest.Material, 32)

	old, err := store.GetSigningKey(ctx, "acme", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), old.KeyID)

	_, err = store.GetSigningKey(ctx, "acme", 3)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSigningKeys_DuplicateKeyID(t *testing.T) {
	store := setupTestStore(t)
	createTestTenant(t, store, "acme")
	insertKey(t, store, "acme", 1, time.Now())

	err := store.InsertSigningKey(context.Background(), &SigningKey{
		Tenant: "acme", KeyID: 1, Material: make([]byte, 32), CreatedAt: time.Now(),
	})
	assert.ErrorIs(t, err, ErrDuplicateSigningKey)
}

func TestSigningKeys_PurgeKeepsNewestPerTenant(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	createTestTenant(t, store, "acme")
	createTestTenant(t, store, "stale")

	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	day := 24 * time.Hour

	insertKey(t, store, "acme", 1, now.Add(-40*day))
	insertKey(t, store, "acme", 2, now.Add(-35*day))
	insertKey(t, store, "acme", 3, now.Add(-5*day))

	// A tenant whose only keys are all old keeps its newest one.
	insertKey(t, store, "stale", 1, now.Add(-90*day))
	insertKey(t, store, "stale", 2, now.Add(-80*day))

	cutoff := now.Add(-30 * day)
	n, err := store.PurgeSigningKeys(ctx, cutoff, 500)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	keys, err := store.ListSigningKeys(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, int64(3), keys[0].KeyID)

	keys, err = store.ListSigningKeys(ctx, "stale")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, int64(2), keys[0].KeyID)

	n, err = store.PurgeSigningKeys(ctx, cutoff, 500)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSigningKeys_PurgeRespectsBatchLimit(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	createTestTenant(t, store, "acme")

	old := time.Now().UTC().Add(-365 * 24 * time.Hour)
	for i := int64(1); i <= 6; i++ {
		insertKey(t, store, "acme", i, old)
	}

	cutoff := time.Now().UTC()
	n, err := store.PurgeSigningKeys(ctx, cutoff, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = store.PurgeSigningKeys(ctx, cutoff, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	keys, err := store.ListSigningKeys(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, int64(6), keys[0].KeyID)
}
