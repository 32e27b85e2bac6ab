// ABOUTME: Tests for the signing key store
// ABOUTME: Covers lazy provisioning, concurrent first use, rotation, caching and purge

package signingkey

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/passkey-gateway/internal/store"
)

func setupTestStore(t *testing.T, tenants ...string) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	for _, name := range tenants {
		require.NoError(t, s.CreateTenant(context.Background(), &store.Tenant{Name: name}))
	}
	return s
}

func TestGetActiveKey_ProvisionsFirstKey(t *testing.T) {
	s := setupTestStore(t, "acme")
	ks := New(s, Options{})
	ctx := context.Background()

	key, err := ks.GetActiveKey(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, int64(1), key.KeyID)
	assert.Len(t, key.Material, KeyLength)

	again, err := ks.GetActiveKey(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, key.Material, again.Material)
}

func TestGetActiveKey_ConcurrentFirstUse(t *testing.T) {
	s := setupTestStore(t, "acme")
	ks := New(s, Options{})
	ctx := context.Background()

	var wg sync.WaitGroup
	keys := make([]*Key, 20)
	errs := make([]error, 20)
	for i := range keys {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			keys[i], errs[i] = ks.GetActiveKey(ctx, "acme")
		}(i)
	}
	wg.Wait()

	for i := range keys {
		require.NoError(t, errs[i])
		assert.Equal(t, int64(1), keys[i].KeyID)
		assert.Equal(t, keys[0].Material, keys[i].Material)
	}

	all, err := s.ListSigningKeys(ctx, "acme")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

// racingRepo simulates another process inserting key 1 between our read and our insert.
type racingRepo struct {
	*store.SQLiteStore
	once sync.Once
}

func (r *racingRepo) InsertSigningKey(ctx context.Context, k *store.SigningKey) error {
	r.once.Do(func() {
		other := *k
		other.Material = make([]byte, KeyLength)
		other.Material[0] = 0xAA
		_ = r.SQLiteStore.InsertSigningKey(ctx, &other)
	})
	return r.SQLiteStore.InsertSigningKey(ctx, k)
}

func TestGetActiveKey_CrossProcessRaceRereads(t *testing.T) {
	s := setupTestStore(t, "acme")
	ks := New(&racingRepo{SQLiteStore: s}, Options{})

	key, err := ks.GetActiveKey(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, int64(1), key.KeyID)
	assert.Equal(t, byte(0xAA), key.Material[0], "winner's key is returned")
}

// gatedRepo holds LatestSigningKey until release is closed.
type gatedRepo struct {
	*store.SQLiteStore
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (r *gatedRepo) LatestSigningKey(ctx context.Context, tenant string) (*store.SigningKey, error) {
	r.once.Do(func() { close(r.entered) })
	<-r.release
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.SQLiteStore.LatestSigningKey(ctx, tenant)
}

func TestGetActiveKey_CancelledCallerDoesNotFailOthers(t *testing.T) {
	s := setupTestStore(t, "acme")
	repo := &gatedRepo{SQLiteStore: s, entered: make(chan struct{}), release: make(chan struct{})}
	ks := New(repo, Options{})

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := ks.GetActiveKey(firstCtx, "acme")
		firstErr <- err
	}()
	<-repo.entered

	type result struct {
		key *Key
		err error
	}
	second := make(chan result, 1)
	go func() {
		key, err := ks.GetActiveKey(context.Background(), "acme")
		second <- result{key, err}
	}()

	cancelFirst()
	select {
	case err := <-firstErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled caller kept waiting")
	}

	close(repo.release)
	select {
	case res := <-second:
		require.NoError(t, res.err)
		assert.Equal(t, int64(1), res.key.KeyID)
	case <-time.After(2 * time.Second):
		t.Fatal("second caller never returned")
	}
}

func TestGetKey(t *testing.T) {
	s := setupTestStore(t, "acme")
	ks := New(s, Options{})
	ctx := context.Background()

	_, err := ks.GetKey(ctx, "acme", 1)
	assert.ErrorIs(t, err, ErrKeyNotFound)

	active, err := ks.GetActiveKey(ctx, "acme")
	require.NoError(t, err)

	got, err := ks.GetKey(ctx, "acme", active.KeyID)
	require.NoError(t, err)
	assert.Equal(t, active.Material, got.Material)
}

func TestRotate(t *testing.T) {
	s := setupTestStore(t, "acme")
	ks := New(s, Options{})
	ctx := context.Background()

	first, err := ks.GetActiveKey(ctx, "acme")
	require.NoError(t, err)

	rotated, err := ks.Rotate(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, first.KeyID+1, rotated.KeyID)
	assert.NotEqual(t, first.Material, rotated.Material)

	active, err := ks.GetActiveKey(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, rotated.KeyID, active.KeyID, "rotation evicts the cached active key")

	old, err := ks.GetKey(ctx, "acme", first.KeyID)
	require.NoError(t, err, "old key stays available for verification")
	assert.Equal(t, first.Material, old.Material)
}

func TestRotate_WithoutExistingKey(t *testing.T) {
	s := setupTestStore(t, "acme")
	ks := New(s, Options{})

	key, err := ks.Rotate(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, int64(1), key.KeyID)
}

func TestPurgeExpired_NeverDeletesNewest(t *testing.T) {
	s := setupTestStore(t, "acme")
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	day := 24 * time.Hour

	for i, age := range []time.Duration{40 * day, 35 * day, 5 * day} {
		require.NoError(t, s.InsertSigningKey(ctx, &store.SigningKey{
			Tenant:    "acme",
			KeyID:     int64(i + 1),
			Material:  make([]byte, KeyLength),
			CreatedAt: now.Add(-age),
		}))
	}

	ks := New(s, Options{PurgeBatch: 1})
	n, err := ks.PurgeExpired(ctx, 30*day, now)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	keys, err := s.ListSigningKeys(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, int64(3), keys[0].KeyID)

	// Even with zero retention the newest key survives.
	n, err = ks.PurgeExpired(ctx, 0, now)
	require.NoError(t, err)
	assert.Zero(t, n)
}

// countingRepo records how many purge batches ran.
type countingRepo struct {
	*store.SQLiteStore
	batches int
	cancel  context.CancelFunc
}

func (r *countingRepo) PurgeSigningKeys(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	r.batches++
	n, err := r.SQLiteStore.PurgeSigningKeys(ctx, cutoff, limit)
	if r.batches == 1 {
		r.cancel()
	}
	return n, err
}

func TestPurgeExpired_StopsBetweenBatchesOnCancel(t *testing.T) {
	s := setupTestStore(t, "acme")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	old := time.Now().UTC().Add(-100 * 24 * time.Hour)
	for i := int64(1); i <= 5; i++ {
		require.NoError(t, s.InsertSigningKey(ctx, &store.SigningKey{
			Tenant: "acme", KeyID: i, Material: make([]byte, KeyLength), CreatedAt: old,
		}))
	}

	repo := &countingRepo{SQLiteStore: s, cancel: cancel}
	ks := New(repo, Options{PurgeBatch: 1})

	n, err := ks.PurgeExpired(ctx, time.Hour, time.Now())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 1, repo.batches)
}
