// ABOUTME: Per-tenant signing key management: lazy provisioning, rotation and purge
// ABOUTME: Active keys are cached briefly; first-key creation is collapsed with singleflight

package signingkey

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/2389/passkey-gateway/internal/store"
)

// ErrKeyNotFound is returned when a tenant has no key with the requested ID.
var ErrKeyNotFound = errors.New("signing key not found")

// KeyLength is the size of generated key material in bytes.
const KeyLength = 32

// DefaultPurgeBatch is how many keys a single purge statement may delete.
const DefaultPurgeBatch = 500

// DefaultCacheTTL bounds how long a rotated-away key may still be handed out as active.
const DefaultCacheTTL = 30 * time.Second

// lookupTimeout bounds a shared active-key lookup, which outlives the caller
// that started it.
const lookupTimeout = 10 * time.Second

// Key is a signing key as used by the token codec.
type Key = store.SigningKey

// Repository is the persistence the keystore needs.
type Repository interface {
	LatestSigningKey(ctx context.Context, tenant string) (*store.SigningKey, error)
	GetSigningKey(ctx context.Context, tenant string, keyID int64) (*store.SigningKey, error)
	InsertSigningKey(ctx context.Context, k *store.SigningKey) error
	PurgeSigningKeys(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}

// Options tune a KeyStore. Zero values select defaults.
type Options struct {
	CacheTTL   time.Duration
	PurgeBatch int
	Now        func() time.Time
	Logger     *slog.Logger
}

// KeyStore hands out per-tenant signing keys.
type KeyStore struct {
	repo   Repository
	active *gocache.Cache
	sf     singleflight.Group
	batch  int
	now    func() time.Time
	logger *slog.Logger
}

// New creates a KeyStore over repo.
func New(repo Repository, opts Options) *KeyStore {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = DefaultCacheTTL
	}
	if opts.PurgeBatch <= 0 {
		opts.PurgeBatch = DefaultPurgeBatch
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &KeyStore{
		repo:   repo,
		active: gocache.New(opts.CacheTTL, time.Minute),
		batch:  opts.PurgeBatch,
		now:    opts.Now,
		logger: opts.Logger.With("component", "signingkey"),
	}
}

// GetActiveKey returns the tenant's newest key, creating key 1 on first use.
func (ks *KeyStore) GetActiveKey(ctx context.Context, tenant string) (*Key, error) {
	if v, ok := ks.active.Get(tenant); ok {
		return v.(*Key), nil
	}

	// The lookup is shared by every waiter, so it must not die with the first
	// caller's context; each caller still stops waiting on its own.
	ch := ks.sf.DoChan(tenant, func() (interface{}, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lookupTimeout)
		defer cancel()

		key, err := ks.repo.LatestSigningKey(lctx, tenant)
		if errors.Is(err, store.ErrNotFound) {
			key, err = ks.provisionFirst(lctx, tenant)
		}
		if err != nil {
			return nil, err
		}
		ks.active.SetDefault(tenant, key)
		return key, nil
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("loading active signing key for %s: %w", tenant, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, fmt.Errorf("loading active signing key for %s: %w", tenant, res.Err)
		}
		return res.Val.(*Key), nil
	}
}

// provisionFirst inserts key 1. Another process may win the race, in which
// case the unique constraint fires and the winner's key is re-read.
func (ks *KeyStore) provisionFirst(ctx context.Context, tenant string) (*Key, error) {
	key, err := ks.newKey(tenant, 1)
	if err != nil {
		return nil, err
	}
	err = ks.repo.InsertSigningKey(ctx, key)
	if errors.Is(err, store.ErrDuplicateSigningKey) {
		ks.logger.Debug("lost first-key race, re-reading", "tenant", tenant)
		return ks.repo.LatestSigningKey(ctx, tenant)
	}
	if err != nil {
		return nil, err
	}
	ks.logger.Info("provisioned first signing key", "tenant", tenant)
	return key, nil
}

// GetKey returns a specific key for verification.
func (ks *KeyStore) GetKey(ctx context.Context, tenant string, keyID int64) (*Key, error) {
	key, err := ks.repo.GetSigningKey(ctx, tenant, keyID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading signing key %s/%d: %w", tenant, keyID, err)
	}
	return key, nil
}

// Rotate creates a new active key for tenant. Older keys stay valid for
// verification until they are purged.
func (ks *KeyStore) Rotate(ctx context.Context, tenant string) (*Key, error) {
	var key *Key
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		key, err = ks.rotateOnce(ctx, tenant)
		if !errors.Is(err, store.ErrDuplicateSigningKey) {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("rotating signing key for %s: %w", tenant, err)
	}

	ks.active.Delete(tenant)
	ks.logger.Info("rotated signing key", "tenant", tenant, "key_id", key.KeyID)
	return key, nil
}

func (ks *KeyStore) rotateOnce(ctx context.Context, tenant string) (*Key, error) {
	next := int64(1)
	latest, err := ks.repo.LatestSigningKey(ctx, tenant)
	switch {
	case err == nil:
		next = latest.KeyID + 1
	case !errors.Is(err, store.ErrNotFound):
		return nil, err
	}

	key, err := ks.newKey(tenant, next)
	if err != nil {
		return nil, err
	}
	if err := ks.repo.InsertSigningKey(ctx, key); err != nil {
		return nil, err
	}
	return key, nil
}

// PurgeExpired deletes keys created before now-retention, never a tenant's newest key.
// Deletion runs in batches; cancellation stops between batches and returns what was deleted.
func (ks *KeyStore) PurgeExpired(ctx context.Context, retention time.Duration, now time.Time) (int64, error) {
	cutoff := now.Add(-retention)
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := ks.repo.PurgeSigningKeys(ctx, cutoff, ks.batch)
		total += n
		if err != nil {
			return total, err
		}
		if n < int64(ks.batch) {
			break
		}
	}

	if total > 0 {
		ks.logger.Info("purged expired signing keys", "count", total, "cutoff", cutoff)
	}
	return total, nil
}

func (ks *KeyStore) newKey(tenant string, keyID int64) (*Key, error) {
	material := make([]byte, KeyLength)
	if _, err := rand.Read(material); err != nil {
		return nil, fmt.Errorf("generating key material: %w", err)
	}
	return &Key{
		Tenant:    tenant,
		KeyID:     keyID,
		Material:  material,
		CreatedAt: ks.now().UTC(),
	}, nil
}
