// ABOUTME: Read-through cache of tenant feature flags
// ABOUTME: Backed by the shared cache so replicas agree; invalidated on admin updates

package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/passkey-gateway/internal/cache"
	"github.com/2389/passkey-gateway/internal/store"
)

// TenantReader loads tenants.
type TenantReader interface {
	GetTenant(ctx context.Context, name string) (*store.Tenant, error)
}

// FeatureCache serves tenant feature flags from a cache, falling back to the store.
type FeatureCache struct {
	tenants TenantReader
	cache   cache.Cache
	ttl     time.Duration
	logger  *slog.Logger
}

// NewFeatureCache creates a FeatureCache. A nil cache disables caching.
func NewFeatureCache(tenants TenantReader, c cache.Cache, ttl time.Duration, logger *slog.Logger) *FeatureCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &FeatureCache{
		tenants: tenants,
		cache:   c,
		ttl:     ttl,
		logger:  logger.With("component", "features"),
	}
}

func featureKey(tenant string) string {
	return "features:" + tenant
}

// Get returns the tenant's feature flags.
func (f *FeatureCache) Get(ctx context.Context, tenant string) (store.Features, error) {
	if f.cache != nil {
		raw, ok, err := f.cache.Get(ctx, featureKey(tenant))
		if err != nil {
			f.logger.Warn("feature cache read failed", "tenant", tenant, "error", err)
		} else if ok {
			var features store.Features
			if err := json.Unmarshal(raw, &features); err == nil {
				return features, nil
			}
		}
	}

	t, err := f.tenants.GetTenant(ctx, tenant)
	if err != nil {
		return store.Features{}, fmt.Errorf("loading tenant %s: %w", tenant, err)
	}

	if f.cache != nil {
		raw, _ := json.Marshal(t.Features)
		if err := f.cache.Set(ctx, featureKey(tenant), raw, f.ttl); err != nil {
			f.logger.Warn("feature cache write failed", "tenant", tenant, "error", err)
		}
	}
	return t.Features, nil
}

// Invalidate drops the cached flags for tenant.
func (f *FeatureCache) Invalidate(ctx context.Context, tenant string) {
	if f.cache == nil {
		return
	}
	if err := f.cache.Delete(ctx, featureKey(tenant)); err != nil {
		f.logger.Warn("feature cache invalidation failed", "tenant", tenant, "error", err)
	}
}
