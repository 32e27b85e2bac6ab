// ABOUTME: Per-tenant token bucket rate limiting for the public API
// ABOUTME: Limits follow the live configuration; idle tenants are swept lazily

package gateway

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/2389/passkey-gateway/internal/auth"
)

const (
	// limiterSweepInterval is how often idle buckets are looked for.
	limiterSweepInterval = 10 * time.Minute

	// limiterMaxIdle is how long a tenant's bucket survives without requests.
	limiterMaxIdle = 30 * time.Minute
)

type tenantBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// tenantLimiter keeps one token bucket per tenant.
type tenantLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*tenantBucket
	lastSweep time.Time
	now       func() time.Time
}

func newTenantLimiter() *tenantLimiter {
	return &tenantLimiter{
		buckets:   make(map[string]*tenantBucket),
		lastSweep: time.Now(),
		now:       time.Now,
	}
}

// allow reports whether tenant may make another request at rps with burst.
// A non-positive rps disables limiting.
func (l *tenantLimiter) allow(tenant string, rps float64, burst int) bool {
	if rps <= 0 {
		return true
	}
	if burst < 1 {
		burst = 1
	}

	l.mu.Lock()
	now := l.now()
	if now.Sub(l.lastSweep) >= limiterSweepInterval {
		l.sweepLocked(now)
	}

	b, ok := l.buckets[tenant]
	if !ok {
		b = &tenantBucket{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
		l.buckets[tenant] = b
	}
	b.lastSeen = now
	l.mu.Unlock()

	// Reloaded limits apply to existing buckets.
	if b.limiter.Limit() != rate.Limit(rps) {
		b.limiter.SetLimitAt(now, rate.Limit(rps))
	}
	if b.limiter.Burst() != burst {
		b.limiter.SetBurstAt(now, burst)
	}
	return b.limiter.AllowN(now, 1)
}

func (l *tenantLimiter) sweepLocked(now time.Time) {
	for tenant, b := range l.buckets {
		if now.Sub(b.lastSeen) > limiterMaxIdle {
			delete(l.buckets, tenant)
		}
	}
	l.lastSweep = now
}

func (l *tenantLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// rateLimit rejects requests of tenants over their budget. It must run after
// API key authentication so the tenant is known.
func (g *Gateway) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authCtx, ok := auth.FromContext(r.Context())
		if ok {
			rl := g.provider.Get().RateLimit
			if !g.limiter.allow(authCtx.Tenant, rl.RequestsPerSecond, rl.Burst) {
				g.logger.Warn("rate limit exceeded", "tenant", authCtx.Tenant, "path", r.URL.Path)
				g.writeError(w, r, errRateLimited)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
