// ABOUTME: HTTP route table and cross-cutting middleware for the gateway
// ABOUTME: Public routes require an API key scope; admin routes require an admin bearer token

package gateway

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/2389/passkey-gateway/internal/apikey"
	"github.com/2389/passkey-gateway/internal/auth"
	"github.com/2389/passkey-gateway/internal/eventlog"
)

// maxBodyBytes bounds request bodies. Attestation responses are the largest.
const maxBodyBytes = 64 << 10

func (g *Gateway) routes() http.Handler {
	cfg := g.provider.Get()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(g.observe)

	r.Get("/health", g.handleHealth)
	r.Get("/health/ready", g.handleReady)
	if g.metrics != nil {
		r.Method(http.MethodGet, cfg.Metrics.Path, g.metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(eventlog.Middleware(g.store, g.logger, g.metrics.EventFlushError))

		r.With(g.requireScope(apikey.ScopeTokenRegister)).Post("/register/token", g.handleRegisterToken)
		r.With(g.requireScope(apikey.ScopeRegister)).Post("/register/begin", g.handleRegisterBegin)
		r.With(g.requireScope(apikey.ScopeRegister)).Post("/register/complete", g.handleRegisterComplete)

		r.With(g.requireScope(apikey.ScopeLogin)).Post("/signin/begin", g.handleSignInBegin)
		r.With(g.requireScope(apikey.ScopeLogin)).Post("/signin/complete", g.handleSignInComplete)
		r.With(g.requireScope(apikey.ScopeTokenVerify)).Post("/signin/verify", g.handleSignInVerify)
		r.With(g.requireScope(apikey.ScopeTokenRegister)).Post("/signin/generate-token", g.handleGenerateSignInToken)

		r.With(g.requireScope(apikey.ScopeTokenVerify)).Post("/stepup/verify", g.handleStepUpVerify)

		r.Route("/admin", func(r chi.Router) {
			r.Use(auth.RequireAdmin(g.adminAuth))

			r.Get("/tenants", g.handleListTenants)
			r.Post("/tenants", g.handleCreateTenant)
			r.Put("/tenants/{tenant}/features", g.handleUpdateFeatures)
			r.Get("/tenants/{tenant}/keys", g.handleListApiKeys)
			r.Post("/tenants/{tenant}/keys", g.handleCreateApiKey)
			r.Post("/tenants/{tenant}/signing-keys/rotate", g.handleRotateSigningKey)
			r.Get("/tenants/{tenant}/reports", g.handleListReports)

			r.Post("/keys/{id}/lock", g.handleLockApiKey)
			r.Post("/keys/{id}/unlock", g.handleUnlockApiKey)
			r.Post("/keys/{id}/scopes", g.handleAddScopes)

			r.Get("/events", g.handleListEvents)
		})
	})

	return r
}

// requireScope authenticates the API key, enforces scope and applies the tenant's rate limit.
func (g *Gateway) requireScope(scope apikey.Scope) func(http.Handler) http.Handler {
	authenticate := auth.RequireScope(g.resolver, scope, g.writeError)
	return func(next http.Handler) http.Handler {
		return authenticate(g.rateLimit(next))
	}
}

// observe records request counts and latencies by route pattern.
func (g *Gateway) observe(next http.Handler) http.Handler {
	if g.metrics == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		g.metrics.ObserveRequest(r.Method, route, status, time.Since(start))
	})
}
