// ABOUTME: Gateway orchestrator that wires the passkey services into one HTTP server
// ABOUTME: Manages store, caches, maintenance scheduler and the server lifecycle

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/2389/passkey-gateway/internal/admin"
	"github.com/2389/passkey-gateway/internal/auth"
	"github.com/2389/passkey-gateway/internal/cache"
	"github.com/2389/passkey-gateway/internal/ceremony"
	"github.com/2389/passkey-gateway/internal/config"
	"github.com/2389/passkey-gateway/internal/dedupe"
	"github.com/2389/passkey-gateway/internal/maintenance"
	"github.com/2389/passkey-gateway/internal/metrics"
	"github.com/2389/passkey-gateway/internal/signingkey"
	"github.com/2389/passkey-gateway/internal/store"
	"github.com/2389/passkey-gateway/internal/token"
)

// Gateway owns every long-lived component of the server.
type Gateway struct {
	provider   *config.Provider
	store      *store.SQLiteStore
	keys       *signingkey.KeyStore
	tokens     *token.Codec
	seen       *dedupe.Cache
	cache      cache.Cache
	features   *auth.FeatureCache
	resolver   *auth.Resolver
	ceremony   *ceremony.Service
	admin      *admin.Service
	adminAuth  auth.TokenVerifier
	limiter    *tenantLimiter
	metrics    *metrics.Metrics
	scheduler  *maintenance.Scheduler
	httpServer *http.Server
	logger     *slog.Logger

	now func() time.Time
}

// OpenStore opens the SQLite store. PASSKEY_GATEWAY_DB_PATH overrides the configured path.
func OpenStore(cfg *config.Config) (*store.SQLiteStore, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("PASSKEY_GATEWAY_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// New creates a Gateway from the provider's current configuration.
// Listen addresses, the relying party and backends are fixed at this point;
// lifetimes, retention and rate limits are re-read on every use.
func New(provider *config.Provider, logger *slog.Logger) (*Gateway, error) {
	cfg := provider.Get()

	s, err := OpenStore(cfg)
	if err != nil {
		return nil, err
	}

	gw, err := newGateway(provider, s, logger)
	if err != nil {
		s.Close()
		return nil, err
	}
	return gw, nil
}

func newGateway(provider *config.Provider, s *store.SQLiteStore, logger *slog.Logger) (*Gateway, error) {
	cfg := provider.Get()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.AdminJWTSecret))
	if err != nil {
		return nil, fmt.Errorf("configuring admin auth: %w", err)
	}

	featureCache, err := cache.Open(cache.Config{
		Driver:     cfg.Cache.Driver,
		DefaultTTL: cfg.Cache.TTL,
		Prefix:     cfg.Cache.Prefix,
		Redis: cache.RedisConfig{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
		},
	})
	if err != nil {
		return nil, err
	}

	keys := signingkey.New(s, signingkey.Options{
		CacheTTL:   cfg.SigningKeys.CacheTTL,
		PurgeBatch: cfg.SigningKeys.PurgeBatch,
		Logger:     logger,
	})

	codecOpts := []token.Option{token.WithLogger(logger), token.WithMetrics(m)}
	var seen *dedupe.Cache
	if cfg.Tokens.EnforceSingleUse {
		seen = dedupe.New(cfg.Tokens.ReplayCacheSize)
		codecOpts = append(codecOpts, token.WithSingleUse(seen))
	}
	tokens := token.NewCodec(keys, codecOpts...)

	gw := &Gateway{
		provider:  provider,
		store:     s,
		keys:      keys,
		tokens:    tokens,
		seen:      seen,
		cache:     featureCache,
		adminAuth: verifier,
		limiter:   newTenantLimiter(),
		metrics:   m,
		logger:    logger.With("component", "gateway"),
		now:       time.Now,
	}

	gw.features = auth.NewFeatureCache(s, featureCache, cfg.Cache.TTL, logger)
	gw.resolver = auth.NewResolver(s, gw.features)
	gw.admin = admin.NewService(s, keys, gw.features, logger)

	gw.ceremony, err = ceremony.New(ceremony.Config{
		RPID:          cfg.WebAuthn.RPID,
		RPDisplayName: cfg.WebAuthn.RPDisplayName,
		RPOrigins:     cfg.WebAuthn.RPOrigins,
		Timeout:       cfg.WebAuthn.Timeout,
	}, s, tokens, gw.lifetimes, logger)
	if err != nil {
		gw.closeOptionalComponents()
		return nil, err
	}

	gw.scheduler, err = gw.buildScheduler(cfg, logger)
	if err != nil {
		gw.closeOptionalComponents()
		return nil, err
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// lifetimes reads token lifetimes from the current configuration.
func (g *Gateway) lifetimes() ceremony.Lifetimes {
	t := g.provider.Get().Tokens
	return ceremony.Lifetimes{Session: t.SessionTTL, SignIn: t.SignInTTL, StepUp: t.StepUpTTL}
}

// buildScheduler registers the enabled maintenance jobs.
func (g *Gateway) buildScheduler(cfg *config.Config, logger *slog.Logger) (*maintenance.Scheduler, error) {
	sched := maintenance.NewScheduler(logger, maintenance.WithObserver(g.metrics.MaintenanceRun))

	if job := cfg.Maintenance.PurgeSigningKeys; job.Enabled {
		retention := func() time.Duration { return g.provider.Get().SigningKeys.Retention }
		if err := sched.Add(maintenance.Job{
			Name:      maintenance.PurgeSigningKeysJob,
			TimeOfDay: job.TimeOfDay,
			Period:    job.Period,
			Run:       maintenance.PurgeSigningKeys(g.keys, g.store, retention, time.Now, g.metrics.KeysPurged, logger),
		}); err != nil {
			return nil, err
		}
	}

	if job := cfg.Maintenance.CredentialReport; job.Enabled {
		if err := sched.Add(maintenance.Job{
			Name:      maintenance.CredentialReportJob,
			TimeOfDay: job.TimeOfDay,
			Period:    job.Period,
			Run:       maintenance.CredentialReport(g.store, g.store, time.Now, logger),
		}); err != nil {
			return nil, err
		}
	}

	return sched, nil
}

// Handler returns the HTTP handler serving every route.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// setupTCPListener creates the HTTP listener.
func (g *Gateway) setupTCPListener() (net.Listener, error) {
	addr := g.provider.Get().Server.HTTPAddr
	g.logger.Info("starting gateway", "http_addr", addr)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// startServer serves HTTP in a goroutine, returning its error channel.
func (g *Gateway) startServer(ln net.Listener) chan error {
	errCh := make(chan error, 1)

	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

// waitForShutdownSignal waits for context cancellation or server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		g.drainErrors(errCh)
		return err
	}
}

// drainErrors drains any remaining errors from the channel.
func (g *Gateway) drainErrors(errCh chan error) {
	select {
	case additionalErr := <-errCh:
		g.logger.Error("additional server error", "error", additionalErr)
	default:
	}
}

// Run serves HTTP and runs the maintenance scheduler until ctx is canceled.
// Returns nil on graceful shutdown, or the error of a failed server.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := g.setupTCPListener()
	if err != nil {
		return err
	}

	schedCtx, stopScheduler := context.WithCancel(ctx)
	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		g.scheduler.Run(schedCtx)
	}()

	errCh := g.startServer(ln)
	serverErr := g.waitForShutdownSignal(ctx, errCh)

	stopScheduler()
	<-schedDone

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// The caller's context is already canceled at this point.
func (g *Gateway) gracefulShutdown() error {
	timeout := g.provider.Get().Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return g.Shutdown(ctx)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// closeOptionalComponents closes optional components that may be nil.
func (g *Gateway) closeOptionalComponents() {
	if g.seen != nil {
		g.seen.Close()
	}
	if g.cache != nil {
		if err := g.cache.Close(); err != nil {
			g.logger.Warn("closing cache", "error", err)
		}
	}
}

// Shutdown stops the HTTP server and releases the store and caches.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))
	errs = appendCloseError(errs, "store close", g.store.Close())

	g.closeOptionalComponents()

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK once the store and the cache answer.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := g.store.Ping(r.Context()); err != nil {
		g.logger.Warn("readiness check failed", "dependency", "store", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}
	if err := g.cache.Ping(r.Context()); err != nil {
		g.logger.Warn("readiness check failed", "dependency", "cache", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("cache unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
