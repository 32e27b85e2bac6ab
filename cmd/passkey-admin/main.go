// ABOUTME: Operator CLI for passkey-gateway tenants, API keys and signing keys
// ABOUTME: Works directly on the gateway database and records every change in the audit log

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"os/user"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/2389/passkey-gateway/internal/admin"
	"github.com/2389/passkey-gateway/internal/auth"
	"github.com/2389/passkey-gateway/internal/cache"
	"github.com/2389/passkey-gateway/internal/config"
	"github.com/2389/passkey-gateway/internal/eventlog"
	"github.com/2389/passkey-gateway/internal/gateway"
	"github.com/2389/passkey-gateway/internal/signingkey"
	"github.com/2389/passkey-gateway/internal/store"
)

var version = "dev"

// app holds the global flags shared by every command.
type app struct {
	configPath string
	jsonOutput bool
	verbose    bool
}

// env is everything a command needs to change the database.
type env struct {
	cfg      *config.Config
	store    *store.SQLiteStore
	keys     *signingkey.KeyStore
	cache    cache.Cache
	features *auth.FeatureCache
	svc      *admin.Service
	buf      *eventlog.Buffer
	logger   *slog.Logger
	actor    string
}

// defaultConfigPath mirrors the lookup of passkey-gateway.
func defaultConfigPath() string {
	if envPath := os.Getenv("PASSKEY_GATEWAY_CONFIG"); envPath != "" {
		return envPath
	}
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "passkey-gateway", "gateway.yaml")
}

// operator names the person running the CLI in audit events.
func operator() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return "cli:" + u.Username
	}
	return "cli"
}

func (a *app) logger(w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if a.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func (a *app) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// withEnv opens the database, runs fn with an event buffer in its context and
// writes the buffered events once fn returns, whatever its outcome.
func (a *app) withEnv(cmd *cobra.Command, fn func(ctx context.Context, e *env) error) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	logger := a.logger(cmd.ErrOrStderr())

	s, err := gateway.OpenStore(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	c, err := cache.Open(cache.Config{
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
		return err
	}
	defer c.Close()

	e := &env{
		cfg:    cfg,
		store:  s,
		cache:  c,
		buf:    eventlog.NewBuffer(s),
		logger: logger,
		actor:  operator(),
	}
	e.keys = signingkey.New(s, signingkey.Options{PurgeBatch: cfg.SigningKeys.PurgeBatch, Logger: logger})
	// With a shared cache backend this evicts the flags the servers hold.
	e.features = auth.NewFeatureCache(s, c, cfg.Cache.TTL, logger)
	e.svc = admin.NewService(s, e.keys, e.features, logger)

	ctx := eventlog.WithBuffer(cmd.Context(), e.buf)
	runErr := fn(ctx, e)

	if err := e.buf.Flush(context.WithoutCancel(ctx)); err != nil {
		logger.Error("failed to record audit events", "error", err)
	}
	return runErr
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "passkey-admin",
		Short:         "Manage tenants, API keys and signing keys of a passkey-gateway",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", defaultConfigPath(), "gateway config file (env PASSKEY_GATEWAY_CONFIG)")
	root.PersistentFlags().BoolVar(&a.jsonOutput, "json", false, "print results as JSON")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "log debug output to stderr")

	root.AddCommand(
		a.tenantCmd(),
		a.keyCmd(),
		a.signingKeyCmd(),
		a.reportCmd(),
		a.eventsCmd(),
		a.adminTokenCmd(),
	)
	return root
}

func main() {
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}
