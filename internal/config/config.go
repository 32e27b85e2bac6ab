// ABOUTME: Configuration loading and parsing for passkey-gateway
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config represents the complete passkey-gateway configuration
type Config struct {
	Server      ServerConfig      `yaml:"server" toml:"server"`
	Database    DatabaseConfig    `yaml:"database" toml:"database"`
	Auth        AuthConfig        `yaml:"auth" toml:"auth"`
	Tokens      TokensConfig      `yaml:"tokens" toml:"tokens"`
	SigningKeys SigningKeysConfig `yaml:"signing_keys" toml:"signing_keys"`
	Maintenance MaintenanceConfig `yaml:"maintenance" toml:"maintenance"`
	WebAuthn    WebAuthnConfig    `yaml:"webauthn" toml:"webauthn"`
	Cache       CacheConfig       `yaml:"cache" toml:"cache"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit" toml:"rate_limit"`
	Logging     LoggingConfig     `yaml:"logging" toml:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics" toml:"metrics"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr        string        `yaml:"http_addr" toml:"http_addr"`
	ShutdownTimeout time.Duration `yaml:"-" toml:"-"`

	ShutdownTimeoutRaw string `yaml:"shutdown_timeout" toml:"shutdown_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// AuthConfig holds admin API authentication configuration
type AuthConfig struct {
	AdminJWTSecret string `yaml:"admin_jwt_secret" toml:"admin_jwt_secret"`
}

// TokensConfig holds lifetimes of issued tokens
type TokensConfig struct {
	RegisterTTL      time.Duration `yaml:"-" toml:"-"`
	SignInTTL        time.Duration `yaml:"-" toml:"-"`
	StepUpTTL        time.Duration `yaml:"-" toml:"-"`
	SessionTTL       time.Duration `yaml:"-" toml:"-"`
	EnforceSingleUse bool          `yaml:"enforce_single_use" toml:"enforce_single_use"`
	// ReplayCacheSize bounds the consumed-token set. When it is full of
	// unexpired tokens the oldest is forgotten and could be replayed, so size
	// it above the peak number of tokens consumed within the longest TTL.
	ReplayCacheSize  int           `yaml:"replay_cache_size" toml:"replay_cache_size"`

	RegisterTTLRaw string `yaml:"register_ttl" toml:"register_ttl"`
	SignInTTLRaw   string `yaml:"sign_in_ttl" toml:"sign_in_ttl"`
	StepUpTTLRaw   string `yaml:"step_up_ttl" toml:"step_up_ttl"`
	SessionTTLRaw  string `yaml:"session_ttl" toml:"session_ttl"`
}

// SigningKeysConfig controls signing key caching and retirement
type SigningKeysConfig struct {
	Retention  time.Duration `yaml:"-" toml:"-"`
	CacheTTL   time.Duration `yaml:"-" toml:"-"`
	PurgeBatch int           `yaml:"purge_batch" toml:"purge_batch"`

	RetentionRaw string `yaml:"retention" toml:"retention"`
	CacheTTLRaw  string `yaml:"cache_ttl" toml:"cache_ttl"`
}

// MaintenanceConfig holds the schedule of each background job
type MaintenanceConfig struct {
	PurgeSigningKeys JobConfig `yaml:"purge_signing_keys" toml:"purge_signing_keys"`
	CredentialReport JobConfig `yaml:"credential_report" toml:"credential_report"`
}

// JobConfig schedules a job at a UTC time of day, repeating every period
type JobConfig struct {
	Enabled   bool          `yaml:"enabled" toml:"enabled"`
	TimeOfDay time.Duration `yaml:"-" toml:"-"` // offset from midnight UTC
	Period    time.Duration `yaml:"-" toml:"-"`

	TimeOfDayRaw string `yaml:"time_of_day" toml:"time_of_day"` // "HH:MM"
	PeriodRaw    string `yaml:"period" toml:"period"`
}

// WebAuthnConfig describes the relying party
type WebAuthnConfig struct {
	RPID          string        `yaml:"rp_id" toml:"rp_id"`
	RPDisplayName string        `yaml:"rp_display_name" toml:"rp_display_name"`
	RPOrigins     []string      `yaml:"rp_origins" toml:"rp_origins"`
	Timeout       time.Duration `yaml:"-" toml:"-"`

	TimeoutRaw string `yaml:"timeout" toml:"timeout"`
}

// CacheConfig selects the feature flag cache backend
type CacheConfig struct {
	Driver string        `yaml:"driver" toml:"driver"`
	Prefix string        `yaml:"prefix" toml:"prefix"`
	TTL    time.Duration `yaml:"-" toml:"-"`
	Redis  RedisConfig   `yaml:"redis" toml:"redis"`

	TTLRaw string `yaml:"ttl" toml:"ttl"`
}

// RedisConfig addresses a Redis server
type RedisConfig struct {
	Addr     string `yaml:"addr" toml:"addr"`
	Password string `yaml:"password" toml:"password"`
	DB       int    `yaml:"db" toml:"db"`
}

// RateLimitConfig limits public API calls per tenant. Zero disables limiting.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" toml:"requests_per_second"`
	Burst             int     `yaml:"burst" toml:"burst"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are parsed as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expandedData, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills every unset field with its default.
func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:8080"
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}

	if c.Tokens.RegisterTTL == 0 {
		c.Tokens.RegisterTTL = 2 * time.Minute
	}
	if c.Tokens.SignInTTL == 0 {
		c.Tokens.SignInTTL = 2 * time.Minute
	}
	if c.Tokens.StepUpTTL == 0 {
		c.Tokens.StepUpTTL = 5 * time.Minute
	}
	if c.Tokens.SessionTTL == 0 {
		c.Tokens.SessionTTL = 5 * time.Minute
	}
	if c.Tokens.ReplayCacheSize == 0 {
		c.Tokens.ReplayCacheSize = 100_000
	}

	if c.SigningKeys.Retention == 0 {
		c.SigningKeys.Retention = 30 * 24 * time.Hour
	}
	if c.SigningKeys.CacheTTL == 0 {
		c.SigningKeys.CacheTTL = 30 * time.Second
	}
	if c.SigningKeys.PurgeBatch == 0 {
		c.SigningKeys.PurgeBatch = 500
	}

	if c.Maintenance.PurgeSigningKeys.TimeOfDayRaw == "" {
		c.Maintenance.PurgeSigningKeys.TimeOfDay = 3 * time.Hour
	}
	if c.Maintenance.PurgeSigningKeys.Period == 0 {
		c.Maintenance.PurgeSigningKeys.Period = 24 * time.Hour
	}
	if c.Maintenance.CredentialReport.TimeOfDayRaw == "" {
		c.Maintenance.CredentialReport.TimeOfDay = 22 * time.Hour
	}
	if c.Maintenance.CredentialReport.Period == 0 {
		c.Maintenance.CredentialReport.Period = 24 * time.Hour
	}

	if c.WebAuthn.RPDisplayName == "" {
		c.WebAuthn.RPDisplayName = c.WebAuthn.RPID
	}
	if c.WebAuthn.Timeout == 0 {
		c.WebAuthn.Timeout = 5 * time.Minute
	}

	if c.Cache.Driver == "" {
		c.Cache.Driver = "memory"
	}
	if c.Cache.Prefix == "" {
		c.Cache.Prefix = "passkey-gateway:"
	}
	if c.Cache.TTL == 0 {
		c.Cache.TTL = time.Minute
	}

	if c.RateLimit.RequestsPerSecond > 0 && c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = int(c.RateLimit.RequestsPerSecond) * 2
		if c.RateLimit.Burst < 1 {
			c.RateLimit.Burst = 1
		}
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}

	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if len(c.Auth.AdminJWTSecret) < 32 {
		return fmt.Errorf("auth.admin_jwt_secret must be at least 32 bytes")
	}

	if c.WebAuthn.RPID == "" {
		return fmt.Errorf("webauthn.rp_id is required")
	}
	if len(c.WebAuthn.RPOrigins) == 0 {
		return fmt.Errorf("webauthn.rp_origins must list at least one origin")
	}
	for _, origin := range c.WebAuthn.RPOrigins {
		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("webauthn.rp_origins: invalid origin %q", origin)
		}
	}

	switch c.Cache.Driver {
	case "memory":
	case "redis":
		if c.Cache.Redis.Addr == "" {
			return fmt.Errorf("cache.redis.addr is required when cache.driver is redis")
		}
	default:
		return fmt.Errorf("cache.driver must be memory or redis, got %q", c.Cache.Driver)
	}

	if c.RateLimit.RequestsPerSecond < 0 {
		return fmt.Errorf("rate_limit.requests_per_second must not be negative")
	}

	if c.SigningKeys.Retention < 0 {
		return fmt.Errorf("signing_keys.retention must not be negative")
	}
	if c.SigningKeys.PurgeBatch < 0 {
		return fmt.Errorf("signing_keys.purge_batch must not be negative")
	}

	for name, job := range map[string]JobConfig{
		"purge_signing_keys": c.Maintenance.PurgeSigningKeys,
		"credential_report":  c.Maintenance.CredentialReport,
	} {
		if job.Period < time.Minute {
			return fmt.Errorf("maintenance.%s.period must be at least 1m", name)
		}
		if job.TimeOfDay < 0 || job.TimeOfDay >= 24*time.Hour {
			return fmt.Errorf("maintenance.%s.time_of_day out of range", name)
		}
	}

	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"server.shutdown_timeout", cfg.Server.ShutdownTimeoutRaw, &cfg.Server.ShutdownTimeout},
		{"tokens.register_ttl", cfg.Tokens.RegisterTTLRaw, &cfg.Tokens.RegisterTTL},
		{"tokens.sign_in_ttl", cfg.Tokens.SignInTTLRaw, &cfg.Tokens.SignInTTL},
		{"tokens.step_up_ttl", cfg.Tokens.StepUpTTLRaw, &cfg.Tokens.StepUpTTL},
		{"tokens.session_ttl", cfg.Tokens.SessionTTLRaw, &cfg.Tokens.SessionTTL},
		{"signing_keys.retention", cfg.SigningKeys.RetentionRaw, &cfg.SigningKeys.Retention},
		{"signing_keys.cache_ttl", cfg.SigningKeys.CacheTTLRaw, &cfg.SigningKeys.CacheTTL},
		{"maintenance.purge_signing_keys.period", cfg.Maintenance.PurgeSigningKeys.PeriodRaw, &cfg.Maintenance.PurgeSigningKeys.Period},
		{"maintenance.credential_report.period", cfg.Maintenance.CredentialReport.PeriodRaw, &cfg.Maintenance.CredentialReport.Period},
		{"webauthn.timeout", cfg.WebAuthn.TimeoutRaw, &cfg.WebAuthn.Timeout},
		{"cache.ttl", cfg.Cache.TTLRaw, &cfg.Cache.TTL},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	var err error
	if raw := cfg.Maintenance.PurgeSigningKeys.TimeOfDayRaw; raw != "" {
		if cfg.Maintenance.PurgeSigningKeys.TimeOfDay, err = ParseTimeOfDay(raw); err != nil {
			return fmt.Errorf("parsing maintenance.purge_signing_keys.time_of_day: %w", err)
		}
	}
	if raw := cfg.Maintenance.CredentialReport.TimeOfDayRaw; raw != "" {
		if cfg.Maintenance.CredentialReport.TimeOfDay, err = ParseTimeOfDay(raw); err != nil {
			return fmt.Errorf("parsing maintenance.credential_report.time_of_day: %w", err)
		}
	}

	return nil
}

// ParseTimeOfDay parses "HH:MM" or "HH:MM:SS" into an offset from midnight.
func ParseTimeOfDay(s string) (time.Duration, error) {
	layout := "15:04"
	if strings.Count(s, ":") == 2 {
		layout = "15:04:05"
	}
	t, err := time.Parse(layout, s)
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	return time.Duration(t.Hour())*time.Hour +
		time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second, nil
}
