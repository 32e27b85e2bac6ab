// ABOUTME: Store interfaces and record types for passkey-gateway persistence
// ABOUTME: Defines tenants, signing keys, audit events, credentials and reports

package store

import (
	"context"
	"errors"
	"time"

	"github.com/2389/passkey-gateway/internal/apikey"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateTenant is returned when creating a tenant whose name is taken
var ErrDuplicateTenant = errors.New("tenant already exists")

// ErrDuplicateApiKey is returned when a tenant already has a key of the same kind and abbreviation
var ErrDuplicateApiKey = errors.New("api key abbreviation already in use")

// ErrDuplicateSigningKey is returned when (tenant, key_id) already exists
var ErrDuplicateSigningKey = errors.New("signing key already exists")

// ErrDuplicateCredential is returned when a passkey credential ID is registered twice
var ErrDuplicateCredential = errors.New("credential already registered")

// Features are the per-tenant feature flags.
type Features struct {
	EventLogging        bool `json:"event_logging"`
	AllowAttestation    bool `json:"allow_attestation"`
	GenerateSignInToken bool `json:"generate_sign_in_token"`
}

// DefaultFeatures are applied to newly created tenants.
func DefaultFeatures() Features {
	return Features{EventLogging: true}
}

// Tenant is a customer application using the service.
type Tenant struct {
	Name      string
	CreatedAt time.Time
	Features  Features
}

// SigningKey is a per-tenant symmetric key used to authenticate tokens.
// KeyID is monotonic per tenant starting at 1; the highest KeyID is active.
type SigningKey struct {
	Tenant    string
	KeyID     int64
	Material  []byte
	CreatedAt time.Time
}

// Credential is a registered passkey.
type Credential struct {
	ID              string
	Tenant          string
	UserID          string
	CredentialID    []byte
	PublicKey       []byte
	AttestationType string
	Transports      []string
	AAGUID          []byte
	SignCount       uint32
	BackupEligible  bool
	BackupState     bool
	CreatedAt       time.Time
	LastUsedAt      *time.Time
}

// CredentialReport is a daily per-tenant snapshot of registered passkeys.
type CredentialReport struct {
	Tenant      string
	Date        string // YYYY-MM-DD, UTC
	Users       int
	Credentials int
	UpdatedAt   time.Time
}

// TenantStore manages tenants and their feature flags.
type TenantStore interface {
	CreateTenant(ctx context.Context, t *Tenant) error
	GetTenant(ctx context.Context, name string) (*Tenant, error)
	ListTenants(ctx context.Context) ([]*Tenant, error)
	UpdateFeatures(ctx context.Context, name string, f Features) error
}

// ApiKeyStore manages tenant API keys.
type ApiKeyStore interface {
	CreateApiKey(ctx context.Context, k *apikey.ApiKey) error
	GetApiKey(ctx context.Context, id string) (*apikey.ApiKey, error)
	FindApiKeys(ctx context.Context, tenant string, kind apikey.Kind, abbreviated string) ([]*apikey.ApiKey, error)
	ListApiKeys(ctx context.Context, tenant string) ([]*apikey.ApiKey, error)
	SetApiKeyLocked(ctx context.Context, id string, locked bool) error
	AddApiKeyScopes(ctx context.Context, id string, scopes []apikey.Scope) (*apikey.ApiKey, error)
}

// SigningKeyStore persists per-tenant signing keys.
type SigningKeyStore interface {
	LatestSigningKey(ctx context.Context, tenant string) (*SigningKey, error)
	GetSigningKey(ctx context.Context, tenant string, keyID int64) (*SigningKey, error)
	InsertSigningKey(ctx context.Context, k *SigningKey) error
	ListSigningKeys(ctx context.Context, tenant string) ([]*SigningKey, error)
	PurgeSigningKeys(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}

// EventStore is the append-only audit event log.
type EventStore interface {
	AppendEvents(ctx context.Context, events []*Event) error
	ListEvents(ctx context.Context, f EventFilter) ([]*Event, error)
}

// CredentialStore persists registered passkeys.
type CredentialStore interface {
	CreateCredential(ctx context.Context, c *Credential) error
	GetCredential(ctx context.Context, tenant string, credentialID []byte) (*Credential, error)
	ListUserCredentials(ctx context.Context, tenant, userID string) ([]*Credential, error)
	UpdateCredentialUsage(ctx context.Context, tenant string, credentialID []byte, signCount uint32, usedAt time.Time) error
}

// ReportStore computes and keeps credential reports.
type ReportStore interface {
	CountCredentials(ctx context.Context, tenant string) (users, credentials int, err error)
	UpsertCredentialReport(ctx context.Context, r *CredentialReport) error
	ListCredentialReports(ctx context.Context, tenant string, limit int) ([]*CredentialReport, error)
}

// Store combines every persistence contract of the gateway.
type Store interface {
	TenantStore
	ApiKeyStore
	SigningKeyStore
	EventStore
	CredentialStore
	ReportStore

	Ping(ctx context.Context) error
	Close() error
}
