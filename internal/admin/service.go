// ABOUTME: Management operations on tenants, API keys and signing keys
// ABOUTME: Validates input, applies changes through the store and records audit events

package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/2389/passkey-gateway/internal/apikey"
	"github.com/2389/passkey-gateway/internal/eventlog"
	"github.com/2389/passkey-gateway/internal/store"
)

// ErrInvalidArgument is returned for malformed requests.
var ErrInvalidArgument = errors.New("invalid argument")

// tenantPattern validates tenant names.
var tenantPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,62}$`)

// maxKeyAttempts bounds regeneration when a fresh key collides on its abbreviation.
const maxKeyAttempts = 3

// Store is the persistence the service needs.
type Store interface {
	CreateTenant(ctx context.Context, t *store.Tenant) error
	GetTenant(ctx context.Context, name string) (*store.Tenant, error)
	UpdateFeatures(ctx context.Context, name string, f store.Features) error
	CreateApiKey(ctx context.Context, k *apikey.ApiKey) error
	GetApiKey(ctx context.Context, id string) (*apikey.ApiKey, error)
	SetApiKeyLocked(ctx context.Context, id string, locked bool) error
	AddApiKeyScopes(ctx context.Context, id string, scopes []apikey.Scope) (*apikey.ApiKey, error)
}

// KeyRotator creates signing keys. *signingkey.KeyStore implements it.
type KeyRotator interface {
	Rotate(ctx context.Context, tenant string) (*store.SigningKey, error)
}

// FeatureInvalidator evicts cached feature flags. *auth.FeatureCache implements it.
type FeatureInvalidator interface {
	Invalidate(ctx context.Context, tenant string)
}

// Service performs management operations.
type Service struct {
	store    Store
	keys     KeyRotator
	features FeatureInvalidator
	now      func() time.Time
	logger   *slog.Logger
}

// NewService creates a Service. features may be nil when nothing caches flags.
func NewService(s Store, keys KeyRotator, features FeatureInvalidator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    s,
		keys:     keys,
		features: features,
		now:      time.Now,
		logger:   logger.With("component", "admin"),
	}
}

// ValidateTenantName checks name against the tenant naming rules.
func ValidateTenantName(name string) error {
	if !tenantPattern.MatchString(name) {
		return fmt.Errorf("%w: tenant name %q must match %s", ErrInvalidArgument, name, tenantPattern)
	}
	return nil
}

// CreateTenant registers a tenant. Nil features select store.DefaultFeatures.
func (s *Service) CreateTenant(ctx context.Context, actor, name string, features *store.Features) (*store.Tenant, error) {
	if err := ValidateTenantName(name); err != nil {
		return nil, err
	}

	t := &store.Tenant{Name: name, CreatedAt: s.now().UTC(), Features: store.DefaultFeatures()}
	if features != nil {
		t.Features = *features
	}
	if err := s.store.CreateTenant(ctx, t); err != nil {
		return nil, err
	}

	s.record(ctx, store.EventTenantCreated, actor, name, name, "", "tenant created")
	s.logger.Info("tenant created", "tenant", name, "actor", actor)
	return t, nil
}

// UpdateFeatures replaces the tenant's feature flags.
func (s *Service) UpdateFeatures(ctx context.Context, actor, tenant string, features store.Features) error {
	if err := s.store.UpdateFeatures(ctx, tenant, features); err != nil {
		return err
	}
	if s.features != nil {
		s.features.Invalidate(ctx, tenant)
	}

	s.record(ctx, store.EventFeatureFlagsUpdated, actor, tenant, tenant, "",
		fmt.Sprintf("features set: event_logging=%t allow_attestation=%t generate_sign_in_token=%t",
			features.EventLogging, features.AllowAttestation, features.GenerateSignInToken))
	return nil
}

// CreatedKey is a freshly generated API key. Raw is the only copy of the plaintext.
type CreatedKey struct {
	Key *apikey.ApiKey
	Raw string
}

// CreateApiKey generates a key of kind for tenant carrying scopes.
func (s *Service) CreateApiKey(ctx context.Context, actor, tenant string, kind apikey.Kind, scopes []apikey.Scope) (*CreatedKey, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown key kind %q", ErrInvalidArgument, kind)
	}
	if err := apikey.ValidateScopes(kind, scopes); err != nil {
		return nil, err
	}
	if _, err := s.store.GetTenant(ctx, tenant); err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt < maxKeyAttempts; attempt++ {
		raw, material, err := apikey.Generate(tenant, kind)
		if err != nil {
			return nil, err
		}
		key, err := apikey.New(uuid.New().String(), tenant, kind, material, scopes, s.now())
		if err != nil {
			return nil, err
		}

		lastErr = s.store.CreateApiKey(ctx, key)
		if errors.Is(lastErr, store.ErrDuplicateApiKey) {
			s.logger.Debug("api key abbreviation collision, regenerating", "tenant", tenant, "attempt", attempt+1)
			continue
		}
		if lastErr != nil {
			return nil, lastErr
		}

		s.record(ctx, store.EventApiKeyCreated, actor, tenant, key.ID, key.AbbreviatedKey,
			fmt.Sprintf("%s key created with scopes [%s]", kind, apikey.JoinScopes(key.Scopes)))
		return &CreatedKey{Key: key, Raw: raw}, nil
	}
	return nil, fmt.Errorf("creating api key after %d attempts: %w", maxKeyAttempts, lastErr)
}

// SetApiKeyLocked locks or unlocks a key and returns its new state.
func (s *Service) SetApiKeyLocked(ctx context.Context, actor, id string, locked bool) (*apikey.ApiKey, error) {
	key, err := s.store.GetApiKey(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.store.SetApiKeyLocked(ctx, id, locked); err != nil {
		return nil, err
	}
	key.IsLocked = locked

	eventType, msg := store.EventApiKeyUnlocked, "api key unlocked"
	if locked {
		eventType, msg = store.EventApiKeyLocked, "api key locked"
	}
	s.record(ctx, eventType, actor, key.Tenant, key.ID, key.AbbreviatedKey, msg)
	return key, nil
}

// AddApiKeyScopes merges scopes into a key.
func (s *Service) AddApiKeyScopes(ctx context.Context, actor, id string, scopes []apikey.Scope) (*apikey.ApiKey, error) {
	if len(scopes) == 0 {
		return nil, fmt.Errorf("%w: no scopes given", ErrInvalidArgument)
	}
	key, err := s.store.AddApiKeyScopes(ctx, id, scopes)
	if err != nil {
		return nil, err
	}

	s.record(ctx, store.EventApiKeyScopesAdded, actor, key.Tenant, key.ID, key.AbbreviatedKey,
		fmt.Sprintf("scopes now [%s]", apikey.JoinScopes(key.Scopes)))
	return key, nil
}

// RotateSigningKey makes a new signing key active for tenant.
func (s *Service) RotateSigningKey(ctx context.Context, actor, tenant string) (*store.SigningKey, error) {
	if _, err := s.store.GetTenant(ctx, tenant); err != nil {
		return nil, err
	}
	key, err := s.keys.Rotate(ctx, tenant)
	if err != nil {
		return nil, err
	}

	s.record(ctx, store.EventSigningKeyRotated, actor, tenant, tenant, "",
		fmt.Sprintf("signing key %d is now active", key.KeyID))
	return key, nil
}

func (s *Service) record(ctx context.Context, t store.EventType, actor, tenant, subject, abbreviated, msg string) {
	e := eventlog.NewEvent(t, store.SeverityInfo, msg)
	e.PerformedBy = actor
	e.Tenant = tenant
	e.Subject = subject
	e.AbbreviatedKey = abbreviated
	eventlog.Record(ctx, e)
}
