// ABOUTME: Issues and validates authenticated, url-safe ephemeral tokens
// ABOUTME: Envelopes are deterministic CBOR tagged with keyed BLAKE3 under a tenant signing key

package token

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"

	"github.com/2389/passkey-gateway/internal/dedupe"
	"github.com/2389/passkey-gateway/internal/metrics"
	"github.com/2389/passkey-gateway/internal/signingkey"
	"github.com/2389/passkey-gateway/internal/store"
)

// TagLength is the size of the authentication tag appended to the envelope.
const TagLength = 32

// domainPrefix separates token tags from any other use of the same key.
const domainPrefix = "passkey-gateway/token/v1\x00"

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	encOptions.Time = cbor.TimeRFC3339Nano
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("token: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyEnforcedAPF,
		IndefLength: cbor.IndefLengthForbidden,
	}.DecMode()
	if err != nil {
		panic("token: CBOR decoder initialization failed: " + err.Error())
	}
}

// envelope is the signed part of a token.
type envelope struct {
	Kind      Kind            `cbor:"1,keyasint"`
	ExpiresAt int64           `cbor:"2,keyasint"` // unix nanoseconds
	KeyID     int64           `cbor:"3,keyasint"`
	Tenant    string          `cbor:"4,keyasint"`
	Payload   cbor.RawMessage `cbor:"5,keyasint"`
}

// KeySource provides signing keys. *signingkey.KeyStore implements it.
type KeySource interface {
	GetActiveKey(ctx context.Context, tenant string) (*store.SigningKey, error)
	GetKey(ctx context.Context, tenant string, keyID int64) (*store.SigningKey, error)
}

// Codec issues and validates tokens.
type Codec struct {
	keys    KeySource
	seen    *dedupe.Cache
	now     func() time.Time
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures a Codec.
type Option func(*Codec)

// WithSingleUse rejects a second presentation of the same token before it expires.
func WithSingleUse(seen *dedupe.Cache) Option {
	return func(c *Codec) { c.seen = seen }
}

// WithClock overrides the clock used to compute expiry at issue time.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) { c.now = now }
}

// WithMetrics counts issued and validated tokens.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Codec) { c.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Codec) { c.logger = logger }
}

// NewCodec creates a Codec backed by keys.
func NewCodec(keys KeySource, opts ...Option) *Codec {
	c := &Codec{
		keys:   keys,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "token")
	return c
}

// Issue creates a token for tenant carrying payload, valid for ttl.
func (c *Codec) Issue(ctx context.Context, tenant string, payload Payload, ttl time.Duration) (string, error) {
	if payload == nil {
		return "", errors.New("token payload is nil")
	}
	key, err := c.keys.GetActiveKey(ctx, tenant)
	if err != nil {
		return "", fmt.Errorf("issuing %s token: %w", payload.Kind(), err)
	}

	rawPayload, err := encMode.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encoding payload: %w", err)
	}
	env, err := encMode.Marshal(envelope{
		Kind:      payload.Kind(),
		ExpiresAt: c.now().Add(ttl).UnixNano(),
		KeyID:     key.KeyID,
		Tenant:    tenant,
		Payload:   rawPayload,
	})
	if err != nil {
		return "", fmt.Errorf("encoding envelope: %w", err)
	}

	tag, err := computeTag(key.Material, env)
	if err != nil {
		return "", err
	}
	c.metrics.TokenIssued(payload.Kind().String())
	return base64.RawURLEncoding.EncodeToString(append(env, tag...)), nil
}

// Validate checks a token presented by tenant and returns its payload.
// Checks run in order: decoding, key lookup, tag, tenant, kind, expiry, replay.
func (c *Codec) Validate(ctx context.Context, tenant string, kind Kind, token string, now time.Time) (Payload, error) {
	p, err := c.validate(ctx, tenant, kind, token, now)
	c.metrics.TokenValidated(kind.String(), ResultLabel(err))
	return p, err
}

func (c *Codec) validate(ctx context.Context, tenant string, kind Kind, token string, now time.Time) (Payload, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil || len(raw) <= TagLength {
		return nil, ErrTamperedToken
	}
	body, tag := raw[:len(raw)-TagLength], raw[len(raw)-TagLength:]

	var env envelope
	if err := decMode.Unmarshal(body, &env); err != nil {
		return nil, ErrTamperedToken
	}

	key, err := c.keys.GetKey(ctx, tenant, env.KeyID)
	if errors.Is(err, signingkey.ErrKeyNotFound) {
		return nil, ErrUnknownKey
	}
	if err != nil {
		return nil, fmt.Errorf("loading signing key: %w", err)
	}

	want, err := computeTag(key.Material, body)
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare(want, tag) != 1 {
		return nil, ErrTamperedToken
	}
	if env.Tenant != tenant {
		return nil, ErrTamperedToken
	}
	if env.Kind != kind {
		return nil, fmt.Errorf("%w: expected %s, got %s", ErrWrongTokenKind, kind, env.Kind)
	}

	expiresAt := time.Unix(0, env.ExpiresAt)
	if now.After(expiresAt) {
		return nil, &ExpiredTokenError{ExpiredAt: expiresAt, Drift: now.Sub(expiresAt)}
	}

	payload, err := decodePayload(env.Kind, env.Payload)
	if err != nil {
		return nil, ErrTamperedToken
	}

	if c.seen != nil && c.seen.CheckAndMark(tenant+"/"+hex.EncodeToString(tag), expiresAt) {
		c.logger.Warn("token replay rejected", "tenant", tenant, "kind", env.Kind)
		return nil, ErrTokenReplayed
	}
	return payload, nil
}

// ValidateAs validates a token whose kind is implied by T and returns the concrete payload.
func ValidateAs[T Payload](ctx context.Context, c *Codec, tenant, token string, now time.Time) (T, error) {
	var zero T
	p, err := c.Validate(ctx, tenant, zero.Kind(), token, now)
	if err != nil {
		return zero, err
	}
	typed, ok := p.(T)
	if !ok {
		return zero, ErrWrongTokenKind
	}
	return typed, nil
}

func computeTag(material, body []byte) ([]byte, error) {
	h, err := blake3.NewKeyed(material)
	if err != nil {
		return nil, fmt.Errorf("initializing keyed hash: %w", err)
	}
	h.Write([]byte(domainPrefix))
	h.Write(body)
	return h.Sum(nil), nil
}
