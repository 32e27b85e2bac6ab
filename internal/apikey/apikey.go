// ABOUTME: ApiKey record type shared by the store, the resolver and the admin surface
// ABOUTME: Secret keys keep only a hash, public keys keep their material

package apikey

import (
	"crypto/subtle"
	"slices"
	"time"
)

// ApiKey is a tenant's credential for calling the service.
type ApiKey struct {
	ID             string
	Tenant         string
	Kind           Kind
	Material       string // public keys only
	Hash           string // secret keys only
	AbbreviatedKey string
	Scopes         []Scope
	IsLocked       bool
	CreatedAt      time.Time
}

// New builds a key record for freshly generated material.
// Secret material is hashed; the plaintext is not retained on the record.
func New(id, tenant string, kind Kind, material string, scopes []Scope, now time.Time) (*ApiKey, error) {
	if err := ValidateScopes(kind, scopes); err != nil {
		return nil, err
	}
	key := &ApiKey{
		ID:             id,
		Tenant:         tenant,
		Kind:           kind,
		AbbreviatedKey: Abbreviate(material),
		Scopes:         slices.Clone(scopes),
		CreatedAt:      now.UTC(),
	}
	switch kind {
	case KindPublic:
		key.Material = material
	case KindSecret:
		h, err := Hash(material)
		if err != nil {
			return nil, err
		}
		key.Hash = h
	default:
		return nil, ErrMalformedKey
	}
	return key, nil
}

// Matches reports whether the presented material belongs to this key.
func (k *ApiKey) Matches(material string) bool {
	switch k.Kind {
	case KindPublic:
		return k.Material != "" && subtle.ConstantTimeCompare([]byte(k.Material), []byte(material)) == 1
	case KindSecret:
		return Verify(k.Hash, material)
	default:
		return false
	}
}

// HasScope reports whether the key carries s.
func (k *ApiKey) HasScope(s Scope) bool {
	return slices.Contains(k.Scopes, s)
}
