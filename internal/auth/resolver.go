// ABOUTME: Resolves the API key presented with a request into an AuthContext
// ABOUTME: Applies source priority, kind checks, credential verification, lock and scope rules

package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/2389/passkey-gateway/internal/apikey"
)

// Header and query parameter names carrying API keys.
const (
	HeaderApiKey    = "ApiKey"
	HeaderApiSecret = "ApiSecret"
	QueryKey        = "key"
)

// Credentials are the raw key values found on a request.
type Credentials struct {
	ApiKey    string
	ApiSecret string
	QueryKey  string
}

// ExtractCredentials reads the key sources from r.
func ExtractCredentials(r *http.Request) Credentials {
	return Credentials{
		ApiKey:    r.Header.Get(HeaderApiKey),
		ApiSecret: r.Header.Get(HeaderApiSecret),
		QueryKey:  r.URL.Query().Get(QueryKey),
	}
}

// KeyFinder looks up candidate keys by their abbreviated form.
type KeyFinder interface {
	FindApiKeys(ctx context.Context, tenant string, kind apikey.Kind, abbreviated string) ([]*apikey.ApiKey, error)
}

// Resolver turns credentials into an AuthContext.
type Resolver struct {
	keys     KeyFinder
	features *FeatureCache
}

// NewResolver creates a Resolver.
func NewResolver(keys KeyFinder, features *FeatureCache) *Resolver {
	return &Resolver{keys: keys, features: features}
}

// pick selects the single key source to use, by priority.
func (c Credentials) pick() (raw string, want apikey.Kind, fromQuery bool, ok bool) {
	switch {
	case c.ApiKey != "":
		return c.ApiKey, apikey.KindPublic, false, true
	case c.ApiSecret != "":
		return c.ApiSecret, apikey.KindSecret, false, true
	case c.QueryKey != "":
		return c.QueryKey, apikey.KindPublic, true, true
	default:
		return "", "", false, false
	}
}

// Resolve authenticates creds and checks that the key holds required.
// An empty required scope only authenticates. Failures are returned as *Error.
func (r *Resolver) Resolve(ctx context.Context, creds Credentials, required apikey.Scope) (AuthContext, error) {
	raw, want, fromQuery, ok := creds.pick()
	if !ok {
		return AuthContext{}, &Error{Err: ErrUnauthenticated}
	}

	tenant, kind, material, err := apikey.Parse(raw)
	if err != nil {
		return AuthContext{}, &Error{Err: apikey.ErrMalformedKey}
	}
	abbreviated := apikey.Abbreviate(material)
	fail := func(err error) (AuthContext, error) {
		return AuthContext{}, &Error{Err: err, Tenant: tenant, AbbreviatedKey: abbreviated}
	}

	if kind != want {
		// Secrets must never travel in URLs; treat one there as a bad credential.
		if fromQuery {
			return fail(ErrInvalidCredential)
		}
		return fail(apikey.ErrMalformedKey)
	}

	candidates, err := r.keys.FindApiKeys(ctx, tenant, kind, abbreviated)
	if err != nil {
		return AuthContext{}, fmt.Errorf("looking up api key: %w", err)
	}

	var matched *apikey.ApiKey
	for _, c := range candidates {
		if c.Matches(material) {
			matched = c
			break
		}
	}
	if matched == nil || matched.IsLocked {
		return fail(ErrInvalidCredential)
	}

	if required != "" && !matched.HasScope(required) {
		return fail(ErrInsufficientScope)
	}

	features, err := r.features.Get(ctx, tenant)
	if err != nil {
		return AuthContext{}, fmt.Errorf("loading features: %w", err)
	}

	return AuthContext{
		Tenant:         tenant,
		Kind:           kind,
		KeyID:          matched.ID,
		AbbreviatedKey: matched.AbbreviatedKey,
		Scopes:         matched.Scopes,
		Features:       features,
	}, nil
}

// IsAuthError reports whether err is an authentication or authorization failure
// rather than an internal error.
func IsAuthError(err error) bool {
	var authErr *Error
	return errors.As(err, &authErr)
}
