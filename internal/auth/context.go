// ABOUTME: Authentication context for tracking the calling tenant through request handlers
// ABOUTME: Provides WithAuth/FromContext for propagating resolved API key identity via context

package auth

import (
	"context"
	"slices"

	"github.com/2389/passkey-gateway/internal/apikey"
	"github.com/2389/passkey-gateway/internal/store"
)

// AuthContext is the resolved identity of an API caller.
// It is stored by value and handed out as a copy, so handlers cannot alter it for others.
type AuthContext struct {
	Tenant         string
	Kind           apikey.Kind
	KeyID          string
	AbbreviatedKey string
	Scopes         []apikey.Scope
	Features       store.Features
}

// HasScope reports whether the caller's key carries s.
func (a AuthContext) HasScope(s apikey.Scope) bool {
	return slices.Contains(a.Scopes, s)
}

// authContextKey is the key type for storing AuthContext in context.Context.
type authContextKey struct{}

// WithAuth returns a new context with the AuthContext attached.
func WithAuth(ctx context.Context, auth AuthContext) context.Context {
	auth.Scopes = slices.Clone(auth.Scopes)
	return context.WithValue(ctx, authContextKey{}, auth)
}

// FromContext retrieves the AuthContext from the context.
func FromContext(ctx context.Context) (AuthContext, bool) {
	auth, ok := ctx.Value(authContextKey{}).(AuthContext)
	if !ok {
		return AuthContext{}, false
	}
	auth.Scopes = slices.Clone(auth.Scopes)
	return auth, true
}

// MustFromContext retrieves the AuthContext from the context, panicking if not present.
func MustFromContext(ctx context.Context) AuthContext {
	auth, ok := FromContext(ctx)
	if !ok {
		panic("auth: AuthContext not found in context")
	}
	return auth
}
