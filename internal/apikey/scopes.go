// ABOUTME: Scope vocabulary for API keys and the table of scopes each key kind may carry
// ABOUTME: Public keys drive browser ceremonies, secret keys mint and verify tokens

package apikey

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ErrInvalidScope is returned when a scope is unknown or not permitted for a key kind.
var ErrInvalidScope = errors.New("invalid scope")

// Scope names a capability granted to an API key.
type Scope string

const (
	ScopeRegister      Scope = "register"
	ScopeLogin         Scope = "login"
	ScopeTokenRegister Scope = "token_register"
	ScopeTokenVerify   Scope = "token_verify"
)

var allowedScopes = map[Kind][]Scope{
	KindPublic: {ScopeRegister, ScopeLogin},
	KindSecret: {ScopeTokenRegister, ScopeTokenVerify},
}

// AllowedScopes returns the scopes a key of the given kind may hold.
func AllowedScopes(kind Kind) []Scope {
	return slices.Clone(allowedScopes[kind])
}

// ValidateScopes checks every scope against the allowed table for kind.
func ValidateScopes(kind Kind, scopes []Scope) error {
	allowed, ok := allowedScopes[kind]
	if !ok {
		return fmt.Errorf("%w: unknown key kind %q", ErrInvalidScope, kind)
	}
	for _, s := range scopes {
		if !slices.Contains(allowed, s) {
			return fmt.Errorf("%w: %q is not allowed for %s keys", ErrInvalidScope, s, kind)
		}
	}
	return nil
}

// ParseScopes converts a comma separated list into scopes, ignoring blanks.
func ParseScopes(s string) []Scope {
	var out []Scope
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, Scope(part))
		}
	}
	return out
}

// JoinScopes is the inverse of ParseScopes.
func JoinScopes(scopes []Scope) string {
	parts := make([]string, len(scopes))
	for i, s := range scopes {
		parts[i] = string(s)
	}
	return strings.Join(parts, ",")
}

// MergeScopes returns existing plus any additions not already present, preserving order.
func MergeScopes(existing, additions []Scope) []Scope {
	out := slices.Clone(existing)
	for _, s := range additions {
		if !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}
