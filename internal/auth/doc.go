// Package auth authenticates callers of the gateway.
//
// Public endpoints are called with tenant API keys, presented in the ApiKey
// header (public keys), the ApiSecret header (secret keys) or the "key" query
// parameter (public keys only). The Resolver verifies the key, rejects locked
// keys before checking scopes, and produces an AuthContext that handlers read
// with FromContext.
//
// The admin API uses HS256 bearer tokens carrying role=admin, minted by the
// operator CLI.
package auth
