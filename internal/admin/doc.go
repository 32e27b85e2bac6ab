// Package admin implements the gateway's management operations.
//
// # Overview
//
// Service is shared by the HTTP admin API and the passkey-admin CLI. Every
// operation validates its input, performs the change through the store and
// records an audit event in the caller's event buffer (see eventlog). The
// actor passed to each method becomes the event's PerformedBy.
//
// # Operations
//
// Tenants:
//
//   - CreateTenant - register a tenant, optionally with feature flags
//   - UpdateFeatures - replace a tenant's feature flags and evict the cached copy
//
// API keys:
//
//   - CreateApiKey - generate a key; the plaintext is returned exactly once
//   - SetApiKeyLocked - lock or unlock a key
//   - AddApiKeyScopes - merge scopes into a key, validated against its kind
//
// Signing keys:
//
//   - RotateSigningKey - make a new signing key the tenant's active key
//
// # Tenant Names
//
// Tenant names are lowercase alphanumerics, '-' and '_', at most 63 characters.
// They are the first segment of every API key, so they may never contain ':'.
package admin
