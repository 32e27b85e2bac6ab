// Package store provides persistent storage for the gateway using SQLite.
//
// # Architecture
//
// The store package uses an interface-driven architecture with multiple specialized
// interfaces:
//
//   - TenantStore: Tenants and their feature flags
//   - ApiKeyStore: Public and secret API keys
//   - SigningKeyStore: Per-tenant token signing keys
//   - EventStore: Append-only audit events
//   - CredentialStore: Registered passkeys
//   - ReportStore: Daily credential reports
//
// SQLiteStore implements all interfaces in a single struct. Consumers depend on
// the narrowest interface they need.
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// Timestamps are stored as fixed-width UTC text so that string comparison in
// SQL orders them chronologically.
//
// # Signing key purge
//
// PurgeSigningKeys deletes at most one batch per call, and never selects the
// newest key of a tenant. Callers loop until a batch comes back short.
//
// # Error Handling
//
// Common errors:
//
//   - ErrNotFound: Requested entity does not exist
//   - ErrDuplicateTenant, ErrDuplicateApiKey, ErrDuplicateSigningKey,
//     ErrDuplicateCredential: unique constraint violations
//
// All methods accept context.Context for cancellation support.
package store
