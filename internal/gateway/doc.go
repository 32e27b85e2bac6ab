// Package gateway wires the passkey services into the HTTP server.
//
// # Overview
//
// The Gateway owns every long-lived component: the SQLite store, the signing
// key store, the token codec, the feature flag cache, the ceremony service,
// the admin service and the maintenance scheduler. Run serves HTTP until its
// context is canceled, then shuts down gracefully.
//
// # Public API
//
// Callers authenticate with an API key (see auth). The scope each route
// requires is shown in brackets:
//
//   - POST /register/token [token_register] - issue a register token (server side)
//   - POST /register/begin [register] - exchange it for creation options
//   - POST /register/complete [register] - verify the attestation, get a sign-in token
//   - POST /signin/begin [login] - assertion options, discoverable when user_id is empty
//   - POST /signin/complete [login] - verify the assertion, get a sign-in or step-up token
//   - POST /signin/verify [token_verify] - validate a sign-in token (server side)
//   - POST /signin/generate-token [token_register] - sign-in token without a ceremony
//   - POST /stepup/verify [token_verify] - validate a step-up token for a purpose
//
// Requests of a tenant are rate limited after authentication when
// rate_limit.requests_per_second is positive.
//
// # Admin API
//
// Routes under /admin require an HS256 bearer token with role "admin":
//
//   - GET, POST /admin/tenants
//   - PUT /admin/tenants/{tenant}/features
//   - GET, POST /admin/tenants/{tenant}/keys
//   - POST /admin/tenants/{tenant}/signing-keys/rotate
//   - GET /admin/tenants/{tenant}/reports
//   - POST /admin/keys/{id}/lock, /unlock, /scopes
//   - GET /admin/events
//
// # Errors
//
// Every error body has the form:
//
//	{"error": "expired_token", "message": "...", "drift": 12.5}
//
// The status for each error code is decided in one place, classify in errors.go.
// Internal failures answer 500 with a generic message and are logged.
//
// # Events
//
// Public and admin routes run inside eventlog.Middleware: events recorded by a
// request are written in one batch when its handler returns.
package gateway
