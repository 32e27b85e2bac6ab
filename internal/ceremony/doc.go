// Package ceremony drives WebAuthn registration and sign-in for tenants.
//
// The protocol work is done by go-webauthn. This package decides which
// options a tenant may request, keeps the go-webauthn session between the
// begin and finish steps inside a short-lived session token, stores the
// resulting passkeys, and turns a verified assertion into a sign-in or
// step-up token the tenant's backend can verify later.
package ceremony
