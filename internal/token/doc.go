// Package token implements the gateway's ephemeral tokens.
//
// A token is base64url (no padding) of a Core Deterministic CBOR envelope
// followed by a 32-byte keyed BLAKE3 tag. The envelope names the tenant,
// the signing key ID, the token kind, the expiry in unix nanoseconds and a
// kind-specific payload. Tokens are not encrypted: payloads are readable by
// whoever holds the token, and must not carry secrets.
//
// Tokens are reusable until they expire unless the codec is built with
// WithSingleUse.
package token
