// ABOUTME: Package documentation for the apikey package
// ABOUTME: Describes the key format, hashing and scope rules

// Package apikey implements the tenant:kind:material API key format.
//
// A key is issued to a tenant as either a public key, which is embedded in
// browser code and stored verbatim, or a secret key, which is only ever
// stored as a salted PBKDF2 hash. Lookups use the last four characters of
// the material (the abbreviated key) to narrow candidates before the full
// comparison.
package apikey
