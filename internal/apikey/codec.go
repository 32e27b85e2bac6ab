// ABOUTME: Parsing and formatting of tenant:kind:material API key strings
// ABOUTME: Also generates fresh key material and the abbreviated form used for lookups

package apikey

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedKey is returned when a presented key does not follow the tenant:kind:material format.
var ErrMalformedKey = errors.New("malformed api key")

// Kind distinguishes browser-facing public keys from server-side secret keys.
type Kind string

const (
	KindPublic Kind = "public"
	KindSecret Kind = "secret"
)

// materialBytes is the amount of randomness behind a generated key.
const materialBytes = 32

// abbreviationLength is how many trailing characters of the material are stored in clear.
const abbreviationLength = 4

// Valid reports whether k is one of the known key kinds.
func (k Kind) Valid() bool {
	return k == KindPublic || k == KindSecret
}

// Parse splits a raw key into tenant, kind and material.
// Only the first two ':' delimit segments; the material keeps any further colons.
func Parse(raw string) (tenant string, kind Kind, material string, err error) {
	parts := strings.SplitN(raw, ":", 3)
	if len(parts) < 3 {
		return "", "", "", fmt.Errorf("%w: expected tenant:kind:material", ErrMalformedKey)
	}

	tenant, kind, material = parts[0], Kind(parts[1]), parts[2]
	if tenant == "" {
		return "", "", "", fmt.Errorf("%w: empty tenant", ErrMalformedKey)
	}
	if !kind.Valid() {
		return "", "", "", fmt.Errorf("%w: unknown kind %q", ErrMalformedKey, parts[1])
	}
	if material == "" {
		return "", "", "", fmt.Errorf("%w: empty material", ErrMalformedKey)
	}
	return tenant, kind, material, nil
}

// Format is the inverse of Parse.
func Format(tenant string, kind Kind, material string) string {
	return tenant + ":" + string(kind) + ":" + material
}

// GenerateMaterial returns fresh hex-encoded random key material.
func GenerateMaterial() (string, error) {
	buf := make([]byte, materialBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("reading random bytes: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Abbreviate returns the last characters of the material, safe to store and log.
func Abbreviate(material string) string {
	if len(material) <= abbreviationLength {
		return material
	}
	return material[len(material)-abbreviationLength:]
}

// Generate creates a new raw key for tenant along with its material.
func Generate(tenant string, kind Kind) (raw, material string, err error) {
	if tenant == "" || !kind.Valid() {
		return "", "", ErrMalformedKey
	}
	material, err = GenerateMaterial()
	if err != nil {
		return "", "", err
	}
	return Format(tenant, kind, material), material, nil
}
