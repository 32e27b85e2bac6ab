// ABOUTME: Salted PBKDF2 hashing for secret API keys
// ABOUTME: Hashes are stored as base64(salt):base64(digest) and verified in constant time

package apikey

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// SaltLength is the number of random salt bytes per hash.
	SaltLength = 16

	// Iterations is the PBKDF2 work factor.
	Iterations = 10_000

	// DigestLength is the derived key length in bytes.
	DigestLength = 32
)

// strictEncoding rejects non-zero padding bits so each hash has exactly one
// accepted spelling.
var strictEncoding = base64.StdEncoding.Strict()

// Hash derives a salted digest of secret suitable for storage.
func Hash(secret string) (string, error) {
	salt := make([]byte, SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("reading salt: %w", err)
	}
	digest := derive(secret, salt)
	return base64.StdEncoding.EncodeToString(salt) + ":" + base64.StdEncoding.EncodeToString(digest), nil
}

// Verify reports whether candidate matches the stored hash.
// Malformed hashes never match.
func Verify(hash, candidate string) bool {
	saltPart, digestPart, ok := strings.Cut(hash, ":")
	if !ok || strings.Contains(digestPart, ":") {
		return false
	}
	salt, err := strictEncoding.DecodeString(saltPart)
	if err != nil || len(salt) == 0 {
		return false
	}
	stored, err := strictEncoding.DecodeString(digestPart)
	if err != nil || len(stored) != DigestLength {
		return false
	}
	return subtle.ConstantTimeCompare(derive(candidate, salt), stored) == 1
}

func derive(secret string, salt []byte) []byte {
	return pbkdf2.Key([]byte(secret), salt, Iterations, DigestLength, sha256.New)
}
