// ABOUTME: Tests for secret key hashing and verification
// ABOUTME: Verifies salting, mutation detection and tolerance of malformed hashes

package apikey

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashVerify(t *testing.T) {
	h, err := Hash("s3cret")
	require.NoError(t, err)

	assert.True(t, Verify(h, "s3cret"))
	assert.False(t, Verify(h, "s3cret!"))
	assert.False(t, Verify(h, ""))
}

func TestHashFormat(t *testing.T) {
	h, err := Hash("s3cret")
	require.NoError(t, err)

	saltPart, digestPart, ok := strings.Cut(h, ":")
	require.True(t, ok)

	salt, err := base64.StdEncoding.DecodeString(saltPart)
	require.NoError(t, err)
	assert.Len(t, salt, SaltLength)

	digest, err := base64.StdEncoding.DecodeString(digestPart)
	require.NoError(t, err)
	assert.Len(t, digest, DigestLength)
}

func TestHashIsSalted(t *testing.T) {
	a, err := Hash("same")
	require.NoError(t, err)
	b, err := Hash("same")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.True(t, Verify(a, "same"))
	assert.True(t, Verify(b, "same"))
}

func TestVerifyDetectsMutatedCandidate(t *testing.T) {
	secret := "0123456789abcdef"
	h, err := Hash(secret)
	require.NoError(t, err)

	for i := range secret {
		mutated := []byte(secret)
		mutated[i] ^= 0x01
		assert.False(t, Verify(h, string(mutated)), "mutation at byte %d should not verify", i)
	}
}

func TestVerifyDetectsMutatedHash(t *testing.T) {
	h, err := Hash("s3cret")
	require.NoError(t, err)

	for i := range h {
		if h[i] == ':' {
			continue
		}
		mutated := []byte(h)
		if mutated[i] == 'A' {
			mutated[i] = 'B'
		} else {
			mutated[i] = 'A'
		}
		assert.False(t, Verify(string(mutated), "s3cret"), "change at position %d (%q) should not verify", i, h[i])
	}
}

func TestVerifyRejectsNonCanonicalPadding(t *testing.T) {
	h, err := Hash("s3cret")
	require.NoError(t, err)
	saltPart, digestPart, _ := strings.Cut(h, ":")

	// The character before the padding carries unused bits; setting one keeps
	// the decoded bytes the same under a lenient decoder.
	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"
	bump := func(seg string) string {
		i := strings.IndexByte(seg, '=') - 1
		next := alphabet[strings.IndexByte(alphabet, seg[i])^1]
		return seg[:i] + string(next) + seg[i+1:]
	}

	assert.False(t, Verify(bump(saltPart)+":"+digestPart, "s3cret"))
	assert.False(t, Verify(saltPart+":"+bump(digestPart), "s3cret"))
}

func TestVerifyMalformedHash(t *testing.T) {
	good, err := Hash("x")
	require.NoError(t, err)
	saltPart, digestPart, _ := strings.Cut(good, ":")

	cases := map[string]string{
		"empty":          "",
		"no separator":   "abcdef",
		"extra segment":  good + ":more",
		"bad salt":       "!!!:" + digestPart,
		"bad digest":     saltPart + ":!!!",
		"short digest":   saltPart + ":" + base64.StdEncoding.EncodeToString([]byte("short")),
		"empty salt":     ":" + digestPart,
		"only separator": ":",
	}
	for name, h := range cases {
		t.Run(name, func(t *testing.T) {
			assert.NotPanics(t, func() {
				assert.False(t, Verify(h, "x"))
			})
		})
	}
}
