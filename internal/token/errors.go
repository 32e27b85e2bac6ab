// ABOUTME: Token validation errors
// ABOUTME: ExpiredTokenError carries how far past expiry the token was presented

package token

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnknownKey means the token names a signing key the tenant does not have (any more).
	ErrUnknownKey = errors.New("unknown signing key")

	// ErrTamperedToken means the token could not be decoded or its tag does not verify.
	ErrTamperedToken = errors.New("token signature invalid")

	// ErrWrongTokenKind means a valid token was presented where another kind is expected.
	ErrWrongTokenKind = errors.New("wrong token kind")

	// ErrExpiredToken is wrapped by *ExpiredTokenError.
	ErrExpiredToken = errors.New("token expired")

	// ErrTokenReplayed means a single-use token was presented a second time.
	ErrTokenReplayed = errors.New("token already used")
)

// ExpiredTokenError reports when the token expired and by how much it was missed.
type ExpiredTokenError struct {
	ExpiredAt time.Time
	Drift     time.Duration
}

func (e *ExpiredTokenError) Error() string {
	return fmt.Sprintf("token expired at %s (%s ago)", e.ExpiredAt.UTC().Format(time.RFC3339), e.Drift)
}

func (e *ExpiredTokenError) Unwrap() error {
	return ErrExpiredToken
}

// ResultLabel names the outcome of a validation for metrics and API error codes.
func ResultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrUnknownKey):
		return "unknown_key"
	case errors.Is(err, ErrTamperedToken):
		return "tampered_token"
	case errors.Is(err, ErrWrongTokenKind):
		return "wrong_token_kind"
	case errors.Is(err, ErrExpiredToken):
		return "expired_token"
	case errors.Is(err, ErrTokenReplayed):
		return "token_replayed"
	default:
		return "error"
	}
}
