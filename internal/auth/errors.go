// ABOUTME: Authentication and authorization errors for API key resolution
// ABOUTME: Error carries the tenant and abbreviated key of a failed attempt for auditing

package auth

import (
	"errors"
)

var (
	// ErrUnauthenticated means no key was presented.
	ErrUnauthenticated = errors.New("no api key presented")

	// ErrInvalidCredential means the key is unknown, wrong or locked.
	ErrInvalidCredential = errors.New("invalid api credential")

	// ErrInsufficientScope means the key lacks the scope the operation needs.
	ErrInsufficientScope = errors.New("insufficient scope")
)

// Error describes a failed resolution. It unwraps to one of the sentinel errors
// of this package or to apikey.ErrMalformedKey.
type Error struct {
	Err            error
	Tenant         string // claimed tenant, empty if the key did not parse
	AbbreviatedKey string
}

func (e *Error) Error() string {
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}
