// ABOUTME: Maps domain errors to HTTP status codes and JSON error bodies
// ABOUTME: Internal failures are logged and answered with a generic message

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/2389/passkey-gateway/internal/admin"
	"github.com/2389/passkey-gateway/internal/apikey"
	"github.com/2389/passkey-gateway/internal/auth"
	"github.com/2389/passkey-gateway/internal/ceremony"
	"github.com/2389/passkey-gateway/internal/store"
	"github.com/2389/passkey-gateway/internal/token"
)

// Errors raised by the handlers themselves.
var (
	errBadRequest      = errors.New("malformed request")
	errFeatureDisabled = errors.New("feature disabled for tenant")
	errRateLimited     = errors.New("rate limit exceeded")
	errPurposeMismatch = errors.New("step-up purpose does not match")
)

// ErrorResponse is the JSON body of every error.
type ErrorResponse struct {
	Error   string   `json:"error"`
	Message string   `json:"message"`
	Drift   *float64 `json:"drift,omitempty"` // seconds past expiry, expired_token only
}

// classify returns the status and body for err.
// The boolean is false for errors that are not the caller's fault.
func classify(err error) (int, ErrorResponse, bool) {
	body := func(code string) ErrorResponse {
		return ErrorResponse{Error: code, Message: err.Error()}
	}

	var expired *token.ExpiredTokenError
	switch {
	case errors.Is(err, apikey.ErrMalformedKey):
		return http.StatusBadRequest, ErrorResponse{Error: "malformed_key", Message: "api key is malformed"}, true
	case errors.Is(err, auth.ErrUnauthenticated):
		return http.StatusUnauthorized, body("unauthenticated"), true
	case errors.Is(err, auth.ErrInvalidCredential):
		return http.StatusUnauthorized, body("invalid_credential"), true
	case errors.Is(err, auth.ErrInsufficientScope):
		return http.StatusForbidden, body("insufficient_scope"), true
	case errors.Is(err, errFeatureDisabled):
		return http.StatusForbidden, body("feature_disabled"), true
	case errors.Is(err, errRateLimited):
		return http.StatusTooManyRequests, body("rate_limited"), true

	case errors.As(err, &expired):
		drift := expired.Drift.Seconds()
		return http.StatusBadRequest, ErrorResponse{Error: "expired_token", Message: err.Error(), Drift: &drift}, true
	case errors.Is(err, token.ErrUnknownKey), errors.Is(err, token.ErrTamperedToken),
		errors.Is(err, token.ErrWrongTokenKind), errors.Is(err, token.ErrTokenReplayed):
		return http.StatusBadRequest, body(token.ResultLabel(err)), true
	case errors.Is(err, errPurposeMismatch):
		return http.StatusBadRequest, body("purpose_mismatch"), true

	case errors.Is(err, ceremony.ErrInvalidOptions):
		return http.StatusBadRequest, body("invalid_options"), true
	case errors.Is(err, ceremony.ErrInvalidResponse):
		return http.StatusBadRequest, body("invalid_response"), true
	case errors.Is(err, ceremony.ErrVerificationFailed):
		return http.StatusUnauthorized, body("verification_failed"), true
	case errors.Is(err, ceremony.ErrUnknownCredential):
		return http.StatusUnauthorized, body("unknown_credential"), true
	case errors.Is(err, ceremony.ErrCredentialExists):
		return http.StatusConflict, body("credential_exists"), true
	case errors.Is(err, ceremony.ErrNoCredentials):
		return http.StatusNotFound, body("not_found"), true

	case errors.Is(err, errBadRequest), errors.Is(err, admin.ErrInvalidArgument), errors.Is(err, store.ErrInvalidCursor):
		return http.StatusBadRequest, body("invalid_request"), true
	case errors.Is(err, apikey.ErrInvalidScope):
		return http.StatusBadRequest, body("invalid_scope"), true
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, ErrorResponse{Error: "not_found", Message: "not found"}, true
	case errors.Is(err, store.ErrDuplicateTenant):
		return http.StatusConflict, body("conflict"), true

	default:
		return http.StatusInternalServerError, ErrorResponse{Error: "internal_error", Message: "internal server error"}, false
	}
}

// writeError renders err. Its signature matches auth.ErrorWriter.
func (g *Gateway) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body, clientFault := classify(err)
	if !clientFault {
		g.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	if auth.IsAuthError(err) {
		g.metrics.AuthFailure(body.Error)
	}
	if status == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, status, body)
}

// writeJSON writes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
