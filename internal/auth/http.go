// ABOUTME: HTTP middleware for API key authentication on public endpoints
// ABOUTME: Resolves the key, enforces the route's scope and wires the request's event buffer

package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/2389/passkey-gateway/internal/apikey"
	"github.com/2389/passkey-gateway/internal/eventlog"
	"github.com/2389/passkey-gateway/internal/store"
)

// ErrorWriter renders an authentication failure.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

// RequireScope authenticates the request's API key and requires scope.
// Failed attempts are recorded as api_auth_failed events. When the tenant
// has event logging disabled, the request's event buffer is suppressed.
func RequireScope(resolver *Resolver, scope apikey.Scope, onError ErrorWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx, err := resolver.Resolve(r.Context(), ExtractCredentials(r), scope)
			if err != nil {
				var authErr *Error
				if errors.As(err, &authErr) && !errors.Is(err, ErrUnauthenticated) {
					eventlog.Record(r.Context(), &store.Event{
						EventType:      store.EventApiAuthFailed,
						Severity:       store.SeverityWarning,
						Message:        authErr.Error() + " on " + r.URL.Path,
						PerformedBy:    "api-key",
						Tenant:         authErr.Tenant,
						AbbreviatedKey: authErr.AbbreviatedKey,
					})
				}
				onError(w, r, err)
				return
			}

			if buf := eventlog.FromContext(r.Context()); buf != nil {
				if authCtx.Features.EventLogging {
					buf.SetOrigin(authCtx.Tenant, authCtx.AbbreviatedKey)
				} else {
					buf.Suppress()
				}
			}

			next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), authCtx)))
		})
	}
}

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

type adminKey struct{}

// AdminFromContext returns the subject of the admin token, if the request carried one.
func AdminFromContext(r *http.Request) (string, bool) {
	sub, ok := r.Context().Value(adminKey{}).(string)
	return sub, ok
}

// RequireAdmin protects the admin API with an HS256 bearer token.
func RequireAdmin(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
			if errMsg != "" {
				writeAdminError(w, http.StatusUnauthorized, errMsg)
				return
			}

			subject, err := verifier.Verify(token)
			if err != nil {
				msg := "invalid token"
				if errors.Is(err, ErrExpiredToken) {
					msg = "token expired"
				}
				writeAdminError(w, http.StatusUnauthorized, msg)
				return
			}

			next.ServeHTTP(w, r.WithContext(contextWithAdmin(r, subject)))
		})
	}
}

func contextWithAdmin(r *http.Request, subject string) context.Context {
	return context.WithValue(r.Context(), adminKey{}, subject)
}

func writeAdminError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"unauthenticated","message":"` + msg + `"}` + "\n"))
}
