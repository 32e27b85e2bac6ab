// ABOUTME: Public API handlers for registration, sign-in and token verification
// ABOUTME: Each handler runs behind API key authentication for its required scope

package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/2389/passkey-gateway/internal/auth"
	"github.com/2389/passkey-gateway/internal/ceremony"
	"github.com/2389/passkey-gateway/internal/eventlog"
	"github.com/2389/passkey-gateway/internal/store"
	"github.com/2389/passkey-gateway/internal/token"
)

// TypeGenerated marks sign-in tokens minted by a server without a ceremony.
const TypeGenerated = "generated"

// TokenRequest carries a token to exchange or verify.
type TokenRequest struct {
	Token string `json:"token"`
}

// TokenResponse returns a newly issued token.
type TokenResponse struct {
	Token string `json:"token"`
}

// CompleteRequest finishes a ceremony. Credential is the browser's
// PublicKeyCredential serialized as JSON.
type CompleteRequest struct {
	SessionToken string          `json:"session_token"`
	Credential   json.RawMessage `json:"credential"`
	Device       string          `json:"device,omitempty"`
}

// SignInBeginRequest starts a sign-in. An empty UserID asks for a discoverable
// credential; a Purpose requests a step-up.
type SignInBeginRequest struct {
	UserID  string `json:"user_id,omitempty"`
	Purpose string `json:"purpose,omitempty"`
}

// SignInCompleteResponse carries the sign-in or step-up token.
type SignInCompleteResponse struct {
	Token  string `json:"token"`
	Kind   string `json:"kind"`
	UserID string `json:"user_id"`
}

// GenerateTokenRequest asks for a sign-in token for a known user.
type GenerateTokenRequest struct {
	UserID string `json:"user_id"`
	Device string `json:"device,omitempty"`
}

// StepUpVerifyRequest verifies a step-up token for a purpose.
type StepUpVerifyRequest struct {
	Token   string `json:"token"`
	Purpose string `json:"purpose"`
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: trailing data after JSON body", errBadRequest)
	}
	return nil
}

func requireField(name, value string) error {
	if value == "" {
		return fmt.Errorf("%w: %s is required", errBadRequest, name)
	}
	return nil
}

// handleRegisterToken issues a register token for a user. Server-side, secret key.
func (g *Gateway) handleRegisterToken(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())

	var req token.RegisterPayload
	if err := decodeJSON(w, r, &req); err != nil {
		g.writeError(w, r, err)
		return
	}
	if err := requireField("user_id", req.UserID); err != nil {
		g.writeError(w, r, err)
		return
	}
	if err := requireField("username", req.Username); err != nil {
		g.writeError(w, r, err)
		return
	}
	if req.DisplayName == "" {
		req.DisplayName = req.Username
	}
	if err := ceremony.ValidateOptions(req); err != nil {
		g.writeError(w, r, err)
		return
	}

	tok, err := g.tokens.Issue(r.Context(), authCtx.Tenant, req, g.provider.Get().Tokens.RegisterTTL)
	if err != nil {
		g.writeError(w, r, err)
		return
	}

	e := eventlog.NewEvent(store.EventRegisterTokenCreated, store.SeverityInfo, "register token created for "+req.Username)
	e.PerformedBy = "api-key"
	e.Subject = req.UserID
	eventlog.Record(r.Context(), e)

	writeJSON(w, http.StatusOK, TokenResponse{Token: tok})
}

// handleRegisterBegin exchanges a register token for credential creation options.
func (g *Gateway) handleRegisterBegin(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())

	var req TokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		g.writeError(w, r, err)
		return
	}
	if err := requireField("token", req.Token); err != nil {
		g.writeError(w, r, err)
		return
	}

	payload, err := token.ValidateAs[token.RegisterPayload](r.Context(), g.tokens, authCtx.Tenant, req.Token, g.now())
	if err != nil {
		g.writeError(w, r, err)
		return
	}

	reg, err := g.ceremony.BeginRegistration(r.Context(), authCtx.Tenant, authCtx.Features, payload)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reg)
}

// handleRegisterComplete verifies the attestation and returns a sign-in token.
func (g *Gateway) handleRegisterComplete(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())

	var req CompleteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		g.writeError(w, r, err)
		return
	}
	if err := requireField("session_token", req.SessionToken); err != nil {
		g.writeError(w, r, err)
		return
	}

	tok, err := g.ceremony.FinishRegistration(r.Context(), authCtx.Tenant, req.SessionToken, req.Credential, req.Device)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, TokenResponse{Token: tok})
}

// handleSignInBegin returns assertion options.
func (g *Gateway) handleSignInBegin(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())

	var req SignInBeginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		g.writeError(w, r, err)
		return
	}

	assertion, err := g.ceremony.BeginSignIn(r.Context(), authCtx.Tenant, req.UserID, req.Purpose)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, assertion)
}

// handleSignInComplete verifies the assertion and returns a sign-in or step-up token.
func (g *Gateway) handleSignInComplete(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())

	var req CompleteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		g.writeError(w, r, err)
		return
	}
	if err := requireField("session_token", req.SessionToken); err != nil {
		g.writeError(w, r, err)
		return
	}

	result, err := g.ceremony.FinishSignIn(r.Context(), authCtx.Tenant, req.SessionToken, req.Credential, req.Device)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SignInCompleteResponse{
		Token:  result.Token,
		Kind:   result.Kind.String(),
		UserID: result.UserID,
	})
}

// handleSignInVerify validates a sign-in token and returns its payload.
func (g *Gateway) handleSignInVerify(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())

	var req TokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		g.writeError(w, r, err)
		return
	}
	if err := requireField("token", req.Token); err != nil {
		g.writeError(w, r, err)
		return
	}

	payload, err := token.ValidateAs[token.SignInPayload](r.Context(), g.tokens, authCtx.Tenant, req.Token, g.now())
	if err != nil {
		g.verificationFailed(r, token.KindSignIn, err)
		g.writeError(w, r, err)
		return
	}

	e := eventlog.NewEvent(store.EventSignInTokenVerified, store.SeverityInfo, "sign-in token verified")
	e.PerformedBy = "api-key"
	e.Subject = payload.UserID
	eventlog.Record(r.Context(), e)

	writeJSON(w, http.StatusOK, payload)
}

// handleGenerateSignInToken mints a sign-in token for a user without a ceremony.
func (g *Gateway) handleGenerateSignInToken(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())
	if !authCtx.Features.GenerateSignInToken {
		g.writeError(w, r, fmt.Errorf("%w: generate_sign_in_token", errFeatureDisabled))
		return
	}

	var req GenerateTokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		g.writeError(w, r, err)
		return
	}
	if err := requireField("user_id", req.UserID); err != nil {
		g.writeError(w, r, err)
		return
	}

	now := g.now().UTC()
	tok, err := g.tokens.Issue(r.Context(), authCtx.Tenant, token.SignInPayload{
		UserID:    req.UserID,
		Success:   true,
		RPID:      g.ceremony.RPID(),
		Device:    req.Device,
		Type:      TypeGenerated,
		Timestamp: now,
	}, g.provider.Get().Tokens.SignInTTL)
	if err != nil {
		g.writeError(w, r, err)
		return
	}

	e := eventlog.NewEvent(store.EventSignInTokenCreated, store.SeverityInfo, "sign-in token generated")
	e.PerformedBy = "api-key"
	e.Subject = req.UserID
	eventlog.Record(r.Context(), e)

	writeJSON(w, http.StatusOK, TokenResponse{Token: tok})
}

// handleStepUpVerify validates a step-up token and checks it was issued for the purpose.
func (g *Gateway) handleStepUpVerify(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())

	var req StepUpVerifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		g.writeError(w, r, err)
		return
	}
	if err := requireField("token", req.Token); err != nil {
		g.writeError(w, r, err)
		return
	}
	if err := requireField("purpose", req.Purpose); err != nil {
		g.writeError(w, r, err)
		return
	}

	payload, err := token.ValidateAs[token.StepUpPayload](r.Context(), g.tokens, authCtx.Tenant, req.Token, g.now())
	if err == nil && payload.Purpose != req.Purpose {
		err = fmt.Errorf("%w: token is for %q", errPurposeMismatch, payload.Purpose)
	}
	if err != nil {
		g.verificationFailed(r, token.KindStepUp, err)
		g.writeError(w, r, err)
		return
	}

	e := eventlog.NewEvent(store.EventStepUpVerified, store.SeverityInfo, "step-up verified for "+payload.Purpose)
	e.PerformedBy = "api-key"
	e.Subject = payload.UserID
	eventlog.Record(r.Context(), e)

	writeJSON(w, http.StatusOK, payload)
}

func (g *Gateway) verificationFailed(r *http.Request, kind token.Kind, err error) {
	_, _, clientFault := classify(err)
	if !clientFault {
		return
	}
	e := eventlog.NewEvent(store.EventTokenVerificationFailed, store.SeverityWarning,
		fmt.Sprintf("%s token rejected: %s", kind, err))
	e.PerformedBy = "api-key"
	eventlog.Record(r.Context(), e)
}
