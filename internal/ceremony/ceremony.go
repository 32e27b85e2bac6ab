// ABOUTME: Passkey registration and sign-in ceremonies on top of go-webauthn
// ABOUTME: Ceremony state travels in session tokens; results are issued as sign-in or step-up tokens

package ceremony

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/2389/passkey-gateway/internal/eventlog"
	"github.com/2389/passkey-gateway/internal/store"
	"github.com/2389/passkey-gateway/internal/token"
)

// Sign-in token types.
const (
	TypeRegister = "passkey_register"
	TypeSignIn   = "passkey_signin"
)

var (
	// ErrInvalidOptions means a register token asked for an unsupported authenticator option.
	ErrInvalidOptions = errors.New("invalid authenticator options")

	// ErrInvalidResponse means the browser response could not be parsed.
	ErrInvalidResponse = errors.New("invalid authenticator response")

	// ErrVerificationFailed means go-webauthn rejected the attestation or assertion.
	ErrVerificationFailed = errors.New("passkey verification failed")

	// ErrUnknownCredential means the assertion names a passkey this tenant does not have.
	ErrUnknownCredential = errors.New("unknown credential")

	// ErrNoCredentials means sign-in was requested for a user without passkeys.
	ErrNoCredentials = errors.New("user has no registered passkeys")

	// ErrCredentialExists means the authenticator returned an already registered credential.
	ErrCredentialExists = errors.New("credential already registered")
)

// CredentialStore is the persistence the ceremonies need. *store.SQLiteStore implements it.
type CredentialStore interface {
	CreateCredential(ctx context.Context, c *store.Credential) error
	GetCredential(ctx context.Context, tenant string, credentialID []byte) (*store.Credential, error)
	ListUserCredentials(ctx context.Context, tenant, userID string) ([]*store.Credential, error)
	UpdateCredentialUsage(ctx context.Context, tenant string, credentialID []byte, signCount uint32, usedAt time.Time) error
}

// Config describes the relying party.
type Config struct {
	RPID          string
	RPDisplayName string
	RPOrigins     []string
	Timeout       time.Duration
}

// Lifetimes are the TTLs of the tokens a ceremony issues. They are read per call.
type Lifetimes struct {
	Session time.Duration
	SignIn  time.Duration
	StepUp  time.Duration
}

// Service runs ceremonies for every tenant under one relying party.
type Service struct {
	webauthn  *webauthn.WebAuthn
	rpID      string
	creds     CredentialStore
	tokens    *token.Codec
	lifetimes func() Lifetimes
	now       func() time.Time
	logger    *slog.Logger
}

// New builds the go-webauthn relying party from cfg.
func New(cfg Config, creds CredentialStore, tokens *token.Codec, lifetimes func() Lifetimes, logger *slog.Logger) (*Service, error) {
	wcfg := &webauthn.Config{
		RPID:          cfg.RPID,
		RPDisplayName: cfg.RPDisplayName,
		RPOrigins:     cfg.RPOrigins,
	}
	if cfg.Timeout > 0 {
		wcfg.Timeouts = webauthn.TimeoutsConfig{
			Login: webauthn.TimeoutConfig{
				Enforce:    true,
				Timeout:    cfg.Timeout,
				TimeoutUVD: cfg.Timeout,
			},
			Registration: webauthn.TimeoutConfig{
				Enforce:    true,
				Timeout:    cfg.Timeout,
				TimeoutUVD: cfg.Timeout,
			},
		}
	}

	w, err := webauthn.New(wcfg)
	if err != nil {
		return nil, fmt.Errorf("configuring webauthn: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		webauthn:  w,
		rpID:      cfg.RPID,
		creds:     creds,
		tokens:    tokens,
		lifetimes: lifetimes,
		now:       time.Now,
		logger:    logger.With("component", "ceremony"),
	}, nil
}

// Registration is returned by BeginRegistration.
type Registration struct {
	Options      *protocol.CredentialCreation `json:"options"`
	SessionToken string                       `json:"session_token"`
}

// BeginRegistration creates credential creation options for the user named in
// a validated register token. Existing passkeys of the user are excluded.
func (s *Service) BeginRegistration(ctx context.Context, tenant string, features store.Features, p token.RegisterPayload) (*Registration, error) {
	selection, err := authenticatorSelection(p)
	if err != nil {
		return nil, err
	}

	conveyance := protocol.PreferNoAttestation
	if features.AllowAttestation && p.Attestation != "" {
		conveyance, err = conveyancePreference(p.Attestation)
		if err != nil {
			return nil, err
		}
	}

	existing, err := s.creds.ListUserCredentials(ctx, tenant, p.UserID)
	if err != nil {
		return nil, fmt.Errorf("loading existing credentials: %w", err)
	}
	user := &webAuthnUser{id: p.UserID, name: p.Username, displayName: p.DisplayName, creds: existing}

	exclusions := make([]protocol.CredentialDescriptor, 0, len(existing))
	for _, c := range user.WebAuthnCredentials() {
		exclusions = append(exclusions, c.Descriptor())
	}

	options, session, err := s.webauthn.BeginRegistration(user,
		webauthn.WithExclusions(exclusions),
		webauthn.WithAuthenticatorSelection(selection),
		webauthn.WithConveyancePreference(conveyance),
	)
	if err != nil {
		return nil, fmt.Errorf("beginning registration: %w", err)
	}

	rawSession, err := json.Marshal(session)
	if err != nil {
		return nil, fmt.Errorf("encoding session: %w", err)
	}
	sessionToken, err := s.tokens.Issue(ctx, tenant, token.RegisterSession{
		UserID:      p.UserID,
		Username:    p.Username,
		DisplayName: p.DisplayName,
		Session:     rawSession,
	}, s.lifetimes().Session)
	if err != nil {
		return nil, err
	}

	return &Registration{Options: options, SessionToken: sessionToken}, nil
}

// FinishRegistration verifies the attestation in body, stores the new passkey
// and returns a sign-in token of type passkey_register.
func (s *Service) FinishRegistration(ctx context.Context, tenant, sessionToken string, body []byte, device string) (string, error) {
	now := s.now()
	sess, err := token.ValidateAs[token.RegisterSession](ctx, s.tokens, tenant, sessionToken, now)
	if err != nil {
		return "", err
	}

	var session webauthn.SessionData
	if err := json.Unmarshal(sess.Session, &session); err != nil {
		return "", fmt.Errorf("decoding session: %w", err)
	}

	parsed, err := protocol.ParseCredentialCreationResponseBody(bytes.NewReader(body))
	if err != nil {
		s.registerFailed(ctx, tenant, sess.UserID, "invalid attestation response")
		return "", fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}

	existing, err := s.creds.ListUserCredentials(ctx, tenant, sess.UserID)
	if err != nil {
		return "", fmt.Errorf("loading existing credentials: %w", err)
	}
	user := &webAuthnUser{id: sess.UserID, name: sess.Username, displayName: sess.DisplayName, creds: existing}

	credential, err := s.webauthn.CreateCredential(user, session, parsed)
	if err != nil {
		s.logger.Debug("attestation rejected", "tenant", tenant, "error", err)
		s.registerFailed(ctx, tenant, sess.UserID, "attestation rejected")
		return "", fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}

	stored := fromWebAuthn(tenant, sess.UserID, credential)
	stored.CreatedAt = now.UTC()
	if err := s.creds.CreateCredential(ctx, stored); err != nil {
		if errors.Is(err, store.ErrDuplicateCredential) {
			s.registerFailed(ctx, tenant, sess.UserID, "credential already registered")
			return "", ErrCredentialExists
		}
		return "", fmt.Errorf("saving credential: %w", err)
	}

	credentialID := EncodeCredentialID(credential.ID)
	result, err := s.tokens.Issue(ctx, tenant, token.SignInPayload{
		UserID:       sess.UserID,
		CredentialID: credentialID,
		Success:      true,
		Origin:       parsed.Response.CollectedClientData.Origin,
		RPID:         s.rpID,
		Device:       device,
		Type:         TypeRegister,
		Timestamp:    now.UTC(),
	}, s.lifetimes().SignIn)
	if err != nil {
		return "", err
	}

	e := eventlog.NewEvent(store.EventRegisterCompleted, store.SeverityInfo, "passkey registered")
	e.Tenant = tenant
	e.PerformedBy = sess.UserID
	e.Subject = credentialID
	eventlog.Record(ctx, e)

	s.logger.Info("passkey registered", "tenant", tenant, "user_id", sess.UserID)
	return result, nil
}

// Assertion is returned by BeginSignIn.
type Assertion struct {
	Options      *protocol.CredentialAssertion `json:"options"`
	SessionToken string                        `json:"session_token"`
}

// BeginSignIn creates assertion options. An empty userID starts a
// discoverable (usernameless) sign-in. A non-empty purpose requests a step-up
// and requires user verification.
func (s *Service) BeginSignIn(ctx context.Context, tenant, userID, purpose string) (*Assertion, error) {
	var opts []webauthn.LoginOption
	if purpose != "" {
		opts = append(opts, webauthn.WithUserVerification(protocol.VerificationRequired))
	}

	var (
		options *protocol.CredentialAssertion
		session *webauthn.SessionData
		err     error
	)
	if userID == "" {
		options, session, err = s.webauthn.BeginDiscoverableLogin(opts...)
	} else {
		creds, lerr := s.creds.ListUserCredentials(ctx, tenant, userID)
		if lerr != nil {
			return nil, fmt.Errorf("loading credentials: %w", lerr)
		}
		if len(creds) == 0 {
			return nil, ErrNoCredentials
		}
		options, session, err = s.webauthn.BeginLogin(&webAuthnUser{id: userID, creds: creds}, opts...)
	}
	if err != nil {
		return nil, fmt.Errorf("beginning sign-in: %w", err)
	}

	rawSession, err := json.Marshal(session)
	if err != nil {
		return nil, fmt.Errorf("encoding session: %w", err)
	}
	sessionToken, err := s.tokens.Issue(ctx, tenant, token.SignInSession{
		UserID:  userID,
		Purpose: purpose,
		Session: rawSession,
	}, s.lifetimes().Session)
	if err != nil {
		return nil, err
	}

	return &Assertion{Options: options, SessionToken: sessionToken}, nil
}

// SignInResult is the outcome of FinishSignIn. Kind tells which token Token is.
type SignInResult struct {
	Token  string
	Kind   token.Kind
	UserID string
}

// FinishSignIn verifies the assertion in body, records the use of the passkey,
// and issues a sign-in token, or a step-up token when the session carries a purpose.
func (s *Service) FinishSignIn(ctx context.Context, tenant, sessionToken string, body []byte, device string) (*SignInResult, error) {
	now := s.now()
	sess, err := token.ValidateAs[token.SignInSession](ctx, s.tokens, tenant, sessionToken, now)
	if err != nil {
		return nil, err
	}

	var session webauthn.SessionData
	if err := json.Unmarshal(sess.Session, &session); err != nil {
		return nil, fmt.Errorf("decoding session: %w", err)
	}

	parsed, err := protocol.ParseCredentialRequestResponseBody(bytes.NewReader(body))
	if err != nil {
		s.signInFailed(ctx, tenant, sess.UserID, "invalid assertion response")
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}

	stored, err := s.creds.GetCredential(ctx, tenant, parsed.RawID)
	if errors.Is(err, store.ErrNotFound) {
		s.signInFailed(ctx, tenant, sess.UserID, "unknown credential")
		return nil, ErrUnknownCredential
	}
	if err != nil {
		return nil, fmt.Errorf("loading credential: %w", err)
	}
	if sess.UserID != "" && stored.UserID != sess.UserID {
		s.signInFailed(ctx, tenant, sess.UserID, "credential belongs to another user")
		return nil, ErrUnknownCredential
	}

	all, err := s.creds.ListUserCredentials(ctx, tenant, stored.UserID)
	if err != nil {
		return nil, fmt.Errorf("loading credentials: %w", err)
	}
	user := &webAuthnUser{id: stored.UserID, creds: all}

	var credential *webauthn.Credential
	if sess.UserID == "" {
		credential, err = s.webauthn.ValidateDiscoverableLogin(func(rawID, userHandle []byte) (webauthn.User, error) {
			if len(userHandle) > 0 && string(userHandle) != stored.UserID {
				return nil, errors.New("user handle mismatch")
			}
			return user, nil
		}, session, parsed)
	} else {
		credential, err = s.webauthn.ValidateLogin(user, session, parsed)
	}
	if err != nil {
		s.logger.Debug("assertion rejected", "tenant", tenant, "error", err)
		s.signInFailed(ctx, tenant, stored.UserID, "assertion rejected")
		return nil, fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}

	if credential.Authenticator.CloneWarning {
		s.logger.Warn("sign count went backwards, possible cloned authenticator",
			"tenant", tenant, "user_id", stored.UserID)
	}
	if err := s.creds.UpdateCredentialUsage(ctx, tenant, credential.ID, credential.Authenticator.SignCount, now.UTC()); err != nil {
		s.logger.Warn("failed to update credential usage", "tenant", tenant, "error", err)
	}

	credentialID := EncodeCredentialID(credential.ID)
	origin := parsed.Response.CollectedClientData.Origin

	var payload token.Payload
	var ttl time.Duration
	if sess.Purpose != "" {
		payload = token.StepUpPayload{
			UserID:          stored.UserID,
			CredentialID:    credentialID,
			Purpose:         sess.Purpose,
			Origin:          origin,
			AuthenticatedAt: now.UTC(),
		}
		ttl = s.lifetimes().StepUp
	} else {
		payload = token.SignInPayload{
			UserID:       stored.UserID,
			CredentialID: credentialID,
			Success:      true,
			Origin:       origin,
			RPID:         s.rpID,
			Device:       device,
			Type:         TypeSignIn,
			Timestamp:    now.UTC(),
		}
		ttl = s.lifetimes().SignIn
	}

	result, err := s.tokens.Issue(ctx, tenant, payload, ttl)
	if err != nil {
		return nil, err
	}

	e := eventlog.NewEvent(store.EventSignInSucceeded, store.SeverityInfo, "passkey sign-in succeeded")
	if sess.Purpose != "" {
		e.Message = "passkey step-up succeeded for " + sess.Purpose
	}
	e.Tenant = tenant
	e.PerformedBy = stored.UserID
	e.Subject = credentialID
	eventlog.Record(ctx, e)

	return &SignInResult{Token: result, Kind: payload.Kind(), UserID: stored.UserID}, nil
}

func (s *Service) registerFailed(ctx context.Context, tenant, userID, reason string) {
	e := eventlog.NewEvent(store.EventRegisterFailed, store.SeverityWarning, "passkey registration failed: "+reason)
	e.Tenant = tenant
	e.PerformedBy = userID
	e.Subject = userID
	eventlog.Record(ctx, e)
}

func (s *Service) signInFailed(ctx context.Context, tenant, userID, reason string) {
	e := eventlog.NewEvent(store.EventSignInFailed, store.SeverityWarning, "passkey sign-in failed: "+reason)
	e.Tenant = tenant
	e.PerformedBy = userID
	e.Subject = userID
	eventlog.Record(ctx, e)
}

// ValidateOptions checks the authenticator options of a register payload
// without starting a ceremony.
func ValidateOptions(p token.RegisterPayload) error {
	if _, err := authenticatorSelection(p); err != nil {
		return err
	}
	if p.Attestation != "" {
		if _, err := conveyancePreference(p.Attestation); err != nil {
			return err
		}
	}
	return nil
}

// RPID returns the relying party ID the service verifies against.
func (s *Service) RPID() string {
	return s.rpID
}

func authenticatorSelection(p token.RegisterPayload) (protocol.AuthenticatorSelection, error) {
	var sel protocol.AuthenticatorSelection

	switch protocol.AuthenticatorAttachment(p.AuthenticatorAttachment) {
	case "":
	case protocol.Platform, protocol.CrossPlatform:
		sel.AuthenticatorAttachment = protocol.AuthenticatorAttachment(p.AuthenticatorAttachment)
	default:
		return sel, fmt.Errorf("%w: authenticator_attachment %q", ErrInvalidOptions, p.AuthenticatorAttachment)
	}

	switch protocol.ResidentKeyRequirement(p.ResidentKey) {
	case "":
		sel.ResidentKey = protocol.ResidentKeyRequirementPreferred
	case protocol.ResidentKeyRequirementRequired:
		sel.ResidentKey = protocol.ResidentKeyRequirementRequired
		sel.RequireResidentKey = protocol.ResidentKeyRequired()
	case protocol.ResidentKeyRequirementPreferred, protocol.ResidentKeyRequirementDiscouraged:
		sel.ResidentKey = protocol.ResidentKeyRequirement(p.ResidentKey)
		sel.RequireResidentKey = protocol.ResidentKeyNotRequired()
	default:
		return sel, fmt.Errorf("%w: resident_key %q", ErrInvalidOptions, p.ResidentKey)
	}

	switch protocol.UserVerificationRequirement(p.UserVerification) {
	case "":
		sel.UserVerification = protocol.VerificationPreferred
	case protocol.VerificationRequired, protocol.VerificationPreferred, protocol.VerificationDiscouraged:
		sel.UserVerification = protocol.UserVerificationRequirement(p.UserVerification)
	default:
		return sel, fmt.Errorf("%w: user_verification %q", ErrInvalidOptions, p.UserVerification)
	}

	return sel, nil
}

func conveyancePreference(s string) (protocol.ConveyancePreference, error) {
	switch c := protocol.ConveyancePreference(s); c {
	case protocol.PreferNoAttestation, protocol.PreferIndirectAttestation,
		protocol.PreferDirectAttestation, protocol.PreferEnterpriseAttestation:
		return c, nil
	default:
		return "", fmt.Errorf("%w: attestation %q", ErrInvalidOptions, s)
	}
}
