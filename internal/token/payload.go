// ABOUTME: Token kinds and the payload carried by each kind
// ABOUTME: Payload is a closed set; decoding switches exhaustively on Kind

package token

import (
	"fmt"
	"time"
)

// Kind discriminates token payloads.
type Kind uint8

const (
	KindRegister Kind = iota + 1
	KindSignIn
	KindStepUp
	KindRegisterSession
	KindSignInSession
)

func (k Kind) String() string {
	switch k {
	case KindRegister:
		return "register"
	case KindSignIn:
		return "sign_in"
	case KindStepUp:
		return "step_up"
	case KindRegisterSession:
		return "register_session"
	case KindSignInSession:
		return "sign_in_session"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Payload is implemented only by the payload types of this package.
type Payload interface {
	Kind() Kind
	sealed()
}

// RegisterPayload authorizes a browser to register a passkey for a user.
type RegisterPayload struct {
	UserID                  string `cbor:"1,keyasint" json:"user_id"`
	Username                string `cbor:"2,keyasint" json:"username"`
	DisplayName             string `cbor:"3,keyasint" json:"display_name"`
	Attestation             string `cbor:"4,keyasint" json:"attestation,omitempty"`
	AuthenticatorAttachment string `cbor:"5,keyasint" json:"authenticator_attachment,omitempty"`
	ResidentKey             string `cbor:"6,keyasint" json:"resident_key,omitempty"`
	UserVerification        string `cbor:"7,keyasint" json:"user_verification,omitempty"`
}

// SignInPayload records a completed passkey sign-in or registration.
type SignInPayload struct {
	UserID       string    `cbor:"1,keyasint" json:"user_id"`
	CredentialID string    `cbor:"2,keyasint" json:"credential_id"`
	Success      bool      `cbor:"3,keyasint" json:"success"`
	Origin       string    `cbor:"4,keyasint" json:"origin"`
	RPID         string    `cbor:"5,keyasint" json:"rp_id"`
	Device       string    `cbor:"6,keyasint" json:"device"`
	Type         string    `cbor:"7,keyasint" json:"type"`
	Timestamp    time.Time `cbor:"8,keyasint" json:"timestamp"`
}

// StepUpPayload proves a recent re-authentication for a specific purpose.
type StepUpPayload struct {
	UserID          string    `cbor:"1,keyasint" json:"user_id"`
	CredentialID    string    `cbor:"2,keyasint" json:"credential_id"`
	Purpose         string    `cbor:"3,keyasint" json:"purpose"`
	Origin          string    `cbor:"4,keyasint" json:"origin"`
	AuthenticatedAt time.Time `cbor:"5,keyasint" json:"authenticated_at"`
}

// RegisterSession carries ceremony state between begin and complete of a registration.
type RegisterSession struct {
	UserID      string `cbor:"1,keyasint"`
	Username    string `cbor:"2,keyasint"`
	DisplayName string `cbor:"3,keyasint"`
	Session     []byte `cbor:"4,keyasint"`
}

// SignInSession carries ceremony state between begin and complete of a sign-in.
type SignInSession struct {
	UserID  string `cbor:"1,keyasint"`
	Purpose string `cbor:"2,keyasint"`
	Session []byte `cbor:"3,keyasint"`
}

func (RegisterPayload) Kind() Kind { return KindRegister }
func (SignInPayload) Kind() Kind   { return KindSignIn }
func (StepUpPayload) Kind() Kind   { return KindStepUp }
func (RegisterSession) Kind() Kind { return KindRegisterSession }
func (SignInSession) Kind() Kind   { return KindSignInSession }

func (RegisterPayload) sealed() {}
func (SignInPayload) sealed()   {}
func (StepUpPayload) sealed()   {}
func (RegisterSession) sealed() {}
func (SignInSession) sealed()   {}

func decodePayload(kind Kind, raw []byte) (Payload, error) {
	switch kind {
	case KindRegister:
		return unmarshalPayload[RegisterPayload](raw)
	case KindSignIn:
		return unmarshalPayload[SignInPayload](raw)
	case KindStepUp:
		return unmarshalPayload[StepUpPayload](raw)
	case KindRegisterSession:
		return unmarshalPayload[RegisterSession](raw)
	case KindSignInSession:
		return unmarshalPayload[SignInSession](raw)
	default:
		return nil, fmt.Errorf("unknown token kind %d", uint8(kind))
	}
}

func unmarshalPayload[T Payload](raw []byte) (Payload, error) {
	var p T
	if err := decMode.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	return p, nil
}
