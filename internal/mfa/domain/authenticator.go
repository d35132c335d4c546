package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"
)

// AuthenticatorType is the closed set of factor types.
type AuthenticatorType string

const (
	TypeTOTP          AuthenticatorType = "totp"
	TypeWebAuthn      AuthenticatorType = "webauthn"
	TypeRecoveryCodes AuthenticatorType = "recovery_codes"
)

// AllTypes lists every known type in display order.
var AllTypes = []AuthenticatorType{TypeTOTP, TypeWebAuthn, TypeRecoveryCodes}

// PrimaryTypes are the types that enable MFA on their own. Recovery codes
// only back up one of these.
var PrimaryTypes = []AuthenticatorType{TypeTOTP, TypeWebAuthn}

var ErrUnknownType = errors.New("domain: unknown authenticator type")

func (t AuthenticatorType) Valid() bool {
	switch t {
	case TypeTOTP, TypeWebAuthn, TypeRecoveryCodes:
		return true
	}
	return false
}

func ParseAuthenticatorType(s string) (AuthenticatorType, error) {
	t := AuthenticatorType(s)
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownType, s)
	}
	return t, nil
}

// Authenticator is one enrolled factor instance.
type Authenticator struct {
	ID     string
	UserID string
	Type   AuthenticatorType

	// Data holds type specific secret material as JSON; use the Decode helpers.
	Data json.RawMessage

	// CredentialID is only set for webauthn authenticators.
	CredentialID []byte

	// Counter is type specific: the last accepted TOTP time step, the
	// WebAuthn signature counter, or the recovery-code used mask.
	Counter int64

	CreatedAt  time.Time
	LastUsedAt *time.Time
}

// TOTPData is the secret of a TOTP authenticator.
type TOTPData struct {
	Secret string `json:"secret"` // base32
}

// RecoveryCodesData holds the fingerprints of the issued codes. Bit i of the
// authenticator counter is set once code i has been used.
type RecoveryCodesData struct {
	Fingerprints []string `json:"fingerprints"`
}

// MaxRecoveryCodes is bounded by the width of the used mask.
const MaxRecoveryCodes = 63

// WebAuthnData is the stored public-key credential.
type WebAuthnData struct {
	Label      string              `json:"label"`
	Credential webauthn.Credential `json:"credential"`
}

var ErrTypeMismatch = errors.New("domain: authenticator type mismatch")

func (a Authenticator) DecodeTOTP() (TOTPData, error) {
	var d TOTPData
	err := a.decode(TypeTOTP, &d)
	return d, err
}

func (a Authenticator) DecodeRecoveryCodes() (RecoveryCodesData, error) {
	var d RecoveryCodesData
	if err := a.decode(TypeRecoveryCodes, &d); err != nil {
		return d, err
	}
	if len(d.Fingerprints) > MaxRecoveryCodes {
		return d, fmt.Errorf("domain: %d recovery codes exceeds %d", len(d.Fingerprints), MaxRecoveryCodes)
	}
	return d, nil
}

func (a Authenticator) DecodeWebAuthn() (WebAuthnData, error) {
	var d WebAuthnData
	err := a.decode(TypeWebAuthn, &d)
	return d, err
}

func (a Authenticator) decode(want AuthenticatorType, v any) error {
	if a.Type != want {
		return fmt.Errorf("%w: have %s, want %s", ErrTypeMismatch, a.Type, want)
	}
	if err := json.Unmarshal(a.Data, v); err != nil {
		return fmt.Errorf("domain: decode %s data: %w", want, err)
	}
	return nil
}

// EncodeData marshals type specific data for storage.
func EncodeData(v any) (json.RawMessage, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("domain: encode data: %w", err)
	}
	return b, nil
}
