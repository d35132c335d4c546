package verify

import (
	"errors"
	"fmt"
	"slices"

	"github.com/aussiebroadwan/mfagate/internal/mfa/domain"
)

var ErrMisconfigured = errors.New("verify: misconfigured verifier set")

// Set maps each enabled authenticator type to its verifier.
type Set map[domain.AuthenticatorType]Verifier

// Validate checks the set against the ordered list of enabled types: every
// enabled type needs a verifier and no verifier may serve a disabled or
// unknown type. It is called once at startup.
func (s Set) Validate(enabled []domain.AuthenticatorType) error {
	if len(enabled) == 0 {
		return fmt.Errorf("%w: no enabled types", ErrMisconfigured)
	}
	for i, t := range enabled {
		if !t.Valid() {
			return fmt.Errorf("%w: %w: %q", ErrMisconfigured, domain.ErrUnknownType, t)
		}
		if slices.Contains(enabled[:i], t) {
			return fmt.Errorf("%w: %s enabled twice", ErrMisconfigured, t)
		}
		if s[t] == nil {
			return fmt.Errorf("%w: no verifier for %s", ErrMisconfigured, t)
		}
	}
	for t := range s {
		if !slices.Contains(enabled, t) {
			return fmt.Errorf("%w: verifier for disabled type %s", ErrMisconfigured, t)
		}
	}
	return nil
}

// Supports reports whether t is enabled.
func (s Set) Supports(t domain.AuthenticatorType) bool {
	return s[t] != nil
}

// Code returns the verifier behind the code form: TOTP first, then recovery
// codes, limited to the enabled ones. It is nil when neither is enabled.
func (s Set) Code() Verifier {
	var c Code
	for _, t := range []domain.AuthenticatorType{domain.TypeTOTP, domain.TypeRecoveryCodes} {
		if v := s[t]; v != nil {
			c = append(c, v)
		}
	}
	if len(c) == 0 {
		return nil
	}
	return c
}

// WebAuthn returns the assertion verifier, or nil when WebAuthn is disabled.
func (s Set) WebAuthn() Verifier {
	return s[domain.TypeWebAuthn]
}
