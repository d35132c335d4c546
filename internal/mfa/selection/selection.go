// Package selection decides which second-factor forms a request gets and
// routes a submission to the verifier for its shape. Routing is structural:
// the posted field names pick the form, never the field contents.
package selection

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/aussiebroadwan/mfagate/internal/mfa/domain"
	"github.com/aussiebroadwan/mfagate/internal/mfa/registry"
	"github.com/aussiebroadwan/mfagate/internal/mfa/verify"
	"github.com/go-playground/validator/v10"
)

// Form field names.
const (
	FieldCode       = "code"
	FieldCredential = "credential"
)

type Shape int

const (
	ShapeNone Shape = iota
	ShapeCode
	ShapeAssertion
)

func (s Shape) String() string {
	switch s {
	case ShapeCode:
		return "code"
	case ShapeAssertion:
		return "assertion"
	}
	return "none"
}

var (
	// ErrAmbiguous is returned for a submission carrying both shapes.
	ErrAmbiguous = errors.New("selection: submission carries both a code and a credential")

	// ErrFeatureUnavailable is returned when the posted shape belongs to a
	// factor type the deployment does not enable.
	ErrFeatureUnavailable = errors.New("selection: feature unavailable")

	// ErrVerificationFailed is the only error shown on a bound form.
	ErrVerificationFailed = errors.New("verification failed")

	ErrNotBound = errors.New("selection: no bound form")
)

// Classify reports the shape of a submission from the presence of its keys.
func Classify(fields url.Values) (Shape, error) {
	_, code := fields[FieldCode]
	_, cred := fields[FieldCredential]
	switch {
	case code && cred:
		return ShapeNone, ErrAmbiguous
	case code:
		return ShapeCode, nil
	case cred:
		return ShapeAssertion, nil
	}
	return ShapeNone, nil
}

// Request carries everything Build needs for one request. Fields is nil
// when nothing was submitted.
type Request struct {
	Subject verify.Subject
	Fields  url.Values
}

type Protocol struct {
	Registry  *registry.Registry
	Verifiers verify.Set

	// Issuer starts assertions for unbound WebAuthn forms. It is only used
	// when WebAuthn is enabled.
	Issuer verify.ChallengeIssuer

	validate *validator.Validate
}

// NewProtocol checks the verifier set against the enabled types.
func NewProtocol(reg *registry.Registry, verifiers verify.Set, issuer verify.ChallengeIssuer, enabled []domain.AuthenticatorType) (*Protocol, error) {
	if err := verifiers.Validate(enabled); err != nil {
		return nil, err
	}
	if verifiers.Supports(domain.TypeWebAuthn) && issuer == nil {
		return nil, fmt.Errorf("%w: webauthn enabled without a challenge issuer", verify.ErrMisconfigured)
	}
	return &Protocol{
		Registry:  reg,
		Verifiers: verifiers,
		Issuer:    issuer,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
	}, nil
}

// Build instantiates the bound form for the submitted shape and an unbound
// form for each other factor the user can use right now.
func (p *Protocol) Build(ctx context.Context, req Request) (*Forms, error) {
	shape, err := Classify(req.Fields)
	if err != nil {
		return nil, err
	}

	codeVerifier := p.Verifiers.Code()
	switch shape {
	case ShapeCode:
		if codeVerifier == nil {
			return nil, fmt.Errorf("%w: code", ErrFeatureUnavailable)
		}
	case ShapeAssertion:
		if !p.Verifiers.Supports(domain.TypeWebAuthn) {
			return nil, fmt.Errorf("%w: webauthn", ErrFeatureUnavailable)
		}
	}

	auths, err := p.Registry.ListByUser(ctx, req.Subject.User.ID)
	if err != nil {
		return nil, err
	}

	f := &Forms{p: p, subj: req.Subject, shape: shape}
	f.webauthnEligible = p.Verifiers.Supports(domain.TypeWebAuthn) && registry.HasUsable(auths, domain.TypeWebAuthn)

	switch shape {
	case ShapeCode:
		f.Code = &CodeForm{Bound: true, Code: req.Fields.Get(FieldCode)}
	case ShapeAssertion:
		f.WebAuthn = &WebAuthnForm{Bound: true, Credential: req.Fields.Get(FieldCredential)}
	}

	if f.Code == nil && p.codeEligible(auths) {
		f.Code = &CodeForm{}
	}
	if f.WebAuthn == nil && f.webauthnEligible {
		if err := f.issue(ctx, &WebAuthnForm{}); err != nil {
			return nil, err
		}
	}
	return f, nil
}

func (p *Protocol) codeEligible(auths []domain.Authenticator) bool {
	var types []domain.AuthenticatorType
	for _, t := range []domain.AuthenticatorType{domain.TypeTOTP, domain.TypeRecoveryCodes} {
		if p.Verifiers.Supports(t) {
			types = append(types, t)
		}
	}
	return len(types) > 0 && registry.HasUsable(auths, types...)
}
