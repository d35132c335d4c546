package selection

import (
	"context"
	"fmt"

	"github.com/aussiebroadwan/mfagate/internal/mfa/domain"
	"github.com/aussiebroadwan/mfagate/internal/mfa/verify"
	"github.com/go-webauthn/webauthn/protocol"
)

// CodeForm accepts a TOTP or recovery code.
type CodeForm struct {
	Bound bool
	Code  string `validate:"required,max=128"`
	Err   error  `validate:"-"`
}

// WebAuthnForm accepts a security key assertion. Unbound forms carry the
// assertion options for the browser.
type WebAuthnForm struct {
	Bound      bool
	Credential string                        `validate:"required,json"`
	Assertion  *protocol.CredentialAssertion `validate:"-"`
	Err        error                         `validate:"-"`
}

// Forms is the per-request result of Build. A nil form means that factor is
// not usable for this user in this deployment.
type Forms struct {
	Code     *CodeForm
	WebAuthn *WebAuthnForm

	p                *Protocol
	subj             verify.Subject
	shape            Shape
	webauthnEligible bool
}

func (f *Forms) Shape() Shape { return f.shape }

// Validate checks the bound form, first its shape and then its credential
// with the matching verifier. Verification failures set ErrVerificationFailed
// on the form and return the *verify.Failure; any other error is an
// infrastructure error and leaves the form untouched.
func (f *Forms) Validate(ctx context.Context) (domain.Authenticator, error) {
	switch f.shape {
	case ShapeCode:
		return f.validateCode(ctx)
	case ShapeAssertion:
		return f.validateWebAuthn(ctx)
	}
	return domain.Authenticator{}, ErrNotBound
}

func (f *Forms) validateCode(ctx context.Context) (domain.Authenticator, error) {
	form := f.Code
	if err := f.p.validate.Struct(form); err != nil {
		form.Err = ErrVerificationFailed
		return domain.Authenticator{}, &verify.Failure{Reason: verify.InvalidCredential, Err: err}
	}

	a, err := f.p.Verifiers.Code().Verify(ctx, f.subj, domain.CodeSubmission{Code: form.Code})
	if _, ok := verify.AsFailure(err); ok {
		form.Err = ErrVerificationFailed
	}
	return a, err
}

func (f *Forms) validateWebAuthn(ctx context.Context) (domain.Authenticator, error) {
	form := f.WebAuthn
	verr := f.p.validate.Struct(form)
	var (
		a   domain.Authenticator
		err error
	)
	if verr != nil {
		err = &verify.Failure{Reason: verify.InvalidCredential, Err: verr}
	} else {
		a, err = f.p.Verifiers.WebAuthn().Verify(ctx, f.subj, domain.AssertionSubmission{Credential: []byte(form.Credential)})
	}

	if _, ok := verify.AsFailure(err); !ok {
		return a, err
	}
	form.Err = ErrVerificationFailed

	// The submitted challenge is spent; hand out a new one for the retry.
	if f.webauthnEligible {
		if ierr := f.issue(ctx, form); ierr != nil {
			return domain.Authenticator{}, ierr
		}
	}
	return a, err
}

func (f *Forms) issue(ctx context.Context, form *WebAuthnForm) error {
	assertion, err := f.p.Issuer.Begin(ctx, f.subj)
	if err != nil {
		return fmt.Errorf("selection: issue challenge: %w", err)
	}
	form.Assertion = assertion
	f.WebAuthn = form
	return nil
}
