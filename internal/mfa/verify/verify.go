// Package verify checks submitted second-factor credentials against a user's
// enrolled authenticators. A verifier either succeeds completely, with its
// counter update persisted, or returns an error; there is no partial success.
package verify

import (
	"context"
	"errors"
	"fmt"

	"github.com/aussiebroadwan/mfagate/internal/mfa/domain"
)

// Reason classifies a failed verification. Reasons are for logs and metrics;
// callers show users one generic message.
type Reason string

const (
	NoSuchAuthenticator Reason = "no_such_authenticator"
	InvalidCredential   Reason = "invalid_credential"
	ReplayDetected      Reason = "replay_detected"
	ExpiredChallenge    Reason = "expired_challenge"
)

// Failure is a recoverable verification failure. Any other error returned by
// a verifier is an infrastructure error.
type Failure struct {
	Reason Reason
	Err    error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("verify: %s: %v", f.Reason, f.Err)
	}
	return "verify: " + string(f.Reason)
}

func (f *Failure) Unwrap() error { return f.Err }

func fail(r Reason, err error) *Failure {
	return &Failure{Reason: r, Err: err}
}

// AsFailure unwraps err into a *Failure.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// ErrUnsupportedSubmission is returned when a verifier is handed a submission
// shape it does not accept. Selection routes by shape, so this is a
// programming error.
var ErrUnsupportedSubmission = errors.New("verify: unsupported submission")

// Subject identifies who is verifying and in which flow. The user always
// comes from the pending login or session, never from request input.
// ContextID is the pending login ID for PurposeLogin and the session ID for
// PurposeReauthenticate; it scopes WebAuthn challenges.
type Subject struct {
	User      domain.User
	Purpose   domain.ChallengePurpose
	ContextID string
}

type Verifier interface {
	// Verify returns the authenticator that accepted sub, with its counter
	// and last use already persisted.
	Verify(ctx context.Context, subj Subject, sub domain.Submission) (domain.Authenticator, error)
}

// findType returns the user's single authenticator of type t.
func findType(auths []domain.Authenticator, t domain.AuthenticatorType) (domain.Authenticator, bool) {
	for _, a := range auths {
		if a.Type == t {
			return a, true
		}
	}
	return domain.Authenticator{}, false
}
