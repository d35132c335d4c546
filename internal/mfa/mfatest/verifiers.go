package mfatest

import (
	"context"
	"sync/atomic"

	"github.com/aussiebroadwan/mfagate/internal/mfa/domain"
	"github.com/aussiebroadwan/mfagate/internal/mfa/verify"
)

// PanicVerifier panics when invoked. Tests install it for the factor that a
// submission must never reach.
type PanicVerifier struct{ Name string }

func (p PanicVerifier) Verify(context.Context, verify.Subject, domain.Submission) (domain.Authenticator, error) {
	panic("mfatest: " + p.Name + " verifier must not be invoked")
}

// StubVerifier returns a fixed result and counts calls.
type StubVerifier struct {
	Result domain.Authenticator
	Err    error
	calls  atomic.Int32
}

func (s *StubVerifier) Verify(context.Context, verify.Subject, domain.Submission) (domain.Authenticator, error) {
	s.calls.Add(1)
	return s.Result, s.Err
}

func (s *StubVerifier) Calls() int { return int(s.calls.Load()) }
