package verify

import (
	"context"

	"github.com/aussiebroadwan/mfagate/internal/mfa/domain"
)

// Code tries a code submission against each verifier in order and returns
// the first success. When all fail, the most specific failure wins:
// a replay over a bad code over a missing authenticator.
type Code []Verifier

var rank = map[Reason]int{
	NoSuchAuthenticator: 0,
	ExpiredChallenge:    1,
	InvalidCredential:   2,
	ReplayDetected:      3,
}

func (c Code) Verify(ctx context.Context, subj Subject, sub domain.Submission) (domain.Authenticator, error) {
	if _, ok := sub.(domain.CodeSubmission); !ok {
		return domain.Authenticator{}, ErrUnsupportedSubmission
	}

	worst := fail(NoSuchAuthenticator, nil)
	for _, v := range c {
		a, err := v.Verify(ctx, subj, sub)
		if err == nil {
			return a, nil
		}
		f, ok := AsFailure(err)
		if !ok {
			return domain.Authenticator{}, err
		}
		if rank[f.Reason] > rank[worst.Reason] {
			worst = f
		}
	}
	return domain.Authenticator{}, worst
}
