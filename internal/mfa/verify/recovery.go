package verify

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aussiebroadwan/mfagate/internal/mfa/domain"
	"github.com/aussiebroadwan/mfagate/internal/mfa/store"
	"github.com/aussiebroadwan/mfagate/pkg/cryptox"
)

// casRetries bounds how often a recovery code is retried when a different
// code of the same user was consumed concurrently.
const casRetries = 3

// RecoveryCodes verifies single-use recovery codes. Only fingerprints are
// stored; bit i of the counter marks code i as used.
type RecoveryCodes struct {
	Store store.Store
	Now   func() time.Time
}

func (v *RecoveryCodes) Verify(ctx context.Context, subj Subject, sub domain.Submission) (domain.Authenticator, error) {
	cs, ok := sub.(domain.CodeSubmission)
	if !ok {
		return domain.Authenticator{}, ErrUnsupportedSubmission
	}
	// Codes are base64url, so only surrounding whitespace is forgiven.
	fp := cryptox.FingerprintToken(strings.TrimSpace(cs.Code))

	for range casRetries {
		a, err := v.load(ctx, subj.User.ID)
		if err != nil {
			return domain.Authenticator{}, err
		}
		data, err := a.DecodeRecoveryCodes()
		if err != nil {
			return domain.Authenticator{}, fmt.Errorf("verify recovery codes: %w", err)
		}

		idx := indexOf(data.Fingerprints, fp)
		if idx < 0 {
			return domain.Authenticator{}, fail(InvalidCredential, nil)
		}
		bit := int64(1) << idx
		if a.Counter&bit != 0 {
			return domain.Authenticator{}, fail(ReplayDetected, fmt.Errorf("code %d already used", idx))
		}

		now := time.Now()
		if v.Now != nil {
			now = v.Now()
		}
		swapped, err := v.Store.Authenticators().CompareAndSwapCounter(ctx, a.ID, a.Counter, a.Counter|bit, now)
		if err != nil {
			return domain.Authenticator{}, fmt.Errorf("verify recovery codes: update mask: %w", err)
		}
		if swapped {
			a.Counter |= bit
			a.LastUsedAt = &now
			return a, nil
		}
		// Another code was consumed in between; reload and check ours again.
	}
	return domain.Authenticator{}, fail(ReplayDetected, errors.New("used mask kept changing"))
}

func (v *RecoveryCodes) load(ctx context.Context, userID string) (domain.Authenticator, error) {
	auths, err := v.Store.Authenticators().ListByUser(ctx, userID)
	if err != nil {
		return domain.Authenticator{}, fmt.Errorf("verify recovery codes: list authenticators: %w", err)
	}
	a, ok := findType(auths, domain.TypeRecoveryCodes)
	if !ok {
		return domain.Authenticator{}, fail(NoSuchAuthenticator, nil)
	}
	return a, nil
}

// indexOf compares against every fingerprint.
func indexOf(fps []string, fp string) int {
	found := -1
	for i, candidate := range fps {
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(fp)) == 1 && found < 0 {
			found = i
		}
	}
	return found
}
