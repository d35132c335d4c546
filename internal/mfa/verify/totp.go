package verify

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/mfagate/internal/mfa/domain"
	"github.com/aussiebroadwan/mfagate/internal/mfa/store"
	"github.com/aussiebroadwan/mfagate/pkg/cryptox"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	DefaultTOTPPeriod = 30
	DefaultTOTPSkew   = 1
)

// TOTP verifies six digit time-based codes. The stored counter is the last
// accepted time step; a code only verifies for a later step, so each code is
// accepted at most once.
type TOTP struct {
	Store store.Store

	Period uint // seconds, DefaultTOTPPeriod when zero
	Skew   uint // steps either side of now

	Now func() time.Time
}

func (v *TOTP) now() time.Time {
	if v.Now != nil {
		return v.Now()
	}
	return time.Now()
}

func (v *TOTP) period() uint {
	if v.Period == 0 {
		return DefaultTOTPPeriod
	}
	return v.Period
}

func (v *TOTP) Verify(ctx context.Context, subj Subject, sub domain.Submission) (domain.Authenticator, error) {
	cs, ok := sub.(domain.CodeSubmission)
	if !ok {
		return domain.Authenticator{}, ErrUnsupportedSubmission
	}

	auths, err := v.Store.Authenticators().ListByUser(ctx, subj.User.ID)
	if err != nil {
		return domain.Authenticator{}, fmt.Errorf("verify totp: list authenticators: %w", err)
	}
	a, ok := findType(auths, domain.TypeTOTP)
	if !ok {
		return domain.Authenticator{}, fail(NoSuchAuthenticator, nil)
	}
	data, err := a.DecodeTOTP()
	if err != nil {
		return domain.Authenticator{}, fmt.Errorf("verify totp: %w", err)
	}

	code := cryptox.NormalizeCode(cs.Code)
	if !isDigits(code, 6) {
		return domain.Authenticator{}, fail(InvalidCredential, errors.New("malformed code"))
	}

	now := v.now()
	step, err := v.match(data.Secret, code, now)
	if err != nil {
		return domain.Authenticator{}, fmt.Errorf("verify totp: %w", err)
	}
	switch {
	case step < 0:
		return domain.Authenticator{}, fail(InvalidCredential, nil)
	case step <= a.Counter:
		return domain.Authenticator{}, fail(ReplayDetected, fmt.Errorf("step %d already used", step))
	}

	swapped, err := v.Store.Authenticators().CompareAndSwapCounter(ctx, a.ID, a.Counter, step, now)
	if err != nil {
		return domain.Authenticator{}, fmt.Errorf("verify totp: update counter: %w", err)
	}
	if !swapped {
		return domain.Authenticator{}, fail(ReplayDetected, errors.New("counter changed concurrently"))
	}

	a.Counter = step
	a.LastUsedAt = &now
	return a, nil
}

// match returns the latest time step within the skew window whose code
// equals code, or -1.
func (v *TOTP) match(secret, code string, now time.Time) (int64, error) {
	period := int64(v.period())
	current := now.Unix() / period
	opts := totp.ValidateOpts{
		Period:    v.period(),
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	}

	for step := current + int64(v.Skew); step >= current-int64(v.Skew); step-- {
		want, err := totp.GenerateCodeCustom(secret, time.Unix(step*period, 0), opts)
		if err != nil {
			return -1, err
		}
		if subtle.ConstantTimeCompare([]byte(want), []byte(code)) == 1 {
			return step, nil
		}
	}
	return -1, nil
}

func isDigits(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
