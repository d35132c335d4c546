package verify_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/mfagate/internal/mfa/domain"
	"github.com/aussiebroadwan/mfagate/internal/mfa/mfatest"
	"github.com/aussiebroadwan/mfagate/internal/mfa/verify"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Unix(1_700_000_010, 0)

func requireReason(t *testing.T, err error, want verify.Reason) {
	t.Helper()
	f, ok := verify.AsFailure(err)
	require.True(t, ok, "expected a verification failure, got %v", err)
	require.Equal(t, want, f.Reason)
}

func TestTOTP_VerifiesExactlyOnce(t *testing.T) {
	ctx := context.Background()
	st := mfatest.NewStore(t)
	u := mfatest.CreateUser(t, st, "alice")
	secret := mfatest.AddTOTP(t, st, u.ID)

	now := fixedNow
	v := &verify.TOTP{Store: st, Skew: 1, Now: func() time.Time { return now }}
	subj := verify.Subject{User: u}

	code, err := totp.GenerateCode(secret, now)
	require.NoError(t, err)

	a, err := v.Verify(ctx, subj, domain.CodeSubmission{Code: code})
	require.NoError(t, err)
	require.Equal(t, domain.TypeTOTP, a.Type)
	require.Equal(t, now.Unix()/30, a.Counter)
	require.NotNil(t, a.LastUsedAt)

	stored := mfatest.Reload(t, st, a)
	require.Equal(t, a.Counter, stored.Counter)

	// Same code inside the window.
	_, err = v.Verify(ctx, subj, domain.CodeSubmission{Code: code})
	requireReason(t, err, verify.ReplayDetected)

	// Same code long after the window closed.
	now = fixedNow.Add(10 * time.Minute)
	_, err = v.Verify(ctx, subj, domain.CodeSubmission{Code: code})
	requireReason(t, err, verify.InvalidCredential)

	// A fresh code for the later step still works.
	code, err = totp.GenerateCode(secret, now)
	require.NoError(t, err)
	_, err = v.Verify(ctx, subj, domain.CodeSubmission{Code: code})
	require.NoError(t, err)
}

func TestTOTP_Skew(t *testing.T) {
	ctx := context.Background()
	st := mfatest.NewStore(t)
	u := mfatest.CreateUser(t, st, "alice")
	secret := mfatest.AddTOTP(t, st, u.ID)

	previous, err := totp.GenerateCode(secret, fixedNow.Add(-30*time.Second))
	require.NoError(t, err)

	strict := &verify.TOTP{Store: st, Skew: 0, Now: func() time.Time { return fixedNow }}
	_, err = strict.Verify(ctx, verify.Subject{User: u}, domain.CodeSubmission{Code: previous})
	requireReason(t, err, verify.InvalidCredential)

	lenient := &verify.TOTP{Store: st, Skew: 1, Now: func() time.Time { return fixedNow }}
	a, err := lenient.Verify(ctx, verify.Subject{User: u}, domain.CodeSubmission{Code: previous})
	require.NoError(t, err)
	require.Equal(t, fixedNow.Unix()/30-1, a.Counter)
}

func TestTOTP_Failures(t *testing.T) {
	ctx := context.Background()
	st := mfatest.NewStore(t)
	withTOTP := mfatest.CreateUser(t, st, "alice")
	mfatest.AddTOTP(t, st, withTOTP.ID)
	without := mfatest.CreateUser(t, st, "bob")

	v := &verify.TOTP{Store: st, Skew: 1, Now: func() time.Time { return fixedNow }}

	tests := []struct {
		name string
		user domain.User
		code string
		want verify.Reason
	}{
		{"no authenticator", without, "123456", verify.NoSuchAuthenticator},
		{"letters", withTOTP, "abcdef", verify.InvalidCredential},
		{"too short", withTOTP, "12345", verify.InvalidCredential},
		{"empty", withTOTP, "", verify.InvalidCredential},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(ctx, verify.Subject{User: tt.user}, domain.CodeSubmission{Code: tt.code})
			requireReason(t, err, tt.want)
		})
	}

	t.Run("assertion submission", func(t *testing.T) {
		_, err := v.Verify(ctx, verify.Subject{User: withTOTP}, domain.AssertionSubmission{Credential: []byte("{}")})
		require.ErrorIs(t, err, verify.ErrUnsupportedSubmission)
	})
}

func TestTOTP_AcceptsFormattedCode(t *testing.T) {
	st := mfatest.NewStore(t)
	u := mfatest.CreateUser(t, st, "alice")
	secret := mfatest.AddTOTP(t, st, u.ID)

	code, err := totp.GenerateCode(secret, fixedNow)
	require.NoError(t, err)

	v := &verify.TOTP{Store: st, Skew: 1, Now: func() time.Time { return fixedNow }}
	_, err = v.Verify(context.Background(), verify.Subject{User: u}, domain.CodeSubmission{Code: " " + code[:3] + " " + code[3:] + "\n"})
	require.NoError(t, err)
}

func TestTOTP_ConcurrentSubmissions(t *testing.T) {
	ctx := context.Background()
	st := mfatest.NewStore(t)
	u := mfatest.CreateUser(t, st, "alice")
	secret := mfatest.AddTOTP(t, st, u.ID)

	code, err := totp.GenerateCode(secret, fixedNow)
	require.NoError(t, err)
	v := &verify.TOTP{Store: st, Skew: 1, Now: func() time.Time { return fixedNow }}

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ok      int
		replays int
		others  []error
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := v.Verify(ctx, verify.Subject{User: u}, domain.CodeSubmission{Code: code})

			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				ok++
				return
			}
			if f, isFailure := verify.AsFailure(err); isFailure && f.Reason == verify.ReplayDetected {
				replays++
				return
			}
			others = append(others, err)
		}()
	}
	wg.Wait()

	require.Empty(t, others)
	require.Equal(t, 1, ok)
	require.Equal(t, workers-1, replays)
}
