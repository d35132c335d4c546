package verify_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aussiebroadwan/mfagate/internal/mfa/domain"
	"github.com/aussiebroadwan/mfagate/internal/mfa/mfatest"
	"github.com/aussiebroadwan/mfagate/internal/mfa/verify"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"
)

func TestCode_TriesTOTPThenRecovery(t *testing.T) {
	ctx := context.Background()
	st := mfatest.NewStore(t)
	u := mfatest.CreateUser(t, st, "alice")
	secret := mfatest.AddTOTP(t, st, u.ID)
	codes := mfatest.AddRecoveryCodes(t, st, u.ID, 2)

	now := func() time.Time { return fixedNow }
	set := verify.Set{
		domain.TypeTOTP:          &verify.TOTP{Store: st, Skew: 1, Now: now},
		domain.TypeRecoveryCodes: &verify.RecoveryCodes{Store: st, Now: now},
	}
	v := set.Code()
	subj := verify.Subject{User: u}

	otp, err := totp.GenerateCode(secret, fixedNow)
	require.NoError(t, err)
	a, err := v.Verify(ctx, subj, domain.CodeSubmission{Code: otp})
	require.NoError(t, err)
	require.Equal(t, domain.TypeTOTP, a.Type)

	a, err = v.Verify(ctx, subj, domain.CodeSubmission{Code: codes[0]})
	require.NoError(t, err)
	require.Equal(t, domain.TypeRecoveryCodes, a.Type)

	// TOTP replay is reported over recovery's "unknown code".
	_, err = v.Verify(ctx, subj, domain.CodeSubmission{Code: otp})
	requireReason(t, err, verify.ReplayDetected)

	_, err = v.Verify(ctx, subj, domain.CodeSubmission{Code: "000000"})
	requireReason(t, err, verify.InvalidCredential)
}

func TestCode_RecoveryOnlyDeployment(t *testing.T) {
	st := mfatest.NewStore(t)
	u := mfatest.CreateUser(t, st, "alice")
	codes := mfatest.AddRecoveryCodes(t, st, u.ID, 1)

	set := verify.Set{domain.TypeRecoveryCodes: &verify.RecoveryCodes{Store: st}}
	a, err := set.Code().Verify(context.Background(), verify.Subject{User: u}, domain.CodeSubmission{Code: codes[0]})
	require.NoError(t, err)
	require.Equal(t, domain.TypeRecoveryCodes, a.Type)
}

func TestCode_Ranking(t *testing.T) {
	ctx := context.Background()
	none := &mfatest.StubVerifier{Err: &verify.Failure{Reason: verify.NoSuchAuthenticator}}
	invalid := &mfatest.StubVerifier{Err: &verify.Failure{Reason: verify.InvalidCredential}}
	boom := errors.New("database is on fire")
	broken := &mfatest.StubVerifier{Err: boom}

	_, err := verify.Code{none, none}.Verify(ctx, verify.Subject{}, domain.CodeSubmission{Code: "x"})
	requireReason(t, err, verify.NoSuchAuthenticator)

	_, err = verify.Code{invalid, none}.Verify(ctx, verify.Subject{}, domain.CodeSubmission{Code: "x"})
	requireReason(t, err, verify.InvalidCredential)

	untouched := &mfatest.StubVerifier{}
	_, err = verify.Code{broken, untouched}.Verify(ctx, verify.Subject{}, domain.CodeSubmission{Code: "x"})
	require.ErrorIs(t, err, boom)
	_, isFailure := verify.AsFailure(err)
	require.False(t, isFailure)
	require.Zero(t, untouched.Calls())

	_, err = verify.Code{invalid}.Verify(ctx, verify.Subject{}, domain.AssertionSubmission{})
	require.ErrorIs(t, err, verify.ErrUnsupportedSubmission)
}
