package verify_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/mfagate/internal/mfa/domain"
	"github.com/aussiebroadwan/mfagate/internal/mfa/mfatest"
	"github.com/aussiebroadwan/mfagate/internal/mfa/store/drivers/sqlite"
	"github.com/aussiebroadwan/mfagate/internal/mfa/verify"
	"github.com/stretchr/testify/require"
)

type webauthnFixture struct {
	st   *sqlite.Store
	rp   *mfatest.RelyingParty
	v    *verify.WebAuthn
	user domain.User
	subj verify.Subject
	now  time.Time
}

func newWebAuthnFixture(t *testing.T) *webauthnFixture {
	t.Helper()

	f := &webauthnFixture{st: mfatest.NewStore(t), rp: &mfatest.RelyingParty{}, now: fixedNow}
	f.user = mfatest.CreateUser(t, f.st, "alice")
	f.v = &verify.WebAuthn{
		Store:        f.st,
		Challenges:   f.st.Challenges(),
		RelyingParty: f.rp,
		Parser:       mfatest.Parser{},
		ChallengeTTL: time.Minute,
		Now:          func() time.Time { return f.now },
	}
	f.subj = verify.Subject{User: f.user, Purpose: domain.PurposeLogin, ContextID: "login-1"}
	return f
}

func (f *webauthnFixture) begin(t *testing.T) {
	t.Helper()
	assertion, err := f.v.Begin(context.Background(), f.subj)
	require.NoError(t, err)
	require.NotEmpty(t, assertion.Response.Challenge)
}

func (f *webauthnFixture) verify(credentialID string, counter uint32) (domain.Authenticator, error) {
	sub := domain.AssertionSubmission{Credential: mfatest.Assertion([]byte(credentialID), counter)}
	return f.v.Verify(context.Background(), f.subj, sub)
}

func TestWebAuthn_CounterMustIncrease(t *testing.T) {
	f := newWebAuthnFixture(t)
	key := mfatest.AddWebAuthn(t, f.st, f.user.ID, []byte("key-1"), 5)

	f.begin(t)
	_, err := f.verify("key-1", 4)
	requireReason(t, err, verify.ReplayDetected)

	f.begin(t)
	_, err = f.verify("key-1", 5)
	requireReason(t, err, verify.ReplayDetected)

	f.begin(t)
	a, err := f.verify("key-1", 6)
	require.NoError(t, err)
	require.Equal(t, key.ID, a.ID)
	require.Equal(t, int64(6), a.Counter)

	stored := mfatest.Reload(t, f.st, key)
	require.Equal(t, int64(6), stored.Counter)
	require.NotNil(t, stored.LastUsedAt)
}

func TestWebAuthn_AnyOfSeveralCredentials(t *testing.T) {
	f := newWebAuthnFixture(t)
	mfatest.AddWebAuthn(t, f.st, f.user.ID, []byte("key-1"), 1)
	second := mfatest.AddWebAuthn(t, f.st, f.user.ID, []byte("key-2"), 10)
	mfatest.AddWebAuthn(t, f.st, f.user.ID, []byte("key-3"), 0)

	f.begin(t)
	a, err := f.verify("key-2", 11)
	require.NoError(t, err)
	require.Equal(t, second.ID, a.ID)

	f.begin(t)
	_, err = f.verify("key-4", 1)
	requireReason(t, err, verify.NoSuchAuthenticator)

	// Another user's key is unknown to this subject.
	bob := mfatest.CreateUser(t, f.st, "bob")
	mfatest.AddWebAuthn(t, f.st, bob.ID, []byte("key-9"), 0)
	f.begin(t)
	_, err = f.verify("key-9", 1)
	requireReason(t, err, verify.NoSuchAuthenticator)
}

func TestWebAuthn_ChallengeIsSingleUse(t *testing.T) {
	f := newWebAuthnFixture(t)
	mfatest.AddWebAuthn(t, f.st, f.user.ID, []byte("key-1"), 0)

	_, err := f.verify("key-1", 1)
	requireReason(t, err, verify.ExpiredChallenge)

	f.begin(t)
	_, err = f.verify("key-1", 1)
	require.NoError(t, err)

	_, err = f.verify("key-1", 2)
	requireReason(t, err, verify.ExpiredChallenge)

	// A failed attempt also burns the challenge.
	f.begin(t)
	_, err = f.verify("key-1", 1)
	requireReason(t, err, verify.ReplayDetected)
	_, err = f.verify("key-1", 3)
	requireReason(t, err, verify.ExpiredChallenge)
}

func TestWebAuthn_ChallengeScope(t *testing.T) {
	f := newWebAuthnFixture(t)
	mfatest.AddWebAuthn(t, f.st, f.user.ID, []byte("key-1"), 0)

	t.Run("expired", func(t *testing.T) {
		f.begin(t)
		f.now = fixedNow.Add(2 * time.Minute)
		defer func() { f.now = fixedNow }()

		_, err := f.verify("key-1", 1)
		requireReason(t, err, verify.ExpiredChallenge)
	})

	t.Run("other context", func(t *testing.T) {
		f.begin(t)
		other := f.subj
		other.ContextID = "login-2"
		sub := domain.AssertionSubmission{Credential: mfatest.Assertion([]byte("key-1"), 1)}
		_, err := f.v.Verify(context.Background(), other, sub)
		requireReason(t, err, verify.ExpiredChallenge)
	})

	t.Run("other purpose", func(t *testing.T) {
		f.begin(t)
		other := f.subj
		other.Purpose = domain.PurposeReauthenticate
		sub := domain.AssertionSubmission{Credential: mfatest.Assertion([]byte("key-1"), 1)}
		_, err := f.v.Verify(context.Background(), other, sub)
		requireReason(t, err, verify.ExpiredChallenge)
	})
}

func TestWebAuthn_ZeroCountersAllowed(t *testing.T) {
	f := newWebAuthnFixture(t)
	mfatest.AddWebAuthn(t, f.st, f.user.ID, []byte("key-1"), 0)

	for range 2 {
		f.begin(t)
		a, err := f.verify("key-1", 0)
		require.NoError(t, err)
		require.Zero(t, a.Counter)
	}
}

func TestWebAuthn_InvalidAssertion(t *testing.T) {
	f := newWebAuthnFixture(t)
	mfatest.AddWebAuthn(t, f.st, f.user.ID, []byte("key-1"), 0)

	t.Run("bad signature", func(t *testing.T) {
		f.rp.Reject = true
		defer func() { f.rp.Reject = false }()

		f.begin(t)
		_, err := f.verify("key-1", 1)
		requireReason(t, err, verify.InvalidCredential)
	})

	t.Run("unparseable", func(t *testing.T) {
		f.begin(t)
		_, err := f.v.Verify(context.Background(), f.subj, domain.AssertionSubmission{Credential: []byte("not json")})
		requireReason(t, err, verify.InvalidCredential)
	})

	t.Run("code submission", func(t *testing.T) {
		_, err := f.v.Verify(context.Background(), f.subj, domain.CodeSubmission{Code: "123456"})
		require.ErrorIs(t, err, verify.ErrUnsupportedSubmission)
	})
}

func TestWebAuthn_BeginWithoutCredentials(t *testing.T) {
	f := newWebAuthnFixture(t)
	mfatest.AddTOTP(t, f.st, f.user.ID)

	_, err := f.v.Begin(context.Background(), f.subj)
	requireReason(t, err, verify.NoSuchAuthenticator)
	require.Zero(t, f.rp.Begins())
}

func TestWebAuthn_ConcurrentAssertions(t *testing.T) {
	ctx := context.Background()
	f := newWebAuthnFixture(t)
	key := mfatest.AddWebAuthn(t, f.st, f.user.ID, []byte("key-1"), 5)

	// One pending login per device, each holding its own challenge.
	const workers = 8
	subjects := make([]verify.Subject, workers)
	for i := range subjects {
		subjects[i] = f.subj
		subjects[i].ContextID = fmt.Sprintf("login-%d", i)
		_, err := f.v.Begin(ctx, subjects[i])
		require.NoError(t, err)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ok      int
		replays int
		others  []error
	)
	for _, subj := range subjects {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub := domain.AssertionSubmission{Credential: mfatest.Assertion([]byte("key-1"), 7)}
			_, err := f.v.Verify(ctx, subj, sub)

			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				ok++
				return
			}
			if fl, isFailure := verify.AsFailure(err); isFailure && fl.Reason == verify.ReplayDetected {
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

	stored := mfatest.Reload(t, f.st, key)
	require.Equal(t, int64(7), stored.Counter)
	require.NotNil(t, stored.LastUsedAt)
}
