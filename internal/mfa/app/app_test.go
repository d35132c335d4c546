package app

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/aussiebroadwan/mfagate/internal/mfa/domain"
	"github.com/aussiebroadwan/mfagate/internal/mfa/mfatest"
	"github.com/aussiebroadwan/mfagate/internal/mfa/store/drivers/sqlite"
	"github.com/aussiebroadwan/mfagate/pkg/httpx"
	"github.com/aussiebroadwan/mfagate/pkg/mfasdk"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"
)

func testConfig(types ...string) Config {
	if len(types) == 0 {
		types = []string{"totp", "webauthn", "recovery_codes"}
	}
	plenty := httpx.RateLimitConfig{Requests: 1000, Window: time.Minute, Burst: 1000}
	return Config{
		Env:                  "test",
		LogLevel:             "error",
		LogFormat:            "text",
		Port:                 8080,
		ShutdownGracePeriod:  time.Second,
		HousekeepingInterval: time.Hour,
		Issuer:               "mfagate-test",
		SupportedTypes:       types,
		TOTPSkew:             1,
		LoginTTL:             10 * time.Minute,
		SessionTTL:           time.Hour,
		ChallengeTTL:         5 * time.Minute,
		ChallengeBackend:     BackendSQLite,
		CookieSecret:         strings.Repeat("s", 32),
		PasswordPepper:       mfatest.Pepper,
		DefaultRedirect:      "/home",
		WebAuthn: WebAuthnConfig{
			RPID:          "localhost",
			RPDisplayName: "mfagate",
			RPOrigins:     []string{"http://localhost"},
		},
		RateLimitStrict:   plenty,
		RateLimitModerate: plenty,
		RateLimitLenient:  plenty,
	}
}

type harness struct {
	st  *sqlite.Store
	rp  *mfatest.RelyingParty
	srv *httptest.Server
}

func newHarness(t *testing.T, types ...string) *harness {
	t.Helper()

	st := mfatest.NewStore(t)
	rp := &mfatest.RelyingParty{}
	application, err := New(testConfig(types...),
		WithStore(st),
		WithRelyingParty(rp, mfatest.Parser{}),
		WithLogOutput(io.Discard),
	)
	require.NoError(t, err)

	srv := httptest.NewServer(application.Handler())
	t.Cleanup(srv.Close)
	return &harness{st: st, rp: rp, srv: srv}
}

func (h *harness) client(t *testing.T) *mfasdk.Client {
	t.Helper()
	c, err := mfasdk.NewClient(h.srv.URL)
	require.NoError(t, err)
	return c
}

func currentCode(t *testing.T, secret string) string {
	t.Helper()
	code, err := totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)
	return code
}

// otherCode returns a code differing from code in every digit.
func otherCode(code string) string {
	b := []byte(code)
	for i := range b {
		b[i] = '0' + (b[i]-'0'+5)%10
	}
	return string(b)
}

func TestHealth(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	c := h.client(t)

	live, err := c.GetLiveness(ctx)
	require.NoError(t, err)
	require.Equal(t, "ok", live.Status)
	require.Equal(t, BuildVersion, live.Version)
	require.Nil(t, live.Checks)

	ready, err := c.GetReadiness(ctx)
	require.NoError(t, err)
	require.Equal(t, "ok", ready.Status)
	require.NotNil(t, ready.Checks)
	require.Equal(t, "ok", ready.Checks.Database)
	require.Equal(t, "ok", ready.Checks.Challenges)
}

func TestLogin_WithoutSecondFactor(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	mfatest.CreateUser(t, h.st, "alice")
	c := h.client(t)

	res, err := c.Login(ctx, "alice", mfatest.Password, "/settings")
	require.NoError(t, err)
	require.Equal(t, mfasdk.StatusAuthenticated, res.Status)
	require.Equal(t, "/settings", res.RedirectTo)
	require.NotEmpty(t, c.Cookie(mfasdk.SessionCookie))
	require.Empty(t, c.Cookie(mfasdk.LoginCookie))

	idx, err := c.ListAuthenticators(ctx)
	require.NoError(t, err)
	require.False(t, idx.MFAEnabled)
	require.Empty(t, idx.WebAuthn)
	require.Nil(t, idx.TOTP)
	require.Equal(t, []string{"totp", "webauthn", "recovery_codes"}, idx.SupportedTypes)

	// Nothing to step up with.
	_, err = c.ReauthenticateForms(ctx)
	require.ErrorIs(t, err, mfasdk.ErrNoUsableFactor)

	// Not owed: back to login.
	_, err = c.AuthenticateForms(ctx)
	var re *mfasdk.RestartError
	require.ErrorAs(t, err, &re)
	require.Equal(t, http.StatusSeeOther, re.StatusCode)
	require.Equal(t, mfasdk.PathLogin, re.Location)
}

func TestLogin_Rejections(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	mfatest.CreateUser(t, h.st, "alice")
	c := h.client(t)

	_, err := c.Login(ctx, "alice", "wrong password", "")
	require.ErrorIs(t, err, mfasdk.ErrInvalidCredentials)

	_, err = c.Login(ctx, "mallory", mfatest.Password, "")
	require.ErrorIs(t, err, mfasdk.ErrInvalidCredentials)

	_, err = c.Login(ctx, "alice", "", "")
	require.ErrorIs(t, err, mfasdk.ErrInvalidRequest)

	resp, err := http.Post(h.srv.URL+mfasdk.PathLogin, "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAuthenticate_TOTP(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	u := mfatest.CreateUser(t, h.st, "alice")
	secret := mfatest.AddTOTP(t, h.st, u.ID)
	c := h.client(t)

	res, err := c.Login(ctx, "alice", mfatest.Password, "https://evil.example/")
	require.NoError(t, err)
	require.Equal(t, mfasdk.StatusStageRequired, res.Status)
	require.Equal(t, mfasdk.PathAuthenticate, res.Next)
	require.Equal(t, "/home", res.RedirectTo)
	require.NotEmpty(t, c.Cookie(mfasdk.LoginCookie))
	require.Empty(t, c.Cookie(mfasdk.SessionCookie))

	forms, err := c.AuthenticateForms(ctx)
	require.NoError(t, err)
	require.NotNil(t, forms.Code)
	require.False(t, forms.Code.Bound)
	require.Nil(t, forms.WebAuthn, "no security key enrolled")

	code := currentCode(t, secret)
	_, err = c.SubmitCode(ctx, otherCode(code))
	var vf *mfasdk.VerificationFailedError
	require.ErrorAs(t, err, &vf)
	require.Equal(t, "verification failed", vf.Forms.ErrorDescription)
	require.NotNil(t, vf.Forms.Code)
	require.True(t, vf.Forms.Code.Bound)
	require.Equal(t, "verification failed", vf.Forms.Code.Error)

	res, err = c.SubmitCode(ctx, code)
	require.NoError(t, err)
	require.Equal(t, mfasdk.StatusAuthenticated, res.Status)
	require.Equal(t, "/home", res.RedirectTo)
	require.NotEmpty(t, c.Cookie(mfasdk.SessionCookie))
	require.Empty(t, c.Cookie(mfasdk.LoginCookie))

	idx, err := c.ListAuthenticators(ctx)
	require.NoError(t, err)
	require.True(t, idx.MFAEnabled)
	require.NotNil(t, idx.TOTP)
	require.True(t, idx.TOTP.Configured)
	require.NotNil(t, idx.TOTP.LastUsedAt)

	// The same code from a second browser is a replay.
	other := h.client(t)
	_, err = other.Login(ctx, "alice", mfatest.Password, "")
	require.NoError(t, err)
	_, err = other.SubmitCode(ctx, code)
	require.ErrorAs(t, err, &vf)
}

func TestAuthenticate_WebAuthn(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	u := mfatest.CreateUser(t, h.st, "alice")
	mfatest.AddWebAuthn(t, h.st, u.ID, []byte("key-1"), 5)
	c := h.client(t)

	_, err := c.Login(ctx, "alice", mfatest.Password, "")
	require.NoError(t, err)

	forms, err := c.AuthenticateForms(ctx)
	require.NoError(t, err)
	require.Nil(t, forms.Code)
	require.NotNil(t, forms.WebAuthn)
	require.NotEmpty(t, forms.WebAuthn.Options)

	// A signature counter that went backwards is rejected, and a fresh
	// challenge comes back with the forms.
	_, err = c.SubmitCredential(ctx, mfatest.Assertion([]byte("key-1"), 4))
	var vf *mfasdk.VerificationFailedError
	require.ErrorAs(t, err, &vf)
	require.NotNil(t, vf.Forms.WebAuthn)
	require.True(t, vf.Forms.WebAuthn.Bound)
	require.NotEmpty(t, vf.Forms.WebAuthn.Options)

	res, err := c.SubmitCredential(ctx, mfatest.Assertion([]byte("key-1"), 6))
	require.NoError(t, err)
	require.Equal(t, mfasdk.StatusAuthenticated, res.Status)

	idx, err := c.ListAuthenticators(ctx)
	require.NoError(t, err)
	require.Len(t, idx.WebAuthn, 1)
	require.Equal(t, "key key-1", idx.WebAuthn[0].Label)
	require.Equal(t, "a2V5LTE", idx.WebAuthn[0].CredentialID)
}

func TestAuthenticate_SubmissionErrors(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	u := mfatest.CreateUser(t, h.st, "alice")
	secret := mfatest.AddTOTP(t, h.st, u.ID)
	c := h.client(t)

	_, err := c.Login(ctx, "alice", mfatest.Password, "")
	require.NoError(t, err)

	_, err = c.Submit(ctx, url.Values{
		mfasdk.FieldCode:       {currentCode(t, secret)},
		mfasdk.FieldCredential: {string(mfatest.Assertion([]byte("key-1"), 1))},
	})
	require.ErrorIs(t, err, mfasdk.ErrAmbiguousSubmission)

	_, err = c.Submit(ctx, url.Values{"other": {"x"}})
	require.ErrorIs(t, err, mfasdk.ErrNoSubmission)

	// The login survives both and still completes.
	res, err := c.SubmitCode(ctx, currentCode(t, secret))
	require.NoError(t, err)
	require.Equal(t, mfasdk.StatusAuthenticated, res.Status)
}

func TestAuthenticate_FeatureUnavailable(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "totp")
	u := mfatest.CreateUser(t, h.st, "alice")
	mfatest.AddTOTP(t, h.st, u.ID)
	mfatest.AddWebAuthn(t, h.st, u.ID, []byte("key-1"), 0)
	c := h.client(t)

	_, err := c.Login(ctx, "alice", mfatest.Password, "")
	require.NoError(t, err)

	forms, err := c.AuthenticateForms(ctx)
	require.NoError(t, err)
	require.NotNil(t, forms.Code)
	require.Nil(t, forms.WebAuthn)
	require.Zero(t, h.rp.Begins())

	_, err = c.SubmitCredential(ctx, mfatest.Assertion([]byte("key-1"), 1))
	require.ErrorIs(t, err, mfasdk.ErrFeatureUnavailable)
}

func TestAuthenticate_NoUsableFactor(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "totp", "recovery_codes")
	u := mfatest.CreateUser(t, h.st, "alice")
	mfatest.AddWebAuthn(t, h.st, u.ID, []byte("key-1"), 0)
	c := h.client(t)

	// The key still makes MFA owed, even though nothing here can verify it.
	res, err := c.Login(ctx, "alice", mfatest.Password, "")
	require.NoError(t, err)
	require.Equal(t, mfasdk.StatusStageRequired, res.Status)
	require.Empty(t, c.Cookie(mfasdk.SessionCookie))

	_, err = c.AuthenticateForms(ctx)
	require.ErrorIs(t, err, mfasdk.ErrNoUsableFactor)

	_, err = c.Submit(ctx, url.Values{"other": {"x"}})
	require.ErrorIs(t, err, mfasdk.ErrNoUsableFactor)
	require.Empty(t, c.Cookie(mfasdk.SessionCookie))
}

func TestAuthenticate_WithoutPendingLogin(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	c := h.client(t)

	_, err := c.AuthenticateForms(ctx)
	var re *mfasdk.RestartError
	require.ErrorAs(t, err, &re)
	require.Equal(t, mfasdk.PathLogin, re.Location)

	_, err = c.SubmitCode(ctx, "123456")
	require.ErrorAs(t, err, &re)

	// A forged cookie is treated as no cookie.
	u, err := url.Parse(h.srv.URL)
	require.NoError(t, err)
	c.HTTPClient.Jar.SetCookies(u, []*http.Cookie{{Name: mfasdk.LoginCookie, Value: "forged", Path: "/"}})
	_, err = c.AuthenticateForms(ctx)
	require.ErrorAs(t, err, &re)
	require.Empty(t, c.Cookie(mfasdk.LoginCookie), "rejected cookie is cleared")
}

func TestReauthenticate(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	u := mfatest.CreateUser(t, h.st, "alice")
	secret := mfatest.AddTOTP(t, h.st, u.ID)
	codes := mfatest.AddRecoveryCodes(t, h.st, u.ID, 3)
	c := h.client(t)

	_, err := c.ReauthenticateForms(ctx)
	require.ErrorIs(t, err, mfasdk.ErrLoginRequired)

	_, err = c.Login(ctx, "alice", mfatest.Password, "")
	require.NoError(t, err)
	_, err = c.SubmitCode(ctx, currentCode(t, secret))
	require.NoError(t, err)

	forms, err := c.ReauthenticateForms(ctx)
	require.NoError(t, err)
	require.NotNil(t, forms.Code)
	require.Nil(t, forms.WebAuthn)

	res, err := c.ReauthenticateCode(ctx, codes[0])
	require.NoError(t, err)
	require.Equal(t, mfasdk.StatusReauthenticated, res.Status)
	require.False(t, res.ReauthenticatedAt.IsZero())

	_, err = c.ReauthenticateCode(ctx, codes[0])
	var vf *mfasdk.VerificationFailedError
	require.ErrorAs(t, err, &vf, "recovery codes are single use")

	idx, err := c.ListAuthenticators(ctx)
	require.NoError(t, err)
	require.NotNil(t, idx.RecoveryCodes)
	require.Equal(t, 2, *idx.RecoveryCodes.Remaining)
	require.Equal(t, 3, *idx.RecoveryCodes.Total)
}

func TestMetricsEndpoint(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	u := mfatest.CreateUser(t, h.st, "alice")
	secret := mfatest.AddTOTP(t, h.st, u.ID)
	c := h.client(t)

	_, err := c.Login(ctx, "alice", mfatest.Password, "")
	require.NoError(t, err)
	_, err = c.SubmitCode(ctx, currentCode(t, secret))
	require.NoError(t, err)

	resp, err := http.Get(h.srv.URL + mfasdk.PathMetrics)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), `mfagate_logins_total{outcome="stage_required"} 1`)
	require.Contains(t, string(body), `mfagate_verifications_total{outcome="success",purpose="login",shape="code"} 1`)
}

func TestNew_Bootstrap(t *testing.T) {
	ctx := context.Background()
	st := mfatest.NewStore(t)
	cfg := testConfig()
	cfg.Bootstrap = BootstrapConfig{Username: "admin", Password: "hunter22"}

	_, err := New(cfg, WithStore(st), WithLogOutput(io.Discard))
	require.NoError(t, err)

	u, err := st.Users().GetUserByUsername(ctx, "admin")
	require.NoError(t, err)
	require.Equal(t, "admin", u.DisplayName)

	// A second start with users present leaves them alone.
	_, err = New(cfg, WithStore(st), WithLogOutput(io.Discard))
	require.NoError(t, err)
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.SupportedTypes = nil

	_, err := New(cfg, WithStore(mfatest.NewStore(t)), WithLogOutput(io.Discard))
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNew_Types(t *testing.T) {
	cfg := testConfig("recovery_codes", "totp")
	types, err := cfg.Types()
	require.NoError(t, err)
	require.Equal(t, []domain.AuthenticatorType{domain.TypeRecoveryCodes, domain.TypeTOTP}, types)
}
