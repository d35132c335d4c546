package verify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/mfagate/internal/mfa/domain"
	"github.com/aussiebroadwan/mfagate/internal/mfa/store"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
)

const DefaultChallengeTTL = 5 * time.Minute

// RelyingParty is the part of *webauthn.WebAuthn used for assertions.
type RelyingParty interface {
	BeginLogin(user webauthn.User, opts ...webauthn.LoginOption) (*protocol.CredentialAssertion, *webauthn.SessionData, error)
	ValidateLogin(user webauthn.User, session webauthn.SessionData, parsed *protocol.ParsedCredentialAssertionData) (*webauthn.Credential, error)
}

// AssertionParser decodes a posted assertion response.
type AssertionParser interface {
	ParseCredentialRequestResponseBytes(data []byte) (*protocol.ParsedCredentialAssertionData, error)
}

type ProtocolParser struct{}

func (ProtocolParser) ParseCredentialRequestResponseBytes(data []byte) (*protocol.ParsedCredentialAssertionData, error) {
	return protocol.ParseCredentialRequestResponseBytes(data)
}

// ChallengeIssuer starts an assertion for a fresh, unbound WebAuthn form.
type ChallengeIssuer interface {
	Begin(ctx context.Context, subj Subject) (*protocol.CredentialAssertion, error)
}

// WebAuthn verifies security-key assertions. Each assertion must answer a
// challenge previously issued by Begin for the same subject context, and the
// signature counter must move forward.
type WebAuthn struct {
	Store        store.Store
	Challenges   store.Challenges
	RelyingParty RelyingParty
	Parser       AssertionParser // ProtocolParser when nil

	ChallengeTTL time.Duration // DefaultChallengeTTL when zero
	Now          func() time.Time
}

var _ ChallengeIssuer = (*WebAuthn)(nil)

func (v *WebAuthn) now() time.Time {
	if v.Now != nil {
		return v.Now()
	}
	return time.Now()
}

func (v *WebAuthn) parser() AssertionParser {
	if v.Parser == nil {
		return ProtocolParser{}
	}
	return v.Parser
}

// Begin issues a challenge allowing any of the user's credentials and stores
// its session data, replacing an earlier challenge for the same context.
func (v *WebAuthn) Begin(ctx context.Context, subj Subject) (*protocol.CredentialAssertion, error) {
	user, err := v.loadUser(ctx, subj.User)
	if err != nil {
		return nil, err
	}

	assertion, session, err := v.RelyingParty.BeginLogin(user)
	if err != nil {
		return nil, fmt.Errorf("verify webauthn: begin login: %w", err)
	}
	raw, err := json.Marshal(session)
	if err != nil {
		return nil, fmt.Errorf("verify webauthn: encode session: %w", err)
	}

	ttl := v.ChallengeTTL
	if ttl <= 0 {
		ttl = DefaultChallengeTTL
	}
	err = v.Challenges.Put(ctx, domain.Challenge{
		ContextID:   subj.ContextID,
		Purpose:     subj.Purpose,
		SessionData: raw,
		ExpiresAt:   v.now().Add(ttl),
	})
	if err != nil {
		return nil, fmt.Errorf("verify webauthn: store challenge: %w", err)
	}
	return assertion, nil
}

func (v *WebAuthn) Verify(ctx context.Context, subj Subject, sub domain.Submission) (domain.Authenticator, error) {
	as, ok := sub.(domain.AssertionSubmission)
	if !ok {
		return domain.Authenticator{}, ErrUnsupportedSubmission
	}
	now := v.now()

	// The challenge is consumed whatever the outcome.
	ch, err := v.Challenges.Take(ctx, subj.Purpose, subj.ContextID, now)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Authenticator{}, fail(ExpiredChallenge, nil)
	}
	if err != nil {
		return domain.Authenticator{}, fmt.Errorf("verify webauthn: take challenge: %w", err)
	}
	var session webauthn.SessionData
	if err := json.Unmarshal(ch.SessionData, &session); err != nil {
		return domain.Authenticator{}, fmt.Errorf("verify webauthn: decode session: %w", err)
	}

	parsed, err := v.parser().ParseCredentialRequestResponseBytes(as.Credential)
	if err != nil {
		return domain.Authenticator{}, fail(InvalidCredential, err)
	}

	user, err := v.loadUser(ctx, subj.User)
	if err != nil {
		return domain.Authenticator{}, err
	}
	// Scoped to the subject, so another user's credential is unknown here.
	a, err := v.Store.Authenticators().GetByCredentialID(ctx, subj.User.ID, parsed.RawID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Authenticator{}, fail(NoSuchAuthenticator, nil)
	}
	if err != nil {
		return domain.Authenticator{}, fmt.Errorf("verify webauthn: find credential: %w", err)
	}

	cred, err := v.RelyingParty.ValidateLogin(user, session, parsed)
	if err != nil {
		return domain.Authenticator{}, fail(InvalidCredential, err)
	}

	// Authenticators without a counter always report zero; otherwise it must
	// strictly increase.
	next := int64(parsed.Response.AuthenticatorData.Counter)
	if (next != 0 || a.Counter != 0) && next <= a.Counter {
		return domain.Authenticator{}, fail(ReplayDetected, fmt.Errorf("sign count %d not above %d", next, a.Counter))
	}
	if cred.Authenticator.CloneWarning {
		return domain.Authenticator{}, fail(ReplayDetected, errors.New("clone warning"))
	}

	swapped, err := v.Store.Authenticators().CompareAndSwapCounter(ctx, a.ID, a.Counter, next, now)
	if err != nil {
		return domain.Authenticator{}, fmt.Errorf("verify webauthn: update counter: %w", err)
	}
	if !swapped {
		return domain.Authenticator{}, fail(ReplayDetected, errors.New("counter changed concurrently"))
	}

	a.Counter = next
	a.LastUsedAt = &now
	return a, nil
}

// loadUser builds the relying-party view of u from the stored credentials.
// The counter column is authoritative over the sign count kept in the
// credential JSON.
func (v *WebAuthn) loadUser(ctx context.Context, u domain.User) (*webauthnUser, error) {
	all, err := v.Store.Authenticators().ListByUser(ctx, u.ID)
	if err != nil {
		return nil, fmt.Errorf("verify webauthn: list authenticators: %w", err)
	}

	wu := &webauthnUser{user: u}
	for _, a := range all {
		if a.Type != domain.TypeWebAuthn {
			continue
		}
		d, err := a.DecodeWebAuthn()
		if err != nil {
			return nil, fmt.Errorf("verify webauthn: %w", err)
		}
		d.Credential.Authenticator.SignCount = uint32(a.Counter) // #nosec G115 - counters come from uint32
		wu.credentials = append(wu.credentials, d.Credential)
	}
	if len(wu.credentials) == 0 {
		return nil, fail(NoSuchAuthenticator, nil)
	}
	return wu, nil
}

type webauthnUser struct {
	user        domain.User
	credentials []webauthn.Credential
}

func (u *webauthnUser) WebAuthnID() []byte {
	return []byte(u.user.ID)
}

func (u *webauthnUser) WebAuthnName() string {
	return u.user.Username
}

func (u *webauthnUser) WebAuthnDisplayName() string {
	if u.user.DisplayName == "" {
		return u.user.Username
	}
	return u.user.DisplayName
}

func (u *webauthnUser) WebAuthnCredentials() []webauthn.Credential {
	return u.credentials
}
