package mfatest

import (
	"bytes"
	"encoding/json"
	"errors"
	"sync"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
)

// Assertion encodes a fake assertion response understood by Parser.
func Assertion(credentialID []byte, counter uint32) []byte {
	b, _ := json.Marshal(fakeAssertion{ID: credentialID, Counter: counter})
	return b
}

type fakeAssertion struct {
	ID      []byte `json:"id"`
	Counter uint32 `json:"counter"`
}

// Parser decodes assertions built by Assertion.
type Parser struct{}

func (Parser) ParseCredentialRequestResponseBytes(data []byte) (*protocol.ParsedCredentialAssertionData, error) {
	var fa fakeAssertion
	if err := json.Unmarshal(data, &fa); err != nil {
		return nil, err
	}
	if len(fa.ID) == 0 {
		return nil, errors.New("mfatest: assertion without credential id")
	}

	parsed := &protocol.ParsedCredentialAssertionData{}
	parsed.RawID = fa.ID
	parsed.Response.AuthenticatorData.Counter = fa.Counter
	return parsed, nil
}

// RelyingParty stands in for *webauthn.WebAuthn. Every signature is
// considered valid unless Reject is set.
type RelyingParty struct {
	Reject bool

	mu     sync.Mutex
	begins int
}

func (rp *RelyingParty) Begins() int {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	return rp.begins
}

func (rp *RelyingParty) BeginLogin(user webauthn.User, _ ...webauthn.LoginOption) (*protocol.CredentialAssertion, *webauthn.SessionData, error) {
	creds := user.WebAuthnCredentials()
	if len(creds) == 0 {
		return nil, nil, errors.New("mfatest: user has no credentials")
	}

	rp.mu.Lock()
	rp.begins++
	rp.mu.Unlock()

	challenge := []byte("challenge-" + string(user.WebAuthnID()))
	session := &webauthn.SessionData{
		Challenge: string(challenge),
		UserID:    user.WebAuthnID(),
	}
	assertion := &protocol.CredentialAssertion{}
	assertion.Response.Challenge = challenge
	for _, c := range creds {
		session.AllowedCredentialIDs = append(session.AllowedCredentialIDs, c.ID)
		assertion.Response.AllowedCredentials = append(assertion.Response.AllowedCredentials, c.Descriptor())
	}
	return assertion, session, nil
}

func (rp *RelyingParty) ValidateLogin(user webauthn.User, session webauthn.SessionData, parsed *protocol.ParsedCredentialAssertionData) (*webauthn.Credential, error) {
	if rp.Reject {
		return nil, errors.New("mfatest: signature rejected")
	}
	if !bytes.Equal(session.UserID, user.WebAuthnID()) {
		return nil, errors.New("mfatest: session belongs to another user")
	}
	for _, c := range user.WebAuthnCredentials() {
		if !bytes.Equal(c.ID, parsed.RawID) {
			continue
		}
		next := parsed.Response.AuthenticatorData.Counter
		if next <= c.Authenticator.SignCount && (next != 0 || c.Authenticator.SignCount != 0) {
			c.Authenticator.CloneWarning = true
		} else {
			c.Authenticator.SignCount = next
		}
		return &c, nil
	}
	return nil, errors.New("mfatest: credential not allowed")
}

