package domain

import "time"

// ChallengePurpose scopes a WebAuthn challenge to the flow that issued it.
type ChallengePurpose string

const (
	PurposeLogin          ChallengePurpose = "login"
	PurposeReauthenticate ChallengePurpose = "reauthenticate"
)

// Challenge is the WebAuthn session data issued with an unbound assertion
// form. ContextID is the pending login ID or the session ID, depending on
// Purpose. A challenge is taken by exactly one verification.
type Challenge struct {
	ContextID   string
	Purpose     ChallengePurpose
	SessionData []byte // JSON encoded webauthn.SessionData
	ExpiresAt   time.Time
}
