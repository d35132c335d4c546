package domain

import "time"

// Authentication method references recorded on a session.
const (
	AMRPassword = "pwd"
	AMROTP      = "otp"
	AMRHardware = "hwk"
	AMRMFA      = "mfa"
)

// Session is created once every login stage is satisfied.
type Session struct {
	ID                string
	UserID            string
	AMR               []string
	AuthenticatedAt   time.Time
	ReauthenticatedAt *time.Time
	ExpiresAt         time.Time
}

func (s Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// AMRFor maps a verified authenticator type to its method reference.
func AMRFor(t AuthenticatorType) string {
	switch t {
	case TypeTOTP, TypeRecoveryCodes:
		return AMROTP
	case TypeWebAuthn:
		return AMRHardware
	}
	panic("domain: unhandled authenticator type " + string(t))
}
