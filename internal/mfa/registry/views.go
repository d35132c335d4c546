package registry

import (
	"math/bits"
	"time"

	"github.com/aussiebroadwan/mfagate/internal/mfa/domain"
)

// View is the uniform read projection of an authenticator.
type View interface {
	Type() domain.AuthenticatorType
	ID() string

	// IsConfigured reports whether the authenticator can currently be used
	// to verify. Exhausted recovery codes and undecodable records are not.
	IsConfigured() bool

	Label() string
	CreatedAt() time.Time
	LastUsedAt() *time.Time
}

type base struct {
	a  domain.Authenticator
	ok bool
}

func (b base) Type() domain.AuthenticatorType { return b.a.Type }
func (b base) ID() string                     { return b.a.ID }
func (b base) CreatedAt() time.Time           { return b.a.CreatedAt }
func (b base) LastUsedAt() *time.Time         { return b.a.LastUsedAt }

type TOTPView struct{ base }

func (v TOTPView) IsConfigured() bool { return v.ok }
func (v TOTPView) Label() string      { return "Authenticator app" }

type RecoveryCodesView struct {
	base
	total, used int
}

func (v RecoveryCodesView) IsConfigured() bool { return v.ok && v.Remaining() > 0 }
func (v RecoveryCodesView) Label() string      { return "Recovery codes" }
func (v RecoveryCodesView) Total() int         { return v.total }
func (v RecoveryCodesView) Remaining() int     { return v.total - v.used }

type WebAuthnView struct {
	base
	label string
}

func (v WebAuthnView) IsConfigured() bool { return v.ok }

func (v WebAuthnView) Label() string {
	if v.label == "" {
		return "Security key"
	}
	return v.label
}

func (v WebAuthnView) CredentialID() []byte { return v.a.CredentialID }

// Wrap projects a into its type's view. It panics on a type outside the
// closed set, which can only come from a programming error.
func Wrap(a domain.Authenticator) View {
	switch a.Type {
	case domain.TypeTOTP:
		_, err := a.DecodeTOTP()
		return TOTPView{base{a: a, ok: err == nil}}

	case domain.TypeRecoveryCodes:
		d, err := a.DecodeRecoveryCodes()
		if err != nil {
			return RecoveryCodesView{base: base{a: a}}
		}
		total := len(d.Fingerprints)
		mask := uint64(a.Counter) & (1<<total - 1)
		return RecoveryCodesView{base: base{a: a, ok: true}, total: total, used: bits.OnesCount64(mask)}

	case domain.TypeWebAuthn:
		d, err := a.DecodeWebAuthn()
		return WebAuthnView{base: base{a: a, ok: err == nil}, label: d.Label}
	}
	panic("registry: unhandled authenticator type " + string(a.Type))
}
