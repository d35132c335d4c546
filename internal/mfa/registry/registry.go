// Package registry is the read side of enrolled authenticators. It never
// mutates state; verifiers own counter updates.
package registry

import (
	"context"
	"fmt"
	"slices"

	"github.com/aussiebroadwan/mfagate/internal/mfa/domain"
	"github.com/aussiebroadwan/mfagate/internal/mfa/store"
)

type Registry struct {
	Store store.Store
}

// ListByUser returns the user's authenticators ordered by creation. No
// authenticators is an empty result, not an error.
func (r *Registry) ListByUser(ctx context.Context, userID string) ([]domain.Authenticator, error) {
	auths, err := r.Store.Authenticators().ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("registry: list authenticators: %w", err)
	}
	return auths, nil
}

// IsFactorEnabled reports whether the user has at least one authenticator of
// the given types. With no types it asks about the primary factors (TOTP or
// WebAuthn), which is what decides whether MFA is on for the user.
func (r *Registry) IsFactorEnabled(ctx context.Context, userID string, types ...domain.AuthenticatorType) (bool, error) {
	auths, err := r.ListByUser(ctx, userID)
	if err != nil {
		return false, err
	}
	return HasType(auths, types...), nil
}

// HasType is IsFactorEnabled over an already loaded list.
func HasType(auths []domain.Authenticator, types ...domain.AuthenticatorType) bool {
	if len(types) == 0 {
		types = domain.PrimaryTypes
	}
	for _, a := range auths {
		if slices.Contains(types, a.Type) {
			return true
		}
	}
	return false
}

// HasUsable is like HasType but only counts authenticators whose view is
// configured, so exhausted recovery codes do not count.
func HasUsable(auths []domain.Authenticator, types ...domain.AuthenticatorType) bool {
	for _, a := range auths {
		if slices.Contains(types, a.Type) && Wrap(a).IsConfigured() {
			return true
		}
	}
	return false
}

// Listing groups a user's views by type. TOTP and recovery codes are single
// per user; WebAuthn credentials are a sequence in creation order.
type Listing struct {
	TOTP          *TOTPView
	RecoveryCodes *RecoveryCodesView
	WebAuthn      []WebAuthnView
}

// Views flattens the listing in display order.
func (l Listing) Views() []View {
	var out []View
	if l.TOTP != nil {
		out = append(out, *l.TOTP)
	}
	for _, v := range l.WebAuthn {
		out = append(out, v)
	}
	if l.RecoveryCodes != nil {
		out = append(out, *l.RecoveryCodes)
	}
	return out
}

func (r *Registry) List(ctx context.Context, userID string) (Listing, error) {
	auths, err := r.ListByUser(ctx, userID)
	if err != nil {
		return Listing{}, err
	}
	return Group(auths), nil
}

// Group builds the listing of an already loaded list.
func Group(auths []domain.Authenticator) Listing {
	var l Listing
	for _, a := range auths {
		switch v := Wrap(a).(type) {
		case TOTPView:
			l.TOTP = &v
		case RecoveryCodesView:
			l.RecoveryCodes = &v
		case WebAuthnView:
			l.WebAuthn = append(l.WebAuthn, v)
		}
	}
	return l
}
