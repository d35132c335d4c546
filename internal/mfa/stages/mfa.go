package stages

import (
	"context"

	"github.com/aussiebroadwan/mfagate/internal/mfa/domain"
	"github.com/aussiebroadwan/mfagate/internal/mfa/registry"
)

const MFAKey = "mfa_authenticate"

// MFAStage is owed by users with an enrolled primary factor (TOTP or
// WebAuthn), whether or not the deployment currently accepts that type.
// Recovery codes alone never make it apply.
type MFAStage struct {
	Registry *registry.Registry
}

var _ Stage = (*MFAStage)(nil)

func (s *MFAStage) Key() string { return MFAKey }

func (s *MFAStage) Applies(ctx context.Context, login domain.PendingLogin) (bool, error) {
	return s.Registry.IsFactorEnabled(ctx, login.UserID, domain.PrimaryTypes...)
}
