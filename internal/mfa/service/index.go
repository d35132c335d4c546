package service

import (
	"context"

	"github.com/aussiebroadwan/mfagate/internal/mfa/domain"
	"github.com/aussiebroadwan/mfagate/internal/mfa/registry"
)

type Index struct {
	Listing    registry.Listing
	MFAEnabled bool
	Supported  []domain.AuthenticatorType
}

// IndexService lists a user's authenticators for the account page.
type IndexService struct {
	Registry  *registry.Registry
	Supported []domain.AuthenticatorType
}

func (s *IndexService) Index(ctx context.Context, userID string) (Index, error) {
	auths, err := s.Registry.ListByUser(ctx, userID)
	if err != nil {
		return Index{}, err
	}
	return Index{
		Listing:    registry.Group(auths),
		MFAEnabled: registry.HasType(auths),
		Supported:  s.Supported,
	}, nil
}
