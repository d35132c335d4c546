package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/mfagate/internal/mfa/domain"
	"github.com/aussiebroadwan/mfagate/internal/mfa/store"
	"github.com/aussiebroadwan/mfagate/pkg/cryptox"
	"github.com/aussiebroadwan/mfagate/pkg/idx"
	"github.com/aussiebroadwan/mfagate/pkg/slogx"
)

var ErrBootstrapAlready = errors.New("system already bootstrapped")

// BootstrapService seeds the first user of an empty database so a fresh
// deployment can log in. Factors are enrolled elsewhere.
type BootstrapService struct {
	Store  store.Store
	Hasher cryptox.PasswordHasher
}

func (s *BootstrapService) IsBootstrapped(ctx context.Context) (bool, error) {
	empty, err := s.Store.Users().IsEmpty(ctx)
	if err != nil {
		return false, err
	}
	return !empty, nil
}

// Bootstrap creates the user when no users exist yet.
func (s *BootstrapService) Bootstrap(ctx context.Context, username, displayName, password string) (domain.User, error) {
	l := slogx.FromContext(ctx)

	if bootstrapped, err := s.IsBootstrapped(ctx); err != nil {
		return domain.User{}, err
	} else if bootstrapped {
		return domain.User{}, ErrBootstrapAlready
	}

	hash, err := s.Hasher.Hash(password)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash bootstrap password: %w", err)
	}
	u := domain.User{
		ID:           idx.New().String(),
		Username:     username,
		DisplayName:  displayName,
		PasswordHash: hash,
		CreatedAt:    time.Now(),
	}
	if err := s.Store.Users().CreateUser(ctx, u); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return domain.User{}, ErrBootstrapAlready
		}
		return domain.User{}, fmt.Errorf("create bootstrap user: %w", err)
	}

	l.Info("bootstrap user created", slog.String("user_id", u.ID), slog.String("username", username))
	return u, nil
}
