package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/mfagate/internal/mfa/domain"
	"github.com/aussiebroadwan/mfagate/internal/mfa/store"
	"github.com/aussiebroadwan/mfagate/pkg/httpx"
	"github.com/aussiebroadwan/mfagate/pkg/idx"
	"github.com/aussiebroadwan/mfagate/pkg/jwtx"
)

const DefaultSessionTTL = 12 * time.Hour

// SessionService creates sessions and mints the signed cookie values that
// reference sessions and pending logins.
type SessionService struct {
	Store  store.Store
	Tokens *jwtx.HS256
	Issuer string
	TTL    time.Duration // DefaultSessionTTL when zero
	Now    func() time.Time
}

var _ httpx.SessionResolver = (*SessionService)(nil)

func (s *SessionService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Create starts a session for a user who satisfied every login stage and
// returns it with its cookie value.
func (s *SessionService) Create(ctx context.Context, userID string, amr []string) (domain.Session, string, error) {
	ttl := s.TTL
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	now := s.now()
	sess := domain.Session{
		ID:              idx.NewAt(now).String(),
		UserID:          userID,
		AMR:             amr,
		AuthenticatedAt: now,
		ExpiresAt:       now.Add(ttl),
	}
	if err := s.Store.Sessions().Create(ctx, sess); err != nil {
		return domain.Session{}, "", fmt.Errorf("create session: %w", err)
	}

	token, err := s.Tokens.Sign(jwtx.NewClaims(jwtx.KindSession, sess.ID, s.Issuer, ttl, now))
	if err != nil {
		return domain.Session{}, "", err
	}
	return sess, token, nil
}

// ResolveSession maps a session cookie to its live session.
func (s *SessionService) ResolveSession(ctx context.Context, token string) (httpx.Principal, error) {
	claims, err := s.Tokens.Verify(token, jwtx.KindSession)
	if err != nil {
		return httpx.Principal{}, fmt.Errorf("%w: %w", ErrInvalidSession, err)
	}
	sess, err := s.Store.Sessions().Get(ctx, claims.Subject, s.now())
	if errors.Is(err, store.ErrNotFound) {
		return httpx.Principal{}, ErrInvalidSession
	}
	if err != nil {
		return httpx.Principal{}, fmt.Errorf("load session: %w", err)
	}
	return httpx.Principal{UserID: sess.UserID, SessionID: sess.ID}, nil
}

// Revoke deletes a session. Revoking a missing session is not an error.
func (s *SessionService) Revoke(ctx context.Context, sessionID string) error {
	err := s.Store.Sessions().Delete(ctx, sessionID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

// LoginToken mints the cookie value referencing a pending login.
func (s *SessionService) LoginToken(login domain.PendingLogin) (string, error) {
	now := s.now()
	return s.Tokens.Sign(jwtx.NewClaims(jwtx.KindLogin, login.ID, s.Issuer, login.ExpiresAt.Sub(now), now))
}

// ResolveLogin returns the pending login ID referenced by a login cookie.
// Whether the login still exists is checked by the stage controller.
func (s *SessionService) ResolveLogin(token string) (string, error) {
	claims, err := s.Tokens.Verify(token, jwtx.KindLogin)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidLogin, err)
	}
	return claims.Subject, nil
}
