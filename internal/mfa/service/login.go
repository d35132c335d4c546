package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/aussiebroadwan/mfagate/internal/mfa/domain"
	"github.com/aussiebroadwan/mfagate/internal/mfa/metrics"
	"github.com/aussiebroadwan/mfagate/internal/mfa/stages"
	"github.com/aussiebroadwan/mfagate/internal/mfa/store"
	"github.com/aussiebroadwan/mfagate/pkg/cryptox"
	"github.com/aussiebroadwan/mfagate/pkg/slogx"
)

// PasswordVerifier checks primary credentials.
type PasswordVerifier interface {
	VerifyPassword(ctx context.Context, username, password string) (domain.User, error)
}

// StorePasswords verifies argon2id hashes kept on the user record.
type StorePasswords struct {
	Store  store.Store
	Hasher cryptox.PasswordHasher

	// dummy is checked in place of the hash of an unknown user.
	dummy string
}

func NewStorePasswords(st store.Store, hasher cryptox.PasswordHasher) (*StorePasswords, error) {
	dummy, err := hasher.Hash(cryptox.MustGenerateToken(cryptox.TokenSize128))
	if err != nil {
		return nil, err
	}
	return &StorePasswords{Store: st, Hasher: hasher, dummy: dummy}, nil
}

func (p *StorePasswords) VerifyPassword(ctx context.Context, username, password string) (domain.User, error) {
	u, err := p.Store.Users().GetUserByUsername(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		_ = p.Hasher.Verify(password, p.dummy)
		return domain.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("load user: %w", err)
	}

	if err := p.Hasher.Verify(password, u.PasswordHash); err != nil {
		if errors.Is(err, cryptox.ErrPasswordMismatch) {
			return domain.User{}, ErrInvalidCredentials
		}
		return domain.User{}, fmt.Errorf("verify password: %w", err)
	}
	return u, nil
}

// LoginResult is either a finished login with its session, or a pending
// login that owes Stage.
type LoginResult struct {
	Done         bool
	Session      domain.Session
	SessionToken string

	Login      domain.PendingLogin
	LoginToken string
	Stage      string

	RedirectTo string
}

type LoginService struct {
	Passwords PasswordVerifier
	Stages    *stages.Controller
	Sessions  *SessionService
	Metrics   *metrics.Metrics

	DefaultRedirect string
}

// Login checks the password and starts the stage pipeline.
func (s *LoginService) Login(ctx context.Context, username, password, redirectTo string) (LoginResult, error) {
	l := slogx.FromContext(ctx)

	u, err := s.Passwords.VerifyPassword(ctx, username, password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			l.Warn("primary login failed", slog.String("username", username))
			s.Metrics.Login("invalid_credentials")
		} else {
			s.Metrics.Login(metrics.OutcomeError)
		}
		return LoginResult{}, err
	}

	res, err := s.Stages.Start(ctx, u.ID, s.safeRedirect(redirectTo))
	if err != nil {
		s.Metrics.Login(metrics.OutcomeError)
		return LoginResult{}, err
	}

	if !res.Done {
		token, err := s.Sessions.LoginToken(res.Login)
		if err != nil {
			return LoginResult{}, err
		}
		l.Info("login owes stage", slog.String("user_id", u.ID), slog.String("stage", res.Stage.Key()))
		s.Metrics.Login("stage_required")
		return LoginResult{
			Login:      res.Login,
			LoginToken: token,
			Stage:      res.Stage.Key(),
			RedirectTo: res.RedirectTo,
		}, nil
	}

	sess, token, err := s.Sessions.Create(ctx, u.ID, []string{domain.AMRPassword})
	if err != nil {
		s.Metrics.Login(metrics.OutcomeError)
		return LoginResult{}, err
	}
	l.Info("login completed", slog.String("user_id", u.ID))
	s.Metrics.Login("completed")
	return LoginResult{Done: true, Session: sess, SessionToken: token, RedirectTo: res.RedirectTo}, nil
}

// safeRedirect only allows local absolute paths.
func (s *LoginService) safeRedirect(next string) string {
	fallback := s.DefaultRedirect
	if fallback == "" {
		fallback = "/"
	}
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return fallback
	}
	u, err := url.Parse(next)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return fallback
	}
	return next
}
