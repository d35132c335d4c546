package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/aussiebroadwan/mfagate/internal/mfa/domain"
	"github.com/aussiebroadwan/mfagate/internal/mfa/metrics"
	"github.com/aussiebroadwan/mfagate/internal/mfa/selection"
	"github.com/aussiebroadwan/mfagate/internal/mfa/store"
	"github.com/aussiebroadwan/mfagate/internal/mfa/verify"
	"github.com/aussiebroadwan/mfagate/pkg/httpx"
	"github.com/aussiebroadwan/mfagate/pkg/slogx"
)

type ReauthenticateResult struct {
	Forms   *selection.Forms
	Failure *verify.Failure

	Done              bool
	ReauthenticatedAt time.Time
}

// ReauthenticateService asks a signed-in user for a second factor again
// before a sensitive action. It is not a login stage; success only stamps
// the session.
type ReauthenticateService struct {
	Store     store.Store
	Selection *selection.Protocol
	Metrics   *metrics.Metrics
	Now       func() time.Time
}

func (s *ReauthenticateService) Show(ctx context.Context, p httpx.Principal) (*selection.Forms, error) {
	subj, err := s.subject(ctx, p)
	if err != nil {
		return nil, err
	}
	forms, err := s.Selection.Build(ctx, selection.Request{Subject: subj})
	if err != nil {
		return nil, err
	}
	if forms.Code == nil && forms.WebAuthn == nil {
		return nil, ErrNoFactors
	}
	return forms, nil
}

func (s *ReauthenticateService) Submit(ctx context.Context, p httpx.Principal, fields url.Values) (ReauthenticateResult, error) {
	l := slogx.FromContext(ctx)

	subj, err := s.subject(ctx, p)
	if err != nil {
		return ReauthenticateResult{}, err
	}
	forms, err := s.Selection.Build(ctx, selection.Request{Subject: subj, Fields: fields})
	if err != nil {
		return ReauthenticateResult{}, err
	}
	if forms.Shape() == selection.ShapeNone {
		return ReauthenticateResult{Forms: forms}, ErrNoSubmission
	}

	start := time.Now()
	a, err := forms.Validate(ctx)
	shape := forms.Shape().String()
	purpose := string(domain.PurposeReauthenticate)
	if f, ok := verify.AsFailure(err); ok {
		s.Metrics.Verification(purpose, shape, string(f.Reason), time.Since(start))
		l.Warn("reauthentication rejected",
			slog.String("session_id", p.SessionID),
			slog.String("shape", shape),
			slog.String("reason", string(f.Reason)),
		)
		return ReauthenticateResult{Forms: forms, Failure: f}, nil
	}
	if err != nil {
		s.Metrics.Verification(purpose, shape, metrics.OutcomeError, time.Since(start))
		return ReauthenticateResult{}, fmt.Errorf("verify %s: %w", shape, err)
	}
	s.Metrics.Verification(purpose, shape, metrics.OutcomeSuccess, time.Since(start))

	now := time.Now()
	if s.Now != nil {
		now = s.Now()
	}
	if err := s.Store.Sessions().MarkReauthenticated(ctx, p.SessionID, now); err != nil {
		return ReauthenticateResult{}, fmt.Errorf("mark reauthenticated: %w", err)
	}
	l.Info("reauthenticated", slog.String("session_id", p.SessionID), slog.String("type", string(a.Type)))
	return ReauthenticateResult{Done: true, ReauthenticatedAt: now}, nil
}

func (s *ReauthenticateService) subject(ctx context.Context, p httpx.Principal) (verify.Subject, error) {
	user, err := s.Store.Users().GetUserByID(ctx, p.UserID)
	if err != nil {
		return verify.Subject{}, fmt.Errorf("load session user: %w", err)
	}
	return verify.Subject{User: user, Purpose: domain.PurposeReauthenticate, ContextID: p.SessionID}, nil
}
