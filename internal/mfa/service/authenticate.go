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
	"github.com/aussiebroadwan/mfagate/internal/mfa/stages"
	"github.com/aussiebroadwan/mfagate/internal/mfa/store"
	"github.com/aussiebroadwan/mfagate/internal/mfa/verify"
	"github.com/aussiebroadwan/mfagate/pkg/slogx"
)

// AuthenticateResult is the outcome of a submission at the MFA stage.
// Failure is set when the bound form did not verify; Forms are then ready
// to be shown again.
type AuthenticateResult struct {
	Forms   *selection.Forms
	Failure *verify.Failure

	// NextStage is set when the pipeline owes another stage.
	NextStage string

	Done         bool
	Session      domain.Session
	SessionToken string
	RedirectTo   string
}

type AuthenticateService struct {
	Store     store.Store
	Stages    *stages.Controller
	Selection *selection.Protocol
	Sessions  *SessionService
	Metrics   *metrics.Metrics
}

// Show enters the MFA stage and builds the unbound forms. ErrNoFactors means
// the stage is owed but the deployment accepts none of the user's factors.
func (s *AuthenticateService) Show(ctx context.Context, loginID string) (*selection.Forms, error) {
	h, user, err := s.enter(ctx, loginID)
	if err != nil {
		return nil, err
	}
	forms, err := s.Selection.Build(ctx, selection.Request{Subject: subjectFor(user, h)})
	if err != nil {
		return nil, err
	}
	if forms.Code == nil && forms.WebAuthn == nil {
		return nil, ErrNoFactors
	}
	return forms, nil
}

// Submit verifies the posted factor. A failed verification is not an error:
// the stage stays in progress and the result carries the forms to redisplay.
func (s *AuthenticateService) Submit(ctx context.Context, loginID string, fields url.Values) (AuthenticateResult, error) {
	l := slogx.FromContext(ctx)

	h, user, err := s.enter(ctx, loginID)
	if err != nil {
		return AuthenticateResult{}, err
	}

	forms, err := s.Selection.Build(ctx, selection.Request{Subject: subjectFor(user, h), Fields: fields})
	if err != nil {
		return AuthenticateResult{}, err
	}
	if forms.Code == nil && forms.WebAuthn == nil {
		return AuthenticateResult{}, ErrNoFactors
	}
	if forms.Shape() == selection.ShapeNone {
		return AuthenticateResult{Forms: forms}, ErrNoSubmission
	}

	start := time.Now()
	a, err := forms.Validate(ctx)
	shape := forms.Shape().String()
	if f, ok := verify.AsFailure(err); ok {
		s.Metrics.Verification(string(domain.PurposeLogin), shape, string(f.Reason), time.Since(start))
		attempts, ferr := s.Stages.Fail(ctx, h)
		if ferr != nil {
			return AuthenticateResult{}, ferr
		}
		l.Warn("second factor rejected",
			slog.String("user_id", user.ID),
			slog.String("shape", shape),
			slog.String("reason", string(f.Reason)),
			slog.Int("attempts", attempts),
		)
		return AuthenticateResult{Forms: forms, Failure: f}, nil
	}
	if err != nil {
		s.Metrics.Verification(string(domain.PurposeLogin), shape, metrics.OutcomeError, time.Since(start))
		return AuthenticateResult{}, fmt.Errorf("verify %s: %w", shape, err)
	}
	s.Metrics.Verification(string(domain.PurposeLogin), shape, metrics.OutcomeSuccess, time.Since(start))
	l.Info("second factor accepted",
		slog.String("user_id", user.ID),
		slog.String("authenticator_id", a.ID),
		slog.String("type", string(a.Type)),
	)

	res, err := s.Stages.Exit(ctx, h)
	if err != nil {
		return AuthenticateResult{}, err
	}
	if !res.Done {
		return AuthenticateResult{NextStage: res.Stage.Key()}, nil
	}

	amr := []string{domain.AMRPassword, domain.AMRFor(a.Type), domain.AMRMFA}
	sess, token, err := s.Sessions.Create(ctx, res.UserID, amr)
	if err != nil {
		return AuthenticateResult{}, err
	}
	return AuthenticateResult{Done: true, Session: sess, SessionToken: token, RedirectTo: res.RedirectTo}, nil
}

// Abandon discards the pending login, for a user who cancels.
func (s *AuthenticateService) Abandon(ctx context.Context, loginID string) error {
	return s.Stages.Abandon(ctx, loginID)
}

func (s *AuthenticateService) enter(ctx context.Context, loginID string) (*stages.Handle, domain.User, error) {
	h, err := s.Stages.Enter(ctx, loginID, stages.MFAKey)
	if err != nil {
		return nil, domain.User{}, err
	}
	if h == nil {
		return nil, domain.User{}, ErrNotOwed
	}
	user, err := s.Store.Users().GetUserByID(ctx, h.Login.UserID)
	if err != nil {
		return nil, domain.User{}, fmt.Errorf("load login user: %w", err)
	}
	return h, user, nil
}

func subjectFor(user domain.User, h *stages.Handle) verify.Subject {
	return verify.Subject{User: user, Purpose: domain.PurposeLogin, ContextID: h.Login.ID}
}
