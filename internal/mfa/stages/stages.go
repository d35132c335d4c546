// Package stages sequences the steps a login owes after primary
// authentication. Stage definitions are stateless; the per-login state lives
// in the pending login record.
package stages

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/aussiebroadwan/mfagate/internal/mfa/domain"
	"github.com/aussiebroadwan/mfagate/internal/mfa/store"
	"github.com/aussiebroadwan/mfagate/pkg/idx"
)

const DefaultLoginTTL = 10 * time.Minute

var (
	// ErrAbandoned means the pending login is gone: expired, finished or
	// discarded. The user has to start over.
	ErrAbandoned = errors.New("stages: login abandoned")

	// ErrStageMismatch is a programming error such as exiting with a stale
	// handle or naming an unknown stage.
	ErrStageMismatch = errors.New("stages: stage mismatch")
)

// Stage is one conditional step of the pipeline.
type Stage interface {
	Key() string

	// Applies reports whether the login owes this stage. It must not
	// mutate anything.
	Applies(ctx context.Context, login domain.PendingLogin) (bool, error)
}

// Result is where the pipeline stands after a transition. Either Stage is
// set and the caller sends the user there, or Done is set and the user is
// fully authenticated.
type Result struct {
	Login domain.PendingLogin
	Stage Stage

	Done       bool
	UserID     string
	RedirectTo string
}

// Handle is proof that the caller entered the current stage of a login.
type Handle struct {
	Login domain.PendingLogin
	Stage Stage
}

type Controller struct {
	Store  store.Store
	Stages []Stage

	TTL time.Duration // DefaultLoginTTL when zero
	Now func() time.Time
}

func (c *Controller) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// Start records a pending login for a user who passed primary
// authentication and resumes it.
func (c *Controller) Start(ctx context.Context, userID, redirectTo string) (Result, error) {
	ttl := c.TTL
	if ttl <= 0 {
		ttl = DefaultLoginTTL
	}
	now := c.now()
	login := domain.PendingLogin{
		ID:         idx.NewAt(now).String(),
		UserID:     userID,
		RedirectTo: redirectTo,
		Stages:     map[string]domain.StageState{},
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
	}
	if err := c.Store.PendingLogins().Create(ctx, login); err != nil {
		return Result{}, fmt.Errorf("stages: create login: %w", err)
	}
	return c.Resume(ctx, login)
}

// Resume walks the stages from the first unsatisfied one. Stages that do not
// apply are skipped; the first one that does becomes current. When nothing
// is owed the pending login is deleted.
func (c *Controller) Resume(ctx context.Context, login domain.PendingLogin) (Result, error) {
	login.Stages = maps.Clone(login.Stages)
	if login.Stages == nil {
		login.Stages = map[string]domain.StageState{}
	}

	for _, s := range c.Stages {
		key := s.Key()
		if login.StateOf(key).Satisfied() {
			continue
		}

		applies, err := s.Applies(ctx, login)
		if err != nil {
			return Result{}, fmt.Errorf("stages: %s predicate: %w", key, err)
		}
		if !applies {
			login.Stages[key] = domain.StageSkipped
			continue
		}

		login.Stages[key] = domain.StageInProgress
		login.Current = key
		if err := c.update(ctx, login); err != nil {
			return Result{}, err
		}
		return Result{Login: login, Stage: s, RedirectTo: login.RedirectTo}, nil
	}

	if err := c.Store.PendingLogins().Delete(ctx, login.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return Result{}, fmt.Errorf("stages: delete finished login: %w", err)
	}
	return Result{Done: true, UserID: login.UserID, RedirectTo: login.RedirectTo}, nil
}

// Enter returns a handle when the login is current at key and the stage
// still applies, and nil otherwise. It never changes state, so calling it
// repeatedly is safe.
func (c *Controller) Enter(ctx context.Context, loginID, key string) (*Handle, error) {
	s, ok := c.stage(key)
	if !ok {
		return nil, fmt.Errorf("%w: unknown stage %q", ErrStageMismatch, key)
	}

	login, err := c.load(ctx, loginID)
	if err != nil {
		return nil, err
	}
	if login.Current != key || login.StateOf(key) != domain.StageInProgress {
		return nil, nil
	}

	applies, err := s.Applies(ctx, login)
	if err != nil {
		return nil, fmt.Errorf("stages: %s predicate: %w", key, err)
	}
	if !applies {
		return nil, nil
	}
	return &Handle{Login: login, Stage: s}, nil
}

// Exit completes the handle's stage and resumes the pipeline.
func (c *Controller) Exit(ctx context.Context, h *Handle) (Result, error) {
	login, err := c.current(ctx, h)
	if err != nil {
		return Result{}, err
	}

	login.Stages = maps.Clone(login.Stages)
	login.Stages[h.Stage.Key()] = domain.StageCompleted
	login.Current = ""
	login.Attempts = 0
	return c.Resume(ctx, login)
}

// Fail records a failed attempt at the handle's stage, which stays in
// progress. It returns the attempt count.
func (c *Controller) Fail(ctx context.Context, h *Handle) (int, error) {
	if _, err := c.current(ctx, h); err != nil {
		return 0, err
	}
	n, err := c.Store.PendingLogins().IncrementAttempts(ctx, h.Login.ID)
	if errors.Is(err, store.ErrNotFound) {
		return 0, ErrAbandoned
	}
	if err != nil {
		return 0, fmt.Errorf("stages: count attempt: %w", err)
	}
	return n, nil
}

// Abandon discards the login. Abandoning a login that is already gone is
// not an error.
func (c *Controller) Abandon(ctx context.Context, loginID string) error {
	err := c.Store.PendingLogins().Delete(ctx, loginID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("stages: abandon login: %w", err)
	}
	return nil
}

// current reloads the handle's login and checks the handle is not stale.
func (c *Controller) current(ctx context.Context, h *Handle) (domain.PendingLogin, error) {
	if h == nil || h.Stage == nil {
		return domain.PendingLogin{}, fmt.Errorf("%w: nil handle", ErrStageMismatch)
	}
	login, err := c.load(ctx, h.Login.ID)
	if err != nil {
		return domain.PendingLogin{}, err
	}
	key := h.Stage.Key()
	if login.Current != key || login.StateOf(key) != domain.StageInProgress {
		return domain.PendingLogin{}, fmt.Errorf("%w: login %s is not at %s", ErrStageMismatch, login.ID, key)
	}
	return login, nil
}

func (c *Controller) load(ctx context.Context, loginID string) (domain.PendingLogin, error) {
	login, err := c.Store.PendingLogins().Get(ctx, loginID, c.now())
	if errors.Is(err, store.ErrNotFound) {
		return domain.PendingLogin{}, ErrAbandoned
	}
	if err != nil {
		return domain.PendingLogin{}, fmt.Errorf("stages: load login: %w", err)
	}
	return login, nil
}

func (c *Controller) update(ctx context.Context, login domain.PendingLogin) error {
	err := c.Store.PendingLogins().Update(ctx, login)
	if errors.Is(err, store.ErrNotFound) {
		return ErrAbandoned
	}
	if err != nil {
		return fmt.Errorf("stages: update login: %w", err)
	}
	return nil
}

func (c *Controller) stage(key string) (Stage, bool) {
	for _, s := range c.Stages {
		if s.Key() == key {
			return s, true
		}
	}
	return nil, false
}
