package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aussiebroadwan/mfagate/internal/mfa/domain"
	"github.com/aussiebroadwan/mfagate/internal/mfa/store"
)

type pendingLoginsRepo struct {
	db dbtx
}

func encodeStages(m map[string]domain.StageState) (string, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode stages: %w", err)
	}
	return string(b), nil
}

func (r *pendingLoginsRepo) Create(ctx context.Context, l domain.PendingLogin) error {
	stages, err := encodeStages(l.Stages)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO pending_logins
		 (id, user_id, redirect_to, stages, current_stage, attempts, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.UserID, l.RedirectTo, stages, l.Current, l.Attempts,
		toMillis(l.CreatedAt), toMillis(l.ExpiresAt))
	return mapConstraint(err)
}

func (r *pendingLoginsRepo) Get(ctx context.Context, id string, now time.Time) (domain.PendingLogin, error) {
	var (
		l                    domain.PendingLogin
		stages               string
		createdAt, expiresAt int64
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, redirect_to, stages, current_stage, attempts, created_at, expires_at
		 FROM pending_logins WHERE id = ? AND expires_at > ?`, id, toMillis(now)).
		Scan(&l.ID, &l.UserID, &l.RedirectTo, &stages, &l.Current, &l.Attempts, &createdAt, &expiresAt)
	if err != nil {
		return domain.PendingLogin{}, mapNotFound(err)
	}
	if err := json.Unmarshal([]byte(stages), &l.Stages); err != nil {
		return domain.PendingLogin{}, fmt.Errorf("decode stages: %w", err)
	}
	if l.Stages == nil {
		l.Stages = map[string]domain.StageState{}
	}
	l.CreatedAt = fromMillis(createdAt)
	l.ExpiresAt = fromMillis(expiresAt)
	return l, nil
}

func (r *pendingLoginsRepo) Update(ctx context.Context, l domain.PendingLogin) error {
	stages, err := encodeStages(l.Stages)
	if err != nil {
		return err
	}
	return expectOne(r.db.ExecContext(ctx,
		`UPDATE pending_logins SET stages = ?, current_stage = ?, attempts = ? WHERE id = ?`,
		stages, l.Current, l.Attempts, l.ID))
}

func (r *pendingLoginsRepo) IncrementAttempts(ctx context.Context, id string) (int, error) {
	var attempts int
	err := r.db.QueryRowContext(ctx,
		`UPDATE pending_logins SET attempts = attempts + 1 WHERE id = ? RETURNING attempts`, id).
		Scan(&attempts)
	if err != nil {
		return 0, mapNotFound(err)
	}
	return attempts, nil
}

func (r *pendingLoginsRepo) Delete(ctx context.Context, id string) error {
	return expectOne(r.db.ExecContext(ctx, `DELETE FROM pending_logins WHERE id = ?`, id))
}

func (r *pendingLoginsRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM pending_logins WHERE expires_at <= ?`, toMillis(now))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

var _ store.PendingLogins = (*pendingLoginsRepo)(nil)
