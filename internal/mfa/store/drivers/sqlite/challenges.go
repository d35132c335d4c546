package sqlite

import (
	"context"
	"time"

	"github.com/aussiebroadwan/mfagate/internal/mfa/domain"
	"github.com/aussiebroadwan/mfagate/internal/mfa/store"
)

type challengesRepo struct {
	db dbtx
}

func (r *challengesRepo) Put(ctx context.Context, c domain.Challenge) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO webauthn_challenges (purpose, context_id, session_data, expires_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (purpose, context_id) DO UPDATE
		 SET session_data = excluded.session_data, expires_at = excluded.expires_at`,
		string(c.Purpose), c.ContextID, c.SessionData, toMillis(c.ExpiresAt))
	return err
}

// Take deletes the row first so two concurrent verifications cannot both
// read the same challenge. An expired row is still removed.
func (r *challengesRepo) Take(ctx context.Context, purpose domain.ChallengePurpose, contextID string, now time.Time) (domain.Challenge, error) {
	c := domain.Challenge{ContextID: contextID, Purpose: purpose}
	var expiresAt int64
	err := r.db.QueryRowContext(ctx,
		`DELETE FROM webauthn_challenges WHERE purpose = ? AND context_id = ?
		 RETURNING session_data, expires_at`, string(purpose), contextID).
		Scan(&c.SessionData, &expiresAt)
	if err != nil {
		return domain.Challenge{}, mapNotFound(err)
	}
	c.ExpiresAt = fromMillis(expiresAt)
	if !now.Before(c.ExpiresAt) {
		return domain.Challenge{}, store.ErrNotFound
	}
	return c, nil
}

func (r *challengesRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM webauthn_challenges WHERE expires_at <= ?`, toMillis(now))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
