package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/aussiebroadwan/mfagate/internal/mfa/domain"
)

type sessionsRepo struct {
	db dbtx
}

func (r *sessionsRepo) Create(ctx context.Context, s domain.Session) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, amr, authenticated_at, reauthenticated_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		s.ID, s.UserID, strings.Join(s.AMR, " "), toMillis(s.AuthenticatedAt),
		toNullMillis(s.ReauthenticatedAt), toMillis(s.ExpiresAt))
	return mapConstraint(err)
}

func (r *sessionsRepo) Get(ctx context.Context, id string, now time.Time) (domain.Session, error) {
	var (
		s                   domain.Session
		amr                 string
		authedAt, expiresAt int64
		reauthedAt          sql.NullInt64
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, amr, authenticated_at, reauthenticated_at, expires_at
		 FROM sessions WHERE id = ? AND expires_at > ?`, id, toMillis(now)).
		Scan(&s.ID, &s.UserID, &amr, &authedAt, &reauthedAt, &expiresAt)
	if err != nil {
		return domain.Session{}, mapNotFound(err)
	}
	s.AMR = strings.Fields(amr)
	s.AuthenticatedAt = fromMillis(authedAt)
	s.ReauthenticatedAt = fromNullMillis(reauthedAt)
	s.ExpiresAt = fromMillis(expiresAt)
	return s, nil
}

func (r *sessionsRepo) MarkReauthenticated(ctx context.Context, id string, at time.Time) error {
	return expectOne(r.db.ExecContext(ctx,
		`UPDATE sessions SET reauthenticated_at = ? WHERE id = ?`, toMillis(at), id))
}

func (r *sessionsRepo) Delete(ctx context.Context, id string) error {
	return expectOne(r.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id))
}

func (r *sessionsRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, toMillis(now))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
