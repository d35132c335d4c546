package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/aussiebroadwan/mfagate/internal/mfa/domain"
)

type authenticatorsRepo struct {
	db dbtx
}

const authenticatorColumns = `id, user_id, type, data, credential_id, counter, created_at, last_used_at`

func scanAuthenticator(row interface{ Scan(...any) error }) (domain.Authenticator, error) {
	var (
		a          domain.Authenticator
		typ, data  string
		createdAt  int64
		lastUsedAt sql.NullInt64
	)
	if err := row.Scan(&a.ID, &a.UserID, &typ, &data, &a.CredentialID, &a.Counter, &createdAt, &lastUsedAt); err != nil {
		return domain.Authenticator{}, mapNotFound(err)
	}
	a.Type = domain.AuthenticatorType(typ)
	a.Data = []byte(data)
	a.CreatedAt = fromMillis(createdAt)
	a.LastUsedAt = fromNullMillis(lastUsedAt)
	return a, nil
}

func (r *authenticatorsRepo) ListByUser(ctx context.Context, userID string) ([]domain.Authenticator, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+authenticatorColumns+` FROM authenticators
		 WHERE user_id = ? ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Authenticator
	for rows.Next() {
		a, err := scanAuthenticator(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *authenticatorsRepo) GetByCredentialID(ctx context.Context, userID string, credentialID []byte) (domain.Authenticator, error) {
	return scanAuthenticator(r.db.QueryRowContext(ctx,
		`SELECT `+authenticatorColumns+` FROM authenticators
		 WHERE user_id = ? AND type = 'webauthn' AND credential_id = ?`, userID, credentialID))
}

func (r *authenticatorsRepo) Create(ctx context.Context, a domain.Authenticator) error {
	var credID any
	if len(a.CredentialID) > 0 {
		credID = a.CredentialID
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO authenticators (`+authenticatorColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.UserID, string(a.Type), string(a.Data), credID, a.Counter,
		toMillis(a.CreatedAt), toNullMillis(a.LastUsedAt))
	return mapConstraint(err)
}

func (r *authenticatorsRepo) CompareAndSwapCounter(ctx context.Context, id string, prev, next int64, usedAt time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE authenticators SET counter = ?, last_used_at = ?
		 WHERE id = ? AND counter = ?`,
		next, toMillis(usedAt), id, prev)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
