package store

import (
	"context"
	"errors"
	"time"

	"github.com/aussiebroadwan/mfagate/internal/mfa/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
)

// Store is the root data access interface. Drivers expose sub-repositories
// so a transaction-scoped Store cannot open a nested transaction by accident.
type Store interface {
	Users() Users
	Authenticators() Authenticators
	PendingLogins() PendingLogins
	Sessions() Sessions
	Challenges() Challenges

	ApplyMigrations() error

	// Tx starts a read/write transaction and returns a Tx-scoped Store.
	// The caller MUST call Commit() or Rollback() on the returned Tx.
	Tx(ctx context.Context) (Tx, error)

	// WithTx runs fn in a transaction, committing when fn returns nil.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	Close() error
	Ping(ctx context.Context) error
}

// Tx is a transactional store.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

type Users interface {
	GetUserByID(ctx context.Context, id string) (domain.User, error)
	GetUserByUsername(ctx context.Context, username string) (domain.User, error)

	// CreateUser returns ErrAlreadyExists for a taken username.
	CreateUser(ctx context.Context, u domain.User) error

	IsEmpty(ctx context.Context) (bool, error)
}

type Authenticators interface {
	// ListByUser returns a user's authenticators ordered by creation.
	ListByUser(ctx context.Context, userID string) ([]domain.Authenticator, error)

	// GetByCredentialID finds a user's webauthn authenticator, or returns
	// ErrNotFound.
	GetByCredentialID(ctx context.Context, userID string, credentialID []byte) (domain.Authenticator, error)

	// Create returns ErrAlreadyExists when the user already has a TOTP or
	// recovery-codes authenticator, or the credential ID is taken.
	Create(ctx context.Context, a domain.Authenticator) error

	// CompareAndSwapCounter sets counter to next only while it still equals
	// prev, and stamps last_used_at. It reports whether the swap happened.
	CompareAndSwapCounter(ctx context.Context, id string, prev, next int64, usedAt time.Time) (bool, error)
}

type PendingLogins interface {
	Create(ctx context.Context, l domain.PendingLogin) error

	// Get returns ErrNotFound for missing or expired logins.
	Get(ctx context.Context, id string, now time.Time) (domain.PendingLogin, error)

	// Update persists stage states, the cursor and the attempt count.
	Update(ctx context.Context, l domain.PendingLogin) error

	// IncrementAttempts returns the new attempt count.
	IncrementAttempts(ctx context.Context, id string) (int, error)

	Delete(ctx context.Context, id string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type Sessions interface {
	Create(ctx context.Context, s domain.Session) error

	// Get returns ErrNotFound for missing or expired sessions.
	Get(ctx context.Context, id string, now time.Time) (domain.Session, error)

	MarkReauthenticated(ctx context.Context, id string, at time.Time) error
	Delete(ctx context.Context, id string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// Challenges holds issued WebAuthn session data. It is a separate contract
// so deployments can keep challenges outside the primary database.
type Challenges interface {
	// Put stores c, replacing any earlier challenge for the same context.
	Put(ctx context.Context, c domain.Challenge) error

	// Take atomically removes and returns the challenge. Missing or expired
	// challenges return ErrNotFound.
	Take(ctx context.Context, purpose domain.ChallengePurpose, contextID string, now time.Time) (domain.Challenge, error)

	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
