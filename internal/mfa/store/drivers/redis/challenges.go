// Package redis keeps WebAuthn challenges in Redis so several service
// instances can share them without a shared database.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/mfagate/internal/mfa/domain"
	"github.com/aussiebroadwan/mfagate/internal/mfa/store"

	goredis "github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "mfagate:challenge:"

type Config struct {
	Client    goredis.Cmdable
	KeyPrefix string
}

// Challenges implements store.Challenges on top of GETDEL, so a challenge is
// handed to at most one caller. Expiry is delegated to key TTLs.
type Challenges struct {
	client goredis.Cmdable
	prefix string
}

var _ store.Challenges = (*Challenges)(nil)

func NewChallenges(cfg Config) (*Challenges, error) {
	if cfg.Client == nil {
		return nil, errors.New("redis: client is required")
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = defaultKeyPrefix
	}
	return &Challenges{client: cfg.Client, prefix: cfg.KeyPrefix}, nil
}

type envelope struct {
	SessionData []byte `json:"session_data"`
	ExpiresAt   int64  `json:"expires_at"` // unix ms
}

func (c *Challenges) key(purpose domain.ChallengePurpose, contextID string) string {
	return c.prefix + string(purpose) + ":" + contextID
}

func (c *Challenges) Put(ctx context.Context, ch domain.Challenge) error {
	ttl := time.Until(ch.ExpiresAt)
	if ttl <= 0 {
		return nil
	}

	b, err := json.Marshal(envelope{SessionData: ch.SessionData, ExpiresAt: ch.ExpiresAt.UnixMilli()})
	if err != nil {
		return fmt.Errorf("redis: encode challenge: %w", err)
	}
	if err := c.client.Set(ctx, c.key(ch.Purpose, ch.ContextID), b, ttl).Err(); err != nil {
		return fmt.Errorf("redis: put challenge: %w", err)
	}
	return nil
}

func (c *Challenges) Take(ctx context.Context, purpose domain.ChallengePurpose, contextID string, now time.Time) (domain.Challenge, error) {
	b, err := c.client.GetDel(ctx, c.key(purpose, contextID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return domain.Challenge{}, store.ErrNotFound
	}
	if err != nil {
		return domain.Challenge{}, fmt.Errorf("redis: take challenge: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return domain.Challenge{}, fmt.Errorf("redis: decode challenge: %w", err)
	}

	ch := domain.Challenge{
		ContextID:   contextID,
		Purpose:     purpose,
		SessionData: env.SessionData,
		ExpiresAt:   time.UnixMilli(env.ExpiresAt).UTC(),
	}
	if !now.Before(ch.ExpiresAt) {
		return domain.Challenge{}, store.ErrNotFound
	}
	return ch, nil
}

// DeleteExpired is a no-op; Redis evicts expired keys itself.
func (c *Challenges) DeleteExpired(context.Context, time.Time) (int64, error) {
	return 0, nil
}

// Ping reports whether the server is reachable.
func (c *Challenges) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
