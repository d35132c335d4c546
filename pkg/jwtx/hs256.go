package jwtx

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// MinSecretSize is the smallest accepted HMAC key, in bytes.
const MinSecretSize = 32

var (
	ErrMalformed   = errors.New("jwtx: malformed token")
	ErrShortSecret = errors.New("jwtx: secret too short")
	ErrIssuer      = errors.New("jwtx: issuer mismatch")
	ErrKind        = errors.New("jwtx: token kind mismatch")
	ErrExpired     = errors.New("jwtx: token expired")
	ErrNotYetValid = errors.New("jwtx: token not yet valid")
)

// Signer mints compact tokens.
type Signer interface {
	Sign(Claims) (string, error)
}

// Verifier validates a token of the expected kind and returns its claims.
type Verifier interface {
	Verify(token, kind string) (Claims, error)
}

// HS256 signs and verifies cookie tokens with a shared secret. The secret
// never leaves the service, so a symmetric key is sufficient.
type HS256 struct {
	secret []byte
	issuer string

	// Now is overridable in tests.
	Now func() time.Time
}

var (
	_ Signer   = (*HS256)(nil)
	_ Verifier = (*HS256)(nil)
)

// NewHS256 returns a signer/verifier for issuer keyed by secret.
func NewHS256(secret []byte, issuer string) (*HS256, error) {
	if len(secret) < MinSecretSize {
		return nil, fmt.Errorf("%w: need %d bytes, got %d", ErrShortSecret, MinSecretSize, len(secret))
	}
	key := make([]byte, len(secret))
	copy(key, secret)
	return &HS256{secret: key, issuer: issuer, Now: time.Now}, nil
}

// Sign serialises and signs the claims.
func (h *HS256) Sign(c Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	s, err := token.SignedString(h.secret)
	if err != nil {
		return "", fmt.Errorf("jwtx: sign: %w", err)
	}
	return s, nil
}

// Verify checks the signature, issuer, kind and validity window.
func (h *HS256) Verify(tokenStr, kind string) (Claims, error) {
	now := h.Now().UTC()
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)

	var claims Claims
	token, err := parser.ParseWithClaims(tokenStr, &claims, func(*jwt.Token) (any, error) {
		return h.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrExpired
		}
		return Claims{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if !token.Valid {
		return Claims{}, ErrMalformed
	}

	if err := claims.ValidateIssuer(h.issuer); err != nil {
		return Claims{}, err
	}
	if err := claims.ValidateKind(kind); err != nil {
		return Claims{}, err
	}
	if err := claims.ValidateExpiry(now); err != nil {
		return Claims{}, err
	}
	return claims, nil
}
