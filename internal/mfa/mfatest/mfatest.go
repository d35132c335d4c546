// Package mfatest provides fixtures for tests across the mfa packages: an
// in-memory store, enrolled users and a fake WebAuthn relying party.
package mfatest

import (
	"context"
	"testing"
	"time"

	"github.com/aussiebroadwan/mfagate/internal/mfa/domain"
	"github.com/aussiebroadwan/mfagate/internal/mfa/store/drivers/sqlite"
	"github.com/aussiebroadwan/mfagate/pkg/cryptox"
	"github.com/aussiebroadwan/mfagate/pkg/idx"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"
)

const (
	Password = "correct horse battery staple"
	Pepper   = "test-pepper"
)

// NewStore returns a migrated in-memory store closed with the test.
func NewStore(t *testing.T) *sqlite.Store {
	t.Helper()

	st, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	require.NoError(t, st.ApplyMigrations())
	t.Cleanup(func() { _ = st.Close() })
	return st
}

// CreateUser stores a user whose password is Password under Pepper.
func CreateUser(t *testing.T, st *sqlite.Store, username string) domain.User {
	t.Helper()

	hash, err := cryptox.PasswordHasher{Pepper: Pepper}.Hash(Password)
	require.NoError(t, err)

	u := domain.User{
		ID:           idx.New().String(),
		Username:     username,
		DisplayName:  username,
		PasswordHash: hash,
		CreatedAt:    time.Now().Truncate(time.Millisecond),
	}
	require.NoError(t, st.Users().CreateUser(context.Background(), u))
	return u
}

func addAuthenticator(t *testing.T, st *sqlite.Store, a domain.Authenticator, data any) domain.Authenticator {
	t.Helper()

	raw, err := domain.EncodeData(data)
	require.NoError(t, err)
	a.ID = idx.New().String()
	a.Data = raw
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().Truncate(time.Millisecond)
	}
	require.NoError(t, st.Authenticators().Create(context.Background(), a))
	return a
}

// AddTOTP enrolls a fresh TOTP secret and returns it.
func AddTOTP(t *testing.T, st *sqlite.Store, userID string) string {
	t.Helper()

	key, err := totp.Generate(totp.GenerateOpts{Issuer: "mfagate", AccountName: userID})
	require.NoError(t, err)

	addAuthenticator(t, st, domain.Authenticator{UserID: userID, Type: domain.TypeTOTP}, domain.TOTPData{Secret: key.Secret()})
	return key.Secret()
}

// AddRecoveryCodes enrolls n recovery codes and returns them in plain text.
func AddRecoveryCodes(t *testing.T, st *sqlite.Store, userID string, n int) []string {
	t.Helper()

	codes := make([]string, n)
	fps := make([]string, n)
	for i := range n {
		codes[i] = cryptox.MustGenerateToken(cryptox.TokenSize128)
		fps[i] = cryptox.FingerprintToken(codes[i])
	}
	addAuthenticator(t, st, domain.Authenticator{UserID: userID, Type: domain.TypeRecoveryCodes}, domain.RecoveryCodesData{Fingerprints: fps})
	return codes
}

// AddWebAuthn enrolls a security key with the given credential ID and sign
// counter.
func AddWebAuthn(t *testing.T, st *sqlite.Store, userID string, credentialID []byte, counter int64) domain.Authenticator {
	t.Helper()

	cred := webauthn.Credential{
		ID:        credentialID,
		PublicKey: []byte("public-key-" + string(credentialID)),
		Authenticator: webauthn.Authenticator{
			SignCount: uint32(counter), // #nosec G115 - test fixture
		},
	}
	a := domain.Authenticator{
		UserID:       userID,
		Type:         domain.TypeWebAuthn,
		CredentialID: credentialID,
		Counter:      counter,
	}
	return addAuthenticator(t, st, a, domain.WebAuthnData{Label: "key " + string(credentialID), Credential: cred})
}

// Reload reads a back from the store.
func Reload(t *testing.T, st *sqlite.Store, a domain.Authenticator) domain.Authenticator {
	t.Helper()

	auths, err := st.Authenticators().ListByUser(context.Background(), a.UserID)
	require.NoError(t, err)
	for _, got := range auths {
		if got.ID == a.ID {
			return got
		}
	}
	require.FailNow(t, "authenticator not stored", a.ID)
	return domain.Authenticator{}
}
