package auth_test

import (
	"crypto/rand"
	"strings"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tmcalister/rampart/internal/auth"
)

func newTestManager(t *testing.T) *auth.TOTPManager {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)

	manager, err := auth.NewTOTPManager(key, "rampart-test")
	require.NoError(t, err)
	return manager
}

func TestNewTOTPManagerRejectsShortKey(t *testing.T) {
	_, err := auth.NewTOTPManager([]byte("short"), "rampart-test")
	assert.Error(t, err)
}

func TestGenerateSecretRoundTrip(t *testing.T) {
	manager := newTestManager(t)

	encrypted, nonce, url, err := manager.GenerateSecret("user@example.com")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "otpauth://totp/"))
	assert.Contains(t, url, "rampart-test")

	secret, err := manager.DecryptSecret(encrypted, nonce)
	require.NoError(t, err)

	code, err := totp.GenerateCode(string(secret), time.Now())
	require.NoError(t, err)

	valid, err := manager.ValidateTOTP(secret, code, nil)
	assert.NoError(t, err)
	assert.True(t, valid)
}

func TestValidateTOTPRejectsWrongCode(t *testing.T) {
	manager := newTestManager(t)

	_, _, _, err := manager.GenerateSecret("user@example.com")
	require.NoError(t, err)

	key, err := totp.Generate(totp.GenerateOpts{Issuer: "rampart-test", AccountName: "user@example.com"})
	require.NoError(t, err)

	valid, err := manager.ValidateTOTP([]byte(key.Secret()), "000000", nil)
	assert.NoError(t, err)
	assert.False(t, valid)
}

func TestValidateTOTPRejectsReplay(t *testing.T) {
	manager := newTestManager(t)

	key, err := totp.Generate(totp.GenerateOpts{Issuer: "rampart-test", AccountName: "user@example.com"})
	require.NoError(t, err)

	code, err := totp.GenerateCode(key.Secret(), time.Now())
	require.NoError(t, err)

	// A valid code presented again inside the drift window is refused
	used := time.Now().Add(-10 * time.Second)
	valid, err := manager.ValidateTOTP([]byte(key.Secret()), code, &used)
	assert.NoError(t, err)
	assert.False(t, valid)

	// Outside the window the same secret accepts fresh codes again
	stale := time.Now().Add(-5 * time.Minute)
	valid, err = manager.ValidateTOTP([]byte(key.Secret()), code, &stale)
	assert.NoError(t, err)
	assert.True(t, valid)
}

func TestDecryptSecretWrongNonce(t *testing.T) {
	manager := newTestManager(t)

	encrypted, _, err := manager.EncryptSecret([]byte("JBSWY3DPEHPK3PXP"))
	require.NoError(t, err)

	badNonce := make([]byte, 12)
	_, err = manager.DecryptSecret(encrypted, badNonce)
	assert.Error(t, err)
}
