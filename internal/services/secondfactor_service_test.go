package services_test

import (
	"context"
	"crypto/rand"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"

	"github.com/tmcalister/rampart/internal/auth"
	"github.com/tmcalister/rampart/internal/models"
	"github.com/tmcalister/rampart/internal/services"
	pkglogger "github.com/tmcalister/rampart/pkg/logger"
)

func newSecondFactorService(t *testing.T, accounts *services.MockAccountStore, ledger *services.MockLedger) (*services.SecondFactorService, *auth.TOTPManager) {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	assert.NoError(t, err)
	manager, err := auth.NewTOTPManager(key, "rampart-test")
	assert.NoError(t, err)

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	audit := services.NewAuditService(&services.MockAuditLogRepository{}, logger)
	seclog := pkglogger.NewSecurityLogger(logger)
	svc := services.NewSecondFactorService(accounts, ledger, manager, audit, seclog, logger, 90*24*time.Hour)
	return svc, manager
}

// totpAccount builds an enrolled account whose TOTP secret is known to
// the caller
func totpAccount(t *testing.T, manager *auth.TOTPManager) (*models.Account, string) {
	t.Helper()
	key, err := totp.Generate(totp.GenerateOpts{Issuer: "rampart-test", AccountName: "user@example.com"})
	assert.NoError(t, err)

	encrypted, nonce, err := manager.EncryptSecret([]byte(key.Secret()))
	assert.NoError(t, err)

	return &models.Account{
		ID:                  uuid.New(),
		Email:               "user@example.com",
		SecondFactorEnabled: true,
		TOTPSecretEncrypted: encrypted,
		TOTPSecretNonce:     nonce,
	}, key.Secret()
}

func TestSecondFactorServiceEnroll_StoresEncryptedSecret(t *testing.T) {
	var storedSecret, storedNonce []byte
	accounts := &services.MockAccountStore{
		GetByIDFunc: func(ctx context.Context, id uuid.UUID) (*models.Account, error) {
			return &models.Account{ID: id, Email: "user@example.com"}, nil
		},
		SetSecondFactorFunc: func(ctx context.Context, id uuid.UUID, encryptedSecret, nonce []byte, now time.Time) error {
			storedSecret = encryptedSecret
			storedNonce = nonce
			return nil
		},
	}
	svc, manager := newSecondFactorService(t, accounts, &services.MockLedger{})

	enrollment, err := svc.Enroll(context.Background(), uuid.New())

	assert.NoError(t, err)
	assert.Contains(t, enrollment.ProvisioningURL, "otpauth://totp/")
	assert.NotEmpty(t, storedSecret)
	assert.NotEmpty(t, storedNonce)

	// The stored bytes decrypt back to a usable secret
	plaintext, err := manager.DecryptSecret(storedSecret, storedNonce)
	assert.NoError(t, err)
	assert.NotEmpty(t, plaintext)
}

func TestSecondFactorServiceVerify_ValidCode(t *testing.T) {
	touched := false
	var account *models.Account
	accounts := &services.MockAccountStore{
		GetByIDFunc: func(ctx context.Context, id uuid.UUID) (*models.Account, error) {
			return account, nil
		},
		TouchSecondFactorVerifiedFunc: func(ctx context.Context, id uuid.UUID, now time.Time) error {
			touched = true
			return nil
		},
	}
	svc, manager := newSecondFactorService(t, accounts, &services.MockLedger{})
	var secret string
	account, secret = totpAccount(t, manager)

	code, err := totp.GenerateCode(secret, time.Now())
	assert.NoError(t, err)

	valid, err := svc.Verify(context.Background(), account.ID, code, "203.0.113.9", "Mozilla/5.0")

	assert.NoError(t, err)
	assert.True(t, valid)
	assert.True(t, touched)
}

func TestSecondFactorServiceVerify_InvalidCodeEntersLedger(t *testing.T) {
	var account *models.Account
	accounts := &services.MockAccountStore{
		GetByIDFunc: func(ctx context.Context, id uuid.UUID) (*models.Account, error) {
			return account, nil
		},
	}
	ledger := &services.MockLedger{}
	svc, manager := newSecondFactorService(t, accounts, ledger)
	account, _ = totpAccount(t, manager)

	valid, err := svc.Verify(context.Background(), account.ID, "000000", "203.0.113.9", "Mozilla/5.0")

	assert.NoError(t, err)
	assert.False(t, valid)
	assert.Len(t, ledger.Recorded, 1)
	assert.False(t, ledger.Recorded[0].Success)
	assert.Equal(t, "SECOND_FACTOR_INVALID", *ledger.Recorded[0].FailureReason)
}

func TestSecondFactorServiceVerify_ReplayRejected(t *testing.T) {
	var account *models.Account
	accounts := &services.MockAccountStore{
		GetByIDFunc: func(ctx context.Context, id uuid.UUID) (*models.Account, error) {
			return account, nil
		},
	}
	svc, manager := newSecondFactorService(t, accounts, &services.MockLedger{})
	var secret string
	account, secret = totpAccount(t, manager)
	justUsed := time.Now().Add(-10 * time.Second)
	account.SecondFactorVerifiedAt = &justUsed

	code, err := totp.GenerateCode(secret, time.Now())
	assert.NoError(t, err)

	valid, err := svc.Verify(context.Background(), account.ID, code, "203.0.113.9", "Mozilla/5.0")

	assert.NoError(t, err)
	assert.False(t, valid)
}

func TestSecondFactorServiceVerify_LockedAccountRefused(t *testing.T) {
	lockedUntil := time.Now().Add(10 * time.Minute)
	accounts := &services.MockAccountStore{
		GetByIDFunc: func(ctx context.Context, id uuid.UUID) (*models.Account, error) {
			return &models.Account{
				ID:                  id,
				Email:               "user@example.com",
				SecondFactorEnabled: true,
				LockedUntil:         &lockedUntil,
			}, nil
		},
	}
	svc, _ := newSecondFactorService(t, accounts, &services.MockLedger{})

	_, err := svc.Verify(context.Background(), uuid.New(), "123456", "203.0.113.9", "Mozilla/5.0")

	assert.ErrorIs(t, err, models.ErrAccountLocked)
}

func TestSecondFactorServiceVerify_NotEnrolled(t *testing.T) {
	accounts := &services.MockAccountStore{
		GetByIDFunc: func(ctx context.Context, id uuid.UUID) (*models.Account, error) {
			return &models.Account{ID: id, Email: "user@example.com"}, nil
		},
	}
	svc, _ := newSecondFactorService(t, accounts, &services.MockLedger{})

	_, err := svc.Verify(context.Background(), uuid.New(), "123456", "203.0.113.9", "Mozilla/5.0")

	assert.ErrorIs(t, err, models.ErrSecondFactorNotEnabled)
}
