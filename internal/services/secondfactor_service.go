package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/tmcalister/rampart/internal/auth"
	"github.com/tmcalister/rampart/internal/models"
	pkglogger "github.com/tmcalister/rampart/pkg/logger"
)

// TOTPAccountStore is the account surface the second-factor flows need
type TOTPAccountStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
	SetSecondFactor(ctx context.Context, id uuid.UUID, encryptedSecret, nonce []byte, now time.Time) error
	TouchSecondFactorVerified(ctx context.Context, id uuid.UUID, now time.Time) error
}

// Enrollment carries the provisioning URL back to the caller once. The
// plaintext secret never leaves this service.
type Enrollment struct {
	ProvisioningURL string
}

// SecondFactorService handles TOTP enrollment and step-up verification.
type SecondFactorService struct {
	accounts TOTPAccountStore
	ledger   AttemptLedger
	totp     *auth.TOTPManager
	audit    *AuditService
	seclog   *pkglogger.SecurityLogger
	logger   *slog.Logger
	// failed step-up attempts enter the ledger so aggregate checks see
	// second-factor brute force, scoped by this retention
	retentionWindow time.Duration
}

// NewSecondFactorService creates a new SecondFactorService
func NewSecondFactorService(
	accounts TOTPAccountStore,
	ledger AttemptLedger,
	totp *auth.TOTPManager,
	audit *AuditService,
	seclog *pkglogger.SecurityLogger,
	logger *slog.Logger,
	retentionWindow time.Duration,
) *SecondFactorService {
	return &SecondFactorService{
		accounts:        accounts,
		ledger:          ledger,
		totp:            totp,
		audit:           audit,
		seclog:          seclog,
		logger:          logger,
		retentionWindow: retentionWindow,
	}
}

// Enroll generates a fresh TOTP secret for the account, stores it
// encrypted, and returns the otpauth provisioning URL for the
// authenticator app.
func (s *SecondFactorService) Enroll(ctx context.Context, accountID uuid.UUID) (*Enrollment, error) {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}

	encrypted, nonce, url, err := s.totp.GenerateSecret(account.Email)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to generate totp secret", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	now := time.Now()
	if err := s.accounts.SetSecondFactor(ctx, accountID, encrypted, nonce, now); err != nil {
		return nil, err
	}

	_ = s.audit.LogSecurityEvent(ctx, models.AuditEventTypeSecondFactor, &accountID,
		"second_factor_enrolled", true, nil, nil, nil)

	s.logger.InfoContext(ctx, "second factor enrolled",
		slog.Any("account_id", accountID))

	return &Enrollment{ProvisioningURL: url}, nil
}

// Verify checks a step-up TOTP code. Failed verifications are appended
// to the attempt ledger so aggregate detection counts them alongside
// password failures; successes update the replay window marker.
func (s *SecondFactorService) Verify(ctx context.Context, accountID uuid.UUID, code, ipAddress, userAgent string) (bool, error) {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return false, err
	}
	// A lockout covers the whole login flow; step-up does not bypass it
	if account.IsLocked(time.Now()) {
		return false, models.ErrAccountLocked
	}
	if !account.SecondFactorEnabled {
		return false, models.ErrSecondFactorNotEnabled
	}

	secret, err := s.totp.DecryptSecret(account.TOTPSecretEncrypted, account.TOTPSecretNonce)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to decrypt totp secret",
			slog.Any("account_id", accountID),
			slog.Any("error", err))
		return false, models.ErrInternalServer
	}

	now := time.Now()
	valid, err := s.totp.ValidateTOTP(secret, code, account.SecondFactorVerifiedAt)
	if err != nil {
		return false, models.ErrInternalServer
	}

	if !valid {
		reason := "SECOND_FACTOR_INVALID"
		attempt := &models.LoginAttempt{
			AccountID:       &account.ID,
			Identifier:      account.Email,
			IPAddress:       ipAddress,
			UserAgent:       userAgent,
			DeviceSignature: auth.DeviceFingerprint(ipAddress, userAgent),
			AttemptTime:     now,
			Success:         false,
			FailureReason:   &reason,
			ExpiresAt:       now.Add(s.retentionWindow),
		}
		if _, err := s.ledger.RecordAttempt(ctx, attempt); err != nil {
			s.logger.ErrorContext(ctx, "failed to record second factor failure",
				slog.Any("error", err))
		}

		s.seclog.LogAuthAttempt(pkglogger.SecurityEvent{
			EventType:     "second_factor_failed",
			AccountID:     accountID.String(),
			IPAddress:     ipAddress,
			UserAgent:     userAgent,
			Success:       false,
			FailureReason: reason,
		})
		return false, nil
	}

	if err := s.accounts.TouchSecondFactorVerified(ctx, accountID, now); err != nil {
		s.logger.WarnContext(ctx, "failed to record second factor verification",
			slog.Any("account_id", accountID),
			slog.Any("error", err))
	}

	_ = s.audit.LogSecurityEvent(ctx, models.AuditEventTypeSecondFactor, &accountID,
		"second_factor_verified", true, nil, &ipAddress, nil)

	return true, nil
}
