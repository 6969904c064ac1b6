package services

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/tmcalister/rampart/internal/auth"
	"github.com/tmcalister/rampart/internal/config"
	"github.com/tmcalister/rampart/internal/models"
	pkglogger "github.com/tmcalister/rampart/pkg/logger"
)

const emergencyCodeHashCost = 14

// EmergencyCodeStore is the persistence surface for emergency codes
type EmergencyCodeStore interface {
	CreateBatch(ctx context.Context, codes []*models.EmergencyCode) error
	GetRedeemable(ctx context.Context, accountID uuid.UUID, now time.Time) ([]*models.EmergencyCode, error)
	MarkUsed(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
	DeleteByAccount(ctx context.Context, accountID uuid.UUID) (int64, error)
}

// SecondFactorStore is the slice of account operations the emergency
// path needs
type SecondFactorStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
	ClearSecondFactor(ctx context.Context, id uuid.UUID, now time.Time) error
}

// IssuedCodes is what an administrator hands to the account holder. The
// plaintext codes appear here and nowhere else.
type IssuedCodes struct {
	Codes     []string
	ExpiresAt time.Time
}

// EmergencyService implements the administrator-driven recovery path
// for accounts locked out of their second factor.
type EmergencyService struct {
	codes    EmergencyCodeStore
	accounts SecondFactorStore
	audit    *AuditService
	notifier Notifier
	seclog   *pkglogger.SecurityLogger
	logger   *slog.Logger
	config   config.EmergencyConfig
}

// NewEmergencyService creates a new EmergencyService
func NewEmergencyService(
	codes EmergencyCodeStore,
	accounts SecondFactorStore,
	audit *AuditService,
	notifier Notifier,
	seclog *pkglogger.SecurityLogger,
	logger *slog.Logger,
	cfg config.EmergencyConfig,
) *EmergencyService {
	return &EmergencyService{
		codes:    codes,
		accounts: accounts,
		audit:    audit,
		notifier: notifier,
		seclog:   seclog,
		logger:   logger,
		config:   cfg,
	}
}

// GenerateCodes issues a fresh batch of single-use codes for the target
// account. The account must have a second factor enrolled. The returned
// plaintext codes are shown once and never persisted; only bcrypt hashes
// reach storage.
func (s *EmergencyService) GenerateCodes(ctx context.Context, accountID, adminID uuid.UUID, reason string) (*IssuedCodes, error) {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !account.SecondFactorEnabled {
		return nil, models.ErrSecondFactorNotEnabled
	}

	plaintexts, err := auth.GenerateEmergencyCodes(s.config.BatchSize)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to generate emergency codes", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	now := time.Now()
	expiresAt := now.Add(s.config.CodeExpiry)

	records := make([]*models.EmergencyCode, 0, len(plaintexts))
	for _, code := range plaintexts {
		hash, err := bcrypt.GenerateFromPassword([]byte(code), emergencyCodeHashCost)
		if err != nil {
			s.logger.ErrorContext(ctx, "failed to hash emergency code", slog.Any("error", err))
			return nil, models.ErrInternalServer
		}
		records = append(records, &models.EmergencyCode{
			ID:        uuid.New(),
			AccountID: accountID,
			CodeHash:  string(hash),
			IssuedBy:  adminID,
			Reason:    reason,
			ExpiresAt: expiresAt,
			CreatedAt: now,
		})
	}

	if err := s.codes.CreateBatch(ctx, records); err != nil {
		return nil, err
	}

	accountRef := accountID.String()
	_ = s.audit.LogAdminAction(ctx, adminID, accountID, "generate_emergency_codes",
		models.AuditResourceTypeEmergencyCode, &accountRef, true, nil,
		models.AuditMetadata{
			"count":      len(records),
			"reason":     reason,
			"expires_at": expiresAt.UTC().Format(time.RFC3339),
		})

	s.seclog.LogAdminAction("emergency_codes_issued", adminID.String(), accountID.String(),
		map[string]string{"count": strconv.Itoa(len(records))})

	// The notification tells the holder codes exist; it never carries them
	vars := map[string]string{
		"expires_at": expiresAt.UTC().Format(time.RFC3339),
	}
	if err := s.notifier.Send(ctx, TemplateEmergencyCodesIssued, account.Email, vars); err != nil {
		s.logger.WarnContext(ctx, "failed to send emergency codes notification",
			slog.Any("account_id", accountID),
			slog.Any("error", err))
	}

	return &IssuedCodes{Codes: plaintexts, ExpiresAt: expiresAt}, nil
}

// VerifyCode redeems an emergency code. The comparison walks every
// redeemable code for the account; redemption itself is a conditional
// update, so two concurrent submissions of the same code cannot both
// succeed. A false return means invalid, expired, or already used; the
// caller gets no distinction between those cases.
func (s *EmergencyService) VerifyCode(ctx context.Context, accountID uuid.UUID, submitted, ipAddress string) (bool, error) {
	normalized := strings.ToUpper(strings.TrimSpace(submitted))
	if normalized == "" {
		return false, nil
	}

	now := time.Now()
	candidates, err := s.codes.GetRedeemable(ctx, accountID, now)
	if err != nil {
		return false, err
	}

	for _, candidate := range candidates {
		if bcrypt.CompareHashAndPassword([]byte(candidate.CodeHash), []byte(normalized)) != nil {
			continue
		}

		redeemed, err := s.codes.MarkUsed(ctx, candidate.ID, now)
		if err != nil {
			return false, err
		}
		if !redeemed {
			// Lost the race to a concurrent redemption of this code
			break
		}

		_ = s.audit.LogSecurityEvent(ctx, models.AuditEventTypeEmergencyAccess, &accountID,
			"emergency_code_redeemed", true, nil, &ipAddress, nil)

		s.logger.InfoContext(ctx, "emergency code redeemed",
			slog.Any("account_id", accountID))
		return true, nil
	}

	reason := "INVALID_OR_EXPIRED"
	_ = s.audit.LogSecurityEvent(ctx, models.AuditEventTypeEmergencyAccess, &accountID,
		"emergency_code_rejected", false, &reason, &ipAddress, nil)

	return false, nil
}

// ResetSecondFactor removes the target account's second factor
// enrollment and invalidates all of its emergency codes. Administrators
// cannot reset their own second factor through this path.
func (s *EmergencyService) ResetSecondFactor(ctx context.Context, accountID, adminID uuid.UUID, reason string) error {
	if accountID == adminID {
		return models.ErrSelfActionForbidden
	}

	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return err
	}
	if !account.SecondFactorEnabled {
		return models.ErrSecondFactorNotEnabled
	}

	now := time.Now()
	if err := s.accounts.ClearSecondFactor(ctx, accountID, now); err != nil {
		return err
	}

	// Codes issued against the old enrollment die with it
	if _, err := s.codes.DeleteByAccount(ctx, accountID); err != nil {
		s.logger.ErrorContext(ctx, "failed to revoke emergency codes during reset",
			slog.Any("account_id", accountID),
			slog.Any("error", err))
	}

	accountRef := accountID.String()
	_ = s.audit.LogAdminAction(ctx, adminID, accountID, "reset_second_factor",
		models.AuditResourceTypeAccount, &accountRef, true, nil,
		models.AuditMetadata{
			"reason":         reason,
			"enabled_before": true,
			"enabled_after":  false,
		})

	s.seclog.LogAdminAction("second_factor_reset", adminID.String(), accountID.String(),
		map[string]string{"reason": reason})

	if err := s.notifier.Send(ctx, TemplateSecondFactorReset, account.Email, nil); err != nil {
		s.logger.WarnContext(ctx, "failed to send second factor reset notification",
			slog.Any("account_id", accountID),
			slog.Any("error", err))
	}

	return nil
}

// RevokeCodes invalidates all outstanding emergency codes for an account
func (s *EmergencyService) RevokeCodes(ctx context.Context, accountID, adminID uuid.UUID) (int64, error) {
	deleted, err := s.codes.DeleteByAccount(ctx, accountID)
	if err != nil {
		return 0, err
	}

	accountRef := accountID.String()
	_ = s.audit.LogAdminAction(ctx, adminID, accountID, "revoke_emergency_codes",
		models.AuditResourceTypeEmergencyCode, &accountRef, true, nil,
		models.AuditMetadata{"revoked": deleted})

	return deleted, nil
}
