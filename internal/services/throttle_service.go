package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/tmcalister/rampart/internal/auth"
	"github.com/tmcalister/rampart/internal/config"
	"github.com/tmcalister/rampart/internal/geo"
	"github.com/tmcalister/rampart/internal/models"
	"github.com/tmcalister/rampart/internal/repositories"
	pkglogger "github.com/tmcalister/rampart/pkg/logger"
)

// AccountStore defines the account security-state operations the
// throttle needs
type AccountStore interface {
	GetByIdentifier(ctx context.Context, identifier string) (*models.Account, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
	ApplyFailure(ctx context.Context, id uuid.UUID, windowStart, now time.Time, captchaThreshold, lockoutThreshold int, lockoutDuration time.Duration) (*repositories.FailureState, error)
	ApplySuccess(ctx context.Context, id uuid.UUID, origin, deviceSignature string, now time.Time) error
	Unlock(ctx context.Context, id uuid.UUID, now time.Time) error
}

// AttemptLedger is the append-only sink for attempt records
type AttemptLedger interface {
	RecordAttempt(ctx context.Context, attempt *models.LoginAttempt) (uuid.UUID, error)
}

// PrecheckResult is the decision returned before an attempt is evaluated
type PrecheckResult struct {
	Allowed         bool
	RequiredDelay   time.Duration
	RequiresCaptcha bool
	IsLocked        bool
	LockedUntil     *time.Time
	FailedAttempts  int
}

// RecordResult describes the ledger entry written for a completed attempt
type RecordResult struct {
	AttemptID      uuid.UUID
	IsAnomalous    bool
	AnomalyReasons []string
}

// ThrottleService implements the per-account throttle and lockout state
// machine: Normal -> Delayed -> CaptchaRequired -> Locked, driven by the
// window-scoped failure counter.
type ThrottleService struct {
	accounts AccountStore
	ledger   AttemptLedger
	risk     *RiskService
	audit    *AuditService
	notifier Notifier
	resolver geo.Resolver
	seclog   *pkglogger.SecurityLogger
	logger   *slog.Logger
	config   config.ThrottleConfig
}

// NewThrottleService creates a new ThrottleService
func NewThrottleService(
	accounts AccountStore,
	ledger AttemptLedger,
	risk *RiskService,
	audit *AuditService,
	notifier Notifier,
	resolver geo.Resolver,
	seclog *pkglogger.SecurityLogger,
	logger *slog.Logger,
	cfg config.ThrottleConfig,
) *ThrottleService {
	return &ThrottleService{
		accounts: accounts,
		ledger:   ledger,
		risk:     risk,
		audit:    audit,
		notifier: notifier,
		resolver: resolver,
		seclog:   seclog,
		logger:   logger,
		config:   cfg,
	}
}

// PrecheckLogin decides whether an attempt may proceed and how much
// friction it gets. An unknown identifier is treated as "allowed, no
// friction" so the response gives no account-enumeration signal.
func (s *ThrottleService) PrecheckLogin(ctx context.Context, identifier string) (*PrecheckResult, error) {
	account, err := s.accounts.GetByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return &PrecheckResult{Allowed: true}, nil
		}
		s.logger.ErrorContext(ctx, "failed to load account for precheck", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	now := time.Now()
	n := account.EffectiveFailedAttempts(now, s.config.FailureWindow)

	result := &PrecheckResult{
		FailedAttempts:  n,
		RequiredDelay:   s.DelayForFailures(n),
		RequiresCaptcha: n >= s.config.CaptchaThreshold,
	}

	if account.IsLocked(now) {
		result.IsLocked = true
		result.LockedUntil = account.LockedUntil
		result.Allowed = false
		return result, nil
	}

	result.Allowed = true
	return result, nil
}

// DelayForFailures returns min(base * 2^(n-1), cap) for n failures in
// the current window; zero failures incur no delay.
func (s *ThrottleService) DelayForFailures(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	delay := s.config.BaseDelay
	for i := 1; i < n; i++ {
		delay *= 2
		if delay >= s.config.MaxDelay {
			return s.config.MaxDelay
		}
	}
	if delay > s.config.MaxDelay {
		return s.config.MaxDelay
	}
	return delay
}

// ApplyDelay suspends the calling request for the computed delay. The
// wait is local to this request and bounded by the caller's deadline:
// when the deadline is shorter than the delay, the delay is truncated
// and the attempt proceeds.
func (s *ThrottleService) ApplyDelay(ctx context.Context, delay time.Duration) {
	if delay <= 0 {
		return
	}

	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < delay {
			delay = remaining
		}
	}
	if delay <= 0 {
		return
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// RecordFailure appends the failed attempt to the ledger and advances
// the account's throttle state. A lockout newly crossed here triggers a
// notification to the account holder; a notification failure never
// fails this call.
func (s *ThrottleService) RecordFailure(ctx context.Context, identifier, reason, ipAddress, userAgent string, captchaRequired bool, captchaVerified *bool) (*RecordResult, error) {
	now := time.Now()
	deviceSignature := auth.DeviceFingerprint(ipAddress, userAgent)
	location := s.resolveLocation(ctx, ipAddress)

	var account *models.Account
	acc, err := s.accounts.GetByIdentifier(ctx, identifier)
	if err == nil {
		account = acc
	} else if !errors.Is(err, models.ErrNotFound) {
		s.logger.ErrorContext(ctx, "failed to load account for failure record", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	attempt := &models.LoginAttempt{
		Identifier:      identifier,
		IPAddress:       ipAddress,
		UserAgent:       userAgent,
		DeviceSignature: deviceSignature,
		AttemptTime:     now,
		Success:         false,
		FailureReason:   &reason,
		CaptchaRequired: captchaRequired,
		CaptchaVerified: captchaVerified,
		ExpiresAt:       now.Add(s.config.RetentionWindow),
	}
	applyLocation(attempt, location)

	if account != nil {
		attempt.AccountID = &account.ID

		assessment, err := s.risk.Evaluate(ctx, account.ID, now, userAgent, deviceSignature, location)
		if err != nil {
			// Scoring is advisory on failures; record the attempt untagged
			s.logger.ErrorContext(ctx, "risk evaluation failed", slog.Any("error", err))
		} else {
			attempt.IsAnomalous = assessment.IsAnomalous
			attempt.AnomalyReasons = assessment.Reasons
		}
	}

	attemptID, err := s.ledger.RecordAttempt(ctx, attempt)
	if err != nil {
		return nil, err
	}

	s.seclog.LogAuthAttempt(pkglogger.SecurityEvent{
		EventType:     "login_failed",
		IPAddress:     ipAddress,
		UserAgent:     userAgent,
		Success:       false,
		FailureReason: reason,
	})

	if account != nil {
		windowStart := now.Add(-s.config.FailureWindow)
		state, err := s.accounts.ApplyFailure(ctx, account.ID, windowStart, now,
			s.config.CaptchaThreshold, s.config.LockoutThreshold, s.config.LockoutDuration)
		if err != nil {
			return nil, err
		}

		if state.FailedAttempts == s.config.LockoutThreshold && state.LockedUntil != nil {
			s.onLockout(ctx, account, *state.LockedUntil, ipAddress)
		}
	}

	return &RecordResult{
		AttemptID:      attemptID,
		IsAnomalous:    attempt.IsAnomalous,
		AnomalyReasons: attempt.AnomalyReasons,
	}, nil
}

// RecordSuccess appends the successful attempt, resets the account's
// throttle state, learns the origin/device, and runs the risk scorer.
// A success can still be anomalous; anomalous successes notify the
// account holder but are never denied here.
func (s *ThrottleService) RecordSuccess(ctx context.Context, accountID uuid.UUID, ipAddress, userAgent string) (*RecordResult, error) {
	now := time.Now()
	deviceSignature := auth.DeviceFingerprint(ipAddress, userAgent)
	location := s.resolveLocation(ctx, ipAddress)

	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		s.logger.ErrorContext(ctx, "failed to load account for success record", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	// Score against history before this attempt is folded into it
	assessment, err := s.risk.Evaluate(ctx, account.ID, now, userAgent, deviceSignature, location)
	if err != nil {
		s.logger.ErrorContext(ctx, "risk evaluation failed", slog.Any("error", err))
		assessment = RiskAssessment{}
	}

	attempt := &models.LoginAttempt{
		AccountID:       &account.ID,
		Identifier:      account.Email,
		IPAddress:       ipAddress,
		UserAgent:       userAgent,
		DeviceSignature: deviceSignature,
		AttemptTime:     now,
		Success:         true,
		IsAnomalous:     assessment.IsAnomalous,
		AnomalyReasons:  assessment.Reasons,
		ExpiresAt:       now.Add(s.config.RetentionWindow),
	}
	applyLocation(attempt, location)

	attemptID, err := s.ledger.RecordAttempt(ctx, attempt)
	if err != nil {
		return nil, err
	}

	origin := ipAddress
	if location != nil {
		origin = location.Coarse()
	}
	if err := s.accounts.ApplySuccess(ctx, account.ID, origin, deviceSignature, now); err != nil {
		return nil, err
	}

	s.seclog.LogAuthAttempt(pkglogger.SecurityEvent{
		EventType: "login_success",
		AccountID: account.ID.String(),
		IPAddress: ipAddress,
		UserAgent: userAgent,
		Success:   true,
	})

	if assessment.IsAnomalous {
		vars := map[string]string{
			"origin": origin,
			"time":   now.UTC().Format(time.RFC3339),
		}
		if err := s.notifier.Send(ctx, TemplateNewDeviceLogin, account.Email, vars); err != nil {
			s.logger.WarnContext(ctx, "failed to send anomaly notification",
				slog.Any("account_id", account.ID),
				slog.Any("error", err))
		}

		_ = s.audit.LogSecurityEvent(ctx, models.AuditEventTypeLogin, &account.ID,
			"anomalous_login", true, nil, &ipAddress,
			models.AuditMetadata{"score": assessment.Score, "reasons": assessment.Reasons})
	}

	return &RecordResult{
		AttemptID:      attemptID,
		IsAnomalous:    assessment.IsAnomalous,
		AnomalyReasons: assessment.Reasons,
	}, nil
}

// UnlockAccount is the administrative override: it clears lock, failure,
// and captcha state unconditionally and writes an audit entry.
func (s *ThrottleService) UnlockAccount(ctx context.Context, accountID, adminID uuid.UUID) error {
	now := time.Now()
	if err := s.accounts.Unlock(ctx, accountID, now); err != nil {
		return err
	}

	_ = s.audit.LogAdminAction(ctx, adminID, accountID, "unlock",
		models.AuditResourceTypeAccount, nil, true, nil, nil)

	s.logger.InfoContext(ctx, "account unlocked by administrator",
		slog.Any("account_id", accountID),
		slog.Any("admin_id", adminID))

	return nil
}

// onLockout handles the side effects of a newly tripped lockout
func (s *ThrottleService) onLockout(ctx context.Context, account *models.Account, lockedUntil time.Time, ipAddress string) {
	s.logger.WarnContext(ctx, "account locked out",
		slog.Any("account_id", account.ID),
		slog.Time("locked_until", lockedUntil))

	_ = s.audit.LogSecurityEvent(ctx, models.AuditEventTypeLockout, &account.ID,
		"lockout", true, nil, &ipAddress,
		models.AuditMetadata{"locked_until": lockedUntil.UTC().Format(time.RFC3339)})

	vars := map[string]string{
		"locked_until": lockedUntil.UTC().Format(time.RFC3339),
	}
	if err := s.notifier.Send(ctx, TemplateAccountLocked, account.Email, vars); err != nil {
		s.logger.WarnContext(ctx, "failed to send lockout notification",
			slog.Any("account_id", account.ID),
			slog.Any("error", err))
	}
}

func (s *ThrottleService) resolveLocation(ctx context.Context, ipAddress string) *geo.Location {
	location, err := s.resolver.Resolve(ctx, ipAddress)
	if err != nil {
		// Geolocation is best-effort; proceed without it
		s.logger.WarnContext(ctx, "geolocation lookup failed",
			slog.String("ip_address", ipAddress),
			slog.Any("error", err))
		return nil
	}
	return location
}

func applyLocation(attempt *models.LoginAttempt, location *geo.Location) {
	if location == nil {
		return
	}
	if location.Country != "" {
		attempt.Country = &location.Country
	}
	if location.Region != "" {
		attempt.Region = &location.Region
	}
	if location.City != "" {
		attempt.City = &location.City
	}
}
