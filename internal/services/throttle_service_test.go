package services_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/tmcalister/rampart/internal/config"
	"github.com/tmcalister/rampart/internal/geo"
	"github.com/tmcalister/rampart/internal/models"
	"github.com/tmcalister/rampart/internal/repositories"
	"github.com/tmcalister/rampart/internal/services"
	pkglogger "github.com/tmcalister/rampart/pkg/logger"
)

func testThrottleConfig() config.ThrottleConfig {
	return config.ThrottleConfig{
		FailureWindow:    15 * time.Minute,
		BaseDelay:        1 * time.Second,
		MaxDelay:         16 * time.Second,
		CaptchaThreshold: 3,
		LockoutThreshold: 10,
		LockoutDuration:  30 * time.Minute,
		RetentionWindow:  90 * 24 * time.Hour,
	}
}

func testRiskConfig() config.RiskConfig {
	return config.RiskConfig{
		HistoryLimit:       20,
		HistoryWindow:      90 * 24 * time.Hour,
		TravelWindow:       2 * time.Hour,
		AnomalyThreshold:   0.3,
		WeightNewCountry:   0.4,
		WeightNewLocation:  0.2,
		WeightNewDevice:    0.3,
		WeightTravel:       0.5,
		WeightSuspiciousUA: 0.3,
	}
}

func newThrottleService(
	accounts *services.MockAccountStore,
	ledger *services.MockLedger,
	notifier *services.MockNotifier,
	auditRepo *services.MockAuditLogRepository,
) *services.ThrottleService {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	risk := services.NewRiskService(ledger, testRiskConfig(), logger)
	audit := services.NewAuditService(auditRepo, logger)
	seclog := pkglogger.NewSecurityLogger(logger)

	return services.NewThrottleService(
		accounts, ledger, risk, audit, notifier,
		geo.NoopResolver{}, seclog, logger, testThrottleConfig(),
	)
}

func TestThrottleServiceDelayForFailures(t *testing.T) {
	svc := newThrottleService(&services.MockAccountStore{}, &services.MockLedger{}, &services.MockNotifier{}, &services.MockAuditLogRepository{})

	cases := []struct {
		failures int
		expected time.Duration
	}{
		{0, 0},
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 16 * time.Second},
		{6, 16 * time.Second},
		{50, 16 * time.Second},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.expected, svc.DelayForFailures(tc.failures), "failures=%d", tc.failures)
	}
}

func TestThrottleServicePrecheck_UnknownIdentifierAllowedWithoutFriction(t *testing.T) {
	accounts := &services.MockAccountStore{
		GetByIdentifierFunc: func(ctx context.Context, identifier string) (*models.Account, error) {
			return nil, models.ErrNotFound
		},
	}
	svc := newThrottleService(accounts, &services.MockLedger{}, &services.MockNotifier{}, &services.MockAuditLogRepository{})

	result, err := svc.PrecheckLogin(context.Background(), "ghost@example.com")

	assert.NoError(t, err)
	assert.True(t, result.Allowed)
	assert.Zero(t, result.RequiredDelay)
	assert.False(t, result.RequiresCaptcha)
	assert.False(t, result.IsLocked)
}

func TestThrottleServicePrecheck_CaptchaAtThreshold(t *testing.T) {
	lastFailed := time.Now().Add(-1 * time.Minute)
	accounts := &services.MockAccountStore{
		GetByIdentifierFunc: func(ctx context.Context, identifier string) (*models.Account, error) {
			return &models.Account{
				ID:                  uuid.New(),
				Email:               identifier,
				FailedAttemptCount:  3,
				LastFailedAttemptAt: &lastFailed,
			}, nil
		},
	}
	svc := newThrottleService(accounts, &services.MockLedger{}, &services.MockNotifier{}, &services.MockAuditLogRepository{})

	result, err := svc.PrecheckLogin(context.Background(), "user@example.com")

	assert.NoError(t, err)
	assert.True(t, result.Allowed)
	assert.True(t, result.RequiresCaptcha)
	assert.Equal(t, 4*time.Second, result.RequiredDelay)
}

func TestThrottleServicePrecheck_StaleWindowResetsFriction(t *testing.T) {
	lastFailed := time.Now().Add(-16 * time.Minute)
	accounts := &services.MockAccountStore{
		GetByIdentifierFunc: func(ctx context.Context, identifier string) (*models.Account, error) {
			return &models.Account{
				ID:                  uuid.New(),
				Email:               identifier,
				FailedAttemptCount:  9,
				LastFailedAttemptAt: &lastFailed,
			}, nil
		},
	}
	svc := newThrottleService(accounts, &services.MockLedger{}, &services.MockNotifier{}, &services.MockAuditLogRepository{})

	result, err := svc.PrecheckLogin(context.Background(), "user@example.com")

	assert.NoError(t, err)
	assert.True(t, result.Allowed)
	assert.False(t, result.RequiresCaptcha)
	assert.Zero(t, result.RequiredDelay)
	assert.Zero(t, result.FailedAttempts)
}

func TestThrottleServicePrecheck_LockedAccountDenied(t *testing.T) {
	lockedUntil := time.Now().Add(20 * time.Minute)
	lastFailed := time.Now().Add(-1 * time.Minute)
	accounts := &services.MockAccountStore{
		GetByIdentifierFunc: func(ctx context.Context, identifier string) (*models.Account, error) {
			return &models.Account{
				ID:                  uuid.New(),
				Email:               identifier,
				FailedAttemptCount:  10,
				LastFailedAttemptAt: &lastFailed,
				LockedUntil:         &lockedUntil,
			}, nil
		},
	}
	svc := newThrottleService(accounts, &services.MockLedger{}, &services.MockNotifier{}, &services.MockAuditLogRepository{})

	result, err := svc.PrecheckLogin(context.Background(), "user@example.com")

	assert.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.True(t, result.IsLocked)
	assert.NotNil(t, result.LockedUntil)
	assert.Equal(t, lockedUntil.Unix(), result.LockedUntil.Unix())
}

func TestThrottleServicePrecheck_ExpiredLockAllowsLogin(t *testing.T) {
	lockedUntil := time.Now().Add(-1 * time.Minute)
	lastFailed := time.Now().Add(-20 * time.Minute)
	accounts := &services.MockAccountStore{
		GetByIdentifierFunc: func(ctx context.Context, identifier string) (*models.Account, error) {
			return &models.Account{
				ID:                  uuid.New(),
				Email:               identifier,
				FailedAttemptCount:  10,
				LastFailedAttemptAt: &lastFailed,
				LockedUntil:         &lockedUntil,
			}, nil
		},
	}
	svc := newThrottleService(accounts, &services.MockLedger{}, &services.MockNotifier{}, &services.MockAuditLogRepository{})

	result, err := svc.PrecheckLogin(context.Background(), "user@example.com")

	assert.NoError(t, err)
	assert.True(t, result.Allowed)
	assert.False(t, result.IsLocked)
}

func TestThrottleServiceApplyDelay_TruncatedByDeadline(t *testing.T) {
	svc := newThrottleService(&services.MockAccountStore{}, &services.MockLedger{}, &services.MockNotifier{}, &services.MockAuditLogRepository{})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	svc.ApplyDelay(ctx, 10*time.Second)
	elapsed := time.Since(start)

	assert.Less(t, elapsed, 1*time.Second)
}

func TestThrottleServiceRecordFailure_UnknownIdentifierStillRecorded(t *testing.T) {
	applyCalled := false
	accounts := &services.MockAccountStore{
		GetByIdentifierFunc: func(ctx context.Context, identifier string) (*models.Account, error) {
			return nil, models.ErrNotFound
		},
		ApplyFailureFunc: func(ctx context.Context, id uuid.UUID, windowStart, now time.Time, captchaThreshold, lockoutThreshold int, lockoutDuration time.Duration) (*repositories.FailureState, error) {
			applyCalled = true
			return &repositories.FailureState{}, nil
		},
	}
	ledger := &services.MockLedger{}
	svc := newThrottleService(accounts, ledger, &services.MockNotifier{}, &services.MockAuditLogRepository{})

	result, err := svc.RecordFailure(context.Background(), "ghost@example.com", "BAD_PASSWORD", "203.0.113.9", "Mozilla/5.0", false, nil)

	assert.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, result.AttemptID)
	assert.False(t, applyCalled)
	assert.Len(t, ledger.Recorded, 1)
	assert.Nil(t, ledger.Recorded[0].AccountID)
	assert.False(t, ledger.Recorded[0].Success)
}

func TestThrottleServiceRecordFailure_LockoutNotifiesOnce(t *testing.T) {
	account := &models.Account{ID: uuid.New(), Email: "user@example.com"}
	lockedUntil := time.Now().Add(30 * time.Minute)
	attempts := 9
	accounts := &services.MockAccountStore{
		GetByIdentifierFunc: func(ctx context.Context, identifier string) (*models.Account, error) {
			return account, nil
		},
		ApplyFailureFunc: func(ctx context.Context, id uuid.UUID, windowStart, now time.Time, captchaThreshold, lockoutThreshold int, lockoutDuration time.Duration) (*repositories.FailureState, error) {
			attempts++
			state := &repositories.FailureState{FailedAttempts: attempts}
			if attempts >= lockoutThreshold {
				state.LockedUntil = &lockedUntil
			}
			return state, nil
		},
	}
	notifier := &services.MockNotifier{}
	svc := newThrottleService(accounts, &services.MockLedger{}, notifier, &services.MockAuditLogRepository{})

	// 10th failure trips the lock
	_, err := svc.RecordFailure(context.Background(), account.Email, "BAD_PASSWORD", "203.0.113.9", "Mozilla/5.0", true, nil)
	assert.NoError(t, err)
	assert.Len(t, notifier.Sends, 1)
	assert.Equal(t, services.TemplateAccountLocked, notifier.Sends[0].TemplateKey)
	assert.Equal(t, account.Email, notifier.Sends[0].Recipient)

	// 11th failure extends the lock but must not re-notify
	_, err = svc.RecordFailure(context.Background(), account.Email, "BAD_PASSWORD", "203.0.113.9", "Mozilla/5.0", true, nil)
	assert.NoError(t, err)
	assert.Len(t, notifier.Sends, 1)
}

func TestThrottleServiceRecordFailure_NotificationFailureSwallowed(t *testing.T) {
	account := &models.Account{ID: uuid.New(), Email: "user@example.com"}
	lockedUntil := time.Now().Add(30 * time.Minute)
	accounts := &services.MockAccountStore{
		GetByIdentifierFunc: func(ctx context.Context, identifier string) (*models.Account, error) {
			return account, nil
		},
		ApplyFailureFunc: func(ctx context.Context, id uuid.UUID, windowStart, now time.Time, captchaThreshold, lockoutThreshold int, lockoutDuration time.Duration) (*repositories.FailureState, error) {
			return &repositories.FailureState{FailedAttempts: 10, LockedUntil: &lockedUntil}, nil
		},
	}
	notifier := &services.MockNotifier{
		SendFunc: func(ctx context.Context, templateKey, recipient string, variables map[string]string) error {
			return errors.New("ses unavailable")
		},
	}
	svc := newThrottleService(accounts, &services.MockLedger{}, notifier, &services.MockAuditLogRepository{})

	result, err := svc.RecordFailure(context.Background(), account.Email, "BAD_PASSWORD", "203.0.113.9", "Mozilla/5.0", true, nil)

	assert.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, result.AttemptID)
}

func TestThrottleServiceRecordSuccess_ResetsStateAndLearnsDevice(t *testing.T) {
	account := &models.Account{ID: uuid.New(), Email: "user@example.com"}
	var learnedOrigin, learnedDevice string
	accounts := &services.MockAccountStore{
		GetByIDFunc: func(ctx context.Context, id uuid.UUID) (*models.Account, error) {
			return account, nil
		},
		ApplySuccessFunc: func(ctx context.Context, id uuid.UUID, origin, deviceSignature string, now time.Time) error {
			learnedOrigin = origin
			learnedDevice = deviceSignature
			return nil
		},
	}
	ledger := &services.MockLedger{}
	svc := newThrottleService(accounts, ledger, &services.MockNotifier{}, &services.MockAuditLogRepository{})

	result, err := svc.RecordSuccess(context.Background(), account.ID, "203.0.113.9", "Mozilla/5.0")

	assert.NoError(t, err)
	// Empty history means a cold-start account; never anomalous
	assert.False(t, result.IsAnomalous)
	assert.Empty(t, result.AnomalyReasons)
	assert.Equal(t, "203.0.113.9", learnedOrigin)
	assert.NotEmpty(t, learnedDevice)
	assert.Len(t, ledger.Recorded, 1)
	assert.True(t, ledger.Recorded[0].Success)
}

func TestThrottleServiceRecordSuccess_AnomalousLoginNotifies(t *testing.T) {
	account := &models.Account{ID: uuid.New(), Email: "user@example.com"}
	history := []*models.LoginAttempt{
		{
			AccountID:       &account.ID,
			DeviceSignature: "known-device",
			AttemptTime:     time.Now().Add(-24 * time.Hour),
			Success:         true,
		},
	}
	accounts := &services.MockAccountStore{
		GetByIDFunc: func(ctx context.Context, id uuid.UUID) (*models.Account, error) {
			return account, nil
		},
	}
	ledger := &services.MockLedger{
		GetRecentSuccessesFunc: func(ctx context.Context, accountID uuid.UUID, window models.TimeWindow, limit int) ([]*models.LoginAttempt, error) {
			return history, nil
		},
	}
	notifier := &services.MockNotifier{}
	svc := newThrottleService(accounts, ledger, notifier, &services.MockAuditLogRepository{})

	// Unknown device signature scores 0.3, at the anomaly threshold
	result, err := svc.RecordSuccess(context.Background(), account.ID, "198.51.100.7", "Mozilla/5.0")

	assert.NoError(t, err)
	assert.True(t, result.IsAnomalous)
	assert.Contains(t, result.AnomalyReasons, models.AnomalyNewDevice)
	assert.Len(t, notifier.Sends, 1)
	assert.Equal(t, services.TemplateNewDeviceLogin, notifier.Sends[0].TemplateKey)
}

func TestThrottleServiceUnlockAccount_WritesAudit(t *testing.T) {
	unlocked := false
	accounts := &services.MockAccountStore{
		UnlockFunc: func(ctx context.Context, id uuid.UUID, now time.Time) error {
			unlocked = true
			return nil
		},
	}
	auditRepo := &services.MockAuditLogRepository{}
	svc := newThrottleService(accounts, &services.MockLedger{}, &services.MockNotifier{}, auditRepo)

	accountID := uuid.New()
	adminID := uuid.New()
	err := svc.UnlockAccount(context.Background(), accountID, adminID)

	assert.NoError(t, err)
	assert.True(t, unlocked)
	assert.Len(t, auditRepo.Entries, 1)
	assert.Equal(t, "unlock", auditRepo.Entries[0].Action)
	assert.Equal(t, adminID, *auditRepo.Entries[0].ActorID)
}
