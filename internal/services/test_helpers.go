package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tmcalister/rampart/internal/models"
	"github.com/tmcalister/rampart/internal/repositories"
)

// MockAccountStore implements the account store interfaces for testing
type MockAccountStore struct {
	GetByIdentifierFunc           func(ctx context.Context, identifier string) (*models.Account, error)
	GetByIDFunc                   func(ctx context.Context, id uuid.UUID) (*models.Account, error)
	ApplyFailureFunc              func(ctx context.Context, id uuid.UUID, windowStart, now time.Time, captchaThreshold, lockoutThreshold int, lockoutDuration time.Duration) (*repositories.FailureState, error)
	ApplySuccessFunc              func(ctx context.Context, id uuid.UUID, origin, deviceSignature string, now time.Time) error
	UnlockFunc                    func(ctx context.Context, id uuid.UUID, now time.Time) error
	SetSecondFactorFunc           func(ctx context.Context, id uuid.UUID, encryptedSecret, nonce []byte, now time.Time) error
	TouchSecondFactorVerifiedFunc func(ctx context.Context, id uuid.UUID, now time.Time) error
	ClearSecondFactorFunc         func(ctx context.Context, id uuid.UUID, now time.Time) error
}

func (m *MockAccountStore) GetByIdentifier(ctx context.Context, identifier string) (*models.Account, error) {
	if m.GetByIdentifierFunc != nil {
		return m.GetByIdentifierFunc(ctx, identifier)
	}
	return nil, models.ErrNotFound
}

func (m *MockAccountStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockAccountStore) ApplyFailure(ctx context.Context, id uuid.UUID, windowStart, now time.Time, captchaThreshold, lockoutThreshold int, lockoutDuration time.Duration) (*repositories.FailureState, error) {
	if m.ApplyFailureFunc != nil {
		return m.ApplyFailureFunc(ctx, id, windowStart, now, captchaThreshold, lockoutThreshold, lockoutDuration)
	}
	return &repositories.FailureState{FailedAttempts: 1}, nil
}

func (m *MockAccountStore) ApplySuccess(ctx context.Context, id uuid.UUID, origin, deviceSignature string, now time.Time) error {
	if m.ApplySuccessFunc != nil {
		return m.ApplySuccessFunc(ctx, id, origin, deviceSignature, now)
	}
	return nil
}

func (m *MockAccountStore) Unlock(ctx context.Context, id uuid.UUID, now time.Time) error {
	if m.UnlockFunc != nil {
		return m.UnlockFunc(ctx, id, now)
	}
	return nil
}

func (m *MockAccountStore) SetSecondFactor(ctx context.Context, id uuid.UUID, encryptedSecret, nonce []byte, now time.Time) error {
	if m.SetSecondFactorFunc != nil {
		return m.SetSecondFactorFunc(ctx, id, encryptedSecret, nonce, now)
	}
	return nil
}

func (m *MockAccountStore) TouchSecondFactorVerified(ctx context.Context, id uuid.UUID, now time.Time) error {
	if m.TouchSecondFactorVerifiedFunc != nil {
		return m.TouchSecondFactorVerifiedFunc(ctx, id, now)
	}
	return nil
}

func (m *MockAccountStore) ClearSecondFactor(ctx context.Context, id uuid.UUID, now time.Time) error {
	if m.ClearSecondFactorFunc != nil {
		return m.ClearSecondFactorFunc(ctx, id, now)
	}
	return nil
}

// MockLedger implements the ledger interfaces for testing. Recorded
// attempts are retained for assertions.
type MockLedger struct {
	mu       sync.Mutex
	Recorded []*models.LoginAttempt

	RecordAttemptFunc         func(ctx context.Context, attempt *models.LoginAttempt) (uuid.UUID, error)
	GetRecentSuccessesFunc    func(ctx context.Context, accountID uuid.UUID, window models.TimeWindow, limit int) ([]*models.LoginAttempt, error)
	GetWindowStatsFunc        func(ctx context.Context, window models.TimeWindow) (models.WindowStats, error)
	GetOriginActivityFunc     func(ctx context.Context, window models.TimeWindow) ([]models.OriginActivity, error)
	GetCountriesSeenFunc      func(ctx context.Context, window models.TimeWindow) ([]string, error)
	CountAffectedAccountsFunc func(ctx context.Context, window models.TimeWindow) (int, error)
}

func (m *MockLedger) RecordAttempt(ctx context.Context, attempt *models.LoginAttempt) (uuid.UUID, error) {
	if m.RecordAttemptFunc != nil {
		return m.RecordAttemptFunc(ctx, attempt)
	}
	m.mu.Lock()
	m.Recorded = append(m.Recorded, attempt)
	m.mu.Unlock()
	return uuid.New(), nil
}

func (m *MockLedger) GetRecentSuccesses(ctx context.Context, accountID uuid.UUID, window models.TimeWindow, limit int) ([]*models.LoginAttempt, error) {
	if m.GetRecentSuccessesFunc != nil {
		return m.GetRecentSuccessesFunc(ctx, accountID, window, limit)
	}
	return nil, nil
}

func (m *MockLedger) GetWindowStats(ctx context.Context, window models.TimeWindow) (models.WindowStats, error) {
	if m.GetWindowStatsFunc != nil {
		return m.GetWindowStatsFunc(ctx, window)
	}
	return models.WindowStats{}, nil
}

func (m *MockLedger) GetOriginActivity(ctx context.Context, window models.TimeWindow) ([]models.OriginActivity, error) {
	if m.GetOriginActivityFunc != nil {
		return m.GetOriginActivityFunc(ctx, window)
	}
	return nil, nil
}

func (m *MockLedger) GetCountriesSeen(ctx context.Context, window models.TimeWindow) ([]string, error) {
	if m.GetCountriesSeenFunc != nil {
		return m.GetCountriesSeenFunc(ctx, window)
	}
	return nil, nil
}

func (m *MockLedger) CountAffectedAccounts(ctx context.Context, window models.TimeWindow) (int, error) {
	if m.CountAffectedAccountsFunc != nil {
		return m.CountAffectedAccountsFunc(ctx, window)
	}
	return 0, nil
}

// MockAlertStore implements AlertStore for testing
type MockAlertStore struct {
	mu      sync.Mutex
	Created []*models.Alert

	CreateIfNotSuppressedFunc func(ctx context.Context, alert *models.Alert, suppressedSince time.Time) (bool, error)
	GetByIDFunc               func(ctx context.Context, id uuid.UUID) (*models.Alert, error)
	ListActiveFunc            func(ctx context.Context, limit int) ([]*models.Alert, error)
	AcknowledgeFunc           func(ctx context.Context, id, adminID uuid.UUID, now time.Time) error
	ResolveFunc               func(ctx context.Context, id, adminID uuid.UUID, resolution string, now time.Time) error
	MarkFalsePositiveFunc     func(ctx context.Context, id, adminID uuid.UUID, now time.Time) error
	MarkNotificationSentFunc  func(ctx context.Context, id uuid.UUID) error
}

func (m *MockAlertStore) CreateIfNotSuppressed(ctx context.Context, alert *models.Alert, suppressedSince time.Time) (bool, error) {
	if m.CreateIfNotSuppressedFunc != nil {
		return m.CreateIfNotSuppressedFunc(ctx, alert, suppressedSince)
	}
	alert.ID = uuid.New()
	m.mu.Lock()
	m.Created = append(m.Created, alert)
	m.mu.Unlock()
	return true, nil
}

func (m *MockAlertStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Alert, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockAlertStore) ListActive(ctx context.Context, limit int) ([]*models.Alert, error) {
	if m.ListActiveFunc != nil {
		return m.ListActiveFunc(ctx, limit)
	}
	return nil, nil
}

func (m *MockAlertStore) Acknowledge(ctx context.Context, id, adminID uuid.UUID, now time.Time) error {
	if m.AcknowledgeFunc != nil {
		return m.AcknowledgeFunc(ctx, id, adminID, now)
	}
	return nil
}

func (m *MockAlertStore) Resolve(ctx context.Context, id, adminID uuid.UUID, resolution string, now time.Time) error {
	if m.ResolveFunc != nil {
		return m.ResolveFunc(ctx, id, adminID, resolution, now)
	}
	return nil
}

func (m *MockAlertStore) MarkFalsePositive(ctx context.Context, id, adminID uuid.UUID, now time.Time) error {
	if m.MarkFalsePositiveFunc != nil {
		return m.MarkFalsePositiveFunc(ctx, id, adminID, now)
	}
	return nil
}

func (m *MockAlertStore) MarkNotificationSent(ctx context.Context, id uuid.UUID) error {
	if m.MarkNotificationSentFunc != nil {
		return m.MarkNotificationSentFunc(ctx, id)
	}
	return nil
}

// MockEmergencyCodeStore implements EmergencyCodeStore for testing
type MockEmergencyCodeStore struct {
	CreateBatchFunc     func(ctx context.Context, codes []*models.EmergencyCode) error
	GetRedeemableFunc   func(ctx context.Context, accountID uuid.UUID, now time.Time) ([]*models.EmergencyCode, error)
	MarkUsedFunc        func(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
	DeleteByAccountFunc func(ctx context.Context, accountID uuid.UUID) (int64, error)
}

func (m *MockEmergencyCodeStore) CreateBatch(ctx context.Context, codes []*models.EmergencyCode) error {
	if m.CreateBatchFunc != nil {
		return m.CreateBatchFunc(ctx, codes)
	}
	return nil
}

func (m *MockEmergencyCodeStore) GetRedeemable(ctx context.Context, accountID uuid.UUID, now time.Time) ([]*models.EmergencyCode, error) {
	if m.GetRedeemableFunc != nil {
		return m.GetRedeemableFunc(ctx, accountID, now)
	}
	return nil, nil
}

func (m *MockEmergencyCodeStore) MarkUsed(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	if m.MarkUsedFunc != nil {
		return m.MarkUsedFunc(ctx, id, now)
	}
	return true, nil
}

func (m *MockEmergencyCodeStore) DeleteByAccount(ctx context.Context, accountID uuid.UUID) (int64, error) {
	if m.DeleteByAccountFunc != nil {
		return m.DeleteByAccountFunc(ctx, accountID)
	}
	return 0, nil
}

// MockNotifier implements Notifier for testing and records every send
type MockNotifier struct {
	mu    sync.Mutex
	Sends []MockSend

	SendFunc func(ctx context.Context, templateKey, recipient string, variables map[string]string) error
}

// MockSend is one recorded notification
type MockSend struct {
	TemplateKey string
	Recipient   string
	Variables   map[string]string
}

func (m *MockNotifier) Send(ctx context.Context, templateKey, recipient string, variables map[string]string) error {
	m.mu.Lock()
	m.Sends = append(m.Sends, MockSend{TemplateKey: templateKey, Recipient: recipient, Variables: variables})
	m.mu.Unlock()
	if m.SendFunc != nil {
		return m.SendFunc(ctx, templateKey, recipient, variables)
	}
	return nil
}

// MockAuditLogRepository implements repositories.AuditLogRepository for testing
type MockAuditLogRepository struct {
	mu      sync.Mutex
	Entries []*models.AuditLog

	CreateFunc func(ctx context.Context, log *models.AuditLog) (*models.AuditLog, error)
}

func (m *MockAuditLogRepository) Create(ctx context.Context, log *models.AuditLog) (*models.AuditLog, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, log)
	}
	m.mu.Lock()
	m.Entries = append(m.Entries, log)
	m.mu.Unlock()
	return log, nil
}

func (m *MockAuditLogRepository) GetByTargetID(ctx context.Context, targetID uuid.UUID, limit, offset int) ([]*models.AuditLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.AuditLog
	for _, e := range m.Entries {
		if e.TargetID != nil && *e.TargetID == targetID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *MockAuditLogRepository) CountByTargetID(ctx context.Context, targetID uuid.UUID) (int64, error) {
	entries, _ := m.GetByTargetID(ctx, targetID, 0, 0)
	return int64(len(entries)), nil
}
