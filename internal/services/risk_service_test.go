package services_test

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/tmcalister/rampart/internal/geo"
	"github.com/tmcalister/rampart/internal/models"
	"github.com/tmcalister/rampart/internal/services"
)

func newRiskService(ledger *services.MockLedger) *services.RiskService {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	return services.NewRiskService(ledger, testRiskConfig(), logger)
}

func historyOf(attempts ...*models.LoginAttempt) *services.MockLedger {
	return &services.MockLedger{
		GetRecentSuccessesFunc: func(ctx context.Context, accountID uuid.UUID, window models.TimeWindow, limit int) ([]*models.LoginAttempt, error) {
			return attempts, nil
		},
	}
}

func strptr(s string) *string { return &s }

func TestRiskServiceEvaluate_ColdStartNeverAnomalous(t *testing.T) {
	svc := newRiskService(historyOf())

	assessment, err := svc.Evaluate(context.Background(), uuid.New(), time.Now(),
		"curl/8.0", "some-device", &geo.Location{Country: "US"})

	assert.NoError(t, err)
	assert.Zero(t, assessment.Score)
	assert.False(t, assessment.IsAnomalous)
	assert.Empty(t, assessment.Reasons)
}

func TestRiskServiceEvaluate_KnownEverything(t *testing.T) {
	now := time.Now()
	svc := newRiskService(historyOf(&models.LoginAttempt{
		DeviceSignature: "device-1",
		Country:         strptr("US"),
		Region:          strptr("CA"),
		City:            strptr("San Jose"),
		AttemptTime:     now.Add(-24 * time.Hour),
	}))

	assessment, err := svc.Evaluate(context.Background(), uuid.New(), now,
		"Mozilla/5.0", "device-1", &geo.Location{Country: "US", Region: "CA", City: "San Jose"})

	assert.NoError(t, err)
	assert.Zero(t, assessment.Score)
	assert.False(t, assessment.IsAnomalous)
}

func TestRiskServiceEvaluate_NewCountry(t *testing.T) {
	now := time.Now()
	svc := newRiskService(historyOf(&models.LoginAttempt{
		DeviceSignature: "device-1",
		Country:         strptr("US"),
		AttemptTime:     now.Add(-24 * time.Hour),
	}))

	assessment, err := svc.Evaluate(context.Background(), uuid.New(), now,
		"Mozilla/5.0", "device-1", &geo.Location{Country: "BR"})

	assert.NoError(t, err)
	assert.InDelta(t, 0.4, assessment.Score, 1e-9)
	assert.True(t, assessment.IsAnomalous)
	assert.Equal(t, []string{models.AnomalyNewCountry}, assessment.Reasons)
}

func TestRiskServiceEvaluate_NewLocationExcludesNewCountry(t *testing.T) {
	now := time.Now()
	svc := newRiskService(historyOf(&models.LoginAttempt{
		DeviceSignature: "device-1",
		Country:         strptr("US"),
		Region:          strptr("CA"),
		City:            strptr("San Jose"),
		AttemptTime:     now.Add(-24 * time.Hour),
	}))

	// Same country, different city
	assessment, err := svc.Evaluate(context.Background(), uuid.New(), now,
		"Mozilla/5.0", "device-1", &geo.Location{Country: "US", Region: "NY", City: "New York"})

	assert.NoError(t, err)
	assert.InDelta(t, 0.2, assessment.Score, 1e-9)
	assert.Contains(t, assessment.Reasons, models.AnomalyNewLocation)
	assert.NotContains(t, assessment.Reasons, models.AnomalyNewCountry)
	// 0.2 sits below the 0.3 threshold on its own
	assert.False(t, assessment.IsAnomalous)
}

func TestRiskServiceEvaluate_ImpossibleTravel(t *testing.T) {
	now := time.Now()
	svc := newRiskService(historyOf(&models.LoginAttempt{
		DeviceSignature: "device-1",
		Country:         strptr("US"),
		AttemptTime:     now.Add(-30 * time.Minute),
	}))

	assessment, err := svc.Evaluate(context.Background(), uuid.New(), now,
		"Mozilla/5.0", "device-1", &geo.Location{Country: "JP"})

	assert.NoError(t, err)
	// NEW_COUNTRY 0.4 + IMPOSSIBLE_TRAVEL 0.5
	assert.InDelta(t, 0.9, assessment.Score, 1e-9)
	assert.Contains(t, assessment.Reasons, models.AnomalyImpossibleTravel)
	assert.Contains(t, assessment.Reasons, models.AnomalyNewCountry)
}

func TestRiskServiceEvaluate_TravelOutsideWindowNotFlagged(t *testing.T) {
	now := time.Now()
	svc := newRiskService(historyOf(&models.LoginAttempt{
		DeviceSignature: "device-1",
		Country:         strptr("US"),
		AttemptTime:     now.Add(-3 * time.Hour),
	}))

	assessment, err := svc.Evaluate(context.Background(), uuid.New(), now,
		"Mozilla/5.0", "device-1", &geo.Location{Country: "JP"})

	assert.NoError(t, err)
	assert.NotContains(t, assessment.Reasons, models.AnomalyImpossibleTravel)
}

func TestRiskServiceEvaluate_SuspiciousUserAgent(t *testing.T) {
	now := time.Now()
	svc := newRiskService(historyOf(&models.LoginAttempt{
		DeviceSignature: "device-1",
		Country:         strptr("US"),
		AttemptTime:     now.Add(-24 * time.Hour),
	}))

	assessment, err := svc.Evaluate(context.Background(), uuid.New(), now,
		"python-requests/2.31", "device-1", &geo.Location{Country: "US"})

	assert.NoError(t, err)
	assert.InDelta(t, 0.3, assessment.Score, 1e-9)
	assert.True(t, assessment.IsAnomalous)
	assert.Equal(t, []string{models.AnomalySuspiciousUserAgent}, assessment.Reasons)
}

func TestRiskServiceEvaluate_ScoreClampedToOne(t *testing.T) {
	now := time.Now()
	svc := newRiskService(historyOf(&models.LoginAttempt{
		DeviceSignature: "device-1",
		Country:         strptr("US"),
		AttemptTime:     now.Add(-30 * time.Minute),
	}))

	// New country + new device + impossible travel + automated client:
	// 0.4 + 0.3 + 0.5 + 0.3 = 1.5, clamped
	assessment, err := svc.Evaluate(context.Background(), uuid.New(), now,
		"curl/8.0", "device-2", &geo.Location{Country: "JP"})

	assert.NoError(t, err)
	assert.Equal(t, 1.0, assessment.Score)
	assert.True(t, assessment.IsAnomalous)
	assert.Len(t, assessment.Reasons, 4)
}

func TestRiskServiceEvaluate_NoLocationSkipsGeoSignals(t *testing.T) {
	now := time.Now()
	svc := newRiskService(historyOf(&models.LoginAttempt{
		DeviceSignature: "device-1",
		Country:         strptr("US"),
		AttemptTime:     now.Add(-24 * time.Hour),
	}))

	assessment, err := svc.Evaluate(context.Background(), uuid.New(), now,
		"Mozilla/5.0", "device-1", nil)

	assert.NoError(t, err)
	assert.Zero(t, assessment.Score)
	assert.False(t, assessment.IsAnomalous)
}
