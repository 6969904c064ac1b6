package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/tmcalister/rampart/internal/auth"
	"github.com/tmcalister/rampart/internal/config"
	"github.com/tmcalister/rampart/internal/geo"
	"github.com/tmcalister/rampart/internal/models"
)

// RiskLedger is the slice of the attempt ledger the scorer reads
type RiskLedger interface {
	GetRecentSuccesses(ctx context.Context, accountID uuid.UUID, window models.TimeWindow, limit int) ([]*models.LoginAttempt, error)
}

// RiskAssessment is the scorer's output for one attempt
type RiskAssessment struct {
	Score       float64
	Reasons     []string
	IsAnomalous bool
}

// RiskService scores authentication attempts against the account's
// recent successful-login history. Each signal contributes a fixed
// weight; the accumulated score is clamped to [0,1].
type RiskService struct {
	ledger RiskLedger
	logger *slog.Logger
	config config.RiskConfig
}

// NewRiskService creates a new RiskService
func NewRiskService(ledger RiskLedger, cfg config.RiskConfig, logger *slog.Logger) *RiskService {
	return &RiskService{
		ledger: ledger,
		logger: logger,
		config: cfg,
	}
}

// Evaluate scores the attempt described by (attemptTime, userAgent,
// deviceSignature, location) for the given account. An account with no
// successful logins in the history window is never anomalous: a
// brand-new account has no baseline to deviate from.
func (s *RiskService) Evaluate(ctx context.Context, accountID uuid.UUID, attemptTime time.Time, userAgent, deviceSignature string, location *geo.Location) (RiskAssessment, error) {
	window := models.TimeWindow{Start: attemptTime.Add(-s.config.HistoryWindow), End: attemptTime}
	history, err := s.ledger.GetRecentSuccesses(ctx, accountID, window, s.config.HistoryLimit)
	if err != nil {
		return RiskAssessment{}, err
	}

	if len(history) == 0 {
		return RiskAssessment{}, nil
	}

	var score float64
	var reasons []string

	if location != nil && location.Country != "" {
		if !s.countrySeen(history, location.Country) {
			score += s.config.WeightNewCountry
			reasons = append(reasons, models.AnomalyNewCountry)
		} else if !s.locationSeen(history, location) {
			// Same country, unseen finer-grained location. Mutually
			// exclusive with NEW_COUNTRY; the country signal dominates.
			score += s.config.WeightNewLocation
			reasons = append(reasons, models.AnomalyNewLocation)
		}
	}

	if deviceSignature != "" && !s.deviceSeen(history, deviceSignature) {
		score += s.config.WeightNewDevice
		reasons = append(reasons, models.AnomalyNewDevice)
	}

	if location != nil && location.Country != "" {
		prev := history[0]
		if prev.Country != nil && *prev.Country != location.Country &&
			attemptTime.Sub(prev.AttemptTime) < s.config.TravelWindow {
			score += s.config.WeightTravel
			reasons = append(reasons, models.AnomalyImpossibleTravel)
		}
	}

	if auth.IsAutomatedClient(userAgent) {
		score += s.config.WeightSuspiciousUA
		reasons = append(reasons, models.AnomalySuspiciousUserAgent)
	}

	if score > 1 {
		score = 1
	}

	assessment := RiskAssessment{
		Score:       score,
		Reasons:     reasons,
		IsAnomalous: score >= s.config.AnomalyThreshold,
	}

	if assessment.IsAnomalous {
		s.logger.WarnContext(ctx, "anomalous authentication attempt",
			slog.Any("account_id", accountID),
			slog.Float64("score", score),
			slog.Any("reasons", reasons))
	}

	return assessment, nil
}

func (s *RiskService) countrySeen(history []*models.LoginAttempt, country string) bool {
	for _, a := range history {
		if a.Country != nil && *a.Country == country {
			return true
		}
	}
	return false
}

func (s *RiskService) locationSeen(history []*models.LoginAttempt, location *geo.Location) bool {
	coarse := location.Coarse()
	for _, a := range history {
		if a.Country == nil {
			continue
		}
		seen := geo.Location{Country: *a.Country}
		if a.Region != nil {
			seen.Region = *a.Region
		}
		if a.City != nil {
			seen.City = *a.City
		}
		if seen.Coarse() == coarse {
			return true
		}
	}
	return false
}

func (s *RiskService) deviceSeen(history []*models.LoginAttempt, signature string) bool {
	for _, a := range history {
		if a.DeviceSignature == signature {
			return true
		}
	}
	return false
}
