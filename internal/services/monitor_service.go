package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/tmcalister/rampart/internal/config"
	"github.com/tmcalister/rampart/internal/models"
)

// MonitorLedger exposes the aggregate queries the monitor runs over the
// attempt ledger
type MonitorLedger interface {
	GetWindowStats(ctx context.Context, window models.TimeWindow) (models.WindowStats, error)
	GetOriginActivity(ctx context.Context, window models.TimeWindow) ([]models.OriginActivity, error)
	GetCountriesSeen(ctx context.Context, window models.TimeWindow) ([]string, error)
	CountAffectedAccounts(ctx context.Context, window models.TimeWindow) (int, error)
}

// AlertStore is the persistence surface for the alert lifecycle
type AlertStore interface {
	CreateIfNotSuppressed(ctx context.Context, alert *models.Alert, suppressedSince time.Time) (bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Alert, error)
	ListActive(ctx context.Context, limit int) ([]*models.Alert, error)
	Acknowledge(ctx context.Context, id, adminID uuid.UUID, now time.Time) error
	Resolve(ctx context.Context, id, adminID uuid.UUID, resolution string, now time.Time) error
	MarkFalsePositive(ctx context.Context, id, adminID uuid.UUID, now time.Time) error
	MarkNotificationSent(ctx context.Context, id uuid.UUID) error
}

// MonitorService runs the population-level detection checks and owns the
// alert lifecycle. Checks read the ledger only; they never touch
// per-account throttle state.
type MonitorService struct {
	ledger   MonitorLedger
	alerts   AlertStore
	audit    *AuditService
	notifier Notifier
	logger   *slog.Logger
	config   config.MonitorConfig
	adminTo  string
}

// NewMonitorService creates a new MonitorService
func NewMonitorService(
	ledger MonitorLedger,
	alerts AlertStore,
	audit *AuditService,
	notifier Notifier,
	logger *slog.Logger,
	cfg config.MonitorConfig,
	adminAddress string,
) *MonitorService {
	return &MonitorService{
		ledger:   ledger,
		alerts:   alerts,
		audit:    audit,
		notifier: notifier,
		logger:   logger,
		config:   cfg,
		adminTo:  adminAddress,
	}
}

// RunAggregateChecks executes all four detection checks against one
// shared reference time. A check that errors is logged and skipped; the
// remaining checks still run.
func (s *MonitorService) RunAggregateChecks(ctx context.Context) {
	now := time.Now()

	checks := []struct {
		name string
		fn   func(context.Context, time.Time) error
	}{
		{"spike_failures", s.checkFailureSpike},
		{"velocity_attack", s.checkVelocity},
		{"geographic_anomaly", s.checkGeographicAnomaly},
		{"sustained_attack", s.checkSustainedAttack},
	}

	for _, check := range checks {
		if err := check.fn(ctx, now); err != nil {
			s.logger.ErrorContext(ctx, "aggregate check failed",
				slog.String("check", check.name),
				slog.Any("error", err))
		}
	}
}

// checkFailureSpike compares the current window's failure rate against
// the trailing baseline. Both rates must be computable: an empty window
// or a zero baseline rate produces no alert.
func (s *MonitorService) checkFailureSpike(ctx context.Context, now time.Time) error {
	current := models.NewTimeWindow(now, s.config.SpikeWindow)
	baseline := models.TimeWindow{
		Start: now.Add(-s.config.SpikeBaselineWindow),
		End:   current.Start,
	}

	currentStats, err := s.ledger.GetWindowStats(ctx, current)
	if err != nil {
		return err
	}
	baselineStats, err := s.ledger.GetWindowStats(ctx, baseline)
	if err != nil {
		return err
	}

	if currentStats.Total == 0 || baselineStats.Total == 0 {
		return nil
	}
	currentRate := currentStats.FailureRate()
	baselineRate := baselineStats.FailureRate()
	if baselineRate == 0 {
		return nil
	}

	increase := (currentRate - baselineRate) / baselineRate * 100
	if increase < s.config.SpikeIncreasePercent {
		return nil
	}

	severity := models.SeverityWarning
	if increase >= s.config.SpikeCriticalPercent {
		severity = models.SeverityCritical
	}

	return s.raiseAlert(ctx, now, &models.Alert{
		Type:           models.AlertTypeSpikeFailures,
		Severity:       severity,
		Metric:         "failure_rate_increase_percent",
		CurrentValue:   increase,
		ThresholdValue: s.config.SpikeIncreasePercent,
		WindowStart:    current.Start,
		WindowEnd:      current.End,
		Details: models.SpikeFailureDetails{
			CurrentRate:     currentRate,
			BaselineRate:    baselineRate,
			IncreasePercent: increase,
			CurrentFailures: currentStats.Failures,
		},
	})
}

// checkVelocity flags any single origin whose attempt volume in the
// velocity window exceeds the per-minute budget.
func (s *MonitorService) checkVelocity(ctx context.Context, now time.Time) error {
	window := models.NewTimeWindow(now, s.config.VelocityWindow)
	minutes := int(s.config.VelocityWindow / time.Minute)
	threshold := s.config.VelocityPerMinute * minutes

	activity, err := s.ledger.GetOriginActivity(ctx, window)
	if err != nil {
		return err
	}

	for _, origin := range activity {
		if origin.AttemptCount < threshold {
			continue
		}
		if err := s.raiseAlert(ctx, now, &models.Alert{
			Type:           models.AlertTypeVelocityAttack,
			Severity:       models.SeverityCritical,
			Metric:         "attempts_per_origin",
			CurrentValue:   float64(origin.AttemptCount),
			ThresholdValue: float64(threshold),
			WindowStart:    window.Start,
			WindowEnd:      window.End,
			Details: models.VelocityAttackDetails{
				Origin:         origin.IPAddress,
				AttemptCount:   origin.AttemptCount,
				TargetAccounts: origin.AccountCount,
			},
		}); err != nil {
			return err
		}
	}
	return nil
}

// checkGeographicAnomaly counts countries active now that were absent
// from the trailing baseline window.
func (s *MonitorService) checkGeographicAnomaly(ctx context.Context, now time.Time) error {
	current := models.NewTimeWindow(now, s.config.GeoWindow)
	baseline := models.TimeWindow{
		Start: now.Add(-s.config.GeoBaselineWindow),
		End:   current.Start,
	}

	currentCountries, err := s.ledger.GetCountriesSeen(ctx, current)
	if err != nil {
		return err
	}
	baselineCountries, err := s.ledger.GetCountriesSeen(ctx, baseline)
	if err != nil {
		return err
	}

	known := make(map[string]struct{}, len(baselineCountries))
	for _, c := range baselineCountries {
		known[c] = struct{}{}
	}

	var novel []string
	for _, c := range currentCountries {
		if _, ok := known[c]; !ok {
			novel = append(novel, c)
		}
	}

	if len(novel) < s.config.GeoNovelCountries {
		return nil
	}

	return s.raiseAlert(ctx, now, &models.Alert{
		Type:           models.AlertTypeGeographicAnomaly,
		Severity:       models.SeverityWarning,
		Metric:         "novel_countries",
		CurrentValue:   float64(len(novel)),
		ThresholdValue: float64(s.config.GeoNovelCountries),
		WindowStart:    current.Start,
		WindowEnd:      current.End,
		Details: models.GeographicAnomalyDetails{
			NovelCountries: novel,
		},
	})
}

// checkSustainedAttack fires when the failure rate and absolute failure
// count both exceed their thresholds over the sustained window.
func (s *MonitorService) checkSustainedAttack(ctx context.Context, now time.Time) error {
	window := models.NewTimeWindow(now, s.config.SustainedWindow)

	stats, err := s.ledger.GetWindowStats(ctx, window)
	if err != nil {
		return err
	}

	rate := stats.FailureRate()
	if rate <= s.config.SustainedFailureRate || stats.Failures <= s.config.SustainedFailureCount {
		return nil
	}

	return s.raiseAlert(ctx, now, &models.Alert{
		Type:           models.AlertTypeSustainedAttack,
		Severity:       models.SeverityUrgent,
		Metric:         "sustained_failure_rate",
		CurrentValue:   rate,
		ThresholdValue: s.config.SustainedFailureRate,
		WindowStart:    window.Start,
		WindowEnd:      window.End,
		Details: models.SustainedAttackDetails{
			FailureRate:  rate,
			FailureCount: stats.Failures,
		},
	})
}

// raiseAlert persists the alert unless an active alert of the same type
// already exists inside the suppression window. The store enforces the
// one-active-alert-per-type constraint, so concurrent check runs cannot
// double-alert. Admin notification failures are logged and swallowed.
func (s *MonitorService) raiseAlert(ctx context.Context, now time.Time, alert *models.Alert) error {
	affected, err := s.ledger.CountAffectedAccounts(ctx, alert.Window())
	if err != nil {
		return err
	}
	alert.AffectedAccounts = affected
	alert.Status = models.AlertStatusActive
	alert.CreatedAt = now

	created, err := s.alerts.CreateIfNotSuppressed(ctx, alert, now.Add(-s.config.SuppressionWindow))
	if err != nil {
		return err
	}
	if !created {
		s.logger.DebugContext(ctx, "alert suppressed",
			slog.String("alert_type", string(alert.Type)))
		return nil
	}

	s.logger.WarnContext(ctx, "security alert raised",
		slog.Any("alert_id", alert.ID),
		slog.String("alert_type", string(alert.Type)),
		slog.String("severity", string(alert.Severity)),
		slog.Float64("current_value", alert.CurrentValue),
		slog.Int("affected_accounts", alert.AffectedAccounts))

	if s.adminTo == "" {
		return nil
	}

	vars := map[string]string{
		"alert_type":        string(alert.Type),
		"severity":          string(alert.Severity),
		"metric":            alert.Metric,
		"current_value":     fmt.Sprintf("%.2f", alert.CurrentValue),
		"threshold_value":   fmt.Sprintf("%.2f", alert.ThresholdValue),
		"affected_accounts": fmt.Sprintf("%d", alert.AffectedAccounts),
	}
	if err := s.notifier.Send(ctx, TemplateSecurityAlert, s.adminTo, vars); err != nil {
		s.logger.WarnContext(ctx, "failed to send alert notification",
			slog.Any("alert_id", alert.ID),
			slog.Any("error", err))
		return nil
	}

	if err := s.alerts.MarkNotificationSent(ctx, alert.ID); err != nil {
		s.logger.WarnContext(ctx, "failed to mark alert notification sent",
			slog.Any("alert_id", alert.ID),
			slog.Any("error", err))
	}
	return nil
}

// GetAlert returns a single alert by id
func (s *MonitorService) GetAlert(ctx context.Context, id uuid.UUID) (*models.Alert, error) {
	return s.alerts.GetByID(ctx, id)
}

// ListActiveAlerts returns active alerts, newest first
func (s *MonitorService) ListActiveAlerts(ctx context.Context, limit int) ([]*models.Alert, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.alerts.ListActive(ctx, limit)
}

// AcknowledgeAlert moves an active alert to acknowledged. Only active
// alerts may be acknowledged.
func (s *MonitorService) AcknowledgeAlert(ctx context.Context, id, adminID uuid.UUID) error {
	if err := s.alerts.Acknowledge(ctx, id, adminID, time.Now()); err != nil {
		return err
	}
	alertID := id.String()
	_ = s.audit.LogAdminAction(ctx, adminID, uuid.Nil, "acknowledge_alert",
		models.AuditResourceTypeAlert, &alertID, true, nil, nil)
	return nil
}

// ResolveAlert moves an active or acknowledged alert to its terminal
// resolved state with an operator-supplied resolution note.
func (s *MonitorService) ResolveAlert(ctx context.Context, id, adminID uuid.UUID, resolution string) error {
	if resolution == "" {
		return models.ErrBadRequest
	}
	if err := s.alerts.Resolve(ctx, id, adminID, resolution, time.Now()); err != nil {
		return err
	}
	alertID := id.String()
	_ = s.audit.LogAdminAction(ctx, adminID, uuid.Nil, "resolve_alert",
		models.AuditResourceTypeAlert, &alertID, true, nil,
		models.AuditMetadata{"resolution": resolution})
	return nil
}

// MarkAlertFalsePositive moves an active or acknowledged alert to its
// terminal false_positive state.
func (s *MonitorService) MarkAlertFalsePositive(ctx context.Context, id, adminID uuid.UUID) error {
	if err := s.alerts.MarkFalsePositive(ctx, id, adminID, time.Now()); err != nil {
		return err
	}
	alertID := id.String()
	_ = s.audit.LogAdminAction(ctx, adminID, uuid.Nil, "mark_alert_false_positive",
		models.AuditResourceTypeAlert, &alertID, true, nil, nil)
	return nil
}
