package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AlertType identifies which aggregate check produced an alert.
type AlertType string

const (
	AlertTypeSpikeFailures     AlertType = "spike_failures"
	AlertTypeVelocityAttack    AlertType = "velocity_attack"
	AlertTypeGeographicAnomaly AlertType = "geographic_anomaly"
	AlertTypeSustainedAttack   AlertType = "sustained_attack"
)

// AlertSeverity orders info < warning < critical < urgent.
type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "info"
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
	SeverityUrgent   AlertSeverity = "urgent"
)

// Rank returns the ordinal position of the severity for comparisons.
func (s AlertSeverity) Rank() int {
	switch s {
	case SeverityInfo:
		return 0
	case SeverityWarning:
		return 1
	case SeverityCritical:
		return 2
	case SeverityUrgent:
		return 3
	default:
		return -1
	}
}

// AlertStatus tracks the alert lifecycle. Active alerts may transition to
// acknowledged, resolved, or false_positive; resolved and false_positive
// are terminal.
type AlertStatus string

const (
	AlertStatusActive        AlertStatus = "active"
	AlertStatusAcknowledged  AlertStatus = "acknowledged"
	AlertStatusResolved      AlertStatus = "resolved"
	AlertStatusFalsePositive AlertStatus = "false_positive"
)

// TimeWindow is a half-open [Start, End) span constructed once per check
// invocation and passed down, never globally mutated.
type TimeWindow struct {
	Start time.Time
	End   time.Time
}

// NewTimeWindow returns the window ending at end with the given length.
func NewTimeWindow(end time.Time, length time.Duration) TimeWindow {
	return TimeWindow{Start: end.Add(-length), End: end}
}

// Duration returns the window length.
func (w TimeWindow) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// AlertDetails is the closed set of per-type payloads. Each alert type
// carries only the fields that type needs; the shared envelope lives on
// Alert itself.
type AlertDetails interface {
	alertType() AlertType
}

// SpikeFailureDetails is the payload for spike_failures alerts.
type SpikeFailureDetails struct {
	CurrentRate     float64 `json:"current_rate"`
	BaselineRate    float64 `json:"baseline_rate"`
	IncreasePercent float64 `json:"increase_percent"`
	CurrentFailures int     `json:"current_failures"`
}

func (SpikeFailureDetails) alertType() AlertType { return AlertTypeSpikeFailures }

// VelocityAttackDetails is the payload for velocity_attack alerts.
type VelocityAttackDetails struct {
	Origin         string `json:"origin"`
	AttemptCount   int    `json:"attempt_count"`
	TargetAccounts int    `json:"target_accounts"`
}

func (VelocityAttackDetails) alertType() AlertType { return AlertTypeVelocityAttack }

// GeographicAnomalyDetails is the payload for geographic_anomaly alerts.
type GeographicAnomalyDetails struct {
	NovelCountries []string `json:"novel_countries"`
}

func (GeographicAnomalyDetails) alertType() AlertType { return AlertTypeGeographicAnomaly }

// SustainedAttackDetails is the payload for sustained_attack alerts.
type SustainedAttackDetails struct {
	FailureRate  float64 `json:"failure_rate"`
	FailureCount int     `json:"failure_count"`
}

func (SustainedAttackDetails) alertType() AlertType { return AlertTypeSustainedAttack }

// Alert is the shared envelope written by the aggregate monitor. It is
// mutated only through explicit admin lifecycle actions, or by the
// monitor itself flipping NotificationSent.
type Alert struct {
	ID               uuid.UUID     `db:"id"`
	Type             AlertType     `db:"alert_type"`
	Severity         AlertSeverity `db:"severity"`
	Metric           string        `db:"metric"`
	CurrentValue     float64       `db:"current_value"`
	ThresholdValue   float64       `db:"threshold_value"`
	WindowStart      time.Time     `db:"window_start"`
	WindowEnd        time.Time     `db:"window_end"`
	AffectedAccounts int           `db:"affected_accounts"`
	Status           AlertStatus   `db:"status"`
	Details          AlertDetails  `db:"details"`
	AcknowledgedBy   *uuid.UUID    `db:"acknowledged_by"`
	AcknowledgedAt   *time.Time    `db:"acknowledged_at"`
	ResolvedBy       *uuid.UUID    `db:"resolved_by"`
	ResolvedAt       *time.Time    `db:"resolved_at"`
	Resolution       *string       `db:"resolution"`
	NotificationSent bool          `db:"notification_sent"`
	CreatedAt        time.Time     `db:"created_at"`
}

// Window returns the alert's window as a value type.
func (a *Alert) Window() TimeWindow {
	return TimeWindow{Start: a.WindowStart, End: a.WindowEnd}
}

// MarshalDetails serializes the typed payload for JSONB storage.
func MarshalDetails(d AlertDetails) ([]byte, error) {
	if d == nil {
		return nil, nil
	}
	return json.Marshal(d)
}

// UnmarshalDetails restores the typed payload for the given alert type.
func UnmarshalDetails(t AlertType, data []byte) (AlertDetails, error) {
	if len(data) == 0 {
		return nil, nil
	}
	switch t {
	case AlertTypeSpikeFailures:
		var d SpikeFailureDetails
		if err := json.Unmarshal(data, &d); err != nil {
			return nil, err
		}
		return d, nil
	case AlertTypeVelocityAttack:
		var d VelocityAttackDetails
		if err := json.Unmarshal(data, &d); err != nil {
			return nil, err
		}
		return d, nil
	case AlertTypeGeographicAnomaly:
		var d GeographicAnomalyDetails
		if err := json.Unmarshal(data, &d); err != nil {
			return nil, err
		}
		return d, nil
	case AlertTypeSustainedAttack:
		var d SustainedAttackDetails
		if err := json.Unmarshal(data, &d); err != nil {
			return nil, err
		}
		return d, nil
	default:
		return nil, fmt.Errorf("unknown alert type: %s", t)
	}
}
