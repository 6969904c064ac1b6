package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tmcalister/rampart/internal/database"
	"github.com/tmcalister/rampart/internal/models"
)

const alertColumns = `
	id, alert_type, severity, metric, current_value, threshold_value,
	window_start, window_end, affected_accounts, status, details,
	acknowledged_by, acknowledged_at, resolved_by, resolved_at, resolution,
	notification_sent, created_at`

// AlertRepository handles database operations for security alerts
type AlertRepository struct {
	db *database.DB
}

// NewAlertRepository creates a new AlertRepository
func NewAlertRepository(db *database.DB) *AlertRepository {
	return &AlertRepository{db: db}
}

func scanAlert(scanner rowScanner) (*models.Alert, error) {
	a := &models.Alert{}
	var details []byte
	err := scanner.Scan(
		&a.ID,
		&a.Type,
		&a.Severity,
		&a.Metric,
		&a.CurrentValue,
		&a.ThresholdValue,
		&a.WindowStart,
		&a.WindowEnd,
		&a.AffectedAccounts,
		&a.Status,
		&details,
		&a.AcknowledgedBy,
		&a.AcknowledgedAt,
		&a.ResolvedBy,
		&a.ResolvedAt,
		&a.Resolution,
		&a.NotificationSent,
		&a.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	a.Details, err = models.UnmarshalDetails(a.Type, details)
	if err != nil {
		return nil, fmt.Errorf("failed to decode alert details: %w", err)
	}

	return a, nil
}

// CreateIfNotSuppressed inserts an alert unless an active alert of the
// same type already exists within the suppression window. The NOT
// EXISTS subquery is only a fast path: under READ COMMITTED two
// concurrent statements can each miss the other's uncommitted row, so
// the unique partial index on (alert_type) WHERE status = 'active' is
// what actually breaks the tie. The loser's unique violation is
// reported as suppression. Returns false when suppressed.
func (r *AlertRepository) CreateIfNotSuppressed(ctx context.Context, alert *models.Alert, suppressedSince time.Time) (bool, error) {
	details, err := models.MarshalDetails(alert.Details)
	if err != nil {
		return false, fmt.Errorf("failed to encode alert details: %w", err)
	}

	query := `
		INSERT INTO security_alerts (
			id, alert_type, severity, metric, current_value, threshold_value,
			window_start, window_end, affected_accounts, status, details,
			notification_sent, created_at
		)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9, 'active', $10, false, $11
		WHERE NOT EXISTS (
			SELECT 1 FROM security_alerts
			WHERE alert_type = $2 AND status = 'active' AND created_at > $12
		)
		RETURNING id
	`

	id := uuid.New()
	err = r.db.Pool.QueryRow(ctx, query,
		id,
		alert.Type,
		alert.Severity,
		alert.Metric,
		alert.CurrentValue,
		alert.ThresholdValue,
		alert.WindowStart,
		alert.WindowEnd,
		alert.AffectedAccounts,
		details,
		alert.CreatedAt,
		suppressedSince,
	).Scan(&alert.ID)
	if err != nil {
		mapped := database.MapPostgresError(err)
		// No row returned: the NOT EXISTS check saw an active alert.
		// Unique violation: a concurrent insert of the same type won.
		if errors.Is(mapped, models.ErrNotFound) || errors.Is(mapped, models.ErrConflict) {
			return false, nil // suppressed
		}
		return false, fmt.Errorf("failed to create alert: %w", mapped)
	}

	alert.Status = models.AlertStatusActive
	return true, nil
}

// GetByID retrieves an alert
func (r *AlertRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM security_alerts WHERE id = $1`
	return scanAlert(r.db.Pool.QueryRow(ctx, query, id))
}

// ListActive returns alerts still in the active or acknowledged state,
// newest first
func (r *AlertRepository) ListActive(ctx context.Context, limit int) ([]*models.Alert, error) {
	query := `
		SELECT ` + alertColumns + `
		FROM security_alerts
		WHERE status IN ('active', 'acknowledged')
		ORDER BY created_at DESC
		LIMIT $1
	`

	rows, err := r.db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list active alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*models.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}

	return alerts, rows.Err()
}

// Acknowledge transitions an active alert to acknowledged
func (r *AlertRepository) Acknowledge(ctx context.Context, id, adminID uuid.UUID, now time.Time) error {
	query := `
		UPDATE security_alerts
		SET status = 'acknowledged', acknowledged_by = $2, acknowledged_at = $3
		WHERE id = $1 AND status = 'active'
	`

	tag, err := r.db.Pool.Exec(ctx, query, id, adminID, now)
	if err != nil {
		return fmt.Errorf("failed to acknowledge alert: %w", database.MapPostgresError(err))
	}
	if tag.RowsAffected() == 0 {
		return models.ErrAlertNotActive
	}
	return nil
}

// Resolve transitions an active or acknowledged alert to resolved.
// Resolved is terminal.
func (r *AlertRepository) Resolve(ctx context.Context, id, adminID uuid.UUID, resolution string, now time.Time) error {
	query := `
		UPDATE security_alerts
		SET status = 'resolved', resolved_by = $2, resolved_at = $3, resolution = $4
		WHERE id = $1 AND status IN ('active', 'acknowledged')
	`

	tag, err := r.db.Pool.Exec(ctx, query, id, adminID, now, resolution)
	if err != nil {
		return fmt.Errorf("failed to resolve alert: %w", database.MapPostgresError(err))
	}
	if tag.RowsAffected() == 0 {
		return models.ErrAlertNotActive
	}
	return nil
}

// MarkFalsePositive transitions an active or acknowledged alert to
// false_positive. Terminal, like resolved.
func (r *AlertRepository) MarkFalsePositive(ctx context.Context, id, adminID uuid.UUID, now time.Time) error {
	query := `
		UPDATE security_alerts
		SET status = 'false_positive', resolved_by = $2, resolved_at = $3
		WHERE id = $1 AND status IN ('active', 'acknowledged')
	`

	tag, err := r.db.Pool.Exec(ctx, query, id, adminID, now)
	if err != nil {
		return fmt.Errorf("failed to mark alert false positive: %w", database.MapPostgresError(err))
	}
	if tag.RowsAffected() == 0 {
		return models.ErrAlertNotActive
	}
	return nil
}

// MarkNotificationSent flips the notification flag after a successful send
func (r *AlertRepository) MarkNotificationSent(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE security_alerts SET notification_sent = true WHERE id = $1`
	_, err := r.db.Pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to mark notification sent: %w", err)
	}
	return nil
}
