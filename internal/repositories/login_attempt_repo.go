package repositories

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/tmcalister/rampart/internal/database"
	"github.com/tmcalister/rampart/internal/models"
)

// LoginAttemptRepository handles the append-only attempt ledger
type LoginAttemptRepository struct {
	db *database.DB
}

// NewLoginAttemptRepository creates a new LoginAttemptRepository
func NewLoginAttemptRepository(db *database.DB) *LoginAttemptRepository {
	return &LoginAttemptRepository{db: db}
}

// RecordAttempt appends one attempt to the ledger and returns its ID.
// Ledger rows are never updated afterwards.
func (r *LoginAttemptRepository) RecordAttempt(ctx context.Context, attempt *models.LoginAttempt) (uuid.UUID, error) {
	query := `
		INSERT INTO login_attempts (
			account_id, identifier, ip_address, user_agent, device_signature,
			attempt_time, success, failure_reason, captcha_required, captcha_verified,
			country, region, city, is_anomalous, anomaly_reasons, expires_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING id
	`

	var id uuid.UUID
	err := r.db.Pool.QueryRow(ctx, query,
		attempt.AccountID,
		attempt.Identifier,
		attempt.IPAddress,
		attempt.UserAgent,
		attempt.DeviceSignature,
		attempt.AttemptTime,
		attempt.Success,
		attempt.FailureReason,
		attempt.CaptchaRequired,
		attempt.CaptchaVerified,
		attempt.Country,
		attempt.Region,
		attempt.City,
		attempt.IsAnomalous,
		pq.Array(attempt.AnomalyReasons),
		attempt.ExpiresAt,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to record login attempt: %w", database.MapPostgresError(err))
	}

	return id, nil
}

// GetRecentSuccesses returns up to limit successful attempts for an
// account within the window, newest first. This is the risk scorer's
// baseline.
func (r *LoginAttemptRepository) GetRecentSuccesses(ctx context.Context, accountID uuid.UUID, window models.TimeWindow, limit int) ([]*models.LoginAttempt, error) {
	query := `
		SELECT id, account_id, identifier, ip_address, user_agent, device_signature,
			attempt_time, success, failure_reason, captcha_required, captcha_verified,
			country, region, city, is_anomalous, anomaly_reasons, expires_at
		FROM login_attempts
		WHERE account_id = $1 AND success = true
			AND attempt_time >= $2 AND attempt_time < $3
		ORDER BY attempt_time DESC
		LIMIT $4
	`

	rows, err := r.db.Pool.Query(ctx, query, accountID, window.Start, window.End, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent successes: %w", database.MapPostgresError(err))
	}
	defer rows.Close()

	var attempts []*models.LoginAttempt
	for rows.Next() {
		a := &models.LoginAttempt{}
		err := rows.Scan(
			&a.ID, &a.AccountID, &a.Identifier, &a.IPAddress, &a.UserAgent,
			&a.DeviceSignature, &a.AttemptTime, &a.Success, &a.FailureReason,
			&a.CaptchaRequired, &a.CaptchaVerified, &a.Country, &a.Region, &a.City,
			&a.IsAnomalous, pq.Array(&a.AnomalyReasons), &a.ExpiresAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan login attempt: %w", err)
		}
		attempts = append(attempts, a)
	}

	return attempts, rows.Err()
}

// GetWindowStats returns total and failed attempt counts within a window
func (r *LoginAttemptRepository) GetWindowStats(ctx context.Context, window models.TimeWindow) (models.WindowStats, error) {
	query := `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE success = false)
		FROM login_attempts
		WHERE attempt_time >= $1 AND attempt_time < $2
	`

	var stats models.WindowStats
	err := r.db.Pool.QueryRow(ctx, query, window.Start, window.End).Scan(&stats.Total, &stats.Failures)
	if err != nil {
		return stats, fmt.Errorf("failed to get window stats: %w", err)
	}
	return stats, nil
}

// GetOriginActivity groups attempts by raw origin IP within a window.
// Origins are grouped by the literal string with no NAT normalization.
func (r *LoginAttemptRepository) GetOriginActivity(ctx context.Context, window models.TimeWindow) ([]models.OriginActivity, error) {
	query := `
		SELECT ip_address, COUNT(*), COUNT(DISTINCT identifier)
		FROM login_attempts
		WHERE attempt_time >= $1 AND attempt_time < $2
		GROUP BY ip_address
		ORDER BY COUNT(*) DESC
	`

	rows, err := r.db.Pool.Query(ctx, query, window.Start, window.End)
	if err != nil {
		return nil, fmt.Errorf("failed to get origin activity: %w", err)
	}
	defer rows.Close()

	var activity []models.OriginActivity
	for rows.Next() {
		var a models.OriginActivity
		if err := rows.Scan(&a.IPAddress, &a.AttemptCount, &a.AccountCount); err != nil {
			return nil, fmt.Errorf("failed to scan origin activity: %w", err)
		}
		activity = append(activity, a)
	}

	return activity, rows.Err()
}

// GetCountriesSeen returns the distinct resolved countries within a window
func (r *LoginAttemptRepository) GetCountriesSeen(ctx context.Context, window models.TimeWindow) ([]string, error) {
	query := `
		SELECT DISTINCT country
		FROM login_attempts
		WHERE country IS NOT NULL AND attempt_time >= $1 AND attempt_time < $2
	`

	rows, err := r.db.Pool.Query(ctx, query, window.Start, window.End)
	if err != nil {
		return nil, fmt.Errorf("failed to get countries seen: %w", err)
	}
	defer rows.Close()

	var countries []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("failed to scan country: %w", err)
		}
		countries = append(countries, c)
	}

	return countries, rows.Err()
}

// CountAffectedAccounts returns the number of distinct identifiers with
// failed attempts within a window
func (r *LoginAttemptRepository) CountAffectedAccounts(ctx context.Context, window models.TimeWindow) (int, error) {
	query := `
		SELECT COUNT(DISTINCT identifier)
		FROM login_attempts
		WHERE success = false AND attempt_time >= $1 AND attempt_time < $2
	`

	var count int
	err := r.db.Pool.QueryRow(ctx, query, window.Start, window.End).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count affected accounts: %w", err)
	}
	return count, nil
}

// DeleteExpiredAttempts removes ledger rows past their retention horizon
func (r *LoginAttemptRepository) DeleteExpiredAttempts(ctx context.Context) (int64, error) {
	query := `DELETE FROM login_attempts WHERE expires_at <= CURRENT_TIMESTAMP`
	tag, err := r.db.Pool.Exec(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired attempts: %w", err)
	}
	return tag.RowsAffected(), nil
}
