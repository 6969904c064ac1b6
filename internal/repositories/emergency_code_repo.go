package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/tmcalister/rampart/internal/database"
	"github.com/tmcalister/rampart/internal/models"
)

// EmergencyCodeRepository handles database operations for emergency codes
type EmergencyCodeRepository struct {
	db *database.DB
}

// NewEmergencyCodeRepository creates a new EmergencyCodeRepository
func NewEmergencyCodeRepository(db *database.DB) *EmergencyCodeRepository {
	return &EmergencyCodeRepository{db: db}
}

// CreateBatch inserts one batch of hashed codes in a single transaction
func (r *EmergencyCodeRepository) CreateBatch(ctx context.Context, codes []*models.EmergencyCode) error {
	return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		query := `
			INSERT INTO emergency_codes (id, account_id, code_hash, issued_by, reason, expires_at, used, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, false, $7)
		`
		for _, code := range codes {
			if _, err := tx.Exec(ctx, query,
				code.ID, code.AccountID, code.CodeHash, code.IssuedBy,
				code.Reason, code.ExpiresAt, code.CreatedAt,
			); err != nil {
				return fmt.Errorf("failed to insert emergency code: %w", database.MapPostgresError(err))
			}
		}
		return nil
	})
}

// GetRedeemable returns the account's unused, unexpired codes. The batch
// size is small and fixed, so callers scan linearly over the hashes.
func (r *EmergencyCodeRepository) GetRedeemable(ctx context.Context, accountID uuid.UUID, now time.Time) ([]*models.EmergencyCode, error) {
	query := `
		SELECT id, account_id, code_hash, issued_by, reason, expires_at, used, used_at, created_at
		FROM emergency_codes
		WHERE account_id = $1 AND used = false AND expires_at > $2
		ORDER BY created_at
	`

	rows, err := r.db.Pool.Query(ctx, query, accountID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to get redeemable codes: %w", err)
	}
	defer rows.Close()

	var codes []*models.EmergencyCode
	for rows.Next() {
		c := &models.EmergencyCode{}
		err := rows.Scan(&c.ID, &c.AccountID, &c.CodeHash, &c.IssuedBy, &c.Reason,
			&c.ExpiresAt, &c.Used, &c.UsedAt, &c.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan emergency code: %w", err)
		}
		codes = append(codes, c)
	}

	return codes, rows.Err()
}

// MarkUsed marks one code used, conditional on it still being unused.
// Returns false when another redemption won the race; exactly one of two
// concurrent redemptions of the same code succeeds.
func (r *EmergencyCodeRepository) MarkUsed(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	query := `
		UPDATE emergency_codes
		SET used = true, used_at = $2
		WHERE id = $1 AND used = false AND expires_at > $2
	`

	tag, err := r.db.Pool.Exec(ctx, query, id, now)
	if err != nil {
		return false, fmt.Errorf("failed to mark emergency code used: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// DeleteByAccount removes all of an account's codes (used during
// second-factor reset)
func (r *EmergencyCodeRepository) DeleteByAccount(ctx context.Context, accountID uuid.UUID) (int64, error) {
	query := `DELETE FROM emergency_codes WHERE account_id = $1`
	tag, err := r.db.Pool.Exec(ctx, query, accountID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete emergency codes: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteExpired removes used and expired codes (storage hygiene only;
// expiry itself is enforced at read time)
func (r *EmergencyCodeRepository) DeleteExpired(ctx context.Context) (int64, error) {
	query := `DELETE FROM emergency_codes WHERE used = true OR expires_at <= CURRENT_TIMESTAMP`
	tag, err := r.db.Pool.Exec(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired codes: %w", err)
	}
	return tag.RowsAffected(), nil
}
