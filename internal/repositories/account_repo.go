package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/lib/pq"
	"github.com/tmcalister/rampart/internal/database"
	"github.com/tmcalister/rampart/internal/models"
)

const accountColumns = `
	id, email, role, status, failed_attempt_count, last_failed_attempt_at,
	locked_until, captcha_required_since, known_origins, known_device_signatures,
	last_successful_origin, last_successful_at, second_factor_enabled,
	second_factor_verified_at, second_factor_phone, totp_secret_encrypted,
	totp_secret_nonce, lock_version, created_at, updated_at`

// AccountRepository handles database operations for account security state
type AccountRepository struct {
	db *database.DB
}

// NewAccountRepository creates a new AccountRepository
func NewAccountRepository(db *database.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func scanAccount(scanner rowScanner) (*models.Account, error) {
	a := &models.Account{}
	err := scanner.Scan(
		&a.ID,
		&a.Email,
		&a.Role,
		&a.Status,
		&a.FailedAttemptCount,
		&a.LastFailedAttemptAt,
		&a.LockedUntil,
		&a.CaptchaRequiredSince,
		pq.Array(&a.KnownOrigins),
		pq.Array(&a.KnownDeviceSignatures),
		&a.LastSuccessfulOrigin,
		&a.LastSuccessfulAt,
		&a.SecondFactorEnabled,
		&a.SecondFactorVerifiedAt,
		&a.SecondFactorPhone,
		&a.TOTPSecretEncrypted,
		&a.TOTPSecretNonce,
		&a.LockVersion,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return a, nil
}

// GetByIdentifier looks up an account by its login identifier (email)
func (r *AccountRepository) GetByIdentifier(ctx context.Context, identifier string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE email = $1`
	return scanAccount(r.db.Pool.QueryRow(ctx, query, identifier))
}

// GetByID retrieves an account by ID
func (r *AccountRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	return scanAccount(r.db.Pool.QueryRow(ctx, query, id))
}

// FailureState is the security state after a failure was applied
type FailureState struct {
	FailedAttempts       int
	CaptchaRequiredSince *time.Time
	LockedUntil          *time.Time
}

// ApplyFailure increments the window-scoped failure counter in a single
// conditional statement so that concurrent failures against the same
// account serialize on the row. A counter whose last failure is older
// than windowStart restarts at 1. Captcha and lockout state are set in
// the same statement once the respective thresholds are crossed.
func (r *AccountRepository) ApplyFailure(ctx context.Context, id uuid.UUID, windowStart, now time.Time, captchaThreshold, lockoutThreshold int, lockoutDuration time.Duration) (*FailureState, error) {
	query := `
		WITH locked AS (
			SELECT CASE
				WHEN last_failed_attempt_at IS NULL OR last_failed_attempt_at < $2 THEN 0
				ELSE failed_attempt_count
			END AS effective_count
			FROM accounts WHERE id = $1 FOR UPDATE
		)
		UPDATE accounts a SET
			failed_attempt_count = l.effective_count + 1,
			last_failed_attempt_at = $3,
			captcha_required_since = CASE
				WHEN l.effective_count + 1 >= $4 AND a.captcha_required_since IS NULL THEN $3
				ELSE a.captcha_required_since
			END,
			locked_until = CASE
				WHEN l.effective_count + 1 >= $5 THEN $6
				ELSE a.locked_until
			END,
			lock_version = a.lock_version + 1,
			updated_at = $3
		FROM locked l
		WHERE a.id = $1
		RETURNING a.failed_attempt_count, a.captcha_required_since, a.locked_until
	`

	state := &FailureState{}
	err := r.db.Pool.QueryRow(ctx, query,
		id, windowStart, now, captchaThreshold, lockoutThreshold, now.Add(lockoutDuration),
	).Scan(&state.FailedAttempts, &state.CaptchaRequiredSince, &state.LockedUntil)
	if err != nil {
		return nil, fmt.Errorf("failed to apply login failure: %w", database.MapPostgresError(err))
	}

	return state, nil
}

// ApplySuccess resets the failure counter and captcha flag, clears any
// lock, records the successful origin, and appends origin/device to the
// known sets when novel.
func (r *AccountRepository) ApplySuccess(ctx context.Context, id uuid.UUID, origin, deviceSignature string, now time.Time) error {
	query := `
		UPDATE accounts SET
			failed_attempt_count = 0,
			last_failed_attempt_at = NULL,
			locked_until = NULL,
			captcha_required_since = NULL,
			known_origins = CASE
				WHEN $2 = ANY(known_origins) THEN known_origins
				ELSE array_append(known_origins, $2)
			END,
			known_device_signatures = CASE
				WHEN $3 = ANY(known_device_signatures) THEN known_device_signatures
				ELSE array_append(known_device_signatures, $3)
			END,
			last_successful_origin = $2,
			last_successful_at = $4,
			lock_version = lock_version + 1,
			updated_at = $4
		WHERE id = $1
	`

	tag, err := r.db.Pool.Exec(ctx, query, id, origin, deviceSignature, now)
	if err != nil {
		return fmt.Errorf("failed to apply login success: %w", database.MapPostgresError(err))
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// Unlock clears lock, failure, and captcha state unconditionally
func (r *AccountRepository) Unlock(ctx context.Context, id uuid.UUID, now time.Time) error {
	query := `
		UPDATE accounts SET
			failed_attempt_count = 0,
			last_failed_attempt_at = NULL,
			locked_until = NULL,
			captcha_required_since = NULL,
			lock_version = lock_version + 1,
			updated_at = $2
		WHERE id = $1
	`

	tag, err := r.db.Pool.Exec(ctx, query, id, now)
	if err != nil {
		return fmt.Errorf("failed to unlock account: %w", database.MapPostgresError(err))
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// SetSecondFactor stores an encrypted TOTP secret and enables the second factor
func (r *AccountRepository) SetSecondFactor(ctx context.Context, id uuid.UUID, encryptedSecret, nonce []byte, now time.Time) error {
	query := `
		UPDATE accounts SET
			second_factor_enabled = true,
			second_factor_verified_at = $2,
			totp_secret_encrypted = $3,
			totp_secret_nonce = $4,
			updated_at = $2
		WHERE id = $1
	`

	tag, err := r.db.Pool.Exec(ctx, query, id, now, encryptedSecret, nonce)
	if err != nil {
		return fmt.Errorf("failed to set second factor: %w", database.MapPostgresError(err))
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// TouchSecondFactorVerified records a successful step-up verification.
// The stored instant bounds the TOTP replay window.
func (r *AccountRepository) TouchSecondFactorVerified(ctx context.Context, id uuid.UUID, now time.Time) error {
	query := `UPDATE accounts SET second_factor_verified_at = $2, updated_at = $2 WHERE id = $1`

	tag, err := r.db.Pool.Exec(ctx, query, id, now)
	if err != nil {
		return fmt.Errorf("failed to record second factor verification: %w", database.MapPostgresError(err))
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// ClearSecondFactor wipes all second-factor state and any live emergency
// codes for the account in one transaction.
func (r *AccountRepository) ClearSecondFactor(ctx context.Context, id uuid.UUID, now time.Time) error {
	return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		query := `
			UPDATE accounts SET
				second_factor_enabled = false,
				second_factor_verified_at = NULL,
				second_factor_phone = NULL,
				totp_secret_encrypted = NULL,
				totp_secret_nonce = NULL,
				updated_at = $2
			WHERE id = $1
		`

		tag, err := tx.Exec(ctx, query, id, now)
		if err != nil {
			return fmt.Errorf("failed to clear second factor: %w", database.MapPostgresError(err))
		}
		if tag.RowsAffected() == 0 {
			return models.ErrNotFound
		}

		if _, err := tx.Exec(ctx, `DELETE FROM emergency_codes WHERE account_id = $1`, id); err != nil {
			return fmt.Errorf("failed to remove emergency codes: %w", database.MapPostgresError(err))
		}
		return nil
	})
}
