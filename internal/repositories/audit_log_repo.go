package repositories

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/tmcalister/rampart/internal/database"
	"github.com/tmcalister/rampart/internal/models"
)

// AuditLogRepository defines the interface for audit log persistence
type AuditLogRepository interface {
	Create(ctx context.Context, log *models.AuditLog) (*models.AuditLog, error)
	GetByTargetID(ctx context.Context, targetID uuid.UUID, limit, offset int) ([]*models.AuditLog, error)
	CountByTargetID(ctx context.Context, targetID uuid.UUID) (int64, error)
}

// AuditLogRepositoryImpl implements AuditLogRepository on Postgres
type AuditLogRepositoryImpl struct {
	db *database.DB
}

// NewAuditLogRepository creates a new audit log repository
func NewAuditLogRepository(db *database.DB) AuditLogRepository {
	return &AuditLogRepositoryImpl{db: db}
}

// Create inserts a new audit log entry
func (r *AuditLogRepositoryImpl) Create(ctx context.Context, log *models.AuditLog) (*models.AuditLog, error) {
	query := `
		INSERT INTO audit_logs (
			id, event_type, actor_id, target_id, resource_type, resource_id,
			action, success, failure_reason, ip_address, user_agent, metadata
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at
	`

	log.ID = uuid.New()
	err := r.db.Pool.QueryRow(ctx, query,
		log.ID,
		log.EventType,
		log.ActorID,
		log.TargetID,
		log.ResourceType,
		log.ResourceID,
		log.Action,
		log.Success,
		log.FailureReason,
		log.IPAddress,
		log.UserAgent,
		log.Metadata,
	).Scan(&log.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create audit log: %w", database.MapPostgresError(err))
	}

	return log, nil
}

// GetByTargetID retrieves the audit trail for an account, newest first
func (r *AuditLogRepositoryImpl) GetByTargetID(ctx context.Context, targetID uuid.UUID, limit, offset int) ([]*models.AuditLog, error) {
	query := `
		SELECT id, event_type, actor_id, target_id, resource_type, resource_id,
			action, success, failure_reason, ip_address, user_agent, metadata, created_at
		FROM audit_logs
		WHERE target_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Pool.Query(ctx, query, targetID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get audit logs: %w", err)
	}
	defer rows.Close()

	var logs []*models.AuditLog
	for rows.Next() {
		log := &models.AuditLog{}
		err := rows.Scan(
			&log.ID, &log.EventType, &log.ActorID, &log.TargetID,
			&log.ResourceType, &log.ResourceID, &log.Action, &log.Success,
			&log.FailureReason, &log.IPAddress, &log.UserAgent, &log.Metadata,
			&log.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		logs = append(logs, log)
	}

	return logs, rows.Err()
}

// CountByTargetID returns the number of audit entries for an account
func (r *AuditLogRepositoryImpl) CountByTargetID(ctx context.Context, targetID uuid.UUID) (int64, error) {
	query := `SELECT COUNT(*) FROM audit_logs WHERE target_id = $1`

	var count int64
	err := r.db.Pool.QueryRow(ctx, query, targetID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count audit logs: %w", err)
	}
	return count, nil
}
