package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/tmcalister/rampart/internal/models"
	"github.com/tmcalister/rampart/internal/repositories"
)

// AuditService handles audit logging with dual-write pattern (slog + database)
type AuditService struct {
	repo   repositories.AuditLogRepository
	logger *slog.Logger
}

// NewAuditService creates a new AuditService
func NewAuditService(repo repositories.AuditLogRepository, logger *slog.Logger) *AuditService {
	return &AuditService{
		repo:   repo,
		logger: logger,
	}
}

// LogSecurityEvent logs engine-generated security events (lockouts,
// anomalous logins, emergency-code redemptions)
func (s *AuditService) LogSecurityEvent(ctx context.Context, eventType string, targetID *uuid.UUID, action string, success bool, failureReason *string, ipAddress *string, metadata models.AuditMetadata) error {
	log := &models.AuditLog{
		EventType:     eventType,
		TargetID:      targetID,
		Action:        action,
		Success:       success,
		FailureReason: failureReason,
		IPAddress:     ipAddress,
		Metadata:      metadata,
	}

	// Dual-write: immediate slog output
	if success {
		s.logger.InfoContext(ctx, "audit event",
			slog.String("event_type", eventType),
			slog.Any("target_id", targetID),
			slog.String("action", action),
			slog.Any("metadata", metadata),
		)
	} else {
		reason := ""
		if failureReason != nil {
			reason = *failureReason
		}
		s.logger.WarnContext(ctx, "audit event failed",
			slog.String("event_type", eventType),
			slog.Any("target_id", targetID),
			slog.String("action", action),
			slog.String("failure_reason", reason),
			slog.Any("metadata", metadata),
		)
	}

	// Persist to database (non-critical: an audit write failure never
	// fails the security decision it describes)
	if _, err := s.repo.Create(ctx, log); err != nil {
		s.logger.ErrorContext(ctx, "failed to persist audit log",
			slog.String("event_type", eventType),
			slog.Any("error", err),
		)
		return nil
	}

	return nil
}

// LogAdminAction logs administrator actions (unlock, alert lifecycle,
// emergency access, second-factor reset). A zero targetID means the
// action has no target account; alert lifecycle actions carry the
// alert in resourceID instead.
func (s *AuditService) LogAdminAction(ctx context.Context, actorID, targetID uuid.UUID, action, resourceType string, resourceID *string, success bool, failureReason *string, metadata models.AuditMetadata) error {
	log := &models.AuditLog{
		EventType:     models.AuditEventTypeAlertAction,
		ActorID:       &actorID,
		ResourceType:  &resourceType,
		ResourceID:    resourceID,
		Action:        action,
		Success:       success,
		FailureReason: failureReason,
		Metadata:      metadata,
	}
	if targetID != uuid.Nil {
		log.TargetID = &targetID
	}
	switch {
	case resourceType == models.AuditResourceTypeEmergencyCode:
		log.EventType = models.AuditEventTypeEmergencyAccess
	case action == "unlock":
		log.EventType = models.AuditEventTypeUnlock
	case action == "reset_second_factor":
		log.EventType = models.AuditEventTypeSecondFactor
	}

	if success {
		s.logger.InfoContext(ctx, "admin action",
			slog.Any("actor_id", actorID),
			slog.Any("target_id", log.TargetID),
			slog.String("action", action),
			slog.String("resource_type", resourceType),
			slog.Any("metadata", metadata),
		)
	} else {
		reason := ""
		if failureReason != nil {
			reason = *failureReason
		}
		s.logger.WarnContext(ctx, "admin action failed",
			slog.Any("actor_id", actorID),
			slog.Any("target_id", log.TargetID),
			slog.String("action", action),
			slog.String("resource_type", resourceType),
			slog.String("failure_reason", reason),
			slog.Any("metadata", metadata),
		)
	}

	if _, err := s.repo.Create(ctx, log); err != nil {
		s.logger.ErrorContext(ctx, "failed to persist audit log",
			slog.String("action", action),
			slog.Any("error", err),
		)
		return nil
	}

	return nil
}

// GetAccountAuditTrail retrieves the audit trail for an account
func (s *AuditService) GetAccountAuditTrail(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]*models.AuditLog, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	logs, err := s.repo.GetByTargetID(ctx, accountID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get account audit trail: %w", err)
	}

	return logs, nil
}
