package background

import (
	"context"
	"log/slog"
	"time"

	"github.com/tmcalister/rampart/internal/repositories"
)

// CleanupManager periodically removes expired ledger rows and emergency codes
type CleanupManager struct {
	attemptRepo *repositories.LoginAttemptRepository
	codeRepo    *repositories.EmergencyCodeRepository
	logger      *slog.Logger
	interval    time.Duration
	stopCh      chan struct{}
}

// NewCleanupManager creates a new cleanup manager
func NewCleanupManager(
	attemptRepo *repositories.LoginAttemptRepository,
	codeRepo *repositories.EmergencyCodeRepository,
	logger *slog.Logger,
	interval time.Duration,
) *CleanupManager {
	return &CleanupManager{
		attemptRepo: attemptRepo,
		codeRepo:    codeRepo,
		logger:      logger,
		interval:    interval,
		stopCh:      make(chan struct{}),
	}
}

// Start begins the periodic cleanup task
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	// Run immediately on startup
	cm.runCleanup(ctx)

	for {
		select {
		case <-ticker.C:
			cm.runCleanup(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

// runCleanup removes rows past their retention or expiry
func (cm *CleanupManager) runCleanup(ctx context.Context) {
	cm.logger.Info("starting retention cleanup")

	cleanupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	attemptsDeleted, err := cm.attemptRepo.DeleteExpiredAttempts(cleanupCtx)
	if err != nil {
		cm.logger.Error("failed to delete expired attempts", slog.Any("error", err))
	} else if attemptsDeleted > 0 {
		cm.logger.Info("expired attempts removed", slog.Int64("rows_deleted", attemptsDeleted))
	}

	codesDeleted, err := cm.codeRepo.DeleteExpired(cleanupCtx)
	if err != nil {
		cm.logger.Error("failed to delete expired emergency codes", slog.Any("error", err))
	} else if codesDeleted > 0 {
		cm.logger.Info("expired emergency codes removed", slog.Int64("rows_deleted", codesDeleted))
	}
}

// Stop signals the cleanup manager to stop
func (cm *CleanupManager) Stop() {
	close(cm.stopCh)
}
