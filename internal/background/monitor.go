package background

import (
	"context"
	"log/slog"
	"time"

	"github.com/tmcalister/rampart/internal/services"
)

// MonitorScheduler drives the aggregate detection checks on a fixed
// interval. Each run gets its own timeout so a slow query cannot wedge
// the schedule.
type MonitorScheduler struct {
	monitor  *services.MonitorService
	logger   *slog.Logger
	interval time.Duration
	stopCh   chan struct{}
}

// NewMonitorScheduler creates a new monitor scheduler
func NewMonitorScheduler(
	monitor *services.MonitorService,
	logger *slog.Logger,
	interval time.Duration,
) *MonitorScheduler {
	return &MonitorScheduler{
		monitor:  monitor,
		logger:   logger,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic check runs
func (ms *MonitorScheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(ms.interval)
	defer ticker.Stop()

	// Run immediately on startup
	ms.runChecks(ctx)

	for {
		select {
		case <-ticker.C:
			ms.runChecks(ctx)
		case <-ms.stopCh:
			ms.logger.Info("monitor scheduler stopped")
			return
		case <-ctx.Done():
			ms.logger.Info("monitor scheduler context cancelled")
			return
		}
	}
}

func (ms *MonitorScheduler) runChecks(ctx context.Context) {
	checkCtx, cancel := context.WithTimeout(ctx, 1*time.Minute)
	defer cancel()

	ms.monitor.RunAggregateChecks(checkCtx)
}

// Stop signals the scheduler to stop
func (ms *MonitorScheduler) Stop() {
	close(ms.stopCh)
}
