package services

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-probe/pkg/repositories"
)

// ScopeProvider hands out contexts carrying a database scope for background work.
type ScopeProvider interface {
	WithScope(ctx context.Context) (context.Context, func(), error)
}

// MonitoringScheduler periodically checks, discovers and scans every active server.
type MonitoringScheduler interface {
	// Run starts the loop in a goroutine. It runs once immediately, then every
	// interval, and stops when ctx is cancelled.
	Run(ctx context.Context, interval time.Duration)

	// RunOnce processes every active server once. Per-server failures are
	// logged and do not stop the pass.
	RunOnce(ctx context.Context)
}

type monitoringScheduler struct {
	scopes     ScopeProvider
	serverRepo repositories.RemoteServerRepository
	monitoring MonitoringService
	logger     *zap.Logger
}

var _ MonitoringScheduler = (*monitoringScheduler)(nil)

// NewMonitoringScheduler creates the background monitoring loop.
func NewMonitoringScheduler(
	scopes ScopeProvider,
	serverRepo repositories.RemoteServerRepository,
	monitoring MonitoringService,
	logger *zap.Logger,
) MonitoringScheduler {
	return &monitoringScheduler{
		scopes:     scopes,
		serverRepo: serverRepo,
		monitoring: monitoring,
		logger:     logger.Named("monitoring-scheduler"),
	}
}

func (s *monitoringScheduler) Run(ctx context.Context, interval time.Duration) {
	go func() {
		s.logger.Info("Monitoring scheduler started", zap.Duration("interval", interval))

		s.RunOnce(ctx)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info("Monitoring scheduler stopped")
				return
			case <-ticker.C:
				s.RunOnce(ctx)
			}
		}
	}()
}

func (s *monitoringScheduler) RunOnce(ctx context.Context) {
	scopedCtx, cleanup, err := s.scopes.WithScope(ctx)
	if err != nil {
		s.logger.Error("Monitoring scheduler: failed to acquire connection", zap.Error(err))
		return
	}
	defer cleanup()

	servers, err := s.serverRepo.ListActive(scopedCtx)
	if err != nil {
		s.logger.Error("Monitoring scheduler: failed to list servers", zap.Error(err))
		return
	}

	for _, server := range servers {
		if ctx.Err() != nil {
			return
		}
		log := s.logger.With(zap.String("server_id", server.ID.String()), zap.String("server", server.Name))

		if _, err := s.monitoring.CheckServerStatus(scopedCtx, server.ID); err != nil {
			log.Error("Monitoring scheduler: status check failed", zap.Error(err))
		}

		result, err := s.monitoring.DiscoverAndMonitor(scopedCtx, server.ID)
		if err != nil {
			log.Error("Monitoring scheduler: discover and monitor failed", zap.Error(err))
			continue
		}
		log.Info("Monitoring scheduler: server processed",
			zap.Int("discovered", result.Discovery.DiscoveredCount),
			zap.Int("healthy", result.Healthy),
			zap.Int("unhealthy", result.Unhealthy))
	}
}
