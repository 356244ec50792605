package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-probe/pkg/models"
	"github.com/ekaya-inc/ekaya-probe/pkg/repositories"
)

// scanSession is the state of one scan: the server being probed, the auth
// headers captured when the scan started, and chunk bookkeeping. It is opened
// per scan and closed when the scan ends; nothing is shared between scans.
type scanSession struct {
	serverID     uuid.UUID
	headers      map[string]string
	ledger       HealthLedger
	endpointRepo repositories.DiscoveredEndpointRepository
	inTx         txFunc
	now          func() time.Time
	logger       *zap.Logger

	started   time.Time
	chunks    int
	persisted int
	healthy   int
	closed    bool
}

func (s *monitoringService) openSession(serverID uuid.UUID, headers map[string]string) *scanSession {
	session := &scanSession{
		serverID:     serverID,
		headers:      headers,
		ledger:       s.ledger,
		endpointRepo: s.endpointRepo,
		inTx:         s.inTx,
		now:          s.now,
		logger:       s.logger.With(zap.String("server_id", serverID.String())),
		started:      s.now(),
	}
	session.logger.Info("Scan started")
	return session
}

// persistChunk writes a chunk's results and stamps last_checked on the probed
// endpoints, all in one transaction.
func (ss *scanSession) persistChunk(ctx context.Context, results []models.ProbeResult) error {
	ids := make([]uuid.UUID, 0, len(results))
	healthy := 0
	for _, r := range results {
		if r.EndpointID != nil {
			ids = append(ids, *r.EndpointID)
		}
		if r.Status {
			healthy++
		}
	}

	err := ss.inTx(ctx, func(ctx context.Context) error {
		if err := ss.ledger.RecordBatch(ctx, results); err != nil {
			return err
		}
		return ss.endpointRepo.TouchLastChecked(ctx, ids, ss.now())
	})
	if err != nil {
		ss.logger.Error("Failed to persist scan chunk",
			zap.Int("chunk", ss.chunks+1),
			zap.Error(err))
		return err
	}

	ss.chunks++
	ss.persisted += len(results)
	ss.healthy += healthy
	return nil
}

func (ss *scanSession) close(err error) {
	if ss.closed {
		return
	}
	ss.closed = true

	fields := []zap.Field{
		zap.Int("chunks", ss.chunks),
		zap.Int("persisted", ss.persisted),
		zap.Int("healthy", ss.healthy),
		zap.Duration("elapsed", ss.now().Sub(ss.started)),
	}
	if err != nil {
		ss.logger.Error("Scan aborted", append(fields, zap.Error(err))...)
		return
	}
	ss.logger.Info("Scan finished", fields...)
}
