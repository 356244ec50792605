package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-probe/pkg/models"
	"github.com/ekaya-inc/ekaya-probe/pkg/repositories"
)

// DefaultHistoryLimit bounds History when no limit is given.
const DefaultHistoryLimit = 50

// HealthLedger is the append-only history of probe outcomes.
type HealthLedger interface {
	// Record appends one probe result. endpointID may be nil for probes that
	// matched no discovered endpoint.
	Record(ctx context.Context, endpointID *uuid.UUID, result models.ProbeResult) error

	// RecordBatch appends results in one transaction.
	RecordBatch(ctx context.Context, results []models.ProbeResult) error

	// Latest returns the most recent result for an endpoint, or nil if it was never probed.
	Latest(ctx context.Context, endpointID uuid.UUID) (*models.ProbeResult, error)

	// LatestForMany returns the most recent result per endpoint in one round-trip.
	LatestForMany(ctx context.Context, endpointIDs []uuid.UUID) (map[uuid.UUID]*models.ProbeResult, error)

	// History returns up to limit results for an endpoint, newest first.
	History(ctx context.Context, endpointID uuid.UUID, limit int) ([]*models.ProbeResult, error)
}

type healthLedger struct {
	healthRepo repositories.EndpointHealthRepository
}

var _ HealthLedger = (*healthLedger)(nil)

// NewHealthLedger creates a health ledger over the endpoint health repository.
func NewHealthLedger(healthRepo repositories.EndpointHealthRepository) HealthLedger {
	return &healthLedger{healthRepo: healthRepo}
}

func (l *healthLedger) Record(ctx context.Context, endpointID *uuid.UUID, result models.ProbeResult) error {
	result.EndpointID = endpointID
	if err := l.healthRepo.Create(ctx, result.ToHealth()); err != nil {
		return fmt.Errorf("failed to record health: %w", err)
	}
	return nil
}

func (l *healthLedger) RecordBatch(ctx context.Context, results []models.ProbeResult) error {
	rows := make([]*models.EndpointHealth, len(results))
	for i := range results {
		rows[i] = results[i].ToHealth()
	}
	if err := l.healthRepo.CreateBatch(ctx, rows); err != nil {
		return fmt.Errorf("failed to record health batch: %w", err)
	}
	return nil
}

func (l *healthLedger) Latest(ctx context.Context, endpointID uuid.UUID) (*models.ProbeResult, error) {
	row, err := l.healthRepo.Latest(ctx, endpointID)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, nil
	}
	return row.ToProbeResult(), nil
}

func (l *healthLedger) LatestForMany(ctx context.Context, endpointIDs []uuid.UUID) (map[uuid.UUID]*models.ProbeResult, error) {
	rows, err := l.healthRepo.LatestForMany(ctx, endpointIDs)
	if err != nil {
		return nil, err
	}
	latest := make(map[uuid.UUID]*models.ProbeResult, len(rows))
	for id, row := range rows {
		latest[id] = row.ToProbeResult()
	}
	return latest, nil
}

func (l *healthLedger) History(ctx context.Context, endpointID uuid.UUID, limit int) ([]*models.ProbeResult, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	rows, err := l.healthRepo.ListByEndpoint(ctx, endpointID, limit)
	if err != nil {
		return nil, err
	}
	history := make([]*models.ProbeResult, len(rows))
	for i, row := range rows {
		history[i] = row.ToProbeResult()
	}
	return history, nil
}
