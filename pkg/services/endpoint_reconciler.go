package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-probe/pkg/database"
	"github.com/ekaya-inc/ekaya-probe/pkg/models"
	"github.com/ekaya-inc/ekaya-probe/pkg/repositories"
)

// txFunc runs fn in a transaction carried by the context it is given.
type txFunc func(ctx context.Context, fn func(ctx context.Context) error) error

// EndpointReconciler merges one discovery run into stored endpoint state.
type EndpointReconciler interface {
	// Reconcile upserts candidates by identity hash and deactivates stored
	// endpoints the run did not report. Everything is applied in one
	// transaction; on error nothing changes.
	Reconcile(ctx context.Context, serverID uuid.UUID, candidates []models.CandidateEndpoint) (*models.ReconcileResult, error)
}

type endpointReconciler struct {
	endpointRepo repositories.DiscoveredEndpointRepository
	inTx         txFunc
	now          func() time.Time
	logger       *zap.Logger
}

var _ EndpointReconciler = (*endpointReconciler)(nil)

// NewEndpointReconciler creates a new endpoint reconciler.
func NewEndpointReconciler(endpointRepo repositories.DiscoveredEndpointRepository, logger *zap.Logger) EndpointReconciler {
	return &endpointReconciler{
		endpointRepo: endpointRepo,
		inTx:         database.InTx,
		now:          time.Now,
		logger:       logger.Named("endpoint-reconciler"),
	}
}

func (r *endpointReconciler) Reconcile(ctx context.Context, serverID uuid.UUID, candidates []models.CandidateEndpoint) (*models.ReconcileResult, error) {
	result := &models.ReconcileResult{}
	now := r.now()

	err := r.inTx(ctx, func(ctx context.Context) error {
		existing, err := r.endpointRepo.ListByServer(ctx, serverID)
		if err != nil {
			return err
		}
		byHash := make(map[string]*models.DiscoveredEndpoint, len(existing))
		for _, e := range existing {
			byHash[e.EndpointHash] = e
		}

		seen := make(map[string]bool, len(candidates))
		for _, c := range candidates {
			if seen[c.Hash] {
				continue
			}
			seen[c.Hash] = true

			if stored, ok := byHash[c.Hash]; ok {
				stored.Description = c.Description
				stored.Parameters = c.Parameters
				stored.ResponseSchema = c.ResponseSchema
				stored.LastChecked = &now
				if err := r.endpointRepo.Update(ctx, stored); err != nil {
					return err
				}
				result.Updated++
				continue
			}

			if err := r.endpointRepo.Create(ctx, &models.DiscoveredEndpoint{
				RemoteServerID: serverID,
				Path:           c.Path,
				Method:         c.Method,
				Description:    c.Description,
				Parameters:     c.Parameters,
				ResponseSchema: c.ResponseSchema,
				EndpointHash:   c.Hash,
				DiscoveredAt:   now,
				IsActive:       true,
			}); err != nil {
				return err
			}
			result.Inserted++
		}

		var stale []uuid.UUID
		for hash, e := range byHash {
			if !seen[hash] && e.IsActive {
				stale = append(stale, e.ID)
			}
		}
		deactivated, err := r.endpointRepo.Deactivate(ctx, stale)
		if err != nil {
			return err
		}
		result.Deactivated = deactivated
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to reconcile endpoints: %w", err)
	}

	r.logger.Info("Reconciled endpoints",
		zap.String("server_id", serverID.String()),
		zap.Int("inserted", result.Inserted),
		zap.Int("updated", result.Updated),
		zap.Int("deactivated", result.Deactivated))

	return result, nil
}
