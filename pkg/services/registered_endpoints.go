package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-probe/pkg/models"
	"github.com/ekaya-inc/ekaya-probe/pkg/repositories"
)

// Route is one API route this service exposes, as registered for local scans.
type Route struct {
	Name   string
	Method string
	Path   string
}

// SyncRegisteredEndpoints makes sure every route has a registered_endpoints
// row. Missing routes are inserted enabled; existing rows keep their flag.
// Returns the number of rows inserted.
func SyncRegisteredEndpoints(ctx context.Context, repo repositories.RegisteredEndpointRepository, routes []Route, logger *zap.Logger) (int, error) {
	inserted := 0
	for _, r := range routes {
		ok, err := repo.Ensure(ctx, &models.RegisteredEndpoint{
			Name:      r.Name,
			URL:       r.Path,
			Method:    r.Method,
			IsEnabled: true,
		})
		if err != nil {
			return inserted, fmt.Errorf("failed to register %s %s: %w", r.Method, r.Path, err)
		}
		if ok {
			inserted++
		}
	}
	logger.Info("Synced registered endpoints",
		zap.Int("routes", len(routes)),
		zap.Int("inserted", inserted))
	return inserted, nil
}
