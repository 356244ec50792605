package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-probe/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-probe/pkg/database"
	"github.com/ekaya-inc/ekaya-probe/pkg/models"
)

// RegisteredEndpointRepository defines data access for this service's own routes.
type RegisteredEndpointRepository interface {
	// List returns all registered endpoints ordered by url then method.
	List(ctx context.Context) ([]*models.RegisteredEndpoint, error)

	// Ensure inserts the endpoint if (url, method) is not registered yet.
	// Existing rows keep their enabled flag. Returns true if a row was inserted.
	Ensure(ctx context.Context, endpoint *models.RegisteredEndpoint) (bool, error)

	// SetEnabled toggles whether local scans probe the endpoint.
	SetEnabled(ctx context.Context, id uuid.UUID, enabled bool) (*models.RegisteredEndpoint, error)
}

type registeredEndpointRepository struct{}

var _ RegisteredEndpointRepository = (*registeredEndpointRepository)(nil)

// NewRegisteredEndpointRepository creates a new registered endpoint repository.
func NewRegisteredEndpointRepository() RegisteredEndpointRepository {
	return &registeredEndpointRepository{}
}

func (r *registeredEndpointRepository) List(ctx context.Context) ([]*models.RegisteredEndpoint, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, database.ErrNoScope
	}

	rows, err := scope.DB().Query(ctx, `
		SELECT id, name, url, method, is_enabled, created_at, updated_at
		FROM registered_endpoints
		ORDER BY url, method`)
	if err != nil {
		return nil, fmt.Errorf("failed to list registered endpoints: %w", err)
	}
	defer rows.Close()

	var endpoints []*models.RegisteredEndpoint
	for rows.Next() {
		var e models.RegisteredEndpoint
		if err := rows.Scan(&e.ID, &e.Name, &e.URL, &e.Method, &e.IsEnabled, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan registered endpoint: %w", err)
		}
		endpoints = append(endpoints, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate registered endpoints: %w", err)
	}
	return endpoints, nil
}

func (r *registeredEndpointRepository) Ensure(ctx context.Context, endpoint *models.RegisteredEndpoint) (bool, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return false, database.ErrNoScope
	}

	if endpoint.ID == uuid.Nil {
		endpoint.ID = uuid.New()
	}
	now := time.Now()
	endpoint.CreatedAt = now
	endpoint.UpdatedAt = now

	tag, err := scope.DB().Exec(ctx, `
		INSERT INTO registered_endpoints (id, name, url, method, is_enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (url, method) DO NOTHING`,
		endpoint.ID, endpoint.Name, endpoint.URL, endpoint.Method, endpoint.IsEnabled, now, now)
	if err != nil {
		return false, fmt.Errorf("failed to ensure registered endpoint: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *registeredEndpointRepository) SetEnabled(ctx context.Context, id uuid.UUID, enabled bool) (*models.RegisteredEndpoint, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, database.ErrNoScope
	}

	var e models.RegisteredEndpoint
	err := scope.DB().QueryRow(ctx, `
		UPDATE registered_endpoints
		SET is_enabled = $2, updated_at = now()
		WHERE id = $1
		RETURNING id, name, url, method, is_enabled, created_at, updated_at`, id, enabled).
		Scan(&e.ID, &e.Name, &e.URL, &e.Method, &e.IsEnabled, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to update registered endpoint: %w", err)
	}
	return &e, nil
}
