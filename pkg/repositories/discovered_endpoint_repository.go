package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ekaya-inc/ekaya-probe/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-probe/pkg/database"
	"github.com/ekaya-inc/ekaya-probe/pkg/models"
)

// DiscoveredEndpointRepository defines data access for discovered endpoints.
// Rows are never deleted; vanished endpoints are deactivated.
type DiscoveredEndpointRepository interface {
	// ListByServer returns every endpoint (active and inactive) for a server.
	ListByServer(ctx context.Context, serverID uuid.UUID) ([]*models.DiscoveredEndpoint, error)

	// ListActiveByServer returns only active endpoints, ordered by path then method.
	ListActiveByServer(ctx context.Context, serverID uuid.UUID) ([]*models.DiscoveredEndpoint, error)

	// GetByID retrieves one endpoint. Returns ErrNotFound if missing.
	GetByID(ctx context.Context, id uuid.UUID) (*models.DiscoveredEndpoint, error)

	// Create inserts a new endpoint. Returns ErrConflict on a duplicate hash for the server.
	Create(ctx context.Context, endpoint *models.DiscoveredEndpoint) error

	// Update rewrites description, parameters, response schema and last_checked, and reactivates.
	Update(ctx context.Context, endpoint *models.DiscoveredEndpoint) error

	// Deactivate marks the given endpoints inactive and returns how many changed.
	Deactivate(ctx context.Context, ids []uuid.UUID) (int, error)

	// TouchLastChecked sets last_checked on the given endpoints.
	TouchLastChecked(ctx context.Context, ids []uuid.UUID, at time.Time) error
}

type discoveredEndpointRepository struct{}

var _ DiscoveredEndpointRepository = (*discoveredEndpointRepository)(nil)

// NewDiscoveredEndpointRepository creates a new discovered endpoint repository.
func NewDiscoveredEndpointRepository() DiscoveredEndpointRepository {
	return &discoveredEndpointRepository{}
}

const discoveredEndpointColumns = `
	id, remote_server_id, path, method, description, parameters, response_schema,
	endpoint_hash, discovered_at, last_checked, is_active`

func (r *discoveredEndpointRepository) ListByServer(ctx context.Context, serverID uuid.UUID) ([]*models.DiscoveredEndpoint, error) {
	return r.list(ctx, `
		SELECT `+discoveredEndpointColumns+`
		FROM discovered_endpoints
		WHERE remote_server_id = $1
		ORDER BY path, method`, serverID)
}

func (r *discoveredEndpointRepository) ListActiveByServer(ctx context.Context, serverID uuid.UUID) ([]*models.DiscoveredEndpoint, error) {
	return r.list(ctx, `
		SELECT `+discoveredEndpointColumns+`
		FROM discovered_endpoints
		WHERE remote_server_id = $1 AND is_active = true
		ORDER BY path, method`, serverID)
}

func (r *discoveredEndpointRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.DiscoveredEndpoint, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, database.ErrNoScope
	}

	row := scope.DB().QueryRow(ctx, `SELECT `+discoveredEndpointColumns+` FROM discovered_endpoints WHERE id = $1`, id)
	endpoint, err := scanDiscoveredEndpoint(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get discovered endpoint: %w", err)
	}
	return endpoint, nil
}

func (r *discoveredEndpointRepository) Create(ctx context.Context, endpoint *models.DiscoveredEndpoint) error {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return database.ErrNoScope
	}

	if endpoint.ID == uuid.Nil {
		endpoint.ID = uuid.New()
	}
	if endpoint.DiscoveredAt.IsZero() {
		endpoint.DiscoveredAt = time.Now()
	}
	normalizeEndpointJSON(endpoint)

	_, err := scope.DB().Exec(ctx, `
		INSERT INTO discovered_endpoints (
			id, remote_server_id, path, method, description, parameters, response_schema,
			endpoint_hash, discovered_at, last_checked, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		endpoint.ID,
		endpoint.RemoteServerID,
		endpoint.Path,
		endpoint.Method,
		endpoint.Description,
		endpoint.Parameters,
		endpoint.ResponseSchema,
		endpoint.EndpointHash,
		endpoint.DiscoveredAt,
		endpoint.LastChecked,
		endpoint.IsActive,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperrors.ErrConflict
		}
		return fmt.Errorf("failed to create discovered endpoint: %w", err)
	}
	return nil
}

func (r *discoveredEndpointRepository) Update(ctx context.Context, endpoint *models.DiscoveredEndpoint) error {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return database.ErrNoScope
	}

	normalizeEndpointJSON(endpoint)
	endpoint.IsActive = true

	tag, err := scope.DB().Exec(ctx, `
		UPDATE discovered_endpoints
		SET description = $2, parameters = $3, response_schema = $4, last_checked = $5, is_active = true
		WHERE id = $1`,
		endpoint.ID,
		endpoint.Description,
		endpoint.Parameters,
		endpoint.ResponseSchema,
		endpoint.LastChecked,
	)
	if err != nil {
		return fmt.Errorf("failed to update discovered endpoint: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *discoveredEndpointRepository) Deactivate(ctx context.Context, ids []uuid.UUID) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	scope, ok := database.GetScope(ctx)
	if !ok {
		return 0, database.ErrNoScope
	}

	tag, err := scope.DB().Exec(ctx, `
		UPDATE discovered_endpoints
		SET is_active = false
		WHERE id = ANY($1) AND is_active = true`, ids)
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate discovered endpoints: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *discoveredEndpointRepository) TouchLastChecked(ctx context.Context, ids []uuid.UUID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	scope, ok := database.GetScope(ctx)
	if !ok {
		return database.ErrNoScope
	}

	if _, err := scope.DB().Exec(ctx,
		`UPDATE discovered_endpoints SET last_checked = $2 WHERE id = ANY($1)`, ids, at); err != nil {
		return fmt.Errorf("failed to update last_checked: %w", err)
	}
	return nil
}

func (r *discoveredEndpointRepository) list(ctx context.Context, query string, args ...any) ([]*models.DiscoveredEndpoint, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, database.ErrNoScope
	}

	rows, err := scope.DB().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list discovered endpoints: %w", err)
	}
	defer rows.Close()

	var endpoints []*models.DiscoveredEndpoint
	for rows.Next() {
		endpoint, err := scanDiscoveredEndpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan discovered endpoint: %w", err)
		}
		endpoints = append(endpoints, endpoint)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate discovered endpoints: %w", err)
	}
	return endpoints, nil
}

func scanDiscoveredEndpoint(row pgx.Row) (*models.DiscoveredEndpoint, error) {
	var e models.DiscoveredEndpoint
	err := row.Scan(
		&e.ID, &e.RemoteServerID, &e.Path, &e.Method, &e.Description, &e.Parameters, &e.ResponseSchema,
		&e.EndpointHash, &e.DiscoveredAt, &e.LastChecked, &e.IsActive,
	)
	if err != nil {
		return nil, err
	}
	normalizeEndpointJSON(&e)
	return &e, nil
}

// normalizeEndpointJSON keeps JSONB columns as [] and {} rather than null.
func normalizeEndpointJSON(e *models.DiscoveredEndpoint) {
	if e.Parameters == nil {
		e.Parameters = []models.Parameter{}
	}
	if e.ResponseSchema == nil {
		e.ResponseSchema = map[string]any{}
	}
}
