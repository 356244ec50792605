package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/ekaya-probe/pkg/database"
	"github.com/ekaya-inc/ekaya-probe/pkg/models"
)

// EndpointHealthRepository is the append-only store of probe outcomes.
// There are no update or delete methods.
type EndpointHealthRepository interface {
	// Create inserts one health row.
	Create(ctx context.Context, health *models.EndpointHealth) error

	// CreateBatch inserts all rows in one transaction; either all are written or none.
	CreateBatch(ctx context.Context, rows []*models.EndpointHealth) error

	// Latest returns the most recent row for an endpoint, or nil if there is none.
	Latest(ctx context.Context, endpointID uuid.UUID) (*models.EndpointHealth, error)

	// LatestForMany returns the most recent row per endpoint id in a single query.
	// Ids with no rows are absent from the map.
	LatestForMany(ctx context.Context, endpointIDs []uuid.UUID) (map[uuid.UUID]*models.EndpointHealth, error)

	// ListByEndpoint returns up to limit rows for an endpoint, newest first.
	ListByEndpoint(ctx context.Context, endpointID uuid.UUID, limit int) ([]*models.EndpointHealth, error)
}

type endpointHealthRepository struct{}

var _ EndpointHealthRepository = (*endpointHealthRepository)(nil)

// NewEndpointHealthRepository creates a new endpoint health repository.
func NewEndpointHealthRepository() EndpointHealthRepository {
	return &endpointHealthRepository{}
}

const endpointHealthColumns = `
	id, discovered_endpoint_id, status, is_healthy, response_time, checked_at,
	status_code, error_message, failure_reason, url, method`

const insertEndpointHealth = `
	INSERT INTO endpoint_health (
		id, discovered_endpoint_id, status, is_healthy, response_time, checked_at,
		status_code, error_message, failure_reason, url, method)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

func insertArgs(h *models.EndpointHealth) []any {
	if h.ID == uuid.Nil {
		h.ID = uuid.New()
	}
	return []any{
		h.ID,
		h.DiscoveredEndpointID,
		h.Status,
		h.IsHealthy,
		h.ResponseTime,
		h.CheckedAt,
		h.StatusCode,
		nullString(h.ErrorMessage),
		nullString(string(h.FailureReason)),
		nullString(h.URL),
		nullString(h.Method),
	}
}

func (r *endpointHealthRepository) Create(ctx context.Context, health *models.EndpointHealth) error {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return database.ErrNoScope
	}

	if _, err := scope.DB().Exec(ctx, insertEndpointHealth, insertArgs(health)...); err != nil {
		return fmt.Errorf("failed to create endpoint health: %w", err)
	}
	return nil
}

func (r *endpointHealthRepository) CreateBatch(ctx context.Context, rows []*models.EndpointHealth) error {
	if len(rows) == 0 {
		return nil
	}
	scope, ok := database.GetScope(ctx)
	if !ok {
		return database.ErrNoScope
	}

	tx, err := scope.DB().Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on defer is best-effort

	batch := &pgx.Batch{}
	for _, h := range rows {
		batch.Queue(insertEndpointHealth, insertArgs(h)...)
	}

	results := tx.SendBatch(ctx, batch)
	for range rows {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return fmt.Errorf("failed to insert endpoint health batch: %w", err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("failed to close endpoint health batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r *endpointHealthRepository) Latest(ctx context.Context, endpointID uuid.UUID) (*models.EndpointHealth, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, database.ErrNoScope
	}

	row := scope.DB().QueryRow(ctx, `
		SELECT `+endpointHealthColumns+`
		FROM endpoint_health
		WHERE discovered_endpoint_id = $1
		ORDER BY checked_at DESC
		LIMIT 1`, endpointID)
	health, err := scanEndpointHealth(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest endpoint health: %w", err)
	}
	return health, nil
}

func (r *endpointHealthRepository) LatestForMany(ctx context.Context, endpointIDs []uuid.UUID) (map[uuid.UUID]*models.EndpointHealth, error) {
	latest := make(map[uuid.UUID]*models.EndpointHealth, len(endpointIDs))
	if len(endpointIDs) == 0 {
		return latest, nil
	}
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, database.ErrNoScope
	}

	// DISTINCT ON keeps only the newest row per endpoint server-side.
	rows, err := scope.DB().Query(ctx, `
		SELECT DISTINCT ON (discovered_endpoint_id) `+endpointHealthColumns+`
		FROM endpoint_health
		WHERE discovered_endpoint_id = ANY($1)
		ORDER BY discovered_endpoint_id, checked_at DESC`, endpointIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest endpoint health: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		health, err := scanEndpointHealth(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan endpoint health: %w", err)
		}
		id := *health.DiscoveredEndpointID
		if _, seen := latest[id]; !seen {
			latest[id] = health
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate endpoint health: %w", err)
	}
	return latest, nil
}

func (r *endpointHealthRepository) ListByEndpoint(ctx context.Context, endpointID uuid.UUID, limit int) ([]*models.EndpointHealth, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, database.ErrNoScope
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := scope.DB().Query(ctx, `
		SELECT `+endpointHealthColumns+`
		FROM endpoint_health
		WHERE discovered_endpoint_id = $1
		ORDER BY checked_at DESC
		LIMIT $2`, endpointID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list endpoint health: %w", err)
	}
	defer rows.Close()

	var history []*models.EndpointHealth
	for rows.Next() {
		health, err := scanEndpointHealth(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan endpoint health: %w", err)
		}
		history = append(history, health)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate endpoint health: %w", err)
	}
	return history, nil
}

func scanEndpointHealth(row pgx.Row) (*models.EndpointHealth, error) {
	var h models.EndpointHealth
	var errorMessage, failureReason, url, method *string

	err := row.Scan(
		&h.ID, &h.DiscoveredEndpointID, &h.Status, &h.IsHealthy, &h.ResponseTime, &h.CheckedAt,
		&h.StatusCode, &errorMessage, &failureReason, &url, &method,
	)
	if err != nil {
		return nil, err
	}

	h.ErrorMessage = deref(errorMessage)
	h.FailureReason = models.FailureReason(deref(failureReason))
	h.URL = deref(url)
	h.Method = deref(method)
	return &h, nil
}
