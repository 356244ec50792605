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
	"github.com/ekaya-inc/ekaya-probe/pkg/crypto"
	"github.com/ekaya-inc/ekaya-probe/pkg/database"
	"github.com/ekaya-inc/ekaya-probe/pkg/models"
)

// RemoteServerRepository defines data access for monitored servers.
// Secrets are encrypted on write and decrypted on read.
type RemoteServerRepository interface {
	// Create inserts a new server. Returns ErrConflict if name or base_url already exists.
	Create(ctx context.Context, server *models.RemoteServer) error

	// GetByID retrieves a server. Returns ErrNotFound if missing.
	GetByID(ctx context.Context, id uuid.UUID) (*models.RemoteServer, error)

	// ListActive returns all active servers except the local-system pseudo-server.
	ListActive(ctx context.Context) ([]*models.RemoteServer, error)

	// UpdateToken writes the bearer token and its expiry in a single statement.
	UpdateToken(ctx context.Context, id uuid.UUID, token string, expiresAt time.Time) error

	// UpdateStatus records the outcome of a server status check.
	UpdateStatus(ctx context.Context, id uuid.UUID, update models.ServerStatusUpdate) error

	// UpdateBaseURL changes a server's base URL.
	UpdateBaseURL(ctx context.Context, id uuid.UUID, baseURL string) error
}

type remoteServerRepository struct {
	secrets crypto.Secrets
}

var _ RemoteServerRepository = (*remoteServerRepository)(nil)

// NewRemoteServerRepository creates a new remote server repository.
func NewRemoteServerRepository(secrets crypto.Secrets) RemoteServerRepository {
	return &remoteServerRepository{secrets: secrets}
}

const remoteServerColumns = `
	id, name, base_url, description, status, is_active, auth_type,
	username, password, api_key, token_endpoint, access_token, token_expires_at,
	health_check_url, retry_count, last_error, last_checked, created_at, updated_at`

func (r *remoteServerRepository) Create(ctx context.Context, server *models.RemoteServer) error {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return database.ErrNoScope
	}

	if server.ID == uuid.Nil {
		server.ID = uuid.New()
	}
	if server.Status == "" {
		server.Status = models.ServerStatusOffline
	}
	if server.AuthType == "" {
		server.AuthType = models.AuthTypeNone
	}
	now := time.Now()
	server.CreatedAt = now
	server.UpdatedAt = now

	password, err := r.secrets.Encrypt(server.Password)
	if err != nil {
		return fmt.Errorf("failed to encrypt password: %w", err)
	}
	apiKey, err := r.secrets.Encrypt(server.APIKey)
	if err != nil {
		return fmt.Errorf("failed to encrypt api key: %w", err)
	}
	accessToken, err := r.secrets.Encrypt(server.AccessToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt access token: %w", err)
	}

	query := `
		INSERT INTO remote_servers (
			id, name, base_url, description, status, is_active, auth_type,
			username, password, api_key, token_endpoint, access_token, token_expires_at,
			health_check_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	_, err = scope.DB().Exec(ctx, query,
		server.ID,
		server.Name,
		server.BaseURL,
		server.Description,
		server.Status,
		server.IsActive,
		string(server.AuthType),
		nullString(server.Username),
		nullString(password),
		nullString(apiKey),
		nullString(server.TokenEndpoint),
		nullString(accessToken),
		server.TokenExpiresAt,
		nullString(server.HealthCheckURL),
		server.CreatedAt,
		server.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperrors.ErrConflict
		}
		return fmt.Errorf("failed to create remote server: %w", err)
	}

	return nil
}

func (r *remoteServerRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.RemoteServer, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, database.ErrNoScope
	}

	row := scope.DB().QueryRow(ctx, `SELECT `+remoteServerColumns+` FROM remote_servers WHERE id = $1`, id)
	server, err := r.scan(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get remote server: %w", err)
	}
	return server, nil
}

func (r *remoteServerRepository) ListActive(ctx context.Context) ([]*models.RemoteServer, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, database.ErrNoScope
	}

	rows, err := scope.DB().Query(ctx, `
		SELECT `+remoteServerColumns+`
		FROM remote_servers
		WHERE is_active = true
		ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list remote servers: %w", err)
	}
	defer rows.Close()

	var servers []*models.RemoteServer
	for rows.Next() {
		server, err := r.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan remote server: %w", err)
		}
		if server.IsLocalSystem() {
			continue
		}
		servers = append(servers, server)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate remote servers: %w", err)
	}
	return servers, nil
}

func (r *remoteServerRepository) UpdateToken(ctx context.Context, id uuid.UUID, token string, expiresAt time.Time) error {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return database.ErrNoScope
	}

	encrypted, err := r.secrets.Encrypt(token)
	if err != nil {
		return fmt.Errorf("failed to encrypt access token: %w", err)
	}

	tag, err := scope.DB().Exec(ctx, `
		UPDATE remote_servers
		SET access_token = $2, token_expires_at = $3, updated_at = now()
		WHERE id = $1`, id, nullString(encrypted), expiresAt)
	if err != nil {
		return fmt.Errorf("failed to update access token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *remoteServerRepository) UpdateStatus(ctx context.Context, id uuid.UUID, update models.ServerStatusUpdate) error {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return database.ErrNoScope
	}

	tag, err := scope.DB().Exec(ctx, `
		UPDATE remote_servers
		SET status = $2, last_checked = $3, last_error = $4, retry_count = $5, updated_at = now()
		WHERE id = $1`,
		id, update.Status, update.LastChecked, nullString(update.LastError), update.RetryCount)
	if err != nil {
		return fmt.Errorf("failed to update server status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *remoteServerRepository) UpdateBaseURL(ctx context.Context, id uuid.UUID, baseURL string) error {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return database.ErrNoScope
	}

	tag, err := scope.DB().Exec(ctx,
		`UPDATE remote_servers SET base_url = $2, updated_at = now() WHERE id = $1`, id, baseURL)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperrors.ErrConflict
		}
		return fmt.Errorf("failed to update base url: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *remoteServerRepository) scan(row pgx.Row) (*models.RemoteServer, error) {
	var s models.RemoteServer
	var authType string
	var username, password, apiKey, tokenEndpoint, accessToken, healthCheckURL, lastError *string

	err := row.Scan(
		&s.ID, &s.Name, &s.BaseURL, &s.Description, &s.Status, &s.IsActive, &authType,
		&username, &password, &apiKey, &tokenEndpoint, &accessToken, &s.TokenExpiresAt,
		&healthCheckURL, &s.RetryCount, &lastError, &s.LastChecked, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	s.AuthType = models.AuthType(authType)
	s.Username = deref(username)
	s.TokenEndpoint = deref(tokenEndpoint)
	s.HealthCheckURL = deref(healthCheckURL)
	s.LastError = deref(lastError)

	if s.Password, err = r.decrypt(password); err != nil {
		return nil, err
	}
	if s.APIKey, err = r.decrypt(apiKey); err != nil {
		return nil, err
	}
	if s.AccessToken, err = r.decrypt(accessToken); err != nil {
		return nil, err
	}

	return &s, nil
}

func (r *remoteServerRepository) decrypt(value *string) (string, error) {
	plaintext, err := r.secrets.Decrypt(deref(value))
	if err != nil {
		return "", fmt.Errorf("%w: %v", apperrors.ErrCredentialsKeyMismatch, err)
	}
	return plaintext, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
