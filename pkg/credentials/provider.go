// Package credentials builds the outbound authentication headers used when
// talking to a remote server.
package credentials

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/ekaya-inc/ekaya-probe/pkg/config"
	"github.com/ekaya-inc/ekaya-probe/pkg/logging"
	"github.com/ekaya-inc/ekaya-probe/pkg/models"
)

// APIKeyHeader carries the key for api-key servers.
const APIKeyHeader = "X-API-Key"

// DefaultTokenLifetime applies when neither expires_in nor a JWT exp claim is available.
const DefaultTokenLifetime = 3600 * time.Second

const defaultTokenTimeout = 10 * time.Second

// TokenStore persists a refreshed bearer token and its expiry together.
type TokenStore interface {
	UpdateToken(ctx context.Context, id uuid.UUID, token string, expiresAt time.Time) error
}

// Provider produces authentication headers for a remote server.
// Failures never surface as errors: the result degrades to empty headers.
type Provider interface {
	Headers(ctx context.Context, server *models.RemoteServer) map[string]string
}

type provider struct {
	store      TokenStore
	httpClient *http.Client
	cfg        config.CredentialsConfig
	group      singleflight.Group
	now        func() time.Time
	logger     *zap.Logger
}

var _ Provider = (*provider)(nil)

// NewProvider creates a credential provider. Refreshed bearer tokens are written through store.
func NewProvider(store TokenStore, cfg config.CredentialsConfig, logger *zap.Logger) Provider {
	return &provider{
		store:      store,
		httpClient: &http.Client{Timeout: cfg.TokenTimeout},
		cfg:        cfg,
		now:        time.Now,
		logger:     logger.Named("credentials"),
	}
}

func (p *provider) Headers(ctx context.Context, server *models.RemoteServer) map[string]string {
	headers := map[string]string{}

	switch server.AuthType {
	case models.AuthTypeBasic:
		if server.Username == "" || server.Password == "" {
			p.logger.Error("Basic auth requires username and password",
				zap.String("server_id", server.ID.String()))
			return headers
		}
		raw := server.Username + ":" + server.Password
		headers["Authorization"] = "Basic " + base64.StdEncoding.EncodeToString([]byte(raw))

	case models.AuthTypeBearerToken:
		token, err := p.bearerToken(ctx, server)
		if err != nil {
			p.logger.Error("Failed to obtain bearer token",
				zap.String("server_id", server.ID.String()),
				zap.String("error", logging.SanitizeError(err)))
			return headers
		}
		headers["Authorization"] = "Bearer " + token

	case models.AuthTypeAPIKey:
		if server.APIKey == "" {
			p.logger.Error("API key auth configured without a key",
				zap.String("server_id", server.ID.String()))
			return headers
		}
		headers[APIKeyHeader] = server.APIKey
	}

	return headers
}

type issuedToken struct {
	token     string
	expiresAt time.Time
}

// bearerToken returns the cached token if it is still valid, otherwise fetches
// a new one. Concurrent refreshes for the same server share one request.
// The shared request is detached from the caller that started it, so one
// caller's cancellation does not fail the others; it is bounded by TokenTimeout.
func (p *provider) bearerToken(ctx context.Context, server *models.RemoteServer) (string, error) {
	if server.HasValidToken(p.now(), p.cfg.ExpirySkew) {
		return server.AccessToken, nil
	}

	ch := p.group.DoChan(server.ID.String(), func() (any, error) {
		refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.tokenTimeout())
		defer cancel()

		issued, err := p.fetchToken(refreshCtx, server)
		if err != nil {
			return nil, err
		}
		if err := p.store.UpdateToken(refreshCtx, server.ID, issued.token, issued.expiresAt); err != nil {
			// The token is still usable for this run.
			p.logger.Warn("Failed to persist refreshed token",
				zap.String("server_id", server.ID.String()),
				zap.String("error", logging.SanitizeError(err)))
		}
		return issued, nil
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	if res.Err != nil {
		return "", res.Err
	}

	issued := res.Val.(*issuedToken)
	server.AccessToken = issued.token
	server.TokenExpiresAt = &issued.expiresAt
	return issued.token, nil
}

func (p *provider) tokenTimeout() time.Duration {
	if p.cfg.TokenTimeout > 0 {
		return p.cfg.TokenTimeout
	}
	return defaultTokenTimeout
}

type tokenRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   *int64 `json:"expires_in"`
}

func (p *provider) fetchToken(ctx context.Context, server *models.RemoteServer) (*issuedToken, error) {
	if server.TokenEndpoint == "" {
		return nil, errors.New("no token endpoint configured")
	}

	body, err := json.Marshal(tokenRequest{Username: server.Username, Password: server.Password})
	if err != nil {
		return nil, fmt.Errorf("encode token request: %w", err)
	}

	tokenURL := TokenURL(server.BaseURL, server.TokenEndpoint)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("token endpoint returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var result tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	if result.AccessToken == "" {
		return nil, errors.New("token response missing access_token")
	}

	now := p.now()
	expiresAt := now.Add(DefaultTokenLifetime)
	switch {
	case result.ExpiresIn != nil:
		expiresAt = now.Add(time.Duration(*result.ExpiresIn) * time.Second)
	default:
		if exp, ok := jwtExpiry(result.AccessToken); ok {
			expiresAt = exp
		}
	}

	p.logger.Info("Refreshed bearer token",
		zap.String("server_id", server.ID.String()),
		zap.Time("expires_at", expiresAt))

	return &issuedToken{token: result.AccessToken, expiresAt: expiresAt}, nil
}

// jwtExpiry reads the exp claim without verifying the signature; the token
// was just issued to us by the server that will verify it.
func jwtExpiry(token string) (time.Time, bool) {
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	parsed, _, err := parser.ParseUnverified(token, &jwt.RegisteredClaims{})
	if err != nil {
		return time.Time{}, false
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// TokenURL joins a token endpoint onto the server base URL. Absolute endpoints are returned unchanged.
func TokenURL(baseURL, endpoint string) string {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return endpoint
	}
	return strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(endpoint, "/")
}
