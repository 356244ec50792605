// Package openapi fetches a remote server's OpenAPI document and turns it into
// candidate endpoints for reconciliation.
package openapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/ekaya-inc/ekaya-probe/pkg/config"
	"github.com/ekaya-inc/ekaya-probe/pkg/credentials"
	"github.com/ekaya-inc/ekaya-probe/pkg/logging"
	"github.com/ekaya-inc/ekaya-probe/pkg/models"
)

// ErrSchemaNotFound is returned when none of the candidate paths yields a
// parseable document. Callers treat it as "no discovery run".
var ErrSchemaNotFound = errors.New("no OpenAPI schema found")

// maxSchemaBytes bounds how much of a schema response is read.
const maxSchemaBytes = 10 << 20

// supportedMethods are the operations extracted from a path item.
var supportedMethods = map[string]bool{
	"get":    true,
	"post":   true,
	"put":    true,
	"delete": true,
	"patch":  true,
}

// Discoverer extracts candidate endpoints from a server's published schema.
type Discoverer interface {
	Discover(ctx context.Context, server *models.RemoteServer) ([]models.CandidateEndpoint, error)
}

type discoverer struct {
	credentials credentials.Provider
	httpClient  *http.Client
	schemaPaths []string
	logger      *zap.Logger
}

var _ Discoverer = (*discoverer)(nil)

// NewDiscoverer creates a Discoverer that tries cfg.SchemaPaths in order.
func NewDiscoverer(provider credentials.Provider, cfg config.DiscoveryConfig, logger *zap.Logger) Discoverer {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &discoverer{
		credentials: provider,
		httpClient:  &http.Client{Timeout: timeout},
		schemaPaths: cfg.SchemaPaths,
		logger:      logger.Named("discovery"),
	}
}

func (d *discoverer) Discover(ctx context.Context, server *models.RemoteServer) ([]models.CandidateEndpoint, error) {
	headers := d.credentials.Headers(ctx, server)

	for _, path := range d.schemaPaths {
		doc, err := d.fetch(ctx, server.BaseURL, path, headers)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			d.logger.Debug("Schema path unavailable",
				zap.String("server_id", server.ID.String()),
				zap.String("path", path),
				zap.String("error", logging.SanitizeError(err)))
			continue
		}

		candidates := ExtractEndpoints(doc)
		d.logger.Info("Discovered schema",
			zap.String("server_id", server.ID.String()),
			zap.String("path", path),
			zap.Int("endpoints", len(candidates)))
		return candidates, nil
	}

	return nil, ErrSchemaNotFound
}

func (d *discoverer) fetch(ctx context.Context, baseURL, path string, headers map[string]string) (map[string]any, error) {
	url := strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(path, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create schema request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("schema request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("schema endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSchemaBytes))
	if err != nil {
		return nil, fmt.Errorf("read schema body: %w", err)
	}

	return ParseDocument(path, body)
}

// ParseDocument decodes a schema body. Paths ending in .yaml or .yml are
// decoded as YAML; everything else must be JSON.
func ParseDocument(path string, body []byte) (map[string]any, error) {
	lower := strings.ToLower(path)
	if strings.HasSuffix(lower, ".yaml") || strings.HasSuffix(lower, ".yml") {
		var raw any
		if err := yaml.Unmarshal(body, &raw); err != nil {
			return nil, fmt.Errorf("decode yaml schema: %w", err)
		}
		doc, ok := normalizeYAML(raw).(map[string]any)
		if !ok {
			return nil, errors.New("yaml schema is not an object")
		}
		return doc, nil
	}

	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decode json schema: %w", err)
	}
	if doc == nil {
		return nil, errors.New("json schema is not an object")
	}
	return doc, nil
}

// normalizeYAML turns map[any]any (YAML allows non-string keys, e.g. 200:)
// into map[string]any so the document matches the JSON shape.
func normalizeYAML(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			t[k] = normalizeYAML(val)
		}
		return t
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = normalizeYAML(val)
		}
		return out
	case []any:
		for i, val := range t {
			t[i] = normalizeYAML(val)
		}
		return t
	default:
		return v
	}
}

// ExtractEndpoints walks doc["paths"] and returns one candidate per supported
// operation, in path then method order. Duplicate identity hashes within the
// document are collapsed; the first occurrence wins.
func ExtractEndpoints(doc map[string]any) []models.CandidateEndpoint {
	paths, _ := doc["paths"].(map[string]any)

	pathKeys := make([]string, 0, len(paths))
	for p := range paths {
		pathKeys = append(pathKeys, p)
	}
	sort.Strings(pathKeys)

	seen := make(map[string]bool)
	var candidates []models.CandidateEndpoint
	for _, path := range pathKeys {
		item, ok := paths[path].(map[string]any)
		if !ok {
			continue
		}

		methodKeys := make([]string, 0, len(item))
		for m := range item {
			if supportedMethods[strings.ToLower(m)] {
				methodKeys = append(methodKeys, m)
			}
		}
		sort.Strings(methodKeys)

		for _, m := range methodKeys {
			op, ok := item[m].(map[string]any)
			if !ok {
				continue
			}
			method := strings.ToUpper(m)
			params := extractParameters(op)
			hash := IdentityHash(path, method, params)
			if seen[hash] {
				continue
			}
			seen[hash] = true

			candidates = append(candidates, models.CandidateEndpoint{
				Path:           path,
				Method:         method,
				Description:    describe(op),
				Parameters:     params,
				ResponseSchema: successContent(op),
				Hash:           hash,
			})
		}
	}
	return candidates
}

func extractParameters(op map[string]any) []models.Parameter {
	raw, _ := op["parameters"].([]any)
	params := make([]models.Parameter, 0, len(raw))
	for _, p := range raw {
		if m, ok := p.(map[string]any); ok {
			params = append(params, models.Parameter(m))
		}
	}
	return params
}

func describe(op map[string]any) string {
	if s, _ := op["summary"].(string); s != "" {
		return s
	}
	s, _ := op["description"].(string)
	return s
}

// successContent returns responses["200"]["content"], or an empty map.
func successContent(op map[string]any) map[string]any {
	responses, _ := op["responses"].(map[string]any)
	ok200, _ := responses["200"].(map[string]any)
	content, _ := ok200["content"].(map[string]any)
	if content == nil {
		return map[string]any{}
	}
	return content
}
