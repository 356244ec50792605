// Package probe issues health probes against HTTP endpoints and classifies
// the outcome.
package probe

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ekaya-inc/ekaya-probe/pkg/config"
	"github.com/ekaya-inc/ekaya-probe/pkg/logging"
	"github.com/ekaya-inc/ekaya-probe/pkg/models"
	"github.com/ekaya-inc/ekaya-probe/pkg/workerpool"
)

// DisabledStatusCode is reported for endpoints that are switched off.
const DisabledStatusCode = http.StatusServiceUnavailable

// Target is one endpoint to probe.
type Target struct {
	EndpointID *uuid.UUID
	BaseURL    string
	Path       string // Relative path or absolute URL
	Method     string
	Disabled   bool
}

// ChunkFunc receives each chunk's results as soon as the chunk completes.
// A non-nil error aborts the batch.
type ChunkFunc func(ctx context.Context, results []models.ProbeResult) error

// BatchOptions configures ProbeBatch.
type BatchOptions struct {
	Size    int               // Probes per chunk (default from config, capped at MaxBatchSize)
	Timeout time.Duration     // Per-probe timeout (default from config)
	Headers map[string]string // Credential headers applied to every probe
	OnChunk ChunkFunc
}

// Runner probes endpoints.
type Runner interface {
	// ProbeOne issues a single probe. Failures are classified into the result, never returned.
	ProbeOne(ctx context.Context, target Target, headers map[string]string) models.ProbeResult

	// ProbeBatch probes targets in chunks. Each chunk runs concurrently and is
	// joined before the next starts. Results are in target order. On an
	// OnChunk error or cancellation the results gathered so far are returned
	// with the error.
	ProbeBatch(ctx context.Context, targets []Target, opts BatchOptions) ([]models.ProbeResult, error)
}

type runner struct {
	httpClient   *http.Client
	limiter      *rate.Limiter
	cfg          config.ProbeConfig
	placeholders Placeholders
	now          func() time.Time
	logger       *zap.Logger
}

var _ Runner = (*runner)(nil)

// NewRunner creates a Runner. Outbound requests are paced by a token bucket
// of cfg.RequestsPerSecond with cfg.Burst.
func NewRunner(cfg config.ProbeConfig, logger *zap.Logger) Runner {
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}

	return &runner{
		httpClient: &http.Client{
			// Probes report redirects as healthy 3xx rather than following them.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		limiter: rate.NewLimiter(limit, burst),
		cfg:     cfg,
		placeholders: Placeholders{
			Values:  cfg.PlaceholderValues,
			Default: cfg.DefaultPlaceholderValue,
		},
		now:    time.Now,
		logger: logger.Named("probe"),
	}
}

func (r *runner) ProbeOne(ctx context.Context, target Target, headers map[string]string) models.ProbeResult {
	return r.probe(ctx, target, headers, r.cfg.Timeout)
}

func (r *runner) probe(ctx context.Context, target Target, headers map[string]string, timeout time.Duration) models.ProbeResult {
	result := r.newResult(target)
	method, url := result.Method, result.URL

	if target.Disabled {
		code := DisabledStatusCode
		result.StatusCode = &code
		result.FailureReason = models.FailureDisabled
		result.IsDisabled = true
		result.ErrorMessage = "endpoint is disabled"
		return result
	}

	// Pacing happens before the probe deadline starts; only the request itself is timed.
	if err := r.limiter.Wait(ctx); err != nil {
		result.FailureReason = models.FailureUnknownError
		if ctx.Err() != nil {
			result.FailureReason = ClassifyError(ctx.Err())
		}
		result.ErrorMessage = fmt.Sprintf("rate limiter: %v", err)
		return result
	}

	if timeout <= 0 {
		timeout = r.cfg.Timeout
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := r.newRequest(probeCtx, method, url, headers)
	if err != nil {
		result.FailureReason = models.FailureUnknownError
		result.ErrorMessage = err.Error()
		return result
	}

	start := time.Now()
	resp, err := r.httpClient.Do(req)
	result.ResponseTime = time.Since(start).Seconds()
	if err != nil {
		result.FailureReason = ClassifyError(err)
		result.ErrorMessage = logging.SanitizeError(err)
		r.logger.Debug("Probe failed",
			zap.String("url", logging.SanitizeURL(url)),
			zap.String("method", method),
			zap.String("failure_reason", string(result.FailureReason)),
			zap.String("error", result.ErrorMessage))
		return result
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()

	code := resp.StatusCode
	result.StatusCode = &code
	result.Status, result.FailureReason = Classify(code)
	if !result.Status {
		result.ErrorMessage = fmt.Sprintf("HTTP %d %s", code, http.StatusText(code))
	}
	return result
}

// newResult fills the identifying fields every result for target carries.
func (r *runner) newResult(target Target) models.ProbeResult {
	method := strings.ToUpper(target.Method)
	if method == "" {
		method = http.MethodGet
	}
	return models.ProbeResult{
		EndpointID: target.EndpointID,
		URL:        r.placeholders.Substitute(ResolveURL(target.BaseURL, target.Path)),
		Method:     method,
		CheckedAt:  r.now(),
	}
}

func (r *runner) newRequest(ctx context.Context, method, url string, headers map[string]string) (*http.Request, error) {
	var body io.Reader
	if method != http.MethodGet && method != http.MethodHead {
		body = bytes.NewReader([]byte("{}"))
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("create probe request: %w", err)
	}

	req.Header.Set(r.healthCheckHeader(), "true")
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

func (r *runner) healthCheckHeader() string {
	if r.cfg.HealthCheckHeader != "" {
		return r.cfg.HealthCheckHeader
	}
	return "X-Health-Check"
}

// ClampBatchSize resolves a requested chunk size: non-positive sizes fall
// back to cfg.BatchSize and nothing exceeds cfg.MaxBatchSize.
func ClampBatchSize(size int, cfg config.ProbeConfig) int {
	if size < 1 {
		size = cfg.BatchSize
	}
	if size < 1 {
		size = 1
	}
	if cfg.MaxBatchSize > 0 && size > cfg.MaxBatchSize {
		size = cfg.MaxBatchSize
	}
	return size
}

func (r *runner) ProbeBatch(ctx context.Context, targets []Target, opts BatchOptions) ([]models.ProbeResult, error) {
	size := ClampBatchSize(opts.Size, r.cfg)
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = r.cfg.Timeout
	}

	pool := workerpool.New(workerpool.Config{MaxConcurrent: size}, r.logger)
	results := make([]models.ProbeResult, 0, len(targets))

	for start := 0; start < len(targets); start += size {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		end := min(start+size, len(targets))
		chunk := targets[start:end]

		items := make([]workerpool.WorkItem[models.ProbeResult], len(chunk))
		for i, target := range chunk {
			items[i] = workerpool.WorkItem[models.ProbeResult]{
				ID: target.Method + " " + target.Path,
				Execute: func(ctx context.Context) (models.ProbeResult, error) {
					return r.probe(ctx, target, opts.Headers, timeout), nil
				},
			}
		}

		chunkResults := make([]models.ProbeResult, len(chunk))
		for i, wr := range workerpool.Process(ctx, pool, items, nil) {
			chunkResults[i] = wr.Result
			if wr.Err != nil {
				// Never started because ctx was cancelled.
				result := r.newResult(chunk[i])
				result.FailureReason = ClassifyError(wr.Err)
				result.ErrorMessage = wr.Err.Error()
				chunkResults[i] = result
			}
		}

		if opts.OnChunk != nil {
			if err := opts.OnChunk(ctx, chunkResults); err != nil {
				return results, err
			}
		}
		results = append(results, chunkResults...)

		r.logger.Debug("Probed chunk",
			zap.Int("chunk_start", start),
			zap.Int("chunk_size", len(chunk)),
			zap.Int("max_concurrent", pool.MaxConcurrent()),
			zap.Int("total", len(targets)))
	}

	return results, nil
}
