package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-probe/pkg/adapters/openapi"
	"github.com/ekaya-inc/ekaya-probe/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-probe/pkg/config"
	"github.com/ekaya-inc/ekaya-probe/pkg/credentials"
	"github.com/ekaya-inc/ekaya-probe/pkg/database"
	"github.com/ekaya-inc/ekaya-probe/pkg/logging"
	"github.com/ekaya-inc/ekaya-probe/pkg/models"
	"github.com/ekaya-inc/ekaya-probe/pkg/probe"
	"github.com/ekaya-inc/ekaya-probe/pkg/repositories"
)

// DefaultHealthCheckPath is probed by CheckServerStatus when a server has no health_check_url.
const DefaultHealthCheckPath = "/health"

// ScanOptions tunes a scan.
type ScanOptions struct {
	BatchSize int  // Probes per chunk; 0 uses the configured default
	Short     bool // Use the short per-probe timeout
}

// MonitoringService discovers endpoints on remote servers and records their health.
// All methods expect a database scope in ctx.
type MonitoringService interface {
	// DiscoverAndStore fetches the server's schema and reconciles it into
	// stored endpoints. A server with no reachable schema yields zero counts
	// and leaves stored endpoints untouched.
	DiscoverAndStore(ctx context.Context, serverID uuid.UUID) (*models.DiscoveryResult, error)

	// Scan probes every active endpoint of the server, persisting each chunk as it completes.
	Scan(ctx context.Context, serverID uuid.UUID, opts ScanOptions) ([]models.ProbeResult, error)

	// ScanLocal probes this service's registered endpoints.
	ScanLocal(ctx context.Context, opts ScanOptions) ([]models.ProbeResult, error)

	// LatestHealth returns the most recent probe of an endpoint, or nil if it was never probed.
	LatestHealth(ctx context.Context, endpointID uuid.UUID) (*models.ProbeResult, error)

	// HealthHistory returns recent probes of an endpoint, newest first.
	HealthHistory(ctx context.Context, endpointID uuid.UUID, limit int) ([]*models.ProbeResult, error)

	// DiscoverAndMonitor runs discovery then a full scan under one scan lock.
	DiscoverAndMonitor(ctx context.Context, serverID uuid.UUID) (*models.MonitorResult, error)

	// ListEndpointsWithHealth returns the server's endpoints with their latest probe attached.
	ListEndpointsWithHealth(ctx context.Context, serverID uuid.UUID) ([]models.EndpointWithHealth, error)

	// CheckServerStatus requests the server's health URL and records the outcome on the server.
	CheckServerStatus(ctx context.Context, serverID uuid.UUID) (*models.RemoteServer, error)

	// SetRegisteredEndpointEnabled toggles whether local scans probe a registered endpoint.
	SetRegisteredEndpointEnabled(ctx context.Context, id uuid.UUID, enabled bool) (*models.RegisteredEndpoint, error)
}

// MonitoringDeps groups the collaborators of the monitoring service.
type MonitoringDeps struct {
	ServerRepo     repositories.RemoteServerRepository
	EndpointRepo   repositories.DiscoveredEndpointRepository
	RegisteredRepo repositories.RegisteredEndpointRepository
	Discoverer     openapi.Discoverer
	Reconciler     EndpointReconciler
	Ledger         HealthLedger
	Runner         probe.Runner
	Credentials    credentials.Provider
	Lock           ScanLock
}

type monitoringService struct {
	serverRepo     repositories.RemoteServerRepository
	endpointRepo   repositories.DiscoveredEndpointRepository
	registeredRepo repositories.RegisteredEndpointRepository
	discoverer     openapi.Discoverer
	reconciler     EndpointReconciler
	ledger         HealthLedger
	runner         probe.Runner
	credentials    credentials.Provider
	lock           ScanLock
	cfg            config.ProbeConfig
	localBaseURL   string
	httpClient     *http.Client
	inTx           txFunc
	now            func() time.Time
	logger         *zap.Logger
}

var _ MonitoringService = (*monitoringService)(nil)

// NewMonitoringService creates the monitoring service. localBaseURL is where
// this service's own registered endpoints are reachable.
func NewMonitoringService(deps MonitoringDeps, cfg config.ProbeConfig, localBaseURL string, logger *zap.Logger) MonitoringService {
	return &monitoringService{
		serverRepo:     deps.ServerRepo,
		endpointRepo:   deps.EndpointRepo,
		registeredRepo: deps.RegisteredRepo,
		discoverer:     deps.Discoverer,
		reconciler:     deps.Reconciler,
		ledger:         deps.Ledger,
		runner:         deps.Runner,
		credentials:    deps.Credentials,
		lock:           deps.Lock,
		cfg:            cfg,
		localBaseURL:   localBaseURL,
		httpClient:     &http.Client{Timeout: cfg.Timeout},
		inTx:           database.InTx,
		now:            time.Now,
		logger:         logger.Named("monitoring-service"),
	}
}

func (s *monitoringService) DiscoverAndStore(ctx context.Context, serverID uuid.UUID) (*models.DiscoveryResult, error) {
	release, err := s.lock.TryAcquire(ctx, serverID)
	if err != nil {
		return nil, err
	}
	defer release()

	server, err := s.serverRepo.GetByID(ctx, serverID)
	if err != nil {
		return nil, err
	}
	return s.discoverAndStore(ctx, server)
}

func (s *monitoringService) discoverAndStore(ctx context.Context, server *models.RemoteServer) (*models.DiscoveryResult, error) {
	candidates, err := s.discoverer.Discover(ctx, server)
	if errors.Is(err, openapi.ErrSchemaNotFound) {
		// No run: stored endpoints stay as they are.
		s.logger.Error("No API schema found; skipping reconciliation",
			zap.String("server_id", server.ID.String()),
			zap.String("base_url", logging.SanitizeURL(server.BaseURL)))
		return &models.DiscoveryResult{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to discover endpoints: %w", err)
	}

	reconciled, err := s.reconciler.Reconcile(ctx, server.ID, candidates)
	if err != nil {
		return nil, err
	}

	return &models.DiscoveryResult{
		DiscoveredCount: len(candidates),
		StoredCount:     reconciled.Stored(),
	}, nil
}

func (s *monitoringService) Scan(ctx context.Context, serverID uuid.UUID, opts ScanOptions) ([]models.ProbeResult, error) {
	if err := s.validateScanOptions(opts); err != nil {
		return nil, err
	}
	release, err := s.lock.TryAcquire(ctx, serverID)
	if err != nil {
		return nil, err
	}
	defer release()

	server, err := s.serverRepo.GetByID(ctx, serverID)
	if err != nil {
		return nil, err
	}
	return s.scan(ctx, server, opts)
}

func (s *monitoringService) scan(ctx context.Context, server *models.RemoteServer, opts ScanOptions) ([]models.ProbeResult, error) {
	endpoints, err := s.endpointRepo.ListActiveByServer(ctx, server.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list endpoints: %w", err)
	}

	targets := make([]probe.Target, len(endpoints))
	for i, e := range endpoints {
		id := e.ID
		targets[i] = probe.Target{
			EndpointID: &id,
			BaseURL:    server.BaseURL,
			Path:       e.Path,
			Method:     e.Method,
		}
	}

	session := s.openSession(server.ID, s.credentials.Headers(ctx, server))
	results, err := s.runner.ProbeBatch(ctx, targets, s.batchOptions(opts, session))
	session.close(err)
	if err != nil {
		return results, fmt.Errorf("scan aborted: %w", err)
	}
	return results, nil
}

// validateScanOptions rejects chunk sizes above the configured maximum.
func (s *monitoringService) validateScanOptions(opts ScanOptions) error {
	if s.cfg.MaxBatchSize > 0 && opts.BatchSize > s.cfg.MaxBatchSize {
		return fmt.Errorf("%w: batch_size %d exceeds maximum %d",
			apperrors.ErrInvalidInput, opts.BatchSize, s.cfg.MaxBatchSize)
	}
	return nil
}

func (s *monitoringService) batchOptions(opts ScanOptions, session *scanSession) probe.BatchOptions {
	size := opts.BatchSize
	if size < 1 {
		size = s.cfg.BatchSize
	}
	timeout := s.cfg.Timeout
	if opts.Short {
		timeout = s.cfg.ShortTimeout
	}
	return probe.BatchOptions{
		Size:    size,
		Timeout: timeout,
		Headers: session.headers,
		OnChunk: session.persistChunk,
	}
}

func (s *monitoringService) ScanLocal(ctx context.Context, opts ScanOptions) ([]models.ProbeResult, error) {
	if err := s.validateScanOptions(opts); err != nil {
		return nil, err
	}
	release, err := s.lock.TryAcquire(ctx, models.LocalSystemServerID)
	if err != nil {
		return nil, err
	}
	defer release()

	registered, err := s.registeredRepo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list registered endpoints: %w", err)
	}

	discovered, err := s.endpointRepo.ListByServer(ctx, models.LocalSystemServerID)
	if err != nil {
		return nil, fmt.Errorf("failed to match registered endpoints: %w", err)
	}
	byRoute := indexByRoute(discovered)

	targets := make([]probe.Target, len(registered))
	for i, r := range registered {
		target := probe.Target{
			BaseURL:  s.localBaseURL,
			Path:     r.URL,
			Method:   r.Method,
			Disabled: !r.IsEnabled,
		}
		if match, ok := byRoute[routeKey{path: r.URL, method: strings.ToUpper(r.Method)}]; ok {
			id := match.ID
			target.EndpointID = &id
		}
		targets[i] = target
	}

	session := s.openSession(models.LocalSystemServerID, map[string]string{})
	results, err := s.runner.ProbeBatch(ctx, targets, s.batchOptions(opts, session))
	session.close(err)
	if err != nil {
		return results, fmt.Errorf("local scan aborted: %w", err)
	}
	return results, nil
}

type routeKey struct {
	path   string
	method string
}

// indexByRoute keys endpoints by (path, method). When several parameter
// variants share a route, the active one wins, then the most recently discovered.
func indexByRoute(endpoints []*models.DiscoveredEndpoint) map[routeKey]*models.DiscoveredEndpoint {
	index := make(map[routeKey]*models.DiscoveredEndpoint, len(endpoints))
	for _, e := range endpoints {
		key := routeKey{path: e.Path, method: strings.ToUpper(e.Method)}
		current, ok := index[key]
		if !ok ||
			(e.IsActive && !current.IsActive) ||
			(e.IsActive == current.IsActive && e.DiscoveredAt.After(current.DiscoveredAt)) {
			index[key] = e
		}
	}
	return index
}

func (s *monitoringService) LatestHealth(ctx context.Context, endpointID uuid.UUID) (*models.ProbeResult, error) {
	return s.ledger.Latest(ctx, endpointID)
}

func (s *monitoringService) HealthHistory(ctx context.Context, endpointID uuid.UUID, limit int) ([]*models.ProbeResult, error) {
	if _, err := s.endpointRepo.GetByID(ctx, endpointID); err != nil {
		return nil, err
	}
	return s.ledger.History(ctx, endpointID, limit)
}

func (s *monitoringService) DiscoverAndMonitor(ctx context.Context, serverID uuid.UUID) (*models.MonitorResult, error) {
	release, err := s.lock.TryAcquire(ctx, serverID)
	if err != nil {
		return nil, err
	}
	defer release()

	server, err := s.serverRepo.GetByID(ctx, serverID)
	if err != nil {
		return nil, err
	}

	discovery, err := s.discoverAndStore(ctx, server)
	if err != nil {
		return nil, err
	}

	results, err := s.scan(ctx, server, ScanOptions{})
	if err != nil {
		return nil, err
	}

	monitor := &models.MonitorResult{Discovery: discovery, Results: results}
	for _, r := range results {
		if r.Status {
			monitor.Healthy++
		} else {
			monitor.Unhealthy++
		}
	}
	return monitor, nil
}

func (s *monitoringService) ListEndpointsWithHealth(ctx context.Context, serverID uuid.UUID) ([]models.EndpointWithHealth, error) {
	if _, err := s.serverRepo.GetByID(ctx, serverID); err != nil {
		return nil, err
	}

	endpoints, err := s.endpointRepo.ListByServer(ctx, serverID)
	if err != nil {
		return nil, fmt.Errorf("failed to list endpoints: %w", err)
	}

	ids := make([]uuid.UUID, len(endpoints))
	for i, e := range endpoints {
		ids[i] = e.ID
	}
	latest, err := s.ledger.LatestForMany(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load latest health: %w", err)
	}

	out := make([]models.EndpointWithHealth, len(endpoints))
	for i, e := range endpoints {
		out[i] = models.EndpointWithHealth{Endpoint: e, LatestHealth: latest[e.ID]}
	}
	return out, nil
}

func (s *monitoringService) CheckServerStatus(ctx context.Context, serverID uuid.UUID) (*models.RemoteServer, error) {
	server, err := s.serverRepo.GetByID(ctx, serverID)
	if err != nil {
		return nil, err
	}

	path := server.HealthCheckURL
	if path == "" {
		path = DefaultHealthCheckPath
	}
	url := probe.ResolveURL(server.BaseURL, path)

	update := models.ServerStatusUpdate{
		LastChecked: s.now(),
		RetryCount:  0,
	}

	statusCode, err := s.getStatus(ctx, url, s.credentials.Headers(ctx, server))
	switch {
	case err != nil:
		update.Status = models.ServerStatusError
		update.LastError = logging.TruncateString(logging.SanitizeError(err), logging.MaxErrorLength)
		update.RetryCount = server.RetryCount + 1
	case statusCode == http.StatusOK:
		update.Status = models.ServerStatusActive
	default:
		update.Status = models.ServerStatusError
		update.LastError = fmt.Sprintf("health check returned HTTP %d", statusCode)
	}

	if err := s.serverRepo.UpdateStatus(ctx, server.ID, update); err != nil {
		return nil, fmt.Errorf("failed to record server status: %w", err)
	}

	s.logger.Info("Checked server status",
		zap.String("server_id", server.ID.String()),
		zap.String("status", update.Status),
		zap.Int("retry_count", update.RetryCount))

	server.Status = update.Status
	server.LastChecked = &update.LastChecked
	server.LastError = update.LastError
	server.RetryCount = update.RetryCount
	return server, nil
}

func (s *monitoringService) getStatus(ctx context.Context, url string, headers map[string]string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("create health request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}

func (s *monitoringService) SetRegisteredEndpointEnabled(ctx context.Context, id uuid.UUID, enabled bool) (*models.RegisteredEndpoint, error) {
	return s.registeredRepo.SetEnabled(ctx, id, enabled)
}
