package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-probe/pkg/models"
	"github.com/ekaya-inc/ekaya-probe/pkg/services"
)

// ScopeMiddleware attaches a database scope to the request context.
type ScopeMiddleware func(http.HandlerFunc) http.HandlerFunc

// ============================================================================
// Request/Response Types
// ============================================================================

// ScanResponse for POST /api/servers/{id}/scan and POST /api/local/scan
type ScanResponse struct {
	Results   []models.ProbeResult `json:"results"`
	Total     int                  `json:"total"`
	Healthy   int                  `json:"healthy"`
	Unhealthy int                  `json:"unhealthy"`
}

// EndpointListResponse for GET /api/servers/{id}/endpoints
type EndpointListResponse struct {
	Endpoints []models.EndpointWithHealth `json:"endpoints"`
	Total     int                         `json:"total"`
}

// EndpointHealthResponse for GET /api/endpoints/{id}/health
type EndpointHealthResponse struct {
	Latest  *models.ProbeResult   `json:"latest"`
	History []*models.ProbeResult `json:"history"`
}

// SetEnabledRequest for PATCH /api/local/endpoints/{id}
type SetEnabledRequest struct {
	IsEnabled *bool `json:"is_enabled"`
}

// ============================================================================
// Handler
// ============================================================================

// MonitoringHandler exposes discovery, scans and health history over HTTP.
type MonitoringHandler struct {
	monitoring services.MonitoringService
	logger     *zap.Logger
}

// NewMonitoringHandler creates a new monitoring handler.
func NewMonitoringHandler(monitoring services.MonitoringService, logger *zap.Logger) *MonitoringHandler {
	return &MonitoringHandler{
		monitoring: monitoring,
		logger:     logger,
	}
}

// RegisterRoutes registers the monitoring routes on the given mux.
func (h *MonitoringHandler) RegisterRoutes(mux *http.ServeMux, scope ScopeMiddleware) {
	for _, route := range h.Routes() {
		mux.HandleFunc(route.Pattern(), scope(route.Handler))
	}
}

// Routes lists the routes registered by RegisterRoutes.
func (h *MonitoringHandler) Routes() []Route {
	return []Route{
		{Name: "discover", Method: http.MethodPost, Path: "/api/servers/{id}/discover", Summary: "Discover and store a server's endpoints", Handler: h.Discover},
		{Name: "scan", Method: http.MethodPost, Path: "/api/servers/{id}/scan", Summary: "Probe a server's active endpoints", Handler: h.Scan},
		{Name: "monitor", Method: http.MethodPost, Path: "/api/servers/{id}/monitor", Summary: "Discover then scan a server", Handler: h.Monitor},
		{Name: "check", Method: http.MethodPost, Path: "/api/servers/{id}/check", Summary: "Check a server's health URL", Handler: h.Check},
		{Name: "endpoints", Method: http.MethodGet, Path: "/api/servers/{id}/endpoints", Summary: "List a server's endpoints with latest health", Handler: h.ListEndpoints},
		{Name: "endpoint_health", Method: http.MethodGet, Path: "/api/endpoints/{id}/health", Summary: "Latest health and history of an endpoint", Handler: h.EndpointHealth},
		{Name: "local_scan", Method: http.MethodPost, Path: "/api/local/scan", Summary: "Probe this service's registered endpoints", Handler: h.ScanLocal},
		{Name: "local_endpoint", Method: http.MethodPatch, Path: "/api/local/endpoints/{id}", Summary: "Enable or disable a registered endpoint", Handler: h.SetLocalEndpointEnabled},
	}
}

// Discover handles POST /api/servers/{id}/discover
func (h *MonitoringHandler) Discover(w http.ResponseWriter, r *http.Request) {
	serverID, ok := ParseServerID(w, r, h.logger)
	if !ok {
		return
	}

	result, err := h.monitoring.DiscoverAndStore(r.Context(), serverID)
	if err != nil {
		h.logger.Error("Failed to discover endpoints",
			zap.String("server_id", serverID.String()),
			zap.Error(err))
		writeServiceError(w, err, "discover_failed", h.logger)
		return
	}

	writeData(w, result, h.logger)
}

// Scan handles POST /api/servers/{id}/scan?batch_size=N&short=true
func (h *MonitoringHandler) Scan(w http.ResponseWriter, r *http.Request) {
	serverID, ok := ParseServerID(w, r, h.logger)
	if !ok {
		return
	}
	opts, ok := h.parseScanOptions(w, r)
	if !ok {
		return
	}

	results, err := h.monitoring.Scan(r.Context(), serverID, opts)
	if err != nil {
		h.logger.Error("Scan failed",
			zap.String("server_id", serverID.String()),
			zap.Int("persisted_results", len(results)),
			zap.Error(err))
		writeServiceError(w, err, "scan_failed", h.logger)
		return
	}

	writeData(w, newScanResponse(results), h.logger)
}

// Monitor handles POST /api/servers/{id}/monitor
func (h *MonitoringHandler) Monitor(w http.ResponseWriter, r *http.Request) {
	serverID, ok := ParseServerID(w, r, h.logger)
	if !ok {
		return
	}

	result, err := h.monitoring.DiscoverAndMonitor(r.Context(), serverID)
	if err != nil {
		h.logger.Error("Discover and monitor failed",
			zap.String("server_id", serverID.String()),
			zap.Error(err))
		writeServiceError(w, err, "monitor_failed", h.logger)
		return
	}

	writeData(w, result, h.logger)
}

// Check handles POST /api/servers/{id}/check
func (h *MonitoringHandler) Check(w http.ResponseWriter, r *http.Request) {
	serverID, ok := ParseServerID(w, r, h.logger)
	if !ok {
		return
	}

	server, err := h.monitoring.CheckServerStatus(r.Context(), serverID)
	if err != nil {
		h.logger.Error("Server status check failed",
			zap.String("server_id", serverID.String()),
			zap.Error(err))
		writeServiceError(w, err, "check_failed", h.logger)
		return
	}

	writeData(w, server, h.logger)
}

// ListEndpoints handles GET /api/servers/{id}/endpoints
func (h *MonitoringHandler) ListEndpoints(w http.ResponseWriter, r *http.Request) {
	serverID, ok := ParseServerID(w, r, h.logger)
	if !ok {
		return
	}

	endpoints, err := h.monitoring.ListEndpointsWithHealth(r.Context(), serverID)
	if err != nil {
		h.logger.Error("Failed to list endpoints",
			zap.String("server_id", serverID.String()),
			zap.Error(err))
		writeServiceError(w, err, "list_endpoints_failed", h.logger)
		return
	}

	writeData(w, EndpointListResponse{Endpoints: endpoints, Total: len(endpoints)}, h.logger)
}

// EndpointHealth handles GET /api/endpoints/{id}/health?limit=N
func (h *MonitoringHandler) EndpointHealth(w http.ResponseWriter, r *http.Request) {
	endpointID, ok := ParseEndpointID(w, r, h.logger)
	if !ok {
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer", h.logger)
			return
		}
		limit = n
	}

	history, err := h.monitoring.HealthHistory(r.Context(), endpointID, limit)
	if err != nil {
		h.logger.Error("Failed to load endpoint health",
			zap.String("endpoint_id", endpointID.String()),
			zap.Error(err))
		writeServiceError(w, err, "endpoint_health_failed", h.logger)
		return
	}

	latest, err := h.monitoring.LatestHealth(r.Context(), endpointID)
	if err != nil {
		h.logger.Error("Failed to load latest endpoint health",
			zap.String("endpoint_id", endpointID.String()),
			zap.Error(err))
		writeServiceError(w, err, "endpoint_health_failed", h.logger)
		return
	}

	if history == nil {
		history = []*models.ProbeResult{}
	}
	writeData(w, EndpointHealthResponse{Latest: latest, History: history}, h.logger)
}

// ScanLocal handles POST /api/local/scan
func (h *MonitoringHandler) ScanLocal(w http.ResponseWriter, r *http.Request) {
	opts, ok := h.parseScanOptions(w, r)
	if !ok {
		return
	}

	results, err := h.monitoring.ScanLocal(r.Context(), opts)
	if err != nil {
		h.logger.Error("Local scan failed", zap.Error(err))
		writeServiceError(w, err, "scan_failed", h.logger)
		return
	}

	writeData(w, newScanResponse(results), h.logger)
}

// SetLocalEndpointEnabled handles PATCH /api/local/endpoints/{id}
func (h *MonitoringHandler) SetLocalEndpointEnabled(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseEndpointID(w, r, h.logger)
	if !ok {
		return
	}

	var req SetEnabledRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.IsEnabled == nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Request body must contain is_enabled", h.logger)
		return
	}

	endpoint, err := h.monitoring.SetRegisteredEndpointEnabled(r.Context(), id, *req.IsEnabled)
	if err != nil {
		h.logger.Error("Failed to update registered endpoint",
			zap.String("endpoint_id", id.String()),
			zap.Error(err))
		writeServiceError(w, err, "update_endpoint_failed", h.logger)
		return
	}

	writeData(w, endpoint, h.logger)
}

func (h *MonitoringHandler) parseScanOptions(w http.ResponseWriter, r *http.Request) (services.ScanOptions, bool) {
	var opts services.ScanOptions
	q := r.URL.Query()

	if raw := q.Get("batch_size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid_batch_size", "batch_size must be a positive integer", h.logger)
			return opts, false
		}
		opts.BatchSize = n
	}
	if raw := q.Get("short"); raw != "" {
		short, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_short", "short must be a boolean", h.logger)
			return opts, false
		}
		opts.Short = short
	}
	return opts, true
}

func newScanResponse(results []models.ProbeResult) ScanResponse {
	resp := ScanResponse{Results: results, Total: len(results)}
	if resp.Results == nil {
		resp.Results = []models.ProbeResult{}
	}
	for _, r := range results {
		if r.Status {
			resp.Healthy++
		} else {
			resp.Unhealthy++
		}
	}
	return resp
}
