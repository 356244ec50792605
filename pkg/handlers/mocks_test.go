package handlers

import (
	"context"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-probe/pkg/models"
	"github.com/ekaya-inc/ekaya-probe/pkg/services"
)

// ============================================================================
// Mock Implementations
// ============================================================================

// mockMonitoringService is a configurable mock for handler tests.
type mockMonitoringService struct {
	discovery  *models.DiscoveryResult
	results    []models.ProbeResult
	monitor    *models.MonitorResult
	endpoints  []models.EndpointWithHealth
	latest     *models.ProbeResult
	history    []*models.ProbeResult
	server     *models.RemoteServer
	registered *models.RegisteredEndpoint
	err        error

	lastServerID uuid.UUID
	lastOpts     services.ScanOptions
	lastLimit    int
	lastEnabled  *bool
}

var _ services.MonitoringService = (*mockMonitoringService)(nil)

func (m *mockMonitoringService) DiscoverAndStore(ctx context.Context, serverID uuid.UUID) (*models.DiscoveryResult, error) {
	m.lastServerID = serverID
	return m.discovery, m.err
}

func (m *mockMonitoringService) Scan(ctx context.Context, serverID uuid.UUID, opts services.ScanOptions) ([]models.ProbeResult, error) {
	m.lastServerID = serverID
	m.lastOpts = opts
	return m.results, m.err
}

func (m *mockMonitoringService) ScanLocal(ctx context.Context, opts services.ScanOptions) ([]models.ProbeResult, error) {
	m.lastOpts = opts
	return m.results, m.err
}

func (m *mockMonitoringService) LatestHealth(ctx context.Context, endpointID uuid.UUID) (*models.ProbeResult, error) {
	return m.latest, m.err
}

func (m *mockMonitoringService) HealthHistory(ctx context.Context, endpointID uuid.UUID, limit int) ([]*models.ProbeResult, error) {
	m.lastLimit = limit
	return m.history, m.err
}

func (m *mockMonitoringService) DiscoverAndMonitor(ctx context.Context, serverID uuid.UUID) (*models.MonitorResult, error) {
	m.lastServerID = serverID
	return m.monitor, m.err
}

func (m *mockMonitoringService) ListEndpointsWithHealth(ctx context.Context, serverID uuid.UUID) ([]models.EndpointWithHealth, error) {
	m.lastServerID = serverID
	return m.endpoints, m.err
}

func (m *mockMonitoringService) CheckServerStatus(ctx context.Context, serverID uuid.UUID) (*models.RemoteServer, error) {
	m.lastServerID = serverID
	return m.server, m.err
}

func (m *mockMonitoringService) SetRegisteredEndpointEnabled(ctx context.Context, id uuid.UUID, enabled bool) (*models.RegisteredEndpoint, error) {
	m.lastEnabled = &enabled
	return m.registered, m.err
}
