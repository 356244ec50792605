package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-probe/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-probe/pkg/models"
)

// ============================================================================
// Mock Implementations
// ============================================================================

type mockServerRepo struct {
	mu      sync.Mutex
	servers map[uuid.UUID]*models.RemoteServer
	updates []models.ServerStatusUpdate
}

func newMockServerRepo(servers ...*models.RemoteServer) *mockServerRepo {
	m := &mockServerRepo{servers: make(map[uuid.UUID]*models.RemoteServer)}
	for _, s := range servers {
		m.servers[s.ID] = s
	}
	return m
}

func (m *mockServerRepo) Create(ctx context.Context, server *models.RemoteServer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if server.ID == uuid.Nil {
		server.ID = uuid.New()
	}
	m.servers[server.ID] = server
	return nil
}

func (m *mockServerRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.RemoteServer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.servers[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	clone := *s
	return &clone, nil
}

func (m *mockServerRepo) ListActive(ctx context.Context) ([]*models.RemoteServer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.RemoteServer
	for _, s := range m.servers {
		if s.IsActive && !s.IsLocalSystem() {
			clone := *s
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *mockServerRepo) UpdateToken(ctx context.Context, id uuid.UUID, token string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.servers[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	s.AccessToken = token
	s.TokenExpiresAt = &expiresAt
	return nil
}

func (m *mockServerRepo) UpdateStatus(ctx context.Context, id uuid.UUID, update models.ServerStatusUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.servers[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	m.updates = append(m.updates, update)
	s.Status = update.Status
	s.LastChecked = &update.LastChecked
	s.LastError = update.LastError
	s.RetryCount = update.RetryCount
	return nil
}

func (m *mockServerRepo) UpdateBaseURL(ctx context.Context, id uuid.UUID, baseURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.servers[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	s.BaseURL = baseURL
	return nil
}

// mockEndpointRepo keeps endpoints in memory, ordered by insertion.
type mockEndpointRepo struct {
	mu        sync.Mutex
	endpoints []*models.DiscoveredEndpoint
	failOn    string // method name that returns errMock
	touched   []uuid.UUID
	listCalls int // ListByServer calls
}

var errMock = errors.New("mock failure")

func (m *mockEndpointRepo) byServer(serverID uuid.UUID, activeOnly bool) []*models.DiscoveredEndpoint {
	var out []*models.DiscoveredEndpoint
	for _, e := range m.endpoints {
		if e.RemoteServerID == serverID && (!activeOnly || e.IsActive) {
			clone := *e
			out = append(out, &clone)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Path != out[j].Path {
			return out[i].Path < out[j].Path
		}
		return out[i].Method < out[j].Method
	})
	return out
}

func (m *mockEndpointRepo) ListByServer(ctx context.Context, serverID uuid.UUID) ([]*models.DiscoveredEndpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls++
	if m.failOn == "ListByServer" {
		return nil, errMock
	}
	return m.byServer(serverID, false), nil
}

func (m *mockEndpointRepo) ListActiveByServer(ctx context.Context, serverID uuid.UUID) ([]*models.DiscoveredEndpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byServer(serverID, true), nil
}

func (m *mockEndpointRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.DiscoveredEndpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.endpoints {
		if e.ID == id {
			clone := *e
			return &clone, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (m *mockEndpointRepo) Create(ctx context.Context, endpoint *models.DiscoveredEndpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOn == "Create" {
		return errMock
	}
	for _, e := range m.endpoints {
		if e.RemoteServerID == endpoint.RemoteServerID && e.EndpointHash == endpoint.EndpointHash {
			return apperrors.ErrConflict
		}
	}
	if endpoint.ID == uuid.Nil {
		endpoint.ID = uuid.New()
	}
	clone := *endpoint
	m.endpoints = append(m.endpoints, &clone)
	return nil
}

func (m *mockEndpointRepo) Update(ctx context.Context, endpoint *models.DiscoveredEndpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.endpoints {
		if e.ID == endpoint.ID {
			e.Description = endpoint.Description
			e.Parameters = endpoint.Parameters
			e.ResponseSchema = endpoint.ResponseSchema
			e.LastChecked = endpoint.LastChecked
			e.IsActive = true
			return nil
		}
	}
	return apperrors.ErrNotFound
}

func (m *mockEndpointRepo) Deactivate(ctx context.Context, ids []uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, id := range ids {
		for _, e := range m.endpoints {
			if e.ID == id && e.IsActive {
				e.IsActive = false
				n++
			}
		}
	}
	return n, nil
}

func (m *mockEndpointRepo) TouchLastChecked(ctx context.Context, ids []uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touched = append(m.touched, ids...)
	return nil
}

func (m *mockEndpointRepo) add(e *models.DiscoveredEndpoint) *models.DiscoveredEndpoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	m.endpoints = append(m.endpoints, e)
	return e
}

func (m *mockEndpointRepo) find(serverID uuid.UUID, path, method string) *models.DiscoveredEndpoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.endpoints {
		if e.RemoteServerID == serverID && e.Path == path && e.Method == method {
			clone := *e
			return &clone
		}
	}
	return nil
}

type mockHealthRepo struct {
	mu          sync.Mutex
	rows        []*models.EndpointHealth
	batchCalls  int
	failOnBatch int // 1-based CreateBatch call that fails; 0 never
}

func (m *mockHealthRepo) Create(ctx context.Context, health *models.EndpointHealth) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, health)
	return nil
}

func (m *mockHealthRepo) CreateBatch(ctx context.Context, rows []*models.EndpointHealth) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batchCalls++
	if m.batchCalls == m.failOnBatch {
		return errMock
	}
	m.rows = append(m.rows, rows...)
	return nil
}

func (m *mockHealthRepo) Latest(ctx context.Context, endpointID uuid.UUID) (*models.EndpointHealth, error) {
	latest, _ := m.LatestForMany(ctx, []uuid.UUID{endpointID})
	return latest[endpointID], nil
}

func (m *mockHealthRepo) LatestForMany(ctx context.Context, endpointIDs []uuid.UUID) (map[uuid.UUID]*models.EndpointHealth, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := make(map[uuid.UUID]bool, len(endpointIDs))
	for _, id := range endpointIDs {
		want[id] = true
	}
	latest := make(map[uuid.UUID]*models.EndpointHealth)
	for _, r := range m.rows {
		if r.DiscoveredEndpointID == nil || !want[*r.DiscoveredEndpointID] {
			continue
		}
		id := *r.DiscoveredEndpointID
		if cur, ok := latest[id]; !ok || r.CheckedAt.After(cur.CheckedAt) {
			latest[id] = r
		}
	}
	return latest, nil
}

func (m *mockHealthRepo) ListByEndpoint(ctx context.Context, endpointID uuid.UUID, limit int) ([]*models.EndpointHealth, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.EndpointHealth
	for _, r := range m.rows {
		if r.DiscoveredEndpointID != nil && *r.DiscoveredEndpointID == endpointID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CheckedAt.After(out[j].CheckedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockHealthRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

type mockRegisteredRepo struct {
	endpoints []*models.RegisteredEndpoint
}

func (m *mockRegisteredRepo) List(ctx context.Context) ([]*models.RegisteredEndpoint, error) {
	return m.endpoints, nil
}

func (m *mockRegisteredRepo) Ensure(ctx context.Context, endpoint *models.RegisteredEndpoint) (bool, error) {
	for _, e := range m.endpoints {
		if e.URL == endpoint.URL && e.Method == endpoint.Method {
			return false, nil
		}
	}
	if endpoint.ID == uuid.Nil {
		endpoint.ID = uuid.New()
	}
	m.endpoints = append(m.endpoints, endpoint)
	return true, nil
}

func (m *mockRegisteredRepo) SetEnabled(ctx context.Context, id uuid.UUID, enabled bool) (*models.RegisteredEndpoint, error) {
	for _, e := range m.endpoints {
		if e.ID == id {
			e.IsEnabled = enabled
			return e, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

type mockDiscoverer struct {
	mu         sync.Mutex
	candidates []models.CandidateEndpoint
	err        error
	calls      int
}

func (m *mockDiscoverer) Discover(ctx context.Context, server *models.RemoteServer) ([]models.CandidateEndpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.candidates, m.err
}

func (m *mockDiscoverer) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type mockCredentials struct {
	headers map[string]string
}

func (m *mockCredentials) Headers(ctx context.Context, server *models.RemoteServer) map[string]string {
	if m.headers == nil {
		return map[string]string{}
	}
	return m.headers
}

type mockScopeProvider struct {
	err error
}

func (m *mockScopeProvider) WithScope(ctx context.Context) (context.Context, func(), error) {
	if m.err != nil {
		return nil, nil, m.err
	}
	return ctx, func() {}, nil
}

// passthroughTx runs fn directly; the mocks have no transactions.
func passthroughTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
