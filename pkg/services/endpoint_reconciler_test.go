package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-probe/pkg/models"
)

func newTestReconciler(repo *mockEndpointRepo, now time.Time) *endpointReconciler {
	r := NewEndpointReconciler(repo, zap.NewNop()).(*endpointReconciler)
	r.inTx = passthroughTx
	r.now = func() time.Time { return now }
	return r
}

func TestReconcile_InsertsNewEndpoints(t *testing.T) {
	repo := &mockEndpointRepo{}
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	r := newTestReconciler(repo, now)
	serverID := uuid.New()

	result, err := r.Reconcile(context.Background(), serverID, []models.CandidateEndpoint{
		candidate("/users", "GET"),
		candidate("/users", "POST"),
	})
	require.NoError(t, err)
	assert.Equal(t, &models.ReconcileResult{Inserted: 2}, result)

	stored := repo.byServer(serverID, true)
	require.Len(t, stored, 2)
	for _, e := range stored {
		assert.Equal(t, now, e.DiscoveredAt)
		assert.True(t, e.IsActive)
		assert.Nil(t, e.LastChecked)
	}
}

func TestReconcile_UpdatesAndReactivates(t *testing.T) {
	repo := &mockEndpointRepo{}
	serverID := uuid.New()
	c := candidate("/users", "GET")
	repo.add(&models.DiscoveredEndpoint{
		RemoteServerID: serverID,
		Path:           c.Path,
		Method:         c.Method,
		Description:    "old",
		EndpointHash:   c.Hash,
		IsActive:       false,
	})

	c.Description = "List users"
	now := time.Now()
	result, err := newTestReconciler(repo, now).Reconcile(context.Background(), serverID, []models.CandidateEndpoint{c})
	require.NoError(t, err)
	assert.Equal(t, &models.ReconcileResult{Updated: 1}, result)

	stored := repo.byServer(serverID, false)
	require.Len(t, stored, 1)
	assert.True(t, stored[0].IsActive)
	assert.Equal(t, "List users", stored[0].Description)
	require.NotNil(t, stored[0].LastChecked)
	assert.Equal(t, now, *stored[0].LastChecked)
}

func TestReconcile_DeactivatesOnlyActiveStaleRows(t *testing.T) {
	repo := &mockEndpointRepo{}
	serverID := uuid.New()
	other := uuid.New()

	keep := candidate("/keep", "GET")
	gone := candidate("/gone", "GET")
	already := candidate("/already", "GET")
	for _, c := range []models.CandidateEndpoint{keep, gone} {
		repo.add(&models.DiscoveredEndpoint{RemoteServerID: serverID, Path: c.Path, Method: c.Method, EndpointHash: c.Hash, IsActive: true})
	}
	repo.add(&models.DiscoveredEndpoint{RemoteServerID: serverID, Path: already.Path, Method: already.Method, EndpointHash: already.Hash, IsActive: false})
	repo.add(&models.DiscoveredEndpoint{RemoteServerID: other, Path: gone.Path, Method: gone.Method, EndpointHash: gone.Hash, IsActive: true})

	result, err := newTestReconciler(repo, time.Now()).Reconcile(context.Background(), serverID, []models.CandidateEndpoint{keep})
	require.NoError(t, err)
	assert.Equal(t, &models.ReconcileResult{Updated: 1, Deactivated: 1}, result)

	assert.Len(t, repo.byServer(serverID, false), 3, "rows are never deleted")
	assert.Len(t, repo.byServer(serverID, true), 1)
	assert.Len(t, repo.byServer(other, true), 1, "other servers are untouched")
}

func TestReconcile_DuplicateCandidatesCollapse(t *testing.T) {
	repo := &mockEndpointRepo{}
	serverID := uuid.New()
	first := candidate("/users", "GET")
	first.Description = "first"
	second := candidate("/users", "GET")
	second.Description = "second"

	result, err := newTestReconciler(repo, time.Now()).Reconcile(context.Background(), serverID, []models.CandidateEndpoint{first, second})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Inserted)

	stored := repo.byServer(serverID, true)
	require.Len(t, stored, 1)
	assert.Equal(t, "first", stored[0].Description)
}

func TestReconcile_EmptyCandidatesDeactivatesAll(t *testing.T) {
	repo := &mockEndpointRepo{}
	serverID := uuid.New()
	c := candidate("/users", "GET")
	repo.add(&models.DiscoveredEndpoint{RemoteServerID: serverID, Path: c.Path, Method: c.Method, EndpointHash: c.Hash, IsActive: true})

	result, err := newTestReconciler(repo, time.Now()).Reconcile(context.Background(), serverID, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Deactivated)
	assert.Empty(t, repo.byServer(serverID, true))
}

func TestReconcile_RepositoryErrorWrapped(t *testing.T) {
	repo := &mockEndpointRepo{failOn: "ListByServer"}

	_, err := newTestReconciler(repo, time.Now()).Reconcile(context.Background(), uuid.New(), []models.CandidateEndpoint{candidate("/a", "GET")})
	require.Error(t, err)
	assert.ErrorIs(t, err, errMock)
	assert.Contains(t, err.Error(), "failed to reconcile endpoints")
}
