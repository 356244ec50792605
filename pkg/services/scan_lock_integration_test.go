//go:build integration

package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-probe/pkg/apperrors"
)

func startRedis(t *testing.T) *redis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode (requires Docker)")
	}
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(ctx).Err())
	return client
}

func TestScanLock_RedisLeaseAcrossProcesses(t *testing.T) {
	client := startRedis(t)
	ctx := context.Background()
	serverID := uuid.New()

	// Two locks sharing Redis behave like two processes.
	first := NewScanLock(client, time.Minute, zap.NewNop())
	second := NewScanLock(client, time.Minute, zap.NewNop())

	release, err := first.TryAcquire(ctx, serverID)
	require.NoError(t, err)

	_, err = second.TryAcquire(ctx, serverID)
	assert.ErrorIs(t, err, apperrors.ErrScanInProgress)

	release()

	release, err = second.TryAcquire(ctx, serverID)
	require.NoError(t, err)
	release()

	exists, err := client.Exists(ctx, scanLeaseKeyPrefix+serverID.String()).Result()
	require.NoError(t, err)
	assert.Zero(t, exists)
}
