package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-probe/pkg/apperrors"
)

// DefaultScanLeaseTTL bounds how long a crashed process can hold a server's Redis lease.
const DefaultScanLeaseTTL = 30 * time.Minute

const scanLeaseKeyPrefix = "ekaya-probe:scan:"

// releaseLease deletes the lease only if this holder still owns it.
var releaseLease = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// ScanLock prevents overlapping scans of the same server.
type ScanLock interface {
	// TryAcquire takes the lock for serverID without waiting. It returns
	// apperrors.ErrScanInProgress if another scan holds it. The returned
	// release function must be called exactly once.
	TryAcquire(ctx context.Context, serverID uuid.UUID) (func(), error)
}

type scanLock struct {
	mu     sync.Mutex
	held   map[uuid.UUID]bool
	redis  *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

var _ ScanLock = (*scanLock)(nil)

// NewScanLock creates a scan lock. With a nil client the lock is process-local;
// otherwise a Redis lease also excludes scans in other processes.
func NewScanLock(client *redis.Client, ttl time.Duration, logger *zap.Logger) ScanLock {
	if ttl <= 0 {
		ttl = DefaultScanLeaseTTL
	}
	return &scanLock{
		held:   make(map[uuid.UUID]bool),
		redis:  client,
		ttl:    ttl,
		logger: logger.Named("scan-lock"),
	}
}

func (l *scanLock) TryAcquire(ctx context.Context, serverID uuid.UUID) (func(), error) {
	l.mu.Lock()
	if l.held[serverID] {
		l.mu.Unlock()
		return nil, apperrors.ErrScanInProgress
	}
	l.held[serverID] = true
	l.mu.Unlock()

	unlockLocal := func() {
		l.mu.Lock()
		delete(l.held, serverID)
		l.mu.Unlock()
	}

	if l.redis == nil {
		return unlockLocal, nil
	}

	key := scanLeaseKeyPrefix + serverID.String()
	token := uuid.NewString()
	ok, err := l.redis.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		unlockLocal()
		return nil, fmt.Errorf("failed to acquire scan lease: %w", err)
	}
	if !ok {
		unlockLocal()
		return nil, apperrors.ErrScanInProgress
	}

	return func() {
		// The scan's context may already be cancelled; release on a fresh one.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseLease.Run(releaseCtx, l.redis, []string{key}, token).Err(); err != nil {
			l.logger.Warn("Failed to release scan lease",
				zap.String("server_id", serverID.String()),
				zap.Error(err))
		}
		unlockLocal()
	}, nil
}
