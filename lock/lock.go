// Package lock implements the per-flow advisory lock that keeps a single
// logical advance/branch/schedule_retry call the sole owner of a flow id at
// a time across processes, backed by Redis SET NX PX semantics.
package lock

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired names the "already locked by another holder" outcome for
// callers that turn it into an error. TryLock itself does not return it: it
// reports contention as ok=false with a nil error. Callers that want to
// retry own that decision; the lock itself never retries.
var ErrNotAcquired = errors.New("lock: not acquired")

// Unlock releases a held lock. It is safe to call at most once; calling it
// after the TTL has already expired is a no-op.
type Unlock func(ctx context.Context) error

// FlowLock is a distributed advisory lock keyed by flow id.
type FlowLock struct {
	client *redis.Client
	ttl    time.Duration
}

// New builds a FlowLock over an already-constructed Redis client. ttl bounds
// how long a single advance call may hold the lock before it is considered
// abandoned and eligible for another holder to steal.
func New(client *redis.Client, ttl time.Duration) *FlowLock {
	return &FlowLock{client: client, ttl: ttl}
}

func lockKey(flowID string) string {
	sum := sha256.Sum256([]byte(flowID))
	return "flowengine:lock:" + hex.EncodeToString(sum[:])
}

// TryLock attempts to acquire the advisory lock for flowID. On success it
// returns an Unlock that releases the lock, and ok=true. On contention it
// returns ok=false and a nil error: acquisition failure is a distinct,
// reportable outcome, not something this package retries on the caller's
// behalf.
func (l *FlowLock) TryLock(ctx context.Context, flowID string) (unlock Unlock, ok bool, err error) {
	key := lockKey(flowID)
	token := uuid.NewString()

	acquired, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("lock: acquire %s: %w", flowID, err)
	}
	if !acquired {
		return nil, false, nil
	}

	release := func(ctx context.Context) error {
		val, err := l.client.Get(ctx, key).Result()
		if err == redis.Nil {
			return nil
		}
		if err != nil {
			return fmt.Errorf("lock: read %s before release: %w", flowID, err)
		}
		if val != token {
			// Lock expired and was re-acquired by someone else; releasing
			// it now would drop their lock instead of ours.
			return nil
		}
		if err := l.client.Del(ctx, key).Err(); err != nil {
			return fmt.Errorf("lock: release %s: %w", flowID, err)
		}
		return nil
	}

	return release, true, nil
}
