package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// ══════════════════════════════════════════════════════════════════════════════
// RESET LOCK
// The weekly rollover must run on exactly one worker replica at a time.
// The lock is a SET NX with a TTL: a crashed holder releases it by
// expiry, and Release only deletes the key if the token still matches.
// ══════════════════════════════════════════════════════════════════════════════

// ErrLockHeld is returned when the lock is already held by another worker.
var ErrLockHeld = errors.New("reset lock: already held")

// releaseScript deletes the lock only when the stored token matches.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`

// ResetLock is a token-based distributed lock over one Redis key.
type ResetLock struct {
	cache    *Cache
	resource string
	ttl      time.Duration
}

// NewResetLock creates a lock for the named resource.
func NewResetLock(cache *Cache, resource string, ttl time.Duration) *ResetLock {
	if ttl <= 0 {
		ttl = TTLResetLock
	}
	return &ResetLock{cache: cache, resource: resource, ttl: ttl}
}

// Acquire takes the lock and returns a release token.
// Returns ErrLockHeld if another worker holds it.
func (l *ResetLock) Acquire(ctx context.Context) (string, error) {
	token := uuid.NewString()

	ok, err := l.cache.SetNX(ctx, LockKey(l.resource), token, l.ttl)
	if err != nil {
		return "", fmt.Errorf("reset lock: acquire failed: %w", err)
	}
	if !ok {
		return "", ErrLockHeld
	}
	return token, nil
}

// Release frees the lock if the token still owns it. Releasing an
// expired or stolen lock is a no-op, not an error.
func (l *ResetLock) Release(ctx context.Context, token string) error {
	err := l.cache.Client().Eval(ctx, releaseScript, []string{LockKey(l.resource)}, token).Err()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return fmt.Errorf("reset lock: release failed: %w", err)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// INSTANCE LOCKS
// A forced API run may overlap the scheduled one. Each instance gets
// its own short SET NX EX lock so the two runs split the batch instead
// of racing on the same rows. The TTL only matters when a holder
// crashes before Release.
// ══════════════════════════════════════════════════════════════════════════════

// TTLInstanceLock bounds one instance's processing within a run.
const TTLInstanceLock = 2 * time.Minute

// InstanceLocks hands out per-instance reset locks.
type InstanceLocks struct {
	cache *Cache
	ttl   time.Duration
}

// NewInstanceLocks creates the lock factory. A non-positive ttl falls
// back to TTLInstanceLock.
func NewInstanceLocks(cache *Cache, ttl time.Duration) *InstanceLocks {
	if ttl <= 0 {
		ttl = TTLInstanceLock
	}
	return &InstanceLocks{cache: cache, ttl: ttl}
}

func (l *InstanceLocks) key(instanceID string) string {
	return LockKey("reset:" + instanceID)
}

// TryAcquire takes the lock for one instance without blocking.
// acquired=false means another run is processing the instance.
func (l *InstanceLocks) TryAcquire(ctx context.Context, instanceID string) (string, bool, error) {
	token := uuid.NewString()

	ok, err := l.cache.SetNX(ctx, l.key(instanceID), token, l.ttl)
	if err != nil {
		return "", false, fmt.Errorf("instance lock: acquire failed: %w", err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Release frees the lock if the token still owns it.
func (l *InstanceLocks) Release(ctx context.Context, instanceID, token string) error {
	err := l.cache.Client().Eval(ctx, releaseScript, []string{l.key(instanceID)}, token).Err()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return fmt.Errorf("instance lock: release failed: %w", err)
	}
	return nil
}
