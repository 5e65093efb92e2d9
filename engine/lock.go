package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"

	"github.com/BaSui01/flowforge/types"
)

// InstanceLock serializes state transitions per workflow instance. Every
// engine mutation runs under the instance's lock; the status-guarded UPDATEs
// in the store are the second line of defense.
type InstanceLock interface {
	// WithLock runs fn while holding the lock for the given instance.
	WithLock(ctx context.Context, instanceID string, fn func(ctx context.Context) error) error
}

// LocalLock is the in-process implementation: one mutex per instance id.
// Suitable for single-node deployments and tests.
type LocalLock struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewLocalLock creates an in-process instance lock.
func NewLocalLock() *LocalLock {
	return &LocalLock{locks: make(map[string]*sync.Mutex)}
}

func (l *LocalLock) forInstance(instanceID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[instanceID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[instanceID] = m
	}
	return m
}

// WithLock implements InstanceLock.
func (l *LocalLock) WithLock(ctx context.Context, instanceID string, fn func(ctx context.Context) error) error {
	m := l.forInstance(instanceID)
	m.Lock()
	defer m.Unlock()
	return fn(ctx)
}

// releaseScript deletes the lock key only when it still holds our token, so
// an expired lock taken over by another process is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLock is the distributed implementation: SET NX with a TTL and a
// random token, released through a compare-and-delete script. Acquisition is
// retried with constant backoff until the context expires.
type RedisLock struct {
	client  redis.UniversalClient
	ttl     time.Duration
	backoff time.Duration
	tries   uint64
}

// NewRedisLock creates a distributed instance lock. ttl bounds how long a
// crashed holder can block others.
func NewRedisLock(client redis.UniversalClient, ttl time.Duration) *RedisLock {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisLock{client: client, ttl: ttl, backoff: 100 * time.Millisecond, tries: 50}
}

func lockKey(instanceID string) string {
	return fmt.Sprintf("flowforge:lock:instance:%s", instanceID)
}

// WithLock implements InstanceLock.
func (l *RedisLock) WithLock(ctx context.Context, instanceID string, fn func(ctx context.Context) error) error {
	key := lockKey(instanceID)
	token := uuid.NewString()

	b := retry.WithMaxRetries(l.tries, retry.NewConstant(l.backoff))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return err
		}
		if !ok {
			return retry.RetryableError(fmt.Errorf("instance %s is locked", instanceID))
		}
		return nil
	})
	if err != nil {
		return types.NewConflictError("workflow instance %s is busy", instanceID).WithCause(err)
	}

	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = releaseScript.Run(releaseCtx, l.client, []string{key}, token).Err()
	}()

	return fn(ctx)
}
