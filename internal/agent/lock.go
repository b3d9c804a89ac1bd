package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/codefionn/appforge/internal/logger"
)

// TurnLocker serialises chat turns of the same project
type TurnLocker interface {
	// Lock blocks until the project's turn lock is held or ctx ends
	Lock(ctx context.Context, projectID string) (unlock func(), err error)
}

// MemoryLocker is a per-project mutex for a single process
type MemoryLocker struct {
	mu   sync.Mutex
	keys map[string]*keyLock
}

type keyLock struct {
	sem  chan struct{}
	refs int
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{keys: make(map[string]*keyLock)}
}

func (l *MemoryLocker) Lock(ctx context.Context, projectID string) (func(), error) {
	l.mu.Lock()
	k := l.keys[projectID]
	if k == nil {
		k = &keyLock{sem: make(chan struct{}, 1)}
		l.keys[projectID] = k
	}
	k.refs++
	l.mu.Unlock()

	select {
	case k.sem <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-k.sem
				l.release(projectID, k)
			})
		}, nil
	case <-ctx.Done():
		l.release(projectID, k)
		return nil, ctx.Err()
	}
}

func (l *MemoryLocker) release(projectID string, k *keyLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	k.refs--
	if k.refs == 0 {
		delete(l.keys, projectID)
	}
}

// releaseScript deletes the lock only if it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker holds turn locks as Redis leases so several server instances
// can share projects. A lease expires after ttl even if never released.
type RedisLocker struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	retry  time.Duration
}

func NewRedisLocker(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisLocker{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		retry:  100 * time.Millisecond,
	}
}

func (l *RedisLocker) key(projectID string) string {
	return l.prefix + "turn-lock:" + projectID
}

func (l *RedisLocker) Lock(ctx context.Context, projectID string) (func(), error) {
	key := l.key(projectID)
	token := uuid.NewString()

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire turn lock: %w", err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.retry):
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(releaseCtx, l.client, []string{key}, token).Err(); err != nil {
				logger.Warn("agent: failed to release turn lock %s: %v", key, err)
			}
		})
	}, nil
}
