// Package locker provides short-lived named locks used to elect a single
// leader among worker instances.
package locker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotOwner is returned when a lock is refreshed or released with a token
// that no longer holds it.
var ErrNotOwner = errors.New("lock not owned by this token")

// Locker hands out expiring locks identified by a random token.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, acquired bool, err error)
	Refresh(ctx context.Context, key, token string, ttl time.Duration) error
	Unlock(ctx context.Context, key, token string) error
}

// -- Redis --

var (
	unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

	refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
)

// RedisLocker stores locks as Redis keys set with NX and a TTL. Release and
// refresh compare the token atomically.
type RedisLocker struct {
	client redis.UniversalClient
}

func NewRedisLocker(client redis.UniversalClient) *RedisLocker {
	return &RedisLocker{client: client}
}

// Dial parses a redis:// URL and returns a connected client.
func Dial(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

func (l *RedisLocker) Refresh(ctx context.Context, key, token string, ttl time.Duration) error {
	n, err := refreshScript.Run(ctx, l.client, []string{key}, token, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("refresh lock %s: %w", key, err)
	}
	if n == 0 {
		return ErrNotOwner
	}
	return nil
}

func (l *RedisLocker) Unlock(ctx context.Context, key, token string) error {
	n, err := unlockScript.Run(ctx, l.client, []string{key}, token).Int()
	if err != nil {
		return fmt.Errorf("release lock %s: %w", key, err)
	}
	if n == 0 {
		return ErrNotOwner
	}
	return nil
}

// -- In-process --

type held struct {
	token   string
	expires time.Time
}

// MemoryLocker keeps locks in process memory. It serves single-instance
// deployments without Redis and tests.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]held
	now   func() time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{locks: make(map[string]held), now: time.Now}
}

// SetClock replaces the time source.
func (l *MemoryLocker) SetClock(now func() time.Time) { l.now = now }

func (l *MemoryLocker) TryLock(_ context.Context, key string, ttl time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if h, ok := l.locks[key]; ok && now.Before(h.expires) {
		return "", false, nil
	}
	token := uuid.NewString()
	l.locks[key] = held{token: token, expires: now.Add(ttl)}
	return token, true, nil
}

func (l *MemoryLocker) Refresh(_ context.Context, key, token string, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	h, ok := l.locks[key]
	if !ok || h.token != token || !now.Before(h.expires) {
		return ErrNotOwner
	}
	l.locks[key] = held{token: token, expires: now.Add(ttl)}
	return nil
}

func (l *MemoryLocker) Unlock(_ context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	h, ok := l.locks[key]
	if !ok || h.token != token {
		return ErrNotOwner
	}
	delete(l.locks, key)
	return nil
}
