package lock

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// RedisLocker shares the per-user lock across broker instances.
// The lock expires after ttl so a crashed holder cannot wedge a user forever.
type RedisLocker struct {
	client    goredis.Cmdable
	keyPrefix string
	ttl       time.Duration
	retry     time.Duration
}

var _ Locker = (*RedisLocker)(nil)

type Option func(*RedisLocker)

// WithKeyPrefix sets the key prefix (default "broker:lock:").
func WithKeyPrefix(prefix string) Option {
	return func(l *RedisLocker) { l.keyPrefix = prefix }
}

// WithTTL sets the lock expiry (default 2m).
func WithTTL(ttl time.Duration) Option {
	return func(l *RedisLocker) { l.ttl = ttl }
}

func NewRedisLocker(client goredis.Cmdable, opts ...Option) *RedisLocker {
	l := &RedisLocker{
		client:    client,
		keyPrefix: "broker:lock:",
		ttl:       2 * time.Minute,
		retry:     25 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// releaseScript deletes the key only if we still own it.
// KEYS[1] = lock key
// ARGV[1] = owner token
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func (l *RedisLocker) key(userID uint64) string {
	return l.keyPrefix + strconv.FormatUint(userID, 10)
}

func (l *RedisLocker) Lock(ctx context.Context, userID uint64) (func(), error) {
	key := l.key(userID)
	token := uuid.NewString()

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("lock: redis setnx: %w", err)
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
			// release even if the caller's ctx is already cancelled
			rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = releaseScript.Run(rctx, l.client, []string{key}, token).Err()
		})
	}, nil
}
