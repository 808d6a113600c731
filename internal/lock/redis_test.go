//go:build integration

package lock

import (
	"context"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) *goredis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := goredis.NewClient(&goredis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("redis not available at %s: %v", addr, err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedisLocker_ExclusiveAndReleased(t *testing.T) {
	client := newTestClient(t)
	l := NewRedisLocker(client, WithKeyPrefix("test:"+t.Name()+":"), WithTTL(5*time.Second))

	unlock, err := l.Lock(context.Background(), 1)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock2, err := l.Lock(context.Background(), 1)
	require.NoError(t, err)
	unlock2()
}

func TestRedisLocker_ReleaseDoesNotStealForeignLock(t *testing.T) {
	client := newTestClient(t)
	l := NewRedisLocker(client, WithKeyPrefix("test:"+t.Name()+":"), WithTTL(50*time.Millisecond))

	unlock, err := l.Lock(context.Background(), 1)
	require.NoError(t, err)
	time.Sleep(100 * time.Millisecond) // expired

	unlock2, err := l.Lock(context.Background(), 1)
	require.NoError(t, err)
	unlock() // stale owner, must be a no-op

	owner, err := client.Get(context.Background(), l.key(1)).Result()
	require.NoError(t, err)
	assert.NotEmpty(t, owner)
	unlock2()
}
