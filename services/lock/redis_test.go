package locksvc

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/presence/core"
	"github.com/trezcool/presence/core/account"
	testutil "github.com/trezcool/presence/tests"
)

func newTestLocker(t *testing.T) *RedisLocker {
	t.Helper()
	if os.Getenv("INTEGRATION_TESTS") != "1" {
		t.Skip("set INTEGRATION_TESTS=1 to run")
	}
	conf := testutil.NewConfig()
	conf.RedisURL = os.Getenv("TEST_REDIS_URL")
	if conf.RedisURL == "" {
		conf.RedisURL = "redis://localhost:6379/15"
	}
	client, err := NewRedisClient(context.Background(), conf)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisLocker(client, 2*time.Second)
}

func TestRedisLocker(t *testing.T) {
	locker := newTestLocker(t)
	ctx := context.Background()
	key := "presence:test:" + t.Name()

	release, err := locker.Acquire(ctx, key)
	require.NoError(t, err)

	_, err = locker.Acquire(ctx, key)
	assert.ErrorIs(t, err, account.ErrLockHeld)

	require.NoError(t, release(ctx))
	require.NoError(t, release(ctx)) // releasing twice is a no-op

	release, err = locker.Acquire(ctx, key)
	require.NoError(t, err)
	assert.NoError(t, release(ctx))
}

func TestRedisLocker_ReleaseKeepsForeignLock(t *testing.T) {
	locker := newTestLocker(t)
	ctx := context.Background()
	key := "presence:test:" + t.Name()

	release, err := locker.Acquire(ctx, key)
	require.NoError(t, err)

	// simulate expiry and another process taking the lock
	require.NoError(t, locker.client.Set(ctx, key, "someone-else", time.Second).Err())
	require.NoError(t, release(ctx))

	val, err := locker.client.Get(ctx, key).Result()
	require.NoError(t, err)
	assert.Equal(t, "someone-else", val)
	require.NoError(t, locker.client.Del(ctx, key).Err())
}

func TestNewRedisLocker_TTL(t *testing.T) {
	assert.Equal(t, 8*core.DefaultStepTimeout, NewRedisLocker(nil, 0).ttl)
	assert.Equal(t, time.Hour, NewRedisLocker(nil, time.Hour).ttl)
}
