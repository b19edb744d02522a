// Package locksvc provides account.Locker implementations shared between processes.
package locksvc

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/trezcool/presence/core"
	"github.com/trezcool/presence/core/account"
)

// deletes the key only if it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is an account.Locker backed by a single redis key per lock (SET NX PX).
// A lock that is never released expires after ttl.
type RedisLocker struct {
	client redis.UniversalClient
	ttl    time.Duration
}

var _ account.Locker = (*RedisLocker)(nil)

func NewRedisLocker(client redis.UniversalClient, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = core.ProvisioningConfig{StepTimeout: core.DefaultStepTimeout}.AttemptLockTTL()
	}
	return &RedisLocker{client: client, ttl: ttl}
}

// NewRedisClient connects to conf.RedisURL, eg. "redis://:password@localhost:6379/0".
func NewRedisClient(ctx context.Context, conf *core.Config) (redis.UniversalClient, error) {
	opts, err := redis.ParseURL(conf.RedisURL)
	if err != nil {
		return nil, errors.Wrap(err, "parsing redis url")
	}
	client := redis.NewClient(opts)
	if err = client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "pinging redis")
	}
	return client, nil
}

func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(context.Context) error, error) {
	token := ulid.Make().String()
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "acquiring lock %s", key)
	}
	if !ok {
		return nil, account.ErrLockHeld
	}

	return func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			return errors.Wrapf(err, "releasing lock %s", key)
		}
		return nil
	}, nil
}
