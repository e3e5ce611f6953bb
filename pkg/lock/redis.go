package lock

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lease only when the stored token matches, so a
// holder whose lease already expired cannot release someone else's lease.
var releaseScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	end
	return 0
`)

// RedisLocker implements Locker on Redis with SET NX PX leases. It is the
// production locker when multiple workers share a saga store.
type RedisLocker struct {
	client *redis.Client
	logger *slog.Logger
	prefix string
}

func NewRedisLocker(client *redis.Client, logger *slog.Logger) *RedisLocker {
	return &RedisLocker{
		client: client,
		logger: logger.With("module", "lock"),
		prefix: "tandem:lease:",
	}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.New().String()
	leaseKey := l.prefix + key

	acquired, err := l.client.SetNX(ctx, leaseKey, token, ttl).Result()
	if err != nil {
		return nil, err
	}

	if !acquired {
		return nil, ErrNotAcquired
	}

	release := func() {
		// Release runs during shutdown paths too, so it carries its own
		// timeout instead of a possibly-cancelled caller context.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		err := releaseScript.Run(releaseCtx, l.client, []string{leaseKey}, token).Err()
		if err != nil {
			l.logger.Error("Failed to release lease", "key", key, "error", err)
		}
	}

	return release, nil
}
