package cmd

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/tandemhq/tandem/pkg/lock"
)

// NewLocker creates the per-saga lease provider. A redis:// URL selects
// the Redis locker, which is required whenever more than one worker runs;
// an empty URL falls back to process-local leases.
func NewLocker(logger *slog.Logger, redisURL string) (lock.Locker, error) {
	if redisURL == "" {
		return lock.NewMemoryLocker(), nil
	}

	if !strings.HasPrefix(redisURL, "redis://") && !strings.HasPrefix(redisURL, "rediss://") {
		return nil, fmt.Errorf("unsupported lock provider url: %s", redisURL)
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	return lock.NewRedisLocker(redis.NewClient(opts), logger), nil
}
