package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/nimasrn/video-report/pkg/logger"
	"github.com/nimasrn/video-report/pkg/redis"
)

var ErrInFlight = errors.New("dispatch already in flight")

type GuardConfig struct {
	// LockTTL bounds how long a crashed holder can block an item. It must
	// exceed the channel send timeout.
	LockTTL time.Duration

	LockKeyPrefix string
}

func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		LockTTL:       time.Minute,
		LockKeyPrefix: "dispatch:inflight:",
	}
}

// RedisGuard allows at most one in-flight send per item across every api and
// processor instance.
type RedisGuard struct {
	redis  redis.RedisAdapter
	config GuardConfig
}

func NewRedisGuard(adapter redis.RedisAdapter, config GuardConfig) *RedisGuard {
	if config.LockKeyPrefix == "" {
		config.LockKeyPrefix = DefaultGuardConfig().LockKeyPrefix
	}
	if config.LockTTL <= 0 {
		config.LockTTL = DefaultGuardConfig().LockTTL
	}
	return &RedisGuard{
		redis:  adapter,
		config: config,
	}
}

// Acquire takes the item's lock. It returns ErrInFlight when another holder
// has it. The returned release func only deletes the lock it created.
func (g *RedisGuard) Acquire(ctx context.Context, itemID int64) (func(), error) {
	key := g.key(itemID)
	token := []byte(uuid.NewString())

	acquired, err := g.redis.SetNX(ctx, key, token, g.config.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire dispatch lock: %w", err)
	}
	if !acquired {
		logger.Debug("dispatch lock held elsewhere", "item_id", itemID)
		return nil, ErrInFlight
	}

	return func() {
		// released even when the caller's context is gone
		ok, err := g.redis.CompareAndDelete(context.Background(), key, token)
		if err != nil {
			logger.Warn("failed to release dispatch lock", "item_id", itemID, "error", err)
			return
		}
		if !ok {
			logger.Warn("dispatch lock expired before release", "item_id", itemID, "ttl", g.config.LockTTL)
		}
	}, nil
}

func (g *RedisGuard) key(itemID int64) string {
	return g.config.LockKeyPrefix + strconv.FormatInt(itemID, 10)
}
