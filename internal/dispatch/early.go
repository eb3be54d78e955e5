package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nimasrn/video-report/internal/model"
	"github.com/nimasrn/video-report/pkg/redis"
)

type EarlyStatusConfig struct {
	// TTL bounds how long a status waits for its send to be recorded.
	TTL       time.Duration
	KeyPrefix string
}

func DefaultEarlyStatusConfig() EarlyStatusConfig {
	return EarlyStatusConfig{
		TTL:       15 * time.Minute,
		KeyPrefix: "dispatch:early:",
	}
}

// RedisEarlyStatuses parks delivery statuses whose delivery id is not known
// yet, keyed by that id.
type RedisEarlyStatuses struct {
	redis  redis.RedisAdapter
	config EarlyStatusConfig
}

func NewRedisEarlyStatuses(adapter redis.RedisAdapter, config EarlyStatusConfig) *RedisEarlyStatuses {
	if config.KeyPrefix == "" {
		config.KeyPrefix = DefaultEarlyStatusConfig().KeyPrefix
	}
	if config.TTL <= 0 {
		config.TTL = DefaultEarlyStatusConfig().TTL
	}
	return &RedisEarlyStatuses{
		redis:  adapter,
		config: config,
	}
}

// Park stores upd. A later status for the same delivery id replaces it.
func (s *RedisEarlyStatuses) Park(ctx context.Context, upd model.DeliveryStatusUpdate) error {
	b, err := json.Marshal(upd)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.config.KeyPrefix+upd.DeliveryID, b, s.config.TTL); err != nil {
		return fmt.Errorf("park delivery status: %w", err)
	}
	return nil
}

// Take removes and returns the parked status for deliveryID, or nil when
// there is none.
func (s *RedisEarlyStatuses) Take(ctx context.Context, deliveryID string) (*model.DeliveryStatusUpdate, error) {
	b, err := s.redis.GetDel(ctx, s.config.KeyPrefix+deliveryID)
	if err != nil {
		if errors.Is(err, redis.NilError) {
			return nil, nil
		}
		return nil, fmt.Errorf("take delivery status: %w", err)
	}
	var upd model.DeliveryStatusUpdate
	if err := json.Unmarshal(b, &upd); err != nil {
		return nil, err
	}
	return &upd, nil
}
