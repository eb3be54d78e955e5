package services

import (
	"context"
	"fmt"
	"time"
)

const healthTimeout = 2 * time.Second

type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthService reports whether the stores the API depends on answer.
type HealthService struct {
	db    Pinger
	redis Pinger
}

func NewHealthService(db, redis Pinger) *HealthService {
	return &HealthService{db: db, redis: redis}
}

func (s *HealthService) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	if s.db != nil {
		if err := s.db.Ping(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	if s.redis != nil {
		if err := s.redis.Ping(ctx); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}
