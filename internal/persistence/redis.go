package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spec-kit/itsm-engine/internal/config"
)

// Redis wraps the go-redis client shared by the ticket lock, round-robin counters and the
// notification stream.
type Redis struct {
	Client    *redis.Client
	reachable bool
}

// NewRedis connects to Redis. An unreachable server is logged, not fatal; Shared then
// reports no client and the engine falls back to process-local components.
func NewRedis(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) *Redis {
	if cfg.Addr == "" {
		logger.Info("REDIS_ADDR not provided; redis-backed components disabled")
		return &Redis{}
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	r := &Redis{Client: client}
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("unable to reach redis", zap.String("addr", cfg.Addr), zap.Error(err))
		return r
	}
	r.reachable = true
	logger.Info("connected to redis", zap.String("addr", cfg.Addr))
	return r
}

// Shared returns the client when Redis answered at startup, nil otherwise.
func (r *Redis) Shared() redis.UniversalClient {
	if r == nil || !r.reachable {
		return nil
	}
	return r.Client
}

// Close closes the client.
func (r *Redis) Close() {
	if r != nil && r.Client != nil {
		_ = r.Client.Close()
	}
}

// Ping verifies Redis connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	if r == nil || r.Client == nil {
		return errors.New("redis client not configured")
	}
	return r.Client.Ping(ctx).Err()
}
