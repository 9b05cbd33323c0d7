package ratelimit

import (
	"context"
	"errors"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/seeklabs/bloxscout/internal/clock"
	"github.com/seeklabs/bloxscout/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("rate.limit",
	fx.Provide(NewRedisClient),
	fx.Provide(NewLocker),
	fx.Provide(NewLimiter),
)

// NewRedisClient returns nil when no address is configured; the limiter
// and locker both degrade to their single-instance behavior.
func NewRedisClient(lc fx.Lifecycle, cfg config.Config) *redis.Client {
	addr := strings.TrimSpace(cfg.Redis.Addr)
	if addr == "" {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(cfg.Redis.Password),
		DB:       cfg.Redis.DB,
	})
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})
	return client
}

func NewLimiter(lc fx.Lifecycle, cfg config.Config, clk clock.Clock, client *redis.Client, log *zap.Logger) (Limiter, error) {
	limiterCfg := Config{
		Limit:         cfg.RateLimit.Limit,
		Window:        cfg.RateLimit.Window,
		SweepInterval: cfg.RateLimit.SweepInterval,
		KeyPrefix:     "bloxscout",
	}

	switch strings.ToLower(strings.TrimSpace(cfg.RateLimit.Backend)) {
	case config.RateLimitBackendRedis:
		if client == nil {
			return nil, errors.New("rate limit backend redis requires a redis addr")
		}
		log.Info("rate limiter initialized",
			zap.String("backend", "redis"),
			zap.Int("limit", limiterCfg.Limit),
			zap.Duration("window", limiterCfg.Window),
		)
		return NewRedisLimiter(client, limiterCfg, clk)
	case config.RateLimitBackendMemory, "":
		limiter, err := NewMemoryLimiter(limiterCfg, clk)
		if err != nil {
			return nil, err
		}
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return limiter.Close()
			},
		})
		log.Info("rate limiter initialized",
			zap.String("backend", "memory"),
			zap.Int("limit", limiterCfg.Limit),
			zap.Duration("window", limiterCfg.Window),
		)
		return limiter, nil
	default:
		return nil, errors.New("unknown rate limit backend")
	}
}
