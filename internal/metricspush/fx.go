package metricspush

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/seeklabs/bloxscout/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const defaultPushInterval = 15 * time.Second

// Module wires the optional push loop. With METRICS_PUSH_ENABLED unset the
// pusher is nil and nothing runs; /metrics scraping stays the default.
var Module = fx.Module("metrics.push",
	fx.Provide(NewPusher),
	fx.Invoke(runPushLoop),
)

func runPushLoop(lc fx.Lifecycle, cfg config.Config, pusher Pusher, logger *zap.Logger) {
	if pusher == nil {
		return
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	interval := cfg.MetricsPush.Interval
	if interval <= 0 {
		interval = defaultPushInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			logger.Info("starting metrics push worker", zap.Duration("interval", interval))
			go func() {
				ticker := time.NewTicker(interval)
				defer ticker.Stop()

				// Initial push
				if err := pusher.Push(ctx, prometheus.DefaultGatherer); err != nil {
					logger.Error("initial metrics push failed", zap.Error(err))
				}

				for {
					select {
					case <-ticker.C:
						if err := pusher.Push(ctx, prometheus.DefaultGatherer); err != nil {
							logger.Error("periodic metrics push failed", zap.Error(err))
						}
					case <-ctx.Done():
						logger.Info("stopping metrics push worker")
						return
					}
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}
