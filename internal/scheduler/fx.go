package scheduler

import (
	"context"

	"github.com/seeklabs/bloxscout/internal/config"
	"go.uber.org/fx"
)

// Module runs the background job loop unless SCHEDULER_ENABLED turns it off.
var Module = fx.Module("scheduler",
	fx.Provide(ProvideConfig, New),
	fx.Invoke(NewScheduler),
)

func NewScheduler(lc fx.Lifecycle, cfg config.Config, sched *Scheduler) {
	if !cfg.Scheduler.Enabled {
		return
	}

	runCtx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go sched.RunForever(runCtx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}
