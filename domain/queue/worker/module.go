package worker

import (
	"context"

	"go.uber.org/fx"

	"github.com/rowforge/extractqueue/internal/config"
)

// Module provides the Worker Loop and wires its start/stop to the host
// process's lifecycle hooks, per §9's guidance against module-level
// singleton semantics.
var Module = fx.Module("worker",
	fx.Provide(NewConfig),
	fx.Provide(New),
	fx.Invoke(registerLifecycle),
)

// NewConfig builds the worker's tunables from the shared QueueConfig.
func NewConfig(cfg *config.Config) Config {
	return Config{
		PollInterval:       cfg.Queue.PollInterval,
		DrainTimeout:       cfg.Queue.DrainTimeout,
		StaleSweepInterval: cfg.Queue.StaleSweepInterval,
	}
}

func registerLifecycle(lc fx.Lifecycle, w *Worker) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			// Run detached from the fx startup context: the poll loop
			// must outlive the lifecycle hook's own timeout.
			return w.Start(context.Background())
		},
		OnStop: func(ctx context.Context) error {
			return w.Stop(ctx)
		},
	})
}
