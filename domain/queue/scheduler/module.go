package scheduler

import (
	"context"
	"log/slog"
	"time"

	"go.uber.org/fx"

	"github.com/rowforge/extractqueue/domain/queue"
	"github.com/rowforge/extractqueue/internal/config"
)

// Module provides the reconciliation Scheduler and registers its tasks and
// lifecycle. Depends on queue.Module for the Store and Manager the tasks
// run against.
var Module = fx.Module("scheduler",
	fx.Provide(NewScheduler),
	fx.Invoke(RegisterTasks, RegisterSchedulerLifecycle),
)

// taskParams are the dependencies needed to register the reconciliation
// tasks.
type taskParams struct {
	fx.In
	Scheduler *Scheduler
	Store     *queue.Store
	Manager   *queue.Manager
	Cfg       *config.Config
	Log       *slog.Logger
}

// RegisterTasks wires the stale-batch sweep and metrics-retention prune
// onto the Scheduler at the intervals named in QueueConfig.
func RegisterTasks(p taskParams) error {
	if !p.Cfg.Queue.SchedulerEnabled {
		p.Log.Info("reconciliation scheduler disabled, skipping task registration")
		return nil
	}

	staleSweep := NewStaleBatchSweepTask(p.Store, p.Log)
	if err := p.Scheduler.AddIntervalTask("stale_batch_sweep", p.Cfg.Queue.StaleSweepInterval, staleSweep.Run); err != nil {
		return err
	}

	metricsPrune := NewMetricsPruneTask(p.Manager, p.Cfg.Queue.MetricsRetention, p.Log)
	// The prune only needs to run once a day regardless of how
	// often the stale sweep runs; piggybacking on the sweep interval
	// would run it far more often than useful for a retention measured
	// in days.
	if err := p.Scheduler.AddIntervalTask("metrics_prune", 24*time.Hour, metricsPrune.Run); err != nil {
		return err
	}

	return nil
}

// RegisterSchedulerLifecycle starts the scheduler's cron loop on fx start
// and stops it on fx stop.
func RegisterSchedulerLifecycle(lc fx.Lifecycle, s *Scheduler, cfg *config.Config) {
	if !cfg.Queue.SchedulerEnabled {
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return s.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			return s.Stop(ctx)
		},
	})
}
