package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/rowforge/extractqueue/domain/queue"
	"github.com/rowforge/extractqueue/pkg/logger"
)

// StaleBatchSweepTask resets batches left in processing with no active
// job, the same reconciliation the Worker Loop runs once at startup,
// run here on a recurring cadence so a batch stuck mid-run is recovered
// without a process restart.
type StaleBatchSweepTask struct {
	store *queue.Store
	log   *slog.Logger
}

// NewStaleBatchSweepTask creates a new stale-batch sweep task.
func NewStaleBatchSweepTask(store *queue.Store, log *slog.Logger) *StaleBatchSweepTask {
	return &StaleBatchSweepTask{store: store, log: log.With(logger.Scope("queue.scheduler.stale_sweep"))}
}

// Run resets any batch the Store considers stale as of now.
func (t *StaleBatchSweepTask) Run(ctx context.Context) error {
	n, err := t.store.ResetStaleBatches(ctx, time.Now())
	if err != nil {
		return err
	}
	if n > 0 {
		t.log.Info("reset stale batches", slog.Int("count", n))
	}
	return nil
}

// MetricsPruneTask prunes completed jobs older than the configured metrics
// retention window, keeping queue_jobs from growing unbounded.
type MetricsPruneTask struct {
	mgr       *queue.Manager
	retention time.Duration
	log       *slog.Logger
}

// NewMetricsPruneTask creates a new metrics-retention prune task.
func NewMetricsPruneTask(mgr *queue.Manager, retention time.Duration, log *slog.Logger) *MetricsPruneTask {
	return &MetricsPruneTask{mgr: mgr, retention: retention, log: log.With(logger.Scope("queue.scheduler.metrics_prune"))}
}

// Run deletes completed jobs older than the retention window.
func (t *MetricsPruneTask) Run(ctx context.Context) error {
	n, err := t.mgr.PruneCompleted(ctx, time.Now().Add(-t.retention))
	if err != nil {
		return err
	}
	if n > 0 {
		t.log.Info("pruned completed jobs", slog.Int("count", n))
	}
	return nil
}
