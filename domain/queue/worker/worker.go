// Package worker is the long-running task that leases queue jobs and
// dispatches them to the extraction/redo pipelines, in cooperation with
// per-project pools.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/rowforge/extractqueue/domain/projects"
	"github.com/rowforge/extractqueue/domain/queue"
	"github.com/rowforge/extractqueue/domain/queue/pool"
	"github.com/rowforge/extractqueue/pkg/logger"
	"github.com/rowforge/extractqueue/pkg/tracing"
)

// State is one of the worker's lifecycle states.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateDraining State = "draining"
)

// Dispatcher runs one job to completion. Implementations switch on
// job.Type to select the extraction or redo pipeline.
type Dispatcher interface {
	Run(ctx context.Context, job *queue.Job) error
}

// Config tunes the worker's poll interval and shutdown behavior.
type Config struct {
	PollInterval       time.Duration
	DrainTimeout       time.Duration
	StaleSweepInterval time.Duration
}

// Worker is the single-instance-per-process job dispatch loop. Multi-
// instance operation is not a goal.
type Worker struct {
	store      *queue.Store
	pools      *pool.Registry
	projects   *projects.Service
	dispatcher Dispatcher
	cfg        Config
	log        *slog.Logger

	mu        sync.Mutex
	state     State
	stopCh    chan struct{}
	stoppedCh chan struct{}
	wg        sync.WaitGroup
}

// New creates a new Worker.
func New(store *queue.Store, pools *pool.Registry, projectSvc *projects.Service, dispatcher Dispatcher, cfg Config, log *slog.Logger) *Worker {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.DrainTimeout == 0 {
		cfg.DrainTimeout = 30 * time.Second
	}
	if cfg.StaleSweepInterval == 0 {
		cfg.StaleSweepInterval = 5 * time.Minute
	}
	return &Worker{
		store:      store,
		pools:      pools,
		projects:   projectSvc,
		dispatcher: dispatcher,
		cfg:        cfg,
		log:        log.With(logger.Scope("queue.worker")),
		state:      StateStopped,
	}
}

// Start runs the crash-recovery sweep once, then enters the poll loop in
// the background.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.state != StateStopped {
		w.mu.Unlock()
		return nil
	}
	w.state = StateStarting
	w.stopCh = make(chan struct{})
	w.stoppedCh = make(chan struct{})
	w.mu.Unlock()

	n, err := w.store.ResetStaleBatches(ctx, time.Now())
	if err != nil {
		w.log.Error("startup stale-batch sweep failed", logger.Error(err))
	} else if n > 0 {
		w.log.Info("startup stale-batch sweep reset batches", slog.Int("count", n))
	}

	w.mu.Lock()
	w.state = StateRunning
	w.mu.Unlock()

	w.wg.Add(1)
	go w.run(ctx)

	w.log.Info("worker started", slog.Duration("poll_interval", w.cfg.PollInterval))
	return nil
}

// Stop drains: no new leases are taken; already-running pipelines are
// allowed to complete, up to DrainTimeout.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if w.state == StateStopped {
		w.mu.Unlock()
		return nil
	}
	w.state = StateDraining
	close(w.stopCh)
	w.mu.Unlock()

	drainCtx, cancel := context.WithTimeout(ctx, w.cfg.DrainTimeout)
	defer cancel()

	select {
	case <-w.stoppedCh:
		w.log.Info("worker drained gracefully")
	case <-drainCtx.Done():
		w.log.Warn("worker drain timeout, forcing stop")
	}

	w.mu.Lock()
	w.state = StateStopped
	w.mu.Unlock()
	return nil
}

// State returns the worker's current lifecycle state.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()
	defer close(w.stoppedCh)

	pollTicker := time.NewTicker(w.cfg.PollInterval)
	defer pollTicker.Stop()

	var inFlight sync.WaitGroup
	defer inFlight.Wait()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		case <-pollTicker.C:
			w.pollOnce(ctx, &inFlight)
		}
	}
}

func (w *Worker) pollOnce(ctx context.Context, inFlight *sync.WaitGroup) {
	if _, err := w.store.PromoteDueRetries(ctx, time.Now()); err != nil {
		w.log.Warn("promote due retries failed", logger.Error(err))
	}

	job, err := w.store.LeaseNext(ctx, time.Now())
	if err != nil {
		w.log.Warn("lease_next failed", logger.Error(err))
		return
	}
	if job == nil {
		return
	}

	project, err := w.projects.Get(ctx, job.ProjectID)
	if err != nil {
		w.failJobStartup(ctx, job, err)
		return
	}

	p := w.pools.Get(project.ID, pool.Config{
		MaxConcurrency:    project.EffectiveMaxConcurrency(),
		RequestsPerMinute: project.RequestsPerMinute,
	})

	inFlight.Add(1)
	go func() {
		defer inFlight.Done()
		w.dispatch(context.Background(), p, job)
	}()
}

// dispatch acquires a pool admission ticket and runs the job to
// completion, recording the outcome through the Store. Using a detached
// context here means an in-flight pipeline is never aborted by the poll
// loop's own context; cancellation is cooperative via the job's own
// timeout inside the pipeline.
func (w *Worker) dispatch(ctx context.Context, p *pool.Pool, job *queue.Job) {
	ctx, span := tracing.Start(ctx, "queue.worker.dispatch",
		attribute.String("job.id", job.ID),
		attribute.String("job.type", string(job.Type)),
		attribute.String("project.id", job.ProjectID),
	)
	defer span.End()

	err := p.Execute(ctx, func(ctx context.Context) error {
		return w.dispatcher.Run(ctx, job)
	})

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		w.failJobStartup(ctx, job, err)
		return
	}

	if compErr := w.store.CompleteJob(ctx, job.ID, time.Now()); compErr != nil {
		w.log.Error("failed to record job completion", logger.Error(compErr), slog.String("job_id", job.ID))
	}
}

// failJobStartup records a job failure through the Store so a failure to
// even start the pipeline (pool acquisition, project lookup) is never a
// silent drop.
func (w *Worker) failJobStartup(ctx context.Context, job *queue.Job, cause error) {
	outcome, err := w.store.FailJob(ctx, job.ID, cause, time.Now())
	if err != nil {
		w.log.Error("failed to record job failure", logger.Error(err), slog.String("job_id", job.ID))
		return
	}
	w.log.Warn("job failed",
		slog.String("job_id", job.ID),
		slog.String("outcome", string(outcome)),
		logger.Error(cause))
}
