package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rowforge/extractqueue/pkg/apperror"
	"github.com/rowforge/extractqueue/pkg/logger"
)

// Manager is the public enqueue/cancel/retry surface. It wraps Store
// operations, enforces project-scoped invariants, and generates
// structured results for callers.
type Manager struct {
	store *Store
	log   *slog.Logger
}

// NewManager creates a new Queue Manager.
func NewManager(store *Store, log *slog.Logger) *Manager {
	return &Manager{store: store, log: log.With(logger.Scope("queue.manager"))}
}

// EnqueueBatch creates one process_batch job. No deduplication against
// prior jobs for the same batch; callers cancel first for replacement
// semantics.
func (m *Manager) EnqueueBatch(ctx context.Context, batchID, projectID string, priority int) (*Job, error) {
	if priority == 0 {
		priority = DefaultJobPriority
	}
	return m.store.CreateJob(ctx, JobTypeProcessBatch, JobPayload{BatchID: batchID}, priority, projectID)
}

// EnqueueReprocess creates one reprocess_batch job. Pipeline-identical to
// process_batch (§9 open question); the Reprocess flag only affects the
// job log trail.
func (m *Manager) EnqueueReprocess(ctx context.Context, batchID, projectID string, priority int) (*Job, error) {
	if priority == 0 {
		priority = DefaultJobPriority
	}
	return m.store.CreateJob(ctx, JobTypeReprocessBatch, JobPayload{BatchID: batchID, Reprocess: true}, priority, projectID)
}

// EnqueueManyResult reports the outcome of a batch-group enqueue.
type EnqueueManyResult struct {
	JobIDs     []string
	FailedAt   int
	FailedWith error
}

// EnqueueMany creates one job per batch id as a logical group. If any
// creation fails, already-created jobs are left intact; the result
// carries both the successful ids and the failure index.
func (m *Manager) EnqueueMany(ctx context.Context, batchIDs []string, projectID string, priority int) EnqueueManyResult {
	result := EnqueueManyResult{FailedAt: -1}
	for i, batchID := range batchIDs {
		job, err := m.EnqueueBatch(ctx, batchID, projectID, priority)
		if err != nil {
			result.FailedAt = i
			result.FailedWith = err
			return result
		}
		result.JobIDs = append(result.JobIDs, job.ID)
	}
	return result
}

// EnqueueRedo validates and creates one process_redo job. Redo jobs have
// a lower (more urgent) default priority than full batches.
func (m *Manager) EnqueueRedo(ctx context.Context, batchID, projectID string, rowIndex int, redoColumnIDs []string, croppedImageIDs, sourceImageIDs map[string]string, priority int) (*Job, error) {
	if len(redoColumnIDs) == 0 {
		return nil, apperror.NewBadRequest("redo_column_ids must not be empty")
	}
	for _, colID := range redoColumnIDs {
		if _, ok := croppedImageIDs[colID]; !ok {
			return nil, apperror.NewBadRequest(fmt.Sprintf("cropped_image_ids missing entry for column %q", colID))
		}
	}
	if priority == 0 {
		priority = RedoJobPriority
	}

	payload := JobPayload{
		BatchID:         batchID,
		RowIndex:        rowIndex,
		RedoColumnIDs:   redoColumnIDs,
		CroppedImageIDs: croppedImageIDs,
		SourceImageIDs:  sourceImageIDs,
	}
	return m.store.CreateJob(ctx, JobTypeProcessRedo, payload, priority, projectID)
}

// CancelResult reports the outcome of a cancel operation.
type CancelResult struct {
	CanceledJobs int `json:"canceledJobs"`
	ResetBatches int `json:"resetBatches"`
}

// Cancel delegates to Store.CancelJobs and additionally transitions each
// listed batch that is in pending|processing to failed (with the §4.8
// row-synchronization rules); batches in any other status are left as
// they are. No error message is recorded on the failed batches, and when
// batchIDs is empty no batch is touched. Idempotent and safe against
// already-terminal jobs.
func (m *Manager) Cancel(ctx context.Context, projectID string, batchIDs []string) (CancelResult, error) {
	canceled, err := m.store.CancelJobs(ctx, projectID, batchIDs)
	if err != nil {
		return CancelResult{}, err
	}

	reset := 0
	for _, batchID := range batchIDs {
		batch, err := m.store.GetBatch(ctx, batchID)
		if err != nil {
			if appErr, ok := err.(*apperror.Error); ok && appErr.Kind == apperror.KindInvalidBatch {
				continue // batch already gone; nothing to reset
			}
			return CancelResult{}, err
		}
		if batch.Status != BatchStatusPending && batch.Status != BatchStatusProcessing {
			continue
		}
		if err := m.store.UpdateBatchStatus(ctx, batchID, BatchStatusFailed, time.Now()); err != nil {
			if appErr, ok := err.(*apperror.Error); ok && appErr.Code == "not_found" {
				continue // batch already gone; nothing to reset
			}
			return CancelResult{}, err
		}
		reset++
	}

	return CancelResult{CanceledJobs: canceled, ResetBatches: reset}, nil
}

// RetryFailed moves failed jobs back to queued for the addressed scope
// (a single job, or every failed job in a project).
func (m *Manager) RetryFailed(ctx context.Context, jobID, projectID string) (int, error) {
	if jobID == "" && projectID == "" {
		return 0, apperror.NewBadRequest("retry_failed requires job_id or project_id")
	}
	return m.store.RetryFailed(ctx, jobID, projectID)
}

// Stats returns point-in-time job counts, optionally project-scoped.
func (m *Manager) Stats(ctx context.Context, projectID string) (*Stats, error) {
	return m.store.GetStats(ctx, projectID)
}

// Job returns a job snapshot by id.
func (m *Manager) Job(ctx context.Context, jobID string) (*Job, error) {
	job, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, apperror.NewNotFound("job", jobID)
	}
	return job, nil
}

// JobLogs returns the observability trail for one job.
func (m *Manager) JobLogs(ctx context.Context, jobID string) ([]JobLogEntry, error) {
	return m.store.JobLogs(ctx, jobID)
}

// ListJobs returns a paginated list of jobs for a project.
func (m *Manager) ListJobs(ctx context.Context, projectID string, limit, offset int) ([]Job, error) {
	return m.store.ListJobs(ctx, projectID, limit, offset)
}

// SetBatchStatus implements the caller-facing batch-status operation,
// including the §4.8 row-synchronization rules.
func (m *Manager) SetBatchStatus(ctx context.Context, batchIDs []string, target BatchStatus) (int, error) {
	count := 0
	for _, batchID := range batchIDs {
		if err := m.store.UpdateBatchStatus(ctx, batchID, target, time.Now()); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// DeleteBatches deletes batches along with their child rows and images.
func (m *Manager) DeleteBatches(ctx context.Context, batchIDs []string) (int, error) {
	count := 0
	for _, batchID := range batchIDs {
		if err := m.store.DeleteBatch(ctx, batchID); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// PruneCompleted deletes completed/failed/canceled jobs whose completed_at
// is older than the retention window (supplemented feature; invoked by the
// scheduled reconciliation cron). See Store.PruneCompleted for which
// canceled jobs carry a completed_at.
func (m *Manager) PruneCompleted(ctx context.Context, olderThan time.Time) (int, error) {
	return m.store.PruneCompleted(ctx, olderThan)
}
