package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/uptrace/bun"

	"github.com/rowforge/extractqueue/internal/config"
	"github.com/rowforge/extractqueue/pkg/apperror"
	"github.com/rowforge/extractqueue/pkg/logger"
)

// StoreConfig holds the tunables for retry backoff and defaults, mirroring
// the teacher's job-queue config shape.
type StoreConfig struct {
	DefaultMaxAttempts int
	BaseRetryDelay     time.Duration
	MaxRetryDelay      time.Duration
}

// Store is the single point of durable mutation for jobs, batches, and
// rows. Every state transition passes through here; callers never observe
// half-applied states.
type Store struct {
	db     bun.IDB
	config StoreConfig
	log    *slog.Logger
}

// NewStore creates a new Queue Store.
func NewStore(db bun.IDB, config StoreConfig, log *slog.Logger) *Store {
	if config.DefaultMaxAttempts == 0 {
		config.DefaultMaxAttempts = 3
	}
	if config.BaseRetryDelay == 0 {
		config.BaseRetryDelay = 5 * time.Second
	}
	if config.MaxRetryDelay == 0 {
		config.MaxRetryDelay = 60 * time.Second
	}
	return &Store{db: db, config: config, log: log.With(logger.Scope("queue.store"))}
}

// NewStoreFromConfig builds a Store using the host's QueueConfig, for fx
// wiring.
func NewStoreFromConfig(db bun.IDB, cfg *config.Config, log *slog.Logger) *Store {
	return NewStore(db, StoreConfig{
		DefaultMaxAttempts: cfg.Queue.DefaultMaxAttempts,
		BaseRetryDelay:     cfg.Queue.BaseRetryDelay,
		MaxRetryDelay:      cfg.Queue.MaxRetryDelay,
	}, log)
}

// CreateJob persists a new job in queued status.
func (s *Store) CreateJob(ctx context.Context, jobType JobType, payload JobPayload, priority int, projectID string) (*Job, error) {
	job := &Job{
		Type:        jobType,
		Status:      JobStatusQueued,
		Priority:    priority,
		ProjectID:   projectID,
		Payload:     payload,
		MaxAttempts: s.config.DefaultMaxAttempts,
	}
	if _, err := s.db.NewInsert().Model(job).Returning("*").Exec(ctx); err != nil {
		return nil, apperror.ErrStoreFailure.WithInternal(err)
	}
	s.logEvent(ctx, job.ID, "created", string(jobType))
	return job, nil
}

// LeaseNext atomically claims one queued job, race-free against
// concurrent workers via FOR UPDATE SKIP LOCKED, ordered by
// (priority asc, created_at asc). Returns nil, nil if no job is eligible.
func (s *Store) LeaseNext(ctx context.Context, now time.Time) (*Job, error) {
	var job Job

	query := `
		WITH cte AS (
			SELECT id FROM queue_jobs
			WHERE status = 'queued'
			ORDER BY priority ASC, created_at ASC, id ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		UPDATE queue_jobs j
		SET status = 'processing', started_at = ?, next_attempt_at = NULL
		FROM cte WHERE j.id = cte.id
		RETURNING j.*`

	err := s.db.NewRaw(query, now).Scan(ctx, &job)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperror.ErrStoreFailure.WithInternal(err)
	}

	s.logEvent(ctx, job.ID, "leased", "")
	return &job, nil
}

// CompleteJob transitions processing -> completed. Idempotent on an
// already-completed job. A job canceled while processing (§5: cancellation
// is non-preemptive) stays canceled — completion is only recorded for
// jobs still in processing, so a job the caller canceled mid-flight is
// never marked completed. The rows the pipeline has already persisted for
// that job are not rolled back.
func (s *Store) CompleteJob(ctx context.Context, id string, now time.Time) error {
	res, err := s.db.NewUpdate().
		Model((*Job)(nil)).
		Set("status = ?", JobStatusCompleted).
		Set("completed_at = ?", now).
		Where("id = ?", id).
		Where("status = ?", JobStatusProcessing).
		Exec(ctx)
	if err != nil {
		return apperror.ErrStoreFailure.WithInternal(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil // already completed, or canceled mid-flight; nothing to do
	}
	s.logEvent(ctx, id, "completed", "")
	return nil
}

// FailOutcome reports whether a failed job was scheduled for retry or
// permanently failed.
type FailOutcome string

const (
	FailOutcomeRetryScheduled FailOutcome = "retry_scheduled"
	FailOutcomeFinalFailure   FailOutcome = "final_failure"
)

// FailJob marks a job failed. If attempts remain, it is moved to retrying
// with a backoff-scheduled next_attempt_at; otherwise it becomes
// permanently failed.
func (s *Store) FailJob(ctx context.Context, id string, jobErr error, now time.Time) (FailOutcome, error) {
	var job Job
	if err := s.db.NewSelect().Model(&job).Where("id = ?", id).Scan(ctx); err != nil {
		return "", apperror.ErrStoreFailure.WithInternal(err)
	}

	attempt := job.Attempts + 1
	message := truncateError(jobErr.Error())

	if attempt >= job.MaxAttempts {
		_, err := s.db.NewUpdate().
			Model((*Job)(nil)).
			Set("status = ?", JobStatusFailed).
			Set("attempts = ?", attempt).
			Set("error_message = ?", message).
			Set("completed_at = ?", now).
			Where("id = ?", id).
			Exec(ctx)
		if err != nil {
			return "", apperror.ErrStoreFailure.WithInternal(err)
		}
		s.logEvent(ctx, id, "failed", message)
		return FailOutcomeFinalFailure, nil
	}

	delay := s.backoff(attempt)
	nextAttempt := now.Add(delay)

	_, err := s.db.NewUpdate().
		Model((*Job)(nil)).
		Set("status = ?", JobStatusRetrying).
		Set("attempts = ?", attempt).
		Set("error_message = ?", message).
		Set("started_at = NULL").
		Set("next_attempt_at = ?", nextAttempt).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return "", apperror.ErrStoreFailure.WithInternal(err)
	}

	s.log.Debug("job scheduled for retry",
		slog.String("job_id", id), slog.Int("attempt", attempt), slog.Duration("delay", delay))
	s.logEvent(ctx, id, "retry_scheduled", message)
	return FailOutcomeRetryScheduled, nil
}

// PromoteDueRetries returns jobs whose retry delay has elapsed back to
// queued. Called periodically by the worker poll loop.
func (s *Store) PromoteDueRetries(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.NewUpdate().
		Model((*Job)(nil)).
		Set("status = ?", JobStatusQueued).
		Set("next_attempt_at = NULL").
		Where("status = ?", JobStatusRetrying).
		Where("next_attempt_at <= ?", now).
		Exec(ctx)
	if err != nil {
		return 0, apperror.ErrStoreFailure.WithInternal(err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// backoff computes min(maxRetryDelay, baseRetryDelay*attempt^2), grounded
// on the teacher's MarkFailed formula.
func (s *Store) backoff(attempt int) time.Duration {
	delay := float64(s.config.BaseRetryDelay) * float64(attempt) * float64(attempt)
	if delay > float64(s.config.MaxRetryDelay) {
		return s.config.MaxRetryDelay
	}
	return time.Duration(delay)
}

// CancelJobs sets status=canceled for all queued|processing|retrying jobs
// for a project, optionally restricted to batch ids. Terminal jobs are
// untouched. Returns the count affected.
func (s *Store) CancelJobs(ctx context.Context, projectID string, batchIDs []string) (int, error) {
	q := s.db.NewUpdate().
		Model((*Job)(nil)).
		Set("status = ?", JobStatusCanceled).
		Where("project_id = ?", projectID).
		Where("status IN (?)", bun.In([]JobStatus{JobStatusQueued, JobStatusProcessing, JobStatusRetrying}))

	if len(batchIDs) > 0 {
		q = q.Where("payload->>'batchId' IN (?)", bun.In(batchIDs))
	}

	res, err := q.Exec(ctx)
	if err != nil {
		return 0, apperror.ErrStoreFailure.WithInternal(err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// RetryFailed moves failed jobs back to queued, resetting attempts and
// clearing error text. Jobs in other terminal states are skipped. Scope is
// exactly one of jobID or projectID.
func (s *Store) RetryFailed(ctx context.Context, jobID, projectID string) (int, error) {
	q := s.db.NewUpdate().
		Model((*Job)(nil)).
		Set("status = ?", JobStatusQueued).
		Set("attempts = 0").
		Set("error_message = NULL").
		Set("next_attempt_at = NULL").
		Where("status = ?", JobStatusFailed)

	if jobID != "" {
		q = q.Where("id = ?", jobID)
	} else {
		q = q.Where("project_id = ?", projectID)
	}

	res, err := q.Exec(ctx)
	if err != nil {
		return 0, apperror.ErrStoreFailure.WithInternal(err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ResetStaleBatches finds every batch in processing with no corresponding
// active job and returns it to pending. This is the crash-recovery
// primitive and MUST run to completion before the worker begins leasing.
func (s *Store) ResetStaleBatches(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.NewUpdate().
		Model((*Batch)(nil)).
		Set("status = ?", BatchStatusPending).
		Set("error_message = NULL").
		Set("updated_at = ?", now).
		Where("status = ?", BatchStatusProcessing).
		Where(`NOT EXISTS (
			SELECT 1 FROM queue_jobs j
			WHERE j.payload->>'batchId' = image_batches.id::text
			AND j.status IN ('queued','processing','retrying')
		)`).
		Exec(ctx)
	if err != nil {
		return 0, apperror.ErrStoreFailure.WithInternal(err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.log.Warn("reset stale batches", slog.Int64("count", n))
	}
	return int(n), nil
}

// UpdateBatchStatus performs the §4.8 row-synchronization rules alongside
// the batch status transition.
func (s *Store) UpdateBatchStatus(ctx context.Context, batchID string, target BatchStatus, now time.Time) error {
	return s.inTx(ctx, func(tx bun.Tx) error {
		var batch Batch
		if err := tx.NewSelect().Model(&batch).Where("id = ?", batchID).Scan(ctx); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return apperror.NewNotFound("batch", batchID)
			}
			return apperror.ErrStoreFailure.WithInternal(err)
		}

		switch target {
		case BatchStatusApproved:
			if _, err := tx.NewUpdate().Model((*Row)(nil)).
				Set("status = ?", RowStatusApproved).
				Set("approved_at = ?", now).
				Set("updated_at = ?", now).
				Where("batch_id = ?", batchID).
				Where("status = ?", RowStatusReview).
				Exec(ctx); err != nil {
				return apperror.ErrStoreFailure.WithInternal(err)
			}

		case BatchStatusFailed:
			var approvedCount int
			count, err := tx.NewSelect().Model((*Row)(nil)).
				Where("batch_id = ?", batchID).
				Where("status = ?", RowStatusApproved).
				Count(ctx)
			if err != nil {
				return apperror.ErrStoreFailure.WithInternal(err)
			}
			approvedCount = count
			if approvedCount == 0 {
				if _, err := tx.NewUpdate().Model((*Row)(nil)).
					Set("status = ?", RowStatusDeleted).
					Set("deleted_at = ?", now).
					Set("updated_at = ?", now).
					Where("batch_id = ?", batchID).
					Where("status = ?", RowStatusReview).
					Exec(ctx); err != nil {
					return apperror.ErrStoreFailure.WithInternal(err)
				}
			}

		case BatchStatusPending:
			if _, err := tx.NewDelete().Model((*Row)(nil)).Where("batch_id = ?", batchID).Exec(ctx); err != nil {
				return apperror.ErrStoreFailure.WithInternal(err)
			}

		case BatchStatusReview, BatchStatusProcessing:
			// no row-sync side effects; a redundant set_batch_status(review)
			// right after a successful extraction is a no-op (§8), and the
			// worker's processing transition at lease time never touches rows.

		default:
			return apperror.ErrInvalidState.WithMessage(fmt.Sprintf("unsupported batch target status %q", target))
		}

		update := tx.NewUpdate().Model((*Batch)(nil)).
			Set("status = ?", target).
			Set("updated_at = ?", now).
			Where("id = ?", batchID)
		if target == BatchStatusPending {
			update = update.Set("row_count = NULL").Set("processed_data = NULL")
		}
		if _, err := update.Exec(ctx); err != nil {
			return apperror.ErrStoreFailure.WithInternal(err)
		}
		return nil
	})
}

// DeleteBatch deletes a batch along with its child rows and images.
func (s *Store) DeleteBatch(ctx context.Context, batchID string) error {
	return s.inTx(ctx, func(tx bun.Tx) error {
		if _, err := tx.NewDelete().Model((*Row)(nil)).Where("batch_id = ?", batchID).Exec(ctx); err != nil {
			return apperror.ErrStoreFailure.WithInternal(err)
		}
		if _, err := tx.NewDelete().Model((*Image)(nil)).Where("batch_id = ?", batchID).Exec(ctx); err != nil {
			return apperror.ErrStoreFailure.WithInternal(err)
		}
		if _, err := tx.NewDelete().Model((*Batch)(nil)).Where("id = ?", batchID).Exec(ctx); err != nil {
			return apperror.ErrStoreFailure.WithInternal(err)
		}
		return nil
	})
}

// PersistRows upserts the full row set for a batch and stamps the batch's
// row_count (§4.5 step 6). Row identity is (batch_id, row_index); a retry
// of the same batch overwrites prior rows.
func (s *Store) PersistRows(ctx context.Context, batchID, projectID string, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}
	for i := range rows {
		rows[i].BatchID = batchID
		rows[i].ProjectID = projectID
		if rows[i].Status == "" {
			rows[i].Status = RowStatusReview
		}
	}

	return s.inTx(ctx, func(tx bun.Tx) error {
		_, err := tx.NewInsert().
			Model(&rows).
			On("CONFLICT (batch_id, row_index) DO UPDATE").
			Set("row_data = EXCLUDED.row_data").
			Set("status = EXCLUDED.status").
			Set("updated_at = now()").
			Exec(ctx)
		if err != nil {
			return apperror.ErrStoreFailure.WithInternal(err)
		}

		rowCount := len(rows)
		_, err = tx.NewUpdate().Model((*Batch)(nil)).
			Set("row_count = ?", rowCount).
			Set("updated_at = now()").
			Where("id = ?", batchID).
			Exec(ctx)
		if err != nil {
			return apperror.ErrStoreFailure.WithInternal(err)
		}
		return nil
	})
}

// MergeRowFields applies a field-scoped update to one row: each updated
// extraction overwrites the matching field (by column_id, or column_name
// fallback), preserving every other field, stamping redone=true on the
// ones that changed. Never creates new columns in a row.
func (s *Store) MergeRowFields(ctx context.Context, batchID string, rowIndex int, updates []ExtractionResult) error {
	return s.inTx(ctx, func(tx bun.Tx) error {
		var row Row
		err := tx.NewSelect().Model(&row).
			Where("batch_id = ?", batchID).
			Where("row_index = ?", rowIndex).
			Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return apperror.NewNotFound("row", fmt.Sprintf("%s/%d", batchID, rowIndex))
		}
		if err != nil {
			return apperror.ErrStoreFailure.WithInternal(err)
		}

		merged := MergeFields(row.RowData, updates)

		_, err = tx.NewUpdate().Model(&row).
			Set("row_data = ?", merged).
			Set("updated_at = now()").
			WherePK().
			Exec(ctx)
		if err != nil {
			return apperror.ErrStoreFailure.WithInternal(err)
		}
		return nil
	})
}

// MergeFields is the pure merge rule behind MergeRowFields, exposed for
// unit testing without a database.
func MergeFields(existing []ExtractionResult, updates []ExtractionResult) []ExtractionResult {
	merged := make([]ExtractionResult, len(existing))
	copy(merged, existing)

	for _, upd := range updates {
		for i := range merged {
			if merged[i].MatchesColumn(upd.ColumnID, upd.ColumnName) {
				upd.Redone = true
				merged[i] = upd
				break
			}
		}
	}
	return merged
}

// GetJob retrieves a job by id, or nil if not found.
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	var job Job
	err := s.db.NewSelect().Model(&job).Where("id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperror.ErrStoreFailure.WithInternal(err)
	}
	return &job, nil
}

// JobLogs returns the observability trail for one job, newest last.
func (s *Store) JobLogs(ctx context.Context, jobID string) ([]JobLogEntry, error) {
	var entries []JobLogEntry
	err := s.db.NewSelect().Model(&entries).Where("job_id = ?", jobID).OrderExpr("created_at ASC").Scan(ctx)
	if err != nil {
		return nil, apperror.ErrStoreFailure.WithInternal(err)
	}
	return entries, nil
}

// Stats are point-in-time job counts by status.
type Stats struct {
	Queued     int64 `json:"queued"`
	Processing int64 `json:"processing"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
	Total      int64 `json:"total"`
}

// GetStats returns point-in-time job counts, optionally project-scoped.
func (s *Store) GetStats(ctx context.Context, projectID string) (*Stats, error) {
	query := s.db.NewSelect().Model((*Job)(nil))
	if projectID != "" {
		query = query.Where("project_id = ?", projectID)
	}

	var rows []struct {
		Status JobStatus `bun:"status"`
		Count  int64     `bun:"count"`
	}
	err := query.ColumnExpr("status").ColumnExpr("count(*) AS count").GroupExpr("status").Scan(ctx, &rows)
	if err != nil {
		return nil, apperror.ErrStoreFailure.WithInternal(err)
	}

	stats := &Stats{}
	for _, r := range rows {
		stats.Total += r.Count
		switch r.Status {
		case JobStatusQueued, JobStatusRetrying:
			stats.Queued += r.Count
		case JobStatusProcessing:
			stats.Processing += r.Count
		case JobStatusCompleted:
			stats.Completed += r.Count
		case JobStatusFailed:
			stats.Failed += r.Count
		}
	}
	return stats, nil
}

// PruneCompleted deletes completed/failed/canceled jobs whose completed_at
// is set and older than the given cutoff (supplemented feature, see
// DESIGN.md). CancelJobs does not set completed_at, so a canceled job is
// pruned only if it kept a completed_at from an earlier failed run.
func (s *Store) PruneCompleted(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := s.db.NewDelete().
		Model((*Job)(nil)).
		Where("status IN (?)", bun.In([]JobStatus{JobStatusCompleted, JobStatusFailed, JobStatusCanceled})).
		Where("completed_at IS NOT NULL AND completed_at < ?", olderThan).
		Exec(ctx)
	if err != nil {
		return 0, apperror.ErrStoreFailure.WithInternal(err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ListJobs returns jobs for a project, newest first, paginated.
func (s *Store) ListJobs(ctx context.Context, projectID string, limit, offset int) ([]Job, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var jobs []Job
	err := s.db.NewSelect().Model(&jobs).
		Where("project_id = ?", projectID).
		OrderExpr("created_at DESC").
		Limit(limit).
		Offset(offset).
		Scan(ctx)
	if err != nil {
		return nil, apperror.ErrStoreFailure.WithInternal(err)
	}
	return jobs, nil
}

// GetBatch retrieves a batch by id, or apperror.ErrInvalidBatch wrapping
// not-found (an extraction pipeline can't proceed without one).
func (s *Store) GetBatch(ctx context.Context, batchID string) (*Batch, error) {
	var batch Batch
	err := s.db.NewSelect().Model(&batch).Where("id = ?", batchID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.ErrInvalidBatch.WithMessage(fmt.Sprintf("batch %q not found", batchID))
	}
	if err != nil {
		return nil, apperror.ErrStoreFailure.WithInternal(err)
	}
	return &batch, nil
}

// ListImages returns a batch's images in their stored order.
func (s *Store) ListImages(ctx context.Context, batchID string) ([]Image, error) {
	var images []Image
	err := s.db.NewSelect().Model(&images).
		Where("batch_id = ?", batchID).
		OrderExpr("position ASC").
		Scan(ctx)
	if err != nil {
		return nil, apperror.ErrStoreFailure.WithInternal(err)
	}
	return images, nil
}

// GetImagesByIDs loads a set of images (used by the redo pipeline to load
// caller-supplied crops), keyed by id.
func (s *Store) GetImagesByIDs(ctx context.Context, ids []string) (map[string]Image, error) {
	if len(ids) == 0 {
		return map[string]Image{}, nil
	}
	var images []Image
	err := s.db.NewSelect().Model(&images).Where("id IN (?)", bun.In(ids)).Scan(ctx)
	if err != nil {
		return nil, apperror.ErrStoreFailure.WithInternal(err)
	}
	byID := make(map[string]Image, len(images))
	for _, img := range images {
		byID[img.ID] = img
	}
	return byID, nil
}

// GetRow retrieves one extraction row by (batch_id, row_index).
func (s *Store) GetRow(ctx context.Context, batchID string, rowIndex int) (*Row, error) {
	var row Row
	err := s.db.NewSelect().Model(&row).
		Where("batch_id = ?", batchID).
		Where("row_index = ?", rowIndex).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NewNotFound("row", fmt.Sprintf("%s/%d", batchID, rowIndex))
	}
	if err != nil {
		return nil, apperror.ErrStoreFailure.WithInternal(err)
	}
	return &row, nil
}

// RecordMetric writes one Processing Metric (§4.7). Called best-effort by
// the pipelines: a write failure is logged by the caller but never fails
// the job.
func (s *Store) RecordMetric(ctx context.Context, metric *Metric) error {
	_, err := s.db.NewInsert().Model(metric).Exec(ctx)
	if err != nil {
		return apperror.ErrStoreFailure.WithInternal(err)
	}
	return nil
}

func (s *Store) inTx(ctx context.Context, fn func(tx bun.Tx) error) error {
	db, ok := s.db.(*bun.DB)
	if !ok {
		if tx, ok := s.db.(bun.Tx); ok {
			return fn(tx)
		}
		return fmt.Errorf("queue store: db is neither *bun.DB nor bun.Tx")
	}
	return db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return fn(tx)
	})
}

func (s *Store) logEvent(ctx context.Context, jobID, event, message string) {
	entry := &JobLogEntry{JobID: jobID, Event: event, Message: message}
	if _, err := s.db.NewInsert().Model(entry).Exec(ctx); err != nil {
		s.log.Warn("failed to write job log entry", logger.Error(err), slog.String("job_id", jobID))
	}
}

func truncateError(msg string) string {
	const maxLen = 500
	if len(msg) > maxLen {
		return msg[:maxLen]
	}
	return msg
}
