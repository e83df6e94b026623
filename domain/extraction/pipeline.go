package extraction

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/rowforge/extractqueue/domain/projects"
	"github.com/rowforge/extractqueue/domain/queue"
	"github.com/rowforge/extractqueue/pkg/apperror"
	"github.com/rowforge/extractqueue/pkg/llm/openai"
	"github.com/rowforge/extractqueue/pkg/logger"
	"github.com/rowforge/extractqueue/pkg/tracing"
)

// Pipeline implements worker.Dispatcher: it runs exactly one queue job
// (process_batch, reprocess_batch, or process_redo) to completion. It is
// the concrete fan-in point for the Extraction Pipeline (§4.5) and Redo
// Pipeline (§4.6) — the stage shape (load inputs, build request, call,
// parse, persist) mirrors how the teacher's own per-job worker dispatched
// a pipeline to a sequence of stages.
type Pipeline struct {
	store    *queue.Store
	projects *projects.Service
	images   ImageSource
	log      *slog.Logger

	newClient func(projects.Project) (*openai.Client, error)
}

// New creates a new Pipeline.
func New(store *queue.Store, projectSvc *projects.Service, images ImageSource, log *slog.Logger) *Pipeline {
	return &Pipeline{
		store:    store,
		projects: projectSvc,
		images:   images,
		log:      log.With(logger.Scope("extraction.pipeline")),
		newClient: func(p projects.Project) (*openai.Client, error) {
			return openai.NewClient(openai.Config{
				BaseURL: p.LLMEndpointURL,
				APIKey:  p.LLMAPIKey,
				Model:   p.LLMModel,
				Timeout: p.RequestTimeout(),
			})
		},
	}
}

// Run implements worker.Dispatcher.
func (p *Pipeline) Run(ctx context.Context, job *queue.Job) error {
	switch job.Type {
	case queue.JobTypeProcessBatch, queue.JobTypeReprocessBatch:
		return p.runBatch(ctx, job)
	case queue.JobTypeProcessRedo:
		return p.runRedo(ctx, job)
	default:
		return apperror.ErrInvalidBatch.WithMessage("unknown job type: " + string(job.Type))
	}
}

func (p *Pipeline) runBatch(ctx context.Context, job *queue.Job) error {
	ctx, span := tracing.Start(ctx, "extraction.run_batch",
		attribute.String("job.id", job.ID),
		attribute.String("batch.id", job.Payload.BatchID),
	)
	defer span.End()

	start := time.Now()

	project, err := p.projects.Get(ctx, job.ProjectID)
	if err != nil {
		return err
	}

	batchID := job.Payload.BatchID
	if err := p.store.UpdateBatchStatus(ctx, batchID, queue.BatchStatusProcessing, start); err != nil {
		return err
	}

	images, err := p.store.ListImages(ctx, batchID)
	if err != nil {
		return err
	}
	if len(images) == 0 {
		failErr := apperror.ErrInvalidBatch.WithMessage("batch has no images")
		_ = p.store.UpdateBatchStatus(ctx, batchID, queue.BatchStatusFailed, time.Now())
		return failErr
	}

	prompt := BuildPrompt(project)

	messages, err := BuildMessages(ctx, p.images, images, prompt)
	if err != nil {
		failErr := apperror.ErrInvalidBatch.WithInternal(err).WithMessage("failed to load batch images")
		_ = p.store.UpdateBatchStatus(ctx, batchID, queue.BatchStatusFailed, time.Now())
		return failErr
	}

	client, err := p.newClient(*project)
	if err != nil {
		return apperror.ErrInvalidBatch.WithInternal(err).WithMessage("invalid LLM endpoint configuration")
	}

	llmCtx, llmSpan := tracing.Start(ctx, "extraction.llm_call", attribute.String("llm.model", project.LLMModel))
	result, err := client.Generate(llmCtx, messages)
	if err != nil {
		llmSpan.RecordError(err)
		llmSpan.SetStatus(codes.Error, err.Error())
		llmSpan.End()
		llmErr := classifyLLMError(err)
		_ = p.store.UpdateBatchStatus(ctx, batchID, queue.BatchStatusFailed, time.Now())
		p.recordMetric(ctx, job, project, 0, 0, false, start)
		return llmErr
	}
	llmSpan.End()

	results, err := ParseResponse(project, result.Content)
	if err != nil {
		_ = p.store.UpdateBatchStatus(ctx, batchID, queue.BatchStatusFailed, time.Now())
		p.recordMetric(ctx, job, project, len(images), 0, false, start)
		return err
	}

	rows := GroupIntoRows(results)
	if err := p.store.PersistRows(ctx, batchID, project.ID, rows); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if err := p.store.UpdateBatchStatus(ctx, batchID, queue.BatchStatusReview, time.Now()); err != nil {
		return err
	}

	p.recordMetric(ctx, job, project, len(images), len(results), true, start)
	return nil
}

// classifyLLMError maps a client error onto the §7 taxonomy: an APIError's
// Retryable flag distinguishes LLMError.Network (5xx/429/408) from
// LLMError.Client (other 4xx); anything else (transport failure, context
// deadline) is treated as a retriable network error.
func classifyLLMError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Retryable {
			return apperror.ErrLLMNetwork.WithInternal(err).WithMessage(apiErr.Body)
		}
		return apperror.ErrLLMClient.WithInternal(err).WithMessage(apiErr.Body)
	}
	return apperror.ErrLLMNetwork.WithInternal(err)
}

// recordMetric writes a best-effort Processing Metric per §4.7: a
// metric-write failure is logged but never fails the job.
func (p *Pipeline) recordMetric(ctx context.Context, job *queue.Job, project *projects.Project, imageCount, extractionCount int, success bool, start time.Time) {
	status := queue.MetricStatusFailed
	if success {
		status = queue.MetricStatusSuccess
	}
	batchID := job.Payload.BatchID
	metric := &queue.Metric{
		JobType:         job.Type,
		Status:          status,
		DurationMs:      time.Since(start).Milliseconds(),
		ImageCount:      imageCount,
		ExtractionCount: extractionCount,
		Model:           project.LLMModel,
		BatchID:         &batchID,
		ProjectID:       &project.ID,
	}
	if err := p.store.RecordMetric(ctx, metric); err != nil {
		p.log.Warn("failed to record processing metric", logger.Error(err), slog.String("job_id", job.ID))
	}
}
