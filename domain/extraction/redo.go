package extraction

import (
	"time"

	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/rowforge/extractqueue/domain/queue"
	"github.com/rowforge/extractqueue/pkg/apperror"
	"github.com/rowforge/extractqueue/pkg/tracing"
)

// runRedo implements the Redo Pipeline (§4.6): re-extract a caller-chosen
// subset of fields for exactly one row, using caller-supplied crops, and
// merge the new values back without ever touching the row's status.
func (p *Pipeline) runRedo(ctx context.Context, job *queue.Job) error {
	ctx, span := tracing.Start(ctx, "extraction.run_redo",
		attribute.String("job.id", job.ID),
		attribute.String("batch.id", job.Payload.BatchID),
		attribute.Int("row.index", job.Payload.RowIndex),
	)
	defer span.End()

	start := time.Now()

	project, err := p.projects.Get(ctx, job.ProjectID)
	if err != nil {
		return err
	}

	payload := job.Payload
	if len(payload.RedoColumnIDs) == 0 {
		return apperror.ErrInvalidBatch.WithMessage("redo job has no redo_column_ids")
	}

	row, err := p.store.GetRow(ctx, payload.BatchID, payload.RowIndex)
	if err != nil {
		return err
	}

	crops, err := p.loadCropImages(ctx, payload)
	if err != nil {
		return apperror.ErrInvalidBatch.WithInternal(err).WithMessage("failed to load redo crop images")
	}

	prompt := BuildRedoPrompt(project, row, payload.RedoColumnIDs)

	messages, err := BuildMessages(ctx, p.images, crops, prompt)
	if err != nil {
		return apperror.ErrInvalidBatch.WithInternal(err).WithMessage("failed to load redo crop image bytes")
	}

	client, err := p.newClient(*project)
	if err != nil {
		return apperror.ErrInvalidBatch.WithInternal(err).WithMessage("invalid LLM endpoint configuration")
	}

	result, err := client.Generate(ctx, messages)
	if err != nil {
		p.recordMetric(ctx, job, project, len(crops), 0, false, start)
		return classifyLLMError(err)
	}

	parsed, err := ParseResponse(project, result.Content)
	if err != nil {
		p.recordMetric(ctx, job, project, len(crops), 0, false, start)
		return err
	}

	if err := p.store.MergeRowFields(ctx, payload.BatchID, payload.RowIndex, parsed); err != nil {
		return err
	}

	p.recordMetric(ctx, job, project, len(crops), len(parsed), true, start)
	return nil
}

// loadCropImages resolves the job's cropped_image_ids into Image records,
// in the column order of redo_column_ids (§4.6 step 3).
func (p *Pipeline) loadCropImages(ctx context.Context, payload queue.JobPayload) ([]queue.Image, error) {
	ids := make([]string, 0, len(payload.RedoColumnIDs))
	for _, colID := range payload.RedoColumnIDs {
		if imgID, ok := payload.CroppedImageIDs[colID]; ok {
			ids = append(ids, imgID)
		}
	}

	byID, err := p.store.GetImagesByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	crops := make([]queue.Image, 0, len(payload.RedoColumnIDs))
	for _, colID := range payload.RedoColumnIDs {
		imgID, ok := payload.CroppedImageIDs[colID]
		if !ok {
			continue
		}
		img, ok := byID[imgID]
		if !ok {
			continue
		}
		crops = append(crops, img)
	}
	return crops, nil
}
