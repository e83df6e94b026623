// Package queue is the durable job queue: jobs, batches, extraction rows,
// and the processing metrics recorded for each terminal job outcome.
package queue

import (
	"time"

	"github.com/uptrace/bun"
)

// JobType identifies the kind of work a Queue Job carries.
type JobType string

const (
	JobTypeProcessBatch   JobType = "process_batch"
	JobTypeReprocessBatch JobType = "reprocess_batch"
	JobTypeProcessRedo    JobType = "process_redo"
)

// JobStatus is the lifecycle state of a Queue Job.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusRetrying   JobStatus = "retrying"
	JobStatusCanceled   JobStatus = "canceled"
)

// BatchStatus is the lifecycle state of an Image Batch.
type BatchStatus string

const (
	BatchStatusPending    BatchStatus = "pending"
	BatchStatusProcessing BatchStatus = "processing"
	BatchStatusReview     BatchStatus = "review"
	BatchStatusApproved   BatchStatus = "approved"
	BatchStatusFailed     BatchStatus = "failed"
)

// RowStatus is the lifecycle state of an Extraction Row.
type RowStatus string

const (
	RowStatusPending  RowStatus = "pending"
	RowStatusReview   RowStatus = "review"
	RowStatusApproved RowStatus = "approved"
	RowStatusDeleted  RowStatus = "deleted"
)

const (
	// DefaultJobPriority is used for full-batch extraction jobs.
	DefaultJobPriority = 10
	// RedoJobPriority is lower (more urgent) than a full-batch job.
	RedoJobPriority = 5
)

// JobPayload is the type-specific body of a Queue Job. Only the fields
// relevant to the job's type are populated.
type JobPayload struct {
	BatchID string `json:"batchId"`

	// process_redo fields.
	RowIndex        int               `json:"rowIndex,omitempty"`
	RedoColumnIDs   []string          `json:"redoColumnIds,omitempty"`
	CroppedImageIDs map[string]string `json:"croppedImageIds,omitempty"`
	SourceImageIDs  map[string]string `json:"sourceImageIds,omitempty"`

	// Reprocess is true for reprocess_batch jobs; the pipeline behaves
	// identically to process_batch (§9 open question), but the flag is
	// carried through to the job log trail.
	Reprocess bool `json:"reprocess,omitempty"`
}

// Job is the unit of scheduled work.
type Job struct {
	bun.BaseModel `bun:"table:queue_jobs,alias:qj"`

	ID            string     `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	Type          JobType    `bun:"type,notnull" json:"type"`
	Status        JobStatus  `bun:"status,notnull,default:'queued'" json:"status"`
	Priority      int        `bun:"priority,notnull,default:10" json:"priority"`
	ProjectID     string     `bun:"project_id,notnull,type:uuid" json:"projectId"`
	Payload       JobPayload `bun:"payload,type:jsonb" json:"payload"`
	Attempts      int        `bun:"attempts,notnull,default:0" json:"attempts"`
	MaxAttempts   int        `bun:"max_attempts,notnull,default:3" json:"maxAttempts"`
	ErrorMessage  string     `bun:"error_message" json:"errorMessage,omitempty"`
	CreatedAt     time.Time  `bun:"created_at,notnull,default:now()" json:"createdAt"`
	StartedAt     *time.Time `bun:"started_at" json:"startedAt,omitempty"`
	CompletedAt   *time.Time `bun:"completed_at" json:"completedAt,omitempty"`
	NextAttemptAt *time.Time `bun:"next_attempt_at" json:"nextAttemptAt,omitempty"`
}

// JobLogEntry is one entry in a job's observability trail (supplemented
// feature, see DESIGN.md).
type JobLogEntry struct {
	bun.BaseModel `bun:"table:queue_job_logs,alias:qjl"`

	ID        int64     `bun:"id,pk,autoincrement" json:"id"`
	JobID     string    `bun:"job_id,notnull,type:uuid" json:"jobId"`
	Event     string    `bun:"event,notnull" json:"event"`
	Message   string    `bun:"message,notnull,default:''" json:"message"`
	CreatedAt time.Time `bun:"created_at,notnull,default:now()" json:"createdAt"`
}

// Batch is the unit of one extraction call: a group of images submitted
// together.
type Batch struct {
	bun.BaseModel `bun:"table:image_batches,alias:b"`

	ID            string         `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	ProjectID     string         `bun:"project_id,notnull,type:uuid" json:"projectId"`
	Status        BatchStatus    `bun:"status,notnull,default:'pending'" json:"status"`
	RowCount      *int           `bun:"row_count" json:"rowCount,omitempty"`
	ProcessedData map[string]any `bun:"processed_data,type:jsonb" json:"processedData,omitempty"`
	ErrorMessage  string         `bun:"error_message" json:"errorMessage,omitempty"`
	CreatedAt     time.Time      `bun:"created_at,notnull,default:now()" json:"createdAt"`
	UpdatedAt     time.Time      `bun:"updated_at,notnull,default:now()" json:"updatedAt"`
}

// Image is a single visual input belonging to a batch.
type Image struct {
	bun.BaseModel `bun:"table:images,alias:img"`

	ID            string    `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	BatchID       string    `bun:"batch_id,notnull,type:uuid" json:"batchId"`
	Position      int       `bun:"position,notnull" json:"position"`
	StorageKey    string    `bun:"storage_key,notnull" json:"storageKey"`
	OCRText       string    `bun:"ocr_text,notnull,default:''" json:"ocrText"`
	ParentImageID *string   `bun:"parent_image_id,type:uuid" json:"parentImageId,omitempty"`
	ColumnID      *string   `bun:"column_id" json:"columnId,omitempty"`
	BBoxUsed      []int     `bun:"bbox_used,type:jsonb" json:"bboxUsed,omitempty"`
	IsCropped     bool      `bun:"is_cropped,notnull,default:false" json:"isCropped"`
	CreatedAt     time.Time `bun:"created_at,notnull,default:now()" json:"createdAt"`
}

// ExtractionResult is one field extracted for one row, embedded in a Row's
// row_data.
type ExtractionResult struct {
	ColumnID   string   `json:"column_id"`
	ColumnName string   `json:"column_name"`
	Value      *string  `json:"value"`
	ImageIndex int      `json:"image_index"`
	BBox2D     []int    `json:"bbox_2d,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
	RowIndex   *int     `json:"row_index,omitempty"`
	Redone     bool     `json:"redone,omitempty"`
}

// Row is the caller-visible extraction unit: the grouped extractions for
// one logical item in the document.
type Row struct {
	bun.BaseModel `bun:"table:extraction_rows,alias:er"`

	ID         string             `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	BatchID    string             `bun:"batch_id,notnull,type:uuid" json:"batchId"`
	ProjectID  string             `bun:"project_id,notnull,type:uuid" json:"projectId"`
	RowIndex   int                `bun:"row_index,notnull" json:"rowIndex"`
	RowData    []ExtractionResult `bun:"row_data,type:jsonb,default:'[]'" json:"rowData"`
	Status     RowStatus          `bun:"status,notnull,default:'pending'" json:"status"`
	ApprovedAt *time.Time         `bun:"approved_at" json:"approvedAt,omitempty"`
	DeletedAt  *time.Time         `bun:"deleted_at" json:"deletedAt,omitempty"`
	CreatedAt  time.Time          `bun:"created_at,notnull,default:now()" json:"createdAt"`
	UpdatedAt  time.Time          `bun:"updated_at,notnull,default:now()" json:"updatedAt"`
}

// MatchesColumn reports whether an extraction result matches a column by
// id first, falling back to a case-sensitive exact name match, per §4.5.
func (r ExtractionResult) MatchesColumn(columnID, columnName string) bool {
	if r.ColumnID == columnID && columnID != "" {
		return true
	}
	return r.ColumnName == columnName && columnName != ""
}

// Metric is one record per terminal job outcome.
type Metric struct {
	bun.BaseModel `bun:"table:processing_metrics,alias:pm"`

	ID              int64     `bun:"id,pk,autoincrement" json:"id"`
	JobType         JobType   `bun:"job_type,notnull" json:"jobType"`
	Status          string    `bun:"status,notnull" json:"status"`
	DurationMs      int64     `bun:"duration_ms,notnull" json:"durationMs"`
	ImageCount      int       `bun:"image_count,notnull,default:0" json:"imageCount"`
	ExtractionCount int       `bun:"extraction_count,notnull,default:0" json:"extractionCount"`
	Model           string    `bun:"model,notnull,default:''" json:"model"`
	TokensUsed      *int      `bun:"tokens_used" json:"tokensUsed,omitempty"`
	BatchID         *string   `bun:"batch_id,type:uuid" json:"batchId,omitempty"`
	ProjectID       *string   `bun:"project_id,type:uuid" json:"projectId,omitempty"`
	CreatedAt       time.Time `bun:"created_at,notnull,default:now()" json:"createdAt"`
}

const (
	MetricStatusSuccess = "success"
	MetricStatusFailed  = "failed"
)
