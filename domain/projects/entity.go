// Package projects holds the configuration owner of the extraction
// pipeline: the schema of columns to extract, feature flags, LLM endpoint
// settings, and per-project rate limits.
package projects

import (
	"time"

	"github.com/uptrace/bun"
)

// ColumnType is the type tag of a Column Definition.
type ColumnType string

const (
	ColumnTypeText     ColumnType = "text"
	ColumnTypeNumber   ColumnType = "number"
	ColumnTypeDate     ColumnType = "date"
	ColumnTypeCurrency ColumnType = "currency"
	ColumnTypeBoolean  ColumnType = "boolean"
)

// CoordinateFormat is the wire encoding of bounding-box tuples.
type CoordinateFormat string

const (
	CoordinateFormatX1Y1X2Y2 CoordinateFormat = "x1y1x2y2"
	CoordinateFormatYXYX     CoordinateFormat = "ymin_xmin_ymax_xmax"
)

// ColumnDefinition is the unit of extraction: one field the pipeline asks
// the model to fill in for every row.
type ColumnDefinition struct {
	ID             string     `json:"id"`
	DisplayName    string     `json:"displayName"`
	Type           ColumnType `json:"type"`
	Description    string     `json:"description,omitempty"`
	AllowedValues  []string   `json:"allowedValues,omitempty"`
	ValidationExpr string     `json:"validationPattern,omitempty"`
}

// Project is the configuration owner for a set of batches: schema, feature
// flags, LLM connection details, and rate-limit settings.
type Project struct {
	bun.BaseModel `bun:"table:projects,alias:p"`

	ID          string             `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	OwnerUserID string             `bun:"owner_user_id,notnull,type:uuid" json:"ownerUserId"`
	Name        string             `bun:"name,notnull" json:"name"`
	Columns     []ColumnDefinition `bun:"columns,type:jsonb,default:'[]'" json:"columns"`

	BoundingBoxes      bool `bun:"bounding_boxes,notnull,default:false" json:"boundingBoxes"`
	ConfidenceScores   bool `bun:"confidence_scores,notnull,default:false" json:"confidenceScores"`
	MultiRowExtraction bool `bun:"multi_row_extraction,notnull,default:false" json:"multiRowExtraction"`
	TOONOutput         bool `bun:"toon_output,notnull,default:false" json:"toonOutput"`

	LLMEndpointURL string `bun:"llm_endpoint_url,notnull" json:"llmEndpointUrl"`
	LLMModel       string `bun:"llm_model,notnull" json:"llmModel"`
	LLMAPIKey      string `bun:"llm_api_key,notnull" json:"-"`

	RequestsPerMinute      int  `bun:"requests_per_minute,notnull,default:60" json:"requestsPerMinute"`
	EnableParallelRequests bool `bun:"enable_parallel_requests,notnull,default:false" json:"enableParallelRequests"`
	MaxConcurrency         int  `bun:"max_concurrency,notnull,default:1" json:"maxConcurrency"`
	RequestTimeoutSec      int  `bun:"request_timeout_sec,notnull,default:120" json:"requestTimeoutSec"`

	CoordinateFormat CoordinateFormat `bun:"coordinate_format,notnull,default:'x1y1x2y2'" json:"coordinateFormat"`

	CreatedAt time.Time `bun:"created_at,notnull,default:now()" json:"createdAt"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:now()" json:"updatedAt"`
}

// ColumnByID returns the column definition with the given id, or nil.
func (p *Project) ColumnByID(id string) *ColumnDefinition {
	for i := range p.Columns {
		if p.Columns[i].ID == id {
			return &p.Columns[i]
		}
	}
	return nil
}

// ColumnByName returns the column definition with the given display name
// (case-sensitive exact match per §4.5), or nil.
func (p *Project) ColumnByName(name string) *ColumnDefinition {
	for i := range p.Columns {
		if p.Columns[i].DisplayName == name {
			return &p.Columns[i]
		}
	}
	return nil
}

// EffectiveMaxConcurrency derives the pool's concurrency cap from the
// enable_parallel_requests flag, per §4.4.
func (p *Project) EffectiveMaxConcurrency() int {
	if !p.EnableParallelRequests {
		return 1
	}
	if p.MaxConcurrency < 1 {
		return 1
	}
	return p.MaxConcurrency
}

// RequestTimeout returns the project's LLM request timeout as a Duration.
func (p *Project) RequestTimeout() time.Duration {
	if p.RequestTimeoutSec <= 0 {
		return 120 * time.Second
	}
	return time.Duration(p.RequestTimeoutSec) * time.Second
}
