package health

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/uptrace/bun"

	"github.com/rowforge/extractqueue/internal/config"
)

// MetricsHandler handles job queue metrics requests: a human-facing JSON
// summary of the queue_jobs table. The service exposes no Prometheus
// /metrics endpoint.
type MetricsHandler struct {
	db  *bun.DB
	cfg *config.Config
}

// NewMetricsHandler creates a new metrics handler.
func NewMetricsHandler(db *bun.DB, cfg *config.Config) *MetricsHandler {
	return &MetricsHandler{db: db, cfg: cfg}
}

// JobQueueMetrics summarizes queue_jobs by status for one window.
type JobQueueMetrics struct {
	Queue       string `json:"queue"`
	Queued      int64  `json:"queued"`
	Processing  int64  `json:"processing"`
	Retrying    int64  `json:"retrying"`
	Completed   int64  `json:"completed"`
	Failed      int64  `json:"failed"`
	Canceled    int64  `json:"canceled"`
	Total       int64  `json:"total"`
	LastHour    int64  `json:"lastHour"`
	Last24Hours int64  `json:"last24Hours"`
}

// AllJobMetrics contains the queue_jobs summary.
type AllJobMetrics struct {
	Queues    []JobQueueMetrics `json:"queues"`
	Timestamp string            `json:"timestamp"`
}

// JobMetrics returns a point-in-time summary of queue_jobs.
func (h *MetricsHandler) JobMetrics(c echo.Context) error {
	ctx := c.Request().Context()

	metrics, err := h.getQueueMetrics(ctx)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]any{
			"error": map[string]any{"code": "store_error", "message": err.Error()},
		})
	}

	return c.JSON(http.StatusOK, AllJobMetrics{
		Queues:    []JobQueueMetrics{*metrics},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *MetricsHandler) getQueueMetrics(ctx context.Context) (*JobQueueMetrics, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status = 'queued') as queued,
			COUNT(*) FILTER (WHERE status = 'processing') as processing,
			COUNT(*) FILTER (WHERE status = 'retrying') as retrying,
			COUNT(*) FILTER (WHERE status = 'completed') as completed,
			COUNT(*) FILTER (WHERE status = 'failed') as failed,
			COUNT(*) FILTER (WHERE status = 'canceled') as canceled,
			COUNT(*) as total,
			COUNT(*) FILTER (WHERE created_at > NOW() - INTERVAL '1 hour') as last_hour,
			COUNT(*) FILTER (WHERE created_at > NOW() - INTERVAL '24 hours') as last_24_hours
		FROM queue_jobs`

	var metrics struct {
		Queued      int64 `bun:"queued"`
		Processing  int64 `bun:"processing"`
		Retrying    int64 `bun:"retrying"`
		Completed   int64 `bun:"completed"`
		Failed      int64 `bun:"failed"`
		Canceled    int64 `bun:"canceled"`
		Total       int64 `bun:"total"`
		LastHour    int64 `bun:"last_hour"`
		Last24Hours int64 `bun:"last_24_hours"`
	}

	if err := h.db.NewRaw(query).Scan(ctx, &metrics); err != nil {
		return nil, err
	}

	return &JobQueueMetrics{
		Queue:       "extraction",
		Queued:      metrics.Queued,
		Processing:  metrics.Processing,
		Retrying:    metrics.Retrying,
		Completed:   metrics.Completed,
		Failed:      metrics.Failed,
		Canceled:    metrics.Canceled,
		Total:       metrics.Total,
		LastHour:    metrics.LastHour,
		Last24Hours: metrics.Last24Hours,
	}, nil
}

// SchedulerMetrics reports the configured reconciliation cron cadence
// (§4.3's stale-batch sweep and the metrics retention prune).
func (h *MetricsHandler) SchedulerMetrics(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"staleSweepInterval": h.cfg.Queue.StaleSweepInterval.String(),
		"metricsRetention":   h.cfg.Queue.MetricsRetention.String(),
	})
}
