package queue

import (
	"github.com/labstack/echo/v4"

	"github.com/rowforge/extractqueue/pkg/auth"
)

// RegisterRoutes registers the §6 Queue API under a project's own path,
// gated by pkg/auth's caller-identity middleware and requireScope's
// per-operation token-scope check.
func RegisterRoutes(e *echo.Echo, h *Handler, authMiddleware *auth.Middleware) {
	g := e.Group("/api/projects/:projectId/queue")
	g.Use(authMiddleware.RequireAuth())

	g.POST("/jobs/batch", h.EnqueueBatch)
	g.POST("/jobs/reprocess", h.EnqueueReprocess)
	g.POST("/jobs/batch-many", h.EnqueueMany)
	g.POST("/jobs/redo", h.EnqueueRedo)
	g.POST("/jobs/cancel", h.Cancel)
	g.POST("/jobs/retry", h.Retry)
	g.GET("/jobs", h.ListJobs)
	g.GET("/jobs/:jobId", h.Job)
	g.GET("/jobs/:jobId/logs", h.JobLogs)
	g.GET("/stats", h.Stats)
	g.POST("/batches/status", h.SetBatchStatus)
	g.POST("/batches/delete", h.DeleteBatches)
}
