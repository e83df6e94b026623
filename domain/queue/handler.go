package queue

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/rowforge/extractqueue/pkg/apperror"
	"github.com/rowforge/extractqueue/pkg/auth"
)

// Handler exposes the Queue Manager as JSON HTTP endpoints under a
// project's own path, per the §6 External Interfaces Queue API.
type Handler struct {
	mgr *Manager
}

// NewHandler creates a new queue API handler.
func NewHandler(mgr *Manager) *Handler {
	return &Handler{mgr: mgr}
}

// requireScope enforces token-scope equality: the caller's token must be
// scoped to exactly the project the path names, and must carry the
// required scope. This is the cheap per-request check; it deliberately
// does not hit the database the way domain/apitoken's ownership check
// does, since it runs on every job operation rather than on rare
// credential-management calls.
func requireScope(c echo.Context, scope string) (string, error) {
	user := auth.GetUser(c)
	if user == nil {
		return "", apperror.ErrUnauthorized
	}
	pathProjectID := c.Param("projectId")
	if pathProjectID == "" {
		return "", apperror.NewBadRequest("projectId is required")
	}
	if pathProjectID != user.ProjectID {
		return "", apperror.ErrForbidden
	}
	for _, s := range user.Scopes {
		if s == scope {
			return pathProjectID, nil
		}
	}
	return "", apperror.ErrForbidden.WithMessage("token lacks required scope " + scope)
}

type enqueueBatchRequest struct {
	BatchID  string `json:"batchId"`
	Priority int    `json:"priority"`
}

// EnqueueBatch handles POST /jobs/batch.
func (h *Handler) EnqueueBatch(c echo.Context) error {
	projectID, err := requireScope(c, "queue:write")
	if err != nil {
		return err
	}
	var req enqueueBatchRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}
	if req.BatchID == "" {
		return apperror.NewBadRequest("batchId is required")
	}
	job, err := h.mgr.EnqueueBatch(c.Request().Context(), req.BatchID, projectID, req.Priority)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, job)
}

// EnqueueReprocess handles POST /jobs/reprocess.
func (h *Handler) EnqueueReprocess(c echo.Context) error {
	projectID, err := requireScope(c, "queue:write")
	if err != nil {
		return err
	}
	var req enqueueBatchRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}
	if req.BatchID == "" {
		return apperror.NewBadRequest("batchId is required")
	}
	job, err := h.mgr.EnqueueReprocess(c.Request().Context(), req.BatchID, projectID, req.Priority)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, job)
}

type enqueueManyRequest struct {
	BatchIDs []string `json:"batchIds"`
	Priority int      `json:"priority"`
}

// EnqueueMany handles POST /jobs/batch-many.
func (h *Handler) EnqueueMany(c echo.Context) error {
	projectID, err := requireScope(c, "queue:write")
	if err != nil {
		return err
	}
	var req enqueueManyRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}
	if len(req.BatchIDs) == 0 {
		return apperror.NewBadRequest("batchIds must not be empty")
	}
	result := h.mgr.EnqueueMany(c.Request().Context(), req.BatchIDs, projectID, req.Priority)
	if result.FailedWith != nil {
		return result.FailedWith
	}
	return c.JSON(http.StatusCreated, result)
}

type enqueueRedoRequest struct {
	BatchID         string            `json:"batchId"`
	RowIndex        int               `json:"rowIndex"`
	RedoColumnIDs   []string          `json:"redoColumnIds"`
	CroppedImageIDs map[string]string `json:"croppedImageIds"`
	SourceImageIDs  map[string]string `json:"sourceImageIds"`
	Priority        int               `json:"priority"`
}

// EnqueueRedo handles POST /jobs/redo.
func (h *Handler) EnqueueRedo(c echo.Context) error {
	projectID, err := requireScope(c, "queue:write")
	if err != nil {
		return err
	}
	var req enqueueRedoRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}
	job, err := h.mgr.EnqueueRedo(c.Request().Context(), req.BatchID, projectID, req.RowIndex, req.RedoColumnIDs, req.CroppedImageIDs, req.SourceImageIDs, req.Priority)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, job)
}

type batchIDsRequest struct {
	BatchIDs []string `json:"batchIds"`
}

// Cancel handles POST /jobs/cancel.
func (h *Handler) Cancel(c echo.Context) error {
	projectID, err := requireScope(c, "queue:write")
	if err != nil {
		return err
	}
	var req batchIDsRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}
	if len(req.BatchIDs) == 0 {
		return apperror.NewBadRequest("batchIds must not be empty")
	}
	result, err := h.mgr.Cancel(c.Request().Context(), projectID, req.BatchIDs)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

type retryRequest struct {
	JobID string `json:"jobId"`
}

// Retry handles POST /jobs/retry: retries a single failed job, or every
// failed job in the project if jobId is omitted.
func (h *Handler) Retry(c echo.Context) error {
	projectID, err := requireScope(c, "queue:write")
	if err != nil {
		return err
	}
	var req retryRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}
	count, err := h.mgr.RetryFailed(c.Request().Context(), req.JobID, projectID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]int{"retried": count})
}

// Stats handles GET /stats.
func (h *Handler) Stats(c echo.Context) error {
	projectID, err := requireScope(c, "queue:read")
	if err != nil {
		return err
	}
	stats, err := h.mgr.Stats(c.Request().Context(), projectID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, stats)
}

// Job handles GET /jobs/:jobId.
func (h *Handler) Job(c echo.Context) error {
	if _, err := requireScope(c, "queue:read"); err != nil {
		return err
	}
	job, err := h.mgr.Job(c.Request().Context(), c.Param("jobId"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, job)
}

// JobLogs handles GET /jobs/:jobId/logs.
func (h *Handler) JobLogs(c echo.Context) error {
	if _, err := requireScope(c, "queue:read"); err != nil {
		return err
	}
	logs, err := h.mgr.JobLogs(c.Request().Context(), c.Param("jobId"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, logs)
}

// ListJobs handles GET /jobs.
func (h *Handler) ListJobs(c echo.Context) error {
	projectID, err := requireScope(c, "queue:read")
	if err != nil {
		return err
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 {
		limit = 50
	}
	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	jobs, err := h.mgr.ListJobs(c.Request().Context(), projectID, limit, offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, jobs)
}

type setBatchStatusRequest struct {
	BatchIDs []string    `json:"batchIds"`
	Status   BatchStatus `json:"status"`
}

// SetBatchStatus handles POST /batches/status.
func (h *Handler) SetBatchStatus(c echo.Context) error {
	if _, err := requireScope(c, "queue:write"); err != nil {
		return err
	}
	var req setBatchStatusRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}
	if len(req.BatchIDs) == 0 {
		return apperror.NewBadRequest("batchIds must not be empty")
	}
	count, err := h.mgr.SetBatchStatus(c.Request().Context(), req.BatchIDs, req.Status)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]int{"updated": count})
}

// DeleteBatches handles POST /batches/delete. Deletion is destructive and
// scoped to admin tokens rather than ordinary write access.
func (h *Handler) DeleteBatches(c echo.Context) error {
	if _, err := requireScope(c, "queue:admin"); err != nil {
		return err
	}
	var req batchIDsRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}
	if len(req.BatchIDs) == 0 {
		return apperror.NewBadRequest("batchIds must not be empty")
	}
	count, err := h.mgr.DeleteBatches(c.Request().Context(), req.BatchIDs)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]int{"deleted": count})
}
