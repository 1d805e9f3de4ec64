package v1

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/atlasfin/atlas/internal/domain"
	"github.com/atlasfin/atlas/internal/store"
)

// SubmitBacktest queues a backtest job.
// POST /v1/backtests
func (h *Handler) SubmitBacktest(c echo.Context) error {
	var req domain.JobRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	ctx := c.Request().Context()

	job, err := h.dispatcher.Submit(ctx, req)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusAccepted, job)
}

// ListBacktests lists jobs, optionally filtered by status.
// GET /v1/backtests
func (h *Handler) ListBacktests(c echo.Context) error {
	status := domain.JobStatus(c.QueryParam("status"))

	ctx := c.Request().Context()

	jobs, err := h.store.ListJobs(ctx, status)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"jobs": jobs,
	})
}

// GetBacktest retrieves a job record, including the result envelope once the
// job is terminal.
// GET /v1/backtests/:job_id
func (h *Handler) GetBacktest(c echo.Context) error {
	jobID := c.Param("job_id")

	ctx := c.Request().Context()

	job, err := h.store.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "job not found"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, job)
}

// GetBacktestEvents retrieves the progress event log for a job.
// GET /v1/backtests/:job_id/events
func (h *Handler) GetBacktestEvents(c echo.Context) error {
	jobID := c.Param("job_id")
	afterSeq := int64(0)
	if s := c.QueryParam("after_seq"); s != "" {
		if val, err := strconv.ParseInt(s, 10, 64); err == nil {
			afterSeq = val
		}
	}

	ctx := c.Request().Context()

	if _, err := h.store.GetJob(ctx, jobID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "job not found"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	events, err := h.store.ListEvents(ctx, jobID, afterSeq)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"events": events,
	})
}

// CancelBacktest cancels a queued job.
// POST /v1/backtests/:job_id/cancel
func (h *Handler) CancelBacktest(c echo.Context) error {
	jobID := c.Param("job_id")

	ctx := c.Request().Context()

	if err := h.dispatcher.Cancel(ctx, jobID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "job not found"})
		}
		if strings.Contains(err.Error(), "already running") {
			return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, map[string]string{
		"job_id": jobID,
		"status": string(domain.JobStatusCancelled),
	})
}
