// Package v1 provides HTTP handlers for the orchestration API.
package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/atlasfin/atlas/internal/service"
	"github.com/atlasfin/atlas/internal/store"
)

// Handler handles HTTP requests.
type Handler struct {
	chat       *service.Chat
	dispatcher *service.Dispatcher
	store      store.Store
}

// NewHandler creates a new handler.
func NewHandler(chat *service.Chat, dispatcher *service.Dispatcher, st store.Store) *Handler {
	return &Handler{
		chat:       chat,
		dispatcher: dispatcher,
		store:      st,
	}
}

// RegisterRoutes registers routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	// Chat API
	e.POST("/v1/sessions/:session_id/messages", h.PostSessionMessage)
	e.GET("/v1/sessions/:session_id/messages", h.GetSessionMessages)

	// Backtest job API
	e.POST("/v1/backtests", h.SubmitBacktest)
	e.GET("/v1/backtests", h.ListBacktests)
	e.GET("/v1/backtests/:job_id", h.GetBacktest)
	e.GET("/v1/backtests/:job_id/events", h.GetBacktestEvents)
	e.POST("/v1/backtests/:job_id/cancel", h.CancelBacktest)

	e.GET("/healthz", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": "0.1.0",
	})
}
