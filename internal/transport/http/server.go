// Package http provides the HTTP server for the orchestration layer.
package http

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/atlasfin/atlas/internal/service"
	"github.com/atlasfin/atlas/internal/store"
	v1 "github.com/atlasfin/atlas/internal/transport/http/v1"
)

// NewServer creates and configures the HTTP server. It exposes the chat
// surface and the backtest job API.
func NewServer(chat *service.Chat, dispatcher *service.Dispatcher, st store.Store) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	// Handlers
	handler := v1.NewHandler(chat, dispatcher, st)
	handler.RegisterRoutes(e)

	return e
}
