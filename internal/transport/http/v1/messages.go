package v1

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/atlasfin/atlas/internal/service"
)

// MessageRequest is one user turn.
type MessageRequest struct {
	Message string `json:"message"`
}

// PostSessionMessage processes one chat turn.
// POST /v1/sessions/:session_id/messages
func (h *Handler) PostSessionMessage(c echo.Context) error {
	sessionID := c.Param("session_id")
	var req MessageRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Message == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "message is required"})
	}

	ctx := c.Request().Context()

	reply, err := h.chat.ProcessTurn(ctx, sessionID, req.Message)
	if err != nil {
		if errors.Is(err, service.ErrToolLoopLimit) {
			return c.JSON(http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, map[string]string{
		"session_id": sessionID,
		"reply":      reply,
	})
}

// GetSessionMessages retrieves the conversation history for a session.
// GET /v1/sessions/:session_id/messages
func (h *Handler) GetSessionMessages(c echo.Context) error {
	sessionID := c.Param("session_id")

	messages := h.chat.History(sessionID)

	return c.JSON(http.StatusOK, map[string]interface{}{
		"session_id": sessionID,
		"messages":   messages,
	})
}
