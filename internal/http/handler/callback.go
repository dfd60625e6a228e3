package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"relaybox.app/relay/internal/http/dto"
	"relaybox.app/relay/internal/service"
)

type CallbackHandler struct {
	callbacks service.ChatCallbackService
}

func NewCallbackHandler(callbacks service.ChatCallbackService) *CallbackHandler {
	return &CallbackHandler{callbacks: callbacks}
}

func (h *CallbackHandler) Chat(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.ChatCallbackRequest
	if err := bindStrictJSON(c, &req); err != nil {
		slog.WarnContext(ctx, "invalid chat callback", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid request body"})
		return
	}

	msg, err := h.callbacks.Receive(ctx, service.CallbackParams{
		SessionOrChatID: req.SessionOrChatID,
		UserID:          req.UserID,
		Module:          req.Module,
		Message:         req.Message,
		Attachments:     dto.ToAttachments(req.Attachments),
	})
	if err != nil {
		status, text := serviceErrorStatus(err)
		if status >= http.StatusInternalServerError {
			slog.ErrorContext(ctx, "failed to store chat callback", "error", err)
		}
		c.JSON(status, gin.H{"success": false, "error": text})
		return
	}

	c.JSON(http.StatusOK, dto.ChatCallbackResponse{Success: true, Message: dto.ToMessageResponse(*msg)})
}
