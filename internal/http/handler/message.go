package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"relaybox.app/relay/internal/http/dto"
	"relaybox.app/relay/internal/service"
)

type MessageHandler struct {
	messages service.MessageService
}

func NewMessageHandler(messages service.MessageService) *MessageHandler {
	return &MessageHandler{messages: messages}
}

func (h *MessageHandler) Send(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.WarnContext(ctx, "invalid send request", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	msg, err := h.messages.Send(ctx, service.SendParams{
		SessionKey: req.SessionKey,
		Body:       req.Body,
		UserID:     req.UserID,
		Module:     req.Module,
	})
	if err != nil {
		status, text := serviceErrorStatus(err)
		if status >= http.StatusInternalServerError {
			slog.ErrorContext(ctx, "failed to send message", "error", err)
		}
		c.JSON(status, gin.H{"error": text})
		return
	}

	c.JSON(http.StatusCreated, dto.SendMessageResponse{Message: dto.ToMessageResponse(*msg)})
}
