package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"relaybox.app/relay/internal/http/dto"
	"relaybox.app/relay/internal/service"
)

type FetchHandler struct {
	delivery service.DeliveryService
}

func NewFetchHandler(delivery service.DeliveryService) *FetchHandler {
	return &FetchHandler{delivery: delivery}
}

func (h *FetchHandler) Fetch(c *gin.Context) {
	ctx := c.Request.Context()

	entries, err := h.delivery.Fetch(ctx, c.Query("sessionKey"))
	if err != nil {
		status, msg := serviceErrorStatus(err)
		if status >= http.StatusInternalServerError {
			slog.ErrorContext(ctx, "failed to fetch replies", "error", err)
		}
		c.JSON(status, dto.FetchUnavailable(msg))
		return
	}

	c.JSON(http.StatusOK, dto.NewFetchResponse(entries))
}
