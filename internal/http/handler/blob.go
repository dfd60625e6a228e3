package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"relaybox.app/relay/internal/blob"
)

// BlobReader is the read side of the attachment store.
type BlobReader interface {
	Get(ctx context.Context, key string) ([]byte, string, error)
}

// BlobHandler serves stored attachments when blob URLs point back at the relay.
type BlobHandler struct {
	blobs BlobReader
}

func NewBlobHandler(blobs BlobReader) *BlobHandler {
	return &BlobHandler{blobs: blobs}
}

func (h *BlobHandler) Get(c *gin.Context) {
	ctx := c.Request.Context()
	data, contentType, err := h.blobs.Get(ctx, c.Param("key"))
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			c.Status(http.StatusNotFound)
			return
		}
		slog.ErrorContext(ctx, "failed to read attachment", "error", err)
		c.Status(http.StatusServiceUnavailable)
		return
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Header("X-Content-Type-Options", "nosniff")
	c.Header("Content-Disposition", "attachment")
	c.Data(http.StatusOK, contentType, data)
}
