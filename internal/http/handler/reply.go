package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"relaybox.app/relay/internal/http/dto"
	"relaybox.app/relay/internal/service"
)

type ReplyHandler struct {
	ingest       service.ReplyIngestService
	maxBodyBytes int64
}

func NewReplyHandler(ingest service.ReplyIngestService, maxBodyBytes int64) *ReplyHandler {
	return &ReplyHandler{ingest: ingest, maxBodyBytes: maxBodyBytes}
}

func (h *ReplyHandler) Submit(c *gin.Context) {
	ctx := c.Request.Context()
	if h.maxBodyBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBodyBytes)
	}

	var req dto.SubmitReplyRequest
	if err := bindStrictJSON(c, &req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			slog.WarnContext(ctx, "reply request over size limit", "limit", tooLarge.Limit)
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"success": false, "error": "request body too large"})
			return
		}
		slog.WarnContext(ctx, "invalid reply request", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid request body"})
		return
	}

	params := service.ReplyParams{SessionKey: req.SessionKey, Body: req.Body}
	for _, f := range req.Files {
		params.Files = append(params.Files, service.InlineFile{
			Name:     f.Name,
			MimeType: f.MimeType,
			Data:     f.Data,
			Size:     f.Size,
		})
	}

	result, err := h.ingest.Submit(ctx, params)
	if err != nil {
		status, msg := serviceErrorStatus(err)
		if status >= http.StatusInternalServerError {
			slog.ErrorContext(ctx, "failed to accept reply", "error", err)
		}
		c.JSON(status, gin.H{"success": false, "error": msg})
		return
	}

	resp := dto.SubmitReplyResponse{Success: true, ID: strconv.FormatInt(result.Entry.ID, 10)}
	for _, s := range result.Skipped {
		resp.Skipped = append(resp.Skipped, dto.SkippedFileResponse{Name: s.Name, Reason: s.Reason})
	}
	c.JSON(http.StatusOK, resp)
}
