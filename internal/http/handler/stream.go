package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"relaybox.app/relay/internal/http/dto"
	"relaybox.app/relay/internal/service"
)

const defaultKeepAlive = 25 * time.Second

type StreamHandler struct {
	streams   service.StreamService
	keepAlive time.Duration
}

func NewStreamHandler(streams service.StreamService, keepAlive time.Duration) *StreamHandler {
	if keepAlive <= 0 {
		keepAlive = defaultKeepAlive
	}
	return &StreamHandler{streams: streams, keepAlive: keepAlive}
}

// Stream serves a session's messages as Server-Sent Events. The resume point
// comes from lastId or, on browser reconnects, the Last-Event-ID header.
func (h *StreamHandler) Stream(c *gin.Context) {
	ctx := c.Request.Context()

	lastID, err := resumeID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid lastId"})
		return
	}

	stream, err := h.streams.Open(ctx, c.Query("sessionKey"), lastID)
	if err != nil {
		status, msg := serviceErrorStatus(err)
		if status >= http.StatusInternalServerError {
			slog.ErrorContext(ctx, "failed to open reply stream", "error", err)
		}
		c.JSON(status, gin.H{"error": msg})
		return
	}
	defer stream.Close()

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}

	setSSEHeaders(c.Writer)
	c.Status(http.StatusOK)
	sseWrite(c.Writer, "", "ping", "ready")
	flusher.Flush()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sseWrite(c.Writer, "", "ping", time.Now().UTC().Format(time.RFC3339Nano))
			flusher.Flush()
		case msg, ok := <-stream.Messages():
			if !ok {
				if err := stream.Err(); err != nil {
					_, text := serviceErrorStatus(err)
					sseWrite(c.Writer, "", "error", map[string]string{"error": text})
					flusher.Flush()
				}
				return
			}
			sseWrite(c.Writer, strconv.FormatInt(msg.ID, 10), "message", dto.ToMessageResponse(msg))
			flusher.Flush()
		}
	}
}

func resumeID(c *gin.Context) (int64, error) {
	raw := c.Query("lastId")
	if raw == "" {
		raw = c.GetHeader("Last-Event-ID")
	}
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 0 {
		return 0, fmt.Errorf("invalid resume id %q", raw)
	}
	return id, nil
}

func setSSEHeaders(w http.ResponseWriter) {
	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	headers.Set("X-Accel-Buffering", "no")
}

func sseWrite(w http.ResponseWriter, id, event string, data any) {
	payload := marshalPayload(data)
	if id != "" {
		_, _ = fmt.Fprintf(w, "id: %s\n", id)
	}
	if event != "" {
		_, _ = fmt.Fprintf(w, "event: %s\n", event)
	}
	for _, line := range strings.Split(payload, "\n") {
		_, _ = fmt.Fprintf(w, "data: %s\n", line)
	}
	_, _ = fmt.Fprint(w, "\n")
}

func marshalPayload(data any) string {
	switch payload := data.(type) {
	case string:
		return payload
	case []byte:
		return string(payload)
	default:
		bytes, err := json.Marshal(payload)
		if err != nil {
			return fmt.Sprintf("%v", data)
		}
		return string(bytes)
	}
}
