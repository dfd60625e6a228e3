package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"relaybox.app/relay/internal/queue"
)

// ErrPermanent marks a dispatch failure that retrying cannot fix.
var ErrPermanent = errors.New("permanent dispatch failure")

type HTTPDispatcherConfig struct {
	WebhookURL   string
	SecretHeader string
	Secret       string
	TraceHeader  string
	// CallbackURL is where the workflow engine posts its replies.
	CallbackURL string
	Timeout     time.Duration
}

// HTTPDispatcher triggers the workflow engine through its webhook. The
// engine answers quickly and replies later through the relay ingress.
type HTTPDispatcher struct {
	client *http.Client
	cfg    HTTPDispatcherConfig
}

func NewHTTPDispatcher(cfg HTTPDispatcherConfig) *HTTPDispatcher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPDispatcher{
		client: &http.Client{Timeout: timeout},
		cfg:    cfg,
	}
}

type webhookPayload struct {
	SessionKey  string `json:"sessionKey"`
	MessageID   string `json:"messageId"`
	Message     string `json:"message"`
	UserID      string `json:"userId,omitempty"`
	Module      string `json:"module,omitempty"`
	CallbackURL string `json:"callbackUrl,omitempty"`
	Attempt     int    `json:"attempt"`
}

func (d *HTTPDispatcher) Dispatch(ctx context.Context, task queue.DispatchTask) error {
	body, err := json.Marshal(webhookPayload{
		SessionKey:  task.SessionKey,
		MessageID:   strconv.FormatInt(task.MessageID, 10),
		Message:     task.Body,
		UserID:      task.UserID,
		Module:      task.Module,
		CallbackURL: d.cfg.CallbackURL,
		Attempt:     task.Attempt,
	})
	if err != nil {
		return fmt.Errorf("%w: encoding payload: %w", ErrPermanent, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: building request: %w", ErrPermanent, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if d.cfg.Secret != "" && d.cfg.SecretHeader != "" {
		req.Header.Set(d.cfg.SecretHeader, d.cfg.Secret)
	}
	if task.TraceID != "" && d.cfg.TraceHeader != "" {
		req.Header.Set(d.cfg.TraceHeader, task.TraceID)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("calling workflow webhook: %w", err)
	}
	defer resp.Body.Close()
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusRequestTimeout, resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		return fmt.Errorf("workflow webhook returned %d: %s", resp.StatusCode, snippet)
	default:
		return fmt.Errorf("%w: workflow webhook returned %d: %s", ErrPermanent, resp.StatusCode, snippet)
	}
}
