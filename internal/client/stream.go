package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/r3labs/sse/v2"
	backoff "gopkg.in/cenkalti/backoff.v1"

	"relaybox.app/relay/internal/http/dto"
)

const maxEventBytes = 8 << 20

// Stream reads the session's SSE stream and calls fn for every message
// newer than lastID. It returns when ctx ends, the server closes the stream,
// or fn fails. The last delivered id is returned so callers can resume.
//
// Reconnecting is left to the caller; a single broken connection ends the call.
func (c *Client) Stream(ctx context.Context, sessionKey, lastID string, fn func(Message) error) (string, error) {
	query := url.Values{"sessionKey": {sessionKey}}
	if lastID != "" {
		query.Set("lastId", lastID)
	}

	sub := sse.NewClient(c.endpoint("/api/v1/replies/stream", query), sse.ClientMaxBufferSize(maxEventBytes))
	sub.Connection = c.stream
	sub.ReconnectStrategy = &backoff.StopBackOff{}
	sub.ResponseValidator = validateStream

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Events are handed over on this goroutine; stopErr needs no lock.
	var stopErr error
	err := sub.SubscribeRawWithContext(ctx, func(ev *sse.Event) {
		if stopErr != nil {
			return
		}
		switch string(ev.Event) {
		case "", "message":
			var m dto.MessageResponse
			if err := json.Unmarshal(ev.Data, &m); err != nil {
				slog.WarnContext(ctx, "skipping undecodable stream event", "error", err)
				return
			}
			if err := fn(fromMessageResponse(m)); err != nil {
				stopErr = err
				cancel()
				return
			}
			lastID = m.ID
		case "error":
			stopErr = fmt.Errorf("%w: %s", ErrUnavailable, errorMessage(ev.Data))
			cancel()
		}
	})

	switch {
	case stopErr != nil:
		return lastID, stopErr
	case ctx.Err() != nil:
		// Our own cancel only fires with stopErr set, so this is the caller's.
		return lastID, ctx.Err()
	case err == nil:
		return lastID, nil
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) || errors.Is(err, ErrUnavailable) {
		return lastID, err
	}
	return lastID, fmt.Errorf("%w: reading stream: %w", ErrUnavailable, err)
}

// validateStream maps a refused stream onto the same errors Fetch and Send use.
func validateStream(_ *sse.Client, resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode == http.StatusServiceUnavailable {
		return fmt.Errorf("%w: stream refused: %s", ErrUnavailable, errorMessage(raw))
	}
	return &StatusError{StatusCode: resp.StatusCode, Message: errorMessage(raw)}
}
