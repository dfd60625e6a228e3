package reconcile

import (
	"context"
	"log/slog"
	"time"

	"relaybox.app/relay/common/logger"
	"relaybox.app/relay/internal/client"
)

const (
	minReconnectDelay = 500 * time.Millisecond
	maxReconnectDelay = 30 * time.Second
)

type Streamer interface {
	Stream(ctx context.Context, sessionKey, lastID string, fn func(client.Message) error) (string, error)
}

type StreamConfig struct {
	SessionKey       string
	LastID           string
	FailureThreshold int
	MinDelay         time.Duration
	MaxDelay         time.Duration
}

// StreamConsumer drives the push delivery strategy. It reconnects after every
// disconnect, resuming from the last id it delivered so the server replays
// what was missed.
type StreamConsumer struct {
	streamer Streamer
	engine   *Engine
	cfg      StreamConfig
	lastID   string
	failures int
}

func NewStreamConsumer(streamer Streamer, engine *Engine, cfg StreamConfig) *StreamConsumer {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = defaultFailureThreshold
	}
	if cfg.MinDelay <= 0 {
		cfg.MinDelay = minReconnectDelay
	}
	if cfg.MaxDelay < cfg.MinDelay {
		cfg.MaxDelay = maxReconnectDelay
	}
	return &StreamConsumer{streamer: streamer, engine: engine, cfg: cfg, lastID: cfg.LastID}
}

func (c *StreamConsumer) LastID() string {
	return c.lastID
}

func (c *StreamConsumer) Run(ctx context.Context) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component:  "relay.reconcile.stream",
		SessionKey: logger.Ptr(c.cfg.SessionKey),
	})
	delay := c.cfg.MinDelay

	for {
		last, err := c.streamer.Stream(ctx, c.cfg.SessionKey, c.lastID, c.deliver)
		if last != "" {
			c.lastID = last
		}
		if ctx.Err() != nil {
			return nil
		}

		if err != nil {
			c.failures++
			slog.WarnContext(ctx, "stream disconnected",
				"error", err,
				"consecutive_failures", c.failures,
				"retry_in", delay)
			if c.failures >= c.cfg.FailureThreshold {
				_ = c.engine.SetBanner(BannerUnavailable)
			}
		} else {
			delay = c.cfg.MinDelay
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		if err != nil {
			delay = min(delay*2, c.cfg.MaxDelay)
		}
	}
}

func (c *StreamConsumer) deliver(m client.Message) error {
	if c.failures > 0 {
		c.failures = 0
		_ = c.engine.SetBanner("")
	}
	_, err := c.engine.Deliver(m)
	return err
}
