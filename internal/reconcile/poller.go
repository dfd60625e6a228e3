package reconcile

import (
	"context"
	"log/slog"
	"time"

	"relaybox.app/relay/common/logger"
	"relaybox.app/relay/internal/client"
)

const (
	defaultPollInterval     = time.Second
	defaultFailureThreshold = 3

	// BannerUnavailable is shown after repeated delivery failures.
	BannerUnavailable = "Couldn't check for updates. Retrying..."
)

type Fetcher interface {
	Fetch(ctx context.Context, sessionKey string) ([]client.Message, error)
}

type PollerConfig struct {
	SessionKey       string
	Interval         time.Duration
	FailureThreshold int
}

// Poller drives the pull delivery strategy: one fetch per tick, results fed
// to the engine. A failed fetch is logged and retried on the next tick.
type Poller struct {
	fetcher  Fetcher
	engine   *Engine
	cfg      PollerConfig
	failures int
}

func NewPoller(fetcher Fetcher, engine *Engine, cfg PollerConfig) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultPollInterval
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = defaultFailureThreshold
	}
	return &Poller{fetcher: fetcher, engine: engine, cfg: cfg}
}

// Run polls until ctx is cancelled. Ticks never overlap.
func (p *Poller) Run(ctx context.Context) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component:  "relay.reconcile.poller",
		SessionKey: logger.Ptr(p.cfg.SessionKey),
	})
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		_ = p.PollOnce(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (p *Poller) PollOnce(ctx context.Context) error {
	msgs, err := p.fetcher.Fetch(ctx, p.cfg.SessionKey)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.failures++
		slog.WarnContext(ctx, "fetch failed", "error", err, "consecutive_failures", p.failures)
		if p.failures >= p.cfg.FailureThreshold {
			_ = p.engine.SetBanner(BannerUnavailable)
		}
		return err
	}

	if p.failures > 0 {
		p.failures = 0
		_ = p.engine.SetBanner("")
	}
	for _, m := range msgs {
		if _, err := p.engine.Deliver(m); err != nil {
			return err
		}
	}
	return nil
}
