package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"relaybox.app/relay/common/logger"
	"relaybox.app/relay/internal/metrics"
	"relaybox.app/relay/internal/queue"
)

type ReclaimerConfig struct {
	Stream   string
	Group    string
	Consumer string
	// Entries idle for at least MinIdle belong to a dead or stuck worker.
	MinIdle  time.Duration
	Interval time.Duration
	// Upper bound on entries claimed per sweep.
	BatchSize int64
}

// Reclaimer takes over dispatch tasks that a worker read but never settled,
// which is what a crash between XREADGROUP and XACK leaves behind. Claimed
// tasks are handed to the same settle path as fresh reads, so attempts and
// the DLQ cap still apply.
type Reclaimer struct {
	client  redis.UniversalClient
	cfg     ReclaimerConfig
	dlq     Consumer
	settle  queue.MessageProcessor
	metrics *metrics.Metrics

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func NewReclaimer(client redis.UniversalClient, cfg ReclaimerConfig, consumer Consumer, settle queue.MessageProcessor, m *metrics.Metrics) *Reclaimer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	return &Reclaimer{
		client:    client,
		cfg:       cfg,
		dlq:       consumer,
		settle:    settle,
		metrics:   m,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

func (r *Reclaimer) Run(ctx context.Context) {
	defer close(r.stoppedCh)
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "relay.worker.reclaimer"})

	slog.InfoContext(ctx, "reclaimer started",
		"stream", r.cfg.Stream,
		"min_idle", r.cfg.MinIdle,
		"every", r.cfg.Interval)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-ticker.C:
			n, err := r.Sweep(ctx)
			if err != nil {
				slog.ErrorContext(ctx, "reclaim sweep failed", "error", err)
				continue
			}
			if n > 0 {
				slog.InfoContext(ctx, "reclaimed stale dispatch tasks", "count", n)
			}
		}
	}
}

func (r *Reclaimer) Stop() {
	close(r.stopCh)
	<-r.stoppedCh
}

// Sweep claims up to BatchSize stale entries and settles each one. It
// returns how many entries were claimed. A failure to settle one task is
// logged and does not stop the sweep.
func (r *Reclaimer) Sweep(ctx context.Context) (int, error) {
	claimed := 0
	cursor := "0-0"
	for int64(claimed) < r.cfg.BatchSize {
		msgs, next, err := r.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   r.cfg.Stream,
			Group:    r.cfg.Group,
			Consumer: r.cfg.Consumer,
			MinIdle:  r.cfg.MinIdle,
			Start:    cursor,
			Count:    r.cfg.BatchSize - int64(claimed),
		}).Result()
		if err != nil {
			return claimed, fmt.Errorf("xautoclaim (stream=%s): %w", r.cfg.Stream, err)
		}

		for _, raw := range msgs {
			claimed++
			r.metrics.Dispatch("reclaimed")
			r.settleOne(ctx, raw)
		}

		if next == "0-0" || next == "" || len(msgs) == 0 {
			break
		}
		cursor = next
	}
	return claimed, nil
}

func (r *Reclaimer) settleOne(ctx context.Context, raw redis.XMessage) {
	entryID := raw.ID
	ctx = logger.WithLogFields(ctx, logger.LogFields{TaskID: &entryID})

	msg, err := queue.ParseMessage(raw)
	if err != nil {
		// Unreadable payloads can never succeed; park them with the reason.
		slog.ErrorContext(ctx, "reclaimed task is malformed", "error", err)
		r.metrics.Dispatch("dead")
		if dlqErr := r.dlq.SendDLQ(ctx, queue.Message{ID: raw.ID, Raw: raw}, "malformed task: "+err.Error()); dlqErr != nil {
			slog.ErrorContext(ctx, "failed to park malformed task", "error", dlqErr)
		}
		return
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		MessageID:  logger.Ptr(msg.Task.MessageID),
		SessionKey: logger.Ptr(msg.Task.SessionKey),
	})
	if err := r.settle(ctx, msg); err != nil {
		slog.ErrorContext(ctx, "settling reclaimed task failed",
			"error", err,
			"attempt", msg.Task.Attempt)
	}
}
