package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"relaybox.app/relay/common/logger"
	"relaybox.app/relay/internal/metrics"
	"relaybox.app/relay/internal/queue"
)

type Config struct {
	MaxAttempts int
}

// Worker drains the dispatch stream and calls the workflow engine once per
// outbound message. Failures are requeued with a bumped attempt counter
// until MaxAttempts, then parked in the DLQ.
type Worker struct {
	consumer   Consumer
	dispatcher Dispatcher
	metrics    *metrics.Metrics
	cfg        Config

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func New(consumer Consumer, dispatcher Dispatcher, m *metrics.Metrics, cfg Config) *Worker {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	return &Worker{
		consumer:   consumer,
		dispatcher: dispatcher,
		metrics:    m,
		cfg:        cfg,
		stopCh:     make(chan struct{}),
		stoppedCh:  make(chan struct{}),
	}
}

func (w *Worker) Run(ctx context.Context) error {
	defer close(w.stoppedCh)
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "relay.worker"})

	slog.InfoContext(ctx, "worker started", "max_attempts", w.cfg.MaxAttempts)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stopCh:
			slog.InfoContext(ctx, "worker stopping")
			return nil
		default:
			if err := w.processOneBatch(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				slog.ErrorContext(ctx, "batch processing error", "error", err)
				// Brief backoff on error
				select {
				case <-time.After(time.Second):
				case <-ctx.Done():
				case <-w.stopCh:
				}
			}
		}
	}
}

func (w *Worker) Stop() {
	close(w.stopCh)
	<-w.stoppedCh
}

func (w *Worker) processOneBatch(ctx context.Context) error {
	messages, err := w.consumer.Read(ctx)
	if err != nil {
		return fmt.Errorf("reading from stream: %w", err)
	}

	for _, msg := range messages {
		_ = w.Handle(ctx, msg)
	}
	return nil
}

// Handle processes one message and settles it: ack on success, requeue or
// DLQ on failure. Exported so the reclaimer settles reclaimed entries the
// same way.
func (w *Worker) Handle(ctx context.Context, msg queue.Message) error {
	taskID := msg.ID
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		TaskID:     &taskID,
		MessageID:  logger.Ptr(msg.Task.MessageID),
		SessionKey: logger.Ptr(msg.Task.SessionKey),
	})

	err := w.processMessageSafe(ctx, msg)
	if err == nil {
		return nil
	}
	slog.ErrorContext(ctx, "message processing failed", "error", err, "attempt", msg.Task.Attempt)
	w.handleFailedMessage(ctx, msg, err)
	return err
}

func (w *Worker) processMessageSafe(ctx context.Context, msg queue.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "panic recovered in message processing", "panic", r)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return w.ProcessMessage(ctx, msg)
}

func (w *Worker) ProcessMessage(ctx context.Context, msg queue.Message) error {
	sc := logger.StartSpanFromTraceID(ctx, msg.Task.TraceID, "worker.dispatch")
	defer sc.End()
	ctx = sc.Context()

	slog.InfoContext(ctx, "dispatching message", "attempt", msg.Task.Attempt)

	start := time.Now()
	if err := w.dispatcher.Dispatch(ctx, msg.Task); err != nil {
		sc.RecordError(err)
		return err
	}

	if err := w.consumer.Ack(ctx, msg); err != nil {
		// The reclaimer will redeliver; the engine sees a duplicate trigger at worst.
		slog.WarnContext(ctx, "failed to ACK message", "error", err)
	}
	w.metrics.Dispatch("ok")

	slog.InfoContext(ctx, "message dispatched", "duration_ms", time.Since(start).Milliseconds())
	return nil
}

func (w *Worker) handleFailedMessage(ctx context.Context, msg queue.Message, err error) {
	if errors.Is(err, ErrPermanent) || msg.Task.Attempt >= w.cfg.MaxAttempts {
		slog.ErrorContext(ctx, "giving up, sending to DLQ",
			"attempts", msg.Task.Attempt,
			"permanent", errors.Is(err, ErrPermanent))
		w.metrics.Dispatch("dead")
		if dlqErr := w.consumer.SendDLQ(ctx, msg, err.Error()); dlqErr != nil {
			slog.ErrorContext(ctx, "failed to send to DLQ", "error", dlqErr)
		}
		return
	}

	slog.WarnContext(ctx, "requeuing failed message", "attempt", msg.Task.Attempt)
	w.metrics.Dispatch("retry")
	if requeueErr := w.consumer.Requeue(ctx, msg, err.Error()); requeueErr != nil {
		slog.ErrorContext(ctx, "failed to requeue message", "error", requeueErr)
	}
}
