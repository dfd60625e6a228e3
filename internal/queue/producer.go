package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

type Producer interface {
	Enqueue(ctx context.Context, task DispatchTask) error
}

type redisProducer struct {
	client redis.UniversalClient
	stream string
	logger *slog.Logger
}

func NewRedisProducer(client redis.UniversalClient, stream string, logger *slog.Logger) Producer {
	if logger == nil {
		logger = slog.Default()
	}
	return &redisProducer{
		client: client,
		stream: stream,
		logger: logger,
	}
}

func (p *redisProducer) Enqueue(ctx context.Context, task DispatchTask) error {
	if err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: task.values(task.Attempt),
	}).Err(); err != nil {
		return fmt.Errorf("enqueue dispatch: %w", err)
	}

	p.logger.InfoContext(ctx, "enqueued dispatch task", "message_id", task.MessageID, "stream", p.stream)
	return nil
}
