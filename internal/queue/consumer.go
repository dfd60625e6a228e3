package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"relaybox.app/relay/common/logger"
)

// ConsumerConfig names the dispatch stream and its consumer group. Block
// of zero waits forever and a negative Block never waits.
type ConsumerConfig struct {
	Stream    string
	Group     string
	Consumer  string
	DLQStream string
	BatchSize int64
	Block     time.Duration
	// Pause before a failed task is put back on the stream.
	RequeueDelay time.Duration
}

type Message struct {
	ID   string
	Task DispatchTask
	Raw  redis.XMessage
}

// MessageProcessor processes a queue message.
type MessageProcessor func(ctx context.Context, msg Message) error

type RedisConsumer struct {
	client redis.UniversalClient
	cfg    ConsumerConfig
}

func NewRedisConsumer(ctx context.Context, client redis.UniversalClient, cfg ConsumerConfig) (*RedisConsumer, error) {
	consumer := &RedisConsumer{
		client: client,
		cfg:    cfg,
	}

	if err := consumer.ensureGroup(ctx); err != nil {
		return nil, err
	}

	return consumer, nil
}

func (c *RedisConsumer) Config() ConsumerConfig {
	return c.cfg
}

func (c *RedisConsumer) ensureGroup(ctx context.Context) error {
	// Start from "0" so a recreated group still sees tasks already in the stream.
	err := c.client.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("creating consumer group: %w", err)
	}
	return nil
}

func (c *RedisConsumer) Read(ctx context.Context) ([]Message, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "relay.queue.consumer",
	})

	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: c.cfg.Consumer,
		// ">" = never delivered to anyone. Pending entries are the reclaimer's job.
		Streams: []string{c.cfg.Stream, ">"},
		Count:   c.cfg.BatchSize,
		Block:   c.cfg.Block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []Message{}, nil
		}
		return nil, fmt.Errorf("reading from stream: %w", err)
	}

	var messages []Message
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			parsed, parseErr := ParseMessage(msg)
			if parseErr != nil {
				slog.ErrorContext(ctx, "failed to parse message",
					"error", parseErr,
					"raw_message_id", msg.ID,
					"stream", c.cfg.Stream)
				if dlqErr := c.SendDLQ(ctx, Message{ID: msg.ID, Raw: msg}, "malformed task: "+parseErr.Error()); dlqErr != nil {
					slog.ErrorContext(ctx, "failed to park malformed message", "error", dlqErr)
				}
				continue
			}
			messages = append(messages, parsed)
		}
	}

	if len(messages) > 0 {
		slog.DebugContext(ctx, "read messages from stream",
			"count", len(messages),
			"stream", c.cfg.Stream,
			"consumer", c.cfg.Consumer)
	}

	return messages, nil
}

func (c *RedisConsumer) Ack(ctx context.Context, msg Message) error {
	if err := c.client.XAck(ctx, c.cfg.Stream, c.cfg.Group, msg.ID).Err(); err != nil {
		return fmt.Errorf("xack (stream=%s): %w", c.cfg.Stream, err)
	}
	return nil
}

// Requeue moves msg to the tail of the stream with the attempt counter
// bumped. The ack and the re-add commit together.
func (c *RedisConsumer) Requeue(ctx context.Context, msg Message, errMsg string) error {
	next := msg.Task.Attempt + 1
	values := msg.Task.values(next)
	if errMsg != "" {
		values["last_error"] = errMsg
	}

	if c.cfg.RequeueDelay > 0 {
		select {
		case <-time.After(c.cfg.RequeueDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := c.move(ctx, msg, c.cfg.Stream, values); err != nil {
		return fmt.Errorf("requeue: %w", err)
	}
	slog.InfoContext(ctx, "dispatch task requeued", "next_attempt", next, "reason", errMsg)
	return nil
}

// SendDLQ parks msg on the dead letter stream. A task that never parsed is
// parked with its raw fields.
func (c *RedisConsumer) SendDLQ(ctx context.Context, msg Message, errMsg string) error {
	values := msg.Task.values(msg.Task.Attempt)
	if msg.Task.SessionKey == "" {
		values = make(map[string]any, len(msg.Raw.Values)+1)
		maps.Copy(values, msg.Raw.Values)
	}
	values["error"] = errMsg

	if err := c.move(ctx, msg, c.cfg.DLQStream, values); err != nil {
		return fmt.Errorf("dead letter: %w", err)
	}
	slog.ErrorContext(ctx, "dispatch task dead-lettered", "error", errMsg, "dlq_stream", c.cfg.DLQStream)
	return nil
}

func (c *RedisConsumer) move(ctx context.Context, msg Message, stream string, values map[string]any) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.XAck(ctx, c.cfg.Stream, c.cfg.Group, msg.ID)
		pipe.XAdd(ctx, &redis.XAddArgs{Stream: stream, Values: values})
		return nil
	})
	if err != nil {
		return fmt.Errorf("xack+xadd (stream=%s): %w", stream, err)
	}
	return nil
}

func ParseMessage(msg redis.XMessage) (Message, error) {
	task, err := parseTask(msg.Values)
	if err != nil {
		return Message{}, err
	}
	return Message{ID: msg.ID, Task: task, Raw: msg}, nil
}
