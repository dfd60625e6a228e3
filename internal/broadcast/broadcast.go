// Package broadcast fans chat messages out over Redis pub/sub. Delivery is
// best effort: subscribers that are offline miss the event and recover from
// the durable log.
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"relaybox.app/relay/common/logger"
	"relaybox.app/relay/internal/model"
)

type Publisher interface {
	Publish(ctx context.Context, channel string, msg model.ChatMessage) error
}

type Subscriber interface {
	// Subscribe returns once the subscription is active on the server, so
	// anything published afterwards is guaranteed to reach it.
	Subscribe(ctx context.Context, channels ...string) (Subscription, error)
}

type Subscription interface {
	Messages() <-chan model.ChatMessage
	Close() error
}

type RedisBroker struct {
	client redis.UniversalClient
}

func NewRedisBroker(client redis.UniversalClient) *RedisBroker {
	return &RedisBroker{client: client}
}

func (b *RedisBroker) Publish(ctx context.Context, channel string, msg model.ChatMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding broadcast message: %w", err)
	}

	receivers, err := b.client.Publish(ctx, channel, payload).Result()
	if err != nil {
		return fmt.Errorf("publish (channel=%s): %w", channel, err)
	}

	slog.DebugContext(ctx, "message broadcast", "channel", channel, "receivers", receivers)
	return nil
}

func (b *RedisBroker) Subscribe(ctx context.Context, channels ...string) (Subscription, error) {
	ps := b.client.Subscribe(ctx, channels...)
	// The first reply confirms the subscription; without waiting for it a
	// publish racing with Subscribe could be missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %v: %w", channels, err)
	}

	sub := &redisSubscription{
		ps:   ps,
		out:  make(chan model.ChatMessage, 64),
		done: make(chan struct{}),
	}
	go sub.pump(logger.WithLogFields(context.WithoutCancel(ctx), logger.LogFields{
		Component: "relay.broadcast.subscription",
	}))
	return sub, nil
}

type redisSubscription struct {
	ps        *redis.PubSub
	out       chan model.ChatMessage
	done      chan struct{}
	closeOnce sync.Once
}

func (s *redisSubscription) pump(ctx context.Context) {
	defer close(s.out)
	for m := range s.ps.Channel() {
		var msg model.ChatMessage
		if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
			slog.WarnContext(ctx, "dropping undecodable broadcast", "error", err, "channel", m.Channel)
			continue
		}
		select {
		case s.out <- msg:
		case <-s.done:
			return
		}
	}
}

func (s *redisSubscription) Messages() <-chan model.ChatMessage {
	return s.out
}

func (s *redisSubscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.ps.Close()
	})
	return err
}
