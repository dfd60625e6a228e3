package service

import (
	"context"
	"fmt"
	"log/slog"

	"relaybox.app/relay/common/logger"
	"relaybox.app/relay/internal/broadcast"
	"relaybox.app/relay/internal/model"
	"relaybox.app/relay/internal/store"
)

const replayPageSize int32 = 500

// ReplyStream yields every message of a session newer than the resume point:
// first the backlog from the durable log, then live broadcasts. The channel
// closes when the stream ends; Err reports why.
type ReplyStream interface {
	Messages() <-chan model.ChatMessage
	Err() error
	Close() error
}

// StreamService is the push side of the relay.
type StreamService interface {
	Open(ctx context.Context, sessionKey string, lastID int64) (ReplyStream, error)
}

type streamService struct {
	messages   store.MessageStore
	subscriber broadcast.Subscriber
}

func NewStreamService(messages store.MessageStore, subscriber broadcast.Subscriber) StreamService {
	return &streamService{messages: messages, subscriber: subscriber}
}

func (s *streamService) Open(ctx context.Context, sessionKey string, lastID int64) (ReplyStream, error) {
	key := model.SessionKey(sessionKey)
	if err := key.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSessionKey, err)
	}
	if s.messages == nil || s.subscriber == nil {
		return nil, ErrLogUnavailable
	}
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component:  "relay.service.stream",
		SessionKey: logger.Ptr(sessionKey),
	})

	// Subscribe before reading the log. A message committed between the two
	// steps shows up in both and is dropped from the live side.
	sub, err := s.subscriber.Subscribe(ctx, model.SessionChannel(key))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	rs := &replyStream{
		out:    make(chan model.ChatMessage),
		sub:    sub,
		cancel: cancel,
	}
	go rs.run(ctx, s.messages, string(key), lastID)
	return rs, nil
}

type replyStream struct {
	out    chan model.ChatMessage
	sub    broadcast.Subscription
	cancel context.CancelFunc
	err    error
}

func (r *replyStream) run(ctx context.Context, messages store.MessageStore, chatID string, lastID int64) {
	defer close(r.out)
	defer r.sub.Close()

	replayed := make(map[int64]struct{})
	cursor := lastID
	for {
		page, err := messages.ListByChatAfter(ctx, chatID, cursor, replayPageSize)
		if err != nil {
			if ctx.Err() == nil {
				slog.WarnContext(ctx, "replay from log failed", "after_id", cursor, "error", err)
				r.err = fmt.Errorf("%w: replaying log: %w", ErrStorageUnavailable, err)
			}
			return
		}
		for _, msg := range page {
			if !r.send(ctx, msg) {
				return
			}
			replayed[msg.ID] = struct{}{}
			cursor = msg.ID
		}
		if int32(len(page)) < replayPageSize {
			break
		}
	}
	slog.DebugContext(ctx, "replay complete", "replayed", len(replayed), "cursor", cursor)

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-r.sub.Messages():
			if !ok {
				r.err = fmt.Errorf("%w: subscription closed", ErrStorageUnavailable)
				return
			}
			if msg.ID <= lastID {
				continue
			}
			if _, dup := replayed[msg.ID]; dup {
				continue
			}
			if !r.send(ctx, msg) {
				return
			}
		}
	}
}

func (r *replyStream) send(ctx context.Context, msg model.ChatMessage) bool {
	select {
	case r.out <- msg:
		return true
	case <-ctx.Done():
		return false
	}
}

func (r *replyStream) Messages() <-chan model.ChatMessage {
	return r.out
}

// Err is only meaningful after Messages has been closed.
func (r *replyStream) Err() error {
	return r.err
}

func (r *replyStream) Close() error {
	r.cancel()
	return nil
}
