package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"relaybox.app/relay/internal/broadcast"
	"relaybox.app/relay/internal/mailbox"
	"relaybox.app/relay/internal/model"
	"relaybox.app/relay/internal/store"
)

// ReplySink is where an accepted reply goes. Exactly one sink is active per
// deployment: the mailbox for pull delivery, the durable log plus broadcast
// for push delivery.
type ReplySink interface {
	Deliver(ctx context.Context, key model.SessionKey, entry model.MailboxEntry) error
	Mode() string
}

type mailboxSink struct {
	mailbox mailbox.Store
}

func NewMailboxSink(store mailbox.Store) ReplySink {
	return &mailboxSink{mailbox: store}
}

func (s *mailboxSink) Mode() string { return "pull" }

func (s *mailboxSink) Deliver(ctx context.Context, key model.SessionKey, entry model.MailboxEntry) error {
	if err := s.mailbox.Append(ctx, key, entry); err != nil {
		if errors.Is(err, mailbox.ErrUnavailable) {
			return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
		}
		return fmt.Errorf("appending reply: %w", err)
	}
	return nil
}

type durableSink struct {
	messages  store.MessageStore
	publisher broadcast.Publisher
}

func NewDurableSink(messages store.MessageStore, publisher broadcast.Publisher) ReplySink {
	return &durableSink{messages: messages, publisher: publisher}
}

func (s *durableSink) Mode() string { return "push" }

// Deliver persists first and broadcasts second. A failed broadcast is only
// logged: the reply is already in the log and a reconnecting consumer replays it.
func (s *durableSink) Deliver(ctx context.Context, key model.SessionKey, entry model.MailboxEntry) error {
	if s.messages == nil {
		return ErrLogUnavailable
	}

	msg := model.ChatMessage{
		ID:          entry.ID,
		ChatID:      string(key),
		Module:      model.ModuleMailbox,
		Direction:   model.DirectionInbound,
		Body:        entry.Reply,
		Attachments: entry.Attachments,
		CreatedAt:   entry.Timestamp,
	}
	if err := s.messages.Create(ctx, &msg); err != nil {
		return fmt.Errorf("%w: persisting reply: %w", ErrStorageUnavailable, err)
	}

	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, model.SessionChannel(key), msg); err != nil {
			slog.WarnContext(ctx, "reply persisted but broadcast failed", "error", err)
		}
	}
	return nil
}
