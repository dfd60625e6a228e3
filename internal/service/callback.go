package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"relaybox.app/relay/common/id"
	"relaybox.app/relay/common/logger"
	"relaybox.app/relay/internal/broadcast"
	"relaybox.app/relay/internal/model"
	"relaybox.app/relay/internal/store"
)

type CallbackParams struct {
	SessionOrChatID string
	UserID          string
	Module          string
	Message         string
	Attachments     []model.Attachment
}

// ChatCallbackService receives replies for the durable variant. The message
// is written to the chat log before it is broadcast, so a subscriber that
// missed the event can recover it by reading the log.
type ChatCallbackService interface {
	Receive(ctx context.Context, params CallbackParams) (*model.ChatMessage, error)
}

type chatCallbackService struct {
	messages  store.MessageStore
	publisher broadcast.Publisher
	now       func() time.Time
}

func NewChatCallbackService(messages store.MessageStore, publisher broadcast.Publisher) ChatCallbackService {
	return &chatCallbackService{messages: messages, publisher: publisher, now: time.Now}
}

func (s *chatCallbackService) Receive(ctx context.Context, params CallbackParams) (*model.ChatMessage, error) {
	if err := validateCallback(params); err != nil {
		return nil, err
	}
	if s.messages == nil {
		return nil, ErrLogUnavailable
	}

	msg := model.ChatMessage{
		ID:          id.New(),
		ChatID:      params.SessionOrChatID,
		UserID:      params.UserID,
		Module:      params.Module,
		Direction:   model.DirectionInbound,
		Body:        params.Message,
		Attachments: params.Attachments,
		CreatedAt:   s.now().UTC(),
	}
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "relay.service.callback",
		ChatID:    logger.Ptr(params.SessionOrChatID),
		UserID:    logger.Ptr(params.UserID),
		MessageID: logger.Ptr(msg.ID),
	})

	if err := s.messages.Create(ctx, &msg); err != nil {
		return nil, fmt.Errorf("%w: persisting callback message: %w", ErrStorageUnavailable, err)
	}

	if s.publisher != nil {
		channels := []string{model.UserModuleChannel(params.UserID, params.Module)}
		if key := model.SessionKey(params.SessionOrChatID); key.Validate() == nil {
			channels = append(channels, model.SessionChannel(key))
		}
		for _, ch := range channels {
			if err := s.publisher.Publish(ctx, ch, msg); err != nil {
				slog.WarnContext(ctx, "callback persisted but broadcast failed", "channel", ch, "error", err)
			}
		}
	}

	slog.InfoContext(ctx, "callback message stored",
		"module", params.Module,
		"attachments", len(params.Attachments))
	return &msg, nil
}

func validateCallback(p CallbackParams) error {
	switch {
	case strings.TrimSpace(p.SessionOrChatID) == "":
		return fmt.Errorf("%w: sessionOrChatId is required", ErrInvalidRequest)
	case strings.TrimSpace(p.UserID) == "":
		return fmt.Errorf("%w: userId is required", ErrInvalidRequest)
	case strings.TrimSpace(p.Module) == "":
		return fmt.Errorf("%w: module is required", ErrInvalidRequest)
	case strings.TrimSpace(p.Message) == "" && len(p.Attachments) == 0:
		return fmt.Errorf("%w: %w", ErrInvalidRequest, ErrEmptyBody)
	}
	for _, a := range p.Attachments {
		if a.URL == "" || a.Name == "" {
			return fmt.Errorf("%w: attachment requires name and url", ErrInvalidRequest)
		}
	}
	return nil
}
