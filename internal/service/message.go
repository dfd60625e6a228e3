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
	"relaybox.app/relay/internal/queue"
)

type SendParams struct {
	SessionKey string
	Body       string
	UserID     string
	Module     string
}

// MessageService accepts a client's outbound message and hands it to the
// dispatch worker, which forwards it to the workflow engine.
type MessageService interface {
	Send(ctx context.Context, params SendParams) (*model.ChatMessage, error)
}

type messageService struct {
	txRunner  TxRunner
	producer  queue.Producer
	publisher broadcast.Publisher
	now       func() time.Time
}

// NewMessageService wires the send path. txRunner and publisher are nil in
// pull deployments without a durable log.
func NewMessageService(txRunner TxRunner, producer queue.Producer, publisher broadcast.Publisher) MessageService {
	return &messageService{
		txRunner:  txRunner,
		producer:  producer,
		publisher: publisher,
		now:       time.Now,
	}
}

func (s *messageService) Send(ctx context.Context, params SendParams) (*model.ChatMessage, error) {
	key := model.SessionKey(params.SessionKey)
	if err := key.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSessionKey, err)
	}
	if strings.TrimSpace(params.Body) == "" {
		return nil, ErrEmptyBody
	}
	if s.producer == nil {
		return nil, fmt.Errorf("%w: dispatch queue not configured", ErrStorageUnavailable)
	}

	module := params.Module
	if module == "" {
		module = model.ModuleMailbox
	}
	msg := model.ChatMessage{
		ID:        id.New(),
		ChatID:    params.SessionKey,
		UserID:    params.UserID,
		Module:    module,
		Direction: model.DirectionOutbound,
		Body:      params.Body,
		CreatedAt: s.now().UTC(),
	}
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component:  "relay.service.message",
		SessionKey: logger.Ptr(params.SessionKey),
		MessageID:  logger.Ptr(msg.ID),
	})

	task := queue.DispatchTask{
		MessageID:  msg.ID,
		SessionKey: params.SessionKey,
		Body:       params.Body,
		UserID:     params.UserID,
		Module:     module,
		TraceID:    logger.TraceID(ctx),
	}

	// The insert commits before the task is queued, so the worker never
	// dispatches a message the log does not hold. A failed enqueue withdraws
	// the committed row again.
	if s.txRunner != nil {
		err := s.txRunner.WithTx(ctx, func(stores StoreProvider) error {
			return stores.Messages().Create(ctx, &msg)
		})
		if err != nil {
			return nil, fmt.Errorf("%w: persisting message: %w", ErrStorageUnavailable, err)
		}
	}
	if err := s.producer.Enqueue(ctx, task); err != nil {
		if s.txRunner != nil {
			s.withdraw(context.WithoutCancel(ctx), msg.ID)
		}
		return nil, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}

	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, model.SessionChannel(key), msg); err != nil {
			slog.WarnContext(ctx, "message queued but broadcast failed", "error", err)
		}
	}

	slog.InfoContext(ctx, "message accepted", "module", module)
	return &msg, nil
}

func (s *messageService) withdraw(ctx context.Context, messageID int64) {
	err := s.txRunner.WithTx(ctx, func(stores StoreProvider) error {
		return stores.Messages().Delete(ctx, messageID)
	})
	if err != nil {
		slog.ErrorContext(ctx, "message was never queued and could not be withdrawn from the log", "error", err)
	}
}
