package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"relaybox.app/relay/common/logger"
	"relaybox.app/relay/internal/mailbox"
	"relaybox.app/relay/internal/metrics"
	"relaybox.app/relay/internal/model"
)

// DeliveryService is the pull side of the relay. Each Fetch drains the
// session's mailbox, so a reply is returned by exactly one call.
type DeliveryService interface {
	Fetch(ctx context.Context, sessionKey string) ([]model.MailboxEntry, error)
}

type deliveryService struct {
	mailbox mailbox.Store
	metrics *metrics.Metrics
}

func NewDeliveryService(store mailbox.Store, m *metrics.Metrics) DeliveryService {
	return &deliveryService{mailbox: store, metrics: m}
}

func (s *deliveryService) Fetch(ctx context.Context, sessionKey string) ([]model.MailboxEntry, error) {
	key := model.SessionKey(sessionKey)
	if err := key.Validate(); err != nil {
		s.metrics.Fetch("invalid", 0)
		return nil, fmt.Errorf("%w: %w", ErrInvalidSessionKey, err)
	}
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component:  "relay.service.delivery",
		SessionKey: logger.Ptr(sessionKey),
	})

	entries, err := s.mailbox.Drain(ctx, key)
	if err != nil {
		s.metrics.Fetch("unavailable", 0)
		if errors.Is(err, mailbox.ErrUnavailable) {
			return nil, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
		}
		return nil, fmt.Errorf("draining mailbox: %w", err)
	}

	if len(entries) == 0 {
		s.metrics.Fetch("empty", 0)
		return entries, nil
	}
	s.metrics.Fetch("delivered", len(entries))
	slog.InfoContext(ctx, "replies delivered", "count", len(entries))
	return entries, nil
}
