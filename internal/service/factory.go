package service

import (
	"relaybox.app/relay/internal/blob"
	"relaybox.app/relay/internal/broadcast"
	"relaybox.app/relay/internal/mailbox"
	"relaybox.app/relay/internal/metrics"
	"relaybox.app/relay/internal/queue"
	"relaybox.app/relay/internal/store"
)

// ServicesConfig collects the collaborators of every service. Messages,
// TxRunner and Blobs are optional; the services degrade to the errors in
// errors.go when one they need is missing.
type ServicesConfig struct {
	Mailbox          mailbox.Store
	Messages         store.MessageStore
	TxRunner         TxRunner
	Broker           Broker
	Producer         queue.Producer
	Audit            queue.AuditLog
	Blobs            blob.Store
	AttachmentPolicy AttachmentPolicy
	// PushDelivery routes accepted replies to the durable log and broadcast
	// instead of the mailbox.
	PushDelivery bool
	Metrics      *metrics.Metrics
}

type Broker interface {
	broadcast.Publisher
	broadcast.Subscriber
}

type Services struct {
	cfg ServicesConfig
}

func NewServices(cfg ServicesConfig) *Services {
	return &Services{cfg: cfg}
}

func (s *Services) Sink() ReplySink {
	if s.cfg.PushDelivery {
		return NewDurableSink(s.cfg.Messages, s.publisher())
	}
	return NewMailboxSink(s.cfg.Mailbox)
}

func (s *Services) ReplyIngest() ReplyIngestService {
	var attachments *AttachmentProcessor
	if s.cfg.Blobs != nil {
		attachments = NewAttachmentProcessor(s.cfg.AttachmentPolicy, s.cfg.Blobs, s.cfg.Metrics)
	}
	return NewReplyIngestService(s.Sink(), attachments, s.cfg.Audit, s.cfg.Metrics)
}

func (s *Services) Delivery() DeliveryService {
	return NewDeliveryService(s.cfg.Mailbox, s.cfg.Metrics)
}

func (s *Services) Stream() StreamService {
	var subscriber broadcast.Subscriber
	if s.cfg.Broker != nil {
		subscriber = s.cfg.Broker
	}
	return NewStreamService(s.cfg.Messages, subscriber)
}

func (s *Services) Messages() MessageService {
	return NewMessageService(s.cfg.TxRunner, s.cfg.Producer, s.publisher())
}

func (s *Services) Callbacks() ChatCallbackService {
	return NewChatCallbackService(s.cfg.Messages, s.publisher())
}

// publisher avoids handing out a typed nil inside a non-nil interface.
func (s *Services) publisher() broadcast.Publisher {
	if s.cfg.Broker == nil {
		return nil
	}
	return s.cfg.Broker
}
