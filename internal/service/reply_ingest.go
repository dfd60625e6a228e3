package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"relaybox.app/relay/common/id"
	"relaybox.app/relay/common/logger"
	"relaybox.app/relay/internal/metrics"
	"relaybox.app/relay/internal/model"
	"relaybox.app/relay/internal/queue"
)

type ReplyParams struct {
	SessionKey string
	Body       string
	Files      []InlineFile
}

type ReplyResult struct {
	Entry   model.MailboxEntry
	Skipped []SkippedFile
}

// ReplyIngestService accepts replies pushed by the workflow engine.
//
// The ingress is append-only. A producer retry after a timeout can surface
// as a second bubble; the ingress cannot tell a retry from an intentional
// repeated reply without a producer-supplied idempotency key.
type ReplyIngestService interface {
	Submit(ctx context.Context, params ReplyParams) (*ReplyResult, error)
}

type replyIngestService struct {
	sink        ReplySink
	attachments *AttachmentProcessor
	audit       queue.AuditLog
	metrics     *metrics.Metrics
	now         func() time.Time
}

func NewReplyIngestService(sink ReplySink, attachments *AttachmentProcessor, audit queue.AuditLog, m *metrics.Metrics) ReplyIngestService {
	return &replyIngestService{
		sink:        sink,
		attachments: attachments,
		audit:       audit,
		metrics:     m,
		now:         time.Now,
	}
}

func (s *replyIngestService) Submit(ctx context.Context, params ReplyParams) (*ReplyResult, error) {
	key := model.SessionKey(params.SessionKey)
	if err := key.Validate(); err != nil {
		s.metrics.ReplyRejected("session_key")
		return nil, fmt.Errorf("%w: %w", ErrInvalidSessionKey, err)
	}
	if strings.TrimSpace(params.Body) == "" {
		s.metrics.ReplyRejected("empty_body")
		return nil, ErrEmptyBody
	}

	entry := model.MailboxEntry{
		ID:        id.New(),
		Reply:     params.Body,
		Timestamp: s.now().UTC(),
	}
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component:  "relay.service.reply_ingest",
		SessionKey: logger.Ptr(params.SessionKey),
		MessageID:  logger.Ptr(entry.ID),
	})

	var skipped []SkippedFile
	if len(params.Files) > 0 {
		if s.attachments == nil {
			skipped = skipAll(params.Files, SkipStorageDisabled)
		} else {
			entry.Attachments, skipped = s.attachments.Process(ctx, params.Files)
		}
	}

	if err := s.sink.Deliver(ctx, key, entry); err != nil {
		if len(entry.Attachments) > 0 {
			// The reply is gone, so nothing will ever reference these blobs.
			s.attachments.Discard(context.WithoutCancel(ctx), entry.Attachments)
		}
		return nil, err
	}
	s.metrics.ReplyAccepted(s.sink.Mode())

	if s.audit != nil {
		if err := s.audit.Record(ctx, queue.AuditRecord{
			SessionKey:  params.SessionKey,
			EntryID:     entry.ID,
			Mode:        s.sink.Mode(),
			BodyBytes:   len(params.Body),
			Attachments: len(entry.Attachments),
			Skipped:     len(skipped),
			At:          entry.Timestamp,
		}); err != nil {
			slog.WarnContext(ctx, "failed to write audit record", "error", err)
		}
	}

	slog.InfoContext(ctx, "reply accepted",
		"mode", s.sink.Mode(),
		"attachments", len(entry.Attachments),
		"skipped_attachments", len(skipped))

	return &ReplyResult{Entry: entry, Skipped: skipped}, nil
}

func skipAll(files []InlineFile, reason string) []SkippedFile {
	out := make([]SkippedFile, len(files))
	for i, f := range files {
		out[i] = SkippedFile{Name: f.Name, Reason: reason}
	}
	return out
}
