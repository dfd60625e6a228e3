package dto

import (
	"strconv"
	"time"

	"relaybox.app/relay/internal/model"
)

// SubmitReplyRequest is the producer payload. Unknown fields are rejected.
type SubmitReplyRequest struct {
	SessionKey string              `json:"sessionKey" binding:"required" jsonschema:"minLength=3,maxLength=256"`
	Body       string              `json:"body" binding:"required" jsonschema:"minLength=1"`
	Files      []InlineFileRequest `json:"files,omitempty" binding:"omitempty,dive"`
}

type InlineFileRequest struct {
	Name     string `json:"name" binding:"required"`
	MimeType string `json:"mimeType" binding:"required"`
	Data     string `json:"data" binding:"required" jsonschema:"description=base64 file content; data URLs are accepted"`
	Size     int64  `json:"size,omitempty" binding:"gte=0" jsonschema:"minimum=0"`
}

type SkippedFileResponse struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

type SubmitReplyResponse struct {
	Success bool                  `json:"success"`
	ID      string                `json:"id,omitempty"`
	Skipped []SkippedFileResponse `json:"skipped,omitempty"`
}

type AttachmentResponse struct {
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size"`
	URL      string `json:"url"`
}

type MailboxMessageResponse struct {
	ID          string               `json:"id"`
	Reply       string               `json:"reply"`
	Timestamp   string               `json:"timestamp"`
	Attachments []AttachmentResponse `json:"attachments,omitempty"`
}

// FetchResponse always carries a non-nil messages array so consumers can
// render the unavailable case the same way as the empty one.
type FetchResponse struct {
	Success  bool                     `json:"success"`
	Messages []MailboxMessageResponse `json:"messages"`
	Count    int                      `json:"count"`
	Error    string                   `json:"error,omitempty"`
}

func NewFetchResponse(entries []model.MailboxEntry) FetchResponse {
	messages := make([]MailboxMessageResponse, len(entries))
	for i, e := range entries {
		messages[i] = MailboxMessageResponse{
			ID:          strconv.FormatInt(e.ID, 10),
			Reply:       e.Reply,
			Timestamp:   e.Timestamp.UTC().Format(time.RFC3339Nano),
			Attachments: ToAttachmentResponses(e.Attachments),
		}
	}
	return FetchResponse{Success: true, Messages: messages, Count: len(messages)}
}

func FetchUnavailable(msg string) FetchResponse {
	return FetchResponse{Success: false, Messages: []MailboxMessageResponse{}, Count: 0, Error: msg}
}

func ToAttachmentResponses(atts []model.Attachment) []AttachmentResponse {
	if len(atts) == 0 {
		return nil
	}
	out := make([]AttachmentResponse, len(atts))
	for i, a := range atts {
		out[i] = AttachmentResponse{Name: a.Name, MimeType: a.MimeType, Size: a.Size, URL: a.URL}
	}
	return out
}
