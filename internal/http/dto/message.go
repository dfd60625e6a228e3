package dto

import (
	"strconv"
	"time"

	"relaybox.app/relay/internal/model"
)

type SendMessageRequest struct {
	SessionKey string `json:"sessionKey" binding:"required"`
	Body       string `json:"body" binding:"required"`
	UserID     string `json:"userId,omitempty"`
	Module     string `json:"module,omitempty"`
}

type MessageResponse struct {
	ID          string               `json:"id"`
	SessionKey  string               `json:"sessionKey"`
	UserID      string               `json:"userId,omitempty"`
	Module      string               `json:"module,omitempty"`
	Direction   string               `json:"direction"`
	Body        string               `json:"body"`
	Attachments []AttachmentResponse `json:"attachments,omitempty"`
	CreatedAt   string               `json:"createdAt"`
}

type SendMessageResponse struct {
	Message MessageResponse `json:"message"`
}

func ToMessageResponse(m model.ChatMessage) MessageResponse {
	return MessageResponse{
		ID:          strconv.FormatInt(m.ID, 10),
		SessionKey:  m.ChatID,
		UserID:      m.UserID,
		Module:      m.Module,
		Direction:   string(m.Direction),
		Body:        m.Body,
		Attachments: ToAttachmentResponses(m.Attachments),
		CreatedAt:   m.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}
