package dto

import "relaybox.app/relay/internal/model"

type ChatCallbackRequest struct {
	SessionOrChatID string              `json:"sessionOrChatId" binding:"required"`
	UserID          string              `json:"userId" binding:"required"`
	Module          string              `json:"module" binding:"required"`
	Message         string              `json:"message"`
	Attachments     []AttachmentRequest `json:"attachments,omitempty" binding:"omitempty,dive"`
}

// AttachmentRequest references a file the caller already stored.
type AttachmentRequest struct {
	Name     string `json:"name" binding:"required"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size"`
	URL      string `json:"url" binding:"required"`
}

type ChatCallbackResponse struct {
	Success bool            `json:"success"`
	Message MessageResponse `json:"message"`
}

func ToAttachments(reqs []AttachmentRequest) []model.Attachment {
	if len(reqs) == 0 {
		return nil
	}
	out := make([]model.Attachment, len(reqs))
	for i, r := range reqs {
		out[i] = model.Attachment{Name: r.Name, MimeType: r.MimeType, Size: r.Size, URL: r.URL}
	}
	return out
}
