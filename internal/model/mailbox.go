package model

import "time"

// MailboxEntry is one reply buffered for a session. Entries are stored one per
// Redis list element and returned verbatim by a drain.
type MailboxEntry struct {
	ID          int64        `json:"id,string"`
	Reply       string       `json:"reply"`
	Timestamp   time.Time    `json:"timestamp"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Attachment references a file that was persisted to blob storage.
type Attachment struct {
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size"`
	URL      string `json:"url"`
}
