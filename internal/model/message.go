package model

import (
	"fmt"
	"time"
)

type Direction string

const (
	DirectionOutbound Direction = "outbound"
	DirectionInbound  Direction = "inbound"
)

// ModuleMailbox is the module recorded for messages that flow through the
// session mailbox rather than the per-user callback path.
const ModuleMailbox = "mailbox"

// ChatMessage is a record in the durable chat log.
type ChatMessage struct {
	ID          int64        `json:"id,string"`
	ChatID      string       `json:"chatId"`
	UserID      string       `json:"userId,omitempty"`
	Module      string       `json:"module,omitempty"`
	Direction   Direction    `json:"direction"`
	Body        string       `json:"body"`
	Attachments []Attachment `json:"attachments,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
}

// Entry converts a chat message into the shape delivered to mailbox consumers.
func (m ChatMessage) Entry() MailboxEntry {
	return MailboxEntry{
		ID:          m.ID,
		Reply:       m.Body,
		Timestamp:   m.CreatedAt,
		Attachments: m.Attachments,
	}
}

// SessionChannel is the pub/sub channel carrying replies for one session key.
func SessionChannel(key SessionKey) string {
	return fmt.Sprintf("relay:session:%s", key)
}

// UserModuleChannel is the pub/sub channel scoped to one user within one module.
func UserModuleChannel(userID, module string) string {
	return fmt.Sprintf("relay:user:%s:module:%s", userID, module)
}
