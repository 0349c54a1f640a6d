package models

import (
	"slices"
	"time"
)

// SenderCategory records which side of the lab relationship authored a message.
type SenderCategory string

const (
	// SenderRequester is the ordering clinic side.
	SenderRequester SenderCategory = "requester"
	// SenderProvider is the dental lab side.
	SenderProvider SenderCategory = "provider"
	// SenderSystem marks messages generated by the application itself.
	SenderSystem SenderCategory = "system"
)

// DefaultMessageType is used when a draft does not name one.
const DefaultMessageType = "text"

// Message is one unit of chat content. Everything except ReadBy is
// immutable after creation, and ReadBy only grows.
type Message struct {
	ID             uint           `gorm:"primaryKey;autoIncrement" json:"id"`
	ChatID         string         `gorm:"size:36;not null;index" json:"chatId"`
	WorkItemID     *string        `gorm:"size:64" json:"workItemId,omitempty"`
	Sender         string         `gorm:"size:128;not null" json:"sender"`
	SenderRole     string         `gorm:"size:64" json:"senderRole"`
	SenderCategory SenderCategory `gorm:"size:16" json:"senderCategory"`
	Content        string         `gorm:"type:text" json:"content"`
	MessageType    string         `gorm:"size:32;default:text" json:"messageType"`
	Attachments    []string       `gorm:"serializer:json;type:text" json:"attachments"`
	ReadBy         []string       `gorm:"serializer:json;type:text" json:"readBy"`
	CreatedAt      time.Time      `gorm:"index" json:"createdAt"`
}

// TableName keeps chat messages apart from any other message tables in a
// shared schema.
func (Message) TableName() string {
	return "chat_messages"
}

// IsReadBy reports whether identity is already in the read set.
func (m *Message) IsReadBy(identity string) bool {
	return slices.Contains(m.ReadBy, identity)
}

// AddReader appends identity to ReadBy. It returns false, leaving the
// message untouched, when identity had already read it.
func (m *Message) AddReader(identity string) bool {
	if m.IsReadBy(identity) {
		return false
	}
	m.ReadBy = append(m.ReadBy, identity)
	return true
}
