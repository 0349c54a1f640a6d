package gateway

import (
	"encoding/json"

	"github.com/dentaflow/labchat/internal/messaging"
	"github.com/dentaflow/labchat/internal/models"
)

// Client to server event types.
const (
	EventRegister    = "register"
	EventJoinChat    = "joinChat"
	EventLeaveChat   = "leaveChat"
	EventSendMessage = "sendMessage"
	EventTyping      = "typing"
	EventMarkRead    = "markRead"
)

// Server to client event types.
const (
	EventNewMessage          = "newMessage"
	EventMessageError        = "messageError"
	EventUnreadCountUpdate   = "unreadCountUpdate"
	EventUserTyping          = "userTyping"
	EventParticipantsUpdated = "participantsUpdated"
	EventChatArchived        = "chatArchived"
	EventError               = "error"
)

// Event is an outbound frame.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Envelope is an inbound frame whose payload is decoded once Type is known.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// RegisterPayload binds a session to an identity.
type RegisterPayload struct {
	Identity string `json:"identity"`
}

// ChatRef names a chat for join/leave.
type ChatRef struct {
	ChatID string `json:"chatId"`
}

// SendMessagePayload carries a draft for a chat.
type SendMessagePayload struct {
	ChatID  string          `json:"chatId"`
	Message messaging.Draft `json:"message"`
}

// TypingPayload is an ephemeral typing indicator.
type TypingPayload struct {
	ChatID   string `json:"chatId"`
	Identity string `json:"identity"`
	IsTyping bool   `json:"isTyping"`
}

// MarkReadPayload asks to mark every message in a chat read.
type MarkReadPayload struct {
	ChatID   string `json:"chatId"`
	Identity string `json:"identity"`
}

// NewMessage announces a persisted message to chat subscribers.
type NewMessage struct {
	ChatID  string          `json:"chatId"`
	Message *models.Message `json:"message"`
}

// MessageError reports a failed send to the sending session only.
type MessageError struct {
	ChatID string `json:"chatId,omitempty"`
	Error  string `json:"error"`
}

// UnreadCountUpdate pushes a fresh unread count to one identity.
type UnreadCountUpdate struct {
	ChatID string `json:"chatId"`
	Count  int    `json:"count"`
}

// UserTyping relays a typing indicator.
type UserTyping struct {
	ChatID   string `json:"chatId"`
	User     string `json:"user"`
	IsTyping bool   `json:"isTyping"`
}

// ParticipantsUpdated announces a membership change to every session.
type ParticipantsUpdated struct {
	ChatID       string   `json:"chatId"`
	Participants []string `json:"participants"`
	Added        []string `json:"added"`
	Removed      []string `json:"removed"`
	UpdatedBy    string   `json:"updatedBy"`
}

// ChatArchived tells chat subscribers the chat went inactive.
type ChatArchived struct {
	ChatID string `json:"chatId"`
}

// ProtocolError reports a frame the gateway could not act on.
type ProtocolError struct {
	Type  string `json:"type,omitempty"`
	Error string `json:"error"`
}
