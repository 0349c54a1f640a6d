// Package messaging persists chat messages with per-recipient read
// tracking and derives unread counts from them.
package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/dentaflow/labchat/internal/chat"
	"github.com/dentaflow/labchat/internal/models"
	"gorm.io/gorm"
)

// Draft is a message as submitted by a client, before persistence.
// ReadBy is accepted for wire compatibility and always replaced.
type Draft struct {
	WorkItemID     *string               `json:"workItemId,omitempty"`
	Sender         string                `json:"sender"`
	SenderRole     string                `json:"senderRole,omitempty"`
	SenderCategory models.SenderCategory `json:"senderCategory,omitempty"`
	Content        string                `json:"content"`
	MessageType    string                `json:"messageType,omitempty"`
	Attachments    []string              `json:"attachments,omitempty"`
	ReadBy         []string              `json:"readBy,omitempty"`
}

// Store reads and writes messages. It shares the database of the chat store
// it is built on.
type Store struct {
	db    *gorm.DB
	chats *chat.Store
	match Matcher
}

// StoreOpts holds parameters for creating a Store.
type StoreOpts struct {
	Chats *chat.Store
	Match Matcher // defaults to FuzzyMatch
}

// NewStore creates a Store.
func NewStore(opts StoreOpts) (*Store, error) {
	if opts.Chats == nil {
		return nil, fmt.Errorf("messaging: store: chat store is required")
	}
	match := opts.Match
	if match == nil {
		match = FuzzyMatch
	}
	return &Store{
		db:    opts.Chats.DB(),
		chats: opts.Chats,
		match: match,
	}, nil
}

// Chats returns the chat store this message store writes through.
func (s *Store) Chats() *chat.Store {
	return s.chats
}

// Create persists a message in chatID. The stored ReadBy is exactly
// [Sender] whatever the draft carried: authoring a message reads it.
// The chat's UpdatedAt is advanced to the message time.
func (s *Store) Create(ctx context.Context, chatID string, d Draft) (*models.Message, error) {
	if strings.TrimSpace(chatID) == "" {
		return nil, fmt.Errorf("messaging: create: %w: chatId is required", chat.ErrValidation)
	}
	if strings.TrimSpace(d.Sender) == "" {
		return nil, fmt.Errorf("messaging: create: %w: sender is required", chat.ErrValidation)
	}
	if _, err := s.chats.Get(ctx, chatID); err != nil {
		return nil, fmt.Errorf("messaging: create: %w", err)
	}

	msgType := d.MessageType
	if msgType == "" {
		msgType = models.DefaultMessageType
	}
	attachments := d.Attachments
	if attachments == nil {
		attachments = []string{}
	}
	msg := models.Message{
		ChatID:         chatID,
		WorkItemID:     d.WorkItemID,
		Sender:         d.Sender,
		SenderRole:     d.SenderRole,
		SenderCategory: d.SenderCategory,
		Content:        d.Content,
		MessageType:    msgType,
		Attachments:    attachments,
		ReadBy:         []string{d.Sender},
	}
	if err := s.db.WithContext(ctx).Create(&msg).Error; err != nil {
		return nil, fmt.Errorf("messaging: create in %s: %w: %w", chatID, chat.ErrPersistence, err)
	}

	if err := s.chats.Touch(ctx, chatID, msg.CreatedAt); err != nil {
		log.Printf("messaging: %v", err)
	}
	return &msg, nil
}

// ListByChat returns the chat's messages in chronological order. A missing
// chat yields an empty list.
func (s *Store) ListByChat(ctx context.Context, chatID string) ([]models.Message, error) {
	msgs := make([]models.Message, 0)
	if err := s.db.WithContext(ctx).Where("chat_id = ?", chatID).
		Order("created_at ASC").Order("id ASC").Find(&msgs).Error; err != nil {
		return nil, fmt.Errorf("messaging: list %s: %w: %w", chatID, chat.ErrPersistence, err)
	}
	return msgs, nil
}

// MarkAllRead adds identity to ReadBy on every message in the chat that it
// has not read yet. Messages already read are not written. It returns how
// many messages changed.
func (s *Store) MarkAllRead(ctx context.Context, chatID, identity string) (int, error) {
	if strings.TrimSpace(identity) == "" {
		return 0, fmt.Errorf("messaging: mark read: %w: identity is required", chat.ErrValidation)
	}
	msgs, err := s.ListByChat(ctx, chatID)
	if err != nil {
		return 0, err
	}

	changed := 0
	for i := range msgs {
		added, err := s.addReader(ctx, &msgs[i], identity)
		if err != nil {
			return changed, err
		}
		if added {
			changed++
		}
	}
	return changed, nil
}

// maxReadAttempts bounds the compare-and-swap retries for one message.
const maxReadAttempts = 10

// addReader appends identity to m's stored ReadBy. The write only lands if
// the column still holds the value m was read with; otherwise the row is
// reloaded and the append retried, so readers added concurrently are kept.
func (s *Store) addReader(ctx context.Context, m *models.Message, identity string) (bool, error) {
	for range maxReadAttempts {
		prev, err := json.Marshal(m.ReadBy)
		if err != nil {
			return false, fmt.Errorf("messaging: mark read %d: %w", m.ID, err)
		}
		if !m.AddReader(identity) {
			return false, nil
		}
		next, err := json.Marshal(m.ReadBy)
		if err != nil {
			return false, fmt.Errorf("messaging: mark read %d: %w", m.ID, err)
		}

		q := s.db.WithContext(ctx).Model(&models.Message{}).Where("id = ?", m.ID)
		if string(prev) == "null" {
			q = q.Where("read_by IS NULL")
		} else {
			q = q.Where("read_by = ?", string(prev))
		}
		res := q.UpdateColumn("read_by", gorm.Expr("?", string(next)))
		if res.Error != nil {
			return false, fmt.Errorf("messaging: mark read %d: %w: %w", m.ID, chat.ErrPersistence, res.Error)
		}
		if res.RowsAffected == 1 {
			return true, nil
		}

		// Someone else changed ReadBy first; start again from the stored value.
		var fresh models.Message
		err = s.db.WithContext(ctx).Select("id", "read_by").Where("id = ?", m.ID).First(&fresh).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("messaging: mark read %d: %w: %w", m.ID, chat.ErrPersistence, err)
		}
		m.ReadBy = fresh.ReadBy
	}
	return false, fmt.Errorf("messaging: mark read %d: %w: too much contention", m.ID, chat.ErrPersistence)
}

// IsParticipant applies the store's identity matcher.
func (s *Store) IsParticipant(c *models.Chat, identity string) bool {
	return c != nil && s.match(c.Participants, identity)
}

// UnreadCount returns how many messages in the chat identity has not read.
// It is 0 for a missing chat and for anyone who is not a participant.
// Storage failures are logged and also count as 0; the number is advisory.
func (s *Store) UnreadCount(ctx context.Context, chatID, identity string) int {
	c, err := s.chats.Get(ctx, chatID)
	if err != nil {
		if !errors.Is(err, chat.ErrNotFound) {
			log.Printf("messaging: unread %s/%s: %v", chatID, identity, err)
		}
		return 0
	}
	n, err := s.countUnread(ctx, c, identity)
	if err != nil {
		log.Printf("messaging: unread %s/%s: %v", chatID, identity, err)
		return 0
	}
	return n
}

// FillUnreadCounts sets UnreadCount on each chat for identity.
func (s *Store) FillUnreadCounts(ctx context.Context, chats []models.Chat, identity string) {
	for i := range chats {
		n, err := s.countUnread(ctx, &chats[i], identity)
		if err != nil {
			log.Printf("messaging: unread %s/%s: %v", chats[i].ID, identity, err)
			n = 0
		}
		chats[i].UnreadCount = n
	}
}

// countUnread scans the whole conversation, so its cost grows with thread
// length.
func (s *Store) countUnread(ctx context.Context, c *models.Chat, identity string) (int, error) {
	if !s.IsParticipant(c, identity) {
		return 0, nil
	}
	var msgs []models.Message
	if err := s.db.WithContext(ctx).Select("id", "read_by").
		Where("chat_id = ?", c.ID).Find(&msgs).Error; err != nil {
		return 0, fmt.Errorf("%w: %w", chat.ErrPersistence, err)
	}
	n := 0
	for i := range msgs {
		if !msgs[i].IsReadBy(identity) {
			n++
		}
	}
	return n, nil
}
