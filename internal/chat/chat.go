// Package chat is the durable record of chat rooms: their kind, participant
// list and activity flag.
package chat

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/dentaflow/labchat/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store reads and writes chats.
type Store struct {
	db *gorm.DB
}

// NewStore creates a Store backed by db.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for stores that share the schema.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Patch lists the fields Update may change. Nil fields are left alone.
// Participants accepts anything models.ProjectParticipants does.
type Patch struct {
	Title        *string
	Kind         *models.ChatKind
	IsActive     *bool
	Participants any
}

// Create validates and persists a new chat, returning it with its
// generated id and timestamps.
func (s *Store) Create(ctx context.Context, c *models.Chat) (*models.Chat, error) {
	if c == nil {
		return nil, fmt.Errorf("chat: create: %w: chat is required", ErrValidation)
	}
	if strings.TrimSpace(c.OwnerScopeID) == "" {
		return nil, fmt.Errorf("chat: create: %w: ownerScopeId is required", ErrValidation)
	}
	if c.Kind == "" {
		c.Kind = models.ChatKindGroup
	}
	if !c.Kind.Valid() {
		return nil, fmt.Errorf("chat: create: %w: unknown kind %q", ErrValidation, c.Kind)
	}
	participants, err := models.ProjectParticipants(c.Participants)
	if err != nil {
		return nil, fmt.Errorf("chat: create: %w: %v", ErrValidation, err)
	}

	row := *c
	row.ID = uuid.NewString()
	row.Participants = participants
	row.IsActive = true
	row.UnreadCount = 0
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, fmt.Errorf("chat: create: %w: %w", ErrPersistence, err)
	}
	return &row, nil
}

// Get returns the chat with the given id or ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*models.Chat, error) {
	var c models.Chat
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("chat: get %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("chat: get %s: %w: %w", id, ErrPersistence, err)
	}
	return &c, nil
}

// ListByScope returns every chat in a scope. Order is unspecified; callers
// sort.
func (s *Store) ListByScope(ctx context.Context, scopeID string) ([]models.Chat, error) {
	var chats []models.Chat
	if err := s.db.WithContext(ctx).Where("owner_scope_id = ?", scopeID).Find(&chats).Error; err != nil {
		return nil, fmt.Errorf("chat: list scope %s: %w: %w", scopeID, ErrPersistence, err)
	}
	return chats, nil
}

// ListByKind returns every chat of one kind across scopes.
func (s *Store) ListByKind(ctx context.Context, kind models.ChatKind) ([]models.Chat, error) {
	var chats []models.Chat
	if err := s.db.WithContext(ctx).Where("kind = ?", kind).Find(&chats).Error; err != nil {
		return nil, fmt.Errorf("chat: list kind %s: %w: %w", kind, ErrPersistence, err)
	}
	return chats, nil
}

// FindByWorkItem returns the order-linked chat for a work item.
func (s *Store) FindByWorkItem(ctx context.Context, workItemID string) (*models.Chat, error) {
	var c models.Chat
	err := s.db.WithContext(ctx).
		Where("work_item_id = ? AND kind = ?", workItemID, models.ChatKindOrder).
		Order("created_at ASC").First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("chat: work item %s: %w", workItemID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("chat: work item %s: %w: %w", workItemID, ErrPersistence, err)
	}
	return &c, nil
}

// ListIdle returns active chats with no activity since before.
func (s *Store) ListIdle(ctx context.Context, before time.Time) ([]models.Chat, error) {
	var chats []models.Chat
	if err := s.db.WithContext(ctx).
		Where("is_active = ? AND updated_at < ?", true, before).
		Order("updated_at ASC").Find(&chats).Error; err != nil {
		return nil, fmt.Errorf("chat: list idle: %w: %w", ErrPersistence, err)
	}
	return chats, nil
}

// Update merges p into the stored chat and re-persists it. Participants are
// projected to identity strings on the way in.
func (s *Store) Update(ctx context.Context, id string, p Patch) (*models.Chat, error) {
	_, c, err := s.update(ctx, id, p)
	return c, err
}

// SetParticipants replaces the participant list.
func (s *Store) SetParticipants(ctx context.Context, id string, participants any) (*models.Chat, error) {
	_, c, err := s.ReplaceParticipants(ctx, id, participants)
	return c, err
}

// ReplaceParticipants replaces the participant list and also returns the
// list it replaced, read under the same row lock as the write.
func (s *Store) ReplaceParticipants(ctx context.Context, id string, participants any) ([]string, *models.Chat, error) {
	if participants == nil {
		participants = []string{}
	}
	before, c, err := s.update(ctx, id, Patch{Participants: participants})
	if err != nil {
		return nil, nil, err
	}
	return before.Participants, c, nil
}

func (s *Store) update(ctx context.Context, id string, p Patch) (before, after *models.Chat, err error) {
	if p.Kind != nil && !p.Kind.Valid() {
		return nil, nil, fmt.Errorf("chat: update %s: %w: unknown kind %q", id, ErrValidation, *p.Kind)
	}
	var participants []string
	if p.Participants != nil {
		participants, err = models.ProjectParticipants(p.Participants)
		if err != nil {
			return nil, nil, fmt.Errorf("chat: update %s: %w: %v", id, ErrValidation, err)
		}
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var c models.Chat
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).First(&c).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("chat: update %s: %w", id, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("chat: update %s: %w: %w", id, ErrPersistence, err)
		}
		orig := c
		orig.Participants = slices.Clone(c.Participants)

		if p.Title != nil {
			c.Title = *p.Title
		}
		if p.Kind != nil {
			c.Kind = *p.Kind
		}
		if p.IsActive != nil {
			c.IsActive = *p.IsActive
		}
		if p.Participants != nil {
			c.Participants = participants
		}
		// Save writes every column, zero values included, so IsActive=false sticks.
		if err := tx.Save(&c).Error; err != nil {
			return fmt.Errorf("chat: update %s: %w: %w", id, ErrPersistence, err)
		}
		before, after = &orig, &c
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return before, after, nil
}

// Archive marks the chat inactive.
func (s *Store) Archive(ctx context.Context, id string) (*models.Chat, error) {
	inactive := false
	return s.Update(ctx, id, Patch{IsActive: &inactive})
}

// Delete removes the chat and all of its messages. Messages go first so an
// interrupted delete never leaves orphans behind a missing chat row.
func (s *Store) Delete(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Chat{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return fmt.Errorf("chat: delete %s: %w: %w", id, ErrPersistence, err)
		}
		if count == 0 {
			return fmt.Errorf("chat: delete %s: %w", id, ErrNotFound)
		}
		if err := tx.Where("chat_id = ?", id).Delete(&models.Message{}).Error; err != nil {
			return fmt.Errorf("chat: delete %s messages: %w: %w", id, ErrPersistence, err)
		}
		if err := tx.Where("id = ?", id).Delete(&models.Chat{}).Error; err != nil {
			return fmt.Errorf("chat: delete %s: %w: %w", id, ErrPersistence, err)
		}
		return nil
	})
}

// Touch advances the chat's UpdatedAt to at. Chats already newer are left
// alone so concurrent appends never move the recency signal backwards.
func (s *Store) Touch(ctx context.Context, id string, at time.Time) error {
	err := s.db.WithContext(ctx).Model(&models.Chat{}).
		Where("id = ? AND updated_at < ?", id, at).
		UpdateColumn("updated_at", at).Error
	if err != nil {
		return fmt.Errorf("chat: touch %s: %w: %w", id, ErrPersistence, err)
	}
	return nil
}
