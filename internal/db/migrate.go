package db

import (
	"fmt"

	"github.com/dentaflow/labchat/internal/config"
	"github.com/dentaflow/labchat/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AllModels returns the list of all GORM models for migration.
func AllModels() []interface{} {
	return []interface{}{
		&models.Chat{},
		&models.Message{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}

// SeedChats creates the configured demo chats. A chat that already exists
// with the same scope and title is left alone, so seeding is repeatable.
// It returns the number of chats created.
func SeedChats(db *gorm.DB, chats []config.SeedChat) (int, error) {
	created := 0
	for _, sc := range chats {
		participants, err := models.ProjectParticipants(sc.Participants)
		if err != nil {
			return created, fmt.Errorf("db: seed chat %q: %w", sc.Title, err)
		}
		kind := models.ChatKind(sc.Kind)
		if !kind.Valid() {
			return created, fmt.Errorf("db: seed chat %q: unknown kind %q", sc.Title, sc.Kind)
		}
		var workItem *string
		if sc.WorkItem != "" {
			w := sc.WorkItem
			workItem = &w
		}

		chat := models.Chat{}
		result := db.Where("owner_scope_id = ? AND title = ?", sc.Scope, sc.Title).
			Attrs(models.Chat{
				ID:           uuid.NewString(),
				OwnerScopeID: sc.Scope,
				Title:        sc.Title,
				Kind:         kind,
				WorkItemID:   workItem,
				CreatedBy:    sc.CreatedBy,
				Participants: participants,
				IsActive:     true,
			}).
			FirstOrCreate(&chat)
		if result.Error != nil {
			return created, fmt.Errorf("db: seed chat %q: %w", sc.Title, result.Error)
		}
		if result.RowsAffected > 0 {
			created++
		}
	}
	return created, nil
}
