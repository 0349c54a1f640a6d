package models

import "time"

// ChatKind distinguishes what a chat room is attached to.
type ChatKind string

const (
	// ChatKindOrder is a thread linked to an external work item (a lab order).
	ChatKindOrder ChatKind = "order"
	// ChatKindGroup is an ad-hoc group conversation.
	ChatKindGroup ChatKind = "group"
	// ChatKindDirect is a one-to-one conversation.
	ChatKindDirect ChatKind = "direct"
)

// Valid reports whether k is one of the known chat kinds.
func (k ChatKind) Valid() bool {
	switch k {
	case ChatKindOrder, ChatKindGroup, ChatKindDirect:
		return true
	}
	return false
}

// Chat is a participant-scoped conversation container. Participants are
// opaque identity strings, never foreign keys into a user table.
type Chat struct {
	ID           string    `gorm:"primaryKey;size:36" json:"id"`
	Kind         ChatKind  `gorm:"size:16;default:group;index" json:"kind"`
	WorkItemID   *string   `gorm:"size:64;index" json:"workItemId,omitempty"`
	Title        string    `gorm:"size:256" json:"title"`
	Participants []string  `gorm:"serializer:json;type:text" json:"participants"`
	CreatedBy    string    `gorm:"size:128" json:"createdBy"`
	OwnerScopeID string    `gorm:"size:64;not null;index" json:"ownerScopeId"`
	IsActive     bool      `gorm:"default:true;index" json:"isActive"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `gorm:"index" json:"updatedAt"`

	// UnreadCount is computed per viewer at read time and never stored.
	UnreadCount int `gorm:"-" json:"unreadCount"`
}
