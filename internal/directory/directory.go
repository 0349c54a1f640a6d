// Package directory adapts the external identity directory and work-item
// service that the messaging core consults read-only.
package directory

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/dentaflow/labchat/internal/config"
	"github.com/dentaflow/labchat/internal/models"
)

// ErrUnknownWorkItem is returned when a work item id has no record.
var ErrUnknownWorkItem = errors.New("unknown work item")

// Entry is one identity known to the directory.
type Entry struct {
	Identity string
	Category models.SenderCategory
}

// Directory enumerates identities that may take part in a scope's chats.
type Directory interface {
	Identities(ctx context.Context, scopeID string) ([]Entry, error)
}

// WorkItem is the slice of an external work item the chat core needs.
type WorkItem struct {
	ID      string
	ScopeID string
	Title   string
}

// WorkItems resolves work items to their owner scope.
type WorkItems interface {
	Lookup(ctx context.Context, id string) (WorkItem, error)
}

// Static is a Directory backed by the members listed in configuration.
type Static struct {
	members []config.Member
}

// NewStatic builds a Static directory from configured members.
func NewStatic(members []config.Member) *Static {
	return &Static{members: slices.Clone(members)}
}

// Identities returns members visible in scopeID: those without a scope
// restriction plus those listing it.
func (s *Static) Identities(ctx context.Context, scopeID string) ([]Entry, error) {
	out := make([]Entry, 0, len(s.members))
	for _, m := range s.members {
		if len(m.Scopes) > 0 && !slices.Contains(m.Scopes, scopeID) {
			continue
		}
		out = append(out, Entry{Identity: m.Identity, Category: models.SenderCategory(m.Category)})
	}
	return out, nil
}

// StaticWorkItems is a WorkItems lookup over configured work items.
type StaticWorkItems struct {
	items map[string]WorkItem
}

// NewStaticWorkItems indexes configured work items by id.
func NewStaticWorkItems(items []config.WorkItem) *StaticWorkItems {
	idx := make(map[string]WorkItem, len(items))
	for _, w := range items {
		idx[w.ID] = WorkItem{ID: w.ID, ScopeID: w.Scope, Title: w.Title}
	}
	return &StaticWorkItems{items: idx}
}

// Lookup returns the work item or ErrUnknownWorkItem.
func (s *StaticWorkItems) Lookup(ctx context.Context, id string) (WorkItem, error) {
	w, ok := s.items[id]
	if !ok {
		return WorkItem{}, fmt.Errorf("directory: work item %s: %w", id, ErrUnknownWorkItem)
	}
	return w, nil
}
