// Package api exposes chat administration over HTTP and hosts the
// websocket endpoint of the realtime gateway.
package api

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dentaflow/labchat/internal/chat"
	"github.com/dentaflow/labchat/internal/directory"
	"github.com/dentaflow/labchat/internal/gateway"
	"github.com/dentaflow/labchat/internal/messaging"
	"github.com/dentaflow/labchat/internal/models"
)

// Service implements the administration operations. It is independent of
// HTTP so the CLI and the archiver can call it too.
type Service struct {
	chats     *chat.Store
	messages  *messaging.Store
	gw        *gateway.Gateway
	workItems directory.WorkItems
}

// ServiceOpts holds parameters for creating a Service.
type ServiceOpts struct {
	Gateway   *gateway.Gateway
	WorkItems directory.WorkItems // optional; needed for EnsureWorkItemChat
}

// NewService creates a Service on top of a gateway and its stores.
func NewService(opts ServiceOpts) (*Service, error) {
	if opts.Gateway == nil {
		return nil, fmt.Errorf("api: service: gateway is required")
	}
	msgs := opts.Gateway.Messages()
	return &Service{
		chats:     msgs.Chats(),
		messages:  msgs,
		gw:        opts.Gateway,
		workItems: opts.WorkItems,
	}, nil
}

// Gateway returns the realtime gateway the service notifies.
func (s *Service) Gateway() *gateway.Gateway { return s.gw }

// CreateChatRequest is the body of a create-chat call. Participants may be
// identity strings or participant objects.
type CreateChatRequest struct {
	OwnerScopeID string          `json:"ownerScopeId"`
	Kind         models.ChatKind `json:"kind"`
	Title        string          `json:"title"`
	WorkItemID   *string         `json:"workItemId"`
	CreatedBy    string          `json:"createdBy"`
	Participants any             `json:"participants"`
}

// CreateChat validates and stores a new chat.
func (s *Service) CreateChat(ctx context.Context, req CreateChatRequest) (*models.Chat, error) {
	participants, err := models.ProjectParticipants(req.Participants)
	if err != nil {
		return nil, fmt.Errorf("api: create chat: %w: %w", chat.ErrValidation, err)
	}
	return s.chats.Create(ctx, &models.Chat{
		OwnerScopeID: req.OwnerScopeID,
		Kind:         req.Kind,
		Title:        req.Title,
		WorkItemID:   req.WorkItemID,
		CreatedBy:    req.CreatedBy,
		Participants: participants,
	})
}

// ListChats returns a scope's chats, most recently active first. With an
// identity, only chats it participates in are returned and each carries
// that identity's unread count; without one every count is 0.
func (s *Service) ListChats(ctx context.Context, scopeID, identity string) ([]models.Chat, error) {
	all, err := s.chats.ListByScope(ctx, scopeID)
	if err != nil {
		return nil, err
	}
	chats := all
	if identity != "" {
		chats = make([]models.Chat, 0, len(all))
		for i := range all {
			if s.messages.IsParticipant(&all[i], identity) {
				chats = append(chats, all[i])
			}
		}
		s.messages.FillUnreadCounts(ctx, chats, identity)
	}
	sort.SliceStable(chats, func(i, j int) bool {
		return chats[i].UpdatedAt.After(chats[j].UpdatedAt)
	})
	return chats, nil
}

// GetChat returns one chat.
func (s *Service) GetChat(ctx context.Context, id string) (*models.Chat, error) {
	return s.chats.Get(ctx, id)
}

// ListMessages returns a chat's messages in chronological order.
func (s *Service) ListMessages(ctx context.Context, chatID string) ([]models.Message, error) {
	return s.messages.ListByChat(ctx, chatID)
}

// PostMessage stores a message and runs the same fan-out as a realtime send.
func (s *Service) PostMessage(ctx context.Context, chatID string, d messaging.Draft) (*models.Message, error) {
	return s.gw.Publish(ctx, chatID, d)
}

// MarkRead marks the chat read for identity and pushes the new count to
// its live session.
func (s *Service) MarkRead(ctx context.Context, chatID, identity string) (int, error) {
	return s.gw.MarkRead(ctx, chatID, identity)
}

// UnreadCount returns identity's unread count in chatID.
func (s *Service) UnreadCount(ctx context.Context, chatID, identity string) int {
	return s.messages.UnreadCount(ctx, chatID, identity)
}

// DeleteChat removes a chat and all of its messages. Connected clients are
// not notified.
func (s *Service) DeleteChat(ctx context.Context, id string) error {
	return s.chats.Delete(ctx, id)
}

// ArchiveChat marks a chat inactive and tells its subscribers.
func (s *Service) ArchiveChat(ctx context.Context, id string) (*models.Chat, error) {
	c, err := s.chats.Archive(ctx, id)
	if err != nil {
		return nil, err
	}
	s.gw.NotifyArchived(c.ID)
	return c, nil
}

// UpdateParticipants replaces a chat's participants and announces the
// change, with what was added and removed, to every connected session.
func (s *Service) UpdateParticipants(ctx context.Context, chatID string, participants any, updatedBy string) (*models.Chat, error) {
	if participants == nil {
		return nil, fmt.Errorf("api: update participants: %w: participants is required", chat.ErrValidation)
	}
	prev, c, err := s.chats.ReplaceParticipants(ctx, chatID, participants)
	if err != nil {
		return nil, err
	}
	added, removed := models.ParticipantDiff(prev, c.Participants)
	s.gw.NotifyParticipants(c.ID, c.Participants, added, removed, updatedBy)
	return c, nil
}

// WorkItemChatRequest carries the optional extras for a work-item chat.
type WorkItemChatRequest struct {
	CreatedBy    string `json:"createdBy"`
	Participants any    `json:"participants"`
}

// EnsureWorkItemChat returns the order chat linked to a work item,
// creating it in the work item's scope on first use. The bool reports
// whether a chat was created.
func (s *Service) EnsureWorkItemChat(ctx context.Context, workItemID string, req WorkItemChatRequest) (*models.Chat, bool, error) {
	workItemID = strings.TrimSpace(workItemID)
	if workItemID == "" {
		return nil, false, fmt.Errorf("api: work item chat: %w: work item id is required", chat.ErrValidation)
	}
	existing, err := s.chats.FindByWorkItem(ctx, workItemID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, chat.ErrNotFound) {
		return nil, false, err
	}
	if s.workItems == nil {
		return nil, false, fmt.Errorf("api: work item chat: %w: no work item source configured", chat.ErrValidation)
	}
	item, err := s.workItems.Lookup(ctx, workItemID)
	if err != nil {
		if errors.Is(err, directory.ErrUnknownWorkItem) {
			return nil, false, fmt.Errorf("api: work item chat: %w: %w", chat.ErrNotFound, err)
		}
		return nil, false, fmt.Errorf("api: work item chat: %w", err)
	}
	title := item.Title
	if title == "" {
		title = item.ID
	}
	c, err := s.CreateChat(ctx, CreateChatRequest{
		OwnerScopeID: item.ScopeID,
		Kind:         models.ChatKindOrder,
		Title:        title,
		WorkItemID:   &item.ID,
		CreatedBy:    req.CreatedBy,
		Participants: req.Participants,
	})
	if err != nil {
		return nil, false, err
	}
	return c, true, nil
}

// ArchiveIdle archives every active chat with no activity since before and
// returns how many were archived. A failure on one chat does not stop the
// rest; the first error is returned.
func (s *Service) ArchiveIdle(ctx context.Context, before time.Time) (int, error) {
	idle, err := s.chats.ListIdle(ctx, before)
	if err != nil {
		return 0, err
	}
	var firstErr error
	n := 0
	for _, c := range idle {
		if _, err := s.ArchiveChat(ctx, c.ID); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		n++
	}
	return n, firstErr
}
