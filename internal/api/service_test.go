package api

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/dentaflow/labchat/internal/chat"
	"github.com/dentaflow/labchat/internal/config"
	"github.com/dentaflow/labchat/internal/db"
	"github.com/dentaflow/labchat/internal/directory"
	"github.com/dentaflow/labchat/internal/gateway"
	"github.com/dentaflow/labchat/internal/messaging"
	"github.com/dentaflow/labchat/internal/models"
	"github.com/prometheus/client_golang/prometheus"
)

func setupService(t *testing.T) (*Service, *prometheus.Registry) {
	t.Helper()
	gormDB, err := db.Connect(config.DatabaseConfig{Driver: "sqlite", DSN: db.MemoryDSN})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	msgs, err := messaging.NewStore(messaging.StoreOpts{Chats: chat.NewStore(gormDB)})
	if err != nil {
		t.Fatalf("messaging.NewStore: %v", err)
	}
	reg := prometheus.NewRegistry()
	gw, err := gateway.New(gateway.Opts{Messages: msgs, Metrics: gateway.NewMetrics(reg)})
	if err != nil {
		t.Fatalf("gateway.New: %v", err)
	}
	t.Cleanup(gw.Close)
	svc, err := NewService(ServiceOpts{
		Gateway: gw,
		WorkItems: directory.NewStaticWorkItems([]config.WorkItem{
			{ID: "ORD-1", Scope: "clinic-1", Title: "Crown 36"},
			{ID: "ORD-2", Scope: "clinic-2"},
		}),
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, reg
}

func mustCreate(t *testing.T, svc *Service, scope string, participants ...string) *models.Chat {
	t.Helper()
	c, err := svc.CreateChat(context.Background(), CreateChatRequest{
		OwnerScopeID: scope,
		Title:        "case",
		Participants: participants,
	})
	if err != nil {
		t.Fatalf("CreateChat: %v", err)
	}
	return c
}

func TestNewService_RequiresGateway(t *testing.T) {
	if _, err := NewService(ServiceOpts{}); err == nil {
		t.Fatal("expected error without gateway")
	}
}

func TestCreateChat_Validation(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	if _, err := svc.CreateChat(ctx, CreateChatRequest{Title: "x"}); !errors.Is(err, chat.ErrValidation) {
		t.Errorf("missing scope err = %v, want ErrValidation", err)
	}
	if _, err := svc.CreateChat(ctx, CreateChatRequest{OwnerScopeID: "s", Participants: 7}); !errors.Is(err, chat.ErrValidation) {
		t.Errorf("bad participants err = %v, want ErrValidation", err)
	}
}

func TestCreateChat_ProjectsParticipantObjects(t *testing.T) {
	svc, _ := setupService(t)
	c, err := svc.CreateChat(context.Background(), CreateChatRequest{
		OwnerScopeID: "clinic-1",
		Kind:         models.ChatKindDirect,
		Participants: []any{"alice", map[string]any{"id": "bob"}},
	})
	if err != nil {
		t.Fatalf("CreateChat: %v", err)
	}
	if !slices.Equal(c.Participants, []string{"alice", "bob"}) {
		t.Errorf("Participants = %v", c.Participants)
	}
	if c.Kind != models.ChatKindDirect {
		t.Errorf("Kind = %q", c.Kind)
	}
}

func TestListChats(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()
	older := mustCreate(t, svc, "clinic-1", "alice", "bob")
	newer := mustCreate(t, svc, "clinic-1", "alice", "carol")
	mustCreate(t, svc, "clinic-1", "carol")
	mustCreate(t, svc, "clinic-2", "alice")

	if _, err := svc.PostMessage(ctx, older.ID, messaging.Draft{Sender: "bob", Content: "1"}); err != nil {
		t.Fatalf("PostMessage: %v", err)
	}
	if err := svc.chats.Touch(ctx, newer.ID, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("Touch: %v", err)
	}

	all, err := svc.ListChats(ctx, "clinic-1", "")
	if err != nil {
		t.Fatalf("ListChats: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("unfiltered = %d chats, want 3", len(all))
	}
	for _, c := range all {
		if c.UnreadCount != 0 {
			t.Errorf("unfiltered chat %s unread = %d, want 0", c.ID, c.UnreadCount)
		}
	}

	mine, err := svc.ListChats(ctx, "clinic-1", "alice")
	if err != nil {
		t.Fatalf("ListChats(alice): %v", err)
	}
	if len(mine) != 2 {
		t.Fatalf("alice sees %d chats, want 2", len(mine))
	}
	if mine[0].ID != newer.ID || mine[1].ID != older.ID {
		t.Errorf("order = [%s %s], want newest first", mine[0].ID, mine[1].ID)
	}
	if mine[1].UnreadCount != 1 {
		t.Errorf("older unread = %d, want 1", mine[1].UnreadCount)
	}
}

func TestUpdateParticipants_BroadcastsDiff(t *testing.T) {
	svc, _ := setupService(t)
	c := mustCreate(t, svc, "clinic-1", "alice", "bob")
	tr := gateway.NewMockTransport()
	svc.Gateway().Connect(tr)

	updated, err := svc.UpdateParticipants(context.Background(), c.ID, []string{"alice", "carol"}, "alice")
	if err != nil {
		t.Fatalf("UpdateParticipants: %v", err)
	}
	if !slices.Equal(updated.Participants, []string{"alice", "carol"}) {
		t.Errorf("Participants = %v", updated.Participants)
	}
	events := tr.SentOfType(gateway.EventParticipantsUpdated)
	if len(events) != 1 {
		t.Fatalf("participantsUpdated = %d, want 1", len(events))
	}
	ev := events[0].Data.(gateway.ParticipantsUpdated)
	if !slices.Equal(ev.Added, []string{"carol"}) || !slices.Equal(ev.Removed, []string{"bob"}) {
		t.Errorf("diff = +%v -%v, want +[carol] -[bob]", ev.Added, ev.Removed)
	}
	if ev.UpdatedBy != "alice" || ev.ChatID != c.ID {
		t.Errorf("event = %+v", ev)
	}
}

func TestUpdateParticipants_ConcurrentDiffsChain(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()
	c := mustCreate(t, svc, "clinic-1", "alice")
	tr := gateway.NewMockTransport()
	svc.Gateway().Connect(tr)

	var wg sync.WaitGroup
	for _, next := range [][]string{{"alice", "bob"}, {"alice", "carol"}} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.UpdateParticipants(ctx, c.ID, next, "alice"); err != nil {
				t.Errorf("UpdateParticipants(%v): %v", next, err)
			}
		}()
	}
	wg.Wait()

	events := tr.SentOfType(gateway.EventParticipantsUpdated)
	if len(events) != 2 {
		t.Fatalf("participantsUpdated = %d, want 2", len(events))
	}
	a := events[0].Data.(gateway.ParticipantsUpdated)
	b := events[1].Data.(gateway.ParticipantsUpdated)
	if len(b.Removed) == 0 {
		a, b = b, a
	}
	// The first write only adds; the second removes exactly what the first added.
	if len(a.Removed) != 0 || len(a.Added) != 1 {
		t.Fatalf("first diff = +%v -%v, want one addition", a.Added, a.Removed)
	}
	if !slices.Equal(b.Removed, a.Added) || len(b.Added) != 1 || b.Added[0] == a.Added[0] {
		t.Errorf("second diff = +%v -%v, first added %v", b.Added, b.Removed, a.Added)
	}

	got, err := svc.GetChat(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetChat: %v", err)
	}
	if !slices.Equal(got.Participants, b.Participants) {
		t.Errorf("stored = %v, want last write %v", got.Participants, b.Participants)
	}
}

func TestUpdateParticipants_Errors(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()
	if _, err := svc.UpdateParticipants(ctx, "missing", []string{"a"}, "x"); !errors.Is(err, chat.ErrNotFound) {
		t.Errorf("missing chat err = %v, want ErrNotFound", err)
	}
	c := mustCreate(t, svc, "clinic-1", "alice")
	if _, err := svc.UpdateParticipants(ctx, c.ID, nil, "x"); !errors.Is(err, chat.ErrValidation) {
		t.Errorf("nil participants err = %v, want ErrValidation", err)
	}
}

func TestArchiveChat_NotifiesSubscribers(t *testing.T) {
	svc, _ := setupService(t)
	c := mustCreate(t, svc, "clinic-1", "alice")
	gw := svc.Gateway()
	tr := gateway.NewMockTransport()
	s := gw.Connect(tr)
	if err := gw.Register(s, "alice"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := gw.JoinChat(s, c.ID); err != nil {
		t.Fatalf("JoinChat: %v", err)
	}

	archived, err := svc.ArchiveChat(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("ArchiveChat: %v", err)
	}
	if archived.IsActive {
		t.Error("chat still active")
	}
	if n := len(tr.SentOfType(gateway.EventChatArchived)); n != 1 {
		t.Errorf("chatArchived = %d, want 1", n)
	}
}

func TestDeleteChat_NoBroadcast(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()
	c := mustCreate(t, svc, "clinic-1", "alice", "bob")
	if _, err := svc.PostMessage(ctx, c.ID, messaging.Draft{Sender: "bob", Content: "x"}); err != nil {
		t.Fatalf("PostMessage: %v", err)
	}
	tr := gateway.NewMockTransport()
	svc.Gateway().Connect(tr)

	if err := svc.DeleteChat(ctx, c.ID); err != nil {
		t.Fatalf("DeleteChat: %v", err)
	}
	if tr.SentCount() != 0 {
		t.Errorf("delete broadcast %d events", tr.SentCount())
	}
	msgs, _ := svc.ListMessages(ctx, c.ID)
	if len(msgs) != 0 {
		t.Errorf("messages left = %d", len(msgs))
	}
}

func TestEnsureWorkItemChat(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	first, created, err := svc.EnsureWorkItemChat(ctx, "ORD-1", WorkItemChatRequest{CreatedBy: "alice", Participants: []string{"alice"}})
	if err != nil {
		t.Fatalf("EnsureWorkItemChat: %v", err)
	}
	if !created {
		t.Error("first call should create")
	}
	if first.Kind != models.ChatKindOrder || first.OwnerScopeID != "clinic-1" || first.Title != "Crown 36" {
		t.Errorf("chat = %+v", first)
	}

	again, created, err := svc.EnsureWorkItemChat(ctx, "ORD-1", WorkItemChatRequest{})
	if err != nil {
		t.Fatalf("EnsureWorkItemChat (again): %v", err)
	}
	if created || again.ID != first.ID {
		t.Errorf("second call created=%v id=%s, want existing %s", created, again.ID, first.ID)
	}

	untitled, _, err := svc.EnsureWorkItemChat(ctx, "ORD-2", WorkItemChatRequest{})
	if err != nil {
		t.Fatalf("EnsureWorkItemChat(ORD-2): %v", err)
	}
	if untitled.Title != "ORD-2" {
		t.Errorf("Title = %q, want work item id", untitled.Title)
	}

	if _, _, err := svc.EnsureWorkItemChat(ctx, "ORD-404", WorkItemChatRequest{}); !errors.Is(err, chat.ErrNotFound) {
		t.Errorf("unknown work item err = %v, want ErrNotFound", err)
	}
	if _, _, err := svc.EnsureWorkItemChat(ctx, " ", WorkItemChatRequest{}); !errors.Is(err, chat.ErrValidation) {
		t.Errorf("blank id err = %v, want ErrValidation", err)
	}
}

func TestArchiveIdle(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()
	stale := mustCreate(t, svc, "clinic-1", "alice")
	fresh := mustCreate(t, svc, "clinic-1", "bob")
	if err := svc.chats.Touch(ctx, fresh.ID, time.Now().Add(2*time.Hour)); err != nil {
		t.Fatalf("Touch: %v", err)
	}

	n, err := svc.ArchiveIdle(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("ArchiveIdle: %v", err)
	}
	if n != 1 {
		t.Errorf("archived = %d, want 1", n)
	}
	got, _ := svc.GetChat(ctx, stale.ID)
	if got.IsActive {
		t.Error("stale chat still active")
	}
	got, _ = svc.GetChat(ctx, fresh.ID)
	if !got.IsActive {
		t.Error("fresh chat archived")
	}
}
