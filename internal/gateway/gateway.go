// Package gateway is the realtime side of labchat: it tracks connected
// sessions, which chats they watch, and pushes message, unread, typing and
// membership events to them.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/dentaflow/labchat/internal/directory"
	"github.com/dentaflow/labchat/internal/messaging"
	"github.com/dentaflow/labchat/internal/models"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

var (
	// ErrNotRegistered is returned for operations that need an identity.
	ErrNotRegistered = errors.New("session is not registered")

	// ErrDisconnected is returned for operations on a closed session.
	ErrDisconnected = errors.New("session is disconnected")
)

// Gateway owns the live session state for one process.
type Gateway struct {
	messages *messaging.Store
	dir      directory.Directory
	registry *Registry
	presence *Presence
	metrics  *Metrics

	typingRate  rate.Limit
	typingBurst int

	mu       sync.RWMutex
	sessions map[*Session]struct{}
	groups   map[string]map[*Session]struct{} // chatID -> subscribers
	order    map[string]*sync.Mutex           // chatID -> publish lock
}

// Opts holds parameters for creating a Gateway.
type Opts struct {
	Messages  *messaging.Store
	Directory directory.Directory // optional; participants are used without it
	Registry  *Registry           // optional; a fresh one is created
	Presence  *Presence           // optional; a fresh one is created
	Metrics   *Metrics            // optional; unregistered collectors are created

	// TypingRate is the typing events per second allowed per session.
	// Zero or less disables the limit; config passes a negative value for that.
	TypingRate  float64
	TypingBurst int
}

// New creates a Gateway.
func New(opts Opts) (*Gateway, error) {
	if opts.Messages == nil {
		return nil, fmt.Errorf("gateway: message store is required")
	}
	g := &Gateway{
		messages:    opts.Messages,
		dir:         opts.Directory,
		registry:    opts.Registry,
		presence:    opts.Presence,
		metrics:     opts.Metrics,
		typingRate:  rate.Inf,
		typingBurst: opts.TypingBurst,
		sessions:    make(map[*Session]struct{}),
		groups:      make(map[string]map[*Session]struct{}),
		order:       make(map[string]*sync.Mutex),
	}
	if g.registry == nil {
		g.registry = NewRegistry()
	}
	if g.presence == nil {
		g.presence = NewPresence()
	}
	if g.metrics == nil {
		g.metrics = NewMetrics(nil)
	}
	if opts.TypingRate > 0 {
		g.typingRate = rate.Limit(opts.TypingRate)
	}
	if g.typingBurst <= 0 {
		g.typingBurst = 1
	}
	return g, nil
}

// Registry returns the gateway's connection registry.
func (g *Gateway) Registry() *Registry { return g.registry }

// Presence returns the gateway's presence tracker.
func (g *Gateway) Presence() *Presence { return g.presence }

// Messages returns the message store the gateway writes through.
func (g *Gateway) Messages() *messaging.Store { return g.messages }

// Connect admits a new transport as an unregistered session.
func (g *Gateway) Connect(t Transport) *Session {
	s := newSession(uuid.NewString(), t, rate.NewLimiter(g.typingRate, g.typingBurst))
	g.mu.Lock()
	g.sessions[s] = struct{}{}
	n := len(g.sessions)
	g.mu.Unlock()
	g.metrics.Sessions.Set(float64(n))
	return s
}

// SessionCount returns the number of connected sessions.
func (g *Gateway) SessionCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.sessions)
}

// Register binds s to identity. The newest registration for an identity
// wins; an older session stays connected but stops receiving direct pushes.
func (g *Gateway) Register(s *Session, identity string) error {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return fmt.Errorf("gateway: register: identity is required")
	}

	s.mu.Lock()
	if s.state == StateDisconnected {
		s.mu.Unlock()
		return fmt.Errorf("gateway: register: %w", ErrDisconnected)
	}
	old := s.identity
	s.identity = identity
	s.state = StateRegistered
	joined := make([]string, 0, len(s.chats))
	for chatID := range s.chats {
		joined = append(joined, chatID)
	}
	s.mu.Unlock()

	if old != "" && old != identity {
		g.registry.UnregisterSession(old, s)
		g.mu.Lock()
		for _, chatID := range joined {
			g.dropPresenceLocked(chatID, old)
			g.presence.Join(chatID, identity)
		}
		g.mu.Unlock()
	}
	if prev := g.registry.Register(identity, s); prev != nil {
		log.Printf("gateway: %s re-registered, session %s replaces %s", identity, s.ID, prev.ID)
	}
	g.metrics.Registered.Set(float64(g.registry.Len()))
	return nil
}

// JoinChat subscribes s to chatID's group and marks its identity present.
// Joining twice is harmless.
func (g *Gateway) JoinChat(s *Session, chatID string) error {
	if chatID == "" {
		return fmt.Errorf("gateway: join: chatId is required")
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	// The state check and the insert happen under both locks so a
	// concurrent Disconnect either sees this chat or rejects the join.
	s.mu.Lock()
	identity, err := s.registeredLocked("join")
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.chats[chatID] = struct{}{}
	s.mu.Unlock()

	group := g.groups[chatID]
	if group == nil {
		group = make(map[*Session]struct{})
		g.groups[chatID] = group
	}
	group[s] = struct{}{}

	g.presence.Join(chatID, identity)
	g.metrics.PresenceJoins.Inc()
	return nil
}

// LeaveChat reverses JoinChat. The identity stays present while another of
// its sessions is still in the chat.
func (g *Gateway) LeaveChat(s *Session, chatID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	s.mu.Lock()
	identity, err := s.registeredLocked("leave")
	if err != nil {
		s.mu.Unlock()
		return err
	}
	delete(s.chats, chatID)
	s.mu.Unlock()

	g.unsubscribeLocked(s, chatID)
	g.dropPresenceLocked(chatID, identity)
	return nil
}

func (g *Gateway) unsubscribeLocked(s *Session, chatID string) {
	group := g.groups[chatID]
	delete(group, s)
	if len(group) == 0 {
		delete(g.groups, chatID)
	}
}

// dropPresenceLocked clears identity from chatID unless another of its
// sessions is still subscribed there. g.mu must be held.
func (g *Gateway) dropPresenceLocked(chatID, identity string) {
	for sub := range g.groups[chatID] {
		if sub.Identity() == identity {
			return
		}
	}
	g.presence.Leave(chatID, identity)
}

// SendMessage persists a draft from s and fans it out. On failure only the
// sender hears about it, as a messageError.
func (g *Gateway) SendMessage(ctx context.Context, s *Session, chatID string, d messaging.Draft) (*models.Message, error) {
	if d.Sender == "" {
		d.Sender = s.Identity()
	}
	msg, err := g.Publish(ctx, chatID, d)
	if err != nil {
		log.Printf("gateway: send to %s from %s: %v", chatID, d.Sender, err)
		g.deliver(s, Event{Type: EventMessageError, Data: MessageError{ChatID: chatID, Error: err.Error()}})
		return nil, err
	}
	return msg, nil
}

// Publish persists a draft and performs the full fan-out: newMessage to
// the chat's subscribers, then unreadCountUpdate to every registered
// identity in the owner scope that is neither the sender nor currently
// viewing the chat. Nothing is broadcast if persistence fails.
func (g *Gateway) Publish(ctx context.Context, chatID string, d messaging.Draft) (*models.Message, error) {
	lock := g.chatLock(chatID)
	lock.Lock()
	msg, err := g.messages.Create(ctx, chatID, d)
	if err != nil {
		lock.Unlock()
		g.metrics.Messages.WithLabelValues("error").Inc()
		return nil, err
	}
	g.BroadcastChat(chatID, Event{Type: EventNewMessage, Data: NewMessage{ChatID: chatID, Message: msg}})
	lock.Unlock()
	g.metrics.Messages.WithLabelValues("ok").Inc()

	g.fanOutUnread(ctx, chatID, msg.Sender)
	return msg, nil
}

// chatLock returns the mutex that keeps one chat's messages broadcast in
// the order they were stored.
func (g *Gateway) chatLock(chatID string) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()
	lock, ok := g.order[chatID]
	if !ok {
		lock = &sync.Mutex{}
		g.order[chatID] = lock
	}
	return lock
}

func (g *Gateway) fanOutUnread(ctx context.Context, chatID, sender string) {
	c, err := g.messages.Chats().Get(ctx, chatID)
	if err != nil {
		log.Printf("gateway: unread fan-out %s: %v", chatID, err)
		return
	}
	active := g.presence.ActiveIn(chatID)
	for _, identity := range g.candidates(ctx, c) {
		if identity == sender {
			continue
		}
		if _, viewing := active[identity]; viewing {
			continue
		}
		s, ok := g.registry.Lookup(identity)
		if !ok {
			continue
		}
		count := g.messages.UnreadCount(ctx, chatID, identity)
		g.deliver(s, Event{Type: EventUnreadCountUpdate, Data: UnreadCountUpdate{ChatID: chatID, Count: count}})
	}
}

// candidates lists everyone who may need an unread push for c. The scope
// directory is authoritative; when it is missing or fails the chat's own
// participants are used.
func (g *Gateway) candidates(ctx context.Context, c *models.Chat) []string {
	if g.dir == nil {
		return dedupe(c.Participants)
	}
	entries, err := g.dir.Identities(ctx, c.OwnerScopeID)
	if err != nil {
		log.Printf("gateway: directory %s: %v, falling back to participants", c.OwnerScopeID, err)
		return dedupe(c.Participants)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.Identity)
	}
	return dedupe(ids)
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Typing relays a typing indicator to the chat's other subscribers. Events
// over the session's rate limit are dropped silently.
func (g *Gateway) Typing(s *Session, chatID, identity string, isTyping bool) error {
	if identity == "" {
		identity = s.Identity()
	}
	if identity == "" {
		return fmt.Errorf("gateway: typing: %w", ErrNotRegistered)
	}
	if !s.typing.Allow() {
		g.metrics.TypingDropped.Inc()
		return nil
	}
	evt := Event{Type: EventUserTyping, Data: UserTyping{ChatID: chatID, User: identity, IsTyping: isTyping}}
	for _, sub := range g.subscribers(chatID) {
		if sub == s || sub.Identity() == identity {
			continue
		}
		g.deliver(sub, evt)
	}
	return nil
}

// MarkRead marks every message in chatID read for identity and pushes the
// resulting count to that identity's live session, if any.
func (g *Gateway) MarkRead(ctx context.Context, chatID, identity string) (int, error) {
	n, err := g.messages.MarkAllRead(ctx, chatID, identity)
	if err != nil {
		return n, err
	}
	if s, ok := g.registry.Lookup(identity); ok {
		count := g.messages.UnreadCount(ctx, chatID, identity)
		g.deliver(s, Event{Type: EventUnreadCountUpdate, Data: UnreadCountUpdate{ChatID: chatID, Count: count}})
	}
	return n, nil
}

// NotifyParticipants tells every connected session that chatID's
// membership changed.
func (g *Gateway) NotifyParticipants(chatID string, participants, added, removed []string, updatedBy string) {
	g.BroadcastAll(Event{Type: EventParticipantsUpdated, Data: ParticipantsUpdated{
		ChatID:       chatID,
		Participants: participants,
		Added:        added,
		Removed:      removed,
		UpdatedBy:    updatedBy,
	}})
}

// NotifyArchived tells chatID's subscribers that it went inactive.
func (g *Gateway) NotifyArchived(chatID string) {
	g.BroadcastChat(chatID, Event{Type: EventChatArchived, Data: ChatArchived{ChatID: chatID}})
}

// BroadcastAll sends evt to every connected session.
func (g *Gateway) BroadcastAll(evt Event) {
	g.mu.RLock()
	targets := make([]*Session, 0, len(g.sessions))
	for s := range g.sessions {
		targets = append(targets, s)
	}
	g.mu.RUnlock()
	for _, s := range targets {
		g.deliver(s, evt)
	}
}

// BroadcastChat sends evt to every session subscribed to chatID.
func (g *Gateway) BroadcastChat(chatID string, evt Event) {
	for _, s := range g.subscribers(chatID) {
		g.deliver(s, evt)
	}
}

func (g *Gateway) subscribers(chatID string) []*Session {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*Session, 0, len(g.groups[chatID]))
	for s := range g.groups[chatID] {
		out = append(out, s)
	}
	return out
}

// deliver sends to one session. A failed delivery never affects other
// recipients.
func (g *Gateway) deliver(s *Session, evt Event) {
	err := s.send(evt)
	g.metrics.delivered(evt.Type, err)
	if err != nil {
		log.Printf("%v", err)
	}
}

// Disconnect removes every trace of s: its registry binding, its group
// subscriptions and its identity's presence.
func (g *Gateway) Disconnect(s *Session) {
	s.mu.Lock()
	if s.state == StateDisconnected {
		s.mu.Unlock()
		return
	}
	s.state = StateDisconnected
	identity := s.identity
	joined := make([]string, 0, len(s.chats))
	for chatID := range s.chats {
		joined = append(joined, chatID)
	}
	s.chats = make(map[string]struct{})
	s.mu.Unlock()

	g.mu.Lock()
	delete(g.sessions, s)
	for _, chatID := range joined {
		g.unsubscribeLocked(s, chatID)
	}
	if identity != "" {
		if g.identityConnectedLocked(identity) {
			for _, chatID := range joined {
				g.dropPresenceLocked(chatID, identity)
			}
		} else {
			g.presence.LeaveAll(identity)
		}
	}
	n := len(g.sessions)
	g.mu.Unlock()

	if identity != "" {
		g.registry.UnregisterSession(identity, s)
	}
	if err := s.transport.Close(); err != nil {
		log.Printf("gateway: close session %s: %v", s.ID, err)
	}
	g.metrics.Sessions.Set(float64(n))
	g.metrics.Registered.Set(float64(g.registry.Len()))
}

func (g *Gateway) identityConnectedLocked(identity string) bool {
	for other := range g.sessions {
		if other.Identity() == identity {
			return true
		}
	}
	return false
}

// Close disconnects every session.
func (g *Gateway) Close() {
	g.mu.RLock()
	all := make([]*Session, 0, len(g.sessions))
	for s := range g.sessions {
		all = append(all, s)
	}
	g.mu.RUnlock()
	for _, s := range all {
		g.Disconnect(s)
	}
}

// Dispatch decodes one inbound frame and runs it. Malformed or unknown
// frames are answered with an error event on the same session.
func (g *Gateway) Dispatch(ctx context.Context, s *Session, env Envelope) error {
	err := g.dispatch(ctx, s, env)
	if err != nil && env.Type != EventSendMessage {
		g.deliver(s, Event{Type: EventError, Data: ProtocolError{Type: env.Type, Error: err.Error()}})
	}
	return err
}

func (g *Gateway) dispatch(ctx context.Context, s *Session, env Envelope) error {
	switch env.Type {
	case EventRegister:
		var p RegisterPayload
		if err := decode(env, &p); err != nil {
			return err
		}
		return g.Register(s, p.Identity)
	case EventJoinChat:
		var p ChatRef
		if err := decode(env, &p); err != nil {
			return err
		}
		return g.JoinChat(s, p.ChatID)
	case EventLeaveChat:
		var p ChatRef
		if err := decode(env, &p); err != nil {
			return err
		}
		return g.LeaveChat(s, p.ChatID)
	case EventSendMessage:
		var p SendMessagePayload
		if err := decode(env, &p); err != nil {
			g.deliver(s, Event{Type: EventMessageError, Data: MessageError{Error: err.Error()}})
			return err
		}
		_, err := g.SendMessage(ctx, s, p.ChatID, p.Message)
		return err
	case EventTyping:
		var p TypingPayload
		if err := decode(env, &p); err != nil {
			return err
		}
		return g.Typing(s, p.ChatID, p.Identity, p.IsTyping)
	case EventMarkRead:
		var p MarkReadPayload
		if err := decode(env, &p); err != nil {
			return err
		}
		if p.Identity == "" {
			p.Identity = s.Identity()
		}
		_, err := g.MarkRead(ctx, p.ChatID, p.Identity)
		return err
	}
	return fmt.Errorf("gateway: unknown event type %q", env.Type)
}

func decode(env Envelope, v any) error {
	if len(env.Data) == 0 {
		return fmt.Errorf("gateway: %s: missing data", env.Type)
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("gateway: %s: %w", env.Type, err)
	}
	return nil
}
