package gateway

import (
	"fmt"
	"sort"
	"sync"

	"golang.org/x/time/rate"
)

// State is where a session is in its lifecycle.
type State int

const (
	StateUnregistered State = iota
	StateRegistered
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateUnregistered:
		return "unregistered"
	case StateRegistered:
		return "registered"
	case StateDisconnected:
		return "disconnected"
	}
	return "unknown"
}

// Session is one live client connection.
type Session struct {
	ID        string
	transport Transport
	typing    *rate.Limiter

	mu       sync.Mutex
	identity string
	state    State
	chats    map[string]struct{}
}

func newSession(id string, t Transport, typing *rate.Limiter) *Session {
	return &Session{
		ID:        id,
		transport: t,
		typing:    typing,
		chats:     make(map[string]struct{}),
	}
}

// Identity returns the identity the session registered as, or "".
func (s *Session) Identity() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// State returns the session's lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Chats returns the chats the session has joined, sorted.
func (s *Session) Chats() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.chats))
	for id := range s.chats {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// InChat reports whether the session has joined chatID.
func (s *Session) InChat(chatID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.chats[chatID]
	return ok
}

// registeredLocked returns the identity of a registered session. s.mu must
// be held.
func (s *Session) registeredLocked(op string) (string, error) {
	switch s.state {
	case StateDisconnected:
		return "", fmt.Errorf("gateway: %s: %w", op, ErrDisconnected)
	case StateUnregistered:
		return "", fmt.Errorf("gateway: %s: %w", op, ErrNotRegistered)
	}
	return s.identity, nil
}

// send hands evt to the transport. Events to a disconnected session are
// dropped without error.
func (s *Session) send(evt Event) error {
	if s.State() == StateDisconnected {
		return nil
	}
	if err := s.transport.Send(evt); err != nil {
		return &DeliveryError{SessionID: s.ID, Event: evt.Type, Err: err}
	}
	return nil
}
