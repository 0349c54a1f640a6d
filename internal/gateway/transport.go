package gateway

import (
	"errors"
	"fmt"
	"sync"
)

// ErrTransportClosed is returned by Send after Close.
var ErrTransportClosed = errors.New("transport closed")

// Transport carries events to one connected client. Send must not block on
// a slow peer; a transport that cannot accept an event returns an error.
type Transport interface {
	// Send queues evt for delivery.
	Send(evt Event) error

	// Close tears the connection down. It is safe to call more than once.
	Close() error
}

// DeliveryError reports an event that could not reach a session.
type DeliveryError struct {
	SessionID string
	Event     string
	Err       error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("gateway: deliver %s to session %s: %v", e.Event, e.SessionID, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// MockTransport implements Transport for testing. It records every event
// it is asked to send.
type MockTransport struct {
	mu      sync.Mutex
	closed  bool
	sent    []Event
	sendErr error
}

// NewMockTransport creates an open MockTransport.
func NewMockTransport() *MockTransport {
	return &MockTransport{}
}

// Send records evt.
func (m *MockTransport) Send(evt Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrTransportClosed
	}
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, evt)
	return nil
}

// Close marks the transport closed.
func (m *MockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// --- Test helpers ---

// SetSendError makes every subsequent Send fail with err.
func (m *MockTransport) SetSendError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendErr = err
}

// Closed reports whether Close was called.
func (m *MockTransport) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// AllSent returns a copy of every recorded event.
func (m *MockTransport) AllSent() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.sent))
	copy(out, m.sent)
	return out
}

// SentOfType returns the recorded events with the given type.
func (m *MockTransport) SentOfType(typ string) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, evt := range m.sent {
		if evt.Type == typ {
			out = append(out, evt)
		}
	}
	return out
}

// LastSent returns the most recent event, or false if none.
func (m *MockTransport) LastSent() (Event, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return Event{}, false
	}
	return m.sent[len(m.sent)-1], true
}

// SentCount returns the number of recorded events.
func (m *MockTransport) SentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// ClearSent discards recorded events.
func (m *MockTransport) ClearSent() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = nil
}
