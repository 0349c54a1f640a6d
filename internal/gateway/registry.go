package gateway

import "sync"

// Registry maps an identity to its live session. The most recent
// registration wins; there is no multi-device fan-out.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Register binds identity to s and returns the session it replaced, if any.
func (r *Registry) Register(identity string, s *Session) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.sessions[identity]
	r.sessions[identity] = s
	if prev == s {
		return nil
	}
	return prev
}

// Unregister removes whatever session identity is bound to.
func (r *Registry) Unregister(identity string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, identity)
}

// UnregisterSession removes the binding only while it still points at s,
// so a replaced session going away cannot evict its successor. It reports
// whether a binding was removed.
func (r *Registry) UnregisterSession(identity string, s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[identity] != s {
		return false
	}
	delete(r.sessions, identity)
	return true
}

// Lookup returns the live session for identity.
func (r *Registry) Lookup(identity string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[identity]
	return s, ok
}

// Len returns the number of registered identities.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Sessions returns a snapshot of identity bindings.
func (r *Registry) Sessions() map[string]*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*Session, len(r.sessions))
	for id, s := range r.sessions {
		out[id] = s
	}
	return out
}
