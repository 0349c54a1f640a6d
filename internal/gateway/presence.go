package gateway

import (
	"sort"
	"sync"
)

// Presence tracks which identities are viewing each chat right now. It is
// advisory: it only suppresses redundant unread pushes.
type Presence struct {
	mu    sync.RWMutex
	chats map[string]map[string]struct{} // chatID -> identities
}

// NewPresence creates an empty Presence tracker.
func NewPresence() *Presence {
	return &Presence{chats: make(map[string]map[string]struct{})}
}

// Join marks identity active in chatID.
func (p *Presence) Join(chatID, identity string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	set := p.chats[chatID]
	if set == nil {
		set = make(map[string]struct{})
		p.chats[chatID] = set
	}
	set[identity] = struct{}{}
}

// Leave removes identity from chatID.
func (p *Presence) Leave(chatID, identity string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.leaveLocked(chatID, identity)
}

func (p *Presence) leaveLocked(chatID, identity string) {
	set := p.chats[chatID]
	if set == nil {
		return
	}
	delete(set, identity)
	if len(set) == 0 {
		delete(p.chats, chatID)
	}
}

// LeaveAll removes identity from every chat and returns the chats it left,
// sorted.
func (p *Presence) LeaveAll(identity string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var left []string
	for chatID, set := range p.chats {
		if _, ok := set[identity]; ok {
			left = append(left, chatID)
		}
	}
	for _, chatID := range left {
		p.leaveLocked(chatID, identity)
	}
	sort.Strings(left)
	return left
}

// ActiveIn returns a snapshot of the identities active in chatID.
func (p *Presence) ActiveIn(chatID string) map[string]struct{} {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]struct{}, len(p.chats[chatID]))
	for id := range p.chats[chatID] {
		out[id] = struct{}{}
	}
	return out
}

// IsActive reports whether identity is active in chatID.
func (p *Presence) IsActive(chatID, identity string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.chats[chatID][identity]
	return ok
}
