// Package hub fans session notifications out to subscribed connections.
package hub

import (
	"sync"

	"github.com/rbright/reelnote/internal/session"
)

// Hub routes notifications by session id. Subscribers run on the emitting
// actor goroutine and must not block.
type Hub struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[string]map[uint64]func(session.Notification)
}

func New() *Hub {
	return &Hub{subs: make(map[string]map[uint64]func(session.Notification))}
}

// Subscribe registers fn for sessionID and returns its cancel function.
func (h *Hub) Subscribe(sessionID string, fn func(session.Notification)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	id := h.nextID
	if h.subs[sessionID] == nil {
		h.subs[sessionID] = make(map[uint64]func(session.Notification))
	}
	h.subs[sessionID][id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs[sessionID], id)
			if len(h.subs[sessionID]) == 0 {
				delete(h.subs, sessionID)
			}
		})
	}
}

// Subscribers returns how many subscribers sessionID has.
func (h *Hub) Subscribers(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[sessionID])
}

// Notify implements session.Notifier.
func (h *Hub) Notify(n session.Notification) {
	h.mu.RLock()
	fns := make([]func(session.Notification), 0, len(h.subs[n.SessionID]))
	for _, fn := range h.subs[n.SessionID] {
		fns = append(fns, fn)
	}
	h.mu.RUnlock()

	for _, fn := range fns {
		fn(n)
	}
}
