// Package chatws carries chat turns over WebSocket connections bound to a
// conversation thread.
package chatws

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// Registry tracks open WebSocket connections per thread.
type Registry struct {
	mu     sync.RWMutex
	active map[string]map[string]*websocket.Conn
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		active: make(map[string]map[string]*websocket.Conn),
	}
}

// Get returns the connection registered for a thread and client.
func (r *Registry) Get(threadID, clientID string) *websocket.Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if conns, ok := r.active[threadID]; ok {
		return conns[clientID]
	}
	return nil
}

// Register adds conn for threadID/clientID, closing any connection it replaces.
func (r *Registry) Register(threadID, clientID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.active[threadID]; !exists {
		r.active[threadID] = make(map[string]*websocket.Conn)
	}

	if existing, exists := r.active[threadID][clientID]; exists && existing != conn {
		_ = existing.Close(websocket.StatusNormalClosure, "connection replaced")
	}

	r.active[threadID][clientID] = conn
	slog.Info("Chat connection registered", "thread_id", threadID, "client_id", clientID)
}

// Unregister removes conn if it is still the registered one.
func (r *Registry) Unregister(threadID, clientID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if conns, ok := r.active[threadID]; ok {
		if current, exists := conns[clientID]; exists && current == conn {
			delete(conns, clientID)
			if len(conns) == 0 {
				delete(r.active, threadID)
			}
			slog.Info("Chat connection unregistered", "thread_id", threadID, "client_id", clientID)
		}
	}
}

// CloseThread closes every connection bound to threadID. It runs when a
// session expires.
func (r *Registry) CloseThread(threadID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns, ok := r.active[threadID]
	if !ok {
		return
	}

	for cid, conn := range conns {
		_ = conn.Close(websocket.StatusGoingAway, "session expired")
		slog.Info("Chat connection closed", "thread_id", threadID, "client_id", cid)
	}
	delete(r.active, threadID)
}

// Count returns the number of open connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, conns := range r.active {
		n += len(conns)
	}
	return n
}
