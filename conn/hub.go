package conn

import (
	"sync"

	"github.com/ppn-systems/nalix/identity"
)

// Hub is the process-wide (or per-server) lookup table from
// Identifier to live Connection, used by the UDP listener to resolve
// an inbound datagram's trailing identifier to the connection that
// should receive it.
type Hub struct {
	mu    sync.RWMutex
	conns map[identity.Identifier]*Connection
}

// NewHub builds an empty Hub.
func NewHub() *Hub {
	return &Hub{conns: make(map[identity.Identifier]*Connection)}
}

// Register adds c to the hub and arranges for it to be removed again
// on close.
func (h *Hub) Register(c *Connection) {
	h.mu.Lock()
	h.conns[c.ID()] = c
	h.mu.Unlock()
	c.OnClose(func(CloseInfo) {
		h.mu.Lock()
		delete(h.conns, c.ID())
		h.mu.Unlock()
	})
}

// Lookup returns the connection registered under id, if any.
func (h *Hub) Lookup(id identity.Identifier) (*Connection, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.conns[id]
	return c, ok
}

// Len reports how many connections are currently tracked.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}
