package server

import (
	"sync"
	"time"

	"github.com/coder/websocket"
)

// ClientInfo describes a connected POS client.
type ClientInfo struct {
	Addr        string
	ConnectedAt time.Time
}

// ClientRegistry tracks connected WebSocket clients.
type ClientRegistry struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]ClientInfo
	now     func() time.Time
}

// NewClientRegistry creates an empty registry.
func NewClientRegistry() *ClientRegistry {
	return &ClientRegistry{
		clients: make(map[*websocket.Conn]ClientInfo),
		now:     time.Now,
	}
}

// Add registers conn for the client at addr and returns the new count.
func (r *ClientRegistry) Add(conn *websocket.Conn, addr string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[conn] = ClientInfo{Addr: addr, ConnectedAt: r.now()}
	return len(r.clients)
}

// Remove unregisters conn and reports how long it was connected.
// ok is false if conn was not registered.
func (r *ClientRegistry) Remove(conn *websocket.Conn) (connected time.Duration, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.clients[conn]
	if !ok {
		return 0, false
	}
	delete(r.clients, conn)
	return r.now().Sub(info.ConnectedAt), true
}

// Count returns the number of connected clients
func (r *ClientRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// ForEach calls fn for a snapshot of the connected clients.
// fn runs without the registry lock held, so it may block or call Remove.
func (r *ClientRegistry) ForEach(fn func(*websocket.Conn, ClientInfo)) {
	type entry struct {
		conn *websocket.Conn
		info ClientInfo
	}

	r.mu.RLock()
	snapshot := make([]entry, 0, len(r.clients))
	for conn, info := range r.clients {
		snapshot = append(snapshot, entry{conn, info})
	}
	r.mu.RUnlock()

	for _, e := range snapshot {
		fn(e.conn, e.info)
	}
}
