package websocket

import (
	"sync"

	"whiteboard/pkg/interfaces"
)

// Registry tracks live connections by id
// ARCHITECTURAL DISCOVERY: Pure connection tracking without room logic;
// room membership lives in the room registry and broadcast resolves ids here
type Registry struct {
	mu          sync.RWMutex           // TECHNICAL DISCOVERY: RWMutex optimizes for read-heavy lookup patterns
	connections map[string]*Connection // connID -> Connection for O(1) lookup
}

// NewRegistry creates a new connection registry
func NewRegistry() *Registry {
	return &Registry{
		connections: make(map[string]*Connection),
	}
}

// RegisterConnection adds a connection. Ids are server-generated, so a
// duplicate means a programming error and is refused.
func (r *Registry) RegisterConnection(conn *Connection) error {
	if conn == nil {
		return ErrNilConnection
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.connections[conn.GetID()]; exists {
		return ErrDuplicateConnection
	}
	r.connections[conn.GetID()] = conn
	return nil
}

// UnregisterConnection removes a specific connection
// RACE CONDITION FIX: Only removes the connection if it matches the one currently registered
func (r *Registry) UnregisterConnection(conn *Connection) {
	if conn == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if registered, exists := r.connections[conn.GetID()]; exists && registered == conn {
		delete(r.connections, conn.GetID())
	}
}

// GetConnection implements interfaces.ConnectionLookup
func (r *Registry) GetConnection(id string) (interfaces.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, exists := r.connections[id]
	if !exists {
		return nil, false
	}
	return conn, true
}

// Count returns the number of live connections
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}

// CloseAll closes every registered connection (used on shutdown)
func (r *Registry) CloseAll() {
	r.mu.RLock()
	conns := make([]*Connection, 0, len(r.connections))
	for _, c := range r.connections {
		conns = append(conns, c)
	}
	r.mu.RUnlock()

	for _, c := range conns {
		_ = c.Close()
	}
}
