package interfaces

// Connection represents one websocket client as seen by the relay
// ARCHITECTURAL DISCOVERY: Pure abstraction without transport details keeps
// the relay testable with in-memory recorders
type Connection interface {
	// WriteJSON queues a JSON frame for the client (thread-safe)
	// FUNCTIONAL DISCOVERY: Implementations use a single writer goroutine so
	// concurrent broadcasts never interleave frames
	WriteJSON(v interface{}) error

	// Close closes the connection and cleans up resources
	Close() error

	// GetID returns the server-assigned connection id
	GetID() string

	// GetRoomID returns the joined room, or "" before the first join
	GetRoomID() string

	// SetRoomID records the current room. Only the hub loop calls it.
	SetRoomID(roomID string)
}

// ConnectionLookup resolves a connection id to a live connection
// ARCHITECTURAL DISCOVERY: Broadcast walks room membership and resolves each
// member here, so there is exactly one room index in the process
type ConnectionLookup interface {
	GetConnection(id string) (Connection, bool)
}
