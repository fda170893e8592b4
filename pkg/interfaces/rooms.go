package interfaces

import "whiteboard/pkg/types"

// RoomRegistry holds room access metadata and presence
// ARCHITECTURAL DISCOVERY: Presence and access control share one owner so a
// join is validated and recorded against the same state
type RoomRegistry interface {
	// Meta returns the access metadata; false means the room is unrestricted
	Meta(roomID string) (types.RoomMeta, bool)

	// Authorize checks a join token against the room's metadata
	Authorize(roomID, token string) error

	// AddMember records a joined connection, replacing any earlier record
	// for the same connection id
	AddMember(roomID string, user types.User)

	// RemoveMember deletes a membership and reports whether one existed
	RemoveMember(roomID, connID string) bool

	// Members returns a copy of the room's members in join order
	Members(roomID string) []types.User

	// ColorFor picks a palette color for a connection
	ColorFor(connID string) string
}

// DrawingLog holds each room's stroke operations and undo history
type DrawingLog interface {
	// Merge applies one stroke fragment to the room's log
	// FUNCTIONAL DISCOVERY: Fragment kind is decided at decoding time and
	// never re-inferred here
	Merge(roomID string, frag types.Fragment) error

	// Contains reports whether the room's log holds an entry with this id
	Contains(roomID, opID string) bool

	Undo(roomID string) (types.UndoRedo, bool)
	Redo(roomID string) (types.UndoRedo, bool)

	// Snapshot returns a deep copy of the log in order
	Snapshot(roomID string) []types.StrokeOperation
}

// Journal receives activity events
// TECHNICAL DISCOVERY: Record must never block the caller; the hub loop
// calls it between handlers
type Journal interface {
	Record(event types.ActivityEvent)
}
