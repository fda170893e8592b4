package drawing

import (
	"sync"

	"whiteboard/pkg/types"
)

// roomLog is the drawing state of one room. index maps a stroke id to its
// position in ops; entries are never removed or reordered.
type roomLog struct {
	ops    []*types.StrokeOperation
	index  map[string]int
	undone []string
}

// Stats summarizes one room's log
type Stats struct {
	Operations int `json:"operations"`
	Deleted    int `json:"deleted"`
	UndoDepth  int `json:"undoDepth"`
	Points     int `json:"points"`
}

// Log implements the DrawingLog interface
// ARCHITECTURAL DISCOVERY: One Log instance owns every room's operations and
// undo stack; the relay forwards commands but never touches entries directly
type Log struct {
	rooms map[string]*roomLog
	mu    sync.RWMutex
}

// NewLog creates an empty drawing log
func NewLog() *Log {
	return &Log{rooms: make(map[string]*roomLog)}
}

// ensureRoom must be called with the write lock held
func (l *Log) ensureRoom(roomID string) *roomLog {
	r, exists := l.rooms[roomID]
	if !exists {
		r = &roomLog{index: make(map[string]int)}
		l.rooms[roomID] = r
	}
	return r
}

func (r *roomLog) lookup(id string) *types.StrokeOperation {
	if i, ok := r.index[id]; ok {
		return r.ops[i]
	}
	return nil
}

func (r *roomLog) insert(op *types.StrokeOperation) {
	r.index[op.ID] = len(r.ops)
	r.ops = append(r.ops, op)
}

// Merge applies one fragment to the room's log.
//
// A full stroke inserts a new entry or redefines tool, color, size and
// points of an existing one. An append fragment extends an existing entry's
// points, or inserts a default-styled entry when the stroke is unknown so
// that no points are lost. userId and the deleted flag of an existing entry
// are left alone.
func (l *Log) Merge(roomID string, frag types.Fragment) error {
	if frag == nil || frag.StrokeID() == "" {
		return ErrInvalidFragment
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	r := l.ensureRoom(roomID)
	existing := r.lookup(frag.StrokeID())

	switch f := frag.(type) {
	case *types.FullStroke:
		if existing == nil {
			r.insert(f.Operation())
			return nil
		}
		existing.Tool = f.Tool
		existing.Color = f.Color
		existing.Size = f.Size
		existing.Points = append([]types.Point(nil), f.Points...)
		return nil

	case *types.AppendFragment:
		if existing == nil {
			r.insert(f.Operation())
			return nil
		}
		existing.Points = append(existing.Points, f.Points...)
		return nil

	default:
		return ErrUnknownFragment
	}
}

// Contains reports whether the room's log holds an entry with this id
func (l *Log) Contains(roomID, opID string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	r, exists := l.rooms[roomID]
	if !exists {
		return false
	}
	_, ok := r.index[opID]
	return ok
}

// Undo soft-deletes the most recent live entry, whoever authored it.
// The second result is false when there is nothing to undo.
func (l *Log) Undo(roomID string) (types.UndoRedo, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	r := l.ensureRoom(roomID)
	for i := len(r.ops) - 1; i >= 0; i-- {
		op := r.ops[i]
		if op.Deleted {
			continue
		}
		op.Deleted = true
		r.undone = append(r.undone, op.ID)
		return types.UndoRedo{Type: types.MessageTypeUndo, OpID: op.ID}, true
	}
	return types.UndoRedo{}, false
}

// Redo restores the most recently undone entry. It reverses undo calls in
// strict LIFO order and does not check for intervening changes.
func (l *Log) Redo(roomID string) (types.UndoRedo, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	r := l.ensureRoom(roomID)
	if len(r.undone) == 0 {
		return types.UndoRedo{}, false
	}

	last := len(r.undone) - 1
	opID := r.undone[last]
	r.undone = r.undone[:last]

	op := r.lookup(opID)
	if op == nil {
		return types.UndoRedo{}, false
	}
	op.Deleted = false
	return types.UndoRedo{Type: types.MessageTypeRedo, OpID: opID}, true
}

// Snapshot returns a deep copy of the room's log in insertion order,
// deleted entries included
func (l *Log) Snapshot(roomID string) []types.StrokeOperation {
	l.mu.RLock()
	defer l.mu.RUnlock()

	r, exists := l.rooms[roomID]
	if !exists {
		return []types.StrokeOperation{}
	}

	ops := make([]types.StrokeOperation, len(r.ops))
	for i, op := range r.ops {
		ops[i] = op.Clone()
	}
	return ops
}

// Stats returns counters for one room
func (l *Log) Stats(roomID string) Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	r, exists := l.rooms[roomID]
	if !exists {
		return Stats{}
	}

	s := Stats{Operations: len(r.ops), UndoDepth: len(r.undone)}
	for _, op := range r.ops {
		if op.Deleted {
			s.Deleted++
		}
		s.Points += len(op.Points)
	}
	return s
}

// RoomCount returns the number of rooms with a log
func (l *Log) RoomCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.rooms)
}

// TotalOperations returns the number of entries across all rooms
func (l *Log) TotalOperations() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	total := 0
	for _, r := range l.rooms {
		total += len(r.ops)
	}
	return total
}
