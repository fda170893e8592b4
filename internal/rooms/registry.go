package rooms

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"hash/fnv"
	"log"
	"sync"
	"time"

	"whiteboard/pkg/types"
)

const (
	roomIDHexLength = 20
	tokenHexLength  = 36
	maxIDAttempts   = 5
)

// Palette assigned to members that do not pick their own color.
var Palette = []string{
	"#1f77b4", "#ff7f0e", "#2ca02c", "#d62728",
	"#9467bd", "#8c564b", "#e377c2", "#7f7f7f",
}

type member struct {
	user  types.User
	order uint64
}

type room struct {
	meta    types.RoomMeta
	members map[string]*member // connID -> member
}

// Registry implements the RoomRegistry interface
// ARCHITECTURAL DISCOVERY: Mutations arrive only from the hub loop, but the
// HTTP surface reads concurrently, so reads and writes still take the lock
type Registry struct {
	rooms map[string]*room
	seq   uint64
	now   func() time.Time
	mu    sync.RWMutex
}

// NewRegistry creates an empty room registry
func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[string]*room),
		now:   time.Now,
	}
}

// ensureRoom must be called with the write lock held
func (r *Registry) ensureRoom(roomID string) *room {
	rm, exists := r.rooms[roomID]
	if !exists {
		rm = &room{
			meta:    types.RoomMeta{Created: r.now()},
			members: make(map[string]*member),
		}
		r.rooms[roomID] = rm
	}
	return rm
}

// CreatePrivateRoom generates a fresh room id and access token and marks the
// room private
func (r *Registry) CreatePrivateRoom() (string, string, error) {
	token, err := randomHex(tokenHexLength)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate room token: %w", err)
	}

	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		roomID, err := randomHex(roomIDHexLength)
		if err != nil {
			return "", "", fmt.Errorf("failed to generate room id: %w", err)
		}

		r.mu.Lock()
		if _, taken := r.rooms[roomID]; taken {
			r.mu.Unlock()
			continue
		}
		r.createRoomWithTokenLocked(roomID, token)
		r.mu.Unlock()

		log.Printf("Created private room: id=%s", roomID)
		return roomID, token, nil
	}

	return "", "", ErrRoomIDConflict
}

// CreateRoomWithToken marks a room private with the given token, creating it
// if needed. Existing members are kept.
func (r *Registry) CreateRoomWithToken(roomID, token string) types.RoomMeta {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.createRoomWithTokenLocked(roomID, token)
}

func (r *Registry) createRoomWithTokenLocked(roomID, token string) types.RoomMeta {
	rm := r.ensureRoom(roomID)
	rm.meta = types.RoomMeta{
		Private: true,
		Token:   token,
		Created: r.now(),
	}
	return rm.meta
}

// Meta returns the room's access metadata. The second result is false for a
// room that has never been referenced, which means "no restriction".
func (r *Registry) Meta(roomID string) (types.RoomMeta, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rm, exists := r.rooms[roomID]
	if !exists {
		return types.RoomMeta{}, false
	}
	return rm.meta, true
}

// Authorize checks a join token against the room's metadata. Public and
// unknown rooms accept any token.
func (r *Registry) Authorize(roomID, token string) error {
	meta, exists := r.Meta(roomID)
	if !exists || !meta.Private {
		return nil
	}
	if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(meta.Token)) != 1 {
		return ErrInvalidToken
	}
	return nil
}

// AddMember records a membership. A connection that is already a member
// keeps its join position and gets its record replaced.
func (r *Registry) AddMember(roomID string, user types.User) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm := r.ensureRoom(roomID)
	if existing, ok := rm.members[user.ID]; ok {
		existing.user = user
		return
	}
	r.seq++
	rm.members[user.ID] = &member{user: user, order: r.seq}
}

// RemoveMember deletes a membership and reports whether it existed
func (r *Registry) RemoveMember(roomID, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, exists := r.rooms[roomID]
	if !exists {
		return false
	}
	if _, ok := rm.members[connID]; !ok {
		return false
	}
	delete(rm.members, connID)
	return true
}

// Members returns the room's members in join order
func (r *Registry) Members(roomID string) []types.User {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rm, exists := r.rooms[roomID]
	if !exists {
		return []types.User{}
	}

	ordered := make([]*member, 0, len(rm.members))
	for _, m := range rm.members {
		ordered = append(ordered, m)
	}
	// Insertion sort: rooms are small
	for i := 1; i < len(ordered); i++ {
		for j := i; j > 0 && ordered[j].order < ordered[j-1].order; j-- {
			ordered[j], ordered[j-1] = ordered[j-1], ordered[j]
		}
	}

	users := make([]types.User, len(ordered))
	for i, m := range ordered {
		users[i] = m.user
	}
	return users
}

// MemberCount returns the number of members in a room
func (r *Registry) MemberCount(roomID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if rm, exists := r.rooms[roomID]; exists {
		return len(rm.members)
	}
	return 0
}

// RoomCount returns the number of rooms ever referenced
func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// ColorFor picks a palette color from the connection id. The same id always
// maps to the same color.
func (r *Registry) ColorFor(connID string) string {
	h := fnv.New32a()
	h.Write([]byte(connID))
	return Palette[h.Sum32()%uint32(len(Palette))]
}

func randomHex(length int) (string, error) {
	buf := make([]byte, (length+1)/2)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf)[:length], nil
}
