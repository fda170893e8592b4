package relay

import (
	"encoding/json"
	"log"
	"time"

	"whiteboard/pkg/interfaces"
	"whiteboard/pkg/types"
)

// Options configures the per-connection rate limits
type Options struct {
	RateLimit  int
	RateWindow time.Duration
}

// DefaultOptions allows a continuously drawing client (one send per ~40ms)
// with plenty of headroom
func DefaultOptions() Options {
	return Options{RateLimit: 200, RateWindow: time.Second}
}

// Relay is the per-connection protocol state machine
// ARCHITECTURAL DISCOVERY: Every handler runs on the hub loop, so a join,
// merge or undo executes to completion before the next message is looked at.
// The relay holds no room state of its own.
type Relay struct {
	rooms   interfaces.RoomRegistry
	drawing interfaces.DrawingLog
	conns   interfaces.ConnectionLookup
	journal interfaces.Journal

	drawLimiter   *RateLimiter
	cursorLimiter *RateLimiter
}

// New creates a relay. journal may be nil.
// FUNCTIONAL DISCOVERY: Dependency injection enables testing with in-memory
// registries and recorder connections
func New(rooms interfaces.RoomRegistry, drawing interfaces.DrawingLog, conns interfaces.ConnectionLookup, journal interfaces.Journal, opts Options) *Relay {
	if opts.RateLimit <= 0 || opts.RateWindow <= 0 {
		opts = DefaultOptions()
	}
	return &Relay{
		rooms:         rooms,
		drawing:       drawing,
		conns:         conns,
		journal:       journal,
		drawLimiter:   NewRateLimiter(opts.RateLimit, opts.RateWindow),
		cursorLimiter: NewRateLimiter(opts.RateLimit, opts.RateWindow),
	}
}

// Dispatch decodes the payload of one inbound envelope and runs its handler.
// A panic inside a handler is logged and contained here.
func (r *Relay) Dispatch(conn interfaces.Connection, env *types.Envelope) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("Relay handler fault: conn=%s type=%s err=%v", conn.GetID(), env.Type, rec)
			if env.Type == types.MessageTypeJoinRoom {
				r.send(conn, types.MessageTypeJoinError, types.JoinError{Message: joinErrorInternal})
			}
		}
	}()

	switch env.Type {
	case types.MessageTypeJoinRoom:
		var req types.JoinRequest
		if len(env.Data) > 0 && string(env.Data) != "null" {
			if err := json.Unmarshal(env.Data, &req); err != nil {
				r.send(conn, types.MessageTypeJoinError, types.JoinError{Message: joinErrorMalformed})
				return
			}
		}
		r.HandleJoin(conn, req)

	case types.MessageTypeDraw:
		frag, err := types.DecodeFragment(env.Data)
		if err != nil {
			log.Printf("Rejected draw: conn=%s err=%v", conn.GetID(), err)
			r.sendAck(conn, env.AckID, false, types.AckReasonEmptyOp)
			return
		}
		r.HandleDraw(conn, frag, env.AckID)

	case types.MessageTypeCursor:
		var pos types.CursorPosition
		if err := json.Unmarshal(env.Data, &pos); err != nil {
			return
		}
		if err := pos.Validate(); err != nil {
			return
		}
		r.HandleCursor(conn, pos)

	case types.MessageTypeUndo:
		r.HandleUndo(conn)

	case types.MessageTypeRedo:
		r.HandleRedo(conn)

	case types.MessageTypeRequestUsers:
		r.HandleRequestUsers(conn)

	case types.MessageTypeRequestState:
		r.HandleRequestState(conn)

	default:
		log.Printf("Unknown message type: conn=%s type=%s", conn.GetID(), env.Type)
		r.send(conn, types.MessageTypeError, types.ErrorPayload{Message: ErrUnknownMessage.Error()})
	}
}

// HandleJoin validates a join request and moves the connection into the room.
// A rejected join leaves the connection where it was: a connection already
// in room A that fails to join private room B stays a member of A and keeps
// receiving A's traffic. Only an accepted join leaves the previous room.
func (r *Relay) HandleJoin(conn interfaces.Connection, req types.JoinRequest) {
	connID := conn.GetID()

	roomID := req.RoomID
	if roomID == "" {
		roomID = conn.GetRoomID()
	}
	if roomID == "" {
		roomID = types.DefaultRoomID
	}

	if !types.IsValidRoomID(roomID) {
		r.send(conn, types.MessageTypeJoinError, types.JoinError{Message: joinErrorInvalidRoomID})
		return
	}

	if err := r.rooms.Authorize(roomID, req.Token); err != nil {
		log.Printf("Rejecting join: conn=%s room=%s reason=%v", connID, roomID, err)
		r.record(roomID, types.ActivityJoinRejected, connID, err.Error())
		r.send(conn, types.MessageTypeJoinError, types.JoinError{Message: joinErrorInvalidToken})
		return
	}

	if prev := conn.GetRoomID(); prev != "" && prev != roomID {
		r.leave(conn, prev, "switched room")
	}

	color := req.Color
	if !types.IsHexColor(color) {
		color = r.rooms.ColorFor(connID)
	}
	user := types.User{ID: connID, Color: color, Name: types.NormalizeName(req.Name)}

	r.rooms.AddMember(roomID, user)
	conn.SetRoomID(roomID)
	log.Printf("Connection joined room: conn=%s room=%s", connID, roomID)
	r.record(roomID, types.ActivityMemberJoined, connID, user.Name)

	members := r.rooms.Members(roomID)
	r.send(conn, types.MessageTypeInitState, types.RoomState{
		Ops:   r.drawing.Snapshot(roomID),
		Users: members,
	})
	r.broadcast(roomID, types.NewMessage(types.MessageTypeUsers, members), "")
}

// HandleDraw merges a fragment into the connection's room and relays it to
// the other members. When ackID is set the sender gets exactly one op-ack.
func (r *Relay) HandleDraw(conn interfaces.Connection, frag types.Fragment, ackID string) {
	acked := false
	reply := func(ok bool, reason string) {
		if acked {
			return
		}
		acked = true
		r.sendAck(conn, ackID, ok, reason)
	}
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("Draw handler fault: conn=%s err=%v", conn.GetID(), rec)
			reply(false, types.AckReasonServerError)
		}
	}()

	if frag == nil {
		reply(false, types.AckReasonEmptyOp)
		return
	}

	connID := conn.GetID()
	roomID := conn.GetRoomID()
	if roomID == "" {
		reply(false, types.AckReasonNotJoined)
		return
	}
	if err := r.drawLimiter.Check(connID); err != nil {
		log.Printf("Rejected draw: conn=%s room=%s err=%v", connID, roomID, err)
		reply(false, types.AckReasonRateLimited)
		return
	}

	stamped := frag.Stamped(connID)
	if r.journal != nil && !r.drawing.Contains(roomID, stamped.StrokeID()) {
		r.record(roomID, types.ActivityStrokeStarted, connID, stamped.StrokeID())
	}

	if err := r.drawing.Merge(roomID, stamped); err != nil {
		log.Printf("Merge failed: conn=%s room=%s err=%v", connID, roomID, err)
		reply(false, types.AckReasonEmptyOp)
		return
	}

	r.broadcast(roomID, types.NewMessage(types.MessageTypeDraw, stamped), connID)
	reply(true, "")
}

// HandleCursor relays a cursor position to the other members. Nothing is
// stored.
func (r *Relay) HandleCursor(conn interfaces.Connection, pos types.CursorPosition) {
	roomID := conn.GetRoomID()
	if roomID == "" {
		return
	}
	if !r.cursorLimiter.Allow(conn.GetID()) {
		return
	}

	pos.UserID = conn.GetID()
	r.broadcast(roomID, types.NewMessage(types.MessageTypeCursor, pos), conn.GetID())
}

// HandleUndo undoes the room's most recent live stroke and tells everyone
func (r *Relay) HandleUndo(conn interfaces.Connection) {
	roomID := conn.GetRoomID()
	if roomID == "" {
		return
	}

	change, ok := r.drawing.Undo(roomID)
	if !ok {
		return
	}
	r.record(roomID, types.ActivityUndo, conn.GetID(), change.OpID)
	r.broadcast(roomID, types.NewMessage(types.MessageTypeUndoRedo, change), "")
}

// HandleRedo restores the room's most recently undone stroke and tells
// everyone
func (r *Relay) HandleRedo(conn interfaces.Connection) {
	roomID := conn.GetRoomID()
	if roomID == "" {
		return
	}

	change, ok := r.drawing.Redo(roomID)
	if !ok {
		return
	}
	r.record(roomID, types.ActivityRedo, conn.GetID(), change.OpID)
	r.broadcast(roomID, types.NewMessage(types.MessageTypeUndoRedo, change), "")
}

// HandleRequestUsers sends the current member list to the requester
func (r *Relay) HandleRequestUsers(conn interfaces.Connection) {
	users := []types.User{}
	if roomID := conn.GetRoomID(); roomID != "" {
		users = r.rooms.Members(roomID)
	}
	r.send(conn, types.MessageTypeUsers, users)
}

// HandleRequestState sends a fresh snapshot of the room to the requester
func (r *Relay) HandleRequestState(conn interfaces.Connection) {
	roomID := conn.GetRoomID()
	if roomID == "" {
		r.send(conn, types.MessageTypeError, types.ErrorPayload{Message: ErrNotJoined.Error()})
		return
	}
	r.send(conn, types.MessageTypeFullState, types.RoomState{
		Ops:   r.drawing.Snapshot(roomID),
		Users: r.rooms.Members(roomID),
	})
}

// HandleDisconnect removes the connection from its room. Its strokes stay in
// the log.
func (r *Relay) HandleDisconnect(conn interfaces.Connection, reason string) {
	r.drawLimiter.Release(conn.GetID())
	r.cursorLimiter.Release(conn.GetID())

	roomID := conn.GetRoomID()
	if roomID == "" {
		return
	}
	r.leave(conn, roomID, reason)
}

// CleanupLimiters drops idle limiter state (call periodically)
func (r *Relay) CleanupLimiters() {
	r.drawLimiter.Cleanup()
	r.cursorLimiter.Cleanup()
}

func (r *Relay) leave(conn interfaces.Connection, roomID, reason string) {
	connID := conn.GetID()
	conn.SetRoomID("")
	if !r.rooms.RemoveMember(roomID, connID) {
		return
	}

	log.Printf("Connection left room: conn=%s room=%s reason=%s", connID, roomID, reason)
	r.record(roomID, types.ActivityMemberLeft, connID, reason)
	r.broadcast(roomID, types.NewMessage(types.MessageTypeUsers, r.rooms.Members(roomID)), "")
}

// broadcast delivers msg to every member of the room except exceptID
// FUNCTIONAL DISCOVERY: Continue delivery to other members even if one fails
func (r *Relay) broadcast(roomID string, msg *types.OutboundMessage, exceptID string) {
	for _, member := range r.rooms.Members(roomID) {
		if member.ID == exceptID {
			continue
		}
		conn, exists := r.conns.GetConnection(member.ID)
		if !exists {
			continue
		}
		if err := conn.WriteJSON(msg); err != nil {
			log.Printf("Failed to deliver %s to %s: %v", msg.Type, member.ID, err)
		}
	}
}

func (r *Relay) send(conn interfaces.Connection, msgType string, data interface{}) {
	if err := conn.WriteJSON(types.NewMessage(msgType, data)); err != nil {
		log.Printf("Failed to deliver %s to %s: %v", msgType, conn.GetID(), err)
	}
}

func (r *Relay) sendAck(conn interfaces.Connection, ackID string, ok bool, reason string) {
	if ackID == "" {
		return
	}
	r.send(conn, types.MessageTypeOpAck, types.Ack{AckID: ackID, OK: ok, Reason: reason})
}

func (r *Relay) record(roomID, kind, connID, detail string) {
	if r.journal == nil {
		return
	}
	r.journal.Record(types.ActivityEvent{
		RoomID: roomID,
		Kind:   kind,
		ConnID: connID,
		Detail: detail,
		At:     time.Now(),
	})
}
