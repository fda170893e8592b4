package relay

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"whiteboard/internal/drawing"
	"whiteboard/internal/rooms"
	"whiteboard/pkg/interfaces"
	"whiteboard/pkg/types"
)

// recorderConn captures every frame written to it
type recorderConn struct {
	id   string
	room string

	mu   sync.Mutex
	msgs []*types.OutboundMessage
}

func (c *recorderConn) WriteJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, v.(*types.OutboundMessage))
	return nil
}
func (c *recorderConn) Close() error            { return nil }
func (c *recorderConn) GetID() string           { return c.id }
func (c *recorderConn) GetRoomID() string       { return c.room }
func (c *recorderConn) SetRoomID(roomID string) { c.room = roomID }

func (c *recorderConn) ofType(msgType string) []*types.OutboundMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*types.OutboundMessage
	for _, m := range c.msgs {
		if m.Type == msgType {
			out = append(out, m)
		}
	}
	return out
}

func (c *recorderConn) reset() {
	c.mu.Lock()
	c.msgs = nil
	c.mu.Unlock()
}

type connSet map[string]*recorderConn

func (s connSet) GetConnection(id string) (interfaces.Connection, bool) {
	c, ok := s[id]
	if !ok {
		return nil, false
	}
	return c, true
}

type memJournal struct{ events []types.ActivityEvent }

func (j *memJournal) Record(e types.ActivityEvent) { j.events = append(j.events, e) }

func (j *memJournal) kinds() []string {
	out := make([]string, len(j.events))
	for i, e := range j.events {
		out[i] = e.Kind
	}
	return out
}

type fixture struct {
	relay   *Relay
	rooms   *rooms.Registry
	log     *drawing.Log
	conns   connSet
	journal *memJournal
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		rooms:   rooms.NewRegistry(),
		log:     drawing.NewLog(),
		conns:   connSet{},
		journal: &memJournal{},
	}
	f.relay = New(f.rooms, f.log, f.conns, f.journal, DefaultOptions())
	return f
}

func (f *fixture) connect(id string) *recorderConn {
	c := &recorderConn{id: id}
	f.conns[id] = c
	return c
}

func (f *fixture) join(c *recorderConn, roomID string) {
	f.relay.HandleJoin(c, types.JoinRequest{RoomID: roomID})
}

func fullStroke(id string) *types.FullStroke {
	return &types.FullStroke{ID: id, Tool: types.ToolBrush, Color: "#111", Size: 4, Points: []types.Point{{X: 0, Y: 0}}}
}

func ackOf(t *testing.T, c *recorderConn) types.Ack {
	t.Helper()
	acks := c.ofType(types.MessageTypeOpAck)
	if len(acks) != 1 {
		t.Fatalf("Expected exactly 1 op-ack, got %d", len(acks))
	}
	return acks[0].Data.(types.Ack)
}

func TestHandleJoin_PublicRoom(t *testing.T) {
	f := newFixture(t)
	a := f.connect("a")
	b := f.connect("b")

	f.join(a, "r1")
	f.log.Merge("r1", fullStroke("s1"))
	a.reset()

	f.relay.HandleJoin(b, types.JoinRequest{RoomID: "r1", Name: "  Bob  ", Color: "#abcdef"})

	if b.GetRoomID() != "r1" {
		t.Errorf("Expected b in r1, got %q", b.GetRoomID())
	}

	inits := b.ofType(types.MessageTypeInitState)
	if len(inits) != 1 {
		t.Fatalf("Expected 1 init-state, got %d", len(inits))
	}
	state := inits[0].Data.(types.RoomState)
	if len(state.Ops) != 1 || state.Ops[0].ID != "s1" {
		t.Errorf("Expected snapshot with s1, got %+v", state.Ops)
	}
	if len(state.Users) != 2 {
		t.Errorf("Expected 2 users in init-state, got %d", len(state.Users))
	}

	if len(a.ofType(types.MessageTypeInitState)) != 0 {
		t.Error("init-state must go to the joiner only")
	}
	if len(a.ofType(types.MessageTypeUsers)) != 1 || len(b.ofType(types.MessageTypeUsers)) != 1 {
		t.Error("users must be broadcast to the whole room including the joiner")
	}

	members := f.rooms.Members("r1")
	if members[1].Name != "Bob" || members[1].Color != "#abcdef" {
		t.Errorf("Unexpected member record: %+v", members[1])
	}
}

func TestHandleJoin_DefaultsAndPalette(t *testing.T) {
	f := newFixture(t)
	c := f.connect("c")

	f.relay.HandleJoin(c, types.JoinRequest{Color: "url(javascript:x)"})

	if c.GetRoomID() != types.DefaultRoomID {
		t.Errorf("Expected default room, got %q", c.GetRoomID())
	}
	if got := f.rooms.Members(types.DefaultRoomID)[0].Color; got != f.rooms.ColorFor("c") {
		t.Errorf("Expected palette color, got %s", got)
	}

	// An empty room id keeps the current room
	f.join(c, "elsewhere")
	f.relay.HandleJoin(c, types.JoinRequest{})
	if c.GetRoomID() != "elsewhere" {
		t.Errorf("Expected to stay in elsewhere, got %q", c.GetRoomID())
	}
}

func TestHandleJoin_UnauthorizedPrivateRoom(t *testing.T) {
	f := newFixture(t)
	f.rooms.CreateRoomWithToken("secret", "T")
	c := f.connect("c")

	for _, token := range []string{"", "wrong"} {
		c.reset()
		f.relay.HandleJoin(c, types.JoinRequest{RoomID: "secret", Token: token})

		errs := c.ofType(types.MessageTypeJoinError)
		if len(errs) != 1 {
			t.Fatalf("token %q: expected 1 join-error, got %d", token, len(errs))
		}
		if msg := errs[0].Data.(types.JoinError).Message; msg != "Invalid token for this private room" {
			t.Errorf("Unexpected join-error message: %s", msg)
		}
		if len(c.ofType(types.MessageTypeInitState)) != 0 {
			t.Error("Rejected joiner must not receive a snapshot")
		}
		if f.rooms.MemberCount("secret") != 0 {
			t.Error("Rejected joiner must not be a member")
		}
		if c.GetRoomID() != "" {
			t.Errorf("Rejected joiner must stay unjoined, got %q", c.GetRoomID())
		}
	}

	c.reset()
	f.relay.HandleJoin(c, types.JoinRequest{RoomID: "secret", Token: "T"})
	if c.GetRoomID() != "secret" || len(c.ofType(types.MessageTypeInitState)) != 1 {
		t.Error("Correct token should be admitted")
	}
}

func TestHandleJoin_RejectedJoinKeepsCurrentRoom(t *testing.T) {
	f := newFixture(t)
	f.rooms.CreateRoomWithToken("secret", "T")
	c := f.connect("c")
	f.join(c, "lobby")

	f.relay.HandleJoin(c, types.JoinRequest{RoomID: "secret", Token: "nope"})

	if c.GetRoomID() != "lobby" || f.rooms.MemberCount("lobby") != 1 {
		t.Error("A rejected switch must leave the connection in its current room")
	}
}

func TestHandleJoin_InvalidRoomID(t *testing.T) {
	f := newFixture(t)
	c := f.connect("c")

	f.relay.HandleJoin(c, types.JoinRequest{RoomID: "has spaces"})

	if len(c.ofType(types.MessageTypeJoinError)) != 1 || c.GetRoomID() != "" {
		t.Error("Invalid room id should be rejected with join-error")
	}
}

func TestHandleJoin_SwitchRoomLeavesPrevious(t *testing.T) {
	f := newFixture(t)
	a := f.connect("a")
	b := f.connect("b")
	f.join(a, "r1")
	f.join(b, "r1")
	a.reset()

	f.join(b, "r2")

	if f.rooms.MemberCount("r1") != 1 {
		t.Errorf("Expected b removed from r1, got %d members", f.rooms.MemberCount("r1"))
	}
	users := a.ofType(types.MessageTypeUsers)
	if len(users) != 1 {
		t.Fatalf("Expected r1 to get a users update, got %d", len(users))
	}
	if list := users[0].Data.([]types.User); len(list) != 1 || list[0].ID != "a" {
		t.Errorf("Unexpected users list: %+v", list)
	}
}

func TestHandleDraw_RelaysToOthersAndAcks(t *testing.T) {
	f := newFixture(t)
	a := f.connect("a")
	b := f.connect("b")
	other := f.connect("other")
	f.join(a, "r1")
	f.join(b, "r1")
	f.join(other, "r2")

	f.relay.HandleDraw(a, fullStroke("s1"), "ack-1")

	if len(a.ofType(types.MessageTypeDraw)) != 0 {
		t.Error("Sender must not receive its own draw")
	}
	if len(other.ofType(types.MessageTypeDraw)) != 0 {
		t.Error("Draw leaked to another room")
	}
	draws := b.ofType(types.MessageTypeDraw)
	if len(draws) != 1 {
		t.Fatalf("Expected 1 relayed draw, got %d", len(draws))
	}
	relayed := draws[0].Data.(*types.FullStroke)
	if relayed.UserID != "a" {
		t.Errorf("Expected userId stamped as a, got %q", relayed.UserID)
	}

	ack := ackOf(t, a)
	if !ack.OK || ack.AckID != "ack-1" {
		t.Errorf("Unexpected ack: %+v", ack)
	}

	snap := f.log.Snapshot("r1")
	if len(snap) != 1 || snap[0].UserID != "a" {
		t.Errorf("Expected stamped op in log, got %+v", snap)
	}
}

func TestHandleDraw_NoAckWithoutAckID(t *testing.T) {
	f := newFixture(t)
	a := f.connect("a")
	f.join(a, "r1")

	f.relay.HandleDraw(a, fullStroke("s1"), "")

	if len(a.ofType(types.MessageTypeOpAck)) != 0 {
		t.Error("No ack expected without an ack id")
	}
}

func TestHandleDraw_Failures(t *testing.T) {
	t.Run("not joined", func(t *testing.T) {
		f := newFixture(t)
		c := f.connect("c")
		f.relay.HandleDraw(c, fullStroke("s1"), "1")
		if ack := ackOf(t, c); ack.OK || ack.Reason != types.AckReasonNotJoined {
			t.Errorf("Unexpected ack: %+v", ack)
		}
	})

	t.Run("nil fragment", func(t *testing.T) {
		f := newFixture(t)
		c := f.connect("c")
		f.join(c, "r1")
		f.relay.HandleDraw(c, nil, "1")
		if ack := ackOf(t, c); ack.OK || ack.Reason != types.AckReasonEmptyOp {
			t.Errorf("Unexpected ack: %+v", ack)
		}
	})

	t.Run("rate limited", func(t *testing.T) {
		f := newFixture(t)
		f.relay = New(f.rooms, f.log, f.conns, nil, Options{RateLimit: 2, RateWindow: time.Hour})
		c := f.connect("c")
		f.join(c, "r1")

		f.relay.HandleDraw(c, fullStroke("s1"), "")
		f.relay.HandleDraw(c, fullStroke("s2"), "")
		f.relay.HandleDraw(c, fullStroke("s3"), "3")

		if ack := ackOf(t, c); ack.OK || ack.Reason != types.AckReasonRateLimited {
			t.Errorf("Unexpected ack: %+v", ack)
		}
		if f.log.Contains("r1", "s3") {
			t.Error("Rate limited fragment must not be merged")
		}
	})
}

// panickingLog fails every merge with a runtime fault
type panickingLog struct{ *drawing.Log }

func (p panickingLog) Merge(roomID string, frag types.Fragment) error {
	var m map[string]int
	m["boom"] = 1
	return nil
}

func TestHandleDraw_FaultBecomesServerErrorAck(t *testing.T) {
	f := newFixture(t)
	f.relay = New(f.rooms, panickingLog{drawing.NewLog()}, f.conns, nil, DefaultOptions())
	a := f.connect("a")
	b := f.connect("b")
	f.join(a, "r1")
	f.join(b, "r1")

	f.relay.HandleDraw(a, fullStroke("s1"), "x")

	if ack := ackOf(t, a); ack.OK || ack.Reason != types.AckReasonServerError {
		t.Errorf("Unexpected ack: %+v", ack)
	}
	if len(b.ofType(types.MessageTypeDraw)) != 0 {
		t.Error("Faulted draw must not be relayed")
	}

	// The relay keeps serving afterwards
	f.relay.HandleRequestUsers(b)
	if len(b.ofType(types.MessageTypeUsers)) == 0 {
		t.Error("Relay stopped serving after a fault")
	}
}

func TestHandleCursor_RelayedNotStored(t *testing.T) {
	f := newFixture(t)
	a := f.connect("a")
	b := f.connect("b")
	f.join(a, "r1")
	f.join(b, "r1")

	f.relay.HandleCursor(a, types.CursorPosition{X: 10, Y: 20, UserID: "spoofed"})

	cursors := b.ofType(types.MessageTypeCursor)
	if len(cursors) != 1 {
		t.Fatalf("Expected 1 cursor, got %d", len(cursors))
	}
	pos := cursors[0].Data.(types.CursorPosition)
	if pos.UserID != "a" || pos.X != 10 || pos.Y != 20 {
		t.Errorf("Unexpected cursor: %+v", pos)
	}
	if len(a.ofType(types.MessageTypeCursor)) != 0 {
		t.Error("Cursor must not echo to the sender")
	}
	if f.log.Stats("r1").Operations != 0 {
		t.Error("Cursor must never reach the drawing log")
	}
}

func TestHandleUndoRedo_BroadcastToWholeRoom(t *testing.T) {
	f := newFixture(t)
	a := f.connect("a")
	b := f.connect("b")
	f.join(a, "r1")
	f.join(b, "r1")
	f.relay.HandleDraw(b, fullStroke("s1"), "")

	f.relay.HandleUndo(a)
	for _, c := range []*recorderConn{a, b} {
		msgs := c.ofType(types.MessageTypeUndoRedo)
		if len(msgs) != 1 {
			t.Fatalf("%s: expected 1 undo-redo, got %d", c.id, len(msgs))
		}
		if got := msgs[0].Data.(types.UndoRedo); got.Type != "undo" || got.OpID != "s1" {
			t.Errorf("Unexpected undo-redo: %+v", got)
		}
	}

	f.relay.HandleRedo(b)
	if got := a.ofType(types.MessageTypeUndoRedo); len(got) != 2 || got[1].Data.(types.UndoRedo).Type != "redo" {
		t.Error("Expected redo broadcast")
	}

	// Nothing left to redo: no broadcast
	f.relay.HandleRedo(a)
	if len(a.ofType(types.MessageTypeUndoRedo)) != 2 {
		t.Error("A no-op redo must not broadcast")
	}
}

func TestHandleUndo_UnjoinedIsIgnored(t *testing.T) {
	f := newFixture(t)
	c := f.connect("c")
	f.log.Merge(types.DefaultRoomID, fullStroke("s1"))

	f.relay.HandleUndo(c)

	if f.log.Stats(types.DefaultRoomID).Deleted != 0 {
		t.Error("Unjoined undo must not touch any room")
	}
}

func TestHandleRequestUsersAndState(t *testing.T) {
	f := newFixture(t)
	a := f.connect("a")

	f.relay.HandleRequestUsers(a)
	if got := a.ofType(types.MessageTypeUsers); len(got) != 1 || len(got[0].Data.([]types.User)) != 0 {
		t.Error("Unjoined request-users should return an empty list")
	}
	f.relay.HandleRequestState(a)
	if len(a.ofType(types.MessageTypeError)) != 1 {
		t.Error("Unjoined request-state should return an error")
	}

	f.join(a, "r1")
	f.relay.HandleDraw(a, fullStroke("s1"), "")
	a.reset()

	f.relay.HandleRequestState(a)
	states := a.ofType(types.MessageTypeFullState)
	if len(states) != 1 {
		t.Fatalf("Expected 1 full-state, got %d", len(states))
	}
	state := states[0].Data.(types.RoomState)
	if len(state.Ops) != 1 || len(state.Users) != 1 {
		t.Errorf("Unexpected full-state: %+v", state)
	}
}

func TestHandleDisconnect(t *testing.T) {
	f := newFixture(t)
	a := f.connect("a")
	b := f.connect("b")
	f.join(a, "r1")
	f.join(b, "r1")
	f.relay.HandleDraw(b, fullStroke("s1"), "")
	f.relay.HandleCursor(b, types.CursorPosition{})
	a.reset()

	f.relay.HandleDisconnect(b, "transport close")
	delete(f.conns, "b")

	if f.rooms.MemberCount("r1") != 1 {
		t.Error("Disconnect must remove membership")
	}
	users := a.ofType(types.MessageTypeUsers)
	if len(users) != 1 || len(users[0].Data.([]types.User)) != 1 {
		t.Error("Remaining members must receive the updated list")
	}
	if !f.log.Contains("r1", "s1") {
		t.Error("Strokes of a departed user stay in the log")
	}
	if f.relay.drawLimiter.Tracked() != 0 || f.relay.cursorLimiter.Tracked() != 0 {
		t.Error("Limiter state must be released on disconnect")
	}

	// Disconnect of an unjoined connection is harmless
	f.relay.HandleDisconnect(f.connect("z"), "bye")
}

func TestDispatch(t *testing.T) {
	f := newFixture(t)
	a := f.connect("a")
	b := f.connect("b")

	dispatch := func(c *recorderConn, raw string) {
		t.Helper()
		env, err := types.DecodeEnvelope([]byte(raw))
		if err != nil {
			t.Fatalf("DecodeEnvelope(%s): %v", raw, err)
		}
		f.relay.Dispatch(c, env)
	}

	dispatch(a, `{"type":"join-room","data":{"roomId":"r1"}}`)
	dispatch(b, `{"type":"join-room"}`)
	if a.GetRoomID() != "r1" || b.GetRoomID() != types.DefaultRoomID {
		t.Fatalf("Unexpected rooms: a=%q b=%q", a.GetRoomID(), b.GetRoomID())
	}
	dispatch(b, `{"type":"join-room","data":{"roomId":"r1"}}`)

	dispatch(a, `{"type":"draw","data":{"id":"s1","tool":"brush","color":"#111","size":4,"points":[{"x":0,"y":0}]},"ackId":"1"}`)
	dispatch(a, `{"type":"draw","data":{"id":"s1","points":[{"x":5,"y":5}]},"ackId":"2"}`)
	dispatch(a, `{"type":"draw","data":null,"ackId":"3"}`)

	acks := a.ofType(types.MessageTypeOpAck)
	if len(acks) != 3 {
		t.Fatalf("Expected 3 acks, got %d", len(acks))
	}
	if !acks[0].Data.(types.Ack).OK || !acks[1].Data.(types.Ack).OK {
		t.Error("Expected first two draws acknowledged")
	}
	if last := acks[2].Data.(types.Ack); last.OK || last.Reason != types.AckReasonEmptyOp {
		t.Errorf("Expected empty_op failure, got %+v", last)
	}

	draws := b.ofType(types.MessageTypeDraw)
	if len(draws) != 2 {
		t.Fatalf("Expected 2 relayed draws, got %d", len(draws))
	}
	if _, ok := draws[1].Data.(*types.AppendFragment); !ok {
		t.Errorf("Expected relayed append fragment, got %T", draws[1].Data)
	}
	if got := len(f.log.Snapshot("r1")[0].Points); got != 2 {
		t.Errorf("Expected 2 merged points, got %d", got)
	}

	dispatch(a, `{"type":"draw","data":{"id":"s2","tool":"laser","size":20,"points":[{"x":1,"y":1}]},"ackId":"4"}`)
	acks = a.ofType(types.MessageTypeOpAck)
	if last := acks[len(acks)-1].Data.(types.Ack); last.AckID != "4" || last.OK || last.Reason != types.AckReasonEmptyOp {
		t.Errorf("Expected empty_op failure for invalid style, got %+v", last)
	}
	if f.log.Contains("r1", "s2") {
		t.Error("Rejected fragment must not be merged")
	}

	dispatch(b, `{"type":"cursor","data":{"x":1,"y":2}}`)
	if len(a.ofType(types.MessageTypeCursor)) != 1 {
		t.Error("Expected cursor relayed")
	}

	dispatch(b, `{"type":"undo"}`)
	dispatch(b, `{"type":"redo","data":{}}`)
	if len(a.ofType(types.MessageTypeUndoRedo)) != 2 {
		t.Error("Expected undo and redo broadcasts")
	}

	dispatch(a, `{"type":"request-users"}`)
	dispatch(a, `{"type":"request-state"}`)
	if len(a.ofType(types.MessageTypeFullState)) != 1 {
		t.Error("Expected full-state reply")
	}

	dispatch(a, `{"type":"teleport"}`)
	if len(a.ofType(types.MessageTypeError)) != 1 {
		t.Error("Expected error reply for unknown type")
	}

	// Wire shape of a relayed draw
	data, err := json.Marshal(draws[1])
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	var wire struct {
		Type string `json:"type"`
		Data struct {
			ID     string `json:"id"`
			UserID string `json:"userId"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if wire.Type != "draw" || wire.Data.ID != "s1" || wire.Data.UserID != "a" {
		t.Errorf("Unexpected wire shape: %s", data)
	}
}

func TestJournalEvents(t *testing.T) {
	f := newFixture(t)
	f.rooms.CreateRoomWithToken("secret", "T")
	a := f.connect("a")

	f.relay.HandleJoin(a, types.JoinRequest{RoomID: "secret"})
	f.relay.HandleJoin(a, types.JoinRequest{RoomID: "secret", Token: "T"})
	f.relay.HandleDraw(a, fullStroke("s1"), "")
	f.relay.HandleDraw(a, &types.AppendFragment{ID: "s1"}, "")
	f.relay.HandleUndo(a)
	f.relay.HandleRedo(a)
	f.relay.HandleDisconnect(a, "bye")

	want := []string{
		types.ActivityJoinRejected,
		types.ActivityMemberJoined,
		types.ActivityStrokeStarted,
		types.ActivityUndo,
		types.ActivityRedo,
		types.ActivityMemberLeft,
	}
	got := f.journal.kinds()
	if len(got) != len(want) {
		t.Fatalf("Expected events %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Event %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}
