package types

import (
	"encoding/json"
	"time"
)

// Wire message names. Inbound (client to server) and outbound names share
// one namespace; "draw" and "cursor" travel in both directions.
const (
	MessageTypeJoinRoom     = "join-room"
	MessageTypeInitState    = "init-state"
	MessageTypeJoinError    = "join-error"
	MessageTypeDraw         = "draw"
	MessageTypeCursor       = "cursor"
	MessageTypeUndo         = "undo"
	MessageTypeRedo         = "redo"
	MessageTypeUndoRedo     = "undo-redo"
	MessageTypeUsers        = "users"
	MessageTypeRequestUsers = "request-users"
	MessageTypeRequestState = "request-state"
	MessageTypeFullState    = "full-state"
	MessageTypeOpAck        = "op-ack"
	MessageTypeError        = "error"
)

// DefaultRoomID is used when a client joins without naming a room.
const DefaultRoomID = "default"

// Tool selects how a stroke is rendered.
type Tool string

const (
	ToolBrush  Tool = "brush"
	ToolEraser Tool = "eraser"
)

// Defaults applied to a stroke first seen through a point-append fragment.
const (
	DefaultTool  = ToolBrush
	DefaultColor = "#000"
	DefaultSize  = 4.0
)

// Point is one sampled pointer position. T is the client timestamp in
// milliseconds, possibly fractional, and zero when the client omits it.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	T float64 `json:"t,omitempty"`
}

// StrokeOperation is one entry of a room's drawing log.
type StrokeOperation struct {
	ID      string  `json:"id"`
	UserID  string  `json:"userId,omitempty"`
	Tool    Tool    `json:"tool"`
	Color   string  `json:"color"`
	Size    float64 `json:"size"`
	Points  []Point `json:"points"`
	Deleted bool    `json:"deleted"`
}

// Clone returns a deep copy; the points slice is never shared.
func (op *StrokeOperation) Clone() StrokeOperation {
	c := *op
	c.Points = make([]Point, len(op.Points))
	copy(c.Points, op.Points)
	return c
}

// User is the presence record of one joined connection.
type User struct {
	ID    string `json:"id"`
	Color string `json:"color"`
	Name  string `json:"name"`
}

// RoomMeta is the access-control metadata of a room.
type RoomMeta struct {
	Private bool      `json:"private"`
	Token   string    `json:"-"`
	Created time.Time `json:"created"`
}

// UndoRedo describes one change made by an undo or redo command.
type UndoRedo struct {
	Type string `json:"type"`
	OpID string `json:"opId"`
}

// Envelope is the client-to-server frame. AckID is set when the sender
// wants an op-ack for this message.
type Envelope struct {
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data,omitempty"`
	AckID string          `json:"ackId,omitempty"`
}

// OutboundMessage is the server-to-client frame.
type OutboundMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// JoinRequest is the payload of join-room.
type JoinRequest struct {
	RoomID string `json:"roomId"`
	Token  string `json:"token,omitempty"`
	Name   string `json:"name,omitempty"`
	Color  string `json:"color,omitempty"`
}

// JoinError is the payload of join-error.
type JoinError struct {
	Message string `json:"message"`
}

// RoomState is the payload of init-state and full-state.
type RoomState struct {
	Ops   []StrokeOperation `json:"ops"`
	Users []User            `json:"users"`
}

// CursorPosition is the payload of cursor. UserID is only set on the
// relayed copy.
type CursorPosition struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	UserID string  `json:"userId,omitempty"`
}

// Ack is the payload of op-ack.
type Ack struct {
	AckID  string `json:"ackId"`
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

// Ack failure reasons.
const (
	AckReasonEmptyOp     = "empty_op"
	AckReasonNotJoined   = "not_joined"
	AckReasonRateLimited = "rate_limited"
	AckReasonBusy        = "busy"
	AckReasonServerError = "server_error"
)

// Activity kinds written to the journal.
const (
	ActivityRoomCreated   = "room_created"
	ActivityMemberJoined  = "member_joined"
	ActivityMemberLeft    = "member_left"
	ActivityJoinRejected  = "join_rejected"
	ActivityStrokeStarted = "stroke_started"
	ActivityUndo          = "undo"
	ActivityRedo          = "redo"
)

// ActivityEvent is one journal entry. Detail is free text (stroke id,
// rejection reason, display name).
type ActivityEvent struct {
	ID     int64     `json:"id,omitempty"`
	RoomID string    `json:"roomId"`
	Kind   string    `json:"kind"`
	ConnID string    `json:"connId,omitempty"`
	Detail string    `json:"detail,omitempty"`
	At     time.Time `json:"at"`
}

// ErrorPayload is the payload of error.
type ErrorPayload struct {
	Message string `json:"message"`
}
