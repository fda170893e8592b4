package relay

import "errors"

// Relay error types
var (
	ErrNotJoined         = errors.New("connection has not joined a room")
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrUnknownMessage    = errors.New("unknown message type")
)

// Human-readable join-error messages
const (
	joinErrorInvalidToken  = "Invalid token for this private room"
	joinErrorInvalidRoomID = "Invalid room id"
	joinErrorMalformed     = "Malformed join request"
	joinErrorInternal      = "internal_server_error"
)
