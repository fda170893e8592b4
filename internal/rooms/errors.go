package rooms

import "errors"

// Room registry error types
var (
	ErrInvalidToken   = errors.New("invalid token for this private room")
	ErrRoomIDConflict = errors.New("could not generate an unused room id")
)
