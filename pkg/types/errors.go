package types

import "errors"

// ARCHITECTURAL DISCOVERY: Specific error types let the relay map every
// malformed payload to an ack reason without string matching
var (
	ErrEmptyFragment   = errors.New("draw payload is empty")
	ErrInvalidFragment = errors.New("draw payload is not a stroke fragment")
	ErrInvalidStrokeID = errors.New("stroke id must be 1-128 bytes of UTF-8")
	ErrMissingPoints   = errors.New("stroke fragment must carry a points array")
	ErrInvalidPoints   = errors.New("stroke points must be finite {x, y} pairs")
	ErrTooManyPoints   = errors.New("stroke fragment exceeds 10000 points")
	ErrInvalidTool     = errors.New("tool must be brush or eraser")
	ErrInvalidColor    = errors.New("color must be 1-32 characters")
	ErrInvalidSize     = errors.New("size must be positive and at most 512")
	ErrInvalidCursor   = errors.New("cursor position must be finite")
	ErrInvalidRoomID   = errors.New("room id must be 1-128 characters, alphanumeric + underscore/hyphen")
	ErrInvalidEnvelope = errors.New("message must be a JSON object with a type")
)
