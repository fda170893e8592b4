package drawing

import "errors"

var (
	ErrInvalidFragment = errors.New("fragment is nil or has no stroke id")
	ErrUnknownFragment = errors.New("unknown fragment kind")
)
