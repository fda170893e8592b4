package hub

import "errors"

// Hub error types
var (
	ErrHubAlreadyRunning  = errors.New("hub is already running")
	ErrHubNotRunning      = errors.New("hub is not running")
	ErrMessageChannelFull = errors.New("message channel is full")
	ErrNilConnection      = errors.New("connection is nil")
	ErrNilEnvelope        = errors.New("envelope is nil")
)
