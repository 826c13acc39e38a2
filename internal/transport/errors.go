package transport

import "errors"

var (
	ErrClosed         = errors.New("transport closed")
	ErrNotConnected   = errors.New("not connected")
	ErrAlreadyStarted = errors.New("provider already started")
	ErrInvalidFrame   = errors.New("invalid frame")
	ErrUnknownRelay   = errors.New("unknown relay kind")
)
