package signal

import "errors"

var (
	ErrServerClosed         = errors.New("signal server is closed")
	ErrServerAlreadyRunning = errors.New("signal server is already running")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrInvalidToken         = errors.New("invalid room token")
	ErrTopicForbidden       = errors.New("topic not allowed by token")
)
