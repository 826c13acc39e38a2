package reconcile

import "errors"

var (
	ErrArmed    = errors.New("engine already armed")
	ErrNotArmed = errors.New("engine not armed")
	ErrClosed   = errors.New("engine closed")
)
