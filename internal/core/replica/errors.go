package replica

import "errors"

var (
	ErrDestroyed    = errors.New("document destroyed")
	ErrOutOfRange   = errors.New("index out of range")
	ErrKindMismatch = errors.New("container kind mismatch")
	ErrTxnDone      = errors.New("transaction already finished")
	ErrMalformedOp  = errors.New("malformed operation")
)
