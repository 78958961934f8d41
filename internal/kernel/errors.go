package kernel

import "errors"

var (
	ErrSessionClosed   = errors.New("kernel: session closed")
	ErrPortClosed      = errors.New("kernel: port closed")
	ErrMaxSessions     = errors.New("kernel: port session limit reached")
	ErrMessageTooLarge = errors.New("kernel: message exceeds buffer capacity")
	ErrNoPendingReply  = errors.New("kernel: no request awaiting reply")
	ErrInvalidHandle   = errors.New("kernel: invalid handle")
	ErrOutOfHandles    = errors.New("kernel: handle table full")
)
