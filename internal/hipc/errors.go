package hipc

import "errors"

var (
	ErrNilObject         = errors.New("hipc: nil service object")
	ErrForeignCommandSet = errors.New("hipc: command set declared for a different type")
	ErrNotDomain         = errors.New("hipc: session is not a domain")
	ErrDomainFull        = errors.New("hipc: domain object table full")
	ErrSessionClosed     = errors.New("hipc: session closed")
	ErrUnknownCommand    = errors.New("hipc: unknown command id")
	ErrEmptyOutputHeader = errors.New("hipc: handler succeeded without an output header")
	ErrCloseRequested    = errors.New("hipc: close requested")
	ErrNotDomainClient   = errors.New("hipc: client is not in domain mode")
)
