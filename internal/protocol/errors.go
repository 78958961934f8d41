package protocol

import "errors"

var (
	ErrInvalidMagic       = errors.New("protocol: invalid magic")
	ErrUnsupportedVersion = errors.New("protocol: unsupported version")
	ErrTruncated          = errors.New("protocol: truncated data")
	ErrInvalidLength      = errors.New("protocol: invalid length")
	ErrUnknownMessageType = errors.New("protocol: unknown message type")
	ErrPayloadTooLarge    = errors.New("protocol: payload too large")
	ErrNameTooLong        = errors.New("protocol: name too long")
)
