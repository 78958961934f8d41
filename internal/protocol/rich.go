package protocol

import (
	"encoding/binary"

	"github.com/danmuck/capipc/internal/result"
)

const (
	// InMagic is "SFCI" read little-endian.
	InMagic uint32 = 0x49434653
	// OutMagic is "SFCO" read little-endian.
	OutMagic uint32 = 0x4f434653

	// MaxVersion is the newest rich header version accepted.
	MaxVersion uint32 = 1

	RichInHeaderSize  = 16
	RichOutHeaderSize = 8
)

// RichInHeader leads every rich-format request body.
type RichInHeader struct {
	Magic   uint32
	Version uint32
	Command uint32
	Token   uint32
}

// RichOutHeader leads every rich-format response body.
type RichOutHeader struct {
	Magic  uint32
	Result result.Code
}

// EncodeRichBody builds the rich header plus arguments.
func EncodeRichBody(command uint32, args []byte) []byte {
	buf := make([]byte, RichInHeaderSize+len(args))
	binary.LittleEndian.PutUint32(buf[0:4], InMagic)
	binary.LittleEndian.PutUint32(buf[4:8], 0)
	binary.LittleEndian.PutUint32(buf[8:12], command)
	copy(buf[RichInHeaderSize:], args)
	return buf
}

// ParseRichBody validates the rich header and returns the arguments.
func ParseRichBody(body []byte) (RichInHeader, []byte, error) {
	if len(body) < RichInHeaderSize {
		return RichInHeader{}, nil, ErrTruncated
	}
	h := RichInHeader{
		Magic:   binary.LittleEndian.Uint32(body[0:4]),
		Version: binary.LittleEndian.Uint32(body[4:8]),
		Command: binary.LittleEndian.Uint32(body[8:12]),
		Token:   binary.LittleEndian.Uint32(body[12:16]),
	}
	if h.Magic != InMagic {
		return RichInHeader{}, nil, ErrInvalidMagic
	}
	if h.Version > MaxVersion {
		return RichInHeader{}, nil, ErrUnsupportedVersion
	}
	return h, body[RichInHeaderSize:], nil
}

// EncodeRichResponse builds a plain-session rich response raw section.
func EncodeRichResponse(code result.Code, payload []byte) []byte {
	buf := make([]byte, RichOutHeaderSize+len(payload))
	putRichOut(buf, code)
	copy(buf[RichOutHeaderSize:], payload)
	return buf
}

// DecodeRichResponse splits a plain-session rich response raw section.
func DecodeRichResponse(raw []byte) (RichOutHeader, []byte, error) {
	h, err := readRichOut(raw)
	if err != nil {
		return RichOutHeader{}, nil, err
	}
	return h, raw[RichOutHeaderSize:], nil
}

func putRichOut(buf []byte, code result.Code) {
	binary.LittleEndian.PutUint32(buf[0:4], OutMagic)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(code))
}

func readRichOut(raw []byte) (RichOutHeader, error) {
	if len(raw) < RichOutHeaderSize {
		return RichOutHeader{}, ErrTruncated
	}
	h := RichOutHeader{
		Magic:  binary.LittleEndian.Uint32(raw[0:4]),
		Result: result.Code(binary.LittleEndian.Uint32(raw[4:8])),
	}
	if h.Magic != OutMagic {
		return RichOutHeader{}, ErrInvalidMagic
	}
	return h, nil
}
