package protocol

import (
	"encoding/binary"

	"github.com/danmuck/capipc/internal/result"
)

// DomainCommand is the subcommand byte of a domain in-header.
type DomainCommand uint8

const (
	DomainSendMessage DomainCommand = 1
	DomainClose       DomainCommand = 2
)

const (
	DomainInHeaderSize  = 16
	DomainOutHeaderSize = 16

	maxDomainPayload = 0xffff
	maxDomainObjects = 0xff
)

// DomainInHeader precedes the rich body when the session is a domain.
// Word 0 packs command:8 | input_count:8 | payload_size:16.
type DomainInHeader struct {
	Command     DomainCommand
	InputCount  uint8
	PayloadSize uint16
	ObjectID    uint32
}

func (h DomainInHeader) packed() uint32 {
	return uint32(h.Command) | uint32(h.InputCount)<<8 | uint32(h.PayloadSize)<<16
}

func unpackDomainWord(w uint32) (DomainCommand, uint8, uint16) {
	return DomainCommand(w & 0xff), uint8(w >> 8 & 0xff), uint16(w >> 16)
}

// EncodeDomainRequest builds a domain request raw section: sub-header, body,
// then the input object ids placed after PayloadSize bytes of body.
func EncodeDomainRequest(cmd DomainCommand, target uint32, body []byte, inObjects []uint32) ([]byte, error) {
	if len(body) > maxDomainPayload {
		return nil, ErrPayloadTooLarge
	}
	if len(inObjects) > maxDomainObjects {
		return nil, ErrInvalidLength
	}
	h := DomainInHeader{
		Command:     cmd,
		InputCount:  uint8(len(inObjects)),
		PayloadSize: uint16(len(body)),
		ObjectID:    target,
	}
	buf := make([]byte, DomainInHeaderSize+len(body)+4*len(inObjects))
	binary.LittleEndian.PutUint32(buf[0:4], h.packed())
	binary.LittleEndian.PutUint32(buf[4:8], h.ObjectID)
	copy(buf[DomainInHeaderSize:], body)
	off := DomainInHeaderSize + len(body)
	for _, id := range inObjects {
		binary.LittleEndian.PutUint32(buf[off:off+4], id)
		off += 4
	}
	return buf, nil
}

// ParseDomainRequest reads the domain sub-header, seeks past PayloadSize
// bytes to collect the input object ids, and returns the body that starts
// right after the sub-header.
func ParseDomainRequest(raw []byte) (DomainInHeader, []byte, []uint32, error) {
	if len(raw) < DomainInHeaderSize {
		return DomainInHeader{}, nil, nil, ErrTruncated
	}
	cmd, count, size := unpackDomainWord(binary.LittleEndian.Uint32(raw[0:4]))
	h := DomainInHeader{
		Command:     cmd,
		InputCount:  count,
		PayloadSize: size,
		ObjectID:    binary.LittleEndian.Uint32(raw[4:8]),
	}
	idsAt := DomainInHeaderSize + int(size)
	end := idsAt + 4*int(count)
	if end > len(raw) {
		return DomainInHeader{}, nil, nil, ErrTruncated
	}
	ids := make([]uint32, 0, count)
	for off := idsAt; off < end; off += 4 {
		ids = append(ids, binary.LittleEndian.Uint32(raw[off:off+4]))
	}
	return h, raw[DomainInHeaderSize:idsAt], ids, nil
}

// EncodeDomainResponse lays out out-header(count), rich out-header, payload,
// then the output object ids.
func EncodeDomainResponse(code result.Code, payload []byte, outObjects []uint32) []byte {
	buf := make([]byte, DomainOutHeaderSize+RichOutHeaderSize+len(payload)+4*len(outObjects))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(outObjects)))
	putRichOut(buf[DomainOutHeaderSize:], code)
	off := DomainOutHeaderSize + RichOutHeaderSize
	copy(buf[off:], payload)
	off += len(payload)
	for _, id := range outObjects {
		binary.LittleEndian.PutUint32(buf[off:off+4], id)
		off += 4
	}
	return buf
}

// DomainCloseResponse is the all-zero reply to a domain close.
func DomainCloseResponse() []byte {
	return make([]byte, DomainOutHeaderSize+RichOutHeaderSize)
}

// DecodeDomainResponse splits a domain response raw section. An all-zero
// close reply decodes as success with no payload.
func DecodeDomainResponse(raw []byte) (RichOutHeader, []byte, []uint32, error) {
	if len(raw) < DomainOutHeaderSize+RichOutHeaderSize {
		return RichOutHeader{}, nil, nil, ErrTruncated
	}
	count := int(binary.LittleEndian.Uint32(raw[0:4]))
	rest := raw[DomainOutHeaderSize:]
	if binary.LittleEndian.Uint32(rest[0:4]) == 0 && count == 0 && allZero(rest) {
		return RichOutHeader{Result: result.Success}, nil, nil, nil
	}
	h, err := readRichOut(rest)
	if err != nil {
		return RichOutHeader{}, nil, nil, err
	}
	body := rest[RichOutHeaderSize:]
	if 4*count > len(body) {
		return RichOutHeader{}, nil, nil, ErrTruncated
	}
	split := len(body) - 4*count
	ids := make([]uint32, 0, count)
	for off := split; off < len(body); off += 4 {
		ids = append(ids, binary.LittleEndian.Uint32(body[off:off+4]))
	}
	return h, body[:split], ids, nil
}

func allZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
