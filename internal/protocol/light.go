package protocol

import (
	"encoding/binary"

	"github.com/danmuck/capipc/internal/result"
)

// LightResponseHeaderSize is the result word that leads a light response.
const LightResponseHeaderSize = 4

// EncodeLightRequest frames a light-format request for command.
func EncodeLightRequest(command uint32, args []byte) []byte {
	return EncodeMessage(LightTag(command), args)
}

// EncodeLightResponse builds the raw section of a light response.
func EncodeLightResponse(code result.Code, payload []byte) []byte {
	buf := make([]byte, LightResponseHeaderSize+len(payload))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(code))
	copy(buf[LightResponseHeaderSize:], payload)
	return buf
}

// DecodeLightResponse splits a light response raw section.
func DecodeLightResponse(raw []byte) (result.Code, []byte, error) {
	if len(raw) < LightResponseHeaderSize {
		return 0, nil, ErrTruncated
	}
	return result.Code(binary.LittleEndian.Uint32(raw[0:4])), raw[LightResponseHeaderSize:], nil
}
