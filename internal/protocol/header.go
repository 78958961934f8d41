package protocol

import "encoding/binary"

// HeaderSize is the outer header: tag u16, reserved u16, raw size u32.
const HeaderSize = 8

// MessageType is the outer header tag.
type MessageType uint16

const (
	MessageInvalid            MessageType = 0
	MessageLegacyRequest      MessageType = 1
	MessageClose              MessageType = 2
	MessageLegacyControl      MessageType = 3
	MessageRequest            MessageType = 4
	MessageControl            MessageType = 5
	MessageRequestWithContext MessageType = 6
	MessageControlWithContext MessageType = 7

	// LightBase is the first light-format tag; command id = tag - LightBase.
	LightBase MessageType = 16
)

func (t MessageType) IsLight() bool {
	return t >= LightBase
}

func (t MessageType) IsRequest() bool {
	return t == MessageRequest || t == MessageRequestWithContext || t == MessageLegacyRequest
}

func (t MessageType) IsControl() bool {
	return t == MessageControl || t == MessageControlWithContext || t == MessageLegacyControl
}

// LightCommand returns the command id carried by a light-format tag.
func (t MessageType) LightCommand() uint32 {
	return uint32(t - LightBase)
}

// LightTag returns the tag that carries light-format command id.
func LightTag(command uint32) MessageType {
	return LightBase + MessageType(command)
}

// Header is the outer message header.
type Header struct {
	Type MessageType
	Size uint32
}

// EncodeMessage frames raw behind an outer header.
func EncodeMessage(t MessageType, raw []byte) []byte {
	buf := make([]byte, HeaderSize+len(raw))
	binary.LittleEndian.PutUint16(buf[0:2], uint16(t))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(raw)))
	copy(buf[HeaderSize:], raw)
	return buf
}

// DecodeMessage splits data into its outer header and raw section.
func DecodeMessage(data []byte) (Header, []byte, error) {
	if len(data) < HeaderSize {
		return Header{}, nil, ErrTruncated
	}
	h := Header{
		Type: MessageType(binary.LittleEndian.Uint16(data[0:2])),
		Size: binary.LittleEndian.Uint32(data[4:8]),
	}
	if uint64(h.Size) > uint64(len(data)-HeaderSize) {
		return Header{}, nil, ErrTruncated
	}
	if h.Type == MessageInvalid {
		return Header{}, nil, ErrUnknownMessageType
	}
	return h, data[HeaderSize : HeaderSize+int(h.Size)], nil
}
