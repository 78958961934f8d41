package kernel

// DefaultBufferCapacity is the message buffer size used when a channel is
// created with capacity <= 0.
const DefaultBufferCapacity = 0x100

// Message is one request or response buffer. Copy and Move carry the
// capabilities transferred alongside the bytes; the receiver decides which
// handle table they land in.
type Message struct {
	Data []byte
	Copy []any
	Move []any
}

func checkCapacity(msg Message, capacity int) error {
	if len(msg.Data) > capacity {
		return ErrMessageTooLarge
	}
	return nil
}
