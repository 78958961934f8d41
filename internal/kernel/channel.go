package kernel

import (
	"context"
	"sync"
)

type exchange struct {
	req   Message
	reply chan reply
}

type reply struct {
	msg Message
	err error
}

type channel struct {
	capacity  int
	requests  chan *exchange
	done      chan struct{}
	closeOnce sync.Once
	onClose   func()
}

func (c *channel) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.onClose != nil {
			c.onClose()
		}
	})
}

// ServerSession is the receiving end of a channel.
type ServerSession struct {
	ch      *channel
	mu      sync.Mutex
	current *exchange
}

// ClientSession is the sending end of a channel.
type ClientSession struct {
	ch *channel
}

// CreateChannel returns both ends of a fresh channel whose messages may not
// exceed capacity bytes.
func CreateChannel(capacity int) (*ServerSession, *ClientSession) {
	if capacity <= 0 {
		capacity = DefaultBufferCapacity
	}
	ch := &channel{
		capacity: capacity,
		requests: make(chan *exchange),
		done:     make(chan struct{}),
	}
	return &ServerSession{ch: ch}, &ClientSession{ch: ch}
}

// SendSync delivers msg and blocks until the server replies or either end
// closes. Concurrent callers are served one at a time in arrival order.
func (c *ClientSession) SendSync(ctx context.Context, msg Message) (Message, error) {
	if err := checkCapacity(msg, c.ch.capacity); err != nil {
		return Message{}, err
	}
	ex := &exchange{req: msg, reply: make(chan reply, 1)}
	select {
	case c.ch.requests <- ex:
	case <-c.ch.done:
		return Message{}, ErrSessionClosed
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
	select {
	case r := <-ex.reply:
		return r.msg, r.err
	case <-c.ch.done:
		return Message{}, ErrSessionClosed
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

func (c *ClientSession) Capacity() int {
	return c.ch.capacity
}

func (c *ClientSession) Close() error {
	c.ch.close()
	return nil
}

func (c *ClientSession) Closed() <-chan struct{} {
	return c.ch.done
}

// Receive blocks for the next request. The previous request must have been
// replied to first.
func (s *ServerSession) Receive(ctx context.Context) (Message, error) {
	select {
	case ex := <-s.ch.requests:
		s.mu.Lock()
		s.current = ex
		s.mu.Unlock()
		return ex.req, nil
	case <-s.ch.done:
		return Message{}, ErrSessionClosed
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

// Reply answers the request returned by the last Receive.
func (s *ServerSession) Reply(msg Message) error {
	return s.finish(reply{msg: msg})
}

// Reject fails the pending request with a transport-level error.
func (s *ServerSession) Reject(err error) error {
	return s.finish(reply{err: err})
}

func (s *ServerSession) finish(r reply) error {
	if r.err == nil {
		if err := checkCapacity(r.msg, s.ch.capacity); err != nil {
			return err
		}
	}
	s.mu.Lock()
	ex := s.current
	s.current = nil
	s.mu.Unlock()
	if ex == nil {
		return ErrNoPendingReply
	}
	ex.reply <- r
	return nil
}

func (s *ServerSession) Capacity() int {
	return s.ch.capacity
}

func (s *ServerSession) Close() error {
	s.ch.close()
	return nil
}

func (s *ServerSession) Closed() <-chan struct{} {
	return s.ch.done
}
