package kernel

import (
	"context"
	"sync"
)

const defaultPortBacklog = 64

// Port is a named endpoint that queues new server sessions until the owning
// service accepts them.
type Port struct {
	name        string
	isLight     bool
	maxSessions int
	capacity    int

	mu      sync.Mutex
	active  int
	closed  bool
	pending chan *ServerSession
	done    chan struct{}
}

// NewPort creates a port. maxSessions <= 0 means unlimited.
func NewPort(name string, isLight bool, maxSessions, capacity int) *Port {
	backlog := maxSessions
	if backlog <= 0 {
		backlog = defaultPortBacklog
	}
	return &Port{
		name:        name,
		isLight:     isLight,
		maxSessions: maxSessions,
		capacity:    capacity,
		pending:     make(chan *ServerSession, backlog),
		done:        make(chan struct{}),
	}
}

func (p *Port) Name() string     { return p.name }
func (p *Port) IsLight() bool    { return p.isLight }
func (p *Port) MaxSessions() int { return p.maxSessions }

// ActiveSessions counts sessions created through this port that are still open.
func (p *Port) ActiveSessions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// Connect enqueues a new session for the owner and returns its client end
// without waiting for acceptance.
func (p *Port) Connect() (*ClientSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrPortClosed
	}
	if p.maxSessions > 0 && p.active >= p.maxSessions {
		return nil, ErrMaxSessions
	}
	srv, cli := CreateChannel(p.capacity)
	srv.ch.onClose = p.release
	select {
	case p.pending <- srv:
	default:
		return nil, ErrMaxSessions
	}
	p.active++
	return cli, nil
}

// Accept blocks until a session is queued, the port closes, or ctx ends.
func (p *Port) Accept(ctx context.Context) (*ServerSession, error) {
	select {
	case srv := <-p.pending:
		return srv, nil
	case <-p.done:
		return nil, ErrPortClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops accepting and closes every queued, unaccepted session.
func (p *Port) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.done)
	p.mu.Unlock()
	for {
		select {
		case srv := <-p.pending:
			_ = srv.Close()
		default:
			return nil
		}
	}
}

func (p *Port) release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active > 0 {
		p.active--
	}
}
