package hipc

import (
	"context"
	"errors"
	"sync"

	"github.com/danmuck/capipc/internal/kernel"
	"github.com/danmuck/capipc/internal/logging"
)

const (
	DefaultPointerBufferSize = 0x8000
	DefaultDomainTableSize   = 1024
	DefaultHandleTableSize   = 4096
)

// Options tunes a Server.
type Options struct {
	UnknownCommand    Policy
	PointerBufferSize uint16
	BufferCapacity    int
	DomainTableSize   int
	HandleTableSize   int
	Abort             AbortFunc
	Observer          Observer
}

func DefaultOptions() Options {
	return Options{
		UnknownCommand:    PolicyError,
		PointerBufferSize: DefaultPointerBufferSize,
		BufferCapacity:    kernel.DefaultBufferCapacity,
		DomainTableSize:   DefaultDomainTableSize,
		HandleTableSize:   DefaultHandleTableSize,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.UnknownCommand == "" {
		o.UnknownCommand = d.UnknownCommand
	}
	if o.PointerBufferSize == 0 {
		o.PointerBufferSize = d.PointerBufferSize
	}
	if o.BufferCapacity <= 0 {
		o.BufferCapacity = d.BufferCapacity
	}
	if o.DomainTableSize <= 0 {
		o.DomainTableSize = d.DomainTableSize
	}
	if o.HandleTableSize <= 0 {
		o.HandleTableSize = d.HandleTableSize
	}
	return o
}

// Server runs the receive-dispatch-reply loop for every session of one
// service process. Sessions are served concurrently; requests on a single
// session are handled in arrival order.
type Server struct {
	name       string
	opts       Options
	handles    *kernel.HandleTable
	dispatcher *Dispatcher

	mu       sync.Mutex
	sessions map[uint64]*Session
	wg       sync.WaitGroup
}

func NewServer(name string, opts Options) *Server {
	opts = opts.withDefaults()
	s := &Server{
		name:     name,
		opts:     opts,
		handles:  kernel.NewHandleTable(opts.HandleTableSize),
		sessions: make(map[uint64]*Session),
	}
	s.dispatcher = &Dispatcher{server: s}
	return s
}

func (s *Server) Name() string {
	return s.name
}

func (s *Server) Options() Options {
	return s.opts
}

// Handles is the server process's capability table.
func (s *Server) Handles() *kernel.HandleTable {
	return s.handles
}

func (s *Server) Dispatcher() *Dispatcher {
	return s.dispatcher
}

// Sessions counts sessions currently being served.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// NewSession creates a session for root that is not attached to a channel.
// Requests are fed to it through Dispatcher().Dispatch.
func (s *Server) NewSession(ctx context.Context, root ServiceObject) (*Session, error) {
	if err := checkOwnership(root); err != nil {
		return nil, err
	}
	return newSession(ctx, s, root, true, s.opts.DomainTableSize), nil
}

// Bind creates a channel for obj, serves its server end, and returns the
// client end. owns decides whether closing the session disposes obj.
func (s *Server) Bind(ctx context.Context, obj ServiceObject, owns bool) (*kernel.ClientSession, *Session, error) {
	if err := checkOwnership(obj); err != nil {
		return nil, nil, err
	}
	end, client := kernel.CreateChannel(s.opts.BufferCapacity)
	sess := newSession(ctx, s, obj, owns, s.opts.DomainTableSize)
	s.serve(ctx, end, sess)
	return client, sess, nil
}

// Serve runs the request loop for end with root as its session root.
func (s *Server) Serve(ctx context.Context, end *kernel.ServerSession, root ServiceObject) (*Session, error) {
	if err := checkOwnership(root); err != nil {
		return nil, err
	}
	sess := newSession(ctx, s, root, true, s.opts.DomainTableSize)
	s.serve(ctx, end, sess)
	return sess, nil
}

// ServePort accepts sessions from port until it closes or ctx ends, building
// a fresh root for each one with factory.
func (s *Server) ServePort(ctx context.Context, port *kernel.Port, factory func() ServiceObject) error {
	logging.Infof("hipc.Server.ServePort service=%s port=%s", s.name, port.Name())
	for {
		end, err := port.Accept(ctx)
		if err != nil {
			if errors.Is(err, kernel.ErrPortClosed) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if _, err := s.Serve(ctx, end, factory()); err != nil {
			logging.Errf("hipc.Server.ServePort service=%s err=%v", s.name, err)
			_ = end.Close()
		}
	}
}

// Wait blocks until every served session has finished.
func (s *Server) Wait() {
	s.wg.Wait()
}

func (s *Server) serve(ctx context.Context, end *kernel.ServerSession, sess *Session) {
	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()
	if o := s.opts.Observer; o != nil {
		o.SessionOpened(s.name)
	}
	logging.Debugf("hipc.Server.serve service=%s session=%d root=%s", s.name, sess.id, objectName(sess.root))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.finish(end, sess)
		s.loop(ctx, end, sess)
	}()
}

func (s *Server) loop(ctx context.Context, end *kernel.ServerSession, sess *Session) {
	for {
		req, err := end.Receive(ctx)
		if err != nil {
			return
		}
		resp, err := s.dispatcher.Dispatch(ctx, sess, req)
		if errors.Is(err, ErrCloseRequested) {
			_ = end.Reply(kernel.Message{})
			return
		}
		if err != nil {
			_ = end.Reject(err)
			continue
		}
		if err := end.Reply(resp); err != nil {
			logging.Warnf("hipc.Server.loop reply failed service=%s session=%d err=%v", s.name, sess.id, err)
			_ = end.Reject(err)
		}
	}
}

func (s *Server) finish(end *kernel.ServerSession, sess *Session) {
	_ = end.Close()
	sess.Close()
	s.mu.Lock()
	delete(s.sessions, sess.id)
	s.mu.Unlock()
	if o := s.opts.Observer; o != nil {
		o.SessionClosed(s.name)
	}
	logging.Debugf("hipc.Server.finish service=%s session=%d", s.name, sess.id)
}
