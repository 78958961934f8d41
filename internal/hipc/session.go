package hipc

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/danmuck/capipc/internal/kernel"
	"github.com/danmuck/capipc/internal/objtable"
)

var sessionSeq atomic.Uint64

// Session binds one root object to one channel. Promoting it to a domain lets
// many objects share the channel through an object table.
type Session struct {
	id        uint64
	server    *Server
	root      ServiceObject
	ownsRoot  bool
	tableSize int
	ctx       context.Context

	mu      sync.Mutex
	domain  bool
	objects *objtable.Table[ServiceObject]
	rootID  uint32
	closed  bool
}

func newSession(ctx context.Context, server *Server, root ServiceObject, ownsRoot bool, tableSize int) *Session {
	return &Session{
		id:        sessionSeq.Add(1),
		server:    server,
		root:      root,
		ownsRoot:  ownsRoot,
		tableSize: tableSize,
		ctx:       ctx,
	}
}

func (s *Session) ID() uint64 {
	return s.id
}

func (s *Session) Root() ServiceObject {
	return s.root
}

func (s *Session) Server() *Server {
	return s.server
}

func (s *Session) IsDomain() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.domain
}

// PromoteToDomain switches the session to domain mode and returns the root
// object's id. Calling it again returns the same id.
func (s *Session) PromoteToDomain() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.objects == nil {
		s.objects = objtable.New[ServiceObject](s.tableSize)
		// A fresh table always has room for the root.
		s.rootID, _ = s.objects.Insert(s.root)
	}
	s.domain = true
	return s.rootID
}

// RootID is the root object's domain id, or 0 before promotion.
func (s *Session) RootID() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rootID
}

// DemoteToPlain leaves domain mode. Published objects stay in the table until
// teardown.
func (s *Session) DemoteToPlain() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.domain = false
}

// Add publishes obj into the domain and returns its id.
func (s *Session) Add(obj ServiceObject) (uint32, error) {
	if err := checkOwnership(obj); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrSessionClosed
	}
	if !s.domain {
		return 0, ErrNotDomain
	}
	id, err := s.objects.Insert(obj)
	if errors.Is(err, objtable.ErrFull) {
		return 0, ErrDomainFull
	}
	return id, err
}

// Remove unpublishes id. The caller disposes the returned object. The root
// stays resident for the life of the domain and is never removed.
func (s *Session) Remove(id uint32) (ServiceObject, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.objects == nil || id == s.rootID {
		return nil, false
	}
	return s.objects.Remove(id)
}

func (s *Session) Get(id uint32) (ServiceObject, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.objects == nil {
		return nil, false
	}
	return s.objects.Get(id)
}

// ObjectCount counts published objects, the root included once promoted.
func (s *Session) ObjectCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.objects == nil {
		return 0
	}
	return s.objects.Len()
}

// Teardown disposes every published object except the root and empties the
// table. The session lock is held throughout.
func (s *Session) Teardown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teardownLocked()
}

func (s *Session) teardownLocked() {
	if s.objects == nil {
		return
	}
	s.objects.Clear(0, func(id uint32, obj ServiceObject) {
		if id == s.rootID && kernel.SameObject(obj, s.root) {
			return
		}
		dispose(obj)
	})
	s.objects = nil
	s.rootID = 0
	s.domain = false
}

// Close tears the session down and disposes the root when this session owns
// it. Clones share their root and leave it alone.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.teardownLocked()
	if s.ownsRoot {
		dispose(s.root)
	}
}

func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
