// Package kv is a small in-memory key-value service. The root object opens
// independent stores; each store is published to the caller as its own
// object and dropped when the caller closes it.
package kv

import (
	"sort"
	"strings"
	"sync"

	"github.com/danmuck/capipc/internal/command"
	"github.com/danmuck/capipc/internal/hipc"
	"github.com/danmuck/capipc/internal/logging"
	"github.com/danmuck/capipc/internal/protocol"
	"github.com/danmuck/capipc/internal/result"
)

// ServiceName is the name the service is resolved under.
const ServiceName = "kv:u"

const (
	CmdOpenStore = 0

	CmdSet    = 0
	CmdGet    = 1
	CmdDelete = 2
	CmdCount  = 3
	CmdList   = 4
)

// Service is the kv:u root object.
type Service struct{}

var serviceCommands = command.For(func(b *command.Builder[*Service, *hipc.Context]) {
	b.Both(CmdOpenStore, "OpenStore", (*Service).OpenStore)
})

func NewService() *Service {
	return &Service{}
}

func (s *Service) Commands() *hipc.CommandSet { return serviceCommands }
func (s *Service) ServiceName() string        { return ServiceName }

func (s *Service) OpenStore(c *hipc.Context) result.Code {
	store := NewStore()
	if err := c.MakeObject(store); err != nil {
		logging.Warnf("kv.Service.OpenStore err=%v", err)
		return result.FromError(err)
	}
	logging.Debugf("kv.Service.OpenStore session=%d domain=%t", c.Session().ID(), c.Session().IsDomain())
	return result.Success
}

// Store is one keyspace. Keys are fixed-width names; values are opaque.
type Store struct {
	mu     sync.RWMutex
	values map[string][]byte
	closed bool
}

var storeCommands = command.For(func(b *command.Builder[*Store, *hipc.Context]) {
	b.Rich(CmdSet, "Set", (*Store).Set)
	b.Rich(CmdGet, "Get", (*Store).Get)
	b.Rich(CmdDelete, "Delete", (*Store).Delete)
	b.Rich(CmdCount, "Count", (*Store).Count)
	b.Rich(CmdList, "List", (*Store).List)
})

func NewStore() *Store {
	return &Store{values: make(map[string][]byte)}
}

func (s *Store) Commands() *hipc.CommandSet { return storeCommands }
func (s *Store) ServiceName() string        { return "kv:IStore" }

// Dispose drops every value.
func (s *Store) Dispose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	logging.Debugf("kv.Store.Dispose keys=%d", len(s.values))
	s.values = nil
	s.closed = true
}

func (s *Store) Disposed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

func readKey(p *protocol.Reader) (string, result.Code) {
	key, err := p.Name()
	if err != nil {
		return "", result.ErrInvalidHeader
	}
	if key == "" {
		return "", result.ErrInvalidKey
	}
	return key, result.Success
}

// Set args: key[8], value blob.
func (s *Store) Set(c *hipc.Context) result.Code {
	key, code := readKey(c.Payload())
	if code.IsFailure() {
		return code
	}
	value, err := c.Payload().Blob()
	if err != nil {
		return result.ErrInvalidHeader
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return result.ErrSessionClosed
	}
	s.values[key] = append([]byte(nil), value...)
	return result.Success
}

func (s *Store) Get(c *hipc.Context) result.Code {
	key, code := readKey(c.Payload())
	if code.IsFailure() {
		return code
	}
	s.mu.RLock()
	value, ok := s.values[key]
	s.mu.RUnlock()
	if !ok {
		return result.ErrKeyNotFound
	}
	c.Out().Blob(value)
	return result.Success
}

func (s *Store) Delete(c *hipc.Context) result.Code {
	key, code := readKey(c.Payload())
	if code.IsFailure() {
		return code
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.values[key]; !ok {
		return result.ErrKeyNotFound
	}
	delete(s.values, key)
	return result.Success
}

func (s *Store) Count(c *hipc.Context) result.Code {
	s.mu.RLock()
	n := len(s.values)
	s.mu.RUnlock()
	c.Out().U32(uint32(n))
	return result.Success
}

// List args: optional prefix[8]. Replies count u32 then sorted key fields.
func (s *Store) List(c *hipc.Context) result.Code {
	prefix := ""
	if c.Payload().Remaining() >= protocol.NameSize {
		prefix, _ = c.Payload().Name()
	}
	s.mu.RLock()
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	s.mu.RUnlock()
	sort.Strings(keys)

	out := c.Out().U32(uint32(len(keys)))
	for _, k := range keys {
		// keys were read from a name field and always fit
		_ = out.Name(k)
	}
	return result.Success
}
