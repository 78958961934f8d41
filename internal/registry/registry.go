package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/danmuck/capipc/internal/hipc"
	"github.com/danmuck/capipc/internal/kernel"
	"github.com/danmuck/capipc/internal/logging"
	"github.com/danmuck/capipc/internal/protocol"
	"github.com/danmuck/capipc/internal/result"
)

// ServiceName is the port clients bootstrap through.
const ServiceName = "sm:"

var ErrClosed = errors.New("registry: closed")

// Observer receives one callback per registry operation.
type Observer interface {
	RegistryOp(op string, name string, code result.Code)
}

// Options tunes a Registry.
type Options struct {
	MissingService hipc.Policy
	BufferCapacity int
	Abort          hipc.AbortFunc
	Observer       Observer
}

// Factory builds the root object for one fallback session.
type Factory func() hipc.ServiceObject

type fallback struct {
	server  *hipc.Server
	factory Factory
}

// ServiceInfo is a snapshot of one resolvable name.
type ServiceInfo struct {
	Name           string `json:"name"`
	Light          bool   `json:"light"`
	MaxSessions    int    `json:"max_sessions"`
	ActiveSessions int    `json:"active_sessions"`
	Fallback       bool   `json:"fallback"`
}

// Registry maps service names to ports.
type Registry struct {
	opts Options

	mu        sync.Mutex
	ports     map[string]*kernel.Port
	fallbacks map[string]fallback
	closed    bool
}

func New(opts Options) *Registry {
	if opts.MissingService == "" {
		opts.MissingService = hipc.PolicyError
	}
	if opts.BufferCapacity <= 0 {
		opts.BufferCapacity = kernel.DefaultBufferCapacity
	}
	return &Registry{
		opts:      opts,
		ports:     make(map[string]*kernel.Port),
		fallbacks: make(map[string]fallback),
	}
}

func validName(name string) error {
	if name == "" {
		return result.ErrInvalidName
	}
	if _, err := protocol.EncodeName(name); err != nil {
		return fmt.Errorf("%w: %v", result.ErrInvalidName, err)
	}
	for i := 0; i < len(name); i++ {
		if name[i] < 0x20 || name[i] >= 0x7f {
			return result.ErrInvalidName
		}
	}
	return nil
}

// RegisterService claims name and returns the port the owner accepts
// sessions from.
func (r *Registry) RegisterService(name string, isLight bool, maxSessions int) (*kernel.Port, error) {
	if err := validName(name); err != nil {
		r.observe("register", name, err)
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	if _, ok := r.ports[name]; ok {
		logging.Warnf("registry.Registry.RegisterService already registered name=%s", name)
		r.observe("register", name, result.ErrAlreadyRegistered)
		return nil, result.ErrAlreadyRegistered
	}
	port := kernel.NewPort(name, isLight, maxSessions, r.opts.BufferCapacity)
	r.ports[name] = port
	logging.Infof("registry.Registry.RegisterService name=%s light=%t max_sessions=%d", name, isLight, maxSessions)
	r.observe("register", name, nil)
	return port, nil
}

// UnregisterService releases name and closes its port. Sessions already
// handed out stay open.
func (r *Registry) UnregisterService(name string) error {
	if err := validName(name); err != nil {
		r.observe("unregister", name, err)
		return err
	}
	r.mu.Lock()
	port, ok := r.ports[name]
	if ok {
		delete(r.ports, name)
	}
	r.mu.Unlock()
	if !ok {
		r.observe("unregister", name, result.ErrNotRegistered)
		return result.ErrNotRegistered
	}
	_ = port.Close()
	logging.Infof("registry.Registry.UnregisterService name=%s", name)
	r.observe("unregister", name, nil)
	return nil
}

// RegisterFallback serves name locally on srv when no process has
// registered it.
func (r *Registry) RegisterFallback(name string, srv *hipc.Server, factory Factory) error {
	if err := validName(name); err != nil {
		return err
	}
	if srv == nil || factory == nil {
		return fmt.Errorf("registry: fallback %q needs a server and a factory", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.fallbacks[name]; ok {
		return result.ErrAlreadyRegistered
	}
	r.fallbacks[name] = fallback{server: srv, factory: factory}
	logging.Debugf("registry.Registry.RegisterFallback name=%s server=%s", name, srv.Name())
	return nil
}

// GetService opens a session to name. A registered port wins over a local
// fallback. Under the ignore policy an unknown name yields (nil, nil).
func (r *Registry) GetService(ctx context.Context, name string) (*kernel.ClientSession, error) {
	if err := validName(name); err != nil {
		r.observe("get", name, err)
		return nil, err
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	if port, ok := r.ports[name]; ok {
		// connect under the lock so an unregister cannot interleave
		end, err := port.Connect()
		r.mu.Unlock()
		if err != nil {
			logging.Warnf("registry.Registry.GetService connect failed name=%s err=%v", name, err)
			code := result.ErrOutOfSessions
			if errors.Is(err, kernel.ErrPortClosed) {
				code = result.ErrServiceNotFound
			}
			r.observe("get", name, code)
			return nil, fmt.Errorf("%w: %v", code, err)
		}
		r.observe("get", name, nil)
		return end, nil
	}
	fb, ok := r.fallbacks[name]
	r.mu.Unlock()

	if ok {
		end, _, err := fb.server.Bind(ctx, fb.factory(), true)
		if err != nil {
			logging.Errf("registry.Registry.GetService fallback failed name=%s err=%v", name, err)
			r.observe("get", name, result.ErrInternal)
			return nil, err
		}
		logging.Debugf("registry.Registry.GetService fallback name=%s", name)
		r.observe("get", name, nil)
		return end, nil
	}
	return nil, r.missing(name)
}

func (r *Registry) missing(name string) error {
	switch r.opts.MissingService {
	case hipc.PolicyIgnore:
		logging.Warnf("registry.Registry.GetService stubbed missing service name=%s", name)
		r.observe("get", name, nil)
		return nil
	case hipc.PolicyFatal:
		abort := r.opts.Abort
		if abort == nil {
			abort = func(err error) { logging.Fatalf("registry.abort err=%v", err) }
		}
		abort(fmt.Errorf("%w: name=%s", result.ErrServiceNotFound, name))
	}
	logging.Warnf("registry.Registry.GetService missing service name=%s", name)
	r.observe("get", name, result.ErrServiceNotFound)
	return result.ErrServiceNotFound
}

// Services returns registered and fallback names sorted by name.
func (r *Registry) Services() []ServiceInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := make([]ServiceInfo, 0, len(r.ports)+len(r.fallbacks))
	for name, port := range r.ports {
		list = append(list, ServiceInfo{
			Name:           name,
			Light:          port.IsLight(),
			MaxSessions:    port.MaxSessions(),
			ActiveSessions: port.ActiveSessions(),
		})
	}
	for name := range r.fallbacks {
		if _, ok := r.ports[name]; ok {
			continue
		}
		list = append(list, ServiceInfo{Name: name, Fallback: true})
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].Name < list[j].Name
	})
	return list
}

// Close unregisters everything and closes every port.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	ports := r.ports
	r.ports = make(map[string]*kernel.Port)
	r.fallbacks = make(map[string]fallback)
	r.mu.Unlock()
	for _, port := range ports {
		_ = port.Close()
	}
	logging.Infof("registry.Registry.Close ports=%d", len(ports))
	return nil
}

func (r *Registry) observe(op, name string, err error) {
	if r.opts.Observer == nil {
		return
	}
	code := result.Success
	if err != nil {
		code = result.FromError(err)
	}
	r.opts.Observer.RegistryOp(op, name, code)
}
