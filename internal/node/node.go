package node

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/danmuck/capipc/internal/config"
	"github.com/danmuck/capipc/internal/hipc"
	"github.com/danmuck/capipc/internal/kernel"
	"github.com/danmuck/capipc/internal/logging"
	"github.com/danmuck/capipc/internal/observability"
	"github.com/danmuck/capipc/internal/registry"
	"github.com/danmuck/capipc/internal/services/kv"
)

var ErrUnknownFallback = errors.New("node: unknown fallback service")

const shutdownTimeout = 5 * time.Second

// Builtins are the services a node can host as registry fallbacks.
var Builtins = map[string]registry.Factory{
	kv.ServiceName: func() hipc.ServiceObject { return kv.NewService() },
}

// BuiltinNames lists Builtins sorted.
func BuiltinNames() []string {
	names := make([]string, 0, len(Builtins))
	for name := range Builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Options carries what the config file cannot express.
type Options struct {
	// Abort replaces the process exit on fatal policy violations.
	Abort hipc.AbortFunc
	Name  string
}

// Node is one running registry plus its fallback services.
type Node struct {
	name     string
	cfg      config.Config
	recorder *observability.Recorder
	registry *registry.Registry
	sm       *hipc.Server
	local    *hipc.Server
	port     *kernel.Port

	ready   atomic.Bool
	started atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New(cfg config.Config, opts Options) (*Node, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	if opts.Name == "" {
		opts.Name = "ipcctl"
	}
	rec := observability.NewRecorder()

	serverOpts := cfg.ServerOptions()
	serverOpts.Abort = opts.Abort
	serverOpts.Observer = rec

	regOpts := cfg.RegistryOptions()
	regOpts.Abort = opts.Abort
	regOpts.Observer = rec

	n := &Node{
		name:     opts.Name,
		cfg:      cfg,
		recorder: rec,
		registry: registry.New(regOpts),
		sm:       hipc.NewServer(registry.ServiceName, serverOpts),
		local:    hipc.NewServer("local", serverOpts),
	}
	for _, name := range cfg.FallbackServices {
		factory, ok := Builtins[name]
		if !ok {
			return nil, fmt.Errorf("%w: %q (known: %v)", ErrUnknownFallback, name, BuiltinNames())
		}
		if err := n.registry.RegisterFallback(name, n.local, factory); err != nil {
			return nil, err
		}
	}
	return n, nil
}

func (n *Node) NodeID() string               { return n.name }
func (n *Node) Registry() *registry.Registry { return n.registry }
func (n *Node) Ready() bool                  { return n.ready.Load() }

// Start opens the bootstrap port and serves it in the background.
func (n *Node) Start(ctx context.Context) error {
	if !n.started.CompareAndSwap(false, true) {
		return errors.New("node: already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	n.cancel = cancel
	n.port = n.registry.Listen(n.cfg.MaxSessions)

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := n.registry.Serve(ctx, n.sm, n.port); err != nil {
			logging.Errf("node.Node.Start registry serve err=%v", err)
		}
	}()
	n.ready.Store(true)
	logging.Infof(
		"node.Node.Start ready node=%s fallbacks=%v unknown_command=%s missing_service=%s",
		n.name, n.cfg.FallbackServices, n.cfg.UnknownCommandPolicy, n.cfg.MissingServicePolicy,
	)
	return nil
}

// Connect opens a bootstrap session to the registry.
func (n *Node) Connect(light bool) (*registry.Client, error) {
	if !n.Ready() {
		return nil, errors.New("node: not started")
	}
	return registry.Connect(n.port, light)
}

func (n *Node) HTTPRouter() *gin.Engine {
	return observability.NewAdminRouter(observability.AdminOptions{
		Node:        n.name,
		Services:    n.registry,
		Ready:       n.Ready,
		CorsOrigins: n.cfg.CorsOrigins,
	})
}

// Run starts the node and the admin listener and blocks until ctx ends.
func (n *Node) Run(ctx context.Context) error {
	if err := n.Start(ctx); err != nil {
		return err
	}
	defer n.Close()

	adminErr := make(chan error, 1)
	var srv *http.Server
	if n.cfg.AdminAddr != "" {
		srv = &http.Server{
			Addr:              n.cfg.AdminAddr,
			Handler:           n.HTTPRouter(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logging.Infof("node.Node.Run admin listening addr=%s", n.cfg.AdminAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				adminErr <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
		logging.Infof("node.Node.Run shutdown")
	case err := <-adminErr:
		return fmt.Errorf("admin listener: %w", err)
	}
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logging.Warnf("node.Node.Run admin shutdown err=%v", err)
		}
	}
	return nil
}

// Close stops serving, closes every port and waits for session loops.
func (n *Node) Close() {
	n.ready.Store(false)
	if n.cancel != nil {
		n.cancel()
	}
	if n.port != nil {
		_ = n.port.Close()
	}
	_ = n.registry.Close()
	n.wg.Wait()
	n.sm.Wait()
	n.local.Wait()
	logging.Infof("node.Node.Close node=%s", n.name)
}
