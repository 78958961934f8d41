package registry

import (
	"context"
	"errors"

	"github.com/danmuck/capipc/internal/hipc"
	"github.com/danmuck/capipc/internal/kernel"
	"github.com/danmuck/capipc/internal/logging"
	"github.com/danmuck/capipc/internal/protocol"
)

// Listen opens the bootstrap port. Each accepted session is rooted at its
// own UserInterface. The port is not itself a registered name.
func (r *Registry) Listen(maxSessions int) *kernel.Port {
	return kernel.NewPort(ServiceName, false, maxSessions, r.opts.BufferCapacity)
}

// Serve runs srv against the bootstrap port until ctx ends or the port
// closes.
func (r *Registry) Serve(ctx context.Context, srv *hipc.Server, port *kernel.Port) error {
	logging.Infof("registry.Registry.Serve port=%s", port.Name())
	return srv.ServePort(ctx, port, func() hipc.ServiceObject {
		return r.NewUserInterface()
	})
}

// Client speaks the UserInterface commands over one bootstrap session.
type Client struct {
	ipc   *hipc.Client
	light bool
}

// NewClient wraps end. light selects the light wire format.
func NewClient(end *kernel.ClientSession, light bool) *Client {
	return &Client{ipc: hipc.NewClient(end), light: light}
}

// Connect opens a bootstrap session on port.
func Connect(port *kernel.Port, light bool) (*Client, error) {
	end, err := port.Connect()
	if err != nil {
		return nil, err
	}
	return NewClient(end, light), nil
}

func (c *Client) invoke(ctx context.Context, cmd uint32, args []byte) (hipc.Reply, error) {
	var (
		r   hipc.Reply
		err error
	)
	if c.light {
		r, err = c.ipc.InvokeLight(ctx, cmd, args)
	} else {
		r, err = c.ipc.Invoke(ctx, cmd, args)
	}
	if err != nil {
		return hipc.Reply{}, err
	}
	return r, r.Err()
}

func nameArgs(name string) ([]byte, error) {
	w := protocol.NewWriter()
	if err := w.Name(name); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

func (c *Client) Initialize(ctx context.Context) error {
	_, err := c.invoke(ctx, CmdInitialize, nil)
	return err
}

// GetService returns a client for name, or nil when the registry stubbed a
// missing service.
func (c *Client) GetService(ctx context.Context, name string) (*hipc.Client, error) {
	args, err := nameArgs(name)
	if err != nil {
		return nil, err
	}
	r, err := c.invoke(ctx, CmdGetService, args)
	if err != nil {
		return nil, err
	}
	if len(r.Move) == 0 {
		return nil, nil
	}
	s, ok := r.Session(0)
	if !ok {
		return nil, errors.New("registry: reply carried no session")
	}
	return s, nil
}

func (c *Client) RegisterService(ctx context.Context, name string, light bool, maxSessions int) (*kernel.Port, error) {
	args, err := nameArgs(name)
	if err != nil {
		return nil, err
	}
	w := protocol.NewWriter().Raw(args).Bool(light).Raw([]byte{0, 0, 0}).U32(uint32(int32(maxSessions)))
	r, err := c.invoke(ctx, CmdRegisterService, w.Bytes())
	if err != nil {
		return nil, err
	}
	if len(r.Move) == 0 {
		return nil, errors.New("registry: reply carried no port")
	}
	port, ok := r.Move[0].(*kernel.Port)
	if !ok {
		return nil, errors.New("registry: reply carried no port")
	}
	return port, nil
}

func (c *Client) UnregisterService(ctx context.Context, name string) error {
	args, err := nameArgs(name)
	if err != nil {
		return err
	}
	_, err = c.invoke(ctx, CmdUnregisterService, args)
	return err
}

func (c *Client) Close(ctx context.Context) error {
	return c.ipc.Close(ctx)
}
