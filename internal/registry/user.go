package registry

import (
	"sync/atomic"

	"github.com/danmuck/capipc/internal/command"
	"github.com/danmuck/capipc/internal/hipc"
	"github.com/danmuck/capipc/internal/logging"
	"github.com/danmuck/capipc/internal/result"
)

// Command ids served by UserInterface in both wire formats.
const (
	CmdInitialize        = 0
	CmdGetService        = 1
	CmdRegisterService   = 2
	CmdUnregisterService = 3
)

// UserInterface is the object a client talks to after connecting to the
// registry port. Every connection gets its own and must initialize it
// before anything else.
type UserInterface struct {
	registry *Registry
	ready    atomic.Bool
}

var userCommands = command.For(func(b *command.Builder[*UserInterface, *hipc.Context]) {
	b.Both(CmdInitialize, "Initialize", (*UserInterface).Initialize)
	b.Both(CmdGetService, "GetService", (*UserInterface).GetService)
	b.Both(CmdRegisterService, "RegisterService", (*UserInterface).RegisterService)
	b.Both(CmdUnregisterService, "UnregisterService", (*UserInterface).UnregisterService)
})

// NewUserInterface returns a fresh, uninitialized connection object.
func (r *Registry) NewUserInterface() *UserInterface {
	return &UserInterface{registry: r}
}

func (u *UserInterface) Commands() *hipc.CommandSet { return userCommands }
func (u *UserInterface) ServiceName() string        { return ServiceName }

func (u *UserInterface) Initialize(c *hipc.Context) result.Code {
	u.ready.Store(true)
	logging.Debugf("registry.UserInterface.Initialize session=%d", c.Session().ID())
	return result.Success
}

func (u *UserInterface) GetService(c *hipc.Context) result.Code {
	if !u.ready.Load() {
		return result.ErrNotInitialized
	}
	name, err := c.Payload().Name()
	if err != nil {
		return result.ErrInvalidHeader
	}
	end, err := u.registry.GetService(c.Context(), name)
	if err != nil {
		return result.FromError(err)
	}
	if end == nil {
		return result.Success
	}
	return moveOut(c, end)
}

// RegisterService args: name[8], is_light u8, pad[3], max_sessions u32.
func (u *UserInterface) RegisterService(c *hipc.Context) result.Code {
	if !u.ready.Load() {
		return result.ErrNotInitialized
	}
	p := c.Payload()
	name, err := p.Name()
	if err != nil {
		return result.ErrInvalidHeader
	}
	light, err := p.Bool()
	if err != nil {
		return result.ErrInvalidHeader
	}
	if err := p.Skip(3); err != nil {
		return result.ErrInvalidHeader
	}
	maxSessions, err := p.U32()
	if err != nil {
		return result.ErrInvalidHeader
	}
	port, err := u.registry.RegisterService(name, light, int(int32(maxSessions)))
	if err != nil {
		return result.FromError(err)
	}
	return moveOut(c, port)
}

func (u *UserInterface) UnregisterService(c *hipc.Context) result.Code {
	if !u.ready.Load() {
		return result.ErrNotInitialized
	}
	name, err := c.Payload().Name()
	if err != nil {
		return result.ErrInvalidHeader
	}
	if err := u.registry.UnregisterService(name); err != nil {
		return result.FromError(err)
	}
	return result.Success
}

func moveOut(c *hipc.Context, obj any) result.Code {
	h, err := c.Server().Handles().Insert(obj)
	if err != nil {
		if cl, ok := obj.(interface{ Close() error }); ok {
			_ = cl.Close()
		}
		return result.ErrInternal
	}
	c.MoveHandle(h)
	return result.Success
}
