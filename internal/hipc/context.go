package hipc

import (
	"context"

	"github.com/danmuck/capipc/internal/command"
	"github.com/danmuck/capipc/internal/kernel"
	"github.com/danmuck/capipc/internal/protocol"
)

// Context is the per-request view a handler works with: the decoded
// request and the accumulators for the response.
type Context struct {
	ctx     context.Context
	session *Session
	format  command.Format
	command uint32

	payload   *protocol.Reader
	inObjects []uint32
	inCopy    []kernel.Handle
	inMove    []kernel.Handle
	inObjs    map[kernel.Handle]any
	retained  map[kernel.Handle]bool

	out        *protocol.Writer
	outObjects []uint32
	outCopy    []kernel.Handle
	outMove    []kernel.Handle
	omitHeader bool
}

func newContext(ctx context.Context, s *Session, f command.Format, cmd uint32, args []byte) *Context {
	return &Context{
		ctx:     ctx,
		session: s,
		format:  f,
		command: cmd,
		payload: protocol.NewReader(args),
		out:     protocol.NewWriter(),
	}
}

func (c *Context) Context() context.Context {
	return c.ctx
}

// Session is the session the request arrived on.
func (c *Context) Session() *Session {
	return c.session
}

func (c *Context) Server() *Server {
	return c.session.server
}

func (c *Context) Format() command.Format {
	return c.format
}

func (c *Context) Command() uint32 {
	return c.command
}

// Payload reads the request arguments.
func (c *Context) Payload() *protocol.Reader {
	return c.payload
}

// InObjectIDs lists the domain object ids attached to the request.
func (c *Context) InObjectIDs() []uint32 {
	return c.inObjects
}

// InObject resolves the i-th attached object id in the session's domain.
func (c *Context) InObject(i int) (ServiceObject, bool) {
	if i < 0 || i >= len(c.inObjects) {
		return nil, false
	}
	return c.session.Get(c.inObjects[i])
}

// InCopyHandles and InMoveHandles name the capabilities the client attached,
// already placed in the server's handle table. They are released when the
// request finishes unless the handler takes or retains them.
func (c *Context) InCopyHandles() []kernel.Handle {
	return c.inCopy
}

func (c *Context) InMoveHandles() []kernel.Handle {
	return c.inMove
}

// RetainHandle keeps an inbound capability in the server's handle table past
// the end of the request. The handler becomes responsible for closing it.
func (c *Context) RetainHandle(h kernel.Handle) {
	if c.retained == nil {
		c.retained = make(map[kernel.Handle]bool)
	}
	c.retained[h] = true
}

// Out accumulates the response payload.
func (c *Context) Out() *protocol.Writer {
	return c.out
}

// MakeObject returns obj to the client. In a domain it is published and its
// id travels in the response; otherwise it gets its own session whose client
// end is moved to the caller.
func (c *Context) MakeObject(obj ServiceObject) error {
	if c.session.IsDomain() {
		id, err := c.session.Add(obj)
		if err != nil {
			return err
		}
		c.outObjects = append(c.outObjects, id)
		return nil
	}
	client, _, err := c.session.server.Bind(c.session.ctx, obj, true)
	if err != nil {
		return err
	}
	h, err := c.session.server.handles.Insert(client)
	if err != nil {
		_ = client.Close()
		return err
	}
	c.outMove = append(c.outMove, h)
	return nil
}

// CopyHandle attaches a copy of a server-side capability to the response.
func (c *Context) CopyHandle(h kernel.Handle) {
	c.outCopy = append(c.outCopy, h)
}

// MoveHandle transfers a server-side capability to the client.
func (c *Context) MoveHandle(h kernel.Handle) {
	c.outMove = append(c.outMove, h)
}

// OmitHeader asks for a reply without the standard rich output header.
func (c *Context) OmitHeader() {
	c.omitHeader = true
}
