package hipc

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/capipc/internal/command"
	"github.com/danmuck/capipc/internal/kernel"
	"github.com/danmuck/capipc/internal/protocol"
	"github.com/danmuck/capipc/internal/result"
)

type rootService struct {
	calls    atomic.Int32
	disposed atomic.Int32
	children []*childService
}

var rootCommands = command.For(func(b *command.Builder[*rootService, *Context]) {
	b.Rich(0, "Foo", (*rootService).Foo)
	b.Rich(5, "Bar", (*rootService).Bar)
	b.Rich(6, "OpenChild", (*rootService).OpenChild)
	b.Rich(7, "Sum", (*rootService).Sum)
	b.Rich(8, "Alternate", (*rootService).Alternate)
	b.Rich(9, "Capabilities", (*rootService).Capabilities)
	b.Rich(10, "KeepCapabilities", (*rootService).KeepCapabilities)
	b.Light(1, "Ping", (*rootService).Ping)
})

func (r *rootService) Commands() *CommandSet { return rootCommands }
func (r *rootService) ServiceName() string   { return "test:root" }
func (r *rootService) Dispose()              { r.disposed.Add(1) }

func (r *rootService) Foo(c *Context) result.Code {
	r.calls.Add(1)
	return result.Success
}

func (r *rootService) Bar(c *Context) result.Code {
	r.calls.Add(1)
	c.Out().U32(0xba5)
	return result.Success
}

func (r *rootService) OpenChild(c *Context) result.Code {
	r.calls.Add(1)
	child := &childService{value: 42}
	if err := c.MakeObject(child); err != nil {
		return result.FromError(err)
	}
	r.children = append(r.children, child)
	return result.Success
}

func (r *rootService) Sum(c *Context) result.Code {
	r.calls.Add(1)
	a, err := c.Payload().U32()
	if err != nil {
		return result.ErrInvalidHeader
	}
	b, err := c.Payload().U32()
	if err != nil {
		return result.ErrInvalidHeader
	}
	c.Out().U32(a + b)
	return result.Success
}

func (r *rootService) Alternate(c *Context) result.Code {
	r.calls.Add(1)
	c.OmitHeader()
	return result.Success
}

// Capabilities reports how many inbound handles resolve in the server table.
func (r *rootService) Capabilities(c *Context) result.Code {
	r.calls.Add(1)
	handles := c.Server().Handles()
	var live uint32
	for _, h := range append(c.InCopyHandles(), c.InMoveHandles()...) {
		if _, ok := handles.Get(h); ok {
			live++
		}
	}
	c.Out().U32(live)
	return result.Success
}

func (r *rootService) KeepCapabilities(c *Context) result.Code {
	r.calls.Add(1)
	for _, h := range append(c.InCopyHandles(), c.InMoveHandles()...) {
		c.RetainHandle(h)
	}
	return result.Success
}

func (r *rootService) Ping(c *Context) result.Code {
	r.calls.Add(1)
	c.Out().U8('p')
	return result.Success
}

type childService struct {
	value    uint32
	calls    atomic.Int32
	disposed atomic.Int32
}

var childCommands = command.For(func(b *command.Builder[*childService, *Context]) {
	b.Rich(0, "Value", (*childService).Value)
	b.Rich(1, "Inputs", (*childService).Inputs)
})

func (s *childService) Commands() *CommandSet { return childCommands }
func (s *childService) Dispose()              { s.disposed.Add(1) }

func (s *childService) Value(c *Context) result.Code {
	s.calls.Add(1)
	c.Out().U32(s.value)
	return result.Success
}

// Inputs echoes the value of every attached domain object.
func (s *childService) Inputs(c *Context) result.Code {
	s.calls.Add(1)
	for i := range c.InObjectIDs() {
		obj, ok := c.InObject(i)
		if !ok {
			return result.ErrInvalidInObjectID
		}
		child, ok := obj.(*childService)
		if !ok {
			return result.ErrInvalidInObjectID
		}
		c.Out().U32(child.value)
	}
	return result.Success
}

// embeddedRoot inherits rootService's Commands method but not its table.
type embeddedRoot struct {
	*rootService
}

type abortSpy struct {
	mu   sync.Mutex
	errs []error
}

func (a *abortSpy) abort(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.errs = append(a.errs, err)
}

func (a *abortSpy) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.errs)
}

type closeSpy struct{ closed atomic.Int32 }

func (c *closeSpy) Close() error {
	c.closed.Add(1)
	return nil
}

type observerSpy struct {
	mu         sync.Mutex
	dispatched []string
	codes      []result.Code
	rejected   int
	opened     int
	closed     int
}

func (o *observerSpy) Dispatched(service string, format command.Format, cmd uint32, name string, code result.Code, elapsed time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dispatched = append(o.dispatched, name)
	o.codes = append(o.codes, code)
}

func (o *observerSpy) Rejected(service string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rejected++
}

func (o *observerSpy) SessionOpened(service string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opened++
}

func (o *observerSpy) SessionClosed(service string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed++
}

func newTestServer(t *testing.T, opts Options) (*Server, *abortSpy) {
	t.Helper()
	spy := &abortSpy{}
	opts.Abort = spy.abort
	return NewServer("test", opts), spy
}

func newTestSession(t *testing.T, srv *Server, root ServiceObject) *Session {
	t.Helper()
	s, err := srv.NewSession(context.Background(), root)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func richRequest(cmd uint32, args []byte) kernel.Message {
	return kernel.Message{Data: protocol.EncodeMessage(protocol.MessageRequest, protocol.EncodeRichBody(cmd, args))}
}

func domainRequest(t *testing.T, sub protocol.DomainCommand, target, cmd uint32, args []byte, in ...uint32) kernel.Message {
	t.Helper()
	raw, err := protocol.EncodeDomainRequest(sub, target, protocol.EncodeRichBody(cmd, args), in)
	if err != nil {
		t.Fatalf("encode domain request: %v", err)
	}
	return kernel.Message{Data: protocol.EncodeMessage(protocol.MessageRequest, raw)}
}

func controlRequest(cmd protocol.ControlCommand, args []byte) kernel.Message {
	return kernel.Message{Data: protocol.EncodeMessage(protocol.MessageControl, protocol.EncodeRichBody(uint32(cmd), args))}
}

func dispatch(t *testing.T, s *Session, req kernel.Message) kernel.Message {
	t.Helper()
	resp, err := s.Server().Dispatcher().Dispatch(context.Background(), s, req)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	return resp
}

func decodeRich(t *testing.T, resp kernel.Message) (protocol.RichOutHeader, []byte) {
	t.Helper()
	_, raw, err := protocol.DecodeMessage(resp.Data)
	if err != nil {
		t.Fatalf("decode message: %v", err)
	}
	h, payload, err := protocol.DecodeRichResponse(raw)
	if err != nil {
		t.Fatalf("decode rich: %v", err)
	}
	return h, payload
}

func decodeDomain(t *testing.T, resp kernel.Message) (protocol.RichOutHeader, []byte, []uint32) {
	t.Helper()
	_, raw, err := protocol.DecodeMessage(resp.Data)
	if err != nil {
		t.Fatalf("decode message: %v", err)
	}
	h, payload, ids, err := protocol.DecodeDomainResponse(raw)
	if err != nil {
		t.Fatalf("decode domain: %v", err)
	}
	return h, payload, ids
}
