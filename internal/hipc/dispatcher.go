package hipc

import (
	"context"
	"fmt"
	"time"

	"github.com/danmuck/capipc/internal/command"
	"github.com/danmuck/capipc/internal/kernel"
	"github.com/danmuck/capipc/internal/logging"
	"github.com/danmuck/capipc/internal/protocol"
	"github.com/danmuck/capipc/internal/result"
)

// Observer receives one callback per dispatched or rejected request.
type Observer interface {
	Dispatched(service string, format command.Format, cmd uint32, name string, code result.Code, elapsed time.Duration)
	Rejected(service string, err error)
	SessionOpened(service string)
	SessionClosed(service string)
}

// Dispatcher turns one request buffer into one response buffer.
type Dispatcher struct {
	server *Server
}

// Dispatch handles req on s. A non-nil error is a protocol-level rejection
// (or ErrCloseRequested); every other outcome is a well-formed response.
func (d *Dispatcher) Dispatch(ctx context.Context, s *Session, req kernel.Message) (kernel.Message, error) {
	h, raw, err := protocol.DecodeMessage(req.Data)
	if err != nil {
		return d.reject(err)
	}
	switch {
	case h.Type.IsLight():
		return d.dispatchLight(ctx, s, h.Type, raw, req)
	case h.Type.IsRequest():
		return d.dispatchRich(ctx, s, h.Type, raw, req)
	case h.Type.IsControl():
		return d.dispatchControl(ctx, s, h.Type, raw, req)
	case h.Type == protocol.MessageClose:
		return kernel.Message{}, ErrCloseRequested
	default:
		return d.reject(fmt.Errorf("%w: tag=%d", protocol.ErrUnknownMessageType, h.Type))
	}
}

func (d *Dispatcher) reject(err error) (kernel.Message, error) {
	logging.Warnf("hipc.Dispatcher.reject service=%s err=%v", d.server.name, err)
	if o := d.server.opts.Observer; o != nil {
		o.Rejected(d.server.name, err)
	}
	return kernel.Message{}, err
}

func (d *Dispatcher) dispatchLight(ctx context.Context, s *Session, tag protocol.MessageType, raw []byte, req kernel.Message) (kernel.Message, error) {
	c := newContext(ctx, s, command.Light, tag.LightCommand(), raw)
	code := d.acceptHandles(c, req)
	if code.IsSuccess() {
		defer d.releaseHandles(c)
		code = d.invoke(c, s.root)
	}
	return d.encode(c, tag, protocol.EncodeLightResponse(code, c.out.Bytes()))
}

func (d *Dispatcher) dispatchRich(ctx context.Context, s *Session, tag protocol.MessageType, raw []byte, req kernel.Message) (kernel.Message, error) {
	target := s.root
	body := raw
	var inObjects []uint32

	domain := s.IsDomain()
	if domain {
		dh, b, ids, err := protocol.ParseDomainRequest(raw)
		if err != nil {
			return d.reject(err)
		}
		switch dh.Command {
		case protocol.DomainClose:
			if obj, ok := s.Remove(dh.ObjectID); ok {
				dispose(obj)
				logging.Debugf("hipc.Dispatcher.domainClose service=%s object=%d", d.server.name, dh.ObjectID)
			} else if dh.ObjectID == s.RootID() {
				logging.Debugf("hipc.Dispatcher.domainClose root kept service=%s object=%d", d.server.name, dh.ObjectID)
			}
			discardMoves(req)
			return kernel.Message{Data: protocol.EncodeMessage(tag, protocol.DomainCloseResponse())}, nil
		case protocol.DomainSendMessage:
			obj, ok := s.Get(dh.ObjectID)
			if !ok {
				logging.Warnf("hipc.Dispatcher.domain target not found service=%s object=%d", d.server.name, dh.ObjectID)
				discardMoves(req)
				out := protocol.EncodeDomainResponse(result.ErrTargetNotFound, nil, nil)
				return kernel.Message{Data: protocol.EncodeMessage(tag, out)}, nil
			}
			target = obj
		}
		body = b
		inObjects = ids
	}

	rh, args, err := protocol.ParseRichBody(body)
	if err != nil {
		return d.reject(err)
	}

	c := newContext(ctx, s, command.Rich, rh.Command, args)
	c.inObjects = inObjects
	code := d.acceptHandles(c, req)
	if code.IsSuccess() {
		defer d.releaseHandles(c)
		code = d.invoke(c, target)
	}

	if c.omitHeader && code.IsSuccess() {
		d.abort(fmt.Errorf("%w: service=%s cmd=%d", ErrEmptyOutputHeader, d.server.name, rh.Command))
		code = result.ErrInternal
	}

	var out []byte
	if domain {
		out = protocol.EncodeDomainResponse(code, c.out.Bytes(), c.outObjects)
	} else {
		out = protocol.EncodeRichResponse(code, c.out.Bytes())
	}
	return d.encode(c, tag, out)
}

func (d *Dispatcher) dispatchControl(ctx context.Context, s *Session, tag protocol.MessageType, raw []byte, req kernel.Message) (kernel.Message, error) {
	rh, args, err := protocol.ParseRichBody(raw)
	if err != nil {
		return d.reject(err)
	}
	c := newContext(ctx, s, command.Rich, rh.Command, args)
	cmd := protocol.ControlCommand(rh.Command)
	start := time.Now()

	code := d.acceptHandles(c, req)
	if code.IsSuccess() {
		defer d.releaseHandles(c)
		code = d.control(c, cmd)
	}
	logging.Debugf("hipc.Dispatcher.control service=%s cmd=%s result=%s", d.server.name, cmd, code.String())
	d.observe(c, "control."+cmd.String(), code, time.Since(start))
	return d.encode(c, tag, protocol.EncodeRichResponse(code, c.out.Bytes()))
}

func (d *Dispatcher) control(c *Context, cmd protocol.ControlCommand) result.Code {
	s := c.session
	switch cmd {
	case protocol.ControlConvertToDomain:
		c.out.U32(s.PromoteToDomain())
		return result.Success
	case protocol.ControlCopyFromDomain:
		return d.copyFromDomain(c)
	case protocol.ControlCloneObject, protocol.ControlCloneObjectEx:
		return d.clone(c, s.root)
	case protocol.ControlQueryPointerBuffer:
		c.out.U16(d.server.opts.PointerBufferSize)
		return result.Success
	default:
		return d.missing(c, s.root, "control")
	}
}

func (d *Dispatcher) copyFromDomain(c *Context) result.Code {
	id, err := c.payload.U32()
	if err != nil {
		return result.ErrInvalidHeader
	}
	obj, ok := c.session.Get(id)
	if !ok {
		return result.ErrTargetNotFound
	}
	return d.clone(c, obj)
}

func (d *Dispatcher) clone(c *Context, obj ServiceObject) result.Code {
	client, _, err := d.server.Bind(c.session.ctx, obj, false)
	if err != nil {
		logging.Errf("hipc.Dispatcher.clone service=%s err=%v", d.server.name, err)
		return result.ErrInternal
	}
	h, err := d.server.handles.Insert(client)
	if err != nil {
		_ = client.Close()
		return result.ErrInternal
	}
	c.MoveHandle(h)
	return result.Success
}

// invoke resolves c's command on target and runs it.
func (d *Dispatcher) invoke(c *Context, target ServiceObject) result.Code {
	start := time.Now()
	entry, ok := target.Commands().Lookup(c.format, c.command)
	if !ok {
		code := d.missing(c, target, c.format.String())
		d.observe(c, "unknown", code, time.Since(start))
		return code
	}
	code := entry.Invoke(target, c)
	elapsed := time.Since(start)
	logging.Debugf(
		"hipc.Dispatcher.invoke service=%s object=%s format=%s cmd=%d name=%s result=%s",
		d.server.name, objectName(target), c.format, c.command, entry.Name, code.String(),
	)
	d.observe(c, entry.Name, code, elapsed)
	return code
}

func (d *Dispatcher) observe(c *Context, name string, code result.Code, elapsed time.Duration) {
	if o := d.server.opts.Observer; o != nil {
		o.Dispatched(d.server.name, c.format, c.command, name, code, elapsed)
	}
}

func (d *Dispatcher) missing(c *Context, target ServiceObject, kind string) result.Code {
	switch d.server.opts.UnknownCommand {
	case PolicyIgnore:
		logging.Warnf(
			"hipc.Dispatcher.missing stubbed service=%s object=%s format=%s cmd=%d",
			d.server.name, objectName(target), kind, c.command,
		)
		return result.Success
	case PolicyFatal:
		d.abort(fmt.Errorf("%w: service=%s object=%s format=%s cmd=%d",
			ErrUnknownCommand, d.server.name, objectName(target), kind, c.command))
	}
	logging.Warnf(
		"hipc.Dispatcher.missing service=%s object=%s format=%s cmd=%d",
		d.server.name, objectName(target), kind, c.command,
	)
	return result.ErrUnknownCommandID
}

func (d *Dispatcher) abort(err error) {
	abort := d.server.opts.Abort
	if abort == nil {
		abort = defaultAbort
	}
	abort(err)
}

// acceptHandles places inbound capabilities in the server's handle table.
// When the table cannot hold all of them none are kept, moved objects are
// closed, and the request fails with ErrOutOfHandles.
func (d *Dispatcher) acceptHandles(c *Context, req kernel.Message) result.Code {
	if len(req.Copy)+len(req.Move) == 0 {
		return result.Success
	}
	c.inObjs = make(map[kernel.Handle]any, len(req.Copy)+len(req.Move))
	for _, obj := range req.Copy {
		h, err := d.server.handles.Insert(obj)
		if err != nil {
			return d.refuseHandles(c, req, err)
		}
		c.inCopy = append(c.inCopy, h)
		c.inObjs[h] = obj
	}
	for i, obj := range req.Move {
		h, err := d.server.handles.Insert(obj)
		if err != nil {
			for _, rest := range req.Move[i:] {
				_ = kernel.CloseObject(rest)
			}
			return d.refuseHandles(c, req, err)
		}
		c.inMove = append(c.inMove, h)
		c.inObjs[h] = obj
	}
	return result.Success
}

func (d *Dispatcher) refuseHandles(c *Context, req kernel.Message, err error) result.Code {
	logging.Warnf(
		"hipc.Dispatcher.acceptHandles service=%s copy=%d move=%d err=%v",
		d.server.name, len(req.Copy), len(req.Move), err,
	)
	d.releaseHandles(c)
	c.inCopy, c.inMove = nil, nil
	return result.ErrOutOfHandles
}

// discardMoves closes moved capabilities on a request no handler will see.
func discardMoves(req kernel.Message) {
	for _, obj := range req.Move {
		_ = kernel.CloseObject(obj)
	}
}

// releaseHandles drops inbound capabilities the handler neither took nor
// retained. Copies are only unreferenced; moved objects are closed.
func (d *Dispatcher) releaseHandles(c *Context) {
	for _, h := range c.inCopy {
		if !c.retained[h] {
			d.server.handles.TakeSame(h, c.inObjs[h])
		}
	}
	for _, h := range c.inMove {
		if c.retained[h] {
			continue
		}
		if obj := c.inObjs[h]; d.server.handles.TakeSame(h, obj) {
			_ = kernel.CloseObject(obj)
		}
	}
}

// encode frames raw and resolves outbound handles into transferable objects.
func (d *Dispatcher) encode(c *Context, tag protocol.MessageType, raw []byte) (kernel.Message, error) {
	msg := kernel.Message{Data: protocol.EncodeMessage(tag, raw)}
	for _, h := range c.outCopy {
		obj, ok := d.server.handles.Get(h)
		if !ok {
			logging.Warnf("hipc.Dispatcher.encode invalid copy handle=%d service=%s", h, d.server.name)
			continue
		}
		msg.Copy = append(msg.Copy, obj)
	}
	for _, h := range c.outMove {
		obj, ok := d.server.handles.Take(h)
		if !ok {
			logging.Warnf("hipc.Dispatcher.encode invalid move handle=%d service=%s", h, d.server.name)
			continue
		}
		msg.Move = append(msg.Move, obj)
	}
	return msg, nil
}

func objectName(obj ServiceObject) string {
	if n, ok := obj.(Named); ok {
		return n.ServiceName()
	}
	return fmt.Sprintf("%T", obj)
}
