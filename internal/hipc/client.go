package hipc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/danmuck/capipc/internal/kernel"
	"github.com/danmuck/capipc/internal/protocol"
	"github.com/danmuck/capipc/internal/result"
)

// Reply is a decoded response.
type Reply struct {
	Result  result.Code
	Payload []byte
	Objects []uint32
	Copy    []any
	Move    []any
}

// Err returns Result as an error, or nil on success.
func (r Reply) Err() error {
	if r.Result.IsSuccess() {
		return nil
	}
	return r.Result
}

// Reader reads the response payload.
func (r Reply) Reader() *protocol.Reader {
	return protocol.NewReader(r.Payload)
}

// Session wraps the i-th moved capability as a client, when it is a session.
func (r Reply) Session(i int) (*Client, bool) {
	if i < 0 || i >= len(r.Move) {
		return nil, false
	}
	cs, ok := r.Move[i].(*kernel.ClientSession)
	if !ok {
		return nil, false
	}
	return NewClient(cs), true
}

// Client issues requests over one client session. After ConvertToDomain,
// Invoke addresses the domain root and InvokeObject addresses published
// objects.
type Client struct {
	end *kernel.ClientSession

	mu     sync.Mutex
	domain bool
	self   uint32
}

func NewClient(end *kernel.ClientSession) *Client {
	return &Client{end: end}
}

func (c *Client) End() *kernel.ClientSession {
	return c.end
}

// IsDomain reports whether ConvertToDomain has succeeded on this client.
func (c *Client) IsDomain() (bool, uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.domain, c.self
}

// Send exchanges one raw message.
func (c *Client) Send(ctx context.Context, msg kernel.Message) (kernel.Message, error) {
	return c.end.SendSync(ctx, msg)
}

// Invoke sends a rich request to the session root.
func (c *Client) Invoke(ctx context.Context, cmd uint32, args []byte) (Reply, error) {
	return c.InvokeWith(ctx, cmd, args, nil, nil)
}

// InvokeWith is Invoke with capabilities attached.
func (c *Client) InvokeWith(ctx context.Context, cmd uint32, args []byte, copies, moves []any) (Reply, error) {
	domain, self := c.IsDomain()
	if domain {
		return c.invokeDomain(ctx, self, cmd, args, nil, copies, moves)
	}
	msg := kernel.Message{
		Data: protocol.EncodeMessage(protocol.MessageRequest, protocol.EncodeRichBody(cmd, args)),
		Copy: copies,
		Move: moves,
	}
	resp, err := c.end.SendSync(ctx, msg)
	if err != nil {
		return Reply{}, err
	}
	raw, err := expect(resp, protocol.MessageRequest)
	if err != nil {
		return Reply{}, err
	}
	h, payload, err := protocol.DecodeRichResponse(raw)
	if err != nil {
		return Reply{}, err
	}
	return Reply{Result: h.Result, Payload: payload, Copy: resp.Copy, Move: resp.Move}, nil
}

// InvokeObject sends a rich request to a published domain object.
func (c *Client) InvokeObject(ctx context.Context, object, cmd uint32, args []byte, inObjects ...uint32) (Reply, error) {
	if domain, _ := c.IsDomain(); !domain {
		return Reply{}, ErrNotDomainClient
	}
	return c.invokeDomain(ctx, object, cmd, args, inObjects, nil, nil)
}

func (c *Client) invokeDomain(ctx context.Context, object, cmd uint32, args []byte, inObjects []uint32, copies, moves []any) (Reply, error) {
	raw, err := protocol.EncodeDomainRequest(protocol.DomainSendMessage, object, protocol.EncodeRichBody(cmd, args), inObjects)
	if err != nil {
		return Reply{}, err
	}
	msg := kernel.Message{
		Data: protocol.EncodeMessage(protocol.MessageRequest, raw),
		Copy: copies,
		Move: moves,
	}
	resp, err := c.end.SendSync(ctx, msg)
	if err != nil {
		return Reply{}, err
	}
	out, err := expect(resp, protocol.MessageRequest)
	if err != nil {
		return Reply{}, err
	}
	h, payload, ids, err := protocol.DecodeDomainResponse(out)
	if err != nil {
		return Reply{}, err
	}
	return Reply{Result: h.Result, Payload: payload, Objects: ids, Copy: resp.Copy, Move: resp.Move}, nil
}

// CloseObject deletes a published domain object on the server.
func (c *Client) CloseObject(ctx context.Context, object uint32) error {
	if domain, _ := c.IsDomain(); !domain {
		return ErrNotDomainClient
	}
	raw, err := protocol.EncodeDomainRequest(protocol.DomainClose, object, nil, nil)
	if err != nil {
		return err
	}
	resp, err := c.end.SendSync(ctx, kernel.Message{Data: protocol.EncodeMessage(protocol.MessageRequest, raw)})
	if err != nil {
		return err
	}
	out, err := expect(resp, protocol.MessageRequest)
	if err != nil {
		return err
	}
	h, _, _, err := protocol.DecodeDomainResponse(out)
	if err != nil {
		return err
	}
	if h.Result.IsFailure() {
		return h.Result
	}
	return nil
}

// InvokeLight sends a light-format request.
func (c *Client) InvokeLight(ctx context.Context, cmd uint32, args []byte) (Reply, error) {
	tag := protocol.LightTag(cmd)
	resp, err := c.end.SendSync(ctx, kernel.Message{Data: protocol.EncodeMessage(tag, args)})
	if err != nil {
		return Reply{}, err
	}
	raw, err := expect(resp, tag)
	if err != nil {
		return Reply{}, err
	}
	code, payload, err := protocol.DecodeLightResponse(raw)
	if err != nil {
		return Reply{}, err
	}
	return Reply{Result: code, Payload: payload, Copy: resp.Copy, Move: resp.Move}, nil
}

func (c *Client) control(ctx context.Context, cmd protocol.ControlCommand, args []byte) (Reply, error) {
	msg := kernel.Message{Data: protocol.EncodeMessage(protocol.MessageControl, protocol.EncodeRichBody(uint32(cmd), args))}
	resp, err := c.end.SendSync(ctx, msg)
	if err != nil {
		return Reply{}, err
	}
	raw, err := expect(resp, protocol.MessageControl)
	if err != nil {
		return Reply{}, err
	}
	h, payload, err := protocol.DecodeRichResponse(raw)
	if err != nil {
		return Reply{}, err
	}
	return Reply{Result: h.Result, Payload: payload, Copy: resp.Copy, Move: resp.Move}, nil
}

// ConvertToDomain promotes the session and records the root object's id.
func (c *Client) ConvertToDomain(ctx context.Context) (uint32, error) {
	r, err := c.control(ctx, protocol.ControlConvertToDomain, nil)
	if err != nil {
		return 0, err
	}
	if err := r.Err(); err != nil {
		return 0, err
	}
	id, err := r.Reader().U32()
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	c.domain = true
	c.self = id
	c.mu.Unlock()
	return id, nil
}

func (c *Client) QueryPointerBufferSize(ctx context.Context) (uint16, error) {
	r, err := c.control(ctx, protocol.ControlQueryPointerBuffer, nil)
	if err != nil {
		return 0, err
	}
	if err := r.Err(); err != nil {
		return 0, err
	}
	return r.Reader().U16()
}

// Clone opens a second session bound to the same root object.
func (c *Client) Clone(ctx context.Context) (*Client, error) {
	r, err := c.control(ctx, protocol.ControlCloneObject, nil)
	if err != nil {
		return nil, err
	}
	return movedSession(r)
}

// CopyFromDomain opens a plain session bound to a published domain object.
func (c *Client) CopyFromDomain(ctx context.Context, object uint32) (*Client, error) {
	r, err := c.control(ctx, protocol.ControlCopyFromDomain, protocol.NewWriter().U32(object).Bytes())
	if err != nil {
		return nil, err
	}
	return movedSession(r)
}

// Close asks the server to tear the session down, then closes the channel.
func (c *Client) Close(ctx context.Context) error {
	_, err := c.end.SendSync(ctx, kernel.Message{Data: protocol.EncodeMessage(protocol.MessageClose, nil)})
	_ = c.end.Close()
	if err != nil && !errors.Is(err, kernel.ErrSessionClosed) {
		return err
	}
	return nil
}

func movedSession(r Reply) (*Client, error) {
	if err := r.Err(); err != nil {
		return nil, err
	}
	s, ok := r.Session(0)
	if !ok {
		return nil, fmt.Errorf("%w: no session in reply", kernel.ErrInvalidHandle)
	}
	return s, nil
}

func expect(resp kernel.Message, tag protocol.MessageType) ([]byte, error) {
	h, raw, err := protocol.DecodeMessage(resp.Data)
	if err != nil {
		return nil, err
	}
	if h.Type != tag {
		return nil, fmt.Errorf("%w: got tag=%d want=%d", protocol.ErrUnknownMessageType, h.Type, tag)
	}
	return raw, nil
}
