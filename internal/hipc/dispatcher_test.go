package hipc

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/danmuck/capipc/internal/kernel"
	"github.com/danmuck/capipc/internal/protocol"
	"github.com/danmuck/capipc/internal/result"
	"github.com/danmuck/capipc/internal/testutil/testlog"
)

func TestDispatchPlainRichCommand(t *testing.T) {
	testlog.Start(t)
	srv, _ := newTestServer(t, Options{})
	root := &rootService{}
	s := newTestSession(t, srv, root)

	h, payload := decodeRich(t, dispatch(t, s, richRequest(5, nil)))
	if h.Magic != protocol.OutMagic || h.Result != result.Success {
		t.Fatalf("unexpected header %+v", h)
	}
	v, err := protocol.NewReader(payload).U32()
	if err != nil || v != 0xba5 {
		t.Fatalf("payload: v=%#x err=%v", v, err)
	}
	if root.calls.Load() != 1 {
		t.Fatalf("expected one call, got %d", root.calls.Load())
	}
}

func TestDispatchReadsArguments(t *testing.T) {
	testlog.Start(t)
	srv, _ := newTestServer(t, Options{})
	s := newTestSession(t, srv, &rootService{})

	args := protocol.NewWriter().U32(40).U32(2).Bytes()
	h, payload := decodeRich(t, dispatch(t, s, richRequest(7, args)))
	if h.Result != result.Success {
		t.Fatalf("result=%s", h.Result)
	}
	if v, _ := protocol.NewReader(payload).U32(); v != 42 {
		t.Fatalf("sum=%d", v)
	}

	h, _ = decodeRich(t, dispatch(t, s, richRequest(7, protocol.NewWriter().U32(1).Bytes())))
	if h.Result != result.ErrInvalidHeader {
		t.Fatalf("short args result=%s", h.Result)
	}
}

func TestDispatchLight(t *testing.T) {
	testlog.Start(t)
	srv, _ := newTestServer(t, Options{})
	s := newTestSession(t, srv, &rootService{})

	resp := dispatch(t, s, kernel.Message{Data: protocol.EncodeLightRequest(1, nil)})
	hdr, raw, err := protocol.DecodeMessage(resp.Data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if hdr.Type != protocol.LightTag(1) {
		t.Fatalf("tag=%d", hdr.Type)
	}
	code, payload, err := protocol.DecodeLightResponse(raw)
	if err != nil || code != result.Success || !bytes.Equal(payload, []byte{'p'}) {
		t.Fatalf("light response code=%s payload=%q err=%v", code, payload, err)
	}

	// rich-only ids are not visible through the light table
	resp = dispatch(t, s, kernel.Message{Data: protocol.EncodeLightRequest(5, nil)})
	_, raw, _ = protocol.DecodeMessage(resp.Data)
	code, _, _ = protocol.DecodeLightResponse(raw)
	if code != result.ErrUnknownCommandID {
		t.Fatalf("expected unknown command, got %s", code)
	}
}

func TestDispatchRejectsBadMagicBeforeLookup(t *testing.T) {
	testlog.Start(t)
	obs := &observerSpy{}
	srv, _ := newTestServer(t, Options{Observer: obs})
	root := &rootService{}
	s := newTestSession(t, srv, root)

	body := protocol.EncodeRichBody(5, nil)
	body[0] ^= 0xff
	_, err := srv.Dispatcher().Dispatch(context.Background(), s, kernel.Message{
		Data: protocol.EncodeMessage(protocol.MessageRequest, body),
	})
	if !errors.Is(err, protocol.ErrInvalidMagic) {
		t.Fatalf("expected ErrInvalidMagic, got %v", err)
	}
	if root.calls.Load() != 0 {
		t.Fatalf("handler ran on a rejected request")
	}
	if obs.rejected != 1 {
		t.Fatalf("rejections observed=%d", obs.rejected)
	}
}

func TestDispatchRejectsNewerVersion(t *testing.T) {
	testlog.Start(t)
	srv, _ := newTestServer(t, Options{})
	root := &rootService{}
	s := newTestSession(t, srv, root)

	body := protocol.EncodeRichBody(5, nil)
	body[4] = 2
	_, err := srv.Dispatcher().Dispatch(context.Background(), s, kernel.Message{
		Data: protocol.EncodeMessage(protocol.MessageRequest, body),
	})
	if !errors.Is(err, protocol.ErrUnsupportedVersion) {
		t.Fatalf("expected ErrUnsupportedVersion, got %v", err)
	}
	if root.calls.Load() != 0 {
		t.Fatalf("handler ran on a rejected request")
	}
}

func TestDispatchRejectsTruncatedMessage(t *testing.T) {
	testlog.Start(t)
	srv, _ := newTestServer(t, Options{})
	s := newTestSession(t, srv, &rootService{})

	_, err := srv.Dispatcher().Dispatch(context.Background(), s, kernel.Message{Data: []byte{4, 0}})
	if !errors.Is(err, protocol.ErrTruncated) {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
}

func TestMissingCommandPolicies(t *testing.T) {
	cases := []struct {
		policy Policy
		want   result.Code
		aborts int
	}{
		{PolicyIgnore, result.Success, 0},
		{PolicyError, result.ErrUnknownCommandID, 0},
		{PolicyFatal, result.ErrUnknownCommandID, 1},
	}
	for _, tc := range cases {
		t.Run(string(tc.policy), func(t *testing.T) {
			testlog.Start(t)
			obs := &observerSpy{}
			srv, spy := newTestServer(t, Options{UnknownCommand: tc.policy, Observer: obs})
			s := newTestSession(t, srv, &rootService{})

			h, _ := decodeRich(t, dispatch(t, s, richRequest(99, nil)))
			if h.Result != tc.want {
				t.Fatalf("result=%s want=%s", h.Result, tc.want)
			}
			if len(obs.codes) != 1 || obs.codes[0] != tc.want || obs.dispatched[0] != "unknown" {
				t.Fatalf("observed names=%v codes=%v", obs.dispatched, obs.codes)
			}
			if spy.count() != tc.aborts {
				t.Fatalf("aborts=%d want=%d", spy.count(), tc.aborts)
			}
			if tc.aborts > 0 && !errors.Is(spy.errs[0], ErrUnknownCommand) {
				t.Fatalf("abort err=%v", spy.errs[0])
			}
		})
	}
}

func TestEmptyOutputHeaderAborts(t *testing.T) {
	testlog.Start(t)
	srv, spy := newTestServer(t, Options{})
	s := newTestSession(t, srv, &rootService{})

	h, _ := decodeRich(t, dispatch(t, s, richRequest(8, nil)))
	if spy.count() != 1 || !errors.Is(spy.errs[0], ErrEmptyOutputHeader) {
		t.Fatalf("expected one empty-header abort, got %v", spy.errs)
	}
	if h.Result != result.ErrInternal {
		t.Fatalf("result=%s", h.Result)
	}
}

func TestDomainMakeObjectAndInvoke(t *testing.T) {
	testlog.Start(t)
	srv, _ := newTestServer(t, Options{})
	root := &rootService{}
	s := newTestSession(t, srv, root)
	self := s.PromoteToDomain()

	h, _, ids := decodeDomain(t, dispatch(t, s, domainRequest(t, protocol.DomainSendMessage, self, 6, nil)))
	if h.Result != result.Success {
		t.Fatalf("open child result=%s", h.Result)
	}
	if len(ids) != 1 || ids[0] == self {
		t.Fatalf("unexpected output ids %v (self=%d)", ids, self)
	}

	h, payload, _ := decodeDomain(t, dispatch(t, s, domainRequest(t, protocol.DomainSendMessage, ids[0], 0, nil)))
	if h.Result != result.Success {
		t.Fatalf("child value result=%s", h.Result)
	}
	if v, _ := protocol.NewReader(payload).U32(); v != 42 {
		t.Fatalf("child value=%d", v)
	}
	if root.children[0].calls.Load() != 1 {
		t.Fatalf("child handler did not run")
	}
}

func TestDomainInputObjects(t *testing.T) {
	testlog.Start(t)
	srv, _ := newTestServer(t, Options{})
	s := newTestSession(t, srv, &rootService{})
	s.PromoteToDomain()

	a, err := s.Add(&childService{value: 7})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	b, err := s.Add(&childService{value: 9})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	target, _ := s.Add(&childService{})

	h, payload, _ := decodeDomain(t, dispatch(t, s, domainRequest(t, protocol.DomainSendMessage, target, 1, nil, b, a)))
	if h.Result != result.Success {
		t.Fatalf("result=%s", h.Result)
	}
	r := protocol.NewReader(payload)
	first, _ := r.U32()
	second, _ := r.U32()
	if first != 9 || second != 7 {
		t.Fatalf("inputs resolved to %d,%d", first, second)
	}

	h, _, _ = decodeDomain(t, dispatch(t, s, domainRequest(t, protocol.DomainSendMessage, target, 1, nil, 999)))
	if h.Result != result.ErrInvalidInObjectID {
		t.Fatalf("unknown input result=%s", h.Result)
	}
}

func TestDomainUnknownTarget(t *testing.T) {
	testlog.Start(t)
	srv, spy := newTestServer(t, Options{UnknownCommand: PolicyFatal})
	root := &rootService{}
	s := newTestSession(t, srv, root)
	s.PromoteToDomain()

	moved := &closeSpy{}
	req := domainRequest(t, protocol.DomainSendMessage, 77, 5, nil)
	req.Move = []any{moved}
	h, _, ids := decodeDomain(t, dispatch(t, s, req))
	if h.Result != result.ErrTargetNotFound || len(ids) != 0 {
		t.Fatalf("result=%s ids=%v", h.Result, ids)
	}
	if moved.closed.Load() != 1 || srv.Handles().Len() != 0 {
		t.Fatalf("moved capability closed=%d handles=%d", moved.closed.Load(), srv.Handles().Len())
	}
	if spy.count() != 0 {
		t.Fatalf("unknown target must not abort")
	}
	if root.calls.Load() != 0 {
		t.Fatalf("root handler ran for unknown target")
	}
}

func TestDomainCloseSkipsHandlers(t *testing.T) {
	testlog.Start(t)
	srv, _ := newTestServer(t, Options{})
	root := &rootService{}
	s := newTestSession(t, srv, root)
	s.PromoteToDomain()

	child := &childService{}
	id, err := s.Add(child)
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	for _, target := range []uint32{id, id, 4242} {
		resp := dispatch(t, s, domainRequest(t, protocol.DomainClose, target, 0, nil))
		_, raw, err := protocol.DecodeMessage(resp.Data)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if !bytes.Equal(raw, protocol.DomainCloseResponse()) {
			t.Fatalf("close reply is not all zero: %x", raw)
		}
	}
	if root.calls.Load() != 0 || child.calls.Load() != 0 {
		t.Fatalf("close invoked a handler")
	}
	if child.disposed.Load() != 1 {
		t.Fatalf("child disposed %d times", child.disposed.Load())
	}
	if _, ok := s.Get(id); ok {
		t.Fatalf("closed object still resident")
	}
}

func TestDomainOtherSubcommandGoesToRoot(t *testing.T) {
	testlog.Start(t)
	srv, _ := newTestServer(t, Options{})
	root := &rootService{}
	s := newTestSession(t, srv, root)
	s.PromoteToDomain()

	h, _, _ := decodeDomain(t, dispatch(t, s, domainRequest(t, protocol.DomainCommand(0), 12345, 0, nil)))
	if h.Result != result.Success || root.calls.Load() != 1 {
		t.Fatalf("result=%s calls=%d", h.Result, root.calls.Load())
	}
}

func TestControlConvertToDomain(t *testing.T) {
	testlog.Start(t)
	srv, _ := newTestServer(t, Options{})
	s := newTestSession(t, srv, &rootService{})

	var first uint32
	for i := 0; i < 2; i++ {
		h, payload := decodeRich(t, dispatch(t, s, controlRequest(protocol.ControlConvertToDomain, nil)))
		if h.Result != result.Success {
			t.Fatalf("result=%s", h.Result)
		}
		id, _ := protocol.NewReader(payload).U32()
		if i == 0 {
			first = id
		} else if id != first {
			t.Fatalf("promotion not idempotent: %d then %d", first, id)
		}
	}
	if !s.IsDomain() || first == 0 {
		t.Fatalf("session not promoted (id=%d)", first)
	}
}

func TestControlQueryPointerBufferSize(t *testing.T) {
	testlog.Start(t)
	srv, _ := newTestServer(t, Options{PointerBufferSize: 0x500})
	s := newTestSession(t, srv, &rootService{})

	h, payload := decodeRich(t, dispatch(t, s, controlRequest(protocol.ControlQueryPointerBuffer, nil)))
	if h.Result != result.Success {
		t.Fatalf("result=%s", h.Result)
	}
	if v, _ := protocol.NewReader(payload).U16(); v != 0x500 {
		t.Fatalf("pointer buffer size=%#x", v)
	}
}

func TestControlUnknownFollowsPolicy(t *testing.T) {
	testlog.Start(t)
	srv, _ := newTestServer(t, Options{})
	s := newTestSession(t, srv, &rootService{})

	h, _ := decodeRich(t, dispatch(t, s, controlRequest(protocol.ControlCommand(9), nil)))
	if h.Result != result.ErrUnknownCommandID {
		t.Fatalf("result=%s", h.Result)
	}
}

func TestControlCopyFromDomainUnknownID(t *testing.T) {
	testlog.Start(t)
	srv, _ := newTestServer(t, Options{})
	s := newTestSession(t, srv, &rootService{})
	s.PromoteToDomain()

	h, _ := decodeRich(t, dispatch(t, s, controlRequest(protocol.ControlCopyFromDomain, protocol.NewWriter().U32(55).Bytes())))
	if h.Result != result.ErrTargetNotFound {
		t.Fatalf("result=%s", h.Result)
	}
}

func TestMakeObjectOnPlainSessionMovesSession(t *testing.T) {
	testlog.Start(t)
	srv, _ := newTestServer(t, Options{})
	root := &rootService{}
	s := newTestSession(t, srv, root)

	resp := dispatch(t, s, richRequest(6, nil))
	h, _ := decodeRich(t, resp)
	if h.Result != result.Success {
		t.Fatalf("result=%s", h.Result)
	}
	if len(resp.Move) != 1 {
		t.Fatalf("expected one moved capability, got %d", len(resp.Move))
	}
	if srv.Handles().Len() != 0 {
		t.Fatalf("moved handle left in server table")
	}
	child := NewClient(resp.Move[0].(*kernel.ClientSession))
	r, err := child.Invoke(context.Background(), 0, nil)
	if err != nil || r.Err() != nil {
		t.Fatalf("invoke child: %v %v", err, r.Err())
	}
	if v, _ := r.Reader().U32(); v != 42 {
		t.Fatalf("child value=%d", v)
	}
	if err := child.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	srv.Wait()
	if root.children[0].disposed.Load() != 1 {
		t.Fatalf("child session did not dispose its object")
	}
}

func TestInboundCapabilitiesReleasedAfterRequest(t *testing.T) {
	testlog.Start(t)
	srv, _ := newTestServer(t, Options{})
	s := newTestSession(t, srv, &rootService{})

	copied, moved := &closeSpy{}, &closeSpy{}
	req := richRequest(9, nil)
	req.Copy = []any{copied}
	req.Move = []any{moved}
	h, payload := decodeRich(t, dispatch(t, s, req))
	if h.Result != result.Success {
		t.Fatalf("result=%s", h.Result)
	}
	if live, _ := protocol.NewReader(payload).U32(); live != 2 {
		t.Fatalf("handler saw %d live handles, want 2", live)
	}
	if srv.Handles().Len() != 0 {
		t.Fatalf("handle table len=%d after request", srv.Handles().Len())
	}
	if copied.closed.Load() != 0 {
		t.Fatalf("copied capability was closed")
	}
	if moved.closed.Load() != 1 {
		t.Fatalf("unclaimed moved capability closed %d times", moved.closed.Load())
	}
}

func TestRetainedCapabilitiesOutliveRequest(t *testing.T) {
	testlog.Start(t)
	srv, _ := newTestServer(t, Options{})
	s := newTestSession(t, srv, &rootService{})

	moved := &closeSpy{}
	req := richRequest(10, nil)
	req.Copy = []any{&closeSpy{}}
	req.Move = []any{moved}
	dispatch(t, s, req)
	if srv.Handles().Len() != 2 {
		t.Fatalf("handle table len=%d", srv.Handles().Len())
	}
	if moved.closed.Load() != 0 {
		t.Fatalf("retained capability closed")
	}
}

func TestFullHandleTableFailsRequest(t *testing.T) {
	testlog.Start(t)
	srv, _ := newTestServer(t, Options{HandleTableSize: 2})
	root := &rootService{}
	s := newTestSession(t, srv, root)

	for i := 0; i < 4; i++ {
		req := richRequest(9, nil)
		req.Copy = []any{&closeSpy{}}
		h, payload := decodeRich(t, dispatch(t, s, req))
		if h.Result != result.Success {
			t.Fatalf("request %d result=%s", i, h.Result)
		}
		if live, _ := protocol.NewReader(payload).U32(); live != 1 {
			t.Fatalf("request %d saw %d handles", i, live)
		}
	}

	if _, err := srv.Handles().Insert("pinned"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	moved := &closeSpy{}
	req := richRequest(9, nil)
	req.Copy = []any{&closeSpy{}}
	req.Move = []any{moved}
	calls := root.calls.Load()
	h, _ := decodeRich(t, dispatch(t, s, req))
	if h.Result != result.ErrOutOfHandles {
		t.Fatalf("expected OutOfHandles, got %s", h.Result)
	}
	if root.calls.Load() != calls {
		t.Fatalf("handler ran without its capabilities")
	}
	if srv.Handles().Len() != 1 {
		t.Fatalf("partial insert left behind: len=%d", srv.Handles().Len())
	}
	if moved.closed.Load() != 1 {
		t.Fatalf("refused moved capability closed %d times", moved.closed.Load())
	}
}

func TestDomainCloseOfRootKeepsRoot(t *testing.T) {
	testlog.Start(t)
	srv, _ := newTestServer(t, Options{})
	root := &rootService{}
	s, err := srv.NewSession(context.Background(), root)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	rootID := s.PromoteToDomain()

	dispatch(t, s, domainRequest(t, protocol.DomainClose, rootID, 0, nil))
	if root.disposed.Load() != 0 {
		t.Fatalf("domain close disposed the root")
	}
	if got, ok := s.Get(rootID); !ok || got != ServiceObject(root) {
		t.Fatalf("root no longer resident under %d", rootID)
	}

	child := &childService{}
	childID, err := s.Add(child)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if childID == rootID {
		t.Fatalf("child reused the root id %d", rootID)
	}

	s.Close()
	if root.disposed.Load() != 1 || child.disposed.Load() != 1 {
		t.Fatalf("root=%d child=%d", root.disposed.Load(), child.disposed.Load())
	}
}

func TestCloseMessageRequestsTeardown(t *testing.T) {
	testlog.Start(t)
	srv, _ := newTestServer(t, Options{})
	s := newTestSession(t, srv, &rootService{})

	_, err := srv.Dispatcher().Dispatch(context.Background(), s, kernel.Message{
		Data: protocol.EncodeMessage(protocol.MessageClose, nil),
	})
	if !errors.Is(err, ErrCloseRequested) {
		t.Fatalf("expected ErrCloseRequested, got %v", err)
	}
}
