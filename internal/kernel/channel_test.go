package kernel

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/capipc/internal/testutil/testlog"
)

func echoOnce(t *testing.T, srv *ServerSession) {
	t.Helper()
	msg, err := srv.Receive(context.Background())
	if err != nil {
		t.Errorf("receive: %v", err)
		return
	}
	if err := srv.Reply(Message{Data: append([]byte("re:"), msg.Data...)}); err != nil {
		t.Errorf("reply: %v", err)
	}
}

func TestSendSyncRoundTrip(t *testing.T) {
	testlog.Start(t)
	srv, cli := CreateChannel(64)
	go echoOnce(t, srv)

	got, err := cli.SendSync(context.Background(), Message{Data: []byte("ping")})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if string(got.Data) != "re:ping" {
		t.Fatalf("unexpected reply %q", got.Data)
	}
}

func TestSendSyncRejectsOversizedMessage(t *testing.T) {
	testlog.Start(t)
	_, cli := CreateChannel(4)
	_, err := cli.SendSync(context.Background(), Message{Data: make([]byte, 5)})
	if !errors.Is(err, ErrMessageTooLarge) {
		t.Fatalf("expected ErrMessageTooLarge, got %v", err)
	}
}

func TestCloseWakesBothEnds(t *testing.T) {
	testlog.Start(t)
	srv, cli := CreateChannel(0)

	errCh := make(chan error, 1)
	go func() {
		_, err := srv.Receive(context.Background())
		errCh <- err
	}()
	_ = cli.Close()
	select {
	case err := <-errCh:
		if !errors.Is(err, ErrSessionClosed) {
			t.Fatalf("expected ErrSessionClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("server receive not woken by client close")
	}
	if _, err := cli.SendSync(context.Background(), Message{}); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("send after close: %v", err)
	}
}

func TestRejectSurfacesTransportError(t *testing.T) {
	testlog.Start(t)
	srv, cli := CreateChannel(0)
	boom := errors.New("bad header")
	go func() {
		if _, err := srv.Receive(context.Background()); err == nil {
			_ = srv.Reject(boom)
		}
	}()
	if _, err := cli.SendSync(context.Background(), Message{}); !errors.Is(err, boom) {
		t.Fatalf("expected rejection error, got %v", err)
	}
}

func TestReplyWithoutReceive(t *testing.T) {
	testlog.Start(t)
	srv, _ := CreateChannel(0)
	if err := srv.Reply(Message{}); !errors.Is(err, ErrNoPendingReply) {
		t.Fatalf("expected ErrNoPendingReply, got %v", err)
	}
}

func TestRequestsServedInArrivalOrder(t *testing.T) {
	testlog.Start(t)
	srv, cli := CreateChannel(0)
	const n = 20
	order := make([]byte, 0, n)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < n; i++ {
			msg, err := srv.Receive(context.Background())
			if err != nil {
				return
			}
			order = append(order, msg.Data[0])
			_ = srv.Reply(Message{})
		}
	}()
	for i := 0; i < n; i++ {
		if _, err := cli.SendSync(context.Background(), Message{Data: []byte{byte(i)}}); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	<-done
	for i, b := range order {
		if int(b) != i {
			t.Fatalf("out of order at %d: %v", i, order)
		}
	}
}

func TestConcurrentSendersAllAnswered(t *testing.T) {
	testlog.Start(t)
	srv, cli := CreateChannel(0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		for {
			msg, err := srv.Receive(ctx)
			if err != nil {
				return
			}
			_ = srv.Reply(Message{Data: msg.Data})
		}
	}()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got, err := cli.SendSync(context.Background(), Message{Data: []byte{byte(i)}})
			if err != nil || got.Data[0] != byte(i) {
				t.Errorf("sender %d: data=%v err=%v", i, got.Data, err)
			}
		}(i)
	}
	wg.Wait()
}
