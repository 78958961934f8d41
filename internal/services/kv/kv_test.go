package kv

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/danmuck/capipc/internal/hipc"
	"github.com/danmuck/capipc/internal/result"
	"github.com/danmuck/capipc/internal/testutil/testlog"
)

func connect(t *testing.T) (*hipc.Client, *hipc.Server) {
	t.Helper()
	srv := hipc.NewServer(ServiceName, hipc.Options{BufferCapacity: 0x400})
	end, _, err := srv.Bind(context.Background(), NewService(), true)
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	return hipc.NewClient(end), srv
}

func exerciseStore(t *testing.T, h *StoreHandle) {
	t.Helper()
	ctx := context.Background()
	if err := h.Set(ctx, "alpha", []byte("one")); err != nil {
		t.Fatalf("set alpha: %v", err)
	}
	if err := h.Set(ctx, "beta", []byte("two")); err != nil {
		t.Fatalf("set beta: %v", err)
	}
	if err := h.Set(ctx, "alpha", []byte("uno")); err != nil {
		t.Fatalf("overwrite alpha: %v", err)
	}
	v, err := h.Get(ctx, "alpha")
	if err != nil || string(v) != "uno" {
		t.Fatalf("get alpha=%q err=%v", v, err)
	}
	if n, err := h.Count(ctx); err != nil || n != 2 {
		t.Fatalf("count=%d err=%v", n, err)
	}
	keys, err := h.List(ctx, "")
	if err != nil || !reflect.DeepEqual(keys, []string{"alpha", "beta"}) {
		t.Fatalf("list=%v err=%v", keys, err)
	}
	keys, err = h.List(ctx, "b")
	if err != nil || !reflect.DeepEqual(keys, []string{"beta"}) {
		t.Fatalf("list prefix=%v err=%v", keys, err)
	}
	if err := h.Delete(ctx, "alpha"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := h.Get(ctx, "alpha"); !errors.Is(err, result.ErrKeyNotFound) {
		t.Fatalf("get deleted: %v", err)
	}
	if err := h.Delete(ctx, "alpha"); !errors.Is(err, result.ErrKeyNotFound) {
		t.Fatalf("delete missing: %v", err)
	}
	if err := h.Set(ctx, "", []byte("x")); !errors.Is(err, result.ErrInvalidKey) {
		t.Fatalf("empty key: %v", err)
	}
}

func TestStoreOverPlainSession(t *testing.T) {
	testlog.Start(t)
	client, srv := connect(t)
	ctx := context.Background()

	h, err := Open(ctx, client)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if h.ObjectID() != 0 {
		t.Fatalf("plain session returned a domain id")
	}
	exerciseStore(t, h)
	if err := h.Close(ctx); err != nil {
		t.Fatalf("close store: %v", err)
	}
	_ = client.Close(ctx)
	srv.Wait()
}

func TestStoreOverDomain(t *testing.T) {
	testlog.Start(t)
	client, srv := connect(t)
	ctx := context.Background()

	if _, err := client.ConvertToDomain(ctx); err != nil {
		t.Fatalf("convert: %v", err)
	}
	a, err := Open(ctx, client)
	if err != nil {
		t.Fatalf("open a: %v", err)
	}
	b, err := Open(ctx, client)
	if err != nil {
		t.Fatalf("open b: %v", err)
	}
	if a.ObjectID() == 0 || a.ObjectID() == b.ObjectID() {
		t.Fatalf("ids a=%d b=%d", a.ObjectID(), b.ObjectID())
	}
	exerciseStore(t, a)
	if n, err := b.Count(ctx); err != nil || n != 0 {
		t.Fatalf("stores share state: count=%d err=%v", n, err)
	}
	if err := a.Close(ctx); err != nil {
		t.Fatalf("close a: %v", err)
	}
	if _, err := a.Count(ctx); !errors.Is(err, result.ErrTargetNotFound) {
		t.Fatalf("closed store still reachable: %v", err)
	}
	_ = client.Close(ctx)
	srv.Wait()
}

func TestDisposeDropsValues(t *testing.T) {
	testlog.Start(t)
	s := NewStore()
	s.values["k"] = []byte("v")
	s.Dispose()
	if !s.Disposed() || len(s.values) != 0 {
		t.Fatalf("store not disposed")
	}
}
