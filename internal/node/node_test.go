package node

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/danmuck/capipc/internal/config"
	"github.com/danmuck/capipc/internal/result"
	"github.com/danmuck/capipc/internal/services/kv"
	"github.com/danmuck/capipc/internal/testutil/testlog"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.AdminAddr = ""
	return cfg
}

func TestNewRejectsUnknownFallback(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig()
	cfg.FallbackServices = []string{"nope:u"}
	if _, err := New(cfg, Options{}); !errors.Is(err, ErrUnknownFallback) {
		t.Fatalf("expected ErrUnknownFallback, got %v", err)
	}
}

func TestNodeResolvesFallbackThroughRegistry(t *testing.T) {
	testlog.Start(t)
	n, err := New(testConfig(), Options{Name: "test"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()
	if err := n.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer n.Close()

	sm, err := n.Connect(false)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := sm.Initialize(ctx); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	svc, err := sm.GetService(ctx, kv.ServiceName)
	if err != nil || svc == nil {
		t.Fatalf("get kv: %v", err)
	}
	if _, err := svc.ConvertToDomain(ctx); err != nil {
		t.Fatalf("convert: %v", err)
	}
	store, err := kv.Open(ctx, svc)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := store.Set(ctx, "k", []byte("v")); err != nil {
		t.Fatalf("set: %v", err)
	}
	if v, err := store.Get(ctx, "k"); err != nil || string(v) != "v" {
		t.Fatalf("get=%q err=%v", v, err)
	}
	if _, err := sm.GetService(ctx, "absent"); !errors.Is(err, result.ErrServiceNotFound) {
		t.Fatalf("absent service: %v", err)
	}
	_ = svc.Close(ctx)
	_ = sm.Close(ctx)
}

func TestHTTPRouterReflectsReadiness(t *testing.T) {
	testlog.Start(t)
	n, err := New(testConfig(), Options{Name: "test"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	router := n.HTTPRouter()

	readyStatus := func() int {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
		return w.Code
	}
	if code := readyStatus(); code != http.StatusServiceUnavailable {
		t.Fatalf("ready before start=%d", code)
	}
	if err := n.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if code := readyStatus(); code != http.StatusOK {
		t.Fatalf("ready after start=%d", code)
	}
	n.Close()
	if code := readyStatus(); code != http.StatusServiceUnavailable {
		t.Fatalf("ready after close=%d", code)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig()
	cfg.AdminAddr = "127.0.0.1:0"
	n, err := New(cfg, Options{})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
	if n.Ready() {
		t.Fatalf("node still ready after run returned")
	}
}
