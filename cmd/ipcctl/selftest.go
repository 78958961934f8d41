package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/danmuck/capipc/internal/config"
	"github.com/danmuck/capipc/internal/node"
	"github.com/danmuck/capipc/internal/services/kv"
)

func newSelftestCommand() *cobra.Command {
	var light bool
	cmd := &cobra.Command{
		Use:   "selftest",
		Short: "Boot an in-process registry and round-trip a value through kv:u",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			return selftest(cmd.Context(), cfg, light, cmd.OutOrStdout())
		},
	}
	runtimeFlags(cmd.Flags())
	cmd.Flags().BoolVar(&light, "light", false, "talk to the registry in the light format")
	return cmd
}

func selftest(ctx context.Context, cfg config.Config, light bool, out io.Writer) error {
	cfg.AdminAddr = ""
	if !hasFallback(cfg, kv.ServiceName) {
		cfg.FallbackServices = append(cfg.FallbackServices, kv.ServiceName)
	}
	n, err := node.New(cfg, node.Options{Name: "selftest"})
	if err != nil {
		return err
	}
	if err := n.Start(ctx); err != nil {
		return err
	}
	defer n.Close()

	step := func(format string, args ...any) {
		fmt.Fprintf(out, "ok   "+format+"\n", args...)
	}

	sm, err := n.Connect(light)
	if err != nil {
		return fmt.Errorf("connect registry: %w", err)
	}
	defer sm.Close(ctx)
	if err := sm.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	step("initialize light=%t", light)

	svc, err := sm.GetService(ctx, kv.ServiceName)
	if err != nil {
		return fmt.Errorf("get service %s: %w", kv.ServiceName, err)
	}
	if svc == nil {
		return fmt.Errorf("get service %s: stubbed by policy", kv.ServiceName)
	}
	defer svc.Close(ctx)
	step("get_service name=%s", kv.ServiceName)

	self, err := svc.ConvertToDomain(ctx)
	if err != nil {
		return fmt.Errorf("convert to domain: %w", err)
	}
	step("convert_to_domain self=%d", self)

	store, err := kv.Open(ctx, svc)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	step("open_store object=%d", store.ObjectID())

	const key, value = "selftest", "hello"
	if err := store.Set(ctx, key, []byte(value)); err != nil {
		return fmt.Errorf("set: %w", err)
	}
	got, err := store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("get: %w", err)
	}
	if string(got) != value {
		return fmt.Errorf("get: value=%q want %q", got, value)
	}
	step("set/get key=%s value=%s", key, got)

	if err := store.Close(ctx); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	step("close_object object=%d", store.ObjectID())

	for _, info := range n.Registry().Services() {
		fmt.Fprintf(out, "svc  name=%s fallback=%t active=%d\n", info.Name, info.Fallback, info.ActiveSessions)
	}
	return nil
}

func hasFallback(cfg config.Config, name string) bool {
	for _, v := range cfg.FallbackServices {
		if v == name {
			return true
		}
	}
	return false
}
