package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/danmuck/capipc/internal/configwatch"
	"github.com/danmuck/capipc/internal/logging"
	"github.com/danmuck/capipc/internal/node"
)

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the registry, fallback services and admin HTTP until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			n, err := node.New(cfg, node.Options{Name: "ipcctl"})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if path != "" {
				w, err := configwatch.New(path, configwatch.DefaultOptions())
				if err != nil {
					logging.Warnf("ipcctl.serve config watch disabled path=%s err=%v", path, err)
				} else {
					go func() { _ = w.Run(ctx) }()
				}
			}
			return n.Run(ctx)
		},
	}
	runtimeFlags(cmd.Flags())
	return cmd
}
