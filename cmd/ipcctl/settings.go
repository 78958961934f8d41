package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"github.com/danmuck/capipc/internal/config"
	"github.com/danmuck/capipc/internal/hipc"
	"github.com/danmuck/capipc/internal/logging"
)

// runtimeFlags registers the overrides shared by serve and selftest.
func runtimeFlags(fs *pflag.FlagSet) {
	fs.String("unknown-command-policy", "", "ignore|error|fatal")
	fs.String("missing-service-policy", "", "ignore|error|fatal")
	fs.Int("buffer-capacity", 0, "message buffer capacity in bytes")
	fs.Int("max-sessions", 0, "bootstrap port session limit (0 = unlimited)")
	fs.String("admin-addr", "", "admin HTTP listen address (empty disables)")
	fs.String("log-level", "", "trace|debug|info|warn|error")
}

// resolveConfig applies defaults, then the file, then CAPIPC_* env, then
// flags the user actually set.
func resolveConfig(cmd *cobra.Command) (config.Config, string, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg := config.Default()
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return config.Config{}, "", err
		}
		cfg = loaded
	}
	cfg, err := config.ApplyEnv(cfg, os.Getenv)
	if err != nil {
		return config.Config{}, "", err
	}

	var flagErr error
	cmd.Flags().Visit(func(f *pflag.Flag) {
		if flagErr != nil {
			return
		}
		v := f.Value.String()
		switch f.Name {
		case "unknown-command-policy":
			cfg.UnknownCommandPolicy, flagErr = hipc.ParsePolicy(v)
		case "missing-service-policy":
			cfg.MissingServicePolicy, flagErr = hipc.ParsePolicy(v)
		case "buffer-capacity":
			cfg.BufferCapacity, _ = cmd.Flags().GetInt(f.Name)
		case "max-sessions":
			cfg.MaxSessions, _ = cmd.Flags().GetInt(f.Name)
		case "admin-addr":
			cfg.AdminAddr = v
		case "log-level":
			cfg.LogLevel = v
		}
	})
	if flagErr != nil {
		return config.Config{}, "", fmt.Errorf("flags: %w", flagErr)
	}
	if err := config.Validate(cfg); err != nil {
		return config.Config{}, "", err
	}
	if os.Getenv(logging.EnvLogLevel) == "" || cmd.Flags().Changed("log-level") {
		level, _ := logging.ParseLevel(cfg.LogLevel)
		logging.SetLevel(level)
	}
	return cfg, path, nil
}
