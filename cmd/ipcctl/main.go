package main

import (
	"fmt"
	"os"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"

	"github.com/danmuck/capipc/internal/logging"
)

func version() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "ipcctl",
		Short:         "Run and exercise a capipc registry",
		Version:       fmt.Sprintf("%s %s/%s", version(), runtime.GOOS, runtime.GOARCH),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "path to config TOML (default: built-in defaults)")
	root.AddCommand(newServeCommand(), newConfigCommand(), newSelftestCommand())
	return root
}

func main() {
	logging.ConfigureRuntime()
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ipcctl: %v\n", err)
		os.Exit(1)
	}
}
