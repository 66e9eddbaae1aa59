package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/opsrelay/opsrelay/internal/commands"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "opsrelay",
		Short: "Chat-driven dispatch console for remote CI workflows",
		Long: `opsrelay triggers remote CI workflows, rediscovers the runs they produce
via correlation tokens, and polls them to completion. Fire-and-forget
dispatch endpoints return no run handle; opsrelay closes that loop and
reports the verdict.`,
		Version: version,
	}

	root.AddCommand(
		commands.NewInitCmd(),
		commands.NewDispatchCmd(),
		commands.NewStatusCmd(),
		commands.NewServeCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
