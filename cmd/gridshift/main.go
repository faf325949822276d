package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gridshift-io/gridshift/internal/commands"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "gridshift",
		Short: "Decision and monitoring control plane for spot-instance fleets",
		Long: `Gridshift coordinates a fleet of remote agents running on interruptible
cloud capacity. It ingests pool price telemetry, reacts to interruption
signals, tracks command execution, and hot-swaps pluggable decision engines
behind a fixed input/output contract.`,
		Version: version,
	}

	root.AddCommand(
		commands.NewInitCmd(),
		commands.NewServeCmd(),
		commands.NewStatusCmd(),
		commands.NewMonitorCmd(),
		commands.NewAgentCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
