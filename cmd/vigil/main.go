package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vigil-systems/vigil/internal/commands"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "vigil",
		Short: "Metrics collection and threshold alerting engine",
		Long: `Vigil collects counters, gauges, and histograms in an in-process registry,
exposes them in text exposition format, and evaluates threshold rules
against them on a fixed tick. Rules that stay true for their sustain
window fire notifications through the configured sinks.`,
		Version: version,
	}

	root.AddCommand(
		commands.NewServeCmd(),
		commands.NewCheckCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
