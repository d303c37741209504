// solverbench drives named solver scenarios and benchmarks from the
// command line. It is a demo harness, not part of the solver core: every
// scene it builds goes through the same public API any caller would use.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "solverbench",
		Short: "Scenario runner and benchmark harness for the constraint solver core",
		Long: `solverbench builds small rigid-body scenes (welded pairs, pendulums,
box stacks, gear trains) through the solver's public API, steps them with a
configurable sub-stepping setup, and reports convergence metrics or
throughput.`,
	}

	rootCmd.AddCommand(
		newRunCommand(),
		newScenarioCommand(),
		newBenchCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
