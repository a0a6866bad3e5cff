package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	workspaceRoot string
	verbose       bool
)

const version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:   "orchestrald",
	Short: "Drive one Refiner/Builder/Verifier/Gatekeeper run",
	Long: `orchestrald runs the refine/build/verify/gate pipeline against a
workspace: a Refiner clarifies the briefing, a Builder implements it, a
Verifier runs tests, and a Gatekeeper decides pass/fail/retry. A completed
run's Merge-Readiness Pack lands under .orchestral/runs/<run-id>/mrp/.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "orchestrald:", err)
		os.Exit(1)
	}
}

func init() {
	cwd, _ := os.Getwd()
	rootCmd.PersistentFlags().StringVar(&workspaceRoot, "workspace", cwd, "Workspace root to orchestrate against")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
}
