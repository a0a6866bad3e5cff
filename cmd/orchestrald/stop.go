package main

import (
	"fmt"
	"syscall"

	"github.com/spf13/cobra"
)

func init() {
	stopCmd := &cobra.Command{
		Use:   "stop [run-id]",
		Short: "Stop the active run",
		Long: `Send SIGTERM to the orchestrald process running run-id (or the
workspace's current active run, if omitted), triggering ordered teardown.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runStop,
	}
	rootCmd.AddCommand(stopCmd)
}

func runStop(cmd *cobra.Command, args []string) error {
	runID, err := resolveRunID(args)
	if err != nil {
		return err
	}
	if err := signalRun(runID, syscall.SIGTERM); err != nil {
		return fmt.Errorf("stop run %s: %w", runID, err)
	}
	fmt.Printf("sent stop signal to run %s\n", runID)
	return nil
}

func resolveRunID(args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	runs, err := newRunStore()
	if err != nil {
		return "", err
	}
	active, err := runs.GetActiveRun()
	if err != nil {
		return "", fmt.Errorf("look up active run: %w", err)
	}
	if active == nil {
		return "", fmt.Errorf("no active run in %s; specify a run id", workspaceRoot)
	}
	return active.RunID, nil
}
