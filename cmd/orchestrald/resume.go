package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	resumeCmd := &cobra.Command{
		Use:   "resume <run-id>",
		Short: "Resume a run waiting on a human decision",
		Long: `Resume a run that is waiting_human: clears its pending CRP and
relaunches the agent that opened it, then blocks as start does.`,
		Args: cobra.ExactArgs(1),
		RunE: runResume,
	}
	rootCmd.AddCommand(resumeCmd)
}

func runResume(cmd *cobra.Command, args []string) error {
	runID := args[0]

	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Close()

	orch, err := buildOrchestrator(logger)
	if err != nil {
		return err
	}

	if err := orch.ResumeRun(runID); err != nil {
		return fmt.Errorf("resume run: %w", err)
	}
	fmt.Printf("resumed run %s\n", runID)

	phase, err := runUntilIdle(orch, runID)
	if err != nil {
		return err
	}
	fmt.Printf("run %s is now %s\n", runID, phase)
	return nil
}
