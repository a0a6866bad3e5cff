package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/boshu2/orchestral/internal/statestore"
)

func init() {
	statusCmd := &cobra.Command{
		Use:   "status [run-id]",
		Short: "Show run status",
		Long: `Without a run id, lists every run recorded under .orchestral/runs.
With a run id, prints that run's current phase, iteration, and usage.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runStatus,
	}
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	runs, err := newRunStore()
	if err != nil {
		return err
	}

	if len(args) == 1 {
		runDir, err := runs.RunDirPath(args[0])
		if err != nil {
			return err
		}
		st, err := statestore.New(runDir).Load()
		if err != nil {
			return fmt.Errorf("load run state: %w", err)
		}
		fmt.Printf("run:        %s\n", st.RunID)
		fmt.Printf("phase:      %s\n", st.Phase)
		fmt.Printf("iteration:  %d/%d\n", st.Iteration, st.MaxIterations)
		fmt.Printf("started:    %s\n", st.StartedAt.Format("2006-01-02T15:04:05Z"))
		fmt.Printf("updated:    %s\n", st.UpdatedAt.Format("2006-01-02T15:04:05Z"))
		fmt.Printf("usage:      %d input + %d output tokens, $%.4f\n",
			st.Usage.InputTokens, st.Usage.OutputTokens, st.Usage.CostUSD)
		if st.PendingCRP != nil {
			fmt.Printf("pending crp: %s\n", *st.PendingCRP)
		}
		for _, e := range st.Errors {
			fmt.Printf("error:      %s\n", e)
		}
		return nil
	}

	summaries, err := runs.ListRuns()
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}
	if len(summaries) == 0 {
		fmt.Println("no runs recorded")
		return nil
	}
	for _, s := range summaries {
		fmt.Printf("%s  %-16s  updated %s\n", s.RunID, s.Phase, s.UpdatedAt.Format("2006-01-02T15:04:05Z"))
	}
	return nil
}
