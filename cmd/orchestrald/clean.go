package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var cleanMaxAge time.Duration

func init() {
	cleanCmd := &cobra.Command{
		Use:   "clean",
		Short: "Delete runs older than --max-age",
		Long:  `Delete completed/failed runs that started more than --max-age ago.`,
		RunE:  runClean,
	}
	cleanCmd.Flags().DurationVar(&cleanMaxAge, "max-age", 30*24*time.Hour, "Delete runs started longer ago than this duration")
	rootCmd.AddCommand(cleanCmd)
}

func runClean(cmd *cobra.Command, args []string) error {
	runs, err := newRunStore()
	if err != nil {
		return err
	}
	deleted, err := runs.CleanRuns(cleanMaxAge)
	if err != nil {
		return fmt.Errorf("clean runs: %w", err)
	}
	if len(deleted) == 0 {
		fmt.Println("nothing to clean")
		return nil
	}
	for _, id := range deleted {
		fmt.Printf("deleted %s\n", id)
	}
	return nil
}
