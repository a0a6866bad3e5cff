package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var startBriefingFile string

func init() {
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start a new run from a briefing",
		Long: `Start a new run. Reads the raw briefing from --briefing-file, or from
stdin if omitted, then launches the Refiner and blocks until the run
completes, fails, or pauses for a human decision.`,
		RunE: runStart,
	}
	startCmd.Flags().StringVar(&startBriefingFile, "briefing-file", "", "Path to the raw briefing (default: read stdin)")
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	briefing, err := readBriefing()
	if err != nil {
		return err
	}

	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Close()

	orch, err := buildOrchestrator(logger)
	if err != nil {
		return err
	}

	runID, err := orch.StartRun(briefing)
	if err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	fmt.Printf("started run %s\n", runID)

	phase, err := runUntilIdle(orch, runID)
	if err != nil {
		return err
	}
	fmt.Printf("run %s is now %s\n", runID, phase)
	return nil
}

func readBriefing() (string, error) {
	if strings.TrimSpace(startBriefingFile) != "" {
		data, err := os.ReadFile(startBriefingFile)
		if err != nil {
			return "", fmt.Errorf("read briefing file: %w", err)
		}
		return string(data), nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("read briefing from stdin: %w", err)
	}
	return string(data), nil
}
