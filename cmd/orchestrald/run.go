package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/boshu2/orchestral/internal/orchestrator"
	"github.com/boshu2/orchestral/internal/types"
)

const pollInterval = 500 * time.Millisecond

// runUntilIdle blocks until runID's run leaves the orchestrator's care:
// it reaches a terminal phase (completed/failed) or pauses for a human
// (waiting_human), or the process receives SIGINT/SIGTERM, in which case
// it stops the run and returns an error naming the signal. It owns the PID file
// for the duration of the call.
func runUntilIdle(orch *orchestrator.Orchestrator, runID string) (types.Phase, error) {
	if err := writePIDFile(runID); err != nil {
		return "", fmt.Errorf("write pid file: %w", err)
	}
	defer removePIDFile(runID)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case sig := <-sigCh:
			fmt.Fprintf(os.Stderr, "orchestrald: received %s, stopping run %s\n", sig, runID)
			if err := orch.StopRun(); err != nil {
				return "", fmt.Errorf("stop run: %w", err)
			}
			return "", fmt.Errorf("interrupted by %s", sig)

		case <-ticker.C:
			if !orch.GetIsRunning() {
				st, err := orch.GetCurrentState()
				if err != nil {
					return "", err
				}
				return st.Phase, nil
			}
			st, err := orch.GetCurrentState()
			if err != nil {
				return "", err
			}
			if st.Phase == types.PhaseWaitingHuman {
				fmt.Printf("run %s is waiting on a human decision (pending_crp=%v)\n", runID, derefStr(st.PendingCRP))
				return st.Phase, nil
			}
		}
	}
}

func derefStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
