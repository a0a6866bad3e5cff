package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/boshu2/orchestral/internal/config"
)

const pidFileName = "orchestrator.pid"

func pidFilePath(runID string) string {
	return filepath.Join(config.RunsDir(workspaceRoot), runID, pidFileName)
}

func writePIDFile(runID string) error {
	return os.WriteFile(pidFilePath(runID), []byte(strconv.Itoa(os.Getpid())), 0o600)
}

func removePIDFile(runID string) {
	_ = os.Remove(pidFilePath(runID))
}

// readPID returns the PID recorded for runID, or an error if no live
// orchestrald process is tracked for it.
func readPID(runID string) (int, error) {
	data, err := os.ReadFile(pidFilePath(runID))
	if err != nil {
		return 0, fmt.Errorf("no tracked orchestrald process for run %s: %w", runID, err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("corrupt pid file for run %s: %w", runID, err)
	}
	return pid, nil
}

// signalRun sends sig to the orchestrald process owning runID.
func signalRun(runID string, sig syscall.Signal) error {
	pid, err := readPID(runID)
	if err != nil {
		return err
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("find process %d: %w", pid, err)
	}
	if err := proc.Signal(sig); err != nil {
		return fmt.Errorf("signal process %d: %w", pid, err)
	}
	return nil
}
