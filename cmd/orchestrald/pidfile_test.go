package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWriteReadPIDFileRoundTrips(t *testing.T) {
	workspaceRoot = t.TempDir()
	runID := "run-20260101000000"

	if err := os.MkdirAll(filepath.Dir(pidFilePath(runID)), 0o700); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := writePIDFile(runID); err != nil {
		t.Fatalf("writePIDFile: %v", err)
	}
	defer removePIDFile(runID)

	pid, err := readPID(runID)
	if err != nil {
		t.Fatalf("readPID: %v", err)
	}
	if pid != os.Getpid() {
		t.Errorf("readPID() = %d, want %d", pid, os.Getpid())
	}
}

func TestReadPIDMissingFile(t *testing.T) {
	workspaceRoot = t.TempDir()
	if _, err := readPID("run-does-not-exist"); err == nil {
		t.Fatal("expected error for missing pid file")
	}
}
