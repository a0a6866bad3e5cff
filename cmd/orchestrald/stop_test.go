package main

import "testing"

func TestResolveRunIDPrefersExplicitArg(t *testing.T) {
	got, err := resolveRunID([]string{"run-20260101000000"})
	if err != nil {
		t.Fatalf("resolveRunID: %v", err)
	}
	if got != "run-20260101000000" {
		t.Errorf("resolveRunID() = %q, want explicit arg", got)
	}
}

func TestResolveRunIDFailsWithoutActiveRun(t *testing.T) {
	workspaceRoot = t.TempDir()
	if _, err := resolveRunID(nil); err == nil {
		t.Fatal("expected error when no run is active and none is named")
	}
}
