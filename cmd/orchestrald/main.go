// Command orchestrald drives one orchestration run end to end: refine,
// build, verify, gate, and (on success) assemble a Merge-Readiness Pack.
// See internal/orchestrator for the state machine it wraps.
package main

func main() {
	Execute()
}
