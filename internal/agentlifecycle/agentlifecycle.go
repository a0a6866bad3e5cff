// Package agentlifecycle implements AgentLifecycle: one worker process per
// agent slot within a run (§4.7). It launches workers through an injected
// Runner so the concrete worker ABI ("a subprocess that reads a prompt and
// writes JSON") is never dictated by this package, per §6's note that the
// Worker runner's ABI is not fixed. Grounded on the teacher's PhaseExecutor
// abstraction (cmd/ao/rpi_phased_stream.go) for the launch/capture split,
// and on other_examples' kdlbs-kandev AgentExecution
// (apps/backend/internal/agent/lifecycle/types.go) for tracking one
// status/timestamp/error record per running worker.
package agentlifecycle

import (
	"fmt"
	"sync"

	"github.com/boshu2/orchestral/internal/activity"
	"github.com/boshu2/orchestral/internal/statestore"
	"github.com/boshu2/orchestral/internal/types"
)

// Runner is the Worker-runner trait from §6: start_headless,
// restart_with_vcr, capture_output, is_agent_active, show_info, kill.
// AgentLifecycle drives every worker through this interface so the worker
// binary itself stays opaque.
type Runner interface {
	// StartHeadless launches agent's worker against promptFile, its stdout
	// destined for <runDir>/<agent>/output.json and stderr for
	// <runDir>/<agent>/error.log, under orchestrator control.
	StartHeadless(agent types.Agent, model, promptFile, runDir string) error
	// RestartWithVCR relaunches agent with a continuation prompt file after
	// a clarification response has been recorded.
	RestartWithVCR(agent types.Agent, model, promptFile, runDir string) error
	// CaptureOutput returns the last n lines of agent's captured terminal
	// output (0 meaning "all captured so far").
	CaptureOutput(agent types.Agent, lines int) (string, error)
	// IsAgentActive reports whether agent's process surface is still alive.
	IsAgentActive(agent types.Agent) bool
	// ShowInfo surfaces a human-readable status line for agent, for CLI use.
	ShowInfo(agent types.Agent) string
	// Kill terminates agent's worker process, if running.
	Kill(agent types.Agent) error
}

// Lifecycle manages the four worker slots for one run.
type Lifecycle struct {
	runner  Runner
	states  *statestore.Store
	monitor *activity.Monitor

	mu     sync.Mutex
	models map[types.Agent]string
}

// New builds a Lifecycle bound to runner, states, and monitor. models gives
// the selected model per agent slot (populated by the Orchestrator from a
// ModelSelector run, or a static default).
func New(runner Runner, states *statestore.Store, monitor *activity.Monitor, models map[types.Agent]string) *Lifecycle {
	return &Lifecycle{runner: runner, states: states, monitor: monitor, models: models}
}

// StartAgent verifies a model is selected for agent, marks it running, arms
// ActivityMonitor, and launches the worker.
func (l *Lifecycle) StartAgent(agent types.Agent, runDir, promptFile string) error {
	model, err := l.modelFor(agent)
	if err != nil {
		return err
	}
	if _, err := l.states.UpdateAgentStatus(agent, types.AgentStatusRunning); err != nil {
		return fmt.Errorf("mark %s running: %w", agent, err)
	}
	l.monitor.WatchAgent(agent)
	if err := l.runner.StartHeadless(agent, model, promptFile, runDir); err != nil {
		return fmt.Errorf("start %s: %w", agent, err)
	}
	return nil
}

// RestartAgentWithVCR relaunches agent against the continuation prompt
// produced from a resolved CRP, resetting status to running.
func (l *Lifecycle) RestartAgentWithVCR(agent types.Agent, runDir, promptFile string) error {
	model, err := l.modelFor(agent)
	if err != nil {
		return err
	}
	if _, err := l.states.UpdateAgentStatus(agent, types.AgentStatusRunning); err != nil {
		return fmt.Errorf("mark %s running: %w", agent, err)
	}
	l.monitor.WatchAgent(agent)
	if err := l.runner.RestartWithVCR(agent, model, promptFile, runDir); err != nil {
		return fmt.Errorf("restart %s with vcr: %w", agent, err)
	}
	return nil
}

// StartVerifierPhase2 launches the Verifier with the Phase-2 prompt after
// external tests have produced verifier/test-output.json; the caller has
// already written the Phase-2 prompt file.
func (l *Lifecycle) StartVerifierPhase2(runDir, promptFile string) error {
	return l.StartAgent(types.AgentVerifier, runDir, promptFile)
}

// StopAgent unwatches agent in ActivityMonitor; the caller is responsible
// for the resulting status transition (complete/fail).
func (l *Lifecycle) StopAgent(agent types.Agent) {
	l.monitor.UnwatchAgent(agent)
}

// CompleteAgent marks agent completed and unwatches it.
func (l *Lifecycle) CompleteAgent(agent types.Agent) (*types.RunState, error) {
	l.StopAgent(agent)
	return l.states.UpdateAgentStatus(agent, types.AgentStatusCompleted)
}

// FailAgent marks agent failed with message and unwatches it.
func (l *Lifecycle) FailAgent(agent types.Agent, message string) (*types.RunState, error) {
	l.StopAgent(agent)
	return l.states.SetAgentError(agent, message)
}

// SetAgentWaitingTestExecution marks the Verifier as waiting on the
// external test-execution step described in §6.
func (l *Lifecycle) SetAgentWaitingTestExecution(agent types.Agent) (*types.RunState, error) {
	return l.states.UpdateAgentStatus(agent, types.AgentStatusWaitingTestExecution)
}

// RecordUsage rolls a worker's reported usage into StateStore, which
// recomputes the run-level aggregate.
func (l *Lifecycle) RecordUsage(agent types.Agent, usage types.Usage) (*types.RunState, error) {
	return l.states.UpdateAgentUsage(agent, usage)
}

// ExtendTimeout re-arms agent's absolute timeout, used by RecoveryStrategies
// when a timeout error.flag is extended once instead of failing the run.
func (l *Lifecycle) ExtendTimeout(agent types.Agent) {
	l.monitor.WatchAgent(agent)
}

// ResetAgentFlags is the monitoring half of the crash-recovery reset: it
// disarms agent's absolute timeout. The flag-file removal lives in
// RunStore.ResetAgentForRerun, which the Orchestrator calls right after this.
func (l *Lifecycle) ResetAgentFlags(agent types.Agent) {
	l.monitor.UnwatchAgent(agent)
}

// CaptureOutput is the CaptureFunc ActivityMonitor polls: agent output plus
// process liveness, both delegated to the Runner.
func (l *Lifecycle) CaptureOutput(agent types.Agent) (string, bool) {
	out, err := l.runner.CaptureOutput(agent, 0)
	if err != nil {
		return "", false
	}
	return out, l.runner.IsAgentActive(agent)
}

// Cleanup stops ActivityMonitor and drops cached model selections; called
// by Orchestrator.stop_run.
func (l *Lifecycle) Cleanup() {
	l.monitor.Stop()
	l.mu.Lock()
	l.models = nil
	l.mu.Unlock()
}

func (l *Lifecycle) modelFor(agent types.Agent) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	model, ok := l.models[agent]
	if !ok || model == "" {
		return "", fmt.Errorf("%w: no model selected for %s", types.ErrValidation, agent)
	}
	return model, nil
}
