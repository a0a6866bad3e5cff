package agentlifecycle

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/boshu2/orchestral/internal/activity"
	"github.com/boshu2/orchestral/internal/config"
	"github.com/boshu2/orchestral/internal/runstore"
	"github.com/boshu2/orchestral/internal/statestore"
	"github.com/boshu2/orchestral/internal/types"
)

type fakeRunner struct {
	mu      sync.Mutex
	started map[types.Agent]int
	killed  map[types.Agent]bool
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{started: map[types.Agent]int{}, killed: map[types.Agent]bool{}}
}

func (f *fakeRunner) StartHeadless(agent types.Agent, model, promptFile, runDir string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started[agent]++
	return nil
}

func (f *fakeRunner) RestartWithVCR(agent types.Agent, model, promptFile, runDir string) error {
	return f.StartHeadless(agent, model, promptFile, runDir)
}

func (f *fakeRunner) CaptureOutput(agent types.Agent, lines int) (string, error) { return "", nil }
func (f *fakeRunner) IsAgentActive(agent types.Agent) bool                      { return true }
func (f *fakeRunner) ShowInfo(agent types.Agent) string                        { return string(agent) }
func (f *fakeRunner) Kill(agent types.Agent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.killed[agent] = true
	return nil
}

func newFixture(t *testing.T) (*Lifecycle, *fakeRunner, *statestore.Store) {
	t.Helper()
	root := t.TempDir()
	rs := runstore.New(filepath.Join(root, "runs"))
	runDir, err := rs.CreateRun("run-20260101000000", "briefing", 3, 2)
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	st := statestore.New(runDir)
	runner := newFakeRunner()
	mon := activity.New(config.Default(), func(types.Agent) (string, bool) { return "", true })
	models := map[types.Agent]string{
		types.AgentRefiner:    "model-a",
		types.AgentBuilder:    "model-a",
		types.AgentVerifier:   "model-a",
		types.AgentGatekeeper: "model-a",
	}
	return New(runner, st, mon, models), runner, st
}

func TestStartAgentMarksRunningAndLaunches(t *testing.T) {
	l, runner, st := newFixture(t)
	if err := l.StartAgent(types.AgentBuilder, "/tmp/run", "/tmp/run/prompts/builder.md"); err != nil {
		t.Fatalf("StartAgent: %v", err)
	}
	if runner.started[types.AgentBuilder] != 1 {
		t.Errorf("started count = %d, want 1", runner.started[types.AgentBuilder])
	}
	state, err := st.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if state.Agents[types.AgentBuilder].Status != types.AgentStatusRunning {
		t.Errorf("status = %v, want running", state.Agents[types.AgentBuilder].Status)
	}
}

func TestStartAgentWithoutModelFails(t *testing.T) {
	l, _, _ := newFixture(t)
	l.models[types.AgentBuilder] = ""
	if err := l.StartAgent(types.AgentBuilder, "/tmp/run", "/tmp/run/prompts/builder.md"); err == nil {
		t.Fatal("expected error for missing model selection")
	}
}

func TestCompleteAgentMarksCompletedAndUnwatches(t *testing.T) {
	l, _, st := newFixture(t)
	if err := l.StartAgent(types.AgentBuilder, "/tmp/run", "/tmp/run/prompts/builder.md"); err != nil {
		t.Fatalf("StartAgent: %v", err)
	}
	state, err := l.CompleteAgent(types.AgentBuilder)
	if err != nil {
		t.Fatalf("CompleteAgent: %v", err)
	}
	if state.Agents[types.AgentBuilder].Status != types.AgentStatusCompleted {
		t.Errorf("status = %v, want completed", state.Agents[types.AgentBuilder].Status)
	}
	reloaded, err := st.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if reloaded.Agents[types.AgentBuilder].Status != types.AgentStatusCompleted {
		t.Errorf("persisted status = %v, want completed", reloaded.Agents[types.AgentBuilder].Status)
	}
}

func TestFailAgentRecordsError(t *testing.T) {
	l, _, _ := newFixture(t)
	state, err := l.FailAgent(types.AgentVerifier, "worker crashed")
	if err != nil {
		t.Fatalf("FailAgent: %v", err)
	}
	if state.Agents[types.AgentVerifier].Error != "worker crashed" {
		t.Errorf("error = %q, want %q", state.Agents[types.AgentVerifier].Error, "worker crashed")
	}
	if state.Agents[types.AgentVerifier].Status != types.AgentStatusFailed {
		t.Errorf("status = %v, want failed", state.Agents[types.AgentVerifier].Status)
	}
}

func TestRecordUsageRollsIntoAggregate(t *testing.T) {
	l, _, _ := newFixture(t)
	usage := types.Usage{InputTokens: 100, OutputTokens: 50, CostUSD: 0.01}
	state, err := l.RecordUsage(types.AgentBuilder, usage)
	if err != nil {
		t.Fatalf("RecordUsage: %v", err)
	}
	if state.Usage.InputTokens != 100 {
		t.Errorf("aggregate input tokens = %d, want 100", state.Usage.InputTokens)
	}

	// A second, larger report for the same agent should replace, not add to,
	// the first contribution.
	state, err = l.RecordUsage(types.AgentBuilder, types.Usage{InputTokens: 300})
	if err != nil {
		t.Fatalf("RecordUsage: %v", err)
	}
	if state.Usage.InputTokens != 300 {
		t.Errorf("aggregate input tokens after replace = %d, want 300", state.Usage.InputTokens)
	}
}
