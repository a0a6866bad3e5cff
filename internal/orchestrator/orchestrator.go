// Package orchestrator implements Orchestrator: the composition root for
// one run. It wires RunStore/StateStore/FileEventSource/ActivityMonitor/
// AgentLifecycle/PhaseMachine/RetryPolicy into a single-threaded cooperative
// event loop (SPEC_FULL.md §5) that services one event at a time from the
// merged stream of file events, activity signals, and external calls.
// Grounded on the teacher's cmd/ao/rpi_phased.go composition of its phase
// runner, stream executor, and stall watchdog into one command, and on
// other_examples' bc-dunia-mcpdrill RunManager
// (internal/controlplane/runmanager/manager.go) for the at-most-one-active-
// run guard and ordered stop/teardown shape.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/boshu2/orchestral/internal/activity"
	"github.com/boshu2/orchestral/internal/agentlifecycle"
	"github.com/boshu2/orchestral/internal/config"
	"github.com/boshu2/orchestral/internal/events"
	"github.com/boshu2/orchestral/internal/orchlog"
	"github.com/boshu2/orchestral/internal/phase"
	"github.com/boshu2/orchestral/internal/retry"
	"github.com/boshu2/orchestral/internal/runstore"
	"github.com/boshu2/orchestral/internal/schema"
	"github.com/boshu2/orchestral/internal/statestore"
	"github.com/boshu2/orchestral/internal/types"
)

// PromptContext is the handoff to PromptGenerator.GenerateAll before each
// worker launch, per §6.
type PromptContext struct {
	ProjectRoot string
	RunID       string
	Iteration   int
	HasReview   bool
}

// PromptGenerator produces the four prompt files ahead of a worker launch.
// Not part of this core; supplied by the caller.
type PromptGenerator interface {
	GenerateAll(promptsDir string, ctx PromptContext) error
}

// ModelSelector optionally chooses per-agent models from the raw briefing.
// Not part of this core; a nil ModelSelector skips selection entirely.
type ModelSelector interface {
	SelectModels(rawBriefing string) (*types.ModelSelection, error)
}

// Assembler builds the Merge-Readiness Pack once a run reaches
// ready_for_merge (§4.9). Implemented by internal/mrp.
type Assembler interface {
	Generate(runID string) error
}

var agentAfter = map[types.Agent]types.Phase{
	types.AgentRefiner:  types.PhaseBuild,
	types.AgentBuilder:  types.PhaseVerify,
	types.AgentVerifier: types.PhaseGate,
}

var phaseAgent = map[types.Phase]types.Agent{
	types.PhaseBuild:  types.AgentBuilder,
	types.PhaseVerify: types.AgentVerifier,
	types.PhaseGate:   types.AgentGatekeeper,
}

// Orchestrator is the composition root for one run within a workspace.
type Orchestrator struct {
	workspaceRoot string
	cfg           *config.Config
	runs          *runstore.RunStore
	logger        *orchlog.Logger
	promptGen     PromptGenerator
	modelSelector ModelSelector
	assembler     Assembler
	schemas       *schema.Registry

	mu        sync.Mutex
	running   bool
	runID     string
	runDir    string
	state     *statestore.Store
	src       *events.Source
	monitor   *activity.Monitor
	lifecycle *agentlifecycle.Lifecycle
	phaseM    *phase.Machine
	policy    *retry.Policy
	recovery  *retry.Strategies
	models    map[types.Agent]string
	cancel    context.CancelFunc
	attempts  map[types.Agent]int
}

// New builds an Orchestrator bound to workspaceRoot. promptGen and assembler
// are required; modelSelector may be nil.
func New(workspaceRoot string, cfg *config.Config, logger *orchlog.Logger, promptGen PromptGenerator, modelSelector ModelSelector, assembler Assembler, schemas *schema.Registry) *Orchestrator {
	return &Orchestrator{
		workspaceRoot: workspaceRoot,
		cfg:           cfg,
		runs:          runstore.NewWithStateCacheTTL(config.RunsDir(workspaceRoot), cfg.StateCacheTTL()),
		logger:        logger,
		promptGen:     promptGen,
		modelSelector: modelSelector,
		assembler:     assembler,
		schemas:       schemas,
	}
}

// StartRun creates a fresh run and launches the Refiner. It fails with
// ErrRunBusy if a run is already active in this workspace.
func (o *Orchestrator) StartRun(rawBriefing string) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.running {
		return "", types.ErrRunBusy
	}
	active, err := o.runs.GetActiveRun()
	if err != nil {
		return "", err
	}
	if active != nil {
		return "", types.ErrRunBusy
	}

	var selection *types.ModelSelection
	if o.modelSelector != nil {
		selection, err = o.modelSelector.SelectModels(rawBriefing)
		if err != nil {
			return "", fmt.Errorf("select models: %w", err)
		}
	}

	id := o.runs.GenerateRunID()
	runDir, err := o.runs.CreateRun(id, rawBriefing, o.cfg.MaxIterations, o.cfg.MaxMinorFixAttempts)
	if err != nil {
		return "", err
	}

	models := o.defaultModels()
	if selection != nil && len(selection.Models) > 0 {
		if err := o.runs.SaveModelSelection(id, selection); err != nil {
			return "", fmt.Errorf("save model selection: %w", err)
		}
		for agent, m := range selection.Models {
			models[agent] = m
		}
	}

	if err := o.promptGen.GenerateAll(filepath.Join(runDir, runstore.PromptsDir), PromptContext{
		ProjectRoot: o.workspaceRoot,
		RunID:       id,
		Iteration:   1,
	}); err != nil {
		return "", fmt.Errorf("generate prompts: %w", err)
	}

	if err := o.attach(id, runDir, models); err != nil {
		return "", err
	}
	if selection != nil {
		if _, err := o.state.UpdateModelSelection(selection); err != nil {
			return "", err
		}
	}

	o.startLoop()
	if err := o.lifecycle.StartAgent(types.AgentRefiner, o.runDir, o.promptPath(types.AgentRefiner)); err != nil {
		return "", fmt.Errorf("launch refiner: %w", err)
	}
	return id, nil
}

// ResumeRun reconnects a waiting_human run after its CRP has been answered:
// it clears pending_crp and relaunches the agent that authored the
// matching CRP against a regenerated, review-aware prompt.
func (o *Orchestrator) ResumeRun(runID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.running {
		return types.ErrRunBusy
	}

	runDir, err := o.runs.RunDirPath(runID)
	if err != nil {
		return err
	}
	probe := statestore.NewWithTTL(runDir, o.cfg.StateCacheTTL())
	st, err := probe.Load()
	if err != nil {
		return err
	}
	if st.Phase != types.PhaseWaitingHuman {
		return types.ErrNotWaitingHuman
	}
	if st.PendingCRP == nil {
		return fmt.Errorf("%w: no pending_crp recorded", types.ErrNotWaitingHuman)
	}

	crp, err := o.runs.GetCRP(runID, *st.PendingCRP)
	if err != nil {
		return err
	}

	models := o.defaultModels()
	if sel, err := o.runs.ReadModelSelection(runID); err == nil && sel != nil {
		for agent, m := range sel.Models {
			models[agent] = m
		}
	}

	if err := o.attach(runID, runDir, models); err != nil {
		return err
	}
	if _, err := o.state.SetPendingCRP(nil); err != nil {
		return err
	}

	if err := o.promptGen.GenerateAll(filepath.Join(runDir, runstore.PromptsDir), PromptContext{
		ProjectRoot: o.workspaceRoot,
		RunID:       runID,
		Iteration:   st.Iteration,
		HasReview:   true,
	}); err != nil {
		return fmt.Errorf("regenerate prompts for resume: %w", err)
	}

	o.startLoop()
	if err := o.lifecycle.RestartAgentWithVCR(crp.CreatedBy, o.runDir, o.promptPath(crp.CreatedBy)); err != nil {
		return fmt.Errorf("resume %s: %w", crp.CreatedBy, err)
	}
	return nil
}

// StopRun performs ordered teardown: AgentLifecycle.Cleanup, then
// FileEventSource.Stop. Idempotent.
func (o *Orchestrator) StopRun() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.teardownLocked()
}

func (o *Orchestrator) teardownLocked() error {
	if !o.running {
		return nil
	}
	if o.cancel != nil {
		o.cancel()
	}
	if o.lifecycle != nil {
		o.lifecycle.Cleanup()
	}
	var stopErr error
	if o.src != nil {
		stopErr = o.src.Stop()
	}
	o.running = false
	return stopErr
}

// attach constructs every per-run collaborator and records the run as
// active. It does not launch any agent or start the event loop.
func (o *Orchestrator) attach(runID, runDir string, models map[types.Agent]string) error {
	state := statestore.NewWithTTL(runDir, o.cfg.StateCacheTTL())
	src, err := events.New(runDir, o.cfg, o.schemas)
	if err != nil {
		return fmt.Errorf("create file event source: %w", err)
	}
	if err := src.Start(); err != nil {
		return fmt.Errorf("start file event source: %w", err)
	}

	o.runID = runID
	o.runDir = runDir
	o.state = state
	o.src = src
	o.models = models

	var lifecycle *agentlifecycle.Lifecycle
	monitor := activity.New(o.cfg, func(agent types.Agent) (string, bool) {
		return lifecycle.CaptureOutput(agent)
	})
	lifecycle = agentlifecycle.New(agentlifecycle.NewProcessRunner(o.cfg.EffectiveWorkerCommand()), state, monitor, models)

	o.monitor = monitor
	o.lifecycle = lifecycle
	o.phaseM = phase.New(state, o.runs, runID, o.cfg.CRPDetectionDelay())
	o.policy = retry.NewPolicy(3, []types.ErrorKind{types.ErrorKindCrash, types.ErrorKindTimeout}, o.cfg.RetryBaseDelay(), o.cfg.RetryMaxDelay())
	o.recovery = retry.NewStrategies(o.recoveryCallbacks())
	o.attempts = make(map[types.Agent]int, len(types.Agents))
	return nil
}

func (o *Orchestrator) recoveryCallbacks() retry.Callbacks {
	return retry.Callbacks{
		ResetAgentFlags: func(agent types.Agent) error {
			o.lifecycle.ResetAgentFlags(agent)
			return o.runs.ResetAgentForRerun(o.runID, agent)
		},
		RegeneratePrompt: func(agent types.Agent) error {
			st, err := o.state.Load()
			if err != nil {
				return err
			}
			return o.promptGen.GenerateAll(filepath.Join(o.runDir, runstore.PromptsDir), PromptContext{
				ProjectRoot: o.workspaceRoot,
				RunID:       o.runID,
				Iteration:   st.Iteration,
			})
		},
		RelaunchAgent: func(agent types.Agent) error {
			return o.lifecycle.StartAgent(agent, o.runDir, o.promptPath(agent))
		},
		ExtendTimeout: func(agent types.Agent) error {
			o.lifecycle.ExtendTimeout(agent)
			return nil
		},
		MarkFailed: func(reason string) error {
			_, err := o.phaseM.FailRun(reason)
			return err
		},
	}
}

func (o *Orchestrator) promptPath(agent types.Agent) string {
	return filepath.Join(o.runDir, runstore.PromptsDir, string(agent)+".md")
}

// startLoop marks the run active and spawns the single-threaded event loop
// goroutine servicing FileEventSource and ActivityMonitor signals.
func (o *Orchestrator) startLoop() {
	ctx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel
	o.running = true
	o.monitor.Start(ctx)
	go o.loop(ctx)
}

func (o *Orchestrator) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-o.src.Events():
			if !ok {
				return
			}
			o.handleFileEvent(ev)
		case ev, ok := <-o.monitor.Events():
			if !ok {
				return
			}
			o.handleActivityEvent(ev)
		}
	}
}

func (o *Orchestrator) handleFileEvent(ev events.Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.running {
		return
	}

	switch ev.Kind {
	case events.KindRefinerDone:
		o.handleAgentDone(types.AgentRefiner)
	case events.KindBuilderDone:
		o.handleAgentDone(types.AgentBuilder)
	case events.KindVerifierDone:
		o.handleAgentDone(types.AgentVerifier)
	case events.KindGatekeeperDone:
		o.handleGatekeeperDone(ev)
	case events.KindCRPCreated:
		o.handleCRPCreated(ev)
	case events.KindErrorFlag:
		o.handleErrorFlag(ev)
	case events.KindAgentOutput:
		if ev.AgentOutput != nil {
			if _, err := o.lifecycle.RecordUsage(ev.Agent, ev.AgentOutput.Usage.ToUsage()); err != nil {
				o.logger.Error("record usage failed", "agent", ev.Agent, "err", err)
			}
		}
	case events.KindTestsReady:
		if _, err := o.lifecycle.SetAgentWaitingTestExecution(types.AgentVerifier); err != nil {
			o.logger.Error("mark verifier waiting on tests failed", "err", err)
		}
	case events.KindTestExecutionDone:
		o.handleTestExecutionDone()
	case events.KindWatchError:
		msg := "file watcher error"
		if ev.Err != nil {
			msg = ev.Err.Error()
		}
		if _, err := o.state.AddError(msg); err != nil {
			o.logger.Error("record watch error failed", "err", err)
		}
		o.logger.Warn("watch error", "path", ev.Path, "err", msg)
	}
}

func (o *Orchestrator) handleActivityEvent(ev activity.Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.running {
		return
	}
	switch ev.Kind {
	case activity.EventTimeout:
		o.monitor.UnwatchAgent(ev.Agent)
		if _, err := o.lifecycle.FailAgent(ev.Agent, fmt.Sprintf("%s exceeded its %s timeout", ev.Agent, o.cfg.Timeouts()[ev.Agent])); err != nil {
			o.logger.Error("mark agent timed out failed", "agent", ev.Agent, "err", err)
			return
		}
		if _, err := o.state.UpdateAgentStatus(ev.Agent, types.AgentStatusTimeout); err != nil {
			o.logger.Error("mark agent timeout status failed", "agent", ev.Agent, "err", err)
		}
	case activity.EventStale:
		o.logger.Warn("agent stale", "agent", ev.Agent, "inactive_ms", ev.InactiveMs)
	}
}

// handleAgentDone implements the refiner_done/builder_done/verifier_done
// routing rule: complete the agent, wait out the CRP-detection delay, then
// either recognize a pending CRP this agent created or advance the phase
// and launch the next agent.
func (o *Orchestrator) handleAgentDone(agent types.Agent) {
	if _, err := o.lifecycle.CompleteAgent(agent); err != nil {
		o.logger.Error("complete agent failed", "agent", agent, "err", err)
		return
	}
	delete(o.attempts, agent)

	o.mu.Unlock()
	time.Sleep(o.cfg.CRPDetectionDelay())
	o.mu.Lock()
	if !o.running {
		return
	}

	crp, err := o.latestPendingCRPBy(agent)
	if err != nil {
		o.logger.Error("check pending crp failed", "agent", agent, "err", err)
		return
	}
	if crp != nil {
		o.enterWaitingHuman(*crp)
		return
	}

	next := agentAfter[agent]
	if next == "" {
		return
	}
	if _, err := o.phaseM.Transition(next); err != nil {
		o.logger.Error("phase transition failed", "phase", next, "err", err)
		return
	}
	o.launchForPhase(next, false)
}

// launchForPhase regenerates prompts for the phase's agent and launches it.
// hasReview must be true on a FAIL-driven iteration retry (§4.6) so the
// Builder template reads gatekeeper/review.md instead of running blind to
// the review that failed it.
func (o *Orchestrator) launchForPhase(p types.Phase, hasReview bool) {
	nextAgent, ok := phaseAgent[p]
	if !ok {
		return
	}
	st, err := o.state.Load()
	if err != nil {
		o.logger.Error("load state before launch failed", "err", err)
		return
	}
	if err := o.promptGen.GenerateAll(filepath.Join(o.runDir, runstore.PromptsDir), PromptContext{
		ProjectRoot: o.workspaceRoot,
		RunID:       o.runID,
		Iteration:   st.Iteration,
		HasReview:   hasReview,
	}); err != nil {
		o.logger.Error("regenerate prompts failed", "err", err)
		return
	}
	if err := o.lifecycle.StartAgent(nextAgent, o.runDir, o.promptPath(nextAgent)); err != nil {
		o.logger.Error("launch agent failed", "agent", nextAgent, "err", err)
	}
}

// handleTestExecutionDone implements the §4.3/§4.7 test_execution_done ->
// start_verifier_phase2 handoff: once the external test runner has written
// verifier/test-output.json, the Verifier's Phase-2 prompt is regenerated
// and the Verifier is relaunched to read verifier/results.json.
func (o *Orchestrator) handleTestExecutionDone() {
	st, err := o.state.Load()
	if err != nil {
		o.logger.Error("load state before verifier phase2 failed", "err", err)
		return
	}
	if err := o.promptGen.GenerateAll(filepath.Join(o.runDir, runstore.PromptsDir), PromptContext{
		ProjectRoot: o.workspaceRoot,
		RunID:       o.runID,
		Iteration:   st.Iteration,
	}); err != nil {
		o.logger.Error("regenerate verifier phase2 prompt failed", "err", err)
		return
	}
	if err := o.lifecycle.StartVerifierPhase2(o.runDir, o.promptPath(types.AgentVerifier)); err != nil {
		o.logger.Error("launch verifier phase2 failed", "err", err)
	}
}

func (o *Orchestrator) handleGatekeeperDone(ev events.Event) {
	if ev.Verdict == nil {
		return
	}
	if _, err := o.lifecycle.CompleteAgent(types.AgentGatekeeper); err != nil {
		o.logger.Error("complete gatekeeper failed", "err", err)
		return
	}

	result, err := o.phaseM.HandleVerdict(*ev.Verdict)
	if err != nil {
		o.logger.Error("handle verdict failed", "err", err)
		return
	}

	switch result.Outcome {
	case phase.OutcomeReadyForMerge:
		if err := o.assembler.Generate(o.runID); err != nil {
			o.logger.Error("mrp assembly failed", "err", err)
		}
		if _, err := o.state.UpdatePhase(types.PhaseCompleted); err != nil {
			o.logger.Error("mark completed failed", "err", err)
			return
		}
		o.teardownLocked()
	case phase.OutcomeRetryIteration:
		if err := o.runs.ResetAgentForRerun(o.runID, types.AgentBuilder); err != nil {
			o.logger.Error("reset builder for retry failed", "err", err)
		}
		if err := o.runs.ResetVerifierForRetry(o.runID); err != nil {
			o.logger.Error("reset verifier for retry failed", "err", err)
		}
		if err := o.runs.ResetAgentForRerun(o.runID, types.AgentGatekeeper); err != nil {
			o.logger.Error("reset gatekeeper for retry failed", "err", err)
		}
		o.launchForPhase(types.PhaseBuild, true)
	case phase.OutcomeRetryMinorFix:
		st, err := o.state.Load()
		if err != nil {
			o.logger.Error("load state before minor fix retry failed", "err", err)
			return
		}
		if err := o.promptGen.GenerateAll(filepath.Join(o.runDir, runstore.PromptsDir), PromptContext{
			ProjectRoot: o.workspaceRoot,
			RunID:       o.runID,
			Iteration:   st.Iteration,
			HasReview:   true,
		}); err != nil {
			o.logger.Error("regenerate verifier prompt failed", "err", err)
			return
		}
		if err := o.lifecycle.StartAgent(types.AgentVerifier, o.runDir, o.promptPath(types.AgentVerifier)); err != nil {
			o.logger.Error("relaunch verifier failed", "err", err)
		}
	case phase.OutcomeFailed:
		o.teardownLocked()
	case phase.OutcomeAwaitingCRP:
		// NEEDS_HUMAN leaves phase alone; the crp_created event (handled
		// separately) is what actually moves the run to waiting_human.
	}
}

func (o *Orchestrator) handleCRPCreated(ev events.Event) {
	if ev.CRP == nil {
		return
	}
	o.enterWaitingHuman(*ev.CRP)
}

func (o *Orchestrator) enterWaitingHuman(crp types.CRP) {
	o.lifecycle.StopAgent(crp.CreatedBy)
	if _, err := o.state.SetPendingCRP(&crp.CRPID); err != nil {
		o.logger.Error("set pending crp failed", "err", err)
		return
	}
	if _, err := o.state.UpdatePhase(types.PhaseWaitingHuman); err != nil {
		o.logger.Error("enter waiting_human failed", "err", err)
		return
	}
	if !o.cfg.SuppressTerminalBell {
		fmt.Fprint(os.Stderr, "\a")
	}
}

func (o *Orchestrator) latestPendingCRPBy(agent types.Agent) (*types.CRP, error) {
	crps, err := o.runs.ListCRPs(o.runID)
	if err != nil {
		return nil, err
	}
	var latest *types.CRP
	for i := range crps {
		c := crps[i]
		if c.CreatedBy != agent || c.Status != types.CRPStatusPending {
			continue
		}
		if latest == nil || c.CreatedAt.After(latest.CreatedAt) {
			latest = &c
		}
	}
	return latest, nil
}

func (o *Orchestrator) handleErrorFlag(ev events.Event) {
	if ev.ErrorFlag == nil {
		return
	}
	flag := *ev.ErrorFlag
	if _, err := o.lifecycle.FailAgent(flag.Agent, flag.Message); err != nil {
		o.logger.Error("fail agent failed", "agent", flag.Agent, "err", err)
		return
	}

	if retry.CanRecover(flag) && o.cfg.AutoRetryEnabled {
		o.attempts[flag.Agent]++
		attempt := o.attempts[flag.Agent]
		if attempt > o.policy.MaxAttempts {
			if _, err := o.state.AddError(fmt.Sprintf("%s: exhausted retry attempts", flag.Agent)); err != nil {
				o.logger.Error("record retry exhaustion failed", "err", err)
			}
			if _, err := o.phaseM.FailRun(fmt.Sprintf("%s exhausted its retry budget after repeated %s errors", flag.Agent, flag.ErrorType)); err != nil {
				o.logger.Error("mark run failed failed", "err", err)
			}
			return
		}

		delay := o.policy.Delay(attempt)
		o.mu.Unlock()
		time.Sleep(delay)
		o.mu.Lock()
		if !o.running {
			return
		}
		if err := o.recovery.Recover(flag.Agent, flag); err != nil {
			o.logger.Error("recovery action failed", "agent", flag.Agent, "err", err)
		}
		return
	}

	if _, err := o.state.AddError(fmt.Sprintf("%s: %s", flag.Agent, flag.Message)); err != nil {
		o.logger.Error("record agent error failed", "err", err)
	}
	if _, err := o.phaseM.FailRun(fmt.Sprintf("unrecoverable error from %s: %s", flag.Agent, flag.Message)); err != nil {
		o.logger.Error("mark run failed failed", "err", err)
	}
}

// defaultModels seeds every agent slot with the configured default model,
// used when no ModelSelector is wired or it returns no override for an
// agent.
func (o *Orchestrator) defaultModels() map[types.Agent]string {
	model := o.cfg.EffectiveDefaultModel()
	return map[types.Agent]string{
		types.AgentRefiner:    model,
		types.AgentBuilder:    model,
		types.AgentVerifier:   model,
		types.AgentGatekeeper: model,
	}
}

// GetCurrentState returns the active run's current state document.
func (o *Orchestrator) GetCurrentState() (*types.RunState, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == nil {
		return nil, types.ErrRunNotFound
	}
	return o.state.Load()
}

// GetCurrentRunID returns the active run's RunId, or "" if none is running.
func (o *Orchestrator) GetCurrentRunID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.runID
}

// GetIsRunning reports whether a run is currently active.
func (o *Orchestrator) GetIsRunning() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

// GetAgentOutputs returns the raw output.json payload captured so far for
// every agent, keyed by agent, skipping agents with no output yet.
func (o *Orchestrator) GetAgentOutputs() (map[types.Agent]string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.lifecycle == nil {
		return nil, types.ErrRunNotFound
	}
	out := make(map[types.Agent]string, len(types.Agents))
	for _, a := range types.Agents {
		text, _ := o.lifecycle.CaptureOutput(a)
		if text != "" {
			out[a] = text
		}
	}
	return out, nil
}

// GetAgentActivity returns the live terminal output and liveness flag for
// agent, as reported by the underlying Runner.
func (o *Orchestrator) GetAgentActivity(agent types.Agent) (string, bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.lifecycle == nil {
		return "", false, types.ErrRunNotFound
	}
	text, active := o.lifecycle.CaptureOutput(agent)
	return text, active, nil
}

// GetAgentUsage returns the recorded usage for a single agent.
func (o *Orchestrator) GetAgentUsage(agent types.Agent) (types.Usage, error) {
	st, err := o.GetCurrentState()
	if err != nil {
		return types.Usage{}, err
	}
	as, ok := st.Agents[agent]
	if !ok || as.Usage == nil {
		return types.Usage{}, nil
	}
	return *as.Usage, nil
}

// GetTotalUsage returns the run-wide usage aggregate.
func (o *Orchestrator) GetTotalUsage() (types.Usage, error) {
	st, err := o.GetCurrentState()
	if err != nil {
		return types.Usage{}, err
	}
	return st.Usage, nil
}

// GetSelectedModels returns the per-agent model selection in effect for the
// active run.
func (o *Orchestrator) GetSelectedModels() (map[types.Agent]string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.models == nil {
		return nil, types.ErrRunNotFound
	}
	out := make(map[types.Agent]string, len(o.models))
	for k, v := range o.models {
		out[k] = v
	}
	return out, nil
}
