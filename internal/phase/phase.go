// Package phase implements PhaseMachine: the sole authority over phase,
// iteration, and minor_fix_attempts (SPEC_FULL.md §4.6). Grounded directly
// on other_examples' stukennedy-kyotee internal/orchestrator/engine.go
// (Engine.RunWithContext's phase loop and iteration counters, whose
// checkpoint short-circuit is the direct analogue of the CRP short-circuit
// here) and the teacher's runPhaseLoop/runSinglePhase
// (cmd/ao/rpi_phased_phase_runner.go) for the happy-path/gate-retry shape.
package phase

import (
	"time"

	"github.com/boshu2/orchestral/internal/runstore"
	"github.com/boshu2/orchestral/internal/statestore"
	"github.com/boshu2/orchestral/internal/types"
)

// Outcome names what HandleVerdict decided, so the Orchestrator knows which
// side effect (launch a worker, assemble the MRP, do nothing) to perform.
type Outcome string

const (
	// OutcomeReadyForMerge means the run passed: MRPAssembler should run and
	// the run is complete.
	OutcomeReadyForMerge Outcome = "ready_for_merge"
	// OutcomeRetryIteration means a fresh Build→Verify→Gate loop begins.
	OutcomeRetryIteration Outcome = "retry_iteration"
	// OutcomeRetryMinorFix means a verifier-only re-run, no iteration spent.
	OutcomeRetryMinorFix Outcome = "retry_minor_fix"
	// OutcomeFailed means the run has ended in phase=failed.
	OutcomeFailed Outcome = "failed"
	// OutcomeAwaitingCRP means no phase action is taken here; the
	// crp_created event (already produced by the Gatekeeper per the
	// invariant in §4.6) will move the run to waiting_human.
	OutcomeAwaitingCRP Outcome = "awaiting_crp"
)

// Result is returned by HandleVerdict: the outcome and the state snapshot
// immediately after whatever mutation it performed.
type Result struct {
	Outcome Outcome
	State   *types.RunState
}

// Machine owns phase/iteration/minor-fix transitions for one run.
type Machine struct {
	states         *statestore.Store
	runs           *runstore.RunStore
	runID          string
	tieBreakWindow time.Duration
}

// New builds a Machine for runID, bound to states and runs.
func New(states *statestore.Store, runs *runstore.RunStore, runID string, tieBreakWindow time.Duration) *Machine {
	return &Machine{states: states, runs: runs, runID: runID, tieBreakWindow: tieBreakWindow}
}

// TieBreakWindow is the CRP-detection window within which a verifier_done
// arriving alongside a crp_created from the verifier loses to the CRP.
func (m *Machine) TieBreakWindow() time.Duration { return m.tieBreakWindow }

// Transition appends a history entry and sets phase=next.
func (m *Machine) Transition(next types.Phase) (*types.RunState, error) {
	return m.states.UpdatePhase(next)
}

// HandleVerdict implements §4.6's verdict table.
func (m *Machine) HandleVerdict(v types.Verdict) (Result, error) {
	switch v.Verdict {
	case types.VerdictPass:
		state, err := m.Transition(types.PhaseReadyForMerge)
		if err != nil {
			return Result{}, err
		}
		return Result{Outcome: OutcomeReadyForMerge, State: state}, nil

	case types.VerdictFail:
		return m.handleFail()

	case types.VerdictMinorFail:
		return m.handleMinorFail()

	case types.VerdictNeedsHuman:
		state, err := m.states.Load()
		if err != nil {
			return Result{}, err
		}
		return Result{Outcome: OutcomeAwaitingCRP, State: state}, nil

	default:
		state, err := m.failRun("unrecognized verdict")
		if err != nil {
			return Result{}, err
		}
		return Result{Outcome: OutcomeFailed, State: state}, nil
	}
}

func (m *Machine) handleFail() (Result, error) {
	current, err := m.states.Load()
	if err != nil {
		return Result{}, err
	}

	if current.Iteration >= current.MaxIterations {
		state, err := m.failRun("iteration budget exhausted after FAIL verdict")
		if err != nil {
			return Result{}, err
		}
		return Result{Outcome: OutcomeFailed, State: state}, nil
	}

	if _, err := m.states.IncrementIteration(); err != nil {
		return Result{}, err
	}
	state, err := m.Transition(types.PhaseBuild)
	if err != nil {
		return Result{}, err
	}
	return Result{Outcome: OutcomeRetryIteration, State: state}, nil
}

func (m *Machine) handleMinorFail() (Result, error) {
	current, err := m.states.Load()
	if err != nil {
		return Result{}, err
	}

	if current.MinorFixAttempts >= current.MaxMinorFixAttempts {
		return m.handleFail()
	}

	if _, err := m.states.IncrementMinorFixAttempt(); err != nil {
		return Result{}, err
	}
	if err := m.runs.ResetVerifierForRetry(m.runID); err != nil {
		return Result{}, err
	}
	state, err := m.Transition(types.PhaseVerify)
	if err != nil {
		return Result{}, err
	}
	return Result{Outcome: OutcomeRetryMinorFix, State: state}, nil
}

func (m *Machine) failRun(message string) (*types.RunState, error) {
	if _, err := m.states.AddError(message); err != nil {
		return nil, err
	}
	return m.Transition(types.PhaseFailed)
}

// FailRun is the public entrypoint RetryPolicy/Orchestrator use to end a run
// on an unrecoverable error outside the verdict path (e.g. a validation or
// permission error.flag).
func (m *Machine) FailRun(message string) (*types.RunState, error) {
	return m.failRun(message)
}
