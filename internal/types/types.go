// Package types defines the shared data model for the orchestral pipeline:
// runs, run state, clarification requests/responses, and gate verdicts.
// Every other package imports these shapes rather than redeclaring them.
package types

import (
	"encoding/json"
	"time"
)

// Phase is the macro-state of a run.
type Phase string

const (
	PhaseRefine        Phase = "refine"
	PhaseBuild         Phase = "build"
	PhaseVerify        Phase = "verify"
	PhaseGate          Phase = "gate"
	PhaseWaitingHuman  Phase = "waiting_human"
	PhaseReadyForMerge Phase = "ready_for_merge"
	PhaseCompleted     Phase = "completed"
	PhaseFailed        Phase = "failed"
)

// Agent is one of the four worker slots in a run.
type Agent string

const (
	AgentRefiner    Agent = "refiner"
	AgentBuilder    Agent = "builder"
	AgentVerifier   Agent = "verifier"
	AgentGatekeeper Agent = "gatekeeper"
)

// Agents lists the four slots in pipeline order.
var Agents = []Agent{AgentRefiner, AgentBuilder, AgentVerifier, AgentGatekeeper}

// AgentStatus is the lifecycle state of a single agent slot.
type AgentStatus string

const (
	AgentStatusPending              AgentStatus = "pending"
	AgentStatusRunning              AgentStatus = "running"
	AgentStatusWaitingTestExecution AgentStatus = "waiting_test_execution"
	AgentStatusWaitingHuman         AgentStatus = "waiting_human"
	AgentStatusCompleted            AgentStatus = "completed"
	AgentStatusFailed               AgentStatus = "failed"
	AgentStatusTimeout              AgentStatus = "timeout"
)

// VerdictKind is the Gatekeeper's structured decision.
type VerdictKind string

const (
	VerdictPass        VerdictKind = "PASS"
	VerdictFail        VerdictKind = "FAIL"
	VerdictMinorFail   VerdictKind = "MINOR_FAIL"
	VerdictNeedsHuman  VerdictKind = "NEEDS_HUMAN"
)

// ErrorKind classifies a worker error.flag for RetryPolicy/RecoveryStrategies.
type ErrorKind string

const (
	ErrorKindCrash      ErrorKind = "crash"
	ErrorKindTimeout    ErrorKind = "timeout"
	ErrorKindValidation ErrorKind = "validation"
	ErrorKindPermission ErrorKind = "permission"
	ErrorKindResource   ErrorKind = "resource"
)

// CRPStatus is the lifecycle state of a clarification request.
type CRPStatus string

const (
	CRPStatusPending  CRPStatus = "pending"
	CRPStatusResolved CRPStatus = "resolved"
)

// Usage aggregates model token/cost consumption. CostUSD is always rounded
// to 6 decimal places by whoever last wrote the field (see statestore).
type Usage struct {
	InputTokens         int     `json:"input"`
	OutputTokens        int     `json:"output"`
	CacheCreationTokens int     `json:"cache_creation"`
	CacheReadTokens     int     `json:"cache_read"`
	CostUSD             float64 `json:"cost_usd"`
}

// Add returns the componentwise sum of u and other.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		InputTokens:         u.InputTokens + other.InputTokens,
		OutputTokens:        u.OutputTokens + other.OutputTokens,
		CacheCreationTokens: u.CacheCreationTokens + other.CacheCreationTokens,
		CacheReadTokens:     u.CacheReadTokens + other.CacheReadTokens,
		CostUSD:             roundCost(u.CostUSD + other.CostUSD),
	}
}

func roundCost(v float64) float64 {
	// 6 decimal places, per invariant 4.
	const factor = 1e6
	return float64(int64(v*factor+0.5)) / factor
}

// AgentOutputUsage is the usage envelope a worker writes into output.json,
// per the §6 boundary schema.
type AgentOutputUsage struct {
	InputTokens              int     `json:"input_tokens"`
	OutputTokens             int     `json:"output_tokens"`
	CacheCreationInputTokens int     `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int     `json:"cache_read_input_tokens"`
	TotalCostUSD             float64 `json:"total_cost_usd"`
}

// ToUsage converts the on-wire worker usage shape into the internal Usage type.
func (a AgentOutputUsage) ToUsage() Usage {
	return Usage{
		InputTokens:         a.InputTokens,
		OutputTokens:        a.OutputTokens,
		CacheCreationTokens: a.CacheCreationInputTokens,
		CacheReadTokens:     a.CacheReadInputTokens,
		CostUSD:             roundCost(a.TotalCostUSD),
	}
}

// AgentOutput is the full worker-written output.json artifact.
type AgentOutput struct {
	Usage      AgentOutputUsage `json:"usage"`
	RawPayload json.RawMessage `json:"-"`
}

// AgentState captures one agent slot's recorded lifecycle within RunState.
type AgentState struct {
	Status      AgentStatus `json:"status"`
	StartedAt   *time.Time  `json:"started_at,omitempty"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
	TimeoutAt   *time.Time  `json:"timeout_at,omitempty"`
	Error       string      `json:"error,omitempty"`
	Usage       *Usage      `json:"usage,omitempty"`
}

// HistoryEntry records one phase transition.
type HistoryEntry struct {
	Prev      Phase     `json:"prev"`
	Completed Phase     `json:"completed"`
	Timestamp time.Time `json:"ts"`
}

// ModelSelection records the per-agent model choices made before launch.
type ModelSelection struct {
	Models         map[Agent]string `json:"models"`
	Analysis       string           `json:"analysis,omitempty"`
	SelectionMethod string          `json:"selection_method,omitempty"`
}

// RunState is the single mutable, persistent document for a run. It is the
// only source of truth for phase/iteration/minor-fix bookkeeping: every
// mutation must go through statestore's typed mutators so invariants 1-6
// in SPEC_FULL.md §3 hold after every save.
type RunState struct {
	RunID     string    `json:"run_id"`
	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Phase Phase `json:"phase"`

	Iteration         int `json:"iteration"`
	MaxIterations     int `json:"max_iterations"`
	MinorFixAttempts    int `json:"minor_fix_attempts"`
	MaxMinorFixAttempts int `json:"max_minor_fix_attempts"`

	Agents map[Agent]AgentState `json:"agents"`

	PendingCRP *string `json:"pending_crp"`

	LastEvent string   `json:"last_event,omitempty"`
	Errors    []string `json:"errors,omitempty"`
	History   []HistoryEntry `json:"history,omitempty"`

	Usage Usage `json:"usage"`

	ModelSelection *ModelSelection `json:"model_selection,omitempty"`
}

// Clone returns a deep-enough copy of s so that callers can mutate the
// result without corrupting a cached snapshot.
func (s *RunState) Clone() *RunState {
	if s == nil {
		return nil
	}
	out := *s
	out.Agents = make(map[Agent]AgentState, len(s.Agents))
	for k, v := range s.Agents {
		out.Agents[k] = v
	}
	out.Errors = append([]string(nil), s.Errors...)
	out.History = append([]HistoryEntry(nil), s.History...)
	if s.PendingCRP != nil {
		v := *s.PendingCRP
		out.PendingCRP = &v
	}
	if s.ModelSelection != nil {
		ms := *s.ModelSelection
		ms.Models = make(map[Agent]string, len(s.ModelSelection.Models))
		for k, v := range s.ModelSelection.Models {
			ms.Models[k] = v
		}
		out.ModelSelection = &ms
	}
	return &out
}

// NewRunState constructs the initial document written by RunStore.create_run.
// maxMinorFixAttempts of 0 falls back to the spec default of 2.
func NewRunState(runID string, maxIterations, maxMinorFixAttempts int, now time.Time) *RunState {
	agents := make(map[Agent]AgentState, len(Agents))
	for _, a := range Agents {
		agents[a] = AgentState{Status: AgentStatusPending}
	}
	if maxMinorFixAttempts == 0 {
		maxMinorFixAttempts = 2
	}
	return &RunState{
		RunID:               runID,
		StartedAt:           now,
		UpdatedAt:           now,
		Phase:               PhaseRefine,
		Iteration:           1,
		MaxIterations:       maxIterations,
		MaxMinorFixAttempts: maxMinorFixAttempts,
		Agents:              agents,
	}
}

// Question is a single question within a multi-question CRP.
type Question struct {
	ID         string   `json:"id"`
	Question   string   `json:"question"`
	Options    []string `json:"options,omitempty"`
	Required   bool     `json:"required,omitempty"`
}

// CRP is a Clarification Request Package, written by a worker to ask the
// human a question. It is a tagged variant: Single-question CRPs populate
// Question/Options/Recommendation; multi-question CRPs populate Questions.
type CRP struct {
	CRPID     string    `json:"crp_id"`
	CreatedBy Agent     `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	Status    CRPStatus `json:"status"`
	Type      string    `json:"type"`

	// Single-question fields.
	Question       string   `json:"question,omitempty"`
	Options        []string `json:"options,omitempty"`
	Recommendation string   `json:"recommendation,omitempty"`

	// Multi-question fields.
	Questions []Question `json:"questions,omitempty"`
}

// IsMulti reports whether this CRP uses the multi-question variant.
func (c *CRP) IsMulti() bool { return len(c.Questions) > 0 }

// VCR is a Verified Clarification Response: the human's reply to a CRP.
type VCR struct {
	VCRID     string    `json:"vcr_id"`
	CRPID     string    `json:"crp_id"`
	CreatedAt time.Time `json:"created_at"`

	// Decision is a plain option ID for single-question CRPs, or a
	// questionId -> optionId mapping for multi-question CRPs.
	Decision json.RawMessage `json:"decision"`

	Rationale        string `json:"rationale,omitempty"`
	AdditionalNotes  string `json:"additional_notes,omitempty"`
	AppliesToFuture  bool   `json:"applies_to_future,omitempty"`
}

// SingleDecision decodes Decision as a plain option ID string.
func (v *VCR) SingleDecision() (string, bool) {
	var s string
	if err := json.Unmarshal(v.Decision, &s); err != nil {
		return "", false
	}
	return s, true
}

// MultiDecision decodes Decision as a questionId -> optionId mapping.
func (v *VCR) MultiDecision() (map[string]string, bool) {
	var m map[string]string
	if err := json.Unmarshal(v.Decision, &m); err != nil {
		return nil, false
	}
	return m, true
}

// Verdict is the Gatekeeper's structured decision artifact.
type Verdict struct {
	Verdict VerdictKind     `json:"verdict"`
	Review  string          `json:"review,omitempty"`
	Raw     json.RawMessage `json:"-"`
}

// ErrorFlag is the decoded contents of an agent's error.flag artifact.
type ErrorFlag struct {
	Agent       Agent     `json:"agent"`
	ErrorType   ErrorKind `json:"error_type"`
	Message     string    `json:"message"`
	Stack       string    `json:"stack,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	Recoverable bool      `json:"recoverable"`
}

// TestConfig is the Phase-1 verifier handoff written alongside
// verifier/tests-ready.flag.
type TestConfig struct {
	TestCommand   string `json:"test_command"`
	TestDirectory string `json:"test_directory"`
	TimeoutMs     int    `json:"timeout_ms"`
}

// TestOutput is produced by the external test runner after tests-ready.flag.
type TestOutput struct {
	ExitCode    int             `json:"exit_code"`
	Stdout      string          `json:"stdout"`
	Stderr      string          `json:"stderr"`
	DurationMs  int64           `json:"duration_ms"`
	ExecutedAt  time.Time       `json:"executed_at"`
	TestResults json.RawMessage `json:"test_results,omitempty"`
}

// VerifierResults is the verifier's final summarized test outcome.
type VerifierResults struct {
	Total    int             `json:"total"`
	Passed   int             `json:"passed"`
	Failed   int             `json:"failed"`
	Coverage json.RawMessage `json:"coverage,omitempty"`
}

// RunSummary is the lightweight listing entry returned by RunStore.list_runs.
type RunSummary struct {
	RunID     string    `json:"run_id"`
	Phase     Phase     `json:"phase"`
	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
