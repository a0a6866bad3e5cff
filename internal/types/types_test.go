package types

import (
	"encoding/json"
	"testing"
	"time"
)

func TestNewRunStateDefaults(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	st := NewRunState("run-20260101000000", 10, 2, now)

	if st.Phase != PhaseRefine {
		t.Errorf("Phase = %q, want %q", st.Phase, PhaseRefine)
	}
	if st.Iteration != 1 {
		t.Errorf("Iteration = %d, want 1", st.Iteration)
	}
	if st.MaxIterations != 10 {
		t.Errorf("MaxIterations = %d, want 10", st.MaxIterations)
	}
	if st.MaxMinorFixAttempts != 2 {
		t.Errorf("MaxMinorFixAttempts = %d, want 2", st.MaxMinorFixAttempts)
	}
	if len(st.Agents) != len(Agents) {
		t.Fatalf("len(Agents) = %d, want %d", len(st.Agents), len(Agents))
	}
	for _, a := range Agents {
		if st.Agents[a].Status != AgentStatusPending {
			t.Errorf("Agents[%s].Status = %q, want %q", a, st.Agents[a].Status, AgentStatusPending)
		}
	}
}

func TestNewRunStateMaxMinorFixAttemptsOverrideAndFallback(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	if st := NewRunState("run-20260101000000", 10, 5, now); st.MaxMinorFixAttempts != 5 {
		t.Errorf("MaxMinorFixAttempts = %d, want 5 (configured override)", st.MaxMinorFixAttempts)
	}
	if st := NewRunState("run-20260101000000", 10, 0, now); st.MaxMinorFixAttempts != 2 {
		t.Errorf("MaxMinorFixAttempts = %d, want 2 (zero falls back to spec default)", st.MaxMinorFixAttempts)
	}
}

func TestRunStateCloneIsIndependent(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	orig := NewRunState("run-20260101000000", 10, 2, now)
	crpID := "crp-1"
	orig.PendingCRP = &crpID
	orig.Errors = []string{"boom"}
	orig.History = []HistoryEntry{{Prev: PhaseRefine, Completed: PhaseBuild, Timestamp: now}}
	orig.ModelSelection = &ModelSelection{Models: map[Agent]string{AgentRefiner: "claude-sonnet"}}

	clone := orig.Clone()

	clone.Agents[AgentBuilder] = AgentState{Status: AgentStatusRunning}
	*clone.PendingCRP = "crp-2"
	clone.Errors[0] = "mutated"
	clone.ModelSelection.Models[AgentRefiner] = "gpt-5"

	if orig.Agents[AgentBuilder].Status != AgentStatusPending {
		t.Error("mutating clone.Agents leaked into orig")
	}
	if *orig.PendingCRP != "crp-1" {
		t.Error("mutating clone.PendingCRP leaked into orig")
	}
	if orig.Errors[0] != "boom" {
		t.Error("mutating clone.Errors leaked into orig")
	}
	if orig.ModelSelection.Models[AgentRefiner] != "claude-sonnet" {
		t.Error("mutating clone.ModelSelection leaked into orig")
	}
}

func TestRunStateCloneNilReceiver(t *testing.T) {
	var st *RunState
	if got := st.Clone(); got != nil {
		t.Errorf("Clone() on nil receiver = %+v, want nil", got)
	}
}

func TestUsageAddSumsFieldsAndRoundsCost(t *testing.T) {
	a := Usage{InputTokens: 10, OutputTokens: 20, CacheCreationTokens: 1, CacheReadTokens: 2, CostUSD: 0.1234561}
	b := Usage{InputTokens: 5, OutputTokens: 7, CacheCreationTokens: 3, CacheReadTokens: 4, CostUSD: 0.1234569}

	sum := a.Add(b)

	if sum.InputTokens != 15 || sum.OutputTokens != 27 || sum.CacheCreationTokens != 4 || sum.CacheReadTokens != 6 {
		t.Errorf("Add() token fields = %+v, want 15/27/4/6", sum)
	}
	want := roundCost(0.1234561 + 0.1234569)
	if sum.CostUSD != want {
		t.Errorf("Add().CostUSD = %v, want %v", sum.CostUSD, want)
	}
}

func TestRoundCostSixDecimalPlaces(t *testing.T) {
	got := roundCost(0.123456789)
	want := 0.123457
	if got != want {
		t.Errorf("roundCost(0.123456789) = %v, want %v", got, want)
	}
}

func TestAgentOutputUsageToUsageConvertsAndRounds(t *testing.T) {
	out := AgentOutputUsage{
		InputTokens:              100,
		OutputTokens:             200,
		CacheCreationInputTokens: 10,
		CacheReadInputTokens:     20,
		TotalCostUSD:             0.00000051,
	}
	got := out.ToUsage()
	want := Usage{InputTokens: 100, OutputTokens: 200, CacheCreationTokens: 10, CacheReadTokens: 20, CostUSD: 0.000001}
	if got != want {
		t.Errorf("ToUsage() = %+v, want %+v", got, want)
	}
}

func TestCRPIsMulti(t *testing.T) {
	single := &CRP{Question: "pick one", Options: []string{"a", "b"}}
	if single.IsMulti() {
		t.Error("single-question CRP reports IsMulti() = true")
	}
	multi := &CRP{Questions: []Question{{ID: "q1", Question: "pick one"}}}
	if !multi.IsMulti() {
		t.Error("multi-question CRP reports IsMulti() = false")
	}
}

func TestVCRSingleDecision(t *testing.T) {
	vcr := &VCR{Decision: json.RawMessage(`"option-a"`)}
	got, ok := vcr.SingleDecision()
	if !ok || got != "option-a" {
		t.Errorf("SingleDecision() = (%q, %v), want (%q, true)", got, ok, "option-a")
	}
	if _, ok := vcr.MultiDecision(); ok {
		t.Error("MultiDecision() on a single-question payload reported ok = true")
	}
}

func TestVCRMultiDecision(t *testing.T) {
	vcr := &VCR{Decision: json.RawMessage(`{"q1":"option-a","q2":"option-b"}`)}
	got, ok := vcr.MultiDecision()
	if !ok {
		t.Fatal("MultiDecision() ok = false")
	}
	want := map[string]string{"q1": "option-a", "q2": "option-b"}
	if len(got) != len(want) || got["q1"] != want["q1"] || got["q2"] != want["q2"] {
		t.Errorf("MultiDecision() = %v, want %v", got, want)
	}
	if _, ok := vcr.SingleDecision(); ok {
		t.Error("SingleDecision() on a multi-question payload reported ok = true")
	}
}
