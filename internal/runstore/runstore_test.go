package runstore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/boshu2/orchestral/internal/types"
)

const fixedRunID = "run-20260101000000"

func newFixture(t *testing.T) (*RunStore, string) {
	t.Helper()
	root := t.TempDir()
	s := New(root)
	runDir, err := s.CreateRun(fixedRunID, "build a thing", 10, 2)
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	return s, runDir
}

func TestCreateRunWritesDirectoryTreeAndInitialState(t *testing.T) {
	s, runDir := newFixture(t)

	for _, sub := range []string{"briefing", "prompts", "verifier", filepath.Join("verifier", "tests"), "gatekeeper", "crp", "vcr", "mrp", filepath.Join("mrp", "code"), filepath.Join("mrp", "tests"), "refiner", "builder"} {
		if fi, err := os.Stat(filepath.Join(runDir, sub)); err != nil || !fi.IsDir() {
			t.Errorf("expected directory %s to exist", sub)
		}
	}

	raw, err := s.ReadRawBriefing(fixedRunID)
	if err != nil {
		t.Fatalf("ReadRawBriefing: %v", err)
	}
	if raw != "build a thing" {
		t.Errorf("ReadRawBriefing() = %q, want %q", raw, "build a thing")
	}
}

func TestCreateRunRejectsDuplicateID(t *testing.T) {
	s, _ := newFixture(t)
	if _, err := s.CreateRun(fixedRunID, "another briefing", 10, 2); err == nil {
		t.Fatal("expected error creating a run with an already-used id")
	}
}

func TestCreateRunRejectsEmptyBriefing(t *testing.T) {
	s := New(t.TempDir())
	if _, err := s.CreateRun(fixedRunID, "", 10, 2); err == nil {
		t.Fatal("expected error for empty briefing")
	}
}

func TestCreateRunRejectsOutOfRangeMaxIterations(t *testing.T) {
	s := New(t.TempDir())
	if _, err := s.CreateRun(fixedRunID, "x", 0, 2); err == nil {
		t.Fatal("expected error for max_iterations=0")
	}
	if _, err := s.CreateRun(fixedRunID, "x", 101, 2); err == nil {
		t.Fatal("expected error for max_iterations=101")
	}
}

func TestRunDirPathRejectsPathTraversal(t *testing.T) {
	s := New(t.TempDir())
	if _, err := s.RunDirPath("../../etc"); err == nil {
		t.Fatal("expected error for a run id containing path traversal")
	}
	if _, err := s.RunDirPath("not-a-valid-run-id"); err == nil {
		t.Fatal("expected error for a malformed run id")
	}
}

func TestGenerateRunIDMatchesPattern(t *testing.T) {
	s := New(t.TempDir())
	id := s.GenerateRunID()
	if len(id) != len("run-20060102150405") {
		t.Errorf("GenerateRunID() = %q, unexpected length", id)
	}
	if _, err := s.RunDirPath(id); err != nil {
		t.Errorf("freshly generated id %q is not a valid run id: %v", id, err)
	}
}

func TestListRunsEmptyRoot(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "does-not-exist"))
	runs, err := s.ListRuns()
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("ListRuns() = %v, want empty", runs)
	}
}

func TestGetActiveRunSkipsCompletedAndFailed(t *testing.T) {
	root := t.TempDir()
	s := New(root)

	completedID := "run-20260101000001"
	if _, err := s.CreateRun(completedID, "done run", 10, 2); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	completedDir, _ := s.RunDirPath(completedID)
	completedState := s.newStateStore(completedDir)
	if _, err := completedState.UpdatePhase(types.PhaseCompleted); err != nil {
		t.Fatalf("UpdatePhase: %v", err)
	}

	activeID := "run-20260101000002"
	if _, err := s.CreateRun(activeID, "active run", 10, 2); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	active, err := s.GetActiveRun()
	if err != nil {
		t.Fatalf("GetActiveRun: %v", err)
	}
	if active == nil || active.RunID != activeID {
		t.Errorf("GetActiveRun() = %v, want %q", active, activeID)
	}
}

func TestCRPLifecycleListGetAndResolveViaSaveVCR(t *testing.T) {
	s, runDir := newFixture(t)

	crp := types.CRP{
		CRPID:     "crp-abc123",
		CreatedBy: types.AgentBuilder,
		CreatedAt: time.Now().UTC(),
		Status:    types.CRPStatusPending,
		Type:      "single",
		Question:  "use postgres or sqlite?",
		Options:   []string{"postgres", "sqlite"},
	}
	data, err := json.Marshal(crp)
	if err != nil {
		t.Fatalf("Marshal crp: %v", err)
	}
	if err := os.WriteFile(filepath.Join(runDir, CRPDir, crp.CRPID+".json"), data, 0o600); err != nil {
		t.Fatalf("WriteFile crp: %v", err)
	}

	got, err := s.GetCRP(fixedRunID, crp.CRPID)
	if err != nil {
		t.Fatalf("GetCRP: %v", err)
	}
	if got.Status != types.CRPStatusPending {
		t.Errorf("GetCRP().Status = %q, want pending", got.Status)
	}

	vcr := types.VCR{
		VCRID:     "vcr-def456",
		CRPID:     crp.CRPID,
		CreatedAt: time.Now().UTC(),
		Decision:  json.RawMessage(`"postgres"`),
	}
	if err := s.SaveVCR(fixedRunID, vcr); err != nil {
		t.Fatalf("SaveVCR: %v", err)
	}

	resolved, err := s.GetCRP(fixedRunID, crp.CRPID)
	if err != nil {
		t.Fatalf("GetCRP after SaveVCR: %v", err)
	}
	if resolved.Status != types.CRPStatusResolved {
		t.Errorf("CRP.Status after SaveVCR = %q, want resolved", resolved.Status)
	}

	vcrs, err := s.ListVCRs(fixedRunID)
	if err != nil {
		t.Fatalf("ListVCRs: %v", err)
	}
	if len(vcrs) != 1 || vcrs[0].VCRID != vcr.VCRID {
		t.Errorf("ListVCRs() = %v, want one entry with id %q", vcrs, vcr.VCRID)
	}
}

func TestSaveVCRRejectsMissingRequiredAnswer(t *testing.T) {
	s, runDir := newFixture(t)

	crp := types.CRP{
		CRPID:     "crp-multi1",
		CreatedBy: types.AgentBuilder,
		CreatedAt: time.Now().UTC(),
		Status:    types.CRPStatusPending,
		Type:      "multi",
		Questions: []types.Question{
			{ID: "q1", Question: "storage engine?", Required: true},
			{ID: "q2", Question: "cache layer?", Required: false},
		},
	}
	data, err := json.Marshal(crp)
	if err != nil {
		t.Fatalf("Marshal crp: %v", err)
	}
	if err := os.WriteFile(filepath.Join(runDir, CRPDir, crp.CRPID+".json"), data, 0o600); err != nil {
		t.Fatalf("WriteFile crp: %v", err)
	}

	vcr := types.VCR{
		VCRID:     "vcr-multi1",
		CRPID:     crp.CRPID,
		CreatedAt: time.Now().UTC(),
		Decision:  json.RawMessage(`{"q2":"redis"}`),
	}
	if err := s.SaveVCR(fixedRunID, vcr); err == nil {
		t.Fatal("expected error saving a vcr missing a required answer")
	}
}

func TestResetAgentForRerunRemovesFlagFiles(t *testing.T) {
	s, runDir := newFixture(t)
	agentDir := filepath.Join(runDir, string(types.AgentBuilder))
	for _, name := range []string{DoneFlag, ErrorFlag, OutputFile} {
		if err := os.WriteFile(filepath.Join(agentDir, name), []byte("x"), 0o600); err != nil {
			t.Fatalf("WriteFile %s: %v", name, err)
		}
	}

	if err := s.ResetAgentForRerun(fixedRunID, types.AgentBuilder); err != nil {
		t.Fatalf("ResetAgentForRerun: %v", err)
	}

	for _, name := range []string{DoneFlag, ErrorFlag, OutputFile} {
		if _, err := os.Stat(filepath.Join(agentDir, name)); !os.IsNotExist(err) {
			t.Errorf("%s still exists after ResetAgentForRerun", name)
		}
	}
}

func TestDeleteRunRefusesActiveRun(t *testing.T) {
	s, _ := newFixture(t)
	if err := s.DeleteRun(fixedRunID); err != types.ErrRunNotDeletable {
		t.Errorf("DeleteRun() on an active run = %v, want %v", err, types.ErrRunNotDeletable)
	}
}

func TestDeleteRunRemovesCompletedRun(t *testing.T) {
	s, runDir := newFixture(t)
	if _, err := s.newStateStore(runDir).UpdatePhase(types.PhaseCompleted); err != nil {
		t.Fatalf("UpdatePhase: %v", err)
	}
	if err := s.DeleteRun(fixedRunID); err != nil {
		t.Fatalf("DeleteRun: %v", err)
	}
	if _, err := os.Stat(runDir); !os.IsNotExist(err) {
		t.Error("run directory still exists after DeleteRun")
	}
}

func TestParseDurationUnits(t *testing.T) {
	cases := map[string]time.Duration{
		"7d":  7 * 24 * time.Hour,
		"3h":  3 * time.Hour,
		"45m": 45 * time.Minute,
		"30s": 30 * time.Second,
	}
	for in, want := range cases {
		got, err := ParseDuration(in)
		if err != nil {
			t.Fatalf("ParseDuration(%q): %v", in, err)
		}
		if got != want {
			t.Errorf("ParseDuration(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestParseDurationRejectsMalformedInput(t *testing.T) {
	for _, in := range []string{"", "7", "7x", "-3h"} {
		if _, err := ParseDuration(in); err == nil {
			t.Errorf("ParseDuration(%q) returned nil error, want one", in)
		}
	}
}
