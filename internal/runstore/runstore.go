// Package runstore owns the on-disk representation of runs: the per-run
// directory layout, creation/enumeration/deletion, and artifact read/write.
// It never interprets worker JSON beyond the minimal decoding needed to
// answer its own queries (e.g. searching CRPs by crp_id) — FileEventSource
// and the Orchestrator own the rest of the interpretation.
package runstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/boshu2/orchestral/internal/fsatomic"
	"github.com/boshu2/orchestral/internal/idgen"
	"github.com/boshu2/orchestral/internal/statestore"
	"github.com/boshu2/orchestral/internal/types"
)

// Directory and file names within a RunDir, per SPEC_FULL.md §3.
const (
	StateFile          = "state.json"
	EventsLogFile      = "events.log"
	ModelSelectionFile = "model-selection.json"

	BriefingDir         = "briefing"
	RawBriefingFile     = "raw.md"
	RefinedBriefingFile = "refined.md"

	PromptsDir = "prompts"

	VerifierDir           = "verifier"
	TestsReadyFlag        = "tests-ready.flag"
	TestConfigFile        = "test-config.json"
	TestOutputFile        = "test-output.json"
	VerifierResultsFile   = "results.json"
	VerifierTestsSubdir   = "tests"

	GatekeeperDir    = "gatekeeper"
	VerdictFile      = "verdict.json"
	GatekeeperReview = "review.md"

	CRPDir = "crp"
	VCRDir = "vcr"

	MRPDir          = "mrp"
	MRPSummaryFile  = "summary.md"
	MRPEvidenceFile = "evidence.json"
	MRPCodeDir      = "code"
	MRPTestsDir     = "tests"

	OutputFile = "output.json"
	DoneFlag   = "done.flag"
	ErrorFlag  = "error.flag"
	LogFile    = "log.md"

	maxBriefingBytes = 100_000
	maxPathBytes     = 4096
)

// agentDirs returns the per-agent working directories created under a RunDir.
func agentDirs() []string {
	dirs := make([]string, 0, len(types.Agents))
	for _, a := range types.Agents {
		dirs = append(dirs, string(a))
	}
	return dirs
}

// RunStore owns one runs root directory (<workspace>/<runs-root>).
type RunStore struct {
	RunsRoot      string
	StateCacheTTL time.Duration
}

// New creates a RunStore rooted at runsRoot (e.g. "<workspace>/.orchestral/runs")
// using statestore.DefaultCacheTTL for every StateStore it opens.
func New(runsRoot string) *RunStore {
	return &RunStore{RunsRoot: runsRoot, StateCacheTTL: statestore.DefaultCacheTTL}
}

// NewWithStateCacheTTL creates a RunStore whose StateStores use ttl — the
// resolved value of config.Config's StateCacheTTL() — instead of the
// package default.
func NewWithStateCacheTTL(runsRoot string, ttl time.Duration) *RunStore {
	return &RunStore{RunsRoot: runsRoot, StateCacheTTL: ttl}
}

// newStateStore opens the StateStore for runDir using this RunStore's
// configured cache TTL.
func (s *RunStore) newStateStore(runDir string) *statestore.Store {
	return statestore.NewWithTTL(runDir, s.StateCacheTTL)
}

// GenerateRunID returns a fresh RunId from the current UTC time.
func (s *RunStore) GenerateRunID() string {
	return idgen.NewRunID(time.Now())
}

// runDir resolves and validates the path for runID, refusing traversal.
func (s *RunStore) runDir(runID string) (string, error) {
	if !idgen.ValidRunID(runID) {
		return "", fmt.Errorf("%w: invalid run id %q", types.ErrValidation, runID)
	}
	return s.safeJoin(s.RunsRoot, runID)
}

// safeJoin joins base and elem, refusing NUL bytes, overlong paths, and any
// result that would resolve outside base.
func (s *RunStore) safeJoin(base string, elem ...string) (string, error) {
	for _, e := range elem {
		if strings.ContainsRune(e, 0) {
			return "", fmt.Errorf("%w: NUL byte in path element", types.ErrPathTraversal)
		}
	}
	joined := filepath.Join(append([]string{base}, elem...)...)
	if len(joined) > maxPathBytes {
		return "", fmt.Errorf("%w: path exceeds %d bytes", types.ErrPathTraversal, maxPathBytes)
	}
	cleanBase := filepath.Clean(base)
	rel, err := filepath.Rel(cleanBase, joined)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q escapes %q", types.ErrPathTraversal, joined, base)
	}
	return joined, nil
}

// CreateRun validates inputs, creates the full directory tree, writes
// briefing/raw.md, and hands off to StateStore for the initial state.json.
// maxMinorFixAttempts of 0 falls back to the spec default of 2.
func (s *RunStore) CreateRun(id, rawBriefing string, maxIterations, maxMinorFixAttempts int) (string, error) {
	if err := validateBriefing(rawBriefing); err != nil {
		return "", err
	}
	if maxIterations < 1 || maxIterations > 100 {
		return "", fmt.Errorf("%w: max_iterations %d out of range [1,100]", types.ErrValidation, maxIterations)
	}
	runDir, err := s.runDir(id)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(runDir); err == nil {
		return "", fmt.Errorf("%w: run %q already exists", types.ErrValidation, id)
	}

	for _, dir := range s.directoryTree(runDir) {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return "", fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	rawPath := filepath.Join(runDir, BriefingDir, RawBriefingFile)
	if err := fsatomic.WriteFile(rawPath, []byte(rawBriefing), 0o600); err != nil {
		return "", fmt.Errorf("write raw briefing: %w", err)
	}

	store := s.newStateStore(runDir)
	initial := types.NewRunState(id, maxIterations, maxMinorFixAttempts, time.Now().UTC())
	if err := store.Save(initial); err != nil {
		return "", fmt.Errorf("write initial state: %w", err)
	}

	return runDir, nil
}

// directoryTree enumerates the 12 unique subdirectories a fresh run
// requires (verifier/ and gatekeeper/ are each listed once here and once
// in agentDirs(), but MkdirAll makes the overlap harmless).
func (s *RunStore) directoryTree(runDir string) []string {
	dirs := []string{
		filepath.Join(runDir, BriefingDir),
		filepath.Join(runDir, PromptsDir),
		filepath.Join(runDir, VerifierDir),
		filepath.Join(runDir, VerifierDir, VerifierTestsSubdir),
		filepath.Join(runDir, GatekeeperDir),
		filepath.Join(runDir, CRPDir),
		filepath.Join(runDir, VCRDir),
		filepath.Join(runDir, MRPDir),
		filepath.Join(runDir, MRPDir, MRPCodeDir),
		filepath.Join(runDir, MRPDir, MRPTestsDir),
	}
	for _, a := range agentDirs() {
		dirs = append(dirs, filepath.Join(runDir, a))
	}
	return dirs
}

func validateBriefing(raw string) error {
	if raw == "" {
		return fmt.Errorf("%w: briefing must not be empty", types.ErrValidation)
	}
	if len(raw) > maxBriefingBytes {
		return fmt.Errorf("%w: briefing exceeds %d bytes", types.ErrValidation, maxBriefingBytes)
	}
	if strings.ContainsRune(raw, 0) {
		return fmt.Errorf("%w: briefing contains NUL byte", types.ErrValidation)
	}
	return nil
}

// ListRuns returns all runs known to this store, sorted by StartedAt descending.
func (s *RunStore) ListRuns() ([]types.RunSummary, error) {
	entries, err := os.ReadDir(s.RunsRoot)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var out []types.RunSummary
	for _, e := range entries {
		if !e.IsDir() || !idgen.ValidRunID(e.Name()) {
			continue
		}
		st := s.newStateStore(filepath.Join(s.RunsRoot, e.Name()))
		state, err := st.Load()
		if err != nil {
			continue
		}
		out = append(out, types.RunSummary{
			RunID:     state.RunID,
			Phase:     state.Phase,
			StartedAt: state.StartedAt,
			UpdatedAt: state.UpdatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, nil
}

func isActivePhase(p types.Phase) bool {
	return p != types.PhaseCompleted && p != types.PhaseFailed
}

// GetCurrentRun returns the most recently started run, if any.
func (s *RunStore) GetCurrentRun() (*types.RunSummary, error) {
	runs, err := s.ListRuns()
	if err != nil || len(runs) == 0 {
		return nil, err
	}
	return &runs[0], nil
}

// GetActiveRun returns the run whose phase is not completed/failed, if any.
// At most one should exist; the Orchestrator enforces that invariant.
func (s *RunStore) GetActiveRun() (*types.RunSummary, error) {
	runs, err := s.ListRuns()
	if err != nil {
		return nil, err
	}
	for i := range runs {
		if isActivePhase(runs[i].Phase) {
			return &runs[i], nil
		}
	}
	return nil, nil
}

// ReadRawBriefing returns the contents of briefing/raw.md.
func (s *RunStore) ReadRawBriefing(runID string) (string, error) {
	return s.readText(runID, BriefingDir, RawBriefingFile)
}

// ReadRefinedBriefing returns the contents of briefing/refined.md.
func (s *RunStore) ReadRefinedBriefing(runID string) (string, error) {
	return s.readText(runID, BriefingDir, RefinedBriefingFile)
}

// ReadMRPSummary returns the contents of mrp/summary.md.
func (s *RunStore) ReadMRPSummary(runID string) (string, error) {
	return s.readText(runID, MRPDir, MRPSummaryFile)
}

func (s *RunStore) readText(runID string, parts ...string) (string, error) {
	dir, err := s.runDir(runID)
	if err != nil {
		return "", err
	}
	path, err := s.safeJoin(dir, parts...)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ReadVerifierResults decodes verifier/results.json.
func (s *RunStore) ReadVerifierResults(runID string) (*types.VerifierResults, error) {
	var out types.VerifierResults
	if err := s.readJSON(runID, &out, VerifierDir, VerifierResultsFile); err != nil {
		return nil, err
	}
	return &out, nil
}

// ReadGatekeeperVerdict decodes gatekeeper/verdict.json.
func (s *RunStore) ReadGatekeeperVerdict(runID string) (*types.Verdict, error) {
	dir, err := s.runDir(runID)
	if err != nil {
		return nil, err
	}
	path, err := s.safeJoin(dir, GatekeeperDir, VerdictFile)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var v types.Verdict
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	v.Raw = raw
	return &v, nil
}

// ReadMRPEvidence decodes mrp/evidence.json into the given pointer.
func (s *RunStore) ReadMRPEvidence(runID string, out any) error {
	return s.readJSON(runID, out, MRPDir, MRPEvidenceFile)
}

func (s *RunStore) readJSON(runID string, out any, parts ...string) error {
	dir, err := s.runDir(runID)
	if err != nil {
		return err
	}
	path, err := s.safeJoin(dir, parts...)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// ListCRPs returns every CRP written under crp/.
func (s *RunStore) ListCRPs(runID string) ([]types.CRP, error) {
	dir, err := s.runDir(runID)
	if err != nil {
		return nil, err
	}
	crpDir := filepath.Join(dir, CRPDir)
	entries, err := os.ReadDir(crpDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []types.CRP
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(crpDir, e.Name()))
		if err != nil {
			continue
		}
		var c types.CRP
		if err := json.Unmarshal(data, &c); err != nil {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// GetCRP finds a CRP by its crp_id field, not its filename.
func (s *RunStore) GetCRP(runID, crpID string) (*types.CRP, error) {
	crps, err := s.ListCRPs(runID)
	if err != nil {
		return nil, err
	}
	for i := range crps {
		if crps[i].CRPID == crpID {
			return &crps[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %q", types.ErrCRPNotFound, crpID)
}

// ListVCRs returns every VCR written under vcr/.
func (s *RunStore) ListVCRs(runID string) ([]types.VCR, error) {
	dir, err := s.runDir(runID)
	if err != nil {
		return nil, err
	}
	vcrDir := filepath.Join(dir, VCRDir)
	entries, err := os.ReadDir(vcrDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []types.VCR
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(vcrDir, e.Name()))
		if err != nil {
			continue
		}
		var v types.VCR
		if err := json.Unmarshal(data, &v); err != nil {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

// SaveVCR validates required multi-question answers, atomically writes the
// VCR file, then marks the referenced CRP resolved. Per SPEC_FULL.md's Open
// Question resolution, a missing required answer is rejected here rather
// than surfacing later at resume time.
func (s *RunStore) SaveVCR(runID string, vcr types.VCR) error {
	if !idgen.ValidVCRID(vcr.VCRID) {
		return fmt.Errorf("%w: invalid vcr id %q", types.ErrValidation, vcr.VCRID)
	}
	crp, err := s.GetCRP(runID, vcr.CRPID)
	if err != nil {
		return err
	}
	if crp.IsMulti() {
		decision, ok := vcr.MultiDecision()
		if !ok {
			return fmt.Errorf("%w: multi-question vcr decision is not a mapping", types.ErrValidation)
		}
		for _, q := range crp.Questions {
			if q.Required {
				if _, answered := decision[q.ID]; !answered {
					return fmt.Errorf("%w: question %q", types.ErrVCRRequiredAnswerMissing, q.ID)
				}
			}
		}
	}

	dir, err := s.runDir(runID)
	if err != nil {
		return err
	}
	vcrPath, err := s.safeJoin(dir, VCRDir, vcr.VCRID+".json")
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(vcr, "", "  ")
	if err != nil {
		return err
	}
	if err := fsatomic.WriteFile(vcrPath, data, 0o600); err != nil {
		return fmt.Errorf("write vcr: %w", err)
	}

	return s.markCRPResolved(runID, vcr.CRPID)
}

// markCRPResolved rewrites the CRP file with status=resolved. A CRP is
// otherwise immutable once written, per the invariant in SPEC_FULL.md §3.
func (s *RunStore) markCRPResolved(runID, crpID string) error {
	dir, err := s.runDir(runID)
	if err != nil {
		return err
	}
	crpDir := filepath.Join(dir, CRPDir)
	entries, err := os.ReadDir(crpDir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		path := filepath.Join(crpDir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var c types.CRP
		if err := json.Unmarshal(data, &c); err != nil || c.CRPID != crpID {
			continue
		}
		if c.Status == types.CRPStatusResolved {
			return nil // already resolved: no-op, per idempotence requirement
		}
		c.Status = types.CRPStatusResolved
		updated, err := json.MarshalIndent(c, "", "  ")
		if err != nil {
			return err
		}
		return fsatomic.WriteFile(path, updated, 0o600)
	}
	return fmt.Errorf("%w: %q", types.ErrCRPNotFound, crpID)
}

// DeleteRun refuses unless the run's phase is completed or failed.
func (s *RunStore) DeleteRun(id string) error {
	dir, err := s.runDir(id)
	if err != nil {
		return err
	}
	state, err := s.newStateStore(dir).Load()
	if err != nil {
		return err
	}
	if isActivePhase(state.Phase) {
		return types.ErrRunNotDeletable
	}
	return os.RemoveAll(dir)
}

// CleanRuns deletes all completed/failed runs whose StartedAt is older than
// now-maxAge, returning the ids removed.
func (s *RunStore) CleanRuns(maxAge time.Duration) ([]string, error) {
	runs, err := s.ListRuns()
	if err != nil {
		return nil, err
	}
	cutoff := time.Now().Add(-maxAge)
	var removed []string
	for _, r := range runs {
		if isActivePhase(r.Phase) || r.StartedAt.After(cutoff) {
			continue
		}
		if err := s.DeleteRun(r.RunID); err != nil {
			return removed, err
		}
		removed = append(removed, r.RunID)
	}
	return removed, nil
}

// ResetVerifierForRetry removes the verifier flag/output files so a fresh
// attempt can be observed by FileEventSource, without touching results.json
// history needed for MRP assembly of a prior minor-fix pass.
func (s *RunStore) ResetVerifierForRetry(runID string) error {
	dir, err := s.runDir(runID)
	if err != nil {
		return err
	}
	for _, name := range []string{DoneFlag, ErrorFlag, OutputFile, TestsReadyFlag, TestConfigFile, TestOutputFile} {
		_ = os.Remove(filepath.Join(dir, VerifierDir, name)) //nolint:errcheck // best-effort reset
	}
	return nil
}

// ResetAgentForRerun removes an agent's flag/output files ahead of a relaunch.
func (s *RunStore) ResetAgentForRerun(runID string, agent types.Agent) error {
	dir, err := s.runDir(runID)
	if err != nil {
		return err
	}
	for _, name := range []string{DoneFlag, ErrorFlag, OutputFile} {
		_ = os.Remove(filepath.Join(dir, string(agent), name)) //nolint:errcheck // best-effort reset
	}
	return nil
}

// SaveModelSelection writes model-selection.json atomically.
func (s *RunStore) SaveModelSelection(runID string, sel *types.ModelSelection) error {
	dir, err := s.runDir(runID)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(sel, "", "  ")
	if err != nil {
		return err
	}
	return fsatomic.WriteFile(filepath.Join(dir, ModelSelectionFile), data, 0o600)
}

// ReadModelSelection reads model-selection.json, if present.
func (s *RunStore) ReadModelSelection(runID string) (*types.ModelSelection, error) {
	var out types.ModelSelection
	if err := s.readJSON(runID, &out, ModelSelectionFile); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return &out, nil
}

var durationPattern = regexp.MustCompile(`^(\d+)([dhms])$`)

// ParseDuration parses the "Nd|Nh|Nm|Ns" shorthand (e.g. "7d") into a
// time.Duration.
func ParseDuration(s string) (time.Duration, error) {
	m := durationPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, fmt.Errorf("%w: invalid duration %q (want Nd|Nh|Nm|Ns)", types.ErrValidation, s)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, fmt.Errorf("%w: invalid duration %q", types.ErrValidation, s)
	}
	switch m[2] {
	case "d":
		return time.Duration(n) * 24 * time.Hour, nil
	case "h":
		return time.Duration(n) * time.Hour, nil
	case "m":
		return time.Duration(n) * time.Minute, nil
	case "s":
		return time.Duration(n) * time.Second, nil
	default:
		return 0, fmt.Errorf("%w: invalid duration unit in %q", types.ErrValidation, s)
	}
}

// RunDirPath exposes the computed, validated directory for runID — used by
// AgentLifecycle/Orchestrator to bind prompt files and output directories.
func (s *RunStore) RunDirPath(runID string) (string, error) {
	return s.runDir(runID)
}
