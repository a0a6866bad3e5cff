// Package mrp implements MRPAssembler: the deterministic, idempotent build
// of the Merge-Readiness Pack under a run's mrp/ directory (SPEC_FULL.md
// §4.9). Grounded on the teacher's writeFinalPhasedReport
// (cmd/ao/rpi_phased_phase_runner.go) for the "gather artifacts, write one
// summary document" shape, generalized here to also copy source files
// rather than only emit a report.
package mrp

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/boshu2/orchestral/internal/fsatomic"
	"github.com/boshu2/orchestral/internal/runstore"
	"github.com/boshu2/orchestral/internal/statestore"
	"github.com/boshu2/orchestral/internal/types"
)

// Assembler builds the Merge-Readiness Pack for runs owned by runs.
type Assembler struct {
	workspaceRoot string
	runs          *runstore.RunStore
}

// New builds an Assembler resolving relative manifest paths against
// workspaceRoot.
func New(workspaceRoot string, runs *runstore.RunStore) *Assembler {
	return &Assembler{workspaceRoot: workspaceRoot, runs: runs}
}

type manifest struct {
	FilesCreated  []string `json:"files_created"`
	FilesModified []string `json:"files_modified"`
}

type evidence struct {
	RunID         string   `json:"run_id"`
	Iteration     int      `json:"iteration"`
	CompletedAt   string   `json:"completed_at"`
	TestTotals    *types.VerifierResults `json:"test_totals,omitempty"`
	ChangedFiles  []string `json:"changed_files"`
	VCRIDs        []string `json:"vcr_ids"`
	AgentLogPaths map[types.Agent]string `json:"agent_log_paths"`
	Verdict       *types.VerdictKind `json:"verdict,omitempty"`
	Usage         *types.Usage `json:"usage,omitempty"`
}

// Generate runs the full 6-step algorithm for runID, overwriting any prior
// mrp/ contents. Rerunning is always safe: every artifact is regenerated
// from the run's current on-disk state.
func (a *Assembler) Generate(runID string) error {
	runDir, err := a.runs.RunDirPath(runID)
	if err != nil {
		return err
	}

	codeDir := filepath.Join(runDir, runstore.MRPDir, runstore.MRPCodeDir)
	testsDir := filepath.Join(runDir, runstore.MRPDir, runstore.MRPTestsDir)
	if err := os.MkdirAll(codeDir, 0o700); err != nil {
		return fmt.Errorf("ensure mrp/code: %w", err)
	}
	if err := os.MkdirAll(testsDir, 0o700); err != nil {
		return fmt.Errorf("ensure mrp/tests: %w", err)
	}

	changed, srcRoot, err := a.resolveChangedFiles(runDir)
	if err != nil {
		return fmt.Errorf("resolve changed files: %w", err)
	}
	copied, err := a.copyChangedFiles(changed, srcRoot, codeDir)
	if err != nil {
		return err
	}

	if err := copyTree(filepath.Join(runDir, runstore.VerifierDir, runstore.VerifierTestsSubdir), testsDir); err != nil {
		return fmt.Errorf("copy verifier tests: %w", err)
	}

	results, _ := a.runs.ReadVerifierResults(runID)
	vcrs, err := a.runs.ListVCRs(runID)
	if err != nil {
		return fmt.Errorf("list vcrs: %w", err)
	}
	vcrIDs := make([]string, 0, len(vcrs))
	for _, v := range vcrs {
		vcrIDs = append(vcrIDs, v.VCRID)
	}

	state, err := statestore.New(runDir).Load()
	if err != nil {
		return fmt.Errorf("load run state: %w", err)
	}

	agentLogPaths := make(map[types.Agent]string, len(types.Agents))
	for _, ag := range types.Agents {
		agentLogPaths[ag] = filepath.Join(string(ag), runstore.LogFile)
	}

	var verdictPtr *types.VerdictKind
	if verdict, err := a.runs.ReadGatekeeperVerdict(runID); err == nil && verdict != nil {
		v := verdict.Verdict
		verdictPtr = &v
	}

	ev := evidence{
		RunID:         runID,
		Iteration:     state.Iteration,
		CompletedAt:   time.Now().UTC().Format(time.RFC3339),
		TestTotals:    results,
		ChangedFiles:  copied,
		VCRIDs:        vcrIDs,
		AgentLogPaths: agentLogPaths,
		Verdict:       verdictPtr,
		Usage:         &state.Usage,
	}
	if err := writeEvidence(runDir, ev); err != nil {
		return fmt.Errorf("write evidence.json: %w", err)
	}

	reviewData, _ := os.ReadFile(filepath.Join(runDir, runstore.GatekeeperDir, runstore.GatekeeperReview))
	if err := writeSummary(runDir, ev, string(reviewData)); err != nil {
		return fmt.Errorf("write summary.md: %w", err)
	}
	return nil
}

// copyChangedFiles copies each changed file, resolving relative paths
// against srcRoot, into codeDir in list order. A missing source file
// (deleted after the manifest was written) is silently skipped.
func (a *Assembler) copyChangedFiles(changed []string, srcRoot, codeDir string) ([]string, error) {
	copied := make([]string, 0, len(changed))
	for _, rel := range changed {
		src := rel
		if !filepath.IsAbs(src) {
			src = filepath.Join(srcRoot, rel)
		}
		if _, err := os.Stat(src); err != nil {
			continue
		}
		relForDest := rel
		if filepath.IsAbs(rel) {
			relForDest = strings.TrimPrefix(rel, string(filepath.Separator))
		}
		dst := filepath.Join(codeDir, relForDest)
		if err := copyFile(src, dst); err != nil {
			return nil, fmt.Errorf("copy %s: %w", rel, err)
		}
		copied = append(copied, relForDest)
	}
	return copied, nil
}

// resolveChangedFiles implements step 2: prefer the builder's manifest.json
// union (files_created ∪ files_modified, order preserved), falling back to
// a recursive listing of builder/output/ when no manifest exists. It also
// returns the root the listed paths are relative to: the workspace root for
// manifest entries, builder/output/ for the fallback listing.
func (a *Assembler) resolveChangedFiles(runDir string) ([]string, string, error) {
	manifestPath := filepath.Join(runDir, "builder", "output", "manifest.json")
	data, err := os.ReadFile(manifestPath)
	if err == nil {
		var m manifest
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, "", fmt.Errorf("decode manifest.json: %w", err)
		}
		seen := make(map[string]bool, len(m.FilesCreated)+len(m.FilesModified))
		var out []string
		for _, group := range [][]string{m.FilesCreated, m.FilesModified} {
			for _, f := range group {
				if !seen[f] {
					seen[f] = true
					out = append(out, f)
				}
			}
		}
		return out, a.workspaceRoot, nil
	}
	if !os.IsNotExist(err) {
		return nil, "", err
	}

	outputDir := filepath.Join(runDir, "builder", "output")
	var out []string
	walkErr := filepath.Walk(outputDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() || info.Name() == "manifest.json" {
			return nil
		}
		rel, err := filepath.Rel(outputDir, path)
		if err != nil {
			return err
		}
		out = append(out, rel)
		return nil
	})
	if walkErr != nil {
		return nil, "", walkErr
	}
	sort.Strings(out)
	return out, outputDir, nil
}

func copyTree(srcDir, dstDir string) error {
	entries, err := os.ReadDir(srcDir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, e := range entries {
		src := filepath.Join(srcDir, e.Name())
		dst := filepath.Join(dstDir, e.Name())
		if e.IsDir() {
			if err := os.MkdirAll(dst, 0o700); err != nil {
				return err
			}
			if err := copyTree(src, dst); err != nil {
				return err
			}
			continue
		}
		if err := copyFile(src, dst); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o700); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func writeEvidence(runDir string, ev evidence) error {
	data, err := json.MarshalIndent(ev, "", "  ")
	if err != nil {
		return err
	}
	return fsatomic.WriteFile(filepath.Join(runDir, runstore.MRPDir, runstore.MRPEvidenceFile), data, 0o600)
}

func writeSummary(runDir string, ev evidence, review string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "# Merge-Readiness Pack: %s\n\n", ev.RunID)
	fmt.Fprintf(&b, "Iteration: %d\n", ev.Iteration)
	fmt.Fprintf(&b, "Completed: %s\n\n", ev.CompletedAt)

	fmt.Fprintf(&b, "## Changed files\n\n")
	if len(ev.ChangedFiles) == 0 {
		fmt.Fprintf(&b, "(none recorded)\n")
	}
	for _, f := range ev.ChangedFiles {
		fmt.Fprintf(&b, "- %s\n", f)
	}

	fmt.Fprintf(&b, "\n## Test results\n\n")
	if ev.TestTotals != nil {
		fmt.Fprintf(&b, "%d/%d passed, %d failed\n", ev.TestTotals.Passed, ev.TestTotals.Total, ev.TestTotals.Failed)
	} else {
		fmt.Fprintf(&b, "(no results recorded)\n")
	}

	if len(ev.VCRIDs) > 0 {
		fmt.Fprintf(&b, "\n## Design decisions\n\n")
		for _, id := range ev.VCRIDs {
			fmt.Fprintf(&b, "- %s\n", id)
		}
	}

	if review != "" {
		fmt.Fprintf(&b, "\n## Gatekeeper review\n\n%s\n", review)
	}

	return fsatomic.WriteFile(filepath.Join(runDir, runstore.MRPDir, runstore.MRPSummaryFile), []byte(b.String()), 0o600)
}
