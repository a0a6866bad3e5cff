package promptgen

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/boshu2/orchestral/internal/orchestrator"
)

func TestGenerateAllWritesAllFourPrompts(t *testing.T) {
	gen, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	dir := t.TempDir()
	ctx := orchestrator.PromptContext{ProjectRoot: "/work", RunID: "run-20260101000000", Iteration: 2}
	if err := gen.GenerateAll(dir, ctx); err != nil {
		t.Fatalf("GenerateAll: %v", err)
	}

	for _, agent := range []string{"refiner", "builder", "verifier", "gatekeeper"} {
		path := filepath.Join(dir, agent+".md")
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("read %s: %v", agent, err)
		}
		if !strings.Contains(string(data), "run-20260101000000") {
			t.Errorf("%s prompt missing run id", agent)
		}
	}
}

func TestGenerateAllIncludesReviewContextWhenRequested(t *testing.T) {
	gen, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	dir := t.TempDir()
	ctx := orchestrator.PromptContext{RunID: "run-20260101000000", Iteration: 1, HasReview: true}
	if err := gen.GenerateAll(dir, ctx); err != nil {
		t.Fatalf("GenerateAll: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "verifier.md"))
	if err != nil {
		t.Fatalf("read verifier.md: %v", err)
	}
	if !strings.Contains(string(data), "minor-fix retry") {
		t.Errorf("verifier prompt should mention the minor-fix retry when HasReview is set")
	}
}

func TestNewWithOverrideDirOverridesEmbeddedTemplate(t *testing.T) {
	overrideDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(overrideDir, "refiner.md.tmpl"), []byte("custom refiner prompt for {{.RunID}}"), 0o600); err != nil {
		t.Fatalf("write override: %v", err)
	}
	gen, err := New(overrideDir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	dir := t.TempDir()
	if err := gen.GenerateAll(dir, orchestrator.PromptContext{RunID: "run-20260101000000"}); err != nil {
		t.Fatalf("GenerateAll: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "refiner.md"))
	if err != nil {
		t.Fatalf("read refiner.md: %v", err)
	}
	if !strings.Contains(string(data), "custom refiner prompt") {
		t.Errorf("expected override template to take effect, got %q", string(data))
	}
}
