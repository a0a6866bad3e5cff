// Package promptgen implements the default PromptGenerator collaborator
// named in SPEC_FULL.md §6: it renders the four agent prompt files from
// text/template sources, embedded by default (embedded/prompts),
// with an optional per-workspace override directory. Grounded on the
// teacher's embedded.HooksFS (embedded/embed.go: go:embed all:hooks
// all:lib all:skills) for the embed-then-extract idiom, adapted here to
// render templates instead of copying static files.
package promptgen

import (
	"fmt"
	"os"
	"path/filepath"
	"text/template"

	"github.com/boshu2/orchestral/embedded"
	"github.com/boshu2/orchestral/internal/orchestrator"
)

// Generator renders prompt templates for the four agents.
type Generator struct {
	templates *template.Template
}

// New compiles the embedded default templates, overlaying any same-named
// template found under overrideDir (a workspace-local ".orchestral/prompts"
// directory, say) so operators can customize wording without a rebuild.
func New(overrideDir string) (*Generator, error) {
	tmpl, err := template.ParseFS(embedded.PromptTemplates, "prompts/*.md.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse embedded prompt templates: %w", err)
	}

	if overrideDir != "" {
		entries, err := os.ReadDir(overrideDir)
		if err == nil {
			for _, e := range entries {
				if e.IsDir() {
					continue
				}
				path := filepath.Join(overrideDir, e.Name())
				if _, err := tmpl.ParseFiles(path); err != nil {
					return nil, fmt.Errorf("parse override template %s: %w", path, err)
				}
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read prompt override dir: %w", err)
		}
	}

	return &Generator{templates: tmpl}, nil
}

// GenerateAll renders refiner.md, builder.md, verifier.md, gatekeeper.md
// into promptsDir from ctx.
func (g *Generator) GenerateAll(promptsDir string, ctx orchestrator.PromptContext) error {
	if err := os.MkdirAll(promptsDir, 0o700); err != nil {
		return fmt.Errorf("ensure prompts dir: %w", err)
	}
	for _, agent := range []string{"refiner", "builder", "verifier", "gatekeeper"} {
		name := agent + ".md.tmpl"
		out, err := os.Create(filepath.Join(promptsDir, agent+".md"))
		if err != nil {
			return fmt.Errorf("create %s prompt: %w", agent, err)
		}
		err = g.templates.ExecuteTemplate(out, name, ctx)
		closeErr := out.Close()
		if err != nil {
			return fmt.Errorf("render %s prompt: %w", agent, err)
		}
		if closeErr != nil {
			return fmt.Errorf("write %s prompt: %w", agent, closeErr)
		}
	}
	return nil
}
