package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/boshu2/orchestral/internal/config"
	"github.com/boshu2/orchestral/internal/mrp"
	"github.com/boshu2/orchestral/internal/orchestrator"
	"github.com/boshu2/orchestral/internal/orchlog"
	"github.com/boshu2/orchestral/internal/promptgen"
	"github.com/boshu2/orchestral/internal/runstore"
	"github.com/boshu2/orchestral/internal/schema"
)

// buildOrchestrator wires every collaborator named in SPEC_FULL.md §6
// behind one Orchestrator, the way a caller embedding this core would.
// There is no ModelSelector here: orchestrald relies on config.DefaultModel
// for every agent rather than shelling out to an external selection step.
func buildOrchestrator(logger *orchlog.Logger) (*orchestrator.Orchestrator, error) {
	cfg, err := config.Load(workspaceRoot)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	schemas, err := schema.NewRegistry()
	if err != nil {
		return nil, fmt.Errorf("load schemas: %w", err)
	}

	promptGen, err := promptgen.New(config.PromptOverrideDir(workspaceRoot))
	if err != nil {
		return nil, fmt.Errorf("load prompt templates: %w", err)
	}

	runs := runstore.NewWithStateCacheTTL(config.RunsDir(workspaceRoot), cfg.StateCacheTTL())
	assembler := mrp.New(workspaceRoot, runs)

	orch := orchestrator.New(workspaceRoot, cfg, logger, promptGen, nil, assembler, schemas)
	return orch, nil
}

func newRunStore() (*runstore.RunStore, error) {
	cfg, err := config.Load(workspaceRoot)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return runstore.NewWithStateCacheTTL(config.RunsDir(workspaceRoot), cfg.StateCacheTTL()), nil
}

func newLogger() (*orchlog.Logger, error) {
	logger := orchlog.NewConsole(verbose)
	eventsLog := filepath.Join(config.RunsDir(workspaceRoot), "orchestrald-events.log")
	if err := os.MkdirAll(filepath.Dir(eventsLog), 0o700); err != nil {
		return nil, fmt.Errorf("create events log dir: %w", err)
	}
	return logger.WithEventsLog(eventsLog)
}
