package agentlifecycle

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/boshu2/orchestral/internal/types"
)

// ProcessRunner is the default Runner: it launches the configured worker
// binary as a detached subprocess per agent, stdout redirected to
// <runDir>/<agent>/output.json and stderr to <runDir>/<agent>/error.log.
// Grounded on the teacher's spawnRuntimeDirectImpl
// (cmd/ao/rpi_phased_stream.go): os/exec with a scrubbed environment so the
// child never mistakes itself for a nested orchestrator session.
type ProcessRunner struct {
	command string

	mu    sync.Mutex
	procs map[types.Agent]*workerProcess
}

type workerProcess struct {
	cmd        *exec.Cmd
	outputPath string
}

// NewProcessRunner builds a ProcessRunner invoking command for every agent.
func NewProcessRunner(command string) *ProcessRunner {
	return &ProcessRunner{command: command, procs: make(map[types.Agent]*workerProcess)}
}

// StartHeadless launches the worker for agent against promptFile.
func (r *ProcessRunner) StartHeadless(agent types.Agent, model, promptFile, runDir string) error {
	return r.launch(agent, model, promptFile, runDir)
}

// RestartWithVCR relaunches the worker for agent against the continuation
// prompt file; the ABI is identical to a fresh launch.
func (r *ProcessRunner) RestartWithVCR(agent types.Agent, model, promptFile, runDir string) error {
	return r.launch(agent, model, promptFile, runDir)
}

func (r *ProcessRunner) launch(agent types.Agent, model, promptFile, runDir string) error {
	agentDir := filepath.Join(runDir, string(agent))
	outputPath := filepath.Join(agentDir, "output.json")
	errorLogPath := filepath.Join(agentDir, "error.log")

	outFile, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("create output.json: %w", err)
	}
	errFile, err := os.Create(errorLogPath)
	if err != nil {
		outFile.Close()
		return fmt.Errorf("create error.log: %w", err)
	}

	cmd := exec.Command(r.command, "--prompt-file", promptFile, "--model", model, "--output-dir", agentDir)
	cmd.Dir = agentDir
	cmd.Stdout = outFile
	cmd.Stderr = errFile
	cmd.Env = envUnderOrchestratorControl()

	if err := cmd.Start(); err != nil {
		outFile.Close()
		errFile.Close()
		return fmt.Errorf("start %s worker: %w", agent, err)
	}

	proc := &workerProcess{cmd: cmd, outputPath: outputPath}
	go func() {
		cmd.Wait()
		outFile.Close()
		errFile.Close()
	}()

	r.mu.Lock()
	r.procs[agent] = proc
	r.mu.Unlock()
	return nil
}

// CaptureOutput returns the worker's output.json contents captured so far,
// optionally truncated to the last n lines (0 meaning "all").
func (r *ProcessRunner) CaptureOutput(agent types.Agent, lines int) (string, error) {
	r.mu.Lock()
	proc, ok := r.procs[agent]
	r.mu.Unlock()
	if !ok {
		return "", nil
	}
	data, err := os.ReadFile(proc.outputPath)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if lines <= 0 {
		return string(data), nil
	}
	all := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(all) <= lines {
		return string(data), nil
	}
	return strings.Join(all[len(all)-lines:], "\n"), nil
}

// IsAgentActive reports whether agent's subprocess has not yet exited.
func (r *ProcessRunner) IsAgentActive(agent types.Agent) bool {
	r.mu.Lock()
	proc, ok := r.procs[agent]
	r.mu.Unlock()
	if !ok || proc.cmd.Process == nil {
		return false
	}
	return proc.cmd.ProcessState == nil
}

// ShowInfo returns a one-line human-readable status for agent.
func (r *ProcessRunner) ShowInfo(agent types.Agent) string {
	r.mu.Lock()
	proc, ok := r.procs[agent]
	r.mu.Unlock()
	if !ok {
		return fmt.Sprintf("%s: not started", agent)
	}
	if r.IsAgentActive(agent) {
		return fmt.Sprintf("%s: running (pid %d)", agent, proc.cmd.Process.Pid)
	}
	return fmt.Sprintf("%s: exited", agent)
}

// Kill terminates agent's subprocess, if running.
func (r *ProcessRunner) Kill(agent types.Agent) error {
	r.mu.Lock()
	proc, ok := r.procs[agent]
	r.mu.Unlock()
	if !ok || proc.cmd.Process == nil {
		return nil
	}
	return proc.cmd.Process.Kill()
}

// envUnderOrchestratorControl scrubs any ambient nesting-guard variables and
// sets the flag §4.7 requires marking the subprocess as operating under
// orchestrator control.
func envUnderOrchestratorControl() []string {
	var env []string
	for _, e := range os.Environ() {
		if strings.HasPrefix(e, "ORCHESTRAL_WORKER_CONTROLLED=") {
			continue
		}
		env = append(env, e)
	}
	return append(env, "ORCHESTRAL_WORKER_CONTROLLED=1")
}
