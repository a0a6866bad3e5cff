// Package events implements FileEventSource: it watches a run directory
// with fsnotify and translates filesystem changes into the typed event
// stream described in SPEC_FULL.md §4.3 — debouncing duplicate signals,
// waiting for JSON artifacts to stop growing before reading them, and
// schema-validating every decoded payload through internal/schema.
// Grounded on fsnotify's documented Watcher API (pinned via
// jordigilh-kubernaut's go.mod; exercised in that repo's
// hot_reloader_test.go for config-file change detection) and on the
// teacher's flag-file polling in cmd/ao/rpi_phased_processing.go
// (handoffDetected, postPhaseProcessing) for the done/error-flag semantics.
package events

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/boshu2/orchestral/internal/config"
	"github.com/boshu2/orchestral/internal/schema"
	"github.com/boshu2/orchestral/internal/types"
)

// Kind names the event varieties FileEventSource emits.
type Kind string

const (
	KindRefinerDone       Kind = "refiner_done"
	KindBuilderDone       Kind = "builder_done"
	KindVerifierDone      Kind = "verifier_done"
	KindTestsReady        Kind = "tests_ready"
	KindTestExecutionDone Kind = "test_execution_done"
	KindGatekeeperDone    Kind = "gatekeeper_done"
	KindCRPCreated        Kind = "crp_created"
	KindVCRCreated        Kind = "vcr_created"
	KindMRPCreated        Kind = "mrp_created"
	KindAgentOutput       Kind = "agent_output"
	KindErrorFlag         Kind = "error_flag"
	KindWatchError        Kind = "error"
)

// Event is one signal FileEventSource emits; only the fields relevant to
// Kind are populated.
type Event struct {
	Kind    Kind
	Agent   types.Agent
	Path    string
	CRP     *types.CRP
	VCR     *types.VCR
	Verdict *types.Verdict

	AgentOutput *types.AgentOutput
	ErrorFlag   *types.ErrorFlag
	TestConfig  *types.TestConfig
	TestOutput  *types.TestOutput

	Err error
}

// Source watches one run directory and streams Events.
type Source struct {
	runDir  string
	cfg     *config.Config
	schemas *schema.Registry

	watcher *fsnotify.Watcher
	events  chan Event
	stopCh  chan struct{}
	wg      sync.WaitGroup

	mu           sync.Mutex
	lastEmitted  map[string]time.Time
	waiters      map[string][]chan struct{}
}

// New builds a Source for runDir using cfg's debounce/stability tuning and
// schemas to validate every decoded artifact.
func New(runDir string, cfg *config.Config, schemas *schema.Registry) (*Source, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	s := &Source{
		runDir:      runDir,
		cfg:         cfg,
		schemas:     schemas,
		watcher:     watcher,
		events:      make(chan Event, 64),
		stopCh:      make(chan struct{}),
		lastEmitted: make(map[string]time.Time),
		waiters:     make(map[string][]chan struct{}),
	}
	return s, nil
}

// Events returns the channel the Orchestrator drains.
func (s *Source) Events() <-chan Event { return s.events }

// watchedDirs are the run-relative directories FileEventSource observes.
// fsnotify does not recurse, so every directory that can receive a new file
// needs its own watch.
func (s *Source) watchedDirs() []string {
	dirs := []string{"briefing", "verifier", "gatekeeper", "crp", "vcr", "mrp"}
	for _, a := range types.Agents {
		dirs = append(dirs, string(a))
	}
	return dirs
}

// Start arms watches on every relevant subdirectory and begins translating
// filesystem events in the background.
func (s *Source) Start() error {
	for _, rel := range s.watchedDirs() {
		dir := filepath.Join(s.runDir, rel)
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("ensure watched dir %s: %w", rel, err)
		}
		if err := s.watcher.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", rel, err)
		}
	}

	s.wg.Add(1)
	go s.loop()
	return nil
}

func (s *Source) loop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopCh:
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			s.handleFSEvent(ev.Name)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.emit(Event{Kind: KindWatchError, Err: err})
		}
	}
}

func (s *Source) handleFSEvent(absPath string) {
	rel, err := filepath.Rel(s.runDir, absPath)
	if err != nil {
		return
	}
	rel = filepath.ToSlash(rel)

	s.signalWaiters(rel)

	match, ok := classify(rel)
	if !ok {
		return
	}
	if s.debounced(match.debounceKey) {
		return
	}

	go s.process(absPath, rel, match)
}

// debounced reports whether key was already emitted within DebounceMs, and
// records this emission if not. The table is pruned opportunistically so it
// never grows unbounded across a long-running watch.
func (s *Source) debounced(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	window := s.cfg.Debounce()
	if last, ok := s.lastEmitted[key]; ok && now.Sub(last) < window {
		return true
	}
	s.lastEmitted[key] = now

	if len(s.lastEmitted) > 256 {
		for k, ts := range s.lastEmitted {
			if now.Sub(ts) > window {
				delete(s.lastEmitted, k)
			}
		}
	}
	return false
}

type artifactMatch struct {
	kind         Kind
	agent        types.Agent
	debounceKey  string
	isFlag       bool
	needsContent bool
}

// classify maps a run-relative path to the artifact it represents, per the
// §4.3 table. ok is false for paths FileEventSource does not watch for
// (e.g. files an agent writes under its own working directory that are not
// part of the boundary format).
func classify(rel string) (artifactMatch, bool) {
	parts := strings.Split(rel, "/")

	switch rel {
	case "briefing/refined.md":
		return artifactMatch{kind: KindRefinerDone, agent: types.AgentRefiner, debounceKey: "refiner_done"}, true
	case "verifier/tests-ready.flag":
		return artifactMatch{kind: KindTestsReady, agent: types.AgentVerifier, debounceKey: "tests_ready", isFlag: true, needsContent: true}, true
	case "verifier/test-output.json":
		return artifactMatch{kind: KindTestExecutionDone, agent: types.AgentVerifier, debounceKey: "test_execution_done", needsContent: true}, true
	case "gatekeeper/verdict.json":
		return artifactMatch{kind: KindGatekeeperDone, agent: types.AgentGatekeeper, debounceKey: "gatekeeper_done", needsContent: true}, true
	case "mrp/summary.md":
		return artifactMatch{kind: KindMRPCreated, debounceKey: "mrp_created"}, true
	}

	if len(parts) == 2 && parts[0] == "crp" && strings.HasSuffix(parts[1], ".json") {
		return artifactMatch{kind: KindCRPCreated, debounceKey: "crp_created:" + parts[1], needsContent: true}, true
	}
	if len(parts) == 2 && parts[0] == "vcr" && strings.HasSuffix(parts[1], ".json") {
		return artifactMatch{kind: KindVCRCreated, debounceKey: "vcr_created:" + parts[1], needsContent: true}, true
	}

	if len(parts) == 2 {
		agent := types.Agent(parts[0])
		if !isAgent(agent) {
			return artifactMatch{}, false
		}
		switch parts[1] {
		case "done.flag":
			if agent != types.AgentBuilder && agent != types.AgentVerifier {
				return artifactMatch{}, false
			}
			kind := KindBuilderDone
			if agent == types.AgentVerifier {
				kind = KindVerifierDone
			}
			return artifactMatch{kind: kind, agent: agent, debounceKey: string(kind), isFlag: true}, true
		case "output.json":
			return artifactMatch{kind: KindAgentOutput, agent: agent, debounceKey: "agent_output_" + string(agent), needsContent: true}, true
		case "error.flag":
			return artifactMatch{kind: KindErrorFlag, agent: agent, debounceKey: "error_flag_" + string(agent), isFlag: true, needsContent: true}, true
		}
	}
	return artifactMatch{}, false
}

func isAgent(a types.Agent) bool {
	for _, x := range types.Agents {
		if x == a {
			return true
		}
	}
	return false
}

func (s *Source) process(absPath, rel string, match artifactMatch) {
	if !match.isFlag {
		if err := s.waitForStable(absPath); err != nil {
			s.emit(Event{Kind: KindWatchError, Path: rel, Err: err})
			return
		}
	}

	ev := Event{Kind: match.kind, Agent: match.agent, Path: rel}
	if !match.needsContent {
		s.emit(ev)
		return
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		s.emit(Event{Kind: KindWatchError, Path: rel, Err: err})
		return
	}

	switch match.kind {
	case KindTestsReady:
		cfgPath := filepath.Join(filepath.Dir(absPath), "test-config.json")
		cfgData, err := os.ReadFile(cfgPath)
		if err != nil {
			s.emit(Event{Kind: KindWatchError, Path: rel, Err: fmt.Errorf("read test-config.json: %w", err)})
			return
		}
		if err := s.schemas.Validate(schema.KindTestConfig, cfgData); err != nil {
			s.emit(Event{Kind: KindWatchError, Path: rel, Err: err})
			return
		}
		var tc types.TestConfig
		if err := json.Unmarshal(cfgData, &tc); err != nil {
			s.emit(Event{Kind: KindWatchError, Path: rel, Err: err})
			return
		}
		ev.TestConfig = &tc

	case KindTestExecutionDone:
		if err := s.schemas.Validate(schema.KindTestOutput, data); err != nil {
			s.emit(Event{Kind: KindWatchError, Path: rel, Err: err})
			return
		}
		var to types.TestOutput
		if err := json.Unmarshal(data, &to); err != nil {
			s.emit(Event{Kind: KindWatchError, Path: rel, Err: err})
			return
		}
		ev.TestOutput = &to

	case KindGatekeeperDone:
		if err := s.schemas.Validate(schema.KindVerdict, data); err != nil {
			s.emit(Event{Kind: KindWatchError, Path: rel, Err: err})
			return
		}
		var v types.Verdict
		if err := json.Unmarshal(data, &v); err != nil {
			s.emit(Event{Kind: KindWatchError, Path: rel, Err: err})
			return
		}
		v.Raw = json.RawMessage(data)
		ev.Verdict = &v

	case KindCRPCreated:
		if err := s.schemas.Validate(schema.KindCRP, data); err != nil {
			s.emit(Event{Kind: KindWatchError, Path: rel, Err: err})
			return
		}
		var crp types.CRP
		if err := json.Unmarshal(data, &crp); err != nil {
			s.emit(Event{Kind: KindWatchError, Path: rel, Err: err})
			return
		}
		ev.CRP = &crp
		ev.Agent = crp.CreatedBy

	case KindVCRCreated:
		if err := s.schemas.Validate(schema.KindVCR, data); err != nil {
			s.emit(Event{Kind: KindWatchError, Path: rel, Err: err})
			return
		}
		var vcr types.VCR
		if err := json.Unmarshal(data, &vcr); err != nil {
			s.emit(Event{Kind: KindWatchError, Path: rel, Err: err})
			return
		}
		ev.VCR = &vcr

	case KindAgentOutput:
		if err := s.schemas.Validate(schema.KindAgentOutput, data); err != nil {
			s.emit(Event{Kind: KindWatchError, Path: rel, Err: err})
			return
		}
		var out types.AgentOutput
		if err := json.Unmarshal(data, &out); err != nil {
			s.emit(Event{Kind: KindWatchError, Path: rel, Err: err})
			return
		}
		out.RawPayload = json.RawMessage(data)
		ev.AgentOutput = &out

	case KindErrorFlag:
		flag, parseErr := decodeErrorFlag(data, match.agent, s.schemas)
		if parseErr != nil {
			s.emit(Event{Kind: KindWatchError, Path: rel, Err: parseErr})
			return
		}
		ev.ErrorFlag = flag
	}

	s.emit(ev)
}

// decodeErrorFlag parses error.flag as JSON per its schema; unparsable
// content still yields an ErrorFlag, synthesized as a non-recoverable
// crash per §4.3 rule 4, rather than a WatchError.
func decodeErrorFlag(data []byte, agent types.Agent, schemas *schema.Registry) (*types.ErrorFlag, error) {
	if len(data) == 0 {
		return &types.ErrorFlag{
			Agent:       agent,
			ErrorType:   types.ErrorKindCrash,
			Message:     "error.flag was empty",
			Timestamp:   time.Now().UTC(),
			Recoverable: false,
		}, nil
	}
	if err := schemas.Validate(schema.KindErrorFlag, data); err != nil {
		return &types.ErrorFlag{
			Agent:       agent,
			ErrorType:   types.ErrorKindCrash,
			Message:     fmt.Sprintf("error.flag did not match schema: %v", err),
			Timestamp:   time.Now().UTC(),
			Recoverable: false,
		}, nil
	}
	var flag types.ErrorFlag
	if err := json.Unmarshal(data, &flag); err != nil {
		return &types.ErrorFlag{
			Agent:       agent,
			ErrorType:   types.ErrorKindCrash,
			Message:     fmt.Sprintf("error.flag was not valid JSON: %v", err),
			Timestamp:   time.Now().UTC(),
			Recoverable: false,
		}, nil
	}
	return &flag, nil
}

// waitForStable blocks until path's size has been identical across two
// consecutive 1-second samples, or the stability hard cap elapses.
func (s *Source) waitForStable(path string) error {
	deadline := time.Now().Add(s.cfg.FileWatcherStability())
	var lastSize int64 = -1

	for {
		info, err := os.Stat(path)
		if err != nil {
			if time.Now().After(deadline) {
				return fmt.Errorf("stat %s never succeeded within stability window: %w", path, err)
			}
			time.Sleep(time.Second)
			continue
		}
		if info.Size() == lastSize {
			return nil
		}
		lastSize = info.Size()

		if time.Now().After(deadline) {
			return fmt.Errorf("%s did not stabilize within %s", path, s.cfg.FileWatcherStability())
		}
		time.Sleep(time.Second)
	}
}

// WaitForFile blocks until rel (relative to runDir) exists, or timeout
// elapses, without requiring the caller to subscribe to Events().
func (s *Source) WaitForFile(rel string, timeout time.Duration) error {
	absPath := filepath.Join(s.runDir, rel)
	if _, err := os.Stat(absPath); err == nil {
		return nil
	}

	ch := make(chan struct{}, 1)
	s.mu.Lock()
	s.waiters[rel] = append(s.waiters[rel], ch)
	s.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("timed out waiting for %s after %s", rel, timeout)
	}
}

func (s *Source) signalWaiters(rel string) {
	s.mu.Lock()
	chans := s.waiters[rel]
	delete(s.waiters, rel)
	s.mu.Unlock()
	for _, ch := range chans {
		ch <- struct{}{}
	}
}

func (s *Source) emit(e Event) {
	select {
	case s.events <- e:
	default:
	}
}

// Stop closes the watcher and halts the background goroutine.
func (s *Source) Stop() error {
	close(s.stopCh)
	err := s.watcher.Close()
	s.wg.Wait()
	return err
}
