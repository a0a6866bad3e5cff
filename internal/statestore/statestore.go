// Package statestore implements the single-writer/single-reader cell for a
// run's state.json: every read and write goes through one in-process mutex,
// writes are atomic (fsatomic), and reads are served from a short-lived
// cache so a burst of FileEventSource-triggered queries does not reopen the
// file on every call.
package statestore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/boshu2/orchestral/internal/fsatomic"
	"github.com/boshu2/orchestral/internal/types"
)

// DefaultCacheTTL is used by New when no TTL override is supplied — callers
// that resolve a config.Config should instead pass its StateCacheTTL()
// through NewWithTTL so ORCHESTRAL_STATE_CACHE_TTL_MS actually takes effect.
const DefaultCacheTTL = 1 * time.Second

// Store guards state.json for a single run directory.
type Store struct {
	path string
	ttl  time.Duration

	mu       sync.Mutex
	cached   *types.RunState
	loadedAt time.Time
}

// New returns a Store bound to <runDir>/state.json using DefaultCacheTTL.
func New(runDir string) *Store {
	return NewWithTTL(runDir, DefaultCacheTTL)
}

// NewWithTTL returns a Store bound to <runDir>/state.json whose Load()
// cache is valid for ttl — the resolved value of config.Config's
// StateCacheTTL().
func NewWithTTL(runDir string, ttl time.Duration) *Store {
	return &Store{path: filepath.Join(runDir, "state.json"), ttl: ttl}
}

// Load returns the current state, serving a cached copy when fresh.
func (s *Store) Load() (*types.RunState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *Store) loadLocked() (*types.RunState, error) {
	if s.cached != nil && time.Since(s.loadedAt) < s.ttl {
		return s.cached.Clone(), nil
	}
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", types.ErrStateNotFound, s.path)
	}
	if err != nil {
		return nil, err
	}
	var st types.RunState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("decode state.json: %w", err)
	}
	s.cached = &st
	s.loadedAt = time.Now()
	return st.Clone(), nil
}

// Save atomically writes state and refreshes the cache.
func (s *Store) Save(state *types.RunState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(state)
}

func (s *Store) saveLocked(state *types.RunState) error {
	state.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	if err := fsatomic.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("write state.json: %w", err)
	}
	s.cached = state.Clone()
	s.loadedAt = time.Now()
	return nil
}

// Mutate loads the current state, applies fn, and saves the result, all
// while holding the lock — the building block every typed mutator below is
// written in terms of.
func (s *Store) Mutate(fn func(*types.RunState) error) (*types.RunState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.loadLocked()
	if err != nil {
		return nil, err
	}
	if err := fn(st); err != nil {
		return nil, err
	}
	if err := s.saveLocked(st); err != nil {
		return nil, err
	}
	return st.Clone(), nil
}

// UpdatePhase transitions the run to phase, recording a history entry.
func (s *Store) UpdatePhase(phase types.Phase) (*types.RunState, error) {
	return s.Mutate(func(st *types.RunState) error {
		prev := st.Phase
		st.Phase = phase
		st.History = append(st.History, types.HistoryEntry{
			Prev:      prev,
			Completed: phase,
			Timestamp: time.Now().UTC(),
		})
		return nil
	})
}

// UpdateAgentStatus sets an agent's status, stamping StartedAt/CompletedAt
// as appropriate.
func (s *Store) UpdateAgentStatus(agent types.Agent, status types.AgentStatus) (*types.RunState, error) {
	return s.Mutate(func(st *types.RunState) error {
		as := st.Agents[agent]
		as.Status = status
		now := time.Now().UTC()
		switch status {
		case types.AgentStatusRunning:
			if as.StartedAt == nil {
				as.StartedAt = &now
			}
		case types.AgentStatusCompleted, types.AgentStatusFailed, types.AgentStatusTimeout:
			as.CompletedAt = &now
		}
		if st.Agents == nil {
			st.Agents = map[types.Agent]types.AgentState{}
		}
		st.Agents[agent] = as
		return nil
	})
}

// SetAgentError records a failure message against an agent's state.
func (s *Store) SetAgentError(agent types.Agent, message string) (*types.RunState, error) {
	return s.Mutate(func(st *types.RunState) error {
		as := st.Agents[agent]
		as.Status = types.AgentStatusFailed
		as.Error = message
		if st.Agents == nil {
			st.Agents = map[types.Agent]types.AgentState{}
		}
		st.Agents[agent] = as
		return nil
	})
}

// SetAgentTimeoutAt records the absolute deadline ActivityMonitor is
// enforcing for agent, so a resumed process can recompute remaining budget.
func (s *Store) SetAgentTimeoutAt(agent types.Agent, deadline time.Time) (*types.RunState, error) {
	return s.Mutate(func(st *types.RunState) error {
		as := st.Agents[agent]
		as.TimeoutAt = &deadline
		if st.Agents == nil {
			st.Agents = map[types.Agent]types.AgentState{}
		}
		st.Agents[agent] = as
		return nil
	})
}

// SetPendingCRP records (or clears, when crpID is nil) the CRP currently
// blocking progress.
func (s *Store) SetPendingCRP(crpID *string) (*types.RunState, error) {
	return s.Mutate(func(st *types.RunState) error {
		st.PendingCRP = crpID
		return nil
	})
}

// IncrementIteration bumps Iteration, resets MinorFixAttempts to 0, and
// resets the Builder/Verifier/Gatekeeper agent slots to pending with their
// timestamps and errors cleared — a fresh iteration is a fresh attempt for
// every phase after Refine. Each slot keeps its usage, so the run total
// stays the sum of the per-agent usages.
func (s *Store) IncrementIteration() (*types.RunState, error) {
	return s.Mutate(func(st *types.RunState) error {
		st.Iteration++
		st.MinorFixAttempts = 0
		if st.Agents == nil {
			st.Agents = map[types.Agent]types.AgentState{}
		}
		for _, a := range []types.Agent{types.AgentBuilder, types.AgentVerifier, types.AgentGatekeeper} {
			st.Agents[a] = types.AgentState{Status: types.AgentStatusPending, Usage: st.Agents[a].Usage}
		}
		return nil
	})
}

// IncrementMinorFixAttempt bumps MinorFixAttempts within the current iteration.
func (s *Store) IncrementMinorFixAttempt() (*types.RunState, error) {
	return s.Mutate(func(st *types.RunState) error {
		st.MinorFixAttempts++
		return nil
	})
}

// ResetMinorFixAttempts zeroes MinorFixAttempts without touching Iteration.
func (s *Store) ResetMinorFixAttempts() (*types.RunState, error) {
	return s.Mutate(func(st *types.RunState) error {
		st.MinorFixAttempts = 0
		return nil
	})
}

// AddHistory appends a transition entry directly, for callers that compute
// it themselves.
func (s *Store) AddHistory(entry types.HistoryEntry) (*types.RunState, error) {
	return s.Mutate(func(st *types.RunState) error {
		st.History = append(st.History, entry)
		return nil
	})
}

// AddError appends a human-readable error message to the run-level log.
func (s *Store) AddError(message string) (*types.RunState, error) {
	return s.Mutate(func(st *types.RunState) error {
		st.Errors = append(st.Errors, message)
		return nil
	})
}

// UpdateAgentUsage sets the cumulative usage recorded against one agent and
// rolls it into the run total in the same mutation.
func (s *Store) UpdateAgentUsage(agent types.Agent, usage types.Usage) (*types.RunState, error) {
	return s.Mutate(func(st *types.RunState) error {
		as := st.Agents[agent]
		prev := types.Usage{}
		if as.Usage != nil {
			prev = *as.Usage
		}
		as.Usage = &usage
		if st.Agents == nil {
			st.Agents = map[types.Agent]types.AgentState{}
		}
		st.Agents[agent] = as

		st.Usage = st.Usage.Add(usage).Add(types.Usage{
			InputTokens:         -prev.InputTokens,
			OutputTokens:        -prev.OutputTokens,
			CacheCreationTokens: -prev.CacheCreationTokens,
			CacheReadTokens:     -prev.CacheReadTokens,
			CostUSD:             -prev.CostUSD,
		})
		return nil
	})
}

// UpdateModelSelection attaches the model-selection decision to the run
// state so it is visible from get_current_state without a second read.
func (s *Store) UpdateModelSelection(sel *types.ModelSelection) (*types.RunState, error) {
	return s.Mutate(func(st *types.RunState) error {
		st.ModelSelection = sel
		return nil
	})
}
