// Package retry implements RetryPolicy and RecoveryStrategies: the decision
// of whether a worker failure is recoverable, the backoff schedule for
// retrying it, and the concrete recovery action per error kind. The backoff
// schedule and attempt bookkeeping follow the teacher's
// rpiLoopSupervisorConfig retry fields (cmd/ao/rpi_loop_supervisor.go:
// CycleRetries, RetryBackoff) and its gate-retry path
// (cmd/ao/rpi_phased_phase_runner.go: handlePostPhaseGate).
package retry

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/boshu2/orchestral/internal/types"
)

// EventKind tags a RetryPolicy signal.
type EventKind string

const (
	EventRetry          EventKind = "agent_retry"
	EventRetrySuccess   EventKind = "agent_retry_success"
	EventRetryExhausted EventKind = "agent_retry_exhausted"
)

// Event is emitted on each retry attempt, success, or exhaustion.
type Event struct {
	Kind    EventKind
	Agent   types.Agent
	Attempt int
	Err     error
}

// Policy configures exponential-backoff retry.
type Policy struct {
	MaxAttempts       int
	RecoverableErrors map[types.ErrorKind]bool
	BaseDelay         time.Duration
	MaxDelay          time.Duration
}

// NewPolicy builds a Policy recognizing the given recoverable error kinds.
func NewPolicy(maxAttempts int, recoverable []types.ErrorKind, baseDelay, maxDelay time.Duration) *Policy {
	set := make(map[types.ErrorKind]bool, len(recoverable))
	for _, k := range recoverable {
		set[k] = true
	}
	return &Policy{
		MaxAttempts:       maxAttempts,
		RecoverableErrors: set,
		BaseDelay:         baseDelay,
		MaxDelay:          maxDelay,
	}
}

// Delay returns the backoff before retry attempt n (1-indexed):
// min(baseDelay * 2^(n-1), maxDelay).
func (p *Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	scaled := float64(p.BaseDelay) * math.Pow(2, float64(attempt-1))
	if scaled > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(scaled)
}

// recoverable reports whether kind is one of the policy's RecoverableErrors.
func (p *Policy) recoverable(kind types.ErrorKind) bool {
	return p.RecoverableErrors[kind]
}

// ExecuteWithRetry runs op for agent, retrying on a recoverable kind (as
// reported by classify) up to MaxAttempts, sleeping the backoff schedule
// between attempts. It blocks until success, exhaustion, or ctx
// cancellation, and streams Events describing each attempt onto events.
func (p *Policy) ExecuteWithRetry(ctx context.Context, agent types.Agent, events chan<- Event, op func(attempt int) error, classify func(error) types.ErrorKind) error {
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if attempt > 1 {
			emit(events, Event{Kind: EventRetry, Agent: agent, Attempt: attempt})
		}
		err := op(attempt)
		if err == nil {
			if attempt > 1 {
				emit(events, Event{Kind: EventRetrySuccess, Agent: agent, Attempt: attempt})
			}
			return nil
		}
		lastErr = err

		kind := classify(err)
		if !p.recoverable(kind) || attempt == p.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.Delay(attempt)):
		}
	}
	emit(events, Event{Kind: EventRetryExhausted, Agent: agent, Attempt: p.MaxAttempts, Err: lastErr})
	return fmt.Errorf("%w: %v", types.ErrUnrecoverable, lastErr)
}

func emit(events chan<- Event, e Event) {
	if events == nil {
		return
	}
	select {
	case events <- e:
	default:
	}
}

// Action names the concrete recovery behavior for an error kind.
type Action string

const (
	ActionResetAndRelaunch  Action = "reset_and_relaunch"
	ActionExtendAndRelaunch Action = "extend_and_relaunch"
	ActionFail              Action = "fail"
)

// ActionFor maps an error kind to its recovery action, per §4.5:
// crash resets and relaunches; timeout extends the deadline once then
// relaunches; validation/permission/resource are not retry-recoverable.
func ActionFor(kind types.ErrorKind) Action {
	switch kind {
	case types.ErrorKindCrash:
		return ActionResetAndRelaunch
	case types.ErrorKindTimeout:
		return ActionExtendAndRelaunch
	default:
		return ActionFail
	}
}

// CanRecover reports whether flag is recoverable: a strategy must exist for
// its kind and the flag itself must be marked recoverable.
func CanRecover(flag types.ErrorFlag) bool {
	return ActionFor(flag.ErrorType) != ActionFail && flag.Recoverable
}

// Callbacks are the side effects RecoveryStrategies drives; AgentLifecycle
// and RunStore supply the concrete implementations.
type Callbacks struct {
	ResetAgentFlags  func(agent types.Agent) error
	RegeneratePrompt func(agent types.Agent) error
	RelaunchAgent    func(agent types.Agent) error
	ExtendTimeout    func(agent types.Agent) error
	MarkFailed       func(reason string) error
}

// Strategies executes the concrete recovery action for a classified error.
type Strategies struct {
	cb           Callbacks
	extendedOnce map[types.Agent]bool
}

// NewStrategies builds a Strategies bound to cb.
func NewStrategies(cb Callbacks) *Strategies {
	return &Strategies{cb: cb, extendedOnce: make(map[types.Agent]bool)}
}

// Recover runs the action for flag against agent.
func (s *Strategies) Recover(agent types.Agent, flag types.ErrorFlag) error {
	switch ActionFor(flag.ErrorType) {
	case ActionResetAndRelaunch:
		if err := s.cb.ResetAgentFlags(agent); err != nil {
			return fmt.Errorf("reset agent flags: %w", err)
		}
		if err := s.cb.RegeneratePrompt(agent); err != nil {
			return fmt.Errorf("regenerate prompt: %w", err)
		}
		if err := s.cb.RelaunchAgent(agent); err != nil {
			return fmt.Errorf("relaunch agent: %w", err)
		}
		return nil

	case ActionExtendAndRelaunch:
		if s.extendedOnce[agent] {
			return s.cb.MarkFailed(fmt.Sprintf("%s timed out again after one extension", agent))
		}
		s.extendedOnce[agent] = true
		if err := s.cb.ExtendTimeout(agent); err != nil {
			return fmt.Errorf("extend timeout: %w", err)
		}
		if err := s.cb.RelaunchAgent(agent); err != nil {
			return fmt.Errorf("relaunch agent: %w", err)
		}
		return nil

	default:
		return s.cb.MarkFailed(fmt.Sprintf("%s: %s", flag.Agent, flag.Message))
	}
}
