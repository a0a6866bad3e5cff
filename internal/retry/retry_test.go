package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/boshu2/orchestral/internal/types"
)

func TestDelayBacksOffExponentiallyAndCaps(t *testing.T) {
	p := NewPolicy(5, []types.ErrorKind{types.ErrorKindTimeout}, 10*time.Millisecond, 50*time.Millisecond)

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 10 * time.Millisecond},
		{2, 20 * time.Millisecond},
		{3, 40 * time.Millisecond},
		{4, 50 * time.Millisecond}, // would be 80ms, capped
	}
	for _, c := range cases {
		if got := p.Delay(c.attempt); got != c.want {
			t.Errorf("Delay(%d) = %v, want %v", c.attempt, got, c.want)
		}
	}
}

func TestExecuteWithRetrySucceedsAfterRetries(t *testing.T) {
	p := NewPolicy(3, []types.ErrorKind{types.ErrorKindTimeout}, time.Millisecond, time.Millisecond)
	events := make(chan Event, 10)

	attempts := 0
	err := p.ExecuteWithRetry(context.Background(), types.AgentBuilder, events,
		func(attempt int) error {
			attempts++
			if attempt < 2 {
				return errors.New("boom")
			}
			return nil
		},
		func(error) types.ErrorKind { return types.ErrorKindTimeout },
	)
	if err != nil {
		t.Fatalf("ExecuteWithRetry: %v", err)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}

	close(events)
	var kinds []EventKind
	for e := range events {
		kinds = append(kinds, e.Kind)
	}
	if len(kinds) != 2 || kinds[0] != EventRetry || kinds[1] != EventRetrySuccess {
		t.Errorf("events = %v, want [agent_retry agent_retry_success]", kinds)
	}
}

func TestExecuteWithRetryExhausts(t *testing.T) {
	p := NewPolicy(2, []types.ErrorKind{types.ErrorKindTimeout}, time.Millisecond, time.Millisecond)
	events := make(chan Event, 10)

	err := p.ExecuteWithRetry(context.Background(), types.AgentBuilder, events,
		func(attempt int) error { return errors.New("always fails") },
		func(error) types.ErrorKind { return types.ErrorKindTimeout },
	)
	if !errors.Is(err, types.ErrUnrecoverable) {
		t.Fatalf("expected ErrUnrecoverable, got %v", err)
	}

	close(events)
	var last Event
	for e := range events {
		last = e
	}
	if last.Kind != EventRetryExhausted {
		t.Errorf("final event = %v, want agent_retry_exhausted", last.Kind)
	}
}

func TestExecuteWithRetryDoesNotRetryUnrecoverableKind(t *testing.T) {
	p := NewPolicy(5, []types.ErrorKind{types.ErrorKindTimeout}, time.Millisecond, time.Millisecond)
	attempts := 0
	err := p.ExecuteWithRetry(context.Background(), types.AgentBuilder, nil,
		func(attempt int) error { attempts++; return errors.New("validation failed") },
		func(error) types.ErrorKind { return types.ErrorKindValidation },
	)
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (no retry for non-recoverable kind)", attempts)
	}
}

func TestActionForTaxonomy(t *testing.T) {
	cases := map[types.ErrorKind]Action{
		types.ErrorKindCrash:      ActionResetAndRelaunch,
		types.ErrorKindTimeout:    ActionExtendAndRelaunch,
		types.ErrorKindValidation: ActionFail,
		types.ErrorKindPermission: ActionFail,
		types.ErrorKindResource:   ActionFail,
	}
	for kind, want := range cases {
		if got := ActionFor(kind); got != want {
			t.Errorf("ActionFor(%s) = %s, want %s", kind, got, want)
		}
	}
}

func TestCanRecoverRequiresBothStrategyAndFlag(t *testing.T) {
	recoverableCrash := types.ErrorFlag{ErrorType: types.ErrorKindCrash, Recoverable: true}
	if !CanRecover(recoverableCrash) {
		t.Error("expected recoverable crash to be recoverable")
	}

	flaggedFalse := types.ErrorFlag{ErrorType: types.ErrorKindCrash, Recoverable: false}
	if CanRecover(flaggedFalse) {
		t.Error("expected flag.Recoverable=false to block recovery")
	}

	noStrategy := types.ErrorFlag{ErrorType: types.ErrorKindValidation, Recoverable: true}
	if CanRecover(noStrategy) {
		t.Error("expected validation kind (no retry strategy) to be non-recoverable")
	}
}

func TestStrategiesRecoverCrashResetsAndRelaunches(t *testing.T) {
	var resetCalled, regenCalled, relaunchCalled bool
	s := NewStrategies(Callbacks{
		ResetAgentFlags:  func(types.Agent) error { resetCalled = true; return nil },
		RegeneratePrompt: func(types.Agent) error { regenCalled = true; return nil },
		RelaunchAgent:    func(types.Agent) error { relaunchCalled = true; return nil },
		ExtendTimeout:    func(types.Agent) error { return nil },
		MarkFailed:       func(string) error { return nil },
	})

	err := s.Recover(types.AgentBuilder, types.ErrorFlag{ErrorType: types.ErrorKindCrash, Recoverable: true})
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if !resetCalled || !regenCalled || !relaunchCalled {
		t.Errorf("crash recovery callbacks: reset=%v regen=%v relaunch=%v", resetCalled, regenCalled, relaunchCalled)
	}
}

func TestStrategiesRecoverTimeoutOnlyExtendsOnce(t *testing.T) {
	extendCount := 0
	var failedReason string
	s := NewStrategies(Callbacks{
		ResetAgentFlags:  func(types.Agent) error { return nil },
		RegeneratePrompt: func(types.Agent) error { return nil },
		RelaunchAgent:    func(types.Agent) error { return nil },
		ExtendTimeout:    func(types.Agent) error { extendCount++; return nil },
		MarkFailed:       func(reason string) error { failedReason = reason; return nil },
	})

	flag := types.ErrorFlag{ErrorType: types.ErrorKindTimeout, Recoverable: true}
	if err := s.Recover(types.AgentBuilder, flag); err != nil {
		t.Fatalf("first Recover: %v", err)
	}
	if err := s.Recover(types.AgentBuilder, flag); err != nil {
		t.Fatalf("second Recover: %v", err)
	}
	if extendCount != 1 {
		t.Errorf("extendCount = %d, want 1", extendCount)
	}
	if failedReason == "" {
		t.Error("expected second timeout to mark failed")
	}
}

func TestStrategiesRecoverValidationMarksFailed(t *testing.T) {
	var reason string
	s := NewStrategies(Callbacks{
		ResetAgentFlags:  func(types.Agent) error { return nil },
		RegeneratePrompt: func(types.Agent) error { return nil },
		RelaunchAgent:    func(types.Agent) error { return nil },
		ExtendTimeout:    func(types.Agent) error { return nil },
		MarkFailed:       func(r string) error { reason = r; return nil },
	})
	flag := types.ErrorFlag{ErrorType: types.ErrorKindValidation, Message: "bad output", Agent: types.AgentVerifier}
	if err := s.Recover(types.AgentVerifier, flag); err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if reason == "" {
		t.Error("expected validation failure to call MarkFailed")
	}
}
