// Package activity implements ActivityMonitor: per-agent absolute timeouts
// and soft staleness detection. It generalizes the teacher's single-stream
// stall watchdog (cmd/ao/rpi_phased_stream.go: runStallWatchdog, an atomic
// lastActivityUnix clock checked on a ticker, torn down via
// context.WithCancelCause) from one worker stream to four independently
// armed per-agent timers.
package activity

import (
	"context"
	"sync"
	"time"

	"github.com/boshu2/orchestral/internal/config"
	"github.com/boshu2/orchestral/internal/types"
)

// EventKind tags the kind of signal ActivityMonitor emits.
type EventKind string

const (
	EventTimeout      EventKind = "timeout"
	EventStale        EventKind = "stale"
	EventRecovered    EventKind = "recovered"
	EventProcessEnded EventKind = "process_ended"
)

// Event is one signal emitted onto the monitor's channel. ActivityMonitor
// never terminates a worker itself — it only signals, per §4.4.
type Event struct {
	Kind       EventKind
	Agent      types.Agent
	InactiveMs int64
}

// CaptureFunc returns an agent's current terminal output and whether its
// process surface reports itself active. Supplied by AgentLifecycle.
type CaptureFunc func(agent types.Agent) (output string, processActive bool)

type record struct {
	lastActivity     time.Time
	isStale          bool
	lastOutputLength int
	timer            *time.Timer
}

// Monitor is the per-run ActivityMonitor instance.
type Monitor struct {
	checkInterval  time.Duration
	maxInactivity  time.Duration
	timeouts       config.AgentTimeouts
	capture        CaptureFunc

	mu      sync.Mutex
	records map[types.Agent]*record

	events  chan Event
	stopCh  chan struct{}
	wg      sync.WaitGroup
	started bool
}

// New constructs a Monitor bound to cfg's tuning values and capture, the
// AgentLifecycle-supplied output/liveness probe.
func New(cfg *config.Config, capture CaptureFunc) *Monitor {
	return &Monitor{
		checkInterval: cfg.ActivityCheckInterval(),
		maxInactivity: cfg.MaxInactivityTime(),
		timeouts:      cfg.Timeouts(),
		capture:       capture,
		records:       make(map[types.Agent]*record, len(types.Agents)),
		events:        make(chan Event, 32),
		stopCh:        make(chan struct{}),
	}
}

// Events returns the channel Orchestrator selects on for monitor signals.
func (m *Monitor) Events() <-chan Event { return m.events }

// Start initializes a record for every agent and begins the periodic
// staleness check. ctx bounds the monitor's lifetime as a second cancellation
// path alongside Stop — dropping either tears down the background goroutine.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	now := time.Now()
	for _, a := range types.Agents {
		m.records[a] = &record{lastActivity: now}
	}
	m.mu.Unlock()

	m.wg.Add(1)
	go m.runLoop(ctx)
}

func (m *Monitor) runLoop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.checkAll()
		}
	}
}

func (m *Monitor) checkAll() {
	for _, a := range types.Agents {
		m.check(a)
	}
}

func (m *Monitor) check(agent types.Agent) {
	m.mu.Lock()
	rec, ok := m.records[agent]
	m.mu.Unlock()
	if !ok || m.capture == nil {
		return
	}

	output, processActive := m.capture(agent)

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if len(output) != rec.lastOutputLength {
		rec.lastOutputLength = len(output)
		rec.lastActivity = now
		wasStale := rec.isStale
		rec.isStale = false
		if wasStale {
			m.emit(Event{Kind: EventRecovered, Agent: agent})
		}
		return
	}

	inactive := now.Sub(rec.lastActivity)
	if !rec.isStale && inactive > m.maxInactivity {
		rec.isStale = true
		m.emit(Event{Kind: EventStale, Agent: agent, InactiveMs: inactive.Milliseconds()})
	}

	if !processActive && inactive > 5*time.Second {
		m.emit(Event{Kind: EventProcessEnded, Agent: agent})
	}
}

// WatchAgent arms a single-shot absolute timeout for agent.
func (m *Monitor) WatchAgent(agent types.Agent) {
	timeout, ok := m.timeouts[agent]
	if !ok {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if rec, ok := m.records[agent]; ok && rec.timer != nil {
		rec.timer.Stop()
	}
	rec, ok := m.records[agent]
	if !ok {
		rec = &record{lastActivity: time.Now()}
		m.records[agent] = rec
	}
	rec.timer = time.AfterFunc(timeout, func() {
		m.emit(Event{Kind: EventTimeout, Agent: agent})
	})
}

// UnwatchAgent cancels agent's absolute timeout, if armed.
func (m *Monitor) UnwatchAgent(agent types.Agent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[agent]; ok && rec.timer != nil {
		rec.timer.Stop()
		rec.timer = nil
	}
}

// emit never blocks: when the buffered channel is full the event is
// dropped. It does not need m.mu; the timeout timer callback calls it
// without the lock.
func (m *Monitor) emit(e Event) {
	select {
	case m.events <- e:
	default:
	}
}

// Stop clears all timers and caches and halts the periodic check.
func (m *Monitor) Stop() {
	m.mu.Lock()
	for _, rec := range m.records {
		if rec.timer != nil {
			rec.timer.Stop()
		}
	}
	m.records = make(map[types.Agent]*record, len(types.Agents))
	m.mu.Unlock()

	if m.started {
		close(m.stopCh)
		m.wg.Wait()
	}
}
