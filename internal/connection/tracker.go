// Package connection implements the hysteresis that keeps a flaky telemetry
// source from flapping between connected and disconnected.
package connection

import (
	"fmt"
	"sync"
	"time"

	"github.com/chrissnell/simtelemetry/internal/types"
)

// Defaults used when a Config field is left zero.
const (
	DefaultMaxFailures = 10
	DefaultHoldUp      = 3 * time.Second
	DefaultStaleAfter  = 5 * time.Second
)

// State is the two-valued connection state used for decisions.
type State int

const (
	Disconnected State = iota
	Connected
)

func (s State) String() string {
	if s == Connected {
		return "connected"
	}
	return "disconnected"
}

// Status adds the absorbed failure count to State, for display. A connected
// tracker with failures > 0 is reported as degraded.
type Status struct {
	State    State
	Failures int
}

// Degraded reports whether failures are currently being absorbed.
func (s Status) Degraded() bool {
	return s.State == Connected && s.Failures > 0
}

func (s Status) String() string {
	if s.Degraded() {
		return fmt.Sprintf("degraded(%d)", s.Failures)
	}
	return s.State.String()
}

// Config tunes the tracker.
type Config struct {
	// MaxFailures consecutive failures force a disconnect.
	MaxFailures int
	// HoldUp is how long after the last success failures are absorbed.
	HoldUp time.Duration
	// StaleAfter bounds how old a held sample may be when read.
	StaleAfter time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxFailures <= 0 {
		c.MaxFailures = DefaultMaxFailures
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = DefaultStaleAfter
	}
	if c.HoldUp <= 0 {
		c.HoldUp = DefaultHoldUp
	}
	if c.HoldUp > c.StaleAfter {
		c.HoldUp = c.StaleAfter
	}
	return c
}

// Tracker holds the last good sample of a source and decides whether the source
// still counts as connected. It starts Disconnected.
type Tracker struct {
	mu  sync.RWMutex
	cfg Config
	now func() time.Time

	state     State
	failures  int
	lastValid time.Time
	held      types.Sample
}

// New returns a disconnected tracker.
func New(cfg Config) *Tracker {
	return &Tracker{cfg: cfg.withDefaults(), now: time.Now}
}

// SetClock replaces the time source. Intended for tests.
func (t *Tracker) SetClock(now func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = now
}

// Config returns the effective configuration.
func (t *Tracker) Config() Config {
	return t.cfg
}

// Success records a good read and holds s as the current sample.
func (t *Tracker) Success(s types.Sample) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.failures = 0
	t.state = Connected
	t.lastValid = t.now()
	t.held = s
}

// Failure records a missed or invalid read and returns the resulting state.
func (t *Tracker) Failure() State {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.failures++
	if t.state == Connected &&
		t.failures < t.cfg.MaxFailures &&
		t.now().Sub(t.lastValid) < t.cfg.HoldUp {
		return t.state
	}

	t.state = Disconnected
	t.held = types.Sample{}
	return t.state
}

// State returns Connected or Disconnected.
func (t *Tracker) State() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// Status returns the display status.
func (t *Tracker) Status() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.state == Disconnected {
		return Status{State: Disconnected}
	}
	return Status{State: Connected, Failures: t.failures}
}

// Current returns the held sample while connected and not stale. Otherwise it
// returns a zero sample and false.
func (t *Tracker) Current() (types.Sample, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.state != Connected || t.now().Sub(t.lastValid) >= t.cfg.StaleAfter {
		return types.Sample{}, false
	}
	return t.held, true
}

// Reset returns the tracker to its initial disconnected state.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.state = Disconnected
	t.failures = 0
	t.lastValid = time.Time{}
	t.held = types.Sample{}
}
