// Package arbiter polls the configured telemetry sources in priority order at
// a fixed rate and publishes one snapshot per tick.
//
// The polling goroutine is the only writer. Readers get copies of immutable
// values through Latest, Status and LastGForce, or a stream of records
// through Subscribe.
package arbiter

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chrissnell/simtelemetry/internal/gforce"
	"github.com/chrissnell/simtelemetry/internal/sources"
	"github.com/chrissnell/simtelemetry/internal/types"
	"go.uber.org/zap"
)

// Defaults used when a Config field is left zero.
const (
	DefaultPollInterval     = 33 * time.Millisecond
	DefaultStopTimeout      = 2 * time.Second
	DefaultSubscriberBuffer = 64
)

var (
	ErrNoSources = errors.New("no telemetry sources configured")
	ErrStopped   = errors.New("arbiter has been stopped")
)

// Health statuses passed to a HealthReporter.
const (
	HealthHealthy   = "healthy"
	HealthUnhealthy = "unhealthy"
)

// Config tunes the polling loop.
type Config struct {
	PollInterval     time.Duration
	StopTimeout      time.Duration
	SubscriberBuffer int
	GForce           gforce.Config
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = DefaultStopTimeout
	}
	if c.SubscriberBuffer <= 0 {
		c.SubscriberBuffer = DefaultSubscriberBuffer
	}
	return c
}

// Entry is one source in the priority list.
type Entry struct {
	Source sources.Source
	// ReopenInterval retries a failed Open at this cadence. Zero disables the
	// source for the life of the arbiter after its first failed Open.
	ReopenInterval time.Duration
}

// HealthReporter records the open/closed state of each source.
type HealthReporter interface {
	ReportHealth(component, status, message string)
}

// Observer receives per-tick measurements.
type Observer interface {
	TickCompleted(ctx context.Context, source types.Source, elapsed time.Duration)
	SourceMissed(ctx context.Context, name string)
}

type entry struct {
	Entry

	open        bool
	disabled    bool
	reported    bool
	lastAttempt time.Time
}

// Arbiter owns the sources, the G-force engine and the published state.
type Arbiter struct {
	cfg     Config
	logger  *zap.SugaredLogger
	entries []*entry
	engine  *gforce.Engine
	now     func() time.Time

	health   HealthReporter
	observer Observer

	snapshot atomic.Pointer[types.TelemetrySnapshot]
	status   atomic.Pointer[types.Status]
	reading  atomic.Pointer[types.GForceReading]

	resetPeaks chan struct{}

	subMu      sync.Mutex
	subs       map[chan types.Record]struct{}
	subsClosed bool

	mu        sync.Mutex
	state     lifecycleState
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// New builds an arbiter over entries, tried in the order given.
func New(cfg Config, entries []Entry, logger *zap.SugaredLogger) *Arbiter {
	cfg = cfg.withDefaults()

	a := &Arbiter{
		cfg:        cfg,
		logger:     logger,
		engine:     gforce.New(cfg.GForce),
		now:        time.Now,
		resetPeaks: make(chan struct{}, 1),
		subs:       make(map[chan types.Record]struct{}),
	}
	for _, e := range entries {
		if e.Source == nil {
			continue
		}
		a.entries = append(a.entries, &entry{Entry: e})
	}

	a.publish(types.NoData(a.now()), types.GForceReading{}, noDataStatus(a.now()))
	return a
}

// SetHealthReporter must be called before Start.
func (a *Arbiter) SetHealthReporter(h HealthReporter) {
	a.health = h
}

// SetObserver must be called before Start.
func (a *Arbiter) SetObserver(o Observer) {
	a.observer = o
}

// SetClock replaces the time source. Intended for tests; call before Start.
func (a *Arbiter) SetClock(now func() time.Time) {
	a.now = now
}

// Sources returns the configured sources in priority order.
func (a *Arbiter) Sources() []sources.Source {
	out := make([]sources.Source, len(a.entries))
	for i, e := range a.entries {
		out[i] = e.Source
	}
	return out
}

// Latest returns the most recently published snapshot.
func (a *Arbiter) Latest() types.TelemetrySnapshot {
	return *a.snapshot.Load()
}

// Status returns the display status published with the latest snapshot.
func (a *Arbiter) Status() types.Status {
	return *a.status.Load()
}

// LastGForce returns the G-force reading, peaks included, from the latest tick.
func (a *Arbiter) LastGForce() types.GForceReading {
	return *a.reading.Load()
}

// ResetPeaks asks the polling loop to zero the peak G values on its next tick.
func (a *Arbiter) ResetPeaks() {
	select {
	case a.resetPeaks <- struct{}{}:
	default:
	}
}

// Subscribe returns a channel that receives a record for every tick. Records
// are dropped for subscribers that fall behind. The returned function
// unsubscribes and closes the channel.
func (a *Arbiter) Subscribe() (<-chan types.Record, func()) {
	ch := make(chan types.Record, a.cfg.SubscriberBuffer)

	a.subMu.Lock()
	defer a.subMu.Unlock()
	if a.subsClosed {
		close(ch)
		return ch, func() {}
	}
	a.subs[ch] = struct{}{}

	return ch, func() {
		a.subMu.Lock()
		defer a.subMu.Unlock()
		if _, ok := a.subs[ch]; ok {
			delete(a.subs, ch)
			close(ch)
		}
	}
}

func (a *Arbiter) closeSubscribers() {
	a.subMu.Lock()
	defer a.subMu.Unlock()
	for ch := range a.subs {
		close(ch)
	}
	a.subs = nil
	a.subsClosed = true
}

func (a *Arbiter) broadcast(r types.Record) {
	a.subMu.Lock()
	defer a.subMu.Unlock()
	for ch := range a.subs {
		select {
		case ch <- r:
		default:
		}
	}
}

// tick runs one poll of the priority list and publishes the result.
func (a *Arbiter) tick(ctx context.Context) {
	now := a.now()

	select {
	case <-a.resetPeaks:
		a.engine.ResetPeaks()
		a.logger.Info("peak G values reset")
	default:
	}

	sample, src, ok := a.poll(ctx, now)
	if !ok {
		if a.snapshot.Load().Live() {
			a.engine.ClearHistory()
		}
		long, lat, total := a.engine.Peaks()
		reading := types.GForceReading{MaxLongitudinal: long, MaxLateral: lat, MaxTotal: total}
		a.publish(types.NoData(now), reading, a.nextStatus(noDataStatus(now)))
		a.observeTick(ctx, types.SourceNone, now)
		return
	}

	kind := src.Kind()
	reading := a.engine.Update(sample.Accel)
	snap := types.TelemetrySnapshot{
		Throttle:           sample.Throttle,
		Brake:              sample.Brake,
		SpeedKPH:           sample.SpeedKPH,
		Gear:               sample.Gear,
		RPM:                sample.RPM,
		GForceLateral:      reading.Lateral,
		GForceLongitudinal: reading.Longitudinal,
		GForceVertical:     reading.Vertical,
		Source:             kind,
		Game:               sample.Game,
		Timestamp:          now,
	}
	status := types.Status{
		Game:       sample.Game,
		Connection: sample.Connection,
		Source:     kind,
		Since:      now,
	}
	if st, ok := src.(sources.Statuser); ok {
		status.Link = st.ConnectionStatus()
	}
	a.publish(snap, reading, a.nextStatus(status))
	a.observeTick(ctx, kind, now)
}

// poll returns the first sample produced by the priority list and the source
// that produced it.
func (a *Arbiter) poll(ctx context.Context, now time.Time) (types.Sample, sources.Source, bool) {
	for _, e := range a.entries {
		if !a.ready(e, now) {
			continue
		}
		if sample, ok := a.tryRead(ctx, e); ok {
			return sample, e.Source, true
		}
		if a.observer != nil {
			a.observer.SourceMissed(ctx, e.Source.Name())
		}
	}
	return types.Sample{}, nil, false
}

func (a *Arbiter) tryRead(ctx context.Context, e *entry) (sample types.Sample, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Errorf("telemetry source [%s] panicked: %v", e.Source.Name(), r)
			sample, ok = types.Sample{}, false
		}
	}()
	return e.Source.TryRead(ctx)
}

// ready reports whether e is open, retrying a failed Open when its reopen
// interval has elapsed.
func (a *Arbiter) ready(e *entry, now time.Time) bool {
	if e.open {
		return true
	}
	if e.disabled || e.ReopenInterval <= 0 {
		return false
	}
	if now.Sub(e.lastAttempt) < e.ReopenInterval {
		return false
	}
	a.openSource(e, now)
	return e.open
}

func (a *Arbiter) openSource(e *entry, now time.Time) {
	e.lastAttempt = now
	name := e.Source.Name()

	if err := e.Source.Open(); err != nil {
		if e.ReopenInterval <= 0 || errors.Is(err, sources.ErrSourceDisabled) {
			e.disabled = true
		}
		if !e.reported {
			e.reported = true
			if e.disabled {
				a.logger.Warnf("telemetry source [%s] disabled: %v", name, err)
			} else {
				a.logger.Warnf("telemetry source [%s] unavailable, retrying every %v: %v", name, e.ReopenInterval, err)
			}
			a.reportHealth(name, HealthUnhealthy, err.Error())
		}
		return
	}

	e.open = true
	e.reported = false
	a.logger.Infof("telemetry source [%s] opened", name)
	a.reportHealth(name, HealthHealthy, "open")
}

func (a *Arbiter) reportHealth(name, status, message string) {
	if a.health != nil {
		a.health.ReportHealth("source/"+name, status, message)
	}
}

func (a *Arbiter) observeTick(ctx context.Context, kind types.Source, start time.Time) {
	if a.observer != nil {
		a.observer.TickCompleted(ctx, kind, a.now().Sub(start))
	}
}

// nextStatus carries Since forward while the labels are unchanged.
func (a *Arbiter) nextStatus(s types.Status) types.Status {
	if prev := a.status.Load(); prev != nil &&
		prev.Game == s.Game && prev.Connection == s.Connection && prev.Source == s.Source {
		s.Since = prev.Since
	}
	return s
}

func (a *Arbiter) publish(snap types.TelemetrySnapshot, reading types.GForceReading, status types.Status) {
	a.snapshot.Store(&snap)
	a.reading.Store(&reading)
	a.status.Store(&status)
	a.broadcast(types.Record{Snapshot: snap, GForce: reading})
}

func noDataStatus(now time.Time) types.Status {
	return types.Status{
		Game:       types.GameDisconnected,
		Connection: types.ConnectionOffline,
		Source:     types.SourceNone,
		Since:      now,
	}
}
