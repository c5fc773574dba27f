// Package session splits the record stream into driving sessions.
package session

import (
	"math"
	"sync"
	"time"

	"github.com/chrissnell/simtelemetry/internal/types"
	"github.com/google/uuid"
)

// Tracker stamps records with the id of the session they belong to. A
// session opens on the first live record and closes on the first record
// without data, or when the game or source changes.
type Tracker struct {
	mu      sync.Mutex
	current *types.Session
	newID   func() string
}

// NewTracker returns a tracker with no open session.
func NewTracker() *Tracker {
	return &Tracker{newID: uuid.NewString}
}

// Observe stamps r with the current session id, opening or closing sessions
// as needed. When a session closes, the returned record carries it in Ended.
func (t *Tracker) Observe(r types.Record) types.Record {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap := r.Snapshot
	if t.current != nil && (!snap.Live() || snap.Game != t.current.Game || snap.Source != t.current.Source) {
		r.Ended = t.closeLocked(snap.Timestamp)
	}
	if !snap.Live() {
		return r
	}

	if t.current == nil {
		t.current = &types.Session{
			ID:     t.newID(),
			Game:   snap.Game,
			Source: snap.Source,
			Start:  snap.Timestamp,
		}
	}

	s := t.current
	s.Samples++
	s.End = snap.Timestamp
	s.MaxSpeedKPH = math.Max(s.MaxSpeedKPH, snap.SpeedKPH)
	s.MaxLateral = math.Max(s.MaxLateral, math.Abs(r.GForce.Lateral))
	s.MaxLongitudinal = math.Max(s.MaxLongitudinal, math.Abs(r.GForce.Longitudinal))
	s.MaxTotal = math.Max(s.MaxTotal, math.Hypot(r.GForce.Lateral, r.GForce.Longitudinal))

	r.SessionID = s.ID
	return r
}

// Current returns a copy of the open session.
func (t *Tracker) Current() (types.Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil {
		return types.Session{}, false
	}
	return *t.current, true
}

// Close ends the open session, if any, at ts.
func (t *Tracker) Close(ts time.Time) *types.Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil {
		return nil
	}
	return t.closeLocked(ts)
}

func (t *Tracker) closeLocked(ts time.Time) *types.Session {
	s := t.current
	t.current = nil
	if ts.After(s.End) {
		s.End = ts
	}
	return s
}
