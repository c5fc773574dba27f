// Package gforce converts raw vehicle acceleration into smoothed, peak-tracked
// G-force values.
//
// The engine is not safe for concurrent use. It is owned by the goroutine that
// feeds it; other goroutines request peak resets through that owner.
package gforce

import (
	"math"

	"github.com/chrissnell/simtelemetry/internal/constants"
	"github.com/chrissnell/simtelemetry/internal/types"
	"gonum.org/v1/gonum/stat"
)

// Defaults used when a Config field is left zero.
const (
	DefaultHistorySize     = 10
	DefaultSmoothingFactor = 0.3
	DefaultDeadband        = 0.1
)

// Config tunes the engine.
type Config struct {
	Gravity         float64
	HistorySize     int
	SmoothingFactor float64
}

func (c Config) withDefaults() Config {
	if c.Gravity <= 0 {
		c.Gravity = constants.StandardGravity
	}
	if c.HistorySize <= 0 {
		c.HistorySize = DefaultHistorySize
	}
	if c.SmoothingFactor <= 0 || c.SmoothingFactor > 1 {
		c.SmoothingFactor = DefaultSmoothingFactor
	}
	return c
}

// Engine smooths each axis against the mean of its recent history and tracks
// peak values until they are reset.
type Engine struct {
	cfg Config

	longitudinal *history
	lateral      *history
	vertical     *history

	maxLongitudinal float64
	maxLateral      float64
	maxTotal        float64

	last types.GForceReading
}

// New returns an engine with empty history and zero peaks.
func New(cfg Config) *Engine {
	cfg = cfg.withDefaults()
	return &Engine{
		cfg:          cfg,
		longitudinal: newHistory(cfg.HistorySize),
		lateral:      newHistory(cfg.HistorySize),
		vertical:     newHistory(cfg.HistorySize),
	}
}

// Gravity returns the conversion factor in use.
func (e *Engine) Gravity() float64 {
	return e.cfg.Gravity
}

// Update folds one acceleration vector (m/s², x=lateral, y=vertical,
// z=longitudinal) into the engine and returns the smoothed reading.
func (e *Engine) Update(accel types.Vec3) types.GForceReading {
	rawLat := ToG(accel.X, e.cfg.Gravity)
	rawVert := ToG(accel.Y, e.cfg.Gravity)
	rawLong := ToG(accel.Z, e.cfg.Gravity)

	long := e.smooth(rawLong, e.longitudinal)
	lat := e.smooth(rawLat, e.lateral)
	vert := e.smooth(rawVert, e.vertical)

	e.longitudinal.push(long)
	e.lateral.push(lat)
	e.vertical.push(vert)

	e.maxLongitudinal = math.Max(e.maxLongitudinal, math.Abs(long))
	e.maxLateral = math.Max(e.maxLateral, math.Abs(lat))
	e.maxTotal = math.Max(e.maxTotal, math.Hypot(long, lat))

	e.last = types.GForceReading{
		Lateral:         lat,
		Longitudinal:    long,
		Vertical:        vert,
		Total:           math.Sqrt(long*long + lat*lat + vert*vert),
		MaxLateral:      e.maxLateral,
		MaxLongitudinal: e.maxLongitudinal,
		MaxTotal:        e.maxTotal,
	}
	return e.last
}

func (e *Engine) smooth(raw float64, h *history) float64 {
	if h.len() == 0 {
		return raw
	}
	a := e.cfg.SmoothingFactor
	return a*raw + (1-a)*stat.Mean(h.values(), nil)
}

// Last returns the most recent reading, with peaks as of now.
func (e *Engine) Last() types.GForceReading {
	r := e.last
	r.MaxLateral = e.maxLateral
	r.MaxLongitudinal = e.maxLongitudinal
	r.MaxTotal = e.maxTotal
	return r
}

// Peaks returns the current peak values.
func (e *Engine) Peaks() (longitudinal, lateral, total float64) {
	return e.maxLongitudinal, e.maxLateral, e.maxTotal
}

// ResetPeaks zeroes the peak trackers. History is kept.
func (e *Engine) ResetPeaks() {
	e.maxLongitudinal = 0
	e.maxLateral = 0
	e.maxTotal = 0
}

// ClearHistory drops the smoothing history so the next update starts fresh.
// Peaks are kept.
func (e *Engine) ClearHistory() {
	e.longitudinal.reset()
	e.lateral.reset()
	e.vertical.reset()
	e.last = types.GForceReading{}
}

// CircleCoordinates projects the latest smoothed longitudinal and lateral
// values onto a friction circle of the given radius centred on (cx, cy).
// Screen Y grows downward, so acceleration plots below centre.
func (e *Engine) CircleCoordinates(radius, cx, cy float64) (x, y float64) {
	if e.longitudinal.len() == 0 {
		return cx, cy
	}
	return CircleCoordinates(e.longitudinal.latest(), e.lateral.latest(), radius, cx, cy)
}

// ToG converts an acceleration in m/s² to G. Non-finite input yields 0.
func ToG(accel, gravity float64) float64 {
	if math.IsNaN(accel) || math.IsInf(accel, 0) || gravity == 0 {
		return 0
	}
	return accel / gravity
}

// CircleCoordinates maps a longitudinal/lateral G pair to friction circle
// screen coordinates.
func CircleCoordinates(longitudinal, lateral, radius, cx, cy float64) (x, y float64) {
	return lateral*radius + cx, -longitudinal*radius + cy
}

// BrakingRate is the magnitude of deceleration while the driver is braking and
// the car has not been in an impact. Zero otherwise.
func BrakingRate(longitudinal float64, braking, notImpacted bool) float64 {
	if braking && notImpacted && longitudinal < 0 {
		return math.Abs(longitudinal)
	}
	return 0
}
