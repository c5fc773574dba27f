// Package types holds the value types passed between sources, the arbiter and
// the storage engines.
package types

import (
	"fmt"
	"time"
)

// Source identifies where a snapshot's data came from.
type Source int

const (
	SourceNone Source = iota
	SourceUDP
	SourceSharedMemory
)

func (s Source) String() string {
	switch s {
	case SourceUDP:
		return "udp"
	case SourceSharedMemory:
		return "sharedmemory"
	default:
		return "none"
	}
}

// MarshalText renders the source by name in JSON and YAML output.
func (s Source) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a source name.
func (s *Source) UnmarshalText(b []byte) error {
	switch string(b) {
	case "udp":
		*s = SourceUDP
	case "sharedmemory":
		*s = SourceSharedMemory
	case "none", "":
		*s = SourceNone
	default:
		return fmt.Errorf("unknown telemetry source %q", string(b))
	}
	return nil
}

// Vec3 is a vehicle-local vector. X is lateral, Y vertical, Z longitudinal.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Sample is one raw reading from a telemetry source, before any smoothing.
// Throttle and Brake are percentages, Accel is in m/s².
type Sample struct {
	Throttle float64
	Brake    float64
	SpeedKPH float64
	Gear     int32
	RPM      float64
	Accel    Vec3

	// Game and Connection are display labels, e.g. "F1 2024" / "F1 Connected".
	Game       string
	Connection string
}

// TelemetrySnapshot is the unit of publication. A snapshot is never mutated
// after it has been published; readers receive copies.
type TelemetrySnapshot struct {
	Throttle           float64   `json:"throttle"`
	Brake              float64   `json:"brake"`
	SpeedKPH           float64   `json:"speed_kph"`
	Gear               int32     `json:"gear"`
	RPM                float64   `json:"rpm"`
	GForceLateral      float64   `json:"gforce_lateral"`
	GForceLongitudinal float64   `json:"gforce_longitudinal"`
	GForceVertical     float64   `json:"gforce_vertical"`
	Source             Source    `json:"source"`
	Game               string    `json:"game"`
	Timestamp          time.Time `json:"timestamp"`
}

// NoData returns the snapshot published when no source produced anything.
func NoData(ts time.Time) TelemetrySnapshot {
	return TelemetrySnapshot{Source: SourceNone, Timestamp: ts}
}

// Live reports whether the snapshot carries data from a real source.
func (s TelemetrySnapshot) Live() bool {
	return s.Source != SourceNone
}

// GForceReading is the G-force engine output for one update, in G.
type GForceReading struct {
	Lateral         float64 `json:"lateral"`
	Longitudinal    float64 `json:"longitudinal"`
	Vertical        float64 `json:"vertical"`
	Total           float64 `json:"total"`
	MaxLateral      float64 `json:"max_lateral"`
	MaxLongitudinal float64 `json:"max_longitudinal"`
	MaxTotal        float64 `json:"max_total"`
}

// Status is the display status published next to each snapshot.
type Status struct {
	Game       string `json:"game"`
	Connection string `json:"connection"`
	Source     Source `json:"source"`
	// Link is the publishing source's connection state, e.g. "connected" or
	// "degraded(3)". Empty when no source has data.
	Link  string    `json:"link,omitempty"`
	Since time.Time `json:"since"`
}

// Record is what storage engines receive for every published snapshot.
type Record struct {
	Snapshot  TelemetrySnapshot `json:"snapshot"`
	GForce    GForceReading     `json:"gforce"`
	SessionID string            `json:"session_id,omitempty"`

	// Ended is set on the first record after a session closes.
	Ended *Session `json:"-"`
}

// Session is one continuous stretch of live telemetry from a single game.
type Session struct {
	ID      string    `json:"id"`
	Game    string    `json:"game"`
	Source  Source    `json:"source"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end,omitempty"`
	Samples int64     `json:"samples"`

	MaxSpeedKPH     float64 `json:"max_speed_kph"`
	MaxLateral      float64 `json:"max_lateral"`
	MaxLongitudinal float64 `json:"max_longitudinal"`
	MaxTotal        float64 `json:"max_total"`
}

// Labels published when no source has data.
const (
	GameDisconnected  = "Disconnected"
	ConnectionOffline = "Offline"
)
