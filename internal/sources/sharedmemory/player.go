package sharedmemory

import (
	"math"

	"github.com/chrissnell/simtelemetry/internal/types"
)

// ResolvePlayer finds the local player's scoring record and the telemetry
// record with the same vehicle id. It returns (-1, -1) when either side is
// missing.
func ResolvePlayer(scoring *ScoringBlock, telemetry *TelemetryBlock) (scoringIdx, telemetryIdx int) {
	if scoring == nil || telemetry == nil {
		return -1, -1
	}

	scoringIdx = -1
	for i, v := range scoring.Vehicles {
		if i >= MaxVehicles {
			break
		}
		if v.IsPlayer {
			scoringIdx = i
			break
		}
	}
	if scoringIdx < 0 {
		return -1, -1
	}

	id := scoring.Vehicles[scoringIdx].ID
	for i, v := range telemetry.Vehicles {
		if i >= MaxVehicles {
			break
		}
		if v.ID == id {
			return scoringIdx, i
		}
	}
	return -1, -1
}

// SessionActive reports whether the game is in a live, started session. The
// scoring block's realtime flag is preferred; when it is unavailable the
// extended block's copy is used. The extended block must also report the
// session as started, so a missing extended block means inactive.
func SessionActive(scoring *ScoringBlock, extended *ExtendedBlock) bool {
	if extended == nil || !extended.SessionStarted {
		return false
	}
	realtime := extended.InRealtimeFC
	if scoring != nil && scoring.InRealtime != RealtimeUnavailable {
		realtime = scoring.InRealtime == RealtimeYes
	}
	return realtime
}

// Sample converts a telemetry record into a source sample. Pedal inputs are
// scaled to percent and clamped, speed comes from the local velocity
// magnitude and every float is sanitised.
func (v VehicleTelemetry) Sample() types.Sample {
	vel := v.LocalVel
	speed := math.Sqrt(finite(vel.X)*finite(vel.X)+finite(vel.Y)*finite(vel.Y)+finite(vel.Z)*finite(vel.Z)) * 3.6

	return types.Sample{
		Throttle: clamp(finite(v.Throttle)*100, 0, 100),
		Brake:    clamp(finite(v.Brake)*100, 0, 100),
		SpeedKPH: speed,
		Gear:     v.Gear,
		RPM:      math.Max(0, finite(v.EngineRPM)),
		Accel: types.Vec3{
			X: finite(v.LocalAccel.X),
			Y: finite(v.LocalAccel.Y),
			Z: finite(v.LocalAccel.Z),
		},
	}
}

func finite(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

func clamp(f, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, f))
}
