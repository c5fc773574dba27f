package sharedmemory

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/chrissnell/simtelemetry/internal/types"
)

// BlockHeader is the version bracket and count that prefix every block.
type BlockHeader struct {
	VersionBegin uint32
	VersionEnd   uint32
	BytesUpdated int32
	NumVehicles  int32
}

// Realtime is the tri-state realtime flag of the scoring block. Some game
// builds leave the field unpopulated, in which case the extended block's
// flag is used instead.
type Realtime int8

const (
	RealtimeUnavailable Realtime = iota
	RealtimeNo
	RealtimeYes
)

// VehicleTelemetry is one decoded telemetry record.
type VehicleTelemetry struct {
	ID          int32
	Gear        int32
	LocalVel    types.Vec3
	LocalAccel  types.Vec3
	EngineRPM   float64
	Throttle    float64
	Brake       float64
	Clutch      float64
	ElapsedTime float64
}

// VehicleScoring is one decoded scoring record.
type VehicleScoring struct {
	ID           int32
	IsPlayer     bool
	Control      uint8
	TotalLaps    int16
	Sector       int8
	FinishStatus uint8
	Place        int32
	DriverName   string
	VehicleName  string
	LapDist      float64
	LastLapTime  float64
}

// TelemetryBlock is an accepted telemetry block.
type TelemetryBlock struct {
	Header   BlockHeader
	Offset   int
	Vehicles []VehicleTelemetry
}

// ScoringBlock is an accepted scoring block.
type ScoringBlock struct {
	Header     BlockHeader
	Offset     int
	Session    int32
	GamePhase  uint8
	InRealtime Realtime
	Vehicles   []VehicleScoring
}

// ExtendedBlock is an accepted extended block.
type ExtendedBlock struct {
	Header         BlockHeader
	Offset         int
	InRealtimeFC   bool
	SessionStarted bool
}

// Frame is the result of one parse. Any block may be absent.
type Frame struct {
	Scoring   *ScoringBlock
	Telemetry *TelemetryBlock
	Extended  *ExtendedBlock
}

// Empty reports whether no block was accepted.
func (f Frame) Empty() bool {
	return f.Scoring == nil && f.Telemetry == nil && f.Extended == nil
}

var le = binary.LittleEndian

func readHeader(b []byte) BlockHeader {
	return BlockHeader{
		VersionBegin: le.Uint32(b[offVersionBegin:]),
		VersionEnd:   le.Uint32(b[offVersionEnd:]),
		BytesUpdated: int32(le.Uint32(b[offBytesUpdated:])),
		NumVehicles:  int32(le.Uint32(b[offNumVehicles:])),
	}
}

func f64(b []byte, off int) float64 {
	return math.Float64frombits(le.Uint64(b[off:]))
}

func i32(b []byte, off int) int32 {
	return int32(le.Uint32(b[off:]))
}

func vec3(b []byte, off int) types.Vec3 {
	return types.Vec3{X: f64(b, off), Y: f64(b, off+8), Z: f64(b, off+16)}
}

// cString decodes a NUL-terminated fixed-width field.
func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

func decodeTelemetryRecord(r []byte) VehicleTelemetry {
	return VehicleTelemetry{
		ID:          i32(r, offTelID),
		Gear:        i32(r, offTelGear),
		LocalVel:    vec3(r, offTelVel),
		LocalAccel:  vec3(r, offTelAccel),
		EngineRPM:   f64(r, offTelRPM),
		Throttle:    f64(r, offTelThrottle),
		Brake:       f64(r, offTelBrake),
		Clutch:      f64(r, offTelClutch),
		ElapsedTime: f64(r, offTelElapsed),
	}
}

func decodeScoringRecord(r []byte) VehicleScoring {
	return VehicleScoring{
		ID:           i32(r, offVehID),
		IsPlayer:     r[offVehIsPlayer] != 0,
		Control:      r[offVehControl],
		TotalLaps:    int16(le.Uint16(r[offVehTotalLaps:])),
		Sector:       int8(r[offVehSector]),
		FinishStatus: r[offVehFinishStatus],
		Place:        i32(r, offVehPlace),
		DriverName:   cString(r[offVehDriver : offVehDriver+nameFieldSize]),
		VehicleName:  cString(r[offVehVehicle : offVehVehicle+nameFieldSize]),
		LapDist:      f64(r, offVehLapDist),
		LastLapTime:  f64(r, offVehLastLap),
	}
}

func realtimeFlag(v uint8) Realtime {
	switch v {
	case 0:
		return RealtimeNo
	case 1:
		return RealtimeYes
	default:
		return RealtimeUnavailable
	}
}
