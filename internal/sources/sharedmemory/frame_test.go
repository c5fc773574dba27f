package sharedmemory

import (
	"encoding/binary"
	"math"

	"github.com/chrissnell/simtelemetry/internal/types"
)

// testVehicle carries both the scoring and telemetry fields the encoders need.
type testVehicle struct {
	id       int32
	player   bool
	gear     int32
	vel      types.Vec3
	accel    types.Vec3
	rpm      float64
	throttle float64
	brake    float64
	driver   string
	vehicle  string
}

func putHeader(b []byte, begin, end uint32, n int32) {
	binary.LittleEndian.PutUint32(b[offVersionBegin:], begin)
	binary.LittleEndian.PutUint32(b[offVersionEnd:], end)
	binary.LittleEndian.PutUint32(b[offNumVehicles:], uint32(n))
}

func putF64(b []byte, off int, v float64) {
	binary.LittleEndian.PutUint64(b[off:], math.Float64bits(v))
}

func putVec3(b []byte, off int, v types.Vec3) {
	putF64(b, off, v.X)
	putF64(b, off+8, v.Y)
	putF64(b, off+16, v.Z)
}

func encodeTelemetry(version uint32, vehicles []testVehicle) []byte {
	b := make([]byte, BlockHeaderSize+len(vehicles)*TelemetryRecordSize)
	putHeader(b, version, version, int32(len(vehicles)))
	for i, v := range vehicles {
		r := b[BlockHeaderSize+i*TelemetryRecordSize:]
		binary.LittleEndian.PutUint32(r[offTelID:], uint32(v.id))
		binary.LittleEndian.PutUint32(r[offTelGear:], uint32(v.gear))
		putVec3(r, offTelVel, v.vel)
		putVec3(r, offTelAccel, v.accel)
		putF64(r, offTelRPM, v.rpm)
		putF64(r, offTelThrottle, v.throttle)
		putF64(r, offTelBrake, v.brake)
	}
	return b
}

func encodeScoring(version uint32, inRealtime uint8, vehicles []testVehicle) []byte {
	b := make([]byte, ScoringHeaderSize+len(vehicles)*ScoringRecordSize)
	putHeader(b, version, version, int32(len(vehicles)))
	b[offScInRealtime] = inRealtime
	for i, v := range vehicles {
		r := b[ScoringHeaderSize+i*ScoringRecordSize:]
		binary.LittleEndian.PutUint32(r[offVehID:], uint32(v.id))
		if v.player {
			r[offVehIsPlayer] = 1
		}
		copy(r[offVehDriver:offVehDriver+nameFieldSize], v.driver)
		copy(r[offVehVehicle:offVehVehicle+nameFieldSize], v.vehicle)
	}
	return b
}

func encodeExtended(version uint32, realtimeFC, started bool) []byte {
	b := make([]byte, ExtendedBlockSize)
	putHeader(b, version, version, 0)
	if realtimeFC {
		b[offExtInRealtimeFC] = 1
	}
	if started {
		b[offExtSessionStarted] = 1
	}
	return b
}

// combinedBuffer places each non-nil block at the first candidate offset of
// ProbeLayout inside a DefaultBufferSize buffer.
func combinedBuffer(scoring, telemetry, extended []byte) []byte {
	buf := make([]byte, DefaultBufferSize)
	if scoring != nil {
		copy(buf[ProbeLayout.Offsets[BlockScoring][0]:], scoring)
	}
	if telemetry != nil {
		copy(buf[ProbeLayout.Offsets[BlockTelemetry][0]:], telemetry)
	}
	if extended != nil {
		copy(buf[ProbeLayout.Offsets[BlockExtended][0]:], extended)
	}
	return buf
}

var testGrid = []testVehicle{
	{id: 7, driver: "A. Rival", vehicle: "Hypercar #7"},
	{
		id:       12,
		player:   true,
		gear:     4,
		vel:      types.Vec3{Z: -50},
		accel:    types.Vec3{X: 3.0, Y: 9.80665, Z: -9.80665},
		rpm:      7200,
		throttle: 0.85,
		brake:    0,
		driver:   "Local Player",
		vehicle:  "LMP2 #12",
	},
}
