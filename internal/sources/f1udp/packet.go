package f1udp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/chrissnell/simtelemetry/internal/constants"
	"github.com/chrissnell/simtelemetry/internal/types"
)

// Packet ids the decoder understands. Every other id is ignored.
const (
	PacketMotion       uint8 = 0
	PacketCarTelemetry uint8 = 6
)

const (
	numCars = 22
	// carMotionSize and carTelemetrySize are the per-car record sizes for the
	// 2022 through 2025 formats.
	carMotionSize    = 60
	carTelemetrySize = 60

	headerSize2022 = 24
	headerSize2023 = 29
)

// Offsets inside a car motion record.
const (
	offGForceLateral      = 36
	offGForceLongitudinal = 40
	offGForceVertical     = 44
)

// Offsets inside a car telemetry record.
const (
	offSpeed    = 0
	offThrottle = 2
	offSteer    = 6
	offBrake    = 10
	offClutch   = 14
	offGear     = 15
	offRPM      = 16
)

var (
	ErrShortPacket       = errors.New("packet too short")
	ErrUnsupportedFormat = errors.New("unsupported packet format")
	ErrPlayerIndex       = errors.New("player car index out of range")
)

// Header is the common prefix of every F1 packet.
type Header struct {
	PacketFormat   uint16
	PacketID       uint8
	SessionUID     uint64
	SessionTime    float32
	FrameID        uint32
	PlayerCarIndex uint8
	size           int
}

// ParseHeader decodes the packet header, whose layout depends on the format.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < 2 {
		return Header{}, ErrShortPacket
	}
	h := Header{PacketFormat: binary.LittleEndian.Uint16(b[0:])}

	switch h.PacketFormat {
	case 2022:
		if len(b) < headerSize2022 {
			return Header{}, ErrShortPacket
		}
		h.PacketID = b[5]
		h.SessionUID = binary.LittleEndian.Uint64(b[6:])
		h.SessionTime = math.Float32frombits(binary.LittleEndian.Uint32(b[14:]))
		h.FrameID = binary.LittleEndian.Uint32(b[18:])
		h.PlayerCarIndex = b[22]
		h.size = headerSize2022
	case 2023, 2024, 2025:
		if len(b) < headerSize2023 {
			return Header{}, ErrShortPacket
		}
		h.PacketID = b[6]
		h.SessionUID = binary.LittleEndian.Uint64(b[7:])
		h.SessionTime = math.Float32frombits(binary.LittleEndian.Uint32(b[15:]))
		h.FrameID = binary.LittleEndian.Uint32(b[19:])
		h.PlayerCarIndex = b[27]
		h.size = headerSize2023
	default:
		return Header{}, fmt.Errorf("%w: %d", ErrUnsupportedFormat, h.PacketFormat)
	}

	if h.PlayerCarIndex >= numCars {
		return Header{}, fmt.Errorf("%w: %d", ErrPlayerIndex, h.PlayerCarIndex)
	}
	return h, nil
}

// Size returns the encoded header length.
func (h Header) Size() int {
	return h.size
}

// GameLabel names the game that produced packets of this format.
func GameLabel(format uint16) string {
	switch format {
	case 2022:
		return "F1 2022"
	case 2023:
		return "F1 2023"
	case 2024:
		return "F1 2024"
	case 2025:
		return "F1 25"
	default:
		return "F1"
	}
}

// CarMotion holds the player's G-force values from a motion packet.
type CarMotion struct {
	GForceLateral      float32
	GForceLongitudinal float32
	GForceVertical     float32
}

// CarTelemetry holds the player's driver inputs and engine state.
type CarTelemetry struct {
	SpeedKPH uint16
	Throttle float32
	Steer    float32
	Brake    float32
	Clutch   uint8
	Gear     int8
	RPM      uint16
}

// Decoder accumulates the latest motion and telemetry state for the player car
// across packets. It is not safe for concurrent use.
type Decoder struct {
	gravity float64

	format    uint16
	motion    CarMotion
	telemetry CarTelemetry
	hasMotion bool
	hasTel    bool
}

// NewDecoder returns a decoder that converts G values to m/s² with gravity.
func NewDecoder(gravity float64) *Decoder {
	if gravity <= 0 {
		gravity = constants.StandardGravity
	}
	return &Decoder{gravity: gravity}
}

// Decode consumes one datagram. It returns the packet id and whether the
// packet updated the decoder's state.
func (d *Decoder) Decode(pkt []byte) (uint8, bool, error) {
	h, err := ParseHeader(pkt)
	if err != nil {
		return 0, false, err
	}

	switch h.PacketID {
	case PacketMotion:
		rec, err := carRecord(pkt, h, carMotionSize)
		if err != nil {
			return h.PacketID, false, err
		}
		d.motion = CarMotion{
			GForceLateral:      f32(rec, offGForceLateral),
			GForceLongitudinal: f32(rec, offGForceLongitudinal),
			GForceVertical:     f32(rec, offGForceVertical),
		}
		d.hasMotion = true
	case PacketCarTelemetry:
		rec, err := carRecord(pkt, h, carTelemetrySize)
		if err != nil {
			return h.PacketID, false, err
		}
		d.telemetry = CarTelemetry{
			SpeedKPH: binary.LittleEndian.Uint16(rec[offSpeed:]),
			Throttle: f32(rec, offThrottle),
			Steer:    f32(rec, offSteer),
			Brake:    f32(rec, offBrake),
			Clutch:   rec[offClutch],
			Gear:     int8(rec[offGear]),
			RPM:      binary.LittleEndian.Uint16(rec[offRPM:]),
		}
		d.hasTel = true
	default:
		return h.PacketID, false, nil
	}

	d.format = h.PacketFormat
	return h.PacketID, true, nil
}

func carRecord(pkt []byte, h Header, recSize int) ([]byte, error) {
	start := h.Size() + int(h.PlayerCarIndex)*recSize
	if start+recSize > len(pkt) {
		return nil, ErrShortPacket
	}
	return pkt[start : start+recSize], nil
}

func f32(b []byte, off int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b[off:]))
}

// Sample merges the latest motion and telemetry state. It reports false until
// at least one of them has been decoded.
func (d *Decoder) Sample() (types.Sample, bool) {
	if !d.hasMotion && !d.hasTel {
		return types.Sample{}, false
	}

	s := types.Sample{Game: GameLabel(d.format)}
	if d.hasTel {
		s.Throttle = clampPercent(float64(d.telemetry.Throttle))
		s.Brake = clampPercent(float64(d.telemetry.Brake))
		s.SpeedKPH = float64(d.telemetry.SpeedKPH)
		s.Gear = int32(d.telemetry.Gear)
		s.RPM = float64(d.telemetry.RPM)
	}
	if d.hasMotion {
		s.Accel = types.Vec3{
			X: finite(float64(d.motion.GForceLateral)) * d.gravity,
			Y: finite(float64(d.motion.GForceVertical)) * d.gravity,
			Z: finite(float64(d.motion.GForceLongitudinal)) * d.gravity,
		}
	}
	return s, true
}

// Reset forgets accumulated state.
func (d *Decoder) Reset() {
	*d = Decoder{gravity: d.gravity}
}

func clampPercent(f float64) float64 {
	return math.Min(100, math.Max(0, finite(f)*100))
}

func finite(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}
