package f1udp

import (
	"encoding/binary"
	"fmt"
	"math"
)

// headerSize returns the header length for a packet format.
func headerSize(format uint16) (int, error) {
	switch format {
	case 2022:
		return headerSize2022, nil
	case 2023, 2024, 2025:
		return headerSize2023, nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrUnsupportedFormat, format)
	}
}

func putHeader(b []byte, h Header) {
	le := binary.LittleEndian
	le.PutUint16(b[0:], h.PacketFormat)
	if h.PacketFormat == 2022 {
		b[2] = 1 // major version
		b[3] = 0
		b[4] = 1 // packet version
		b[5] = h.PacketID
		le.PutUint64(b[6:], h.SessionUID)
		le.PutUint32(b[14:], math.Float32bits(h.SessionTime))
		le.PutUint32(b[18:], h.FrameID)
		b[22] = h.PlayerCarIndex
		b[23] = 255
		return
	}
	b[2] = byte(h.PacketFormat % 100)
	b[3] = 1
	b[4] = 0
	b[5] = 1
	b[6] = h.PacketID
	le.PutUint64(b[7:], h.SessionUID)
	le.PutUint32(b[15:], math.Float32bits(h.SessionTime))
	le.PutUint32(b[19:], h.FrameID)
	le.PutUint32(b[23:], h.FrameID)
	b[27] = h.PlayerCarIndex
	b[28] = 255
}

func newPacket(h Header, id uint8, recSize int) ([]byte, []byte, error) {
	size, err := headerSize(h.PacketFormat)
	if err != nil {
		return nil, nil, err
	}
	if h.PlayerCarIndex >= numCars {
		return nil, nil, fmt.Errorf("%w: %d", ErrPlayerIndex, h.PlayerCarIndex)
	}
	h.PacketID = id
	b := make([]byte, size+numCars*recSize)
	putHeader(b, h)
	rec := b[size+int(h.PlayerCarIndex)*recSize:]
	return b, rec[:recSize], nil
}

// EncodeMotion builds a motion packet carrying m in the player's slot. Other
// cars' records are zero.
func EncodeMotion(h Header, m CarMotion) ([]byte, error) {
	b, rec, err := newPacket(h, PacketMotion, carMotionSize)
	if err != nil {
		return nil, err
	}
	le := binary.LittleEndian
	le.PutUint32(rec[offGForceLateral:], math.Float32bits(m.GForceLateral))
	le.PutUint32(rec[offGForceLongitudinal:], math.Float32bits(m.GForceLongitudinal))
	le.PutUint32(rec[offGForceVertical:], math.Float32bits(m.GForceVertical))
	return b, nil
}

// EncodeCarTelemetry builds a car telemetry packet carrying t in the player's
// slot.
func EncodeCarTelemetry(h Header, t CarTelemetry) ([]byte, error) {
	b, rec, err := newPacket(h, PacketCarTelemetry, carTelemetrySize)
	if err != nil {
		return nil, err
	}
	le := binary.LittleEndian
	le.PutUint16(rec[offSpeed:], t.SpeedKPH)
	le.PutUint32(rec[offThrottle:], math.Float32bits(t.Throttle))
	le.PutUint32(rec[offSteer:], math.Float32bits(t.Steer))
	le.PutUint32(rec[offBrake:], math.Float32bits(t.Brake))
	rec[offClutch] = t.Clutch
	rec[offGear] = byte(t.Gear)
	le.PutUint16(rec[offRPM:], t.RPM)
	return b, nil
}
