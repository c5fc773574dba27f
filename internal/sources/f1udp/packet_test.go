package f1udp

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"
)

const g = 9.80665

// buildHeader2024 writes a 29-byte header for format 2024.
func buildHeader2024(b []byte, packetID, playerIdx uint8) {
	binary.LittleEndian.PutUint16(b[0:], 2024)
	b[2] = 24
	b[6] = packetID
	binary.LittleEndian.PutUint64(b[7:], 0xdeadbeef)
	b[27] = playerIdx
	b[28] = 255
}

func motionPacket(playerIdx uint8, lat, long, vert float32) []byte {
	b := make([]byte, headerSize2023+numCars*carMotionSize)
	buildHeader2024(b, PacketMotion, playerIdx)
	rec := b[headerSize2023+int(playerIdx)*carMotionSize:]
	binary.LittleEndian.PutUint32(rec[offGForceLateral:], math.Float32bits(lat))
	binary.LittleEndian.PutUint32(rec[offGForceLongitudinal:], math.Float32bits(long))
	binary.LittleEndian.PutUint32(rec[offGForceVertical:], math.Float32bits(vert))
	return b
}

func telemetryPacket(playerIdx uint8, speed uint16, throttle, brake float32, gear int8, rpm uint16) []byte {
	b := make([]byte, headerSize2023+numCars*carTelemetrySize+3)
	buildHeader2024(b, PacketCarTelemetry, playerIdx)
	rec := b[headerSize2023+int(playerIdx)*carTelemetrySize:]
	binary.LittleEndian.PutUint16(rec[offSpeed:], speed)
	binary.LittleEndian.PutUint32(rec[offThrottle:], math.Float32bits(throttle))
	binary.LittleEndian.PutUint32(rec[offBrake:], math.Float32bits(brake))
	rec[offGear] = byte(gear)
	binary.LittleEndian.PutUint16(rec[offRPM:], rpm)
	return b
}

func TestParseHeaderFormats(t *testing.T) {
	b2022 := make([]byte, headerSize2022)
	binary.LittleEndian.PutUint16(b2022[0:], 2022)
	b2022[5] = PacketCarTelemetry
	b2022[22] = 3

	h, err := ParseHeader(b2022)
	if err != nil {
		t.Fatalf("2022 header: %v", err)
	}
	if h.PacketID != PacketCarTelemetry || h.PlayerCarIndex != 3 || h.Size() != headerSize2022 {
		t.Errorf("2022 header decoded as %+v", h)
	}

	b2024 := make([]byte, headerSize2023)
	buildHeader2024(b2024, PacketMotion, 7)
	h, err = ParseHeader(b2024)
	if err != nil {
		t.Fatalf("2024 header: %v", err)
	}
	if h.PacketID != PacketMotion || h.PlayerCarIndex != 7 || h.SessionUID != 0xdeadbeef {
		t.Errorf("2024 header decoded as %+v", h)
	}
}

func TestParseHeaderErrors(t *testing.T) {
	tests := []struct {
		name string
		pkt  []byte
		err  error
	}{
		{"empty", nil, ErrShortPacket},
		{"truncated 2024 header", func() []byte {
			b := make([]byte, 20)
			binary.LittleEndian.PutUint16(b, 2024)
			return b
		}(), ErrShortPacket},
		{"unknown format", func() []byte {
			b := make([]byte, 64)
			binary.LittleEndian.PutUint16(b, 2019)
			return b
		}(), ErrUnsupportedFormat},
		{"player index out of range", func() []byte {
			b := make([]byte, 64)
			buildHeader2024(b, PacketMotion, 40)
			return b
		}(), ErrPlayerIndex},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseHeader(tt.pkt); !errors.Is(err, tt.err) {
				t.Errorf("ParseHeader() error = %v, want %v", err, tt.err)
			}
		})
	}
}

func TestDecoderMergesMotionAndTelemetry(t *testing.T) {
	d := NewDecoder(g)
	if _, ok := d.Sample(); ok {
		t.Fatalf("empty decoder produced a sample")
	}

	if _, ok, err := d.Decode(motionPacket(5, 0.5, -1.2, 1.0)); err != nil || !ok {
		t.Fatalf("motion decode: ok=%v err=%v", ok, err)
	}
	if _, ok, err := d.Decode(telemetryPacket(5, 243, 0.75, 0.1, 6, 11250)); err != nil || !ok {
		t.Fatalf("telemetry decode: ok=%v err=%v", ok, err)
	}

	s, ok := d.Sample()
	if !ok {
		t.Fatalf("no sample after decoding")
	}
	if s.SpeedKPH != 243 || s.Gear != 6 || s.RPM != 11250 {
		t.Errorf("sample = %+v", s)
	}
	if math.Abs(s.Throttle-75) > 1e-4 || math.Abs(s.Brake-10) > 1e-4 {
		t.Errorf("pedals = %v / %v, want 75 / 10", s.Throttle, s.Brake)
	}
	if math.Abs(s.Accel.Z-(-1.2*g)) > 1e-4 || math.Abs(s.Accel.X-0.5*g) > 1e-4 || math.Abs(s.Accel.Y-g) > 1e-4 {
		t.Errorf("accel = %+v", s.Accel)
	}
	if s.Game != "F1 2024" {
		t.Errorf("game = %q, want F1 2024", s.Game)
	}
}

func TestDecoderIgnoresOtherPackets(t *testing.T) {
	d := NewDecoder(g)
	b := make([]byte, 200)
	buildHeader2024(b, 2, 0)

	id, ok, err := d.Decode(b)
	if err != nil || ok || id != 2 {
		t.Errorf("Decode(lap data) = (%d, %v, %v), want (2, false, nil)", id, ok, err)
	}
}

func TestDecoderRejectsTruncatedCarArray(t *testing.T) {
	d := NewDecoder(g)
	pkt := motionPacket(21, 0, 0, 0)[:headerSize2023+10*carMotionSize]
	if _, _, err := d.Decode(pkt); !errors.Is(err, ErrShortPacket) {
		t.Errorf("Decode() error = %v, want ErrShortPacket", err)
	}
}
