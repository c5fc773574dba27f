package f1udp

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestEncodedPacketsDecode(t *testing.T) {
	for _, format := range []uint16{2022, 2024} {
		t.Run(GameLabel(format), func(t *testing.T) {
			h := Header{PacketFormat: format, SessionUID: 42, FrameID: 7, PlayerCarIndex: 3}

			motion, err := EncodeMotion(h, CarMotion{GForceLateral: 1.5, GForceLongitudinal: -2, GForceVertical: 1})
			if err != nil {
				t.Fatal(err)
			}
			tel, err := EncodeCarTelemetry(h, CarTelemetry{SpeedKPH: 250, Throttle: 0.75, Gear: 7, RPM: 11000})
			if err != nil {
				t.Fatal(err)
			}

			parsed, err := ParseHeader(motion)
			if err != nil {
				t.Fatal(err)
			}
			if parsed.FrameID != 7 || parsed.SessionUID != 42 || parsed.PlayerCarIndex != 3 || parsed.PacketID != PacketMotion {
				t.Errorf("header = %+v", parsed)
			}

			d := NewDecoder(g)
			for _, pkt := range [][]byte{motion, tel} {
				if _, ok, err := d.Decode(pkt); !ok || err != nil {
					t.Fatalf("Decode: ok=%v err=%v", ok, err)
				}
			}
			s, _ := d.Sample()
			if s.SpeedKPH != 250 || s.Gear != 7 || s.Throttle != 75 || s.Game != GameLabel(format) {
				t.Errorf("sample = %+v", s)
			}
			if math.Abs(s.Accel.X-1.5*g) > 1e-9 || math.Abs(s.Accel.Z+2*g) > 1e-9 {
				t.Errorf("accel = %+v", s.Accel)
			}
		})
	}
}

func TestEncodeErrors(t *testing.T) {
	if _, err := EncodeMotion(Header{PacketFormat: 2019}, CarMotion{}); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("format 2019: %v", err)
	}
	if _, err := EncodeCarTelemetry(Header{PacketFormat: 2024, PlayerCarIndex: numCars}, CarTelemetry{}); !errors.Is(err, ErrPlayerIndex) {
		t.Errorf("player index: %v", err)
	}
}

func TestEncodedSizes(t *testing.T) {
	got := map[uint16]int{}
	for _, f := range []uint16{2022, 2023, 2025} {
		b, err := EncodeMotion(Header{PacketFormat: f}, CarMotion{})
		if err != nil {
			t.Fatal(err)
		}
		got[f] = len(b)
	}
	want := map[uint16]int{
		2022: headerSize2022 + numCars*carMotionSize,
		2023: headerSize2023 + numCars*carMotionSize,
		2025: headerSize2023 + numCars*carMotionSize,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("sizes (-want +got):\n%s", diff)
	}
}
