package f1udp

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/chrissnell/simtelemetry/internal/connection"
	"go.uber.org/zap"
)

func freeUDPPort(t *testing.T) int {
	t.Helper()
	c, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("could not find a free port: %v", err)
	}
	defer c.Close()
	return c.LocalAddr().(*net.UDPAddr).Port
}

func newTestSource(t *testing.T) (*Source, *net.UDPConn) {
	t.Helper()
	src := New(Config{
		Name:        "f1",
		Port:        freeUDPPort(t),
		PollTimeout: 200 * time.Millisecond,
	}, zap.NewNop().Sugar())
	if err := src.Open(); err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { src.Close() })

	sender, err := net.DialUDP("udp4", nil, src.LocalAddr().(*net.UDPAddr))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { sender.Close() })
	return src, sender
}

func TestSourceReceivesTelemetry(t *testing.T) {
	src, sender := newTestSource(t)

	if _, err := sender.Write(telemetryPacket(0, 180, 1.0, 0, 5, 10500)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := sender.Write(motionPacket(0, 0, 1.0, 0)); err != nil {
		t.Fatalf("write: %v", err)
	}

	s, ok := src.TryRead(context.Background())
	if !ok {
		t.Fatalf("TryRead() returned no data")
	}
	if s.Connection != DefaultConnectionLabel {
		t.Errorf("connection label = %q", s.Connection)
	}
	if s.SpeedKPH != 180 || s.Gear != 5 {
		t.Errorf("sample = %+v", s)
	}
}

func TestSourceDropsUndersizedDatagrams(t *testing.T) {
	src, sender := newTestSource(t)

	if _, err := sender.Write(make([]byte, 99)); err != nil {
		t.Fatalf("write: %v", err)
	}

	if _, ok := src.TryRead(context.Background()); ok {
		t.Fatalf("99-byte datagram produced data")
	}
	st := src.Stats()
	if st.Dropped != 1 || st.DecodeErrors != 0 {
		t.Errorf("stats = %+v, want one dropped datagram", st)
	}
}

func TestSourceTimesOutWithoutData(t *testing.T) {
	src, _ := newTestSource(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	if _, ok := src.TryRead(ctx); ok {
		t.Fatalf("TryRead() returned data with nothing sent")
	}
	if elapsed := time.Since(start); elapsed > 150*time.Millisecond {
		t.Errorf("TryRead() took %v, should honour the context deadline", elapsed)
	}
}

func TestSourceClosedReturnsNothing(t *testing.T) {
	src, _ := newTestSource(t)
	if err := src.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if err := src.Close(); err != nil {
		t.Fatalf("second Close() error: %v", err)
	}
	if _, ok := src.TryRead(context.Background()); ok {
		t.Fatalf("closed source returned data")
	}
}

func TestSourceHoldsSampleBetweenDatagrams(t *testing.T) {
	src, sender := newTestSource(t)
	now := time.Unix(5000, 0)
	src.SetClock(func() time.Time { return now })

	// Reads with nothing queued only need to wait briefly.
	idle := func() (context.Context, context.CancelFunc) {
		return context.WithTimeout(context.Background(), 15*time.Millisecond)
	}

	for _, pkt := range [][]byte{telemetryPacket(0, 210, 1.0, 0, 6, 11000), motionPacket(0, 1.5, -0.5, 1.0)} {
		if _, err := sender.Write(pkt); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	first, ok := src.TryRead(context.Background())
	if !ok {
		t.Fatal("TryRead() returned no data")
	}

	// A 20 Hz sender leaves gaps of up to 50 ms between a 30 Hz poller's reads.
	for i, step := range []time.Duration{33 * time.Millisecond, 33 * time.Millisecond, 33 * time.Millisecond} {
		now = now.Add(step)
		ctx, cancel := idle()
		s, ok := src.TryRead(ctx)
		cancel()
		if !ok || s != first {
			t.Fatalf("empty read %d: got %+v ok=%v, want held sample", i+1, s, ok)
		}
	}
	if got := src.ConnectionStatus(); got != "degraded(3)" {
		t.Errorf("status = %q, want degraded(3)", got)
	}

	now = now.Add(DefaultHold)
	ctx, cancel := idle()
	defer cancel()
	if _, ok := src.TryRead(ctx); ok {
		t.Fatal("sample held past the hold window")
	}
	if got := src.ConnectionStatus(); got != "disconnected" {
		t.Errorf("status = %q, want disconnected", got)
	}
}

func TestTrackerConfigDefaults(t *testing.T) {
	c := TrackerConfig(connection.Config{})
	if c.HoldUp != DefaultHold || c.StaleAfter != DefaultHold {
		t.Errorf("defaults = %+v", c)
	}

	c = TrackerConfig(connection.Config{HoldUp: 400 * time.Millisecond, MaxFailures: 3})
	if c.StaleAfter != 400*time.Millisecond || c.MaxFailures != 3 {
		t.Errorf("configured = %+v", c)
	}
}
