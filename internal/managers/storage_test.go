package managers

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/chrissnell/simtelemetry/internal/types"
)

type captureEngine struct {
	mu      sync.Mutex
	records []types.Record
	ch      chan types.Record
}

func (c *captureEngine) StartStorageEngine(ctx context.Context, wg *sync.WaitGroup) chan<- types.Record {
	c.ch = make(chan types.Record, 16)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case r := <-c.ch:
				c.mu.Lock()
				c.records = append(c.records, r)
				c.mu.Unlock()
			case <-ctx.Done():
				return
			}
		}
	}()
	return c.ch
}

func (c *captureEngine) snapshot() []types.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]types.Record(nil), c.records...)
}

func live(ts time.Time, speed float64) types.Record {
	return types.Record{Snapshot: types.TelemetrySnapshot{
		Source: types.SourceUDP, Game: "F1 2024", SpeedKPH: speed, Timestamp: ts,
	}}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestConsumeStampsAndClosesSessionOnDrain(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup

	sm, err := NewStorageManager(ctx, &wg, nil)
	if err != nil {
		t.Fatal(err)
	}
	a, b := &captureEngine{}, &captureEngine{}
	sm.attach(ctx, &wg, "a", a)
	sm.attach(ctx, &wg, "b", b)

	records := make(chan types.Record)
	sm.Consume(ctx, &wg, records)

	base := time.Unix(1700000000, 0)
	records <- live(base, 100)
	records <- live(base.Add(time.Second), 150)
	close(records)

	select {
	case <-sm.Drained():
	case <-time.After(2 * time.Second):
		t.Fatal("distributor did not drain")
	}

	for name, e := range map[string]*captureEngine{"a": a, "b": b} {
		waitFor(t, func() bool { return len(e.snapshot()) == 3 })
		got := e.snapshot()
		if got[0].SessionID == "" || got[0].SessionID != got[1].SessionID {
			t.Errorf("%s: session ids %q, %q", name, got[0].SessionID, got[1].SessionID)
		}
		ended := got[2].Ended
		if ended == nil {
			t.Fatalf("%s: final record does not close the session", name)
		}
		if ended.Samples != 2 || ended.MaxSpeedKPH != 150 {
			t.Errorf("%s: ended session = %+v", name, ended)
		}
		if got[2].Snapshot.Live() {
			t.Errorf("%s: closing record should carry no data", name)
		}
	}

	cancel()
	wg.Wait()
}

func TestConsumeWithoutOpenSession(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup

	sm, _ := NewStorageManager(ctx, &wg, nil)
	e := &captureEngine{}
	sm.attach(ctx, &wg, "e", e)

	records := make(chan types.Record, 1)
	records <- types.Record{Snapshot: types.NoData(time.Now())}
	close(records)
	sm.Consume(ctx, &wg, records)
	<-sm.Drained()

	waitFor(t, func() bool { return len(e.snapshot()) == 1 })
	if got := e.snapshot()[0]; got.Ended != nil || got.SessionID != "" {
		t.Errorf("no-data record = %+v", got)
	}

	cancel()
	wg.Wait()
}

func TestSessionStoreNilWithoutEngines(t *testing.T) {
	var wg sync.WaitGroup
	sm, _ := NewStorageManager(context.Background(), &wg, nil)
	if sm.SessionStore() != nil {
		t.Error("expected no session store")
	}
}

func TestUnknownEngine(t *testing.T) {
	var wg sync.WaitGroup
	sm, _ := NewStorageManager(context.Background(), &wg, nil)
	if err := sm.AddEngine(context.Background(), &wg, "influxdb", nil); err == nil {
		t.Error("expected error for unknown engine")
	}
}
