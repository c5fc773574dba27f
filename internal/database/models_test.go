package database

import (
	"testing"
	"time"

	"github.com/chrissnell/simtelemetry/internal/types"
	"github.com/google/go-cmp/cmp"
)

func TestSessionRowPeaksDocument(t *testing.T) {
	start := time.Date(2025, 2, 1, 20, 0, 0, 0, time.UTC)
	want := types.Session{
		ID:              "3f1c",
		Game:            "Le Mans Ultimate",
		Source:          types.SourceSharedMemory,
		Start:           start,
		End:             start.Add(45 * time.Minute),
		Samples:         81000,
		MaxSpeedKPH:     331.5,
		MaxLateral:      2.9,
		MaxLongitudinal: 3.4,
		MaxTotal:        3.9,
	}

	row, err := NewSessionRow(want)
	if err != nil {
		t.Fatalf("NewSessionRow: %v", err)
	}
	if row.Source != "sharedmemory" {
		t.Errorf("source column = %q", row.Source)
	}

	got, err := SessionFromRow(row)
	if err != nil {
		t.Fatalf("SessionFromRow: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("session mismatch (-want +got):\n%s", diff)
	}
}

func TestNewSampleRow(t *testing.T) {
	ts := time.Date(2025, 2, 1, 20, 0, 0, 0, time.UTC)
	row := NewSampleRow(types.Record{
		SessionID: "3f1c",
		Snapshot:  types.TelemetrySnapshot{Gear: -1, Source: types.SourceUDP, Game: "F1 25", Timestamp: ts},
		GForce:    types.GForceReading{Total: 1.1},
	})
	if row.Gear != -1 || row.Source != "udp" || row.GForceTotal != 1.1 || !row.Time.Equal(ts) {
		t.Errorf("row = %+v", row)
	}
}
