package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/chrissnell/simtelemetry/internal/sources"
	"github.com/chrissnell/simtelemetry/internal/sources/f1udp"
	"github.com/chrissnell/simtelemetry/internal/sources/sharedmemory"
	"github.com/chrissnell/simtelemetry/internal/types"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	m, err := NewWithProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { m.Shutdown(context.Background()) })
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatal(err)
	}
	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func sumFor(t *testing.T, m metricdata.Metrics, attrs ...attribute.KeyValue) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("%s is %T, not an int64 sum", m.Name, m.Data)
	}
	want := attribute.NewSet(attrs...)
	for _, dp := range sum.DataPoints {
		if dp.Attributes.Equals(&want) {
			return dp.Value
		}
	}
	return -1
}

func TestTickAndMissCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.TickCompleted(ctx, types.SourceUDP, 2*time.Millisecond)
	m.TickCompleted(ctx, types.SourceUDP, 3*time.Millisecond)
	m.TickCompleted(ctx, types.SourceNone, time.Millisecond)
	m.SourceMissed(ctx, "lmu")

	got := collect(t, reader)

	if v := sumFor(t, got["simtelemetry.arbiter.ticks"], attribute.String("source", "udp")); v != 2 {
		t.Errorf("udp ticks = %d", v)
	}
	if v := sumFor(t, got["simtelemetry.arbiter.ticks"], attribute.String("source", "none")); v != 1 {
		t.Errorf("none ticks = %d", v)
	}
	if v := sumFor(t, got["simtelemetry.source.misses"], attribute.String("source", "lmu")); v != 1 {
		t.Errorf("lmu misses = %d", v)
	}

	hist, ok := got["simtelemetry.arbiter.tick.duration"].Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("tick duration is %T", got["simtelemetry.arbiter.tick.duration"].Data)
	}
	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
	}
	if count != 3 {
		t.Errorf("histogram count = %d", count)
	}
}

func TestObserveSources(t *testing.T) {
	m, reader := newTestMetrics(t)
	logger := zap.NewNop().Sugar()

	srcs := []sources.Source{
		f1udp.New(f1udp.Config{Name: "f1"}, logger),
		sharedmemory.New(sharedmemory.Config{Name: "lmu"}, logger),
	}
	if err := m.ObserveSources(srcs); err != nil {
		t.Fatal(err)
	}

	got := collect(t, reader)
	datagrams := got["simtelemetry.udp.datagrams"]
	if v := sumFor(t, datagrams, attribute.String("source", "f1"), attribute.String("outcome", "received")); v != 0 {
		t.Errorf("received = %d", v)
	}
	rejects := got["simtelemetry.sharedmemory.rejects"]
	if v := sumFor(t, rejects, attribute.String("source", "lmu"), attribute.String("reason", "torn")); v != 0 {
		t.Errorf("torn rejects = %d", v)
	}
	if n := len(rejects.Data.(metricdata.Sum[int64]).DataPoints); n != 6 {
		t.Errorf("reject reasons observed = %d", n)
	}
}
