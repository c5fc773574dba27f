// Package metrics exports arbiter and source measurements through
// OpenTelemetry.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/chrissnell/simtelemetry/internal/log"
	"github.com/chrissnell/simtelemetry/internal/sources"
	"github.com/chrissnell/simtelemetry/internal/sources/f1udp"
	"github.com/chrissnell/simtelemetry/internal/sources/sharedmemory"
	"github.com/chrissnell/simtelemetry/internal/types"
	"github.com/chrissnell/simtelemetry/pkg/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

const (
	meterName             = "github.com/chrissnell/simtelemetry"
	defaultExportInterval = 15 * time.Second
)

// Metrics holds the meter provider and the arbiter instruments. It implements
// arbiter.Observer.
type Metrics struct {
	provider *sdkmetric.MeterProvider
	meter    metric.Meter

	ticks        metric.Int64Counter
	misses       metric.Int64Counter
	tickDuration metric.Float64Histogram

	registrations []metric.Registration
}

// New builds a meter provider from c and installs it as the global provider.
// Without an OTLP endpoint measurements are recorded but never exported.
func New(ctx context.Context, c config.MetricsData) (*Metrics, error) {
	res := resource.NewSchemaless(attribute.String("service.name", c.ServiceName))
	opts := []sdkmetric.Option{sdkmetric.WithResource(res)}

	if c.OTLPEndpoint != "" {
		interval, err := config.ParseDuration(c.ExportInterval, defaultExportInterval)
		if err != nil {
			return nil, fmt.Errorf("invalid export-interval: %w", err)
		}

		expOpts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(c.OTLPEndpoint)}
		if c.Insecure {
			expOpts = append(expOpts, otlpmetrichttp.WithInsecure())
		}
		exp, err := otlpmetrichttp.New(ctx, expOpts...)
		if err != nil {
			return nil, fmt.Errorf("could not create OTLP metric exporter: %w", err)
		}
		opts = append(opts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(interval))))
		log.Infof("exporting metrics to %s every %v", c.OTLPEndpoint, interval)
	}

	m, err := NewWithProvider(sdkmetric.NewMeterProvider(opts...))
	if err != nil {
		return nil, err
	}
	otel.SetMeterProvider(m.provider)
	return m, nil
}

// NewWithProvider creates the instruments on p.
func NewWithProvider(p *sdkmetric.MeterProvider) (*Metrics, error) {
	m := &Metrics{provider: p, meter: p.Meter(meterName)}

	var err error
	m.ticks, err = m.meter.Int64Counter("simtelemetry.arbiter.ticks",
		metric.WithDescription("Snapshots published, by the source that produced them"))
	if err != nil {
		return nil, err
	}
	m.misses, err = m.meter.Int64Counter("simtelemetry.source.misses",
		metric.WithDescription("Polls of an open source that produced no sample"))
	if err != nil {
		return nil, err
	}
	m.tickDuration, err = m.meter.Float64Histogram("simtelemetry.arbiter.tick.duration",
		metric.WithDescription("Time spent polling sources in one tick"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	return m, nil
}

// TickCompleted records one published snapshot.
func (m *Metrics) TickCompleted(ctx context.Context, source types.Source, elapsed time.Duration) {
	attrs := metric.WithAttributes(attribute.String("source", source.String()))
	m.ticks.Add(ctx, 1, attrs)
	m.tickDuration.Record(ctx, elapsed.Seconds(), attrs)
}

// SourceMissed records a poll that produced nothing.
func (m *Metrics) SourceMissed(ctx context.Context, name string) {
	m.misses.Add(ctx, 1, metric.WithAttributes(attribute.String("source", name)))
}

// ObserveSources registers observable counters for the datagram counters of
// UDP sources and the parser counters of shared memory sources.
func (m *Metrics) ObserveSources(srcs []sources.Source) error {
	var (
		udp []*f1udp.Source
		shm []*sharedmemory.Source
	)
	for _, s := range srcs {
		switch v := s.(type) {
		case *f1udp.Source:
			udp = append(udp, v)
		case *sharedmemory.Source:
			shm = append(shm, v)
		}
	}

	if len(udp) > 0 {
		datagrams, err := m.meter.Int64ObservableCounter("simtelemetry.udp.datagrams",
			metric.WithDescription("UDP datagrams received, by outcome"))
		if err != nil {
			return err
		}
		reg, err := m.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
			for _, s := range udp {
				st := s.Stats()
				name := attribute.String("source", s.Name())
				o.ObserveInt64(datagrams, int64(st.Received), metric.WithAttributes(name, attribute.String("outcome", "received")))
				o.ObserveInt64(datagrams, int64(st.Dropped), metric.WithAttributes(name, attribute.String("outcome", "dropped")))
				o.ObserveInt64(datagrams, int64(st.DecodeErrors), metric.WithAttributes(name, attribute.String("outcome", "decode_error")))
			}
			return nil
		}, datagrams)
		if err != nil {
			return err
		}
		m.registrations = append(m.registrations, reg)
	}

	if len(shm) > 0 {
		rejects, err := m.meter.Int64ObservableCounter("simtelemetry.sharedmemory.rejects",
			metric.WithDescription("Candidate blocks rejected by the shared memory parser, by reason"))
		if err != nil {
			return err
		}
		reg, err := m.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
			for _, s := range shm {
				st := s.ParserStats()
				for r := sharedmemory.RejectShort; r <= sharedmemory.RejectMalformed; r++ {
					o.ObserveInt64(rejects, int64(st.RejectedBy(r)), metric.WithAttributes(
						attribute.String("source", s.Name()),
						attribute.String("reason", r.String())))
				}
			}
			return nil
		}, rejects)
		if err != nil {
			return err
		}
		m.registrations = append(m.registrations, reg)
	}
	return nil
}

// Shutdown unregisters callbacks and flushes the exporter.
func (m *Metrics) Shutdown(ctx context.Context) error {
	for _, r := range m.registrations {
		if err := r.Unregister(); err != nil {
			log.Warnf("could not unregister metrics callback: %v", err)
		}
	}
	return m.provider.Shutdown(ctx)
}
