package managers

import (
	"fmt"
	"sort"

	"github.com/chrissnell/simtelemetry/internal/arbiter"
	"github.com/chrissnell/simtelemetry/internal/connection"
	"github.com/chrissnell/simtelemetry/internal/gforce"
	"github.com/chrissnell/simtelemetry/internal/sources"
	"github.com/chrissnell/simtelemetry/internal/sources/f1udp"
	"github.com/chrissnell/simtelemetry/internal/sources/replay"
	"github.com/chrissnell/simtelemetry/internal/sources/sharedmemory"
	"github.com/chrissnell/simtelemetry/pkg/config"
	"go.uber.org/zap"
)

// Shared memory games accepted in configuration.
const (
	gameLMU = "lmu"
	gameRF2 = "rf2"

	rf2GameLabel = "rFactor 2"
)

// NewArbiter builds the arbiter and its prioritized source list from c.
func NewArbiter(c *config.ConfigData, logger *zap.SugaredLogger) (*arbiter.Arbiter, error) {
	entries, err := BuildSources(c, logger)
	if err != nil {
		return nil, err
	}

	poll, err := config.ParseDuration(c.Arbiter.PollInterval, 0)
	if err != nil {
		return nil, fmt.Errorf("invalid poll-interval: %w", err)
	}
	stop, err := config.ParseDuration(c.Arbiter.StopTimeout, 0)
	if err != nil {
		return nil, fmt.Errorf("invalid stop-timeout: %w", err)
	}

	return arbiter.New(arbiter.Config{
		PollInterval:     poll,
		StopTimeout:      stop,
		SubscriberBuffer: c.Arbiter.SubscriberBuffer,
		GForce: gforce.Config{
			Gravity:         c.GForce.Gravity,
			HistorySize:     c.GForce.HistorySize,
			SmoothingFactor: c.GForce.SmoothingFactor,
		},
	}, entries, logger), nil
}

// BuildSources turns the configured sources into arbiter entries, ordered by
// ascending priority. Disabled sources are skipped.
func BuildSources(c *config.ConfigData, logger *zap.SugaredLogger) ([]arbiter.Entry, error) {
	configured := make([]config.SourceData, 0, len(c.Sources))
	for _, sd := range c.Sources {
		if sd.Disabled {
			logger.Infof("telemetry source %s is disabled", sd.Name)
			continue
		}
		configured = append(configured, sd)
	}
	sort.SliceStable(configured, func(i, j int) bool {
		return configured[i].Priority < configured[j].Priority
	})

	entries := make([]arbiter.Entry, 0, len(configured))
	for _, sd := range configured {
		src, err := newSource(sd, c.GForce.Gravity, logger.Named(sd.Name))
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", sd.Name, err)
		}
		reopen, err := config.ParseDuration(sd.ReopenInterval, 0)
		if err != nil {
			return nil, fmt.Errorf("source %s: invalid reopen-interval: %w", sd.Name, err)
		}
		entries = append(entries, arbiter.Entry{Source: src, ReopenInterval: reopen})
		logger.Infof("configured %s telemetry source %s", sd.Type, sd.Name)
	}
	return entries, nil
}

func newSource(sd config.SourceData, gravity float64, logger *zap.SugaredLogger) (sources.Source, error) {
	switch sd.Type {
	case config.SourceTypeUDP:
		timeout, err := config.ParseDuration(sd.PollTimeout, 0)
		if err != nil {
			return nil, fmt.Errorf("invalid poll-timeout: %w", err)
		}
		tracker, err := trackerConfig(sd)
		if err != nil {
			return nil, err
		}
		return f1udp.New(f1udp.Config{
			Name:          sd.Name,
			ListenAddr:    sd.ListenAddr,
			Port:          sd.Port,
			PollTimeout:   timeout,
			MinPacketSize: sd.MinPacketSize,
			Gravity:       gravity,
			Tracker:       tracker,
		}, logger), nil

	case config.SourceTypeSharedMemory:
		cfg, err := sharedMemoryConfig(sd)
		if err != nil {
			return nil, err
		}
		return sharedmemory.New(cfg, logger), nil

	case config.SourceTypePcap:
		tracker, err := trackerConfig(sd)
		if err != nil {
			return nil, err
		}
		return replay.New(replay.Config{
			Name:          sd.Name,
			File:          sd.File,
			Port:          sd.Port,
			Speed:         sd.Speed,
			Loop:          sd.Loop,
			MinPacketSize: sd.MinPacketSize,
			Gravity:       gravity,
			Tracker:       tracker,
		}, logger), nil

	default:
		return nil, fmt.Errorf("unknown source type %q", sd.Type)
	}
}

func sharedMemoryConfig(sd config.SourceData) (sharedmemory.Config, error) {
	layout, err := sharedmemory.LayoutByName(sd.Layout)
	if err != nil {
		return sharedmemory.Config{}, err
	}
	for kind, offsets := range map[sharedmemory.BlockKind][]int{
		sharedmemory.BlockScoring:   sd.ScoringOffsets,
		sharedmemory.BlockTelemetry: sd.TelemetryOffsets,
		sharedmemory.BlockExtended:  sd.ExtendedOffsets,
	} {
		if len(offsets) > 0 {
			layout = layout.WithOffsets(kind, offsets)
		}
	}
	if err := layout.Validate(); err != nil {
		return sharedmemory.Config{}, err
	}

	tracker, err := trackerConfig(sd)
	if err != nil {
		return sharedmemory.Config{}, err
	}

	cfg := sharedmemory.Config{
		Name:        sd.Name,
		Layout:      layout,
		RegionNames: sd.RegionNames,
		BufferSize:  sd.BufferSize,
		Tracker:     tracker,
	}
	switch sd.Game {
	case "", gameLMU:
	case gameRF2:
		cfg.GameLabel = rf2GameLabel
	default:
		return sharedmemory.Config{}, fmt.Errorf("unknown shared memory game %q", sd.Game)
	}
	return cfg, nil
}

// trackerConfig reads the connection hysteresis settings shared by every
// source type. Zero values are left for each source to default.
func trackerConfig(sd config.SourceData) (connection.Config, error) {
	holdUp, err := config.ParseDuration(sd.HoldUp, 0)
	if err != nil {
		return connection.Config{}, fmt.Errorf("invalid hold-up: %w", err)
	}
	stale, err := config.ParseDuration(sd.StaleAfter, 0)
	if err != nil {
		return connection.Config{}, fmt.Errorf("invalid stale-after: %w", err)
	}
	return connection.Config{
		MaxFailures: sd.MaxFailures,
		HoldUp:      holdUp,
		StaleAfter:  stale,
	}, nil
}
