// Package sharedmemory reads telemetry from the versioned shared memory
// regions published by rFactor 2 based games such as Le Mans Ultimate.
package sharedmemory

import (
	"context"
	"fmt"
	"sync"

	"github.com/chrissnell/simtelemetry/internal/connection"
	"github.com/chrissnell/simtelemetry/internal/types"
	"go.uber.org/zap"
)

// Default labels for snapshots produced by this source.
const (
	DefaultGameLabel       = "Le Mans Ultimate"
	DefaultConnectionLabel = "LMU Connected"
)

// Default region names, tried in order.
var (
	DefaultCombinedRegions = []string{"LMU_Data", "$LMU_Data$"}
	DefaultSplitRegions    = [numBlockKinds]string{
		BlockScoring:   "$rFactor2SMMP_Scoring$",
		BlockTelemetry: "$rFactor2SMMP_Telemetry$",
		BlockExtended:  "$rFactor2SMMP_Extended$",
	}
)

// Config describes one shared memory source.
type Config struct {
	Name            string
	GameLabel       string
	ConnectionLabel string

	// Layout selects split (one region per block) or probe (one combined
	// region) mode.
	Layout Layout
	// RegionNames are tried in order in probe mode.
	RegionNames []string
	// SplitRegions name the per-block regions in split mode.
	SplitRegions [numBlockKinds]string

	// BufferSize bounds the bytes copied from each region per read. It is
	// raised to the layout's span at MaxVehicles when smaller.
	BufferSize int

	Tracker connection.Config
}

// Source is a sources.Source over shared memory. It is driven by a single
// goroutine; Close may be called from another.
type Source struct {
	cfg    Config
	logger *zap.SugaredLogger
	open   OpenFunc

	parser  *Parser
	tracker *connection.Tracker

	mu       sync.Mutex
	combined Region
	split    [numBlockKinds]Region
	buf      []byte
	bufs     [numBlockKinds][]byte

	// Scoring and extended blocks update slower than the poll rate, so the
	// most recent accepted ones are kept between reads.
	scoring  *ScoringBlock
	extended *ExtendedBlock
}

// New creates a shared memory source. Nothing is opened until Open.
func New(cfg Config, logger *zap.SugaredLogger) *Source {
	if cfg.GameLabel == "" {
		cfg.GameLabel = DefaultGameLabel
	}
	if cfg.ConnectionLabel == "" {
		cfg.ConnectionLabel = DefaultConnectionLabel
	}
	if cfg.Layout.Name == "" {
		cfg.Layout = ProbeLayout
	}
	if len(cfg.RegionNames) == 0 {
		cfg.RegionNames = DefaultCombinedRegions
	}
	for k := BlockKind(0); k < numBlockKinds; k++ {
		if cfg.SplitRegions[k] == "" {
			cfg.SplitRegions[k] = DefaultSplitRegions[k]
		}
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	// Every candidate position must fit a full grid.
	if span := cfg.Layout.Span(MaxVehicles); cfg.BufferSize < span {
		cfg.BufferSize = span
	}

	return &Source{
		cfg:     cfg,
		logger:  logger,
		open:    OpenRegion,
		parser:  NewParser(cfg.Layout),
		tracker: connection.New(cfg.Tracker),
	}
}

// SetOpener replaces the region opener. Used by tests and replay tooling.
func (s *Source) SetOpener(fn OpenFunc) {
	s.open = fn
}

// Tracker exposes the connection tracker, mostly for status reporting.
func (s *Source) Tracker() *connection.Tracker {
	return s.tracker
}

func (s *Source) Name() string {
	return s.cfg.Name
}

func (s *Source) Kind() types.Source {
	return types.SourceSharedMemory
}

// ConnectionStatus reports the tracker status, e.g. "degraded(3)".
func (s *Source) ConnectionStatus() string {
	return s.tracker.Status().String()
}

// ParserStats returns the parser's counters.
func (s *Source) ParserStats() ParserStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.parser.Stats()
}

// Open maps the configured region(s).
func (s *Source) Open() error {
	if err := s.cfg.Layout.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()

	if s.cfg.Layout.Probing {
		r, err := OpenFirst(s.open, s.cfg.RegionNames, s.cfg.BufferSize)
		if err != nil {
			return fmt.Errorf("shared memory source [%s]: %w", s.cfg.Name, err)
		}
		s.combined = r
		s.buf = make([]byte, s.cfg.BufferSize)
		s.logger.Warnf("shared memory source [%s] using probing layout on region %s; offsets are best-effort", s.cfg.Name, r.Name())
	} else {
		for k := BlockKind(0); k < numBlockKinds; k++ {
			r, err := s.open(s.cfg.SplitRegions[k], s.cfg.BufferSize)
			if err != nil {
				s.closeLocked()
				return fmt.Errorf("shared memory source [%s] %s region: %w", s.cfg.Name, k, err)
			}
			s.split[k] = r
			s.bufs[k] = make([]byte, s.cfg.BufferSize)
		}
		s.logger.Infof("shared memory source [%s] mapped %d regions", s.cfg.Name, numBlockKinds)
	}

	s.parser.Reset()
	s.tracker.Reset()
	s.scoring, s.extended = nil, nil
	return nil
}

// TryRead parses the current region contents, resolves the player and feeds
// the connection tracker. While the tracker holds the connection up, the last
// good sample is returned even on cycles with no fresh data.
func (s *Source) TryRead(ctx context.Context) (types.Sample, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.combined == nil && s.split[BlockTelemetry] == nil {
		return types.Sample{}, false
	}

	frame := s.readFrameLocked()
	if frame.Scoring != nil {
		s.scoring = frame.Scoring
	}
	if frame.Extended != nil {
		s.extended = frame.Extended
	}

	if sample, ok := s.resolve(frame.Telemetry); ok {
		s.tracker.Success(sample)
	} else {
		s.tracker.Failure()
	}

	return s.tracker.Current()
}

func (s *Source) readFrameLocked() Frame {
	if s.combined != nil {
		n := s.combined.CopyTo(s.buf)
		return s.parser.Parse(s.buf[:n])
	}

	var views [numBlockKinds][]byte
	for k := BlockKind(0); k < numBlockKinds; k++ {
		if s.split[k] == nil {
			continue
		}
		n := s.split[k].CopyTo(s.bufs[k])
		views[k] = s.bufs[k][:n]
	}
	return s.parser.ParseBlocks(views[BlockScoring], views[BlockTelemetry], views[BlockExtended])
}

// resolve requires a fresh telemetry block and a live session.
func (s *Source) resolve(telemetry *TelemetryBlock) (types.Sample, bool) {
	if telemetry == nil || s.scoring == nil {
		return types.Sample{}, false
	}
	if !SessionActive(s.scoring, s.extended) {
		return types.Sample{}, false
	}
	_, ti := ResolvePlayer(s.scoring, telemetry)
	if ti < 0 {
		return types.Sample{}, false
	}

	sample := telemetry.Vehicles[ti].Sample()
	sample.Game = s.cfg.GameLabel
	sample.Connection = s.cfg.ConnectionLabel
	return sample, true
}

// Close unmaps every region. Safe to call more than once.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked()
}

func (s *Source) closeLocked() error {
	var firstErr error
	if s.combined != nil {
		firstErr = s.combined.Close()
		s.combined = nil
	}
	for k := range s.split {
		if s.split[k] != nil {
			if err := s.split[k].Close(); err != nil && firstErr == nil {
				firstErr = err
			}
			s.split[k] = nil
		}
	}
	return firstErr
}
