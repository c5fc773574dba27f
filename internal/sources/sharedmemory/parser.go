package sharedmemory

import (
	"fmt"
)

// RejectReason classifies why a candidate block was not accepted.
type RejectReason int

const (
	RejectShort RejectReason = iota
	RejectBounds
	RejectTorn
	RejectUnwritten
	RejectStale
	RejectMalformed
	numRejectReasons
)

func (r RejectReason) String() string {
	switch r {
	case RejectShort:
		return "short"
	case RejectBounds:
		return "bounds"
	case RejectTorn:
		return "torn"
	case RejectUnwritten:
		return "unwritten"
	case RejectStale:
		return "stale"
	case RejectMalformed:
		return "malformed"
	default:
		return fmt.Sprintf("reason(%d)", int(r))
	}
}

// ParserStats counts accepted blocks and rejected candidates.
type ParserStats struct {
	Accepted [numBlockKinds]uint64
	Rejected [numRejectReasons]uint64
}

// RejectedBy returns the number of candidates rejected for reason.
func (s ParserStats) RejectedBy(reason RejectReason) uint64 {
	if reason < 0 || reason >= numRejectReasons {
		return 0
	}
	return s.Rejected[reason]
}

// Parser extracts validated blocks from untrusted region bytes. A block is
// accepted only when it fits in the buffer, its version counters agree and are
// non-zero, and the version differs from the last one accepted for that kind.
// The last-accepted versions are the parser's only state.
//
// A Parser is not safe for concurrent use.
type Parser struct {
	layout Layout
	last   [numBlockKinds]uint32
	seen   [numBlockKinds]bool
	stats  ParserStats
}

// NewParser returns a parser for layout.
func NewParser(layout Layout) *Parser {
	return &Parser{layout: layout}
}

// Layout returns the layout the parser probes.
func (p *Parser) Layout() Layout {
	return p.layout
}

// Stats returns a copy of the accumulated counters.
func (p *Parser) Stats() ParserStats {
	return p.stats
}

// Reset forgets the last accepted versions.
func (p *Parser) Reset() {
	p.last = [numBlockKinds]uint32{}
	p.seen = [numBlockKinds]bool{}
}

// Parse probes a single combined buffer for all block kinds.
func (p *Parser) Parse(buf []byte) Frame {
	if len(buf) < MinBufferSize {
		p.stats.Rejected[RejectShort]++
		return Frame{}
	}

	var f Frame
	if v, ok := p.probe(BlockScoring, buf); ok {
		f.Scoring = v.(*ScoringBlock)
	}
	if v, ok := p.probe(BlockTelemetry, buf); ok {
		f.Telemetry = v.(*TelemetryBlock)
	}
	if v, ok := p.probe(BlockExtended, buf); ok {
		f.Extended = v.(*ExtendedBlock)
	}
	return f
}

// ParseBlocks parses blocks published in separate regions. A nil buffer
// leaves that block absent.
func (p *Parser) ParseBlocks(scoring, telemetry, extended []byte) Frame {
	var f Frame
	if scoring != nil {
		if v, ok := p.probe(BlockScoring, scoring); ok {
			f.Scoring = v.(*ScoringBlock)
		}
	}
	if telemetry != nil {
		if v, ok := p.probe(BlockTelemetry, telemetry); ok {
			f.Telemetry = v.(*TelemetryBlock)
		}
	}
	if extended != nil {
		if v, ok := p.probe(BlockExtended, extended); ok {
			f.Extended = v.(*ExtendedBlock)
		}
	}
	return f
}

func (p *Parser) probe(kind BlockKind, buf []byte) (any, bool) {
	for _, off := range p.layout.Candidates(kind) {
		v, version, reason := p.tryBlock(kind, buf, off)
		if v == nil {
			p.stats.Rejected[reason]++
			continue
		}
		p.last[kind] = version
		p.seen[kind] = true
		p.stats.Accepted[kind]++
		return v, true
	}
	return nil, false
}

// tryBlock validates and decodes one candidate. Any out-of-range access that
// slips past the explicit checks is recovered and the candidate is rejected.
func (p *Parser) tryBlock(kind BlockKind, buf []byte, off int) (v any, version uint32, reason RejectReason) {
	defer func() {
		if r := recover(); r != nil {
			v, version, reason = nil, 0, RejectMalformed
		}
	}()

	if off < 0 || off > len(buf) || len(buf)-off < BlockHeaderSize {
		return nil, 0, RejectBounds
	}
	b := buf[off:]
	hdr := readHeader(b)

	if hdr.VersionBegin != hdr.VersionEnd {
		return nil, 0, RejectTorn
	}
	if hdr.VersionBegin == 0 {
		return nil, 0, RejectUnwritten
	}
	if p.seen[kind] && hdr.VersionBegin == p.last[kind] {
		return nil, 0, RejectStale
	}

	switch kind {
	case BlockTelemetry:
		n, ok := vehicleCount(hdr)
		if !ok {
			return nil, 0, RejectMalformed
		}
		if len(b) < BlockHeaderSize+n*TelemetryRecordSize {
			return nil, 0, RejectBounds
		}
		blk := &TelemetryBlock{Header: hdr, Offset: off, Vehicles: make([]VehicleTelemetry, n)}
		for i := 0; i < n; i++ {
			start := BlockHeaderSize + i*TelemetryRecordSize
			blk.Vehicles[i] = decodeTelemetryRecord(b[start : start+TelemetryRecordSize])
		}
		return blk, hdr.VersionBegin, 0

	case BlockScoring:
		n, ok := vehicleCount(hdr)
		if !ok {
			return nil, 0, RejectMalformed
		}
		if len(b) < ScoringHeaderSize+n*ScoringRecordSize {
			return nil, 0, RejectBounds
		}
		blk := &ScoringBlock{
			Header:     hdr,
			Offset:     off,
			Session:    i32(b, offScSession),
			GamePhase:  b[offScGamePhase],
			InRealtime: realtimeFlag(b[offScInRealtime]),
			Vehicles:   make([]VehicleScoring, n),
		}
		for i := 0; i < n; i++ {
			start := ScoringHeaderSize + i*ScoringRecordSize
			blk.Vehicles[i] = decodeScoringRecord(b[start : start+ScoringRecordSize])
		}
		return blk, hdr.VersionBegin, 0

	case BlockExtended:
		if len(b) < ExtendedBlockSize {
			return nil, 0, RejectBounds
		}
		return &ExtendedBlock{
			Header:         hdr,
			Offset:         off,
			InRealtimeFC:   b[offExtInRealtimeFC] != 0,
			SessionStarted: b[offExtSessionStarted] != 0,
		}, hdr.VersionBegin, 0
	}

	return nil, 0, RejectMalformed
}

func vehicleCount(hdr BlockHeader) (int, bool) {
	n := int(hdr.NumVehicles)
	if n < 0 || n > MaxVehicles {
		return 0, false
	}
	return n, true
}
