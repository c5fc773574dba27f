package sharedmemory

import (
	"fmt"
	"sort"
)

// BlockKind identifies one of the three blocks published by the game.
type BlockKind int

const (
	BlockScoring BlockKind = iota
	BlockTelemetry
	BlockExtended
	numBlockKinds
)

func (k BlockKind) String() string {
	switch k {
	case BlockScoring:
		return "scoring"
	case BlockTelemetry:
		return "telemetry"
	case BlockExtended:
		return "extended"
	default:
		return fmt.Sprintf("block(%d)", int(k))
	}
}

// Sizes of the fixed records. All integers are little-endian.
const (
	// Every block starts with:
	//   0 u32 version_begin | 4 u32 version_end | 8 i32 bytes_updated | 12 i32 num_vehicles
	BlockHeaderSize = 16

	// Telemetry record:
	//   0 i32 id | 4 i32 gear | 8 f64x3 local_vel | 32 f64x3 local_accel | 56 f64 rpm
	//   64 f64 throttle | 72 f64 brake | 80 f64 clutch | 88 f64 elapsed_time
	TelemetryRecordSize = 96

	// Scoring header extends the block header with:
	//   16 i32 session | 20 u8 game_phase | 21 u8 in_realtime
	ScoringHeaderSize = 32

	// Scoring record:
	//   0 i32 id | 4 u8 is_player | 5 u8 control | 6 i16 total_laps | 8 i8 sector
	//   9 u8 finish_status | 12 i32 place | 16 [32]byte driver | 48 [32]byte vehicle
	//   80 f64 lap_dist | 88 f64 last_lap_time
	ScoringRecordSize = 96

	// Extended block:
	//   16 u8 in_realtime_fc | 17 u8 session_started
	ExtendedBlockSize = 32

	// MaxVehicles bounds every vehicle array.
	MaxVehicles = 128

	// MinBufferSize is the smallest combined buffer worth probing.
	MinBufferSize = 1024

	// DefaultBufferSize bounds how much of a region is copied per cycle.
	DefaultBufferSize = 16 * 1024

	nameFieldSize = 32
)

// Field offsets inside the records above.
const (
	offVersionBegin = 0
	offVersionEnd   = 4
	offBytesUpdated = 8
	offNumVehicles  = 12

	offTelID       = 0
	offTelGear     = 4
	offTelVel      = 8
	offTelAccel    = 32
	offTelRPM      = 56
	offTelThrottle = 64
	offTelBrake    = 72
	offTelClutch   = 80
	offTelElapsed  = 88

	offScSession    = 16
	offScGamePhase  = 20
	offScInRealtime = 21

	offVehID           = 0
	offVehIsPlayer     = 4
	offVehControl      = 5
	offVehTotalLaps    = 6
	offVehSector       = 8
	offVehFinishStatus = 9
	offVehPlace        = 12
	offVehDriver       = 16
	offVehVehicle      = 48
	offVehLapDist      = 80
	offVehLastLap      = 88

	offExtInRealtimeFC   = 16
	offExtSessionStarted = 17
)

// Layout describes where each block kind may be found in a region. Candidate
// offsets are tried in order and the first valid one wins.
type Layout struct {
	Name string
	// Probing marks the layout as a best-effort guess rather than a
	// documented structure.
	Probing bool
	Offsets [numBlockKinds][]int
}

// SplitLayout is the authoritative layout used when each block kind is
// published in its own region at offset zero.
var SplitLayout = Layout{
	Name: "split",
	Offsets: [numBlockKinds][]int{
		BlockScoring:   {0},
		BlockTelemetry: {0},
		BlockExtended:  {0},
	},
}

// ProbeLayout searches a single combined region at a handful of plausible
// offsets. These offsets are heuristics, not a documented format.
var ProbeLayout = Layout{
	Name:    "probe",
	Probing: true,
	Offsets: [numBlockKinds][]int{
		BlockScoring:   {128, 256, 512},
		BlockTelemetry: {8192, 4096, 12288},
		BlockExtended:  {0, 64},
	},
}

// LayoutByName returns one of the built-in layouts.
func LayoutByName(name string) (Layout, error) {
	switch name {
	case "", "split":
		return SplitLayout, nil
	case "probe":
		return ProbeLayout, nil
	default:
		return Layout{}, fmt.Errorf("unknown shared memory layout %q", name)
	}
}

// WithOffsets returns a copy of l with the candidate offsets for kind replaced.
func (l Layout) WithOffsets(kind BlockKind, offsets []int) Layout {
	out := l
	out.Offsets[kind] = append([]int(nil), offsets...)
	return out
}

// Candidates returns the candidate offsets for kind, in probing order.
func (l Layout) Candidates(kind BlockKind) []int {
	if kind < 0 || kind >= numBlockKinds {
		return nil
	}
	return l.Offsets[kind]
}

// Validate checks that every block kind has at least one non-negative offset.
func (l Layout) Validate() error {
	for k := BlockKind(0); k < numBlockKinds; k++ {
		offs := l.Offsets[k]
		if len(offs) == 0 {
			return fmt.Errorf("layout %s: no candidate offsets for %s block", l.Name, k)
		}
		for _, o := range offs {
			if o < 0 {
				return fmt.Errorf("layout %s: negative offset %d for %s block", l.Name, o, k)
			}
		}
	}
	return nil
}

// Span returns the smallest buffer that can hold every candidate position of
// every block with the given number of vehicles.
func (l Layout) Span(vehicles int) int {
	sizes := [numBlockKinds]int{
		BlockScoring:   ScoringHeaderSize + vehicles*ScoringRecordSize,
		BlockTelemetry: BlockHeaderSize + vehicles*TelemetryRecordSize,
		BlockExtended:  ExtendedBlockSize,
	}
	span := 0
	for k := BlockKind(0); k < numBlockKinds; k++ {
		offs := append([]int(nil), l.Offsets[k]...)
		sort.Ints(offs)
		if len(offs) > 0 {
			if end := offs[len(offs)-1] + sizes[k]; end > span {
				span = end
			}
		}
	}
	return span
}
