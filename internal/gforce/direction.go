package gforce

// Axis selects how a G value is classified.
type Axis int

const (
	AxisLongitudinal Axis = iota
	AxisLateral
)

// Direction is the classified sense of a G value on one axis.
type Direction int

const (
	Neutral Direction = iota
	Accelerating
	Braking
	Left
	Right
)

func (d Direction) String() string {
	switch d {
	case Accelerating:
		return "accelerating"
	case Braking:
		return "braking"
	case Left:
		return "left"
	case Right:
		return "right"
	default:
		return "neutral"
	}
}

// Symbol is the glyph the overlay draws for the direction.
func (d Direction) Symbol() string {
	switch d {
	case Accelerating:
		return "▼"
	case Braking:
		return "▲"
	case Left:
		return "◀"
	case Right:
		return "▶"
	default:
		return "●"
	}
}

// MarshalText renders the direction by name.
func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Classify maps value to a direction on the given axis. Values within the
// deadband (inclusive) are Neutral. A non-positive deadband uses DefaultDeadband.
func Classify(value float64, axis Axis, deadband float64) Direction {
	if deadband <= 0 {
		deadband = DefaultDeadband
	}
	switch axis {
	case AxisLongitudinal:
		if value > deadband {
			return Accelerating
		}
		if value < -deadband {
			return Braking
		}
	case AxisLateral:
		if value > deadband {
			return Left
		}
		if value < -deadband {
			return Right
		}
	}
	return Neutral
}
