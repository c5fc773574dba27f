package gforce

import "testing"

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		value    float64
		axis     Axis
		expected Direction
	}{
		{"accelerating", 0.5, AxisLongitudinal, Accelerating},
		{"braking", -0.5, AxisLongitudinal, Braking},
		{"longitudinal inside deadband", 0.05, AxisLongitudinal, Neutral},
		{"longitudinal on deadband edge", 0.1, AxisLongitudinal, Neutral},
		{"longitudinal negative edge", -0.1, AxisLongitudinal, Neutral},
		{"left", 0.2, AxisLateral, Left},
		{"right", -0.2, AxisLateral, Right},
		{"lateral inside deadband", -0.09, AxisLateral, Neutral},
		{"zero", 0, AxisLateral, Neutral},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.value, tt.axis, DefaultDeadband); got != tt.expected {
				t.Errorf("Classify(%v) = %v, want %v", tt.value, got, tt.expected)
			}
		})
	}
}

func TestDirectionSymbols(t *testing.T) {
	symbols := map[Direction]string{
		Accelerating: "▼",
		Braking:      "▲",
		Left:         "◀",
		Right:        "▶",
		Neutral:      "●",
	}
	for d, want := range symbols {
		if got := d.Symbol(); got != want {
			t.Errorf("%v.Symbol() = %q, want %q", d, got, want)
		}
	}
}
