// Package constants defines application-wide constants and version information.
package constants

import "runtime"

// Version holds the application version information
const Version = "1.0-" + runtime.GOOS + "/" + runtime.GOARCH

// StandardGravity is the conversion factor between m/s² and G used everywhere.
const StandardGravity = 9.80665

// DefaultF1Port is the port the F1 games broadcast their UDP telemetry to.
const DefaultF1Port = 20777
