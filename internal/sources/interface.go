// Package sources defines the capability every telemetry source implements.
// Concrete sources live in subpackages.
package sources

import (
	"context"
	"errors"

	"github.com/chrissnell/simtelemetry/internal/types"
)

// ErrSourceDisabled is returned by Open when a source has been turned off by
// configuration or a permanent resource failure.
var ErrSourceDisabled = errors.New("telemetry source disabled")

// Source is polled by the arbiter once per tick.
type Source interface {
	// Name is the configured instance name.
	Name() string
	// Kind is the value stamped into snapshots produced from this source.
	Kind() types.Source
	// Open acquires the source's OS resources. A failed Open disables the
	// source until it is re-opened.
	Open() error
	// TryRead returns a sample when the source has usable data this tick. It
	// must return within the source's own bounded timeout.
	TryRead(ctx context.Context) (types.Sample, bool)
	// Close releases resources. It must be safe to call more than once.
	Close() error
}

// Statuser is implemented by sources that expose a richer connection status
// than "data this tick or not". The arbiter publishes it as Status.Link.
type Statuser interface {
	ConnectionStatus() string
}
