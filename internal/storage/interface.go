// Package storage defines the interface implemented by the engines that
// consume published telemetry records.
package storage

import (
	"context"
	"sync"

	"github.com/chrissnell/simtelemetry/internal/types"
)

// StorageEngineInterface is an interface that provides a few standardized
// methods for various storage backends
type StorageEngineInterface interface {
	StartStorageEngine(context.Context, *sync.WaitGroup) chan<- types.Record
}
