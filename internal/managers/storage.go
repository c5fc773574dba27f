package managers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chrissnell/simtelemetry/internal/log"
	"github.com/chrissnell/simtelemetry/internal/session"
	"github.com/chrissnell/simtelemetry/internal/storage"
	"github.com/chrissnell/simtelemetry/internal/storage/mqtt"
	"github.com/chrissnell/simtelemetry/internal/storage/serial"
	"github.com/chrissnell/simtelemetry/internal/storage/sqlite"
	"github.com/chrissnell/simtelemetry/internal/storage/timescaledb"
	"github.com/chrissnell/simtelemetry/internal/types"
	"github.com/chrissnell/simtelemetry/pkg/config"
)

// SessionStore is implemented by storage engines that can list completed
// sessions.
type SessionStore interface {
	RecentSessions(ctx context.Context, limit int) ([]types.Session, error)
}

// StorageManager holds our active storage backends
type StorageManager struct {
	Engines  []StorageEngine
	Sessions *session.Tracker

	drained chan struct{}
	now     func() time.Time
}

// StorageEngine holds a backend storage engine's interface as well as
// a channel for passing records to the engine
type StorageEngine struct {
	Name   string
	Engine storage.StorageEngineInterface
	C      chan<- types.Record
}

// NewStorageManager creates a StorageManager object, populated with all
// configured StorageEngines
func NewStorageManager(ctx context.Context, wg *sync.WaitGroup, c *config.StorageData) (*StorageManager, error) {
	s := &StorageManager{
		Sessions: session.NewTracker(),
		drained:  make(chan struct{}),
		now:      time.Now,
	}
	if c == nil {
		return s, nil
	}

	// Check the configuration for the supported storage backends and enable
	// them if found
	if c.TimescaleDB != nil && c.TimescaleDB.ConnectionString != "" {
		if err := s.AddEngine(ctx, wg, "timescaledb", c); err != nil {
			return s, fmt.Errorf("could not add TimescaleDB storage backend: %w", err)
		}
	}
	if c.SQLite != nil && c.SQLite.Path != "" {
		if err := s.AddEngine(ctx, wg, "sqlite", c); err != nil {
			return s, fmt.Errorf("could not add SQLite storage backend: %w", err)
		}
	}
	if c.MQTT != nil && c.MQTT.Broker != "" {
		if err := s.AddEngine(ctx, wg, "mqtt", c); err != nil {
			return s, fmt.Errorf("could not add MQTT storage backend: %w", err)
		}
	}
	if c.Serial != nil && c.Serial.Device != "" {
		if err := s.AddEngine(ctx, wg, "serial", c); err != nil {
			return s, fmt.Errorf("could not add serial display backend: %w", err)
		}
	}

	return s, nil
}

// AddEngine adds a new StorageEngine of name engineName to our Storage object
func (s *StorageManager) AddEngine(ctx context.Context, wg *sync.WaitGroup, engineName string, c *config.StorageData) error {
	var (
		engine storage.StorageEngineInterface
		err    error
	)

	switch engineName {
	case "timescaledb":
		engine, err = timescaledb.New(ctx, c.TimescaleDB)
	case "sqlite":
		engine, err = sqlite.New(ctx, c.SQLite)
	case "mqtt":
		engine, err = mqtt.New(c.MQTT)
	case "serial":
		engine, err = serial.New(c.Serial)
	default:
		return fmt.Errorf("unknown storage engine %q", engineName)
	}
	if err != nil {
		return err
	}

	s.attach(ctx, wg, engineName, engine)
	return nil
}

func (s *StorageManager) attach(ctx context.Context, wg *sync.WaitGroup, name string, engine storage.StorageEngineInterface) {
	s.Engines = append(s.Engines, StorageEngine{
		Name:   name,
		Engine: engine,
		C:      engine.StartStorageEngine(ctx, wg),
	})
}

// SessionStore returns the first engine that can list sessions, or nil.
func (s *StorageManager) SessionStore() SessionStore {
	for _, e := range s.Engines {
		if ss, ok := e.Engine.(SessionStore); ok {
			return ss
		}
	}
	return nil
}

// Consume stamps each record with its session and fans it out to the storage
// engines until records is closed or ctx is cancelled. When records closes,
// the open session is ended and delivered before Drained is signalled.
func (s *StorageManager) Consume(ctx context.Context, wg *sync.WaitGroup, records <-chan types.Record) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(s.drained)

		count := 0
		for {
			select {
			case r, ok := <-records:
				if !ok {
					if ended := s.Sessions.Close(s.now()); ended != nil {
						s.distribute(ctx, types.Record{Snapshot: types.NoData(s.now()), Ended: ended})
					}
					log.Infof("record distributor finished after %d records", count)
					return
				}
				count++
				s.distribute(ctx, s.Sessions.Observe(r))
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Drained is closed once Consume has delivered its last record.
func (s *StorageManager) Drained() <-chan struct{} {
	return s.drained
}

func (s *StorageManager) distribute(ctx context.Context, r types.Record) {
	for _, e := range s.Engines {
		select {
		case e.C <- r:
		case <-ctx.Done():
			return
		}
	}
}
