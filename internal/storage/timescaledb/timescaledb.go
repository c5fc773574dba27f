// Package timescaledb stores telemetry samples in a TimescaleDB hypertable
// and completed sessions in a companion table.
package timescaledb

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chrissnell/simtelemetry/internal/database"
	"github.com/chrissnell/simtelemetry/internal/log"
	"github.com/chrissnell/simtelemetry/internal/storage"
	"github.com/chrissnell/simtelemetry/internal/types"
	"github.com/chrissnell/simtelemetry/pkg/config"
	"gorm.io/gorm"
)

const (
	defaultFlushInterval = time.Second
	healthInterval       = time.Minute
)

// Storage holds the configuration for a TimescaleDB storage backend
type Storage struct {
	TimescaleDBConn *gorm.DB

	connString    string
	tables        tables
	batchSize     int
	flushInterval time.Duration
	pending       []database.SampleRow
}

// New sets up a new TimescaleDB storage backend
func New(ctx context.Context, c *config.TimescaleDBData) (*Storage, error) {
	if c == nil || c.ConnectionString == "" {
		return nil, fmt.Errorf("TimescaleDB connection string is required")
	}

	flush, err := config.ParseDuration(c.FlushInterval, defaultFlushInterval)
	if err != nil {
		return nil, fmt.Errorf("invalid flush-interval: %w", err)
	}

	t := &Storage{
		connString:    c.ConnectionString,
		tables:        newTables(c.TablePrefix),
		batchSize:     c.BatchSize,
		flushInterval: flush,
	}
	if t.batchSize <= 0 {
		t.batchSize = config.DefaultTimescaleBatch
	}

	t.TimescaleDBConn, err = database.CreateConnection(c.ConnectionString)
	if err != nil {
		return nil, err
	}

	steps := []struct {
		desc     string
		sql      string
		optional bool
	}{
		{"creating TimescaleDB extension", createExtensionSQL, false},
		{"creating telemetry table", t.tables.createSamplesSQL(), false},
		{"creating sessions table", t.tables.createSessionsSQL(), false},
		{"creating hypertable", t.tables.createHypertableSQL(), false},
		{"creating session index", t.tables.createSessionIndexSQL(), false},
		{"creating 1s view", t.tables.create1sViewSQL(), true},
		{"adding 1s aggregation policy", t.tables.addAggregationPolicy1sSQL(), true},
	}
	for _, step := range steps {
		log.Infof("%s...", step.desc)
		if err := t.TimescaleDBConn.WithContext(ctx).Exec(step.sql).Error; err != nil {
			if step.optional {
				log.Warnf("%s failed, continuing without it: %v", step.desc, err)
				continue
			}
			return nil, fmt.Errorf("%s: %w", step.desc, err)
		}
	}

	return t, nil
}

// StartStorageEngine creates a goroutine loop to receive records and send
// them off to TimescaleDB
func (t *Storage) StartStorageEngine(ctx context.Context, wg *sync.WaitGroup) chan<- types.Record {
	log.Info("starting TimescaleDB storage engine...")
	recordChan := make(chan types.Record, 64)

	storage.StartHealthMonitor(ctx, storage.GlobalHealthManager, "timescaledb", t, healthInterval)

	wg.Add(1)
	go t.processRecords(ctx, wg, recordChan)
	return recordChan
}

func (t *Storage) processRecords(ctx context.Context, wg *sync.WaitGroup, rchan <-chan types.Record) {
	defer wg.Done()

	ticker := time.NewTicker(t.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case r := <-rchan:
			if err := t.StoreRecord(ctx, r); err != nil {
				log.Errorf("could not store record: %v", err)
			}
		case <-ticker.C:
			if err := t.Flush(ctx); err != nil {
				log.Errorf("could not flush samples: %v", err)
			}
		case <-ctx.Done():
			storage.DrainRecords(rchan, func(r types.Record) error {
				return t.StoreRecord(context.Background(), r)
			}, "TimescaleDB")
			if err := t.Flush(context.Background()); err != nil {
				log.Errorf("could not flush samples on shutdown: %v", err)
			}
			log.Info("cancellation request received. Cancelling TimescaleDB record processor.")
			return
		}
	}
}

// StoreRecord queues live samples and writes sessions as they close
func (t *Storage) StoreRecord(ctx context.Context, r types.Record) error {
	if r.SessionID != "" {
		t.pending = append(t.pending, database.NewSampleRow(r))
		if len(t.pending) >= t.batchSize {
			if err := t.Flush(ctx); err != nil {
				return err
			}
		}
	}
	if r.Ended != nil {
		if err := t.Flush(ctx); err != nil {
			return err
		}
		return t.StoreSession(ctx, *r.Ended)
	}
	return nil
}

// Flush writes queued samples in batches
func (t *Storage) Flush(ctx context.Context) error {
	if len(t.pending) == 0 {
		return nil
	}
	batch := t.pending
	t.pending = nil

	err := t.TimescaleDBConn.WithContext(ctx).Table(t.tables.rawSamples).CreateInBatches(batch, t.batchSize).Error
	if err != nil {
		return fmt.Errorf("could not store %d samples: %w", len(batch), err)
	}
	return nil
}

// StoreSession upserts a completed session
func (t *Storage) StoreSession(ctx context.Context, s types.Session) error {
	row, err := database.NewSessionRow(s)
	if err != nil {
		return fmt.Errorf("could not encode session peaks: %w", err)
	}
	err = t.TimescaleDBConn.WithContext(ctx).Exec(t.tables.upsertSessionSQL(),
		row.ID, row.Game, row.Source, row.StartedAt, row.EndedAt, row.Samples, row.Peaks,
	).Error
	if err != nil {
		return fmt.Errorf("could not store session %s: %w", s.ID, err)
	}
	return nil
}

// RecentSessions returns up to limit completed sessions, newest first
func (t *Storage) RecentSessions(ctx context.Context, limit int) ([]types.Session, error) {
	var rows []database.SessionRow
	err := t.TimescaleDBConn.WithContext(ctx).Table(t.tables.rawSessions).
		Order("started_at DESC").Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("error querying sessions: %w", err)
	}

	sessions := make([]types.Session, 0, len(rows))
	for _, row := range rows {
		s, err := database.SessionFromRow(row)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, nil
}
