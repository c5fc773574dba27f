// Package sqlite records driving sessions and sampled telemetry in a local
// SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/chrissnell/simtelemetry/internal/log"
	"github.com/chrissnell/simtelemetry/internal/storage"
	"github.com/chrissnell/simtelemetry/internal/types"
	"github.com/chrissnell/simtelemetry/pkg/config"
	_ "modernc.org/sqlite"
)

const (
	defaultFlushInterval = time.Second
	healthInterval       = time.Minute
)

// Storage holds the SQLite session store
type Storage struct {
	db            *sql.DB
	batchSize     int
	flushInterval time.Duration
	sampleEvery   int

	mu          sync.Mutex
	pending     []types.Record
	seen        int64
	lastSession string
	known       map[string]bool
}

// New opens the database at cfg.Path and applies migrations
func New(ctx context.Context, cfg *config.SQLiteData) (*Storage, error) {
	if cfg == nil || cfg.Path == "" {
		return nil, fmt.Errorf("sqlite storage path is required")
	}

	flush, err := config.ParseDuration(cfg.FlushInterval, defaultFlushInterval)
	if err != nil {
		return nil, fmt.Errorf("invalid flush-interval: %w", err)
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	// A single connection serialises writers and keeps in-memory databases
	// visible to every query.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{`PRAGMA journal_mode=WAL`, `PRAGMA synchronous=NORMAL`} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set %q: %w", pragma, err)
		}
	}

	log.Info("applying session store migrations...")
	if err := MigrateUp(db); err != nil {
		db.Close()
		return nil, err
	}

	s := &Storage{
		db:            db,
		batchSize:     cfg.BatchSize,
		flushInterval: flush,
		sampleEvery:   cfg.SampleEvery,
		known:         make(map[string]bool),
	}
	if s.batchSize <= 0 {
		s.batchSize = config.DefaultSQLiteBatch
	}
	if s.sampleEvery <= 0 {
		s.sampleEvery = 1
	}
	return s, nil
}

// StartStorageEngine creates a goroutine loop to receive records and write
// them to SQLite
func (s *Storage) StartStorageEngine(ctx context.Context, wg *sync.WaitGroup) chan<- types.Record {
	log.Info("starting SQLite session storage engine...")
	recordChan := make(chan types.Record, 64)

	storage.StartHealthMonitor(ctx, storage.GlobalHealthManager, "sqlite", s, healthInterval)

	wg.Add(1)
	go s.processRecords(ctx, wg, recordChan)
	return recordChan
}

func (s *Storage) processRecords(ctx context.Context, wg *sync.WaitGroup, rchan <-chan types.Record) {
	defer wg.Done()
	defer s.db.Close()

	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case r := <-rchan:
			if err := s.StoreRecord(ctx, r); err != nil {
				log.Errorf("could not store record: %v", err)
			}
		case <-ticker.C:
			if err := s.Flush(ctx); err != nil {
				log.Errorf("could not flush samples: %v", err)
			}
		case <-ctx.Done():
			storage.DrainRecords(rchan, func(r types.Record) error {
				return s.StoreRecord(context.Background(), r)
			}, "SQLite")
			if err := s.Flush(context.Background()); err != nil {
				log.Errorf("could not flush samples on shutdown: %v", err)
			}
			log.Info("cancellation request received. Cancelling SQLite record processor.")
			return
		}
	}
}

// StoreRecord queues a sample and writes any session the record closed
func (s *Storage) StoreRecord(ctx context.Context, r types.Record) error {
	if r.SessionID != "" {
		s.mu.Lock()
		s.seen++
		keep := s.seen%int64(s.sampleEvery) == 0 || r.SessionID != s.lastSession
		s.lastSession = r.SessionID
		if keep {
			s.pending = append(s.pending, r)
		}
		full := len(s.pending) >= s.batchSize
		s.mu.Unlock()

		if full {
			if err := s.Flush(ctx); err != nil {
				return err
			}
		}
	}

	if r.Ended != nil {
		if err := s.Flush(ctx); err != nil {
			return err
		}
		return s.SaveSession(ctx, *r.Ended)
	}
	return nil
}

// Flush writes queued samples in one transaction
func (s *Storage) Flush(ctx context.Context) error {
	s.mu.Lock()
	batch := s.pending
	s.pending = nil
	s.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	sessionStmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO sessions (id, game, source, started_at) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer sessionStmt.Close()

	sampleStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO samples (session_id, ts, throttle, brake, speed_kph, gear, rpm,
		                     gforce_lateral, gforce_longitudinal, gforce_vertical, gforce_total)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer sampleStmt.Close()

	opened := make(map[string]bool)
	for _, r := range batch {
		snap := r.Snapshot
		if !s.isKnown(r.SessionID) && !opened[r.SessionID] {
			if _, err := sessionStmt.ExecContext(ctx, r.SessionID, snap.Game, snap.Source.String(), snap.Timestamp.UnixNano()); err != nil {
				return fmt.Errorf("failed to insert session %s: %w", r.SessionID, err)
			}
			opened[r.SessionID] = true
		}
		_, err := sampleStmt.ExecContext(ctx,
			r.SessionID, snap.Timestamp.UnixNano(),
			snap.Throttle, snap.Brake, snap.SpeedKPH, snap.Gear, snap.RPM,
			r.GForce.Lateral, r.GForce.Longitudinal, r.GForce.Vertical, r.GForce.Total,
		)
		if err != nil {
			return fmt.Errorf("failed to insert sample: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	s.mu.Lock()
	for id := range opened {
		s.known[id] = true
	}
	s.mu.Unlock()
	return nil
}

func (s *Storage) isKnown(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.known[id]
}

// SaveSession inserts or updates a session row with its final statistics
func (s *Storage) SaveSession(ctx context.Context, sess types.Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, game, source, started_at, ended_at, samples,
		                      max_speed_kph, max_lateral, max_longitudinal, max_total)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			ended_at = excluded.ended_at,
			samples = excluded.samples,
			max_speed_kph = excluded.max_speed_kph,
			max_lateral = excluded.max_lateral,
			max_longitudinal = excluded.max_longitudinal,
			max_total = excluded.max_total`,
		sess.ID, sess.Game, sess.Source.String(), sess.Start.UnixNano(), sess.End.UnixNano(), sess.Samples,
		finite(sess.MaxSpeedKPH), finite(sess.MaxLateral), finite(sess.MaxLongitudinal), finite(sess.MaxTotal),
	)
	if err != nil {
		return fmt.Errorf("failed to save session %s: %w", sess.ID, err)
	}

	s.mu.Lock()
	delete(s.known, sess.ID)
	s.mu.Unlock()
	return nil
}

// RecentSessions returns up to limit sessions, newest first
func (s *Storage) RecentSessions(ctx context.Context, limit int) ([]types.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, game, source, started_at, ended_at, samples,
		       max_speed_kph, max_lateral, max_longitudinal, max_total
		FROM sessions ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []types.Session
	for rows.Next() {
		var sess types.Session
		var source string
		var started int64
		var ended sql.NullInt64

		err := rows.Scan(&sess.ID, &sess.Game, &source, &started, &ended, &sess.Samples,
			&sess.MaxSpeedKPH, &sess.MaxLateral, &sess.MaxLongitudinal, &sess.MaxTotal)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		if err := sess.Source.UnmarshalText([]byte(source)); err != nil {
			return nil, err
		}
		sess.Start = time.Unix(0, started).UTC()
		if ended.Valid {
			sess.End = time.Unix(0, ended.Int64).UTC()
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// SampleCount returns the number of stored samples for a session
func (s *Storage) SampleCount(ctx context.Context, sessionID string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM samples WHERE session_id = ?`, sessionID).Scan(&n)
	return n, err
}

// CheckHealth pings the database
func (s *Storage) CheckHealth(ctx context.Context) *config.HealthData {
	if err := s.db.PingContext(ctx); err != nil {
		return storage.CreateHealthData(storage.StatusUnhealthy, "SQLite ping failed", err)
	}
	return storage.CreateHealthData(storage.StatusHealthy, "SQLite session store operational", nil)
}

// Close closes the database. Only needed when the engine was never started.
func (s *Storage) Close() error {
	return s.db.Close()
}

func finite(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}
