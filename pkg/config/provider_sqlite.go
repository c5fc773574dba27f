package config

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sources (
    name     TEXT PRIMARY KEY,
    type     TEXT NOT NULL,
    priority INTEGER NOT NULL DEFAULT 0,
    position INTEGER NOT NULL DEFAULT 0,
    disabled INTEGER NOT NULL DEFAULT 0,
    settings TEXT NOT NULL DEFAULT '{}'
);
CREATE TABLE IF NOT EXISTS settings (
    section TEXT PRIMARY KEY,
    value   TEXT NOT NULL
);
`

// Sections of the settings table. Each row holds one JSON document.
const (
	sectionArbiter     = "arbiter"
	sectionGForce      = "gforce"
	sectionStorage     = "storage"
	sectionControllers = "controllers"
	sectionMetrics     = "metrics"
)

// ErrSourceNotFound is returned when a named source does not exist.
var ErrSourceNotFound = errors.New("source not found")

// SQLiteProvider implements ConfigProvider for SQLite database configuration
type SQLiteProvider struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteProvider opens (creating if needed) a SQLite configuration database
func NewSQLiteProvider(dbPath string) (*SQLiteProvider, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping SQLite database: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create configuration schema: %w", err)
	}

	return &SQLiteProvider{
		db:     db,
		dbPath: dbPath,
	}, nil
}

// LoadConfig loads the complete configuration from SQLite database
func (s *SQLiteProvider) LoadConfig() (*ConfigData, error) {
	config := &ConfigData{}

	sources, err := s.GetSources()
	if err != nil {
		return nil, fmt.Errorf("failed to load sources: %w", err)
	}
	config.Sources = sources

	storage, err := s.GetStorageConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load storage config: %w", err)
	}
	config.Storage = *storage

	controllers, err := s.GetControllers()
	if err != nil {
		return nil, fmt.Errorf("failed to load controllers: %w", err)
	}
	config.Controllers = controllers

	if err := s.getSection(sectionArbiter, &config.Arbiter); err != nil {
		return nil, err
	}
	if err := s.getSection(sectionGForce, &config.GForce); err != nil {
		return nil, err
	}
	if err := s.getSection(sectionMetrics, &config.Metrics); err != nil {
		return nil, err
	}

	return config, nil
}

// GetSources returns source configurations in configuration order
func (s *SQLiteProvider) GetSources() ([]SourceData, error) {
	rows, err := s.db.Query(`SELECT name, type, priority, disabled, settings FROM sources ORDER BY position, name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sources: %w", err)
	}
	defer rows.Close()

	var sources []SourceData
	for rows.Next() {
		var src SourceData
		var name, sourceType, settings string
		var priority int
		var disabled bool

		if err := rows.Scan(&name, &sourceType, &priority, &disabled, &settings); err != nil {
			return nil, fmt.Errorf("failed to scan source row: %w", err)
		}
		if err := json.Unmarshal([]byte(settings), &src); err != nil {
			return nil, fmt.Errorf("source %q: invalid settings: %w", name, err)
		}
		src.Name = name
		src.Type = sourceType
		src.Priority = priority
		src.Disabled = disabled

		sources = append(sources, src)
	}

	return sources, rows.Err()
}

// GetSource returns one source by name
func (s *SQLiteProvider) GetSource(name string) (*SourceData, error) {
	sources, err := s.GetSources()
	if err != nil {
		return nil, err
	}
	for _, src := range sources {
		if src.Name == name {
			return &src, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, name)
}

// GetStorageConfig returns storage configuration from the database
func (s *SQLiteProvider) GetStorageConfig() (*StorageData, error) {
	storage := &StorageData{}
	if err := s.getSection(sectionStorage, storage); err != nil {
		return nil, err
	}
	return storage, nil
}

// GetControllers returns controller configurations from the database
func (s *SQLiteProvider) GetControllers() ([]ControllerData, error) {
	var controllers []ControllerData
	if err := s.getSection(sectionControllers, &controllers); err != nil {
		return nil, err
	}
	return controllers, nil
}

// IsReadOnly returns false since SQLite supports writes
func (s *SQLiteProvider) IsReadOnly() bool {
	return false
}

// Close closes the database connection
func (s *SQLiteProvider) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// SaveConfig replaces the stored configuration with configData
func (s *SQLiteProvider) SaveConfig(configData *ConfigData) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM sources`); err != nil {
		return fmt.Errorf("failed to clear sources: %w", err)
	}
	for i := range configData.Sources {
		if err := insertSource(tx, i, &configData.Sources[i]); err != nil {
			return err
		}
	}

	sections := map[string]interface{}{
		sectionArbiter:     configData.Arbiter,
		sectionGForce:      configData.GForce,
		sectionStorage:     configData.Storage,
		sectionControllers: configData.Controllers,
		sectionMetrics:     configData.Metrics,
	}
	for section, v := range sections {
		if err := putSection(tx, section, v); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// AddSource appends a source after the existing ones
func (s *SQLiteProvider) AddSource(src *SourceData) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var position int
	if err := tx.QueryRow(`SELECT COALESCE(MAX(position), -1) + 1 FROM sources`).Scan(&position); err != nil {
		return fmt.Errorf("failed to find source position: %w", err)
	}
	if err := insertSource(tx, position, src); err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteSource removes a source by name
func (s *SQLiteProvider) DeleteSource(name string) error {
	res, err := s.db.Exec(`DELETE FROM sources WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("failed to delete source: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrSourceNotFound, name)
	}
	return nil
}

func insertSource(tx *sql.Tx, position int, src *SourceData) error {
	settings, err := json.Marshal(src)
	if err != nil {
		return fmt.Errorf("source %q: failed to encode settings: %w", src.Name, err)
	}
	_, err = tx.Exec(
		`INSERT INTO sources (name, type, priority, position, disabled, settings) VALUES (?, ?, ?, ?, ?, ?)`,
		src.Name, src.Type, src.Priority, position, src.Disabled, string(settings),
	)
	if err != nil {
		return fmt.Errorf("failed to insert source %q: %w", src.Name, err)
	}
	return nil
}

func (s *SQLiteProvider) getSection(section string, dst interface{}) error {
	var value string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE section = ?`, section).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to query %s settings: %w", section, err)
	}
	if err := json.Unmarshal([]byte(value), dst); err != nil {
		return fmt.Errorf("invalid %s settings: %w", section, err)
	}
	return nil
}

func putSection(tx *sql.Tx, section string, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s settings: %w", section, err)
	}
	_, err = tx.Exec(
		`INSERT INTO settings (section, value) VALUES (?, ?) ON CONFLICT(section) DO UPDATE SET value = excluded.value`,
		section, string(b),
	)
	if err != nil {
		return fmt.Errorf("failed to store %s settings: %w", section, err)
	}
	return nil
}
