package config

import (
	"errors"
	"fmt"
	"time"
)

// ConfigProvider defines the interface for configuration data sources
type ConfigProvider interface {
	// Load complete configuration
	LoadConfig() (*ConfigData, error)

	// Get specific configuration sections
	GetSources() ([]SourceData, error)
	GetStorageConfig() (*StorageData, error)
	GetControllers() ([]ControllerData, error)

	IsReadOnly() bool
	Close() error
}

// Source types understood by the source manager.
const (
	SourceTypeUDP          = "udp"
	SourceTypeSharedMemory = "sharedmemory"
	SourceTypePcap         = "pcap"
)

// ConfigData represents the complete configuration structure
type ConfigData struct {
	Sources     []SourceData     `json:"sources"`
	Arbiter     ArbiterData      `json:"arbiter"`
	GForce      GForceData       `json:"gforce"`
	Storage     StorageData      `json:"storage,omitempty"`
	Controllers []ControllerData `json:"controllers,omitempty"`
	Metrics     MetricsData      `json:"metrics"`
}

// SourceData holds configuration for one telemetry source. Sources are
// polled in ascending Priority; ties keep configuration order.
type SourceData struct {
	Name           string `json:"name"`
	Type           string `json:"type"`
	Priority       int    `json:"priority,omitempty"`
	Disabled       bool   `json:"disabled,omitempty"`
	ReopenInterval string `json:"reopen_interval,omitempty"`

	// udp
	ListenAddr    string `json:"listen_addr,omitempty"`
	Port          int    `json:"port,omitempty"`
	PollTimeout   string `json:"poll_timeout,omitempty"`
	MinPacketSize int    `json:"min_packet_size,omitempty"`

	// sharedmemory
	Game             string   `json:"game,omitempty"`
	Layout           string   `json:"layout,omitempty"`
	RegionNames      []string `json:"region_names,omitempty"`
	BufferSize       int      `json:"buffer_size,omitempty"`
	ScoringOffsets   []int    `json:"scoring_offsets,omitempty"`
	TelemetryOffsets []int    `json:"telemetry_offsets,omitempty"`
	ExtendedOffsets  []int    `json:"extended_offsets,omitempty"`

	// connection hysteresis, any type
	MaxFailures int    `json:"max_failures,omitempty"`
	HoldUp      string `json:"hold_up,omitempty"`
	StaleAfter  string `json:"stale_after,omitempty"`

	// pcap
	File  string  `json:"file,omitempty"`
	Speed float64 `json:"speed,omitempty"`
	Loop  bool    `json:"loop,omitempty"`
}

// ArbiterData tunes the polling loop.
type ArbiterData struct {
	PollInterval     string `json:"poll_interval,omitempty"`
	StopTimeout      string `json:"stop_timeout,omitempty"`
	SubscriberBuffer int    `json:"subscriber_buffer,omitempty"`
}

// GForceData tunes the G-force engine.
type GForceData struct {
	Gravity         float64 `json:"gravity,omitempty"`
	HistorySize     int     `json:"history_size,omitempty"`
	SmoothingFactor float64 `json:"smoothing_factor,omitempty"`
	Deadband        float64 `json:"deadband,omitempty"`
}

// StorageData holds the configuration for the various storage backends
type StorageData struct {
	TimescaleDB *TimescaleDBData `json:"timescaledb,omitempty"`
	SQLite      *SQLiteData      `json:"sqlite,omitempty"`
	MQTT        *MQTTData        `json:"mqtt,omitempty"`
	Serial      *SerialData      `json:"serial,omitempty"`
}

type TimescaleDBData struct {
	ConnectionString string `json:"connection_string"`
	TablePrefix      string `json:"table_prefix,omitempty"`
	BatchSize        int    `json:"batch_size,omitempty"`
	FlushInterval    string `json:"flush_interval,omitempty"`
}

type SQLiteData struct {
	Path          string `json:"path"`
	BatchSize     int    `json:"batch_size,omitempty"`
	FlushInterval string `json:"flush_interval,omitempty"`
	// SampleEvery stores one of every N records.
	SampleEvery int `json:"sample_every,omitempty"`
}

type MQTTData struct {
	Broker          string `json:"broker"`
	ClientID        string `json:"client_id,omitempty"`
	Username        string `json:"username,omitempty"`
	Password        string `json:"password,omitempty"`
	TopicPrefix     string `json:"topic_prefix,omitempty"`
	PublishInterval string `json:"publish_interval,omitempty"`
	QoS             int    `json:"qos,omitempty"`
	Retain          bool   `json:"retain,omitempty"`
}

type SerialData struct {
	Device   string `json:"device"`
	Baud     int    `json:"baud,omitempty"`
	Interval string `json:"interval,omitempty"`
}

// ControllerData holds the configuration for the various controllers
type ControllerData struct {
	Type string   `json:"type,omitempty"`
	API  *APIData `json:"api,omitempty"`
}

type APIData struct {
	ListenAddr       string `json:"listen_addr,omitempty"`
	Port             int    `json:"port,omitempty"`
	Cert             string `json:"cert,omitempty"`
	Key              string `json:"key,omitempty"`
	EnableReflection bool   `json:"enable_reflection,omitempty"`
	StreamInterval   string `json:"stream_interval,omitempty"`
}

// MetricsData configures OpenTelemetry metrics export.
type MetricsData struct {
	OTLPEndpoint   string `json:"otlp_endpoint,omitempty"`
	Insecure       bool   `json:"insecure,omitempty"`
	ExportInterval string `json:"export_interval,omitempty"`
	ServiceName    string `json:"service_name,omitempty"`
}

// HealthData is the last known health of a source or storage backend.
type HealthData struct {
	LastCheck time.Time `json:"last_check"`
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Default values applied by ApplyDefaults.
const (
	DefaultUDPPort        = 20777
	DefaultAPIPort        = 8085
	DefaultMQTTPrefix     = "simtelemetry"
	DefaultSerialBaud     = 115200
	DefaultServiceName    = "simtelemetry"
	DefaultSQLiteBatch    = 100
	DefaultTimescaleBatch = 100
)

// DefaultSources is used when the configuration lists no sources: the F1 UDP
// broadcast first, then Le Mans Ultimate shared memory.
func DefaultSources() []SourceData {
	return []SourceData{
		{Name: "f1", Type: SourceTypeUDP, Port: DefaultUDPPort},
		{Name: "lmu", Type: SourceTypeSharedMemory, Game: "lmu", Layout: "probe"},
	}
}

// ApplyDefaults fills in unset values.
func (c *ConfigData) ApplyDefaults() {
	if len(c.Sources) == 0 {
		c.Sources = DefaultSources()
	}
	for i := range c.Sources {
		s := &c.Sources[i]
		switch s.Type {
		case SourceTypeUDP, SourceTypePcap:
			if s.Port == 0 {
				s.Port = DefaultUDPPort
			}
		case SourceTypeSharedMemory:
			if s.Game == "" {
				s.Game = "lmu"
			}
			if s.Layout == "" {
				s.Layout = "probe"
			}
		}
	}

	for i := range c.Controllers {
		if api := c.Controllers[i].API; api != nil && api.Port == 0 {
			api.Port = DefaultAPIPort
		}
	}

	if m := c.Storage.MQTT; m != nil && m.TopicPrefix == "" {
		m.TopicPrefix = DefaultMQTTPrefix
	}
	if s := c.Storage.Serial; s != nil && s.Baud == 0 {
		s.Baud = DefaultSerialBaud
	}
	if s := c.Storage.SQLite; s != nil && s.BatchSize == 0 {
		s.BatchSize = DefaultSQLiteBatch
	}
	if t := c.Storage.TimescaleDB; t != nil && t.BatchSize == 0 {
		t.BatchSize = DefaultTimescaleBatch
	}
	if c.Metrics.ServiceName == "" {
		c.Metrics.ServiceName = DefaultServiceName
	}
}

// Validate reports every configuration error found.
func (c *ConfigData) Validate() error {
	var errs []error

	names := make(map[string]bool)
	for i, s := range c.Sources {
		if s.Name == "" {
			errs = append(errs, fmt.Errorf("source %d: name is required", i))
		} else if names[s.Name] {
			errs = append(errs, fmt.Errorf("source %q: duplicate name", s.Name))
		}
		names[s.Name] = true

		switch s.Type {
		case SourceTypeUDP:
		case SourceTypeSharedMemory:
			if s.Game != "lmu" && s.Game != "rf2" {
				errs = append(errs, fmt.Errorf("source %q: game must be lmu or rf2, got %q", s.Name, s.Game))
			}
			if s.Layout != "probe" && s.Layout != "split" {
				errs = append(errs, fmt.Errorf("source %q: layout must be probe or split, got %q", s.Name, s.Layout))
			}
		case SourceTypePcap:
			if s.File == "" {
				errs = append(errs, fmt.Errorf("source %q: file is required for pcap sources", s.Name))
			}
		default:
			errs = append(errs, fmt.Errorf("source %q: unknown type %q", s.Name, s.Type))
		}

		if s.Port < 0 || s.Port > 65535 {
			errs = append(errs, fmt.Errorf("source %q: invalid port %d", s.Name, s.Port))
		}
		for field, v := range map[string]string{
			"reopen-interval": s.ReopenInterval,
			"poll-timeout":    s.PollTimeout,
			"hold-up":         s.HoldUp,
			"stale-after":     s.StaleAfter,
		} {
			if _, err := ParseDuration(v, 0); err != nil {
				errs = append(errs, fmt.Errorf("source %q: %s: %w", s.Name, field, err))
			}
		}
	}

	for field, v := range map[string]string{
		"arbiter.poll-interval":   c.Arbiter.PollInterval,
		"arbiter.stop-timeout":    c.Arbiter.StopTimeout,
		"metrics.export-interval": c.Metrics.ExportInterval,
	} {
		if _, err := ParseDuration(v, 0); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field, err))
		}
	}

	if g := c.GForce.SmoothingFactor; g < 0 || g > 1 {
		errs = append(errs, fmt.Errorf("gforce.smoothing-factor must be within [0,1], got %v", g))
	}

	if m := c.Storage.MQTT; m != nil {
		if m.Broker == "" {
			errs = append(errs, errors.New("storage.mqtt: broker is required"))
		}
		if m.QoS < 0 || m.QoS > 2 {
			errs = append(errs, fmt.Errorf("storage.mqtt: qos must be 0, 1 or 2, got %d", m.QoS))
		}
	}
	if s := c.Storage.Serial; s != nil && s.Device == "" {
		errs = append(errs, errors.New("storage.serial: device is required"))
	}
	if s := c.Storage.SQLite; s != nil && s.Path == "" {
		errs = append(errs, errors.New("storage.sqlite: path is required"))
	}

	return errors.Join(errs...)
}

// ParseDuration parses a duration string, returning def for an empty string.
func ParseDuration(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", s)
	}
	return d, nil
}
