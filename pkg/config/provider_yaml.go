package config

import (
	"os"

	"gopkg.in/yaml.v2"
)

// YAMLProvider implements ConfigProvider for YAML configuration files
type YAMLProvider struct {
	filename string
	config   *ConfigData
}

// NewYAMLProvider creates a new YAML configuration provider
func NewYAMLProvider(filename string) *YAMLProvider {
	return &YAMLProvider{
		filename: filename,
	}
}

// LoadConfig loads the complete configuration from YAML file
func (y *YAMLProvider) LoadConfig() (*ConfigData, error) {
	cfgFile, err := os.ReadFile(y.filename)
	if err != nil {
		return nil, err
	}

	config, err := ParseYAML(cfgFile)
	if err != nil {
		return nil, err
	}

	y.config = config
	return config, nil
}

// ParseYAML converts a YAML document into ConfigData.
func ParseYAML(b []byte) (*ConfigData, error) {
	// Load into temporary struct with YAML tags
	var yamlConfig struct {
		Sources     []SourceYAML     `yaml:"sources"`
		Arbiter     ArbiterYAML      `yaml:"arbiter,omitempty"`
		GForce      GForceYAML       `yaml:"gforce,omitempty"`
		Storage     StorageYAML      `yaml:"storage,omitempty"`
		Controllers []ControllerYAML `yaml:"controllers,omitempty"`
		Metrics     MetricsYAML      `yaml:"metrics,omitempty"`
	}

	if err := yaml.UnmarshalStrict(b, &yamlConfig); err != nil {
		return nil, err
	}

	config := &ConfigData{
		Sources:     make([]SourceData, len(yamlConfig.Sources)),
		Controllers: make([]ControllerData, len(yamlConfig.Controllers)),
		Arbiter: ArbiterData{
			PollInterval:     yamlConfig.Arbiter.PollInterval,
			StopTimeout:      yamlConfig.Arbiter.StopTimeout,
			SubscriberBuffer: yamlConfig.Arbiter.SubscriberBuffer,
		},
		GForce: GForceData{
			Gravity:         yamlConfig.GForce.Gravity,
			HistorySize:     yamlConfig.GForce.HistorySize,
			SmoothingFactor: yamlConfig.GForce.SmoothingFactor,
			Deadband:        yamlConfig.GForce.Deadband,
		},
		Metrics: MetricsData{
			OTLPEndpoint:   yamlConfig.Metrics.OTLPEndpoint,
			Insecure:       yamlConfig.Metrics.Insecure,
			ExportInterval: yamlConfig.Metrics.ExportInterval,
			ServiceName:    yamlConfig.Metrics.ServiceName,
		},
	}

	// Convert sources
	for i, s := range yamlConfig.Sources {
		config.Sources[i] = SourceData{
			Name:             s.Name,
			Type:             s.Type,
			Priority:         s.Priority,
			Disabled:         s.Disabled,
			ReopenInterval:   s.ReopenInterval,
			ListenAddr:       s.ListenAddr,
			Port:             s.Port,
			PollTimeout:      s.PollTimeout,
			MinPacketSize:    s.MinPacketSize,
			Game:             s.Game,
			Layout:           s.Layout,
			RegionNames:      s.RegionNames,
			BufferSize:       s.BufferSize,
			ScoringOffsets:   s.ScoringOffsets,
			TelemetryOffsets: s.TelemetryOffsets,
			ExtendedOffsets:  s.ExtendedOffsets,
			MaxFailures:      s.MaxFailures,
			HoldUp:           s.HoldUp,
			StaleAfter:       s.StaleAfter,
			File:             s.File,
			Speed:            s.Speed,
			Loop:             s.Loop,
		}
	}

	// Convert storage
	if t := yamlConfig.Storage.TimescaleDB; t != nil {
		config.Storage.TimescaleDB = &TimescaleDBData{
			ConnectionString: t.ConnectionString,
			TablePrefix:      t.TablePrefix,
			BatchSize:        t.BatchSize,
			FlushInterval:    t.FlushInterval,
		}
	}
	if s := yamlConfig.Storage.SQLite; s != nil {
		config.Storage.SQLite = &SQLiteData{
			Path:          s.Path,
			BatchSize:     s.BatchSize,
			FlushInterval: s.FlushInterval,
			SampleEvery:   s.SampleEvery,
		}
	}
	if m := yamlConfig.Storage.MQTT; m != nil {
		config.Storage.MQTT = &MQTTData{
			Broker:          m.Broker,
			ClientID:        m.ClientID,
			Username:        m.Username,
			Password:        m.Password,
			TopicPrefix:     m.TopicPrefix,
			PublishInterval: m.PublishInterval,
			QoS:             m.QoS,
			Retain:          m.Retain,
		}
	}
	if s := yamlConfig.Storage.Serial; s != nil {
		config.Storage.Serial = &SerialData{
			Device:   s.Device,
			Baud:     s.Baud,
			Interval: s.Interval,
		}
	}

	// Convert controllers
	for i, controller := range yamlConfig.Controllers {
		config.Controllers[i] = ControllerData{
			Type: controller.Type,
		}

		if controller.API != nil {
			config.Controllers[i].API = &APIData{
				ListenAddr:       controller.API.ListenAddr,
				Port:             controller.API.Port,
				Cert:             controller.API.Cert,
				Key:              controller.API.Key,
				EnableReflection: controller.API.EnableReflection,
				StreamInterval:   controller.API.StreamInterval,
			}
		}
	}

	return config, nil
}

// GetSources returns source configurations
func (y *YAMLProvider) GetSources() ([]SourceData, error) {
	if y.config == nil {
		_, err := y.LoadConfig()
		if err != nil {
			return nil, err
		}
	}
	return y.config.Sources, nil
}

// GetStorageConfig returns storage configuration
func (y *YAMLProvider) GetStorageConfig() (*StorageData, error) {
	if y.config == nil {
		_, err := y.LoadConfig()
		if err != nil {
			return nil, err
		}
	}
	return &y.config.Storage, nil
}

// GetControllers returns controller configurations
func (y *YAMLProvider) GetControllers() ([]ControllerData, error) {
	if y.config == nil {
		_, err := y.LoadConfig()
		if err != nil {
			return nil, err
		}
	}
	return y.config.Controllers, nil
}

// IsReadOnly returns true since YAML files are read-only through this interface
func (y *YAMLProvider) IsReadOnly() bool {
	return true
}

// Close is a no-op for YAML provider
func (y *YAMLProvider) Close() error {
	return nil
}

// YAML-specific structs with kebab-case keys
type SourceYAML struct {
	Name           string `yaml:"name"`
	Type           string `yaml:"type"`
	Priority       int    `yaml:"priority,omitempty"`
	Disabled       bool   `yaml:"disabled,omitempty"`
	ReopenInterval string `yaml:"reopen-interval,omitempty"`

	ListenAddr    string `yaml:"listen-addr,omitempty"`
	Port          int    `yaml:"port,omitempty"`
	PollTimeout   string `yaml:"poll-timeout,omitempty"`
	MinPacketSize int    `yaml:"min-packet-size,omitempty"`

	Game             string   `yaml:"game,omitempty"`
	Layout           string   `yaml:"layout,omitempty"`
	RegionNames      []string `yaml:"region-names,omitempty"`
	BufferSize       int      `yaml:"buffer-size,omitempty"`
	ScoringOffsets   []int    `yaml:"scoring-offsets,omitempty"`
	TelemetryOffsets []int    `yaml:"telemetry-offsets,omitempty"`
	ExtendedOffsets  []int    `yaml:"extended-offsets,omitempty"`
	MaxFailures      int      `yaml:"max-failures,omitempty"`
	HoldUp           string   `yaml:"hold-up,omitempty"`
	StaleAfter       string   `yaml:"stale-after,omitempty"`

	File  string  `yaml:"file,omitempty"`
	Speed float64 `yaml:"speed,omitempty"`
	Loop  bool    `yaml:"loop,omitempty"`
}

type ArbiterYAML struct {
	PollInterval     string `yaml:"poll-interval,omitempty"`
	StopTimeout      string `yaml:"stop-timeout,omitempty"`
	SubscriberBuffer int    `yaml:"subscriber-buffer,omitempty"`
}

type GForceYAML struct {
	Gravity         float64 `yaml:"gravity,omitempty"`
	HistorySize     int     `yaml:"history-size,omitempty"`
	SmoothingFactor float64 `yaml:"smoothing-factor,omitempty"`
	Deadband        float64 `yaml:"deadband,omitempty"`
}

type StorageYAML struct {
	TimescaleDB *TimescaleDBYAML `yaml:"timescaledb,omitempty"`
	SQLite      *SQLiteYAML      `yaml:"sqlite,omitempty"`
	MQTT        *MQTTYAML        `yaml:"mqtt,omitempty"`
	Serial      *SerialYAML      `yaml:"serial,omitempty"`
}

type TimescaleDBYAML struct {
	ConnectionString string `yaml:"connection-string"`
	TablePrefix      string `yaml:"table-prefix,omitempty"`
	BatchSize        int    `yaml:"batch-size,omitempty"`
	FlushInterval    string `yaml:"flush-interval,omitempty"`
}

type SQLiteYAML struct {
	Path          string `yaml:"path"`
	BatchSize     int    `yaml:"batch-size,omitempty"`
	FlushInterval string `yaml:"flush-interval,omitempty"`
	SampleEvery   int    `yaml:"sample-every,omitempty"`
}

type MQTTYAML struct {
	Broker          string `yaml:"broker"`
	ClientID        string `yaml:"client-id,omitempty"`
	Username        string `yaml:"username,omitempty"`
	Password        string `yaml:"password,omitempty"`
	TopicPrefix     string `yaml:"topic-prefix,omitempty"`
	PublishInterval string `yaml:"publish-interval,omitempty"`
	QoS             int    `yaml:"qos,omitempty"`
	Retain          bool   `yaml:"retain,omitempty"`
}

type SerialYAML struct {
	Device   string `yaml:"device"`
	Baud     int    `yaml:"baud,omitempty"`
	Interval string `yaml:"interval,omitempty"`
}

type ControllerYAML struct {
	Type string   `yaml:"type,omitempty"`
	API  *APIYAML `yaml:"api,omitempty"`
}

type APIYAML struct {
	ListenAddr       string `yaml:"listen-addr,omitempty"`
	Port             int    `yaml:"port,omitempty"`
	Cert             string `yaml:"cert,omitempty"`
	Key              string `yaml:"key,omitempty"`
	EnableReflection bool   `yaml:"enable-reflection,omitempty"`
	StreamInterval   string `yaml:"stream-interval,omitempty"`
}

type MetricsYAML struct {
	OTLPEndpoint   string `yaml:"otlp-endpoint,omitempty"`
	Insecure       bool   `yaml:"insecure,omitempty"`
	ExportInterval string `yaml:"export-interval,omitempty"`
	ServiceName    string `yaml:"service-name,omitempty"`
}
