package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

const sampleYAML = `
sources:
  - name: f1
    type: udp
    port: 20777
    poll-timeout: 10ms
  - name: lmu
    type: sharedmemory
    game: lmu
    layout: probe
    region-names: ["LMU_Data", "$LMU_Data$"]
    telemetry-offsets: [8192, 4096]
    reopen-interval: 5s
    hold-up: 3s
arbiter:
  poll-interval: 33ms
gforce:
  smoothing-factor: 0.3
storage:
  sqlite:
    path: /var/lib/simtelemetry/sessions.db
  mqtt:
    broker: tcp://localhost:1883
controllers:
  - type: api
    api:
      listen-addr: 127.0.0.1
      enable-reflection: true
metrics:
  otlp-endpoint: localhost:4318
`

func TestParseYAML(t *testing.T) {
	cfg, err := ParseYAML([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("ParseYAML: %v", err)
	}

	if len(cfg.Sources) != 2 {
		t.Fatalf("got %d sources, want 2", len(cfg.Sources))
	}
	lmu := cfg.Sources[1]
	if lmu.Type != SourceTypeSharedMemory || lmu.ReopenInterval != "5s" {
		t.Errorf("lmu source = %+v", lmu)
	}
	if diff := cmp.Diff([]int{8192, 4096}, lmu.TelemetryOffsets); diff != "" {
		t.Errorf("telemetry offsets (-want +got):\n%s", diff)
	}
	if cfg.Storage.SQLite == nil || cfg.Storage.SQLite.Path != "/var/lib/simtelemetry/sessions.db" {
		t.Errorf("sqlite storage = %+v", cfg.Storage.SQLite)
	}
	if len(cfg.Controllers) != 1 || cfg.Controllers[0].API == nil || !cfg.Controllers[0].API.EnableReflection {
		t.Errorf("controllers = %+v", cfg.Controllers)
	}
	if cfg.Metrics.OTLPEndpoint != "localhost:4318" {
		t.Errorf("metrics = %+v", cfg.Metrics)
	}
}

func TestParseYAMLRejectsUnknownKeys(t *testing.T) {
	_, err := ParseYAML([]byte("sources:\n  - name: f1\n    type: udp\n    prot: 20777\n"))
	if err == nil {
		t.Fatal("expected an error for a misspelled key")
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &ConfigData{
		Storage: StorageData{
			MQTT:   &MQTTData{Broker: "tcp://localhost:1883"},
			Serial: &SerialData{Device: "/dev/ttyUSB0"},
		},
		Controllers: []ControllerData{{Type: "api", API: &APIData{}}},
	}
	cfg.ApplyDefaults()

	if diff := cmp.Diff(DefaultSources(), cfg.Sources); diff != "" {
		t.Errorf("default sources (-want +got):\n%s", diff)
	}
	if cfg.Storage.MQTT.TopicPrefix != DefaultMQTTPrefix {
		t.Errorf("topic prefix = %q", cfg.Storage.MQTT.TopicPrefix)
	}
	if cfg.Storage.Serial.Baud != DefaultSerialBaud {
		t.Errorf("baud = %d", cfg.Storage.Serial.Baud)
	}
	if cfg.Controllers[0].API.Port != DefaultAPIPort {
		t.Errorf("api port = %d", cfg.Controllers[0].API.Port)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaulted config invalid: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ConfigData
		wantErr string
	}{
		{
			name:    "unknown type",
			cfg:     ConfigData{Sources: []SourceData{{Name: "x", Type: "carrier-pigeon"}}},
			wantErr: "unknown type",
		},
		{
			name:    "duplicate names",
			cfg:     ConfigData{Sources: []SourceData{{Name: "f1", Type: "udp"}, {Name: "f1", Type: "udp"}}},
			wantErr: "duplicate name",
		},
		{
			name:    "bad duration",
			cfg:     ConfigData{Sources: []SourceData{{Name: "f1", Type: "udp", PollTimeout: "soon"}}},
			wantErr: "poll-timeout",
		},
		{
			name:    "pcap without file",
			cfg:     ConfigData{Sources: []SourceData{{Name: "replay", Type: "pcap"}}},
			wantErr: "file is required",
		},
		{
			name:    "bad game",
			cfg:     ConfigData{Sources: []SourceData{{Name: "lmu", Type: "sharedmemory", Game: "iracing", Layout: "probe"}}},
			wantErr: "game must be",
		},
		{
			name:    "mqtt without broker",
			cfg:     ConfigData{Storage: StorageData{MQTT: &MQTTData{}}},
			wantErr: "broker is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestParseDuration(t *testing.T) {
	d, err := ParseDuration("", 3*time.Second)
	if err != nil || d != 3*time.Second {
		t.Errorf("empty = %v, %v", d, err)
	}
	d, err = ParseDuration("250ms", 0)
	if err != nil || d != 250*time.Millisecond {
		t.Errorf("250ms = %v, %v", d, err)
	}
	if _, err := ParseDuration("-1s", 0); err == nil {
		t.Error("negative duration accepted")
	}
}

func TestYAMLProviderLoadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o600); err != nil {
		t.Fatal(err)
	}

	p := NewYAMLProvider(path)
	sources, err := p.GetSources()
	if err != nil {
		t.Fatalf("GetSources: %v", err)
	}
	if len(sources) != 2 || sources[0].Name != "f1" {
		t.Errorf("sources = %+v", sources)
	}
	if !p.IsReadOnly() {
		t.Error("YAML provider should be read-only")
	}
}

func TestSQLiteProviderRoundTrip(t *testing.T) {
	want, err := ParseYAML([]byte(sampleYAML))
	if err != nil {
		t.Fatal(err)
	}

	p, err := NewSQLiteProvider(filepath.Join(t.TempDir(), "config.db"))
	if err != nil {
		t.Fatalf("NewSQLiteProvider: %v", err)
	}
	defer p.Close()

	if err := p.SaveConfig(want); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}
	got, err := p.LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestSQLiteProviderSourceCRUD(t *testing.T) {
	p, err := NewSQLiteProvider(filepath.Join(t.TempDir(), "config.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	for _, src := range []SourceData{
		{Name: "lmu", Type: SourceTypeSharedMemory, Game: "lmu", Layout: "split"},
		{Name: "f1", Type: SourceTypeUDP, Port: 20777},
	} {
		src := src
		if err := p.AddSource(&src); err != nil {
			t.Fatalf("AddSource(%s): %v", src.Name, err)
		}
	}

	sources, err := p.GetSources()
	if err != nil {
		t.Fatal(err)
	}
	if len(sources) != 2 || sources[0].Name != "lmu" || sources[1].Name != "f1" {
		t.Fatalf("sources not in insertion order: %+v", sources)
	}

	src, err := p.GetSource("lmu")
	if err != nil || src.Layout != "split" {
		t.Errorf("GetSource = %+v, %v", src, err)
	}

	if err := p.DeleteSource("f1"); err != nil {
		t.Fatalf("DeleteSource: %v", err)
	}
	if err := p.DeleteSource("f1"); !errors.Is(err, ErrSourceNotFound) {
		t.Errorf("second delete = %v, want ErrSourceNotFound", err)
	}
}
