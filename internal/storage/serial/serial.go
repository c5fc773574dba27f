// Package serial drives an external dash display or shift light over a serial
// port with one text line per update.
package serial

import (
	"context"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/chrissnell/simtelemetry/internal/log"
	"github.com/chrissnell/simtelemetry/internal/storage"
	"github.com/chrissnell/simtelemetry/internal/types"
	"github.com/chrissnell/simtelemetry/pkg/config"
	goserial "github.com/tarm/goserial"
)

const (
	defaultInterval = 50 * time.Millisecond
	healthInterval  = 30 * time.Second
)

type openFunc func() (io.WriteCloser, error)

// Storage writes the latest snapshot to a serial device
type Storage struct {
	device   string
	interval time.Duration
	open     openFunc

	mu      sync.Mutex
	port    io.WriteCloser
	lastErr error

	latest    types.TelemetrySnapshot
	hasLatest bool
}

// New returns a serial engine for c. The port is opened lazily and reopened
// after write failures.
func New(c *config.SerialData) (*Storage, error) {
	if c == nil || c.Device == "" {
		return nil, fmt.Errorf("serial device is required")
	}
	interval, err := config.ParseDuration(c.Interval, defaultInterval)
	if err != nil {
		return nil, fmt.Errorf("invalid serial interval: %w", err)
	}
	baud := c.Baud
	if baud == 0 {
		baud = config.DefaultSerialBaud
	}

	sc := &goserial.Config{Name: c.Device, Baud: baud}
	return &Storage{
		device:   c.Device,
		interval: interval,
		open: func() (io.WriteCloser, error) {
			return goserial.OpenPort(sc)
		},
	}, nil
}

// FormatLine renders a snapshot as a display line. Reverse is "R", neutral
// "N". Without live data the line is "G- R0 T0 B0 S0".
func FormatLine(s types.TelemetrySnapshot) string {
	if !s.Live() {
		return "G- R0 T0 B0 S0\n"
	}
	gear := "N"
	switch {
	case s.Gear < 0:
		gear = "R"
	case s.Gear > 0:
		gear = fmt.Sprint(s.Gear)
	}
	return fmt.Sprintf("G%s R%d T%d B%d S%d\n",
		gear,
		int(math.Round(s.RPM)),
		int(math.Round(s.Throttle)),
		int(math.Round(s.Brake)),
		int(math.Round(s.SpeedKPH)))
}

// StartStorageEngine creates a goroutine loop that keeps the display current
func (s *Storage) StartStorageEngine(ctx context.Context, wg *sync.WaitGroup) chan<- types.Record {
	log.Infof("starting serial display engine on %s...", s.device)
	recordChan := make(chan types.Record, 16)

	storage.StartHealthMonitor(ctx, storage.GlobalHealthManager, "serial", s, healthInterval)

	wg.Add(1)
	go s.processRecords(ctx, wg, recordChan)
	return recordChan
}

func (s *Storage) processRecords(ctx context.Context, wg *sync.WaitGroup, rchan <-chan types.Record) {
	defer wg.Done()
	defer s.Close()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case r := <-rchan:
			s.latest = r.Snapshot
			s.hasLatest = true
		case <-ticker.C:
			if !s.hasLatest {
				continue
			}
			if err := s.Write(s.latest); err != nil {
				log.Debugf("serial write to %s failed: %v", s.device, err)
			}
		case <-ctx.Done():
			log.Info("cancellation request received. Cancelling serial display engine.")
			return
		}
	}
}

// Write sends one line for snap, opening the port if necessary. A failed
// write closes the port so the next call reopens it.
func (s *Storage) Write(snap types.TelemetrySnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port == nil {
		port, err := s.open()
		if err != nil {
			s.lastErr = err
			return err
		}
		s.port = port
		log.Infof("opened serial display %s", s.device)
	}

	if _, err := io.WriteString(s.port, FormatLine(snap)); err != nil {
		s.port.Close()
		s.port = nil
		s.lastErr = err
		return err
	}
	s.lastErr = nil
	return nil
}

// Close closes the port if it is open
func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	return err
}

// CheckHealth reports the outcome of the most recent write
func (s *Storage) CheckHealth(context.Context) *config.HealthData {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastErr != nil {
		return storage.CreateHealthData(storage.StatusUnhealthy, "serial display unavailable", s.lastErr)
	}
	return storage.CreateHealthData(storage.StatusHealthy, "serial display ready", nil)
}
