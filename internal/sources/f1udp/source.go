// Package f1udp receives the UDP telemetry broadcast by the F1 series of games.
package f1udp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chrissnell/simtelemetry/internal/connection"
	"github.com/chrissnell/simtelemetry/internal/constants"
	"github.com/chrissnell/simtelemetry/internal/types"
	"go.uber.org/zap"
)

// Defaults used when a Config field is left zero.
const (
	DefaultListenAddr      = "127.0.0.1"
	DefaultPollTimeout     = 10 * time.Millisecond
	DefaultMinPacketSize   = 100
	DefaultConnectionLabel = "F1 Connected"

	// DefaultHold keeps the last decoded sample current for three frames of
	// the games' default 20 Hz send rate.
	DefaultHold = 150 * time.Millisecond

	// drainTimeout bounds each extra read once a datagram has arrived.
	drainTimeout = time.Millisecond
	readBufSize  = 2048
)

// Config describes one UDP source.
type Config struct {
	Name            string
	ListenAddr      string
	Port            int
	PollTimeout     time.Duration
	MinPacketSize   int
	Gravity         float64
	ConnectionLabel string

	// Tracker bounds how long the last decoded sample is reported between
	// datagrams. HoldUp defaults to DefaultHold and StaleAfter to HoldUp.
	Tracker connection.Config
}

// TrackerConfig fills the hold window defaults for F1 packet streams.
func TrackerConfig(c connection.Config) connection.Config {
	if c.HoldUp <= 0 {
		c.HoldUp = DefaultHold
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = c.HoldUp
	}
	return c
}

// Stats counts datagrams seen by the source.
type Stats struct {
	Received     uint64
	Dropped      uint64
	DecodeErrors uint64
}

// Source is a sources.Source over a UDP socket.
type Source struct {
	cfg    Config
	logger *zap.SugaredLogger

	mu      sync.Mutex
	conn    *net.UDPConn
	dec     *Decoder
	tracker *connection.Tracker
	buf     []byte

	received     atomic.Uint64
	dropped      atomic.Uint64
	decodeErrors atomic.Uint64
}

// New creates a UDP source. The socket is bound by Open.
func New(cfg Config, logger *zap.SugaredLogger) *Source {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultListenAddr
	}
	if cfg.Port == 0 {
		cfg.Port = constants.DefaultF1Port
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = DefaultPollTimeout
	}
	if cfg.MinPacketSize <= 0 {
		cfg.MinPacketSize = DefaultMinPacketSize
	}
	if cfg.ConnectionLabel == "" {
		cfg.ConnectionLabel = DefaultConnectionLabel
	}

	return &Source{
		cfg:     cfg,
		logger:  logger,
		dec:     NewDecoder(cfg.Gravity),
		tracker: connection.New(TrackerConfig(cfg.Tracker)),
		buf:     make([]byte, readBufSize),
	}
}

// SetClock replaces the tracker's time source. Intended for tests.
func (s *Source) SetClock(now func() time.Time) {
	s.tracker.SetClock(now)
}

// ConnectionStatus reports the tracker status, e.g. "degraded(2)".
func (s *Source) ConnectionStatus() string {
	return s.tracker.Status().String()
}

func (s *Source) Name() string {
	return s.cfg.Name
}

func (s *Source) Kind() types.Source {
	return types.SourceUDP
}

// Stats returns the datagram counters.
func (s *Source) Stats() Stats {
	return Stats{
		Received:     s.received.Load(),
		Dropped:      s.dropped.Load(),
		DecodeErrors: s.decodeErrors.Load(),
	}
}

// LocalAddr returns the bound address, or nil before Open.
func (s *Source) LocalAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// Open binds the UDP socket.
func (s *Source) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		return nil
	}

	conn, err := listenUDP(s.cfg.ListenAddr, s.cfg.Port)
	if err != nil {
		return fmt.Errorf("udp source [%s]: failed to start UDP listener on %s:%d: %w", s.cfg.Name, s.cfg.ListenAddr, s.cfg.Port, err)
	}
	s.conn = conn
	s.dec.Reset()
	s.tracker.Reset()
	s.logger.Infof("UDP receiver [%s] listening on %v", s.cfg.Name, conn.LocalAddr())
	return nil
}

// TryRead waits up to the poll timeout for datagrams and drains whatever is
// queued. A call that decodes a motion or car telemetry packet refreshes the
// held sample; calls without one keep returning it until the hold window
// runs out.
func (s *Source) TryRead(ctx context.Context) (types.Sample, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return types.Sample{}, false
	}

	deadline := time.Now().Add(s.cfg.PollTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	updated := false
	for {
		if ctx.Err() != nil {
			break
		}

		readDeadline := deadline
		if updated {
			if d := time.Now().Add(drainTimeout); d.Before(readDeadline) {
				readDeadline = d
			}
		}
		if err := s.conn.SetReadDeadline(readDeadline); err != nil {
			break
		}

		n, _, err := s.conn.ReadFromUDP(s.buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				break
			}
			if !errors.Is(err, net.ErrClosed) {
				s.logger.Debugf("UDP read error on [%s]: %v", s.cfg.Name, err)
			}
			break
		}

		s.received.Add(1)
		if n < s.cfg.MinPacketSize {
			s.dropped.Add(1)
			continue
		}

		_, ok, err := s.dec.Decode(s.buf[:n])
		if err != nil {
			s.decodeErrors.Add(1)
			continue
		}
		if ok {
			updated = true
		}
	}

	if sample, ok := s.dec.Sample(); updated && ok {
		sample.Connection = s.cfg.ConnectionLabel
		s.tracker.Success(sample)
	} else {
		s.tracker.Failure()
	}
	return s.tracker.Current()
}

// Close releases the socket. Safe to call more than once.
func (s *Source) Close() error {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Close()
}
