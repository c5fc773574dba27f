// Package replay feeds recorded F1 UDP telemetry from a pcap capture back
// through the F1 decoder, paced by the capture timestamps.
package replay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/chrissnell/simtelemetry/internal/connection"
	"github.com/chrissnell/simtelemetry/internal/constants"
	"github.com/chrissnell/simtelemetry/internal/sources/f1udp"
	"github.com/chrissnell/simtelemetry/internal/types"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"go.uber.org/zap"
)

// Config describes a replay source.
type Config struct {
	Name string
	File string
	// Port filters UDP packets by destination port.
	Port int
	// Speed scales playback; 2 replays twice as fast. Zero means real time.
	Speed float64
	// Loop restarts the capture when it ends.
	Loop          bool
	MinPacketSize int
	Gravity       float64
	// Tracker bounds how long a decoded sample is reported between packets.
	Tracker connection.Config
}

type pending struct {
	payload []byte
	ts      time.Time
}

// Source is a sources.Source that replays a pcap file.
type Source struct {
	cfg    Config
	logger *zap.SugaredLogger
	now    func() time.Time

	mu      sync.Mutex
	f       *os.File
	reader  *pcapgo.Reader
	dec     *f1udp.Decoder
	tracker *connection.Tracker
	next    *pending
	first   time.Time
	started time.Time
	done    bool
}

// New creates a replay source. The file is opened by Open.
func New(cfg Config, logger *zap.SugaredLogger) *Source {
	if cfg.Port == 0 {
		cfg.Port = constants.DefaultF1Port
	}
	if cfg.Speed <= 0 {
		cfg.Speed = 1
	}
	if cfg.MinPacketSize <= 0 {
		cfg.MinPacketSize = f1udp.DefaultMinPacketSize
	}
	return &Source{
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
		dec:     f1udp.NewDecoder(cfg.Gravity),
		tracker: connection.New(f1udp.TrackerConfig(cfg.Tracker)),
	}
}

// SetClock replaces the time source. Intended for tests.
func (s *Source) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
	s.tracker.SetClock(now)
}

// ConnectionStatus reports the tracker status.
func (s *Source) ConnectionStatus() string {
	return s.tracker.Status().String()
}

func (s *Source) Name() string {
	return s.cfg.Name
}

func (s *Source) Kind() types.Source {
	return types.SourceUDP
}

// Open opens the capture file and rewinds playback.
func (s *Source) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dec.Reset()
	s.tracker.Reset()
	return s.openLocked()
}

func (s *Source) openLocked() error {
	s.closeLocked()

	f, err := os.Open(s.cfg.File)
	if err != nil {
		return fmt.Errorf("replay source [%s]: %w", s.cfg.Name, err)
	}
	r, err := pcapgo.NewReader(f)
	if err != nil {
		f.Close()
		return fmt.Errorf("replay source [%s]: could not read pcap header: %w", s.cfg.Name, err)
	}

	s.f = f
	s.reader = r
	s.next = nil
	s.first = time.Time{}
	s.started = time.Time{}
	s.done = false
	s.logger.Infof("replaying %s on port %d at %.1fx", s.cfg.File, s.cfg.Port, s.cfg.Speed)
	return nil
}

// TryRead decodes every captured datagram whose capture time has come due.
func (s *Source) TryRead(ctx context.Context) (types.Sample, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.reader == nil {
		return types.Sample{}, false
	}

	now := s.now()
	if s.started.IsZero() {
		s.started = now
	}
	elapsed := time.Duration(float64(now.Sub(s.started)) * s.cfg.Speed)

	updated := false
	for ctx.Err() == nil {
		if s.next == nil {
			p, err := s.readNext()
			if err != nil {
				if errors.Is(err, io.EOF) {
					s.handleEOF()
				} else {
					s.logger.Warnf("replay source [%s]: %v", s.cfg.Name, err)
					s.done = true
				}
				break
			}
			s.next = p
			if s.first.IsZero() {
				s.first = p.ts
			}
		}

		if s.next.ts.Sub(s.first) > elapsed {
			break
		}

		if len(s.next.payload) >= s.cfg.MinPacketSize {
			if _, ok, err := s.dec.Decode(s.next.payload); err == nil && ok {
				updated = true
			}
		}
		s.next = nil
	}

	if sample, ok := s.dec.Sample(); updated && ok {
		sample.Connection = f1udp.DefaultConnectionLabel
		s.tracker.Success(sample)
	} else {
		s.tracker.Failure()
	}
	return s.tracker.Current()
}

// readNext returns the next UDP payload addressed to the configured port.
func (s *Source) readNext() (*pending, error) {
	if s.done {
		return nil, io.EOF
	}
	for {
		data, ci, err := s.reader.ReadPacketData()
		if err != nil {
			return nil, err
		}

		pkt := gopacket.NewPacket(data, s.reader.LinkType(), gopacket.DecodeOptions{Lazy: true, NoCopy: true})
		udpLayer := pkt.Layer(layers.LayerTypeUDP)
		if udpLayer == nil {
			continue
		}
		udp, _ := udpLayer.(*layers.UDP)
		if udp == nil || int(udp.DstPort) != s.cfg.Port {
			continue
		}
		return &pending{payload: udp.Payload, ts: ci.Timestamp}, nil
	}
}

func (s *Source) handleEOF() {
	if !s.cfg.Loop {
		if !s.done {
			s.logger.Infof("replay source [%s] reached end of capture", s.cfg.Name)
		}
		s.done = true
		return
	}
	if err := s.openLocked(); err != nil {
		s.logger.Warnf("replay source [%s]: could not restart capture: %v", s.cfg.Name, err)
		s.done = true
	}
}

// Close closes the capture file. Safe to call more than once.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked()
}

func (s *Source) closeLocked() error {
	s.reader = nil
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}
