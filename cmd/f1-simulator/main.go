// Package main sends synthetic F1 motion and car telemetry packets over UDP,
// for exercising simtelemetry without the game running.
package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"math/rand"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chrissnell/simtelemetry/internal/log"
	"github.com/chrissnell/simtelemetry/internal/sources/f1udp"
)

// lapLength is the period of the synthetic lap profile.
const lapLength = 40 * time.Second

// LapEmulator generates a repeating lap: a straight, a braking zone and a
// sequence of alternating corners.
type LapEmulator struct {
	start time.Time
	frame uint32
	uid   uint64
}

func NewLapEmulator() *LapEmulator {
	return &LapEmulator{start: time.Now(), uid: rand.Uint64()}
}

// Next returns the car state at t.
func (e *LapEmulator) Next(t time.Time) (f1udp.CarTelemetry, f1udp.CarMotion) {
	e.frame++
	phase := math.Mod(t.Sub(e.start).Seconds(), lapLength.Seconds()) / lapLength.Seconds()

	var (
		speed, throttle, brake float64
		lat, long              float64
	)
	switch {
	case phase < 0.4: // straight
		speed = 120 + 200*phase/0.4
		throttle = 1
		long = 1.2 - 2*phase
	case phase < 0.5: // braking zone
		p := (phase - 0.4) / 0.1
		speed = 320 - 230*p
		brake = 1 - 0.5*p
		long = -4.5 + 2*p
	default: // corners
		p := (phase - 0.5) / 0.5
		speed = 90 + 60*math.Abs(math.Sin(4*math.Pi*p))
		throttle = 0.4 + 0.6*math.Abs(math.Sin(4*math.Pi*p))
		lat = 3.5 * math.Sin(4*math.Pi*p)
		long = 0.3
	}
	speed += (rand.Float64() - 0.5) * 2

	gear := int8(min(8, 1+int(speed/40)))
	rpm := 7000 + math.Mod(speed, 40)/40*5000

	tel := f1udp.CarTelemetry{
		SpeedKPH: uint16(speed),
		Throttle: float32(throttle),
		Brake:    float32(brake),
		Gear:     gear,
		RPM:      uint16(rpm),
	}
	motion := f1udp.CarMotion{
		GForceLateral:      float32(lat),
		GForceLongitudinal: float32(long),
		GForceVertical:     float32(1 + (rand.Float64()-0.5)*0.1),
	}
	return tel, motion
}

func main() {
	var (
		addr   = flag.String("addr", "127.0.0.1:20777", "Destination UDP address")
		rate   = flag.Int("rate", 60, "Packets of each type per second")
		format = flag.Uint("format", 2024, "Packet format: 2022, 2023, 2024 or 2025")
		player = flag.Uint("player", 0, "Player car index")
		debug  = flag.Bool("debug", false, "Turn on debugging output")
	)
	flag.Parse()

	if err := log.Init(*debug); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if *rate <= 0 {
		log.Fatalf("rate must be positive")
	}

	conn, err := net.Dial("udp", *addr)
	if err != nil {
		log.Fatalf("could not dial %s: %v", *addr, err)
	}
	defer conn.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	emu := NewLapEmulator()
	ticker := time.NewTicker(time.Second / time.Duration(*rate))
	defer ticker.Stop()

	log.Infof("sending F1 %d telemetry to %s at %d Hz", *format, *addr, *rate)
	var sent uint64
	for {
		select {
		case <-ctx.Done():
			log.Infof("sent %d packets", sent)
			return
		case now := <-ticker.C:
			tel, motion := emu.Next(now)
			h := f1udp.Header{
				PacketFormat:   uint16(*format),
				SessionUID:     emu.uid,
				SessionTime:    float32(now.Sub(emu.start).Seconds()),
				FrameID:        emu.frame,
				PlayerCarIndex: uint8(*player),
			}

			mp, err := f1udp.EncodeMotion(h, motion)
			if err != nil {
				log.Fatalf("encoding motion packet: %v", err)
			}
			tp, err := f1udp.EncodeCarTelemetry(h, tel)
			if err != nil {
				log.Fatalf("encoding telemetry packet: %v", err)
			}
			for _, pkt := range [][]byte{mp, tp} {
				if _, err := conn.Write(pkt); err != nil {
					log.Debugf("send failed: %v", err)
					continue
				}
				sent++
			}
		}
	}
}
