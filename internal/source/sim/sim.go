// Package sim is a simulated vehicle flying a circle. It stands in for the
// autopilot in dev mode and exercises reconnects on demand.
package sim

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"

	"github.com/bilal/lattice-bridge/internal/telemetry"
)

const earthRadiusM = 6371008.8

var ErrLinkClosed = errors.New("sim: link closed")

type Config struct {
	CenterLatDeg float64
	CenterLonDeg float64
	HomeAltM     float64 // height above ellipsoid of the ground below
	RadiusM      float64
	AltitudeM    float64 // above ground
	SpeedMS      float64
	RateHz       float64

	// FailConnects makes the first n Connect calls fail.
	FailConnects int
	// LinkLifetime ends every link after it has been up this long.
	LinkLifetime time.Duration
}

// DefaultConfig orbits the PX4 SITL home position.
func DefaultConfig() Config {
	return Config{
		CenterLatDeg: 47.397742,
		CenterLonDeg: 8.545594,
		HomeAltM:     488,
		RadiusM:      80,
		AltitudeM:    30,
		SpeedMS:      8,
		RateHz:       10,
	}
}

type Source struct {
	cfg   Config
	clock clock.Clock

	mu       sync.Mutex
	failures int
	started  time.Time
}

func New(cfg Config, clk clock.Clock) *Source {
	if clk == nil {
		clk = clock.New()
	}
	if cfg.RateHz <= 0 {
		cfg.RateHz = 10
	}
	if cfg.RadiusM <= 0 {
		cfg.RadiusM = 50
	}
	return &Source{cfg: cfg, clock: clk, failures: cfg.FailConnects, started: clk.Now()}
}

func (s *Source) Connect(ctx context.Context) (telemetry.Link, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return nil, errors.New("sim: vehicle unreachable")
	}

	log.Debug().Float64("rate_hz", s.cfg.RateHz).Msg("sim link up")
	return &link{
		src:    s,
		rateHz: s.cfg.RateHz,
		up:     s.clock.Now(),
		done:   make(chan struct{}),
	}, nil
}

// State is the simulated vehicle at time t.
type State struct {
	Position telemetry.Position
	Velocity telemetry.VelocityNED
	Altitude telemetry.Altitude
	Attitude telemetry.Attitude
}

// StateAt places the vehicle on its orbit, flying counter-clockwise seen
// from above.
func (s *Source) StateAt(t time.Time) State {
	c := s.cfg
	omega := c.SpeedMS / c.RadiusM
	theta := omega * t.Sub(s.started).Seconds()

	north := c.RadiusM * math.Cos(theta)
	east := c.RadiusM * math.Sin(theta)
	lat := c.CenterLatDeg + (north/earthRadiusM)*180/math.Pi
	lon := c.CenterLonDeg + (east/(earthRadiusM*math.Cos(c.CenterLatDeg*math.Pi/180)))*180/math.Pi

	vn := -c.SpeedMS * math.Sin(theta)
	ve := c.SpeedMS * math.Cos(theta)
	yaw := math.Atan2(ve, vn)

	return State{
		Position: telemetry.Position{
			LatitudeDeg:       lat,
			LongitudeDeg:      lon,
			AbsoluteAltitudeM: c.HomeAltM + c.AltitudeM,
			RelativeAltitudeM: c.AltitudeM,
		},
		Velocity: telemetry.VelocityNED{NorthMS: vn, EastMS: ve},
		Altitude: telemetry.Altitude{TerrainM: c.AltitudeM, LocalM: c.AltitudeM},
		Attitude: telemetry.Attitude{W: math.Cos(yaw / 2), Z: math.Sin(yaw / 2)},
	}
}

type link struct {
	src *Source
	up  time.Time

	mu     sync.Mutex
	rateHz float64
	closed bool
	done   chan struct{}
	wg     sync.WaitGroup
}

func (l *link) SetRates(_ context.Context, hz float64) error {
	if hz <= 0 {
		return errors.New("sim: rate must be positive")
	}
	l.mu.Lock()
	l.rateHz = hz
	l.mu.Unlock()
	return nil
}

func (l *link) alive() bool {
	lifetime := l.src.cfg.LinkLifetime
	return lifetime <= 0 || l.src.clock.Now().Sub(l.up) < lifetime
}

// stream emits pick(state) at the link rate until ctx ends or the link closes.
func stream[T any](ctx context.Context, l *link, pick func(State) T) (<-chan T, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrLinkClosed
	}

	period := time.Duration(float64(time.Second) / l.rateHz)
	out := make(chan T, 1)
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer close(out)

		ticker := l.src.clock.Ticker(period)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-l.done:
				return
			case now := <-ticker.C:
				select {
				case out <- pick(l.src.StateAt(now)):
				case <-ctx.Done():
					return
				case <-l.done:
					return
				}
			}
		}
	}()
	return out, nil
}

func (l *link) ConnectionState(ctx context.Context) (<-chan telemetry.ConnectionState, error) {
	return stream(ctx, l, func(State) telemetry.ConnectionState {
		return telemetry.ConnectionState{IsConnected: l.alive()}
	})
}

func (l *link) Position(ctx context.Context) (<-chan telemetry.Position, error) {
	return stream(ctx, l, func(s State) telemetry.Position { return s.Position })
}

func (l *link) Velocity(ctx context.Context) (<-chan telemetry.VelocityNED, error) {
	return stream(ctx, l, func(s State) telemetry.VelocityNED { return s.Velocity })
}

func (l *link) Altitude(ctx context.Context) (<-chan telemetry.Altitude, error) {
	return stream(ctx, l, func(s State) telemetry.Altitude { return s.Altitude })
}

func (l *link) Attitude(ctx context.Context) (<-chan telemetry.Attitude, error) {
	return stream(ctx, l, func(s State) telemetry.Attitude { return s.Attitude })
}

func (l *link) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.done)
	l.mu.Unlock()

	l.wg.Wait()
	log.Debug().Msg("sim link closed")
	return nil
}
