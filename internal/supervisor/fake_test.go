package supervisor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/bilal/lattice-bridge/internal/telemetry"
)

type fakeLink struct {
	states chan telemetry.ConnectionState
	pos    chan telemetry.Position
	vel    chan telemetry.VelocityNED
	alt    chan telemetry.Altitude
	att    chan telemetry.Attitude

	subscribeErr error // returned by Attitude
	rateErr      error

	rateCalls atomic.Int32
	closes    atomic.Int32
}

func newFakeLink() *fakeLink {
	l := &fakeLink{
		states: make(chan telemetry.ConnectionState, 4),
		pos:    make(chan telemetry.Position, 16),
		vel:    make(chan telemetry.VelocityNED, 16),
		alt:    make(chan telemetry.Altitude, 16),
		att:    make(chan telemetry.Attitude, 16),
	}
	l.states <- telemetry.ConnectionState{IsConnected: true}
	return l
}

func (l *fakeLink) fill() {
	l.pos <- telemetry.Position{LatitudeDeg: 47.39, LongitudeDeg: 8.54, AbsoluteAltitudeM: 500}
	l.vel <- telemetry.VelocityNED{NorthMS: 1}
	l.alt <- telemetry.Altitude{TerrainM: 20, LocalM: 21}
	l.att <- telemetry.Attitude{W: 1}
}

func (l *fakeLink) SetRates(context.Context, float64) error {
	l.rateCalls.Add(1)
	return l.rateErr
}

func (l *fakeLink) ConnectionState(context.Context) (<-chan telemetry.ConnectionState, error) {
	return l.states, nil
}
func (l *fakeLink) Position(context.Context) (<-chan telemetry.Position, error) { return l.pos, nil }
func (l *fakeLink) Velocity(context.Context) (<-chan telemetry.VelocityNED, error) {
	return l.vel, nil
}
func (l *fakeLink) Altitude(context.Context) (<-chan telemetry.Altitude, error) { return l.alt, nil }
func (l *fakeLink) Attitude(context.Context) (<-chan telemetry.Attitude, error) {
	if l.subscribeErr != nil {
		return nil, l.subscribeErr
	}
	return l.att, nil
}

func (l *fakeLink) Close() error {
	l.closes.Add(1)
	return nil
}

// fakeSource fails the first failures connects, then hands out links from
// next in order.
type fakeSource struct {
	mu       sync.Mutex
	failures int
	links    []*fakeLink
	connects int
	served   []*fakeLink
}

func (s *fakeSource) Connect(ctx context.Context) (telemetry.Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connects++
	if s.failures > 0 {
		s.failures--
		return nil, errors.New("udp: connection refused")
	}
	var l *fakeLink
	if len(s.links) > 0 {
		l, s.links = s.links[0], s.links[1:]
	} else {
		l = newFakeLink()
	}
	s.served = append(s.served, l)
	return l, nil
}

func (s *fakeSource) connectCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connects
}

func (s *fakeSource) link(i int) *fakeLink {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i >= len(s.served) {
		return nil
	}
	return s.served[i]
}

type transition struct {
	state State
	epoch uint64
}

type recorder struct {
	mu  sync.Mutex
	log []transition
}

func (r *recorder) hook(st State, epoch uint64) {
	r.mu.Lock()
	r.log = append(r.log, transition{st, epoch})
	r.mu.Unlock()
}

func (r *recorder) reached(st State, epoch uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.log {
		if t.state == st && t.epoch == epoch {
			return true
		}
	}
	return false
}

func (r *recorder) sequence() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]State, len(r.log))
	for i, t := range r.log {
		out[i] = t.state
	}
	return out
}
