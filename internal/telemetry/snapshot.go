package telemetry

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Sample is a copy of a complete snapshot taken at SampledAt. It shares no
// memory with the snapshot it came from.
type Sample struct {
	Epoch     uint64
	SampledAt time.Time

	Position Position
	Velocity VelocityNED
	Altitude Altitude
	Attitude Attitude
}

// Snapshot is the latest known value of every field for one epoch. Each
// field is written only by its own subscription and starts out unset.
type Snapshot struct {
	epoch uint64
	clock clock.Clock

	mu         sync.RWMutex
	position   *Position
	velocity   *VelocityNED
	altitude   *Altitude
	attitude   *Attitude
	lastUpdate time.Time
}

func NewSnapshot(epoch uint64, clk clock.Clock) *Snapshot {
	if clk == nil {
		clk = clock.New()
	}
	return &Snapshot{epoch: epoch, clock: clk}
}

func (s *Snapshot) Epoch() uint64 { return s.epoch }

func (s *Snapshot) SetPosition(p Position) {
	s.mu.Lock()
	s.position = &p
	s.lastUpdate = s.clock.Now()
	s.mu.Unlock()
}

func (s *Snapshot) SetVelocity(v VelocityNED) {
	s.mu.Lock()
	s.velocity = &v
	s.lastUpdate = s.clock.Now()
	s.mu.Unlock()
}

func (s *Snapshot) SetAltitude(a Altitude) {
	s.mu.Lock()
	s.altitude = &a
	s.lastUpdate = s.clock.Now()
	s.mu.Unlock()
}

func (s *Snapshot) SetAttitude(q Attitude) {
	s.mu.Lock()
	s.attitude = &q
	s.lastUpdate = s.clock.Now()
	s.mu.Unlock()
}

// Complete reports whether all four fields have been seen this epoch.
func (s *Snapshot) Complete() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.complete()
}

func (s *Snapshot) complete() bool {
	return s.position != nil && s.velocity != nil && s.altitude != nil && s.attitude != nil
}

// Sample copies the snapshot out if it is complete.
func (s *Snapshot) Sample() (Sample, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.complete() {
		return Sample{}, false
	}
	return Sample{
		Epoch:     s.epoch,
		SampledAt: s.clock.Now(),
		Position:  *s.position,
		Velocity:  *s.velocity,
		Altitude:  *s.altitude,
		Attitude:  *s.attitude,
	}, true
}

// LastUpdate is the time of the most recent field write, zero if none.
func (s *Snapshot) LastUpdate() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastUpdate
}

// Missing lists the fields not yet populated.
func (s *Snapshot) Missing() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []string
	if s.position == nil {
		out = append(out, "position")
	}
	if s.velocity == nil {
		out = append(out, "velocity")
	}
	if s.altitude == nil {
		out = append(out, "altitude")
	}
	if s.attitude == nil {
		out = append(out, "attitude")
	}
	return out
}
