package telemetry

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"
)

// Enqueuer accepts samples without blocking.
type Enqueuer interface {
	TryEnqueue(Sample) bool
}

// SamplerStats counts what the sampler did with each tick.
type SamplerStats struct {
	Enqueued   uint64
	Dropped    uint64
	Incomplete uint64
}

// Sampler periodically copies a complete snapshot into the queue. A full
// queue drops the sample; an incomplete snapshot is skipped silently.
type Sampler struct {
	snapshot *Snapshot
	out      Enqueuer
	interval time.Duration
	clock    clock.Clock

	enqueued   atomic.Uint64
	dropped    atomic.Uint64
	incomplete atomic.Uint64
}

func NewSampler(snapshot *Snapshot, out Enqueuer, interval time.Duration, clk clock.Clock) *Sampler {
	if clk == nil {
		clk = clock.New()
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Sampler{
		snapshot: snapshot,
		out:      out,
		interval: interval,
		clock:    clk,
	}
}

// Run ticks until ctx is cancelled. It always returns nil so that it never
// tears down the epoch on its own.
func (s *Sampler) Run(ctx context.Context) error {
	ticker := s.clock.Ticker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Tick()
		}
	}
}

// Tick performs one sampling step and reports whether a sample was queued.
func (s *Sampler) Tick() bool {
	sample, ok := s.snapshot.Sample()
	if !ok {
		s.incomplete.Add(1)
		log.Debug().
			Uint64("epoch", s.snapshot.Epoch()).
			Strs("missing", s.snapshot.Missing()).
			Msg("snapshot incomplete, skipping tick")
		return false
	}

	if !s.out.TryEnqueue(sample) {
		s.dropped.Add(1)
		log.Warn().
			Uint64("epoch", sample.Epoch).
			Time("sampled_at", sample.SampledAt).
			Msg("telemetry sample dropped: queue full")
		return false
	}

	s.enqueued.Add(1)
	return true
}

func (s *Sampler) Stats() SamplerStats {
	return SamplerStats{
		Enqueued:   s.enqueued.Load(),
		Dropped:    s.dropped.Load(),
		Incomplete: s.incomplete.Load(),
	}
}
