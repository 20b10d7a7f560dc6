// Package publisher drains the handoff queue at a fixed rate, turns each
// sample into an entity update and hands it to the sink. A failed or
// panicking publish never stops the loop; the next sample supersedes it.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"

	"github.com/bilal/lattice-bridge/internal/entity"
	"github.com/bilal/lattice-bridge/internal/telemetry"
)

// Sink delivers one update per call. It must not retry on its own.
type Sink interface {
	Publish(ctx context.Context, u entity.Update) error
}

// Dequeuer blocks until a sample is available.
type Dequeuer interface {
	Dequeue(ctx context.Context) (telemetry.Sample, error)
}

// Result describes one publish attempt.
type Result struct {
	At       time.Time
	EntityID string
	Err      error
}

type ResultHook func(Result)

type Config struct {
	Interval   time.Duration
	ErrorPause time.Duration
}

type Option func(*Publisher)

func WithClock(c clock.Clock) Option {
	return func(p *Publisher) { p.clock = c }
}

func WithResultHook(h ResultHook) Option {
	return func(p *Publisher) { p.hooks = append(p.hooks, h) }
}

// WithActiveEpoch drops queued samples whose epoch is not the one current
// reports. current returns 0 while no link is streaming, so nothing left
// over from a lost link is published.
func WithActiveEpoch(current func() uint64) Option {
	return func(p *Publisher) { p.activeEpoch = current }
}

type Publisher struct {
	in      Dequeuer
	sink    Sink
	builder *entity.Builder
	cfg     Config
	clock   clock.Clock
	hooks   []ResultHook

	activeEpoch func() uint64

	published atomic.Uint64
	failed    atomic.Uint64
	stale     atomic.Uint64
}

func New(in Dequeuer, sink Sink, builder *entity.Builder, cfg Config, opts ...Option) *Publisher {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.ErrorPause <= 0 {
		cfg.ErrorPause = time.Second
	}
	p := &Publisher{
		in:      in,
		sink:    sink,
		builder: builder,
		cfg:     cfg,
		clock:   clock.New(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run publishes until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) {
	log.Info().Dur("interval", p.cfg.Interval).Msg("entity publisher started")

	for {
		sample, err := p.in.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Info().Msg("entity publisher stopping")
				return
			}
			log.Error().Err(err).Msg("dequeue failed")
			if !p.sleep(ctx, p.cfg.ErrorPause) {
				return
			}
			continue
		}

		if p.activeEpoch != nil {
			if current := p.activeEpoch(); sample.Epoch != current {
				p.stale.Add(1)
				log.Debug().
					Uint64("sample_epoch", sample.Epoch).
					Uint64("active_epoch", current).
					Msg("discarding sample from a previous link")
				continue
			}
		}

		if err := p.safePublish(ctx, sample); err != nil {
			var pe *panicError
			if errors.As(err, &pe) {
				log.Error().Interface("panic", pe.value).Msg("unexpected error in publish loop")
				if !p.sleep(ctx, p.cfg.ErrorPause) {
					return
				}
				continue
			}
		}

		if !p.sleep(ctx, p.cfg.Interval) {
			log.Info().Msg("entity publisher stopping")
			return
		}
	}
}

func (p *Publisher) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-p.clock.After(d):
		return true
	}
}

type panicError struct {
	value any
}

func (e *panicError) Error() string { return fmt.Sprintf("panic: %v", e.value) }

func (p *Publisher) safePublish(ctx context.Context, s telemetry.Sample) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.failed.Add(1)
			pe := &panicError{value: r}
			p.notify(Result{At: p.clock.Now(), EntityID: p.builder.Identity().ID, Err: pe})
			err = pe
		}
	}()
	return p.PublishOnce(ctx, s)
}

// PublishOnce builds and sends a single update. Build and sink errors are
// logged and returned; they are never retried.
func (p *Publisher) PublishOnce(ctx context.Context, s telemetry.Sample) error {
	u, info, err := p.builder.Build(s)
	if err != nil {
		p.failed.Add(1)
		log.Warn().Err(err).Uint64("epoch", s.Epoch).Msg("incomplete telemetry data, skipping publish")
		p.notify(Result{At: p.clock.Now(), EntityID: p.builder.Identity().ID, Err: err})
		return err
	}
	if info.AltitudeFallback {
		log.Warn().
			Float64("terrain_m", s.Altitude.TerrainM).
			Float64("local_m", s.Altitude.LocalM).
			Msg("AGL altitude missing or invalid, falling back to local altitude")
	}

	pos := u.Location.Position
	att := u.Location.AttitudeENU
	vel := u.Location.VelocityENU

	if err := p.sink.Publish(ctx, u); err != nil {
		p.failed.Add(1)
		log.Error().Err(err).Str("entity_id", u.EntityID).Msg("publish failed")
		p.notify(Result{At: p.clock.Now(), EntityID: u.EntityID, Err: err})
		return fmt.Errorf("publish %s: %w", u.EntityID, err)
	}

	p.published.Add(1)
	log.Info().
		Str("entity_id", u.EntityID).
		Float64("lat", pos.LatitudeDegrees).
		Float64("lon", pos.LongitudeDegrees).
		Float64("hae_m", pos.AltitudeHAEMeters).
		Float64("agl_m", pos.AltitudeAGLMeters).
		Float64("vel_e", vel.E).
		Float64("vel_n", vel.N).
		Float64("vel_u", vel.U).
		Float64("q_w", att.W).
		Float64("q_x", att.X).
		Float64("q_y", att.Y).
		Float64("q_z", att.Z).
		Time("expiry", u.ExpiryTime).
		Msg("entity published")
	p.notify(Result{At: p.clock.Now(), EntityID: u.EntityID})
	return nil
}

func (p *Publisher) notify(r Result) {
	for _, h := range p.hooks {
		h(r)
	}
}

// Counts returns successful and failed publish attempts so far.
func (p *Publisher) Counts() (published, failed uint64) {
	return p.published.Load(), p.failed.Load()
}

// Discarded is the number of samples dropped because their link had gone.
func (p *Publisher) Discarded() uint64 { return p.stale.Load() }
