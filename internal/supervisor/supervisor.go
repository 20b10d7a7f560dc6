// Package supervisor keeps the link to the vehicle alive. Each successful
// connect starts an epoch with a fresh snapshot, one task per telemetry
// stream, a connection monitor, a liveness watchdog and the sampler. Any
// of those failing ends the epoch; the supervisor then waits the retry
// delay and connects again, forever.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/bilal/lattice-bridge/internal/telemetry"
)

type State string

const (
	Disconnected State = "DISCONNECTED"
	Connecting   State = "CONNECTING"
	Subscribing  State = "SUBSCRIBING"
	Active       State = "ACTIVE"
)

type Config struct {
	RetryDelay      time.Duration
	LivenessTimeout time.Duration // zero disables the watchdog
	SampleInterval  time.Duration
	RateHz          float64 // zero skips rate configuration
}

// StateHook observes every transition together with the current epoch.
type StateHook func(state State, epoch uint64)

type Option func(*Supervisor)

func WithClock(c clock.Clock) Option {
	return func(s *Supervisor) { s.clock = c }
}

func WithStateHook(h StateHook) Option {
	return func(s *Supervisor) { s.hooks = append(s.hooks, h) }
}

type Supervisor struct {
	source telemetry.Source
	out    telemetry.Enqueuer
	cfg    Config
	clock  clock.Clock
	hooks  []StateHook

	mu    sync.RWMutex
	state State
	epoch atomic.Uint64
}

func New(source telemetry.Source, out telemetry.Enqueuer, cfg Config, opts ...Option) *Supervisor {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = time.Second
	}

	s := &Supervisor{
		source: source,
		out:    out,
		cfg:    cfg,
		clock:  clock.New(),
		state:  Disconnected,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Supervisor) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Epoch is the number of successful connects so far.
func (s *Supervisor) Epoch() uint64 { return s.epoch.Load() }

// ActiveEpoch is the epoch currently streaming telemetry, or 0 while the
// link is down or being set up.
func (s *Supervisor) ActiveEpoch() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != Active {
		return 0
	}
	return s.epoch.Load()
}

func (s *Supervisor) setState(st State) {
	s.mu.Lock()
	prev := s.state
	s.state = st
	s.mu.Unlock()

	epoch := s.epoch.Load()
	if prev != st {
		log.Debug().Str("from", string(prev)).Str("to", string(st)).Uint64("epoch", epoch).Msg("link state changed")
	}
	for _, h := range s.hooks {
		h(st, epoch)
	}
}

// Run connects, supervises and reconnects until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) {
	log.Info().
		Dur("retry_delay", s.cfg.RetryDelay).
		Dur("liveness_timeout", s.cfg.LivenessTimeout).
		Msg("connection supervisor started")

	for {
		err := s.safeEpoch(ctx)
		s.setState(Disconnected)

		if ctx.Err() != nil {
			log.Info().Msg("connection supervisor stopping")
			return
		}
		logEpochEnd(err, s.epoch.Load())

		log.Info().Dur("retry_delay", s.cfg.RetryDelay).Msg("reconnecting after delay")
		select {
		case <-ctx.Done():
			log.Info().Msg("connection supervisor stopping")
			return
		case <-s.clock.After(s.cfg.RetryDelay):
		}
	}
}

func (s *Supervisor) safeEpoch(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("epoch panic: %v", r)
		}
	}()
	return s.runEpoch(ctx)
}

func (s *Supervisor) runEpoch(ctx context.Context) error {
	s.setState(Connecting)
	log.Info().Msg("attempting to connect to vehicle")

	link, err := s.source.Connect(ctx)
	if err != nil {
		return &ConnectError{Err: err}
	}
	epoch := s.epoch.Add(1)
	defer func() {
		if cerr := link.Close(); cerr != nil {
			log.Warn().Err(cerr).Uint64("epoch", epoch).Msg("closing link failed")
		}
	}()

	epochCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.setState(Subscribing)

	if s.cfg.RateHz > 0 {
		if err := link.SetRates(epochCtx, s.cfg.RateHz); err != nil {
			log.Warn().Err(err).Float64("rate_hz", s.cfg.RateHz).Msg("setting telemetry rates failed")
		}
	}

	states, err := link.ConnectionState(epochCtx)
	if err != nil {
		return &SubscribeError{Stream: "connection_state", Err: err}
	}
	positions, err := link.Position(epochCtx)
	if err != nil {
		return &SubscribeError{Stream: "position", Err: err}
	}
	velocities, err := link.Velocity(epochCtx)
	if err != nil {
		return &SubscribeError{Stream: "velocity", Err: err}
	}
	altitudes, err := link.Altitude(epochCtx)
	if err != nil {
		return &SubscribeError{Stream: "altitude", Err: err}
	}
	attitudes, err := link.Attitude(epochCtx)
	if err != nil {
		return &SubscribeError{Stream: "attitude", Err: err}
	}

	snapshot := telemetry.NewSnapshot(epoch, s.clock)
	sampler := telemetry.NewSampler(snapshot, s.out, s.cfg.SampleInterval, s.clock)
	started := s.clock.Now()

	g, gctx := errgroup.WithContext(epochCtx)

	s.setState(Active)
	log.Info().Uint64("epoch", epoch).Msg("telemetry subscriptions active")

	g.Go(guard("connection", epoch, func() error { return watchConnection(gctx, states) }))
	g.Go(guard("position", epoch, func() error { return consume(gctx, "position", positions, snapshot.SetPosition) }))
	g.Go(guard("velocity", epoch, func() error { return consume(gctx, "velocity", velocities, snapshot.SetVelocity) }))
	g.Go(guard("altitude", epoch, func() error { return consume(gctx, "altitude", altitudes, snapshot.SetAltitude) }))
	g.Go(guard("attitude", epoch, func() error { return consume(gctx, "attitude", attitudes, snapshot.SetAttitude) }))
	g.Go(guard("liveness", epoch, func() error { return s.watchLiveness(gctx, snapshot, started) }))
	g.Go(guard("sampler", epoch, func() error { return sampler.Run(gctx) }))

	err = g.Wait()

	stats := sampler.Stats()
	log.Info().
		Uint64("epoch", epoch).
		Uint64("enqueued", stats.Enqueued).
		Uint64("dropped", stats.Dropped).
		Uint64("incomplete", stats.Incomplete).
		Msg("epoch torn down")
	return err
}

// guard turns a panic inside an epoch task into an error so the group
// tears the epoch down instead of the process dying.
func guard(task string, epoch uint64, fn func() error) func() error {
	return func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Str("task", task).Uint64("epoch", epoch).Msg("epoch task panicked")
				err = &TaskPanicError{Task: task, Value: r}
			}
		}()
		return fn()
	}
}

type validated interface {
	Valid() error
}

// consume copies a stream into the snapshot. Samples failing validation
// are not written.
func consume[T validated](ctx context.Context, stream string, in <-chan T, set func(T)) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case v, ok := <-in:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return &StreamError{Stream: stream}
			}
			if err := v.Valid(); err != nil {
				log.Debug().Err(err).Str("stream", stream).Msg("telemetry sample rejected")
				continue
			}
			set(v)
		}
	}
}

func watchConnection(ctx context.Context, states <-chan telemetry.ConnectionState) error {
	announced := false
	for {
		select {
		case <-ctx.Done():
			return nil
		case st, ok := <-states:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return &StreamError{Stream: "connection_state"}
			}
			if !st.IsConnected {
				return ErrLinkLost
			}
			if !announced {
				log.Info().Msg("connection established")
				announced = true
			}
		}
	}
}

func (s *Supervisor) watchLiveness(ctx context.Context, snapshot *telemetry.Snapshot, started time.Time) error {
	timeout := s.cfg.LivenessTimeout
	if timeout <= 0 {
		<-ctx.Done()
		return nil
	}

	every := timeout / 4
	if every <= 0 {
		every = timeout
	}
	ticker := s.clock.Ticker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			last := snapshot.LastUpdate()
			if last.IsZero() {
				last = started
			}
			if silent := s.clock.Now().Sub(last); silent >= timeout {
				log.Warn().Dur("silent_for", silent).Uint64("epoch", snapshot.Epoch()).Msg("no telemetry within liveness timeout")
				return ErrLinkSilent
			}
		}
	}
}

func logEpochEnd(err error, epoch uint64) {
	var (
		connErr   *ConnectError
		subErr    *SubscribeError
		streamErr *StreamError
		panicErr  *TaskPanicError
	)
	switch {
	case err == nil:
		log.Info().Uint64("epoch", epoch).Msg("epoch ended")
	case errors.As(err, &connErr):
		log.Warn().Err(connErr.Err).Msg("connection attempt failed")
	case errors.As(err, &subErr):
		log.Error().Err(subErr.Err).Str("stream", subErr.Stream).Uint64("epoch", epoch).Msg("subscription rejected")
	case errors.As(err, &panicErr):
		log.Error().Str("task", panicErr.Task).Uint64("epoch", epoch).Msg("epoch ended by task panic")
	case errors.As(err, &streamErr):
		log.Warn().Str("stream", streamErr.Stream).Uint64("epoch", epoch).Msg("telemetry stream terminated")
	case errors.Is(err, ErrLinkLost):
		log.Warn().Uint64("epoch", epoch).Msg("connection lost")
	case errors.Is(err, ErrLinkSilent):
		log.Warn().Uint64("epoch", epoch).Msg("telemetry link went silent")
	default:
		log.Error().Err(err).Uint64("epoch", epoch).Msg("epoch failed unexpectedly")
	}
}
