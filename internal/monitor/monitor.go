// Package monitor probes the network path to the vehicle (usually a
// radio modem) and grades it. The result is diagnostic only; the
// connection supervisor never acts on it.
package monitor

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"
)

// Report is the outcome of one probe round.
type Report struct {
	Host    string      `json:"host"`
	At      time.Time   `json:"at"`
	Metrics PingMetrics `json:"metrics"`
	Quality Quality     `json:"quality"`
	Err     string      `json:"error,omitempty"`
}

type ReportHook func(Report)

type Monitor struct {
	host     string
	pinger   Pinger
	engine   *Evaluator
	interval time.Duration
	clock    clock.Clock
	hook     ReportHook
}

func New(host string, pinger Pinger, engine *Evaluator, interval time.Duration, clk clock.Clock, hook ReportHook) *Monitor {
	if clk == nil {
		clk = clock.New()
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Monitor{
		host:     host,
		pinger:   pinger,
		engine:   engine,
		interval: interval,
		clock:    clk,
		hook:     hook,
	}
}

func (m *Monitor) Run(ctx context.Context) {
	log.Info().Str("host", m.host).Dur("interval", m.interval).Msg("link monitor started")

	ticker := m.clock.Ticker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("link monitor stopping")
			return
		case <-ticker.C:
			m.RunOnce(ctx)
		}
	}
}

func (m *Monitor) RunOnce(ctx context.Context) Report {
	r := Report{Host: m.host, At: m.clock.Now()}
	prev := m.engine.State()

	metrics, err := m.pinger.Probe(ctx)
	if err != nil {
		r.Err = err.Error()
		r.Quality = m.engine.Fail()
		log.Warn().Err(err).Str("host", m.host).Str("quality", string(r.Quality)).Msg("link probe failed")
	} else {
		r.Metrics = metrics
		r.Quality = m.engine.Evaluate(metrics)
		log.Debug().
			Str("host", m.host).
			Str("quality", string(r.Quality)).
			Float64("latency_ms", metrics.AvgLatencyMs).
			Float64("packet_loss", metrics.PacketLoss).
			Float64("jitter_ms", metrics.JitterMs).
			Msg("link probe evaluated")
	}

	if r.Quality != prev {
		log.Info().Str("host", m.host).Str("from", string(prev)).Str("to", string(r.Quality)).Msg("link quality changed")
	}
	if m.hook != nil {
		m.hook(r)
	}
	return r
}
