package monitor

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

type Quality string

const (
	QualityUnknown  Quality = "UNKNOWN"
	QualityGood     Quality = "GOOD"
	QualityDegraded Quality = "DEGRADED"
)

type ThresholdConfig struct {
	MaxLatencyMs  float64
	MaxPacketLoss float64
	MaxJitterMs   float64

	// Recovery values are lower than the Max values so the state does
	// not flap around a single threshold.
	RecoveryLatency float64
	RecoveryLoss    float64
	RecoveryJitter  float64

	Cooldown time.Duration
}

func DefaultThresholds() ThresholdConfig {
	return ThresholdConfig{
		MaxLatencyMs:    250,
		MaxPacketLoss:   20,
		MaxJitterMs:     50,
		RecoveryLatency: 175,
		RecoveryLoss:    14,
		RecoveryJitter:  30,
		Cooldown:        15 * time.Second,
	}
}

// Evaluator classifies probe results with hysteresis and a cooldown
// between changes.
type Evaluator struct {
	mu         sync.Mutex
	cfg        ThresholdConfig
	clock      clock.Clock
	state      Quality
	lastChange time.Time
}

func NewEvaluator(cfg ThresholdConfig, clk clock.Clock) *Evaluator {
	if clk == nil {
		clk = clock.New()
	}
	return &Evaluator{cfg: cfg, clock: clk, state: QualityUnknown}
}

func (e *Evaluator) State() Quality {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Evaluator) Evaluate(m PingMetrics) Quality {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock.Now()
	bad := m.AvgLatencyMs > e.cfg.MaxLatencyMs ||
		m.PacketLoss > e.cfg.MaxPacketLoss ||
		m.JitterMs > e.cfg.MaxJitterMs

	switch e.state {
	case QualityUnknown:
		e.state = QualityGood
		if bad {
			e.state = QualityDegraded
		}
		e.lastChange = now

	case QualityGood:
		if bad && now.Sub(e.lastChange) >= e.cfg.Cooldown {
			e.state = QualityDegraded
			e.lastChange = now
		}

	case QualityDegraded:
		recovered := m.AvgLatencyMs < e.cfg.RecoveryLatency &&
			m.PacketLoss < e.cfg.RecoveryLoss &&
			m.JitterMs < e.cfg.RecoveryJitter
		if recovered && now.Sub(e.lastChange) >= e.cfg.Cooldown {
			e.state = QualityGood
			e.lastChange = now
		}
	}
	return e.state
}

// Fail records a probe that got no answer at all.
func (e *Evaluator) Fail() Quality {
	return e.Evaluate(PingMetrics{PacketLoss: 100})
}
