package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/go-ping/ping"
)

type PingMetrics struct {
	AvgLatencyMs float64 `json:"avg_latency_ms"`
	PacketLoss   float64 `json:"packet_loss_pct"`
	JitterMs     float64 `json:"jitter_ms"`
}

// Pinger measures one round of echo requests to the radio or vehicle host.
type Pinger interface {
	Probe(ctx context.Context) (PingMetrics, error)
}

type PingConfig struct {
	Host       string
	Count      int
	Timeout    time.Duration
	Privileged bool // raw ICMP; otherwise unprivileged UDP ping
}

type ICMPPinger struct {
	cfg PingConfig
}

func NewICMPPinger(cfg PingConfig) *ICMPPinger {
	if cfg.Count <= 0 {
		cfg.Count = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &ICMPPinger{cfg: cfg}
}

func (p *ICMPPinger) Probe(ctx context.Context) (PingMetrics, error) {
	pinger, err := ping.NewPinger(p.cfg.Host)
	if err != nil {
		return PingMetrics{}, fmt.Errorf("create pinger for %s: %w", p.cfg.Host, err)
	}
	pinger.Count = p.cfg.Count
	pinger.Timeout = p.cfg.Timeout
	pinger.SetPrivileged(p.cfg.Privileged)

	stop := context.AfterFunc(ctx, pinger.Stop)
	defer stop()

	if err := pinger.Run(); err != nil {
		return PingMetrics{}, fmt.Errorf("ping %s: %w", p.cfg.Host, err)
	}

	stats := pinger.Statistics()
	return PingMetrics{
		AvgLatencyMs: float64(stats.AvgRtt) / float64(time.Millisecond),
		PacketLoss:   stats.PacketLoss,
		JitterMs:     jitterMs(stats.Rtts),
	}, nil
}

// jitterMs is the mean absolute difference between consecutive RTTs.
func jitterMs(rtts []time.Duration) float64 {
	if len(rtts) < 2 {
		return 0
	}
	var total time.Duration
	for i := 1; i < len(rtts); i++ {
		diff := rtts[i] - rtts[i-1]
		if diff < 0 {
			diff = -diff
		}
		total += diff
	}
	return float64(total) / float64(len(rtts)-1) / float64(time.Millisecond)
}
