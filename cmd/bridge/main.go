package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"

	"github.com/bilal/lattice-bridge/internal/config"
	"github.com/bilal/lattice-bridge/internal/entity"
	"github.com/bilal/lattice-bridge/internal/health"
	"github.com/bilal/lattice-bridge/internal/logger"
	"github.com/bilal/lattice-bridge/internal/monitor"
	"github.com/bilal/lattice-bridge/internal/publisher"
	"github.com/bilal/lattice-bridge/internal/queue"
	"github.com/bilal/lattice-bridge/internal/sink"
	"github.com/bilal/lattice-bridge/internal/source/mavlink"
	"github.com/bilal/lattice-bridge/internal/source/sim"
	"github.com/bilal/lattice-bridge/internal/supervisor"
	"github.com/bilal/lattice-bridge/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file (optional)")
	dev := flag.Bool("dev", false, "use the simulated vehicle instead of MAVLink")
	flag.Parse()

	// Load config
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Logging)
	log.Info().
		Str("entity_id", cfg.Entity.ID).
		Strs("sinks", cfg.SinkKinds()).
		Bool("dev", *dev).
		Msg("starting lattice bridge")

	out, err := buildSink(cfg)
	if err != nil {
		log.Error().Err(err).Msg("failed to create sink")
		os.Exit(1)
	}

	src, err := buildSource(cfg, *dev)
	if err != nil {
		log.Error().Err(err).Msg("failed to create telemetry source")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	healthSrv := health.New(cfg.Health.Addr)
	healthSrv.SetRunning(true)
	if cfg.Health.Enabled {
		go func() {
			if err := healthSrv.Serve(); err != nil {
				log.Error().Err(err).Msg("health server stopped")
			}
		}()
		log.Info().Str("addr", cfg.Health.Addr).Msg("health endpoint running on /health")
	}

	q := queue.New[telemetry.Sample](cfg.Queue.Capacity)

	sup := supervisor.New(src, q, supervisor.Config{
		RetryDelay:      cfg.Link.RetryDelay,
		LivenessTimeout: cfg.Link.LivenessTimeout,
		SampleInterval:  cfg.Sampler.Interval,
		RateHz:          cfg.Link.RateHz,
	}, supervisor.WithStateHook(healthSrv.SetLinkState))

	builder := entity.NewBuilder(entity.Identity{
		ID:              cfg.Entity.ID,
		Name:            cfg.Entity.Name,
		Description:     cfg.Entity.Description,
		IntegrationName: cfg.Entity.IntegrationName,
		PlatformType:    cfg.Entity.PlatformType,
	}, cfg.Entity.ExpiryHorizon, nil)

	pub := publisher.New(q, out, builder, publisher.Config{
		Interval:   cfg.Publisher.Interval,
		ErrorPause: cfg.Publisher.ErrorPause,
	}, publisher.WithResultHook(healthSrv.RecordPublish), publisher.WithActiveEpoch(sup.ActiveEpoch))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); sup.Run(ctx) }()
	go func() { defer wg.Done(); pub.Run(ctx) }()

	if cfg.Probe.Enabled {
		mon := monitor.New(cfg.Probe.Host, monitor.NewICMPPinger(monitor.PingConfig{
			Host:       cfg.Probe.Host,
			Count:      cfg.Probe.Count,
			Timeout:    cfg.Probe.Timeout,
			Privileged: cfg.Probe.Privileged,
		}), monitor.NewEvaluator(monitor.DefaultThresholds(), nil), cfg.Probe.Interval, nil, healthSrv.SetProbe)
		wg.Add(1)
		go func() { defer wg.Done(); mon.Run(ctx) }()
	}

	<-ctx.Done()
	log.Warn().Msg("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	stopped := make(chan struct{})
	go func() {
		wg.Wait()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-shutdownCtx.Done():
		log.Error().Msg("telemetry tasks did not stop in time")
	}

	healthSrv.SetRunning(false)
	if err := multierr.Combine(out.Close(), healthSrv.Shutdown(shutdownCtx)); err != nil {
		log.Error().Err(err).Msg("shutdown errors")
	}

	published, failed := pub.Counts()
	log.Info().
		Uint64("published", published).
		Uint64("failed", failed).
		Uint64("discarded", pub.Discarded()).
		Msg("bridge stopped cleanly")
}

func buildSink(cfg *config.Config) (sink.Sink, error) {
	var sinks sink.Fanout
	for _, kind := range cfg.SinkKinds() {
		switch kind {
		case config.SinkLattice:
			sinks = append(sinks, sink.NewLattice(sink.LatticeConfig{
				Endpoint:           cfg.Lattice.Endpoint,
				EnvironmentToken:   cfg.Lattice.EnvironmentToken,
				SandboxesToken:     cfg.Lattice.SandboxesToken,
				Timeout:            cfg.Lattice.Timeout,
				InsecureSkipVerify: cfg.Lattice.InsecureSkipVerify,
			}))
		case config.SinkKafka:
			k, err := sink.NewKafka(sink.KafkaConfig{Brokers: cfg.Kafka.Brokers, Topic: cfg.Kafka.Topic})
			if err != nil {
				return nil, multierr.Append(err, sinks.Close())
			}
			sinks = append(sinks, k)
		case config.SinkLog:
			sinks = append(sinks, sink.Log{})
		default:
			return nil, multierr.Append(fmt.Errorf("unknown sink kind %q", kind), sinks.Close())
		}
	}
	if len(sinks) == 1 {
		return sinks[0], nil
	}
	return sinks, nil
}

func buildSource(cfg *config.Config, dev bool) (telemetry.Source, error) {
	if dev {
		sc := sim.DefaultConfig()
		sc.RateHz = cfg.Link.RateHz
		return sim.New(sc, nil), nil
	}
	src, err := mavlink.New(mavlink.Config{
		Address:          cfg.Link.Address,
		ConnectTimeout:   cfg.Link.ConnectTimeout,
		HeartbeatTimeout: cfg.Link.HeartbeatTimeout,
	})
	if err != nil {
		return nil, err
	}
	return src, nil
}
