package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/multierr"
)

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"` // json or console
	File       string `mapstructure:"file"`   // optional rotated JSON log
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

type LinkConfig struct {
	Address          string        `mapstructure:"address"`
	RateHz           float64       `mapstructure:"rate_hz"`
	RetryDelay       time.Duration `mapstructure:"retry_delay"`
	LivenessTimeout  time.Duration `mapstructure:"liveness_timeout"`
	ConnectTimeout   time.Duration `mapstructure:"connect_timeout"`
	HeartbeatTimeout time.Duration `mapstructure:"heartbeat_timeout"`
}

type SamplerConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

type QueueConfig struct {
	Capacity int `mapstructure:"capacity"`
}

type PublisherConfig struct {
	Interval   time.Duration `mapstructure:"interval"`
	ErrorPause time.Duration `mapstructure:"error_pause"`
}

type EntityConfig struct {
	ID              string        `mapstructure:"id"`
	Name            string        `mapstructure:"name"`
	Description     string        `mapstructure:"description"`
	IntegrationName string        `mapstructure:"integration_name"`
	PlatformType    string        `mapstructure:"platform_type"`
	ExpiryHorizon   time.Duration `mapstructure:"expiry_horizon"`
}

type SinkConfig struct {
	Kind string `mapstructure:"kind"` // lattice, kafka, log or a comma list
}

type LatticeConfig struct {
	Endpoint           string        `mapstructure:"endpoint"`
	EnvironmentToken   string        `mapstructure:"environment_token"`
	SandboxesToken     string        `mapstructure:"sandboxes_token"`
	Timeout            time.Duration `mapstructure:"timeout"`
	InsecureSkipVerify bool          `mapstructure:"insecure_skip_verify"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// ProbeConfig pings the radio or vehicle host for diagnostics.
type ProbeConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Host       string        `mapstructure:"host"`
	Interval   time.Duration `mapstructure:"interval"`
	Count      int           `mapstructure:"count"`
	Timeout    time.Duration `mapstructure:"timeout"`
	Privileged bool          `mapstructure:"privileged"`
}

type HealthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

type Config struct {
	Link      LinkConfig      `mapstructure:"link"`
	Sampler   SamplerConfig   `mapstructure:"sampler"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Publisher PublisherConfig `mapstructure:"publisher"`
	Entity    EntityConfig    `mapstructure:"entity"`
	Sink      SinkConfig      `mapstructure:"sink"`
	Lattice   LatticeConfig   `mapstructure:"lattice"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Probe     ProbeConfig     `mapstructure:"probe"`
	Health    HealthConfig    `mapstructure:"health"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// Sink kinds accepted in sink.kind.
const (
	SinkLattice = "lattice"
	SinkKafka   = "kafka"
	SinkLog     = "log"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("link.address", "udp://:14540")
	v.SetDefault("link.rate_hz", 10.0)
	v.SetDefault("link.retry_delay", time.Second)
	v.SetDefault("link.liveness_timeout", 5*time.Second)
	v.SetDefault("link.connect_timeout", 10*time.Second)
	v.SetDefault("link.heartbeat_timeout", 3*time.Second)

	v.SetDefault("sampler.interval", time.Second)
	v.SetDefault("queue.capacity", 10)
	v.SetDefault("publisher.interval", time.Second)
	v.SetDefault("publisher.error_pause", time.Second)

	v.SetDefault("entity.id", "drone-1")
	v.SetDefault("entity.name", "ARK Drone")
	v.SetDefault("entity.description", "Friendly drone asset")
	v.SetDefault("entity.integration_name", "mavsdk_integration")
	v.SetDefault("entity.platform_type", "UAV")
	v.SetDefault("entity.expiry_horizon", 10*time.Minute)

	v.SetDefault("sink.kind", SinkLattice)
	v.SetDefault("lattice.endpoint", "")
	v.SetDefault("lattice.environment_token", "")
	v.SetDefault("lattice.sandboxes_token", "")
	v.SetDefault("lattice.timeout", 5*time.Second)
	v.SetDefault("lattice.insecure_skip_verify", false)
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "lattice.entities")

	v.SetDefault("probe.enabled", false)
	v.SetDefault("probe.host", "")
	v.SetDefault("probe.interval", 10*time.Second)
	v.SetDefault("probe.count", 5)
	v.SetDefault("probe.timeout", 5*time.Second)
	v.SetDefault("probe.privileged", false)

	v.SetDefault("health.enabled", true)
	v.SetDefault("health.addr", "127.0.0.1:8085")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 50)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 14)
}

// LoadConfig reads path (if it exists) and the environment. Every key can
// be overridden as BRIDGE_<SECTION>_<KEY>; the Lattice credentials also
// come from LATTICE_ENDPOINT, ENVIRONMENT_TOKEN and SANDBOXES_TOKEN.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("BRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range map[string]string{
		"lattice.endpoint":          "LATTICE_ENDPOINT",
		"lattice.environment_token": "ENVIRONMENT_TOKEN",
		"lattice.sandboxes_token":   "SANDBOXES_TOKEN",
	} {
		if err := v.BindEnv(key, "BRIDGE_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			v.SetConfigType("yaml")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SinkKinds returns the normalised entries of sink.kind.
func (c *Config) SinkKinds() []string {
	var kinds []string
	for _, k := range strings.Split(c.Sink.Kind, ",") {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var err error
	positive := func(name string, d time.Duration) {
		if d <= 0 {
			err = multierr.Append(err, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	positive("link.retry_delay", c.Link.RetryDelay)
	positive("link.liveness_timeout", c.Link.LivenessTimeout)
	positive("link.connect_timeout", c.Link.ConnectTimeout)
	positive("link.heartbeat_timeout", c.Link.HeartbeatTimeout)
	positive("sampler.interval", c.Sampler.Interval)
	positive("publisher.interval", c.Publisher.Interval)
	positive("publisher.error_pause", c.Publisher.ErrorPause)
	positive("entity.expiry_horizon", c.Entity.ExpiryHorizon)

	if c.Link.RateHz <= 0 {
		err = multierr.Append(err, fmt.Errorf("link.rate_hz must be positive, got %v", c.Link.RateHz))
	}
	if c.Queue.Capacity < 1 {
		err = multierr.Append(err, fmt.Errorf("queue.capacity must be at least 1, got %d", c.Queue.Capacity))
	}
	if c.Entity.ID == "" {
		err = multierr.Append(err, errors.New("entity.id is required"))
	}

	if c.Probe.Enabled {
		positive("probe.interval", c.Probe.Interval)
		positive("probe.timeout", c.Probe.Timeout)
		if c.Probe.Host == "" {
			err = multierr.Append(err, errors.New("probe.host is required when the link probe is enabled"))
		}
	}

	kinds := c.SinkKinds()
	if len(kinds) == 0 {
		err = multierr.Append(err, errors.New("sink.kind is required"))
	}
	for _, k := range kinds {
		switch k {
		case SinkLattice:
			positive("lattice.timeout", c.Lattice.Timeout)
			if c.Lattice.Endpoint == "" {
				err = multierr.Append(err, errors.New("LATTICE_ENDPOINT is required for the lattice sink"))
			}
			if c.Lattice.EnvironmentToken == "" {
				err = multierr.Append(err, errors.New("ENVIRONMENT_TOKEN is required for the lattice sink"))
			}
			if c.Lattice.SandboxesToken == "" {
				err = multierr.Append(err, errors.New("SANDBOXES_TOKEN is required for the lattice sink"))
			}
		case SinkKafka:
			if len(c.Kafka.Brokers) == 0 {
				err = multierr.Append(err, errors.New("kafka.brokers is required for the kafka sink"))
			}
		case SinkLog:
		default:
			err = multierr.Append(err, fmt.Errorf("unknown sink kind %q", k))
		}
	}
	return err
}
