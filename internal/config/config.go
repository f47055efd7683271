package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full process configuration. All durations are in seconds
// in the file to match how deployments have always expressed them.
type Config struct {
	ListenAddr  string `yaml:"listen_addr"`
	MetricsAddr string `yaml:"metrics_addr"`

	// Secret is the shared credential heartbeat senders and the consumer
	// present in X-API-Key. CENTRAL_SECRET in the environment overrides it.
	Secret string `yaml:"secret"`

	StateDir   string `yaml:"state_dir"`
	ArchiveDir string `yaml:"archive_dir"`

	LivenessThresholdSeconds int64 `yaml:"liveness_threshold_seconds"`
	MonitorIntervalSeconds   int64 `yaml:"monitor_interval_seconds"`
	RotateAfterSeconds       int64 `yaml:"rotate_after_seconds"`
	RotateIntervalSeconds    int64 `yaml:"rotate_interval_seconds"`

	NATSURL string `yaml:"nats_url"`
}

// Load reads the YAML config at path. A missing path yields defaults so
// the server can start with nothing but CENTRAL_SECRET set.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, err
		}
	}

	cfg.applyDefaults()
	if v := os.Getenv("CENTRAL_SECRET"); v != "" {
		cfg.Secret = v
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":8000"
	}
	if c.MetricsAddr == "" {
		c.MetricsAddr = ":9090"
	}
	if c.StateDir == "" {
		c.StateDir = "./data/state"
	}
	if c.ArchiveDir == "" {
		c.ArchiveDir = "./data/archive"
	}
	if c.LivenessThresholdSeconds == 0 {
		c.LivenessThresholdSeconds = 60
	}
	if c.RotateAfterSeconds == 0 {
		c.RotateAfterSeconds = 300
	}
	// Monitor and rotate check intervals default to half their threshold
	// downstream; zero here means "derive".
}

func (c *Config) validate() error {
	if c.Secret == "" {
		return fmt.Errorf("secret is required (config `secret` or CENTRAL_SECRET)")
	}
	if c.LivenessThresholdSeconds < 0 {
		return fmt.Errorf("liveness_threshold_seconds must be positive")
	}
	if c.RotateAfterSeconds < 0 {
		return fmt.Errorf("rotate_after_seconds must be positive")
	}
	if c.StateDir == c.ArchiveDir {
		return fmt.Errorf("state_dir and archive_dir must differ")
	}
	return nil
}

func (c *Config) LivenessThreshold() time.Duration {
	return time.Duration(c.LivenessThresholdSeconds) * time.Second
}

func (c *Config) MonitorInterval() time.Duration {
	return time.Duration(c.MonitorIntervalSeconds) * time.Second
}

func (c *Config) RotateAfter() time.Duration {
	return time.Duration(c.RotateAfterSeconds) * time.Second
}

func (c *Config) RotateInterval() time.Duration {
	return time.Duration(c.RotateIntervalSeconds) * time.Second
}
