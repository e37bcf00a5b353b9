// Package config holds the yaml configuration of the snapupd daemon.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sushant-115/snapupd/pkg/bus"
	"github.com/sushant-115/snapupd/pkg/logger"
	"github.com/sushant-115/snapupd/pkg/telemetry"
)

// Backend names accepted in DaemonConfig.Backend.
const (
	BackendTukit  = "tukit"
	BackendMemory = "memory"
)

// Config is the top-level daemon configuration.
type Config struct {
	Logger    logger.Config    `yaml:"logger"`
	Telemetry telemetry.Config `yaml:"telemetry"`
	Bus       bus.Config       `yaml:"bus"`
	Daemon    DaemonConfig     `yaml:"daemon"`
}

// DaemonConfig configures the transaction coordinator itself.
type DaemonConfig struct {
	// Backend selects the snapshot backend: "tukit" or "memory".
	Backend string `yaml:"backend"`
	// TukitBinary overrides the tukit executable path.
	TukitBinary string `yaml:"tukit_binary"`
	// DrainInterval is how often a deferred termination request is
	// reconsidered while transactions are still in flight.
	DrainInterval Duration `yaml:"drain_interval"`
}

// Duration is a time.Duration that unmarshals from yaml strings like "250ms".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("durations must be strings like \"1s\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Logger: logger.Config{
			Level:  "info",
			Format: "console",
			Output: "stdout",
		},
		Telemetry: telemetry.Config{
			Enabled:        false,
			ServiceName:    "snapupd",
			PrometheusPort: 9464,
		},
		Daemon: DaemonConfig{
			Backend:       BackendTukit,
			DrainInterval: Duration(time.Second),
		},
	}
}

// Load reads the configuration from path, layered over the defaults. An
// empty path returns the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return cfg, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Daemon.Backend {
	case BackendTukit, BackendMemory:
	default:
		return fmt.Errorf("unknown snapshot backend %q", c.Daemon.Backend)
	}
	if c.Daemon.DrainInterval <= 0 {
		return fmt.Errorf("drain_interval must be positive, got %s", time.Duration(c.Daemon.DrainInterval))
	}
	return nil
}
