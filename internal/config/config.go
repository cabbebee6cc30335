// Package config holds the daemon configuration, loadable from a YAML
// file with sensible defaults.
package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// Config stores the transport and engine parameters. Durations are
// expressed in milliseconds in the YAML file.
type Config struct {
	ListenAddr      string `yaml:"listen_addr"`
	WindowSize      int    `yaml:"window_size"`       // per-connection store capacity
	InboxSize       int    `yaml:"inbox_size"`        // per-peer inbox channel capacity
	IdleTimeoutMS   int    `yaml:"idle_timeout_ms"`   // no traffic for this long ⇒ marked dead
	PruneIntervalMS int    `yaml:"prune_interval_ms"` // dead-connection sweep period
	Debug           bool   `yaml:"debug"`
}

// Default returns the stock configuration.
func Default() Config {
	return Config{
		ListenAddr:      ":13999",
		WindowSize:      1024,
		InboxSize:       64,
		IdleTimeoutMS:   10_000,
		PruneIntervalMS: 5_000,
	}
}

// Load reads a YAML config file over the defaults. An empty path returns
// the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "read config %s", path)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parse config %s", path)
	}
	return cfg, nil
}

// IdleTimeout returns the idle timeout as a duration.
func (c Config) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutMS) * time.Millisecond
}

// PruneInterval returns the sweep period as a duration.
func (c Config) PruneInterval() time.Duration {
	return time.Duration(c.PruneIntervalMS) * time.Millisecond
}
