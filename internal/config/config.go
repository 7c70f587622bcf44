// Package config loads the runtime configuration from TOML or YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/zeusync/goalpipe/internal/core/observability/log"
)

var ErrUnsupportedFormat = errors.New("unsupported config format")

// Config is the root of the runtime configuration.
type Config struct {
	Log       LogConfig       `toml:"log" yaml:"log"`
	Scheduler SchedulerConfig `toml:"scheduler" yaml:"scheduler"`
	Pipes     PipesConfig     `toml:"pipes" yaml:"pipes"`
	Agents    []AgentConfig   `toml:"agents" yaml:"agents"`
}

type LogConfig struct {
	Level       string `toml:"level" yaml:"level"`
	Development bool   `toml:"development" yaml:"development"`
}

// ParsedLevel maps Level onto the logger levels.
func (l LogConfig) ParsedLevel() log.Level {
	return log.ParseLevel(strings.ToLower(l.Level))
}

type SchedulerConfig struct {
	Interval Duration `toml:"interval" yaml:"interval"`
	Workers  int      `toml:"workers" yaml:"workers"`
	MaxPops  int      `toml:"max_pops" yaml:"max_pops"`
	// StateFile, when set, is restored on start and written on shutdown.
	StateFile string `toml:"state_file" yaml:"state_file"`
}

type PipesConfig struct {
	Paths []string `toml:"paths" yaml:"paths"`
	Watch bool     `toml:"watch" yaml:"watch"`
}

// AgentConfig spawns Count agents running Pipe. With Count > 1 the ids are
// suffixed with an index.
type AgentConfig struct {
	ID         string         `toml:"id" yaml:"id"`
	Pipe       string         `toml:"pipe" yaml:"pipe"`
	Count      int            `toml:"count" yaml:"count"`
	Blackboard map[string]any `toml:"blackboard" yaml:"blackboard"`
}

// IDs expands the agent ids the entry spawns.
func (a AgentConfig) IDs() []string {
	if a.Count <= 1 {
		return []string{a.ID}
	}
	ids := make([]string, a.Count)
	for i := range ids {
		ids[i] = fmt.Sprintf("%s-%d", a.ID, i)
	}
	return ids
}

// Duration reads "50ms" style strings from both formats.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// New returns a config populated with defaults.
func New() *Config {
	return &Config{
		Log: LogConfig{Level: "info"},
		Scheduler: SchedulerConfig{
			Interval: Duration{50 * time.Millisecond},
			Workers:  4,
			MaxPops:  64,
		},
		Pipes: PipesConfig{Paths: []string{"pipes"}},
	}
}

// LoadFile decodes path over the defaults, picking the format from the
// extension.
func LoadFile(path string) (*Config, error) {
	cfg := New()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	case ".yaml", ".yml":
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var all error
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error", "fatal":
	default:
		all = errors.Join(all, fmt.Errorf("log.level: unknown level %q", c.Log.Level))
	}
	if c.Scheduler.Interval.Duration <= 0 {
		all = errors.Join(all, errors.New("scheduler.interval must be positive"))
	}
	if c.Scheduler.Workers < 0 {
		all = errors.Join(all, errors.New("scheduler.workers cannot be negative"))
	}
	if c.Scheduler.MaxPops < 0 {
		all = errors.Join(all, errors.New("scheduler.max_pops cannot be negative"))
	}
	if len(c.Pipes.Paths) == 0 {
		all = errors.Join(all, errors.New("pipes.paths is empty"))
	}
	seen := make(map[string]bool)
	for i, a := range c.Agents {
		if a.ID == "" {
			all = errors.Join(all, fmt.Errorf("agents[%d]: id is required", i))
			continue
		}
		if a.Pipe == "" {
			all = errors.Join(all, fmt.Errorf("agent %s: pipe is required", a.ID))
		}
		if a.Count < 0 {
			all = errors.Join(all, fmt.Errorf("agent %s: count cannot be negative", a.ID))
		}
		for _, id := range a.IDs() {
			if seen[id] {
				all = errors.Join(all, fmt.Errorf("agent %s: duplicate id", id))
			}
			seen[id] = true
		}
	}
	return all
}
