// ABOUTME: Configuration loading and parsing for coven-turns
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied when the corresponding field is absent from the file.
const (
	DefaultTickInterval        = 90 * time.Second
	DefaultTickJitter          = 15 * time.Second
	DefaultSuppressionWindow   = 4 * time.Second
	DefaultHumanActivityWindow = 10 * time.Minute
	DefaultAgentCooldown       = 10 * time.Minute
	DefaultSweepBudget         = 8
	DefaultMaxTurnsPerTick     = 3
	DefaultChannelScanLimit    = 50
)

// Config represents the complete coven-turns configuration
type Config struct {
	Database    DatabaseConfig    `yaml:"database"`
	Scheduler   SchedulerConfig   `yaml:"scheduler"`
	Logging     LoggingConfig     `yaml:"logging"`
	Communities []CommunityConfig `yaml:"communities"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// SchedulerConfig holds the turn-scheduling knobs. All durations are parsed
// from Go duration strings ("90s", "4s", "10m").
type SchedulerConfig struct {
	TickInterval        time.Duration `yaml:"-"`
	TickJitter          time.Duration `yaml:"-"`
	SuppressionWindow   time.Duration `yaml:"-"`
	HumanActivityWindow time.Duration `yaml:"-"`
	AgentCooldown       time.Duration `yaml:"-"`

	// SweepBudget caps how many turns a single ambient sweep may grant
	// across all channels.
	SweepBudget int `yaml:"sweep_budget"`

	// MaxTurnsPerTick caps how many agents may act in one channel per tick.
	MaxTurnsPerTick int `yaml:"max_turns_per_tick"`

	// ChannelScanLimit bounds how many recently-active channels a sweep visits.
	ChannelScanLimit int `yaml:"channel_scan_limit"`

	// Raw string values for YAML unmarshaling
	TickIntervalRaw        string `yaml:"tick_interval"`
	TickJitterRaw          string `yaml:"tick_jitter"`
	SuppressionWindowRaw   string `yaml:"suppression_window"`
	HumanActivityWindowRaw string `yaml:"human_activity_window"`
	AgentCooldownRaw       string `yaml:"agent_cooldown"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// CommunityConfig describes one community: the channels it owns and the
// agents that may take turns in them.
type CommunityConfig struct {
	ID       string        `yaml:"id"`
	Channels []string      `yaml:"channels"`
	Agents   []AgentConfig `yaml:"agents"`
}

// AgentConfig describes a single agent in a community roster
type AgentConfig struct {
	ID          string `yaml:"id"`
	DisplayName string `yaml:"display_name"`
	Emoji       string `yaml:"emoji"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Scheduler.SweepBudget < 1 {
		return fmt.Errorf("scheduler.sweep_budget must be at least 1")
	}
	if c.Scheduler.MaxTurnsPerTick < 1 {
		return fmt.Errorf("scheduler.max_turns_per_tick must be at least 1")
	}
	if c.Scheduler.TickJitter >= c.Scheduler.TickInterval {
		return fmt.Errorf("scheduler.tick_jitter must be smaller than tick_interval")
	}

	seenAgents := make(map[string]bool)
	seenChannels := make(map[string]bool)
	for _, community := range c.Communities {
		if community.ID == "" {
			return fmt.Errorf("community id is required")
		}
		for _, ch := range community.Channels {
			if seenChannels[ch] {
				return fmt.Errorf("channel %q appears in more than one community", ch)
			}
			seenChannels[ch] = true
		}
		for _, agent := range community.Agents {
			if agent.ID == "" {
				return fmt.Errorf("agent id is required in community %q", community.ID)
			}
			if agent.DisplayName == "" {
				return fmt.Errorf("agent %q needs a display_name", agent.ID)
			}
			if seenAgents[agent.ID] {
				return fmt.Errorf("agent %q appears in more than one community", agent.ID)
			}
			seenAgents[agent.ID] = true
		}
	}

	return nil
}

// applyDefaults fills in zero-valued scheduler fields
func applyDefaults(cfg *Config) {
	s := &cfg.Scheduler
	if s.TickInterval == 0 {
		s.TickInterval = DefaultTickInterval
	}
	if s.TickJitter == 0 {
		s.TickJitter = DefaultTickJitter
	}
	if s.SuppressionWindow == 0 {
		s.SuppressionWindow = DefaultSuppressionWindow
	}
	if s.HumanActivityWindow == 0 {
		s.HumanActivityWindow = DefaultHumanActivityWindow
	}
	if s.AgentCooldown == 0 {
		s.AgentCooldown = DefaultAgentCooldown
	}
	if s.SweepBudget == 0 {
		s.SweepBudget = DefaultSweepBudget
	}
	if s.MaxTurnsPerTick == 0 {
		s.MaxTurnsPerTick = DefaultMaxTurnsPerTick
	}
	if s.ChannelScanLimit == 0 {
		s.ChannelScanLimit = DefaultChannelScanLimit
	}
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		raw  string
		name string
		dst  *time.Duration
	}{
		{cfg.Scheduler.TickIntervalRaw, "tick_interval", &cfg.Scheduler.TickInterval},
		{cfg.Scheduler.TickJitterRaw, "tick_jitter", &cfg.Scheduler.TickJitter},
		{cfg.Scheduler.SuppressionWindowRaw, "suppression_window", &cfg.Scheduler.SuppressionWindow},
		{cfg.Scheduler.HumanActivityWindowRaw, "human_activity_window", &cfg.Scheduler.HumanActivityWindow},
		{cfg.Scheduler.AgentCooldownRaw, "agent_cooldown", &cfg.Scheduler.AgentCooldown},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
