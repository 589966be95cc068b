// ABOUTME: Worker configuration: TOML with env expansion.
// ABOUTME: Channel location, agent adapter command, and loop timing.

package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// WorkerConfig is the complete warren-worker configuration.
type WorkerConfig struct {
	Channel ChannelTOML `toml:"channel"`
	Agent   AgentConfig `toml:"agent"`
	Loop    LoopConfig  `toml:"loop"`
	Logging LoggingTOML `toml:"logging"`
}

// ChannelTOML locates the filesystem channel shared with the host.
type ChannelTOML struct {
	Root string `toml:"root"`
}

// AgentConfig describes the agent adapter the worker shells out to.
type AgentConfig struct {
	Provider  string   `toml:"provider"`
	Binary    string   `toml:"binary"`
	ExtraArgs []string `toml:"extra_args"`
	Model     string   `toml:"model"`
	WorkDir   string   `toml:"workdir"`
}

// LoopConfig holds polling and heartbeat timing.
type LoopConfig struct {
	PollInterval      time.Duration `toml:"-"`
	HeartbeatInterval time.Duration `toml:"-"`

	PollIntervalRaw      string `toml:"poll_interval"`
	HeartbeatIntervalRaw string `toml:"heartbeat_interval"`
}

// LoggingTOML holds logging configuration.
type LoggingTOML struct {
	Level string `toml:"level"`
}

// LoadWorker reads and validates a worker configuration file. Environment
// variables in ${VAR} form are expanded before parsing.
func LoadWorker(path string) (*WorkerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg WorkerConfig
	if _, err := toml.Decode(expanded, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := parseWorkerDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Validate checks that required config fields are present.
func (c *WorkerConfig) Validate() error {
	if c.Channel.Root == "" {
		return fmt.Errorf("channel.root is required")
	}
	if c.Agent.Binary == "" {
		return fmt.Errorf("agent.binary is required")
	}
	return nil
}

func parseWorkerDurations(cfg *WorkerConfig) error {
	fields := []struct {
		raw  string
		name string
		dst  *time.Duration
	}{
		{cfg.Loop.PollIntervalRaw, "loop.poll_interval", &cfg.Loop.PollInterval},
		{cfg.Loop.HeartbeatIntervalRaw, "loop.heartbeat_interval", &cfg.Loop.HeartbeatInterval},
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
