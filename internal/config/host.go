// ABOUTME: Host configuration: YAML with env expansion and duration parsing.
// ABOUTME: Covers channel, database, Matrix, supervision, and pipeline knobs.

package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// HostConfig is the complete warren-host configuration.
type HostConfig struct {
	Channel    ChannelConfig    `yaml:"channel"`
	Database   DatabaseConfig   `yaml:"database"`
	Matrix     MatrixConfig     `yaml:"matrix"`
	Worker     WorkerLaunch     `yaml:"worker"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ChannelConfig locates the filesystem channel shared with the worker.
type ChannelConfig struct {
	Root string `yaml:"root"`
}

// DatabaseConfig holds the SQLite database location.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// MatrixConfig holds the Matrix connection and room policy.
type MatrixConfig struct {
	Homeserver      string   `yaml:"homeserver"`
	UserID          string   `yaml:"user_id"`
	AccessToken     string   `yaml:"access_token"`
	AllowedRooms    []string `yaml:"allowed_rooms"`
	CommandPrefix   string   `yaml:"command_prefix"`
	TypingIndicator bool     `yaml:"typing_indicator"`
}

// WorkerLaunch describes how the host launches its worker process.
type WorkerLaunch struct {
	Binary     string `yaml:"binary"`
	ConfigPath string `yaml:"config_path"`
	Provider   string `yaml:"provider"`
	Model      string `yaml:"model"`
	WorkDir    string `yaml:"workdir"`
}

// SupervisorConfig holds liveness and retry timing.
type SupervisorConfig struct {
	HeartbeatInterval time.Duration `yaml:"-"`
	StaleAfter        time.Duration `yaml:"-"`
	ResponseTimeout   time.Duration `yaml:"-"`
	ResponsePoll      time.Duration `yaml:"-"`
	MaxRestarts       int           `yaml:"max_restarts"`
	QueueCap          int           `yaml:"queue_cap"`

	// Raw string values for YAML unmarshaling
	HeartbeatIntervalRaw string `yaml:"heartbeat_interval"`
	StaleAfterRaw        string `yaml:"stale_after"`
	ResponseTimeoutRaw   string `yaml:"response_timeout"`
	ResponsePollRaw      string `yaml:"response_poll"`
}

// PipelineConfig holds streaming presentation knobs.
type PipelineConfig struct {
	ShowThinking bool          `yaml:"show_thinking"`
	Verbose      bool          `yaml:"verbose"`
	EditInterval time.Duration `yaml:"-"`
	MaxMessage   int           `yaml:"max_message"`

	EditIntervalRaw string `yaml:"edit_interval"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LoadHost reads and validates a host configuration file. Environment
// variables in the format ${VAR_NAME} are expanded before parsing.
func LoadHost(path string) (*HostConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg HostConfig
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseHostDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values. Unset variables expand to the empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present.
func (c *HostConfig) Validate() error {
	if c.Channel.Root == "" {
		return fmt.Errorf("channel.root is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Matrix.Homeserver == "" {
		return fmt.Errorf("matrix.homeserver is required")
	}
	if _, err := url.Parse(c.Matrix.Homeserver); err != nil {
		return fmt.Errorf("matrix.homeserver is not a valid URL: %w", err)
	}
	if c.Matrix.UserID == "" {
		return fmt.Errorf("matrix.user_id is required")
	}
	if c.Matrix.AccessToken == "" {
		return fmt.Errorf("matrix.access_token is required")
	}
	if c.Worker.Binary == "" {
		return fmt.Errorf("worker.binary is required")
	}
	if c.Supervisor.MaxRestarts < 0 {
		return fmt.Errorf("supervisor.max_restarts must not be negative")
	}
	return nil
}

func parseHostDurations(cfg *HostConfig) error {
	fields := []struct {
		raw  string
		name string
		dst  *time.Duration
	}{
		{cfg.Supervisor.HeartbeatIntervalRaw, "supervisor.heartbeat_interval", &cfg.Supervisor.HeartbeatInterval},
		{cfg.Supervisor.StaleAfterRaw, "supervisor.stale_after", &cfg.Supervisor.StaleAfter},
		{cfg.Supervisor.ResponseTimeoutRaw, "supervisor.response_timeout", &cfg.Supervisor.ResponseTimeout},
		{cfg.Supervisor.ResponsePollRaw, "supervisor.response_poll", &cfg.Supervisor.ResponsePoll},
		{cfg.Pipeline.EditIntervalRaw, "pipeline.edit_interval", &cfg.Pipeline.EditInterval},
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
