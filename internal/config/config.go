// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of ssh-agentd.
//
// ssh-agentd is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// agentMaxMsgLen is the wire protocol's hard ceiling on a single framed
// message (AGENT_MAX_MSGLEN). A configured MaxMessageLength may only
// lower this, never raise it.
const agentMaxMsgLen = 256 * 1024

// Config represents the complete agent daemon configuration.
type Config struct {
	Listener  ListenerConfig  `yaml:"listener"`
	Logging   LoggingConfig   `yaml:"logging"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Health    HealthConfig    `yaml:"health"`
}

// ListenerConfig controls the Unix domain socket the agent binds.
type ListenerConfig struct {
	// SocketPath is the filesystem path of the Unix domain socket.
	SocketPath string `yaml:"socket_path"`

	// ListenFD, when non-zero, names an already-open, already-bound
	// listening socket inherited from the parent process (systemd-style
	// socket activation). Validate accepts it in place of SocketPath, but
	// serve does not hand it to the listener, which only binds SocketPath.
	ListenFD int `yaml:"listen_fd"`

	// MaxMessageLength bounds the size of a single framed request.
	// It may only be set at or below the wire protocol's AGENT_MAX_MSGLEN;
	// a larger value is rejected by Validate.
	MaxMessageLength uint32 `yaml:"max_message_length"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// RateLimitConfig controls per-connection request rate limiting.
type RateLimitConfig struct {
	Enabled        bool `yaml:"enabled"`
	RequestsPerMin int  `yaml:"requests_per_min"`
	Burst          int  `yaml:"burst"`
}

// MetricsConfig controls the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Path    string `yaml:"path"`
}

// HealthConfig controls the health check endpoint.
type HealthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Path    string `yaml:"path"`
}

// Default returns the configuration used when no file or flags override it.
func Default() *Config {
	return &Config{
		Listener: ListenerConfig{
			SocketPath:       defaultSocketPath(),
			MaxMessageLength: agentMaxMsgLen,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		RateLimit: RateLimitConfig{
			Enabled:        true,
			RequestsPerMin: 600,
			Burst:          20,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9090",
			Path:    "/metrics",
		},
		Health: HealthConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9091",
			Path:    "/healthz",
		},
	}
}

func defaultSocketPath() string {
	dir := os.Getenv("XDG_RUNTIME_DIR")
	if dir == "" {
		dir = os.TempDir()
	}
	return fmt.Sprintf("%s/ssh-agentd.%d.sock", dir, os.Getpid())
}

// Load builds the configuration by layering defaults, an optional YAML
// file, and environment variable overrides, in that order, and validates
// the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		// #nosec G304 - config file path is provided by the operator
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	if socket := os.Getenv("SSH_AGENTD_SOCKET"); socket != "" {
		cfg.Listener.SocketPath = socket
	}
	if maxLen := os.Getenv("SSH_AGENTD_MAX_MSG_LEN"); maxLen != "" {
		n, err := strconv.ParseUint(maxLen, 10, 32)
		if err != nil {
			return
		}
		cfg.Listener.MaxMessageLength = uint32(n)
	}
	if level := os.Getenv("SSH_AGENTD_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if format := os.Getenv("SSH_AGENTD_LOG_FORMAT"); format != "" {
		cfg.Logging.Format = format
	}
	if addr := os.Getenv("SSH_AGENTD_METRICS_ADDR"); addr != "" {
		cfg.Metrics.Addr = addr
	}
}

// Validate checks whether the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Listener.SocketPath == "" && c.Listener.ListenFD == 0 {
		return fmt.Errorf("listener: socket_path or listen_fd must be set")
	}

	if c.Listener.MaxMessageLength == 0 {
		return fmt.Errorf("listener: max_message_length must be non-zero")
	}
	if c.Listener.MaxMessageLength > agentMaxMsgLen {
		return fmt.Errorf("listener: max_message_length %d exceeds protocol maximum %d",
			c.Listener.MaxMessageLength, agentMaxMsgLen)
	}

	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		return fmt.Errorf("invalid log format: %s (must be json or text)", c.Logging.Format)
	}

	if c.RateLimit.Enabled && c.RateLimit.RequestsPerMin <= 0 {
		return fmt.Errorf("ratelimit: requests_per_min must be positive when enabled")
	}

	return nil
}
