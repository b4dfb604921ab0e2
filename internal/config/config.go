// Package config provides configuration types and loading for
// meshbridge. Everything comes from the environment (optionally via a
// .env file) with the MESHBRIDGE prefix.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config is the root configuration struct.
type Config struct {
	Env       string `envconfig:"ENV" default:"development"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	Server    ServerConfig
	Upstream  UpstreamConfig
	Dashboard DashboardConfig
	Overrides OverridesConfig
	Export    ExportConfig
}

// IsDevelopment reports whether we run with the developer console log.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// ---------------------------------------------------------------------------
// Server – the local HTTP/WebSocket listener
// ---------------------------------------------------------------------------

// ServerConfig groups listener settings. Failing to bind Addr is the
// one fatal startup error.
type ServerConfig struct {
	Addr string `default:":8100"`
}

// ---------------------------------------------------------------------------
// Upstream – the agent-mesh connection
// ---------------------------------------------------------------------------

// UpstreamConfig groups the upstream connection settings.
type UpstreamConfig struct {
	URL          string `default:"ws://localhost:9000/ws"`
	Name         string `default:"meshbridge"`
	Pubkey       string
	AutoJoin     []string      `envconfig:"CHANNELS" default:"general"`
	ReconnectMin time.Duration `envconfig:"RECONNECT_MIN" default:"1s"`
	ReconnectMax time.Duration `envconfig:"RECONNECT_MAX" default:"30s"`
	PingInterval time.Duration `envconfig:"PING_INTERVAL" default:"20s"`
}

// ---------------------------------------------------------------------------
// Dashboard – downstream clients
// ---------------------------------------------------------------------------

// DashboardConfig groups the client-facing settings.
type DashboardConfig struct {
	MaxClients        int           `envconfig:"MAX_CLIENTS" default:"32"`
	HeartbeatInterval time.Duration `envconfig:"HEARTBEAT" default:"30s"`
	PongTimeout       time.Duration `envconfig:"PONG_TIMEOUT" default:"40s"`
	History           int           `default:"200"`
}

// ---------------------------------------------------------------------------
// Overrides – local display-name persistence
// ---------------------------------------------------------------------------

// OverridesConfig locates the alias database. An empty path resolves
// under the user's home directory.
type OverridesConfig struct {
	Path string
}

// ResolvePath returns the configured path or the default location.
func (c OverridesConfig) ResolvePath() (string, error) {
	if c.Path != "" {
		return c.Path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, ".meshbridge", "overrides.db"), nil
}

// ---------------------------------------------------------------------------
// Export – optional Kafka firehose
// ---------------------------------------------------------------------------

// ExportConfig gates the delta mirror. Disabled by default.
type ExportConfig struct {
	Enabled bool     `default:"false"`
	Brokers []string `default:"localhost:9092"`
	Topic   string   `default:"meshbridge.events"`
}

// Load reads configuration from the environment, merging a .env file
// when one is present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("meshbridge", &cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	return &cfg, nil
}
