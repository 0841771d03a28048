// ABOUTME: Configuration loading and parsing for disco-collab
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete disco-collab configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Tailscale     TailscaleConfig     `yaml:"tailscale"`
	Database      DatabaseConfig      `yaml:"database"`
	Auth          AuthConfig          `yaml:"auth"`
	Collaboration CollaborationConfig `yaml:"collaboration"`
	Relay         RelayConfig         `yaml:"relay"`
	Logging       LoggingConfig       `yaml:"logging"`
	Metrics       MetricsConfig       `yaml:"metrics"`
}

// AuthConfig holds authentication configuration.
// An empty JWTSecret puts the gateway in anonymous mode.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	GRPCAddr string `yaml:"grpc_addr"`
	HTTPAddr string `yaml:"http_addr"`

	// AllowedOrigins are host patterns accepted on cross-origin WebSocket
	// upgrades, e.g. "app.example.com" or "*.example.com"
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// DatabaseConfig holds the event ledger location
type DatabaseConfig struct {
	Path string `yaml:"path"`

	// Retention of zero keeps ledger rows forever
	Retention    time.Duration `yaml:"-"`
	RetentionRaw string        `yaml:"retention"`
}

// CollaborationConfig tunes session behaviour and the client protocol
type CollaborationConfig struct {
	EchoToAuthor  bool   `yaml:"echo_to_author"`
	WorkspaceRoot string `yaml:"workspace_root"`
	RateBurst     int    `yaml:"rate_burst"`

	// MaxContentBytes of zero leaves update content unbounded
	MaxContentBytes int `yaml:"-"`
	// RateLimit is commands per second per connection; zero disables limiting
	RateLimit float64 `yaml:"-"`

	// Left nil when the key is absent, so an explicit 0 is kept
	MaxContentBytesRaw *int     `yaml:"max_content_bytes"`
	RateLimitRaw       *float64 `yaml:"rate_limit"`

	// IdleTimeout of zero disables idle eviction
	IdleTimeout  time.Duration `yaml:"-"`
	PingInterval time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	IdleTimeoutRaw  string `yaml:"idle_timeout"`
	PingIntervalRaw string `yaml:"ping_interval"`
}

// RelayConfig holds the optional Redis relay for multi-instance deployments
type RelayConfig struct {
	RedisURL string `yaml:"redis_url"`
	Channel  string `yaml:"channel"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Defaults applied by Load when a field is left empty.
const (
	DefaultMaxContentBytes = 5 << 20
	DefaultRateLimit       = 50
	DefaultRateBurst       = 100
	DefaultPingInterval    = 30 * time.Second
	DefaultRelayChannel    = "disco-collab:broadcast"
	DefaultMetricsPath     = "/metrics"
)

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

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// DefaultPath returns the config location: $DISCO_CONFIG if set, otherwise
// disco-collab/config.yaml under the user's config directory.
func DefaultPath() string {
	if p := os.Getenv("DISCO_CONFIG"); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(dir, "disco-collab", "config.yaml")
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	c.Collaboration.MaxContentBytes = DefaultMaxContentBytes
	if c.Collaboration.MaxContentBytesRaw != nil {
		c.Collaboration.MaxContentBytes = *c.Collaboration.MaxContentBytesRaw
	}
	c.Collaboration.RateLimit = DefaultRateLimit
	if c.Collaboration.RateLimitRaw != nil {
		c.Collaboration.RateLimit = *c.Collaboration.RateLimitRaw
	}
	if c.Collaboration.RateBurst == 0 {
		c.Collaboration.RateBurst = DefaultRateBurst
	}
	if c.Collaboration.PingInterval == 0 {
		c.Collaboration.PingInterval = DefaultPingInterval
	}
	if c.Relay.Channel == "" {
		c.Relay.Channel = DefaultRelayChannel
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	// Server addresses are required unless Tailscale is enabled
	if !c.Tailscale.Enabled {
		if c.Server.GRPCAddr == "" {
			return fmt.Errorf("server.grpc_addr is required (or enable tailscale)")
		}
		if c.Server.HTTPAddr == "" {
			return fmt.Errorf("server.http_addr is required (or enable tailscale)")
		}
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Collaboration.MaxContentBytes < 0 {
		return fmt.Errorf("collaboration.max_content_bytes must not be negative")
	}
	if c.Collaboration.RateLimit < 0 || c.Collaboration.RateBurst < 0 {
		return fmt.Errorf("collaboration.rate_limit and rate_burst must not be negative")
	}
	if c.Database.Retention < 0 {
		return fmt.Errorf("database.retention must not be negative")
	}
	if c.Collaboration.IdleTimeout < 0 {
		return fmt.Errorf("collaboration.idle_timeout must not be negative")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Collaboration.IdleTimeoutRaw != "" {
		cfg.Collaboration.IdleTimeout, err = time.ParseDuration(cfg.Collaboration.IdleTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing idle_timeout %q: %w", cfg.Collaboration.IdleTimeoutRaw, err)
		}
	}

	if cfg.Database.RetentionRaw != "" {
		cfg.Database.Retention, err = time.ParseDuration(cfg.Database.RetentionRaw)
		if err != nil {
			return fmt.Errorf("parsing retention %q: %w", cfg.Database.RetentionRaw, err)
		}
	}

	if cfg.Collaboration.PingIntervalRaw != "" {
		cfg.Collaboration.PingInterval, err = time.ParseDuration(cfg.Collaboration.PingIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing ping_interval %q: %w", cfg.Collaboration.PingIntervalRaw, err)
		}
	}

	return nil
}

// Starter is the config written by `disco-collab init`.
const Starter = `# disco-collab configuration
server:
  grpc_addr: "127.0.0.1:50061"
  http_addr: "127.0.0.1:8090"
  # allowed_origins: ["app.example.com"]

database:
  path: "./disco-collab.db"
  # retention: "720h"

auth:
  # Leave empty to accept a user_id query parameter instead of tokens.
  jwt_secret: "${DISCO_JWT_SECRET}"

collaboration:
  echo_to_author: false
  max_content_bytes: 5242880 # 0 for no limit
  # idle_timeout: "30m"
  # workspace_root: "/srv/workspaces"
  ping_interval: "30s"
  rate_limit: 50 # commands per second per connection, 0 disables
  rate_burst: 100

relay:
  # redis_url: "redis://localhost:6379/0"
  channel: "disco-collab:broadcast"

logging:
  level: "info"
  format: "text"

metrics:
  enabled: true
  path: "/metrics"
`
