package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string        `toml:"environment"` // "development" or "production" - controls webhook signature enforcement
	Server      ServerConfig  `toml:"server"`
	Storage     StorageConfig `toml:"storage"`
	Queue       QueueConfig   `toml:"queue"`
	Relay       RelayConfig   `toml:"relay"`
	Tasks       TasksConfig   `toml:"tasks"`
	LLM         LLMConfig     `toml:"llm"`
	Logging     LoggingConfig `toml:"logging"`
}

type ServerConfig struct {
	Port    int    `toml:"port"`
	Host    string `toml:"host"`
	BaseURL string `toml:"base_url"` // Externally reachable base URL for webhook deliveries
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
	GCSchedule     string `toml:"gc_schedule"`      // Cron schedule for value-log garbage collection
}

// QueueConfig configures the external durable delivery queue
type QueueConfig struct {
	Endpoint       string `toml:"endpoint"`         // Queue publish endpoint, e.g. https://qstash.upstash.io
	Token          string `toml:"token"`            // Bearer token for publish requests
	SigningKey     string `toml:"signing_key"`      // Current webhook signing key
	NextSigningKey string `toml:"next_signing_key"` // Next signing key (accepted during rotation)
	Retries        int    `toml:"retries"`          // Delivery retry budget
	Timeout        string `toml:"timeout"`          // HTTP timeout for publish requests
}

// RelayConfig configures the pub/sub relay transport
type RelayConfig struct {
	URL            string `toml:"url"`             // Relay REST endpoint; empty = use embedded broker
	Token          string `toml:"token"`           // Bearer token for relay requests
	ChannelPrefix  string `toml:"channel_prefix"`  // Channel name prefix, channel = <prefix><task id>
	PublishTimeout string `toml:"publish_timeout"` // HTTP timeout for publish round trips
}

// TasksConfig holds task lifecycle tuning
type TasksConfig struct {
	TTL             string  `toml:"ttl"`               // Sliding expiry window for per-task state
	StreamGraceWait string  `toml:"stream_grace_wait"` // Delay before closing a stream after a terminal error event
	PingInterval    string  `toml:"ping_interval"`     // SSE heartbeat interval
	CreateRateLimit float64 `toml:"create_rate_limit"` // Max task creations per second (0 = unlimited)
	CreateRateBurst int     `toml:"create_rate_burst"` // Burst allowance for task creation
}

// LLMConfig configures the generation engine
type LLMConfig struct {
	Provider    string  `toml:"provider"` // "claude", "gemini", or "offline"
	APIKey      string  `toml:"api_key"`
	Model       string  `toml:"model"`
	MaxTokens   int     `toml:"max_tokens"`
	Temperature float64 `toml:"temperature"`
	Timeout     string  `toml:"timeout"`
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
}

// NewDefaultConfig returns a configuration populated with defaults
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port:    8085,
			Host:    "localhost",
			BaseURL: "http://localhost:8085",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path:           "./data/taskstream",
				ResetOnStartup: false,
				GCSchedule:     "@every 10m",
			},
		},
		Queue: QueueConfig{
			Retries: 3,
			Timeout: "30s",
		},
		Relay: RelayConfig{
			ChannelPrefix:  "task:",
			PublishTimeout: "10s",
		},
		Tasks: TasksConfig{
			TTL:             "1h",
			StreamGraceWait: "1s",
			PingInterval:    "15s",
			CreateRateLimit: 0,
			CreateRateBurst: 10,
		},
		LLM: LLMConfig{
			Provider:    "offline",
			Model:       "",
			MaxTokens:   1000,
			Temperature: 0.7,
			Timeout:     "5m",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout"},
		},
	}
}

// LoadFromFile loads configuration from a TOML file, applying defaults first
// and environment variable overrides last. An empty path loads defaults + env only.
func LoadFromFile(path string) (*Config, error) {
	config := NewDefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies TASKSTREAM_* environment variables over the loaded config
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("TASKSTREAM_ENVIRONMENT"); v != "" {
		config.Environment = v
	}
	if v := os.Getenv("TASKSTREAM_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			config.Server.Port = port
		}
	}
	if v := os.Getenv("TASKSTREAM_SERVER_HOST"); v != "" {
		config.Server.Host = v
	}
	if v := os.Getenv("TASKSTREAM_SERVER_BASE_URL"); v != "" {
		config.Server.BaseURL = v
	}
	if v := os.Getenv("TASKSTREAM_QUEUE_ENDPOINT"); v != "" {
		config.Queue.Endpoint = v
	}
	if v := os.Getenv("TASKSTREAM_QUEUE_TOKEN"); v != "" {
		config.Queue.Token = v
	}
	if v := os.Getenv("TASKSTREAM_QUEUE_SIGNING_KEY"); v != "" {
		config.Queue.SigningKey = v
	}
	if v := os.Getenv("TASKSTREAM_QUEUE_NEXT_SIGNING_KEY"); v != "" {
		config.Queue.NextSigningKey = v
	}
	if v := os.Getenv("TASKSTREAM_RELAY_URL"); v != "" {
		config.Relay.URL = v
	}
	if v := os.Getenv("TASKSTREAM_RELAY_TOKEN"); v != "" {
		config.Relay.Token = v
	}
	if v := os.Getenv("TASKSTREAM_LLM_PROVIDER"); v != "" {
		config.LLM.Provider = v
	}
	if v := os.Getenv("TASKSTREAM_LLM_API_KEY"); v != "" {
		config.LLM.APIKey = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" && config.LLM.APIKey == "" {
		config.LLM.APIKey = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" && config.LLM.APIKey == "" {
		config.LLM.APIKey = v
	}
	if v := os.Getenv("TASKSTREAM_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
}

// ApplyFlagOverrides applies command-line flag values (highest priority)
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// Validate checks the configuration for internally inconsistent values
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if _, err := time.ParseDuration(c.Tasks.TTL); err != nil {
		return fmt.Errorf("invalid tasks.ttl %q: %w", c.Tasks.TTL, err)
	}
	if _, err := time.ParseDuration(c.Tasks.StreamGraceWait); err != nil {
		return fmt.Errorf("invalid tasks.stream_grace_wait %q: %w", c.Tasks.StreamGraceWait, err)
	}
	if c.Queue.Retries < 0 {
		return fmt.Errorf("queue.retries cannot be negative: %d", c.Queue.Retries)
	}
	switch strings.ToLower(c.LLM.Provider) {
	case "claude", "gemini", "offline":
	default:
		return fmt.Errorf("unknown llm.provider %q (expected claude, gemini, or offline)", c.LLM.Provider)
	}
	return nil
}

// IsProduction returns true when running in production mode
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// TaskTTL returns the parsed sliding expiry window for per-task state
func (c *Config) TaskTTL() time.Duration {
	d, err := time.ParseDuration(c.Tasks.TTL)
	if err != nil {
		return time.Hour
	}
	return d
}

// StreamGraceWait returns the parsed grace delay used before closing an errored stream
func (c *Config) StreamGraceWait() time.Duration {
	d, err := time.ParseDuration(c.Tasks.StreamGraceWait)
	if err != nil {
		return time.Second
	}
	return d
}

// PingInterval returns the parsed SSE heartbeat interval
func (c *Config) PingInterval() time.Duration {
	d, err := time.ParseDuration(c.Tasks.PingInterval)
	if err != nil {
		return 15 * time.Second
	}
	return d
}

// QueueTimeout returns the parsed HTTP timeout for queue publish requests
func (c *Config) QueueTimeout() time.Duration {
	d, err := time.ParseDuration(c.Queue.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// RelayPublishTimeout returns the parsed HTTP timeout for relay publish round trips
func (c *Config) RelayPublishTimeout() time.Duration {
	d, err := time.ParseDuration(c.Relay.PublishTimeout)
	if err != nil {
		return 10 * time.Second
	}
	return d
}
