// Package config provides configuration management for Maestro.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for the Maestro core.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Data      DataConfig      `mapstructure:"data"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Spawn     SpawnConfig     `mapstructure:"spawn"`
	Messaging MessagingConfig `mapstructure:"messaging"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// DataConfig holds the filesystem store configuration.
type DataConfig struct {
	// Dir is the root of the JSON data directory. Repositories own subtrees
	// of it (projects/, tasks/, sessions/, team-members/, messages/).
	Dir string `mapstructure:"dir"`
}

// NATSConfig holds NATS messaging configuration.
// An empty URL means the in-memory event bus is used.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// SpawnConfig holds session spawn configuration.
type SpawnConfig struct {
	// TimeoutSeconds is the hard ceiling on manifest composition and write.
	// Beyond it the session is marked failed and session:spawn is not emitted.
	TimeoutSeconds int `mapstructure:"timeoutSeconds"`

	// DefaultModel and DefaultAgentTool are the hardcoded fallbacks at the
	// bottom of the config-priority chain (request > team member > task > project > these).
	DefaultModel     string `mapstructure:"defaultModel"`
	DefaultAgentTool string `mapstructure:"defaultAgentTool"`
}

// MessagingConfig holds inter-session mail configuration.
type MessagingConfig struct {
	// RateLimitPerMinute caps messages per sender over a sliding window.
	RateLimitPerMinute int `mapstructure:"rateLimitPerMinute"`
	// TTLSeconds is the server-wide message time-to-live. Zero disables expiry.
	TTLSeconds int `mapstructure:"ttlSeconds"`
	// MaxBodyBytes caps the sanitized message body length.
	MaxBodyBytes int `mapstructure:"maxBodyBytes"`
	// AllowCrossProject permits sends between sessions of different projects.
	AllowCrossProject bool `mapstructure:"allowCrossProject"`
}

// WebSocketConfig holds sync-fabric configuration.
type WebSocketConfig struct {
	// WriteTimeoutSeconds is the per-client write deadline; on timeout the
	// client is closed.
	WriteTimeoutSeconds int `mapstructure:"writeTimeoutSeconds"`
}

// TracingConfig holds OpenTelemetry configuration.
type TracingConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"` // OTLP HTTP endpoint
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// Timeout returns the spawn ceiling as a time.Duration.
func (s *SpawnConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// TTL returns the message time-to-live as a time.Duration.
func (m *MessagingConfig) TTL() time.Duration {
	return time.Duration(m.TTLSeconds) * time.Second
}

// WriteTimeout returns the per-client write deadline as a time.Duration.
func (w *WebSocketConfig) WriteTimeout() time.Duration {
	return time.Duration(w.WriteTimeoutSeconds) * time.Second
}

// detectDefaultLogFormat returns "json" for production-like environments and
// "text" for terminal/development use.
func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("MAESTRO_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./maestro-data"
	}
	return filepath.Join(home, ".maestro", "data")
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8700)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	v.SetDefault("data.dir", defaultDataDir())

	// NATS defaults - empty URL means use in-memory event bus
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "maestro-core")
	v.SetDefault("nats.maxReconnects", 10)

	v.SetDefault("spawn.timeoutSeconds", 30)
	v.SetDefault("spawn.defaultModel", "sonnet")
	v.SetDefault("spawn.defaultAgentTool", "claude")

	v.SetDefault("messaging.rateLimitPerMinute", 30)
	v.SetDefault("messaging.ttlSeconds", 86400)
	v.SetDefault("messaging.maxBodyBytes", 64*1024)
	v.SetDefault("messaging.allowCrossProject", false)

	v.SetDefault("websocket.writeTimeoutSeconds", 10)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix MAESTRO_ with snake_case naming.
// Config file should be named config.yaml and placed in the current directory
// or /etc/maestro/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("MAESTRO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv does not handle camelCase to SNAKE_CASE conversion, so keys
	// whose config name differs from the env var naming are bound explicitly.
	_ = v.BindEnv("data.dir", "MAESTRO_DATA_DIR")
	_ = v.BindEnv("spawn.timeoutSeconds", "MAESTRO_SPAWN_TIMEOUT_SECONDS")
	_ = v.BindEnv("messaging.rateLimitPerMinute", "MAESTRO_MESSAGING_RATE_LIMIT_PER_MINUTE")
	_ = v.BindEnv("messaging.ttlSeconds", "MAESTRO_MESSAGING_TTL_SECONDS")
	_ = v.BindEnv("tracing.endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT", "MAESTRO_TRACING_ENDPOINT")

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/maestro/")

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required configuration fields are set.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if cfg.Data.Dir == "" {
		errs = append(errs, "data.dir is required")
	}
	if cfg.Spawn.TimeoutSeconds <= 0 {
		errs = append(errs, "spawn.timeoutSeconds must be positive")
	}
	if cfg.Messaging.RateLimitPerMinute <= 0 {
		errs = append(errs, "messaging.rateLimitPerMinute must be positive")
	}
	if cfg.Messaging.MaxBodyBytes <= 0 {
		errs = append(errs, "messaging.maxBodyBytes must be positive")
	}
	if cfg.WebSocket.WriteTimeoutSeconds <= 0 {
		errs = append(errs, "websocket.writeTimeoutSeconds must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}
