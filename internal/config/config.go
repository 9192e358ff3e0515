package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix namespaces every environment variable read by LoadFromEnv.
const EnvPrefix = "SCHOOLHUB_"

// ARCHITECTURAL DISCOVERY: Configuration layer serves as system-wide settings coordinator
// Clean separation between configuration management and business logic
type Config struct {
	HTTP      *HTTPConfig      `json:"http" envPrefix:"HTTP_"`
	WebSocket *WebSocketConfig `json:"websocket" envPrefix:"WEBSOCKET_"`
	Database  *DatabaseConfig  `json:"database" envPrefix:"DATABASE_"`
	Auth      *AuthConfig      `json:"auth" envPrefix:"AUTH_"`
	CORS      *CORSConfig      `json:"cors" envPrefix:"CORS_"`
	RateLimit *RateLimitConfig `json:"rate_limit" envPrefix:"RATE_LIMIT_"`
	Redis     *RedisConfig     `json:"redis" envPrefix:"REDIS_"`
	Log       *LogConfig       `json:"log" envPrefix:"LOG_"`
}

type HTTPConfig struct {
	Host            string        `json:"host" env:"HOST"`
	Port            int           `json:"port" env:"PORT"`
	ReadTimeout     time.Duration `json:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `json:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// FUNCTIONAL DISCOVERY: ReadTimeout doubles as the pong wait; pings go out
// every PingInterval, which must be shorter
type WebSocketConfig struct {
	Path            string        `json:"path" env:"PATH"`
	PingInterval    time.Duration `json:"ping_interval" env:"PING_INTERVAL"`
	ReadTimeout     time.Duration `json:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `json:"write_timeout" env:"WRITE_TIMEOUT"`
	BufferSize      int           `json:"buffer_size" env:"BUFFER_SIZE"`
	MaxMessageSize  int64         `json:"max_message_size" env:"MAX_MESSAGE_SIZE"`
	CloseSuperseded bool          `json:"close_superseded" env:"CLOSE_SUPERSEDED"`
}

type DatabaseConfig struct {
	Path           string        `json:"path" env:"PATH"`
	Timeout        time.Duration `json:"timeout" env:"TIMEOUT"`
	MaxConnections int           `json:"max_connections" env:"MAX_CONNECTIONS"`
}

type AuthConfig struct {
	Secret   string        `json:"secret" env:"SECRET"`
	Leeway   time.Duration `json:"leeway" env:"LEEWAY"`
	TokenTTL time.Duration `json:"token_ttl" env:"TOKEN_TTL"`
}

// CORSConfig lists browser origins allowed to open sockets and call the API.
type CORSConfig struct {
	AllowedOrigins []string `json:"allowed_origins" env:"ALLOWED_ORIGINS" envSeparator:","`
	DevMode        bool     `json:"dev_mode" env:"DEV_MODE"`
}

type RateLimitConfig struct {
	EventsPerMinute int           `json:"events_per_minute" env:"EVENTS_PER_MINUTE"`
	CleanupInterval time.Duration `json:"cleanup_interval" env:"CLEANUP_INTERVAL"`
}

// RedisConfig enables the cross-process dispatch bridge when URL is set.
type RedisConfig struct {
	URL     string `json:"url" env:"URL"`
	Channel string `json:"channel" env:"CHANNEL"`
}

type LogConfig struct {
	Level       string `json:"level" env:"LEVEL"`
	Development bool   `json:"development" env:"DEVELOPMENT"`
}

// FUNCTIONAL DISCOVERY: Production-ready defaults for a single school deployment
// Database on local filesystem, HTTP on standard port, WebSocket with 30s heartbeat
func DefaultConfig() *Config {
	return &Config{
		HTTP: &HTTPConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		WebSocket: &WebSocketConfig{
			Path:            "/ws",
			PingInterval:    30 * time.Second,
			ReadTimeout:     60 * time.Second,
			WriteTimeout:    10 * time.Second,
			BufferSize:      100,
			MaxMessageSize:  65536,
			CloseSuperseded: true,
		},
		Database: &DatabaseConfig{
			Path:           "./data/schoolhub.db",
			Timeout:        30 * time.Second,
			MaxConnections: 10,
		},
		Auth: &AuthConfig{
			Leeway:   5 * time.Second,
			TokenTTL: 24 * time.Hour,
		},
		CORS: &CORSConfig{
			AllowedOrigins: []string{"http://localhost:3000"},
		},
		RateLimit: &RateLimitConfig{
			EventsPerMinute: 600,
			CleanupInterval: 5 * time.Minute,
		},
		Redis: &RedisConfig{
			Channel: "schoolhub:dispatch",
		},
		Log: &LogConfig{
			Level: "info",
		},
	}
}

// FUNCTIONAL DISCOVERY: Comprehensive validation prevents invalid system configurations
// Critical for preventing runtime failures in production deployment
func (c *Config) Validate() error {
	if c.HTTP == nil {
		return errors.New("HTTP configuration is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return errors.New("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.Host == "" {
		return errors.New("HTTP host cannot be empty")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 || c.HTTP.ShutdownTimeout <= 0 {
		return errors.New("HTTP timeouts must be positive")
	}

	if c.WebSocket == nil {
		return errors.New("WebSocket configuration is required")
	}
	if !strings.HasPrefix(c.WebSocket.Path, "/") {
		return errors.New("WebSocket path must start with /")
	}
	if c.WebSocket.PingInterval <= 0 {
		return errors.New("WebSocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return errors.New("WebSocket read timeout must exceed the ping interval")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return errors.New("WebSocket write timeout must be positive")
	}
	if c.WebSocket.BufferSize <= 0 {
		return errors.New("WebSocket buffer size must be positive")
	}
	if c.WebSocket.MaxMessageSize <= 0 {
		return errors.New("WebSocket max message size must be positive")
	}

	if c.Database == nil {
		return errors.New("database configuration is required")
	}
	if c.Database.Path == "" {
		return errors.New("database path cannot be empty")
	}
	if c.Database.Timeout <= 0 {
		return errors.New("database timeout must be positive")
	}
	if c.Database.MaxConnections <= 0 {
		return errors.New("database max connections must be positive")
	}

	if c.Auth == nil || strings.TrimSpace(c.Auth.Secret) == "" {
		return errors.New("auth secret is required (" + EnvPrefix + "AUTH_SECRET)")
	}
	if c.Auth.Leeway < 0 {
		return errors.New("auth leeway cannot be negative")
	}
	if c.Auth.TokenTTL <= 0 {
		return errors.New("auth token ttl must be positive")
	}

	if c.CORS == nil {
		return errors.New("CORS configuration is required")
	}

	if c.RateLimit == nil {
		return errors.New("rate limit configuration is required")
	}
	if c.RateLimit.EventsPerMinute <= 0 {
		return errors.New("rate limit must be positive")
	}
	if c.RateLimit.CleanupInterval <= 0 {
		return errors.New("rate limit cleanup interval must be positive")
	}

	if c.Redis == nil {
		return errors.New("redis configuration is required")
	}
	if c.Redis.URL != "" && c.Redis.Channel == "" {
		return errors.New("redis channel cannot be empty when redis is enabled")
	}

	if c.Log == nil {
		return errors.New("log configuration is required")
	}

	return nil
}

// LoadFromEnv overlays SCHOOLHUB_* environment variables onto the defaults
// FUNCTIONAL DISCOVERY: Environment variables enable containerized deployments;
// unset variables leave the default untouched
func LoadFromEnv() (*Config, error) {
	config := DefaultConfig()
	if err := applyEnv(config); err != nil {
		return nil, err
	}
	return config, nil
}

func applyEnv(config *Config) error {
	if err := env.ParseWithOptions(config, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("failed to parse environment: %w", err)
	}
	return nil
}

// ConfigFile represents the JSON structure for file-based configuration
// FUNCTIONAL DISCOVERY: Separate struct for JSON parsing to handle duration strings;
// pointers tell "absent" apart from false/zero
type ConfigFile struct {
	HTTP      *HTTPConfigFile      `json:"http"`
	WebSocket *WebSocketConfigFile `json:"websocket"`
	Database  *DatabaseConfigFile  `json:"database"`
	Auth      *AuthConfigFile      `json:"auth"`
	CORS      *CORSConfigFile      `json:"cors"`
	RateLimit *RateLimitConfigFile `json:"rate_limit"`
	Redis     *RedisConfig         `json:"redis"`
	Log       *LogConfigFile       `json:"log"`
}

type HTTPConfigFile struct {
	Host            string `json:"host"`
	Port            int    `json:"port"`
	ReadTimeout     string `json:"read_timeout"`
	WriteTimeout    string `json:"write_timeout"`
	ShutdownTimeout string `json:"shutdown_timeout"`
}

type WebSocketConfigFile struct {
	Path            string `json:"path"`
	PingInterval    string `json:"ping_interval"`
	ReadTimeout     string `json:"read_timeout"`
	WriteTimeout    string `json:"write_timeout"`
	BufferSize      int    `json:"buffer_size"`
	MaxMessageSize  int64  `json:"max_message_size"`
	CloseSuperseded *bool  `json:"close_superseded"`
}

type DatabaseConfigFile struct {
	Path           string `json:"path"`
	Timeout        string `json:"timeout"`
	MaxConnections int    `json:"max_connections"`
}

type AuthConfigFile struct {
	Secret   string `json:"secret"`
	Leeway   string `json:"leeway"`
	TokenTTL string `json:"token_ttl"`
}

type CORSConfigFile struct {
	AllowedOrigins []string `json:"allowed_origins"`
	DevMode        *bool    `json:"dev_mode"`
}

type RateLimitConfigFile struct {
	EventsPerMinute int    `json:"events_per_minute"`
	CleanupInterval string `json:"cleanup_interval"`
}

type LogConfigFile struct {
	Level       string `json:"level"`
	Development *bool  `json:"development"`
}

// FUNCTIONAL DISCOVERY: File-based configuration supports complex deployment scenarios
// JSON format chosen for readability and tooling support
func LoadFromFile(filepath string) (*Config, error) {
	config := DefaultConfig()
	if err := applyFile(config, filepath); err != nil {
		return nil, err
	}

	// ARCHITECTURAL DISCOVERY: Validate configuration after loading to catch errors early
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", filepath, err)
	}
	return config, nil
}

// durationSetter parses non-empty duration strings and reports the first failure.
type durationSetter struct {
	err error
}

func (d *durationSetter) set(name, value string, target *time.Duration) {
	if value == "" || d.err != nil {
		return
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		d.err = fmt.Errorf("invalid duration for %s: %w", name, err)
		return
	}
	*target = parsed
}

func applyFile(config *Config, filepath string) error {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", filepath, err)
	}

	var file ConfigFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", filepath, err)
	}

	var d durationSetter

	if f := file.HTTP; f != nil {
		if f.Host != "" {
			config.HTTP.Host = f.Host
		}
		if f.Port > 0 {
			config.HTTP.Port = f.Port
		}
		d.set("http.read_timeout", f.ReadTimeout, &config.HTTP.ReadTimeout)
		d.set("http.write_timeout", f.WriteTimeout, &config.HTTP.WriteTimeout)
		d.set("http.shutdown_timeout", f.ShutdownTimeout, &config.HTTP.ShutdownTimeout)
	}

	if f := file.WebSocket; f != nil {
		if f.Path != "" {
			config.WebSocket.Path = f.Path
		}
		if f.BufferSize > 0 {
			config.WebSocket.BufferSize = f.BufferSize
		}
		if f.MaxMessageSize > 0 {
			config.WebSocket.MaxMessageSize = f.MaxMessageSize
		}
		if f.CloseSuperseded != nil {
			config.WebSocket.CloseSuperseded = *f.CloseSuperseded
		}
		d.set("websocket.ping_interval", f.PingInterval, &config.WebSocket.PingInterval)
		d.set("websocket.read_timeout", f.ReadTimeout, &config.WebSocket.ReadTimeout)
		d.set("websocket.write_timeout", f.WriteTimeout, &config.WebSocket.WriteTimeout)
	}

	if f := file.Database; f != nil {
		if f.Path != "" {
			config.Database.Path = f.Path
		}
		if f.MaxConnections > 0 {
			config.Database.MaxConnections = f.MaxConnections
		}
		d.set("database.timeout", f.Timeout, &config.Database.Timeout)
	}

	if f := file.Auth; f != nil {
		if f.Secret != "" {
			config.Auth.Secret = f.Secret
		}
		d.set("auth.leeway", f.Leeway, &config.Auth.Leeway)
		d.set("auth.token_ttl", f.TokenTTL, &config.Auth.TokenTTL)
	}

	if f := file.CORS; f != nil {
		if f.AllowedOrigins != nil {
			config.CORS.AllowedOrigins = f.AllowedOrigins
		}
		if f.DevMode != nil {
			config.CORS.DevMode = *f.DevMode
		}
	}

	if f := file.RateLimit; f != nil {
		if f.EventsPerMinute > 0 {
			config.RateLimit.EventsPerMinute = f.EventsPerMinute
		}
		d.set("rate_limit.cleanup_interval", f.CleanupInterval, &config.RateLimit.CleanupInterval)
	}

	if f := file.Redis; f != nil {
		if f.URL != "" {
			config.Redis.URL = f.URL
		}
		if f.Channel != "" {
			config.Redis.Channel = f.Channel
		}
	}

	if f := file.Log; f != nil {
		if f.Level != "" {
			config.Log.Level = f.Level
		}
		if f.Development != nil {
			config.Log.Development = *f.Development
		}
	}

	if d.err != nil {
		return fmt.Errorf("config file %s: %w", filepath, d.err)
	}
	return nil
}

// LoadConfigWithPrecedence layers file over environment over defaults
// FUNCTIONAL DISCOVERY: Configuration precedence: file > environment > defaults
// Enables flexible deployment patterns while maintaining sane defaults.
// An empty filepath skips the file layer; a missing file is an error.
func LoadConfigWithPrecedence(filepath string) (*Config, error) {
	config := DefaultConfig()

	if err := applyEnv(config); err != nil {
		return nil, err
	}

	if filepath != "" {
		if err := applyFile(config, filepath); err != nil {
			return nil, err
		}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

// Address returns the HTTP listen address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
