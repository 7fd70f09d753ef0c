package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"focusboard/pkg/database"
)

// DefaultJWTSecret is only suitable for local development.
const DefaultJWTSecret = "focusboard-development-secret"

// ARCHITECTURAL DISCOVERY: Configuration layer serves as system-wide settings coordinator
// Clean separation between configuration management and business logic
type Config struct {
	Database  *DatabaseConfig  `json:"database"`
	HTTP      *HTTPConfig      `json:"http"`
	WebSocket *WebSocketConfig `json:"websocket"`
	Auth      *AuthConfig      `json:"auth"`
	Reports   *ReportsConfig   `json:"reports"`
	Log       *LogConfig       `json:"log"`
}

// DatabaseConfig selects the SQLite driver and file.
type DatabaseConfig struct {
	Driver  string        `json:"driver"`
	Path    string        `json:"path"`
	Timeout time.Duration `json:"timeout"`
}

type HTTPConfig struct {
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	Host         string        `json:"host"`
}

// FUNCTIONAL DISCOVERY: WebSocket configuration optimized for classroom scenarios.
// BufferSize bounds each connection's outbound queue.
type WebSocketConfig struct {
	PingInterval       time.Duration `json:"ping_interval"`
	ReadTimeout        time.Duration `json:"read_timeout"`
	WriteTimeout       time.Duration `json:"write_timeout"`
	BufferSize         int           `json:"buffer_size"`
	MaxMessageSize     int64         `json:"max_message_size"`
	RateLimitPerMinute int           `json:"rate_limit_per_minute"`
}

type AuthConfig struct {
	JWTSecret string        `json:"jwt_secret"`
	TokenTTL  time.Duration `json:"token_ttl"`
	Issuer    string        `json:"issuer"`
}

type ReportsConfig struct {
	QueueSize int `json:"queue_size"`
}

// LogConfig picks the slog handler. Format is "text" or "json".
type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// DefaultConfig returns settings for a single classroom-scale process:
// local SQLite file, HTTP on 8080, 30s WebSocket heartbeat.
func DefaultConfig() *Config {
	return &Config{
		Database: &DatabaseConfig{
			Driver:  database.DriverCGO,
			Path:    "./data/focusboard.db",
			Timeout: 30 * time.Second,
		},
		HTTP: &HTTPConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			Host:         "0.0.0.0",
		},
		WebSocket: &WebSocketConfig{
			PingInterval:       30 * time.Second,
			ReadTimeout:        60 * time.Second,
			WriteTimeout:       10 * time.Second,
			BufferSize:         100,
			MaxMessageSize:     8 * 1024,
			RateLimitPerMinute: 120,
		},
		Auth: &AuthConfig{
			JWTSecret: DefaultJWTSecret,
			TokenTTL:  12 * time.Hour,
			Issuer:    "focusboard",
		},
		Reports: &ReportsConfig{
			QueueSize: 64,
		},
		Log: &LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate rejects configurations that would fail at runtime.
func (c *Config) Validate() error {
	if c.Database == nil {
		return fmt.Errorf("database configuration is required")
	}
	if c.Database.Driver != database.DriverCGO && c.Database.Driver != database.DriverPureGo {
		return fmt.Errorf("database driver must be %q or %q", database.DriverCGO, database.DriverPureGo)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.Database.Timeout <= 0 {
		return fmt.Errorf("database timeout must be positive")
	}

	if c.HTTP == nil {
		return fmt.Errorf("HTTP configuration is required")
	}
	// port 0 asks the kernel for a free port
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 0 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP timeouts must be positive")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}

	if c.WebSocket == nil {
		return fmt.Errorf("WebSocket configuration is required")
	}
	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("WebSocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return fmt.Errorf("WebSocket read timeout must exceed the ping interval")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("WebSocket write timeout must be positive")
	}
	if c.WebSocket.BufferSize <= 0 {
		return fmt.Errorf("WebSocket buffer size must be positive")
	}
	if c.WebSocket.MaxMessageSize <= 0 {
		return fmt.Errorf("WebSocket max message size must be positive")
	}
	if c.WebSocket.RateLimitPerMinute <= 0 {
		return fmt.Errorf("WebSocket rate limit must be positive")
	}

	if c.Auth == nil {
		return fmt.Errorf("auth configuration is required")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT secret cannot be empty")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("token TTL must be positive")
	}

	if c.Reports == nil || c.Reports.QueueSize <= 0 {
		return fmt.Errorf("reports queue size must be positive")
	}

	if c.Log == nil {
		return fmt.Errorf("log configuration is required")
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log format must be \"text\" or \"json\"")
	}
	return nil
}

// StoreConfig maps the database section onto the datastore pool settings.
func (c *Config) StoreConfig() *database.Config {
	dbConfig := database.DefaultConfig()
	dbConfig.Driver = c.Database.Driver
	dbConfig.DatabasePath = c.Database.Path
	dbConfig.WriteTimeout = c.Database.Timeout
	return dbConfig
}

// ParseLevel maps a config level name onto slog.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
	}
}

// LoadFromEnv returns defaults overridden by FOCUSBOARD_* variables.
func LoadFromEnv() *Config {
	config := DefaultConfig()
	applyEnv(config)
	return config
}

// FUNCTIONAL DISCOVERY: Unparseable values are ignored so one bad variable
// never blocks startup; Validate still runs on the merged result
func applyEnv(config *Config) {
	envString("FOCUSBOARD_DATABASE_DRIVER", &config.Database.Driver)
	envString("FOCUSBOARD_DATABASE_PATH", &config.Database.Path)
	envDuration("FOCUSBOARD_DATABASE_TIMEOUT", &config.Database.Timeout)

	envString("FOCUSBOARD_HTTP_HOST", &config.HTTP.Host)
	envInt("FOCUSBOARD_HTTP_PORT", &config.HTTP.Port)
	envDuration("FOCUSBOARD_HTTP_READ_TIMEOUT", &config.HTTP.ReadTimeout)
	envDuration("FOCUSBOARD_HTTP_WRITE_TIMEOUT", &config.HTTP.WriteTimeout)

	envDuration("FOCUSBOARD_WEBSOCKET_PING_INTERVAL", &config.WebSocket.PingInterval)
	envDuration("FOCUSBOARD_WEBSOCKET_READ_TIMEOUT", &config.WebSocket.ReadTimeout)
	envDuration("FOCUSBOARD_WEBSOCKET_WRITE_TIMEOUT", &config.WebSocket.WriteTimeout)
	envInt("FOCUSBOARD_WEBSOCKET_BUFFER_SIZE", &config.WebSocket.BufferSize)
	envInt("FOCUSBOARD_WEBSOCKET_RATE_LIMIT_PER_MINUTE", &config.WebSocket.RateLimitPerMinute)
	if v := os.Getenv("FOCUSBOARD_WEBSOCKET_MAX_MESSAGE_SIZE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			config.WebSocket.MaxMessageSize = n
		}
	}

	envString("FOCUSBOARD_AUTH_JWT_SECRET", &config.Auth.JWTSecret)
	envDuration("FOCUSBOARD_AUTH_TOKEN_TTL", &config.Auth.TokenTTL)
	envString("FOCUSBOARD_AUTH_ISSUER", &config.Auth.Issuer)

	envInt("FOCUSBOARD_REPORTS_QUEUE_SIZE", &config.Reports.QueueSize)

	envString("FOCUSBOARD_LOG_LEVEL", &config.Log.Level)
	envString("FOCUSBOARD_LOG_FORMAT", &config.Log.Format)
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// ConfigFile represents the JSON structure for file-based configuration
// FUNCTIONAL DISCOVERY: Separate struct for JSON parsing to handle duration strings
type ConfigFile struct {
	Database  *DatabaseConfigFile  `json:"database"`
	HTTP      *HTTPConfigFile      `json:"http"`
	WebSocket *WebSocketConfigFile `json:"websocket"`
	Auth      *AuthConfigFile      `json:"auth"`
	Reports   *ReportsConfig       `json:"reports"`
	Log       *LogConfig           `json:"log"`
}

type DatabaseConfigFile struct {
	Driver  string `json:"driver"`
	Path    string `json:"path"`
	Timeout string `json:"timeout"`
}

type HTTPConfigFile struct {
	Port         int    `json:"port"`
	ReadTimeout  string `json:"read_timeout"`
	WriteTimeout string `json:"write_timeout"`
	Host         string `json:"host"`
}

type WebSocketConfigFile struct {
	PingInterval       string `json:"ping_interval"`
	ReadTimeout        string `json:"read_timeout"`
	WriteTimeout       string `json:"write_timeout"`
	BufferSize         int    `json:"buffer_size"`
	MaxMessageSize     int64  `json:"max_message_size"`
	RateLimitPerMinute int    `json:"rate_limit_per_minute"`
}

type AuthConfigFile struct {
	JWTSecret string `json:"jwt_secret"`
	TokenTTL  string `json:"token_ttl"`
	Issuer    string `json:"issuer"`
}

// LoadFromFile returns defaults overridden by the JSON file at path.
func LoadFromFile(path string) (*Config, error) {
	config := DefaultConfig()
	if err := applyFile(config, path); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return config, nil
}

// applyFile overlays the non-zero fields present in the file.
// Malformed duration strings are errors here, unlike environment values.
func applyFile(config *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var file ConfigFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	var durErr error
	duration := func(field, value string, dst *time.Duration) {
		if value == "" || durErr != nil {
			return
		}
		d, err := time.ParseDuration(value)
		if err != nil {
			durErr = fmt.Errorf("config file %s: %s: %w", path, field, err)
			return
		}
		*dst = d
	}

	if f := file.Database; f != nil {
		setString(&config.Database.Driver, f.Driver)
		setString(&config.Database.Path, f.Path)
		duration("database.timeout", f.Timeout, &config.Database.Timeout)
	}
	if f := file.HTTP; f != nil {
		setInt(&config.HTTP.Port, f.Port)
		setString(&config.HTTP.Host, f.Host)
		duration("http.read_timeout", f.ReadTimeout, &config.HTTP.ReadTimeout)
		duration("http.write_timeout", f.WriteTimeout, &config.HTTP.WriteTimeout)
	}
	if f := file.WebSocket; f != nil {
		setInt(&config.WebSocket.BufferSize, f.BufferSize)
		setInt(&config.WebSocket.RateLimitPerMinute, f.RateLimitPerMinute)
		if f.MaxMessageSize > 0 {
			config.WebSocket.MaxMessageSize = f.MaxMessageSize
		}
		duration("websocket.ping_interval", f.PingInterval, &config.WebSocket.PingInterval)
		duration("websocket.read_timeout", f.ReadTimeout, &config.WebSocket.ReadTimeout)
		duration("websocket.write_timeout", f.WriteTimeout, &config.WebSocket.WriteTimeout)
	}
	if f := file.Auth; f != nil {
		setString(&config.Auth.JWTSecret, f.JWTSecret)
		setString(&config.Auth.Issuer, f.Issuer)
		duration("auth.token_ttl", f.TokenTTL, &config.Auth.TokenTTL)
	}
	if f := file.Reports; f != nil {
		setInt(&config.Reports.QueueSize, f.QueueSize)
	}
	if f := file.Log; f != nil {
		setString(&config.Log.Level, f.Level)
		setString(&config.Log.Format, f.Format)
	}
	return durErr
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

// LoadConfigWithPrecedence merges defaults, then environment, then the
// optional file at path. Command-line flags are applied by the caller.
func LoadConfigWithPrecedence(path string) (*Config, error) {
	config := DefaultConfig()
	applyEnv(config)

	if path == "" {
		path = os.Getenv("FOCUSBOARD_CONFIG_FILE")
	}
	if path != "" {
		if err := applyFile(config, path); err != nil {
			return nil, err
		}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}
