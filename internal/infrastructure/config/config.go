package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for daplog.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Serial    SerialConfig    `yaml:"serial"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Flash     FlashConfig     `yaml:"flash"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// SerialConfig contains the monitoring engine settings.
type SerialConfig struct {
	// LogRoot is the directory under which per-port day files are written
	// (<log_root>/<port id>/<YYYY-MM-DD>.log).
	LogRoot string `yaml:"log_root"`

	// BaudRate applies to every probe; DAP debug UARTs run at 115200.
	BaudRate int `yaml:"baud_rate"`

	// ReadTimeoutMs is the per-read timeout on the open device. It bounds
	// how long the reader can take to notice a pause or shutdown request.
	ReadTimeoutMs int `yaml:"read_timeout_ms"`

	// DiscoveryInterval is the seconds between enumeration passes.
	DiscoveryInterval int `yaml:"discovery_interval"`

	// PauseTimeout is the seconds a pause requester waits for the reader
	// to acknowledge before proceeding unconfirmed.
	PauseTimeout int `yaml:"pause_timeout"`

	// PausePollMs is how often a paused reader re-checks the pause flag.
	PausePollMs int `yaml:"pause_poll_ms"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host      string           `yaml:"host"`
	Port      int              `yaml:"port"`
	StaticDir string           `yaml:"static_dir"`
	Timeouts  APITimeoutConfig `yaml:"timeouts"`
	CORS      CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains live-stream transport settings.
type WebSocketConfig struct {
	// SendBuffer is the per-client line buffer; a client that falls this
	// far behind starts missing lines rather than stalling ingestion.
	SendBuffer     int `yaml:"send_buffer"`
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// FlashConfig contains firmware flashing settings.
type FlashConfig struct {
	// PyOCDPath is the pyocd executable; resolved via PATH when bare.
	PyOCDPath string `yaml:"pyocd_path"`

	// PackDir holds CMSIS .pack files used for target support.
	PackDir string `yaml:"pack_dir"`

	// Target is the default pyocd target type.
	Target string `yaml:"target"`

	// Frequency is the default SWD clock, pyocd syntax (e.g. "20M").
	Frequency string `yaml:"frequency"`

	// Timeout is the seconds a single pyocd run may take.
	Timeout int `yaml:"timeout"`
}

// LoggingConfig contains daemon logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: DAPLOG_SECTION_KEY
// For example: DAPLOG_SERIAL_LOG_ROOT, DAPLOG_API_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	// Start with defaults
	cfg := defaultConfig()

	// Read and parse YAML file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration with environment overrides
// applied. Used when no config file is present, so a container can run on
// DAPLOG_* variables alone.
//
// Returns:
//   - *Config: Validated configuration
//   - error: If an override leaves the configuration invalid
func Default() (*Config, error) {
	cfg := defaultConfig()
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Serial: SerialConfig{
			LogRoot:           "./logs",
			BaudRate:          115200,
			ReadTimeoutMs:     100,
			DiscoveryInterval: 10,
			PauseTimeout:      10,
			PausePollMs:       200,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			SendBuffer:     5000,
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Flash: FlashConfig{
			PyOCDPath: "pyocd",
			PackDir:   "./packs",
			Target:    "EFR32FG28B322F1024IM48",
			Frequency: "20M",
			Timeout:   180,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: DAPLOG_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Serial
	if v := os.Getenv("DAPLOG_SERIAL_LOG_ROOT"); v != "" {
		cfg.Serial.LogRoot = v
	}
	if v := os.Getenv("DAPLOG_SERIAL_BAUD_RATE"); v != "" {
		// Malformed values keep the configured rate; Validate reports zero.
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Serial.BaudRate = n
		}
	}

	// API
	if v := os.Getenv("DAPLOG_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("DAPLOG_API_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = n
		}
	}
	if v := os.Getenv("DAPLOG_API_STATIC_DIR"); v != "" {
		cfg.API.StaticDir = v
	}

	// Flash
	if v := os.Getenv("DAPLOG_FLASH_PYOCD_PATH"); v != "" {
		cfg.Flash.PyOCDPath = v
	}
	if v := os.Getenv("DAPLOG_FLASH_PACK_DIR"); v != "" {
		cfg.Flash.PackDir = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Serial validation
	if c.Serial.LogRoot == "" {
		errs = append(errs, "serial.log_root is required")
	}
	if c.Serial.BaudRate <= 0 {
		errs = append(errs, "serial.baud_rate must be positive")
	}
	if c.Serial.ReadTimeoutMs <= 0 {
		errs = append(errs, "serial.read_timeout_ms must be positive")
	}
	if c.Serial.DiscoveryInterval < 1 {
		errs = append(errs, "serial.discovery_interval must be at least 1 second")
	}
	if c.Serial.PauseTimeout < 1 {
		errs = append(errs, "serial.pause_timeout must be at least 1 second")
	}
	if c.Serial.PausePollMs <= 0 {
		errs = append(errs, "serial.pause_poll_ms must be positive")
	}

	// API validation
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// WebSocket validation
	if c.WebSocket.SendBuffer <= 0 {
		errs = append(errs, "websocket.send_buffer must be positive")
	}

	// Flash validation
	if c.Flash.PyOCDPath == "" {
		errs = append(errs, "flash.pyocd_path is required")
	}
	if c.Flash.Target == "" {
		errs = append(errs, "flash.target is required")
	}
	if c.Flash.Timeout < 1 {
		errs = append(errs, "flash.timeout must be at least 1 second")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// GetSerialReadTimeout returns the per-read device timeout as a Duration.
func (c *Config) GetSerialReadTimeout() time.Duration {
	return time.Duration(c.Serial.ReadTimeoutMs) * time.Millisecond
}

// GetDiscoveryInterval returns the enumeration interval as a Duration.
func (c *Config) GetDiscoveryInterval() time.Duration {
	return time.Duration(c.Serial.DiscoveryInterval) * time.Second
}

// GetPauseTimeout returns the pause acknowledgement timeout as a Duration.
func (c *Config) GetPauseTimeout() time.Duration {
	return time.Duration(c.Serial.PauseTimeout) * time.Second
}

// GetPausePoll returns the paused reader's poll interval as a Duration.
func (c *Config) GetPausePoll() time.Duration {
	return time.Duration(c.Serial.PausePollMs) * time.Millisecond
}

// GetFlashTimeout returns the pyocd run timeout as a Duration.
func (c *Config) GetFlashTimeout() time.Duration {
	return time.Duration(c.Flash.Timeout) * time.Second
}

// GetPingInterval returns the WebSocket ping interval as a Duration.
func (c *Config) GetPingInterval() time.Duration {
	return time.Duration(c.WebSocket.PingInterval) * time.Second
}

// GetPongTimeout returns the WebSocket pong wait as a Duration.
func (c *Config) GetPongTimeout() time.Duration {
	return time.Duration(c.WebSocket.PongTimeout) * time.Second
}
