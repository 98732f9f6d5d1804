package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_ValidConfig(t *testing.T) {
	// Create a temporary config file
	content := `
serial:
  log_root: "/var/log/daplog"
  baud_rate: 230400
  discovery_interval: 5
api:
  host: "127.0.0.1"
  port: 9090
flash:
  pack_dir: "/opt/packs"
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "daplog.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Serial.LogRoot != "/var/log/daplog" {
		t.Errorf("Serial.LogRoot = %q, want %q", cfg.Serial.LogRoot, "/var/log/daplog")
	}

	if cfg.Serial.BaudRate != 230400 {
		t.Errorf("Serial.BaudRate = %d, want 230400", cfg.Serial.BaudRate)
	}

	if cfg.API.Port != 9090 {
		t.Errorf("API.Port = %d, want 9090", cfg.API.Port)
	}

	// Values absent from the file keep their defaults
	if cfg.Serial.PauseTimeout != 10 {
		t.Errorf("Serial.PauseTimeout = %d, want default 10", cfg.Serial.PauseTimeout)
	}

	if cfg.Flash.Target != "EFR32FG28B322F1024IM48" {
		t.Errorf("Flash.Target = %q, want default target", cfg.Flash.Target)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/daplog.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "daplog.yaml")
	if err := os.WriteFile(configPath, []byte("invalid: [yaml: content"), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	content := `
serial:
  log_root: ""
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "daplog.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected validation error for empty serial.log_root, got nil")
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config { return defaultConfig() }

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid defaults",
			mutate:  func(*Config) {},
			wantErr: false,
		},
		{
			name:    "missing log root",
			mutate:  func(c *Config) { c.Serial.LogRoot = "" },
			wantErr: true,
		},
		{
			name:    "zero baud rate",
			mutate:  func(c *Config) { c.Serial.BaudRate = 0 },
			wantErr: true,
		},
		{
			name:    "negative read timeout",
			mutate:  func(c *Config) { c.Serial.ReadTimeoutMs = -1 },
			wantErr: true,
		},
		{
			name:    "zero discovery interval",
			mutate:  func(c *Config) { c.Serial.DiscoveryInterval = 0 },
			wantErr: true,
		},
		{
			name:    "zero pause timeout",
			mutate:  func(c *Config) { c.Serial.PauseTimeout = 0 },
			wantErr: true,
		},
		{
			name:    "invalid port low",
			mutate:  func(c *Config) { c.API.Port = 0 },
			wantErr: true,
		},
		{
			name:    "invalid port high",
			mutate:  func(c *Config) { c.API.Port = 70000 },
			wantErr: true,
		},
		{
			name:    "zero websocket buffer",
			mutate:  func(c *Config) { c.WebSocket.SendBuffer = 0 },
			wantErr: true,
		},
		{
			name:    "missing pyocd path",
			mutate:  func(c *Config) { c.Flash.PyOCDPath = "" },
			wantErr: true,
		},
		{
			name:    "missing flash target",
			mutate:  func(c *Config) { c.Flash.Target = "" },
			wantErr: true,
		},
		{
			name:    "zero flash timeout",
			mutate:  func(c *Config) { c.Flash.Timeout = 0 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_GetTimeouts(t *testing.T) {
	cfg := &Config{
		API: APIConfig{
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 45,
				Idle:  60,
			},
		},
		Serial: SerialConfig{
			ReadTimeoutMs:     100,
			DiscoveryInterval: 10,
			PauseTimeout:      10,
			PausePollMs:       200,
		},
		Flash: FlashConfig{Timeout: 180},
	}

	if got := cfg.GetReadTimeout().Seconds(); got != 30 {
		t.Errorf("GetReadTimeout() = %v, want 30", got)
	}

	if got := cfg.GetWriteTimeout().Seconds(); got != 45 {
		t.Errorf("GetWriteTimeout() = %v, want 45", got)
	}

	if got := cfg.GetIdleTimeout().Seconds(); got != 60 {
		t.Errorf("GetIdleTimeout() = %v, want 60", got)
	}

	if got := cfg.GetSerialReadTimeout().Milliseconds(); got != 100 {
		t.Errorf("GetSerialReadTimeout() = %vms, want 100ms", got)
	}

	if got := cfg.GetDiscoveryInterval().Seconds(); got != 10 {
		t.Errorf("GetDiscoveryInterval() = %v, want 10", got)
	}

	if got := cfg.GetPausePoll().Milliseconds(); got != 200 {
		t.Errorf("GetPausePoll() = %vms, want 200ms", got)
	}

	if got := cfg.GetFlashTimeout().Seconds(); got != 180 {
		t.Errorf("GetFlashTimeout() = %v, want 180", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	// Set environment variables
	t.Setenv("DAPLOG_SERIAL_LOG_ROOT", "/custom/logs")
	t.Setenv("DAPLOG_SERIAL_BAUD_RATE", "921600")
	t.Setenv("DAPLOG_API_HOST", "192.168.1.1")
	t.Setenv("DAPLOG_API_PORT", "9000")
	t.Setenv("DAPLOG_API_STATIC_DIR", "/srv/frontend")
	t.Setenv("DAPLOG_FLASH_PYOCD_PATH", "/usr/local/bin/pyocd")
	t.Setenv("DAPLOG_FLASH_PACK_DIR", "/custom/packs")

	applyEnvOverrides(cfg)

	if cfg.Serial.LogRoot != "/custom/logs" {
		t.Errorf("Serial.LogRoot = %q, want %q", cfg.Serial.LogRoot, "/custom/logs")
	}

	if cfg.Serial.BaudRate != 921600 {
		t.Errorf("Serial.BaudRate = %d, want 921600", cfg.Serial.BaudRate)
	}

	if cfg.API.Host != "192.168.1.1" {
		t.Errorf("API.Host = %q, want %q", cfg.API.Host, "192.168.1.1")
	}

	if cfg.API.Port != 9000 {
		t.Errorf("API.Port = %d, want 9000", cfg.API.Port)
	}

	if cfg.API.StaticDir != "/srv/frontend" {
		t.Errorf("API.StaticDir = %q, want %q", cfg.API.StaticDir, "/srv/frontend")
	}

	if cfg.Flash.PyOCDPath != "/usr/local/bin/pyocd" {
		t.Errorf("Flash.PyOCDPath = %q, want %q", cfg.Flash.PyOCDPath, "/usr/local/bin/pyocd")
	}

	if cfg.Flash.PackDir != "/custom/packs" {
		t.Errorf("Flash.PackDir = %q, want %q", cfg.Flash.PackDir, "/custom/packs")
	}
}

func TestApplyEnvOverrides_MalformedInt(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("DAPLOG_SERIAL_BAUD_RATE", "fast")

	applyEnvOverrides(cfg)

	if cfg.Serial.BaudRate != 115200 {
		t.Errorf("Serial.BaudRate = %d, want default 115200 for malformed override", cfg.Serial.BaudRate)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Serial.LogRoot == "" {
		t.Error("defaultConfig should have non-empty Serial.LogRoot")
	}

	if cfg.Serial.BaudRate != 115200 {
		t.Errorf("defaultConfig Serial.BaudRate = %d, want 115200", cfg.Serial.BaudRate)
	}

	if cfg.Serial.DiscoveryInterval != 10 {
		t.Errorf("defaultConfig Serial.DiscoveryInterval = %d, want 10", cfg.Serial.DiscoveryInterval)
	}

	if cfg.API.Port != 8080 {
		t.Errorf("defaultConfig API.Port = %d, want 8080", cfg.API.Port)
	}

	if cfg.WebSocket.SendBuffer != 5000 {
		t.Errorf("defaultConfig WebSocket.SendBuffer = %d, want 5000", cfg.WebSocket.SendBuffer)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("defaultConfig should validate, got %v", err)
	}
}

func TestDefault_AppliesEnv(t *testing.T) {
	t.Setenv("DAPLOG_SERIAL_LOG_ROOT", "/env/logs")

	cfg, err := Default()
	if err != nil {
		t.Fatalf("Default() error = %v", err)
	}

	if cfg.Serial.LogRoot != "/env/logs" {
		t.Errorf("Serial.LogRoot = %q, want %q", cfg.Serial.LogRoot, "/env/logs")
	}
}
