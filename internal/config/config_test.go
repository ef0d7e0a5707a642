package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfig(t *testing.T) {
	t.Setenv(LogLevelEnv, "")

	// Create a temporary config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
input:
  dir: /srv/in
  active_name: fw.log

output:
  dir: /srv/out

checkpoint:
  path: /srv/work/ck.json
  flush_interval: 5s
  save_retries: 4

tail:
  poll_max_wait: 250ms
  slice: 1s
  idle_sleep: 100ms

logging:
  level: debug
  format: json
`

	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Input.ActivePath() != "/srv/in/fw.log" {
		t.Errorf("Expected active path /srv/in/fw.log, got %s", cfg.Input.ActivePath())
	}

	if cfg.Checkpoint.FlushInterval != 5*time.Second {
		t.Errorf("Expected checkpoint interval 5s, got %v", cfg.Checkpoint.FlushInterval)
	}

	if cfg.Checkpoint.SaveRetries != 4 {
		t.Errorf("Expected 4 save retries, got %d", cfg.Checkpoint.SaveRetries)
	}

	if cfg.Tail.PollMaxWait != 250*time.Millisecond || cfg.Tail.Slice != time.Second {
		t.Errorf("Unexpected tail config %+v", cfg.Tail)
	}

	// Unset sections take defaults
	if cfg.Metrics.Interval != DefaultMetricsInterval {
		t.Errorf("Expected metrics interval %v, got %v", DefaultMetricsInterval, cfg.Metrics.Interval)
	}
	if cfg.Heartbeat.Interval != DefaultHeartbeatInterval {
		t.Errorf("Expected heartbeat interval %v, got %v", DefaultHeartbeatInterval, cfg.Heartbeat.Interval)
	}
	if cfg.Tail.MaxLineBytes != DefaultMaxLineBytes {
		t.Errorf("Expected max line bytes %d, got %d", DefaultMaxLineBytes, cfg.Tail.MaxLineBytes)
	}

	if cfg.Logging.Level != "debug" {
		t.Errorf("Expected log level debug, got %s", cfg.Logging.Level)
	}
}

func TestLoadConfigWithEnvVars(t *testing.T) {
	t.Setenv("FW_ROOT", "/opt/fw")
	t.Setenv(LogLevelEnv, "")

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
input:
  dir: ${FW_ROOT}/input
output:
  dir: ${FW_ROOT}/output
checkpoint:
  path: ${FW_ROOT}/work/checkpoint.json
`

	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Input.Dir != "/opt/fw/input" {
		t.Errorf("Expected input dir from env var, got %s", cfg.Input.Dir)
	}
	if cfg.Checkpoint.Path != "/opt/fw/work/checkpoint.json" {
		t.Errorf("Expected checkpoint path from env var, got %s", cfg.Checkpoint.Path)
	}
}

func TestLogLevelEnvOverride(t *testing.T) {
	tests := []struct {
		env  string
		want string
	}{
		{"DEBUG", "debug"},
		{"warning", "warn"},
		{"Error", "error"},
		{"verbose", "info"},
	}

	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			t.Setenv(LogLevelEnv, tt.env)

			cfg, err := LoadOrDefault("")
			if err != nil {
				t.Fatalf("LoadOrDefault failed: %v", err)
			}
			if cfg.Logging.Level != tt.want {
				t.Errorf("Expected level %s, got %s", tt.want, cfg.Logging.Level)
			}
		})
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "active name with separator",
			mutate:  func(c *Config) { c.Input.ActiveName = "sub/fw.log" },
			wantErr: true,
		},
		{
			name:    "negative slice",
			mutate:  func(c *Config) { c.Tail.Slice = -time.Second },
			wantErr: true,
		},
		{
			name:    "invalid log level",
			mutate:  func(c *Config) { c.Logging.Level = "invalid" },
			wantErr: true,
		},
		{
			name:    "invalid log format",
			mutate:  func(c *Config) { c.Logging.Format = "invalid" },
			wantErr: true,
		},
		{
			name:    "health without address",
			mutate:  func(c *Config) { c.Health = &HealthConfig{Enabled: true} },
			wantErr: true,
		},
		{
			name:    "tracing sample rate out of range",
			mutate:  func(c *Config) { c.Tracing = &TracingConfig{Enabled: true, SampleRate: 2} },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config should be valid: %v", err)
	}

	if cfg.Logging.Level != DefaultLogLevel {
		t.Errorf("Expected default log level %s, got %s", DefaultLogLevel, cfg.Logging.Level)
	}

	if cfg.Input.ActivePath() != "/data/fortigate-runtime/input/fortigate.log" {
		t.Errorf("Unexpected default active path %s", cfg.Input.ActivePath())
	}

	if cfg.Checkpoint.FlushInterval != 2*time.Second || cfg.Tail.IdleSleep != 200*time.Millisecond {
		t.Errorf("Unexpected default intervals: %+v %+v", cfg.Checkpoint, cfg.Tail)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Expected an error for a missing config file")
	}
}
