package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the main configuration
type Config struct {
	Input      InputConfig      `yaml:"input"`
	Output     OutputConfig     `yaml:"output"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Tail       TailConfig       `yaml:"tail"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Heartbeat  HeartbeatConfig  `yaml:"heartbeat"`
	Logging    LoggingConfig    `yaml:"logging"`
	Health     *HealthConfig    `yaml:"health,omitempty"`
	Tracing    *TracingConfig   `yaml:"tracing,omitempty"`
}

// InputConfig locates the active file and its rotated siblings
type InputConfig struct {
	Dir        string `yaml:"dir"`
	ActiveName string `yaml:"active_name"`
}

// ActivePath returns the full path of the active file
func (c InputConfig) ActivePath() string {
	return filepath.Join(c.Dir, c.ActiveName)
}

// OutputConfig holds the JSONL output location
type OutputConfig struct {
	Dir string `yaml:"dir"`
}

// CheckpointConfig holds checkpoint persistence settings
type CheckpointConfig struct {
	Path          string        `yaml:"path"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	SaveRetries   int           `yaml:"save_retries,omitempty"`
	RetryBackoff  time.Duration `yaml:"retry_backoff,omitempty"`
}

// TailConfig tunes how the active file is followed
type TailConfig struct {
	PollMaxWait  time.Duration `yaml:"poll_max_wait"`
	PollInterval time.Duration `yaml:"poll_interval,omitempty"`
	Slice        time.Duration `yaml:"slice"`
	IdleSleep    time.Duration `yaml:"idle_sleep"`
	MaxLineBytes int           `yaml:"max_line_bytes,omitempty"`
}

// MetricsConfig holds metrics configuration. Interval drives the JSONL
// metrics stream; Address, when set, also serves Prometheus metrics.
type MetricsConfig struct {
	Interval time.Duration `yaml:"interval"`
	Address  string        `yaml:"address,omitempty"`
	Path     string        `yaml:"path,omitempty"`
}

// HeartbeatConfig holds heartbeat log settings
type HeartbeatConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// LoggingConfig holds operational log settings
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or console
}

// HealthConfig holds health check configuration
type HealthConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Address       string        `yaml:"address"`
	LivenessPath  string        `yaml:"liveness_path,omitempty"`
	ReadinessPath string        `yaml:"readiness_path,omitempty"`
	StaleAfter    time.Duration `yaml:"stale_after,omitempty"`
}

// TracingConfig holds tracing configuration
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint,omitempty"`
	SampleRate float64 `yaml:"sample_rate,omitempty"`
}

// Default values
const (
	DefaultInputDir           = "/data/fortigate-runtime/input"
	DefaultActiveName         = "fortigate.log"
	DefaultOutputDir          = "/data/fortigate-runtime/output/parsed"
	DefaultCheckpointPath     = "/data/fortigate-runtime/work/checkpoint.json"
	DefaultCheckpointInterval = 2 * time.Second
	DefaultSaveRetries        = 2
	DefaultRetryBackoff       = 50 * time.Millisecond
	DefaultPollMaxWait        = 500 * time.Millisecond
	DefaultPollInterval       = 50 * time.Millisecond
	DefaultTailSlice          = 2 * time.Second
	DefaultIdleSleep          = 200 * time.Millisecond
	DefaultMaxLineBytes       = 1 << 20
	DefaultMetricsInterval    = 10 * time.Second
	DefaultHeartbeatInterval  = 10 * time.Second
	DefaultHealthStaleAfter   = 30 * time.Second
	DefaultLogLevel           = "info"
	DefaultLogFormat          = "json"

	// LogLevelEnv overrides the configured log level
	LogLevelEnv = "LOG_LEVEL"
)

// Load loads configuration from a YAML file with environment variable overrides
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables in the YAML content
	expandedData := []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(expandedData, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// LoadOrDefault loads path, or the default configuration when path is empty
func LoadOrDefault(path string) (*Config, error) {
	if path != "" {
		return Load(path)
	}

	cfg := DefaultConfig()
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyEnv applies LOG_LEVEL. Unknown values fall back to info.
func (c *Config) applyEnv() {
	v, ok := os.LookupEnv(LogLevelEnv)
	if !ok || strings.TrimSpace(v) == "" {
		return
	}
	if level, ok := NormalizeLevel(v); ok {
		c.Logging.Level = level
	} else {
		c.Logging.Level = DefaultLogLevel
	}
}

// NormalizeLevel maps a level name in any case to the logger's names
func NormalizeLevel(level string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return "debug", true
	case "info":
		return "info", true
	case "warn", "warning":
		return "warn", true
	case "error":
		return "error", true
	case "fatal", "critical":
		return "fatal", true
	}
	return "", false
}

func (c *Config) applyDefaults() {
	if c.Input.Dir == "" {
		c.Input.Dir = DefaultInputDir
	}
	if c.Input.ActiveName == "" {
		c.Input.ActiveName = DefaultActiveName
	}
	if c.Output.Dir == "" {
		c.Output.Dir = DefaultOutputDir
	}

	if c.Checkpoint.Path == "" {
		c.Checkpoint.Path = DefaultCheckpointPath
	}
	if c.Checkpoint.FlushInterval == 0 {
		c.Checkpoint.FlushInterval = DefaultCheckpointInterval
	}
	if c.Checkpoint.SaveRetries == 0 {
		c.Checkpoint.SaveRetries = DefaultSaveRetries
	}
	if c.Checkpoint.RetryBackoff == 0 {
		c.Checkpoint.RetryBackoff = DefaultRetryBackoff
	}

	if c.Tail.PollMaxWait == 0 {
		c.Tail.PollMaxWait = DefaultPollMaxWait
	}
	if c.Tail.PollInterval == 0 {
		c.Tail.PollInterval = DefaultPollInterval
	}
	if c.Tail.Slice == 0 {
		c.Tail.Slice = DefaultTailSlice
	}
	if c.Tail.IdleSleep == 0 {
		c.Tail.IdleSleep = DefaultIdleSleep
	}
	if c.Tail.MaxLineBytes == 0 {
		c.Tail.MaxLineBytes = DefaultMaxLineBytes
	}

	if c.Metrics.Interval == 0 {
		c.Metrics.Interval = DefaultMetricsInterval
	}
	if c.Metrics.Address != "" && c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Heartbeat.Interval == 0 {
		c.Heartbeat.Interval = DefaultHeartbeatInterval
	}

	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}

	if c.Health != nil && c.Health.StaleAfter == 0 {
		c.Health.StaleAfter = DefaultHealthStaleAfter
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Input.Dir == "" || c.Input.ActiveName == "" {
		return fmt.Errorf("input dir and active_name are required")
	}
	if strings.ContainsRune(c.Input.ActiveName, filepath.Separator) {
		return fmt.Errorf("input active_name must be a file name, got %q", c.Input.ActiveName)
	}
	if c.Output.Dir == "" {
		return fmt.Errorf("output dir is required")
	}
	if c.Checkpoint.Path == "" {
		return fmt.Errorf("checkpoint path is required")
	}

	durations := map[string]time.Duration{
		"checkpoint.flush_interval": c.Checkpoint.FlushInterval,
		"tail.poll_max_wait":        c.Tail.PollMaxWait,
		"tail.slice":                c.Tail.Slice,
		"tail.idle_sleep":           c.Tail.IdleSleep,
		"metrics.interval":          c.Metrics.Interval,
		"heartbeat.interval":        c.Heartbeat.Interval,
	}
	for name, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %v", name, d)
		}
	}

	if c.Checkpoint.SaveRetries < 0 {
		return fmt.Errorf("checkpoint.save_retries must not be negative")
	}
	if c.Tail.MaxLineBytes < 0 {
		return fmt.Errorf("tail.max_line_bytes must not be negative")
	}

	if _, ok := NormalizeLevel(c.Logging.Level); !ok {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"json": true, "console": true,
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	if c.Health != nil && c.Health.Enabled && c.Health.Address == "" {
		return fmt.Errorf("health address is required when health is enabled")
	}
	if c.Tracing != nil && c.Tracing.Enabled && (c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1) {
		return fmt.Errorf("tracing sample_rate must be within [0, 1]")
	}

	return nil
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	cfg := &Config{
		Logging: LoggingConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
	cfg.applyDefaults()
	return cfg
}
