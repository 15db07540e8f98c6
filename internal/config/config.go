// Package config loads and hot-reloads archflow's configuration
// (the documented recognized option list), grounded on
// internal/config/config.go (Default/Load/loadFromFile/loadFromEnv
// sequencing, YAML + environment-variable override idiom).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// AgentConfig corresponds to the documented `agent.*` options.
type AgentConfig struct {
	ID string `yaml:"id"`
	PluginsPath string `yaml:"plugins_path,omitempty"`
}

// FlowConfig corresponds to the documented `flow.*` options.
type FlowConfig struct {
	MaxConcurrent int `yaml:"max_concurrent"`
	DefaultTimeoutMs int `yaml:"default_timeout_ms"`
}

// RetryConfig corresponds to the documented `retry.*` options. They are
// loaded and validated here, but the daemon does not pass them to the
// flow engine: a step without its own RetryConfig runs under
// pkg/retry's DefaultPolicy (a single attempt).
type RetryConfig struct {
	MaxAttempts int `yaml:"max_attempts"`
	InitialDelayMs int `yaml:"initial_delay_ms"`
	BackoffMultiplier float64 `yaml:"backoff_multiplier"`
}

// ResourcesConfig corresponds to the documented `resources.*` options.
type ResourcesConfig struct {
	Parallelism int `yaml:"parallelism"`
	MaxHeapBytes int64 `yaml:"max_heap_bytes,omitempty"`
}

// MetricsExportConfig corresponds to the documented `metrics.export.*`
// options.
type MetricsExportConfig struct {
	Backend string `yaml:"backend"` // log | prometheus | influxdb | http
	URL string `yaml:"url,omitempty"`
	Async bool `yaml:"async"`
}

// MetricsConfig corresponds to the documented `metrics.*` options.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	IntervalSec int `yaml:"interval_sec"`
	Export MetricsExportConfig `yaml:"export"`
}

// StreamingConfig corresponds to the documented `streaming.*` options.
type StreamingConfig struct {
	MaxEmitters int `yaml:"max_emitters"`
	MaxQueueSize int `yaml:"max_queue_size"`
	IdleTimeoutMs int `yaml:"idle_timeout_ms"`
}

// HTTPConfig configures the HTTP API surface: its own listener
// settings, not part of any other named option group.
type HTTPConfig struct {
	Listen string `yaml:"listen"`
	JWTKey string `yaml:"jwt_key,omitempty"`
}

// LogConfig mirrors LogConfig shape.
type LogConfig struct {
	Level string `yaml:"level"`
	Format string `yaml:"format"` // json | text
}

// TracingConfig corresponds to the documented `tracing.*` options: a
// console (stdouttrace) exporter is the only backend archflow wires up
// today, so there is nothing to select — only whether to emit spans.
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Config is archflow's complete configuration.
type Config struct {
	Log LogConfig `yaml:"log"`
	Agent AgentConfig `yaml:"agent"`
	Flow FlowConfig `yaml:"flow"`
	Retry RetryConfig `yaml:"retry"`
	Resources ResourcesConfig `yaml:"resources"`
	Metrics MetricsConfig `yaml:"metrics"`
	Streaming StreamingConfig `yaml:"streaming"`
	HTTP HTTPConfig `yaml:"http"`
	Tracing TracingConfig `yaml:"tracing"`
	WorkflowsDir string `yaml:"workflows_dir"`
}

// Default returns archflow's built-in configuration, grounded on the
// Default (every field given an explicit, documented
// value so a minimal or absent config file still produces a working
// engine).
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Format: "json"},
		Agent: AgentConfig{
			ID: "archflow",
		},
		Flow: FlowConfig{
			MaxConcurrent: 4,
			DefaultTimeoutMs: 30_000,
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			InitialDelayMs: 100,
			BackoffMultiplier: 2.0,
		},
		Resources: ResourcesConfig{
			Parallelism: 4,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			IntervalSec: 60,
			Export: MetricsExportConfig{Backend: "log"},
		},
		Streaming: StreamingConfig{
			MaxEmitters: 1000,
			MaxQueueSize: 256,
			IdleTimeoutMs: 5 * 60_000,
		},
		HTTP: HTTPConfig{
			Listen: ":8080",
		},
		Tracing: TracingConfig{
			Enabled: false,
		},
		WorkflowsDir: "./workflows",
	}
}

// Load builds a Config starting from Default, overlaying a YAML file
// at path (if non-empty) and then environment variables, grounded on
// the Load (file, then env, in that precedence order) — here
// env wins over file, matching this package's own documented behavior.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFromFile(path); err != nil {
			return nil, fmt.Errorf("config: load %s: %w", path, err)
		}
	}

	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}
	return nil
}

// loadFromEnv overlays ARCHFLOW_-prefixed environment variables,
// mirroring loadFromEnv idiom (only set a field when the
// variable is actually present; ignore unparsable numeric/duration
// values rather than fail the whole load).
func (c *Config) loadFromEnv() {
	if v := os.Getenv("ARCHFLOW_LOG_LEVEL"); v != "" {
		c.Log.Level = strings.ToLower(v)
	}
	if v := os.Getenv("ARCHFLOW_LOG_FORMAT"); v != "" {
		c.Log.Format = strings.ToLower(v)
	}
	if v := os.Getenv("ARCHFLOW_AGENT_ID"); v != "" {
		c.Agent.ID = v
	}
	if v := os.Getenv("ARCHFLOW_AGENT_PLUGINS_PATH"); v != "" {
		c.Agent.PluginsPath = v
	}
	if v := os.Getenv("ARCHFLOW_FLOW_MAX_CONCURRENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Flow.MaxConcurrent = n
		}
	}
	if v := os.Getenv("ARCHFLOW_FLOW_DEFAULT_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Flow.DefaultTimeoutMs = n
		}
	}
	if v := os.Getenv("ARCHFLOW_RETRY_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Retry.MaxAttempts = n
		}
	}
	if v := os.Getenv("ARCHFLOW_RESOURCES_PARALLELISM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Resources.Parallelism = n
		}
	}
	if v := os.Getenv("ARCHFLOW_METRICS_ENABLED"); v != "" {
		c.Metrics.Enabled = v == "1" || strings.ToLower(v) == "true"
	}
	if v := os.Getenv("ARCHFLOW_METRICS_EXPORT_BACKEND"); v != "" {
		c.Metrics.Export.Backend = v
	}
	if v := os.Getenv("ARCHFLOW_METRICS_EXPORT_URL"); v != "" {
		c.Metrics.Export.URL = v
	}
	if v := os.Getenv("ARCHFLOW_STREAMING_MAX_EMITTERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Streaming.MaxEmitters = n
		}
	}
	if v := os.Getenv("ARCHFLOW_HTTP_LISTEN"); v != "" {
		c.HTTP.Listen = v
	}
	if v := os.Getenv("ARCHFLOW_HTTP_JWT_KEY"); v != "" {
		c.HTTP.JWTKey = v
	}
	if v := os.Getenv("ARCHFLOW_TRACING_ENABLED"); v != "" {
		c.Tracing.Enabled = v == "1" || strings.ToLower(v) == "true"
	}
	if v := os.Getenv("ARCHFLOW_WORKFLOWS_DIR"); v != "" {
		c.WorkflowsDir = v
	}
}

var validExportBackends = map[string]bool{"log": true, "prometheus": true, "influxdb": true, "http": true}

// Validate checks a loaded Config for internally inconsistent values,
// grounded on Config.Validate (collect every error,
// never short-circuit on the first one, then join).
func (c *Config) Validate() error {
	var errs []string

	if c.Flow.MaxConcurrent < 1 {
		errs = append(errs, "flow.max_concurrent must be >= 1")
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, "retry.max_attempts must be >= 1")
	}
	if c.Retry.BackoffMultiplier < 1.0 {
		errs = append(errs, "retry.backoff_multiplier must be >= 1.0")
	}
	if c.Resources.Parallelism < 1 {
		errs = append(errs, "resources.parallelism must be >= 1")
	}
	if !validExportBackends[c.Metrics.Export.Backend] {
		errs = append(errs, fmt.Sprintf("metrics.export.backend %q is not one of log, prometheus, influxdb, http", c.Metrics.Export.Backend))
	}
	if c.Streaming.MaxEmitters < 1 {
		errs = append(errs, "streaming.max_emitters must be >= 1")
	}
	if c.Streaming.MaxQueueSize < 1 {
		errs = append(errs, "streaming.max_queue_size must be >= 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return nil
}
