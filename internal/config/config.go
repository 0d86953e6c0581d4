// Package config provides configuration types, defaults, and persistence for
// the gemini-cli-mcp server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/VictorNanka/gemini-cli-mcp/internal/flags"
	"github.com/VictorNanka/gemini-cli-mcp/internal/log"
	"github.com/VictorNanka/gemini-cli-mcp/internal/orchestration/gemini"
	"github.com/VictorNanka/gemini-cli-mcp/internal/orchestration/tracing"
	"github.com/VictorNanka/gemini-cli-mcp/internal/paths"
)

// Config holds all server configuration.
type Config struct {
	Gemini  GeminiConfig    `mapstructure:"gemini" yaml:"gemini"`
	Log     LogConfig       `mapstructure:"log" yaml:"log"`
	Tracing tracing.Config  `mapstructure:"tracing" yaml:"tracing"`
	HTTP    HTTPConfig      `mapstructure:"http" yaml:"http"`
	Metrics MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
	Flags   map[string]bool `mapstructure:"flags" yaml:"flags,omitempty"`
}

// GeminiConfig controls how the Gemini CLI is launched.
type GeminiConfig struct {
	// Binary is the executable name or path. Bare names are looked up on
	// PATH and in common npm/homebrew install locations.
	// Default: "gemini"
	Binary string `mapstructure:"binary" yaml:"binary"`

	// Timeout bounds a single task run. Zero waits indefinitely.
	// Default: 0
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`

	// Env holds extra environment variables for the child process
	// (e.g. GEMINI_API_KEY).
	Env map[string]string `mapstructure:"env" yaml:"env,omitempty"`
}

// LogConfig controls the debug log file. Logging never writes to stdout.
type LogConfig struct {
	Debug bool   `mapstructure:"debug" yaml:"debug"`
	File  string `mapstructure:"file" yaml:"file"`
	// Level is the minimum level written: debug, info, warn or error.
	Level string `mapstructure:"level" yaml:"level"`
	// NotifyLevel is the initial minimum severity of notifications/message
	// sent to the client, until it calls logging/setLevel.
	NotifyLevel string `mapstructure:"notify_level" yaml:"notify_level"`
}

// HTTPConfig enables the optional HTTP transport. Empty Addr disables it.
type HTTPConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// MetricsConfig enables the Prometheus /metrics endpoint. Empty Addr disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// Defaults returns a Config with sensible default values.
func Defaults() Config {
	return Config{
		Gemini: GeminiConfig{
			Binary:  gemini.DefaultBinary,
			Timeout: 0,
		},
		Log: LogConfig{
			Debug:       false,
			File:        "", // Derived from config dir at runtime
			Level:       "debug",
			NotifyLevel: "debug",
		},
		Tracing: tracing.DefaultConfig(),
		Flags:   flags.Defaults(),
	}
}

// Validate checks the whole configuration.
func Validate(cfg Config) error {
	if err := ValidateGemini(cfg.Gemini); err != nil {
		return err
	}
	if err := ValidateLog(cfg.Log); err != nil {
		return err
	}
	return ValidateTracing(cfg.Tracing)
}

// ValidateGemini checks the gemini section.
func ValidateGemini(g GeminiConfig) error {
	if strings.TrimSpace(g.Binary) == "" {
		return fmt.Errorf("gemini.binary must not be empty")
	}
	if g.Timeout < 0 {
		return fmt.Errorf("gemini.timeout must not be negative, got %s", g.Timeout)
	}
	for k := range g.Env {
		if k == "" || strings.ContainsAny(k, "= ") {
			return fmt.Errorf("gemini.env has invalid variable name %q", k)
		}
	}
	return nil
}

// ValidateLog checks the log section.
func ValidateLog(l LogConfig) error {
	switch strings.ToLower(l.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log.level must be \"debug\", \"info\", \"warn\", or \"error\", got %q", l.Level)
	}
	if l.NotifyLevel != "" {
		if _, ok := gemini.ParseSeverity(l.NotifyLevel); !ok {
			return fmt.Errorf("log.notify_level %q is not an MCP log level", l.NotifyLevel)
		}
	}
	return nil
}

// ValidateTracing checks tracing configuration for errors.
// Returns nil if the configuration is valid (empty values use defaults).
func ValidateTracing(t tracing.Config) error {
	if t.SampleRate < 0.0 || t.SampleRate > 1.0 {
		return fmt.Errorf("tracing.sample_rate must be between 0.0 and 1.0, got %v", t.SampleRate)
	}

	if t.Exporter != "" {
		switch t.Exporter {
		case "none", "file", "stderr", "otlp":
			// Valid
		default:
			return fmt.Errorf("tracing.exporter must be \"none\", \"file\", \"stderr\", or \"otlp\", got %q", t.Exporter)
		}
	}

	// Only validate endpoint requirements when tracing is enabled
	if t.Enabled && t.Exporter == "otlp" && t.OTLPEndpoint == "" {
		return fmt.Errorf("tracing.otlp_endpoint is required when exporter is \"otlp\"")
	}

	return nil
}

// Resolve fills runtime-derived values: the log and trace file locations,
// "~" expansion and upper-cased Gemini environment names.
func (c *Config) Resolve() {
	if c.Log.File == "" {
		c.Log.File = paths.DefaultLogFile()
	}
	c.Log.File = paths.ExpandHome(c.Log.File)

	if c.Tracing.FilePath == "" {
		c.Tracing.FilePath = paths.DefaultTracesFile()
	}
	c.Tracing.FilePath = paths.ExpandHome(c.Tracing.FilePath)

	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = tracing.DefaultServiceName
	}
	c.Gemini.Binary = paths.ExpandHome(c.Gemini.Binary)

	// viper lowercases map keys; environment names are conventionally upper case.
	if len(c.Gemini.Env) > 0 {
		env := make(map[string]string, len(c.Gemini.Env))
		for k, v := range c.Gemini.Env {
			env[strings.ToUpper(k)] = v
		}
		c.Gemini.Env = env
	}
}

// DefaultConfigTemplate returns the default config as a YAML string with comments.
func DefaultConfigTemplate() string {
	return `# gemini-cli-mcp configuration
#
# Every key can also be set through the environment with the GEMINI_MCP_
# prefix, e.g. GEMINI_MCP_GEMINI_TIMEOUT=10m.

gemini:
  # Executable name or path of the Gemini CLI
  binary: gemini

  # Maximum wall time of one task; 0 waits indefinitely.
  # Changes to binary and timeout apply without a restart.
  timeout: 0s

  # Extra environment for the Gemini CLI process
  # env:
  #   GEMINI_API_KEY: "..."

log:
  debug: false      # Write a debug log (also --debug)
  # file: ~/.config/gemini-cli-mcp/debug.log
  level: debug      # debug, info, warn, error
  notify_level: debug  # Initial level of log notifications sent to the client

# Optional HTTP transport (POST /mcp, single request/response)
# http:
#   addr: 127.0.0.1:8765

# Prometheus metrics endpoint (GET /metrics)
# metrics:
#   addr: 127.0.0.1:9464

# Distributed tracing of task runs
# tracing:
#   enabled: false                 # Enable/disable tracing (default: false)
#   exporter: file                 # none, file, stderr, otlp (default: file)
#   file_path: ~/.config/gemini-cli-mcp/traces/traces.jsonl
#   otlp_endpoint: localhost:4317  # OTLP collector endpoint (for otlp exporter)
#   sample_rate: 1.0               # Trace sampling rate 0.0-1.0 (default: 1.0)

# Feature flags
flags:
  display-hint: true     # Attach _meta.chatwise so clients show the answer as-is
  log-forwarding: true   # Stream Gemini events to the client as log notifications
`
}

// WriteDefaultConfig creates a config file at the given path with default settings and comments.
// Creates the parent directory if it doesn't exist.
func WriteDefaultConfig(configPath string) error {
	log.Debug(log.CatConfig, "Writing default config", "path", configPath)

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to create config directory", err, "dir", dir)
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(DefaultConfigTemplate()), 0o600); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to write config file", err, "path", configPath)
		return fmt.Errorf("writing config file: %w", err)
	}

	log.Info(log.CatConfig, "Created default config", "path", configPath)
	return nil
}
