package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/VictorNanka/gemini-cli-mcp/internal/log"
)

// EnvPrefix prefixes environment overrides: GEMINI_MCP_GEMINI_TIMEOUT=10m.
const EnvPrefix = "GEMINI_MCP"

// SetDefaults registers Defaults() on v so env overrides and Unmarshal see
// every key even without a config file.
func SetDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("gemini.binary", d.Gemini.Binary)
	v.SetDefault("gemini.timeout", d.Gemini.Timeout)
	v.SetDefault("log.debug", d.Log.Debug)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.notify_level", d.Log.NotifyLevel)
	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.file_path", d.Tracing.FilePath)
	v.SetDefault("tracing.otlp_endpoint", d.Tracing.OTLPEndpoint)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	v.SetDefault("http.addr", d.HTTP.Addr)
	v.SetDefault("metrics.addr", d.Metrics.Addr)
	v.SetDefault("flags", d.Flags)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load reads the config file configured on v (if any), applies env
// overrides and returns the validated, resolved result. A missing config
// file is not an error.
func Load(v *viper.Viper) (Config, error) {
	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("reading config: %w", err)
		}
		log.Debug(log.CatConfig, "No config file found, using defaults")
	}

	cfg, err := Decode(v)
	if err != nil {
		return Config{}, err
	}
	log.Debug(log.CatConfig, "Config loaded", "file", v.ConfigFileUsed())
	return cfg, nil
}

// Decode unmarshals the current state of v without re-reading the file.
// Used on hot reload.
func Decode(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	cfg.Resolve()
	return cfg, nil
}
