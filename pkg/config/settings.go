package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/openfroyo/cloudsim/pkg/stores"
	"github.com/openfroyo/cloudsim/pkg/telemetry"
)

// EnvPrefix prefixes environment overrides, e.g. CLOUDSIM_LOG_LEVEL.
const EnvPrefix = "CLOUDSIM"

// Settings is the process-level configuration shared by every command.
type Settings struct {
	// Environment is matched by environment-aware policies.
	Environment string          `mapstructure:"environment" validate:"required"`
	Log         LogSettings     `mapstructure:"log"`
	Metrics     MetricsSettings `mapstructure:"metrics"`
	Tracing     TracingSettings `mapstructure:"tracing"`
	Server      ServerSettings  `mapstructure:"server"`
	Journal     JournalSettings `mapstructure:"journal"`
	Policy      PolicySettings  `mapstructure:"policy"`
}

// LogSettings configures the zerolog logger.
type LogSettings struct {
	Level  string `mapstructure:"level" validate:"oneof=trace debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=console json"`
	// Output is stdout, stderr or a file path. Files are rotated.
	Output     string `mapstructure:"output" validate:"required"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" validate:"min=0"`
	MaxBackups int    `mapstructure:"max_backups" validate:"min=0"`
	MaxAgeDays int    `mapstructure:"max_age_days" validate:"min=0"`
	Compress   bool   `mapstructure:"compress"`
}

// MetricsSettings configures Prometheus metrics.
type MetricsSettings struct {
	Enabled bool `mapstructure:"enabled"`
	// Address serves /metrics on a dedicated listener; empty means the API
	// router serves it.
	Address string `mapstructure:"address" validate:"omitempty,hostname_port"`
}

// TracingSettings configures OpenTelemetry tracing.
type TracingSettings struct {
	Enabled      bool    `mapstructure:"enabled"`
	Exporter     string  `mapstructure:"exporter" validate:"oneof=otlp stdout none"`
	Endpoint     string  `mapstructure:"endpoint" validate:"required_if=Exporter otlp"`
	SamplingRate float64 `mapstructure:"sampling_rate" validate:"min=0,max=1"`
	Insecure     bool    `mapstructure:"insecure"`
}

// ServerSettings configures the HTTP API.
type ServerSettings struct {
	Address         string        `mapstructure:"address" validate:"required,hostname_port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" validate:"min=0"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" validate:"min=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"min=0"`
}

// JournalSettings configures the SQLite run journal.
type JournalSettings struct {
	// Path is a database file, or ":memory:". Empty disables the journal.
	Path string `mapstructure:"path"`
}

// PolicySettings configures the guardrail policy engine.
type PolicySettings struct {
	// Dir holds .rego and .json policy files loaded next to the built-ins.
	Dir string `mapstructure:"dir"`

	// Watch reloads Dir when it changes. Only used by long-running commands.
	Watch bool `mapstructure:"watch"`

	// DisableBuiltins drops the built-in guardrails.
	DisableBuiltins bool `mapstructure:"disable_builtins"`
}

// DefaultSettings returns the settings used when no file or override is
// given.
func DefaultSettings() *Settings {
	return &Settings{
		Environment: "development",
		Log: LogSettings{
			Level:      "info",
			Format:     "console",
			Output:     "stderr",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Metrics: MetricsSettings{Enabled: true},
		Tracing: TracingSettings{
			Exporter:     "none",
			SamplingRate: 1.0,
			Insecure:     true,
		},
		Server: ServerSettings{
			Address:         "127.0.0.1:8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
	}
}

// LoadSettings layers defaults, the optional file at path and CLOUDSIM_*
// environment variables, in increasing precedence.
func LoadSettings(path string) (*Settings, error) {
	v := viper.New()
	setDefaults(v, DefaultSettings())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read settings %s: %w", path, err)
		}
	}

	s := &Settings{}
	if err := v.Unmarshal(s); err != nil {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// setDefaults registers every key so AutomaticEnv can override keys that the
// file does not mention.
func setDefaults(v *viper.Viper, d *Settings) {
	v.SetDefault("environment", d.Environment)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.output", d.Log.Output)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.max_age_days", d.Log.MaxAgeDays)
	v.SetDefault("log.compress", d.Log.Compress)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.address", d.Metrics.Address)

	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.endpoint", d.Tracing.Endpoint)
	v.SetDefault("tracing.sampling_rate", d.Tracing.SamplingRate)
	v.SetDefault("tracing.insecure", d.Tracing.Insecure)

	v.SetDefault("server.address", d.Server.Address)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)

	v.SetDefault("journal.path", d.Journal.Path)

	v.SetDefault("policy.dir", d.Policy.Dir)
	v.SetDefault("policy.watch", d.Policy.Watch)
	v.SetDefault("policy.disable_builtins", d.Policy.DisableBuiltins)
}

// Validate checks the settings and reports every invalid field.
func (s *Settings) Validate() error {
	err := validator.New(validator.WithRequiredStructEnabled()).Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("invalid settings: %w", err)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
	}
	return fmt.Errorf("invalid settings: %s", strings.Join(msgs, "; "))
}

// TelemetryConfig maps the settings onto a telemetry configuration.
func (s *Settings) TelemetryConfig(version string) *telemetry.Config {
	cfg := telemetry.DefaultConfig()
	if version != "" {
		cfg.ServiceVersion = version
	}
	cfg.Environment = s.Environment

	cfg.Logging.Level = s.Log.Level
	cfg.Logging.Format = s.Log.Format
	cfg.Logging.Output = s.Log.Output
	cfg.Logging.Rotation = telemetry.RotationConfig{
		MaxSizeMB:  s.Log.MaxSizeMB,
		MaxBackups: s.Log.MaxBackups,
		MaxAgeDays: s.Log.MaxAgeDays,
		Compress:   s.Log.Compress,
	}

	cfg.Metrics.Enabled = s.Metrics.Enabled
	cfg.Metrics.ListenAddress = s.Metrics.Address

	cfg.Tracing.Enabled = s.Tracing.Enabled
	cfg.Tracing.Exporter = s.Tracing.Exporter
	cfg.Tracing.Endpoint = s.Tracing.Endpoint
	cfg.Tracing.SamplingRate = s.Tracing.SamplingRate
	cfg.Tracing.Insecure = s.Tracing.Insecure
	return cfg
}

// JournalConfig returns the store configuration, or false when the journal
// is disabled.
func (s *Settings) JournalConfig() (stores.Config, bool) {
	if s.Journal.Path == "" {
		return stores.Config{}, false
	}
	return stores.Config{Path: s.Journal.Path}, true
}
