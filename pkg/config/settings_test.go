package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadSettings_Defaults(t *testing.T) {
	s, err := LoadSettings("")
	if err != nil {
		t.Fatalf("LoadSettings() error: %v", err)
	}

	if s.Environment != "development" {
		t.Errorf("Environment = %q", s.Environment)
	}
	if s.Server.Address != "127.0.0.1:8080" {
		t.Errorf("Server.Address = %q", s.Server.Address)
	}
	if s.Server.ShutdownTimeout != 10*time.Second {
		t.Errorf("ShutdownTimeout = %v", s.Server.ShutdownTimeout)
	}
	if _, ok := s.JournalConfig(); ok {
		t.Error("journal should be disabled by default")
	}
}

func TestLoadSettings_FileAndEnv(t *testing.T) {
	path := writeFile(t, "cloudsim.yaml", `
environment: production
log:
  level: warn
  format: json
server:
  address: 0.0.0.0:9090
  read_timeout: 5s
journal:
  path: ":memory:"
policy:
  dir: ./policies
  watch: true
`)
	t.Setenv("CLOUDSIM_LOG_LEVEL", "debug")
	t.Setenv("CLOUDSIM_METRICS_ADDRESS", "127.0.0.1:9100")

	s, err := LoadSettings(path)
	if err != nil {
		t.Fatalf("LoadSettings() error: %v", err)
	}

	if s.Environment != "production" {
		t.Errorf("Environment = %q", s.Environment)
	}
	if s.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want env override", s.Log.Level)
	}
	if s.Log.Format != "json" {
		t.Errorf("Log.Format = %q", s.Log.Format)
	}
	if s.Server.ReadTimeout != 5*time.Second {
		t.Errorf("ReadTimeout = %v", s.Server.ReadTimeout)
	}
	if !s.Policy.Watch || s.Policy.Dir != "./policies" {
		t.Errorf("Policy = %+v", s.Policy)
	}
	if jc, ok := s.JournalConfig(); !ok || jc.Path != ":memory:" {
		t.Errorf("JournalConfig() = %+v, %v", jc, ok)
	}

	tc := s.TelemetryConfig("1.2.3")
	if tc.ServiceVersion != "1.2.3" || tc.Environment != "production" {
		t.Errorf("telemetry identity = %s/%s", tc.ServiceVersion, tc.Environment)
	}
	if tc.Metrics.ListenAddress != "127.0.0.1:9100" || tc.Logging.Level != "debug" {
		t.Errorf("telemetry config = %+v", tc)
	}
	if err := tc.Validate(); err != nil {
		t.Errorf("telemetry Validate() error: %v", err)
	}
}

func TestLoadSettings_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{name: "log level", content: "log:\n  level: loud\n", want: "Level"},
		{name: "exporter", content: "tracing:\n  exporter: zipkin\n", want: "Exporter"},
		{name: "otlp endpoint", content: "tracing:\n  exporter: otlp\n", want: "Endpoint"},
		{name: "sampling", content: "tracing:\n  sampling_rate: 2\n", want: "SamplingRate"},
		{name: "address", content: "server:\n  address: nowhere\n", want: "Address"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadSettings(writeFile(t, "bad.yaml", tt.content))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %s", err, tt.want)
			}
		})
	}
}

func TestLoadSettings_MissingFile(t *testing.T) {
	if _, err := LoadSettings("/nonexistent/cloudsim.yaml"); err == nil {
		t.Error("expected error")
	}
}
