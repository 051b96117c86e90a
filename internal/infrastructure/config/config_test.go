package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	if cfg == nil {
		t.Fatal("NewDefaultConfig returned nil")
	}

	if cfg.Remote.BaseURL != DefaultBaseURL {
		t.Errorf("expected base URL %q, got %q", DefaultBaseURL, cfg.Remote.BaseURL)
	}

	if !cfg.Session.EncryptToken {
		t.Error("session tokens should be encrypted by default")
	}
	if cfg.Remote.ResourcePath != DefaultResourcePath {
		t.Errorf("expected resource path %q, got %q", DefaultResourcePath, cfg.Remote.ResourcePath)
	}
	if cfg.Remote.Timeout != DefaultTimeout {
		t.Errorf("expected timeout %v, got %v", DefaultTimeout, cfg.Remote.Timeout)
	}

	if cfg.Replay.PoisonRetryCeiling != DefaultPoisonRetryCeiling {
		t.Errorf("expected poison ceiling %d, got %d", DefaultPoisonRetryCeiling, cfg.Replay.PoisonRetryCeiling)
	}
	if !cfg.Replay.DrainOnConnect {
		t.Error("expected drain on connect by default")
	}
	if cfg.Replay.Interval != 0 {
		t.Errorf("expected periodic replay disabled, got %v", cfg.Replay.Interval)
	}

	if cfg.Write.OnlineFailurePolicy != "enqueue" {
		t.Errorf("expected enqueue policy, got %q", cfg.Write.OnlineFailurePolicy)
	}

	if cfg.Logging.Level != DefaultLogLevel {
		t.Errorf("expected log level %q, got %q", DefaultLogLevel, cfg.Logging.Level)
	}
	if cfg.Tracing.Enabled {
		t.Error("expected tracing disabled by default")
	}
}

func TestConfig_Validate_DefaultIsValid(t *testing.T) {
	cfg := NewDefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should be valid, got error: %v", err)
	}
}

func TestConfig_Validate_JoinsSectionErrors(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Remote.BaseURL = "ftp://example.com"
	cfg.Replay.PoisonRetryCeiling = -1
	cfg.Logging.Level = "loud"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"remote:", "replay:", "logging:"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q should mention %q", err, want)
		}
	}
}

func TestConfig_ProbeURL(t *testing.T) {
	cfg := NewDefaultConfig()
	if cfg.ProbeURL() != cfg.Remote.BaseURL {
		t.Errorf("probe URL should default to base URL, got %q", cfg.ProbeURL())
	}
	cfg.Connectivity.ProbeURL = "https://status.example.com/health"
	if cfg.ProbeURL() != "https://status.example.com/health" {
		t.Errorf("explicit probe URL ignored, got %q", cfg.ProbeURL())
	}
}

func TestRemoteConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  RemoteConfig
		wantErr bool
	}{
		{"valid https", RemoteConfig{BaseURL: "https://api.example.com", Timeout: time.Second}, false},
		{"valid http with port", RemoteConfig{BaseURL: "http://localhost:8787"}, false},
		{"missing base url", RemoteConfig{}, true},
		{"wrong scheme", RemoteConfig{BaseURL: "ws://api.example.com"}, true},
		{"no host", RemoteConfig{BaseURL: "https://"}, true},
		{"negative timeout", RemoteConfig{BaseURL: "https://api.example.com", Timeout: -time.Second}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConnectivityConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  ConnectivityConfig
		wantErr bool
	}{
		{"zero values are valid", ConnectivityConfig{}, false},
		{"probe url", ConnectivityConfig{ProbeURL: "http://localhost/health"}, false},
		{"bad probe url", ConnectivityConfig{ProbeURL: "localhost"}, true},
		{"negative interval", ConnectivityConfig{ProbeInterval: -1}, true},
		{"negative timeout", ConnectivityConfig{ProbeTimeout: -1}, true},
		{"negative debounce", ConnectivityConfig{Debounce: -1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestReplayAndWriteConfig_Validate(t *testing.T) {
	if err := (&ReplayConfig{PoisonRetryCeiling: 0}).Validate(); err != nil {
		t.Errorf("zero ceiling disables poisoning and should be valid: %v", err)
	}
	if err := (&ReplayConfig{Interval: -time.Second}).Validate(); err == nil {
		t.Error("negative interval should be invalid")
	}
	if err := (&WriteConfig{OnlineFailurePolicy: "surface"}).Validate(); err != nil {
		t.Errorf("surface should be valid: %v", err)
	}
	if err := (&WriteConfig{OnlineFailurePolicy: "retry"}).Validate(); err == nil {
		t.Error("unknown policy should be invalid")
	}
}

func TestLoggingConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  LoggingConfig
		wantErr bool
	}{
		{"valid debug level", LoggingConfig{Level: "debug", Format: "json"}, false},
		{"valid error level", LoggingConfig{Level: "error", Format: "text"}, false},
		{"invalid log level", LoggingConfig{Level: "invalid", Format: "json"}, true},
		{"invalid log format", LoggingConfig{Level: "info", Format: "invalid"}, true},
		{"empty values are valid", LoggingConfig{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestTracingConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  TracingConfig
		wantErr bool
	}{
		{"disabled ignores fields", TracingConfig{ExporterType: "bogus"}, false},
		{"stdout", TracingConfig{Enabled: true, ExporterType: "stdout", SampleRate: 1, ServiceName: "offsync"}, false},
		{"otlp without endpoint", TracingConfig{Enabled: true, ExporterType: "otlp", SampleRate: 1, ServiceName: "offsync"}, true},
		{"bad sample rate", TracingConfig{Enabled: true, ExporterType: "stdout", SampleRate: 2, ServiceName: "offsync"}, true},
		{"missing service name", TracingConfig{Enabled: true, ExporterType: "stdout", SampleRate: 1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoader_Load(t *testing.T) {
	t.Run("missing file returns defaults", func(t *testing.T) {
		loader, err := NewLoader(t.TempDir())
		if err != nil {
			t.Fatal(err)
		}
		cfg, err := loader.Load("")
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if cfg.Remote.BaseURL != DefaultBaseURL {
			t.Errorf("expected defaults, got base URL %q", cfg.Remote.BaseURL)
		}
	})

	t.Run("yaml overrides defaults", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "config.yaml")
		content := `remote:
  base_url: https://api.example.com
  timeout: 4s
replay:
  poison_retry_ceiling: 3
  interval: 1m
`
		if err := os.WriteFile(path, []byte(content), 0600); err != nil {
			t.Fatal(err)
		}

		loader, _ := NewLoader(dir)
		cfg, err := loader.Load("")
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if cfg.Remote.BaseURL != "https://api.example.com" {
			t.Errorf("base URL = %q", cfg.Remote.BaseURL)
		}
		if cfg.Remote.Timeout != 4*time.Second {
			t.Errorf("timeout = %v", cfg.Remote.Timeout)
		}
		if cfg.Remote.ResourcePath != DefaultResourcePath {
			t.Errorf("unset fields should keep defaults, resource path = %q", cfg.Remote.ResourcePath)
		}
		if cfg.Replay.PoisonRetryCeiling != 3 || cfg.Replay.Interval != time.Minute {
			t.Errorf("replay = %+v", cfg.Replay)
		}
		if !cfg.Replay.DrainOnConnect {
			t.Error("drain_on_connect default lost")
		}
	})

	t.Run("toml", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "config.toml")
		content := `[remote]
base_url = "https://api.example.com"
timeout = "2s"

[write]
online_failure_policy = "surface"

[connectivity]
debounce = "500ms"

[session]
encrypt_token = false
`
		if err := os.WriteFile(path, []byte(content), 0600); err != nil {
			t.Fatal(err)
		}

		loader, _ := NewLoader(dir)
		cfg, err := loader.Load(path)
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if cfg.Remote.BaseURL != "https://api.example.com" || cfg.Remote.Timeout != 2*time.Second {
			t.Errorf("remote = %+v", cfg.Remote)
		}
		if cfg.Write.OnlineFailurePolicy != "surface" {
			t.Errorf("policy = %q", cfg.Write.OnlineFailurePolicy)
		}
		if cfg.Connectivity.Debounce != 500*time.Millisecond {
			t.Errorf("debounce = %v", cfg.Connectivity.Debounce)
		}
		if cfg.Connectivity.ProbeInterval != DefaultProbeInterval {
			t.Errorf("probe interval default lost: %v", cfg.Connectivity.ProbeInterval)
		}
		if cfg.Session.EncryptToken {
			t.Error("encrypt_token = false was ignored")
		}
	})

	t.Run("malformed file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "config.yaml")
		if err := os.WriteFile(path, []byte("remote: [unclosed"), 0600); err != nil {
			t.Fatal(err)
		}
		loader, _ := NewLoader(dir)
		if _, err := loader.Load(path); err == nil {
			t.Error("expected parse error")
		}
	})

	t.Run("LoadFromFile requires the file", func(t *testing.T) {
		loader, _ := NewLoader(t.TempDir())
		if _, err := loader.LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
			t.Error("expected not found error")
		}
	})
}

func TestLoader_SaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	loader, _ := NewLoader(dir)

	cfg := NewDefaultConfig()
	cfg.Remote.BaseURL = "https://api.example.com"
	cfg.Connectivity.ProbeInterval = 30 * time.Second

	if err := loader.Save(cfg, ""); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	info, err := os.Stat(loader.DefaultConfigPath())
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("mode = %v, want 0600", info.Mode().Perm())
	}

	got, err := loader.Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.Remote.BaseURL != cfg.Remote.BaseURL || got.Connectivity.ProbeInterval != 30*time.Second {
		t.Errorf("round trip mismatch: %+v", got)
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}

	got, err := ExpandPath("~/.offsync/offsync.db")
	if err != nil {
		t.Fatal(err)
	}
	if got != filepath.Join(home, ".offsync", "offsync.db") {
		t.Errorf("ExpandPath() = %q", got)
	}

	if got, _ := ExpandPath("/tmp/x.db"); got != "/tmp/x.db" {
		t.Errorf("absolute path changed to %q", got)
	}
	if got, _ := ExpandPath(":memory:"); got != ":memory:" {
		t.Errorf(":memory: changed to %q", got)
	}
}
