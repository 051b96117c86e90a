// Package config provides configuration structs and utilities for offsync.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Config represents the root configuration.
type Config struct {
	Remote       RemoteConfig       `yaml:"remote"`
	Store        StoreConfig        `yaml:"store"`
	Connectivity ConnectivityConfig `yaml:"connectivity"`
	Replay       ReplayConfig       `yaml:"replay"`
	Write        WriteConfig        `yaml:"write"`
	Session      SessionConfig      `yaml:"session"`
	Logging      LoggingConfig      `yaml:"logging"`
	Tracing      TracingConfig      `yaml:"tracing"`
	DevServer    DevServerConfig    `yaml:"devserver"`
}

// RemoteConfig locates the remote service.
type RemoteConfig struct {
	BaseURL      string        `yaml:"base_url"`
	ResourcePath string        `yaml:"resource_path"` // Collection path, e.g. /shoots
	Timeout      time.Duration `yaml:"timeout"`
}

// StoreConfig holds the local database location.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// ConnectivityConfig tunes reachability detection.
type ConnectivityConfig struct {
	ProbeURL      string        `yaml:"probe_url"` // Defaults to remote.base_url
	ProbeInterval time.Duration `yaml:"probe_interval"`
	ProbeTimeout  time.Duration `yaml:"probe_timeout"`
	Debounce      time.Duration `yaml:"debounce"`
}

// ReplayConfig tunes the mutation replay engine.
type ReplayConfig struct {
	PoisonRetryCeiling int           `yaml:"poison_retry_ceiling"` // 0 disables dead-lettering
	DrainOnConnect     bool          `yaml:"drain_on_connect"`
	Interval           time.Duration `yaml:"interval"` // 0 disables periodic passes
}

// WriteConfig controls online write failures.
type WriteConfig struct {
	OnlineFailurePolicy string `yaml:"online_failure_policy"` // enqueue, surface
}

// SessionConfig locates credentials.
type SessionConfig struct {
	TokenFile    string `yaml:"token_file"`    // Watched for token rotation when set
	EncryptToken bool   `yaml:"encrypt_token"` // Seal stored session values with AES-GCM
	SaltFile     string `yaml:"salt_file"`     // Defaults to session.salt next to the database
}

// LoggingConfig holds configuration for application logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// TracingConfig holds configuration for distributed tracing.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	ExporterType string  `yaml:"exporter_type"` // none, stdout, otlp
	OTLPEndpoint string  `yaml:"otlp_endpoint"`
	SampleRate   float64 `yaml:"sample_rate"` // 0.0 to 1.0
	ServiceName  string  `yaml:"service_name"`
}

// DevServerConfig configures the local reference server.
type DevServerConfig struct {
	Addr   string `yaml:"addr"`
	Secret string `yaml:"secret"` // HMAC key for issued tokens
}

// Default configuration values.
const (
	DefaultBaseURL      = "http://localhost:8787"
	DefaultResourcePath = "/shoots"
	DefaultTimeout      = 10 * time.Second
	DefaultStorePath    = "~/.offsync/offsync.db"

	DefaultProbeInterval = 15 * time.Second
	DefaultProbeTimeout  = 3 * time.Second
	DefaultDebounce      = 2 * time.Second

	DefaultPoisonRetryCeiling = 5
	DefaultDrainOnConnect     = true

	DefaultOnlineFailurePolicy = "enqueue"

	DefaultLogLevel  = "info"
	DefaultLogFormat = "text"

	DefaultTracingExporterType = "none"
	DefaultTracingSampleRate   = 1.0
	DefaultTracingServiceName  = "offsync"

	DefaultDevServerAddr   = "127.0.0.1:8787"
	DefaultDevServerSecret = "offsync-dev-secret"
)

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validLogFormats = map[string]bool{
	"json": true,
	"text": true,
}

var validTracingExporterTypes = map[string]bool{
	"none":   true,
	"stdout": true,
	"otlp":   true,
}

var validFailurePolicies = map[string]bool{
	"enqueue": true,
	"surface": true,
}

// NewDefaultConfig creates a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		Remote: RemoteConfig{
			BaseURL:      DefaultBaseURL,
			ResourcePath: DefaultResourcePath,
			Timeout:      DefaultTimeout,
		},
		Store: StoreConfig{
			Path: DefaultStorePath,
		},
		Connectivity: ConnectivityConfig{
			ProbeInterval: DefaultProbeInterval,
			ProbeTimeout:  DefaultProbeTimeout,
			Debounce:      DefaultDebounce,
		},
		Replay: ReplayConfig{
			PoisonRetryCeiling: DefaultPoisonRetryCeiling,
			DrainOnConnect:     DefaultDrainOnConnect,
		},
		Write: WriteConfig{
			OnlineFailurePolicy: DefaultOnlineFailurePolicy,
		},
		Session: SessionConfig{
			EncryptToken: true,
		},
		Logging: LoggingConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
		Tracing: TracingConfig{
			ExporterType: DefaultTracingExporterType,
			SampleRate:   DefaultTracingSampleRate,
			ServiceName:  DefaultTracingServiceName,
		},
		DevServer: DevServerConfig{
			Addr:   DefaultDevServerAddr,
			Secret: DefaultDevServerSecret,
		},
	}
}

// ProbeURL returns the connectivity probe target.
func (c *Config) ProbeURL() string {
	if c.Connectivity.ProbeURL != "" {
		return c.Connectivity.ProbeURL
	}
	return c.Remote.BaseURL
}

// Validate checks if the configuration is valid and returns an error if not.
func (c *Config) Validate() error {
	var errs []error

	if err := c.Remote.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("remote: %w", err))
	}
	if err := c.Store.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("store: %w", err))
	}
	if err := c.Connectivity.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("connectivity: %w", err))
	}
	if err := c.Replay.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("replay: %w", err))
	}
	if err := c.Write.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("write: %w", err))
	}
	if err := c.Logging.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("logging: %w", err))
	}
	if err := c.Tracing.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("tracing: %w", err))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Validate checks if the RemoteConfig is valid.
func (r *RemoteConfig) Validate() error {
	var errs []error

	if r.BaseURL == "" {
		errs = append(errs, errors.New("base_url is required"))
	} else if err := validateHTTPURL(r.BaseURL); err != nil {
		errs = append(errs, fmt.Errorf("base_url: %w", err))
	}

	if r.Timeout < 0 {
		errs = append(errs, errors.New("timeout must be non-negative"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Validate checks if the StoreConfig is valid.
func (s *StoreConfig) Validate() error {
	if s.Path == "" {
		return errors.New("path is required")
	}
	return nil
}

// Validate checks if the ConnectivityConfig is valid.
func (c *ConnectivityConfig) Validate() error {
	var errs []error

	if c.ProbeURL != "" {
		if err := validateHTTPURL(c.ProbeURL); err != nil {
			errs = append(errs, fmt.Errorf("probe_url: %w", err))
		}
	}
	if c.ProbeInterval < 0 {
		errs = append(errs, errors.New("probe_interval must be non-negative"))
	}
	if c.ProbeTimeout < 0 {
		errs = append(errs, errors.New("probe_timeout must be non-negative"))
	}
	if c.Debounce < 0 {
		errs = append(errs, errors.New("debounce must be non-negative"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Validate checks if the ReplayConfig is valid.
func (r *ReplayConfig) Validate() error {
	var errs []error

	if r.PoisonRetryCeiling < 0 {
		errs = append(errs, errors.New("poison_retry_ceiling must be non-negative"))
	}
	if r.Interval < 0 {
		errs = append(errs, errors.New("interval must be non-negative"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Validate checks if the WriteConfig is valid.
func (w *WriteConfig) Validate() error {
	if w.OnlineFailurePolicy != "" && !validFailurePolicies[w.OnlineFailurePolicy] {
		return fmt.Errorf("invalid online_failure_policy %q: must be one of enqueue, surface", w.OnlineFailurePolicy)
	}
	return nil
}

// Validate checks if the LoggingConfig is valid.
func (l *LoggingConfig) Validate() error {
	var errs []error

	if l.Level != "" && !validLogLevels[l.Level] {
		errs = append(errs, fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", l.Level))
	}

	if l.Format != "" && !validLogFormats[l.Format] {
		errs = append(errs, fmt.Errorf("invalid log format %q: must be one of json, text", l.Format))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Validate checks if the TracingConfig is valid.
func (t *TracingConfig) Validate() error {
	var errs []error

	if t.Enabled {
		if t.ExporterType != "" && !validTracingExporterTypes[t.ExporterType] {
			errs = append(errs, fmt.Errorf("invalid exporter_type %q: must be one of none, stdout, otlp", t.ExporterType))
		}
		if t.ExporterType == "otlp" && t.OTLPEndpoint == "" {
			errs = append(errs, errors.New("otlp_endpoint is required when exporter_type is 'otlp'"))
		}
		if t.SampleRate < 0 || t.SampleRate > 1 {
			errs = append(errs, errors.New("sample_rate must be between 0.0 and 1.0"))
		}
		if t.ServiceName == "" {
			errs = append(errs, errors.New("service_name is required when tracing is enabled"))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("must use http or https scheme")
	}
	if u.Host == "" {
		return errors.New("host is required")
	}
	return nil
}
