package config

import (
	"errors"
	"fmt"
	"time"
)

// EnvPrefix prefixes every environment override, e.g. JOBPOOL_POOL_SIZE.
const EnvPrefix = "JOBPOOL"

// AppConfig is the host program's configuration.
// Durations are strings in time.ParseDuration syntax.
type AppConfig struct {
	Pool    PoolConfig    `yaml:"pool" json:"pool"`
	Listen  ListenConfig  `yaml:"listen" json:"listen"`
	Handler HandlerConfig `yaml:"handler" json:"handler"`
	Log     LogConfig     `yaml:"log" json:"log"`
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
	Tracing TracingConfig `yaml:"tracing" json:"tracing"`
	Events  EventsConfig  `yaml:"events" json:"events"`
}

// PoolConfig sizes the worker pool. Size is checked by the pool itself.
type PoolConfig struct {
	Size int `yaml:"size" json:"size"`
	// QueueCapacity > 0 bounds the job queue; 0 is unbounded.
	QueueCapacity   int    `yaml:"queue_capacity" json:"queue_capacity"`
	ShutdownTimeout string `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

type ListenConfig struct {
	Addr         string `yaml:"addr" json:"addr"`
	MaxConns     int    `yaml:"max_conns" json:"max_conns"`
	ReadTimeout  string `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout string `yaml:"write_timeout" json:"write_timeout"`
	TLSCertFile  string `yaml:"tls_cert_file" json:"tls_cert_file"`
	TLSKeyFile   string `yaml:"tls_key_file" json:"tls_key_file"`
}

type HandlerConfig struct {
	SleepDelay    string `yaml:"sleep_delay" json:"sleep_delay"`
	PagesDir      string `yaml:"pages_dir" json:"pages_dir"`
	SlowThreshold string `yaml:"slow_threshold" json:"slow_threshold"`
}

type LogConfig struct {
	Level string `yaml:"level" json:"level"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Addr    string `yaml:"addr" json:"addr"`
	Path    string `yaml:"path" json:"path"`
}

type TracingConfig struct {
	Enabled     bool    `yaml:"enabled" json:"enabled"`
	Exporter    string  `yaml:"exporter" json:"exporter"`
	ZipkinURL   string  `yaml:"zipkin_url" json:"zipkin_url"`
	ServiceName string  `yaml:"service_name" json:"service_name"`
	SampleRatio float64 `yaml:"sample_ratio" json:"sample_ratio"`
}

type EventsConfig struct {
	Enabled       bool   `yaml:"enabled" json:"enabled"`
	URL           string `yaml:"url" json:"url"`
	SubjectPrefix string `yaml:"subject_prefix" json:"subject_prefix"`
}

// DefaultAppConfig mirrors the classic demo: five workers on 127.0.0.1:7878.
func DefaultAppConfig() *AppConfig {
	return &AppConfig{
		Pool: PoolConfig{
			Size:            5,
			QueueCapacity:   0,
			ShutdownTimeout: "30s",
		},
		Listen: ListenConfig{
			Addr:         "127.0.0.1:7878",
			ReadTimeout:  "10s",
			WriteTimeout: "10s",
		},
		Handler: HandlerConfig{
			SleepDelay:    "5s",
			SlowThreshold: "1s",
		},
		Log: LogConfig{Level: "info"},
		Metrics: MetricsConfig{
			Addr: "127.0.0.1:9090",
			Path: "/metrics",
		},
		Tracing: TracingConfig{
			Exporter:    "stdout",
			ZipkinURL:   "http://localhost:9411/api/v2/spans",
			ServiceName: "jobpool",
			SampleRatio: 1,
		},
		Events: EventsConfig{
			URL:           "nats://127.0.0.1:4222",
			SubjectPrefix: "jobpool",
		},
	}
}

// LoadAppConfig starts from the defaults, overlays path (when not empty),
// then JOBPOOL_* environment variables, and validates the result.
func LoadAppConfig(path string) (*AppConfig, error) {
	cfg := DefaultAppConfig()
	if path != "" {
		if err := Load(path, cfg); err != nil {
			return nil, err
		}
	}
	if err := ApplyEnvOverrides(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to apply env overrides: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks everything except the pool size.
func (c *AppConfig) Validate() error {
	return Validate(c,
		RequiredFields("Listen.Addr"),
		RangeValidator("Pool.QueueCapacity", 0, 1<<24),
		RangeValidator("Listen.MaxConns", 0, 1<<24),
		DurationValidator("Pool.ShutdownTimeout", "Listen.ReadTimeout", "Listen.WriteTimeout",
			"Handler.SleepDelay", "Handler.SlowThreshold"),
		OneOfValidator("Log.Level", "debug", "info", "warn", "warning", "error"),
		OneOfValidator("Tracing.Exporter", "stdout", "zipkin"),
		RangeValidator("Tracing.SampleRatio", 0, 1),
		ValidatorFunc(validateSections),
	)
}

func validateSections(config interface{}) error {
	c := config.(*AppConfig)
	var errs []error
	if (c.Listen.TLSCertFile == "") != (c.Listen.TLSKeyFile == "") {
		errs = append(errs, errors.New("listen.tls_cert_file and listen.tls_key_file must be set together"))
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		errs = append(errs, errors.New("metrics.addr is required when metrics are enabled"))
	}
	if c.Tracing.Enabled && c.Tracing.Exporter == "zipkin" && c.Tracing.ZipkinURL == "" {
		errs = append(errs, errors.New("tracing.zipkin_url is required for the zipkin exporter"))
	}
	if c.Events.Enabled && c.Events.URL == "" {
		errs = append(errs, errors.New("events.url is required when events are enabled"))
	}
	return errors.Join(errs...)
}

// Duration parses s, returning def for an empty string. Validate has
// already rejected malformed values.
func Duration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
