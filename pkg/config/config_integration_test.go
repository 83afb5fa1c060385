package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fluxorio/jobpool/pkg/config"
)

func TestLoadAppConfig_Defaults(t *testing.T) {
	cfg, err := config.LoadAppConfig("")
	if err != nil {
		t.Fatalf("LoadAppConfig failed: %v", err)
	}
	if cfg.Pool.Size != 5 || cfg.Listen.Addr != "127.0.0.1:7878" {
		t.Errorf("defaults = pool %d on %s, want 5 on 127.0.0.1:7878", cfg.Pool.Size, cfg.Listen.Addr)
	}
	if cfg.Pool.QueueCapacity != 0 {
		t.Errorf("default queue capacity = %d, want unbounded (0)", cfg.Pool.QueueCapacity)
	}
}

func TestLoadAppConfig_FileThenEnv(t *testing.T) {
	yamlContent := `
pool:
  size: 2
listen:
  addr: "127.0.0.1:0"
handler:
  sleep_delay: "100ms"
`
	path := filepath.Join(t.TempDir(), "jobpool.yaml")
	if err := os.WriteFile(path, []byte(yamlContent), 0o600); err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}

	t.Setenv("JOBPOOL_POOL_SIZE", "4")
	t.Setenv("JOBPOOL_LOG_LEVEL", "debug")

	cfg, err := config.LoadAppConfig(path)
	if err != nil {
		t.Fatalf("LoadAppConfig failed: %v", err)
	}

	// Environment variables should override file values
	if cfg.Pool.Size != 4 {
		t.Errorf("Pool.Size = %v, want 4", cfg.Pool.Size)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %v, want debug", cfg.Log.Level)
	}
	if cfg.Handler.SleepDelay != "100ms" {
		t.Errorf("Handler.SleepDelay = %v, want 100ms", cfg.Handler.SleepDelay)
	}
}

func TestLoadAppConfig_PoolSizeIsLeftToThePool(t *testing.T) {
	t.Setenv("JOBPOOL_POOL_SIZE", "0")

	cfg, err := config.LoadAppConfig("")
	if err != nil {
		t.Fatalf("LoadAppConfig failed: %v", err)
	}
	if cfg.Pool.Size != 0 {
		t.Errorf("Pool.Size = %d, want 0", cfg.Pool.Size)
	}
}

func TestAppConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *config.AppConfig)
		wantErr string
	}{
		{"defaults", func(c *config.AppConfig) {}, ""},
		{"missing addr", func(c *config.AppConfig) { c.Listen.Addr = "" }, "Listen.Addr"},
		{"negative queue", func(c *config.AppConfig) { c.Pool.QueueCapacity = -1 }, "Pool.QueueCapacity"},
		{"bad duration", func(c *config.AppConfig) { c.Pool.ShutdownTimeout = "forever" }, "Pool.ShutdownTimeout"},
		{"bad level", func(c *config.AppConfig) { c.Log.Level = "loud" }, "Log.Level"},
		{"bad exporter", func(c *config.AppConfig) { c.Tracing.Exporter = "jaeger" }, "Tracing.Exporter"},
		{"sample ratio", func(c *config.AppConfig) { c.Tracing.SampleRatio = 2 }, "Tracing.SampleRatio"},
		{"tls half set", func(c *config.AppConfig) { c.Listen.TLSCertFile = "cert.pem" }, "tls_key_file"},
		{"metrics without addr", func(c *config.AppConfig) {
			c.Metrics.Enabled = true
			c.Metrics.Addr = ""
		}, "metrics.addr"},
		{"events without url", func(c *config.AppConfig) {
			c.Events.Enabled = true
			c.Events.URL = ""
		}, "events.url"},
		{"zipkin without url", func(c *config.AppConfig) {
			c.Tracing.Enabled = true
			c.Tracing.Exporter = "zipkin"
			c.Tracing.ZipkinURL = ""
		}, "zipkin_url"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultAppConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}
