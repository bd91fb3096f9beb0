package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Batch.Size != 50 || cfg.BatchInterval() != 5*time.Second {
		t.Fatalf("unexpected batch defaults: %+v", cfg.Batch)
	}
	if cfg.Batch.MaxRetries != 3 {
		t.Fatalf("expected max retries 3, got %d", cfg.Batch.MaxRetries)
	}
	if cfg.DispatchInterval() != 3*time.Minute {
		t.Fatalf("expected 3m dispatch interval, got %v", cfg.DispatchInterval())
	}
	if cfg.Worker.ClaimCount != 5 || cfg.ProbeTimeout() != 10*time.Second {
		t.Fatalf("unexpected worker defaults: %+v %+v", cfg.Worker, cfg.Probe)
	}
	if cfg.PollInterval() != time.Second || cfg.WorkerErrorBackoff() != 5*time.Second {
		t.Fatalf("unexpected worker sleeps")
	}
	if cfg.BatchErrorBackoff() != 10*time.Second || cfg.StatsInterval() != 30*time.Second {
		t.Fatalf("unexpected consumer sleeps")
	}
	if cfg.ReadBlock() >= 0 {
		t.Fatalf("expected non-blocking reads by default, got %v", cfg.ReadBlock())
	}
	if cfg.LeaseTTL() != 0 {
		t.Fatalf("expected lease disabled by default")
	}
	if cfg.ClaimIdle() != 5*time.Minute {
		t.Fatalf("expected idle takeover after 5m by default, got %v", cfg.ClaimIdle())
	}
	if cfg.DispatchCycleTimeout() != time.Minute || cfg.WorkerBatchTimeout() != 2*time.Minute ||
		cfg.BatchCycleTimeout() != 30*time.Second {
		t.Fatalf("unexpected unit-of-work deadlines")
	}
	if cfg.WorkLog.Stream != "betterstack:website" {
		t.Fatalf("unexpected stream %q", cfg.WorkLog.Stream)
	}
}

func TestLoadBareEnvironmentNames(t *testing.T) {
	t.Setenv("BATCH_SIZE", "25")
	t.Setenv("BATCH_INTERVAL_MS", "750")
	t.Setenv("MAX_RETRIES", "7")
	t.Setenv("REGION_ID", "eu-west")
	t.Setenv("WORKER_ID", "w-1")
	t.Setenv("REDIS_URL", "redis://cache:6379/2")
	t.Setenv("DATABASE_URL", "postgres://u:p@db/uptime")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Batch.Size != 25 || cfg.BatchInterval() != 750*time.Millisecond || cfg.Batch.MaxRetries != 7 {
		t.Fatalf("expected batch env overrides, got %+v", cfg.Batch)
	}
	if cfg.Worker.RegionID != "eu-west" || cfg.Worker.WorkerID != "w-1" {
		t.Fatalf("expected worker identity from env, got %+v", cfg.Worker)
	}
	if cfg.Redis.URL != "redis://cache:6379/2" || cfg.Database.DSN != "postgres://u:p@db/uptime" {
		t.Fatalf("expected connection strings from env")
	}
	if err := cfg.ValidateWorker(); err != nil {
		t.Fatalf("ValidateWorker() error = %v", err)
	}
	if err := cfg.ValidateDatabase(); err != nil {
		t.Fatalf("ValidateDatabase() error = %v", err)
	}
}

func TestLoadPrefixedEnvironmentWins(t *testing.T) {
	t.Setenv("BATCH_SIZE", "25")
	t.Setenv("UPTIME_BATCH_SIZE", "40")
	t.Setenv("UPTIME_WORKER_CLAIM_COUNT", "9")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Batch.Size != 40 {
		t.Fatalf("expected prefixed env to win, got %d", cfg.Batch.Size)
	}
	if cfg.Worker.ClaimCount != 9 {
		t.Fatalf("expected claim count 9, got %d", cfg.Worker.ClaimCount)
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
logging:
  development: true
database:
  driver: sqlite
  dsn: file:ticks.db
worklog:
  stream: ticks:work
  max_len: 10000
  block_ms: 500
worker:
  region_id: us-east
  worker_id: probe-7
  instances: 3
  probe_concurrency: 4
  claim_idle_seconds: 60
batch:
  size: 200
  lease_ttl_ms: 30000
ops:
  addr: ""
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.Logging.Development {
		t.Fatalf("expected development logging")
	}
	if cfg.Database.Driver != DriverSQLite || cfg.Database.DSN != "file:ticks.db" {
		t.Fatalf("unexpected database config: %+v", cfg.Database)
	}
	if cfg.WorkLog.Stream != "ticks:work" || cfg.WorkLog.MaxLen != 10000 || cfg.ReadBlock() != 500*time.Millisecond {
		t.Fatalf("unexpected worklog config: %+v", cfg.WorkLog)
	}
	if cfg.Worker.Instances != 3 || cfg.Worker.ProbeConcurrency != 4 || cfg.ClaimIdle() != time.Minute {
		t.Fatalf("unexpected worker config: %+v", cfg.Worker)
	}
	if cfg.Batch.Size != 200 || cfg.LeaseTTL() != 30*time.Second {
		t.Fatalf("unexpected batch config: %+v", cfg.Batch)
	}
	if cfg.Ops.Addr != "" {
		t.Fatalf("expected ops listener disabled, got %q", cfg.Ops.Addr)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidateWorkerRequiresIdentity(t *testing.T) {
	t.Parallel()

	cfg := Config{Worker: WorkerConfig{RegionID: "eu"}}
	err := cfg.ValidateWorker()
	if err == nil || !strings.Contains(err.Error(), "WORKER_ID") {
		t.Fatalf("expected worker identity error, got %v", err)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Redis:      RedisConfig{URL: "redis://localhost:6379"},
		Database:   DBConfig{Driver: DriverPostgres, TicksTable: "website_ticks"},
		WorkLog:    WorkLogConfig{Stream: "s"},
		Outcomes:   OutcomesConfig{Key: "q", LeaseKey: "l"},
		Dispatcher: DispatcherConfig{IntervalSeconds: 180, CycleTimeoutSeconds: 60},
		Worker: WorkerConfig{
			Instances: 1, ClaimCount: 5, ProbeConcurrency: 1, PollIntervalMs: 1000, ErrorBackoffMs: 5000,
			BatchTimeoutSeconds: 120,
		},
		Probe: ProbeConfig{TimeoutSeconds: 10},
		Batch: BatchConfig{
			Size: 50, IntervalMs: 5000, ErrorBackoffMs: 10000, StatsIntervalSeconds: 30, CycleTimeoutMs: 30000,
		},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("expected base config to be valid, got %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing redis url", func(c *Config) { c.Redis.URL = "" }, "redis"},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }, "database"},
		{"sqlite without dsn", func(c *Config) { c.Database.Driver = DriverSQLite }, "sqlite"},
		{"zero batch size", func(c *Config) { c.Batch.Size = 0 }, "batch"},
		{"negative lease", func(c *Config) { c.Batch.LeaseTTLMs = -1 }, "batch"},
		{"zero claim count", func(c *Config) { c.Worker.ClaimCount = 0 }, "worker"},
		{"zero dispatch interval", func(c *Config) { c.Dispatcher.IntervalSeconds = 0 }, "dispatcher"},
		{"zero probe timeout", func(c *Config) { c.Probe.TimeoutSeconds = 0 }, "probe"},
		{"negative host rps", func(c *Config) { c.Probe.HostRPS = -1 }, "probe"},
		{"zero dispatch cycle timeout", func(c *Config) { c.Dispatcher.CycleTimeoutSeconds = 0 }, "dispatcher"},
		{"zero worker batch timeout", func(c *Config) { c.Worker.BatchTimeoutSeconds = 0 }, "worker"},
		{"zero consumer cycle timeout", func(c *Config) { c.Batch.CycleTimeoutMs = 0 }, "batch"},
		{"negative max len", func(c *Config) { c.WorkLog.MaxLen = -5 }, "worklog"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
