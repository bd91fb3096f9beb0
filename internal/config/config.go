// Package config loads and validates pipeline configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Logging    LoggingConfig    `mapstructure:"logging"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Database   DBConfig         `mapstructure:"database"`
	WorkLog    WorkLogConfig    `mapstructure:"worklog"`
	Outcomes   OutcomesConfig   `mapstructure:"outcomes"`
	Dispatcher DispatcherConfig `mapstructure:"dispatcher"`
	Worker     WorkerConfig     `mapstructure:"worker"`
	Probe      ProbeConfig      `mapstructure:"probe"`
	Batch      BatchConfig      `mapstructure:"batch"`
	Ops        OpsConfig        `mapstructure:"ops"`
}

// LoggingConfig toggles zap development features and the optional log file.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	File        string `mapstructure:"file"`
	MaxSizeMB   int    `mapstructure:"max_size_mb"`
	MaxBackups  int    `mapstructure:"max_backups"`
	MaxAgeDays  int    `mapstructure:"max_age_days"`
	Compress    bool   `mapstructure:"compress"`
}

// RedisConfig points at the store backing the work log and outcome queue.
type RedisConfig struct {
	URL string `mapstructure:"url"`
}

// DBConfig controls access to the permanent store and site registry.
type DBConfig struct {
	Driver     string `mapstructure:"driver"`
	DSN        string `mapstructure:"dsn"`
	MaxConns   int32  `mapstructure:"max_conns"`
	TicksTable string `mapstructure:"ticks_table"`
}

// WorkLogConfig names the stream and tunes reads from it.
type WorkLogConfig struct {
	Stream  string `mapstructure:"stream"`
	MaxLen  int64  `mapstructure:"max_len"`
	BlockMs int    `mapstructure:"block_ms"`
}

// OutcomesConfig names the outcome list and the drain lease.
type OutcomesConfig struct {
	Key      string `mapstructure:"key"`
	LeaseKey string `mapstructure:"lease_key"`
}

// DispatcherConfig sets the fan-out period.
type DispatcherConfig struct {
	IntervalSeconds     int `mapstructure:"interval_seconds"`
	CycleTimeoutSeconds int `mapstructure:"cycle_timeout_seconds"`
}

// WorkerConfig identifies a region worker and tunes its loop.
type WorkerConfig struct {
	RegionID            string `mapstructure:"region_id"`
	WorkerID            string `mapstructure:"worker_id"`
	Instances           int    `mapstructure:"instances"`
	ClaimCount          int    `mapstructure:"claim_count"`
	ProbeConcurrency    int    `mapstructure:"probe_concurrency"`
	PollIntervalMs      int    `mapstructure:"poll_interval_ms"`
	ErrorBackoffMs      int    `mapstructure:"error_backoff_ms"`
	ClaimIdleSeconds    int    `mapstructure:"claim_idle_seconds"`
	RecoverPending      bool   `mapstructure:"recover_pending"`
	BatchTimeoutSeconds int    `mapstructure:"batch_timeout_seconds"`
}

// ProbeConfig configures the HTTP check.
type ProbeConfig struct {
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	UserAgent      string  `mapstructure:"user_agent"`
	MaxBodyBytes   int64   `mapstructure:"max_body_bytes"`
	HostRPS        float64 `mapstructure:"host_rps"`
	HostBurst      int     `mapstructure:"host_burst"`
}

// BatchConfig tunes the batch persistence consumer. MaxRetries is declared
// for per-item retry budgeting and currently unused by the loop.
type BatchConfig struct {
	Size                 int `mapstructure:"size"`
	IntervalMs           int `mapstructure:"interval_ms"`
	ErrorBackoffMs       int `mapstructure:"error_backoff_ms"`
	StatsIntervalSeconds int `mapstructure:"stats_interval_seconds"`
	MaxRetries           int `mapstructure:"max_retries"`
	LeaseTTLMs           int `mapstructure:"lease_ttl_ms"`
	CycleTimeoutMs       int `mapstructure:"cycle_timeout_ms"`
}

// OpsConfig controls the health/metrics listener. An empty Addr disables it.
type OpsConfig struct {
	Addr string `mapstructure:"addr"`
}

// Database drivers understood by the storage factory.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// legacyEnv maps config keys to the bare environment names the fleet is
// deployed with. The prefixed form (UPTIME_BATCH_SIZE) is checked first.
var legacyEnv = map[string]string{
	"batch.size":        "BATCH_SIZE",
	"batch.interval_ms": "BATCH_INTERVAL_MS",
	"batch.max_retries": "MAX_RETRIES",
	"worker.region_id":  "REGION_ID",
	"worker.worker_id":  "WORKER_ID",
	"redis.url":         "REDIS_URL",
	"database.dsn":      "DATABASE_URL",
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("UPTIME")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnv {
		prefixed := "UPTIME_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, env); err != nil {
			return Config{}, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", false)
	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("database.driver", DriverPostgres)
	v.SetDefault("database.ticks_table", "website_ticks")
	v.SetDefault("worklog.stream", "betterstack:website")
	v.SetDefault("worklog.max_len", 0)
	v.SetDefault("worklog.block_ms", 0)
	v.SetDefault("outcomes.key", "betterstack:website-ticks")
	v.SetDefault("outcomes.lease_key", "betterstack:website-ticks:lease")
	v.SetDefault("dispatcher.interval_seconds", 180)
	v.SetDefault("dispatcher.cycle_timeout_seconds", 60)
	v.SetDefault("worker.instances", 1)
	v.SetDefault("worker.claim_count", 5)
	v.SetDefault("worker.probe_concurrency", 1)
	v.SetDefault("worker.poll_interval_ms", 1000)
	v.SetDefault("worker.error_backoff_ms", 5000)
	v.SetDefault("worker.claim_idle_seconds", 300)
	v.SetDefault("worker.recover_pending", true)
	v.SetDefault("worker.batch_timeout_seconds", 120)
	v.SetDefault("probe.timeout_seconds", 10)
	v.SetDefault("probe.user_agent", "uptime-worker/1.0")
	v.SetDefault("probe.max_body_bytes", 0)
	v.SetDefault("probe.host_rps", 0)
	v.SetDefault("probe.host_burst", 1)
	v.SetDefault("batch.size", 50)
	v.SetDefault("batch.interval_ms", 5000)
	v.SetDefault("batch.error_backoff_ms", 10000)
	v.SetDefault("batch.stats_interval_seconds", 30)
	v.SetDefault("batch.max_retries", 3)
	v.SetDefault("batch.lease_ttl_ms", 0)
	v.SetDefault("batch.cycle_timeout_ms", 30000)
	v.SetDefault("ops.addr", ":9100")
}

// Validate enforces values every role relies on.
func (c Config) Validate() error {
	sections := []struct {
		name string
		err  error
	}{
		{"redis", validation.ValidateStruct(&c.Redis,
			validation.Field(&c.Redis.URL, validation.Required),
		)},
		{"database", validation.ValidateStruct(&c.Database,
			validation.Field(&c.Database.Driver, validation.Required, validation.In(DriverPostgres, DriverSQLite)),
			validation.Field(&c.Database.TicksTable, validation.Required),
			validation.Field(&c.Database.MaxConns, validation.Min(int32(0))),
		)},
		{"worklog", validation.ValidateStruct(&c.WorkLog,
			validation.Field(&c.WorkLog.Stream, validation.Required),
			validation.Field(&c.WorkLog.MaxLen, validation.Min(int64(0))),
			validation.Field(&c.WorkLog.BlockMs, validation.Min(0)),
		)},
		{"outcomes", validation.ValidateStruct(&c.Outcomes,
			validation.Field(&c.Outcomes.Key, validation.Required),
			validation.Field(&c.Outcomes.LeaseKey, validation.Required),
		)},
		{"dispatcher", validation.ValidateStruct(&c.Dispatcher,
			validation.Field(&c.Dispatcher.IntervalSeconds, validation.Required, validation.Min(1)),
			validation.Field(&c.Dispatcher.CycleTimeoutSeconds, validation.Required, validation.Min(1)),
		)},
		{"worker", validation.ValidateStruct(&c.Worker,
			validation.Field(&c.Worker.Instances, validation.Required, validation.Min(1)),
			validation.Field(&c.Worker.ClaimCount, validation.Required, validation.Min(1)),
			validation.Field(&c.Worker.ProbeConcurrency, validation.Required, validation.Min(1)),
			validation.Field(&c.Worker.PollIntervalMs, validation.Required, validation.Min(1)),
			validation.Field(&c.Worker.ErrorBackoffMs, validation.Required, validation.Min(1)),
			validation.Field(&c.Worker.ClaimIdleSeconds, validation.Min(0)),
			validation.Field(&c.Worker.BatchTimeoutSeconds, validation.Required, validation.Min(1)),
		)},
		{"probe", validation.ValidateStruct(&c.Probe,
			validation.Field(&c.Probe.TimeoutSeconds, validation.Required, validation.Min(1)),
			validation.Field(&c.Probe.MaxBodyBytes, validation.Min(int64(0))),
			validation.Field(&c.Probe.HostRPS, validation.Min(float64(0))),
			validation.Field(&c.Probe.HostBurst, validation.Min(0)),
		)},
		{"batch", validation.ValidateStruct(&c.Batch,
			validation.Field(&c.Batch.Size, validation.Required, validation.Min(1)),
			validation.Field(&c.Batch.IntervalMs, validation.Required, validation.Min(1)),
			validation.Field(&c.Batch.ErrorBackoffMs, validation.Required, validation.Min(1)),
			validation.Field(&c.Batch.StatsIntervalSeconds, validation.Required, validation.Min(1)),
			validation.Field(&c.Batch.MaxRetries, validation.Min(0)),
			validation.Field(&c.Batch.LeaseTTLMs, validation.Min(0)),
			validation.Field(&c.Batch.CycleTimeoutMs, validation.Required, validation.Min(1)),
		)},
	}
	for _, s := range sections {
		if s.err != nil {
			return fmt.Errorf("invalid %s config: %w", s.name, s.err)
		}
	}
	if c.Database.Driver == DriverSQLite && c.Database.DSN == "" {
		return errors.New("invalid database config: dsn is required for sqlite")
	}
	return nil
}

// ValidateWorker enforces the identity a region worker must be started with.
func (c Config) ValidateWorker() error {
	err := validation.ValidateStruct(&c.Worker,
		validation.Field(&c.Worker.RegionID, validation.Required),
		validation.Field(&c.Worker.WorkerID, validation.Required),
	)
	if err != nil {
		return fmt.Errorf("REGION_ID and WORKER_ID must be set: %w", err)
	}
	return nil
}

// ValidateDatabase enforces a DSN for roles that talk to the permanent store.
func (c Config) ValidateDatabase() error {
	if c.Database.DSN == "" {
		return errors.New("DATABASE_URL (database.dsn) must be set")
	}
	return nil
}

// DispatchInterval is the period between dispatch cycles.
func (c Config) DispatchInterval() time.Duration {
	return time.Duration(c.Dispatcher.IntervalSeconds) * time.Second
}

// DispatchCycleTimeout bounds one dispatch cycle.
func (c Config) DispatchCycleTimeout() time.Duration {
	return time.Duration(c.Dispatcher.CycleTimeoutSeconds) * time.Second
}

// ProbeTimeout bounds a single HTTP check.
func (c Config) ProbeTimeout() time.Duration {
	return time.Duration(c.Probe.TimeoutSeconds) * time.Second
}

// PollInterval is the worker's idle sleep.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Worker.PollIntervalMs) * time.Millisecond
}

// WorkerErrorBackoff is the worker's sleep after a loop-level error.
func (c Config) WorkerErrorBackoff() time.Duration {
	return time.Duration(c.Worker.ErrorBackoffMs) * time.Millisecond
}

// WorkerBatchTimeout bounds one claim, probe and ack pass.
func (c Config) WorkerBatchTimeout() time.Duration {
	return time.Duration(c.Worker.BatchTimeoutSeconds) * time.Second
}

// ClaimIdle is the minimum idle time before another consumer's pending entry
// may be taken over. Zero disables takeover.
func (c Config) ClaimIdle() time.Duration {
	return time.Duration(c.Worker.ClaimIdleSeconds) * time.Second
}

// ReadBlock is how long a claim may block waiting for new entries. A
// negative value means the read never blocks.
func (c Config) ReadBlock() time.Duration {
	if c.WorkLog.BlockMs <= 0 {
		return -1
	}
	return time.Duration(c.WorkLog.BlockMs) * time.Millisecond
}

// BatchInterval is the consumer's sleep between cycles.
func (c Config) BatchInterval() time.Duration {
	return time.Duration(c.Batch.IntervalMs) * time.Millisecond
}

// BatchErrorBackoff is the consumer's extra sleep after a failed insert.
func (c Config) BatchErrorBackoff() time.Duration {
	return time.Duration(c.Batch.ErrorBackoffMs) * time.Millisecond
}

// StatsInterval is the period of the consumer's stats report.
func (c Config) StatsInterval() time.Duration {
	return time.Duration(c.Batch.StatsIntervalSeconds) * time.Second
}

// LeaseTTL bounds how long one consumer replica may hold the drain lease.
// Zero disables the lease.
func (c Config) LeaseTTL() time.Duration {
	return time.Duration(c.Batch.LeaseTTLMs) * time.Millisecond
}

// BatchCycleTimeout bounds one drain, insert and trim cycle.
func (c Config) BatchCycleTimeout() time.Duration {
	return time.Duration(c.Batch.CycleTimeoutMs) * time.Millisecond
}
