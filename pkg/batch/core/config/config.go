// Package config provides the configuration structures of the backfill daemon and the
// loader that assembles them from embedded YAML, .env files and environment variables.
package config

import (
	"sort"
	"time"
)

// EmbeddedConfig holds the content of the configuration file, typically passed from main.go.
type EmbeddedConfig []byte

// LogLevel defines the logging level for the application.
type LogLevel string

const (
	LogLevelTrace  LogLevel = "TRACE"
	LogLevelDebug  LogLevel = "DEBUG"
	LogLevelInfo   LogLevel = "INFO"
	LogLevelWarn   LogLevel = "WARN"
	LogLevelError  LogLevel = "ERROR"
	LogLevelFatal  LogLevel = "FATAL"
	LogLevelSilent LogLevel = "SILENT"
)

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the logging level (e.g., "INFO", "DEBUG").
	Level string `yaml:"level"`
	// SQLLevel is the GORM log level ("SILENT", "ERROR", "WARN", "INFO").
	SQLLevel string `yaml:"sql_level"`
}

// SystemConfig holds system-wide settings.
type SystemConfig struct {
	Timezone string        `yaml:"timezone"`
	Logging  LoggingConfig `yaml:"logging"`
}

// LeaseConfig configures the cross-process per-Operation lease.
type LeaseConfig struct {
	Enabled bool `yaml:"enabled"`
	// TTL is how long a lease survives a holder that stopped renewing it. Held leases are
	// renewed every TTL/3.
	TTL       time.Duration `yaml:"ttl"`
	KeyPrefix string        `yaml:"key_prefix"`
}

// SchedulerConfig configures the polling worker.
type SchedulerConfig struct {
	// PollInterval is the delay between two scheduling queries.
	PollInterval time.Duration `yaml:"poll_interval"`
	// Concurrency bounds the number of Operations stepped at once.
	Concurrency int `yaml:"concurrency"`
	// SchedulableLimit is the N of the cross-partition scheduling query.
	SchedulableLimit int `yaml:"schedulable_limit"`
	// Cooldown is how long a paused Operation stays on hold after a stop signal.
	Cooldown time.Duration `yaml:"cooldown"`
	// RecentBatches is how many finished Batches the stop policy and optimizer see.
	RecentBatches int `yaml:"recent_batches"`
	// DefaultConnection is the database used when routing finds no match.
	DefaultConnection string `yaml:"default_connection"`
	// Connections lists the databases the worker polls. Empty means every configured database.
	Connections []string    `yaml:"connections"`
	Lease       LeaseConfig `yaml:"lease"`
}

// PartitionConfig configures the sliding-window partitioning of the history tables.
type PartitionConfig struct {
	// Window is the age of the oldest row after which a new partition opens.
	Window time.Duration `yaml:"window"`
	// MaintenanceSchedule is a cron expression for partition maintenance.
	MaintenanceSchedule string `yaml:"maintenance_schedule"`
	// ArchiveStorageRef names the storage connection detached partitions are archived to.
	// Empty disables archival.
	ArchiveStorageRef string `yaml:"archive_storage_ref"`
	// ArchiveBaseDir is the object prefix of archive files.
	ArchiveBaseDir string `yaml:"archive_base_dir"`
	// ArchiveCompression is the Parquet codec ("SNAPPY", "GZIP", "UNCOMPRESSED").
	ArchiveCompression string `yaml:"archive_compression"`
}

// RoutingConfig maps tables and schemas to the database connection that owns them.
type RoutingConfig struct {
	Tables  map[string]string `yaml:"tables"`
	Schemas map[string]string `yaml:"schemas"`
}

// StopPolicyConfig selects the failure escalation policy.
type StopPolicyConfig struct {
	// Type is "consecutive_failures", "failure_ratio" or "any".
	Type                string  `yaml:"type"`
	ConsecutiveFailures int     `yaml:"consecutive_failures"`
	FailureRatio        float64 `yaml:"failure_ratio"`
	MinBatches          int     `yaml:"min_batches"`
}

// OptimizerConfig configures the time-efficiency optimizer.
type OptimizerConfig struct {
	Disabled      bool    `yaml:"disabled"`
	MinEfficiency float64 `yaml:"min_efficiency"`
	MaxEfficiency float64 `yaml:"max_efficiency"`
	MinMultiplier float64 `yaml:"min_multiplier"`
	MaxMultiplier float64 `yaml:"max_multiplier"`
	// MaxBatchSize caps growth for Operations that do not carry their own cap.
	MaxBatchSize int64 `yaml:"max_batch_size"`
}

// AutovacuumConfig configures the autovacuum health indicator.
type AutovacuumConfig struct {
	Enabled bool `yaml:"enabled"`
}

// PrometheusQueryConfig is one threshold query of the Prometheus health indicator.
type PrometheusQueryConfig struct {
	Name string `yaml:"name"`
	// Query is a PromQL expression. The literal $table and $connection are substituted.
	Query     string  `yaml:"query"`
	Threshold float64 `yaml:"threshold"`
}

// PrometheusHealthConfig configures the Prometheus health indicator.
type PrometheusHealthConfig struct {
	Address string                  `yaml:"address"`
	Timeout time.Duration           `yaml:"timeout"`
	Queries []PrometheusQueryConfig `yaml:"queries"`
}

// HealthConfig configures the health-signal source.
type HealthConfig struct {
	Autovacuum AutovacuumConfig       `yaml:"autovacuum"`
	Prometheus PrometheusHealthConfig `yaml:"prometheus"`
}

// ExecutorConfig configures the reference executor.
type ExecutorConfig struct {
	SubBatchTimeout time.Duration `yaml:"sub_batch_timeout"`
}

// RedisConfig holds the Redis connection used by the lease.
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	Enabled bool `yaml:"enabled"`
	// Endpoint is the OTLP collector address (host:port).
	Endpoint string `yaml:"endpoint"`
	// Protocol is "grpc" or "http".
	Protocol    string `yaml:"protocol"`
	Insecure    bool   `yaml:"insecure"`
	ServiceName string `yaml:"service_name"`
}

// MetricsConfig configures metric recording and the /metrics endpoint.
type MetricsConfig struct {
	// Backend is "prometheus" or "otel".
	Backend string `yaml:"backend"`
	Address string `yaml:"address"`
	Path    string `yaml:"path"`
	// AsyncBufferSize is the event queue size of the asynchronous listener recorder.
	AsyncBufferSize int `yaml:"async_buffer_size"`
}

// BackfillConfig holds all configuration under the "backfill" top-level key.
type BackfillConfig struct {
	System     SystemConfig     `yaml:"system"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Partition  PartitionConfig  `yaml:"partition"`
	Routing    RoutingConfig    `yaml:"routing"`
	StopPolicy StopPolicyConfig `yaml:"stop_policy"`
	Optimizer  OptimizerConfig  `yaml:"optimizer"`
	Health     HealthConfig     `yaml:"health"`
	Executor   ExecutorConfig   `yaml:"executor"`
	Redis      RedisConfig      `yaml:"redis"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	// AdapterConfigs holds database connections by name, decoded later into dbconfig.DatabaseConfig.
	AdapterConfigs map[string]interface{} `yaml:"database"`
	// StorageConfigs holds object storage connections by name.
	StorageConfigs map[string]interface{} `yaml:"storage"`
}

// Config is the root structure for the entire application configuration.
type Config struct {
	Backfill       BackfillConfig `yaml:"backfill"`
	EmbeddedConfig EmbeddedConfig `yaml:"-"`
}

// NewConfig returns a new instance of Config with default values.
func NewConfig() *Config {
	return &Config{
		Backfill: BackfillConfig{
			System: SystemConfig{
				Timezone: "UTC",
				Logging:  LoggingConfig{Level: "INFO", SQLLevel: string(LogLevelSilent)},
			},
			Scheduler: SchedulerConfig{
				PollInterval:      10 * time.Second,
				Concurrency:       4,
				SchedulableLimit:  100,
				Cooldown:          5 * time.Minute,
				RecentBatches:     20,
				DefaultConnection: "main",
				Lease: LeaseConfig{
					TTL:       10 * time.Minute,
					KeyPrefix: "backfill:lease:",
				},
			},
			Partition: PartitionConfig{
				Window:              14 * 24 * time.Hour,
				MaintenanceSchedule: "@every 5m",
				ArchiveBaseDir:      "backfill/archive",
				ArchiveCompression:  "SNAPPY",
			},
			Routing: RoutingConfig{
				Tables:  map[string]string{},
				Schemas: map[string]string{},
			},
			StopPolicy: StopPolicyConfig{
				Type:                "any",
				ConsecutiveFailures: 3,
				FailureRatio:        0.5,
				MinBatches:          10,
			},
			Optimizer: OptimizerConfig{
				MinEfficiency: 0.90,
				MaxEfficiency: 0.95,
				MinMultiplier: 0.8,
				MaxMultiplier: 1.2,
				MaxBatchSize:  100000,
			},
			Health: HealthConfig{
				Prometheus: PrometheusHealthConfig{Timeout: 5 * time.Second},
			},
			Executor: ExecutorConfig{SubBatchTimeout: 30 * time.Second},
			Redis:    RedisConfig{Address: "localhost:6379"},
			Telemetry: TelemetryConfig{
				Protocol:    "grpc",
				Endpoint:    "localhost:4317",
				Insecure:    true,
				ServiceName: "backfill",
			},
			Metrics: MetricsConfig{
				Backend: "prometheus",
				Address: ":9090",
				Path:    "/metrics",
			},
			AdapterConfigs: map[string]interface{}{},
			StorageConfigs: map[string]interface{}{},
		},
	}
}

// DatabaseNames returns the names of the configured database connections, or the
// scheduler's explicit connection list when one is given.
func (c *Config) DatabaseNames() []string {
	if len(c.Backfill.Scheduler.Connections) > 0 {
		return append([]string(nil), c.Backfill.Scheduler.Connections...)
	}
	names := make([]string, 0, len(c.Backfill.AdapterConfigs))
	for name := range c.Backfill.AdapterConfigs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
