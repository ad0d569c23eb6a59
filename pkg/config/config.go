// Package config assembles golem-worker-executor's runtime configuration
// from cobra/pflag flags layered under a GOLEM_* environment-variable
// overlay applied at startup.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/pflag"

	"github.com/golem-io/worker-executor/pkg/log"
)

// Config is every knob golem-worker-executor's serve command needs: where
// durable state lives, how this node is addressed, how it talks to the
// shard manager, and the ambient logging/metrics/limits settings the
// deployment needs to tune.
// call out.
type Config struct {
	DataDir string

	BindAddr    string
	MetricsAddr string

	NodeName         string
	ShardManagerAddr string
	ShardCapacity    int
	HeartbeatPeriod  time.Duration

	RegistryCapacity int

	DefaultMemoryLimitBytes uint64
	DefaultFuelLimit        uint64

	LogLevel  log.Level
	LogJSON   bool
	RetryMin  time.Duration
	RetryMax  time.Duration
}

// Default mirrors what a bare `golem-worker-executor serve` would use in a
// single-node, no-shard-manager deployment (integration tests run this
// way by default; multi-node operation is opted into with --shard-manager).
func Default() Config {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "golem-worker-executor"
	}
	return Config{
		DataDir:                 "./data",
		BindAddr:                ":9000",
		MetricsAddr:             ":9090",
		NodeName:                hostname,
		ShardCapacity:           100,
		HeartbeatPeriod:         5 * time.Second,
		RegistryCapacity:        1000,
		DefaultMemoryLimitBytes: 256 * 1024 * 1024,
		DefaultFuelLimit:        0, // 0 = unmetered
		LogLevel:                log.InfoLevel,
		RetryMin:                1 * time.Second,
		RetryMax:                5 * time.Minute,
	}
}

// RegisterFlags attaches every Config field to fs with Default()'s values.
func RegisterFlags(fs *pflag.FlagSet, cfg *Config) {
	fs.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "Directory for durable worker state (oplog, components, promises)")
	fs.StringVar(&cfg.BindAddr, "bind-addr", cfg.BindAddr, "Address the worker-executor gRPC API listens on")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Address the Prometheus /metrics endpoint listens on")
	fs.StringVar(&cfg.NodeName, "node-name", cfg.NodeName, "Name this node registers with the shard manager")
	fs.StringVar(&cfg.ShardManagerAddr, "shard-manager", cfg.ShardManagerAddr, "Address of the external shard manager (empty = single-node, own everything)")
	fs.IntVar(&cfg.ShardCapacity, "shard-capacity", cfg.ShardCapacity, "Worker capacity this node advertises to the shard manager")
	fs.DurationVar(&cfg.HeartbeatPeriod, "heartbeat-period", cfg.HeartbeatPeriod, "Shard manager heartbeat interval")
	fs.IntVar(&cfg.RegistryCapacity, "registry-capacity", cfg.RegistryCapacity, "Maximum resident workers held in memory before LRU eviction")
	fs.Uint64Var(&cfg.DefaultMemoryLimitBytes, "default-memory-limit-bytes", cfg.DefaultMemoryLimitBytes, "Default per-worker linear memory ceiling")
	fs.Uint64Var(&cfg.DefaultFuelLimit, "default-fuel-limit", cfg.DefaultFuelLimit, "Default per-invocation fuel budget (0 = unmetered); the worker engine does not meter fuel, so the value is not applied")
	fs.DurationVar(&cfg.RetryMin, "retry-min-delay", cfg.RetryMin, "Minimum backoff delay before a worker's first automatic retry")
	fs.DurationVar(&cfg.RetryMax, "retry-max-delay", cfg.RetryMax, "Maximum backoff delay between automatic retries")

	fs.StringVar((*string)(&cfg.LogLevel), "log-level", string(cfg.LogLevel), "Log level (debug, info, warn, error)")
	fs.BoolVar(&cfg.LogJSON, "log-json", cfg.LogJSON, "Emit structured JSON logs instead of console output")
}

// ApplyEnvOverrides layers GOLEM_* environment variables over whatever the
// flags produced, so containerized deployments can configure the executor
// without rewriting command lines ("Environment variables").
func (c *Config) ApplyEnvOverrides() {
	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	setString("GOLEM_DATA_DIR", &c.DataDir)
	setString("GOLEM_BIND_ADDR", &c.BindAddr)
	setString("GOLEM_METRICS_ADDR", &c.MetricsAddr)
	setString("GOLEM_NODE_NAME", &c.NodeName)
	setString("GOLEM_SHARD_MANAGER", &c.ShardManagerAddr)
	if v, ok := os.LookupEnv("GOLEM_MEMORY_LIMIT_BYTES"); ok {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			c.DefaultMemoryLimitBytes = n
		}
	}
	if v, ok := os.LookupEnv("GOLEM_RETRY_MIN_DELAY"); ok {
		if d, err := time.ParseDuration(v); err == nil {
			c.RetryMin = d
		}
	}
	if v, ok := os.LookupEnv("GOLEM_RETRY_MAX_DELAY"); ok {
		if d, err := time.ParseDuration(v); err == nil {
			c.RetryMax = d
		}
	}
	if v, ok := os.LookupEnv("GOLEM_LOG_LEVEL"); ok {
		c.LogLevel = log.Level(v)
	}
}

// Validate rejects combinations that would fail confusingly later (invalid
// config is an internal GolemError, not a panic).
func (c Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data-dir must not be empty")
	}
	if c.RegistryCapacity < 0 {
		return fmt.Errorf("registry-capacity must be >= 0 (0 means unbounded)")
	}
	if c.RetryMin <= 0 || c.RetryMax < c.RetryMin {
		return fmt.Errorf("retry-min-delay must be positive and <= retry-max-delay")
	}
	return nil
}
