package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "stratos.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(Path())
}

// Path returns the YAML file Load reads: STRATOS_CONFIG or DefaultConfigFile.
func Path() string {
	if p := os.Getenv("STRATOS_CONFIG"); p != "" {
		return p
	}
	return DefaultConfigFile
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: operator-supplied config path
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "STRATOS_PORT")
	setDuration(&cfg.Server.ShutdownTimeout, "STRATOS_SHUTDOWN_TIMEOUT")
	setInt(&cfg.Server.MaxPageSize, "MAX_PAGE_SIZE")
	setFloat(&cfg.Server.SubmitRate, "STRATOS_SUBMIT_RATE")
	setInt(&cfg.Server.SubmitBurst, "STRATOS_SUBMIT_BURST")

	setString(&cfg.Storage.Driver, "STRATOS_STORAGE_DRIVER")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "STRATOS_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "STRATOS_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "STRATOS_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "STRATOS_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "STRATOS_PG_HEALTH_CHECK")
	setString(&cfg.SQLite.Path, "STRATOS_SQLITE_PATH")

	setString(&cfg.NATS.URL, "NATS_URL")

	setString(&cfg.Logging.Level, "STRATOS_LOG_LEVEL")
	setString(&cfg.Logging.Service, "STRATOS_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "STRATOS_LOG_ASYNC")

	setInt(&cfg.Breaker.MaxFailures, "STRATOS_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "STRATOS_BREAKER_TIMEOUT")

	// Execution
	setInt(&cfg.Queue.MaxConcurrent, "MAX_CONCURRENT_TASKS")
	setString(&cfg.Runner.OutputDir, "OUTPUT_DIR")
	setString(&cfg.Runner.Shell, "STRATOS_SHELL")
	setString(&cfg.Runner.FFprobeBin, "STRATOS_FFPROBE_BIN")
	setDuration(&cfg.Runner.TaskTimeout, "STRATOS_TASK_TIMEOUT")
	setDuration(&cfg.Runner.ProbeTimeout, "STRATOS_PROBE_TIMEOUT")
	setBool(&cfg.Runner.RequeueOnStart, "STRATOS_REQUEUE_ON_START")
	setBool(&cfg.Runner.FailStaleOnStart, "STRATOS_FAIL_STALE_ON_START")
	setDuration(&cfg.Runner.TaskRetention, "STRATOS_TASK_RETENTION")
	setInt(&cfg.Runner.MaxProbeParallel, "STRATOS_MAX_PROBE_PARALLEL")

	// Uploads
	setString(&cfg.Uploads.Dir, "UPLOAD_DIR")
	setDuration(&cfg.Uploads.Retention, "STRATOS_UPLOAD_RETENTION")
	setInt64(&cfg.Uploads.MaxBytes, "STRATOS_UPLOAD_MAX_BYTES")

	// Cleanup
	setDuration(&cfg.Cleanup.Interval, "CLEANUP_INTERVAL")
	setInt(&cfg.Cleanup.BatchSize, "STRATOS_CLEANUP_BATCH_SIZE")
	setInt(&cfg.Cleanup.Workers, "STRATOS_CLEANUP_WORKERS")

	setDuration(&cfg.Stream.HeartbeatInterval, "STRATOS_HEARTBEAT_INTERVAL")

	// Preview
	setBool(&cfg.Preview.Enabled, "STRATOS_PREVIEW_ENABLED")
	setInt64(&cfg.Preview.MinSizeBytes, "STRATOS_PREVIEW_MIN_SIZE")
	setString(&cfg.Preview.FFmpegBin, "STRATOS_FFMPEG_BIN")
	setInt64(&cfg.Preview.SizeLimitBytes, "STRATOS_PREVIEW_SIZE_LIMIT")
	setDuration(&cfg.Preview.Timeout, "STRATOS_PREVIEW_TIMEOUT")
	setInt(&cfg.Preview.MaxConcurrent, "STRATOS_PREVIEW_MAX_CONCURRENT")

	setString(&cfg.AI.WhisperBin, "WHISPER_BIN")
	setString(&cfg.AI.WhisperModel, "WHISPER_MODEL")

	// Cache
	setInt64(&cfg.Cache.L1MaxSizeMB, "STRATOS_CACHE_L1_SIZE_MB")
	setString(&cfg.Cache.L2Backend, "STRATOS_CACHE_L2_BACKEND")
	setString(&cfg.Cache.L2Bucket, "STRATOS_CACHE_L2_BUCKET")
	setDuration(&cfg.Cache.L2TTL, "STRATOS_CACHE_L2_TTL")
	setDuration(&cfg.Cache.TTL, "STRATOS_CACHE_TTL")
	setString(&cfg.Cache.Redis.Addr, "REDIS_ADDR")
	setString(&cfg.Cache.Redis.Username, "REDIS_USERNAME")
	setString(&cfg.Cache.Redis.Password, "REDIS_PASSWORD")
	setInt(&cfg.Cache.Redis.DB, "REDIS_DB")

	setString(&cfg.OTel.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setBool(&cfg.OTel.Insecure, "STRATOS_OTEL_INSECURE")
	setString(&cfg.OTel.ServiceName, "OTEL_SERVICE_NAME")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Server.MaxPageSize < 1 {
		return errors.New("server.max_page_size must be >= 1")
	}
	switch cfg.Storage.Driver {
	case "postgres":
		if cfg.Postgres.DSN == "" {
			return errors.New("postgres.dsn is required")
		}
		if cfg.Postgres.MaxConns < 1 {
			return errors.New("postgres.max_conns must be >= 1")
		}
	case "sqlite":
		if cfg.SQLite.Path == "" {
			return errors.New("sqlite.path is required")
		}
	default:
		return fmt.Errorf("storage.driver %q is not supported", cfg.Storage.Driver)
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Queue.MaxConcurrent < 1 {
		return errors.New("queue.max_concurrent must be >= 1")
	}
	if cfg.Runner.OutputDir == "" {
		return errors.New("runner.output_dir is required")
	}
	if cfg.Runner.TaskTimeout < 0 {
		return errors.New("runner.task_timeout must be >= 0")
	}
	if cfg.Uploads.Dir == "" {
		return errors.New("uploads.dir is required")
	}
	if cfg.Cleanup.Interval <= 0 {
		return errors.New("cleanup.interval must be > 0")
	}
	if cfg.Stream.HeartbeatInterval <= 0 {
		return errors.New("stream.heartbeat_interval must be > 0")
	}
	if cfg.Server.SubmitRate < 0 {
		return errors.New("server.submit_rate must be >= 0")
	}
	switch cfg.Cache.L2Backend {
	case "", "none", "nats":
	case "redis":
		if cfg.Cache.Redis.Addr == "" {
			return errors.New("cache.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("cache.l2_backend %q is not supported", cfg.Cache.L2Backend)
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

// setDuration accepts Go duration strings ("90s") and bare integers, which
// are read as seconds.
func setDuration(dst *time.Duration, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(n) * time.Second
	}
}
