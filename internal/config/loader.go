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
const DefaultConfigFile = "streamforge.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
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
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
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
	setString(&cfg.Server.Port, "STREAMFORGE_PORT")
	setString(&cfg.Server.CORSOrigin, "STREAMFORGE_CORS_ORIGIN")
	setDuration(&cfg.Server.ReadHeaderTimeout, "STREAMFORGE_READ_HEADER_TIMEOUT")
	setDuration(&cfg.Server.ShutdownTimeout, "STREAMFORGE_SHUTDOWN_TIMEOUT")

	// Stream
	setDuration(&cfg.Stream.IdleInterval, "STREAMFORGE_STREAM_IDLE_INTERVAL")
	setDuration(&cfg.Stream.Retention, "STREAMFORGE_STREAM_RETENTION")
	setDuration(&cfg.Stream.SweepInterval, "STREAMFORGE_STREAM_SWEEP_INTERVAL")
	setDuration(&cfg.Stream.DetachGrace, "STREAMFORGE_STREAM_DETACH_GRACE")
	setInt(&cfg.Stream.EmitBuffer, "STREAMFORGE_STREAM_EMIT_BUFFER")
	setDuration(&cfg.Stream.ListenerTimeout, "STREAMFORGE_STREAM_LISTENER_TIMEOUT")

	// Postgres
	setBool(&cfg.Postgres.Enabled, "STREAMFORGE_PG_ENABLED")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "STREAMFORGE_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "STREAMFORGE_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "STREAMFORGE_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "STREAMFORGE_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "STREAMFORGE_PG_HEALTH_CHECK")

	// NATS
	setBool(&cfg.NATS.Enabled, "STREAMFORGE_NATS_ENABLED")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.SubjectPrefix, "STREAMFORGE_NATS_SUBJECT_PREFIX")
	setString(&cfg.NATS.StreamName, "STREAMFORGE_NATS_STREAM")

	// Cache
	setInt64(&cfg.Cache.L1MaxSizeMB, "STREAMFORGE_CACHE_L1_SIZE_MB")
	setString(&cfg.Cache.L2Bucket, "STREAMFORGE_CACHE_L2_BUCKET")
	setDuration(&cfg.Cache.L2TTL, "STREAMFORGE_CACHE_L2_TTL")
	setDuration(&cfg.Cache.TombstoneTTL, "STREAMFORGE_CACHE_TOMBSTONE_TTL")

	// Idempotency
	setDuration(&cfg.Idempotency.TTL, "STREAMFORGE_IDEMPOTENCY_TTL")

	// LLM
	setString(&cfg.LLM.BaseURL, "STREAMFORGE_LLM_BASE_URL")
	setString(&cfg.LLM.APIKey, "OPENAI_API_KEY")
	setString(&cfg.LLM.Model, "STREAMFORGE_LLM_MODEL")
	setString(&cfg.LLM.SpecModel, "STREAMFORGE_LLM_SPEC_MODEL")
	setInt(&cfg.LLM.MaxToolRounds, "STREAMFORGE_LLM_MAX_TOOL_ROUNDS")
	setDuration(&cfg.LLM.Timeout, "STREAMFORGE_LLM_TIMEOUT")
	setInt(&cfg.LLM.MaxRetries, "STREAMFORGE_LLM_MAX_RETRIES")

	// Deploy
	setString(&cfg.Deploy.WorkDir, "STREAMFORGE_DEPLOY_WORK_DIR")
	setString(&cfg.Deploy.PreviewPrefix, "STREAMFORGE_DEPLOY_PREVIEW_PREFIX")
	setInt(&cfg.Deploy.MaxConcurrent, "STREAMFORGE_DEPLOY_MAX_CONCURRENT")
	setString(&cfg.Deploy.NPM, "STREAMFORGE_DEPLOY_NPM")

	// MCP
	setBool(&cfg.MCP.Enabled, "STREAMFORGE_MCP_ENABLED")
	setString(&cfg.MCP.APIKey, "STREAMFORGE_MCP_API_KEY")

	// Logging
	setString(&cfg.Logging.Level, "STREAMFORGE_LOG_LEVEL")
	setString(&cfg.Logging.Service, "STREAMFORGE_LOG_SERVICE")
	setString(&cfg.Logging.Format, "STREAMFORGE_LOG_FORMAT")
	setBool(&cfg.Logging.Async, "STREAMFORGE_LOG_ASYNC")

	// OTEL
	setBool(&cfg.OTEL.Enabled, "STREAMFORGE_OTEL_ENABLED")
	setString(&cfg.OTEL.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&cfg.OTEL.ServiceName, "OTEL_SERVICE_NAME")
	setBool(&cfg.OTEL.Insecure, "STREAMFORGE_OTEL_INSECURE")

	setInt(&cfg.Breaker.MaxFailures, "STREAMFORGE_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "STREAMFORGE_BREAKER_TIMEOUT")
	setFloat64(&cfg.Rate.RequestsPerSecond, "STREAMFORGE_RATE_RPS")
	setInt(&cfg.Rate.Burst, "STREAMFORGE_RATE_BURST")
	setDuration(&cfg.Rate.CleanupInterval, "STREAMFORGE_RATE_CLEANUP_INTERVAL")
	setDuration(&cfg.Rate.MaxIdleTime, "STREAMFORGE_RATE_MAX_IDLE_TIME")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Stream.IdleInterval <= 0 {
		return errors.New("stream.idle_interval must be > 0")
	}
	if cfg.Stream.Retention <= 0 {
		return errors.New("stream.retention must be > 0")
	}
	if cfg.Stream.EmitBuffer < 1 {
		return errors.New("stream.emit_buffer must be >= 1")
	}
	if cfg.Postgres.Enabled && cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.NATS.Enabled && cfg.NATS.URL == "" {
		return errors.New("nats.url is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.LLM.MaxToolRounds < 1 {
		return errors.New("llm.max_tool_rounds must be >= 1")
	}
	if cfg.Deploy.MaxConcurrent < 1 {
		return errors.New("deploy.max_concurrent must be >= 1")
	}
	switch cfg.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format must be json or text, got %q", cfg.Logging.Format)
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Rate.Burst < 1 {
		return errors.New("rate.burst must be >= 1")
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

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
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

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
