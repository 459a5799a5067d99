package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Server.Port != "8080" {
		t.Errorf("expected port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Stream.IdleInterval != 5*time.Second {
		t.Errorf("expected idle interval 5s, got %v", cfg.Stream.IdleInterval)
	}
	if cfg.Stream.Retention != 5*time.Minute {
		t.Errorf("expected retention 5m, got %v", cfg.Stream.Retention)
	}
	if cfg.Postgres.MaxConns != 15 {
		t.Errorf("expected max_conns 15, got %d", cfg.Postgres.MaxConns)
	}
	if cfg.Breaker.Timeout != 30*time.Second {
		t.Errorf("expected breaker timeout 30s, got %v", cfg.Breaker.Timeout)
	}
}

func TestLoadYAMLOverride(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "test.yaml")

	content := `
server:
  port: "9090"
  cors_origin: "http://example.com"
stream:
  idle_interval: 2s
  retention: 10m
postgres:
  max_conns: 20
logging:
  level: "debug"
`
	if err := os.WriteFile(yamlPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := Defaults()
	if err := loadYAML(&cfg, yamlPath); err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Server.Port)
	}
	if cfg.Server.CORSOrigin != "http://example.com" {
		t.Errorf("expected cors http://example.com, got %s", cfg.Server.CORSOrigin)
	}
	if cfg.Stream.IdleInterval != 2*time.Second {
		t.Errorf("expected idle interval 2s, got %v", cfg.Stream.IdleInterval)
	}
	if cfg.Stream.Retention != 10*time.Minute {
		t.Errorf("expected retention 10m, got %v", cfg.Stream.Retention)
	}
	if cfg.Postgres.MaxConns != 20 {
		t.Errorf("expected max_conns 20, got %d", cfg.Postgres.MaxConns)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected log level debug, got %s", cfg.Logging.Level)
	}
	// Unchanged fields keep defaults
	if cfg.NATS.URL != "nats://localhost:4222" {
		t.Errorf("expected default NATS URL, got %s", cfg.NATS.URL)
	}
	if cfg.Stream.EmitBuffer != 256 {
		t.Errorf("expected default emit buffer, got %d", cfg.Stream.EmitBuffer)
	}
}

func TestLoadYAMLMissing(t *testing.T) {
	cfg := Defaults()
	err := loadYAML(&cfg, "/nonexistent/path.yaml")
	if err != nil {
		t.Errorf("missing YAML should not error, got %v", err)
	}
}

func TestEnvOverride(t *testing.T) {
	cfg := Defaults()

	t.Setenv("STREAMFORGE_PORT", "7070")
	t.Setenv("DATABASE_URL", "postgres://test:test@db:5432/test")
	t.Setenv("STREAMFORGE_PG_MAX_CONNS", "25")
	t.Setenv("STREAMFORGE_LOG_LEVEL", "warn")
	t.Setenv("STREAMFORGE_BREAKER_TIMEOUT", "1m")
	t.Setenv("STREAMFORGE_STREAM_IDLE_INTERVAL", "250ms")
	t.Setenv("STREAMFORGE_NATS_ENABLED", "true")

	loadEnv(&cfg)

	if cfg.Server.Port != "7070" {
		t.Errorf("expected port 7070, got %s", cfg.Server.Port)
	}
	if cfg.Postgres.DSN != "postgres://test:test@db:5432/test" {
		t.Errorf("expected test DSN, got %s", cfg.Postgres.DSN)
	}
	if cfg.Postgres.MaxConns != 25 {
		t.Errorf("expected max_conns 25, got %d", cfg.Postgres.MaxConns)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("expected log level warn, got %s", cfg.Logging.Level)
	}
	if cfg.Breaker.Timeout != time.Minute {
		t.Errorf("expected breaker timeout 1m, got %v", cfg.Breaker.Timeout)
	}
	if cfg.Stream.IdleInterval != 250*time.Millisecond {
		t.Errorf("expected idle interval 250ms, got %v", cfg.Stream.IdleInterval)
	}
	if !cfg.NATS.Enabled {
		t.Error("expected NATS enabled")
	}
}

func TestEnvInvalidValueIgnored(t *testing.T) {
	cfg := Defaults()
	t.Setenv("STREAMFORGE_STREAM_RETENTION", "forever")
	loadEnv(&cfg)
	if cfg.Stream.Retention != 5*time.Minute {
		t.Errorf("unparsable env should keep default, got %v", cfg.Stream.Retention)
	}
}

func TestValidateRequired(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		errMsg string
	}{
		{
			name:   "empty port",
			modify: func(c *Config) { c.Server.Port = "" },
			errMsg: "server.port is required",
		},
		{
			name:   "zero idle interval",
			modify: func(c *Config) { c.Stream.IdleInterval = 0 },
			errMsg: "stream.idle_interval must be > 0",
		},
		{
			name:   "zero retention",
			modify: func(c *Config) { c.Stream.Retention = 0 },
			errMsg: "stream.retention must be > 0",
		},
		{
			name:   "zero emit buffer",
			modify: func(c *Config) { c.Stream.EmitBuffer = 0 },
			errMsg: "stream.emit_buffer must be >= 1",
		},
		{
			name: "empty DSN with archive enabled",
			modify: func(c *Config) {
				c.Postgres.Enabled = true
				c.Postgres.DSN = ""
			},
			errMsg: "postgres.dsn is required",
		},
		{
			name: "empty NATS URL with relay enabled",
			modify: func(c *Config) {
				c.NATS.Enabled = true
				c.NATS.URL = ""
			},
			errMsg: "nats.url is required",
		},
		{
			name:   "zero max_conns",
			modify: func(c *Config) { c.Postgres.MaxConns = 0 },
			errMsg: "postgres.max_conns must be >= 1",
		},
		{
			name:   "zero tool rounds",
			modify: func(c *Config) { c.LLM.MaxToolRounds = 0 },
			errMsg: "llm.max_tool_rounds must be >= 1",
		},
		{
			name:   "zero deploy concurrency",
			modify: func(c *Config) { c.Deploy.MaxConcurrent = 0 },
			errMsg: "deploy.max_concurrent must be >= 1",
		},
		{
			name:   "unknown log format",
			modify: func(c *Config) { c.Logging.Format = "xml" },
			errMsg: `logging.format must be json or text, got "xml"`,
		},
		{
			name:   "zero breaker failures",
			modify: func(c *Config) { c.Breaker.MaxFailures = 0 },
			errMsg: "breaker.max_failures must be >= 1",
		},
		{
			name:   "zero rate burst",
			modify: func(c *Config) { c.Rate.Burst = 0 },
			errMsg: "rate.burst must be >= 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.modify(&cfg)
			err := validate(&cfg)
			if err == nil {
				t.Fatalf("expected error %q, got nil", tt.errMsg)
			}
			if err.Error() != tt.errMsg {
				t.Errorf("expected %q, got %q", tt.errMsg, err.Error())
			}
		})
	}
}

func TestValidateDefaults(t *testing.T) {
	cfg := Defaults()
	if err := validate(&cfg); err != nil {
		t.Errorf("defaults should validate, got %v", err)
	}
}

func TestDisabledBackendsSkipDSNCheck(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.DSN = ""
	cfg.NATS.URL = ""
	if err := validate(&cfg); err != nil {
		t.Errorf("disabled archive and relay should not require DSN/URL, got %v", err)
	}
}

func TestParseFlags(t *testing.T) {
	flags, err := ParseFlags([]string{"--port", "9090", "--log-level", "debug"})
	if err != nil {
		t.Fatal(err)
	}

	if flags.Port == nil || *flags.Port != "9090" {
		t.Errorf("expected port 9090, got %v", flags.Port)
	}
	if flags.LogLevel == nil || *flags.LogLevel != "debug" {
		t.Errorf("expected log-level debug, got %v", flags.LogLevel)
	}
	// Unset flags remain nil
	if flags.DSN != nil {
		t.Errorf("expected nil DSN, got %v", *flags.DSN)
	}
	if flags.NatsURL != nil {
		t.Errorf("expected nil NatsURL, got %v", *flags.NatsURL)
	}
	if flags.ConfigPath != nil {
		t.Errorf("expected nil ConfigPath, got %v", *flags.ConfigPath)
	}
}

func TestParseFlagsShorthand(t *testing.T) {
	flags, err := ParseFlags([]string{"-p", "7070", "-c", "custom.yaml"})
	if err != nil {
		t.Fatal(err)
	}

	if flags.Port == nil || *flags.Port != "7070" {
		t.Errorf("expected port 7070, got %v", flags.Port)
	}
	if flags.ConfigPath == nil || *flags.ConfigPath != "custom.yaml" {
		t.Errorf("expected config custom.yaml, got %v", flags.ConfigPath)
	}
}

func TestParseFlagsInvalid(t *testing.T) {
	_, err := ParseFlags([]string{"--unknown-flag"})
	if err == nil {
		t.Error("expected error for unknown flag, got nil")
	}
}

func TestApplyCLINilFlags(t *testing.T) {
	cfg := Defaults()
	original := cfg

	// All-nil flags should change nothing.
	applyCLI(&cfg, CLIFlags{})

	if cfg.Server.Port != original.Server.Port {
		t.Errorf("port changed from %s to %s", original.Server.Port, cfg.Server.Port)
	}
	if cfg.Logging.Level != original.Logging.Level {
		t.Errorf("log level changed from %s to %s", original.Logging.Level, cfg.Logging.Level)
	}
}

func TestCLIOverridesEnv(t *testing.T) {
	t.Setenv("STREAMFORGE_PORT", "7070")
	t.Setenv("STREAMFORGE_LOG_LEVEL", "warn")

	dir := t.TempDir()
	flags, err := ParseFlags([]string{"--port", "3333", "--log-level", "error", "--config", filepath.Join(dir, "none.yaml")})
	if err != nil {
		t.Fatal(err)
	}

	cfg, _, err := LoadWithCLI(flags)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Port != "3333" {
		t.Errorf("expected CLI port 3333 to override ENV 7070, got %s", cfg.Server.Port)
	}
	if cfg.Logging.Level != "error" {
		t.Errorf("expected CLI log-level error to override ENV warn, got %s", cfg.Logging.Level)
	}
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "streamforge.yaml")
	if err := os.WriteFile(yamlPath, []byte("logging:\n  level: info\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	got := make(chan string, 4)
	w, err := NewWatcher(yamlPath, func(c *Config) { got <- c.Logging.Level })
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	if err := os.WriteFile(yamlPath, []byte("logging:\n  level: debug\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case level := <-got:
		if level != "debug" {
			t.Errorf("expected reloaded level debug, got %s", level)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for config reload")
	}
}
