// Package config defines the top-level configuration for the settlement
// pipeline daemon and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by PERPDEX_* environment variables.
type Config struct {
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	NATS      NATSConfig      `toml:"nats"`
	S3        S3Config        `toml:"s3"`
	Ledger    LedgerConfig    `toml:"ledger"`
	Admission AdmissionConfig `toml:"admission"`
	Monitor   MonitorConfig   `toml:"monitor"`
	Server    ServerConfig    `toml:"server"`
	Archive   ArchiveConfig   `toml:"archive"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// NATSConfig holds event broker parameters.
type NATSConfig struct {
	Enabled bool   `toml:"enabled"`
	URL     string `toml:"url"`
}

// S3Config holds S3-compatible object storage parameters for the fee
// ledger archive.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// LedgerConfig holds settlement ledger parameters.
type LedgerConfig struct {
	ProgramID      string   `toml:"program_id"`
	RPCURL         string   `toml:"rpc_url"`
	MaxAttempts    int      `toml:"max_attempts"`
	RetryBackoff   duration `toml:"retry_backoff"`
	ConfirmPoll    duration `toml:"confirm_poll"`
	ConfirmTimeout duration `toml:"confirm_timeout"`
	LockTTL        duration `toml:"lock_ttl"`
}

// AdmissionConfig holds rate-admission parameters.
type AdmissionConfig struct {
	AgentLimit   int      `toml:"agent_limit"`
	GlobalLimit  int      `toml:"global_limit"`
	Window       duration `toml:"window"`
	BanThreshold int      `toml:"ban_threshold"`
	BanDuration  duration `toml:"ban_duration"`
}

// MonitorConfig holds liquidation-monitor parameters.
type MonitorConfig struct {
	PollInterval    duration `toml:"poll_interval"`
	FundingInterval duration `toml:"funding_interval"`
	AtRiskBufferBps int      `toml:"at_risk_buffer_bps"`
	StaleAfter      duration `toml:"stale_after"`
	IntentExpiry    duration `toml:"intent_expiry"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"` // empty disables authentication
}

// ArchiveConfig holds fee-ledger archival parameters.
type ArchiveConfig struct {
	Enabled  bool     `toml:"enabled"`
	Interval duration `toml:"interval"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "perpdex",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		NATS: NATSConfig{
			Enabled: false,
			URL:     "nats://localhost:4222",
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "perpdex-archive",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Ledger: LedgerConfig{
			ProgramID:      "perp-settlement-v1",
			RPCURL:         "http://localhost:8899",
			MaxAttempts:    3,
			RetryBackoff:   duration{250 * time.Millisecond},
			ConfirmPoll:    duration{500 * time.Millisecond},
			ConfirmTimeout: duration{15 * time.Second},
			LockTTL:        duration{30 * time.Second},
		},
		Admission: AdmissionConfig{
			AgentLimit:   50,
			GlobalLimit:  2000,
			Window:       duration{time.Minute},
			BanThreshold: 10,
			BanDuration:  duration{10 * time.Minute},
		},
		Monitor: MonitorConfig{
			PollInterval:    duration{2 * time.Second},
			FundingInterval: duration{time.Hour},
			AtRiskBufferBps: 9000,
			StaleAfter:      duration{30 * time.Second},
			IntentExpiry:    duration{30 * time.Second},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000"},
		},
		Archive: ArchiveConfig{
			Enabled:  false,
			Interval: duration{24 * time.Hour},
		},
		Mode:     "dev",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode. Dev mode runs
// entirely in process with memory stores and the in-memory ledger; prod
// requires the full external stack.
var validModes = map[string]bool{
	"dev":  true,
	"prod": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: dev, prod)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	prod := strings.ToLower(c.Mode) == "prod"

	// Postgres and Redis back the stores and admission control in prod.
	if prod {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	if c.NATS.Enabled && c.NATS.URL == "" {
		errs = append(errs, "nats: url must not be empty when enabled")
	}

	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
	}

	// Ledger
	if c.Ledger.ProgramID == "" {
		errs = append(errs, "ledger: program_id must not be empty")
	}
	if prod && c.Ledger.RPCURL == "" {
		errs = append(errs, "ledger: rpc_url must not be empty")
	}
	if c.Ledger.MaxAttempts < 1 {
		errs = append(errs, "ledger: max_attempts must be >= 1")
	}
	if c.Ledger.ConfirmPoll.Duration <= 0 {
		errs = append(errs, "ledger: confirm_poll must be > 0")
	}
	if c.Ledger.ConfirmTimeout.Duration <= 0 {
		errs = append(errs, "ledger: confirm_timeout must be > 0")
	}

	// Admission
	if c.Admission.AgentLimit < 1 {
		errs = append(errs, "admission: agent_limit must be >= 1")
	}
	if c.Admission.GlobalLimit < c.Admission.AgentLimit {
		errs = append(errs, "admission: global_limit must be >= agent_limit")
	}
	if c.Admission.Window.Duration <= 0 {
		errs = append(errs, "admission: window must be > 0")
	}
	if c.Admission.BanThreshold < 1 {
		errs = append(errs, "admission: ban_threshold must be >= 1")
	}

	// Monitor
	if c.Monitor.PollInterval.Duration <= 0 {
		errs = append(errs, "monitor: poll_interval must be > 0")
	}
	if c.Monitor.AtRiskBufferBps <= 0 || c.Monitor.AtRiskBufferBps >= 10_000 {
		errs = append(errs, fmt.Sprintf("monitor: at_risk_buffer_bps must be in (0, 10000), got %d", c.Monitor.AtRiskBufferBps))
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if c.Archive.Enabled && !c.S3.Enabled {
		errs = append(errs, "archive: s3 must be enabled when archival is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
