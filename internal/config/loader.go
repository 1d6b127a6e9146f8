package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies PERPDEX_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known PERPDEX_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "PERPDEX_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "PERPDEX_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "PERPDEX_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "PERPDEX_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "PERPDEX_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "PERPDEX_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "PERPDEX_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "PERPDEX_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "PERPDEX_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "PERPDEX_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "PERPDEX_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PERPDEX_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PERPDEX_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "PERPDEX_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "PERPDEX_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "PERPDEX_REDIS_TLS_ENABLED")

	// ── NATS ──
	setBool(&cfg.NATS.Enabled, "PERPDEX_NATS_ENABLED")
	setStr(&cfg.NATS.URL, "PERPDEX_NATS_URL")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "PERPDEX_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "PERPDEX_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "PERPDEX_S3_REGION")
	setStr(&cfg.S3.Bucket, "PERPDEX_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "PERPDEX_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "PERPDEX_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "PERPDEX_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "PERPDEX_S3_FORCE_PATH_STYLE")

	// ── Ledger ──
	setStr(&cfg.Ledger.ProgramID, "PERPDEX_LEDGER_PROGRAM_ID")
	setStr(&cfg.Ledger.RPCURL, "PERPDEX_LEDGER_RPC_URL")
	setInt(&cfg.Ledger.MaxAttempts, "PERPDEX_LEDGER_MAX_ATTEMPTS")
	setDuration(&cfg.Ledger.RetryBackoff, "PERPDEX_LEDGER_RETRY_BACKOFF")
	setDuration(&cfg.Ledger.ConfirmPoll, "PERPDEX_LEDGER_CONFIRM_POLL")
	setDuration(&cfg.Ledger.ConfirmTimeout, "PERPDEX_LEDGER_CONFIRM_TIMEOUT")
	setDuration(&cfg.Ledger.LockTTL, "PERPDEX_LEDGER_LOCK_TTL")

	// ── Admission ──
	setInt(&cfg.Admission.AgentLimit, "PERPDEX_ADMISSION_AGENT_LIMIT")
	setInt(&cfg.Admission.GlobalLimit, "PERPDEX_ADMISSION_GLOBAL_LIMIT")
	setDuration(&cfg.Admission.Window, "PERPDEX_ADMISSION_WINDOW")
	setInt(&cfg.Admission.BanThreshold, "PERPDEX_ADMISSION_BAN_THRESHOLD")
	setDuration(&cfg.Admission.BanDuration, "PERPDEX_ADMISSION_BAN_DURATION")

	// ── Monitor ──
	setDuration(&cfg.Monitor.PollInterval, "PERPDEX_MONITOR_POLL_INTERVAL")
	setDuration(&cfg.Monitor.FundingInterval, "PERPDEX_MONITOR_FUNDING_INTERVAL")
	setInt(&cfg.Monitor.AtRiskBufferBps, "PERPDEX_MONITOR_AT_RISK_BUFFER_BPS")
	setDuration(&cfg.Monitor.StaleAfter, "PERPDEX_MONITOR_STALE_AFTER")
	setDuration(&cfg.Monitor.IntentExpiry, "PERPDEX_MONITOR_INTENT_EXPIRY")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "PERPDEX_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "PERPDEX_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "PERPDEX_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "PERPDEX_SERVER_API_KEY")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "PERPDEX_ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Interval, "PERPDEX_ARCHIVE_INTERVAL")

	// ── Top-level ──
	setStr(&cfg.Mode, "PERPDEX_MODE")
	setStr(&cfg.LogLevel, "PERPDEX_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
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

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
