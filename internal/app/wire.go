package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/VictorVVedtion/ai-perp-dex-sub001/internal/admission"
	s3blob "github.com/VictorVVedtion/ai-perp-dex-sub001/internal/blob/s3"
	"github.com/VictorVVedtion/ai-perp-dex-sub001/internal/cache/redis"
	"github.com/VictorVVedtion/ai-perp-dex-sub001/internal/config"
	"github.com/VictorVVedtion/ai-perp-dex-sub001/internal/domain"
	"github.com/VictorVVedtion/ai-perp-dex-sub001/internal/events"
	"github.com/VictorVVedtion/ai-perp-dex-sub001/internal/ledger"
	"github.com/VictorVVedtion/ai-perp-dex-sub001/internal/pricefeed"
	"github.com/VictorVVedtion/ai-perp-dex-sub001/internal/store/memory"
	"github.com/VictorVVedtion/ai-perp-dex-sub001/internal/store/postgres"
)

// rpcTimeout bounds individual ledger RPC requests. Confirmation polling has
// its own overall deadline in the bridge config.
const rpcTimeout = 10 * time.Second

// EventBus combines event publishing with the subscription surface the
// WebSocket hub needs. Both the NATS publisher and the in-process bus
// satisfy it.
type EventBus interface {
	domain.EventPublisher
	Subscribe(subject string, handler func(subject string, payload []byte)) (func(), error)
}

// Dependencies bundles every infrastructure-level dependency the pipeline
// needs. It is constructed by Wire and torn down by the returned cleanup
// function.
type Dependencies struct {
	// Stores
	Agents    domain.AgentStore
	Intents   domain.IntentStore
	Matches   domain.MatchStore
	Positions domain.PositionStore
	Fees      domain.FeeStore

	// Prices, admission backend and locking
	Prices  domain.PriceSource
	Limiter domain.RateLimiter
	Locks   domain.LockManager

	// Settlement ledger
	Ledger ledger.Client

	// Event bus
	Events EventBus

	// Fee ledger archival, nil when disabled
	Archiver *s3blob.Archiver

	// HealthChecks are reachability probes for the wired backends, keyed by
	// dependency name. Empty in dev mode.
	HealthChecks map[string]func(context.Context) error
}

// devMarks seeds the in-process price feed so dev deployments have a usable
// mark for every built-in instrument from the first sweep.
func devMarks() map[string]int64 {
	return map[string]int64{
		"BTC-PERP": 70_000_000_000,
		"ETH-PERP": 3_500_000_000,
		"SOL-PERP": 150_000_000,
	}
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
//
// In dev mode everything runs in process: memory stores, an in-memory
// settlement ledger, a static price feed, and a local sliding-window rate
// limiter. Prod mode backs the same interfaces with Postgres, Redis, and the
// settlement RPC endpoint so state survives restarts and limits hold across
// replicas.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		HealthChecks: make(map[string]func(context.Context) error),
	}
	prod := strings.ToLower(cfg.Mode) == "prod"

	if prod {
		// --- PostgreSQL ---
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.HealthChecks["postgres"] = pool.Ping
		deps.Agents = postgres.NewAgentStore(pool)
		deps.Intents = postgres.NewIntentStore(pool)
		deps.Matches = postgres.NewMatchStore(pool)
		deps.Positions = postgres.NewPositionStore(pool)
		deps.Fees = postgres.NewFeeStore(pool)

		// --- Redis ---
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.HealthChecks["redis"] = redisClient.Ping
		deps.Limiter = redis.NewRateLimiter(redisClient)
		deps.Locks = redis.NewLockManager(redisClient)
		// Marks are written into Redis by an external feed process.
		deps.Prices = redis.NewPriceCache(redisClient)

		// --- Settlement ledger RPC ---
		deps.Ledger = ledger.NewRPCClient(cfg.Ledger.RPCURL, rpcTimeout)
	} else {
		deps.Agents = memory.NewAgentStore()
		deps.Intents = memory.NewIntentStore()
		deps.Matches = memory.NewMatchStore()
		deps.Positions = memory.NewPositionStore()
		deps.Fees = memory.NewFeeStore()

		deps.Limiter = admission.NewSlidingWindow()
		deps.Prices = pricefeed.NewStatic(devMarks())
		deps.Ledger = ledger.NewMemory()
		// Single process, no distributed locking needed; the bridge treats
		// a nil lock manager as disabled.
	}

	// --- Event bus ---
	if cfg.NATS.Enabled {
		pub, err := events.Connect(cfg.NATS.URL)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: nats: %w", err)
		}
		closers = append(closers, pub.Close)
		deps.Events = pub
	} else {
		deps.Events = events.NewMemoryBus()
	}

	// --- S3 fee ledger archive ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), deps.Fees, logger)
	}

	return deps, cleanup, nil
}
