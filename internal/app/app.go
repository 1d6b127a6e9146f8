// Package app provides the top-level application lifecycle for the
// settlement pipeline daemon. It wires together stores, caches, the ledger
// client, domain components, and the API server, and runs them until the
// context is cancelled.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/VictorVVedtion/ai-perp-dex-sub001/internal/admission"
	"github.com/VictorVVedtion/ai-perp-dex-sub001/internal/bridge"
	"github.com/VictorVVedtion/ai-perp-dex-sub001/internal/config"
	"github.com/VictorVVedtion/ai-perp-dex-sub001/internal/domain"
	"github.com/VictorVVedtion/ai-perp-dex-sub001/internal/fees"
	"github.com/VictorVVedtion/ai-perp-dex-sub001/internal/matcher"
	"github.com/VictorVVedtion/ai-perp-dex-sub001/internal/metrics"
	"github.com/VictorVVedtion/ai-perp-dex-sub001/internal/monitor"
	"github.com/VictorVVedtion/ai-perp-dex-sub001/internal/registry"
	"github.com/VictorVVedtion/ai-perp-dex-sub001/internal/server"
	"github.com/VictorVVedtion/ai-perp-dex-sub001/internal/server/handler"
	"github.com/VictorVVedtion/ai-perp-dex-sub001/internal/server/ws"
	"github.com/VictorVVedtion/ai-perp-dex-sub001/internal/service"
)

// shutdownGrace is how long in-flight HTTP requests get to finish after the
// run context is cancelled.
const shutdownGrace = 10 * time.Second

// App is the root application object. It owns the configuration, logger, and
// a list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run is the main entry point. It wires all dependencies, composes the
// pipeline, starts the background loops and the API server, and blocks until
// the context is cancelled or a component fails.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	// --- Domain components ---
	met := metrics.New()
	schedule := fees.Default()

	reg := registry.New(deps.Agents, deps.Intents, deps.Prices, domain.DefaultInstruments(), a.logger)
	match := matcher.New(deps.Intents, deps.Agents, deps.Matches, deps.Prices, a.logger)

	brdg := bridge.New(bridge.Config{
		ProgramID:       a.cfg.Ledger.ProgramID,
		SubmitAttempts:  a.cfg.Ledger.MaxAttempts,
		RetryBackoff:    a.cfg.Ledger.RetryBackoff.Duration,
		ConfirmInterval: a.cfg.Ledger.ConfirmPoll.Duration,
		ConfirmTimeout:  a.cfg.Ledger.ConfirmTimeout.Duration,
		LockTTL:         a.cfg.Ledger.LockTTL.Duration,
	}, bridge.Deps{
		Client:    deps.Ledger,
		Registry:  reg,
		Agents:    deps.Agents,
		Intents:   deps.Intents,
		Matches:   deps.Matches,
		Positions: deps.Positions,
		Fees:      deps.Fees,
		Schedule:  schedule,
		Locks:     deps.Locks,
		Events:    deps.Events,
		Metrics:   met,
		Logger:    a.logger,
	})

	adm := admission.New(deps.Limiter, admission.Config{
		AgentLimit:   a.cfg.Admission.AgentLimit,
		GlobalLimit:  a.cfg.Admission.GlobalLimit,
		Window:       a.cfg.Admission.Window.Duration,
		BanThreshold: a.cfg.Admission.BanThreshold,
		BanDuration:  a.cfg.Admission.BanDuration.Duration,
	}, a.logger)

	mon := monitor.New(monitor.Config{
		PollInterval:    a.cfg.Monitor.PollInterval.Duration,
		FundingInterval: a.cfg.Monitor.FundingInterval.Duration,
		AtRiskBufferBps: int64(a.cfg.Monitor.AtRiskBufferBps),
		StaleAfter:      a.cfg.Monitor.StaleAfter.Duration,
	}, deps.Positions, deps.Prices, brdg, deps.Fees, schedule, met, a.logger)

	// --- Services and HTTP surface ---
	agentSvc := service.NewAgentService(reg, a.logger)
	intentSvc := service.NewIntentService(reg, deps.Intents, adm, met, a.logger)
	tradeSvc := service.NewTradeService(match, brdg, deps.Intents, deps.Positions, deps.Prices, adm, met, a.logger)
	collateralSvc := service.NewCollateralService(brdg, reg, deps.Fees, adm, a.logger)

	health := handler.NewHealthHandler(a.logger)
	for name, probe := range deps.HealthChecks {
		health.AddCheck(name, probe)
	}

	handlers := server.Handlers{
		Health:     health,
		Agents:     handler.NewAgentHandler(agentSvc, a.logger),
		Intents:    handler.NewIntentHandler(intentSvc, a.logger),
		Trades:     handler.NewTradeHandler(tradeSvc, a.logger),
		Collateral: handler.NewCollateralHandler(collateralSvc, a.logger),
		Metrics:    met.Handler(),
	}

	hub := ws.NewHub(deps.Events, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: time.Now().UTC(),
	})

	g, ctx := errgroup.WithContext(ctx)

	// Liquidation monitor and funding loop.
	g.Go(func() error {
		return mon.Run(ctx)
	})

	// Intent expiry sweep.
	g.Go(func() error {
		return a.runIntentExpiry(ctx, reg, met)
	})

	// Fee ledger archival.
	if deps.Archiver != nil && a.cfg.Archive.Enabled {
		g.Go(func() error {
			return a.runArchiver(ctx, deps)
		})
	}

	// HTTP + WebSocket API.
	if a.cfg.Server.Enabled {
		srv := server.NewServer(server.Config{
			Port:        a.cfg.Server.Port,
			CORSOrigins: a.cfg.Server.CORSOrigins,
			APIKey:      a.cfg.Server.APIKey,
		}, handlers, hub, a.logger)

		g.Go(func() error {
			return hub.Run(ctx)
		})
		g.Go(func() error {
			return srv.Start()
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

// runIntentExpiry periodically cancels OPEN intents whose TTL has elapsed.
func (a *App) runIntentExpiry(ctx context.Context, reg *registry.Registry, met *metrics.Metrics) error {
	interval := a.cfg.Monitor.IntentExpiry.Duration
	if interval <= 0 {
		interval = 30 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n, err := reg.ExpireIntents(ctx, time.Now().UTC())
			if err != nil {
				a.logger.ErrorContext(ctx, "intent expiry sweep failed",
					slog.String("error", err.Error()),
				)
				continue
			}
			if n > 0 {
				met.IntentsExpired(n)
			}
		}
	}
}

// runArchiver periodically uploads new fee records to object storage. Each
// run picks up where the previous one left off.
func (a *App) runArchiver(ctx context.Context, deps *Dependencies) error {
	interval := a.cfg.Archive.Interval.Duration
	if interval <= 0 {
		interval = time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var since time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			runStart := time.Now().UTC()
			n, err := deps.Archiver.ArchiveFees(ctx, since)
			if err != nil {
				a.logger.ErrorContext(ctx, "fee archive run failed",
					slog.String("error", err.Error()),
				)
				continue
			}
			since = runStart
			if n > 0 {
				a.logger.InfoContext(ctx, "archived fee records",
					slog.Int64("count", n),
				)
			}
		}
	}
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
