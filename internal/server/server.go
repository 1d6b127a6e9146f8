// Package server exposes the settlement pipeline over HTTP and WebSocket.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/VictorVVedtion/ai-perp-dex-sub001/internal/server/handler"
	"github.com/VictorVVedtion/ai-perp-dex-sub001/internal/server/middleware"
	"github.com/VictorVVedtion/ai-perp-dex-sub001/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health     *handler.HealthHandler
	Agents     *handler.AgentHandler
	Intents    *handler.IntentHandler
	Trades     *handler.TradeHandler
	Collateral *handler.CollateralHandler
	Metrics    http.Handler // Prometheus exposition, optional
}

// Server is the HTTP + WebSocket API server for the settlement pipeline.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (logging, CORS, auth) and attaches the WebSocket hub.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// --- Register routes ---

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Agent endpoints.
	mux.HandleFunc("POST /api/agents/register", handlers.Agents.Register)
	mux.HandleFunc("GET /api/agents/{id}", handlers.Agents.GetAgent)

	// Intent endpoints.
	mux.HandleFunc("POST /api/intents", handlers.Intents.Submit)
	mux.HandleFunc("GET /api/intents", handlers.Intents.ListIntents)
	mux.HandleFunc("GET /api/intents/{id}", handlers.Intents.GetIntent)
	mux.HandleFunc("DELETE /api/intents/{id}", handlers.Intents.Cancel)

	// Trade and position endpoints.
	mux.HandleFunc("POST /api/trade/accept", handlers.Trades.Accept)
	mux.HandleFunc("POST /api/positions/close", handlers.Trades.Close)
	mux.HandleFunc("GET /api/positions/{id}", handlers.Trades.GetPosition)
	mux.HandleFunc("GET /api/positions/open/{owner}/{instrument}", handlers.Trades.GetOpenPosition)

	// Collateral endpoints.
	mux.HandleFunc("POST /api/collateral/deposit", handlers.Collateral.Deposit)
	mux.HandleFunc("POST /api/collateral/withdraw", handlers.Collateral.Withdraw)
	mux.HandleFunc("GET /api/collateral/{agent_id}", handlers.Collateral.Balance)
	mux.HandleFunc("GET /api/collateral/{agent_id}/fees", handlers.Collateral.Fees)

	// Prometheus metrics.
	if handlers.Metrics != nil {
		mux.Handle("GET /metrics", handlers.Metrics)
	}

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain.
	var h http.Handler = mux

	// Apply auth middleware (skips if APIKey is empty).
	h = middleware.Auth(cfg.APIKey)(h)

	// Apply request logging middleware.
	h = middleware.Logging(logger)(h)

	// Apply CORS middleware.
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
