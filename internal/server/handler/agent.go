package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/VictorVVedtion/ai-perp-dex-sub001/internal/domain"
)

// AgentService defines what the agent handler requires from the service layer.
type AgentService interface {
	Register(ctx context.Context, wallet, message, sigHex string) (domain.Agent, error)
	Get(ctx context.Context, agentID string) (domain.Agent, error)
}

// AgentHandler serves agent registration and lookup endpoints.
type AgentHandler struct {
	agents AgentService
	logger *slog.Logger
}

// NewAgentHandler creates an AgentHandler.
func NewAgentHandler(agents AgentService, logger *slog.Logger) *AgentHandler {
	return &AgentHandler{agents: agents, logger: logger}
}

type registerRequest struct {
	Wallet    string `json:"wallet"`
	Message   string `json:"message"`
	Signature string `json:"signature"`
}

type agentResponse struct {
	ID          string  `json:"id"`
	Wallet      string  `json:"wallet"`
	Status      string  `json:"status"`
	Reputation  float64 `json:"reputation"`
	TotalVolume int64   `json:"total_volume_usd"`
	TradeCount  int64   `json:"trade_count"`
	RealizedPnL int64   `json:"realized_pnl_usd"`
}

func toAgentResponse(a domain.Agent) agentResponse {
	return agentResponse{
		ID:          a.ID,
		Wallet:      a.Wallet,
		Status:      string(a.Status),
		Reputation:  a.Reputation,
		TotalVolume: a.TotalVolume,
		TradeCount:  a.TradeCount,
		RealizedPnL: a.RealizedPnL,
	}
}

// Register registers a wallet as a trading agent.
// POST /api/agents/register
func (h *AgentHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Wallet == "" {
		writeError(w, http.StatusBadRequest, "wallet is required")
		return
	}

	agent, err := h.agents.Register(r.Context(), req.Wallet, req.Message, req.Signature)
	if err != nil {
		h.logger.WarnContext(r.Context(), "handler: agent registration failed",
			slog.String("wallet", req.Wallet),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err, 0)
		return
	}

	writeJSON(w, http.StatusCreated, toAgentResponse(agent))
}

// GetAgent returns an agent by ID.
// GET /api/agents/{id}
func (h *AgentHandler) GetAgent(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing agent id")
		return
	}

	agent, err := h.agents.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, toAgentResponse(agent))
}
