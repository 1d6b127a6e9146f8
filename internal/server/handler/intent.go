package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/VictorVVedtion/ai-perp-dex-sub001/internal/domain"
	"github.com/VictorVVedtion/ai-perp-dex-sub001/internal/registry"
)

// IntentService defines what the intent handler requires from the service layer.
type IntentService interface {
	Submit(ctx context.Context, agentID string, p registry.IntentParams) (domain.TradingIntent, time.Duration, error)
	Cancel(ctx context.Context, agentID, intentID string) error
	Get(ctx context.Context, intentID string) (domain.TradingIntent, error)
	ListByAgent(ctx context.Context, agentID string, opts domain.ListOpts) ([]domain.TradingIntent, error)
	ListOpen(ctx context.Context, instrument string, opts domain.ListOpts) ([]domain.TradingIntent, error)
}

// IntentHandler serves intent lifecycle endpoints.
type IntentHandler struct {
	intents IntentService
	logger  *slog.Logger
}

// NewIntentHandler creates an IntentHandler.
func NewIntentHandler(intents IntentService, logger *slog.Logger) *IntentHandler {
	return &IntentHandler{intents: intents, logger: logger}
}

type submitIntentRequest struct {
	AgentID       string  `json:"agent_id"`
	Direction     string  `json:"direction"`
	Instrument    string  `json:"instrument"`
	SizeUSD       int64   `json:"size_usd"`
	Leverage      int     `json:"leverage"`
	MaxSlipBps    int     `json:"max_slippage_bps"`
	MinCounterRep float64 `json:"min_counterparty_rep"`
	TTLSeconds    int     `json:"ttl_seconds"`
}

type intentResponse struct {
	ID          string `json:"id"`
	AgentID     string `json:"agent_id"`
	Direction   string `json:"direction"`
	Instrument  string `json:"instrument"`
	SizeUSD     int64  `json:"size_usd"`
	Leverage    int    `json:"leverage"`
	Status      string `json:"status"`
	MatchedWith string `json:"matched_with,omitempty"`
	RefPrice    int64  `json:"ref_price,omitempty"`
	CreatedAt   string `json:"created_at"`
	ExpiresAt   string `json:"expires_at"`
}

func toIntentResponse(in domain.TradingIntent) intentResponse {
	return intentResponse{
		ID:          in.ID,
		AgentID:     in.AgentID,
		Direction:   string(in.Direction),
		Instrument:  in.Instrument,
		SizeUSD:     in.SizeUSD,
		Leverage:    in.Leverage,
		Status:      string(in.Status),
		MatchedWith: in.MatchedWith,
		RefPrice:    in.RefPrice,
		CreatedAt:   in.CreatedAt.UTC().Format(time.RFC3339Nano),
		ExpiresAt:   in.ExpiresAt.UTC().Format(time.RFC3339Nano),
	}
}

// Submit records a new trading intent.
// POST /api/intents
func (h *IntentHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req submitIntentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.AgentID == "" {
		writeError(w, http.StatusBadRequest, "agent_id is required")
		return
	}

	params := registry.IntentParams{
		Direction:     domain.Direction(req.Direction),
		Instrument:    req.Instrument,
		SizeUSD:       req.SizeUSD,
		Leverage:      req.Leverage,
		MaxSlipBps:    req.MaxSlipBps,
		MinCounterRep: req.MinCounterRep,
		TTL:           time.Duration(req.TTLSeconds) * time.Second,
	}

	intent, retryAfter, err := h.intents.Submit(r.Context(), req.AgentID, params)
	if err != nil {
		h.logger.WarnContext(r.Context(), "handler: intent submission rejected",
			slog.String("agent_id", req.AgentID),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err, retryAfter)
		return
	}

	writeJSON(w, http.StatusCreated, toIntentResponse(intent))
}

// Cancel cancels an open intent.
// DELETE /api/intents/{id}
func (h *IntentHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing intent id")
		return
	}
	agentID := r.URL.Query().Get("agent_id")
	if agentID == "" {
		writeError(w, http.StatusBadRequest, "agent_id query parameter required")
		return
	}

	if err := h.intents.Cancel(r.Context(), agentID, id); err != nil {
		writeDomainError(w, err, 0)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "cancelled",
		"intent_id": id,
	})
}

// GetIntent returns a single intent by ID.
// GET /api/intents/{id}
func (h *IntentHandler) GetIntent(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing intent id")
		return
	}

	intent, err := h.intents.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, toIntentResponse(intent))
}

type listIntentsResponse struct {
	Intents []intentResponse `json:"intents"`
}

// ListIntents returns intents for an agent, or open intents for an instrument.
// GET /api/intents?agent_id=...  |  GET /api/intents?instrument=BTC-PERP
func (h *IntentHandler) ListIntents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	agentID := q.Get("agent_id")
	instrument := q.Get("instrument")

	if agentID == "" && instrument == "" {
		writeError(w, http.StatusBadRequest, "agent_id or instrument query parameter required")
		return
	}

	opts := parseListOpts(r)
	var (
		intents []domain.TradingIntent
		err     error
	)
	if agentID != "" {
		intents, err = h.intents.ListByAgent(r.Context(), agentID, opts)
	} else {
		intents, err = h.intents.ListOpen(r.Context(), instrument, opts)
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list intents failed",
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err, 0)
		return
	}

	resp := listIntentsResponse{Intents: make([]intentResponse, 0, len(intents))}
	for _, in := range intents {
		resp.Intents = append(resp.Intents, toIntentResponse(in))
	}
	writeJSON(w, http.StatusOK, resp)
}
