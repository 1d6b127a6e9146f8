package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/VictorVVedtion/ai-perp-dex-sub001/internal/domain"
)

// TradeService defines what the trade handler requires from the service layer.
type TradeService interface {
	Accept(ctx context.Context, agentID, intentID, candidateID string) (domain.Match, time.Duration, error)
	Close(ctx context.Context, agentID, positionID string) (domain.Position, error)
	Position(ctx context.Context, positionID string) (domain.Position, error)
	OpenPosition(ctx context.Context, owner, instrument string) (domain.Position, error)
}

// TradeHandler serves match acceptance and position endpoints.
type TradeHandler struct {
	trades TradeService
	logger *slog.Logger
}

// NewTradeHandler creates a TradeHandler.
func NewTradeHandler(trades TradeService, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{trades: trades, logger: logger}
}

type acceptRequest struct {
	AgentID     string `json:"agent_id"`
	IntentID    string `json:"intent_id"`
	CandidateID string `json:"candidate_id,omitempty"`
}

type matchResponse struct {
	ID          string `json:"id"`
	TakerIntent string `json:"taker_intent"`
	MakerIntent string `json:"maker_intent"`
	Instrument  string `json:"instrument"`
	SizeUSD     int64  `json:"size_usd"`
	ExecPrice   int64  `json:"exec_price"`
	Status      string `json:"status"`
	LedgerTxRef string `json:"ledger_tx_ref,omitempty"`
}

func toMatchResponse(m domain.Match) matchResponse {
	return matchResponse{
		ID:          m.ID,
		TakerIntent: m.TakerIntent,
		MakerIntent: m.MakerIntent,
		Instrument:  m.Instrument,
		SizeUSD:     m.SizeUSD,
		ExecPrice:   m.ExecPrice,
		Status:      string(m.Status),
		LedgerTxRef: m.LedgerTxRef,
	}
}

type positionResponse struct {
	ID          string `json:"id"`
	AgentID     string `json:"agent_id"`
	Owner       string `json:"owner"`
	Instrument  string `json:"instrument"`
	Direction   string `json:"direction"`
	SizeUSD     int64  `json:"size_usd"`
	Leverage    int    `json:"leverage"`
	EntryPrice  int64  `json:"entry_price"`
	Margin      int64  `json:"margin"`
	LiqPrice    int64  `json:"liq_price"`
	Status      string `json:"status"`
	Risk        string `json:"risk"`
	ExitPrice   *int64 `json:"exit_price,omitempty"`
	RealizedPnL *int64 `json:"realized_pnl,omitempty"`
}

func toPositionResponse(p domain.Position) positionResponse {
	return positionResponse{
		ID:          p.ID,
		AgentID:     p.AgentID,
		Owner:       p.Owner,
		Instrument:  p.Instrument,
		Direction:   string(p.Direction()),
		SizeUSD:     p.SizeUSD,
		Leverage:    p.Leverage,
		EntryPrice:  p.EntryPrice,
		Margin:      p.Margin,
		LiqPrice:    p.LiqPrice,
		Status:      string(p.Status),
		Risk:        string(p.Risk),
		ExitPrice:   p.ExitPrice,
		RealizedPnL: p.RealizedPnL,
	}
}

// Accept matches an intent and settles the match on the ledger.
// POST /api/trade/accept
func (h *TradeHandler) Accept(w http.ResponseWriter, r *http.Request) {
	var req acceptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.AgentID == "" || req.IntentID == "" {
		writeError(w, http.StatusBadRequest, "agent_id and intent_id are required")
		return
	}

	match, retryAfter, err := h.trades.Accept(r.Context(), req.AgentID, req.IntentID, req.CandidateID)
	if err != nil {
		h.logger.WarnContext(r.Context(), "handler: trade accept failed",
			slog.String("agent_id", req.AgentID),
			slog.String("intent_id", req.IntentID),
			slog.String("error", err.Error()),
		)
		// A failed settlement still carries the match record for inspection.
		if match.ID != "" {
			writeJSON(w, http.StatusConflict, toMatchResponse(match))
			return
		}
		writeDomainError(w, err, retryAfter)
		return
	}

	writeJSON(w, http.StatusOK, toMatchResponse(match))
}

type closeRequest struct {
	AgentID    string `json:"agent_id"`
	PositionID string `json:"position_id"`
}

// Close fully closes a position at the current mark price.
// POST /api/positions/close
func (h *TradeHandler) Close(w http.ResponseWriter, r *http.Request) {
	var req closeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.AgentID == "" || req.PositionID == "" {
		writeError(w, http.StatusBadRequest, "agent_id and position_id are required")
		return
	}

	pos, err := h.trades.Close(r.Context(), req.AgentID, req.PositionID)
	if err != nil {
		h.logger.WarnContext(r.Context(), "handler: position close failed",
			slog.String("position_id", req.PositionID),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err, 0)
		return
	}

	writeJSON(w, http.StatusOK, toPositionResponse(pos))
}

// GetPosition returns a position by ID.
// GET /api/positions/{id}
func (h *TradeHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing position id")
		return
	}

	pos, err := h.trades.Position(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, toPositionResponse(pos))
}

// GetOpenPosition returns the live position for an owner and instrument.
// GET /api/positions/open/{owner}/{instrument}
func (h *TradeHandler) GetOpenPosition(w http.ResponseWriter, r *http.Request) {
	owner := pathParam(r, "owner")
	instrument := pathParam(r, "instrument")
	if owner == "" || instrument == "" {
		writeError(w, http.StatusBadRequest, "missing owner or instrument")
		return
	}

	pos, err := h.trades.OpenPosition(r.Context(), owner, instrument)
	if err != nil {
		writeDomainError(w, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, toPositionResponse(pos))
}
