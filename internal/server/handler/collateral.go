package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/VictorVVedtion/ai-perp-dex-sub001/internal/domain"
)

// CollateralService defines what the collateral handler requires from the
// service layer.
type CollateralService interface {
	Deposit(ctx context.Context, agentID string, amount int64) (string, time.Duration, error)
	Withdraw(ctx context.Context, agentID string, amount int64) (string, time.Duration, error)
	Balance(ctx context.Context, agentID string) (int64, error)
	Fees(ctx context.Context, agentID string, opts domain.ListOpts) ([]domain.FeeRecord, error)
}

// CollateralHandler serves collateral movement and balance endpoints.
type CollateralHandler struct {
	collateral CollateralService
	logger     *slog.Logger
}

// NewCollateralHandler creates a CollateralHandler.
func NewCollateralHandler(collateral CollateralService, logger *slog.Logger) *CollateralHandler {
	return &CollateralHandler{collateral: collateral, logger: logger}
}

type transferRequest struct {
	AgentID   string `json:"agent_id"`
	AmountUSD int64  `json:"amount_usd"`
}

type transferResponse struct {
	TxRef     string `json:"tx_ref"`
	AgentID   string `json:"agent_id"`
	AmountUSD int64  `json:"amount_usd"`
}

// Deposit credits an agent's collateral account.
// POST /api/collateral/deposit
func (h *CollateralHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	h.transfer(w, r, h.collateral.Deposit)
}

// Withdraw debits an agent's collateral account.
// POST /api/collateral/withdraw
func (h *CollateralHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	h.transfer(w, r, h.collateral.Withdraw)
}

func (h *CollateralHandler) transfer(
	w http.ResponseWriter,
	r *http.Request,
	op func(ctx context.Context, agentID string, amount int64) (string, time.Duration, error),
) {
	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.AgentID == "" {
		writeError(w, http.StatusBadRequest, "agent_id is required")
		return
	}

	txRef, retryAfter, err := op(r.Context(), req.AgentID, req.AmountUSD)
	if err != nil {
		h.logger.WarnContext(r.Context(), "handler: collateral transfer failed",
			slog.String("agent_id", req.AgentID),
			slog.Int64("amount_usd", req.AmountUSD),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err, retryAfter)
		return
	}

	writeJSON(w, http.StatusOK, transferResponse{
		TxRef:     txRef,
		AgentID:   req.AgentID,
		AmountUSD: req.AmountUSD,
	})
}

// Balance returns an agent's on-ledger collateral balance.
// GET /api/collateral/{agent_id}
func (h *CollateralHandler) Balance(w http.ResponseWriter, r *http.Request) {
	agentID := pathParam(r, "agent_id")
	if agentID == "" {
		writeError(w, http.StatusBadRequest, "missing agent id")
		return
	}

	balance, err := h.collateral.Balance(r.Context(), agentID)
	if err != nil {
		writeDomainError(w, err, 0)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"agent_id":    agentID,
		"balance_usd": balance,
	})
}

type feeRecordResponse struct {
	ID              string `json:"id"`
	Type            string `json:"type"`
	AmountUSD       int64  `json:"amount_usd"`
	Rate            string `json:"rate"`
	ScheduleVersion int    `json:"schedule_version"`
	Reference       string `json:"reference"`
	CreatedAt       string `json:"created_at"`
}

// Fees returns an agent's fee ledger entries, newest first.
// GET /api/collateral/{agent_id}/fees
func (h *CollateralHandler) Fees(w http.ResponseWriter, r *http.Request) {
	agentID := pathParam(r, "agent_id")
	if agentID == "" {
		writeError(w, http.StatusBadRequest, "missing agent id")
		return
	}

	records, err := h.collateral.Fees(r.Context(), agentID, parseListOpts(r))
	if err != nil {
		writeDomainError(w, err, 0)
		return
	}

	out := make([]feeRecordResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, feeRecordResponse{
			ID:              rec.ID,
			Type:            string(rec.Type),
			AmountUSD:       rec.AmountUSD,
			Rate:            rec.Rate,
			ScheduleVersion: rec.ScheduleVersion,
			Reference:       rec.Reference,
			CreatedAt:       rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"fees": out})
}
