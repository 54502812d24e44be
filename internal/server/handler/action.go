package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/rwavault/internal/domain"
	"github.com/alanyoungcy/rwavault/internal/payout"
)

// ActionService is the slice of the ledger the action endpoints drive.
type ActionService interface {
	Eligibility(ctx context.Context, action domain.ActionType, assetID string, amount decimal.Decimal) error
	Allowed(ctx context.Context, assetID string, amount decimal.Decimal) ([]domain.ActionType, error)
	Quote(ctx context.Context, assetID string, amount decimal.Decimal) (payout.Quote, error)
	State(assetID string, action domain.ActionType) domain.Invocation
	States(assetID string) []domain.Invocation
	Retry(ctx context.Context, assetID string, action domain.ActionType) (domain.AssetPosition, error)
	Execute(ctx context.Context, action domain.ActionType, assetID string, amount decimal.Decimal) (domain.Transaction, error)
}

// ActionHandler serves the eligibility, execution and retry endpoints.
type ActionHandler struct {
	ledger ActionService
	logger *slog.Logger
}

// NewActionHandler creates an ActionHandler.
func NewActionHandler(ledger ActionService, logger *slog.Logger) *ActionHandler {
	return &ActionHandler{ledger: ledger, logger: logHandler(logger, "action")}
}

type eligibilityResponse struct {
	AssetID  string            `json:"asset_id"`
	Action   domain.ActionType `json:"action"`
	Amount   decimal.Decimal   `json:"amount"`
	Eligible bool              `json:"eligible"`
	Reason   string            `json:"reason,omitempty"`
	Code     string            `json:"code,omitempty"`
}

// Eligibility reports whether an action would pass the gate right now.
// GET /api/assets/{id}/eligibility?action=CASHOUT&amount=100
func (h *ActionHandler) Eligibility(w http.ResponseWriter, r *http.Request) {
	assetID := pathParam(r, "id")
	action, err := domain.ParseAction(r.URL.Query().Get("action"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	amount, err := parseDecimal(r, "amount")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp := eligibilityResponse{AssetID: assetID, Action: action, Amount: amount, Eligible: true}
	if err := h.ledger.Eligibility(r.Context(), action, assetID, amount); err != nil {
		if !domain.IsGateError(err) && !isInProgress(err) {
			h.logger.ErrorContext(r.Context(), "handler: eligibility failed",
				slog.String("asset_id", assetID),
				slog.String("error", err.Error()),
			)
			writeDomainError(w, err)
			return
		}
		_, code := statusFor(err)
		resp.Eligible = false
		resp.Reason = domain.UserMessage(err)
		resp.Code = code
	}
	writeJSON(w, http.StatusOK, resp)
}

// Allowed lists the actions the gate would accept for amount.
// GET /api/assets/{id}/allowed?amount=100
func (h *ActionHandler) Allowed(w http.ResponseWriter, r *http.Request) {
	assetID := pathParam(r, "id")
	amount, err := parseDecimal(r, "amount")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	actions, err := h.ledger.Allowed(r.Context(), assetID, amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if actions == nil {
		actions = []domain.ActionType{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"asset_id": assetID, "actions": actions})
}

// Quote previews a purchase of amount.
// GET /api/assets/{id}/quote?amount=1000
func (h *ActionHandler) Quote(w http.ResponseWriter, r *http.Request) {
	amount, err := parseDecimal(r, "amount")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	q, err := h.ledger.Quote(r.Context(), pathParam(r, "id"), amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

type executeRequest struct {
	Action string          `json:"action"`
	Amount decimal.Decimal `json:"amount"`
}

type executeResponse struct {
	Transaction domain.Transaction `json:"transaction"`
	State       domain.Invocation  `json:"state"`
	Error       string             `json:"error,omitempty"`
	Code        string             `json:"code,omitempty"`
}

// Execute runs one action to completion. Refused and failed actions still
// return the recorded transaction next to the error.
// POST /api/assets/{id}/actions
func (h *ActionHandler) Execute(w http.ResponseWriter, r *http.Request) {
	assetID := pathParam(r, "id")

	var req executeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	action, err := domain.ParseAction(req.Action)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	tx, err := h.ledger.Execute(r.Context(), action, assetID, req.Amount)
	if err != nil && tx.ID == "" {
		h.logger.WarnContext(r.Context(), "handler: execute refused",
			slog.String("asset_id", assetID),
			slog.String("action", string(action)),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	resp := executeResponse{Transaction: tx, State: h.ledger.State(assetID, action)}
	status := http.StatusOK
	if err != nil {
		status, resp.Code = statusFor(err)
		resp.Error = domain.UserMessage(err)
	}
	writeJSON(w, status, resp)
}

// States returns the latest invocation of every action on the asset.
// GET /api/assets/{id}/actions
func (h *ActionHandler) States(w http.ResponseWriter, r *http.Request) {
	assetID := pathParam(r, "id")
	states := h.ledger.States(assetID)
	if states == nil {
		states = []domain.Invocation{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"asset_id": assetID, "states": states})
}

// Retry reloads the position and resets a FAILED action to INPUTTING.
// POST /api/assets/{id}/actions/{action}/retry
func (h *ActionHandler) Retry(w http.ResponseWriter, r *http.Request) {
	assetID := pathParam(r, "id")
	action, err := domain.ParseAction(pathParam(r, "action"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	pos, err := h.ledger.Retry(r.Context(), assetID, action)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"position": pos,
		"state":    h.ledger.State(assetID, action),
	})
}

func isInProgress(err error) bool {
	_, code := statusFor(err)
	return code == "action_in_progress"
}
