package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/rwavault/internal/domain"
)

// PositionService defines the methods that the position handler requires.
type PositionService interface {
	Account() string
	GetPosition(ctx context.Context, assetID string) (domain.AssetPosition, error)
	Refresh(ctx context.Context, assetID string) (domain.AssetPosition, error)
	Summary(ctx context.Context) (domain.PortfolioSummary, error)
	ListTransactions(ctx context.Context, assetID string, opts domain.ListOpts) ([]domain.Transaction, error)
}

// PositionHandler serves position and portfolio endpoints.
type PositionHandler struct {
	positions PositionService
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler with the given service and logger.
func NewPositionHandler(positions PositionService, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		positions: positions,
		logger:    logHandler(logger, "position"),
	}
}

// GetPosition returns the held position for one asset, loading it on first use.
// GET /api/assets/{id}/position
func (h *PositionHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	assetID := pathParam(r, "id")
	pos, err := h.positions.GetPosition(r.Context(), assetID)
	if err != nil {
		h.fail(w, r, "get position", assetID, err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

// RefreshPosition re-reads the position from the chain.
// POST /api/assets/{id}/refresh
func (h *PositionHandler) RefreshPosition(w http.ResponseWriter, r *http.Request) {
	assetID := pathParam(r, "id")
	pos, err := h.positions.Refresh(r.Context(), assetID)
	if err != nil {
		h.fail(w, r, "refresh position", assetID, err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

// Portfolio returns aggregate totals over every tracked asset.
// GET /api/portfolio
func (h *PositionHandler) Portfolio(w http.ResponseWriter, r *http.Request) {
	sum, err := h.positions.Summary(r.Context())
	if err != nil {
		h.fail(w, r, "portfolio summary", "", err)
		return
	}
	if sum.Positions == nil {
		sum.Positions = []domain.AssetPosition{}
	}
	writeJSON(w, http.StatusOK, sum)
}

type listTransactionsResponse struct {
	Account      string               `json:"account"`
	Transactions []domain.Transaction `json:"transactions"`
}

// ListTransactions returns the account's history, newest first.
// GET /api/transactions?asset=...&limit=50&offset=0
func (h *PositionHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	assetID := r.URL.Query().Get("asset")
	txs, err := h.positions.ListTransactions(r.Context(), assetID, parseListOpts(r))
	if err != nil {
		h.fail(w, r, "list transactions", assetID, err)
		return
	}
	if txs == nil {
		txs = []domain.Transaction{}
	}
	writeJSON(w, http.StatusOK, listTransactionsResponse{
		Account:      h.positions.Account(),
		Transactions: txs,
	})
}

func (h *PositionHandler) fail(w http.ResponseWriter, r *http.Request, op, assetID string, err error) {
	h.logger.ErrorContext(r.Context(), "handler: "+op+" failed",
		slog.String("asset_id", assetID),
		slog.String("error", err.Error()),
	)
	writeDomainError(w, err)
}
