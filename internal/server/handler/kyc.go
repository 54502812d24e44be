package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/rwavault/internal/domain"
)

// KycService reads and updates the account's verification state.
type KycService interface {
	Account() string
	KycStatus(ctx context.Context) (domain.KycStatus, error)
	SetKyc(ctx context.Context, status domain.KycStatus, reason string) (domain.KycRecord, error)
}

// KycHandler serves the identity-verification endpoints.
type KycHandler struct {
	kyc    KycService
	logger *slog.Logger
}

// NewKycHandler creates a KycHandler.
func NewKycHandler(kyc KycService, logger *slog.Logger) *KycHandler {
	return &KycHandler{kyc: kyc, logger: logHandler(logger, "kyc")}
}

// GetKyc returns the account's current status.
// GET /api/kyc
func (h *KycHandler) GetKyc(w http.ResponseWriter, r *http.Request) {
	status, err := h.kyc.KycStatus(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: kyc status failed", slog.String("error", err.Error()))
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"account": h.kyc.Account(), "status": status})
}

type setKycRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

// SetKyc records a status reported by the verification provider.
// PUT /api/kyc
func (h *KycHandler) SetKyc(w http.ResponseWriter, r *http.Request) {
	var req setKycRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	status := domain.KycStatus(strings.ToUpper(strings.TrimSpace(req.Status)))
	if !status.Valid() {
		writeError(w, http.StatusBadRequest, "unknown kyc status "+req.Status)
		return
	}
	rec, err := h.kyc.SetKyc(r.Context(), status, req.Reason)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: set kyc failed", slog.String("error", err.Error()))
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
