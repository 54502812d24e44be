package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/rwavault/internal/domain"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 64 << 10

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// errorResponse is the body of every non-2xx response.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

var errorCodes = []struct {
	err    error
	status int
	code   string
}{
	{domain.ErrUnknownAction, http.StatusBadRequest, "unknown_action"},
	{domain.ErrNotFound, http.StatusNotFound, "not_found"},
	{domain.ErrActionInProgress, http.StatusConflict, "action_in_progress"},
	{domain.ErrKycRequired, http.StatusUnprocessableEntity, "kyc_required"},
	{domain.ErrAssetLocked, http.StatusUnprocessableEntity, "asset_locked"},
	{domain.ErrInvalidAmount, http.StatusUnprocessableEntity, "invalid_amount"},
	{domain.ErrInvalidRate, http.StatusUnprocessableEntity, "invalid_rate"},
	{domain.ErrInsufficientBalance, http.StatusUnprocessableEntity, "insufficient_balance"},
	{domain.ErrInsufficientStaked, http.StatusUnprocessableEntity, "insufficient_staked"},
	{domain.ErrNotMatured, http.StatusUnprocessableEntity, "not_matured"},
	{domain.ErrNothingToClaim, http.StatusUnprocessableEntity, "nothing_to_claim"},
	{domain.ErrBelowMinInvestment, http.StatusUnprocessableEntity, "below_min_investment"},
	{domain.ErrAboveMaxInvestment, http.StatusUnprocessableEntity, "above_max_investment"},
	{domain.ErrApprovalFailed, http.StatusBadGateway, "approval_failed"},
	{domain.ErrContractCallRejected, http.StatusBadGateway, "contract_rejected"},
	{domain.ErrNetworkFailure, http.StatusGatewayTimeout, "network_failure"},
}

// statusFor maps a ledger error to its HTTP status and machine-readable code.
func statusFor(err error) (int, string) {
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			return e.status, e.code
		}
	}
	return http.StatusInternalServerError, "internal"
}

// writeDomainError renders err with the investor-facing message. Causes of
// external failures stay in the logs.
func writeDomainError(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	msg := domain.UserMessage(err)
	if errors.Is(err, domain.ErrUnknownAction) || errors.Is(err, domain.ErrNotFound) {
		msg = err.Error()
	}
	if status == http.StatusInternalServerError {
		msg = "internal server error"
	}
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

// decodeJSON reads a single JSON object from the request body into v.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// parseDecimal reads an optional decimal query parameter. Missing means zero.
func parseDecimal(r *http.Request, name string) (decimal.Decimal, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s must be a decimal number", name)
	}
	return d, nil
}

// parseListOpts extracts standard pagination parameters from the query string.
// Defaults: limit=50 (max 500), offset=0. since/until take RFC 3339.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	opts := domain.ListOpts{
		Limit:  limit,
		Offset: offset,
	}
	if t, err := time.Parse(time.RFC3339, q.Get("since")); err == nil {
		opts.Since = &t
	}
	if t, err := time.Parse(time.RFC3339, q.Get("until")); err == nil {
		opts.Until = &t
	}
	return opts
}

// pathParam extracts a named path parameter from the request using Go 1.22+
// built-in routing (http.Request.PathValue).
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}

// logHandler is a convenience to attach slog fields in handler code.
func logHandler(logger *slog.Logger, handler string) *slog.Logger {
	return logger.With(slog.String("handler", handler))
}
