package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/vendalog/order-engine/internal/domain"
)

// errorBody is the canonical error envelope:
// {"error": {"code": "...", "message": "...", ...details}}
type errorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	SKU       string `json:"sku,omitempty"`
	Requested int    `json:"requested,omitempty"`
	Available int    `json:"available,omitempty"`
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErrorCode(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{"error": errorBody{Code: code, Message: message}})
}

// writeDomainError maps the error taxonomy onto HTTP statuses. Business
// errors are logged at this boundary, never inside the core.
func writeDomainError(w http.ResponseWriter, log *zap.Logger, err error) {
	var (
		notFound   *domain.NotFoundError
		stock      *domain.InsufficientStockError
		transition *domain.InvalidTransitionError
		rule       *domain.RuleViolationError
	)
	switch {
	case errors.As(err, &notFound):
		log.Warn("entity not found", zap.Error(err))
		writeErrorCode(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, domain.ErrDuplicateRequest):
		log.Info("duplicate request", zap.Error(err))
		writeErrorCode(w, http.StatusConflict, "duplicate_request", err.Error())
	case errors.As(err, &stock):
		log.Warn("insufficient stock", zap.Error(err))
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"error": errorBody{
			Code:      "insufficient_stock",
			Message:   err.Error(),
			SKU:       stock.SKU,
			Requested: stock.Requested,
			Available: stock.Available,
		}})
	case errors.As(err, &transition):
		log.Warn("invalid state transition", zap.Error(err))
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"error": errorBody{
			Code:    "invalid_state_transition",
			Message: err.Error(),
			From:    transition.From,
			To:      transition.To,
		}})
	case errors.As(err, &rule):
		log.Warn("business rule violation", zap.Error(err))
		writeErrorCode(w, http.StatusUnprocessableEntity, "business_rule_violation", err.Error())
	default:
		log.Error("unhandled error", zap.Error(err))
		writeErrorCode(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
