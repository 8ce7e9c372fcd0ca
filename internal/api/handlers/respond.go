// Package handlers provides the HTTP handlers of the pharmacy API.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mutuellesante/go-officine/internal/domain/fulfillment"
	"github.com/mutuellesante/go-officine/internal/domain/prescription"
	"github.com/mutuellesante/go-officine/internal/domain/stock"
	"github.com/mutuellesante/go-officine/internal/service"
	"github.com/mutuellesante/go-officine/internal/store"
)

// Error codes surfaced to API clients.
const (
	codeInvalidTransition = "INVALID_TRANSITION"
	codeValidation        = "VALIDATION_ERROR"
	codeInsufficientStock = "INSUFFICIENT_STOCK"
	codeDuplicateItem     = "DUPLICATE_ITEM"
	codeNotFound          = "NOT_FOUND"
	codeForbidden         = "FORBIDDEN"
	codeConflict          = "CONFLICT"
	codeInternal          = "INTERNAL"
)

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeErrorCode(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: message, Code: code})
}

// writeError maps domain errors to HTTP status codes and stable error codes.
// Anything unrecognized is reported as internal without leaking its message.
func writeError(w http.ResponseWriter, err error) {
	var (
		invalidTransition *fulfillment.InvalidTransitionError
		validation        *fulfillment.ValidationError
		stockValidation   *stock.ValidationError
		invalidAmount     *stock.InvalidAmountError
		insufficient      *stock.InsufficientStockError
		duplicate         *stock.DuplicateItemError
	)

	switch {
	case errors.As(err, &invalidTransition):
		writeErrorCode(w, http.StatusConflict, codeInvalidTransition, err.Error())
	case errors.As(err, &validation), errors.As(err, &stockValidation), errors.As(err, &invalidAmount):
		writeErrorCode(w, http.StatusBadRequest, codeValidation, err.Error())
	case errors.As(err, &insufficient):
		writeErrorCode(w, http.StatusConflict, codeInsufficientStock, err.Error())
	case errors.As(err, &duplicate):
		writeErrorCode(w, http.StatusConflict, codeDuplicateItem, err.Error())
	case errors.Is(err, store.ErrNotFound), errors.Is(err, prescription.ErrNotFound):
		writeErrorCode(w, http.StatusNotFound, codeNotFound, "not found")
	case errors.Is(err, service.ErrForbidden):
		writeErrorCode(w, http.StatusForbidden, codeForbidden, "forbidden")
	case errors.Is(err, store.ErrStaleState):
		writeErrorCode(w, http.StatusConflict, codeConflict, "record changed concurrently, retry")
	default:
		writeErrorCode(w, http.StatusInternalServerError, codeInternal, "internal server error")
	}
}

// rejectionReason labels a rejected transition for metrics.
func rejectionReason(err error) string {
	var (
		invalidTransition *fulfillment.InvalidTransitionError
		validation        *fulfillment.ValidationError
		insufficient      *stock.InsufficientStockError
	)
	switch {
	case errors.As(err, &invalidTransition):
		return "invalid_transition"
	case errors.As(err, &validation):
		return "validation"
	case errors.As(err, &insufficient):
		return "insufficient_stock"
	case errors.Is(err, store.ErrNotFound), errors.Is(err, prescription.ErrNotFound):
		return "not_found"
	default:
		return "other"
	}
}
