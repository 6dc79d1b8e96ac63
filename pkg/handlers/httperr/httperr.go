// Package httperr centralizes JSON responses and the mapping from domain
// errors to HTTP status codes, shared by every handler subpackage.
package httperr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/tidepay/ledger-engine/pkg/api"
	"github.com/tidepay/ledger-engine/pkg/collection"
	"github.com/tidepay/ledger-engine/pkg/reconciliation"
	"github.com/tidepay/ledger-engine/pkg/settlement"
	"github.com/tidepay/ledger-engine/pkg/storage"
)

// StatusFor maps a domain error to its HTTP status code.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, storage.ErrInsufficientBalance),
		errors.Is(err, storage.ErrInsufficientPending),
		errors.Is(err, storage.ErrInsufficientReserved):
		return http.StatusUnprocessableEntity
	case errors.Is(err, storage.ErrInvalidAmount),
		errors.Is(err, settlement.ErrCurrencyMismatch),
		errors.Is(err, settlement.ErrInvalidFXRate),
		errors.Is(err, settlement.ErrInvalidKind),
		errors.Is(err, collection.ErrMissingChargeRef):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrBalanceNotFound),
		errors.Is(err, storage.ErrOperationNotFound),
		errors.Is(err, reconciliation.ErrTransactionNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrConcurrentModification),
		errors.Is(err, storage.ErrOperationNotCancellable),
		errors.Is(err, storage.ErrInvalidTransition):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// JSON writes v as a JSON response with the given status.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, fmt.Sprintf("Failed to write response: %v", err), http.StatusInternalServerError)
	}
}

// Error writes err as a JSON error body with its mapped status.
func Error(w http.ResponseWriter, err error) {
	JSON(w, StatusFor(err), api.Error{Message: err.Error()})
}

// BadRequest writes a 400 with the given message.
func BadRequest(w http.ResponseWriter, format string, args ...any) {
	JSON(w, http.StatusBadRequest, api.Error{Message: fmt.Sprintf(format, args...)})
}
