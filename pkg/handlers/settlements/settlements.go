// Package settlements serves the settlement lifecycle endpoints.
package settlements

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	openapi_types "github.com/oapi-codegen/runtime/types"

	"github.com/tidepay/ledger-engine/pkg/api"
	"github.com/tidepay/ledger-engine/pkg/handlers/httperr"
	"github.com/tidepay/ledger-engine/pkg/mapping"
	"github.com/tidepay/ledger-engine/pkg/models"
	"github.com/tidepay/ledger-engine/pkg/settlement"
	"github.com/tidepay/ledger-engine/pkg/storage"
)

// SettlementsHandler holds the dependencies for settlement-related handlers.
type SettlementsHandler struct {
	Orchestrator *settlement.Orchestrator
	Store        storage.OperationReader
}

// NewSettlementsHandler creates a new SettlementsHandler.
func NewSettlementsHandler(orch *settlement.Orchestrator, store storage.OperationReader) *SettlementsHandler {
	return &SettlementsHandler{Orchestrator: orch, Store: store}
}

// CreateSettlement handles initiating a new settlement operation.
func (h *SettlementsHandler) CreateSettlement(w http.ResponseWriter, r *http.Request) {
	var newSettlement api.NewSettlement
	if err := json.NewDecoder(r.Body).Decode(&newSettlement); err != nil {
		httperr.BadRequest(w, "Invalid request body: %v", err)
		return
	}

	op, err := h.Orchestrator.Create(r.Context(), mapping.ToDomainCreateRequest(&newSettlement))
	if err != nil {
		httperr.Error(w, err)
		return
	}
	httperr.JSON(w, http.StatusCreated, mapping.ToApiSettlement(op))
}

// GetSettlementById handles retrieving a settlement operation by its ID.
func (h *SettlementsHandler) GetSettlementById(w http.ResponseWriter, r *http.Request, operationId openapi_types.UUID) {
	op, err := h.Store.GetOperation(r.Context(), operationId.String())
	if err != nil {
		httperr.Error(w, err)
		return
	}
	httperr.JSON(w, http.StatusOK, mapping.ToApiSettlement(op))
}

// CancelSettlement handles voiding a settlement operation.
func (h *SettlementsHandler) CancelSettlement(w http.ResponseWriter, r *http.Request, operationId openapi_types.UUID) {
	var body api.CancelSettlement
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			httperr.BadRequest(w, "Invalid request body: %v", err)
			return
		}
	}

	op, err := h.Orchestrator.Cancel(r.Context(), operationId.String(), body.Reason)
	if err != nil {
		httperr.Error(w, err)
		return
	}
	httperr.JSON(w, http.StatusOK, mapping.ToApiSettlement(op))
}

// ResolveSettlement handles a provider outcome callback for an operation.
func (h *SettlementsHandler) ResolveSettlement(w http.ResponseWriter, r *http.Request, operationId openapi_types.UUID) {
	var body api.ResolveSettlement
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httperr.BadRequest(w, "Invalid request body: %v", err)
		return
	}
	switch models.TransferStatus(body.Status) {
	case models.TransferSucceeded, models.TransferFailed, models.TransferPending:
	default:
		httperr.BadRequest(w, "unknown transfer status %q", body.Status)
		return
	}

	op, err := h.Orchestrator.Resolve(r.Context(), operationId.String(), mapping.ToDomainTransferResult(&body))
	if err != nil {
		httperr.Error(w, err)
		return
	}
	httperr.JSON(w, http.StatusOK, mapping.ToApiSettlement(op))
}

// ListMerchantSettlements handles retrieving a merchant's operations,
// optionally filtered by status.
func (h *SettlementsHandler) ListMerchantSettlements(w http.ResponseWriter, r *http.Request) {
	merchantID := chi.URLParam(r, "merchantId")
	status := models.OperationStatus(r.URL.Query().Get("status"))

	ops, err := h.Store.ListOperationsByMerchant(r.Context(), merchantID, status)
	if err != nil {
		httperr.Error(w, err)
		return
	}

	apiOps := make([]*api.Settlement, len(ops))
	for i := range ops {
		apiOps[i] = mapping.ToApiSettlement(&ops[i])
	}
	httperr.JSON(w, http.StatusOK, apiOps)
}
