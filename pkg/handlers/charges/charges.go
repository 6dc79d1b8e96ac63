// Package charges serves the inbound collection endpoints.
package charges

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tidepay/ledger-engine/pkg/api"
	"github.com/tidepay/ledger-engine/pkg/collection"
	"github.com/tidepay/ledger-engine/pkg/handlers/httperr"
	"github.com/tidepay/ledger-engine/pkg/mapping"
)

// ChargesHandler holds the dependencies for charge-related handlers.
type ChargesHandler struct {
	Recorder *collection.Recorder
}

// NewChargesHandler creates a new ChargesHandler.
func NewChargesHandler(recorder *collection.Recorder) *ChargesHandler {
	return &ChargesHandler{Recorder: recorder}
}

// RecordCharge handles crediting a collected charge to a merchant's pending
// balance.
func (h *ChargesHandler) RecordCharge(w http.ResponseWriter, r *http.Request) {
	var newCharge api.NewCharge
	if err := json.NewDecoder(r.Body).Decode(&newCharge); err != nil {
		httperr.BadRequest(w, "Invalid request body: %v", err)
		return
	}

	balance, fees, err := h.Recorder.RecordCharge(r.Context(), mapping.ToDomainChargeRequest(&newCharge))
	if err != nil {
		httperr.Error(w, err)
		return
	}
	httperr.JSON(w, http.StatusCreated, mapping.ToApiChargeResult(balance, fees))
}

// ReverseCharge handles refunding a previously collected charge.
func (h *ChargesHandler) ReverseCharge(w http.ResponseWriter, r *http.Request) {
	chargeRef := chi.URLParam(r, "chargeRef")

	var body api.NewReversal
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httperr.BadRequest(w, "Invalid request body: %v", err)
		return
	}

	balance, err := h.Recorder.RecordReversal(r.Context(), collection.ReversalRequest{
		MerchantID: body.MerchantId,
		Currency:   body.Currency,
		Amount:     body.Amount,
		ChargeRef:  chargeRef,
		Settled:    body.Settled,
	})
	if err != nil {
		httperr.Error(w, err)
		return
	}
	httperr.JSON(w, http.StatusOK, mapping.ToApiBalance(balance))
}
