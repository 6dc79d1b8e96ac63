// Package balances serves the merchant balance endpoints.
package balances

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tidepay/ledger-engine/pkg/api"
	"github.com/tidepay/ledger-engine/pkg/collection"
	"github.com/tidepay/ledger-engine/pkg/handlers/httperr"
	"github.com/tidepay/ledger-engine/pkg/mapping"
	"github.com/tidepay/ledger-engine/pkg/storage"
)

// BalancesHandler holds the dependencies for balance-related handlers.
type BalancesHandler struct {
	Store    storage.BalanceStore
	Recorder *collection.Recorder
}

// NewBalancesHandler creates a new BalancesHandler.
func NewBalancesHandler(store storage.BalanceStore, recorder *collection.Recorder) *BalancesHandler {
	return &BalancesHandler{Store: store, Recorder: recorder}
}

// CreateBalance handles opening (or fetching) a merchant-currency balance.
func (h *BalancesHandler) CreateBalance(w http.ResponseWriter, r *http.Request) {
	merchantID := chi.URLParam(r, "merchantId")

	var body struct {
		Currency string `json:"currency"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httperr.BadRequest(w, "Invalid request body: %v", err)
		return
	}
	if body.Currency == "" {
		httperr.BadRequest(w, "currency is required")
		return
	}

	balance, err := h.Store.GetOrCreateBalance(r.Context(), merchantID, body.Currency)
	if err != nil {
		httperr.Error(w, err)
		return
	}
	httperr.JSON(w, http.StatusCreated, mapping.ToApiBalance(balance))
}

// GetBalance handles retrieving one merchant-currency balance.
func (h *BalancesHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	merchantID := chi.URLParam(r, "merchantId")
	currency := chi.URLParam(r, "currency")

	balance, err := h.Store.GetBalance(r.Context(), merchantID, currency)
	if err != nil {
		httperr.Error(w, err)
		return
	}
	httperr.JSON(w, http.StatusOK, mapping.ToApiBalance(balance))
}

// ListBalances handles retrieving every balance a merchant holds.
func (h *BalancesHandler) ListBalances(w http.ResponseWriter, r *http.Request) {
	merchantID := chi.URLParam(r, "merchantId")

	domainBalances, err := h.Store.ListBalances(r.Context(), merchantID)
	if err != nil {
		httperr.Error(w, err)
		return
	}

	apiBalances := make([]*api.Balance, len(domainBalances))
	for i := range domainBalances {
		apiBalances[i] = mapping.ToApiBalance(&domainBalances[i])
	}
	httperr.JSON(w, http.StatusOK, apiBalances)
}

// SettlePending handles moving cleared funds from pending to available.
func (h *BalancesHandler) SettlePending(w http.ResponseWriter, r *http.Request) {
	merchantID := chi.URLParam(r, "merchantId")
	currency := chi.URLParam(r, "currency")

	var body api.SettlePending
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			httperr.BadRequest(w, "Invalid request body: %v", err)
			return
		}
	}

	balance, settled, err := h.Recorder.SettleCollections(r.Context(), merchantID, currency, body.Amount)
	if err != nil {
		httperr.Error(w, err)
		return
	}
	httperr.JSON(w, http.StatusOK, api.SettlePendingResult{
		Balance: mapping.ToApiBalance(balance),
		Settled: settled,
	})
}
