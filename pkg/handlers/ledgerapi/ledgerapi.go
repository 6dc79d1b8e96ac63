// Package ledgerapi serves the journal and reconciliation read endpoints.
package ledgerapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	openapi_types "github.com/oapi-codegen/runtime/types"

	"github.com/tidepay/ledger-engine/pkg/handlers/httperr"
	"github.com/tidepay/ledger-engine/pkg/mapping"
	"github.com/tidepay/ledger-engine/pkg/models"
	"github.com/tidepay/ledger-engine/pkg/reconciliation"
	"github.com/tidepay/ledger-engine/pkg/storage"
)

const defaultRecentLimit = 50

// LedgerHandler holds the dependencies for journal read handlers.
type LedgerHandler struct {
	Store   storage.LedgerReader
	Auditor *reconciliation.Auditor
}

// NewLedgerHandler creates a new LedgerHandler.
func NewLedgerHandler(store storage.LedgerReader, auditor *reconciliation.Auditor) *LedgerHandler {
	return &LedgerHandler{Store: store, Auditor: auditor}
}

// GetTransaction handles retrieving every entry posted under one
// transaction id, with the balance verdict attached.
func (h *LedgerHandler) GetTransaction(w http.ResponseWriter, r *http.Request, transactionId openapi_types.UUID) {
	check, err := h.Auditor.ValidateTransactionBalance(r.Context(), transactionId.String())
	if err != nil {
		httperr.Error(w, err)
		return
	}
	entries, err := h.Store.ListEntriesByTransaction(r.Context(), transactionId.String())
	if err != nil {
		httperr.Error(w, err)
		return
	}

	httperr.JSON(w, http.StatusOK, map[string]any{
		"check":   check,
		"entries": mapping.ToApiLedgerEntries(entries),
	})
}

// ListMerchantEntries handles retrieving a merchant's journal window.
// Query parameters from and to are RFC 3339; to defaults to now and from to
// 24 hours before it.
func (h *LedgerHandler) ListMerchantEntries(w http.ResponseWriter, r *http.Request) {
	merchantID := chi.URLParam(r, "merchantId")

	to := time.Now().UTC()
	if raw := r.URL.Query().Get("to"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httperr.BadRequest(w, "invalid to timestamp: %v", err)
			return
		}
		to = parsed
	}
	from := to.Add(-24 * time.Hour)
	if raw := r.URL.Query().Get("from"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httperr.BadRequest(w, "invalid from timestamp: %v", err)
			return
		}
		from = parsed
	}
	if !from.Before(to) {
		httperr.BadRequest(w, "from must precede to")
		return
	}

	entries, err := h.Store.ListMerchantEntries(r.Context(), merchantID, from, to)
	if err != nil {
		httperr.Error(w, err)
		return
	}
	httperr.JSON(w, http.StatusOK, mapping.ToApiLedgerEntries(entries))
}

// ListRecentEntries handles the firehose view of the latest journal rows.
func (h *LedgerHandler) ListRecentEntries(w http.ResponseWriter, r *http.Request) {
	limit := int64(defaultRecentLimit)
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 32)
		if err != nil || parsed <= 0 {
			httperr.BadRequest(w, "invalid limit %q", raw)
			return
		}
		limit = parsed
	}

	entries, err := h.Store.ListRecentEntries(r.Context(), int32(limit))
	if err != nil {
		httperr.Error(w, err)
		return
	}
	httperr.JSON(w, http.StatusOK, mapping.ToApiLedgerEntries(entries))
}

// GetMerchantReconciliation handles an on-demand drift check across every
// currency the merchant holds. With account and currency query parameters it
// instead derives that single account's balance from the journal.
func (h *LedgerHandler) GetMerchantReconciliation(w http.ResponseWriter, r *http.Request) {
	merchantID := chi.URLParam(r, "merchantId")

	if account := r.URL.Query().Get("account"); account != "" {
		currency := r.URL.Query().Get("currency")
		if currency == "" {
			httperr.BadRequest(w, "currency is required for account reconciliation")
			return
		}
		accountType := models.AccountType(r.URL.Query().Get("type"))
		if accountType == "" {
			accountType = models.AccountAssets
		}
		report, err := h.Auditor.ReconcileAccount(r.Context(), merchantID, accountType, account, currency)
		if err != nil {
			httperr.Error(w, err)
			return
		}
		httperr.JSON(w, http.StatusOK, report)
		return
	}

	drifted, err := h.Auditor.ReconcileMerchant(r.Context(), merchantID)
	if err != nil {
		httperr.Error(w, err)
		return
	}
	httperr.JSON(w, http.StatusOK, map[string]any{
		"merchant_id": merchantID,
		"clean":       len(drifted) == 0,
		"drifts":      drifted,
	})
}
