// Package handlers wires the HTTP surface: one chi router composed from the
// per-resource handler subpackages.
package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tidepay/ledger-engine/pkg/collection"
	"github.com/tidepay/ledger-engine/pkg/handlers/balances"
	"github.com/tidepay/ledger-engine/pkg/handlers/charges"
	"github.com/tidepay/ledger-engine/pkg/handlers/httperr"
	"github.com/tidepay/ledger-engine/pkg/handlers/ledgerapi"
	"github.com/tidepay/ledger-engine/pkg/handlers/settlements"
	"github.com/tidepay/ledger-engine/pkg/middleware"
	"github.com/tidepay/ledger-engine/pkg/reconciliation"
	"github.com/tidepay/ledger-engine/pkg/settlement"
	"github.com/tidepay/ledger-engine/pkg/storage"
)

// Deps holds everything the HTTP surface needs.
type Deps struct {
	Store        storage.Storage
	Orchestrator *settlement.Orchestrator
	Recorder     *collection.Recorder
	Auditor      *reconciliation.Auditor
	Logger       *slog.Logger
}

// NewRouter builds the engine's full route table.
func NewRouter(deps Deps) *chi.Mux {
	balancesHandler := balances.NewBalancesHandler(deps.Store, deps.Recorder)
	chargesHandler := charges.NewChargesHandler(deps.Recorder)
	settlementsHandler := settlements.NewSettlementsHandler(deps.Orchestrator, deps.Store)
	ledgerHandler := ledgerapi.NewLedgerHandler(deps.Store, deps.Auditor)

	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.Recoverer)
	router.Use(middleware.RequestLogger(deps.Logger))

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	router.Method(http.MethodGet, "/metrics", promhttp.Handler())

	router.Route("/merchants/{merchantId}", func(r chi.Router) {
		r.Post("/balances", balancesHandler.CreateBalance)
		r.Get("/balances", balancesHandler.ListBalances)
		r.Get("/balances/{currency}", balancesHandler.GetBalance)
		r.Post("/balances/{currency}/settle", balancesHandler.SettlePending)
		r.Get("/settlements", settlementsHandler.ListMerchantSettlements)
		r.Get("/ledger", ledgerHandler.ListMerchantEntries)
		r.Get("/reconciliation", ledgerHandler.GetMerchantReconciliation)
	})

	router.Route("/charges", func(r chi.Router) {
		r.Post("/", chargesHandler.RecordCharge)
		r.Post("/{chargeRef}/reverse", chargesHandler.ReverseCharge)
	})

	router.Route("/settlements", func(r chi.Router) {
		r.Post("/", settlementsHandler.CreateSettlement)
		r.Get("/{operationId}", withOperationId(settlementsHandler.GetSettlementById))
		r.Post("/{operationId}/cancel", withOperationId(settlementsHandler.CancelSettlement))
		r.Post("/{operationId}/resolve", withOperationId(settlementsHandler.ResolveSettlement))
	})

	router.Route("/ledger", func(r chi.Router) {
		r.Get("/recent", ledgerHandler.ListRecentEntries)
		r.Get("/transactions/{transactionId}", withUUIDParam("transactionId", ledgerHandler.GetTransaction))
	})

	return router
}

// withOperationId parses the operationId path parameter into a UUID before
// dispatching, rejecting malformed ids up front.
func withOperationId(next func(http.ResponseWriter, *http.Request, uuid.UUID)) http.HandlerFunc {
	return withUUIDParam("operationId", next)
}

func withUUIDParam(name string, next func(http.ResponseWriter, *http.Request, uuid.UUID)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, name))
		if err != nil {
			httperr.BadRequest(w, "invalid %s: %v", name, err)
			return
		}
		next(w, r, id)
	}
}
