// Package collection records inbound money movement: charges collected on
// behalf of merchants, their settlement into spendable funds, and reversals.
package collection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tidepay/ledger-engine/pkg/ledger"
	"github.com/tidepay/ledger-engine/pkg/metrics"
	"github.com/tidepay/ledger-engine/pkg/models"
	"github.com/tidepay/ledger-engine/pkg/settlement"
	"github.com/tidepay/ledger-engine/pkg/storage"
)

// ErrMissingChargeRef is returned when a charge or reversal carries no
// upstream reference to reconcile against.
var ErrMissingChargeRef = errors.New("charge reference required")

// ChargeRequest describes one inbound charge collected from a payer.
// GrossAmount is what the payer was charged; the merchant's pending bucket
// receives gross minus fees.
type ChargeRequest struct {
	MerchantID  string
	Currency    string
	GrossAmount int64
	ChargeRef   string
}

// ReversalRequest describes a refund of a previously collected charge.
// Settled indicates whether the charge already cleared into the available
// bucket, which decides which bucket the refund debits.
type ReversalRequest struct {
	MerchantID string
	Currency   string
	Amount     int64
	ChargeRef  string
	Settled    bool
}

// Recorder applies inbound collection activity to the balance store, with
// the balanced ledger entries written in the same atomic unit as each
// balance mutation.
type Recorder struct {
	Store storage.BalanceStore
	Fees  settlement.FeeCalculator
}

// NewRecorder constructs a Recorder.
func NewRecorder(store storage.BalanceStore, fees settlement.FeeCalculator) *Recorder {
	return &Recorder{Store: store, Fees: fees}
}

// RecordCharge credits the merchant's pending bucket with the charge net of
// fees and journals the collection.
func (r *Recorder) RecordCharge(ctx context.Context, req ChargeRequest) (*models.Balance, models.FeeBreakdown, error) {
	if req.GrossAmount <= 0 {
		return nil, models.FeeBreakdown{}, storage.ErrInvalidAmount
	}
	if req.ChargeRef == "" {
		return nil, models.FeeBreakdown{}, ErrMissingChargeRef
	}

	fees, err := r.Fees.Compute(ctx, req.MerchantID, req.GrossAmount, req.Currency, models.OperationKind("charge"))
	if err != nil {
		return nil, models.FeeBreakdown{}, fmt.Errorf("computing fees: %w", err)
	}

	rec := ledger.ChargeCollected(req.Currency, req.ChargeRef, req.GrossAmount, fees)
	balance, err := r.Store.CreditPending(ctx, req.MerchantID, req.Currency, fees.NetAmount, rec)
	if err != nil {
		return nil, models.FeeBreakdown{}, err
	}

	metrics.ChargesCollected.Inc()
	slog.Info("charge collected",
		"merchant_id", req.MerchantID,
		"charge_ref", req.ChargeRef,
		"currency", req.Currency,
		"gross_amount", req.GrossAmount,
		"net_amount", fees.NetAmount)
	return balance, fees, nil
}

// SettleCollections moves cleared funds from pending to available. A zero
// amount sweeps the whole pending bucket. The move is a bucket transfer
// inside the merchant's own balance account, so no ledger entries result.
func (r *Recorder) SettleCollections(ctx context.Context, merchantID, currency string, amount int64) (*models.Balance, int64, error) {
	if amount < 0 {
		return nil, 0, storage.ErrInvalidAmount
	}

	var (
		balance *models.Balance
		settled int64
		err     error
	)
	if amount == 0 {
		balance, settled, err = r.Store.SettleAllPending(ctx, merchantID, currency)
	} else {
		balance, err = r.Store.SettlePending(ctx, merchantID, currency, amount)
		settled = amount
	}
	if err != nil {
		return nil, 0, err
	}

	if settled > 0 {
		slog.Info("pending funds settled",
			"merchant_id", merchantID,
			"currency", currency,
			"amount", settled)
	}
	return balance, settled, nil
}

// RecordReversal refunds a collected charge out of the bucket it currently
// occupies and journals the reversal against processing revenue.
func (r *Recorder) RecordReversal(ctx context.Context, req ReversalRequest) (*models.Balance, error) {
	if req.Amount <= 0 {
		return nil, storage.ErrInvalidAmount
	}
	if req.ChargeRef == "" {
		return nil, ErrMissingChargeRef
	}

	rec := ledger.ChargeReversed(req.Currency, req.ChargeRef, req.Amount, req.Settled)
	debit := r.Store.DebitPending
	if req.Settled {
		debit = r.Store.DebitAvailable
	}
	balance, err := debit(ctx, req.MerchantID, req.Currency, req.Amount, rec)
	if err != nil {
		return nil, err
	}

	slog.Info("charge reversed",
		"merchant_id", req.MerchantID,
		"charge_ref", req.ChargeRef,
		"currency", req.Currency,
		"amount", req.Amount,
		"settled", req.Settled)
	return balance, nil
}
