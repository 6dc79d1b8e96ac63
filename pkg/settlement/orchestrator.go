package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tidepay/ledger-engine/pkg/ledger"
	"github.com/tidepay/ledger-engine/pkg/metrics"
	"github.com/tidepay/ledger-engine/pkg/models"
	"github.com/tidepay/ledger-engine/pkg/scheduler"
	"github.com/tidepay/ledger-engine/pkg/storage"
)

// DefaultMaxAttempts bounds how many dispatch attempts an operation gets
// before a retryable provider failure becomes terminal.
const DefaultMaxAttempts = 3

var (
	// ErrCurrencyMismatch is returned when the beneficiary's currency does
	// not match the settlement currency, or an FX trade names an invalid
	// counter currency.
	ErrCurrencyMismatch = errors.New("currency mismatch")

	// ErrInvalidFXRate is returned when an FX trade carries a non-positive
	// conversion rate or would convert to a non-positive amount.
	ErrInvalidFXRate = errors.New("invalid fx rate")

	// ErrInvalidKind is returned for an operation kind the engine does not
	// recognise.
	ErrInvalidKind = errors.New("unknown operation kind")
)

// CreateRequest describes one settlement to initiate. GrossAmount is the
// amount headed to the beneficiary; the fee is reserved on top of it.
type CreateRequest struct {
	MerchantID          string
	Currency            string
	Kind                models.OperationKind
	GrossAmount         int64
	BeneficiaryRef      string
	BeneficiaryCurrency string

	// FX trades only.
	CounterCurrency string
	FXRateNum       int64
	FXRateDen       int64
}

// Orchestrator drives the settlement lifecycle: reserve funds and persist
// the operation, dispatch the transfer to the provider, then resolve the
// outcome exactly once. Every state change goes through the OperationStore,
// which pairs it atomically with the matching balance mutation and ledger
// entries.
type Orchestrator struct {
	Store       storage.OperationStore
	Fees        FeeCalculator
	Gateway     ProviderGateway
	Scheduler   scheduler.Scheduler
	MaxAttempts int64
}

// NewOrchestrator constructs an Orchestrator with the default attempt cap.
// Scheduler may be nil, in which case callers drive Dispatch directly.
func NewOrchestrator(store storage.OperationStore, fees FeeCalculator, gateway ProviderGateway, sched scheduler.Scheduler) *Orchestrator {
	return &Orchestrator{
		Store:       store,
		Fees:        fees,
		Gateway:     gateway,
		Scheduler:   sched,
		MaxAttempts: DefaultMaxAttempts,
	}
}

// Create validates the request, computes fees, atomically reserves
// gross + fee from the merchant's available balance and persists the
// operation in RESERVED, then enqueues the dispatch job. The reservation
// and the operation commit or fail together; the enqueue is best-effort
// because the stuck-operation monitor will pick up anything left behind.
func (o *Orchestrator) Create(ctx context.Context, req CreateRequest) (*models.SettlementOperation, error) {
	if req.GrossAmount <= 0 {
		return nil, storage.ErrInvalidAmount
	}
	switch req.Kind {
	case models.KindPayout, models.KindDisbursement, models.KindRefund, models.KindFXTrade:
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidKind, req.Kind)
	}
	if req.BeneficiaryCurrency != "" && req.BeneficiaryCurrency != req.Currency {
		return nil, fmt.Errorf("%w: beneficiary expects %s, settlement is %s",
			ErrCurrencyMismatch, req.BeneficiaryCurrency, req.Currency)
	}
	if req.Kind == models.KindFXTrade {
		if req.CounterCurrency == "" || req.CounterCurrency == req.Currency {
			return nil, fmt.Errorf("%w: fx trade requires a distinct counter currency", ErrCurrencyMismatch)
		}
		if req.FXRateNum <= 0 || req.FXRateDen <= 0 {
			return nil, ErrInvalidFXRate
		}
	}

	fees, err := o.Fees.Compute(ctx, req.MerchantID, req.GrossAmount, req.Currency, req.Kind)
	if err != nil {
		return nil, fmt.Errorf("computing fees: %w", err)
	}

	op := &models.SettlementOperation{
		MerchantId:          req.MerchantID,
		Currency:            req.Currency,
		Kind:                req.Kind,
		GrossAmount:         req.GrossAmount,
		FeeAmount:           fees.TotalFee,
		NetAmount:           req.GrossAmount,
		ReservedAmount:      req.GrossAmount + fees.TotalFee,
		BeneficiaryRef:      req.BeneficiaryRef,
		BeneficiaryCurrency: req.BeneficiaryCurrency,
		CounterCurrency:     req.CounterCurrency,
		FXRateNum:           req.FXRateNum,
		FXRateDen:           req.FXRateDen,
	}
	if req.Kind == models.KindFXTrade && op.ConvertedAmount() <= 0 {
		return nil, fmt.Errorf("%w: %d %s converts to nothing", ErrInvalidFXRate, req.GrossAmount, req.Currency)
	}

	created, err := o.Store.CreateOperation(ctx, op)
	if err != nil {
		return nil, err
	}

	if o.Scheduler != nil {
		job := scheduler.DispatchJob{
			OperationID: created.Id,
			MerchantID:  created.MerchantId,
			Attempt:     1,
		}
		if err := o.Scheduler.ScheduleDispatch(ctx, job); err != nil {
			// Funds are held and the operation is durable; the monitor
			// re-drives RESERVED operations that never got dispatched.
			slog.Error("CRITICAL: failed to enqueue dispatch for reserved operation",
				"operation_id", created.Id, "error", err)
		}
	}

	slog.Info("settlement operation created",
		"operation_id", created.Id,
		"merchant_id", created.MerchantId,
		"kind", created.Kind,
		"currency", created.Currency,
		"reserved_amount", created.ReservedAmount)
	return created, nil
}

// Dispatch moves a RESERVED operation to IN_TRANSIT and calls the provider.
// Synchronous provider outcomes resolve immediately; a pending outcome
// leaves the operation IN_TRANSIT for a later Resolve. Redelivered jobs for
// operations that already moved on are no-ops.
func (o *Orchestrator) Dispatch(ctx context.Context, opID string) (*models.SettlementOperation, error) {
	op, err := o.Store.MarkInTransit(ctx, opID)
	if errors.Is(err, storage.ErrInvalidTransition) {
		// Duplicate delivery or a concurrent worker: whoever moved the
		// operation owns it now.
		current, getErr := o.Store.GetOperation(ctx, opID)
		if getErr != nil {
			return nil, getErr
		}
		slog.Info("skipping dispatch, operation already moved",
			"operation_id", opID, "status", current.Status)
		return current, nil
	}
	if err != nil {
		return nil, err
	}

	result, err := o.Gateway.Transfer(ctx, op)
	if err != nil {
		metrics.DispatchAttempts.WithLabelValues("error").Inc()
		slog.Warn("provider transfer errored", "operation_id", op.Id, "error", err)
		return o.resolveFailure(ctx, op, models.TransferResult{
			Status:    models.TransferFailed,
			Retryable: true,
			Error:     err.Error(),
		})
	}

	metrics.DispatchAttempts.WithLabelValues(string(result.Status)).Inc()
	switch result.Status {
	case models.TransferSucceeded:
		return o.resolveSuccess(ctx, op, result.ProviderReference)
	case models.TransferFailed:
		return o.resolveFailure(ctx, op, result)
	default:
		slog.Info("transfer pending provider confirmation",
			"operation_id", op.Id, "provider_reference", result.ProviderReference)
		return op, nil
	}
}

// Resolve applies a provider outcome (webhook callback, monitor poll) to an
// operation. Resolving an already-terminal operation is a no-op returning
// the stored state, so providers may deliver outcomes more than once.
func (o *Orchestrator) Resolve(ctx context.Context, opID string, result models.TransferResult) (*models.SettlementOperation, error) {
	op, err := o.Store.GetOperation(ctx, opID)
	if err != nil {
		return nil, err
	}
	if op.Terminal() {
		return op, nil
	}

	switch result.Status {
	case models.TransferSucceeded:
		return o.resolveSuccess(ctx, op, result.ProviderReference)
	case models.TransferFailed:
		return o.resolveFailure(ctx, op, result)
	default:
		return op, nil
	}
}

// Cancel voids a RESERVED or IN_TRANSIT operation, releasing its hold back
// to the merchant's available balance. Cancelling a COMPLETED or FAILED
// operation fails with ErrOperationNotCancellable; cancelling an
// already-cancelled one is a no-op.
func (o *Orchestrator) Cancel(ctx context.Context, opID, reason string) (*models.SettlementOperation, error) {
	if reason == "" {
		reason = "cancelled by request"
	}
	op, applied, err := o.Store.FailOperation(ctx, opID, models.CANCELLED, reason)
	if err != nil {
		return nil, err
	}
	if applied {
		metrics.SettlementsResolved.WithLabelValues(string(op.Kind), string(models.CANCELLED)).Inc()
		slog.Info("settlement operation cancelled", "operation_id", opID, "reason", reason)
	}
	return op, nil
}

// resolveSuccess completes the operation: the reserved hold is processed out
// of the platform and the settlement entries (both FX legs for trades) are
// recorded atomically with the status change.
func (o *Orchestrator) resolveSuccess(ctx context.Context, op *models.SettlementOperation, providerRef string) (*models.SettlementOperation, error) {
	var rec, fxLeg *models.TransactionRecord
	if op.Kind == models.KindFXTrade {
		rec = ledger.FXSourceLeg(op)
		fxLeg = ledger.FXTargetLeg(op, op.ConvertedAmount())
	} else {
		rec = ledger.PayoutSettled(op)
	}

	updated, applied, err := o.Store.CompleteOperation(ctx, op.Id, providerRef, rec, fxLeg)
	if err != nil {
		return nil, err
	}
	if applied {
		metrics.SettlementsResolved.WithLabelValues(string(updated.Kind), string(models.COMPLETED)).Inc()
		slog.Info("settlement operation completed",
			"operation_id", updated.Id,
			"merchant_id", updated.MerchantId,
			"provider_reference", providerRef)
	}
	return updated, nil
}

// resolveFailure either requeues a retryable failure for another attempt or
// fails the operation terminally, releasing its reservation.
func (o *Orchestrator) resolveFailure(ctx context.Context, op *models.SettlementOperation, result models.TransferResult) (*models.SettlementOperation, error) {
	maxAttempts := o.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	if result.Retryable && op.AttemptCount < maxAttempts {
		requeued, err := o.Store.RequeueOperation(ctx, op.Id, result.Error)
		if errors.Is(err, storage.ErrInvalidTransition) {
			// Late duplicate: the operation already left IN_TRANSIT, so a
			// requeue or resolve raced this callback and owns the outcome.
			slog.Info("skipping requeue, operation already moved", "operation_id", op.Id)
			return o.Store.GetOperation(ctx, op.Id)
		}
		if err != nil {
			return nil, err
		}
		if o.Scheduler != nil {
			job := scheduler.DispatchJob{
				OperationID: requeued.Id,
				MerchantID:  requeued.MerchantId,
				Attempt:     requeued.AttemptCount + 1,
			}
			if err := o.Scheduler.ScheduleDispatch(ctx, job); err != nil {
				slog.Error("CRITICAL: failed to re-enqueue dispatch",
					"operation_id", requeued.Id, "error", err)
			}
		}
		slog.Warn("transfer failed, requeued for retry",
			"operation_id", op.Id,
			"attempt", op.AttemptCount,
			"error", result.Error)
		return requeued, nil
	}

	reason := result.Error
	if reason == "" {
		reason = "provider rejected transfer"
	}
	if result.Retryable {
		reason = fmt.Sprintf("retry attempts exhausted: %s", reason)
	}
	failed, applied, err := o.Store.FailOperation(ctx, op.Id, models.FAILED, reason)
	if err != nil {
		return nil, err
	}
	if applied {
		metrics.SettlementsResolved.WithLabelValues(string(failed.Kind), string(models.FAILED)).Inc()
		slog.Warn("settlement operation failed",
			"operation_id", op.Id,
			"merchant_id", op.MerchantId,
			"reason", reason)
	}
	return failed, nil
}
