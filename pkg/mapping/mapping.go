// Package mapping converts between internal domain models and API types.
package mapping

import (
	"github.com/google/uuid"
	openapi_types "github.com/oapi-codegen/runtime/types"

	"github.com/tidepay/ledger-engine/pkg/api"
	"github.com/tidepay/ledger-engine/pkg/collection"
	"github.com/tidepay/ledger-engine/pkg/models"
	"github.com/tidepay/ledger-engine/pkg/settlement"
)

// ToApiBalance converts a domain Balance to its API representation.
func ToApiBalance(b *models.Balance) *api.Balance {
	return &api.Balance{
		MerchantId:        b.MerchantId,
		Currency:          b.Currency,
		Available:         b.Available,
		Pending:           b.Pending,
		Reserved:          b.Reserved,
		Total:             b.Total(),
		TotalVolume:       b.TotalVolume,
		Version:           b.Version,
		LastTransactionAt: b.LastTransactionAt,
	}
}

// ToApiSettlement converts a domain SettlementOperation to its API representation.
func ToApiSettlement(op *models.SettlementOperation) *api.Settlement {
	out := &api.Settlement{
		Id:                  mustUUID(op.Id),
		MerchantId:          op.MerchantId,
		Currency:            op.Currency,
		Kind:                string(op.Kind),
		GrossAmount:         op.GrossAmount,
		FeeAmount:           op.FeeAmount,
		NetAmount:           op.NetAmount,
		ReservedAmount:      op.ReservedAmount,
		Status:              string(op.Status),
		BeneficiaryRef:      op.BeneficiaryRef,
		BeneficiaryCurrency: op.BeneficiaryCurrency,
		CounterCurrency:     op.CounterCurrency,
		ProviderReference:   op.ProviderReference,
		FailureReason:       op.FailureReason,
		AttemptCount:        op.AttemptCount,
		CreatedAt:           op.CreatedAt,
		UpdatedAt:           op.UpdatedAt,
	}
	if op.Kind == models.KindFXTrade {
		out.ConvertedAmount = op.ConvertedAmount()
	}
	return out
}

// ToDomainCreateRequest converts an API NewSettlement to an orchestrator request.
func ToDomainCreateRequest(n *api.NewSettlement) settlement.CreateRequest {
	return settlement.CreateRequest{
		MerchantID:          n.MerchantId,
		Currency:            n.Currency,
		Kind:                models.OperationKind(n.Kind),
		GrossAmount:         n.GrossAmount,
		BeneficiaryRef:      n.BeneficiaryRef,
		BeneficiaryCurrency: n.BeneficiaryCurrency,
		CounterCurrency:     n.CounterCurrency,
		FXRateNum:           n.FxRateNum,
		FXRateDen:           n.FxRateDen,
	}
}

// ToDomainTransferResult converts an API ResolveSettlement to a provider result.
func ToDomainTransferResult(r *api.ResolveSettlement) models.TransferResult {
	return models.TransferResult{
		Status:            models.TransferStatus(r.Status),
		ProviderReference: r.ProviderReference,
		Retryable:         r.Retryable,
		Error:             r.Error,
	}
}

// ToDomainChargeRequest converts an API NewCharge to a recorder request.
func ToDomainChargeRequest(c *api.NewCharge) collection.ChargeRequest {
	return collection.ChargeRequest{
		MerchantID:  c.MerchantId,
		Currency:    c.Currency,
		GrossAmount: c.GrossAmount,
		ChargeRef:   c.ChargeRef,
	}
}

// ToApiChargeResult packages a recorded charge's balance and fees.
func ToApiChargeResult(b *models.Balance, fees models.FeeBreakdown) *api.ChargeResult {
	return &api.ChargeResult{
		Balance:        ToApiBalance(b),
		ProcessingFee:  fees.ProcessingFee,
		ApplicationFee: fees.ApplicationFee,
		TotalFee:       fees.TotalFee,
		NetAmount:      fees.NetAmount,
	}
}

// ToApiLedgerEntry converts a domain LedgerEntry to its API representation.
func ToApiLedgerEntry(e *models.LedgerEntry) *api.LedgerEntry {
	return &api.LedgerEntry{
		EntryId:       mustUUID(e.EntryID),
		TransactionId: mustUUID(e.TransactionID),
		MerchantId:    e.MerchantId,
		Currency:      e.Currency,
		AccountType:   string(e.AccountType),
		AccountName:   e.AccountName,
		EntryType:     string(e.EntryType),
		Amount:        e.Amount,
		Description:   e.Description,
		ReferenceId:   e.ReferenceID,
		Operation:     e.Operation,
		PostedAt:      e.PostedAt,
	}
}

// ToApiLedgerEntries converts a slice of domain entries.
func ToApiLedgerEntries(entries []models.LedgerEntry) []*api.LedgerEntry {
	out := make([]*api.LedgerEntry, len(entries))
	for i := range entries {
		out[i] = ToApiLedgerEntry(&entries[i])
	}
	return out
}

// mustUUID parses a stored id. Ids are generated by the storage layer, so a
// parse failure yields the zero UUID rather than an error path here.
func mustUUID(s string) openapi_types.UUID {
	u, _ := uuid.Parse(s)
	return u
}
