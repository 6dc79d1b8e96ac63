package ledger

import (
	"errors"
	"fmt"

	"github.com/tidepay/ledger-engine/pkg/models"
)

// ErrUnbalanced is returned when an entry set's debits and credits do not
// sum to the same total. The journal rejects the write rather than
// rebalancing; an unbalanced set is a programmer error in the caller.
var ErrUnbalanced = errors.New("unbalanced transaction: debits != credits")

// ErrEmptyTransaction is returned when a transaction record carries no entries.
var ErrEmptyTransaction = errors.New("transaction has no entries")

// ErrInvalidEntry is returned for an entry with a non-positive amount or a
// missing account. Sign is carried by the entry type, never by the amount.
var ErrInvalidEntry = errors.New("invalid ledger entry")

// Validate checks that a transaction record is recordable: non-empty, every
// entry well-formed, and total debits exactly equal to total credits.
func Validate(rec *models.TransactionRecord) error {
	if rec == nil || len(rec.Entries) == 0 {
		return ErrEmptyTransaction
	}

	var debits, credits int64
	for _, e := range rec.Entries {
		if e.Amount <= 0 {
			return fmt.Errorf("%w: amount %d must be positive", ErrInvalidEntry, e.Amount)
		}
		if e.AccountName == "" || e.AccountType == "" {
			return fmt.Errorf("%w: missing account", ErrInvalidEntry)
		}
		switch e.EntryType {
		case models.Debit:
			debits += e.Amount
		case models.Credit:
			credits += e.Amount
		default:
			return fmt.Errorf("%w: unknown entry type %q", ErrInvalidEntry, e.EntryType)
		}
	}

	if debits != credits {
		return fmt.Errorf("%w: debits=%d credits=%d", ErrUnbalanced, debits, credits)
	}
	return nil
}

// AccountBalance derives an account balance from its entries following the
// double-entry convention: assets and fees balance as debits minus credits,
// liabilities and revenue as credits minus debits.
func AccountBalance(accountType models.AccountType, entries []models.LedgerEntry) int64 {
	var debits, credits int64
	for _, e := range entries {
		switch e.EntryType {
		case models.Debit:
			debits += e.Amount
		case models.Credit:
			credits += e.Amount
		}
	}

	switch accountType {
	case models.AccountAssets, models.AccountFees:
		return debits - credits
	default:
		return credits - debits
	}
}

// PayoutSettled builds the entry set recorded when a payout, disbursement or
// refund leaves the platform: the reserved hold is extinguished, split into
// disbursed cash and the processing fee.
func PayoutSettled(op *models.SettlementOperation) *models.TransactionRecord {
	entries := []models.EntryInput{
		{
			Currency:    op.Currency,
			AccountType: models.AccountAssets,
			AccountName: models.AcctCashDisbursed,
			EntryType:   models.Debit,
			Amount:      op.NetAmount,
		},
	}
	if op.FeeAmount > 0 {
		entries = append(entries, models.EntryInput{
			Currency:    op.Currency,
			AccountType: models.AccountFees,
			AccountName: models.AcctPayoutFees,
			EntryType:   models.Debit,
			Amount:      op.FeeAmount,
		})
	}
	entries = append(entries, models.EntryInput{
		Currency:    op.Currency,
		AccountType: models.AccountAssets,
		AccountName: models.AcctMerchantReserved,
		EntryType:   models.Credit,
		Amount:      op.ReservedAmount,
	})

	return &models.TransactionRecord{
		Description: fmt.Sprintf("%s settled to %s", op.Kind, op.BeneficiaryRef),
		ReferenceID: op.Id,
		Operation:   string(op.Kind),
		Entries:     entries,
	}
}

// FXSourceLeg builds the source-currency entry set for a completed FX trade:
// the reserved hold converts into the conversion clearing account plus the
// trading fee. The target-currency leg balances separately (entries in two
// currencies cannot co-balance within one transaction).
func FXSourceLeg(op *models.SettlementOperation) *models.TransactionRecord {
	entries := []models.EntryInput{
		{
			Currency:    op.Currency,
			AccountType: models.AccountAssets,
			AccountName: models.AcctCurrencyConversion,
			EntryType:   models.Debit,
			Amount:      op.GrossAmount,
		},
	}
	if op.FeeAmount > 0 {
		entries = append(entries, models.EntryInput{
			Currency:    op.Currency,
			AccountType: models.AccountFees,
			AccountName: models.AcctFXFees,
			EntryType:   models.Debit,
			Amount:      op.FeeAmount,
		})
	}
	entries = append(entries, models.EntryInput{
		Currency:    op.Currency,
		AccountType: models.AccountAssets,
		AccountName: models.AcctMerchantReserved,
		EntryType:   models.Credit,
		Amount:      op.ReservedAmount,
	})

	return &models.TransactionRecord{
		Description: fmt.Sprintf("fx trade %s -> %s", op.Currency, op.CounterCurrency),
		ReferenceID: op.Id,
		Operation:   string(models.KindFXTrade),
		Entries:     entries,
	}
}

// FXTargetLeg builds the target-currency entry set crediting the merchant's
// counter-currency balance out of the conversion clearing account.
func FXTargetLeg(op *models.SettlementOperation, converted int64) *models.TransactionRecord {
	return &models.TransactionRecord{
		Description: fmt.Sprintf("fx trade %s -> %s", op.Currency, op.CounterCurrency),
		ReferenceID: op.Id,
		Operation:   string(models.KindFXTrade),
		Entries: []models.EntryInput{
			{
				Currency:    op.CounterCurrency,
				AccountType: models.AccountAssets,
				AccountName: models.AcctMerchantAvailable,
				EntryType:   models.Debit,
				Amount:      converted,
			},
			{
				Currency:    op.CounterCurrency,
				AccountType: models.AccountAssets,
				AccountName: models.AcctCurrencyConversion,
				EntryType:   models.Credit,
				Amount:      converted,
			},
		},
	}
}

// ChargeCollected builds the entry set recorded when a collection succeeds:
// the merchant's pending bucket and the platform's fee receivable are funded
// by processing revenue for the gross amount.
func ChargeCollected(currency, chargeRef string, gross int64, fees models.FeeBreakdown) *models.TransactionRecord {
	entries := []models.EntryInput{
		{
			Currency:    currency,
			AccountType: models.AccountAssets,
			AccountName: models.AcctMerchantPending,
			EntryType:   models.Debit,
			Amount:      fees.NetAmount,
		},
	}
	if fees.TotalFee > 0 {
		entries = append(entries, models.EntryInput{
			Currency:    currency,
			AccountType: models.AccountFees,
			AccountName: models.AcctFeesReceivable,
			EntryType:   models.Debit,
			Amount:      fees.TotalFee,
		})
	}
	entries = append(entries, models.EntryInput{
		Currency:    currency,
		AccountType: models.AccountRevenue,
		AccountName: models.AcctProcessingRevenue,
		EntryType:   models.Credit,
		Amount:      gross,
	})

	return &models.TransactionRecord{
		Description: fmt.Sprintf("charge %s collected", chargeRef),
		ReferenceID: chargeRef,
		Operation:   "charge",
		Entries:     entries,
	}
}

// ChargeReversed builds the reversing entry set for a refund that does not
// leave through a provider: revenue is debited back and the merchant balance
// account that was funded at collection time is credited.
func ChargeReversed(currency, chargeRef string, amount int64, settled bool) *models.TransactionRecord {
	balanceAccount := models.AcctMerchantPending
	if settled {
		balanceAccount = models.AcctMerchantAvailable
	}
	return &models.TransactionRecord{
		Description: fmt.Sprintf("charge %s reversed", chargeRef),
		ReferenceID: chargeRef,
		Operation:   "charge_reversal",
		Entries: []models.EntryInput{
			{
				Currency:    currency,
				AccountType: models.AccountRevenue,
				AccountName: models.AcctProcessingRevenue,
				EntryType:   models.Debit,
				Amount:      amount,
			},
			{
				Currency:    currency,
				AccountType: models.AccountAssets,
				AccountName: balanceAccount,
				EntryType:   models.Credit,
				Amount:      amount,
			},
		},
	}
}
