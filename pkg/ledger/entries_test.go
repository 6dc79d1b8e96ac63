package ledger_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidepay/ledger-engine/pkg/ledger"
	"github.com/tidepay/ledger-engine/pkg/models"
)

func entry(entryType models.EntryType, amount int64) models.EntryInput {
	return models.EntryInput{
		Currency:    "USD",
		AccountType: models.AccountAssets,
		AccountName: models.AcctCashDisbursed,
		EntryType:   entryType,
		Amount:      amount,
	}
}

func TestValidate(t *testing.T) {
	t.Run("BalancedRecordPasses", func(t *testing.T) {
		rec := &models.TransactionRecord{
			Description: "test",
			Entries: []models.EntryInput{
				entry(models.Debit, 500),
				entry(models.Credit, 300),
				entry(models.Credit, 200),
			},
		}
		assert.NoError(t, ledger.Validate(rec))
	})

	t.Run("UnbalancedRecordRejected", func(t *testing.T) {
		rec := &models.TransactionRecord{
			Description: "test",
			Entries: []models.EntryInput{
				entry(models.Debit, 500),
				entry(models.Credit, 499),
			},
		}
		assert.ErrorIs(t, ledger.Validate(rec), ledger.ErrUnbalanced)
	})

	t.Run("EmptyRecordRejected", func(t *testing.T) {
		assert.ErrorIs(t, ledger.Validate(&models.TransactionRecord{}), ledger.ErrEmptyTransaction)
	})

	t.Run("NonPositiveAmountRejected", func(t *testing.T) {
		rec := &models.TransactionRecord{
			Entries: []models.EntryInput{
				entry(models.Debit, 0),
				entry(models.Credit, 0),
			},
		}
		assert.ErrorIs(t, ledger.Validate(rec), ledger.ErrInvalidEntry)
	})
}

func TestAccountBalance(t *testing.T) {
	entries := []models.LedgerEntry{
		{EntryType: models.Debit, Amount: 1000},
		{EntryType: models.Credit, Amount: 400},
	}

	t.Run("AssetsBalanceAsDebitsMinusCredits", func(t *testing.T) {
		assert.Equal(t, int64(600), ledger.AccountBalance(models.AccountAssets, entries))
	})

	t.Run("RevenueBalancesAsCreditsMinusDebits", func(t *testing.T) {
		assert.Equal(t, int64(-600), ledger.AccountBalance(models.AccountRevenue, entries))
	})
}

func TestPayoutSettled(t *testing.T) {
	op := &models.SettlementOperation{
		Id:             "op-1",
		MerchantId:     "merchant_abc",
		Currency:       "USD",
		Kind:           models.KindPayout,
		GrossAmount:    10000,
		FeeAmount:      250,
		NetAmount:      10000,
		ReservedAmount: 10250,
		BeneficiaryRef: "ba_123",
	}

	rec := ledger.PayoutSettled(op)
	require.NoError(t, ledger.Validate(rec))
	require.Len(t, rec.Entries, 3)

	assert.Equal(t, models.AcctCashDisbursed, rec.Entries[0].AccountName)
	assert.Equal(t, int64(10000), rec.Entries[0].Amount)
	assert.Equal(t, models.AcctPayoutFees, rec.Entries[1].AccountName)
	assert.Equal(t, int64(250), rec.Entries[1].Amount)
	assert.Equal(t, models.AcctMerchantReserved, rec.Entries[2].AccountName)
	assert.Equal(t, models.Credit, rec.Entries[2].EntryType)
	assert.Equal(t, int64(10250), rec.Entries[2].Amount)

	t.Run("ZeroFeeOmitsFeeEntry", func(t *testing.T) {
		free := *op
		free.FeeAmount = 0
		free.ReservedAmount = free.GrossAmount
		rec := ledger.PayoutSettled(&free)
		require.NoError(t, ledger.Validate(rec))
		assert.Len(t, rec.Entries, 2)
	})
}

func TestFXLegsBalanceSeparately(t *testing.T) {
	op := &models.SettlementOperation{
		Id:              "op-2",
		MerchantId:      "merchant_abc",
		Currency:        "USD",
		Kind:            models.KindFXTrade,
		GrossAmount:     10000,
		FeeAmount:       100,
		NetAmount:       10000,
		ReservedAmount:  10100,
		CounterCurrency: "EUR",
		FXRateNum:       92,
		FXRateDen:       100,
	}

	source := ledger.FXSourceLeg(op)
	require.NoError(t, ledger.Validate(source))
	for _, e := range source.Entries {
		assert.Equal(t, "USD", e.Currency)
	}

	converted := op.ConvertedAmount()
	assert.Equal(t, int64(9200), converted)

	target := ledger.FXTargetLeg(op, converted)
	require.NoError(t, ledger.Validate(target))
	for _, e := range target.Entries {
		assert.Equal(t, "EUR", e.Currency)
		assert.Equal(t, converted, e.Amount)
	}
}

func TestChargeCollected(t *testing.T) {
	fees := models.FeeBreakdown{
		ProcessingFee:  125,
		ApplicationFee: 30,
		TotalFee:       155,
		NetAmount:      4845,
	}

	rec := ledger.ChargeCollected("USD", "ch_789", 5000, fees)
	require.NoError(t, ledger.Validate(rec))
	require.Len(t, rec.Entries, 3)

	assert.Equal(t, models.AcctMerchantPending, rec.Entries[0].AccountName)
	assert.Equal(t, int64(4845), rec.Entries[0].Amount)
	assert.Equal(t, models.AcctFeesReceivable, rec.Entries[1].AccountName)
	assert.Equal(t, int64(155), rec.Entries[1].Amount)
	assert.Equal(t, models.AcctProcessingRevenue, rec.Entries[2].AccountName)
	assert.Equal(t, models.Credit, rec.Entries[2].EntryType)
	assert.Equal(t, int64(5000), rec.Entries[2].Amount)
}

func TestChargeReversed(t *testing.T) {
	t.Run("UnsettledCreditsPendingAccount", func(t *testing.T) {
		rec := ledger.ChargeReversed("USD", "ch_789", 4845, false)
		require.NoError(t, ledger.Validate(rec))
		assert.Equal(t, models.AcctMerchantPending, rec.Entries[1].AccountName)
	})

	t.Run("SettledCreditsAvailableAccount", func(t *testing.T) {
		rec := ledger.ChargeReversed("USD", "ch_789", 4845, true)
		require.NoError(t, ledger.Validate(rec))
		assert.Equal(t, models.AcctMerchantAvailable, rec.Entries[1].AccountName)
	})
}
