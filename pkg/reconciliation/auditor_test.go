package reconciliation_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidepay/ledger-engine/pkg/models"
	"github.com/tidepay/ledger-engine/pkg/reconciliation"
	"github.com/tidepay/ledger-engine/pkg/storage/memory"
)

func chargeRec(amount int64) *models.TransactionRecord {
	return &models.TransactionRecord{
		Description: "charge collected",
		Operation:   "charge",
		Entries: []models.EntryInput{
			{Currency: "USD", AccountType: models.AccountAssets, AccountName: models.AcctMerchantPending, EntryType: models.Debit, Amount: amount},
			{Currency: "USD", AccountType: models.AccountRevenue, AccountName: models.AcctProcessingRevenue, EntryType: models.Credit, Amount: amount},
		},
	}
}

func TestValidateTransactionBalance(t *testing.T) {
	ctx := context.Background()
	store := memory.New(nil)
	auditor := reconciliation.NewAuditor(store, 0)

	t.Run("BalancedTransaction", func(t *testing.T) {
		txID, err := store.RecordTransaction(ctx, "merchant_abc", chargeRec(5000))
		require.NoError(t, err)

		check, err := auditor.ValidateTransactionBalance(ctx, txID)
		require.NoError(t, err)
		assert.True(t, check.Balanced)
		assert.Equal(t, int64(5000), check.TotalDebits)
		assert.Equal(t, int64(5000), check.TotalCredits)
		assert.Equal(t, 2, check.EntryCount)
	})

	t.Run("UnknownTransaction", func(t *testing.T) {
		_, err := auditor.ValidateTransactionBalance(ctx, "missing")
		assert.ErrorIs(t, err, reconciliation.ErrTransactionNotFound)
	})
}

func TestReconcileBalance(t *testing.T) {
	ctx := context.Background()

	t.Run("ConsistentStoreShowsZeroDrift", func(t *testing.T) {
		store := memory.New(nil)
		auditor := reconciliation.NewAuditor(store, 0)

		_, err := store.CreditPending(ctx, "merchant_abc", "USD", 4845, chargeRec(4845))
		require.NoError(t, err)
		// Bucket transfers move funds without journal entries; the total
		// must still reconcile.
		_, err = store.SettlePending(ctx, "merchant_abc", "USD", 2000)
		require.NoError(t, err)

		report, err := auditor.ReconcileBalance(ctx, "merchant_abc", "USD")
		require.NoError(t, err)
		assert.Equal(t, int64(0), report.Drift)
		assert.Equal(t, int64(4845), report.StoredTotal)
		assert.Equal(t, int64(4845), report.LedgerTotal)
	})

	t.Run("UnpairedJournalEntryShowsDrift", func(t *testing.T) {
		store := memory.New(nil)
		auditor := reconciliation.NewAuditor(store, 0)

		_, err := store.GetOrCreateBalance(ctx, "merchant_abc", "USD")
		require.NoError(t, err)
		// A balanced transaction that touches the merchant balance account
		// without a matching bucket mutation is exactly the corruption the
		// auditor exists to catch.
		_, err = store.RecordTransaction(ctx, "merchant_abc", chargeRec(100))
		require.NoError(t, err)

		report, err := auditor.ReconcileBalance(ctx, "merchant_abc", "USD")
		require.NoError(t, err)
		assert.Equal(t, int64(-100), report.Drift)
	})
}

func TestReconcileMerchant(t *testing.T) {
	ctx := context.Background()
	store := memory.New(nil)
	auditor := reconciliation.NewAuditor(store, 0)

	_, err := store.CreditPending(ctx, "merchant_abc", "USD", 4845, chargeRec(4845))
	require.NoError(t, err)
	_, err = store.GetOrCreateBalance(ctx, "merchant_abc", "EUR")
	require.NoError(t, err)

	drifted, err := auditor.ReconcileMerchant(ctx, "merchant_abc")
	require.NoError(t, err)
	assert.Empty(t, drifted)
}

func TestAuditWindow(t *testing.T) {
	ctx := context.Background()
	store := memory.New(nil)
	auditor := reconciliation.NewAuditor(store, 1_000_000)

	_, err := store.CreditPending(ctx, "merchant_abc", "USD", 4845, chargeRec(4845))
	require.NoError(t, err)

	from := time.Now().Add(-time.Hour)
	to := time.Now().Add(time.Hour)

	report, err := auditor.AuditWindow(ctx, "merchant_abc", from, to)
	require.NoError(t, err)
	assert.True(t, report.Clean)
	assert.Equal(t, 2, report.EntryCount)
	assert.Empty(t, report.Unbalanced)
	assert.Empty(t, report.Anomalies)

	t.Run("FlagsThresholdAnomaly", func(t *testing.T) {
		_, err := store.CreditPending(ctx, "merchant_abc", "USD", 2_000_000, chargeRec(2_000_000))
		require.NoError(t, err)

		report, err := auditor.AuditWindow(ctx, "merchant_abc", from, to)
		require.NoError(t, err)
		assert.False(t, report.Clean)
		require.NotEmpty(t, report.Anomalies)
		assert.Equal(t, int64(2_000_000), report.Anomalies[0].Amount)
	})
}

func TestReconcileAccount(t *testing.T) {
	ctx := context.Background()
	store := memory.New(nil)
	auditor := reconciliation.NewAuditor(store, 0)

	_, err := store.CreditPending(ctx, "merchant_abc", "USD", 4845, chargeRec(4845))
	require.NoError(t, err)

	t.Run("BucketAccountCarriesStoredValue", func(t *testing.T) {
		report, err := auditor.ReconcileAccount(ctx, "merchant_abc", models.AccountAssets, models.AcctMerchantPending, "USD")
		require.NoError(t, err)
		assert.Equal(t, int64(4845), report.LedgerBalance)
		require.NotNil(t, report.StoredBucket)
		assert.Equal(t, int64(4845), *report.StoredBucket)
	})

	t.Run("RevenueAccountHasNoBucket", func(t *testing.T) {
		report, err := auditor.ReconcileAccount(ctx, "merchant_abc", models.AccountRevenue, models.AcctProcessingRevenue, "USD")
		require.NoError(t, err)
		assert.Equal(t, int64(4845), report.LedgerBalance)
		assert.Nil(t, report.StoredBucket)
	})
}

func TestDetectAnomalies(t *testing.T) {
	ctx := context.Background()
	store := memory.New(nil)
	auditor := reconciliation.NewAuditor(store, 1_000_000)

	_, err := store.CreditPending(ctx, "merchant_abc", "USD", 500, chargeRec(500))
	require.NoError(t, err)
	_, err = store.CreditPending(ctx, "merchant_abc", "USD", 3_000_000, chargeRec(3_000_000))
	require.NoError(t, err)

	anomalies, err := auditor.DetectAnomalies(ctx, "merchant_abc", time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, anomalies, 2)
	for _, a := range anomalies {
		assert.Equal(t, int64(3_000_000), a.Amount)
	}
}

func TestAccountVolumeAnomaly(t *testing.T) {
	ctx := context.Background()
	store := memory.New(nil)
	auditor := reconciliation.NewAuditor(store, 0)

	counters := []struct {
		name        string
		accountType models.AccountType
	}{
		{models.AcctProcessingRevenue, models.AccountRevenue},
		{models.AcctCashDisbursed, models.AccountAssets},
		{models.AcctCurrencyConversion, models.AccountAssets},
		{models.AcctPayoutFees, models.AccountFees},
		{models.AcctFXFees, models.AccountFees},
	}

	// Every sweep touches the receivable account while the counter side
	// rotates, so each entry is small and unremarkable but the receivable
	// account ends up with five times the activity of any other.
	for i := 0; i < 30; i++ {
		counter := counters[i%len(counters)]
		rec := &models.TransactionRecord{
			Description: "fee sweep",
			Operation:   "fee_sweep",
			Entries: []models.EntryInput{
				{Currency: "USD", AccountType: models.AccountFees, AccountName: models.AcctFeesReceivable, EntryType: models.Debit, Amount: 100},
				{Currency: "USD", AccountType: counter.accountType, AccountName: counter.name, EntryType: models.Credit, Amount: 100},
			},
		}
		_, err := store.RecordTransaction(ctx, "merchant_abc", rec)
		require.NoError(t, err)
	}

	anomalies, err := auditor.DetectAnomalies(ctx, "merchant_abc", time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, anomalies, 1)
	assert.Equal(t, models.AcctFeesReceivable, anomalies[0].AccountName)
	assert.Equal(t, int64(30), anomalies[0].EntryCount)
	assert.Equal(t, int64(3000), anomalies[0].Amount)
	assert.Empty(t, anomalies[0].EntryID)
}
