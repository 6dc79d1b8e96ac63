package memory_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidepay/ledger-engine/pkg/clock"
	"github.com/tidepay/ledger-engine/pkg/ledger"
	"github.com/tidepay/ledger-engine/pkg/models"
	"github.com/tidepay/ledger-engine/pkg/storage"
	"github.com/tidepay/ledger-engine/pkg/storage/memory"
)

func creditRec(amount int64) *models.TransactionRecord {
	return &models.TransactionRecord{
		Description: "charge collected",
		Operation:   "charge",
		Entries: []models.EntryInput{
			{Currency: "USD", AccountType: models.AccountAssets, AccountName: models.AcctMerchantAvailable, EntryType: models.Debit, Amount: amount},
			{Currency: "USD", AccountType: models.AccountRevenue, AccountName: models.AcctProcessingRevenue, EntryType: models.Credit, Amount: amount},
		},
	}
}

func fundedStore(t *testing.T, available int64) *memory.Store {
	t.Helper()
	store := memory.New(nil)
	_, err := store.CreditAvailable(context.Background(), "merchant_abc", "USD", available, creditRec(available))
	require.NoError(t, err)
	return store
}

func newPayout(gross, fee int64) *models.SettlementOperation {
	return &models.SettlementOperation{
		MerchantId:     "merchant_abc",
		Currency:       "USD",
		Kind:           models.KindPayout,
		GrossAmount:    gross,
		FeeAmount:      fee,
		NetAmount:      gross,
		ReservedAmount: gross + fee,
		BeneficiaryRef: "ba_123",
	}
}

func TestBucketTransfersConserveTotal(t *testing.T) {
	ctx := context.Background()
	store := fundedStore(t, 10000)

	b, err := store.Reserve(ctx, "merchant_abc", "USD", 3000)
	require.NoError(t, err)
	assert.Equal(t, int64(7000), b.Available)
	assert.Equal(t, int64(3000), b.Reserved)
	assert.Equal(t, int64(10000), b.Total())

	b, err = store.ReleaseReserved(ctx, "merchant_abc", "USD", 3000)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), b.Available)
	assert.Equal(t, int64(0), b.Reserved)
	assert.Equal(t, int64(10000), b.Total())
}

func TestBucketTransfersWriteNoEntries(t *testing.T) {
	ctx := context.Background()
	store := fundedStore(t, 10000)

	before, err := store.ListMerchantEntries(ctx, "merchant_abc", time.Time{}, time.Now().Add(time.Hour))
	require.NoError(t, err)

	_, err = store.Reserve(ctx, "merchant_abc", "USD", 3000)
	require.NoError(t, err)
	_, err = store.ReleaseReserved(ctx, "merchant_abc", "USD", 1000)
	require.NoError(t, err)
	_, err = store.SettlePending(ctx, "merchant_abc", "USD", 1)
	assert.ErrorIs(t, err, storage.ErrInsufficientPending)

	after, err := store.ListMerchantEntries(ctx, "merchant_abc", time.Time{}, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, after, len(before), "bucket transfers must not touch the journal")
}

func TestReserveInsufficientFunds(t *testing.T) {
	ctx := context.Background()
	store := fundedStore(t, 1000)

	_, err := store.Reserve(ctx, "merchant_abc", "USD", 1001)
	assert.ErrorIs(t, err, storage.ErrInsufficientBalance)

	// The failed reserve must leave the balance untouched.
	b, err := store.GetBalance(ctx, "merchant_abc", "USD")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), b.Available)
	assert.Equal(t, int64(0), b.Reserved)
}

func TestConcurrentReservesNeverOverdraw(t *testing.T) {
	ctx := context.Background()
	store := fundedStore(t, 1000)

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = store.Reserve(ctx, "merchant_abc", "USD", 600)
		}(i)
	}
	wg.Wait()

	var succeeded int
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, storage.ErrInsufficientBalance)
		}
	}
	assert.Equal(t, 1, succeeded, "only one of the competing reserves may win")

	b, err := store.GetBalance(ctx, "merchant_abc", "USD")
	require.NoError(t, err)
	assert.Equal(t, int64(400), b.Available)
	assert.Equal(t, int64(600), b.Reserved)
	assert.GreaterOrEqual(t, b.Available, int64(0))
}

func TestBoundaryMutationRequiresBalancedRecord(t *testing.T) {
	ctx := context.Background()
	store := memory.New(nil)

	t.Run("NilRecordRejected", func(t *testing.T) {
		_, err := store.CreditAvailable(ctx, "merchant_abc", "USD", 100, nil)
		assert.ErrorIs(t, err, ledger.ErrEmptyTransaction)
	})

	t.Run("UnbalancedRecordRejected", func(t *testing.T) {
		rec := &models.TransactionRecord{
			Entries: []models.EntryInput{
				{Currency: "USD", AccountType: models.AccountAssets, AccountName: models.AcctMerchantAvailable, EntryType: models.Debit, Amount: 100},
				{Currency: "USD", AccountType: models.AccountRevenue, AccountName: models.AcctProcessingRevenue, EntryType: models.Credit, Amount: 99},
			},
		}
		_, err := store.CreditAvailable(ctx, "merchant_abc", "USD", 100, rec)
		assert.ErrorIs(t, err, ledger.ErrUnbalanced)

		// Nothing may have landed in either the balance or the journal.
		_, err = store.GetBalance(ctx, "merchant_abc", "USD")
		assert.ErrorIs(t, err, storage.ErrBalanceNotFound)
	})
}

func TestSettleAllPending(t *testing.T) {
	ctx := context.Background()
	store := memory.New(nil)

	rec := &models.TransactionRecord{
		Entries: []models.EntryInput{
			{Currency: "USD", AccountType: models.AccountAssets, AccountName: models.AcctMerchantPending, EntryType: models.Debit, Amount: 500},
			{Currency: "USD", AccountType: models.AccountRevenue, AccountName: models.AcctProcessingRevenue, EntryType: models.Credit, Amount: 500},
		},
	}
	_, err := store.CreditPending(ctx, "merchant_abc", "USD", 500, rec)
	require.NoError(t, err)

	b, swept, err := store.SettleAllPending(ctx, "merchant_abc", "USD")
	require.NoError(t, err)
	assert.Equal(t, int64(500), swept)
	assert.Equal(t, int64(500), b.Available)
	assert.Equal(t, int64(0), b.Pending)

	t.Run("EmptySweepIsNoOp", func(t *testing.T) {
		_, swept, err := store.SettleAllPending(ctx, "merchant_abc", "USD")
		require.NoError(t, err)
		assert.Equal(t, int64(0), swept)
	})
}

func TestOperationLifecycle(t *testing.T) {
	ctx := context.Background()

	t.Run("CreateReservesGrossPlusFee", func(t *testing.T) {
		store := fundedStore(t, 20000)
		op, err := store.CreateOperation(ctx, newPayout(10000, 250))
		require.NoError(t, err)
		assert.Equal(t, models.RESERVED, op.Status)
		assert.NotEmpty(t, op.Id)

		b, err := store.GetBalance(ctx, "merchant_abc", "USD")
		require.NoError(t, err)
		assert.Equal(t, int64(9750), b.Available)
		assert.Equal(t, int64(10250), b.Reserved)
	})

	t.Run("CreateFailsWithoutFunds", func(t *testing.T) {
		store := fundedStore(t, 100)
		_, err := store.CreateOperation(ctx, newPayout(10000, 250))
		assert.ErrorIs(t, err, storage.ErrInsufficientBalance)
	})

	t.Run("CompleteExtinguishesHoldAndJournals", func(t *testing.T) {
		store := fundedStore(t, 20000)
		op, err := store.CreateOperation(ctx, newPayout(10000, 250))
		require.NoError(t, err)

		_, err = store.MarkInTransit(ctx, op.Id)
		require.NoError(t, err)

		rec := ledger.PayoutSettled(op)
		completed, applied, err := store.CompleteOperation(ctx, op.Id, "po_prov_1", rec, nil)
		require.NoError(t, err)
		assert.True(t, applied)
		assert.Equal(t, models.COMPLETED, completed.Status)
		assert.Equal(t, "po_prov_1", completed.ProviderReference)

		b, err := store.GetBalance(ctx, "merchant_abc", "USD")
		require.NoError(t, err)
		assert.Equal(t, int64(9750), b.Available)
		assert.Equal(t, int64(0), b.Reserved)

		entries, err := store.ListAccountEntries(ctx, "merchant_abc", models.AccountAssets, models.AcctCashDisbursed, "USD")
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, int64(10000), entries[0].Amount)
	})

	t.Run("CompleteReplayIsNoOp", func(t *testing.T) {
		store := fundedStore(t, 20000)
		op, err := store.CreateOperation(ctx, newPayout(10000, 250))
		require.NoError(t, err)
		_, err = store.MarkInTransit(ctx, op.Id)
		require.NoError(t, err)

		rec := ledger.PayoutSettled(op)
		_, applied, err := store.CompleteOperation(ctx, op.Id, "po_prov_1", rec, nil)
		require.NoError(t, err)
		require.True(t, applied)

		// Second delivery of the same outcome.
		replayed, applied, err := store.CompleteOperation(ctx, op.Id, "po_prov_1", rec, nil)
		require.NoError(t, err)
		assert.False(t, applied)
		assert.Equal(t, models.COMPLETED, replayed.Status)

		b, err := store.GetBalance(ctx, "merchant_abc", "USD")
		require.NoError(t, err)
		assert.Equal(t, int64(9750), b.Total(), "replay must not move funds twice")
	})

	t.Run("FailReleasesReservation", func(t *testing.T) {
		store := fundedStore(t, 20000)
		op, err := store.CreateOperation(ctx, newPayout(10000, 250))
		require.NoError(t, err)

		failed, applied, err := store.FailOperation(ctx, op.Id, models.FAILED, "provider rejected")
		require.NoError(t, err)
		assert.True(t, applied)
		assert.Equal(t, models.FAILED, failed.Status)
		assert.Equal(t, "provider rejected", failed.FailureReason)

		b, err := store.GetBalance(ctx, "merchant_abc", "USD")
		require.NoError(t, err)
		assert.Equal(t, int64(20000), b.Available)
		assert.Equal(t, int64(0), b.Reserved)
	})

	t.Run("CancelCompletedOperationRejected", func(t *testing.T) {
		store := fundedStore(t, 20000)
		op, err := store.CreateOperation(ctx, newPayout(10000, 250))
		require.NoError(t, err)
		_, err = store.MarkInTransit(ctx, op.Id)
		require.NoError(t, err)
		_, _, err = store.CompleteOperation(ctx, op.Id, "po_prov_1", ledger.PayoutSettled(op), nil)
		require.NoError(t, err)

		_, _, err = store.FailOperation(ctx, op.Id, models.CANCELLED, "too late")
		assert.ErrorIs(t, err, storage.ErrOperationNotCancellable)
	})

	t.Run("MarkInTransitRequiresReserved", func(t *testing.T) {
		store := fundedStore(t, 20000)
		op, err := store.CreateOperation(ctx, newPayout(10000, 250))
		require.NoError(t, err)
		_, err = store.MarkInTransit(ctx, op.Id)
		require.NoError(t, err)

		_, err = store.MarkInTransit(ctx, op.Id)
		assert.ErrorIs(t, err, storage.ErrInvalidTransition)
	})
}

func TestFXCompleteCreditsCounterCurrency(t *testing.T) {
	ctx := context.Background()
	store := fundedStore(t, 20000)

	op := &models.SettlementOperation{
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
	created, err := store.CreateOperation(ctx, op)
	require.NoError(t, err)
	_, err = store.MarkInTransit(ctx, created.Id)
	require.NoError(t, err)

	source := ledger.FXSourceLeg(created)
	target := ledger.FXTargetLeg(created, created.ConvertedAmount())
	_, applied, err := store.CompleteOperation(ctx, created.Id, "fx_prov_1", source, target)
	require.NoError(t, err)
	require.True(t, applied)

	usd, err := store.GetBalance(ctx, "merchant_abc", "USD")
	require.NoError(t, err)
	assert.Equal(t, int64(9900), usd.Available)
	assert.Equal(t, int64(0), usd.Reserved)

	eur, err := store.GetBalance(ctx, "merchant_abc", "EUR")
	require.NoError(t, err)
	assert.Equal(t, int64(9200), eur.Available)
}

func TestGetStuckOperations(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	clk := &steppingClock{now: start}
	store := memory.New(clk)

	_, err := store.CreditAvailable(ctx, "merchant_abc", "USD", 20000, creditRec(20000))
	require.NoError(t, err)

	op, err := store.CreateOperation(ctx, newPayout(10000, 250))
	require.NoError(t, err)
	_, err = store.MarkInTransit(ctx, op.Id)
	require.NoError(t, err)

	clk.advance(30 * time.Minute)
	stuck, err := store.GetStuckOperations(ctx, 20*time.Minute)
	require.NoError(t, err)
	require.Len(t, stuck, 1)
	assert.Equal(t, op.Id, stuck[0].Id)

	fresh, err := store.GetStuckOperations(ctx, time.Hour)
	require.NoError(t, err)
	assert.Empty(t, fresh)
}

type steppingClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *steppingClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var _ clock.Clock = (*steppingClock)(nil)
