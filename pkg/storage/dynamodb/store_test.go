package dynamodb_test

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tidepay/ledger-engine/pkg/clock"
	"github.com/tidepay/ledger-engine/pkg/ledger"
	"github.com/tidepay/ledger-engine/pkg/models"
	"github.com/tidepay/ledger-engine/pkg/storage"
	dydbstore "github.com/tidepay/ledger-engine/pkg/storage/dynamodb"
	"github.com/tidepay/ledger-engine/pkg/storage/dynamodb/mocks"
)

var testTime = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

func newStore(client *mocks.DynamoDBAPI) *dydbstore.Store {
	return dydbstore.New(client, clock.Fixed{T: testTime}, "balances", "ledger_entries", "settlement_operations")
}

func balanceItem(t *testing.T, b *models.Balance) map[string]types.AttributeValue {
	t.Helper()
	item, err := attributevalue.MarshalMap(b)
	require.NoError(t, err)
	return item
}

func testBalance(available, pending, reserved int64) *models.Balance {
	return &models.Balance{
		MerchantId:        "merchant_abc",
		Currency:          "USD",
		Available:         available,
		Pending:           pending,
		Reserved:          reserved,
		Version:           3,
		LastTransactionAt: testTime,
		CreatedAt:         testTime,
	}
}

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

func conditionalFailure() *types.TransactionCanceledException {
	return &types.TransactionCanceledException{
		CancellationReasons: []types.CancellationReason{
			{Code: aws.String("ConditionalCheckFailed")},
			{Code: aws.String("None")},
		},
	}
}

func TestGetBalance(t *testing.T) {
	t.Run("Found", func(t *testing.T) {
		mockDB := new(mocks.DynamoDBAPI)
		mockDB.On("GetItem", mock.Anything, mock.Anything).
			Return(&awsdynamodb.GetItemOutput{Item: balanceItem(t, testBalance(1000, 0, 0))}, nil)

		store := newStore(mockDB)
		balance, err := store.GetBalance(context.Background(), "merchant_abc", "USD")
		require.NoError(t, err)
		assert.Equal(t, int64(1000), balance.Available)
		assert.Equal(t, int64(3), balance.Version)
		mockDB.AssertExpectations(t)
	})

	t.Run("NotFound", func(t *testing.T) {
		mockDB := new(mocks.DynamoDBAPI)
		mockDB.On("GetItem", mock.Anything, mock.Anything).
			Return(&awsdynamodb.GetItemOutput{}, nil)

		store := newStore(mockDB)
		_, err := store.GetBalance(context.Background(), "merchant_abc", "USD")
		assert.ErrorIs(t, err, storage.ErrBalanceNotFound)
	})
}

func TestCreditAvailable(t *testing.T) {
	t.Run("PairsBalanceUpdateWithEntryPuts", func(t *testing.T) {
		mockDB := new(mocks.DynamoDBAPI)
		mockDB.On("GetItem", mock.Anything, mock.Anything).
			Return(&awsdynamodb.GetItemOutput{Item: balanceItem(t, testBalance(1000, 0, 0))}, nil)
		mockDB.On("TransactWriteItems", mock.Anything, mock.MatchedBy(func(input *awsdynamodb.TransactWriteItemsInput) bool {
			// One conditional balance update plus one Put per entry, all in
			// the same atomic unit.
			if len(input.TransactItems) != 3 {
				return false
			}
			update := input.TransactItems[0].Update
			return update != nil &&
				input.TransactItems[1].Put != nil &&
				input.TransactItems[2].Put != nil &&
				assert.ObjectsAreEqual("balances", *update.TableName) &&
				assert.ObjectsAreEqual("ledger_entries", *input.TransactItems[1].Put.TableName)
		})).Return(&awsdynamodb.TransactWriteItemsOutput{}, nil)

		store := newStore(mockDB)
		balance, err := store.CreditAvailable(context.Background(), "merchant_abc", "USD", 500, creditRec(500))
		require.NoError(t, err)
		assert.Equal(t, int64(1500), balance.Available)
		assert.Equal(t, int64(4), balance.Version)
		mockDB.AssertExpectations(t)
	})

	t.Run("RejectsUnbalancedRecord", func(t *testing.T) {
		mockDB := new(mocks.DynamoDBAPI)
		store := newStore(mockDB)

		rec := creditRec(500)
		rec.Entries[1].Amount = 499
		_, err := store.CreditAvailable(context.Background(), "merchant_abc", "USD", 500, rec)
		assert.ErrorIs(t, err, ledger.ErrUnbalanced)
		mockDB.AssertNotCalled(t, "TransactWriteItems", mock.Anything, mock.Anything)
	})

	t.Run("RejectsNonPositiveAmount", func(t *testing.T) {
		store := newStore(new(mocks.DynamoDBAPI))
		_, err := store.CreditAvailable(context.Background(), "merchant_abc", "USD", 0, creditRec(0))
		assert.ErrorIs(t, err, storage.ErrInvalidAmount)
	})
}

func TestDebitAvailable(t *testing.T) {
	t.Run("InsufficientFundsShortCircuits", func(t *testing.T) {
		mockDB := new(mocks.DynamoDBAPI)
		mockDB.On("GetItem", mock.Anything, mock.Anything).
			Return(&awsdynamodb.GetItemOutput{Item: balanceItem(t, testBalance(100, 0, 0))}, nil)

		store := newStore(mockDB)
		_, err := store.DebitAvailable(context.Background(), "merchant_abc", "USD", 200, creditRec(200))
		assert.ErrorIs(t, err, storage.ErrInsufficientBalance)
		mockDB.AssertNotCalled(t, "TransactWriteItems", mock.Anything, mock.Anything)
	})
}

func TestReserve(t *testing.T) {
	t.Run("VersionConflictRetries", func(t *testing.T) {
		mockDB := new(mocks.DynamoDBAPI)
		mockDB.On("GetItem", mock.Anything, mock.Anything).
			Return(&awsdynamodb.GetItemOutput{Item: balanceItem(t, testBalance(1000, 0, 0))}, nil)
		// First write loses the version race, second one lands.
		mockDB.On("TransactWriteItems", mock.Anything, mock.Anything).
			Return(nil, conditionalFailure()).Once()
		mockDB.On("TransactWriteItems", mock.Anything, mock.Anything).
			Return(&awsdynamodb.TransactWriteItemsOutput{}, nil).Once()

		store := newStore(mockDB)
		balance, err := store.Reserve(context.Background(), "merchant_abc", "USD", 300)
		require.NoError(t, err)
		assert.Equal(t, int64(700), balance.Available)
		assert.Equal(t, int64(300), balance.Reserved)
		mockDB.AssertExpectations(t)
	})

	t.Run("PersistentConflictGivesUp", func(t *testing.T) {
		mockDB := new(mocks.DynamoDBAPI)
		mockDB.On("GetItem", mock.Anything, mock.Anything).
			Return(&awsdynamodb.GetItemOutput{Item: balanceItem(t, testBalance(1000, 0, 0))}, nil)
		mockDB.On("TransactWriteItems", mock.Anything, mock.Anything).
			Return(nil, conditionalFailure())

		store := newStore(mockDB)
		_, err := store.Reserve(context.Background(), "merchant_abc", "USD", 300)
		assert.ErrorIs(t, err, storage.ErrConcurrentModification)
	})

	t.Run("NoEntryPutsForBucketTransfer", func(t *testing.T) {
		mockDB := new(mocks.DynamoDBAPI)
		mockDB.On("GetItem", mock.Anything, mock.Anything).
			Return(&awsdynamodb.GetItemOutput{Item: balanceItem(t, testBalance(1000, 0, 0))}, nil)
		mockDB.On("TransactWriteItems", mock.Anything, mock.MatchedBy(func(input *awsdynamodb.TransactWriteItemsInput) bool {
			return len(input.TransactItems) == 1 && input.TransactItems[0].Update != nil
		})).Return(&awsdynamodb.TransactWriteItemsOutput{}, nil)

		store := newStore(mockDB)
		_, err := store.Reserve(context.Background(), "merchant_abc", "USD", 300)
		require.NoError(t, err)
		mockDB.AssertExpectations(t)
	})
}

func TestCreateOperation(t *testing.T) {
	newOp := func() *models.SettlementOperation {
		return &models.SettlementOperation{
			MerchantId:     "merchant_abc",
			Currency:       "USD",
			Kind:           models.KindPayout,
			GrossAmount:    10000,
			FeeAmount:      250,
			NetAmount:      10000,
			ReservedAmount: 10250,
			BeneficiaryRef: "ba_123",
		}
	}

	t.Run("PairsReservationWithOperationPut", func(t *testing.T) {
		mockDB := new(mocks.DynamoDBAPI)
		mockDB.On("GetItem", mock.Anything, mock.Anything).
			Return(&awsdynamodb.GetItemOutput{Item: balanceItem(t, testBalance(20000, 0, 0))}, nil)
		mockDB.On("TransactWriteItems", mock.Anything, mock.MatchedBy(func(input *awsdynamodb.TransactWriteItemsInput) bool {
			if len(input.TransactItems) != 2 {
				return false
			}
			put := input.TransactItems[1].Put
			return input.TransactItems[0].Update != nil && put != nil &&
				assert.ObjectsAreEqual("settlement_operations", *put.TableName)
		})).Return(&awsdynamodb.TransactWriteItemsOutput{}, nil)

		store := newStore(mockDB)
		op, err := store.CreateOperation(context.Background(), newOp())
		require.NoError(t, err)
		assert.Equal(t, models.RESERVED, op.Status)
		assert.NotEmpty(t, op.Id)
		mockDB.AssertExpectations(t)
	})

	t.Run("InsufficientFundsCreatesNothing", func(t *testing.T) {
		mockDB := new(mocks.DynamoDBAPI)
		mockDB.On("GetItem", mock.Anything, mock.Anything).
			Return(&awsdynamodb.GetItemOutput{Item: balanceItem(t, testBalance(100, 0, 0))}, nil)

		store := newStore(mockDB)
		_, err := store.CreateOperation(context.Background(), newOp())
		assert.ErrorIs(t, err, storage.ErrInsufficientBalance)
		mockDB.AssertNotCalled(t, "TransactWriteItems", mock.Anything, mock.Anything)
	})

	t.Run("RejectsZeroReservation", func(t *testing.T) {
		store := newStore(new(mocks.DynamoDBAPI))
		op := newOp()
		op.ReservedAmount = 0
		_, err := store.CreateOperation(context.Background(), op)
		assert.ErrorIs(t, err, storage.ErrInvalidAmount)
	})
}

func TestMarkInTransit(t *testing.T) {
	t.Run("ConditionalCheckFailureMapsToInvalidTransition", func(t *testing.T) {
		mockDB := new(mocks.DynamoDBAPI)
		mockDB.On("UpdateItem", mock.Anything, mock.Anything).
			Return(nil, &types.ConditionalCheckFailedException{})

		store := newStore(mockDB)
		_, err := store.MarkInTransit(context.Background(), "op-1")
		assert.ErrorIs(t, err, storage.ErrInvalidTransition)
	})
}

func TestCompleteOperation(t *testing.T) {
	inTransitOp := func() *models.SettlementOperation {
		return &models.SettlementOperation{
			Id:             "op-1",
			MerchantId:     "merchant_abc",
			Currency:       "USD",
			Kind:           models.KindPayout,
			GrossAmount:    10000,
			FeeAmount:      250,
			NetAmount:      10000,
			ReservedAmount: 10250,
			Status:         models.IN_TRANSIT,
			BeneficiaryRef: "ba_123",
		}
	}

	opItem := func(t *testing.T, op *models.SettlementOperation) map[string]types.AttributeValue {
		t.Helper()
		item, err := attributevalue.MarshalMap(op)
		require.NoError(t, err)
		return item
	}

	t.Run("AtomicStatusBalanceAndEntries", func(t *testing.T) {
		op := inTransitOp()
		mockDB := new(mocks.DynamoDBAPI)
		mockDB.On("GetItem", mock.Anything, mock.MatchedBy(func(input *awsdynamodb.GetItemInput) bool {
			return *input.TableName == "settlement_operations"
		})).Return(&awsdynamodb.GetItemOutput{Item: opItem(t, op)}, nil)
		mockDB.On("GetItem", mock.Anything, mock.MatchedBy(func(input *awsdynamodb.GetItemInput) bool {
			return *input.TableName == "balances"
		})).Return(&awsdynamodb.GetItemOutput{Item: balanceItem(t, testBalance(0, 0, 10250))}, nil)

		rec := ledger.PayoutSettled(op)
		mockDB.On("TransactWriteItems", mock.Anything, mock.MatchedBy(func(input *awsdynamodb.TransactWriteItemsInput) bool {
			// Status transition, hold processing, and every ledger entry in
			// one transact call.
			return len(input.TransactItems) == 2+len(rec.Entries) &&
				input.TransactItems[0].Update != nil &&
				input.TransactItems[1].Update != nil &&
				input.TransactItems[2].Put != nil
		})).Return(&awsdynamodb.TransactWriteItemsOutput{}, nil)

		store := newStore(mockDB)
		completed, applied, err := store.CompleteOperation(context.Background(), "op-1", "po_prov_1", rec, nil)
		require.NoError(t, err)
		assert.True(t, applied)
		assert.Equal(t, models.COMPLETED, completed.Status)
		assert.Equal(t, "po_prov_1", completed.ProviderReference)
		mockDB.AssertExpectations(t)
	})

	t.Run("ReplayAgainstTerminalOperationIsNoOp", func(t *testing.T) {
		op := inTransitOp()
		op.Status = models.COMPLETED
		op.ProviderReference = "po_prov_1"

		mockDB := new(mocks.DynamoDBAPI)
		mockDB.On("GetItem", mock.Anything, mock.Anything).
			Return(&awsdynamodb.GetItemOutput{Item: opItem(t, op)}, nil)

		store := newStore(mockDB)
		replayed, applied, err := store.CompleteOperation(context.Background(), "op-1", "po_prov_1", ledger.PayoutSettled(op), nil)
		require.NoError(t, err)
		assert.False(t, applied)
		assert.Equal(t, models.COMPLETED, replayed.Status)
		mockDB.AssertNotCalled(t, "TransactWriteItems", mock.Anything, mock.Anything)
	})
}

func TestFailOperation(t *testing.T) {
	t.Run("InvalidTerminalStateRejected", func(t *testing.T) {
		store := newStore(new(mocks.DynamoDBAPI))
		_, _, err := store.FailOperation(context.Background(), "op-1", models.COMPLETED, "nope")
		assert.ErrorIs(t, err, storage.ErrInvalidTransition)
	})

	t.Run("CancelOfCompletedOperationRejected", func(t *testing.T) {
		op := &models.SettlementOperation{
			Id:         "op-1",
			MerchantId: "merchant_abc",
			Currency:   "USD",
			Status:     models.COMPLETED,
		}
		item, err := attributevalue.MarshalMap(op)
		require.NoError(t, err)

		mockDB := new(mocks.DynamoDBAPI)
		mockDB.On("GetItem", mock.Anything, mock.Anything).
			Return(&awsdynamodb.GetItemOutput{Item: item}, nil)

		store := newStore(mockDB)
		_, _, err = store.FailOperation(context.Background(), "op-1", models.CANCELLED, "too late")
		assert.ErrorIs(t, err, storage.ErrOperationNotCancellable)
	})
}
