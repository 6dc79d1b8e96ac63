package dynamodb

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/tidepay/ledger-engine/pkg/models"
	"github.com/tidepay/ledger-engine/pkg/storage"
)

func balanceKey(merchantID, currency string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"merchant_id": &types.AttributeValueMemberS{Value: merchantID},
		"currency":    &types.AttributeValueMemberS{Value: currency},
	}
}

// GetBalance retrieves the balance row for one (merchant, currency) pair.
func (s *Store) GetBalance(ctx context.Context, merchantID, currency string) (*models.Balance, error) {
	input := &dynamodb.GetItemInput{
		TableName: aws.String(s.BalancesTableName),
		Key:       balanceKey(merchantID, currency),
	}

	result, err := s.Client.GetItem(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to get balance from DynamoDB: %w", err)
	}
	if result.Item == nil {
		return nil, storage.ErrBalanceNotFound
	}

	var balance models.Balance
	if err := attributevalue.UnmarshalMap(result.Item, &balance); err != nil {
		return nil, fmt.Errorf("failed to unmarshal balance: %w", err)
	}
	return &balance, nil
}

// ListBalances retrieves every currency balance held by a merchant.
func (s *Store) ListBalances(ctx context.Context, merchantID string) ([]models.Balance, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(s.BalancesTableName),
		KeyConditionExpression: aws.String("merchant_id = :merchantID"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":merchantID": &types.AttributeValueMemberS{Value: merchantID},
		},
	}

	result, err := s.Client.Query(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to query balances: %w", err)
	}

	var balances []models.Balance
	if err := attributevalue.UnmarshalListOfMaps(result.Items, &balances); err != nil {
		return nil, fmt.Errorf("failed to unmarshal balances: %w", err)
	}
	return balances, nil
}

// GetOrCreateBalance returns the existing balance row or lazily creates a
// zeroed one. Creation writes no ledger entries.
func (s *Store) GetOrCreateBalance(ctx context.Context, merchantID, currency string) (*models.Balance, error) {
	balance, err := s.GetBalance(ctx, merchantID, currency)
	if err == nil {
		return balance, nil
	}
	if !errors.Is(err, storage.ErrBalanceNotFound) {
		return nil, err
	}

	now := s.Clock.Now()
	fresh := &models.Balance{
		MerchantId:        merchantID,
		Currency:          currency,
		Version:           1,
		LastTransactionAt: now,
		CreatedAt:         now,
	}
	item, err := attributevalue.MarshalMap(fresh)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal balance: %w", err)
	}

	_, err = s.Client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.BalancesTableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(merchant_id)"),
	})
	if err != nil {
		var condCheckFailed *types.ConditionalCheckFailedException
		if errors.As(err, &condCheckFailed) {
			// Lost the creation race; the row exists now.
			return s.GetBalance(ctx, merchantID, currency)
		}
		return nil, fmt.Errorf("failed to create balance in DynamoDB: %w", err)
	}
	return fresh, nil
}

// bucketMutation describes one balance bucket transfer as update-expression
// fragments plus the funds precondition that guards it.
type bucketMutation struct {
	// update is the SET fragment applied to the bucket fields; every
	// mutation additionally bumps version and last_transaction_at.
	update string
	// condition guards the funds invariant ("" for credits).
	condition string
	// insufficient is the sentinel returned when condition cannot hold.
	insufficient error
	// sufficient reports whether the already-read balance covers the amount,
	// so callers get the typed error without burning a transact round trip.
	sufficient func(b *models.Balance, amount int64) bool
	// boundary marks operations where money enters or leaves the platform;
	// these bump total_volume and require a paired ledger record.
	boundary bool
	// apply computes the post-mutation buckets on a local copy.
	apply func(b *models.Balance, amount int64)
}

var (
	mutCreditAvailable = bucketMutation{
		update:     "available = available + :amount",
		sufficient: func(*models.Balance, int64) bool { return true },
		boundary:   true,
		apply:      func(b *models.Balance, a int64) { b.Available += a },
	}
	mutCreditPending = bucketMutation{
		update:     "pending = pending + :amount",
		sufficient: func(*models.Balance, int64) bool { return true },
		boundary:   true,
		apply:      func(b *models.Balance, a int64) { b.Pending += a },
	}
	mutDebitAvailable = bucketMutation{
		update:       "available = available - :amount",
		condition:    "available >= :amount",
		insufficient: storage.ErrInsufficientBalance,
		sufficient:   func(b *models.Balance, a int64) bool { return b.Available >= a },
		boundary:     true,
		apply:        func(b *models.Balance, a int64) { b.Available -= a },
	}
	mutDebitPending = bucketMutation{
		update:       "pending = pending - :amount",
		condition:    "pending >= :amount",
		insufficient: storage.ErrInsufficientPending,
		sufficient:   func(b *models.Balance, a int64) bool { return b.Pending >= a },
		boundary:     true,
		apply:        func(b *models.Balance, a int64) { b.Pending -= a },
	}
	mutProcessReserved = bucketMutation{
		update:       "reserved = reserved - :amount",
		condition:    "reserved >= :amount",
		insufficient: storage.ErrInsufficientReserved,
		sufficient:   func(b *models.Balance, a int64) bool { return b.Reserved >= a },
		boundary:     true,
		apply:        func(b *models.Balance, a int64) { b.Reserved -= a },
	}
	mutReserve = bucketMutation{
		update:       "available = available - :amount, reserved = reserved + :amount",
		condition:    "available >= :amount",
		insufficient: storage.ErrInsufficientBalance,
		sufficient:   func(b *models.Balance, a int64) bool { return b.Available >= a },
		apply:        func(b *models.Balance, a int64) { b.Available -= a; b.Reserved += a },
	}
	mutReleaseReserved = bucketMutation{
		update:       "reserved = reserved - :amount, available = available + :amount",
		condition:    "reserved >= :amount",
		insufficient: storage.ErrInsufficientReserved,
		sufficient:   func(b *models.Balance, a int64) bool { return b.Reserved >= a },
		apply:        func(b *models.Balance, a int64) { b.Reserved -= a; b.Available += a },
	}
	mutSettlePending = bucketMutation{
		update:       "pending = pending - :amount, available = available + :amount",
		condition:    "pending >= :amount",
		insufficient: storage.ErrInsufficientPending,
		sufficient:   func(b *models.Balance, a int64) bool { return b.Pending >= a },
		apply:        func(b *models.Balance, a int64) { b.Pending -= a; b.Available += a },
	}
)

// balanceUpdateItem builds the conditional Update for one bucket mutation
// against the version the caller just read.
func (s *Store) balanceUpdateItem(b *models.Balance, mut bucketMutation, amount int64) types.TransactWriteItem {
	now := s.Clock.Now()
	update := "SET " + mut.update + ", version = version + :inc, last_transaction_at = :now"
	if mut.boundary {
		update += ", total_volume = total_volume + :amount"
	}
	condition := "version = :version"
	if mut.condition != "" {
		condition = mut.condition + " AND " + condition
	}

	nowAV, _ := attributevalue.Marshal(now)
	return types.TransactWriteItem{
		Update: &types.Update{
			TableName:           aws.String(s.BalancesTableName),
			Key:                 balanceKey(b.MerchantId, b.Currency),
			UpdateExpression:    aws.String(update),
			ConditionExpression: aws.String(condition),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":amount":  &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", amount)},
				":version": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", b.Version)},
				":inc":     &types.AttributeValueMemberN{Value: "1"},
				":now":     nowAV,
			},
		},
	}
}

// mutateBalance runs one bucket transfer with its optional paired ledger
// record as a single TransactWriteItems call, retrying version conflicts a
// bounded number of times.
func (s *Store) mutateBalance(ctx context.Context, merchantID, currency string, mut bucketMutation, amount int64, rec *models.TransactionRecord) (*models.Balance, error) {
	if amount <= 0 {
		return nil, storage.ErrInvalidAmount
	}
	if mut.boundary {
		if err := validateRecord(rec); err != nil {
			return nil, err
		}
	}

	for attempt := 0; attempt < maxMutationAttempts; attempt++ {
		balance, err := s.GetOrCreateBalance(ctx, merchantID, currency)
		if err != nil {
			return nil, err
		}
		if !mut.sufficient(balance, amount) {
			return nil, mut.insufficient
		}

		items := []types.TransactWriteItem{s.balanceUpdateItem(balance, mut, amount)}
		if mut.boundary {
			puts, err := s.entryPuts(merchantID, rec)
			if err != nil {
				return nil, err
			}
			items = append(items, puts...)
		}

		_, err = s.Client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
		if err == nil {
			updated := *balance
			mut.apply(&updated, amount)
			updated.Version++
			updated.LastTransactionAt = s.Clock.Now()
			if mut.boundary {
				updated.TotalVolume += amount
			}
			return &updated, nil
		}

		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) && conditionFailed(tce, 0) {
			// Version conflict (the funds precondition was checked against
			// the copy we just read); re-read and try again.
			continue
		}
		return nil, fmt.Errorf("failed to execute balance mutation: %w", err)
	}
	return nil, storage.ErrConcurrentModification
}

// conditionFailed reports whether the item at idx failed its conditional check.
func conditionFailed(tce *types.TransactionCanceledException, idx int) bool {
	if len(tce.CancellationReasons) <= idx {
		return false
	}
	code := tce.CancellationReasons[idx].Code
	return code != nil && *code == "ConditionalCheckFailed"
}

// CreditAvailable adds to the available bucket, pairing the boundary credit
// with its ledger record.
func (s *Store) CreditAvailable(ctx context.Context, merchantID, currency string, amount int64, rec *models.TransactionRecord) (*models.Balance, error) {
	return s.mutateBalance(ctx, merchantID, currency, mutCreditAvailable, amount, rec)
}

// CreditPending adds collected-but-unsettled funds to the pending bucket.
func (s *Store) CreditPending(ctx context.Context, merchantID, currency string, amount int64, rec *models.TransactionRecord) (*models.Balance, error) {
	return s.mutateBalance(ctx, merchantID, currency, mutCreditPending, amount, rec)
}

// DebitAvailable removes funds from the available bucket.
func (s *Store) DebitAvailable(ctx context.Context, merchantID, currency string, amount int64, rec *models.TransactionRecord) (*models.Balance, error) {
	return s.mutateBalance(ctx, merchantID, currency, mutDebitAvailable, amount, rec)
}

// DebitPending removes funds from the pending bucket.
func (s *Store) DebitPending(ctx context.Context, merchantID, currency string, amount int64, rec *models.TransactionRecord) (*models.Balance, error) {
	return s.mutateBalance(ctx, merchantID, currency, mutDebitPending, amount, rec)
}

// ProcessReserved extinguishes a completed hold; the money leaves the platform.
func (s *Store) ProcessReserved(ctx context.Context, merchantID, currency string, amount int64, rec *models.TransactionRecord) (*models.Balance, error) {
	return s.mutateBalance(ctx, merchantID, currency, mutProcessReserved, amount, rec)
}

// Reserve moves available -> reserved. No ledger entries: the balance total
// is conserved.
func (s *Store) Reserve(ctx context.Context, merchantID, currency string, amount int64) (*models.Balance, error) {
	return s.mutateBalance(ctx, merchantID, currency, mutReserve, amount, nil)
}

// ReleaseReserved moves reserved -> available.
func (s *Store) ReleaseReserved(ctx context.Context, merchantID, currency string, amount int64) (*models.Balance, error) {
	return s.mutateBalance(ctx, merchantID, currency, mutReleaseReserved, amount, nil)
}

// SettlePending moves pending -> available.
func (s *Store) SettlePending(ctx context.Context, merchantID, currency string, amount int64) (*models.Balance, error) {
	return s.mutateBalance(ctx, merchantID, currency, mutSettlePending, amount, nil)
}

// SettleAllPending sweeps the entire pending bucket into available. The
// version condition guarantees the swept amount is exactly what was read.
func (s *Store) SettleAllPending(ctx context.Context, merchantID, currency string) (*models.Balance, int64, error) {
	balance, err := s.GetOrCreateBalance(ctx, merchantID, currency)
	if err != nil {
		return nil, 0, err
	}
	if balance.Pending == 0 {
		return balance, 0, nil
	}
	amount := balance.Pending
	updated, err := s.SettlePending(ctx, merchantID, currency, amount)
	if err != nil {
		return nil, 0, err
	}
	return updated, amount, nil
}
