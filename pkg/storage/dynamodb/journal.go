package dynamodb

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/tidepay/ledger-engine/pkg/ledger"
	"github.com/tidepay/ledger-engine/pkg/models"
)

// validateRecord rejects nil or unbalanced records before anything is written.
func validateRecord(rec *models.TransactionRecord) error {
	if rec == nil {
		return ledger.ErrEmptyTransaction
	}
	return ledger.Validate(rec)
}

// entryPuts materializes a validated record into ledger-table Puts under one
// freshly generated transaction id. Each entry gets its own id; the condition
// expressions make accidental replays fail loudly instead of double-posting.
func (s *Store) entryPuts(merchantID string, rec *models.TransactionRecord) ([]types.TransactWriteItem, error) {
	txID := uuid.New().String()
	now := s.Clock.Now()

	items := make([]types.TransactWriteItem, 0, len(rec.Entries))
	for _, in := range rec.Entries {
		entry := models.LedgerEntry{
			EntryID:       uuid.New().String(),
			TransactionID: txID,
			MerchantId:    merchantID,
			Currency:      in.Currency,
			AccountType:   in.AccountType,
			AccountName:   in.AccountName,
			EntryType:     in.EntryType,
			Amount:        in.Amount,
			Description:   rec.Description,
			ReferenceID:   rec.ReferenceID,
			Operation:     rec.Operation,
			PostedAt:      now,
			GSI1PK:        recentEntriesGSIPKey,
		}
		item, err := attributevalue.MarshalMap(entry)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal ledger entry: %w", err)
		}
		items = append(items, types.TransactWriteItem{
			Put: &types.Put{
				TableName:           aws.String(s.LedgerTableName),
				Item:                item,
				ConditionExpression: aws.String("attribute_not_exists(entry_id)"),
			},
		})
	}
	return items, nil
}

// RecordTransaction validates the record and writes all entries atomically
// under one transaction id. Used directly by flows that move no balance
// bucket; boundary mutations get their entries appended inside the same
// transact call as the bucket change instead.
func (s *Store) RecordTransaction(ctx context.Context, merchantID string, rec *models.TransactionRecord) (string, error) {
	if err := validateRecord(rec); err != nil {
		return "", err
	}

	items, err := s.entryPuts(merchantID, rec)
	if err != nil {
		return "", err
	}

	_, err = s.Client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	if err != nil {
		return "", fmt.Errorf("failed to record ledger transaction: %w", err)
	}

	// All entries share a transaction id; unmarshal it back off the first put.
	var first models.LedgerEntry
	if err := attributevalue.UnmarshalMap(items[0].Put.Item, &first); err != nil {
		return "", fmt.Errorf("failed to unmarshal recorded entry: %w", err)
	}
	return first.TransactionID, nil
}

// ListEntriesByTransaction retrieves every entry posted under one transaction id.
func (s *Store) ListEntriesByTransaction(ctx context.Context, transactionID string) ([]models.LedgerEntry, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(s.LedgerTableName),
		IndexName:              aws.String(transactionIDIndex),
		KeyConditionExpression: aws.String("transaction_id = :txID"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":txID": &types.AttributeValueMemberS{Value: transactionID},
		},
	}

	result, err := s.Client.Query(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries by transaction: %w", err)
	}

	var entries []models.LedgerEntry
	if err := attributevalue.UnmarshalListOfMaps(result.Items, &entries); err != nil {
		return nil, fmt.Errorf("failed to unmarshal ledger entries: %w", err)
	}
	return entries, nil
}

// ListMerchantEntries retrieves a merchant's entries posted inside [from, to).
func (s *Store) ListMerchantEntries(ctx context.Context, merchantID string, from, to time.Time) ([]models.LedgerEntry, error) {
	fromStr, err := from.MarshalText()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal window start: %w", err)
	}
	toStr, err := to.MarshalText()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal window end: %w", err)
	}

	input := &dynamodb.QueryInput{
		TableName:              aws.String(s.LedgerTableName),
		IndexName:              aws.String(merchantPostedAtGSI),
		KeyConditionExpression: aws.String("merchant_id = :merchantID AND posted_at BETWEEN :from AND :to"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":merchantID": &types.AttributeValueMemberS{Value: merchantID},
			":from":       &types.AttributeValueMemberS{Value: string(fromStr)},
			":to":         &types.AttributeValueMemberS{Value: string(toStr)},
		},
	}

	result, err := s.Client.Query(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to query merchant entries: %w", err)
	}

	var entries []models.LedgerEntry
	if err := attributevalue.UnmarshalListOfMaps(result.Items, &entries); err != nil {
		return nil, fmt.Errorf("failed to unmarshal ledger entries: %w", err)
	}
	return entries, nil
}

// ListAccountEntries retrieves the entries for one account, optionally
// restricted to a currency.
func (s *Store) ListAccountEntries(ctx context.Context, merchantID string, accountType models.AccountType, accountName, currency string) ([]models.LedgerEntry, error) {
	filter := "account_type = :accountType AND account_name = :accountName"
	values := map[string]types.AttributeValue{
		":merchantID":  &types.AttributeValueMemberS{Value: merchantID},
		":accountType": &types.AttributeValueMemberS{Value: string(accountType)},
		":accountName": &types.AttributeValueMemberS{Value: accountName},
	}
	if currency != "" {
		filter += " AND currency = :currency"
		values[":currency"] = &types.AttributeValueMemberS{Value: currency}
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(s.LedgerTableName),
		IndexName:                 aws.String(merchantPostedAtGSI),
		KeyConditionExpression:    aws.String("merchant_id = :merchantID"),
		FilterExpression:          aws.String(filter),
		ExpressionAttributeValues: values,
	}

	result, err := s.Client.Query(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to query account entries: %w", err)
	}

	var entries []models.LedgerEntry
	if err := attributevalue.UnmarshalListOfMaps(result.Items, &entries); err != nil {
		return nil, fmt.Errorf("failed to unmarshal ledger entries: %w", err)
	}
	return entries, nil
}

// ListRecentEntries retrieves the most recent entries across all merchants.
func (s *Store) ListRecentEntries(ctx context.Context, limit int32) ([]models.LedgerEntry, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(s.LedgerTableName),
		IndexName:              aws.String(recentEntriesGSI),
		KeyConditionExpression: aws.String("gsi1pk = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: recentEntriesGSIPKey},
		},
		ScanIndexForward: aws.Bool(false), // Sort by posted_at in descending order
		Limit:            &limit,
	}

	result, err := s.Client.Query(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent ledger entries: %w", err)
	}

	var entries []models.LedgerEntry
	if err := attributevalue.UnmarshalListOfMaps(result.Items, &entries); err != nil {
		return nil, fmt.Errorf("failed to unmarshal ledger entries: %w", err)
	}
	return entries, nil
}

// GetAccountBalance recomputes an account balance purely from its entries.
// Audit-only derivation, not the live read path.
func (s *Store) GetAccountBalance(ctx context.Context, merchantID string, accountType models.AccountType, accountName, currency string) (int64, error) {
	entries, err := s.ListAccountEntries(ctx, merchantID, accountType, accountName, currency)
	if err != nil {
		return 0, err
	}
	return ledger.AccountBalance(accountType, entries), nil
}
