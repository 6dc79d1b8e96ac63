package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/tidepay/ledger-engine/pkg/models"
	"github.com/tidepay/ledger-engine/pkg/storage"
)

// GetOperation retrieves a settlement operation by id.
func (s *Store) GetOperation(ctx context.Context, opID string) (*models.SettlementOperation, error) {
	input := &dynamodb.GetItemInput{
		TableName: aws.String(s.OperationsTableName),
		Key:       map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: opID}},
	}

	result, err := s.Client.GetItem(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to get operation from DynamoDB: %w", err)
	}
	if result.Item == nil {
		return nil, storage.ErrOperationNotFound
	}

	var op models.SettlementOperation
	if err := attributevalue.UnmarshalMap(result.Item, &op); err != nil {
		return nil, fmt.Errorf("failed to unmarshal operation: %w", err)
	}
	return &op, nil
}

// ListOperationsByMerchant retrieves a merchant's operations, optionally
// filtered by status.
func (s *Store) ListOperationsByMerchant(ctx context.Context, merchantID string, status models.OperationStatus) ([]models.SettlementOperation, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(s.OperationsTableName),
		IndexName:              aws.String(merchantStatusGSI),
		KeyConditionExpression: aws.String("merchant_id = :merchantID"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":merchantID": &types.AttributeValueMemberS{Value: merchantID},
		},
	}
	if status != "" {
		input.KeyConditionExpression = aws.String("merchant_id = :merchantID AND #status = :status")
		input.ExpressionAttributeNames = map[string]string{"#status": "status"}
		input.ExpressionAttributeValues[":status"] = &types.AttributeValueMemberS{Value: string(status)}
	}

	result, err := s.Client.Query(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to query operations by merchant: %w", err)
	}

	var ops []models.SettlementOperation
	if err := attributevalue.UnmarshalListOfMaps(result.Items, &ops); err != nil {
		return nil, fmt.Errorf("failed to unmarshal operations: %w", err)
	}
	return ops, nil
}

// GetStuckOperations retrieves operations sitting in IN_TRANSIT for longer
// than maxAge, so the external monitor can re-drive them.
func (s *Store) GetStuckOperations(ctx context.Context, maxAge time.Duration) ([]models.SettlementOperation, error) {
	cutoff := s.Clock.Now().Add(-maxAge)
	cutoffStr, err := cutoff.MarshalText()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal cutoff time: %w", err)
	}

	input := &dynamodb.QueryInput{
		TableName:              aws.String(s.OperationsTableName),
		IndexName:              aws.String(statusUpdatedAtGSI),
		KeyConditionExpression: aws.String("#status = :status AND updated_at < :cutoff"),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status": &types.AttributeValueMemberS{Value: string(models.IN_TRANSIT)},
			":cutoff": &types.AttributeValueMemberS{Value: string(cutoffStr)},
		},
	}

	result, err := s.Client.Query(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to query for stuck operations: %w", err)
	}

	var ops []models.SettlementOperation
	if err := attributevalue.UnmarshalListOfMaps(result.Items, &ops); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stuck operations: %w", err)
	}
	return ops, nil
}

// CreateOperation atomically reserves op.ReservedAmount and persists the
// operation in RESERVED. If the reservation cannot be made the operation is
// never created.
func (s *Store) CreateOperation(ctx context.Context, op *models.SettlementOperation) (*models.SettlementOperation, error) {
	if op.ReservedAmount <= 0 {
		return nil, storage.ErrInvalidAmount
	}

	now := s.Clock.Now()
	op.Id = uuid.New().String()
	op.Status = models.RESERVED
	op.ReservationRef = op.Id
	op.CreatedAt = now
	op.UpdatedAt = now

	opAV, err := attributevalue.MarshalMap(op)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal operation: %w", err)
	}

	for attempt := 0; attempt < maxMutationAttempts; attempt++ {
		balance, err := s.GetOrCreateBalance(ctx, op.MerchantId, op.Currency)
		if err != nil {
			return nil, err
		}
		if balance.Available < op.ReservedAmount {
			return nil, storage.ErrInsufficientBalance
		}

		input := &dynamodb.TransactWriteItemsInput{
			TransactItems: []types.TransactWriteItem{
				s.balanceUpdateItem(balance, mutReserve, op.ReservedAmount),
				{
					Put: &types.Put{
						TableName:           aws.String(s.OperationsTableName),
						Item:                opAV,
						ConditionExpression: aws.String("attribute_not_exists(id)"),
					},
				},
			},
		}

		_, err = s.Client.TransactWriteItems(ctx, input)
		if err == nil {
			return op, nil
		}

		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) && conditionFailed(tce, 0) {
			continue
		}
		return nil, fmt.Errorf("failed to execute reservation transaction: %w", err)
	}
	return nil, storage.ErrConcurrentModification
}

// MarkInTransit transitions RESERVED -> IN_TRANSIT and counts the dispatch
// attempt. The conditional write makes concurrent dispatchers race safely:
// exactly one wins, the rest get ErrInvalidTransition.
func (s *Store) MarkInTransit(ctx context.Context, opID string) (*models.SettlementOperation, error) {
	nowAV, err := attributevalue.Marshal(s.Clock.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal timestamp: %w", err)
	}

	input := &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.OperationsTableName),
		Key:                 map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: opID}},
		UpdateExpression:    aws.String("SET #status = :in_transit, attempt_count = attempt_count + :inc, updated_at = :now"),
		ConditionExpression: aws.String("#status = :reserved"),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":in_transit": &types.AttributeValueMemberS{Value: string(models.IN_TRANSIT)},
			":reserved":   &types.AttributeValueMemberS{Value: string(models.RESERVED)},
			":inc":        &types.AttributeValueMemberN{Value: "1"},
			":now":        nowAV,
		},
		ReturnValues: types.ReturnValueAllNew,
	}

	result, err := s.Client.UpdateItem(ctx, input)
	if err != nil {
		var condCheckFailed *types.ConditionalCheckFailedException
		if errors.As(err, &condCheckFailed) {
			return nil, storage.ErrInvalidTransition
		}
		return nil, fmt.Errorf("failed to mark operation in transit: %w", err)
	}

	var op models.SettlementOperation
	if err := attributevalue.UnmarshalMap(result.Attributes, &op); err != nil {
		return nil, fmt.Errorf("failed to unmarshal operation: %w", err)
	}
	return &op, nil
}

// operationStatusUpdate builds the conditional status transition for a
// resolve, guarded against replays by requiring a non-terminal status.
func (s *Store) operationStatusUpdate(opID string, to models.OperationStatus, providerRef, reason string) types.TransactWriteItem {
	nowAV, _ := attributevalue.Marshal(s.Clock.Now())

	update := "SET #status = :to, updated_at = :now"
	values := map[string]types.AttributeValue{
		":to":         &types.AttributeValueMemberS{Value: string(to)},
		":now":        nowAV,
		":pending":    &types.AttributeValueMemberS{Value: string(models.PENDING)},
		":reserved":   &types.AttributeValueMemberS{Value: string(models.RESERVED)},
		":in_transit": &types.AttributeValueMemberS{Value: string(models.IN_TRANSIT)},
	}
	if providerRef != "" {
		update += ", provider_reference = :providerRef"
		values[":providerRef"] = &types.AttributeValueMemberS{Value: providerRef}
	}
	if reason != "" {
		update += ", failure_reason = :reason"
		values[":reason"] = &types.AttributeValueMemberS{Value: reason}
	}

	return types.TransactWriteItem{
		Update: &types.Update{
			TableName:                 aws.String(s.OperationsTableName),
			Key:                       map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: opID}},
			UpdateExpression:          aws.String(update),
			ConditionExpression:       aws.String("#status IN (:pending, :reserved, :in_transit)"),
			ExpressionAttributeNames:  map[string]string{"#status": "status"},
			ExpressionAttributeValues: values,
		},
	}
}

// CompleteOperation finalizes a successful transfer in one atomic unit:
// operation -> COMPLETED, the hold processed out of the platform, and the
// settlement ledger entries appended. FX trades additionally credit the
// merchant's counter-currency balance with its own balanced leg. Replays
// against a terminal operation are no-ops.
func (s *Store) CompleteOperation(ctx context.Context, opID, providerRef string, rec *models.TransactionRecord, fxLeg *models.TransactionRecord) (*models.SettlementOperation, bool, error) {
	if err := validateRecord(rec); err != nil {
		return nil, false, err
	}
	if fxLeg != nil {
		if err := validateRecord(fxLeg); err != nil {
			return nil, false, err
		}
	}

	for attempt := 0; attempt < maxMutationAttempts; attempt++ {
		op, err := s.GetOperation(ctx, opID)
		if err != nil {
			return nil, false, err
		}
		if op.Terminal() {
			return op, false, nil
		}

		balance, err := s.GetBalance(ctx, op.MerchantId, op.Currency)
		if err != nil {
			return nil, false, err
		}
		if balance.Reserved < op.ReservedAmount {
			return nil, false, storage.ErrInsufficientReserved
		}

		items := []types.TransactWriteItem{
			s.operationStatusUpdate(opID, models.COMPLETED, providerRef, ""),
			s.balanceUpdateItem(balance, mutProcessReserved, op.ReservedAmount),
		}

		puts, err := s.entryPuts(op.MerchantId, rec)
		if err != nil {
			return nil, false, err
		}
		items = append(items, puts...)

		if fxLeg != nil {
			converted := op.ConvertedAmount()
			counterBalance, err := s.GetOrCreateBalance(ctx, op.MerchantId, op.CounterCurrency)
			if err != nil {
				return nil, false, err
			}
			items = append(items, s.balanceUpdateItem(counterBalance, mutCreditAvailable, converted))
			fxPuts, err := s.entryPuts(op.MerchantId, fxLeg)
			if err != nil {
				return nil, false, err
			}
			items = append(items, fxPuts...)
		}

		_, err = s.Client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
		if err == nil {
			op.Status = models.COMPLETED
			op.ProviderReference = providerRef
			op.UpdatedAt = s.Clock.Now()
			return op, true, nil
		}

		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) {
			if conditionFailed(tce, 0) {
				// The operation moved under us; a replayed resolve lands
				// here and reads back the terminal state.
				continue
			}
			if conditionFailed(tce, 1) || (fxLeg != nil && conditionFailed(tce, 2+len(rec.Entries))) {
				// Balance version conflict; re-read and retry.
				continue
			}
		}
		return nil, false, fmt.Errorf("failed to execute settlement transaction: %w", err)
	}
	return nil, false, storage.ErrConcurrentModification
}

// FailOperation moves a non-terminal operation to FAILED or CANCELLED and
// releases its reservation. No ledger entries are written: nothing left the
// platform. Replays are no-ops.
func (s *Store) FailOperation(ctx context.Context, opID string, terminal models.OperationStatus, reason string) (*models.SettlementOperation, bool, error) {
	if terminal != models.FAILED && terminal != models.CANCELLED {
		return nil, false, fmt.Errorf("%w: %s is not a failure state", storage.ErrInvalidTransition, terminal)
	}

	for attempt := 0; attempt < maxMutationAttempts; attempt++ {
		op, err := s.GetOperation(ctx, opID)
		if err != nil {
			return nil, false, err
		}
		if op.Terminal() {
			if terminal == models.CANCELLED && op.Status != models.CANCELLED {
				return op, false, storage.ErrOperationNotCancellable
			}
			return op, false, nil
		}

		balance, err := s.GetBalance(ctx, op.MerchantId, op.Currency)
		if err != nil {
			return nil, false, err
		}
		if balance.Reserved < op.ReservedAmount {
			return nil, false, storage.ErrInsufficientReserved
		}

		input := &dynamodb.TransactWriteItemsInput{
			TransactItems: []types.TransactWriteItem{
				s.operationStatusUpdate(opID, terminal, "", reason),
				s.balanceUpdateItem(balance, mutReleaseReserved, op.ReservedAmount),
			},
		}

		_, err = s.Client.TransactWriteItems(ctx, input)
		if err == nil {
			op.Status = terminal
			op.FailureReason = reason
			op.UpdatedAt = s.Clock.Now()
			return op, true, nil
		}

		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) && (conditionFailed(tce, 0) || conditionFailed(tce, 1)) {
			continue
		}
		return nil, false, fmt.Errorf("failed to execute release transaction: %w", err)
	}
	return nil, false, storage.ErrConcurrentModification
}

// RequeueOperation moves IN_TRANSIT back to RESERVED after a retryable
// provider failure. The reservation stays held for the next attempt.
func (s *Store) RequeueOperation(ctx context.Context, opID, reason string) (*models.SettlementOperation, error) {
	nowAV, err := attributevalue.Marshal(s.Clock.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal timestamp: %w", err)
	}

	input := &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.OperationsTableName),
		Key:                 map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: opID}},
		UpdateExpression:    aws.String("SET #status = :reserved, failure_reason = :reason, updated_at = :now"),
		ConditionExpression: aws.String("#status = :in_transit"),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":reserved":   &types.AttributeValueMemberS{Value: string(models.RESERVED)},
			":in_transit": &types.AttributeValueMemberS{Value: string(models.IN_TRANSIT)},
			":reason":     &types.AttributeValueMemberS{Value: reason},
			":now":        nowAV,
		},
		ReturnValues: types.ReturnValueAllNew,
	}

	result, err := s.Client.UpdateItem(ctx, input)
	if err != nil {
		var condCheckFailed *types.ConditionalCheckFailedException
		if errors.As(err, &condCheckFailed) {
			return nil, storage.ErrInvalidTransition
		}
		return nil, fmt.Errorf("failed to requeue operation: %w", err)
	}

	var op models.SettlementOperation
	if err := attributevalue.UnmarshalMap(result.Attributes, &op); err != nil {
		return nil, fmt.Errorf("failed to unmarshal operation: %w", err)
	}
	return &op, nil
}
