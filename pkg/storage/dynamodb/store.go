package dynamodb

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/tidepay/ledger-engine/pkg/clock"
	"github.com/tidepay/ledger-engine/pkg/storage"
)

// DynamoDBAPI is the subset of the DynamoDB client the store uses. Declared
// here so tests can substitute a mock.
type DynamoDBAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Store implements the Storage interface using AWS DynamoDB. A balance
// mutation and its paired ledger entries always travel in one
// TransactWriteItems call: either everything commits or nothing does.
type Store struct {
	Client              DynamoDBAPI
	Clock               clock.Clock
	BalancesTableName   string
	LedgerTableName     string
	OperationsTableName string
}

// New creates a new Store.
func New(client DynamoDBAPI, clk clock.Clock, balancesTable, ledgerTable, operationsTable string) *Store {
	if clk == nil {
		clk = clock.System{}
	}
	return &Store{
		Client:              client,
		Clock:               clk,
		BalancesTableName:   balancesTable,
		LedgerTableName:     ledgerTable,
		OperationsTableName: operationsTable,
	}
}

// Make sure we conform to the interface
var _ storage.Storage = (*Store)(nil)

// maxMutationAttempts bounds the internal retry on version conflicts before
// the store surfaces ErrConcurrentModification.
const maxMutationAttempts = 3

const (
	transactionIDIndex   = "transaction_id-index"
	merchantPostedAtGSI  = "merchant_id-posted_at-index"
	recentEntriesGSI     = "gsi1pk-posted_at-index"
	merchantStatusGSI    = "merchant_id-status-index"
	statusUpdatedAtGSI   = "status-updated_at-index"
	recentEntriesGSIPKey = "LEDGER_ENTRIES"
)
