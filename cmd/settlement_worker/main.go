package main

import (
	"context"
	"encoding/json"
	"log"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/joho/godotenv"

	"github.com/tidepay/ledger-engine/pkg/clock"
	"github.com/tidepay/ledger-engine/pkg/scheduler"
	"github.com/tidepay/ledger-engine/pkg/settlement"
	dydbstore "github.com/tidepay/ledger-engine/pkg/storage/dynamodb"
)

var orchestrator *settlement.Orchestrator

func init() {
	// Load environment variables from .env file (useful for local testing).
	err := godotenv.Load()
	if err != nil {
		log.Println("No .env file found, using environment variables")
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	// Initialize dependencies once.
	cfg, err := config.LoadDefaultConfig(context.TODO())
	if err != nil {
		log.Fatalf("unable to load SDK config, %v", err)
	}

	dbClient := dynamodb.NewFromConfig(cfg)
	balancesTable := os.Getenv("DYNAMODB_BALANCES_TABLE_NAME")
	ledgerTable := os.Getenv("DYNAMODB_LEDGER_TABLE_NAME")
	operationsTable := os.Getenv("DYNAMODB_OPERATIONS_TABLE_NAME")

	if balancesTable == "" || ledgerTable == "" || operationsTable == "" {
		log.Fatal("One or more DynamoDB table name environment variables are not set")
	}

	store := dydbstore.New(dbClient, clock.System{}, balancesTable, ledgerTable, operationsTable)

	// Retryable failures are re-enqueued onto the same queue.
	sqsQueueURL := os.Getenv("SQS_QUEUE_URL")
	if sqsQueueURL == "" {
		log.Fatal("SQS_QUEUE_URL environment variable not set")
	}
	sqsScheduler := scheduler.NewSQSScheduler(sqs.NewFromConfig(cfg), sqsQueueURL)

	// TODO: swap FakeGateway for the real provider client once its
	// sandbox credentials are provisioned.
	orchestrator = settlement.NewOrchestrator(store, &settlement.FlatRateCalculator{}, settlement.NewFakeGateway(), sqsScheduler)
}

// HandleRequest processes SQS dispatch jobs, pushing each operation to the
// provider and resolving synchronous outcomes.
func HandleRequest(ctx context.Context, sqsEvent events.SQSEvent) error {
	for _, message := range sqsEvent.Records {
		log.Printf("Processing message %s", message.MessageId)

		var job scheduler.DispatchJob
		if err := json.Unmarshal([]byte(message.Body), &job); err != nil {
			log.Printf("ERROR: failed to unmarshal dispatch job from SQS message %s: %v", message.MessageId, err)
			// Returning an error will cause SQS to retry the message, which is appropriate here.
			return err
		}

		op, err := orchestrator.Dispatch(ctx, job.OperationID)
		if err != nil {
			log.Printf("ERROR: failed to dispatch operation %s: %v", job.OperationID, err)
			// In a production system, persistent failures would be sent to a DLQ.
			return err
		}

		log.Printf("Dispatched operation %s, status %s", op.Id, op.Status)
	}

	return nil
}

func main() {
	lambda.Start(HandleRequest)
}
