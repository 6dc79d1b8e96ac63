package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/joho/godotenv"

	"github.com/tidepay/ledger-engine/pkg/clock"
	"github.com/tidepay/ledger-engine/pkg/collection"
	"github.com/tidepay/ledger-engine/pkg/handlers"
	"github.com/tidepay/ledger-engine/pkg/reconciliation"
	"github.com/tidepay/ledger-engine/pkg/scheduler"
	"github.com/tidepay/ledger-engine/pkg/settlement"
	dydbstore "github.com/tidepay/ledger-engine/pkg/storage/dynamodb"
)

// anomalyThreshold flags any single ledger entry at or above this amount
// (minor units) during on-demand reconciliation.
const anomalyThreshold = 10_000_000

func main() {
	// Load environment variables from .env file
	err := godotenv.Load()
	if err != nil {
		log.Println("No .env file found, using environment variables")
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// AWS Session
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

	// SQS Client and Scheduler
	sqsClient := sqs.NewFromConfig(cfg)
	sqsQueueURL := os.Getenv("SQS_QUEUE_URL")
	if sqsQueueURL == "" {
		log.Fatal("SQS_QUEUE_URL environment variable not set")
	}
	sqsScheduler := scheduler.NewSQSScheduler(sqsClient, sqsQueueURL)

	// Create our storage implementation
	store := dydbstore.New(dbClient, clock.System{}, balancesTable, ledgerTable, operationsTable)

	fees := &settlement.FlatRateCalculator{
		BasisPoints: envInt64("FEE_BASIS_POINTS", 250),
		FixedFee:    envInt64("FEE_FIXED", 30),
	}

	// The API only creates, cancels and resolves operations; dispatch runs
	// in the settlement worker, so no gateway is wired here.
	orchestrator := settlement.NewOrchestrator(store, fees, nil, sqsScheduler)
	recorder := collection.NewRecorder(store, fees)
	auditor := reconciliation.NewAuditor(store, anomalyThreshold)

	router := handlers.NewRouter(handlers.Deps{
		Store:        store,
		Orchestrator: orchestrator,
		Recorder:     recorder,
		Auditor:      auditor,
		Logger:       logger,
	})

	port := os.Getenv("HTTP_PORT")
	if port == "" {
		port = "8080" // Default port if not specified
	}

	log.Printf("Starting server on port %s", port)

	// Start the server
	err = http.ListenAndServe(":"+port, router)
	if err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}
}

func envInt64(key string, fallback int64) int64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		log.Fatalf("invalid %s: %v", key, err)
	}
	return v
}
