package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/joho/godotenv"

	"github.com/tidepay/ledger-engine/pkg/clock"
	"github.com/tidepay/ledger-engine/pkg/reconciliation"
	"github.com/tidepay/ledger-engine/pkg/scheduler"
	"github.com/tidepay/ledger-engine/pkg/storage"
	dydbstore "github.com/tidepay/ledger-engine/pkg/storage/dynamodb"
)

var (
	store        storage.Storage
	sqsScheduler scheduler.Scheduler
	auditor      *reconciliation.Auditor
)

const (
	stuckOperationThreshold = 20 * time.Minute
	anomalyThreshold        = 10_000_000
	auditBatchSize          = 500
)

func init() {
	// Load environment variables for local testing.
	godotenv.Load()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	cfg, err := config.LoadDefaultConfig(context.TODO())
	if err != nil {
		log.Fatalf("unable to load SDK config, %v", err)
	}

	dbClient := dynamodb.NewFromConfig(cfg)
	sqsClient := sqs.NewFromConfig(cfg)

	// Initialize dependencies.
	sqsQueueURL := os.Getenv("SQS_QUEUE_URL")
	if sqsQueueURL == "" {
		log.Fatal("SQS_QUEUE_URL environment variable not set")
	}
	sqsScheduler = scheduler.NewSQSScheduler(sqsClient, sqsQueueURL)

	balancesTable := os.Getenv("DYNAMODB_BALANCES_TABLE_NAME")
	ledgerTable := os.Getenv("DYNAMODB_LEDGER_TABLE_NAME")
	operationsTable := os.Getenv("DYNAMODB_OPERATIONS_TABLE_NAME")
	if balancesTable == "" || ledgerTable == "" || operationsTable == "" {
		log.Fatal("One or more DynamoDB table name environment variables are not set")
	}

	store = dydbstore.New(dbClient, clock.System{}, balancesTable, ledgerTable, operationsTable)
	auditor = reconciliation.NewAuditor(store, anomalyThreshold)
}

// HandleRequest is triggered by an EventBridge Schedule. It re-enqueues
// operations stuck in transit, then audits recent journal activity and the
// balances it touched.
func HandleRequest(ctx context.Context) error {
	log.Println("Starting reconciliation pass...")

	if err := requeueStuck(ctx); err != nil {
		return err
	}
	if err := auditRecent(ctx); err != nil {
		return err
	}

	log.Println("Reconciliation pass finished.")
	return nil
}

func requeueStuck(ctx context.Context) error {
	stuckOps, err := store.GetStuckOperations(ctx, stuckOperationThreshold)
	if err != nil {
		log.Printf("ERROR: failed to get stuck operations: %v", err)
		return err
	}

	if len(stuckOps) == 0 {
		log.Println("No stuck operations found.")
		return nil
	}

	log.Printf("Found %d stuck operations. Re-enqueuing them...", len(stuckOps))

	for _, op := range stuckOps {
		if _, err := store.RequeueOperation(ctx, op.Id, "stuck in transit"); err != nil {
			log.Printf("ERROR: failed to requeue operation %s: %v", op.Id, err)
			// Continue to the next operation, don't let one failure stop the whole batch.
			continue
		}
		job := scheduler.DispatchJob{
			OperationID: op.Id,
			MerchantID:  op.MerchantId,
			Attempt:     op.AttemptCount + 1,
		}
		if err := sqsScheduler.ScheduleDispatch(ctx, job); err != nil {
			log.Printf("ERROR: failed to re-enqueue operation %s: %v", op.Id, err)
			continue
		}
		log.Printf("Successfully re-enqueued operation %s", op.Id)
	}
	return nil
}

// auditRecent validates every transaction that appears in the most recent
// journal window and drift-checks each merchant it touched.
func auditRecent(ctx context.Context) error {
	entries, err := store.ListRecentEntries(ctx, auditBatchSize)
	if err != nil {
		log.Printf("ERROR: failed to list recent entries: %v", err)
		return err
	}

	seenTx := make(map[string]bool)
	merchants := make(map[string]bool)
	var unbalanced int
	for _, e := range entries {
		merchants[e.MerchantId] = true
		if seenTx[e.TransactionID] {
			continue
		}
		seenTx[e.TransactionID] = true

		check, err := auditor.ValidateTransactionBalance(ctx, e.TransactionID)
		if err != nil {
			log.Printf("ERROR: failed to validate transaction %s: %v", e.TransactionID, err)
			continue
		}
		if !check.Balanced {
			unbalanced++
			log.Printf("ALERT: transaction %s is unbalanced (debits %d, credits %d)",
				e.TransactionID, check.TotalDebits, check.TotalCredits)
		}
	}

	var drifted []reconciliation.DriftReport
	var anomalies []reconciliation.Anomaly
	windowStart := time.Now().UTC().Add(-24 * time.Hour)
	for merchantID := range merchants {
		reports, err := auditor.ReconcileMerchant(ctx, merchantID)
		if err != nil {
			log.Printf("ERROR: failed to reconcile merchant %s: %v", merchantID, err)
			continue
		}
		drifted = append(drifted, reports...)

		found, err := auditor.DetectAnomalies(ctx, merchantID, windowStart, time.Now().UTC())
		if err != nil {
			log.Printf("ERROR: failed to scan merchant %s for anomalies: %v", merchantID, err)
			continue
		}
		anomalies = append(anomalies, found...)
	}

	log.Printf("Audited %d transactions across %d merchants: %d unbalanced, %d drifted, %d anomalies",
		len(seenTx), len(merchants), unbalanced, len(drifted), len(anomalies))
	for _, a := range anomalies {
		log.Printf("ALERT: anomalous entry %s (merchant %s, %d %s): %s",
			a.EntryID, a.MerchantID, a.Amount, a.Currency, a.Reason)
	}
	for _, d := range drifted {
		log.Printf("ALERT: merchant %s %s drifted by %d (stored %d, ledger %d)",
			d.MerchantID, d.Currency, d.Drift, d.StoredTotal, d.LedgerTotal)
	}
	return nil
}

func main() {
	lambda.Start(HandleRequest)
}
