package storage

import (
	"context"
	"time"

	"github.com/tidepay/ledger-engine/pkg/models"
)

// LedgerReader defines read access to the append-only journal. It is the
// surface the reconciliation auditor and the API depend on; it never blocks
// a writer because entries are immutable once posted.
type LedgerReader interface {
	// ListEntriesByTransaction retrieves every entry posted under one
	// transaction id.
	ListEntriesByTransaction(ctx context.Context, transactionID string) ([]models.LedgerEntry, error)

	// ListMerchantEntries retrieves a merchant's entries posted inside the
	// window [from, to).
	ListMerchantEntries(ctx context.Context, merchantID string, from, to time.Time) ([]models.LedgerEntry, error)

	// ListAccountEntries retrieves the entries for one account, optionally
	// restricted to a currency (empty string means all currencies).
	ListAccountEntries(ctx context.Context, merchantID string, accountType models.AccountType, accountName, currency string) ([]models.LedgerEntry, error)

	// ListRecentEntries retrieves the most recent entries across all merchants.
	ListRecentEntries(ctx context.Context, limit int32) ([]models.LedgerEntry, error)

	// GetAccountBalance recomputes an account balance purely from entries.
	// Audit-only derivation; live reads come from the balance row.
	GetAccountBalance(ctx context.Context, merchantID string, accountType models.AccountType, accountName, currency string) (int64, error)
}

// LedgerJournal appends balanced transactions to the journal. Most appends
// happen inside BalanceStore boundary mutations; RecordTransaction exists for
// flows that move no bucket (pure reclassifications).
type LedgerJournal interface {
	LedgerReader

	// RecordTransaction validates the record (non-empty, debits == credits)
	// and writes all entries under one freshly generated transaction id,
	// returning that id.
	RecordTransaction(ctx context.Context, merchantID string, rec *models.TransactionRecord) (string, error)
}
