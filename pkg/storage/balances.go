package storage

import (
	"context"

	"github.com/tidepay/ledger-engine/pkg/models"
)

// BalanceReader defines read access to balance rows.
type BalanceReader interface {
	// GetBalance retrieves the balance for one (merchant, currency) pair.
	GetBalance(ctx context.Context, merchantID, currency string) (*models.Balance, error)

	// ListBalances retrieves every currency balance held by a merchant.
	ListBalances(ctx context.Context, merchantID string) ([]models.Balance, error)
}

// BalanceStore is the only component that mutates balance rows. Every
// operation is a single bucket transfer that either fully applies or fully
// fails; no partial state is ever visible.
//
// Boundary operations (money enters or leaves the platform) take the balanced
// ledger record written in the same atomic unit as the bucket change. Bucket
// transfers conserve the balance total and write no ledger entries.
type BalanceStore interface {
	BalanceReader

	// GetOrCreateBalance returns the existing row or creates a zeroed one.
	// Creation writes no ledger entries: a balance with no volume has no
	// financial history.
	GetOrCreateBalance(ctx context.Context, merchantID, currency string) (*models.Balance, error)

	// CreditAvailable adds to the available bucket. Crediting cannot violate
	// non-negativity, so it always succeeds once the row exists.
	CreditAvailable(ctx context.Context, merchantID, currency string, amount int64, rec *models.TransactionRecord) (*models.Balance, error)

	// CreditPending adds collected-but-unsettled funds to the pending bucket.
	CreditPending(ctx context.Context, merchantID, currency string, amount int64, rec *models.TransactionRecord) (*models.Balance, error)

	// DebitAvailable removes funds from the available bucket, failing with
	// ErrInsufficientBalance when it cannot cover the amount.
	DebitAvailable(ctx context.Context, merchantID, currency string, amount int64, rec *models.TransactionRecord) (*models.Balance, error)

	// DebitPending removes funds from the pending bucket (refund of an
	// unsettled collection), failing with ErrInsufficientPending.
	DebitPending(ctx context.Context, merchantID, currency string, amount int64, rec *models.TransactionRecord) (*models.Balance, error)

	// ProcessReserved extinguishes a hold whose transfer completed: the money
	// leaves the platform entirely.
	ProcessReserved(ctx context.Context, merchantID, currency string, amount int64, rec *models.TransactionRecord) (*models.Balance, error)

	// Reserve moves available -> reserved; the balance total is unchanged.
	Reserve(ctx context.Context, merchantID, currency string, amount int64) (*models.Balance, error)

	// ReleaseReserved moves reserved -> available (hold abandoned).
	ReleaseReserved(ctx context.Context, merchantID, currency string, amount int64) (*models.Balance, error)

	// SettlePending moves pending -> available once a settlement window clears.
	SettlePending(ctx context.Context, merchantID, currency string, amount int64) (*models.Balance, error)

	// SettleAllPending sweeps the whole pending bucket into available and
	// returns the amount moved.
	SettleAllPending(ctx context.Context, merchantID, currency string) (*models.Balance, int64, error)
}
