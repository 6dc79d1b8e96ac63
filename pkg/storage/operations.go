package storage

import (
	"context"
	"time"

	"github.com/tidepay/ledger-engine/pkg/models"
)

// OperationReader defines read access to settlement operations.
type OperationReader interface {
	// GetOperation retrieves a settlement operation by id.
	GetOperation(ctx context.Context, opID string) (*models.SettlementOperation, error)

	// ListOperationsByMerchant retrieves a merchant's operations, optionally
	// filtered by status (empty status means all).
	ListOperationsByMerchant(ctx context.Context, merchantID string, status models.OperationStatus) ([]models.SettlementOperation, error)

	// GetStuckOperations retrieves operations sitting in IN_TRANSIT for
	// longer than maxAge, for the external monitor to re-drive.
	GetStuckOperations(ctx context.Context, maxAge time.Duration) ([]models.SettlementOperation, error)
}

// OperationStore is the privileged interface the settlement orchestrator
// drives. Every transition pairs the operation-status write with its matching
// balance mutation and ledger entries in one atomic unit.
type OperationStore interface {
	OperationReader

	// CreateOperation atomically reserves op.ReservedAmount from the
	// merchant's available bucket and persists the operation in RESERVED.
	// If the reservation fails the operation is never created.
	CreateOperation(ctx context.Context, op *models.SettlementOperation) (*models.SettlementOperation, error)

	// MarkInTransit transitions RESERVED -> IN_TRANSIT, recording the
	// dispatch attempt. Fails with ErrInvalidTransition if the operation is
	// not RESERVED.
	MarkInTransit(ctx context.Context, opID string) (*models.SettlementOperation, error)

	// CompleteOperation transitions IN_TRANSIT (or RESERVED, for synchronous
	// providers) -> COMPLETED: the hold is processed out of the platform and
	// the settlement ledger entries are written, all in one atomic unit.
	// A replay against a terminal operation is a no-op returning the stored
	// state with applied=false.
	CompleteOperation(ctx context.Context, opID, providerRef string, rec *models.TransactionRecord, fxLeg *models.TransactionRecord) (*models.SettlementOperation, bool, error)

	// FailOperation transitions a non-terminal operation to FAILED or
	// CANCELLED, releasing its reservation back to available. No ledger
	// entries are written: nothing left the platform. Replays are no-ops.
	FailOperation(ctx context.Context, opID string, terminal models.OperationStatus, reason string) (*models.SettlementOperation, bool, error)

	// RequeueOperation transitions IN_TRANSIT back to RESERVED after a
	// retryable provider failure, incrementing nothing; the reservation
	// stays held for the next attempt.
	RequeueOperation(ctx context.Context, opID, reason string) (*models.SettlementOperation, error)
}
