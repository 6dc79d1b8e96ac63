// Package memory provides an in-memory Storage implementation. It mirrors the
// DynamoDB store's semantics (single atomic unit per mutation, conditional
// status transitions) behind one mutex, and backs tests and local development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidepay/ledger-engine/pkg/clock"
	"github.com/tidepay/ledger-engine/pkg/ledger"
	"github.com/tidepay/ledger-engine/pkg/models"
	"github.com/tidepay/ledger-engine/pkg/storage"
)

type balanceKey struct {
	merchantID string
	currency   string
}

// Store is an in-memory implementation of storage.Storage. The single mutex
// makes every mutation an atomic unit, the same guarantee the DynamoDB
// implementation gets from TransactWriteItems.
type Store struct {
	mu         sync.Mutex
	clk        clock.Clock
	balances   map[balanceKey]*models.Balance
	entries    []models.LedgerEntry
	operations map[string]*models.SettlementOperation
}

// New creates an empty in-memory store.
func New(clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.System{}
	}
	return &Store{
		clk:        clk,
		balances:   make(map[balanceKey]*models.Balance),
		operations: make(map[string]*models.SettlementOperation),
	}
}

// Make sure we conform to the interface
var _ storage.Storage = (*Store)(nil)

func (s *Store) getOrCreateLocked(merchantID, currency string) *models.Balance {
	key := balanceKey{merchantID, currency}
	if b, ok := s.balances[key]; ok {
		return b
	}
	now := s.clk.Now()
	b := &models.Balance{
		MerchantId:        merchantID,
		Currency:          currency,
		Version:           1,
		LastTransactionAt: now,
		CreatedAt:         now,
	}
	s.balances[key] = b
	return b
}

func (s *Store) appendEntriesLocked(merchantID string, rec *models.TransactionRecord) string {
	txID := uuid.New().String()
	now := s.clk.Now()
	for _, in := range rec.Entries {
		s.entries = append(s.entries, models.LedgerEntry{
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
		})
	}
	return txID
}

func (s *Store) touchLocked(b *models.Balance, boundary bool, amount int64) {
	b.Version++
	b.LastTransactionAt = s.clk.Now()
	if boundary {
		b.TotalVolume += amount
	}
}

func copyBalance(b *models.Balance) *models.Balance {
	cp := *b
	return &cp
}

// GetBalance retrieves the balance for one (merchant, currency) pair.
func (s *Store) GetBalance(ctx context.Context, merchantID, currency string) (*models.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.balances[balanceKey{merchantID, currency}]
	if !ok {
		return nil, storage.ErrBalanceNotFound
	}
	return copyBalance(b), nil
}

// ListBalances retrieves every currency balance held by a merchant.
func (s *Store) ListBalances(ctx context.Context, merchantID string) ([]models.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Balance
	for key, b := range s.balances {
		if key.merchantID == merchantID {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Currency < out[j].Currency })
	return out, nil
}

// GetOrCreateBalance returns the existing row or creates a zeroed one.
func (s *Store) GetOrCreateBalance(ctx context.Context, merchantID, currency string) (*models.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyBalance(s.getOrCreateLocked(merchantID, currency)), nil
}

func (s *Store) mutate(merchantID, currency string, amount int64, boundary bool, rec *models.TransactionRecord,
	check func(*models.Balance) error, apply func(*models.Balance)) (*models.Balance, error) {

	if amount <= 0 {
		return nil, storage.ErrInvalidAmount
	}
	if boundary {
		if rec == nil {
			return nil, ledger.ErrEmptyTransaction
		}
		if err := ledger.Validate(rec); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.getOrCreateLocked(merchantID, currency)
	if err := check(b); err != nil {
		return nil, err
	}
	apply(b)
	s.touchLocked(b, boundary, amount)
	if boundary {
		s.appendEntriesLocked(merchantID, rec)
	}
	return copyBalance(b), nil
}

// CreditAvailable adds to the available bucket.
func (s *Store) CreditAvailable(ctx context.Context, merchantID, currency string, amount int64, rec *models.TransactionRecord) (*models.Balance, error) {
	return s.mutate(merchantID, currency, amount, true, rec,
		func(*models.Balance) error { return nil },
		func(b *models.Balance) { b.Available += amount })
}

// CreditPending adds collected-but-unsettled funds to the pending bucket.
func (s *Store) CreditPending(ctx context.Context, merchantID, currency string, amount int64, rec *models.TransactionRecord) (*models.Balance, error) {
	return s.mutate(merchantID, currency, amount, true, rec,
		func(*models.Balance) error { return nil },
		func(b *models.Balance) { b.Pending += amount })
}

// DebitAvailable removes funds from the available bucket.
func (s *Store) DebitAvailable(ctx context.Context, merchantID, currency string, amount int64, rec *models.TransactionRecord) (*models.Balance, error) {
	return s.mutate(merchantID, currency, amount, true, rec,
		func(b *models.Balance) error {
			if b.Available < amount {
				return storage.ErrInsufficientBalance
			}
			return nil
		},
		func(b *models.Balance) { b.Available -= amount })
}

// DebitPending removes funds from the pending bucket.
func (s *Store) DebitPending(ctx context.Context, merchantID, currency string, amount int64, rec *models.TransactionRecord) (*models.Balance, error) {
	return s.mutate(merchantID, currency, amount, true, rec,
		func(b *models.Balance) error {
			if b.Pending < amount {
				return storage.ErrInsufficientPending
			}
			return nil
		},
		func(b *models.Balance) { b.Pending -= amount })
}

// ProcessReserved extinguishes a completed hold.
func (s *Store) ProcessReserved(ctx context.Context, merchantID, currency string, amount int64, rec *models.TransactionRecord) (*models.Balance, error) {
	return s.mutate(merchantID, currency, amount, true, rec,
		func(b *models.Balance) error {
			if b.Reserved < amount {
				return storage.ErrInsufficientReserved
			}
			return nil
		},
		func(b *models.Balance) { b.Reserved -= amount })
}

// Reserve moves available -> reserved.
func (s *Store) Reserve(ctx context.Context, merchantID, currency string, amount int64) (*models.Balance, error) {
	return s.mutate(merchantID, currency, amount, false, nil,
		func(b *models.Balance) error {
			if b.Available < amount {
				return storage.ErrInsufficientBalance
			}
			return nil
		},
		func(b *models.Balance) { b.Available -= amount; b.Reserved += amount })
}

// ReleaseReserved moves reserved -> available.
func (s *Store) ReleaseReserved(ctx context.Context, merchantID, currency string, amount int64) (*models.Balance, error) {
	return s.mutate(merchantID, currency, amount, false, nil,
		func(b *models.Balance) error {
			if b.Reserved < amount {
				return storage.ErrInsufficientReserved
			}
			return nil
		},
		func(b *models.Balance) { b.Reserved -= amount; b.Available += amount })
}

// SettlePending moves pending -> available.
func (s *Store) SettlePending(ctx context.Context, merchantID, currency string, amount int64) (*models.Balance, error) {
	return s.mutate(merchantID, currency, amount, false, nil,
		func(b *models.Balance) error {
			if b.Pending < amount {
				return storage.ErrInsufficientPending
			}
			return nil
		},
		func(b *models.Balance) { b.Pending -= amount; b.Available += amount })
}

// SettleAllPending sweeps the whole pending bucket into available.
func (s *Store) SettleAllPending(ctx context.Context, merchantID, currency string) (*models.Balance, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.getOrCreateLocked(merchantID, currency)
	amount := b.Pending
	if amount == 0 {
		return copyBalance(b), 0, nil
	}
	b.Pending = 0
	b.Available += amount
	s.touchLocked(b, false, amount)
	return copyBalance(b), amount, nil
}

// RecordTransaction validates the record and appends all entries under one
// transaction id.
func (s *Store) RecordTransaction(ctx context.Context, merchantID string, rec *models.TransactionRecord) (string, error) {
	if rec == nil {
		return "", ledger.ErrEmptyTransaction
	}
	if err := ledger.Validate(rec); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendEntriesLocked(merchantID, rec), nil
}

// ListEntriesByTransaction retrieves every entry posted under one transaction id.
func (s *Store) ListEntriesByTransaction(ctx context.Context, transactionID string) ([]models.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.LedgerEntry
	for _, e := range s.entries {
		if e.TransactionID == transactionID {
			out = append(out, e)
		}
	}
	return out, nil
}

// ListMerchantEntries retrieves a merchant's entries posted inside [from, to).
func (s *Store) ListMerchantEntries(ctx context.Context, merchantID string, from, to time.Time) ([]models.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.LedgerEntry
	for _, e := range s.entries {
		if e.MerchantId == merchantID && !e.PostedAt.Before(from) && e.PostedAt.Before(to) {
			out = append(out, e)
		}
	}
	return out, nil
}

// ListAccountEntries retrieves the entries for one account, optionally
// restricted to a currency.
func (s *Store) ListAccountEntries(ctx context.Context, merchantID string, accountType models.AccountType, accountName, currency string) ([]models.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.LedgerEntry
	for _, e := range s.entries {
		if e.MerchantId != merchantID || e.AccountType != accountType || e.AccountName != accountName {
			continue
		}
		if currency != "" && e.Currency != currency {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// ListRecentEntries retrieves the most recent entries across all merchants.
func (s *Store) ListRecentEntries(ctx context.Context, limit int32) ([]models.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.LedgerEntry, len(s.entries))
	copy(out, s.entries)
	sort.Slice(out, func(i, j int) bool { return out[i].PostedAt.After(out[j].PostedAt) })
	if int32(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

// GetAccountBalance recomputes an account balance purely from entries.
func (s *Store) GetAccountBalance(ctx context.Context, merchantID string, accountType models.AccountType, accountName, currency string) (int64, error) {
	entries, err := s.ListAccountEntries(ctx, merchantID, accountType, accountName, currency)
	if err != nil {
		return 0, err
	}
	return ledger.AccountBalance(accountType, entries), nil
}

// GetOperation retrieves a settlement operation by id.
func (s *Store) GetOperation(ctx context.Context, opID string) (*models.SettlementOperation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok := s.operations[opID]
	if !ok {
		return nil, storage.ErrOperationNotFound
	}
	cp := *op
	return &cp, nil
}

// ListOperationsByMerchant retrieves a merchant's operations, optionally
// filtered by status.
func (s *Store) ListOperationsByMerchant(ctx context.Context, merchantID string, status models.OperationStatus) ([]models.SettlementOperation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.SettlementOperation
	for _, op := range s.operations {
		if op.MerchantId != merchantID {
			continue
		}
		if status != "" && op.Status != status {
			continue
		}
		out = append(out, *op)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// GetStuckOperations retrieves operations sitting in IN_TRANSIT for longer
// than maxAge.
func (s *Store) GetStuckOperations(ctx context.Context, maxAge time.Duration) ([]models.SettlementOperation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.clk.Now().Add(-maxAge)
	var out []models.SettlementOperation
	for _, op := range s.operations {
		if op.Status == models.IN_TRANSIT && op.UpdatedAt.Before(cutoff) {
			out = append(out, *op)
		}
	}
	return out, nil
}

// CreateOperation atomically reserves op.ReservedAmount and persists the
// operation in RESERVED.
func (s *Store) CreateOperation(ctx context.Context, op *models.SettlementOperation) (*models.SettlementOperation, error) {
	if op.ReservedAmount <= 0 {
		return nil, storage.ErrInvalidAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.getOrCreateLocked(op.MerchantId, op.Currency)
	if b.Available < op.ReservedAmount {
		return nil, storage.ErrInsufficientBalance
	}

	now := s.clk.Now()
	op.Id = uuid.New().String()
	op.Status = models.RESERVED
	op.ReservationRef = op.Id
	op.CreatedAt = now
	op.UpdatedAt = now

	b.Available -= op.ReservedAmount
	b.Reserved += op.ReservedAmount
	s.touchLocked(b, false, op.ReservedAmount)

	cp := *op
	s.operations[op.Id] = &cp
	return op, nil
}

// MarkInTransit transitions RESERVED -> IN_TRANSIT.
func (s *Store) MarkInTransit(ctx context.Context, opID string) (*models.SettlementOperation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	op, ok := s.operations[opID]
	if !ok {
		return nil, storage.ErrOperationNotFound
	}
	if op.Status != models.RESERVED {
		return nil, storage.ErrInvalidTransition
	}
	op.Status = models.IN_TRANSIT
	op.AttemptCount++
	op.UpdatedAt = s.clk.Now()
	cp := *op
	return &cp, nil
}

// CompleteOperation finalizes a successful transfer in one atomic unit.
func (s *Store) CompleteOperation(ctx context.Context, opID, providerRef string, rec *models.TransactionRecord, fxLeg *models.TransactionRecord) (*models.SettlementOperation, bool, error) {
	if rec == nil {
		return nil, false, ledger.ErrEmptyTransaction
	}
	if err := ledger.Validate(rec); err != nil {
		return nil, false, err
	}
	if fxLeg != nil {
		if err := ledger.Validate(fxLeg); err != nil {
			return nil, false, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	op, ok := s.operations[opID]
	if !ok {
		return nil, false, storage.ErrOperationNotFound
	}
	if op.Terminal() {
		cp := *op
		return &cp, false, nil
	}

	b := s.getOrCreateLocked(op.MerchantId, op.Currency)
	if b.Reserved < op.ReservedAmount {
		return nil, false, storage.ErrInsufficientReserved
	}

	b.Reserved -= op.ReservedAmount
	s.touchLocked(b, true, op.ReservedAmount)
	s.appendEntriesLocked(op.MerchantId, rec)

	if fxLeg != nil {
		converted := op.ConvertedAmount()
		cb := s.getOrCreateLocked(op.MerchantId, op.CounterCurrency)
		cb.Available += converted
		s.touchLocked(cb, true, converted)
		s.appendEntriesLocked(op.MerchantId, fxLeg)
	}

	op.Status = models.COMPLETED
	op.ProviderReference = providerRef
	op.UpdatedAt = s.clk.Now()
	cp := *op
	return &cp, true, nil
}

// FailOperation moves a non-terminal operation to FAILED or CANCELLED and
// releases its reservation.
func (s *Store) FailOperation(ctx context.Context, opID string, terminal models.OperationStatus, reason string) (*models.SettlementOperation, bool, error) {
	if terminal != models.FAILED && terminal != models.CANCELLED {
		return nil, false, storage.ErrInvalidTransition
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	op, ok := s.operations[opID]
	if !ok {
		return nil, false, storage.ErrOperationNotFound
	}
	if op.Terminal() {
		if terminal == models.CANCELLED && op.Status != models.CANCELLED {
			cp := *op
			return &cp, false, storage.ErrOperationNotCancellable
		}
		cp := *op
		return &cp, false, nil
	}

	b := s.getOrCreateLocked(op.MerchantId, op.Currency)
	if b.Reserved < op.ReservedAmount {
		return nil, false, storage.ErrInsufficientReserved
	}
	b.Reserved -= op.ReservedAmount
	b.Available += op.ReservedAmount
	s.touchLocked(b, false, op.ReservedAmount)

	op.Status = terminal
	op.FailureReason = reason
	op.UpdatedAt = s.clk.Now()
	cp := *op
	return &cp, true, nil
}

// RequeueOperation moves IN_TRANSIT back to RESERVED.
func (s *Store) RequeueOperation(ctx context.Context, opID, reason string) (*models.SettlementOperation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	op, ok := s.operations[opID]
	if !ok {
		return nil, storage.ErrOperationNotFound
	}
	if op.Status != models.IN_TRANSIT {
		return nil, storage.ErrInvalidTransition
	}
	op.Status = models.RESERVED
	op.FailureReason = reason
	op.UpdatedAt = s.clk.Now()
	cp := *op
	return &cp, nil
}
