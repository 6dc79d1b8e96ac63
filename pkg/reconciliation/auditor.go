// Package reconciliation audits the journal against the balance store. It
// never mutates either side; it reports drift and anomalies for operators
// to act on.
package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tidepay/ledger-engine/pkg/clock"
	"github.com/tidepay/ledger-engine/pkg/metrics"
	"github.com/tidepay/ledger-engine/pkg/models"
	"github.com/tidepay/ledger-engine/pkg/storage"
)

// ErrTransactionNotFound is returned when a transaction id has no entries.
var ErrTransactionNotFound = errors.New("transaction not found")

// merchantBalanceAccounts are the journal accounts mirroring the three
// balance buckets. Bucket transfers between them are not journaled, so
// reconciliation compares against the total across all three rather than
// any single bucket.
var merchantBalanceAccounts = []string{
	models.AcctMerchantAvailable,
	models.AcctMerchantPending,
	models.AcctMerchantReserved,
}

// BalanceCheck is the verdict on one transaction group.
type BalanceCheck struct {
	TransactionID string `json:"transaction_id"`
	EntryCount    int    `json:"entry_count"`
	TotalDebits   int64  `json:"total_debits"`
	TotalCredits  int64  `json:"total_credits"`
	Balanced      bool   `json:"balanced"`
}

// DriftReport compares the stored balance total for one merchant-currency
// pair against the total derived from the journal.
type DriftReport struct {
	MerchantID  string    `json:"merchant_id"`
	Currency    string    `json:"currency"`
	StoredTotal int64     `json:"stored_total"`
	LedgerTotal int64     `json:"ledger_total"`
	Drift       int64     `json:"drift"`
	CheckedAt   time.Time `json:"checked_at"`
}

// AccountReport exposes one journal account's derived balance. For the
// accounts mirroring a balance bucket, StoredBucket carries the bucket value
// for side-by-side comparison; it is nil for every other account.
type AccountReport struct {
	MerchantID    string `json:"merchant_id"`
	Currency      string `json:"currency"`
	AccountType   string `json:"account_type"`
	AccountName   string `json:"account_name"`
	LedgerBalance int64  `json:"ledger_balance"`
	StoredBucket  *int64 `json:"stored_bucket,omitempty"`
}

// Anomaly flags either one suspicious journal entry (EntryID set) or one
// account whose windowed activity dwarfs the merchant's other accounts
// (AccountName and EntryCount set).
type Anomaly struct {
	EntryID       string    `json:"entry_id,omitempty"`
	TransactionID string    `json:"transaction_id,omitempty"`
	MerchantID    string    `json:"merchant_id"`
	Currency      string    `json:"currency,omitempty"`
	AccountName   string    `json:"account_name,omitempty"`
	Amount        int64     `json:"amount"`
	EntryCount    int64     `json:"entry_count,omitempty"`
	PostedAt      time.Time `json:"posted_at,omitempty"`
	Reason        string    `json:"reason"`
}

// AuditReport is the result of one full audit pass.
type AuditReport struct {
	StartedAt  time.Time      `json:"started_at"`
	Unbalanced []BalanceCheck `json:"unbalanced_transactions"`
	Drifts     []DriftReport  `json:"drifts"`
	Anomalies  []Anomaly      `json:"anomalies"`
	EntryCount int            `json:"entries_examined"`
	Clean      bool           `json:"clean"`
}

// Auditor runs read-only consistency checks over one storage backend.
type Auditor struct {
	Store storage.ApiStore
	Clock clock.Clock

	// AnomalyThreshold flags any single entry at or above this amount.
	// Zero disables the absolute check.
	AnomalyThreshold int64
}

// NewAuditor constructs an Auditor on the system clock.
func NewAuditor(store storage.ApiStore, threshold int64) *Auditor {
	return &Auditor{Store: store, Clock: clock.System{}, AnomalyThreshold: threshold}
}

// ValidateTransactionBalance checks that one transaction's debits equal its
// credits across all entries posted under its id.
func (a *Auditor) ValidateTransactionBalance(ctx context.Context, transactionID string) (BalanceCheck, error) {
	entries, err := a.Store.ListEntriesByTransaction(ctx, transactionID)
	if err != nil {
		return BalanceCheck{}, err
	}
	if len(entries) == 0 {
		return BalanceCheck{}, fmt.Errorf("%w: %s", ErrTransactionNotFound, transactionID)
	}
	return checkGroup(transactionID, entries), nil
}

// ReconcileBalance compares the stored balance total for one merchant and
// currency against the journal-derived total across the merchant balance
// accounts, publishing the drift gauge either way.
func (a *Auditor) ReconcileBalance(ctx context.Context, merchantID, currency string) (DriftReport, error) {
	balance, err := a.Store.GetBalance(ctx, merchantID, currency)
	if err != nil {
		return DriftReport{}, err
	}

	var ledgerTotal int64
	for _, account := range merchantBalanceAccounts {
		amount, err := a.Store.GetAccountBalance(ctx, merchantID, models.AccountAssets, account, currency)
		if err != nil {
			return DriftReport{}, fmt.Errorf("deriving %s: %w", account, err)
		}
		ledgerTotal += amount
	}

	report := DriftReport{
		MerchantID:  merchantID,
		Currency:    currency,
		StoredTotal: balance.Total(),
		LedgerTotal: ledgerTotal,
		Drift:       balance.Total() - ledgerTotal,
		CheckedAt:   a.Clock.Now(),
	}
	metrics.ReconciliationDrift.WithLabelValues(merchantID, currency).Set(float64(report.Drift))
	if report.Drift != 0 {
		slog.Error("balance drift detected",
			"merchant_id", merchantID,
			"currency", currency,
			"stored_total", report.StoredTotal,
			"ledger_total", report.LedgerTotal,
			"drift", report.Drift)
	}
	return report, nil
}

// ReconcileMerchant runs ReconcileBalance over every currency the merchant
// holds, returning only the pairs that drifted.
func (a *Auditor) ReconcileMerchant(ctx context.Context, merchantID string) ([]DriftReport, error) {
	balances, err := a.Store.ListBalances(ctx, merchantID)
	if err != nil {
		return nil, err
	}

	var drifted []DriftReport
	for _, b := range balances {
		report, err := a.ReconcileBalance(ctx, merchantID, b.Currency)
		if err != nil {
			return nil, err
		}
		if report.Drift != 0 {
			drifted = append(drifted, report)
		}
	}
	return drifted, nil
}

// ReconcileAccount derives one account's balance from the journal. When the
// account mirrors a balance bucket the stored bucket value rides along;
// remember that brand-new holds and releases move between buckets without
// entries, so bucket-level comparison is advisory, not a drift check.
func (a *Auditor) ReconcileAccount(ctx context.Context, merchantID string, accountType models.AccountType, accountName, currency string) (AccountReport, error) {
	derived, err := a.Store.GetAccountBalance(ctx, merchantID, accountType, accountName, currency)
	if err != nil {
		return AccountReport{}, err
	}

	report := AccountReport{
		MerchantID:    merchantID,
		Currency:      currency,
		AccountType:   string(accountType),
		AccountName:   accountName,
		LedgerBalance: derived,
	}

	if accountType == models.AccountAssets {
		if balance, err := a.Store.GetBalance(ctx, merchantID, currency); err == nil {
			var bucket int64
			switch accountName {
			case models.AcctMerchantAvailable:
				bucket = balance.Available
			case models.AcctMerchantPending:
				bucket = balance.Pending
			case models.AcctMerchantReserved:
				bucket = balance.Reserved
			default:
				return report, nil
			}
			report.StoredBucket = &bucket
		}
	}
	return report, nil
}

// DetectAnomalies scans a merchant's journal window for suspicious entries
// without running the full audit.
func (a *Auditor) DetectAnomalies(ctx context.Context, merchantID string, from, to time.Time) ([]Anomaly, error) {
	entries, err := a.Store.ListMerchantEntries(ctx, merchantID, from, to)
	if err != nil {
		return nil, err
	}
	return a.scanAnomalies(entries), nil
}

// AuditWindow validates every transaction a merchant posted inside
// [from, to) and scans the same entries for anomalies.
func (a *Auditor) AuditWindow(ctx context.Context, merchantID string, from, to time.Time) (*AuditReport, error) {
	entries, err := a.Store.ListMerchantEntries(ctx, merchantID, from, to)
	if err != nil {
		return nil, err
	}

	report := &AuditReport{StartedAt: a.Clock.Now(), EntryCount: len(entries)}

	groups := make(map[string][]models.LedgerEntry)
	order := make([]string, 0)
	for _, e := range entries {
		if _, seen := groups[e.TransactionID]; !seen {
			order = append(order, e.TransactionID)
		}
		groups[e.TransactionID] = append(groups[e.TransactionID], e)
	}
	for _, txID := range order {
		check := checkGroup(txID, groups[txID])
		if !check.Balanced {
			metrics.UnbalancedTransactions.Inc()
			report.Unbalanced = append(report.Unbalanced, check)
			slog.Error("unbalanced transaction",
				"transaction_id", txID,
				"total_debits", check.TotalDebits,
				"total_credits", check.TotalCredits)
		}
	}

	report.Anomalies = a.scanAnomalies(entries)
	drifts, err := a.ReconcileMerchant(ctx, merchantID)
	if err != nil {
		return nil, err
	}
	report.Drifts = drifts
	report.Clean = len(report.Unbalanced) == 0 && len(report.Drifts) == 0 && len(report.Anomalies) == 0
	return report, nil
}

// minAccountEntries is the floor below which an account's windowed activity
// is too small to call abnormal.
const minAccountEntries = 5

// scanAnomalies flags entries at or above the absolute threshold, any entry
// larger than three times the mean amount of its window, and accounts whose
// windowed entry volume dwarfs the merchant's other active accounts.
func (a *Auditor) scanAnomalies(entries []models.LedgerEntry) []Anomaly {
	if len(entries) == 0 {
		return nil
	}

	var sum int64
	for _, e := range entries {
		sum += e.Amount
	}
	mean := sum / int64(len(entries))

	var anomalies []Anomaly
	for _, e := range entries {
		var reason string
		switch {
		case a.AnomalyThreshold > 0 && e.Amount >= a.AnomalyThreshold:
			reason = fmt.Sprintf("amount %d at or above threshold %d", e.Amount, a.AnomalyThreshold)
		case len(entries) >= 10 && mean > 0 && e.Amount > 3*mean:
			reason = fmt.Sprintf("amount %d exceeds 3x window mean %d", e.Amount, mean)
		default:
			continue
		}
		anomalies = append(anomalies, Anomaly{
			EntryID:       e.EntryID,
			TransactionID: e.TransactionID,
			MerchantID:    e.MerchantId,
			Currency:      e.Currency,
			Amount:        e.Amount,
			PostedAt:      e.PostedAt,
			Reason:        reason,
		})
	}
	return append(anomalies, accountVolumeAnomalies(entries)...)
}

// accountVolumeAnomalies flags accounts whose entry count in the window
// exceeds three times the mean across the merchant's other active accounts.
// Individually unremarkable entries still surface here when one account soaks
// up a disproportionate share of the activity.
func accountVolumeAnomalies(entries []models.LedgerEntry) []Anomaly {
	counts := make(map[string]int64)
	sums := make(map[string]int64)
	order := make([]string, 0)
	for _, e := range entries {
		if _, seen := counts[e.AccountName]; !seen {
			order = append(order, e.AccountName)
		}
		counts[e.AccountName]++
		sums[e.AccountName] += e.Amount
	}
	if len(counts) < 2 {
		return nil
	}

	var total int64
	for _, c := range counts {
		total += c
	}

	var anomalies []Anomaly
	for _, name := range order {
		count := counts[name]
		if count < minAccountEntries {
			continue
		}
		othersMean := (total - count) / int64(len(counts)-1)
		if othersMean > 0 && count > 3*othersMean {
			anomalies = append(anomalies, Anomaly{
				MerchantID:  entries[0].MerchantId,
				AccountName: name,
				Amount:      sums[name],
				EntryCount:  count,
				Reason: fmt.Sprintf("account posted %d entries against a mean of %d across the merchant's other accounts",
					count, othersMean),
			})
		}
	}
	return anomalies
}

func checkGroup(txID string, entries []models.LedgerEntry) BalanceCheck {
	var debits, credits int64
	for _, e := range entries {
		switch e.EntryType {
		case models.Debit:
			debits += e.Amount
		case models.Credit:
			credits += e.Amount
		}
	}
	return BalanceCheck{
		TransactionID: txID,
		EntryCount:    len(entries),
		TotalDebits:   debits,
		TotalCredits:  credits,
		Balanced:      debits == credits,
	}
}
