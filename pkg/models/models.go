package models

import (
	"time"
)

// OperationStatus defines the possible states of a settlement operation.
type OperationStatus string

const (
	PENDING    OperationStatus = "PENDING"
	RESERVED   OperationStatus = "RESERVED"
	IN_TRANSIT OperationStatus = "IN_TRANSIT"
	COMPLETED  OperationStatus = "COMPLETED"
	FAILED     OperationStatus = "FAILED"
	CANCELLED  OperationStatus = "CANCELLED"
)

// OperationKind distinguishes the money movements that share the settlement lifecycle.
type OperationKind string

const (
	KindPayout       OperationKind = "PAYOUT"
	KindDisbursement OperationKind = "DISBURSEMENT"
	KindRefund       OperationKind = "REFUND"
	KindFXTrade      OperationKind = "FX_TRADE"
)

// AccountType categorizes ledger accounts for balance derivation.
// Assets and fees accounts balance as debits minus credits; liabilities and
// revenue accounts balance as credits minus debits.
type AccountType string

const (
	AccountAssets      AccountType = "assets"
	AccountRevenue     AccountType = "revenue"
	AccountFees        AccountType = "fees"
	AccountLiabilities AccountType = "liabilities"
)

// EntryType distinguishes the two sides of a double-entry transaction.
type EntryType string

const (
	Debit  EntryType = "debit"
	Credit EntryType = "credit"
)

// Ledger account names used by the engine.
const (
	AcctMerchantAvailable  = "merchant_balance_available"
	AcctMerchantPending    = "merchant_balance_pending"
	AcctMerchantReserved   = "merchant_balance_reserved"
	AcctFeesReceivable     = "platform_fees_receivable"
	AcctPayoutFees         = "payout_processing_fees"
	AcctFXFees             = "fx_trading_fees"
	AcctProcessingRevenue  = "payment_processing_revenue"
	AcctCashDisbursed      = "cash_disbursed"
	AcctCurrencyConversion = "currency_conversions"
)

// Balance is the per-(merchant, currency) balance record. All amounts are
// integers in minor units. Invariant: Available, Pending and Reserved are
// never negative.
type Balance struct {
	MerchantId        string    `json:"merchant_id" dynamodbav:"merchant_id"`
	Currency          string    `json:"currency" dynamodbav:"currency"`
	Available         int64     `json:"available" dynamodbav:"available"`
	Pending           int64     `json:"pending" dynamodbav:"pending"`
	Reserved          int64     `json:"reserved" dynamodbav:"reserved"`
	TotalVolume       int64     `json:"total_volume" dynamodbav:"total_volume"`
	Version           int64     `json:"version" dynamodbav:"version"`
	LastTransactionAt time.Time `json:"last_transaction_at" dynamodbav:"last_transaction_at"`
	CreatedAt         time.Time `json:"created_at" dynamodbav:"created_at"`
}

// Total returns the sum of all three buckets. Bucket transfers leave it
// unchanged; only boundary operations move it.
func (b *Balance) Total() int64 {
	return b.Available + b.Pending + b.Reserved
}

// LedgerEntry is a single row in the append-only double-entry journal.
// Entries sharing a TransactionID must co-balance. Rows are never updated
// or deleted once written.
type LedgerEntry struct {
	EntryID       string      `dynamodbav:"entry_id"`
	TransactionID string      `dynamodbav:"transaction_id"`
	MerchantId    string      `dynamodbav:"merchant_id"`
	Currency      string      `dynamodbav:"currency"`
	AccountType   AccountType `dynamodbav:"account_type"`
	AccountName   string      `dynamodbav:"account_name"`
	EntryType     EntryType   `dynamodbav:"entry_type"`
	Amount        int64       `dynamodbav:"amount"`
	Description   string      `dynamodbav:"description"`
	ReferenceID   string      `dynamodbav:"reference_id,omitempty"`
	Operation     string      `dynamodbav:"operation,omitempty"`
	PostedAt      time.Time   `dynamodbav:"posted_at"`
	GSI1PK        string      `dynamodbav:"gsi1pk"`
}

// EntryInput is one leg of a transaction under construction; the journal
// fills in identity and timestamp fields when it records the set.
type EntryInput struct {
	Currency    string
	AccountType AccountType
	AccountName string
	EntryType   EntryType
	Amount      int64
}

// TransactionRecord is a balanced entry set plus its shared metadata,
// recorded under one freshly generated transaction id.
type TransactionRecord struct {
	Description string
	ReferenceID string
	Operation   string
	Entries     []EntryInput
}

// SettlementOperation tracks one multi-step outbound money movement
// (payout, disbursement, refund or FX trade) through its lifecycle.
type SettlementOperation struct {
	Id                  string          `dynamodbav:"id"`
	MerchantId          string          `dynamodbav:"merchant_id"`
	Currency            string          `dynamodbav:"currency"`
	Kind                OperationKind   `dynamodbav:"kind"`
	GrossAmount         int64           `dynamodbav:"gross_amount"`
	FeeAmount           int64           `dynamodbav:"fee_amount"`
	NetAmount           int64           `dynamodbav:"net_amount"`
	ReservedAmount      int64           `dynamodbav:"reserved_amount"`
	Status              OperationStatus `dynamodbav:"status"`
	BeneficiaryRef      string          `dynamodbav:"beneficiary_ref"`
	BeneficiaryCurrency string          `dynamodbav:"beneficiary_currency"`
	// FX trades only: the target currency and the conversion rate as an
	// integer ratio (converted = gross * num / den).
	CounterCurrency   string    `dynamodbav:"counter_currency,omitempty"`
	FXRateNum         int64     `dynamodbav:"fx_rate_num,omitempty"`
	FXRateDen         int64     `dynamodbav:"fx_rate_den,omitempty"`
	ProviderReference string    `dynamodbav:"provider_reference,omitempty"`
	FailureReason     string    `dynamodbav:"failure_reason,omitempty"`
	AttemptCount      int64     `dynamodbav:"attempt_count"`
	ReservationRef    string    `dynamodbav:"reservation_ref,omitempty"`
	CreatedAt         time.Time `dynamodbav:"created_at"`
	UpdatedAt         time.Time `dynamodbav:"updated_at"`
}

// Terminal reports whether the operation has reached a final state.
func (op *SettlementOperation) Terminal() bool {
	switch op.Status {
	case COMPLETED, FAILED, CANCELLED:
		return true
	}
	return false
}

// ConvertedAmount returns the FX target-currency amount, truncated toward zero.
func (op *SettlementOperation) ConvertedAmount() int64 {
	if op.FXRateDen == 0 {
		return 0
	}
	return op.GrossAmount * op.FXRateNum / op.FXRateDen
}

// FeeBreakdown is the computed fee structure for one movement. The engine
// treats it as opaque; rate configuration lives outside this core.
type FeeBreakdown struct {
	ProcessingFee  int64 `json:"processing_fee"`
	ApplicationFee int64 `json:"application_fee"`
	TotalFee       int64 `json:"total_fee"`
	NetAmount      int64 `json:"net_amount"`
}

// TransferStatus is the provider-side outcome of a dispatch attempt.
type TransferStatus string

const (
	TransferSucceeded TransferStatus = "success"
	TransferFailed    TransferStatus = "failure"
	TransferPending   TransferStatus = "pending"
)

// TransferResult is what a ProviderGateway reports back for a settlement
// operation. Retryable distinguishes transient provider failures from
// terminal ones.
type TransferResult struct {
	Status            TransferStatus `json:"status"`
	ProviderReference string         `json:"provider_reference,omitempty"`
	Retryable         bool           `json:"retryable,omitempty"`
	Error             string         `json:"error,omitempty"`
}
