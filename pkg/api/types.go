// Package api defines the HTTP request and response types. It mirrors the
// public OpenAPI contract; internal domain models live in pkg/models.
package api

import (
	"time"

	openapi_types "github.com/oapi-codegen/runtime/types"
)

// Balance is the public view of one merchant-currency balance.
type Balance struct {
	MerchantId        string    `json:"merchant_id"`
	Currency          string    `json:"currency"`
	Available         int64     `json:"available"`
	Pending           int64     `json:"pending"`
	Reserved          int64     `json:"reserved"`
	Total             int64     `json:"total"`
	TotalVolume       int64     `json:"total_volume"`
	Version           int64     `json:"version"`
	LastTransactionAt time.Time `json:"last_transaction_at"`
}

// NewSettlement is the request body for initiating a settlement operation.
type NewSettlement struct {
	MerchantId          string `json:"merchant_id"`
	Currency            string `json:"currency"`
	Kind                string `json:"kind"`
	GrossAmount         int64  `json:"gross_amount"`
	BeneficiaryRef      string `json:"beneficiary_ref"`
	BeneficiaryCurrency string `json:"beneficiary_currency,omitempty"`
	CounterCurrency     string `json:"counter_currency,omitempty"`
	FxRateNum           int64  `json:"fx_rate_num,omitempty"`
	FxRateDen           int64  `json:"fx_rate_den,omitempty"`
}

// Settlement is the public view of a settlement operation.
type Settlement struct {
	Id                  openapi_types.UUID `json:"id"`
	MerchantId          string             `json:"merchant_id"`
	Currency            string             `json:"currency"`
	Kind                string             `json:"kind"`
	GrossAmount         int64              `json:"gross_amount"`
	FeeAmount           int64              `json:"fee_amount"`
	NetAmount           int64              `json:"net_amount"`
	ReservedAmount      int64              `json:"reserved_amount"`
	Status              string             `json:"status"`
	BeneficiaryRef      string             `json:"beneficiary_ref"`
	BeneficiaryCurrency string             `json:"beneficiary_currency,omitempty"`
	CounterCurrency     string             `json:"counter_currency,omitempty"`
	ConvertedAmount     int64              `json:"converted_amount,omitempty"`
	ProviderReference   string             `json:"provider_reference,omitempty"`
	FailureReason       string             `json:"failure_reason,omitempty"`
	AttemptCount        int64              `json:"attempt_count"`
	CreatedAt           time.Time          `json:"created_at"`
	UpdatedAt           time.Time          `json:"updated_at"`
}

// ResolveSettlement is the provider-callback body settling an outcome.
type ResolveSettlement struct {
	Status            string `json:"status"`
	ProviderReference string `json:"provider_reference,omitempty"`
	Retryable         bool   `json:"retryable,omitempty"`
	Error             string `json:"error,omitempty"`
}

// CancelSettlement is the request body for voiding an operation.
type CancelSettlement struct {
	Reason string `json:"reason,omitempty"`
}

// NewCharge is the request body for recording a collected charge.
type NewCharge struct {
	MerchantId  string `json:"merchant_id"`
	Currency    string `json:"currency"`
	GrossAmount int64  `json:"gross_amount"`
	ChargeRef   string `json:"charge_ref"`
}

// ChargeResult reports a recorded charge and its fee breakdown.
type ChargeResult struct {
	Balance        *Balance `json:"balance"`
	ProcessingFee  int64    `json:"processing_fee"`
	ApplicationFee int64    `json:"application_fee"`
	TotalFee       int64    `json:"total_fee"`
	NetAmount      int64    `json:"net_amount"`
}

// NewReversal is the request body for refunding a collected charge.
type NewReversal struct {
	MerchantId string `json:"merchant_id"`
	Currency   string `json:"currency"`
	Amount     int64  `json:"amount"`
	Settled    bool   `json:"settled"`
}

// SettlePending is the request body for moving pending funds to available.
// A zero or omitted amount sweeps the whole pending bucket.
type SettlePending struct {
	Amount int64 `json:"amount,omitempty"`
}

// SettlePendingResult reports how much moved.
type SettlePendingResult struct {
	Balance *Balance `json:"balance"`
	Settled int64    `json:"settled"`
}

// LedgerEntry is the public view of one journal row.
type LedgerEntry struct {
	EntryId       openapi_types.UUID `json:"entry_id"`
	TransactionId openapi_types.UUID `json:"transaction_id"`
	MerchantId    string             `json:"merchant_id"`
	Currency      string             `json:"currency"`
	AccountType   string             `json:"account_type"`
	AccountName   string             `json:"account_name"`
	EntryType     string             `json:"entry_type"`
	Amount        int64              `json:"amount"`
	Description   string             `json:"description"`
	ReferenceId   string             `json:"reference_id,omitempty"`
	Operation     string             `json:"operation,omitempty"`
	PostedAt      time.Time          `json:"posted_at"`
}

// Error is the uniform error response body.
type Error struct {
	Message string `json:"message"`
}
