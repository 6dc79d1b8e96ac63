package storage

import "errors"

// ErrInsufficientBalance is returned when the available bucket cannot cover a
// debit or reservation. Caller-recoverable; the engine does not retry it.
var ErrInsufficientBalance = errors.New("insufficient available balance")

// ErrInsufficientReserved is returned when the reserved bucket cannot cover a
// release or process operation.
var ErrInsufficientReserved = errors.New("insufficient reserved balance")

// ErrInsufficientPending is returned when the pending bucket cannot cover a
// settlement or debit.
var ErrInsufficientPending = errors.New("insufficient pending balance")

// ErrInvalidAmount is returned for a non-positive mutation amount.
var ErrInvalidAmount = errors.New("amount must be positive")

// ErrConcurrentModification is returned after the store has exhausted its
// internal retries on a version conflict for the same balance row.
var ErrConcurrentModification = errors.New("concurrent balance modification")

// ErrBalanceNotFound is returned when a balance row does not exist and the
// operation does not create one.
var ErrBalanceNotFound = errors.New("balance not found")

// ErrOperationNotFound is returned when a settlement operation id is unknown.
var ErrOperationNotFound = errors.New("settlement operation not found")

// ErrOperationNotCancellable is returned when an operation has already
// reached a terminal state and cannot be cancelled.
var ErrOperationNotCancellable = errors.New("operation not in a cancellable state")

// ErrInvalidTransition is returned when a conditional status transition
// fails because the operation is no longer in the expected state.
var ErrInvalidTransition = errors.New("operation not in expected state")
