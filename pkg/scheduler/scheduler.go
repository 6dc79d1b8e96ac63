package scheduler

import (
	"context"
)

// DispatchJob is the payload enqueued for the settlement worker: which
// operation to push to the provider next.
type DispatchJob struct {
	OperationID string `json:"operation_id"`
	MerchantID  string `json:"merchant_id"`
	Attempt     int64  `json:"attempt"`
}

// Scheduler defines the interface for a component that enqueues a settlement
// operation for asynchronous dispatch.
type Scheduler interface {
	// ScheduleDispatch enqueues a dispatch job for later processing.
	ScheduleDispatch(ctx context.Context, job DispatchJob) error
}
