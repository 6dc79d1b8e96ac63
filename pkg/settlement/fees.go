package settlement

import (
	"context"
	"fmt"

	"github.com/tidepay/ledger-engine/pkg/models"
)

// FeeCalculator computes the fee breakdown for one money movement. The
// engine treats it as an opaque pure function; rate configuration lives
// outside this core.
type FeeCalculator interface {
	Compute(ctx context.Context, merchantID string, amount int64, currency string, kind models.OperationKind) (models.FeeBreakdown, error)
}

// FlatRateCalculator charges a basis-point rate plus a fixed component per
// movement. Deterministic and side-effect free.
type FlatRateCalculator struct {
	BasisPoints int64
	FixedFee    int64
}

// Make sure we conform to the interface
var _ FeeCalculator = (*FlatRateCalculator)(nil)

// Compute returns the fee breakdown for the given amount.
func (c *FlatRateCalculator) Compute(ctx context.Context, merchantID string, amount int64, currency string, kind models.OperationKind) (models.FeeBreakdown, error) {
	if amount <= 0 {
		return models.FeeBreakdown{}, fmt.Errorf("fee amount must be positive, got %d", amount)
	}

	processing := amount * c.BasisPoints / 10000
	total := processing + c.FixedFee
	return models.FeeBreakdown{
		ProcessingFee:  processing,
		ApplicationFee: c.FixedFee,
		TotalFee:       total,
		NetAmount:      amount - total,
	}, nil
}
