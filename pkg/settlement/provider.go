package settlement

import (
	"context"
	"sync"

	"github.com/tidepay/ledger-engine/pkg/models"
)

// ProviderGateway performs the actual external transfer for a settlement
// operation. Implementations may be slow and may resolve asynchronously: a
// TransferPending result means a later callback (or the stuck-operation
// monitor) will feed the final outcome back through Orchestrator.Resolve.
type ProviderGateway interface {
	Transfer(ctx context.Context, op *models.SettlementOperation) (models.TransferResult, error)
}

// FakeGateway is a scriptable ProviderGateway for tests and local runs.
// Outcomes are keyed by beneficiary reference; unscripted transfers succeed.
type FakeGateway struct {
	mu       sync.Mutex
	outcomes map[string]models.TransferResult
	calls    []string
}

// NewFakeGateway creates a FakeGateway with no scripted outcomes.
func NewFakeGateway() *FakeGateway {
	return &FakeGateway{outcomes: make(map[string]models.TransferResult)}
}

// Make sure we conform to the interface
var _ ProviderGateway = (*FakeGateway)(nil)

// Script registers the result returned for transfers to the given
// beneficiary reference.
func (g *FakeGateway) Script(beneficiaryRef string, result models.TransferResult) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.outcomes[beneficiaryRef] = result
}

// Calls returns the operation ids transferred so far, in order.
func (g *FakeGateway) Calls() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, len(g.calls))
	copy(out, g.calls)
	return out
}

// Transfer returns the scripted outcome, or success with a synthetic
// provider reference when nothing is scripted.
func (g *FakeGateway) Transfer(ctx context.Context, op *models.SettlementOperation) (models.TransferResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.calls = append(g.calls, op.Id)
	if result, ok := g.outcomes[op.BeneficiaryRef]; ok {
		return result, nil
	}
	return models.TransferResult{
		Status:            models.TransferSucceeded,
		ProviderReference: "fake-" + op.Id,
	}, nil
}
