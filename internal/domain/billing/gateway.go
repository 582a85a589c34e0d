package billing

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ChargeRequest asks the gateway to collect one payment.
type ChargeRequest struct {
	PaymentID uuid.UUID
	Amount    decimal.Decimal
	Method    Method
	Concept   string
}

// ChargeResult is a successful gateway response.
type ChargeResult struct {
	TransactionID string
	Data          map[string]string
}

// Gateway collects electronic payments. A returned error marks the payment
// failed with the error text as reason, except context errors, which leave
// the outcome unknown. PaymentID is the idempotency key: charging a payment
// that was already collected returns the original result.
type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
}

// DeclinedError is returned when the gateway refuses a charge.
type DeclinedError struct {
	Reason string
}

func (e *DeclinedError) Error() string { return "payment declined: " + e.Reason }

// SimulatedGateway approves every charge up to DeclineAbove. A zero
// DeclineAbove approves everything. Approved charges are remembered per
// payment and replayed on a repeated charge.
type SimulatedGateway struct {
	DeclineAbove decimal.Decimal

	mu        sync.Mutex
	collected map[uuid.UUID]ChargeResult
}

func (g *SimulatedGateway) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if prev, ok := g.collected[req.PaymentID]; ok {
		return &prev, nil
	}
	if g.DeclineAbove.IsPositive() && req.Amount.GreaterThan(g.DeclineAbove) {
		return nil, &DeclinedError{Reason: fmt.Sprintf("amount %s exceeds the limit of %s",
			req.Amount.StringFixed(2), g.DeclineAbove.StringFixed(2))}
	}
	res := ChargeResult{
		TransactionID: newTransactionID("TXN"),
		Data: map[string]string{
			"gateway":       "simulated",
			"method":        string(req.Method),
			"authorization": strings.ToUpper(uuid.NewString()[:8]),
		},
	}
	if g.collected == nil {
		g.collected = make(map[uuid.UUID]ChargeResult)
	}
	g.collected[req.PaymentID] = res
	return &res, nil
}

// newTransactionID returns ids such as TXN-3F2A9C1B7D4E.
func newTransactionID(prefix string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return prefix + "-" + strings.ToUpper(id[:12])
}
