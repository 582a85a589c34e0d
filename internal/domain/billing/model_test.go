package billing

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func TestPaymentTransitions(t *testing.T) {
	tests := []struct {
		from PaymentStatus
		ev   paymentEvent
		want PaymentStatus
		ok   bool
	}{
		{StatusPending, eventProcess, StatusProcessing, true},
		{StatusPending, eventConfirm, StatusCompleted, true},
		{StatusPending, eventCancel, StatusCancelled, true},
		{StatusPending, eventRefund, "", false},
		{StatusProcessing, eventSucceed, StatusCompleted, true},
		{StatusProcessing, eventFail, StatusFailed, true},
		{StatusProcessing, eventCancel, "", false},
		{StatusFailed, eventProcess, StatusProcessing, true},
		{StatusFailed, eventConfirm, "", false},
		{StatusCompleted, eventProcess, "", false},
		{StatusCompleted, eventRefund, StatusRefunded, true},
		{StatusRefunded, eventRefund, "", false},
		{StatusCancelled, eventProcess, "", false},
	}
	for _, tt := range tests {
		got, ok := nextPaymentStatus(tt.from, tt.ev)
		if ok != tt.ok || got != tt.want {
			t.Errorf("%s --%s--> got (%q, %v), want (%q, %v)", tt.from, tt.ev, got, ok, tt.want, tt.ok)
		}
	}
}

func TestMethod(t *testing.T) {
	for _, m := range []Method{MethodCash, MethodCard, MethodTransfer, MethodYape, MethodPlin, MethodOther} {
		if !m.Valid() {
			t.Errorf("%s should be valid", m)
		}
	}
	if Method("cheque").Valid() {
		t.Error("cheque should be invalid")
	}
	if MethodCash.IsElectronic() || !MethodPlin.IsElectronic() {
		t.Error("only cash is confirmed by hand")
	}
}

func TestPaymentError(t *testing.T) {
	err := paymentErr(CodeDuplicateRefund, "refunded on 2 March")
	if !errors.Is(err, ErrDuplicateRefund) || errors.Is(err, ErrAlreadyProcessed) {
		t.Error("payment errors must match by code")
	}
	var pe *PaymentError
	if !errors.As(err, &pe) || pe.HTTPStatus() != http.StatusConflict || pe.ErrorCode() != "duplicate_refund" {
		t.Errorf("unexpected mapping %+v", pe)
	}
	if ErrNoQualifyingPaymentForRefund.HTTPStatus() != http.StatusUnprocessableEntity {
		t.Error("expected 422 for a missing qualifying payment")
	}
	if ErrUnauthorized.HTTPStatus() != http.StatusForbidden {
		t.Error("expected 403 for unauthorized")
	}
}

func TestSimulatedGateway(t *testing.T) {
	g := &SimulatedGateway{DeclineAbove: decimal.NewFromInt(500)}
	ctx := context.Background()

	paid := ChargeRequest{PaymentID: uuid.New(), Amount: decimal.NewFromInt(500), Method: MethodCard}
	res, err := g.Charge(ctx, paid)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !regexp.MustCompile(`^TXN-[0-9A-F]{12}$`).MatchString(res.TransactionID) {
		t.Errorf("unexpected transaction id %q", res.TransactionID)
	}
	again, err := g.Charge(ctx, paid)
	if err != nil || again.TransactionID != res.TransactionID {
		t.Errorf("expected a repeated charge to replay %s, got %+v (%v)", res.TransactionID, again, err)
	}

	over := ChargeRequest{PaymentID: uuid.New(), Amount: decimal.RequireFromString("500.01"), Method: MethodCard}
	_, err = g.Charge(ctx, over)
	var declined *DeclinedError
	if !errors.As(err, &declined) {
		t.Fatalf("expected DeclinedError, got %v", err)
	}
	// A declined charge is not remembered, so a retry is a fresh attempt.
	g.DeclineAbove = decimal.Zero
	if _, err := g.Charge(ctx, over); err != nil {
		t.Errorf("expected the retry to be approved, got %v", err)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := g.Charge(cancelled, ChargeRequest{Amount: decimal.NewFromInt(1)}); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
