package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type PaymentRepository interface {
	// Create fails with a unique violation on payments_one_consultation or
	// payments_one_refund when the appointment already has such a payment.
	Create(ctx context.Context, p *Payment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Payment, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Payment, error)
	Update(ctx context.Context, p *Payment) error
	// ListByAppointment returns the appointment's payments, oldest first.
	ListByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]*Payment, error)
	// ListProcessingBefore returns payments in processing last updated before
	// the given time, oldest first.
	ListProcessingBefore(ctx context.Context, before time.Time, limit int) ([]*Payment, error)
}

const (
	uniqueConsultation = "payments_one_consultation"
	uniqueRefund       = "payments_one_refund"
)
