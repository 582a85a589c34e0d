package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/blume/blume/internal/domain/scheduling"
	"github.com/blume/blume/internal/platform/auth"
	"github.com/blume/blume/internal/platform/db"
	"github.com/blume/blume/internal/platform/notification"
)

const (
	consultationConcept = "Consultation fee"
	// staleProcessing is how long a payment may stay in processing before it
	// is charged again.
	staleProcessing   = 10 * time.Minute
	recoveryBatchSize = 100
)

type Service struct {
	payments PaymentRepository
	appts    scheduling.AppointmentRepository
	gateway  Gateway
	tx       db.Transactor
	notifier notification.Emitter
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(payments PaymentRepository, appts scheduling.AppointmentRepository, gateway Gateway,
	tx db.Transactor, notifier notification.Emitter, logger zerolog.Logger) *Service {
	return &Service{
		payments: payments,
		appts:    appts,
		gateway:  gateway,
		tx:       tx,
		notifier: notifier,
		logger:   logger.With().Str("component", "billing").Logger(),
		now:      time.Now,
	}
}

// SetClock replaces the time source.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// mayPay reports whether actor can register or settle payments for a.
func mayPay(actor auth.Actor, a *scheduling.Appointment) bool {
	return actor.IsPrivileged() || a.IsOwnPatient(actor) || a.IsAssignedDoctor(actor)
}

// mayCharge reports whether actor can bill extras or confirm cash.
func mayCharge(actor auth.Actor, a *scheduling.Appointment) bool {
	return actor.IsPrivileged() || a.IsAssignedDoctor(actor)
}

// -- Creation --

// CreateInitialPayment registers the consultation payment for an
// appointment. The amount is the appointment's cost.
func (s *Service) CreateInitialPayment(ctx context.Context, actor auth.Actor, appointmentID uuid.UUID, method Method) (*Payment, error) {
	if !method.Valid() {
		return nil, ErrInvalidMethod
	}

	var p *Payment
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		a, err := s.appts.GetForUpdate(ctx, appointmentID)
		if err != nil {
			return err
		}
		if !mayPay(actor, a) {
			return ErrUnauthorized
		}
		if !a.Cost.IsPositive() {
			return paymentErr(CodeInvalidAmount, "the appointment has no cost to pay")
		}
		existing, err := s.payments.ListByAppointment(ctx, a.ID)
		if err != nil {
			return fmt.Errorf("list payments: %w", err)
		}
		for _, e := range existing {
			if e.Type == TypeConsultation {
				return ErrDuplicateConsultationPayment
			}
		}

		now := s.now()
		p = &Payment{
			ID:            uuid.New(),
			AppointmentID: a.ID,
			PatientID:     a.PatientID,
			Type:          TypeConsultation,
			Status:        StatusPending,
			Method:        method,
			Amount:        a.Cost,
			Concept:       consultationConcept,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := s.payments.Create(ctx, p); err != nil {
			if db.IsUniqueViolation(err, uniqueConsultation) {
				return ErrDuplicateConsultationPayment
			}
			return fmt.Errorf("create payment: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("payment_id", p.ID.String()).Str("appointment_id", appointmentID.String()).
		Str("amount", p.Amount.StringFixed(2)).Str("method", string(method)).Msg("consultation payment registered")
	s.emit(ctx, p, notification.KindPaymentCreated)
	return p, nil
}

// CreateAdditionalCharge bills an extra amount on a confirmed or completed
// appointment and records it on the appointment.
func (s *Service) CreateAdditionalCharge(ctx context.Context, actor auth.Actor, appointmentID uuid.UUID,
	amount decimal.Decimal, concept string, method Method) (*Payment, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if !method.Valid() {
		return nil, ErrInvalidMethod
	}

	var p *Payment
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		a, err := s.appts.GetForUpdate(ctx, appointmentID)
		if err != nil {
			return err
		}
		if !mayCharge(actor, a) {
			return ErrUnauthorized
		}
		if a.Status != scheduling.StatusConfirmed && a.Status != scheduling.StatusCompleted {
			return ErrIneligibleForAdditionalCharge
		}

		now := s.now()
		p = &Payment{
			ID:            uuid.New(),
			AppointmentID: a.ID,
			PatientID:     a.PatientID,
			Type:          TypeAdditional,
			Status:        StatusPending,
			Method:        method,
			Amount:        amount,
			Concept:       concept,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := s.payments.Create(ctx, p); err != nil {
			return fmt.Errorf("create payment: %w", err)
		}

		a.HasAdditionalCharge = true
		a.AdditionalAmount = a.AdditionalAmount.Add(amount)
		a.UpdatedAt = now
		return s.appts.Update(ctx, a)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("payment_id", p.ID.String()).Str("appointment_id", appointmentID.String()).
		Str("amount", amount.StringFixed(2)).Msg("additional charge registered")
	s.emit(ctx, p, notification.KindAdditionalCharge)
	return p, nil
}

// -- Settlement --

// ProcessPayment sends an electronic payment through the gateway. A declined
// charge is not an error: the payment comes back failed with its reason and
// may be processed again. A payment left in processing for longer than
// staleProcessing is charged again.
func (s *Service) ProcessPayment(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Payment, error) {
	var p *Payment
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		if p, err = s.payments.GetForUpdate(ctx, id); err != nil {
			return err
		}
		a, err := s.appts.GetByID(ctx, p.AppointmentID)
		if err != nil {
			return err
		}
		if !mayPay(actor, a) {
			return ErrUnauthorized
		}
		if p.Type == TypeRefund {
			return ErrAlreadyProcessed
		}
		now := s.now()
		if p.Status == StatusProcessing && s.isStale(p, now) {
			p.UpdatedAt = now
			return s.payments.Update(ctx, p)
		}
		next, ok := nextPaymentStatus(p.Status, eventProcess)
		if !ok {
			return ErrAlreadyProcessed
		}
		if !p.Method.IsElectronic() {
			return ErrManualConfirmationRequired
		}
		p.Status = next
		p.FailureReason = ""
		p.UpdatedAt = now
		return s.payments.Update(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	return s.charge(ctx, p)
}

func (s *Service) isStale(p *Payment, now time.Time) bool {
	return !p.UpdatedAt.After(now.Add(-staleProcessing))
}

// charge sends a processing payment to the gateway and stores the outcome.
// The outcome is stored even when ctx ends after the gateway answered. When
// the call itself is cut short the payment stays in processing and
// RecoverProcessing settles it later.
func (s *Service) charge(ctx context.Context, p *Payment) (*Payment, error) {
	result, chargeErr := s.gateway.Charge(ctx, ChargeRequest{
		PaymentID: p.ID,
		Amount:    p.Amount,
		Method:    p.Method,
		Concept:   p.Concept,
	})
	if errors.Is(chargeErr, context.Canceled) || errors.Is(chargeErr, context.DeadlineExceeded) {
		s.logger.Warn().Err(chargeErr).Str("payment_id", p.ID.String()).Msg("payment outcome unknown, left processing")
		return nil, fmt.Errorf("charge payment %s: %w", p.ID, chargeErr)
	}

	ctx = context.WithoutCancel(ctx)
	p, err := s.settle(ctx, p.ID, result, chargeErr)
	if err != nil {
		return nil, err
	}

	if chargeErr != nil {
		var declined *DeclinedError
		evt := s.logger.Warn()
		if !errors.As(chargeErr, &declined) {
			evt = s.logger.Error()
		}
		evt.Err(chargeErr).Str("payment_id", p.ID.String()).Msg("payment failed")
		s.emit(ctx, p, notification.KindPaymentFailed)
		return p, nil
	}
	s.logger.Info().Str("payment_id", p.ID.String()).Str("transaction_id", p.TransactionID).Msg("payment completed")
	s.emit(ctx, p, notification.KindPaymentCompleted)
	return p, nil
}

// settle moves a processing payment to completed or failed.
func (s *Service) settle(ctx context.Context, id uuid.UUID, result *ChargeResult, chargeErr error) (*Payment, error) {
	var p *Payment
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		if p, err = s.payments.GetForUpdate(ctx, id); err != nil {
			return err
		}
		if p.Status != StatusProcessing {
			return ErrAlreadyProcessed
		}
		now := s.now()
		p.UpdatedAt = now
		if chargeErr != nil {
			p.Status, _ = nextPaymentStatus(p.Status, eventFail)
			p.FailureReason = chargeErr.Error()
			return s.payments.Update(ctx, p)
		}
		p.Status, _ = nextPaymentStatus(p.Status, eventSucceed)
		p.TransactionID = result.TransactionID
		for k, v := range result.Data {
			p.setData(k, v)
		}
		p.PaidAt = &now
		if err := s.payments.Update(ctx, p); err != nil {
			return err
		}
		return s.markPaid(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// RecoverProcessing charges again the payments left in processing for longer
// than staleProcessing and settles them. It returns how many were settled.
func (s *Service) RecoverProcessing(ctx context.Context) (int, error) {
	stale, err := s.payments.ListProcessingBefore(ctx, s.now().Add(-staleProcessing), recoveryBatchSize)
	if err != nil {
		return 0, fmt.Errorf("list stale payments: %w", err)
	}
	settled := 0
	for _, p := range stale {
		claimed, err := s.claimStale(ctx, p.ID)
		if err != nil {
			s.logger.Error().Err(err).Str("payment_id", p.ID.String()).Msg("claim stale payment")
			continue
		}
		if claimed == nil {
			continue
		}
		if _, err := s.charge(ctx, claimed); err != nil {
			s.logger.Warn().Err(err).Str("payment_id", p.ID.String()).Msg("payment recovery failed")
			continue
		}
		settled++
	}
	return settled, nil
}

// claimStale refreshes a stale processing payment so that a concurrent
// ProcessPayment does not resume it too. It returns nil when the payment was
// settled or resumed in the meantime.
func (s *Service) claimStale(ctx context.Context, id uuid.UUID) (*Payment, error) {
	var out *Payment
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		p, err := s.payments.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		now := s.now()
		if p.Status != StatusProcessing || !s.isStale(p, now) {
			return nil
		}
		p.UpdatedAt = now
		if err := s.payments.Update(ctx, p); err != nil {
			return err
		}
		out = p
		return nil
	})
	return out, err
}

// ConfirmPayment completes a pending payment by hand, typically cash taken
// at the front desk.
func (s *Service) ConfirmPayment(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Payment, error) {
	var p *Payment
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		if p, err = s.payments.GetForUpdate(ctx, id); err != nil {
			return err
		}
		a, err := s.appts.GetByID(ctx, p.AppointmentID)
		if err != nil {
			return err
		}
		if !mayCharge(actor, a) {
			return ErrUnauthorized
		}
		next, ok := nextPaymentStatus(p.Status, eventConfirm)
		if !ok || p.Type == TypeRefund {
			return ErrAlreadyProcessed
		}
		now := s.now()
		p.Status = next
		p.TransactionID = newTransactionID("MAN")
		p.setData("confirmed_by", actor.ID.String())
		p.PaidAt = &now
		p.UpdatedAt = now
		if err := s.payments.Update(ctx, p); err != nil {
			return err
		}
		return s.markPaid(ctx, p)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("payment_id", p.ID.String()).Str("confirmed_by", actor.ID.String()).Msg("payment confirmed manually")
	s.emit(ctx, p, notification.KindPaymentCompleted)
	return p, nil
}

// CancelPayment withdraws a payment that has not been processed yet.
func (s *Service) CancelPayment(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Payment, error) {
	var p *Payment
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		if p, err = s.payments.GetForUpdate(ctx, id); err != nil {
			return err
		}
		a, err := s.appts.GetByID(ctx, p.AppointmentID)
		if err != nil {
			return err
		}
		if !mayPay(actor, a) {
			return ErrUnauthorized
		}
		next, ok := nextPaymentStatus(p.Status, eventCancel)
		if !ok {
			return ErrAlreadyProcessed
		}
		p.Status = next
		p.UpdatedAt = s.now()
		return s.payments.Update(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	s.emit(ctx, p, notification.KindPaymentCancelled)
	return p, nil
}

// markPaid keeps the appointment's paid flag in step with its consultation
// payment.
func (s *Service) markPaid(ctx context.Context, p *Payment) error {
	if p.Type != TypeConsultation {
		return nil
	}
	a, err := s.appts.GetForUpdate(ctx, p.AppointmentID)
	if err != nil {
		return err
	}
	a.Paid = true
	a.UpdatedAt = s.now()
	return s.appts.Update(ctx, a)
}

// -- Refunds --

// CreateRefund returns the completed consultation payment of an appointment.
// It writes a negative completed refund payment, marks the original refunded
// and clears the appointment's paid flag in one transaction. An appointment
// is refunded at most once.
func (s *Service) CreateRefund(ctx context.Context, appointmentID uuid.UUID, reason string) (*Payment, error) {
	var refund *Payment
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		// The row lock on the appointment serialises concurrent refunds.
		a, err := s.appts.GetForUpdate(ctx, appointmentID)
		if err != nil {
			return err
		}
		payments, err := s.payments.ListByAppointment(ctx, appointmentID)
		if err != nil {
			return fmt.Errorf("list payments: %w", err)
		}

		var original *Payment
		for _, p := range payments {
			switch {
			case p.Type == TypeRefund:
				return ErrDuplicateRefund
			case p.Type == TypeConsultation && p.Status == StatusCompleted:
				original = p
			}
		}
		if original == nil {
			return ErrNoQualifyingPaymentForRefund
		}

		now := s.now()
		refund = &Payment{
			ID:            uuid.New(),
			AppointmentID: a.ID,
			PatientID:     a.PatientID,
			Type:          TypeRefund,
			Status:        StatusCompleted,
			Method:        original.Method,
			Amount:        original.Amount.Neg(),
			Concept:       "Refund: " + reason,
			TransactionID: newTransactionID("REF"),
			GatewayData: map[string]string{
				"original_payment_id": original.ID.String(),
				"reason":              reason,
			},
			PaidAt:    &now,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.payments.Create(ctx, refund); err != nil {
			if db.IsUniqueViolation(err, uniqueRefund) {
				return ErrDuplicateRefund
			}
			return fmt.Errorf("create refund: %w", err)
		}

		original.Status, _ = nextPaymentStatus(original.Status, eventRefund)
		original.RefundedAt = &now
		original.UpdatedAt = now
		if err := s.payments.Update(ctx, original); err != nil {
			return err
		}

		a.Paid = false
		a.UpdatedAt = now
		return s.appts.Update(ctx, a)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("payment_id", refund.ID.String()).Str("appointment_id", appointmentID.String()).
		Str("amount", refund.Amount.StringFixed(2)).Str("reason", reason).Msg("refund issued")
	s.emit(ctx, refund, notification.KindRefundIssued)
	return refund, nil
}

// -- Queries --

func (s *Service) GetPayment(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Payment, error) {
	p, err := s.payments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	a, err := s.appts.GetByID(ctx, p.AppointmentID)
	if err != nil {
		return nil, err
	}
	if !a.CanBeViewedBy(actor) {
		return nil, ErrNotFound
	}
	return p, nil
}

func (s *Service) ListPayments(ctx context.Context, actor auth.Actor, appointmentID uuid.UUID) ([]*Payment, error) {
	a, err := s.appts.GetByID(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if !a.CanBeViewedBy(actor) {
		return nil, scheduling.ErrNotFound
	}
	return s.payments.ListByAppointment(ctx, appointmentID)
}

// -- Notifications --

func (s *Service) emit(ctx context.Context, p *Payment, kind notification.Kind) {
	apptID := p.AppointmentID
	data := map[string]string{
		"type":           string(p.Type),
		"amount":         p.Amount.Abs().StringFixed(2),
		"method":         string(p.Method),
		"transaction_id": p.TransactionID,
		"concept":        p.Concept,
		"reason":         p.FailureReason,
	}
	if p.Type == TypeRefund {
		data["reason"] = p.GatewayData["reason"]
	}
	notification.NotifyAll(ctx, s.notifier, s.logger, notification.Event{
		UserID:        p.PatientID,
		AppointmentID: &apptID,
		Kind:          kind,
		Data:          data,
	})
}
