package rescheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/blume/blume/internal/domain/billing"
	"github.com/blume/blume/internal/domain/scheduling"
	"github.com/blume/blume/internal/platform/auth"
	"github.com/blume/blume/internal/platform/db"
	"github.com/blume/blume/internal/platform/notification"
)

const (
	autoDescription = "Automatic reschedule after a no-show"
	refundBatchSize = 100
)

// Refunder returns the consultation payment of an appointment.
type Refunder interface {
	CreateRefund(ctx context.Context, appointmentID uuid.UUID, reason string) (*billing.Payment, error)
}

// Defaults applied by NewService to zero Options.
const (
	DefaultSearchDays   = 30
	DefaultFallbackHour = 9
)

type Options struct {
	// SearchDays bounds the candidate search after a no-show.
	SearchDays int
	// FallbackHour is the local hour used to pad candidate dates. Zero
	// selects DefaultFallbackHour.
	FallbackHour int
}

type Service struct {
	requests     RequestRepository
	appts        scheduling.AppointmentRepository
	sched        *scheduling.Service
	refunds      Refunder
	tx           db.Transactor
	notifier     notification.Emitter
	logger       zerolog.Logger
	searchDays   int
	fallbackHour int
}

func NewService(requests RequestRepository, appts scheduling.AppointmentRepository, sched *scheduling.Service,
	refunds Refunder, tx db.Transactor, notifier notification.Emitter, logger zerolog.Logger, opts Options) *Service {
	if opts.SearchDays <= 0 {
		opts.SearchDays = DefaultSearchDays
	}
	if opts.FallbackHour <= 0 || opts.FallbackHour > 23 {
		opts.FallbackHour = DefaultFallbackHour
	}
	return &Service{
		requests:     requests,
		appts:        appts,
		sched:        sched,
		refunds:      refunds,
		tx:           tx,
		notifier:     notifier,
		logger:       logger.With().Str("component", "rescheduling").Logger(),
		searchDays:   opts.SearchDays,
		fallbackHour: opts.FallbackHour,
	}
}

// -- Requests --

// RequestReschedule opens a request to move an appointment. Without an
// explicit category it is inferred from the requester's role.
func (s *Service) RequestReschedule(ctx context.Context, requester auth.Actor, appointmentID uuid.UUID, d RequestDetails) (*Request, error) {
	return s.create(ctx, requester, appointmentID, d, true)
}

// AutoRescheduleOnNoShow opens a system request for an appointment whose
// no-show was just recorded, proposing dates from the doctor's schedule.
func (s *Service) AutoRescheduleOnNoShow(ctx context.Context, a *scheduling.Appointment, category ReasonCategory) (*Request, error) {
	dates, err := s.candidateDates(ctx, a)
	if err != nil {
		return nil, fmt.Errorf("propose dates: %w", err)
	}
	return s.create(ctx, auth.SystemActor, a.ID, RequestDetails{
		Category:      category,
		Description:   autoDescription,
		ProposedDates: dates,
	}, false)
}

func (s *Service) create(ctx context.Context, actor auth.Actor, appointmentID uuid.UUID, d RequestDetails, requirePaid bool) (*Request, error) {
	now := s.sched.Now()
	if len(d.ProposedDates) == 0 {
		return nil, ErrInsufficientProposedDates
	}
	if len(d.ProposedDates) > MaxProposedDates {
		return nil, ErrInvalidProposedDates
	}
	for i, t := range d.ProposedDates {
		if !t.After(now) {
			return nil, reschedulingErr(CodeInvalidProposedDates, "proposed dates must be in the future")
		}
		for _, prev := range d.ProposedDates[:i] {
			if prev.Equal(t) {
				return nil, reschedulingErr(CodeInvalidProposedDates, "proposed dates must be distinct")
			}
		}
	}
	category := d.Category
	if category == "" {
		category = categoryFor(actor.Role)
	}
	if !category.Valid() {
		return nil, ErrInvalidCategory
	}

	var r *Request
	var appt *scheduling.Appointment
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		a, err := s.appts.GetForUpdate(ctx, appointmentID)
		if err != nil {
			return err
		}
		if !actor.IsPrivileged() && !a.IsParticipant(actor) {
			return ErrUnauthorized
		}
		if !a.ReschedulingAllowed || !scheduling.CanApply(a.Status, scheduling.EventSupersede) {
			return ErrNotReschedulable
		}
		if a.RescheduleCount >= MaxReschedules {
			return ErrLimitReached
		}
		switch _, err := s.requests.FindActive(ctx, a.ID); {
		case err == nil:
			return ErrActiveRequestExists
		case !errors.Is(err, ErrNotFound):
			return err
		}
		if requirePaid && category.DoctorFault() && !a.Paid {
			return ErrUnpaidDoctorFault
		}

		r = &Request{
			ID:                    uuid.New(),
			OriginalAppointmentID: a.ID,
			RequestedBy:           actor.ID,
			RequesterRole:         actor.Role,
			Category:              category,
			Status:                StatusPending,
			Description:           strings.TrimSpace(d.Description),
			Justification:         strings.TrimSpace(d.Justification),
			ProposedDates:         d.ProposedDates,
			RefundRequired:        category.RequiresRefund(),
			CreatedAt:             now,
			UpdatedAt:             now,
		}
		if err := s.requests.Create(ctx, r); err != nil {
			if db.IsUniqueViolation(err, uniqueActive) {
				return ErrActiveRequestExists
			}
			return fmt.Errorf("create reschedule request: %w", err)
		}
		appt = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("request_id", r.ID.String()).Str("appointment_id", appointmentID.String()).
		Str("category", string(category)).Str("actor", actor.String()).Msg("reschedule requested")
	s.emit(ctx, r, appt, notification.KindRescheduleRequested, counterparts(appt, actor)...)
	return r, nil
}

// counterparts are the participants who did not act.
func counterparts(a *scheduling.Appointment, actor auth.Actor) []uuid.UUID {
	switch {
	case a.IsOwnPatient(actor):
		return []uuid.UUID{a.DoctorID}
	case a.IsAssignedDoctor(actor):
		return []uuid.UUID{a.PatientID}
	}
	return []uuid.UUID{a.PatientID, a.DoctorID}
}

// -- Decisions --

func mayDecide(actor auth.Actor, a *scheduling.Appointment) bool {
	return actor.IsPrivileged() || a.IsAssignedDoctor(actor)
}

// Approve accepts a pending request. In one transaction it cancels the
// original appointment, books the replacement at selected when
// createAppointment is set and records the decision. A required refund of
// the original is attempted afterwards; a failure is logged and picked up by
// RetryRefunds.
func (s *Service) Approve(ctx context.Context, approver auth.Actor, id uuid.UUID, selected time.Time, createAppointment bool) (*Request, error) {
	var r *Request
	var original *scheduling.Appointment
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		if r, err = s.requests.GetForUpdate(ctx, id); err != nil {
			return err
		}
		next, ok := nextRequestStatus(r.Status, eventApprove)
		if !ok {
			return ErrAlreadyProcessed
		}
		a, err := s.appts.GetByID(ctx, r.OriginalAppointmentID)
		if err != nil {
			return err
		}
		if !mayDecide(approver, a) {
			return ErrUnauthorized
		}
		if !r.Proposes(selected) {
			return ErrDateNotProposed
		}

		if original, err = s.sched.Supersede(ctx, a.ID, "Rescheduled: "+string(r.Category)); err != nil {
			return err
		}
		if createAppointment {
			replacement, err := s.sched.BookReplacement(ctx, original, selected)
			if err != nil {
				return err
			}
			r.NewAppointmentID = &replacement.ID
		}

		now := s.sched.Now()
		r.Status = next
		r.ApprovedBy = &approver.ID
		r.ApprovedAt = &now
		r.SelectedDate = &selected
		r.UpdatedAt = now
		return s.requests.Update(ctx, r)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("request_id", r.ID.String()).Str("appointment_id", original.ID.String()).
		Time("selected", selected).Str("approver", approver.String()).Msg("reschedule approved")
	if r.RefundRequired && !r.RefundProcessed {
		s.refund(ctx, r)
	}
	s.emit(ctx, r, original, notification.KindRescheduleApproved, original.PatientID, original.DoctorID)
	return r, nil
}

// refund returns the original consultation payment and flags the request.
// An appointment that was never paid has nothing to return and is flagged
// as well. It reports whether the request is now settled.
func (s *Service) refund(ctx context.Context, r *Request) bool {
	skipped := ""
	_, err := s.refunds.CreateRefund(ctx, r.OriginalAppointmentID, "Reschedule: "+string(r.Category))
	switch {
	case err == nil, errors.Is(err, billing.ErrDuplicateRefund):
	case errors.Is(err, billing.ErrNoQualifyingPaymentForRefund):
		skipped = "no completed consultation payment"
	default:
		s.logger.Error().Err(err).Str("request_id", r.ID.String()).
			Str("appointment_id", r.OriginalAppointmentID.String()).Msg("refund after reschedule failed")
		return false
	}
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		cur, err := s.requests.GetForUpdate(ctx, r.ID)
		if err != nil {
			return err
		}
		cur.RefundProcessed = true
		if skipped != "" {
			cur.setMeta("refund_skipped", skipped)
		}
		cur.UpdatedAt = s.sched.Now()
		if err := s.requests.Update(ctx, cur); err != nil {
			return err
		}
		*r = *cur
		return nil
	})
	if err != nil {
		s.logger.Error().Err(err).Str("request_id", r.ID.String()).Msg("flag refund as processed")
		return false
	}
	return true
}

// RetryRefunds settles the refunds that failed right after approval. It
// returns how many requests were settled.
func (s *Service) RetryRefunds(ctx context.Context) (int, error) {
	items, err := s.requests.ListRefundPending(ctx, refundBatchSize)
	if err != nil {
		return 0, fmt.Errorf("list pending refunds: %w", err)
	}
	settled := 0
	for _, r := range items {
		if ctx.Err() != nil {
			return settled, ctx.Err()
		}
		if s.refund(ctx, r) {
			settled++
		}
	}
	return settled, nil
}

// Reject turns down a pending request. A reason is mandatory.
func (s *Service) Reject(ctx context.Context, approver auth.Actor, id uuid.UUID, reason string) (*Request, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, ErrMissingRejectionReason
	}
	var r *Request
	var a *scheduling.Appointment
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		if r, err = s.requests.GetForUpdate(ctx, id); err != nil {
			return err
		}
		next, ok := nextRequestStatus(r.Status, eventReject)
		if !ok {
			return ErrAlreadyProcessed
		}
		if a, err = s.appts.GetByID(ctx, r.OriginalAppointmentID); err != nil {
			return err
		}
		if !mayDecide(approver, a) {
			return ErrUnauthorized
		}
		now := s.sched.Now()
		r.Status = next
		r.ApprovedBy = &approver.ID
		r.RejectedAt = &now
		r.RejectionReason = reason
		r.UpdatedAt = now
		return s.requests.Update(ctx, r)
	})
	if err != nil {
		return nil, err
	}

	to := r.RequestedBy
	if to == uuid.Nil {
		to = a.PatientID
	}
	s.emit(ctx, r, a, notification.KindRescheduleRejected, to)
	return r, nil
}

// Cancel withdraws a request that has not completed. Only the requester or
// an administrator may do so.
func (s *Service) Cancel(ctx context.Context, actor auth.Actor, id uuid.UUID, reason string) (*Request, error) {
	var r *Request
	var a *scheduling.Appointment
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		if r, err = s.requests.GetForUpdate(ctx, id); err != nil {
			return err
		}
		if !actor.IsPrivileged() && actor.ID != r.RequestedBy {
			return ErrUnauthorized
		}
		next, ok := nextRequestStatus(r.Status, eventCancel)
		if !ok {
			return ErrAlreadyProcessed
		}
		if a, err = s.appts.GetByID(ctx, r.OriginalAppointmentID); err != nil {
			return err
		}
		now := s.sched.Now()
		r.Status = next
		r.setMeta("cancelled_by", actor.String())
		r.setMeta("cancelled_at", now.UTC().Format(time.RFC3339))
		if reason = strings.TrimSpace(reason); reason != "" {
			r.setMeta("cancellation_reason", reason)
		}
		r.UpdatedAt = now
		return s.requests.Update(ctx, r)
	})
	if err != nil {
		return nil, err
	}
	s.emit(ctx, r, a, notification.KindRescheduleCancelled, a.PatientID, a.DoctorID)
	return r, nil
}

// completeReplacement closes the approved request that produced the
// appointment, if any.
func (s *Service) completeReplacement(ctx context.Context, appointmentID uuid.UUID) error {
	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		found, err := s.requests.FindByNewAppointment(ctx, appointmentID)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		r, err := s.requests.GetForUpdate(ctx, found.ID)
		if err != nil {
			return err
		}
		next, ok := nextRequestStatus(r.Status, eventComplete)
		if !ok {
			return nil
		}
		r.Status = next
		r.UpdatedAt = s.sched.Now()
		return s.requests.Update(ctx, r)
	})
}

// AppointmentChanged reacts to committed appointment transitions: a
// no-show opens an automatic request and completing a replacement closes
// the request behind it.
func (s *Service) AppointmentChanged(ctx context.Context, c scheduling.Change) error {
	switch c.Event {
	case scheduling.EventNoShow:
		category := CategoryPatientNoShow
		if c.Appointment.NoShowParty == scheduling.NoShowDoctor {
			category = CategoryDoctorNoShow
		}
		_, err := s.AutoRescheduleOnNoShow(ctx, c.Appointment, category)
		return err
	case scheduling.EventComplete:
		return s.completeReplacement(ctx, c.Appointment.ID)
	}
	return nil
}

// -- Queries --

// ProposeAlternatives returns the dates an automatic request would offer.
func (s *Service) ProposeAlternatives(ctx context.Context, actor auth.Actor, appointmentID uuid.UUID) ([]time.Time, error) {
	a, err := s.appts.GetByID(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if !a.CanBeViewedBy(actor) {
		return nil, scheduling.ErrNotFound
	}
	return s.candidateDates(ctx, a)
}

func (s *Service) Get(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Request, error) {
	r, err := s.requests.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	a, err := s.appts.GetByID(ctx, r.OriginalAppointmentID)
	if err != nil {
		return nil, err
	}
	if !a.CanBeViewedBy(actor) {
		return nil, ErrNotFound
	}
	return r, nil
}

func (s *Service) ListByAppointment(ctx context.Context, actor auth.Actor, appointmentID uuid.UUID) ([]*Request, error) {
	a, err := s.appts.GetByID(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if !a.CanBeViewedBy(actor) {
		return nil, scheduling.ErrNotFound
	}
	return s.requests.ListByAppointment(ctx, appointmentID)
}

// -- Notifications --

func (s *Service) emit(ctx context.Context, r *Request, a *scheduling.Appointment, kind notification.Kind, recipients ...uuid.UUID) {
	loc := s.sched.Location()
	data := map[string]string{
		"start":    scheduling.FormatTime(a.Start, loc),
		"category": string(r.Category),
		"reason":   r.RejectionReason,
	}
	if r.SelectedDate != nil {
		data["selected"] = scheduling.FormatTime(*r.SelectedDate, loc)
	}
	apptID := a.ID
	events := make([]notification.Event, 0, len(recipients))
	for _, to := range recipients {
		events = append(events, notification.Event{UserID: to, AppointmentID: &apptID, Kind: kind, Data: data})
	}
	notification.NotifyAll(ctx, s.notifier, s.logger, events...)
}
