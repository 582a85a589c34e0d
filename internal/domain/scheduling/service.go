package scheduling

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/blume/blume/internal/platform/auth"
	"github.com/blume/blume/internal/platform/db"
	"github.com/blume/blume/internal/platform/notification"
)

const reminderBatchSize = 200

// Change describes a committed lifecycle transition.
type Change struct {
	Appointment *Appointment
	From        AppointmentStatus
	Event       Event
	Actor       auth.Actor
}

// Observer is told about every committed transition. Errors are logged and
// never undo the transition.
type Observer interface {
	AppointmentChanged(ctx context.Context, c Change) error
}

type Options struct {
	Location            *time.Location
	PatientCancelNotice time.Duration
	DefaultCost         decimal.Decimal
}

type Service struct {
	appts        AppointmentRepository
	windows      WindowRepository
	tx           db.Transactor
	notifier     notification.Emitter
	logger       zerolog.Logger
	loc          *time.Location
	cancelNotice time.Duration
	defaultCost  decimal.Decimal
	now          func() time.Time
	observers    []Observer
}

func NewService(appts AppointmentRepository, windows WindowRepository, tx db.Transactor,
	notifier notification.Emitter, logger zerolog.Logger, opts Options) *Service {
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		appts:        appts,
		windows:      windows,
		tx:           tx,
		notifier:     notifier,
		logger:       logger.With().Str("component", "scheduling").Logger(),
		loc:          loc,
		cancelNotice: opts.PatientCancelNotice,
		defaultCost:  opts.DefaultCost,
		now:          time.Now,
	}
}

// SetClock replaces the time source.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

func (s *Service) Now() time.Time { return s.now() }

// Location is the clinic time zone used for weekdays and times of day.
func (s *Service) Location() *time.Location { return s.loc }

// CancelNotice is the minimum notice a patient must give to cancel.
func (s *Service) CancelNotice() time.Duration { return s.cancelNotice }

func (s *Service) AddObserver(o Observer) { s.observers = append(s.observers, o) }

// FormatTime renders t in loc the way notifications show appointment times.
func FormatTime(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("Mon 02 Jan 2006 15:04")
}

// -- Validation --

// ValidateSlot checks that the doctor can take an appointment in
// [start, end). excludeID skips the appointment being edited.
func (s *Service) ValidateSlot(ctx context.Context, doctorID uuid.UUID, start, end time.Time, excludeID *uuid.UUID) error {
	if !end.After(start) {
		return ErrInvalidTimeRange
	}
	weekday, _ := clockOf(start, s.loc)
	windows, err := s.windows.ListActive(ctx, doctorID, weekday)
	if err != nil {
		return fmt.Errorf("list schedule windows: %w", err)
	}
	existing, err := s.appts.ListActiveForDoctorBetween(ctx, doctorID, start, end)
	if err != nil {
		return fmt.Errorf("list doctor appointments: %w", err)
	}
	return checkSlot(slotCheck{
		start:     start,
		end:       end,
		now:       s.now(),
		loc:       s.loc,
		windows:   windows,
		existing:  existing,
		excludeID: excludeID,
	})
}

// lockSlot takes the per doctor and day locks covering [start, end) in
// chronological order.
func (s *Service) lockSlot(ctx context.Context, doctorID uuid.UUID, start, end time.Time) error {
	last := end.Add(-time.Nanosecond).In(s.loc)
	for day := atMinute(start, 0, s.loc); !day.After(last); day = day.AddDate(0, 0, 1) {
		if err := s.appts.LockDoctorDay(ctx, doctorID, day.Format(time.DateOnly)); err != nil {
			return err
		}
	}
	return nil
}

// -- Appointments --

func (s *Service) CreateAppointment(ctx context.Context, actor auth.Actor, req BookingRequest) (*Appointment, error) {
	switch {
	case actor.IsPrivileged():
	case actor.IsPatient() && actor.ID == req.PatientID:
	case actor.IsDoctor() && actor.ID == req.DoctorID:
	default:
		return nil, transitionErr(CodeUnauthorized, "cannot book appointments for other users")
	}
	if req.PatientID == uuid.Nil || req.DoctorID == uuid.Nil {
		return nil, fmt.Errorf("patient_id and doctor_id are required")
	}
	cost := s.defaultCost
	if req.Cost != nil {
		cost = *req.Cost
	}
	if cost.IsNegative() {
		return nil, ErrInvalidCost
	}

	now := s.now()
	a := &Appointment{
		PatientID:           req.PatientID,
		DoctorID:            req.DoctorID,
		Start:               req.Start,
		End:                 req.End,
		Status:              StatusPending,
		Reason:              strings.TrimSpace(req.Reason),
		Cost:                cost,
		AdditionalAmount:    decimal.Zero,
		ReschedulingAllowed: true,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if !a.End.After(a.Start) {
			return ErrInvalidTimeRange
		}
		if err := s.lockSlot(ctx, a.DoctorID, a.Start, a.End); err != nil {
			return err
		}
		if err := s.ValidateSlot(ctx, a.DoctorID, a.Start, a.End, nil); err != nil {
			return err
		}
		return s.appts.Create(ctx, a)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("appointment_id", a.ID.String()).Str("doctor_id", a.DoctorID.String()).
		Time("start", a.Start).Msg("appointment booked")
	s.emit(ctx, a, notification.KindAppointmentCreated, a.PatientID, a.DoctorID)
	return a, nil
}

// BookReplacement creates the confirmed appointment that replaces original
// at start, keeping its duration, participants, reason, cost, paid flag and
// reschedule count. It joins the transaction in ctx and emits nothing.
func (s *Service) BookReplacement(ctx context.Context, original *Appointment, start time.Time) (*Appointment, error) {
	now := s.now()
	a := &Appointment{
		PatientID:           original.PatientID,
		DoctorID:            original.DoctorID,
		Start:               start,
		End:                 start.Add(original.Duration()),
		Status:              StatusConfirmed,
		Reason:              original.Reason,
		Cost:                original.Cost,
		Paid:                original.Paid,
		AdditionalAmount:    decimal.Zero,
		RescheduleCount:     original.RescheduleCount,
		ReschedulingAllowed: true,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.lockSlot(ctx, a.DoctorID, a.Start, a.End); err != nil {
			return err
		}
		if err := s.ValidateSlot(ctx, a.DoctorID, a.Start, a.End, nil); err != nil {
			return err
		}
		return s.appts.Create(ctx, a)
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Supersede cancels an appointment replaced by an approved reschedule and
// increments its reschedule count. It joins the transaction in ctx and
// emits nothing.
func (s *Service) Supersede(ctx context.Context, id uuid.UUID, reason string) (*Appointment, error) {
	var out *Appointment
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		a, err := s.appts.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		next, err := NextStatus(a.Status, EventSupersede)
		if err != nil {
			return err
		}
		a.Status = next
		a.CancellationReason = reason
		a.RescheduleCount++
		a.UpdatedAt = s.now()
		if err := s.appts.Update(ctx, a); err != nil {
			return err
		}
		out = a
		return nil
	})
	return out, err
}

// GetAppointment returns the appointment if actor may see it.
func (s *Service) GetAppointment(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Appointment, error) {
	a, err := s.appts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !a.CanBeViewedBy(actor) {
		return nil, ErrUnauthorized
	}
	return a, nil
}

// UpdateAppointment edits an active appointment. A new time range is
// validated against the doctor's schedule ignoring the appointment itself.
func (s *Service) UpdateAppointment(ctx context.Context, actor auth.Actor, id uuid.UUID, upd AppointmentUpdate) (*Appointment, error) {
	var out *Appointment
	moved := false
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		a, err := s.appts.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !a.Status.IsActive() {
			return transitionErr(CodeIllegalTransition, fmt.Sprintf("cannot edit an appointment that is %s", a.Status))
		}
		staff := actor.IsPrivileged() || a.IsAssignedDoctor(actor)
		if !staff && !a.IsOwnPatient(actor) {
			return ErrUnauthorized
		}
		if upd.Notes != nil && !staff {
			return transitionErr(CodeUnauthorized, "only the doctor can edit clinical notes")
		}

		start, end := a.Start, a.End
		if upd.Start != nil {
			start = *upd.Start
		}
		if upd.End != nil {
			end = *upd.End
		}
		if !start.Equal(a.Start) || !end.Equal(a.End) {
			if !staff && a.Status != StatusPending {
				return transitionErr(CodeUnauthorized, "a confirmed appointment can only be moved by the doctor or an administrator")
			}
			if !end.After(start) {
				return ErrInvalidTimeRange
			}
			if err := s.lockSlot(ctx, a.DoctorID, start, end); err != nil {
				return err
			}
			if err := s.ValidateSlot(ctx, a.DoctorID, start, end, &a.ID); err != nil {
				return err
			}
			a.Start, a.End = start, end
			a.ReminderSentAt = nil
			moved = true
		}
		if upd.Reason != nil {
			a.Reason = strings.TrimSpace(*upd.Reason)
		}
		if upd.Notes != nil {
			a.Notes = *upd.Notes
		}
		a.UpdatedAt = s.now()
		if err := s.appts.Update(ctx, a); err != nil {
			return err
		}
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	if moved {
		s.emit(ctx, out, notification.KindAppointmentUpdated, out.PatientID, out.DoctorID)
	}
	return out, nil
}

// -- Lifecycle --

// transition applies ev to the appointment under a row lock. guard runs
// after the transition table accepted ev and may refuse or edit the row.
func (s *Service) transition(ctx context.Context, actor auth.Actor, id uuid.UUID, ev Event,
	guard func(a *Appointment, now time.Time) error) (*Appointment, error) {
	var out *Appointment
	var from AppointmentStatus
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		a, err := s.appts.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		next, err := NextStatus(a.Status, ev)
		if err != nil {
			return err
		}
		now := s.now()
		if err := guard(a, now); err != nil {
			return err
		}
		from = a.Status
		a.Status = next
		a.UpdatedAt = now
		if err := s.appts.Update(ctx, a); err != nil {
			return err
		}
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("appointment_id", out.ID.String()).Str("event", string(ev)).
		Str("from", string(from)).Str("to", string(out.Status)).Str("actor", actor.String()).
		Msg("appointment transitioned")
	s.publish(ctx, Change{Appointment: out, From: from, Event: ev, Actor: actor})
	return out, nil
}

func (s *Service) Confirm(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Appointment, error) {
	a, err := s.transition(ctx, actor, id, EventConfirm, func(a *Appointment, now time.Time) error {
		if !now.Before(a.Start) {
			return transitionErr(CodeIllegalTransition, "cannot confirm an appointment that has already started")
		}
		if !actor.IsPrivileged() && !a.IsAssignedDoctor(actor) {
			return transitionErr(CodeUnauthorized, "only the assigned doctor or an administrator can confirm")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.emit(ctx, a, notification.KindAppointmentConfirmed, a.PatientID)
	return a, nil
}

func (s *Service) Cancel(ctx context.Context, actor auth.Actor, id uuid.UUID, reason string) (*Appointment, error) {
	reason = strings.TrimSpace(reason)
	a, err := s.transition(ctx, actor, id, EventCancel, func(a *Appointment, now time.Time) error {
		if reason == "" {
			return ErrMissingCancellationReason
		}
		if !mayCancel(a, actor, now, s.cancelNotice) {
			if a.IsOwnPatient(actor) {
				return transitionErr(CodeUnauthorized,
					fmt.Sprintf("patients must cancel at least %s before the appointment", s.cancelNotice))
			}
			return ErrUnauthorized
		}
		a.CancellationReason = reason
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.emit(ctx, a, notification.KindAppointmentCancelled, a.PatientID, a.DoctorID)
	return a, nil
}

// Complete closes an appointment once it has started, optionally recording
// the diagnosis and notes.
func (s *Service) Complete(ctx context.Context, actor auth.Actor, id uuid.UUID, diagnosis, notes string) (*Appointment, error) {
	a, err := s.transition(ctx, actor, id, EventComplete, func(a *Appointment, now time.Time) error {
		if now.Before(a.Start) {
			return transitionErr(CodeIllegalTransition, "cannot complete an appointment before it starts")
		}
		if !actor.IsPrivileged() && !a.IsAssignedDoctor(actor) {
			return transitionErr(CodeUnauthorized, "only the assigned doctor or an administrator can complete")
		}
		if d := strings.TrimSpace(diagnosis); d != "" {
			a.Diagnosis = d
		}
		if n := strings.TrimSpace(notes); n != "" {
			a.Notes = n
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.emit(ctx, a, notification.KindAppointmentCompleted, a.PatientID)
	return a, nil
}

// MarkNoShow records that party missed a confirmed appointment. The no-show
// notice is sent at most once per appointment.
func (s *Service) MarkNoShow(ctx context.Context, actor auth.Actor, id uuid.UUID, party NoShowParty, reason string) (*Appointment, error) {
	if !party.Valid() {
		return nil, ErrInvalidNoShowParty
	}
	notify := false
	a, err := s.transition(ctx, actor, id, EventNoShow, func(a *Appointment, now time.Time) error {
		if now.Before(a.Start) {
			return transitionErr(CodeIllegalTransition, "cannot record a no-show before the appointment starts")
		}
		if !actor.IsPrivileged() && !a.IsAssignedDoctor(actor) {
			return transitionErr(CodeUnauthorized, "only the assigned doctor or an administrator can record a no-show")
		}
		a.NoShowParty = party
		a.NoShowReason = strings.TrimSpace(reason)
		a.NoShowAt = &now
		notify = !a.NoShowNotified
		a.NoShowNotified = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if notify {
		s.emit(ctx, a, notification.KindAppointmentNoShow, a.PatientID, a.DoctorID)
	}
	return a, nil
}

// -- Reminders --

// SendReminders notifies the participants of confirmed appointments starting
// within horizon. Each appointment is reminded once.
func (s *Service) SendReminders(ctx context.Context, horizon time.Duration) (int, error) {
	now := s.now()
	due, err := s.appts.ListDueForReminder(ctx, now, now.Add(horizon), reminderBatchSize)
	if err != nil {
		return 0, fmt.Errorf("list due reminders: %w", err)
	}
	sent := 0
	for _, a := range due {
		ok, err := s.appts.MarkReminderSent(ctx, a.ID, now)
		if err != nil {
			return sent, err
		}
		if !ok {
			continue
		}
		s.emit(ctx, a, notification.KindAppointmentReminder, a.PatientID, a.DoctorID)
		sent++
	}
	return sent, nil
}

// -- Side effects --

func (s *Service) publish(ctx context.Context, c Change) {
	for _, o := range s.observers {
		if err := o.AppointmentChanged(ctx, c); err != nil {
			s.logger.Error().Err(err).
				Str("appointment_id", c.Appointment.ID.String()).
				Str("event", string(c.Event)).
				Msg("appointment observer failed")
		}
	}
}

// EventData is the template data describing a.
func (s *Service) EventData(a *Appointment) map[string]string {
	return map[string]string{
		"start":     FormatTime(a.Start, s.loc),
		"duration":  strconv.Itoa(a.DurationMinutes()),
		"reason":    a.CancellationReason,
		"party":     string(a.NoShowParty),
		"remaining": a.TimeRemaining(s.now()),
	}
}

func (s *Service) emit(ctx context.Context, a *Appointment, kind notification.Kind, recipients ...uuid.UUID) {
	data := s.EventData(a)
	apptID := a.ID
	events := make([]notification.Event, 0, len(recipients))
	for _, to := range recipients {
		events = append(events, notification.Event{UserID: to, AppointmentID: &apptID, Kind: kind, Data: data})
	}
	notification.NotifyAll(ctx, s.notifier, s.logger, events...)
}
