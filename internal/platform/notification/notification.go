// Package notification records appointment events for patients and doctors
// and forwards them to the outbound queue.
package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Kind names the business event a notification reports.
type Kind string

const (
	KindAppointmentCreated   Kind = "appointment_created"
	KindAppointmentUpdated   Kind = "appointment_updated"
	KindAppointmentConfirmed Kind = "appointment_confirmed"
	KindAppointmentCancelled Kind = "appointment_cancelled"
	KindAppointmentCompleted Kind = "appointment_completed"
	KindAppointmentNoShow    Kind = "appointment_no_show"
	KindAppointmentReminder  Kind = "appointment_reminder"

	KindPaymentCreated   Kind = "payment_created"
	KindPaymentCompleted Kind = "payment_completed"
	KindPaymentFailed    Kind = "payment_failed"
	KindPaymentCancelled Kind = "payment_cancelled"
	KindAdditionalCharge Kind = "additional_charge"
	KindRefundIssued     Kind = "refund_issued"

	KindRescheduleRequested Kind = "reschedule_requested"
	KindRescheduleApproved  Kind = "reschedule_approved"
	KindRescheduleRejected  Kind = "reschedule_rejected"
	KindRescheduleCancelled Kind = "reschedule_cancelled"
)

// Event is what business operations emit. Title and Message may be left
// empty, in which case they are rendered from the template for Kind using Data.
type Event struct {
	UserID        uuid.UUID
	AppointmentID *uuid.UUID
	Kind          Kind
	Title         string
	Message       string
	Data          map[string]string
}

// Emitter delivers events. Implementations may fail; callers must not let
// that failure abort the operation that produced the event.
type Emitter interface {
	Notify(ctx context.Context, ev Event) error
}

// Notification is the stored form of an event addressed to one user.
type Notification struct {
	ID            uuid.UUID  `json:"id"`
	UserID        uuid.UUID  `json:"user_id"`
	AppointmentID *uuid.UUID `json:"appointment_id,omitempty"`
	Kind          Kind       `json:"kind"`
	Title         string     `json:"title"`
	Message       string     `json:"message"`
	ReadAt        *time.Time `json:"read_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

var ErrNotFound = errors.New("notification not found")

// Store persists notifications.
type Store interface {
	Create(ctx context.Context, n *Notification) error
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Notification, int, error)
	MarkRead(ctx context.Context, id, userID uuid.UUID, at time.Time) error
}

// Publisher forwards a stored notification to an outbound channel.
type Publisher interface {
	Publish(ctx context.Context, n *Notification) error
}

// Dispatcher is the production Emitter: it renders, records and publishes.
type Dispatcher struct {
	store     Store
	publisher Publisher
	templates *TemplateEngine
	now       func() time.Time
}

// NewDispatcher builds a Dispatcher. publisher may be nil when no queue is
// configured.
func NewDispatcher(store Store, publisher Publisher, templates *TemplateEngine) *Dispatcher {
	if templates == nil {
		templates = NewTemplateEngine()
	}
	return &Dispatcher{
		store:     store,
		publisher: publisher,
		templates: templates,
		now:       time.Now,
	}
}

func (d *Dispatcher) Notify(ctx context.Context, ev Event) error {
	if ev.UserID == uuid.Nil {
		return fmt.Errorf("notification %s has no recipient", ev.Kind)
	}

	title, message := ev.Title, ev.Message
	if title == "" || message == "" {
		t, m, err := d.templates.Render(ev.Kind, ev.Data)
		if err != nil {
			return err
		}
		if title == "" {
			title = t
		}
		if message == "" {
			message = m
		}
	}

	n := &Notification{
		ID:            uuid.New(),
		UserID:        ev.UserID,
		AppointmentID: ev.AppointmentID,
		Kind:          ev.Kind,
		Title:         title,
		Message:       message,
		CreatedAt:     d.now().UTC(),
	}
	if err := d.store.Create(ctx, n); err != nil {
		return fmt.Errorf("record notification: %w", err)
	}
	if d.publisher != nil {
		if err := d.publisher.Publish(ctx, n); err != nil {
			return fmt.Errorf("publish notification %s: %w", n.ID, err)
		}
	}
	return nil
}

// NotifyAll emits each event and logs failures without returning them.
func NotifyAll(ctx context.Context, em Emitter, logger zerolog.Logger, events ...Event) {
	if em == nil {
		return
	}
	for _, ev := range events {
		if err := em.Notify(ctx, ev); err != nil {
			evt := logger.Warn().Err(err).
				Str("kind", string(ev.Kind)).
				Str("user_id", ev.UserID.String())
			if ev.AppointmentID != nil {
				evt = evt.Str("appointment_id", ev.AppointmentID.String())
			}
			evt.Msg("notification failed")
		}
	}
}
