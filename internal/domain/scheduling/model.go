package scheduling

import (
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/blume/blume/internal/platform/auth"
)

// AppointmentStatus is the lifecycle state of an appointment.
type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "pending"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusCancelled AppointmentStatus = "cancelled"
	StatusCompleted AppointmentStatus = "completed"
	StatusNoShow    AppointmentStatus = "no_show"
)

// IsActive reports whether the status blocks the doctor's time.
func (s AppointmentStatus) IsActive() bool {
	return s == StatusPending || s == StatusConfirmed
}

// IsTerminal reports whether no public operation can move the appointment on.
func (s AppointmentStatus) IsTerminal() bool {
	return s == StatusCancelled || s == StatusCompleted || s == StatusNoShow
}

// NoShowParty records who failed to attend.
type NoShowParty string

const (
	NoShowPatient NoShowParty = "patient"
	NoShowDoctor  NoShowParty = "doctor"
)

func (p NoShowParty) Valid() bool {
	return p == NoShowPatient || p == NoShowDoctor
}

type Appointment struct {
	ID                  uuid.UUID         `json:"id"`
	PatientID           uuid.UUID         `json:"patient_id"`
	DoctorID            uuid.UUID         `json:"doctor_id"`
	Start               time.Time         `json:"start"`
	End                 time.Time         `json:"end"`
	Status              AppointmentStatus `json:"status"`
	Reason              string            `json:"reason,omitempty"`
	Notes               string            `json:"notes,omitempty"`
	Diagnosis           string            `json:"diagnosis,omitempty"`
	CancellationReason  string            `json:"cancellation_reason,omitempty"`
	Cost                decimal.Decimal   `json:"cost"`
	Paid                bool              `json:"paid"`
	HasAdditionalCharge bool              `json:"has_additional_charge"`
	AdditionalAmount    decimal.Decimal   `json:"additional_amount"`
	RescheduleCount     int               `json:"reschedule_count"`
	ReschedulingAllowed bool              `json:"rescheduling_allowed"`
	NoShowParty         NoShowParty       `json:"no_show_party,omitempty"`
	NoShowReason        string            `json:"no_show_reason,omitempty"`
	NoShowAt            *time.Time        `json:"no_show_at,omitempty"`
	NoShowNotified      bool              `json:"-"`
	ReminderSentAt      *time.Time        `json:"reminder_sent_at,omitempty"`
	CreatedAt           time.Time         `json:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at"`
}

func (a *Appointment) Duration() time.Duration {
	return a.End.Sub(a.Start)
}

func (a *Appointment) DurationMinutes() int {
	return int(a.Duration() / time.Minute)
}

// IsOngoing reports whether a confirmed appointment is in progress at now.
func (a *Appointment) IsOngoing(now time.Time) bool {
	return a.Status == StatusConfirmed && !now.Before(a.Start) && now.Before(a.End)
}

// TimeRemaining describes how far the start is from now, e.g. "3 hours from now".
func (a *Appointment) TimeRemaining(now time.Time) string {
	return humanize.RelTime(a.Start, now, "ago", "from now")
}

// Overlaps reports whether the appointment intersects [start, end).
func (a *Appointment) Overlaps(start, end time.Time) bool {
	return a.Start.Before(end) && a.End.After(start)
}

func (a *Appointment) IsParticipant(actor auth.Actor) bool {
	return actor.ID == a.PatientID || actor.ID == a.DoctorID
}

// IsAssignedDoctor reports whether actor is the doctor of the appointment.
func (a *Appointment) IsAssignedDoctor(actor auth.Actor) bool {
	return actor.IsDoctor() && actor.ID == a.DoctorID
}

// IsOwnPatient reports whether actor is the patient of the appointment.
func (a *Appointment) IsOwnPatient(actor auth.Actor) bool {
	return actor.IsPatient() && actor.ID == a.PatientID
}

// CanBeViewedBy reports whether actor may read the appointment.
func (a *Appointment) CanBeViewedBy(actor auth.Actor) bool {
	return actor.IsPrivileged() || a.IsAssignedDoctor(actor) || a.IsOwnPatient(actor)
}

// CanBeConfirmedBy reports whether actor may confirm the appointment at now.
func (a *Appointment) CanBeConfirmedBy(actor auth.Actor, now time.Time) bool {
	if a.Status != StatusPending || !now.Before(a.Start) {
		return false
	}
	return actor.IsPrivileged() || a.IsAssignedDoctor(actor)
}

// CanBeCancelledBy reports whether actor may cancel the appointment at now.
// Patients must give at least notice before the start.
func (a *Appointment) CanBeCancelledBy(actor auth.Actor, now time.Time, notice time.Duration) bool {
	if !a.Status.IsActive() {
		return false
	}
	return mayCancel(a, actor, now, notice)
}

// CanBeCompletedBy reports whether actor may complete the appointment at now.
func (a *Appointment) CanBeCompletedBy(actor auth.Actor, now time.Time) bool {
	if !a.Status.IsActive() || now.Before(a.Start) {
		return false
	}
	return actor.IsPrivileged() || a.IsAssignedDoctor(actor)
}

func mayCancel(a *Appointment, actor auth.Actor, now time.Time, notice time.Duration) bool {
	switch {
	case actor.IsPrivileged(), a.IsAssignedDoctor(actor):
		return true
	case a.IsOwnPatient(actor):
		return a.Start.Sub(now) > notice
	}
	return false
}

// BookingRequest is the input of CreateAppointment. A nil Cost falls back to
// the configured consultation fee.
type BookingRequest struct {
	PatientID uuid.UUID
	DoctorID  uuid.UUID
	Start     time.Time
	End       time.Time
	Reason    string
	Cost      *decimal.Decimal
}

// AppointmentUpdate carries the editable fields of an active appointment.
type AppointmentUpdate struct {
	Start  *time.Time
	End    *time.Time
	Reason *string
	Notes  *string
}

// Slot is one bookable subdivision of a schedule window.
type Slot struct {
	WindowID  uuid.UUID `json:"window_id"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Available bool      `json:"available"`
}
