package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type AppointmentRepository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// GetForUpdate reads the row and locks it until the surrounding
	// transaction ends.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error)
	Update(ctx context.Context, a *Appointment) error
	// ListActiveForDoctorBetween returns pending and confirmed appointments of
	// the doctor intersecting [from, to).
	ListActiveForDoctorBetween(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]*Appointment, error)
	// LockDoctorDay serialises bookings of one doctor on one local day for
	// the rest of the transaction.
	LockDoctorDay(ctx context.Context, doctorID uuid.UUID, day string) error
	ListDueForReminder(ctx context.Context, from, to time.Time, limit int) ([]*Appointment, error)
	// MarkReminderSent sets reminder_sent_at once; it reports false when
	// another caller got there first.
	MarkReminderSent(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
}

type WindowRepository interface {
	Create(ctx context.Context, w *ScheduleWindow) error
	GetByID(ctx context.Context, id uuid.UUID) (*ScheduleWindow, error)
	Update(ctx context.Context, w *ScheduleWindow) error
	ListActive(ctx context.Context, doctorID uuid.UUID, weekday time.Weekday) ([]*ScheduleWindow, error)
	ListActiveForDoctor(ctx context.Context, doctorID uuid.UUID) ([]*ScheduleWindow, error)
	LockDoctorWeekday(ctx context.Context, doctorID uuid.UUID, weekday time.Weekday) error
}
