package scheduling

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/blume/blume/internal/platform/auth"
)

// WindowInput carries the editable fields of a schedule window. A zero
// SlotDurationMinutes uses the default of 30 minutes.
type WindowInput struct {
	DoctorID            uuid.UUID
	Weekday             time.Weekday
	StartMinute         int
	EndMinute           int
	SlotDurationMinutes int
}

func canManageWindows(actor auth.Actor, doctorID uuid.UUID) bool {
	return actor.IsPrivileged() || (actor.IsDoctor() && actor.ID == doctorID)
}

func (s *Service) CreateWindow(ctx context.Context, actor auth.Actor, in WindowInput) (*ScheduleWindow, error) {
	if !canManageWindows(actor, in.DoctorID) {
		return nil, transitionErr(CodeUnauthorized, "cannot manage another doctor's schedule")
	}
	if in.SlotDurationMinutes == 0 {
		in.SlotDurationMinutes = defaultSlotMinutes
	}
	now := s.now()
	w := &ScheduleWindow{
		DoctorID:            in.DoctorID,
		Weekday:             in.Weekday,
		StartMinute:         in.StartMinute,
		EndMinute:           in.EndMinute,
		SlotDurationMinutes: in.SlotDurationMinutes,
		Active:              true,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.checkWindowOverlap(ctx, w); err != nil {
			return err
		}
		return s.windows.Create(ctx, w)
	})
	if err != nil {
		return nil, err
	}
	return w, nil
}

// UpdateWindow changes the day, hours or slot length of a window. The doctor
// of a window never changes.
func (s *Service) UpdateWindow(ctx context.Context, actor auth.Actor, id uuid.UUID, in WindowInput) (*ScheduleWindow, error) {
	var out *ScheduleWindow
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		w, err := s.windows.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if !canManageWindows(actor, w.DoctorID) {
			return transitionErr(CodeUnauthorized, "cannot manage another doctor's schedule")
		}
		w.Weekday = in.Weekday
		w.StartMinute = in.StartMinute
		w.EndMinute = in.EndMinute
		if in.SlotDurationMinutes != 0 {
			w.SlotDurationMinutes = in.SlotDurationMinutes
		}
		if err := w.Validate(); err != nil {
			return err
		}
		if w.Active {
			if err := s.checkWindowOverlap(ctx, w); err != nil {
				return err
			}
		}
		w.UpdatedAt = s.now()
		if err := s.windows.Update(ctx, w); err != nil {
			return err
		}
		out = w
		return nil
	})
	return out, err
}

// DeactivateWindow soft-deletes a window. Existing appointments are kept.
func (s *Service) DeactivateWindow(ctx context.Context, actor auth.Actor, id uuid.UUID) (*ScheduleWindow, error) {
	var out *ScheduleWindow
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		w, err := s.windows.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if !canManageWindows(actor, w.DoctorID) {
			return transitionErr(CodeUnauthorized, "cannot manage another doctor's schedule")
		}
		w.Active = false
		w.UpdatedAt = s.now()
		if err := s.windows.Update(ctx, w); err != nil {
			return err
		}
		out = w
		return nil
	})
	return out, err
}

func (s *Service) checkWindowOverlap(ctx context.Context, w *ScheduleWindow) error {
	if err := s.windows.LockDoctorWeekday(ctx, w.DoctorID, w.Weekday); err != nil {
		return err
	}
	var exclude *uuid.UUID
	if w.ID != uuid.Nil {
		exclude = &w.ID
	}
	overlap, err := s.HasOverlap(ctx, w.DoctorID, w.Weekday, w.StartMinute, w.EndMinute, exclude)
	if err != nil {
		return err
	}
	if overlap {
		return &ValidationError{
			Code: CodeWindowOverlap,
			Message: fmt.Sprintf("%s-%s overlaps another active window on %s",
				FormatClock(w.StartMinute), FormatClock(w.EndMinute), w.Weekday),
		}
	}
	return nil
}

func (s *Service) ListActiveWindows(ctx context.Context, doctorID uuid.UUID, weekday time.Weekday) ([]*ScheduleWindow, error) {
	return s.windows.ListActive(ctx, doctorID, weekday)
}

// ListDoctorWindows returns every active window of the doctor, ordered by
// weekday and start.
func (s *Service) ListDoctorWindows(ctx context.Context, doctorID uuid.UUID) ([]*ScheduleWindow, error) {
	windows, err := s.windows.ListActiveForDoctor(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	sortWindows(windows)
	return windows, nil
}

// HasOverlap reports whether [start, end) minutes on weekday intersect an
// active window of the doctor other than excludeID.
func (s *Service) HasOverlap(ctx context.Context, doctorID uuid.UUID, weekday time.Weekday, start, end int, excludeID *uuid.UUID) (bool, error) {
	windows, err := s.windows.ListActive(ctx, doctorID, weekday)
	if err != nil {
		return false, fmt.Errorf("list schedule windows: %w", err)
	}
	return HasOverlap(windows, weekday, start, end, excludeID), nil
}

// WindowSlots returns the slots of w on date, marked against the doctor's
// current bookings.
func (s *Service) WindowSlots(ctx context.Context, w *ScheduleWindow, date time.Time) (iter.Seq[Slot], error) {
	from := atMinute(date, 0, s.loc)
	to := atMinute(date, minutesPerDay, s.loc)
	booked, err := s.appts.ListActiveForDoctorBetween(ctx, w.DoctorID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list doctor appointments: %w", err)
	}
	return GenerateSlots(w, date, s.loc, booked, s.now()), nil
}

// AvailableSlots lists the slots of every active window of the doctor on
// date, in start order.
func (s *Service) AvailableSlots(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]Slot, error) {
	weekday, _ := clockOf(atMinute(date, 0, s.loc), s.loc)
	windows, err := s.windows.ListActive(ctx, doctorID, weekday)
	if err != nil {
		return nil, fmt.Errorf("list schedule windows: %w", err)
	}
	var slots []Slot
	for _, w := range windows {
		seq, err := s.WindowSlots(ctx, w, date)
		if err != nil {
			return nil, err
		}
		slots = slices.AppendSeq(slots, seq)
	}
	slices.SortFunc(slots, func(a, b Slot) int { return a.Start.Compare(b.Start) })
	return slots, nil
}
