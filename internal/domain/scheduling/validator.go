package scheduling

import (
	"time"

	"github.com/google/uuid"
)

// slotCheck is the input of checkSlot: the proposed range plus everything
// read from storage.
type slotCheck struct {
	start, end time.Time
	now        time.Time
	loc        *time.Location
	windows    []*ScheduleWindow
	existing   []*Appointment
	excludeID  *uuid.UUID
}

// checkSlot applies the booking rules in order: range, past start, working
// day, window containment of the start time, doctor conflicts.
func checkSlot(c slotCheck) error {
	if !c.end.After(c.start) {
		return ErrInvalidTimeRange
	}
	if c.start.Before(c.now) {
		return ErrPastStartTime
	}

	weekday, minute := clockOf(c.start, c.loc)
	var day []*ScheduleWindow
	for _, w := range c.windows {
		if w.Active && w.Weekday == weekday {
			day = append(day, w)
		}
	}
	if len(day) == 0 {
		return ErrNoScheduleForDay
	}
	inside := false
	for _, w := range day {
		if w.Contains(minute) {
			inside = true
			break
		}
	}
	if !inside {
		return ErrOutsideScheduleWindow
	}

	for _, a := range c.existing {
		if c.excludeID != nil && a.ID == *c.excludeID {
			continue
		}
		if a.Status.IsActive() && a.Overlaps(c.start, c.end) {
			return ErrDoctorConflict
		}
	}
	return nil
}
