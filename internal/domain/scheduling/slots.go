package scheduling

import (
	"iter"
	"time"
)

// GenerateSlots yields the fixed-duration slots of w on day, in loc. Slots
// starting before now are skipped; a slot is unavailable when any active
// appointment in booked intersects it. The sequence is finite and computed
// lazily.
func GenerateSlots(w *ScheduleWindow, day time.Time, loc *time.Location, booked []*Appointment, now time.Time) iter.Seq[Slot] {
	return func(yield func(Slot) bool) {
		if w.SlotDurationMinutes <= 0 {
			return
		}
		if wd, _ := clockOf(atMinute(day, 0, loc), loc); wd != w.Weekday {
			return
		}
		for m := w.StartMinute; m+w.SlotDurationMinutes <= w.EndMinute; m += w.SlotDurationMinutes {
			start := atMinute(day, m, loc)
			if start.Before(now) {
				continue
			}
			end := atMinute(day, m+w.SlotDurationMinutes, loc)
			slot := Slot{WindowID: w.ID, Start: start, End: end, Available: true}
			for _, a := range booked {
				if a.Status.IsActive() && a.Overlaps(start, end) {
					slot.Available = false
					break
				}
			}
			if !yield(slot) {
				return
			}
		}
	}
}
