package scheduling

import (
	"fmt"
	"sort"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

const (
	minutesPerDay      = 24 * 60
	maxSlotDuration    = 120
	defaultSlotMinutes = 30
)

// ScheduleWindow is a recurring weekly range, in clinic local time, during
// which a doctor accepts appointments. Times are minutes since midnight.
type ScheduleWindow struct {
	ID                  uuid.UUID
	DoctorID            uuid.UUID
	Weekday             time.Weekday
	StartMinute         int
	EndMinute           int
	SlotDurationMinutes int
	Active              bool
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

type windowJSON struct {
	ID                  uuid.UUID `json:"id"`
	DoctorID            uuid.UUID `json:"doctor_id"`
	Weekday             int       `json:"weekday"`
	StartTime           string    `json:"start_time"`
	EndTime             string    `json:"end_time"`
	SlotDurationMinutes int       `json:"slot_duration_minutes"`
	Active              bool      `json:"active"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

func (w ScheduleWindow) MarshalJSON() ([]byte, error) {
	return json.Marshal(windowJSON{
		ID:                  w.ID,
		DoctorID:            w.DoctorID,
		Weekday:             int(w.Weekday),
		StartTime:           FormatClock(w.StartMinute),
		EndTime:             FormatClock(w.EndMinute),
		SlotDurationMinutes: w.SlotDurationMinutes,
		Active:              w.Active,
		CreatedAt:           w.CreatedAt,
		UpdatedAt:           w.UpdatedAt,
	})
}

// Contains reports whether minute falls in [start, end).
func (w *ScheduleWindow) Contains(minute int) bool {
	return minute >= w.StartMinute && minute < w.EndMinute
}

func (w *ScheduleWindow) overlaps(start, end int) bool {
	return w.StartMinute < end && w.EndMinute > start
}

// Validate checks the window's own fields.
func (w *ScheduleWindow) Validate() error {
	if w.Weekday < time.Sunday || w.Weekday > time.Saturday {
		return validationErr(CodeInvalidWindow, "weekday must be between 0 and 6")
	}
	if w.StartMinute < 0 || w.EndMinute > minutesPerDay || w.EndMinute <= w.StartMinute {
		return validationErr(CodeInvalidWindow, "window end must be after its start within the same day")
	}
	if w.SlotDurationMinutes <= 0 || w.SlotDurationMinutes > maxSlotDuration {
		return validationErr(CodeInvalidWindow,
			fmt.Sprintf("slot duration must be between 1 and %d minutes", maxSlotDuration))
	}
	return nil
}

// ParseClock parses "HH:MM" into minutes since midnight. "24:00" is accepted
// as the end of the day.
func ParseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err == nil {
		return t.Hour()*60 + t.Minute(), nil
	}
	if s == "24:00" {
		return minutesPerDay, nil
	}
	return 0, fmt.Errorf("invalid time of day %q, expected HH:MM", s)
}

// FormatClock renders minutes since midnight as "HH:MM".
func FormatClock(minute int) string {
	return fmt.Sprintf("%02d:%02d", minute/60, minute%60)
}

// HasOverlap reports whether [start, end) intersects any active window in
// windows for weekday, ignoring excludeID.
func HasOverlap(windows []*ScheduleWindow, weekday time.Weekday, start, end int, excludeID *uuid.UUID) bool {
	for _, w := range windows {
		if !w.Active || w.Weekday != weekday {
			continue
		}
		if excludeID != nil && w.ID == *excludeID {
			continue
		}
		if w.overlaps(start, end) {
			return true
		}
	}
	return false
}

// clockOf returns the weekday and minute of t in loc.
func clockOf(t time.Time, loc *time.Location) (time.Weekday, int) {
	lt := t.In(loc)
	return lt.Weekday(), lt.Hour()*60 + lt.Minute()
}

// atMinute returns the instant minute minutes after midnight of day in loc.
func atMinute(day time.Time, minute int, loc *time.Location) time.Time {
	y, m, d := day.In(loc).Date()
	return time.Date(y, m, d, 0, minute, 0, 0, loc)
}

func sortWindows(windows []*ScheduleWindow) {
	sort.Slice(windows, func(i, j int) bool {
		if windows[i].Weekday != windows[j].Weekday {
			return windows[i].Weekday < windows[j].Weekday
		}
		return windows[i].StartMinute < windows[j].StartMinute
	})
}
