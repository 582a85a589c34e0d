package rescheduling

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/blume/blume/internal/domain/scheduling"
)

// maxPaddingDays bounds the search for padding dates.
const maxPaddingDays = 90

// candidateDates proposes up to MaxProposedDates new starts for a. It walks
// forward day by day looking for the same time of day inside the doctor's
// schedule and free of conflicts. When that search runs out it pads with the
// next working days of the doctor, at the fallback hour when a window covers
// it and at the window start otherwise. Every proposed date passes
// ValidateSlot; fewer dates come back when the doctor has no free time.
func (s *Service) candidateDates(ctx context.Context, a *scheduling.Appointment) ([]time.Time, error) {
	loc := s.sched.Location()
	now := s.sched.Now()
	orig := a.Start.In(loc)

	var dates []time.Time
	for d := 1; d <= s.searchDays && len(dates) < MaxProposedDates; d++ {
		c := time.Date(orig.Year(), orig.Month(), orig.Day()+d, orig.Hour(), orig.Minute(), 0, 0, loc)
		ok, err := s.fits(ctx, a, c, now)
		if err != nil {
			return nil, err
		}
		if ok {
			dates = append(dates, c)
		}
	}

	today := now.In(loc)
	for d := 1; d <= maxPaddingDays && len(dates) < MaxProposedDates; d++ {
		day := time.Date(today.Year(), today.Month(), today.Day()+d, 0, 0, 0, 0, loc)
		c, ok, err := s.paddingStart(ctx, a, day, dates, now)
		if err != nil {
			return nil, err
		}
		if ok {
			dates = append(dates, c)
		}
	}
	slices.SortFunc(dates, time.Time.Compare)
	return dates, nil
}

// paddingStart picks a free start on day for a, trying the fallback hour and
// then the start of each active window.
func (s *Service) paddingStart(ctx context.Context, a *scheduling.Appointment, day time.Time,
	taken []time.Time, now time.Time) (time.Time, bool, error) {
	windows, err := s.sched.ListActiveWindows(ctx, a.DoctorID, day.Weekday())
	if err != nil {
		return time.Time{}, false, err
	}
	fallback := s.fallbackHour * 60
	var minutes []int
	if slices.ContainsFunc(windows, func(w *scheduling.ScheduleWindow) bool { return w.Contains(fallback) }) {
		minutes = append(minutes, fallback)
	}
	for _, w := range windows {
		if !slices.Contains(minutes, w.StartMinute) {
			minutes = append(minutes, w.StartMinute)
		}
	}

	for _, m := range minutes {
		c := time.Date(day.Year(), day.Month(), day.Day(), m/60, m%60, 0, 0, day.Location())
		if slices.ContainsFunc(taken, c.Equal) {
			continue
		}
		ok, err := s.fits(ctx, a, c, now)
		if err != nil {
			return time.Time{}, false, err
		}
		if ok {
			return c, true, nil
		}
	}
	return time.Time{}, false, nil
}

// fits reports whether a could move to start. Validation failures are a
// plain no; other errors are returned.
func (s *Service) fits(ctx context.Context, a *scheduling.Appointment, start, now time.Time) (bool, error) {
	if !start.After(now) {
		return false, nil
	}
	err := s.sched.ValidateSlot(ctx, a.DoctorID, start, start.Add(a.Duration()), &a.ID)
	if err == nil {
		return true, nil
	}
	var ve *scheduling.ValidationError
	if errors.As(err, &ve) {
		return false, nil
	}
	return false, err
}
