package scheduling

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/blume/blume/internal/platform/db"
)

// InMemoryAppointmentStore is a thread-safe AppointmentRepository kept in
// memory. Rows are copied in and out so callers never share state.
type InMemoryAppointmentStore struct {
	mu       sync.RWMutex
	rows     map[uuid.UUID]Appointment
	locks    []string
	dayLocks db.KeyedLocks
}

func NewInMemoryAppointmentStore() *InMemoryAppointmentStore {
	return &InMemoryAppointmentStore{rows: make(map[uuid.UUID]Appointment)}
}

func (s *InMemoryAppointmentStore) Snapshot() func() {
	s.mu.RLock()
	saved := maps.Clone(s.rows)
	s.mu.RUnlock()
	return func() {
		s.mu.Lock()
		s.rows = saved
		s.mu.Unlock()
	}
}

func (s *InMemoryAppointmentStore) Create(_ context.Context, a *Appointment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	s.rows[a.ID] = *a
	return nil
}

func (s *InMemoryAppointmentStore) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &a, nil
}

func (s *InMemoryAppointmentStore) GetForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.GetByID(ctx, id)
}

func (s *InMemoryAppointmentStore) Update(_ context.Context, a *Appointment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[a.ID]; !ok {
		return ErrNotFound
	}
	s.rows[a.ID] = *a
	return nil
}

func (s *InMemoryAppointmentStore) ListActiveForDoctorBetween(_ context.Context, doctorID uuid.UUID, from, to time.Time) ([]*Appointment, error) {
	return s.filter(func(a *Appointment) bool {
		return a.DoctorID == doctorID && a.Status.IsActive() && a.Overlaps(from, to)
	}), nil
}

// LockDoctorDay holds the doctor-day key until the surrounding memory
// transaction ends.
func (s *InMemoryAppointmentStore) LockDoctorDay(ctx context.Context, doctorID uuid.UUID, day string) error {
	key := doctorID.String() + ":" + day
	if err := s.dayLocks.Lock(ctx, key); err != nil {
		return err
	}
	s.mu.Lock()
	s.locks = append(s.locks, key)
	s.mu.Unlock()
	return nil
}

func (s *InMemoryAppointmentStore) ListDueForReminder(_ context.Context, from, to time.Time, limit int) ([]*Appointment, error) {
	items := s.filter(func(a *Appointment) bool {
		return a.Status == StatusConfirmed && a.ReminderSentAt == nil &&
			!a.Start.Before(from) && a.Start.Before(to)
	})
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (s *InMemoryAppointmentStore) MarkReminderSent(_ context.Context, id uuid.UUID, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.rows[id]
	if !ok || a.ReminderSentAt != nil {
		return false, nil
	}
	a.ReminderSentAt = &at
	s.rows[id] = a
	return true, nil
}

// All returns every stored appointment ordered by start.
func (s *InMemoryAppointmentStore) All() []*Appointment {
	return s.filter(func(*Appointment) bool { return true })
}

// Locks returns the doctor-day keys locked so far.
func (s *InMemoryAppointmentStore) Locks() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.locks...)
}

func (s *InMemoryAppointmentStore) filter(keep func(a *Appointment) bool) []*Appointment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Appointment
	for _, row := range s.rows {
		a := row
		if keep(&a) {
			out = append(out, &a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

// InMemoryWindowStore is a thread-safe WindowRepository kept in memory.
type InMemoryWindowStore struct {
	mu   sync.RWMutex
	rows map[uuid.UUID]ScheduleWindow
}

func NewInMemoryWindowStore() *InMemoryWindowStore {
	return &InMemoryWindowStore{rows: make(map[uuid.UUID]ScheduleWindow)}
}

func (s *InMemoryWindowStore) Snapshot() func() {
	s.mu.RLock()
	saved := maps.Clone(s.rows)
	s.mu.RUnlock()
	return func() {
		s.mu.Lock()
		s.rows = saved
		s.mu.Unlock()
	}
}

func (s *InMemoryWindowStore) Create(_ context.Context, w *ScheduleWindow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	s.rows[w.ID] = *w
	return nil
}

func (s *InMemoryWindowStore) GetByID(_ context.Context, id uuid.UUID) (*ScheduleWindow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.rows[id]
	if !ok {
		return nil, ErrWindowNotFound
	}
	return &w, nil
}

func (s *InMemoryWindowStore) Update(_ context.Context, w *ScheduleWindow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[w.ID]; !ok {
		return ErrWindowNotFound
	}
	s.rows[w.ID] = *w
	return nil
}

func (s *InMemoryWindowStore) ListActive(_ context.Context, doctorID uuid.UUID, weekday time.Weekday) ([]*ScheduleWindow, error) {
	return s.filter(func(w *ScheduleWindow) bool {
		return w.Active && w.DoctorID == doctorID && w.Weekday == weekday
	}), nil
}

func (s *InMemoryWindowStore) ListActiveForDoctor(_ context.Context, doctorID uuid.UUID) ([]*ScheduleWindow, error) {
	return s.filter(func(w *ScheduleWindow) bool {
		return w.Active && w.DoctorID == doctorID
	}), nil
}

func (s *InMemoryWindowStore) LockDoctorWeekday(context.Context, uuid.UUID, time.Weekday) error {
	return nil
}

func (s *InMemoryWindowStore) filter(keep func(w *ScheduleWindow) bool) []*ScheduleWindow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*ScheduleWindow
	for _, row := range s.rows {
		w := row
		if keep(&w) {
			out = append(out, &w)
		}
	}
	sortWindows(out)
	return out
}
