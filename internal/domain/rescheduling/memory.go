package rescheduling

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// InMemoryRequestStore is a thread-safe RequestRepository kept in memory. It
// enforces one active request per appointment like the database index.
type InMemoryRequestStore struct {
	mu   sync.RWMutex
	rows map[uuid.UUID]Request
	seq  map[uuid.UUID]int
}

func NewInMemoryRequestStore() *InMemoryRequestStore {
	return &InMemoryRequestStore{rows: make(map[uuid.UUID]Request), seq: make(map[uuid.UUID]int)}
}

func (s *InMemoryRequestStore) Snapshot() func() {
	s.mu.RLock()
	saved := make(map[uuid.UUID]Request, len(s.rows))
	for id, r := range s.rows {
		saved[id] = cloneRequest(&r)
	}
	seq := maps.Clone(s.seq)
	s.mu.RUnlock()
	return func() {
		s.mu.Lock()
		s.rows = saved
		s.seq = seq
		s.mu.Unlock()
	}
}

func (s *InMemoryRequestStore) Create(_ context.Context, r *Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.Status.IsActive() {
		for _, row := range s.rows {
			if row.OriginalAppointmentID == r.OriginalAppointmentID && row.Status.IsActive() {
				return &pgconn.PgError{Code: "23505", ConstraintName: uniqueActive}
			}
		}
	}
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	s.rows[r.ID] = cloneRequest(r)
	s.seq[r.ID] = len(s.seq)
	return nil
}

func (s *InMemoryRequestStore) GetByID(_ context.Context, id uuid.UUID) (*Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := cloneRequest(&r)
	return &out, nil
}

func (s *InMemoryRequestStore) GetForUpdate(ctx context.Context, id uuid.UUID) (*Request, error) {
	return s.GetByID(ctx, id)
}

func (s *InMemoryRequestStore) Update(_ context.Context, r *Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[r.ID]; !ok {
		return ErrNotFound
	}
	s.rows[r.ID] = cloneRequest(r)
	return nil
}

func (s *InMemoryRequestStore) ListByAppointment(_ context.Context, appointmentID uuid.UUID) ([]*Request, error) {
	items := s.filter(func(r *Request) bool { return r.OriginalAppointmentID == appointmentID })
	slices.Reverse(items)
	return items, nil
}

func (s *InMemoryRequestStore) FindActive(_ context.Context, appointmentID uuid.UUID) (*Request, error) {
	items := s.filter(func(r *Request) bool {
		return r.OriginalAppointmentID == appointmentID && r.Status.IsActive()
	})
	if len(items) == 0 {
		return nil, ErrNotFound
	}
	return items[0], nil
}

func (s *InMemoryRequestStore) FindByNewAppointment(_ context.Context, appointmentID uuid.UUID) (*Request, error) {
	items := s.filter(func(r *Request) bool {
		return r.NewAppointmentID != nil && *r.NewAppointmentID == appointmentID
	})
	if len(items) == 0 {
		return nil, ErrNotFound
	}
	return items[0], nil
}

func (s *InMemoryRequestStore) ListRefundPending(_ context.Context, limit int) ([]*Request, error) {
	items := s.filter(func(r *Request) bool {
		return r.RefundRequired && !r.RefundProcessed && (r.Status == StatusApproved || r.Status == StatusCompleted)
	})
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// filter returns matching requests in insertion order.
func (s *InMemoryRequestStore) filter(keep func(r *Request) bool) []*Request {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Request
	for _, row := range s.rows {
		if keep(&row) {
			r := cloneRequest(&row)
			out = append(out, &r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return s.seq[out[i].ID] < s.seq[out[j].ID] })
	return out
}

func cloneRequest(r *Request) Request {
	out := *r
	out.ProposedDates = slices.Clone(r.ProposedDates)
	out.Metadata = maps.Clone(r.Metadata)
	return out
}
