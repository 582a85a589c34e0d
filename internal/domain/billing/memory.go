package billing

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// InMemoryPaymentStore is a thread-safe PaymentRepository kept in memory. It
// enforces the same per-appointment uniqueness as the payments table and
// reports violations as the database would.
type InMemoryPaymentStore struct {
	mu   sync.RWMutex
	rows map[uuid.UUID]Payment
	seq  map[uuid.UUID]int
}

func NewInMemoryPaymentStore() *InMemoryPaymentStore {
	return &InMemoryPaymentStore{rows: make(map[uuid.UUID]Payment), seq: make(map[uuid.UUID]int)}
}

func (s *InMemoryPaymentStore) Snapshot() func() {
	s.mu.RLock()
	saved := make(map[uuid.UUID]Payment, len(s.rows))
	for id, p := range s.rows {
		p.GatewayData = maps.Clone(p.GatewayData)
		saved[id] = p
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

func (s *InMemoryPaymentStore) Create(_ context.Context, p *Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.rows {
		if row.AppointmentID != p.AppointmentID || row.Type != p.Type {
			continue
		}
		switch p.Type {
		case TypeConsultation:
			return &pgconn.PgError{Code: "23505", ConstraintName: uniqueConsultation}
		case TypeRefund:
			return &pgconn.PgError{Code: "23505", ConstraintName: uniqueRefund}
		}
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	s.rows[p.ID] = clonePayment(p)
	s.seq[p.ID] = len(s.seq)
	return nil
}

func (s *InMemoryPaymentStore) GetByID(_ context.Context, id uuid.UUID) (*Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := clonePayment(&p)
	return &out, nil
}

func (s *InMemoryPaymentStore) GetForUpdate(ctx context.Context, id uuid.UUID) (*Payment, error) {
	return s.GetByID(ctx, id)
}

func (s *InMemoryPaymentStore) Update(_ context.Context, p *Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[p.ID]; !ok {
		return ErrNotFound
	}
	s.rows[p.ID] = clonePayment(p)
	return nil
}

func (s *InMemoryPaymentStore) ListByAppointment(_ context.Context, appointmentID uuid.UUID) ([]*Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Payment
	for _, row := range s.rows {
		if row.AppointmentID == appointmentID {
			p := clonePayment(&row)
			out = append(out, &p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return s.seq[out[i].ID] < s.seq[out[j].ID] })
	return out, nil
}

func (s *InMemoryPaymentStore) ListProcessingBefore(_ context.Context, before time.Time, limit int) ([]*Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Payment
	for _, row := range s.rows {
		if row.Status == StatusProcessing && row.UpdatedAt.Before(before) {
			p := clonePayment(&row)
			out = append(out, &p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.Before(out[j].UpdatedAt)
		}
		return s.seq[out[i].ID] < s.seq[out[j].ID]
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func clonePayment(p *Payment) Payment {
	out := *p
	out.GatewayData = maps.Clone(p.GatewayData)
	return out
}
