package notification

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore keeps notifications in insertion order.
type InMemoryStore struct {
	mu   sync.RWMutex
	rows []Notification
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Create(_ context.Context, n *Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, *n)
	return nil
}

// ListByUser returns the user's notifications newest first.
func (s *InMemoryStore) ListByUser(_ context.Context, userID uuid.UUID, limit, offset int) ([]*Notification, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var mine []*Notification
	for _, n := range slices.Backward(s.rows) {
		if n.UserID == userID {
			mine = append(mine, &n)
		}
	}
	total := len(mine)
	if offset >= total {
		return nil, total, nil
	}
	return mine[offset:min(offset+limit, total)], total, nil
}

func (s *InMemoryStore) MarkRead(_ context.Context, id, userID uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.rows {
		n := &s.rows[i]
		if n.ID != id || n.UserID != userID {
			continue
		}
		if n.ReadAt == nil {
			n.ReadAt = &at
		}
		return nil
	}
	return ErrNotFound
}
