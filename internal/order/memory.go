package order

import (
	"context"
	"fmt"
	"sync"
	"time"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps orders in a map. Intended for local runs and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	orders map[string]*Order
	now    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders: make(map[string]*Order),
		now:    time.Now,
	}
}

func (s *MemoryStore) Create(_ context.Context, o Order) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.orders[o.ID]; exists {
		return nil, fmt.Errorf("create %s: %w", o.ID, ErrAlreadyExists)
	}

	now := s.now().UTC()
	stored := o.Clone()
	if stored.Status == "" {
		stored.Status = StatusPending
	}
	stored.CreatedAt = now
	stored.UpdatedAt = now
	s.orders[o.ID] = stored

	return stored.Clone(), nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, orderID string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, exists := s.orders[orderID]
	if !exists {
		return fmt.Errorf("update status %s: %w", orderID, ErrNotFound)
	}
	o.Status = status
	o.UpdatedAt = s.now().UTC()
	return nil
}

func (s *MemoryStore) FindByID(_ context.Context, orderID string) (*Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, exists := s.orders[orderID]
	if !exists {
		return nil, fmt.Errorf("find %s: %w", orderID, ErrNotFound)
	}
	return o.Clone(), nil
}
