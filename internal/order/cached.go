package order

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/jcmexdev/order-saga/internal/pkg/cache"
)

var _ Store = (*CachedStore)(nil)

// CachedStore is a read-through cache in front of another Store. The saga
// reads each order twice (amount, then items) so FindByID is worth caching;
// writes always go to the backing store first and then drop the cached copy.
// Cache failures are logged and never fail the call.
//
// Within one process a fill never lands after the invalidation of a newer
// write. Across processes sharing the cache a stale fill is bounded by the TTL.
type CachedStore struct {
	next   Store
	cache  cache.Cache
	ttl    time.Duration
	logger *slog.Logger

	// mu orders cache fills against invalidations; gen counts invalidations.
	mu  sync.Mutex
	gen uint64
}

func NewCachedStore(next Store, c cache.Cache, ttl time.Duration, logger *slog.Logger) *CachedStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedStore{next: next, cache: c, ttl: ttl, logger: logger}
}

func (s *CachedStore) Create(ctx context.Context, o Order) (*Order, error) {
	gen := s.generation()
	created, err := s.next.Create(ctx, o)
	if err != nil {
		return nil, err
	}
	s.fill(ctx, gen, created)
	return created, nil
}

func (s *CachedStore) UpdateStatus(ctx context.Context, orderID string, status Status) error {
	if err := s.next.UpdateStatus(ctx, orderID, status); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	if err := s.cache.Delete(ctx, s.key(orderID)); err != nil {
		s.logger.WarnContext(ctx, "order cache invalidation failed", "order_id", orderID, "error", err)
	}
	return nil
}

func (s *CachedStore) FindByID(ctx context.Context, orderID string) (*Order, error) {
	raw, err := s.cache.Get(ctx, s.key(orderID))
	if err != nil {
		s.logger.WarnContext(ctx, "order cache read failed", "order_id", orderID, "error", err)
	}
	if raw != "" {
		var o Order
		if err := json.Unmarshal([]byte(raw), &o); err == nil {
			return &o, nil
		}
		s.logger.WarnContext(ctx, "order cache entry corrupt", "order_id", orderID)
	}

	gen := s.generation()
	o, err := s.next.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	s.fill(ctx, gen, o)
	return o, nil
}

func (s *CachedStore) generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// fill caches o unless an invalidation happened since gen was read, in which
// case o may predate that write.
func (s *CachedStore) fill(ctx context.Context, gen uint64, o *Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return
	}
	s.store(ctx, o)
}

func (s *CachedStore) store(ctx context.Context, o *Order) {
	b, err := json.Marshal(o)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, s.key(o.ID), string(b), s.ttl); err != nil {
		s.logger.WarnContext(ctx, "order cache write failed", "order_id", o.ID, "error", err)
	}
}

func (s *CachedStore) key(orderID string) string {
	return s.cache.GenerateKey("order", orderID)
}
