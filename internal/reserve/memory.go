package reserve

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store with the same contract as the Redis
// scripts, serialized by a mutex. It backs tests and local development
// without a Redis; production traffic uses RedisStore.
type MemoryStore struct {
	mu sync.Mutex

	stock  map[string]int64
	total  map[string]int64
	buyers map[string]map[string]int64
	primed map[string]bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		stock:  make(map[string]int64),
		total:  make(map[string]int64),
		buyers: make(map[string]map[string]int64),
		primed: make(map[string]bool),
	}
}

func (s *MemoryStore) Reserve(_ context.Context, sku, buyer string, quantity, limit int64) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bought := s.buyers[sku][buyer]
	if bought+quantity > limit {
		return Result{Status: StatusLimitExceeded}, nil
	}
	if s.stock[sku] < quantity {
		return Result{Status: StatusOutOfStock}, nil
	}

	s.stock[sku] -= quantity
	if s.buyers[sku] == nil {
		s.buyers[sku] = make(map[string]int64)
	}
	s.buyers[sku][buyer] += quantity
	return Result{Status: StatusReserved, NewStock: s.stock[sku]}, nil
}

func (s *MemoryStore) Release(_ context.Context, sku, buyer string, quantity int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stock[sku] += quantity
	if m := s.buyers[sku]; m != nil {
		if m[buyer] <= quantity {
			delete(m, buyer)
		} else {
			m[buyer] -= quantity
		}
	}
	return s.stock[sku], nil
}

func (s *MemoryStore) Prime(_ context.Context, sku string, available, total int64, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stock[sku] = available
	s.total[sku] = total
	s.buyers[sku] = make(map[string]int64)
	s.primed[sku] = true
	return nil
}

func (s *MemoryStore) Stock(_ context.Context, sku string) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.primed[sku] {
		return 0, false, nil
	}
	return s.stock[sku], true, nil
}

// BuyerCount reports the buyer's cumulative reserved quantity. Test helper.
func (s *MemoryStore) BuyerCount(sku, buyer string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buyers[sku][buyer]
}

// ReservedTotal reports the sum of all buyers' reserved quantities for a
// SKU. Test helper for the conservation invariant.
func (s *MemoryStore) ReservedTotal(sku string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sum int64
	for _, q := range s.buyers[sku] {
		sum += q
	}
	return sum
}
