package executor

import (
	"context"
	"sync"
)

// MemoryProcessedSet is an in-process ProcessedOrderSet. Entries never expire,
// so an order id is rejected for the lifetime of the process. It is safe for
// concurrent use.
type MemoryProcessedSet struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewMemoryProcessedSet creates an empty set.
func NewMemoryProcessedSet() *MemoryProcessedSet {
	return &MemoryProcessedSet{seen: make(map[string]struct{})}
}

// Contains reports whether orderID has been added.
func (s *MemoryProcessedSet) Contains(_ context.Context, orderID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.seen[orderID]
	return ok, nil
}

// Add records orderID and returns true if it was not present before.
func (s *MemoryProcessedSet) Add(_ context.Context, orderID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.seen[orderID]; ok {
		return false, nil
	}
	s.seen[orderID] = struct{}{}
	return true, nil
}

// Len returns the number of remembered order ids.
func (s *MemoryProcessedSet) Len(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.seen)), nil
}
