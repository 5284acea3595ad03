package deposit

import "sync"

// SeenSet is an in-memory front line for transaction hash dedup. It is an
// optimization only: losing it on restart is safe because the cache, the
// database lookup and the unique index all sit behind it.
type SeenSet struct {
	mu       sync.RWMutex
	entries  map[string]struct{}
	order    []string
	capacity int
}

// NewSeenSet creates a set that evicts its oldest entries past capacity.
func NewSeenSet(capacity int) *SeenSet {
	if capacity <= 0 {
		capacity = 10_000
	}
	return &SeenSet{
		entries:  make(map[string]struct{}, capacity),
		capacity: capacity,
	}
}

// Contains reports whether the hash was recorded.
func (s *SeenSet) Contains(txHash string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[txHash]
	return ok
}

// Add records the hash, evicting the oldest entry when full. Returns false
// when the hash was already present.
func (s *SeenSet) Add(txHash string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[txHash]; ok {
		return false
	}

	if len(s.order) >= s.capacity {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.entries, oldest)
	}

	s.entries[txHash] = struct{}{}
	s.order = append(s.order, txHash)
	return true
}

// Len returns the current entry count.
func (s *SeenSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
