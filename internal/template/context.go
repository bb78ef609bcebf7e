package template

import (
	"sync"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// ContextStore keeps per-message values keyed by message id. With a positive
// capacity the oldest entry is evicted on overflow.
type ContextStore struct {
	mu       sync.Mutex
	entries  *orderedmap.OrderedMap[string, map[string]any]
	capacity int
}

func NewContextStore(capacity int) *ContextStore {
	if capacity < 0 {
		capacity = 0
	}
	return &ContextStore{
		entries:  orderedmap.New[string, map[string]any](),
		capacity: capacity,
	}
}

// Set stores values for id. Overwriting an id refreshes its position.
func (s *ContextStore) Set(id string, values map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries.Delete(id)
	s.entries.Set(id, values)
	for s.capacity > 0 && s.entries.Len() > s.capacity {
		oldest := s.entries.Oldest()
		s.entries.Delete(oldest.Key)
	}
}

func (s *ContextStore) Get(id string) (map[string]any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries.Get(id)
}

func (s *ContextStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries.Delete(id)
}

func (s *ContextStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries.Len()
}
