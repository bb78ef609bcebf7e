package command

import (
	"sync"

	"chatpipe/internal/domain"
)

// History is the append-only command execution log. With a positive capacity
// it keeps only the newest records (ring buffer); zero means unbounded.
type History struct {
	mu       sync.RWMutex
	records  []domain.CommandRecord
	start    int // index of the oldest record once the ring is full
	capacity int
}

func NewHistory(capacity int) *History {
	if capacity < 0 {
		capacity = 0
	}
	return &History{capacity: capacity}
}

// Append adds a record. Records are never modified once appended.
func (h *History) Append(rec domain.CommandRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.capacity == 0 || len(h.records) < h.capacity {
		h.records = append(h.records, rec)
		return
	}
	h.records[h.start] = rec
	h.start = (h.start + 1) % h.capacity
}

// Len returns the number of retained records.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.records)
}

// Recent returns up to limit records, most recent first.
func (h *History) Recent(limit int) []domain.CommandRecord {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := len(h.records)
	if limit > n || limit < 0 {
		limit = n
	}
	out := make([]domain.CommandRecord, 0, limit)
	for i := 0; i < limit; i++ {
		// newest is just before start (or at the end when the ring is not full)
		idx := (h.start + n - 1 - i) % n
		out = append(out, h.records[idx])
	}
	return out
}

// All returns every retained record in execution order.
func (h *History) All() []domain.CommandRecord {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := len(h.records)
	out := make([]domain.CommandRecord, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, h.records[(h.start+i)%n])
	}
	return out
}

func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = nil
	h.start = 0
}
