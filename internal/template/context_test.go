package template

import "testing"

func TestContextStore_EvictsOldest(t *testing.T) {
	s := NewContextStore(2)
	s.Set("a", map[string]any{"n": 1})
	s.Set("b", map[string]any{"n": 2})
	s.Set("c", map[string]any{"n": 3})

	if s.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", s.Len())
	}
	if _, ok := s.Get("a"); ok {
		t.Error("expected oldest entry to be evicted")
	}
	if v, ok := s.Get("c"); !ok || v["n"] != 3 {
		t.Errorf("expected newest entry, got %v", v)
	}
}

func TestContextStore_OverwriteRefreshes(t *testing.T) {
	s := NewContextStore(2)
	s.Set("a", nil)
	s.Set("b", nil)
	s.Set("a", map[string]any{"v": "new"})
	s.Set("c", nil)

	if _, ok := s.Get("b"); ok {
		t.Error("b should have been evicted after a was refreshed")
	}
	if v, ok := s.Get("a"); !ok || v["v"] != "new" {
		t.Errorf("expected refreshed a, got %v", v)
	}
}

func TestContextStore_Unbounded(t *testing.T) {
	s := NewContextStore(0)
	for _, id := range []string{"a", "b", "c", "d"} {
		s.Set(id, nil)
	}
	if s.Len() != 4 {
		t.Errorf("expected 4 entries, got %d", s.Len())
	}
	s.Delete("a")
	if s.Len() != 3 {
		t.Errorf("expected 3 entries after delete, got %d", s.Len())
	}
}
