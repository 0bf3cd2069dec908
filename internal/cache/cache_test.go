package cache

import (
	"bytes"
	"testing"
)

func TestGet_MissOnEmpty(t *testing.T) {
	c := New(0)
	if _, ok := c.Get("a.md", 1); ok {
		t.Error("expected miss on empty cache")
	}
	if s := c.Stats(); s.Misses != 1 || s.Hits != 0 {
		t.Errorf("stats = %+v", s)
	}
}

func TestGetSet_FingerprintMatch(t *testing.T) {
	c := New(0)
	c.Set("a.md", []byte("content"), 100)

	got, ok := c.Get("a.md", 100)
	if !ok {
		t.Fatal("expected hit with equal fingerprint")
	}
	if !bytes.Equal(got, []byte("content")) {
		t.Errorf("content = %q", got)
	}
}

func TestGet_FingerprintMismatchIsMiss(t *testing.T) {
	c := New(0)
	c.Set("a.md", []byte("stale"), 100)

	if _, ok := c.Get("a.md", 101); ok {
		t.Error("expected miss when fingerprint differs")
	}
	s := c.Stats()
	if s.Misses != 1 {
		t.Errorf("misses = %d, want 1", s.Misses)
	}
}

func TestSet_RefreshReplacesContent(t *testing.T) {
	c := New(0)
	c.Set("a.md", []byte("v1"), 1)
	c.Set("a.md", []byte("v2"), 2)

	if _, ok := c.Get("a.md", 1); ok {
		t.Error("old fingerprint should miss after refresh")
	}
	got, ok := c.Get("a.md", 2)
	if !ok || string(got) != "v2" {
		t.Errorf("got %q ok=%v", got, ok)
	}
	if s := c.Stats(); s.TotalEntries != 1 {
		t.Errorf("totalEntries = %d, want 1", s.TotalEntries)
	}
}

func TestInvalidate_SinglePath(t *testing.T) {
	c := New(0)
	c.Set("a.md", []byte("a"), 1)
	c.Set("b.md", []byte("b"), 1)

	c.Invalidate("a.md")
	if _, ok := c.Get("a.md", 1); ok {
		t.Error("a.md should be gone")
	}
	if _, ok := c.Get("b.md", 1); !ok {
		t.Error("b.md should survive")
	}
}

func TestInvalidateAll(t *testing.T) {
	c := New(0)
	c.Set("a.md", []byte("a"), 1)
	c.Set("b.md", []byte("b"), 1)

	c.InvalidateAll()
	if s := c.Stats(); s.TotalEntries != 0 {
		t.Errorf("totalEntries = %d, want 0", s.TotalEntries)
	}
}

func TestLRUEviction(t *testing.T) {
	c := New(2)
	c.Set("a.md", []byte("a"), 1)
	c.Set("b.md", []byte("b"), 1)

	// Touch a.md so b.md becomes the LRU victim.
	if _, ok := c.Get("a.md", 1); !ok {
		t.Fatal("expected hit")
	}
	c.Set("c.md", []byte("c"), 1)

	if _, ok := c.Get("b.md", 1); ok {
		t.Error("b.md should have been evicted")
	}
	if _, ok := c.Get("a.md", 1); !ok {
		t.Error("a.md should survive")
	}
	s := c.Stats()
	if s.Evictions != 1 {
		t.Errorf("evictions = %d, want 1", s.Evictions)
	}
	if s.TotalEntries != 2 {
		t.Errorf("totalEntries = %d, want 2", s.TotalEntries)
	}
}

func TestHitRate(t *testing.T) {
	c := New(0)
	c.Set("a.md", []byte("a"), 1)
	c.Get("a.md", 1) // hit
	c.Get("a.md", 2) // miss
	c.Get("a.md", 1) // hit

	s := c.Stats()
	if s.Hits != 2 || s.Misses != 1 {
		t.Fatalf("stats = %+v", s)
	}
	want := 2.0 / 3.0
	if diff := s.HitRate - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("hitRate = %f, want %f", s.HitRate, want)
	}
}
