package ristretto

import (
	"testing"
	"time"

	"github.com/Strob0t/moon/internal/port/cache"
)

func newMemo(t *testing.T) *Memo {
	t.Helper()
	m, err := New(1 << 20)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(m.Close)
	return m
}

func TestRememberAndLookup(t *testing.T) {
	m := newMemo(t)
	key := cache.StatKey("apps/web/index.ts", 12, time.Unix(100, 0))

	if _, ok := m.Lookup(key); ok {
		t.Fatal("empty memo must miss")
	}
	m.Remember(key, "3b18e512")
	got, ok := m.Lookup(key)
	if !ok || got != "3b18e512" {
		t.Fatalf("Lookup = %q, %v", got, ok)
	}
	if m.HitRatio() <= 0 {
		t.Errorf("hit ratio = %v, want > 0", m.HitRatio())
	}
}

func TestStatKeyChangesWithContent(t *testing.T) {
	m := newMemo(t)
	before := cache.StatKey("a.ts", 12, time.Unix(100, 0))
	after := cache.StatKey("a.ts", 12, time.Unix(101, 0))
	resized := cache.StatKey("a.ts", 13, time.Unix(100, 0))

	m.Remember(before, "old")
	for _, k := range []string{after, resized} {
		if _, ok := m.Lookup(k); ok {
			t.Fatalf("changed file must miss the memo: %q", k)
		}
	}
}

func TestNopNeverRemembers(t *testing.T) {
	var n cache.Nop
	n.Remember("k", "v")
	if _, ok := n.Lookup("k"); ok {
		t.Fatal("Nop must not remember")
	}
}
