package cmap

import (
	"fmt"
	"sync"
	"testing"
)

func TestBasicOperations(t *testing.T) {
	m := New[int]()

	m.Set("a", 1)
	m.Set("b", 2)

	if v, ok := m.Get("a"); !ok || v != 1 {
		t.Errorf("Get(a) = %d, %v; want 1, true", v, ok)
	}
	if m.Count() != 2 {
		t.Errorf("Count() = %d; want 2", m.Count())
	}

	m.Delete("a")
	if m.Has("a") {
		t.Error("Has(a) = true after Delete")
	}

	v, ok := m.Pop("b")
	if !ok || v != 2 {
		t.Errorf("Pop(b) = %d, %v; want 2, true", v, ok)
	}
	if m.Count() != 0 {
		t.Errorf("Count() = %d after Pop; want 0", m.Count())
	}
}

func TestSetIfAbsent(t *testing.T) {
	m := New[string]()

	if !m.SetIfAbsent("k", "first") {
		t.Error("SetIfAbsent on empty map returned false")
	}
	if m.SetIfAbsent("k", "second") {
		t.Error("SetIfAbsent on existing key returned true")
	}
	if v, _ := m.Get("k"); v != "first" {
		t.Errorf("Get(k) = %q; want %q", v, "first")
	}
}

func TestGetOrSet(t *testing.T) {
	m := New[int]()

	v, existed := m.GetOrSet("k", 10)
	if existed || v != 10 {
		t.Errorf("GetOrSet fresh = %d, %v; want 10, false", v, existed)
	}

	v, existed = m.GetOrSet("k", 20)
	if !existed || v != 10 {
		t.Errorf("GetOrSet existing = %d, %v; want 10, true", v, existed)
	}
}

func TestRangeStopsEarly(t *testing.T) {
	m := New[int]()
	for i := 0; i < 100; i++ {
		m.Set(fmt.Sprintf("k%d", i), i)
	}

	seen := 0
	m.Range(func(string, int) bool {
		seen++
		return seen < 10
	})
	if seen != 10 {
		t.Errorf("Range visited %d entries; want 10", seen)
	}
}

func TestNonPowerOfTwoShardCount(t *testing.T) {
	m := NewWithShards[int](7)
	if len(m.shards) != DefaultShardCount {
		t.Errorf("shard count = %d; want default %d", len(m.shards), DefaultShardCount)
	}
}

func TestConcurrentAccess(t *testing.T) {
	m := New[int]()
	var wg sync.WaitGroup

	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("g%d-k%d", g, i)
				m.Set(key, i)
				if v, ok := m.Get(key); !ok || v != i {
					t.Errorf("Get(%s) = %d, %v; want %d, true", key, v, ok, i)
				}
			}
		}(g)
	}
	wg.Wait()

	if m.Count() != 8*200 {
		t.Errorf("Count() = %d; want %d", m.Count(), 8*200)
	}
}
