// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package cache

import (
	"sort"
	"sync"
	"testing"
)

func TestFreeList_PutTake(t *testing.T) {
	fl := New[string, int](0)

	fl.Put("a", 1)
	fl.Put("a", 2)
	fl.Put("b", 3)

	if got := fl.Total(); got != 3 {
		t.Errorf("Total() = %d, want 3", got)
	}

	v, ok := fl.Take("a")
	if !ok || v != 2 {
		t.Errorf("Take(a) = %d, %v, want 2, true", v, ok)
	}
	v, ok = fl.Take("a")
	if !ok || v != 1 {
		t.Errorf("Take(a) = %d, %v, want 1, true", v, ok)
	}
	if _, ok := fl.Take("a"); ok {
		t.Error("Take(a) on empty list = true, want false")
	}
	if got := fl.Len("b"); got != 1 {
		t.Errorf("Len(b) = %d, want 1", got)
	}
}

func TestFreeList_SoftLimitEvictsOldest(t *testing.T) {
	fl := New[int, int](2)

	if ev := fl.Put(1, 10); len(ev) != 0 {
		t.Fatalf("Put evicted %v, want none", ev)
	}
	fl.Put(1, 11)
	ev := fl.Put(1, 12)
	if len(ev) != 1 || ev[0] != 10 {
		t.Errorf("Put evicted %v, want [10]", ev)
	}
	if got := fl.Len(1); got != 2 {
		t.Errorf("Len(1) = %d, want 2", got)
	}
	if got := fl.Total(); got != 2 {
		t.Errorf("Total() = %d, want 2", got)
	}
}

func TestFreeList_RemoveAndRemoveFunc(t *testing.T) {
	fl := New[int, string](0)
	fl.Put(1, "a")
	fl.Put(2, "b")
	fl.Put(2, "c")
	fl.Put(3, "d")

	if got := fl.Remove(1); len(got) != 1 || got[0] != "a" {
		t.Errorf("Remove(1) = %v, want [a]", got)
	}

	got := fl.RemoveFunc(func(k int) bool { return k == 2 })
	sort.Strings(got)
	if len(got) != 2 || got[0] != "b" || got[1] != "c" {
		t.Errorf("RemoveFunc(k==2) = %v, want [b c]", got)
	}
	if fl.Total() != 1 {
		t.Errorf("Total() = %d, want 1", fl.Total())
	}

	if all := fl.Clear(); len(all) != 1 {
		t.Errorf("Clear() returned %d values, want 1", len(all))
	}
	if fl.Total() != 0 {
		t.Errorf("Total() after Clear = %d, want 0", fl.Total())
	}
}

func TestFreeList_Stats(t *testing.T) {
	fl := New[int, int](4)
	fl.Put(1, 1)
	fl.Take(1)
	fl.Take(1)

	s := fl.Stats()
	if s.Hits != 1 || s.Misses != 1 {
		t.Errorf("Stats hits/misses = %d/%d, want 1/1", s.Hits, s.Misses)
	}
	if s.Limit != 4 {
		t.Errorf("Stats.Limit = %d, want 4", s.Limit)
	}
	if got := s.HitRate(); got != 0.5 {
		t.Errorf("HitRate() = %v, want 0.5", got)
	}
}

func TestFreeList_Concurrent(t *testing.T) {
	fl := New[int, int](0)

	var wg sync.WaitGroup
	for g := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 100 {
				fl.Put(g, i)
				fl.Take(g)
			}
		}()
	}
	wg.Wait()

	if got := fl.Total(); got != 0 {
		t.Errorf("Total() = %d, want 0", got)
	}
}
