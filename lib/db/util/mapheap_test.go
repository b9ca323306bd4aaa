package util

import (
	"math/rand"
	"sort"
	"testing"
)

func TestMapHeapSetAndPeek(t *testing.T) {
	mh := NewMapHeap[uint64]()
	if mh.Len() != 0 {
		t.Fatalf("new heap should be empty, has %d items", mh.Len())
	}
	if _, ok := mh.Peek(); ok {
		t.Fatal("Peek on empty heap should fail")
	}

	mh.Set(1, 100)
	mh.Set(2, 200)
	mh.Set(3, 50)

	if mh.Len() != 3 {
		t.Errorf("expected 3 items, got %d", mh.Len())
	}
	for _, k := range []uint64{1, 2, 3} {
		if !mh.Contains(k) {
			t.Errorf("heap should contain %d", k)
		}
	}

	min, ok := mh.Peek()
	if !ok || min.Key != 3 || min.Priority != 50 {
		t.Errorf("expected min (3,50), got %v", min)
	}
}

func TestMapHeapUpdatePriority(t *testing.T) {
	mh := NewMapHeap[string]()
	mh.Set("a", 100)
	mh.Set("b", 200)

	mh.Set("a", 300)
	if p, _ := mh.Priority("a"); p != 300 {
		t.Errorf("expected priority 300, got %d", p)
	}
	if min, _ := mh.Peek(); min.Key != "b" {
		t.Errorf("expected min key b, got %s", min.Key)
	}

	mh.Set("b", 400)
	if min, _ := mh.Peek(); min.Key != "a" {
		t.Errorf("expected min key a, got %s", min.Key)
	}
	if mh.Len() != 2 {
		t.Errorf("updates must not add items, Len()=%d", mh.Len())
	}
}

func TestMapHeapRemove(t *testing.T) {
	mh := NewMapHeap[uint64]()
	mh.Set(1, 100)
	mh.Set(2, 200)
	mh.Set(3, 300)

	p, ok := mh.Remove(2)
	if !ok || p != 200 {
		t.Errorf("Remove(2) = (%d, %v), want (200, true)", p, ok)
	}
	if mh.Contains(2) || mh.Len() != 2 {
		t.Error("key 2 should be gone")
	}
	if _, ok := mh.Remove(99); ok {
		t.Error("Remove of unknown key should fail")
	}
}

func TestMapHeapPopOrder(t *testing.T) {
	mh := NewMapHeap[uint64]()
	r := rand.New(rand.NewSource(7))

	prios := make([]uint64, 500)
	for i := range prios {
		prios[i] = uint64(r.Intn(10000))
		mh.Set(uint64(i), prios[i])
	}
	sort.Slice(prios, func(i, j int) bool { return prios[i] < prios[j] })

	for i, want := range prios {
		it, ok := mh.Pop()
		if !ok {
			t.Fatalf("heap exhausted after %d pops", i)
		}
		if it.Priority != want {
			t.Fatalf("pop %d: expected priority %d, got %d", i, want, it.Priority)
		}
		if mh.Contains(it.Key) {
			t.Fatalf("popped key %d still contained", it.Key)
		}
	}
	if mh.Len() != 0 {
		t.Errorf("expected empty heap, got %d", mh.Len())
	}
}

func TestMapHeapPopDue(t *testing.T) {
	mh := NewMapHeap[uint64]()
	mh.Set(10, 5)
	mh.Set(11, 1)
	mh.Set(12, 9)
	mh.Set(13, 3)

	due := mh.PopDue(5)
	want := []uint64{11, 13, 10}
	if len(due) != len(want) {
		t.Fatalf("expected %v, got %v", want, due)
	}
	for i := range want {
		if due[i] != want[i] {
			t.Errorf("expected %v, got %v", want, due)
			break
		}
	}
	if mh.Len() != 1 || !mh.Contains(12) {
		t.Error("only key 12 should remain")
	}
	if len(mh.PopDue(8)) != 0 {
		t.Error("nothing should be due at 8")
	}

	mh.Clear()
	if mh.Len() != 0 || mh.Contains(12) {
		t.Error("Clear should drop all items")
	}
}
