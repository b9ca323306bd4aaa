// Package util
//
// This file provides a keyed min-heap: a binary heap ordered by a uint64 priority
// (a write index, a unix timestamp, ...) combined with a map for direct access by key.
//
// Typical users are "due queues": tombstones that become collectable at a
// certain write index, or delayed tasks that become runnable at a certain time.
// Both need to find the next due item quickly and to drop or reschedule a
// specific item when its owner changes.
//
// Complexity:
//   - Set, Remove, PopDue: O(log n)
//   - Peek, Contains, Priority: O(1)
//
// Concurrency: a MapHeap is not thread-safe. It is meant to be owned by a
// single goroutine (e.g. a shard GC loop or a scheduler timer loop).
//
// Example usage:
//
//	due := NewMapHeap[uint64]()
//	due.Set(1001, 17) // object 1001 is collectable from write index 17
//	due.Set(1002, 12)
//
//	for _, id := range due.PopDue(15) {
//	    // collect id (1002)
//	}
package util

import (
	"container/heap"
	"fmt"
)

// HeapItem is an element of a MapHeap.
type HeapItem[K comparable] struct {
	Key      K
	Priority uint64
	index    int
}

func (i *HeapItem[K]) String() string {
	return fmt.Sprintf("{Key: %v, Priority: %d}", i.Key, i.Priority)
}

// heapSlice implements heap.Interface, the map bookkeeping lives in MapHeap
type heapSlice[K comparable] []*HeapItem[K]

func (h heapSlice[K]) Len() int { return len(h) }

func (h heapSlice[K]) Less(i, j int) bool { return h[i].Priority < h[j].Priority }

func (h heapSlice[K]) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *heapSlice[K]) Push(x any) {
	it := x.(*HeapItem[K])
	it.index = len(*h)
	*h = append(*h, it)
}

func (h *heapSlice[K]) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}

// MapHeap is a min-heap by priority with O(1) access by key.
type MapHeap[K comparable] struct {
	items heapSlice[K]
	byKey map[K]*HeapItem[K]
}

// NewMapHeap creates an empty MapHeap.
func NewMapHeap[K comparable]() *MapHeap[K] {
	return &MapHeap[K]{
		items: make(heapSlice[K], 0),
		byKey: make(map[K]*HeapItem[K]),
	}
}

// Len returns the number of items.
func (m *MapHeap[K]) Len() int { return len(m.items) }

// Set inserts key with the given priority or updates the priority of an existing key.
func (m *MapHeap[K]) Set(key K, priority uint64) {
	if it, ok := m.byKey[key]; ok {
		it.Priority = priority
		heap.Fix(&m.items, it.index)
		return
	}
	it := &HeapItem[K]{Key: key, Priority: priority}
	heap.Push(&m.items, it)
	m.byKey[key] = it
}

// Remove deletes key and returns its priority.
func (m *MapHeap[K]) Remove(key K) (uint64, bool) {
	it, ok := m.byKey[key]
	if !ok {
		return 0, false
	}
	heap.Remove(&m.items, it.index)
	delete(m.byKey, key)
	return it.Priority, true
}

// Peek returns the item with the smallest priority without removing it.
func (m *MapHeap[K]) Peek() (HeapItem[K], bool) {
	if len(m.items) == 0 {
		return HeapItem[K]{}, false
	}
	return *m.items[0], true
}

// Pop removes and returns the item with the smallest priority.
func (m *MapHeap[K]) Pop() (HeapItem[K], bool) {
	if len(m.items) == 0 {
		return HeapItem[K]{}, false
	}
	it := heap.Pop(&m.items).(*HeapItem[K])
	delete(m.byKey, it.Key)
	return *it, true
}

// PopDue removes and returns all keys with a priority <= limit, smallest first.
func (m *MapHeap[K]) PopDue(limit uint64) []K {
	var due []K
	for len(m.items) > 0 && m.items[0].Priority <= limit {
		it, _ := m.Pop()
		due = append(due, it.Key)
	}
	return due
}

// Contains reports whether key is in the heap.
func (m *MapHeap[K]) Contains(key K) bool {
	_, ok := m.byKey[key]
	return ok
}

// Priority returns the priority of key.
func (m *MapHeap[K]) Priority(key K) (uint64, bool) {
	it, ok := m.byKey[key]
	if !ok {
		return 0, false
	}
	return it.Priority, true
}

// Clear removes all items.
func (m *MapHeap[K]) Clear() {
	m.items = m.items[:0]
	m.byKey = make(map[K]*HeapItem[K])
}
