// Package util provides a lock-free multi-producer single-consumer (MPSC) queue.
//
// Producers append to an intrusive linked list with a single atomic swap of the
// tail pointer (Vyukov's MPSC design), so Push never loops and never blocks.
// A dedicated goroutine drains the list into an unbuffered channel, which lets the
// consumer side use the queue inside select statements together with timers or
// context cancellation.
//
// Properties:
//   - Push is wait-free and can be called from any number of goroutines.
//   - The queue is unbounded, each element costs one list node.
//   - Items pushed by the same goroutine are delivered in push order.
//   - After Close, Push fails but items already queued are still delivered,
//     then the Recv channel is closed.
//
// Several goroutines may receive from Recv; the channel hands every item to
// exactly one of them.
package util

import (
	"sync/atomic"
)

type mpscNode[T any] struct {
	value T
	next  atomic.Pointer[mpscNode[T]]
}

// LockFreeMPSC is an unbounded lock-free queue with a channel based consumer side.
type LockFreeMPSC[T any] struct {
	head   *mpscNode[T]                // owned by the drain goroutine
	tail   atomic.Pointer[mpscNode[T]] // shared by producers
	length atomic.Int64
	wake   chan struct{}
	out    chan T
	closed atomic.Bool
}

// NewLockFreeMPSC creates a queue and starts its drain goroutine.
// The goroutine exits after Close once all queued items were delivered.
func NewLockFreeMPSC[T any]() *LockFreeMPSC[T] {
	stub := &mpscNode[T]{}
	q := &LockFreeMPSC[T]{
		head: stub,
		wake: make(chan struct{}, 1),
		out:  make(chan T),
	}
	q.tail.Store(stub)
	go q.drain()
	return q
}

// Push appends value to the queue. It returns false if the queue is closed.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (q *LockFreeMPSC[T]) Push(value T) bool {
	if q.closed.Load() {
		return false
	}
	n := &mpscNode[T]{value: value}
	q.length.Add(1)
	prev := q.tail.Swap(n)
	prev.next.Store(n)
	q.notify()
	return true
}

func (q *LockFreeMPSC[T]) notify() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// pop removes the oldest item. A producer that swapped the tail but has not linked
// its node yet makes the item invisible for a moment, pop then reports false and
// the producer's notify wakes the drain loop again.
func (q *LockFreeMPSC[T]) pop() (T, bool) {
	next := q.head.next.Load()
	if next == nil {
		var zero T
		return zero, false
	}
	value := next.value
	var zero T
	next.value = zero
	q.head = next
	q.length.Add(-1)
	return value, true
}

func (q *LockFreeMPSC[T]) drain() {
	defer close(q.out)
	for {
		for {
			value, ok := q.pop()
			if !ok {
				break
			}
			q.out <- value
		}
		if q.closed.Load() && q.length.Load() == 0 {
			return
		}
		<-q.wake
	}
}

// Recv returns the channel the queued items are delivered on.
// The channel is closed after Close once the queue is empty.
func (q *LockFreeMPSC[T]) Recv() <-chan T {
	return q.out
}

// Close stops accepting new items.
func (q *LockFreeMPSC[T]) Close() {
	q.closed.Store(true)
	q.notify()
}

// IsClosed reports whether Close was called.
func (q *LockFreeMPSC[T]) IsClosed() bool {
	return q.closed.Load()
}

// Len returns the number of queued items not yet handed to the consumer.
// The value is a snapshot and only useful for monitoring.
func (q *LockFreeMPSC[T]) Len() int {
	return int(q.length.Load())
}
