package util

import (
	"runtime"
	"sync"
	"testing"
	"time"
)

func recvOrFail[T any](t *testing.T, q *LockFreeMPSC[T], timeout time.Duration) T {
	t.Helper()
	select {
	case v, ok := <-q.Recv():
		if !ok {
			t.Fatalf("queue channel closed unexpectedly")
		}
		return v
	case <-time.After(timeout):
		t.Fatalf("timeout waiting for item")
	}
	var zero T
	return zero
}

// TestPushRecv tests basic push and receive in push order
func TestPushRecv(t *testing.T) {
	q := NewLockFreeMPSC[int]()
	defer q.Close()

	for i := 0; i < 10; i++ {
		if !q.Push(i) {
			t.Fatalf("failed to push item %d", i)
		}
	}

	for i := 0; i < 10; i++ {
		if got := recvOrFail(t, q, 100*time.Millisecond); got != i {
			t.Errorf("expected %d, got %d", i, got)
		}
	}

	select {
	case v := <-q.Recv():
		t.Errorf("queue should be empty, got %d", v)
	case <-time.After(10 * time.Millisecond):
	}
}

// TestConcurrentProducers verifies that every item of every producer arrives exactly once
func TestConcurrentProducers(t *testing.T) {
	q := NewLockFreeMPSC[int]()
	defer q.Close()

	const producers = 8
	const perProducer = 2000
	total := producers * perProducer

	var wg sync.WaitGroup
	wg.Add(producers)
	for p := 0; p < producers; p++ {
		go func(base int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Push(base + i)
				if i%128 == 0 {
					runtime.Gosched()
				}
			}
		}(p * perProducer)
	}

	seen := make([]bool, total)
	lastPerProducer := make([]int, producers)
	for i := range lastPerProducer {
		lastPerProducer[i] = -1
	}
	for i := 0; i < total; i++ {
		v := recvOrFail(t, q, 2*time.Second)
		if seen[v] {
			t.Fatalf("duplicate item %d", v)
		}
		seen[v] = true

		// items of one producer keep their order
		p := v / perProducer
		if v < lastPerProducer[p] {
			t.Errorf("producer %d: item %d after %d", p, v, lastPerProducer[p])
		}
		lastPerProducer[p] = v
	}
	wg.Wait()

	if q.Len() != 0 {
		t.Errorf("expected empty queue, Len()=%d", q.Len())
	}
}

// TestCloseDeliversRemaining verifies that Close rejects new items but drains queued ones
func TestCloseDeliversRemaining(t *testing.T) {
	q := NewLockFreeMPSC[string]()
	for _, s := range []string{"a", "b", "c"} {
		q.Push(s)
	}
	q.Close()

	if !q.IsClosed() {
		t.Error("IsClosed should report true after Close")
	}
	if q.Push("d") {
		t.Error("push after close should fail")
	}

	for _, want := range []string{"a", "b", "c"} {
		if got := recvOrFail(t, q, 100*time.Millisecond); got != want {
			t.Errorf("expected %q, got %q", want, got)
		}
	}

	select {
	case _, ok := <-q.Recv():
		if ok {
			t.Error("channel should be closed after draining")
		}
	case <-time.After(time.Second):
		t.Error("channel was not closed after draining")
	}
}

// TestSelectWithOtherChannels tests the queue inside a select statement
func TestSelectWithOtherChannels(t *testing.T) {
	q := NewLockFreeMPSC[int]()
	defer q.Close()

	other := make(chan int, 1)
	other <- 1
	select {
	case v := <-q.Recv():
		t.Errorf("empty queue delivered %d", v)
	case <-other:
	}

	q.Push(42)
	timeout := time.After(100 * time.Millisecond)
	select {
	case v := <-q.Recv():
		if v != 42 {
			t.Errorf("expected 42, got %d", v)
		}
	case <-timeout:
		t.Error("timeout waiting for item")
	}
}

// TestMultipleReceivers verifies that concurrent receivers share the items without duplicates
func TestMultipleReceivers(t *testing.T) {
	q := NewLockFreeMPSC[int]()

	const total = 5000
	var mu sync.Mutex
	seen := make(map[int]int)

	var wg sync.WaitGroup
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for v := range q.Recv() {
				mu.Lock()
				seen[v]++
				mu.Unlock()
			}
		}()
	}

	for i := 0; i < total; i++ {
		q.Push(i)
	}
	q.Close()
	wg.Wait()

	if len(seen) != total {
		t.Fatalf("expected %d distinct items, got %d", total, len(seen))
	}
	for v, n := range seen {
		if n != 1 {
			t.Errorf("item %d delivered %d times", v, n)
		}
	}
}

func BenchmarkPush(b *testing.B) {
	q := NewLockFreeMPSC[int]()
	defer q.Close()
	go func() {
		for range q.Recv() {
		}
	}()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			q.Push(i)
			i++
		}
	})
}
