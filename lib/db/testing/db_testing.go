package testing

import (
	"bytes"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/scoll/lib/db"
)

// DBFactory is a function that creates a new instance of an ObjectDB implementation
type DBFactory func() db.ObjectDB

// RunObjectDBTests runs a comprehensive test suite for an ObjectDB implementation.
func RunObjectDBTests(t *testing.T, name string, factory DBFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Apply&Read", func(t *testing.T) {
			testApplyRead(t, factory())
		})

		t.Run("ReadChecks", func(t *testing.T) {
			testReadChecks(t, factory())
		})

		t.Run("Atomicity", func(t *testing.T) {
			testAtomicity(t, factory())
		})

		t.Run("Tombstones", func(t *testing.T) {
			testTombstones(t, factory())
		})

		t.Run("Bindings", func(t *testing.T) {
			testBindings(t, factory())
		})

		t.Run("AllocateIDs", func(t *testing.T) {
			testAllocateIDs(t, factory())
		})

		t.Run("GarbageCollect", func(t *testing.T) {
			testGarbageCollect(t, factory())
		})

		t.Run("SaveLoad", func(t *testing.T) {
			testSaveLoad(t, factory)
		})

		t.Run("WriteIdx", func(t *testing.T) {
			testWriteIdx(t, factory())
		})

		t.Run("ConcurrentCounter", func(t *testing.T) {
			testConcurrentCounter(t, factory())
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// Checks if the database supports the specified feature
// Skip the test if it is not supported
func requireFeature(t testing.TB, database db.ObjectDB, feature db.Feature) {
	if !database.SupportsFeature(feature) {
		t.Skip()
	}
}

func write(id uint64, data string) db.Write {
	return db.Write{ID: id, Data: []byte(data)}
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testApplyRead(t *testing.T, database db.ObjectDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureApply|db.FeatureRead)

	if c := database.Apply(db.Batch{Writes: []db.Write{write(1, "one"), write(2, "two")}}, 1); c != nil {
		t.Fatalf("unexpected conflict: %s", c)
	}

	rec, ok := database.Read(1)
	if !ok {
		t.Fatalf("expected object 1 to exist")
	}
	if string(rec.Data) != "one" || rec.Version != 1 || rec.Deleted {
		t.Errorf("unexpected record %+v", rec)
	}

	if _, ok := database.Read(3); ok {
		t.Errorf("expected object 3 to be missing")
	}

	// the returned data must be a copy
	rec.Data[0] = 'X'
	again, _ := database.Read(1)
	if string(again.Data) != "one" {
		t.Errorf("Read should return a copy, got %q after mutating the result", again.Data)
	}

	// the batch data must be copied as well
	buf := []byte("three")
	database.Apply(db.Batch{Writes: []db.Write{{ID: 3, Data: buf}}}, 2)
	buf[0] = 'X'
	rec, _ = database.Read(3)
	if string(rec.Data) != "three" {
		t.Errorf("Apply should copy the written data, got %q", rec.Data)
	}

	// overwrite bumps the version
	database.Apply(db.Batch{Writes: []db.Write{write(1, "uno")}}, 3)
	rec, _ = database.Read(1)
	if string(rec.Data) != "uno" || rec.Version != 3 {
		t.Errorf("unexpected record after overwrite %+v", rec)
	}

	// empty values are allowed
	database.Apply(db.Batch{Writes: []db.Write{{ID: 4, Data: nil}}}, 4)
	rec, ok = database.Read(4)
	if !ok || len(rec.Data) != 0 || rec.Deleted {
		t.Errorf("expected empty live record, got %+v (found=%v)", rec, ok)
	}
}

func testReadChecks(t *testing.T, database db.ObjectDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureApply|db.FeatureRead)

	database.Apply(db.Batch{Writes: []db.Write{write(1, "a")}}, 10)

	tests := []struct {
		name     string
		check    db.ReadCheck
		conflict bool
	}{
		{"same version", db.ReadCheck{ID: 1, Version: 10}, false},
		{"older version", db.ReadCheck{ID: 1, Version: 9}, true},
		{"expected absent but live", db.ReadCheck{ID: 1, Version: 0}, true},
		{"expected absent and missing", db.ReadCheck{ID: 2, Version: 0}, false},
		{"expected live but missing", db.ReadCheck{ID: 2, Version: 5}, true},
	}

	idx := uint64(10)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx++
			c := database.Apply(db.Batch{Reads: []db.ReadCheck{tt.check}}, idx)
			if (c != nil) != tt.conflict {
				t.Errorf("expected conflict=%v, got %v", tt.conflict, c)
			}
			if c != nil && c.ID != tt.check.ID {
				t.Errorf("conflict should name object %d, got %d", tt.check.ID, c.ID)
			}
		})
	}
}

func testAtomicity(t *testing.T, database db.ObjectDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureApply|db.FeatureRead|db.FeatureBindings)

	database.Apply(db.Batch{Writes: []db.Write{write(1, "a")}}, 1)

	// stale read check -> nothing of the batch may become visible
	c := database.Apply(db.Batch{
		Reads:    []db.ReadCheck{{ID: 1, Version: 0}},
		Writes:   []db.Write{write(2, "b"), {ID: 1, Delete: true}},
		Bindings: []db.BindingWrite{{Name: "root", ID: 2}},
	}, 2)
	if c == nil {
		t.Fatalf("expected conflict")
	}

	if _, ok := database.Read(2); ok {
		t.Errorf("write of a conflicting batch is visible")
	}
	if rec, _ := database.Read(1); rec.Deleted {
		t.Errorf("delete of a conflicting batch is visible")
	}
	if _, ok := database.Binding("root"); ok {
		t.Errorf("binding of a conflicting batch is visible")
	}
	if database.WriteIdx() != 1 {
		t.Errorf("a conflicting batch must not publish its write index, got %d", database.WriteIdx())
	}
}

func testTombstones(t *testing.T, database db.ObjectDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureApply|db.FeatureRead)

	database.Apply(db.Batch{Writes: []db.Write{write(1, "a")}}, 1)
	database.Apply(db.Batch{Writes: []db.Write{{ID: 1, Delete: true}}}, 2)

	rec, ok := database.Read(1)
	if !ok {
		t.Fatalf("expected a tombstone for object 1")
	}
	if !rec.Deleted || rec.Version != 2 || rec.Data != nil {
		t.Errorf("unexpected tombstone %+v", rec)
	}

	// a tombstone counts as absent for read checks
	if c := database.Apply(db.Batch{Reads: []db.ReadCheck{{ID: 1, Version: 0}}}, 3); c != nil {
		t.Errorf("tombstone should satisfy an absent check, got %s", c)
	}
	if c := database.Apply(db.Batch{Reads: []db.ReadCheck{{ID: 1, Version: 1}}}, 4); c == nil {
		t.Errorf("tombstone should fail a live check")
	}
}

func testBindings(t *testing.T, database db.ObjectDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureApply|db.FeatureBindings)

	database.Apply(db.Batch{Bindings: []db.BindingWrite{
		{Name: "b", ID: 2},
		{Name: "a", ID: 1},
		{Name: "c", ID: 3},
	}}, 1)

	if id, ok := database.Binding("b"); !ok || id != 2 {
		t.Errorf("Binding(b) = (%d, %v)", id, ok)
	}
	if _, ok := database.Binding("x"); ok {
		t.Errorf("Binding(x) should not exist")
	}

	var names []string
	for name, ok := database.NextBinding(""); ok; name, ok = database.NextBinding(name) {
		names = append(names, name)
	}
	if fmt.Sprint(names) != "[a b c]" {
		t.Errorf("expected names [a b c], got %v", names)
	}
	if next, ok := database.NextBinding("aa"); !ok || next != "b" {
		t.Errorf("NextBinding(aa) = (%q, %v)", next, ok)
	}

	// binding checks
	if c := database.Apply(db.Batch{BindingReads: []db.BindingCheck{{Name: "a", ID: 1}, {Name: "x", ID: 0}}}, 2); c != nil {
		t.Errorf("unexpected conflict %s", c)
	}
	c := database.Apply(db.Batch{BindingReads: []db.BindingCheck{{Name: "a", ID: 9}}}, 3)
	if c == nil || c.Binding != "a" {
		t.Errorf("expected binding conflict on a, got %v", c)
	}

	// remove and rebind
	database.Apply(db.Batch{Bindings: []db.BindingWrite{{Name: "a", ID: 0}, {Name: "b", ID: 7}}}, 4)
	if _, ok := database.Binding("a"); ok {
		t.Errorf("binding a should be removed")
	}
	if id, _ := database.Binding("b"); id != 7 {
		t.Errorf("binding b should point to 7, got %d", id)
	}
}

func testAllocateIDs(t *testing.T, database db.ObjectDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureAllocate)

	first := database.AllocateIDs(10, 1)
	if first == 0 {
		t.Fatalf("id 0 must never be allocated")
	}
	second := database.AllocateIDs(5, 2)
	if second != first+10 {
		t.Errorf("expected next block at %d, got %d", first+10, second)
	}

	// concurrent allocations never overlap
	const workers = 8
	const perWorker = 200
	var (
		mu   sync.Mutex
		seen = make(map[uint64]bool)
		wg   sync.WaitGroup
		idx  atomic.Uint64
	)
	idx.Store(2)
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				start := database.AllocateIDs(3, idx.Add(1))
				mu.Lock()
				for id := start; id < start+3; id++ {
					if seen[id] {
						t.Errorf("id %d allocated twice", id)
					}
					seen[id] = true
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != workers*perWorker*3 {
		t.Errorf("expected %d ids, got %d", workers*perWorker*3, len(seen))
	}
}

func testGarbageCollect(t *testing.T, database db.ObjectDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureApply|db.FeatureRead|db.FeatureGarbageCollect)

	database.Apply(db.Batch{Writes: []db.Write{write(1, "a"), write(2, "b")}}, 1)
	database.Apply(db.Batch{Writes: []db.Write{{ID: 1, Delete: true}}}, 2)

	if database.CollectedIdx() >= 2 {
		t.Fatalf("tombstone horizon advanced without progress: %d", database.CollectedIdx())
	}

	// move the write index far beyond any retention
	database.SetWriteIdx(1 << 40)

	deadline := time.Now().Add(5 * time.Second)
	for {
		_, found := database.Read(1)
		if !found && database.CollectedIdx() >= 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("tombstone was not collected (found=%v, collectedIdx=%d)", found, database.CollectedIdx())
		}
		time.Sleep(20 * time.Millisecond)
	}

	if rec, ok := database.Read(2); !ok || string(rec.Data) != "b" {
		t.Errorf("live objects must never be collected")
	}
}

func testSaveLoad(t *testing.T, factory DBFactory) {
	database := factory()
	database2 := factory()

	// close the databases after the test
	defer database.Close()
	defer database2.Close()

	requireFeature(t, database, db.FeatureApply|db.FeatureSave|db.FeatureLoad|db.FeatureBindings|db.FeatureAllocate)

	numObjects := 1000
	first := database.AllocateIDs(uint64(numObjects), 1)
	batch := db.Batch{}
	for i := 0; i < numObjects; i++ {
		batch.Writes = append(batch.Writes, write(first+uint64(i), fmt.Sprintf("object-%d", i)))
	}
	batch.Bindings = []db.BindingWrite{{Name: "root", ID: first}}
	database.Apply(batch, 2)
	database.Apply(db.Batch{Writes: []db.Write{{ID: first + 1, Delete: true}}}, 3)

	var buf bytes.Buffer
	if err := database.Save(&buf); err != nil {
		t.Fatalf("Unexpected error during Save: %v", err)
	}
	if err := database2.Load(&buf); err != nil {
		t.Fatalf("Unexpected error during Load: %v", err)
	}

	for i := 0; i < numObjects; i++ {
		id := first + uint64(i)
		rec, ok := database2.Read(id)
		if i == 1 {
			if ok && !rec.Deleted {
				t.Errorf("deleted object %d is live after Load", id)
			}
			continue
		}
		if !ok {
			t.Errorf("object %d not found after Load", id)
			continue
		}
		if string(rec.Data) != fmt.Sprintf("object-%d", i) || rec.Version != 2 {
			t.Errorf("unexpected record for object %d: %+v", id, rec)
		}
	}

	if id, ok := database2.Binding("root"); !ok || id != first {
		t.Errorf("binding root not restored")
	}
	if database2.WriteIdx() != 3 {
		t.Errorf("expected write index 3 after Load, got %d", database2.WriteIdx())
	}
	if database2.CollectedIdx() < 3 {
		t.Errorf("tombstones are not saved, the horizon must cover the snapshot, got %d", database2.CollectedIdx())
	}
	if next := database2.AllocateIDs(1, 4); next <= first+uint64(numObjects)-1 {
		t.Errorf("allocated id %d was already handed out before the snapshot", next)
	}

	// garbage must be rejected
	invalid := factory()
	defer invalid.Close()
	if err := invalid.Load(bytes.NewBufferString("definitely not a snapshot")); err == nil {
		t.Errorf("expected error loading an invalid snapshot")
	}
}

func testWriteIdx(t *testing.T, database db.ObjectDB) {
	defer database.Close()

	database.SetWriteIdx(10)
	database.SetWriteIdx(5)
	if database.WriteIdx() != 10 {
		t.Errorf("write index must be monotonic, got %d", database.WriteIdx())
	}

	if database.SupportsFeature(db.FeatureApply) {
		database.Apply(db.Batch{Writes: []db.Write{write(1, "x")}}, 20)
		if database.WriteIdx() != 20 {
			t.Errorf("Apply must publish its write index, got %d", database.WriteIdx())
		}
	}

	info := database.GetInfo()
	if info.DbType == "" {
		t.Errorf("GetInfo should name the implementation")
	}
}

// testConcurrentCounter increments one object from many goroutines with optimistic checks.
// The final value must equal the number of successful batches.
func testConcurrentCounter(t *testing.T, database db.ObjectDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureApply|db.FeatureRead)

	var idx atomic.Uint64
	database.Apply(db.Batch{Writes: []db.Write{write(1, "0")}}, idx.Add(1))

	const workers = 8
	const increments = 100
	var (
		wg        sync.WaitGroup
		conflicts atomic.Int64
	)
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for done := 0; done < increments; {
				rec, _ := database.Read(1)
				var v int
				fmt.Sscanf(string(rec.Data), "%d", &v)
				c := database.Apply(db.Batch{
					Reads:  []db.ReadCheck{{ID: 1, Version: rec.Version}},
					Writes: []db.Write{write(1, fmt.Sprint(v+1))},
				}, idx.Add(1))
				if c != nil {
					conflicts.Add(1)
					continue
				}
				done++
			}
		}()
	}
	wg.Wait()

	rec, _ := database.Read(1)
	if string(rec.Data) != fmt.Sprint(workers*increments) {
		t.Errorf("expected counter %d, got %s (%d conflicts)", workers*increments, rec.Data, conflicts.Load())
	}
}
