package testing

import (
	"bytes"
	"fmt"
	"math/rand"
	"sync/atomic"
	"testing"

	"github.com/ValentinKolb/scoll/lib/db"
)

// RunObjectDBBenchmarks runs all benchmarks for an object table implementation
func RunObjectDBBenchmarks(b *testing.B, name string, factory DBFactory) {

	b.Run("Write", func(b *testing.B) {
		benchmarkWrite(b, factory())
	})

	b.Run("Overwrite", func(b *testing.B) {
		benchmarkOverwrite(b, factory())
	})

	b.Run("CheckedWrite", func(b *testing.B) {
		benchmarkCheckedWrite(b, factory())
	})

	b.Run("Read", func(b *testing.B) {
		benchmarkRead(b, factory())
	})

	b.Run("Read(missing)", func(b *testing.B) {
		benchmarkReadMissing(b, factory())
	})

	b.Run("AllocateIDs", func(b *testing.B) {
		benchmarkAllocateIDs(b, factory())
	})

	b.Run("SaveLoad", func(b *testing.B) {
		benchmarkSaveLoad(b, factory)
	})

	b.Run("MixedUsage", func(b *testing.B) {
		benchmarkMixedUsage(b, factory())
	})
}

// --------------------------------------------------------------------------
// Benchmark functions
// --------------------------------------------------------------------------

func prefill(database db.ObjectDB, n int, idx *atomic.Uint64) {
	batch := db.Batch{}
	for i := 1; i <= n; i++ {
		batch.Writes = append(batch.Writes, db.Write{ID: uint64(i), Data: []byte(fmt.Sprintf("value-%d", i))})
	}
	database.Apply(batch, idx.Add(1))
}

// Benchmark for single object batches with fresh ids
func benchmarkWrite(b *testing.B, database db.ObjectDB) {
	b.Cleanup(func() {
		database.Close()
	})

	requireFeature(b, database, db.FeatureApply)

	var idx, ids atomic.Uint64
	value := []byte("benchmark-value")

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			database.Apply(db.Batch{Writes: []db.Write{{ID: ids.Add(1), Data: value}}}, idx.Add(1))
		}
	})
}

// Benchmark for overwriting a small set of existing objects
func benchmarkOverwrite(b *testing.B, database db.ObjectDB) {
	b.Cleanup(func() {
		database.Close()
	})

	requireFeature(b, database, db.FeatureApply)

	var idx atomic.Uint64
	prefill(database, 1000, &idx)
	value := []byte("overwritten")

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		r := rand.New(rand.NewSource(rand.Int63()))
		for pb.Next() {
			id := uint64(r.Intn(1000) + 1)
			database.Apply(db.Batch{Writes: []db.Write{{ID: id, Data: value}}}, idx.Add(1))
		}
	})
}

// Benchmark for the typical commit of a transaction: a few read checks and one write
func benchmarkCheckedWrite(b *testing.B, database db.ObjectDB) {
	b.Cleanup(func() {
		database.Close()
	})

	requireFeature(b, database, db.FeatureApply|db.FeatureRead)

	var idx atomic.Uint64
	prefill(database, 1000, &idx)
	value := []byte("checked")

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		r := rand.New(rand.NewSource(rand.Int63()))
		for pb.Next() {
			batch := db.Batch{}
			for i := 0; i < 4; i++ {
				id := uint64(r.Intn(1000) + 1)
				rec, _ := database.Read(id)
				batch.Reads = append(batch.Reads, db.ReadCheck{ID: id, Version: rec.Version})
			}
			batch.Writes = []db.Write{{ID: batch.Reads[0].ID, Data: value}}
			database.Apply(batch, idx.Add(1))
		}
	})
}

// Benchmark for Read operation
func benchmarkRead(b *testing.B, database db.ObjectDB) {
	b.Cleanup(func() {
		database.Close()
	})

	requireFeature(b, database, db.FeatureRead|db.FeatureApply)

	var idx atomic.Uint64
	prefill(database, 10000, &idx)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			database.Read(uint64(counter%10000 + 1))
			counter++
		}
	})
}

// Benchmark for reading ids that were never written
func benchmarkReadMissing(b *testing.B, database db.ObjectDB) {
	b.Cleanup(func() {
		database.Close()
	})

	requireFeature(b, database, db.FeatureRead)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := uint64(1 << 32)
		for pb.Next() {
			database.Read(counter)
			counter++
		}
	})
}

func benchmarkAllocateIDs(b *testing.B, database db.ObjectDB) {
	b.Cleanup(func() {
		database.Close()
	})

	requireFeature(b, database, db.FeatureAllocate)

	var idx atomic.Uint64

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			database.AllocateIDs(64, idx.Add(1))
		}
	})
}

// Benchmark for Save and Load of a database with 100k objects
func benchmarkSaveLoad(b *testing.B, factory DBFactory) {
	database := factory()
	b.Cleanup(func() {
		database.Close()
	})

	requireFeature(b, database, db.FeatureSave|db.FeatureLoad|db.FeatureApply)

	var idx atomic.Uint64
	prefill(database, 100000, &idx)

	var snapshot bytes.Buffer
	if err := database.Save(&snapshot); err != nil {
		b.Fatalf("Save failed: %v", err)
	}

	b.Run("Save", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			var buf bytes.Buffer
			if err := database.Save(&buf); err != nil {
				b.Fatalf("Save failed: %v", err)
			}
		}
	})

	b.Run("Load", func(b *testing.B) {
		target := factory()
		defer target.Close()
		for i := 0; i < b.N; i++ {
			if err := target.Load(bytes.NewReader(snapshot.Bytes())); err != nil {
				b.Fatalf("Load failed: %v", err)
			}
		}
	})
}

// Benchmark for a read heavy mix (80% read, 15% write, 5% delete)
func benchmarkMixedUsage(b *testing.B, database db.ObjectDB) {
	b.Cleanup(func() {
		database.Close()
	})

	requireFeature(b, database, db.FeatureRead|db.FeatureApply)

	var idx, fresh atomic.Uint64
	prefill(database, 10000, &idx)
	fresh.Store(10000)
	value := []byte("mixed")

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		r := rand.New(rand.NewSource(rand.Int63()))
		for pb.Next() {
			op := r.Intn(100)
			switch {
			case op < 80:
				database.Read(uint64(r.Intn(10000) + 1))
			case op < 95:
				database.Apply(db.Batch{Writes: []db.Write{{ID: fresh.Add(1), Data: value}}}, idx.Add(1))
			default:
				database.Apply(db.Batch{Writes: []db.Write{{ID: uint64(r.Intn(10000) + 1), Delete: true}}}, idx.Add(1))
			}
		}
	})
}
