package maple

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/scoll/lib/db"
	"github.com/ValentinKolb/scoll/lib/db/engines/maple/internal"
	"github.com/ValentinKolb/scoll/lib/db/util"
	"github.com/google/btree"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("maple")

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

// Constants for database behavior and structure
const (
	magicNum                  = "MAPLEOBJ"             // File format identifier
	mapleVersion              = 1                      // Snapshot format version
	defaultGCInterval         = 100 * time.Millisecond // Default interval between GC runs
	defaultTombstoneRetention = 1024                   // Default number of write indexes a tombstone is kept
	bindingsDegree            = 32                     // Degree of the bindings b-tree
)

// --------------------------------------------------------------------------
// Core Maple database structure
// --------------------------------------------------------------------------

// mapleImpl implements a sharded, versioned in-memory object table
type mapleImpl struct {
	numShards int               // Number of shards
	seed      uint64            // Seed for the shard maps
	shards    []*internal.Shard // Array of shards

	currIndex    atomic.Uint64 // Write index of the last applied batch
	collectedIdx atomic.Uint64 // Tombstones with a version <= collectedIdx may be gone
	nextID       atomic.Uint64 // Last allocated object id

	commitMu sync.Mutex // serializes Apply (validate all, write all, publish)

	bindMu   sync.RWMutex
	bindings *btree.BTreeG[internal.Binding]

	// garbage collection
	retention   uint64
	gcInterval  time.Duration
	gcIsRunning atomic.Bool
	gcDone      sync.WaitGroup
}

// DBOptions configures the mapleImpl behavior during initialization
type DBOptions struct {
	NumShards          int           // Number of shards (0 = number of CPUs)
	GCInterval         time.Duration // Time between GC runs (0 = use default: 100ms)
	TombstoneRetention uint64        // Write indexes a tombstone survives before it may be collected (0 = use default: 1024)
}

// DefaultOptions returns the default mapleImpl options
func DefaultOptions() *DBOptions {
	return &DBOptions{
		NumShards:          runtime.NumCPU(),
		GCInterval:         defaultGCInterval,
		TombstoneRetention: defaultTombstoneRetention,
	}
}

// --------------------------------------------------------------------------
// Initialization and Setup
// --------------------------------------------------------------------------

// NewMapleDB creates a new MapleDB instance with the specified options (optional)
//
// Thread-safety: This function is not thread-safe and should only be called once
// during initialization.
func NewMapleDB(opts *DBOptions) db.ObjectDB {
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.NumShards <= 0 {
		opts.NumShards = runtime.NumCPU()
	}
	if opts.GCInterval <= 0 {
		opts.GCInterval = defaultGCInterval
	}
	if opts.TombstoneRetention == 0 {
		opts.TombstoneRetention = defaultTombstoneRetention
	}

	newDB := &mapleImpl{
		numShards:  opts.NumShards,
		seed:       util.GenerateSeed(),
		bindings:   btree.NewG[internal.Binding](bindingsDegree, internal.BindingLess),
		retention:  opts.TombstoneRetention,
		gcInterval: opts.GCInterval,
	}
	newDB.shards = newDB.createShards()

	newDB.startGC()

	return newDB
}

func (maple *mapleImpl) createShards() []*internal.Shard {
	shards := make([]*internal.Shard, maple.numShards)
	for i := range shards {
		shards[i] = internal.NewShard(maple.seed)
	}
	return shards
}

// --------------------------------------------------------------------------
// Write Operations
// --------------------------------------------------------------------------

// Apply validates the checks of a batch and applies its writes under writeIndex.
//
// A ReadCheck with Version 0 expects the object to be absent (missing or a tombstone),
// any other version expects a live object with exactly that version.
//
// Thread-safety: Apply calls are serialized. Readers may run concurrently, they see the
// writes of a batch before the write index of the batch is published.
func (maple *mapleImpl) Apply(batch db.Batch, writeIndex uint64) *db.Conflict {
	maple.commitMu.Lock()
	defer maple.commitMu.Unlock()

	// VALIDATE

	for _, check := range batch.Reads {
		shard := internal.GetShard(check.ID, maple.shards)
		rec, ok := shard.Objects.Load(check.ID)
		live := ok && !rec.Deleted
		switch {
		case check.Version == 0 && live:
			return &db.Conflict{ID: check.ID}
		case check.Version != 0 && (!live || rec.Version != check.Version):
			return &db.Conflict{ID: check.ID}
		}
	}

	if len(batch.BindingReads) > 0 {
		maple.bindMu.RLock()
		for _, check := range batch.BindingReads {
			current, _ := maple.bindings.Get(internal.Binding{Name: check.Name})
			if current.ID != check.ID {
				maple.bindMu.RUnlock()
				return &db.Conflict{Binding: check.Name}
			}
		}
		maple.bindMu.RUnlock()
	}

	// WRITE

	for _, w := range batch.Writes {
		shard := internal.GetShard(w.ID, maple.shards)
		if w.Delete {
			shard.Objects.Store(w.ID, db.Record{Version: writeIndex, Deleted: true})
			shard.Events.Push(internal.Event{Type: internal.EventTTombstone, ID: w.ID, Version: writeIndex})
			continue
		}
		data := make([]byte, len(w.Data))
		copy(data, w.Data)
		shard.Objects.Store(w.ID, db.Record{Data: data, Version: writeIndex})
	}

	if len(batch.Bindings) > 0 {
		maple.bindMu.Lock()
		for _, b := range batch.Bindings {
			if b.ID == 0 {
				maple.bindings.Delete(internal.Binding{Name: b.Name})
			} else {
				maple.bindings.ReplaceOrInsert(internal.Binding{Name: b.Name, ID: b.ID})
			}
		}
		maple.bindMu.Unlock()
	}

	// PUBLISH

	maple.SetWriteIdx(writeIndex)
	return nil
}

// AllocateIDs reserves count consecutive object ids and returns the first one.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) AllocateIDs(count uint64, writeIndex uint64) uint64 {
	if count == 0 {
		count = 1
	}
	last := maple.nextID.Add(count)
	maple.SetWriteIdx(writeIndex)
	return last - count + 1
}

// --------------------------------------------------------------------------
// Query Operations
// --------------------------------------------------------------------------

// Read returns a copy of the record of an object (live or tombstone).
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) Read(id uint64) (db.Record, bool) {
	shard := internal.GetShard(id, maple.shards)
	rec, ok := shard.Objects.Load(id)
	if !ok {
		return db.Record{}, false
	}
	if rec.Data != nil {
		data := make([]byte, len(rec.Data))
		copy(data, rec.Data)
		rec.Data = data
	}
	return rec, true
}

// Binding returns the object id bound to name.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) Binding(name string) (uint64, bool) {
	maple.bindMu.RLock()
	defer maple.bindMu.RUnlock()

	b, ok := maple.bindings.Get(internal.Binding{Name: name})
	return b.ID, ok
}

// NextBinding returns the first bound name strictly greater than name.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) NextBinding(name string) (string, bool) {
	maple.bindMu.RLock()
	defer maple.bindMu.RUnlock()

	var (
		next  string
		found bool
	)
	maple.bindings.AscendGreaterOrEqual(internal.Binding{Name: name}, func(b internal.Binding) bool {
		if b.Name == name {
			return true
		}
		next, found = b.Name, true
		return false
	})
	return next, found
}

// CollectedIdx returns the highest write index whose tombstones may already be collected.
func (maple *mapleImpl) CollectedIdx() uint64 {
	return maple.collectedIdx.Load()
}

func (maple *mapleImpl) advanceCollectedIdx(newIdx uint64) {
	for {
		curr := maple.collectedIdx.Load()
		if newIdx <= curr || maple.collectedIdx.CompareAndSwap(curr, newIdx) {
			return
		}
	}
}

// --------------------------------------------------------------------------
// Garbage Collection
// --------------------------------------------------------------------------

// startGC starts the garbage collector
// if the GC is already running, this function does nothing
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) startGC() {
	if maple.gcIsRunning.CompareAndSwap(false, true) {
		for _, shard := range maple.shards {
			// a stopped collector closed its queue, pending tombstones stay in the due heap
			if shard.Events.IsClosed() {
				shard.Events = util.NewLockFreeMPSC[internal.Event]()
			}
			maple.gcDone.Add(1)
			go maple.collectShard(shard)
		}
	}
}

// stopGC stops the garbage collector and waits for all shard collectors to exit.
// if the GC is not running, this function does nothing.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) stopGC() {
	if maple.gcIsRunning.CompareAndSwap(true, false) {
		for _, shard := range maple.shards {
			shard.Events.Close()
		}
		maple.gcDone.Wait()
	}
}

// collectShard is the GC loop of one shard. It registers tombstones from the event
// queue in the shard's due heap and removes every tombstone whose retention has passed.
//
// Thread-safety: exactly one goroutine per shard may run this loop.
func (maple *mapleImpl) collectShard(shard *internal.Shard) {
	defer maple.gcDone.Done()

	timer := time.NewTimer(maple.gcInterval)
	defer timer.Stop()

	for {
		timer.Reset(maple.gcInterval)

		collect := false
		for !collect {
			select {
			case event, ok := <-shard.Events.Recv():
				if !ok {
					return
				}
				switch event.Type {
				case internal.EventTTombstone:
					shard.Due.Set(event.ID, event.Version+maple.retention)
				default:
					panic(fmt.Sprintf("unknown event %s", event))
				}
			case <-timer.C:
				collect = true
			}
		}

		/*
			The index is read once per cycle so that a constant stream of commits
			cannot keep the loop busy forever.
		*/
		writeIndex := maple.currIndex.Load()
		if writeIndex <= maple.retention {
			continue
		}
		limit := writeIndex - maple.retention

		// publish the horizon before anything below it disappears
		maple.advanceCollectedIdx(limit)

		for _, id := range shard.Due.PopDue(writeIndex) {
			shard.Objects.Compute(id, func(rec db.Record, loaded bool) (db.Record, bool) {
				if !loaded {
					return rec, true
				}
				// only tombstones old enough are removed
				return rec, rec.Deleted && rec.Version <= limit
			})
		}
	}
}

// --------------------------------------------------------------------------
// Persistence Operations
// --------------------------------------------------------------------------

type savedObject struct {
	id  uint64
	rec db.Record
}

// Save writes a consistent snapshot of all live objects and bindings to w.
// Tombstones are not saved, a loaded snapshot treats them as collected.
//
// Thread-safety: Save blocks Apply only while collecting references to the records,
// the (immutable) record data is encoded afterwards.
func (maple *mapleImpl) Save(w io.Writer) error {

	maple.commitMu.Lock()
	var (
		objects  []savedObject
		bindings []internal.Binding
	)
	for _, shard := range maple.shards {
		shard.Objects.Range(func(id uint64, rec db.Record) bool {
			if !rec.Deleted {
				objects = append(objects, savedObject{id: id, rec: rec})
			}
			return true
		})
	}
	maple.bindMu.RLock()
	maple.bindings.Ascend(func(b internal.Binding) bool {
		bindings = append(bindings, b)
		return true
	})
	maple.bindMu.RUnlock()
	writeIdx := maple.currIndex.Load()
	nextID := maple.nextID.Load()
	maple.commitMu.Unlock()

	bw := bufio.NewWriterSize(w, 1024*1024) // 1 MB buffer

	header := []any{uint8(mapleVersion), maple.seed, writeIdx, nextID, uint64(len(objects))}
	if _, err := bw.WriteString(magicNum); err != nil {
		return err
	}
	for _, v := range header {
		if err := binary.Write(bw, binary.LittleEndian, v); err != nil {
			return err
		}
	}

	for _, obj := range objects {
		if err := binary.Write(bw, binary.LittleEndian, obj.id); err != nil {
			return err
		}
		if err := binary.Write(bw, binary.LittleEndian, obj.rec.Version); err != nil {
			return err
		}
		if err := writeBytes(bw, obj.rec.Data); err != nil {
			return err
		}
	}

	if err := binary.Write(bw, binary.LittleEndian, uint64(len(bindings))); err != nil {
		return err
	}
	for _, b := range bindings {
		if err := writeBytes(bw, []byte(b.Name)); err != nil {
			return err
		}
		if err := binary.Write(bw, binary.LittleEndian, b.ID); err != nil {
			return err
		}
	}

	return bw.Flush()
}

// Load replaces the database state with a snapshot written by Save.
//
// Thread-safety: This function is not thread-safe and must not run concurrently with any other method.
func (maple *mapleImpl) Load(r io.Reader) error {

	// stop gc during load, the shards are recreated below
	maple.stopGC()
	defer maple.startGC()

	br := bufio.NewReaderSize(r, 1024*1024) // 1 MB buffer

	magicBytes := make([]byte, len(magicNum))
	if _, err := io.ReadFull(br, magicBytes); err != nil {
		return err
	}
	if string(magicBytes) != magicNum {
		return fmt.Errorf("invalid file format: magic number mismatch")
	}

	var version uint8
	if err := binary.Read(br, binary.LittleEndian, &version); err != nil {
		return err
	}
	if int(version) != mapleVersion {
		return fmt.Errorf("unsupported version: %d (expected %d)", version, mapleVersion)
	}

	var seed, writeIdx, nextID, objectCount uint64
	for _, v := range []*uint64{&seed, &writeIdx, &nextID, &objectCount} {
		if err := binary.Read(br, binary.LittleEndian, v); err != nil {
			return err
		}
	}

	maple.seed = seed
	maple.shards = maple.createShards()

	for i := uint64(0); i < objectCount; i++ {
		var id, recVersion uint64
		if err := binary.Read(br, binary.LittleEndian, &id); err != nil {
			return err
		}
		if err := binary.Read(br, binary.LittleEndian, &recVersion); err != nil {
			return err
		}
		data, err := readBytes(br)
		if err != nil {
			return err
		}
		internal.GetShard(id, maple.shards).Objects.Store(id, db.Record{Data: data, Version: recVersion})
	}

	var bindingCount uint64
	if err := binary.Read(br, binary.LittleEndian, &bindingCount); err != nil {
		return err
	}
	bindings := btree.NewG[internal.Binding](bindingsDegree, internal.BindingLess)
	for i := uint64(0); i < bindingCount; i++ {
		name, err := readBytes(br)
		if err != nil {
			return err
		}
		var id uint64
		if err := binary.Read(br, binary.LittleEndian, &id); err != nil {
			return err
		}
		bindings.ReplaceOrInsert(internal.Binding{Name: string(name), ID: id})
	}

	maple.bindMu.Lock()
	maple.bindings = bindings
	maple.bindMu.Unlock()

	// ids are never reused, even if the snapshot is older than ids handed out before
	for {
		curr := maple.nextID.Load()
		if nextID <= curr || maple.nextID.CompareAndSwap(curr, nextID) {
			break
		}
	}
	maple.currIndex.Store(writeIdx)
	// tombstones were not saved, so everything up to the snapshot counts as collected
	maple.collectedIdx.Store(writeIdx)

	log.Infof("loaded snapshot: %d objects, %d bindings, write index %d", objectCount, bindingCount, writeIdx)
	return nil
}

func writeBytes(w io.Writer, b []byte) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readBytes(r io.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

// --------------------------------------------------------------------------
// Features and Metadata
// --------------------------------------------------------------------------

// GetInfo returns statistics about the database
func (maple *mapleImpl) GetInfo() db.DatabaseInfo {

	histogram := util.NewSizeHistogram()
	samplesPerShard := 100
	wg := sync.WaitGroup{}
	wg.Add(len(maple.shards))

	var (
		mu            sync.Mutex
		samplesCount  int
		tombstones    int
		shardSizes    = make([]float64, len(maple.shards))
		totalObjects  int
		bindingsCount int
	)

	// concurrently collect samples from all shards
	for shardIndex, shard := range maple.shards {
		go func(i int, s *internal.Shard) {
			defer wg.Done()
			count, dead := 0, 0
			s.Objects.Range(func(_ uint64, rec db.Record) bool {
				histogram.AddSample(len(rec.Data))
				if rec.Deleted {
					dead++
				}
				count++
				return count < samplesPerShard
			})

			size := s.Objects.Size()

			mu.Lock()
			defer mu.Unlock()
			samplesCount += count
			tombstones += dead
			totalObjects += size
			shardSizes[i] = float64(size)
		}(shardIndex, shard)
	}
	wg.Wait()

	maple.bindMu.RLock()
	bindingsCount = maple.bindings.Len()
	maple.bindMu.RUnlock()

	// 8 bytes each for id, version plus the flag and slice header
	entryOverhead := 40
	medianSize := histogram.MedianEstimate() + entryOverhead
	avgSize := histogram.AverageSize() + entryOverhead

	// weighted estimate (60% median, 40% average) per object
	sizeBytes := totalObjects * ((medianSize*60 + avgSize*40) / 100)

	var tombstoneBacklog float64
	if samplesCount > 0 {
		tombstoneBacklog = float64(tombstones) / float64(samplesCount)
	}

	meta := &struct {
		CurrentWriteIndex uint64                 `json:"current_write_index"`
		CollectedIndex    uint64                 `json:"collected_index"`
		AllocatedIDs      uint64                 `json:"allocated_ids"`
		Objects           int                    `json:"objects"`
		Bindings          int                    `json:"bindings"`
		ShardCount        int                    `json:"shard_count"`
		ShardDistribution util.DistributionStats `json:"shard_distribution"`
		TombstoneBacklog  float64                `json:"tombstone_backlog"`
		Info              string                 `json:"info"`
	}{
		CurrentWriteIndex: maple.currIndex.Load(),
		CollectedIndex:    maple.collectedIdx.Load(),
		AllocatedIDs:      maple.nextID.Load(),
		Objects:           totalObjects,
		Bindings:          bindingsCount,
		ShardCount:        len(maple.shards),
		ShardDistribution: util.NewDistributionStats(shardSizes),
		TombstoneBacklog:  tombstoneBacklog,
		Info:              "SizeBytes and TombstoneBacklog are estimates based on sampling.",
	}

	return db.DatabaseInfo{
		SizeBytes: sizeBytes,
		DbType:    db.ImplMaple,
		SupportedFeatures: []db.Feature{
			db.FeatureRead, db.FeatureApply, db.FeatureAllocate, db.FeatureBindings,
			db.FeatureSave, db.FeatureLoad, db.FeatureGarbageCollect,
		},
		Metadata: meta,
	}
}

// SupportsFeature checks if this implementation supports a specific feature
func (maple *mapleImpl) SupportsFeature(feature db.Feature) bool {
	supportedFeatures := db.FeatureRead |
		db.FeatureApply |
		db.FeatureAllocate |
		db.FeatureBindings |
		db.FeatureSave |
		db.FeatureLoad |
		db.FeatureGarbageCollect
	return supportedFeatures&feature == feature
}

// Close stops the garbage collector
func (maple *mapleImpl) Close() error {
	maple.stopGC()
	return nil
}

// --------------------------------------------------------------------------
// Index Management
// --------------------------------------------------------------------------

// SetWriteIdx safely updates the current index
// It only updates if the new index is greater than the current one
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) SetWriteIdx(newIdx uint64) {
	for {
		currIdx := maple.currIndex.Load()
		if newIdx <= currIdx {
			return
		}
		if maple.currIndex.CompareAndSwap(currIdx, newIdx) {
			return
		}
	}
}

// WriteIdx returns the current index of the database
func (maple *mapleImpl) WriteIdx() uint64 {
	return maple.currIndex.Load()
}
