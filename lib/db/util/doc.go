// Package util provides the building blocks shared by the object table engines,
// the task scheduler and the collections.
//
// The package contains:
//   - functions: seed generation, id mixing for shard selection and 32-bit hash spreading
//   - mapheap: a keyed min-heap used as due queue (tombstone collection, delayed tasks)
//   - lockfreempsc: a lock-free multi-producer single-consumer queue with a channel consumer side
//   - statistics: summary and distribution statistics and a lock-free SizeHistogram
package util
