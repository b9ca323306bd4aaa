// Package testing provides standardised tests and benchmarks for
// object tables that satisfy the db.ObjectDB interface.
//
// The package contains:
//   - testing: a conformance suite for the ObjectDB contract (versioned records,
//     read checks, atomic batches, tombstones, bindings, id allocation, snapshots)
//   - benchmark: throughput measurements for the operations a transaction layer issues
//
// Example usage:
//
//	factory := func() db.ObjectDB {
//		return NewMyObjectTable()
//	}
//
//	dbtesting.RunObjectDBTests(t, "MyObjectTable", factory)
//	dbtesting.RunObjectDBBenchmarks(b, "MyObjectTable", factory)
package testing
