// Package server implements a scoll node: the object store backend, the transaction
// manager, the background task scheduler and the HTTP API that exposes named maps.
//
// Every map of the API is a shm.ScalableHashMap[string, []byte] bound under
// MapBindingPrefix + name. Maps are created by the first PUT.
//
// Routes:
//
//	GET    /maps                          names of all maps
//	GET    /maps/{name}                   size of a map (linear in the number of leaves)
//	DELETE /maps/{name}[?destroy=true]    clear (or remove) a map, entries are removed in the background
//	GET    /maps/{name}/stats             structural statistics of a map
//	GET    /maps/{name}/entries           one page of entries (?limit=&cursor=)
//	GET    /maps/{name}/keys/{key}        value of a key
//	PUT    /maps/{name}/keys/{key}        store the request body under a key
//	DELETE /maps/{name}/keys/{key}        remove a key
//	GET    /metrics                       metrics in the prometheus text format
//
// Every request runs in one transaction, conflicts are retried by the transaction manager.
// A request whose transaction still conflicts after all retries is answered with 409.
//
// Usage Example:
//
//	s := server.NewServer(common.ServerConfig{
//	  Backend:          common.BackendLocal,
//	  Endpoint:         "0.0.0.0:8080",
//	  TimeoutSecond:    5,
//	  LogLevel:         "info",
//	  SchedulerWorkers: 2,
//	})
//	if err := s.Serve(); err != nil {
//	  log.Fatalf("Server error: %v", err)
//	}
//
// The raft backend additionally needs the RAFT configuration (RTTMillisecond,
// SnapshotEntries, CompactionOverhead, DataDir, ReplicaID and ClusterMembers).
package server
