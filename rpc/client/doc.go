// Package client implements a client for the HTTP map API of scoll servers.
//
// Requests are sent to the configured endpoints in round-robin order. Failed connections
// and the status codes 409 (transaction gave up after conflicts), 502 and 503 are retried on
// the next endpoint up to RetryCount times.
//
// Usage Example:
//
//	c, err := client.NewClient(common.ClientConfig{
//	  Endpoints:     []string{"localhost:8080"},
//	  TimeoutSecond: 5,
//	  RetryCount:    3,
//	})
//	if err != nil {
//	  panic(err)
//	}
//
//	c.Put("users", "alice", []byte("admin"))
//	value, found, _ := c.Get("users", "alice")
//
//	// iterate over all entries, page by page
//	cursor := ""
//	for {
//	  entries, next, err := c.List("users", cursor, 100)
//	  ...
//	  if next == "" {
//	    break
//	  }
//	  cursor = next
//	}
//
// Thread Safety:
//
//	A Client is safe for concurrent use by multiple goroutines.
package client
