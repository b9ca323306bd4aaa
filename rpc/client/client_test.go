package client

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/ValentinKolb/scoll/lib/db"
	"github.com/ValentinKolb/scoll/lib/db/engines/maple"
	"github.com/ValentinKolb/scoll/lib/scheduler"
	"github.com/ValentinKolb/scoll/lib/store/lstore"
	"github.com/ValentinKolb/scoll/lib/txn"
	"github.com/ValentinKolb/scoll/rpc/common"
	"github.com/ValentinKolb/scoll/rpc/server"
	"github.com/stretchr/testify/require"
)

func newTestHandler(t *testing.T) http.Handler {
	t.Helper()
	s := lstore.NewLocalStore(func() db.ObjectDB { return maple.NewMapleDB(nil) })
	mgr := txn.NewManager(s, nil)
	sched := scheduler.NewTaskScheduler(mgr, nil)
	sched.Start()
	t.Cleanup(func() { _ = sched.Close() })
	return server.NewHandler(mgr, sched, false)
}

func newTestClient(t *testing.T, endpoints ...string) *Client {
	t.Helper()
	c, err := NewClient(common.ClientConfig{Endpoints: endpoints, TimeoutSecond: 5, RetryCount: 3})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestClientRoundTrip(t *testing.T) {
	srv := httptest.NewServer(newTestHandler(t))
	defer srv.Close()
	c := newTestClient(t, srv.URL)

	_, found, err := c.Get("colors", "sky")
	require.NoError(t, err)
	require.False(t, found)

	_, replaced, err := c.Put("colors", "sky", []byte("blue"))
	require.NoError(t, err)
	require.False(t, replaced)

	old, replaced, err := c.Put("colors", "sky", []byte("grey"))
	require.NoError(t, err)
	require.True(t, replaced)
	require.Equal(t, []byte("blue"), old)

	has, err := c.Has("colors", "sky")
	require.NoError(t, err)
	require.True(t, has)

	_, _, err = c.Put("colors", "empty", nil)
	require.NoError(t, err)
	value, found, err := c.Get("colors", "empty")
	require.NoError(t, err)
	require.True(t, found)
	require.Empty(t, value)

	size, exists, err := c.Size("colors")
	require.NoError(t, err)
	require.True(t, exists)
	require.Equal(t, 2, size)

	old, removed, err := c.Delete("colors", "sky")
	require.NoError(t, err)
	require.True(t, removed)
	require.Equal(t, []byte("grey"), old)

	maps, err := c.Maps()
	require.NoError(t, err)
	require.Equal(t, []string{"colors"}, maps)
}

func TestClientSpecialNames(t *testing.T) {
	srv := httptest.NewServer(newTestHandler(t))
	defer srv.Close()
	c := newTestClient(t, srv.URL)

	for _, key := range []string{"a/b", "with space", "ünïcödé", "100%", "?query&x=y"} {
		_, _, err := c.Put("my map", key, []byte(key))
		require.NoError(t, err)
		value, found, err := c.Get("my map", key)
		require.NoError(t, err)
		require.True(t, found, key)
		require.Equal(t, key, string(value))
	}
}

func TestClientListAndClear(t *testing.T) {
	srv := httptest.NewServer(newTestHandler(t))
	defer srv.Close()
	c := newTestClient(t, srv.URL)

	const n = 120
	for i := 0; i < n; i++ {
		_, _, err := c.Put("list", fmt.Sprintf("key-%03d", i), []byte{byte(i)})
		require.NoError(t, err)
	}

	seen := make(map[string]bool)
	cursor := ""
	for {
		entries, next, err := c.List("list", cursor, 50)
		require.NoError(t, err)
		for _, e := range entries {
			require.False(t, seen[e.Key])
			seen[e.Key] = true
		}
		if next == "" {
			break
		}
		cursor = next
	}
	require.Len(t, seen, n)

	stats, err := c.Stats("list")
	require.NoError(t, err)
	require.Equal(t, n, stats.Entries)

	require.NoError(t, c.Clear("list"))
	size, exists, err := c.Size("list")
	require.NoError(t, err)
	require.True(t, exists)
	require.Zero(t, size)

	require.NoError(t, c.Destroy("list"))
	_, err = c.Stats("list")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestClientRetriesOtherEndpoint(t *testing.T) {
	var failed atomic.Int32
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		failed.Add(1)
		http.Error(w, `{"err":"not ready"}`, http.StatusServiceUnavailable)
	}))
	defer down.Close()
	up := httptest.NewServer(newTestHandler(t))
	defer up.Close()

	c := newTestClient(t, down.URL, up.URL)
	for i := 0; i < 10; i++ {
		_, _, err := c.Put("retry", fmt.Sprint(i), []byte("x"))
		require.NoError(t, err)
	}
	require.Positive(t, failed.Load())

	size, _, err := c.Size("retry")
	require.NoError(t, err)
	require.Equal(t, 10, size)
}

func TestClientErrors(t *testing.T) {
	_, err := NewClient(common.ClientConfig{})
	require.Error(t, err)

	srv := httptest.NewServer(newTestHandler(t))
	defer srv.Close()
	c := newTestClient(t, srv.URL)

	_, _, err = c.List("m", "not-a-cursor", 10)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	require.NotErrorIs(t, err, ErrNotFound)
}
