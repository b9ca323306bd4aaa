package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/ValentinKolb/scoll/lib/collections/shm"
	"github.com/ValentinKolb/scoll/lib/scheduler"
	"github.com/ValentinKolb/scoll/lib/txn"
	"github.com/ValentinKolb/scoll/rpc/common"
	"github.com/VictoriaMetrics/metrics"
	"github.com/cockroachdb/errors"
	"github.com/puzpuzpuz/xsync/v3"
)

const (
	// MapBindingPrefix is the prefix of the names the maps of the API are bound under
	MapBindingPrefix = "scoll.map."

	defaultPageSize = 100
	maxPageSize     = 1000
	maxValueSize    = 4 << 20
)

var errMapNotFound = errors.New("map not found")

// stringMap is the map type exposed by the API
type stringMap = shm.ScalableHashMap[string, []byte]

func mapBindingName(name string) string {
	return MapBindingPrefix + name
}

// api serves named maps over HTTP. Every request runs in its own transaction.
type api struct {
	mgr   *txn.Manager
	sched scheduler.Scheduler

	// opened map handles by map id, a handle caches the header of its map
	handles *xsync.MapOf[txn.ObjectID, *stringMap]
}

// NewHandler returns the HTTP handler of the map API.
// If debug is set, every request is logged.
func NewHandler(mgr *txn.Manager, sched scheduler.Scheduler, debug bool) http.Handler {
	a := &api{
		mgr:     mgr,
		sched:   sched,
		handles: xsync.NewMapOf[txn.ObjectID, *stringMap](),
	}

	mux := http.NewServeMux()
	route := func(pattern string, h http.HandlerFunc) {
		h = metricsMiddleware(pattern, h)
		if debug {
			h = loggerMiddleware(h)
		}
		mux.HandleFunc(pattern, h)
	}

	route("GET /maps", a.handleListMaps)
	route("GET /maps/{name}", a.handleSize)
	route("DELETE /maps/{name}", a.handleClear)
	route("GET /maps/{name}/stats", a.handleStats)
	route("GET /maps/{name}/entries", a.handleEntries)
	route("GET /maps/{name}/keys/{key...}", a.handleGet)
	route("PUT /maps/{name}/keys/{key...}", a.handlePut)
	route("DELETE /maps/{name}/keys/{key...}", a.handleDelete)

	mux.HandleFunc("GET /metrics", func(w http.ResponseWriter, _ *http.Request) {
		metrics.WritePrometheus(w, true)
	})
	return mux
}

// --------------------------------------------------------------------------
// Map resolution
// --------------------------------------------------------------------------

// openMap returns the map bound to name. If the map does not exist it is created when
// create is set, otherwise errMapNotFound is returned.
func (a *api) openMap(tx *txn.Txn, name string, create bool) (*stringMap, error) {
	id, err := tx.Binding(mapBindingName(name))
	if errors.Is(err, txn.ErrNameNotBound) {
		if !create {
			return nil, errors.Wrapf(errMapNotFound, "%q", name)
		}
		m, err := shm.New[string, []byte](tx, a.sched)
		if err != nil {
			return nil, err
		}
		if err := tx.SetBinding(mapBindingName(name), m.ID()); err != nil {
			return nil, err
		}
		tx.OnCommit(func() {
			log.Infof("created map %q (%d)", name, m.ID())
			a.handles.Store(m.ID(), m)
		})
		return m, nil
	}
	if err != nil {
		return nil, err
	}
	m, _ := a.handles.LoadOrCompute(id, func() *stringMap {
		return shm.Open[string, []byte](id, a.sched)
	})
	return m, nil
}

// --------------------------------------------------------------------------
// Handlers
// --------------------------------------------------------------------------

func (a *api) handleGet(w http.ResponseWriter, r *http.Request) {
	resp := common.EntryResponse{Map: r.PathValue("name"), Key: r.PathValue("key")}
	err := a.mgr.Transact(r.Context(), func(tx *txn.Txn) error {
		m, err := a.openMap(tx, resp.Map, false)
		if err != nil {
			return err
		}
		resp.Value, resp.Found, err = m.Get(tx, resp.Key)
		return err
	})
	if errors.Is(err, errMapNotFound) {
		err = nil
	}
	respond(w, http.StatusOK, resp, err)
}

func (a *api) handlePut(w http.ResponseWriter, r *http.Request) {
	resp := common.EntryResponse{Map: r.PathValue("name"), Key: r.PathValue("key")}
	value, err := io.ReadAll(io.LimitReader(r.Body, maxValueSize+1))
	if err != nil {
		respondError(w, http.StatusBadRequest, errors.Wrap(err, "read value"))
		return
	}
	if len(value) > maxValueSize {
		respondError(w, http.StatusRequestEntityTooLarge, errors.Newf("value exceeds %d bytes", maxValueSize))
		return
	}

	err = a.mgr.Transact(r.Context(), func(tx *txn.Txn) error {
		m, err := a.openMap(tx, resp.Map, true)
		if err != nil {
			return err
		}
		resp.Value, resp.Found, err = m.Put(tx, resp.Key, value)
		return err
	})
	respond(w, http.StatusOK, resp, err)
}

func (a *api) handleDelete(w http.ResponseWriter, r *http.Request) {
	resp := common.EntryResponse{Map: r.PathValue("name"), Key: r.PathValue("key")}
	err := a.mgr.Transact(r.Context(), func(tx *txn.Txn) error {
		m, err := a.openMap(tx, resp.Map, false)
		if err != nil {
			return err
		}
		resp.Value, resp.Found, err = m.Remove(tx, resp.Key)
		return err
	})
	if errors.Is(err, errMapNotFound) {
		err = nil
	}
	respond(w, http.StatusOK, resp, err)
}

func (a *api) handleSize(w http.ResponseWriter, r *http.Request) {
	resp := common.SizeResponse{Map: r.PathValue("name")}
	err := a.mgr.Transact(r.Context(), func(tx *txn.Txn) error {
		m, err := a.openMap(tx, resp.Map, false)
		if err != nil {
			return err
		}
		resp.Exists = true
		resp.Size, err = m.Size(tx)
		return err
	})
	if errors.Is(err, errMapNotFound) {
		err = nil
	}
	respond(w, http.StatusOK, resp, err)
}

// handleClear removes all entries of a map. With ?destroy=true the map itself is removed.
func (a *api) handleClear(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	destroy, err := parseBool(r.URL.Query().Get("destroy"))
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	resp := common.SizeResponse{Map: name}
	err = a.mgr.Transact(r.Context(), func(tx *txn.Txn) error {
		m, err := a.openMap(tx, name, false)
		if err != nil {
			return err
		}
		if !destroy {
			resp.Exists = true
			return m.Clear(tx)
		}
		if err := m.Destroy(tx); err != nil {
			return err
		}
		id := m.ID()
		tx.OnCommit(func() {
			log.Infof("destroyed map %q (%d)", name, id)
			a.handles.Delete(id)
		})
		return tx.RemoveBinding(mapBindingName(name))
	})
	if errors.Is(err, errMapNotFound) {
		err = nil
	}
	respond(w, http.StatusOK, resp, err)
}

func (a *api) handleStats(w http.ResponseWriter, r *http.Request) {
	var stats shm.Stats
	err := a.mgr.Transact(r.Context(), func(tx *txn.Txn) error {
		m, err := a.openMap(tx, r.PathValue("name"), false)
		if err != nil {
			return err
		}
		stats, err = m.Stats(tx)
		return err
	})
	respond(w, http.StatusOK, stats, err)
}

// handleEntries returns one page of entries in iteration order
func (a *api) handleEntries(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit, err := parseLimit(query.Get("limit"))
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	state, resume, err := decodeCursor(query.Get("cursor"))
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	resp := common.ListResponse{Map: r.PathValue("name")}
	err = a.mgr.Transact(r.Context(), func(tx *txn.Txn) error {
		resp.Entries = resp.Entries[:0]
		resp.Cursor = ""

		m, err := a.openMap(tx, resp.Map, false)
		if err != nil {
			return err
		}
		it := m.Iterator()
		if resume {
			if it, err = shm.ResumeIterator(m, state); err != nil {
				return err
			}
		}

		for len(resp.Entries) < limit {
			k, v, err := it.Next(tx)
			if errors.Is(err, shm.ErrNoSuchElement) {
				return nil
			}
			if err != nil {
				return err
			}
			resp.Entries = append(resp.Entries, common.Entry{Key: k, Value: v})
		}

		more, err := it.HasNext(tx)
		if err != nil || !more {
			return err
		}
		resp.Cursor, err = encodeCursor(it.State())
		return err
	})
	if errors.Is(err, errMapNotFound) {
		err = nil
	}
	if resp.Entries == nil {
		resp.Entries = []common.Entry{}
	}
	respond(w, http.StatusOK, resp, err)
}

// handleListMaps returns the names of all maps in ascending order
func (a *api) handleListMaps(w http.ResponseWriter, r *http.Request) {
	var resp common.MapsResponse
	err := a.mgr.Transact(r.Context(), func(tx *txn.Txn) error {
		resp.Maps = []string{}
		cursor := MapBindingPrefix
		for {
			next, found, err := tx.NextBoundName(cursor)
			if err != nil {
				return err
			}
			if !found || !strings.HasPrefix(next, MapBindingPrefix) {
				return nil
			}
			resp.Maps = append(resp.Maps, strings.TrimPrefix(next, MapBindingPrefix))
			cursor = next
		}
	})
	respond(w, http.StatusOK, resp, err)
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func parseBool(s string) (bool, error) {
	if s == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, errors.Newf("invalid boolean %q", s)
	}
	return b, nil
}

func parseLimit(s string) (int, error) {
	if s == "" {
		return defaultPageSize, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, errors.Newf("invalid limit %q", s)
	}
	return min(n, maxPageSize), nil
}

func encodeCursor(state shm.IteratorState) (string, error) {
	data, err := state.MarshalBinary()
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

func decodeCursor(s string) (shm.IteratorState, bool, error) {
	var state shm.IteratorState
	if s == "" {
		return state, false, nil
	}
	data, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return state, false, errors.Newf("invalid cursor %q", s)
	}
	if err := state.UnmarshalBinary(data); err != nil {
		return state, false, errors.Wrap(err, "invalid cursor")
	}
	return state, true, nil
}

// statusOf maps an error of a map operation to a HTTP status code
func statusOf(err error) int {
	switch {
	case errors.Is(err, errMapNotFound):
		return http.StatusNotFound
	case errors.Is(err, shm.ErrIllegalArgument):
		return http.StatusBadRequest
	case errors.Is(err, txn.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respond writes body as JSON or, if err is set, an ErrorResponse
func respond(w http.ResponseWriter, status int, body any, err error) {
	if err != nil {
		code := statusOf(err)
		if code == http.StatusInternalServerError {
			log.Errorf("request failed: %+v", err)
		}
		respondError(w, code, err)
		return
	}
	writeJSON(w, status, body)
}

func respondError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, common.NewErrorResponse(err))
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Warningf("failed to write response: %v", err)
	}
}
