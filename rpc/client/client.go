package client

import (
	"net/http"
	"net/url"
	"strconv"

	"github.com/ValentinKolb/scoll/lib/collections/shm"
	"github.com/ValentinKolb/scoll/rpc/common"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("rpc")

// Client accesses the maps of scoll servers over the HTTP API
type Client struct {
	config    common.ClientConfig
	transport *httpTransport
}

// NewClient creates a new client for the endpoints of config
func NewClient(config common.ClientConfig) (*Client, error) {
	t, err := newHTTPTransport(config)
	if err != nil {
		return nil, err
	}
	return &Client{config: config, transport: t}, nil
}

func keyPath(mapName, key string) string {
	return "/maps/" + url.PathEscape(mapName) + "/keys/" + url.PathEscape(key)
}

func mapPath(mapName string) string {
	return "/maps/" + url.PathEscape(mapName)
}

// --------------------------------------------------------------------------
// Key operations
// --------------------------------------------------------------------------

// Get returns the value of key. found is false if the key or the map does not exist.
func (c *Client) Get(mapName, key string) (value []byte, found bool, err error) {
	var resp common.EntryResponse
	if err := c.transport.do(http.MethodGet, keyPath(mapName, key), nil, nil, &resp); err != nil {
		return nil, false, err
	}
	return resp.Value, resp.Found, nil
}

// Has reports whether key exists
func (c *Client) Has(mapName, key string) (bool, error) {
	_, found, err := c.Get(mapName, key)
	return found, err
}

// Put stores value under key and returns the replaced value. The map is created if it does not exist.
func (c *Client) Put(mapName, key string, value []byte) (old []byte, replaced bool, err error) {
	if value == nil {
		value = []byte{}
	}
	var resp common.EntryResponse
	if err := c.transport.do(http.MethodPut, keyPath(mapName, key), nil, value, &resp); err != nil {
		return nil, false, err
	}
	return resp.Value, resp.Found, nil
}

// Delete removes key and returns the removed value
func (c *Client) Delete(mapName, key string) (old []byte, removed bool, err error) {
	var resp common.EntryResponse
	if err := c.transport.do(http.MethodDelete, keyPath(mapName, key), nil, nil, &resp); err != nil {
		return nil, false, err
	}
	return resp.Value, resp.Found, nil
}

// --------------------------------------------------------------------------
// Map operations
// --------------------------------------------------------------------------

// Size returns the number of entries of a map. exists is false if there is no such map.
func (c *Client) Size(mapName string) (size int, exists bool, err error) {
	var resp common.SizeResponse
	if err := c.transport.do(http.MethodGet, mapPath(mapName), nil, nil, &resp); err != nil {
		return 0, false, err
	}
	return resp.Size, resp.Exists, nil
}

// Clear removes all entries of a map. The entries are removed in the background.
func (c *Client) Clear(mapName string) error {
	return c.transport.do(http.MethodDelete, mapPath(mapName), nil, nil, nil)
}

// Destroy removes a map with all its entries
func (c *Client) Destroy(mapName string) error {
	query := url.Values{"destroy": {"true"}}
	return c.transport.do(http.MethodDelete, mapPath(mapName), query, nil, nil)
}

// List returns up to limit entries starting after cursor (empty for the first page).
// The returned cursor is empty once all entries were returned.
func (c *Client) List(mapName string, cursor string, limit int) ([]common.Entry, string, error) {
	query := url.Values{}
	if cursor != "" {
		query.Set("cursor", cursor)
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	var resp common.ListResponse
	if err := c.transport.do(http.MethodGet, mapPath(mapName)+"/entries", query, nil, &resp); err != nil {
		return nil, "", err
	}
	return resp.Entries, resp.Cursor, nil
}

// Maps returns the names of all maps
func (c *Client) Maps() ([]string, error) {
	var resp common.MapsResponse
	if err := c.transport.do(http.MethodGet, "/maps", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Maps, nil
}

// Stats returns structural statistics of a map. It fails with ErrNotFound if there is no such map.
func (c *Client) Stats(mapName string) (shm.Stats, error) {
	var stats shm.Stats
	err := c.transport.do(http.MethodGet, mapPath(mapName)+"/stats", nil, nil, &stats)
	return stats, err
}

// Close releases idle connections
func (c *Client) Close() error {
	c.transport.close()
	return nil
}
