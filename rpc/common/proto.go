package common

// --------------------------------------------------------------------------
// HTTP API messages (JSON encoded)
// --------------------------------------------------------------------------

/*
	Request bodies of PUT /maps/{name}/keys/{key} carry the raw value bytes,
	all responses are JSON documents. []byte fields are base64 encoded by encoding/json.
*/

// EntryResponse is returned by the key operations.
//   - GET:    Value is the stored value, Found reports whether the key exists
//   - PUT:    Value is the replaced value, Found reports whether a value was replaced
//   - DELETE: Value is the removed value, Found reports whether the key existed
type EntryResponse struct {
	Map   string `json:"map"`
	Key   string `json:"key"`
	Value []byte `json:"value,omitempty"`
	Found bool   `json:"found"`
}

// SizeResponse is returned by GET /maps/{name}
type SizeResponse struct {
	Map    string `json:"map"`
	Exists bool   `json:"exists"`
	Size   int    `json:"size"`
}

// Entry is a single key value pair of a listing
type Entry struct {
	Key   string `json:"key"`
	Value []byte `json:"value"`
}

// ListResponse is one page of GET /maps/{name}/entries.
// Cursor is empty once the iteration reached the end, otherwise it is passed as
// the cursor query parameter to fetch the next page.
type ListResponse struct {
	Map     string  `json:"map"`
	Entries []Entry `json:"entries"`
	Cursor  string  `json:"cursor,omitempty"`
}

// MapsResponse is returned by GET /maps
type MapsResponse struct {
	Maps []string `json:"maps"`
}

// ErrorResponse is returned with every non 2xx status code
type ErrorResponse struct {
	Err string `json:"err"`
}

// NewErrorResponse creates a new error response
func NewErrorResponse(err error) *ErrorResponse {
	return &ErrorResponse{Err: err.Error()}
}
