package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/scoll/rpc/common"
	"github.com/cockroachdb/errors"
)

// ErrNotFound is returned when the server answers with 404 (map does not exist)
var ErrNotFound = errors.New("not found")

// APIError is an error response of the server
type APIError struct {
	StatusCode int
	Msg        string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Msg)
}

// Is matches ErrNotFound for 404 responses
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// retryable reports whether a response with the status code may be retried on the next endpoint
func retryable(code int) bool {
	return code == http.StatusConflict || code == http.StatusServiceUnavailable || code == http.StatusBadGateway
}

// httpTransport sends requests to the endpoints in round-robin order
type httpTransport struct {
	serverURLs []*url.URL
	client     *http.Client
	counter    atomic.Uint32
	retryCount int
}

func newHTTPTransport(config common.ClientConfig) (*httpTransport, error) {
	if len(config.Endpoints) == 0 {
		return nil, errors.New("no endpoints configured")
	}

	// Parse each server URL
	parsedURLs := make([]*url.URL, len(config.Endpoints))
	for i, server := range config.Endpoints {
		if !strings.Contains(server, "://") {
			server = "http://" + server
		}
		parsedURL, err := url.Parse(server)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid endpoint %q", server)
		}
		parsedURLs[i] = parsedURL
	}

	timeout := time.Duration(config.TimeoutSecond) * time.Second
	return &httpTransport{
		serverURLs: parsedURLs,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     timeout,
			},
		},
		retryCount: max(config.RetryCount, 1),
	}, nil
}

// nextURL selects the next server via round-robin
func (t *httpTransport) nextURL(path string, query url.Values) string {
	idx := t.counter.Add(1) % uint32(len(t.serverURLs))
	u := *t.serverURLs[idx]
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	u.RawQuery = query.Encode()
	return u.String()
}

// do sends a request and decodes the JSON response into out.
// Failed connections and retryable status codes are retried on the next endpoint.
func (t *httpTransport) do(method, path string, query url.Values, body []byte, out any) error {
	var lastErr error
	for i := 0; i < t.retryCount; i++ {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequest(method, t.nextURL(path, query), reader)
		if err != nil {
			return errors.Wrap(err, "create request")
		}

		lastErr = t.roundTrip(req, out)
		if lastErr == nil {
			return nil
		}
		var apiErr *APIError
		if errors.As(lastErr, &apiErr) && !retryable(apiErr.StatusCode) {
			return lastErr
		}
		log.Debugf("%s %s failed (attempt %d/%d): %v", method, path, i+1, t.retryCount, lastErr)
	}
	return lastErr
}

func (t *httpTransport) roundTrip(req *http.Request, out any) error {
	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Errorf("Failed to close response body: %v", err)
		}
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "read response")
	}

	if resp.StatusCode != http.StatusOK {
		var errResp common.ErrorResponse
		if json.Unmarshal(data, &errResp) != nil || errResp.Err == "" {
			errResp.Err = resp.Status
		}
		return &APIError{StatusCode: resp.StatusCode, Msg: errResp.Err}
	}
	if out == nil {
		return nil
	}
	return errors.Wrap(json.Unmarshal(data, out), "decode response")
}

func (t *httpTransport) close() {
	t.client.CloseIdleConnections()
}
