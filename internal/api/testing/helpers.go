// Package testing provides test utilities for the API package.
package testing

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestServer wraps httptest.Server with request helpers. Token, when set,
// is sent as a bearer token on every request.
type TestServer struct {
	*httptest.Server
	t     *testing.T
	Token string
}

// NewTestServer creates a new test server with the given handler.
func NewTestServer(t *testing.T, handler http.Handler) *TestServer {
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return &TestServer{
		Server: ts,
		t:      t,
	}
}

// MakeRequest makes an HTTP request to the test server.
func (ts *TestServer) MakeRequest(method, path string, body any) *http.Response {
	return ts.MakeRequestWithHeaders(method, path, body, nil)
}

// MakeRequestWithHeaders makes an HTTP request with extra headers.
func (ts *TestServer) MakeRequestWithHeaders(method, path string, body any, headers map[string]string) *http.Response {
	ts.t.Helper()

	var reqBody io.Reader
	if body != nil {
		switch b := body.(type) {
		case []byte:
			reqBody = bytes.NewReader(b)
		default:
			jsonBody, err := json.Marshal(body)
			require.NoError(ts.t, err, "failed to marshal request body")
			reqBody = bytes.NewReader(jsonBody)
		}
	}

	req, err := http.NewRequestWithContext(context.Background(), method, ts.URL+path, reqBody)
	require.NoError(ts.t, err, "failed to create request")

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if ts.Token != "" {
		req.Header.Set("Authorization", "Bearer "+ts.Token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := ts.Client().Do(req)
	require.NoError(ts.t, err, "failed to execute request")

	return resp
}

// AssertStatus asserts that the response has the expected status code.
func AssertStatus(t *testing.T, resp *http.Response, expectedCode int) {
	t.Helper()
	require.Equal(t, expectedCode, resp.StatusCode, "unexpected status code")
}

// AssertJSON unmarshals the response body into the given value and asserts no error.
func AssertJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err, "failed to read response body")

	err = json.Unmarshal(body, v)
	require.NoError(t, err, "failed to unmarshal response: %s", string(body))
}

// AssertContentType asserts that the response has the expected content type.
func AssertContentType(t *testing.T, resp *http.Response, expectedType string) {
	t.Helper()
	contentType := resp.Header.Get("Content-Type")
	require.Contains(t, contentType, expectedType, "unexpected content type")
}

// ErrorResponse represents a standard error response for assertions.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Details map[string]string `json:"details,omitempty"`
}

// ReadBody reads and returns the response body as a string.
func ReadBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err, "failed to read response body")
	return string(body)
}
