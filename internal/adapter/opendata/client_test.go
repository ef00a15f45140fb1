package opendata

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	headerContentType = "Content-Type"
	contentTypeJSON   = "application/json"
)

func testClient(baseURL string, retryMax int) *Client {
	return NewClient(Options{
		BaseURL:  baseURL,
		Timeout:  5 * time.Second,
		RetryMax: retryMax,
	}, discardLogger())
}

func TestClient_Fetch_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "2025-01-01", r.URL.Query().Get("start_date"))
		assert.Equal(t, "JSON", r.URL.Query().Get("format"))
		w.Header().Set(headerContentType, contentTypeJSON)
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL+"?format=JSON", 0)
	resp, err := c.Fetch(context.Background(), url.Values{"start_date": {"2025-01-01"}})
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, contentTypeJSON, resp.ContentType)
	assert.JSONEq(t, `{"data":[]}`, string(resp.Body))
}

func TestClient_Fetch_APIKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.URL.Query().Get("api_key"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(Options{BaseURL: srv.URL, APIKey: "secret", Timeout: 5 * time.Second}, discardLogger())
	_, err := c.Fetch(context.Background(), nil)
	require.NoError(t, err)
}

func TestClient_Fetch_NonOKIsFetchError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("maintenance"))
	}))
	defer srv.Close()

	c := testClient(srv.URL, 0)
	_, err := c.Fetch(context.Background(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFetch)
	assert.Contains(t, err.Error(), "503")
	assert.Contains(t, err.Error(), "maintenance")
	assert.Equal(t, int32(1), calls.Load(), "no automatic retry by default")
}

func TestClient_Fetch_NotFoundNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := testClient(srv.URL, 2)
	_, err := c.Fetch(context.Background(), nil)
	require.ErrorIs(t, err, ErrFetch)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_Fetch_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(Options{BaseURL: srv.URL, Timeout: 50 * time.Millisecond}, discardLogger())
	_, err := c.Fetch(context.Background(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFetch)
}
