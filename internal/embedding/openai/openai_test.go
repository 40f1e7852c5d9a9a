package openai

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// embeddingServer returns [len(input), 0] for every input.
func embeddingServer(t *testing.T, failFirst int32, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		if n <= failFirst {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		var req embeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		var resp embeddingResponse
		for i, in := range req.Input {
			resp.Data = append(resp.Data, struct {
				Index     int       `json:"index"`
				Embedding []float64 `json:"embedding"`
			}{Index: i, Embedding: []float64{float64(len(in)), 0}})
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
}

func newTestClient(t *testing.T, url string) *Client {
	t.Setenv("TEST_EMBED_KEY", "secret")
	c := NewClient(Config{BaseURL: url, APIKeyEnv: "TEST_EMBED_KEY", BatchSize: 2})
	c.sleep = func(time.Duration) {}
	return c
}

func TestPrepareBatchesAndCaches(t *testing.T) {
	var calls atomic.Int32
	srv := embeddingServer(t, 0, &calls)
	defer srv.Close()
	c := newTestClient(t, srv.URL)

	require.NoError(t, c.Prepare([]string{"a", "bb", "ccc"}))
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, 2, c.Dimension())

	v, err := c.Embed("bb")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0}, v)
	assert.Equal(t, int32(2), calls.Load(), "prepared text is served from memory")

	_, err = c.Embed("new text")
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestEmbedRetriesRateLimits(t *testing.T) {
	var calls atomic.Int32
	srv := embeddingServer(t, 2, &calls)
	defer srv.Close()
	c := newTestClient(t, srv.URL)
	var waits []time.Duration
	c.sleep = func(d time.Duration) { waits = append(waits, d) }

	v, err := c.Embed("hello")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0}, v)
	assert.Equal(t, []time.Duration{time.Second, time.Second}, waits)
}

func TestEmbedDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()
	c := newTestClient(t, srv.URL)

	_, err := c.Embed("hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.Equal(t, int32(1), calls.Load())
}

func TestNormalize(t *testing.T) {
	assert.InDeltaSlice(t, []float64{0.6, 0.8}, normalize([]float64{3, 4}), 1e-9)
	assert.Equal(t, []float64{0, 0}, normalize([]float64{0, 0}))
}

func TestRetryAfterIsCapped(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	assert.Equal(t, time.Second, retryAfter("1", now))
	assert.Equal(t, maxBackoff, retryAfter("3600", now))
	assert.Equal(t, 4*time.Second, retryAfter(now.Add(4*time.Second).Format(http.TimeFormat), now))
	assert.Zero(t, retryAfter("-5", now))
	assert.Zero(t, retryAfter("later", now))
}
