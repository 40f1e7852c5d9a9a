package huggingface

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const passage = "Le café est à Paris. It opened in 1889."

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	t.Setenv("TEST_HF_TOKEN", "secret")
	c := NewClient(Config{BaseURL: srv.URL + "/models/", APIKeyEnv: "TEST_HF_TOKEN", MaxRetries: 2})
	c.sleep = func(context.Context, time.Duration) error { return nil }
	return c
}

func TestAnswerSendsQuestionAndDecodesList(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/"+DefaultModel, r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req qaRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "When did it open?", req.Inputs.Question)
		assert.Equal(t, passage, req.Inputs.Context)
		assert.Equal(t, 2, req.Parameters.TopK)
		assert.Equal(t, DefaultMaxAnswerLen, req.Parameters.MaxAnswerLen)

		// Offsets are in characters: "é" and "à" are two bytes each.
		_, _ = w.Write([]byte(`[{"answer":" 1889","score":0.93,"start":33,"end":38},{"answer":"Paris","score":0.02,"start":14,"end":19}]`))
	})

	spans, err := c.Answer(context.Background(), "When did it open?", passage, 2)
	require.NoError(t, err)
	require.Len(t, spans, 2)
	assert.Equal(t, "1889", spans[0].Text)
	assert.Equal(t, "1889", passage[spans[0].Start:spans[0].End])
	assert.InDelta(t, 0.93, spans[0].Score, 1e-9)
	assert.Equal(t, "Paris", passage[spans[1].Start:spans[1].End])
}

func TestAnswerDecodesSingleObject(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"answer":"Paris","score":0.5,"start":0,"end":0}`))
	})
	spans, err := c.Answer(context.Background(), "Where?", passage, 1)
	require.NoError(t, err)
	require.Len(t, spans, 1)
	assert.Equal(t, "Paris", passage[spans[0].Start:spans[0].End])
}

func TestAnswerDropsSpansNotInPassage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"answer":"London","score":0.9,"start":0,"end":6},{"answer":"","score":0.1,"start":0,"end":0}]`))
	})
	spans, err := c.Answer(context.Background(), "Where?", passage, 2)
	require.NoError(t, err)
	assert.Empty(t, spans)
}

func TestAnswerRetriesWhileModelLoads(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":"Model is currently loading","estimated_time":20}`))
			return
		}
		_, _ = w.Write([]byte(`[{"answer":"1889","score":0.8,"start":33,"end":37}]`))
	})
	spans, err := c.Answer(context.Background(), "When?", passage, 1)
	require.NoError(t, err)
	require.Len(t, spans, 1)
	assert.Equal(t, int32(3), calls.Load())
}

func TestAnswerDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"bad input"}`))
	})
	_, err := c.Answer(context.Background(), "When?", passage, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad input")
	assert.Equal(t, int32(1), calls.Load())
}

func TestAnswerGivesUpAfterRetries(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	})
	_, err := c.Answer(context.Background(), "When?", passage, 1)
	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRuneSpan(t *testing.T) {
	s := "añb"
	from, to, ok := runeSpan(s, 1, 3)
	require.True(t, ok)
	assert.Equal(t, "ñb", s[from:to])

	_, _, ok = runeSpan(s, 2, 9)
	assert.False(t, ok)
}

func TestRetryDelayIsCapped(t *testing.T) {
	assert.Equal(t, 200*time.Millisecond, retryDelay(0))
	assert.Equal(t, 5*time.Second, retryDelay(10))
}

func TestAnswerCapsServerRequestedBackoff(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "3600")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`[{"answer":"1889","score":0.8,"start":33,"end":37}]`))
	})
	var waits []time.Duration
	c.sleep = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}
	_, err := c.Answer(context.Background(), "When?", passage, 1)
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{maxBackoff}, waits)
}

func TestRetryAfter(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	assert.Equal(t, 2*time.Second, retryAfter("2", now))
	assert.Equal(t, maxBackoff, retryAfter("3600", now))
	assert.Equal(t, 3*time.Second, retryAfter(now.Add(3*time.Second).Format(http.TimeFormat), now))
	assert.Equal(t, maxBackoff, retryAfter(now.Add(time.Hour).Format(http.TimeFormat), now))
	assert.Zero(t, retryAfter(now.Add(-time.Minute).Format(http.TimeFormat), now))
	assert.Zero(t, retryAfter("soon", now))
	assert.Zero(t, retryAfter("", now))
}
