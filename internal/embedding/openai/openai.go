// Package openai embeds chunks through an OpenAI-compatible /embeddings
// endpoint for dense chunk pre-selection.
package openai

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultBaseURL   = "https://api.openai.com/v1"
	DefaultModel     = "text-embedding-3-small"
	DefaultBatchSize = 64

	maxBackoff = 5 * time.Second
)

// Client is an OpenAI-compatible embeddings client implementing domain.Embedder.
// Vectors are L2-normalised so the memory store can rank by dot product.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	batchSize  int
	maxRetries int
	client     *http.Client
	logger     *zap.Logger
	sleep      func(time.Duration)

	mu        sync.Mutex
	dimension int
	cache     map[string][]float64
}

// Config configures the OpenAI-compatible embeddings client.
type Config struct {
	BaseURL   string
	APIKeyEnv string
	Model     string
	BatchSize int
	Timeout   time.Duration
	Logger    *zap.Logger
}

// NewClient creates a new embeddings client. The key is optional so local
// servers such as Ollama work without one.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	var key string
	if cfg.APIKeyEnv != "" {
		key = os.Getenv(cfg.APIKeyEnv)
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     key,
		model:      cfg.Model,
		batchSize:  cfg.BatchSize,
		maxRetries: 3,
		client:     &http.Client{Timeout: cfg.Timeout},
		logger:     logger.With(zap.String("component", "openai-embedder")),
		sleep:      time.Sleep,
		cache:      make(map[string][]float64),
	}
}

func (c *Client) Name() string { return "openai:" + c.model }

// Prepare embeds the corpus in batches and keeps the vectors for Embed.
func (c *Client) Prepare(corpus []string) error {
	var pending []string
	c.mu.Lock()
	for _, text := range corpus {
		if _, ok := c.cache[text]; !ok {
			pending = append(pending, text)
		}
	}
	c.mu.Unlock()

	for start := 0; start < len(pending); start += c.batchSize {
		end := min(start+c.batchSize, len(pending))
		vectors, err := c.request(pending[start:end])
		if err != nil {
			return err
		}
		c.mu.Lock()
		for i, v := range vectors {
			c.cache[pending[start+i]] = v
		}
		c.mu.Unlock()
	}
	return nil
}

// Dimension is known after the first successful request.
func (c *Client) Dimension() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dimension
}

// Embed returns the prepared vector for text, requesting it when unseen.
func (c *Client) Embed(text string) ([]float64, error) {
	c.mu.Lock()
	v, ok := c.cache[text]
	c.mu.Unlock()
	if ok {
		return v, nil
	}
	vectors, err := c.request([]string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

type embeddingRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

func (c *Client) request(inputs []string) ([][]float64, error) {
	data, err := json.Marshal(embeddingRequest{Input: inputs, Model: c.model})
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s/embeddings", c.baseURL)

	var payload []byte
	for attempt := 0; ; attempt++ {
		var wait time.Duration
		payload, wait, err = c.post(url, data)
		if err == nil {
			break
		}
		if attempt >= c.maxRetries || !retryable(err) {
			return nil, err
		}
		if wait == 0 {
			wait = retryDelay(attempt)
		}
		c.logger.Warn("embedding request failed, retrying",
			zap.Int("attempt", attempt+1), zap.Duration("delay", wait), zap.Error(err))
		c.sleep(wait)
	}

	var out embeddingResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, fmt.Errorf("decode embeddings: %w", err)
	}
	if len(out.Data) != len(inputs) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(inputs), len(out.Data))
	}
	vectors := make([][]float64, len(inputs))
	for i, d := range out.Data {
		idx := d.Index
		if idx < 0 || idx >= len(inputs) || vectors[idx] != nil {
			idx = i
		}
		if len(d.Embedding) == 0 {
			return nil, errors.New("no embedding returned")
		}
		vectors[idx] = normalize(d.Embedding)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, v := range vectors {
		if c.dimension == 0 {
			c.dimension = len(v)
		}
		if len(v) != c.dimension {
			return nil, fmt.Errorf("embedding dimension changed from %d to %d", c.dimension, len(v))
		}
	}
	return vectors, nil
}

type statusError struct {
	status string
	code   int
}

func (e *statusError) Error() string { return "openai embeddings failed: " + e.status }

func retryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code == http.StatusTooManyRequests || se.code >= 500
	}
	return true
}

func (c *Client) post(url string, data []byte) ([]byte, time.Duration, error) {
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, retryAfter(resp.Header.Get("Retry-After"), time.Now()), &statusError{status: resp.Status, code: resp.StatusCode}
	}
	payload, err := io.ReadAll(resp.Body)
	return payload, 0, err
}

func normalize(v []float64) []float64 {
	var norm float64
	for _, x := range v {
		norm += x * x
	}
	if norm == 0 {
		return v
	}
	norm = math.Sqrt(norm)
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}

func retryDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	base := 200 * time.Millisecond
	// exponential backoff capped at 5s
	d := base << attempt
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}

// retryAfter parses a Retry-After header given as seconds or an HTTP date,
// capped at maxBackoff.
func retryAfter(header string, now time.Time) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	var d time.Duration
	if secs, err := strconv.Atoi(header); err == nil {
		d = time.Duration(secs) * time.Second
	} else if at, err := http.ParseTime(header); err == nil {
		d = at.Sub(now)
	}
	if d < 0 {
		return 0
	}
	return min(d, maxBackoff)
}
