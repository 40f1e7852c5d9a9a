// Package huggingface calls a hosted extractive question-answering model
// through the Hugging Face Inference API (or any endpoint speaking its
// question-answering payload, such as a text-generation-inference deployment).
package huggingface

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"curioqueries/internal/domain"
)

const (
	DefaultBaseURL      = "https://api-inference.huggingface.co/models"
	DefaultModel        = "deepset/roberta-base-squad2"
	DefaultMaxAnswerLen = 50

	maxBackoff = 5 * time.Second
)

// Client is a question-answering client implementing domain.QAModel.
type Client struct {
	baseURL      string
	apiKey       string
	model        string
	maxAnswerLen int
	client       *http.Client
	maxRetries   int
	sleep        func(context.Context, time.Duration) error
	logger       *zap.Logger
}

// Config configures the Inference API client.
type Config struct {
	BaseURL      string
	APIKeyEnv    string
	Model        string
	MaxAnswerLen int
	MaxRetries   int
	Timeout      time.Duration
	Logger       *zap.Logger
}

// NewClient creates a client. A missing API key is allowed for self-hosted endpoints.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxAnswerLen <= 0 {
		cfg.MaxAnswerLen = DefaultMaxAnswerLen
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	t := cfg.Timeout
	if t == 0 {
		t = 60 * time.Second
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
		baseURL:      strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:       key,
		model:        cfg.Model,
		maxAnswerLen: cfg.MaxAnswerLen,
		client:       &http.Client{Timeout: t},
		maxRetries:   cfg.MaxRetries,
		sleep:        sleepContext,
		logger:       logger.With(zap.String("component", "huggingface-qa"), zap.String("model", cfg.Model)),
	}
}

// Name returns the identifier of this model, including the hosted model name.
func (c *Client) Name() string { return "huggingface:" + c.model }

type qaRequest struct {
	Inputs struct {
		Question string `json:"question"`
		Context  string `json:"context"`
	} `json:"inputs"`
	Parameters struct {
		TopK                   int  `json:"top_k"`
		MaxAnswerLen           int  `json:"max_answer_len"`
		HandleImpossibleAnswer bool `json:"handle_impossible_answer"`
	} `json:"parameters"`
}

type qaAnswer struct {
	Answer string  `json:"answer"`
	Score  float64 `json:"score"`
	Start  int     `json:"start"`
	End    int     `json:"end"`
}

// Answer asks the hosted model for up to topK answer spans inside passage.
func (c *Client) Answer(ctx context.Context, question, passage string, topK int) ([]domain.Span, error) {
	if topK <= 0 {
		topK = 1
	}
	var body qaRequest
	body.Inputs.Question = question
	body.Inputs.Context = passage
	body.Parameters.TopK = topK
	body.Parameters.MaxAnswerLen = c.maxAnswerLen
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s/%s", c.baseURL, c.model)

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			c.logger.Debug("retrying question-answering request", zap.Int("attempt", attempt), zap.Error(lastErr))
		}
		payload, wait, err := c.do(ctx, url, data)
		if err == nil {
			answers, err := decodeAnswers(payload)
			if err != nil {
				return nil, err
			}
			return toSpans(passage, answers), nil
		}
		lastErr = err
		if !isRetryable(err) || attempt == c.maxRetries {
			break
		}
		if wait <= 0 {
			wait = retryDelay(attempt)
		}
		if err := c.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
	c.logger.Warn("question-answering request failed", zap.Error(lastErr))
	return nil, lastErr
}

// statusError carries a non-2xx response.
type statusError struct {
	status int
	msg    string
}

func (e *statusError) Error() string {
	if e.msg != "" {
		return fmt.Sprintf("huggingface qa failed: %d %s", e.status, e.msg)
	}
	return fmt.Sprintf("huggingface qa failed: %d %s", e.status, http.StatusText(e.status))
}

func isRetryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.status == http.StatusTooManyRequests || se.status >= 500
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// do performs one request. The returned duration is the server's requested
// backoff, if any.
func (c *Client) do(ctx context.Context, url string, data []byte) ([]byte, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
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

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}
	if resp.StatusCode >= 300 {
		wait := retryAfter(resp.Header.Get("Retry-After"), time.Now())
		var apiErr struct {
			Error         string  `json:"error"`
			EstimatedTime float64 `json:"estimated_time"`
		}
		if json.Unmarshal(payload, &apiErr) == nil && wait == 0 && apiErr.EstimatedTime > 0 {
			wait = min(time.Duration(apiErr.EstimatedTime*float64(time.Second)), maxBackoff)
		}
		return nil, wait, &statusError{status: resp.StatusCode, msg: apiErr.Error}
	}
	return payload, 0, nil
}

// decodeAnswers accepts both the single-object and the list response shapes.
func decodeAnswers(payload []byte) ([]qaAnswer, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return nil, errors.New("empty question-answering response")
	}
	if trimmed[0] == '[' {
		var list []qaAnswer
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, fmt.Errorf("decode answers: %w", err)
		}
		return list, nil
	}
	var one qaAnswer
	if err := json.Unmarshal(trimmed, &one); err != nil {
		return nil, fmt.Errorf("decode answer: %w", err)
	}
	return []qaAnswer{one}, nil
}

// toSpans converts the model's character offsets into byte offsets and checks
// that every answer really occurs in the passage.
func toSpans(passage string, answers []qaAnswer) []domain.Span {
	spans := make([]domain.Span, 0, len(answers))
	for _, a := range answers {
		text := strings.TrimSpace(a.Answer)
		if text == "" {
			continue
		}
		start, end, ok := runeSpan(passage, a.Start, a.End)
		if ok {
			s, e := trimBytes(passage, start, end)
			if passage[s:e] == text {
				spans = append(spans, domain.Span{Text: text, Score: a.Score, Start: s, End: e})
				continue
			}
		}
		if i := strings.Index(passage, text); i >= 0 {
			spans = append(spans, domain.Span{Text: text, Score: a.Score, Start: i, End: i + len(text)})
		}
	}
	return spans
}

func runeSpan(s string, start, end int) (int, int, bool) {
	if start < 0 || end < start {
		return 0, 0, false
	}
	from, to := -1, -1
	n := 0
	for i := range s {
		if n == start {
			from = i
		}
		if n == end {
			to = i
			break
		}
		n++
	}
	if to < 0 && n == end {
		to = len(s)
	}
	if from < 0 && start == utf8.RuneCountInString(s) {
		from = len(s)
	}
	if from < 0 || to < 0 {
		return 0, 0, false
	}
	return from, to, true
}

func trimBytes(s string, start, end int) (int, int) {
	for start < end && isSpace(s[start]) {
		start++
	}
	for end > start && isSpace(s[end-1]) {
		end--
	}
	return start, end
}

func isSpace(b byte) bool { return b == ' ' || b == '\t' || b == '\n' || b == '\r' }

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

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
