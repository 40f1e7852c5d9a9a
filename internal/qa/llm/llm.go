// Package llm answers questions with an OpenAI-compatible chat model that is
// instructed to quote answer spans verbatim from the passage.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"

	"curioqueries/internal/domain"
)

const (
	DefaultHost  = "http://localhost:11434/v1"
	DefaultModel = "qwen2.5:3b"
)

// Config configures the chat-model reader.
type Config struct {
	Host      string
	Model     string
	APIKeyEnv string
	Logger    *zap.Logger
}

// Reader implements domain.QAModel on top of a langchaingo chat model.
type Reader struct {
	client llms.Model
	model  string
	logger *zap.Logger
}

// New creates a reader for an OpenAI-compatible endpoint. Local servers such as
// Ollama accept any token, so "none" is sent when no key is configured.
func New(cfg Config) (*Reader, error) {
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	token := "none"
	if cfg.APIKeyEnv != "" {
		if v := os.Getenv(cfg.APIKeyEnv); v != "" {
			token = v
		}
	}
	client, err := openai.New(
		openai.WithBaseURL(normalizeHost(cfg.Host)),
		openai.WithToken(token),
		openai.WithModel(cfg.Model),
	)
	if err != nil {
		return nil, err
	}
	return NewWithModel(client, cfg.Model, cfg.Logger), nil
}

// NewWithModel wraps an existing langchaingo model.
func NewWithModel(client llms.Model, model string, logger *zap.Logger) *Reader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reader{
		client: client,
		model:  model,
		logger: logger.With(zap.String("component", "llm-qa"), zap.String("model", model)),
	}
}

func (r *Reader) Name() string { return "llm:" + r.model }

type answer struct {
	Answer     string  `json:"answer"`
	Confidence float64 `json:"confidence"`
}

type response struct {
	Answers []answer `json:"answers"`
}

func (r *Reader) Answer(ctx context.Context, question, passage string, topK int) ([]domain.Span, error) {
	if topK <= 0 {
		topK = 1
	}
	content := []llms.MessageContent{
		{
			Role:  llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextPart(buildSystemPrompt(topK))},
		},
		{
			Role:  llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{llms.TextPart(buildUserPrompt(question, passage))},
		},
	}

	// The model occasionally returns malformed JSON; ask again a couple of times.
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		resp, err := r.client.GenerateContent(ctx, content, llms.WithTemperature(0.0), llms.WithJSONMode())
		if err != nil {
			r.logger.Error("failed to generate content", zap.Int("attempt", attempt+1), zap.Error(err))
			return nil, err
		}
		if len(resp.Choices) < 1 {
			r.logger.Debug("no choices returned from model")
			return nil, nil
		}
		spans, err := parseSpans(resp.Choices[0].Content, passage, topK)
		if err == nil {
			return spans, nil
		}
		lastErr = err
		r.logger.Warn("malformed model response", zap.Int("attempt", attempt+1), zap.Error(err))
	}
	return nil, fmt.Errorf("llm qa: %w", lastErr)
}

// parseSpans decodes the model output and keeps only answers that are quoted
// verbatim from the passage.
func parseSpans(raw, passage string, topK int) ([]domain.Span, error) {
	raw = stripCodeFence(raw)
	var out response
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, errors.Join(errors.New("response is not valid JSON"), err)
	}
	if len(out.Answers) == 0 {
		// Some models answer with a bare object instead of the wrapper.
		var single answer
		if err := json.Unmarshal([]byte(raw), &single); err == nil && single.Answer != "" {
			out.Answers = []answer{single}
		}
	}
	seen := make(map[string]struct{})
	spans := make([]domain.Span, 0, len(out.Answers))
	for _, a := range out.Answers {
		text := strings.TrimSpace(a.Answer)
		if text == "" {
			continue
		}
		if _, dup := seen[text]; dup {
			continue
		}
		start := strings.Index(passage, text)
		if start < 0 {
			start = indexFold(passage, text)
		}
		if start < 0 {
			continue
		}
		seen[text] = struct{}{}
		spans = append(spans, domain.Span{
			Text:  passage[start : start+len(text)],
			Score: clamp01(a.Confidence),
			Start: start,
			End:   start + len(text),
		})
		if len(spans) == topK {
			break
		}
	}
	return spans, nil
}

// indexFold is a case-insensitive strings.Index that only matches when the
// folded forms keep the same byte length.
func indexFold(s, substr string) int {
	ls, lsub := strings.ToLower(s), strings.ToLower(substr)
	if len(ls) != len(s) || len(lsub) != len(substr) {
		return -1
	}
	return strings.Index(ls, lsub)
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func normalizeHost(host string) string {
	if !strings.HasSuffix(host, "/v1") {
		host = strings.TrimSuffix(host, "/") + "/v1"
	}
	return host
}
