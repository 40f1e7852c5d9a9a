package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"curioqueries/internal/config"
	"curioqueries/internal/domain"
	"curioqueries/internal/service"
	"curioqueries/internal/vectorstore/memory"
	"curioqueries/internal/vectorstore/qdrant"
)

const lexicalConfig = `model:
  type: lexical
cache:
  enabled: false
log:
  level: error
`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	app := newApp()
	var out bytes.Buffer
	app.Writer = &out
	app.ErrWriter = &out
	err := app.Run(append([]string{"curioqueries"}, args...))
	return out.String(), err
}

func TestFormatsCommand(t *testing.T) {
	out, err := run(t, "formats")
	require.NoError(t, err)
	assert.Contains(t, out, ".docx\n")
	assert.Contains(t, out, ".md\n")
}

func TestAskCommand(t *testing.T) {
	dir := t.TempDir()
	cfg := writeFile(t, dir, "config.yaml", lexicalConfig)
	doc := writeFile(t, dir, "paris.txt",
		"Paris is the capital of France. The Eiffel Tower was built in 1889 for the World Fair.")

	out, err := run(t, "--config", cfg, "ask", "--question", "When was the Eiffel Tower built?", "--top-k", "1", doc)
	require.NoError(t, err)
	assert.Contains(t, out, "1. The Eiffel Tower was built in 1889")
	assert.Contains(t, out, "paris.txt")
	assert.NotContains(t, out, "2. ")
}

func TestAskCommandErrors(t *testing.T) {
	dir := t.TempDir()
	cfg := writeFile(t, dir, "config.yaml", lexicalConfig)
	doc := writeFile(t, dir, "a.txt", "Some text.")

	_, err := run(t, "--config", cfg, "ask", doc)
	assert.Error(t, err, "question flag is required")

	_, err = run(t, "--config", cfg, "ask", "--question", "   ", doc)
	assert.ErrorIs(t, err, service.ErrEmptyQuestion)

	_, err = run(t, "--config", cfg, "ask", "--question", "why?")
	assert.Error(t, err)
}

func TestExtractCommand(t *testing.T) {
	dir := t.TempDir()
	cfg := writeFile(t, dir, "config.yaml", lexicalConfig)
	doc := writeFile(t, dir, "notes.md", "# Title\n\nSome *notes* here.")

	out, err := run(t, "--config", cfg, "extract", doc)
	require.NoError(t, err)
	assert.Contains(t, out, "== notes.md (md) ==")
	assert.Contains(t, out, "Some notes here.")
}

func TestBuildWithCache(t *testing.T) {
	cfg := config.Default()
	cfg.Model.Type = "lexical"
	cfg.Cache.Enabled = true
	cfg.Cache.Path = filepath.Join(t.TempDir(), "cache")
	cfg.Chunker.Type = "sentence"

	comps, err := build(cfg, zap.NewNop())
	require.NoError(t, err)
	assert.NotNil(t, comps.service)
	assert.NoError(t, comps.close())
}

func TestBuildContinuesWhenCacheIsLocked(t *testing.T) {
	cfg := config.Default()
	cfg.Model.Type = "lexical"
	cfg.Cache.Enabled = true
	cfg.Cache.Path = filepath.Join(t.TempDir(), "cache")

	first, err := build(cfg, zap.NewNop())
	require.NoError(t, err)
	defer first.close()

	second, err := build(cfg, zap.NewNop())
	require.NoError(t, err)
	defer second.close()

	answers, err := second.service.Ask(context.Background(),
		[]domain.Document{{ID: "1", Name: "a.txt", Content: "The tower was built in 1889."}},
		"When was the tower built?", 1)
	require.NoError(t, err)
	require.Len(t, answers, 1)
}

func TestBuildRejectsUnknownComponents(t *testing.T) {
	cfg := config.Default()
	cfg.Model.Type = "oracle"
	_, err := buildModel(cfg, zap.NewNop())
	assert.Error(t, err)

	_, err = buildChunker(config.ChunkerConfig{Type: "paragraph"})
	assert.Error(t, err)

	for _, typ := range []string{"window", "sentence", "recursive"} {
		ch, err := buildChunker(config.ChunkerConfig{Type: typ, Size: 200, Overlap: 20, SentencesPerChunk: 2})
		require.NoError(t, err, typ)
		assert.NotNil(t, ch)
	}
}

func TestBuildRetrievalSelectsBackends(t *testing.T) {
	newEmbedder, newStore := buildRetrieval(config.RetrieverConfig{}, zap.NewNop())
	assert.Equal(t, "tfidf", newEmbedder().Name())
	assert.IsType(t, &memory.Storage{}, newStore())

	newEmbedder, newStore = buildRetrieval(config.RetrieverConfig{
		Embedder: config.EmbedderConfig{Type: "openai"},
		Store:    config.VectorStoreConfig{Type: "qdrant"},
	}, zap.NewNop())
	assert.Same(t, newEmbedder(), newEmbedder())
	assert.IsType(t, &qdrant.Storage{}, newStore())
}
