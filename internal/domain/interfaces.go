package domain

import (
	"context"
	"io"
)

// Document represents a single file after plain-text extraction.
type Document struct {
	ID      string
	Name    string
	Path    string
	Format  string
	Content string
}

// Chunk is a window of a document handed to the QA model.
// Start and End are byte offsets into the document content.
type Chunk struct {
	DocumentID string
	ChunkID    string
	Text       string
	Index      int
	Start      int
	End        int
}

// Span is an answer returned by a QA model, positioned inside the passage it was given.
type Span struct {
	Text  string  `json:"text"`
	Score float64 `json:"score"`
	Start int     `json:"start"`
	End   int     `json:"end"`
}

// Answer is a span placed back into document coordinates.
type Answer struct {
	Text         string
	Score        float64
	DocumentID   string
	DocumentName string
	ChunkIndex   int
	Start        int
	End          int
	Context      string
	// ContextStart is the document offset of Context.
	ContextStart int
}

// SearchResult represents a matching chunk with a relevance score.
type SearchResult struct {
	Chunk Chunk
	Score float64
}

// Extractor turns a file's bytes into plain text.
type Extractor interface {
	Extract(ctx context.Context, r io.Reader) (string, error)
}

// Chunker splits documents into chunks small enough for the QA model.
type Chunker interface {
	Chunk(document Document) ([]Chunk, error)
}

// QAModel finds answer spans for a question inside a passage.
type QAModel interface {
	Name() string
	Answer(ctx context.Context, question, passage string, topK int) ([]Span, error)
}

// Embedder converts free text into a numeric vector representation.
// Implementations may require a preparation phase over the corpus.
type Embedder interface {
	Name() string
	Prepare(corpus []string) error
	Dimension() int
	Embed(text string) ([]float64, error)
}

// VectorStore persists vectors and supports similarity search.
type VectorStore interface {
	Init(dimension int) error
	Upsert(chunks []Chunk, vectors [][]float64) error
	Search(vector []float64, topK int) ([]SearchResult, error)
	Clear() error
}

// Summarizer produces a brief summary of the provided text.
type Summarizer interface {
	Summarize(text string, maxSentences int) (string, error)
}

// QAService defines the operations exposed by the application core.
type QAService interface {
	Load(ctx context.Context, paths []string) (docs []Document, summary string, err error)
	Ask(ctx context.Context, docs []Document, question string, topK int) ([]Answer, error)
}
