package memory

import (
	"errors"
	"sort"
	"sync"

	"curioqueries/internal/domain"
)

// Storage is a simple in-memory vector store using brute-force cosine similarity.
// Vectors are expected to be L2-normalised. Equal scores keep insertion order.
type Storage struct {
	mu        sync.RWMutex
	dimension int
	minScore  float64
	filter    bool
	vectors   [][]float64
	chunks    []domain.Chunk
}

// Option configures a Storage.
type Option func(*Storage)

// WithMinScore makes Search drop hits scoring at or below threshold, so
// chunks sharing nothing with the query are never returned.
func WithMinScore(threshold float64) Option {
	return func(s *Storage) {
		s.minScore = threshold
		s.filter = true
	}
}

func NewStorage(opts ...Option) *Storage {
	s := &Storage{}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Storage) Init(dimension int) error {
	if dimension <= 0 {
		return errors.New("invalid dimension")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dimension = dimension
	s.vectors = nil
	s.chunks = nil
	return nil
}

func (s *Storage) Upsert(chunks []domain.Chunk, vectors [][]float64) error {
	if len(chunks) != len(vectors) {
		return errors.New("chunks and vectors length mismatch")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range vectors {
		if len(v) != s.dimension {
			return errors.New("vector dimension mismatch")
		}
	}
	s.chunks = append(s.chunks, chunks...)
	s.vectors = append(s.vectors, vectors...)
	return nil
}

func (s *Storage) Search(vector []float64, topK int) ([]domain.SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(vector) != s.dimension {
		return nil, errors.New("query dimension mismatch")
	}
	if topK <= 0 {
		topK = 5
	}
	results := make([]domain.SearchResult, 0, len(s.vectors))
	for i := range s.vectors {
		score := dot(s.vectors[i], vector)
		if s.filter && score <= s.minScore {
			continue
		}
		results = append(results, domain.SearchResult{Chunk: s.chunks[i], Score: score})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if topK < len(results) {
		results = results[:topK]
	}
	return results, nil
}

func (s *Storage) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vectors = nil
	s.chunks = nil
	return nil
}

func dot(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
