package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"curioqueries/internal/domain"
	"curioqueries/internal/embedding/tfidf"
	"curioqueries/internal/vectorstore/memory"
)

var (
	// ErrEmptyQuestion is returned when the question is blank.
	ErrEmptyQuestion = errors.New("question must not be empty")
	// ErrNoDocuments is returned when there is nothing to search.
	ErrNoDocuments = errors.New("no documents loaded")
)

// DocumentLoader turns a path into an extracted document.
type DocumentLoader interface {
	Supports(path string) bool
	Extract(ctx context.Context, path string) (domain.Document, error)
}

// Settings tunes loading and ranking.
type Settings struct {
	// TopK is used when Ask is called with topK <= 0.
	TopK int
	// MinScore drops answers scoring below it.
	MinScore float64
	// MaxChunks caps how many chunks are sent to the model per question. Zero sends all.
	MaxChunks int
	// Workers bounds concurrent extraction and model calls.
	Workers int
	// SummarySentences is the length of the overview returned by Load.
	SummarySentences int
}

// Option configures a QAServiceImpl.
type Option func(*QAServiceImpl)

// WithLogger sets a custom logger. Default is a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *QAServiceImpl) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRetrieval replaces the embedder and vector store used to pre-select chunks.
func WithRetrieval(newEmbedder func() domain.Embedder, newStore func() domain.VectorStore) Option {
	return func(s *QAServiceImpl) {
		s.newEmbedder = newEmbedder
		s.newStore = newStore
	}
}

var _ domain.QAService = (*QAServiceImpl)(nil)

// QAServiceImpl implements domain.QAService.
type QAServiceImpl struct {
	loader      DocumentLoader
	chunker     domain.Chunker
	model       domain.QAModel
	summarizer  domain.Summarizer
	settings    Settings
	newEmbedder func() domain.Embedder
	newStore    func() domain.VectorStore
	logger      *zap.Logger
}

func NewQAService(loader DocumentLoader, chunker domain.Chunker, model domain.QAModel, summarizer domain.Summarizer, settings Settings, opts ...Option) *QAServiceImpl {
	if settings.TopK <= 0 {
		settings.TopK = 1
	}
	if settings.Workers <= 0 {
		settings.Workers = 1
	}
	s := &QAServiceImpl{
		loader:      loader,
		chunker:     chunker,
		model:       model,
		summarizer:  summarizer,
		settings:    settings,
		newEmbedder: func() domain.Embedder { return tfidf.NewEmbedder() },
		newStore:    func() domain.VectorStore { return memory.NewStorage(memory.WithMinScore(0)) },
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("component", "qa-service"))
	return s
}

// Load expands globs, extracts every file concurrently and returns the documents
// in argument order together with a short summary of their content.
func (s *QAServiceImpl) Load(ctx context.Context, paths []string) ([]domain.Document, string, error) {
	files, err := s.expand(paths)
	if err != nil {
		return nil, "", err
	}
	if len(files) == 0 {
		return nil, "", ErrNoDocuments
	}

	docs := make([]domain.Document, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.settings.Workers)
	for i, path := range files {
		g.Go(func() error {
			doc, err := s.loader.Extract(gctx, path)
			if err != nil {
				return err
			}
			docs[i] = doc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, "", err
	}
	s.logger.Info("documents loaded", zap.Int("count", len(docs)))

	summary, err := s.summarize(docs)
	if err != nil {
		return nil, "", err
	}
	return docs, summary, nil
}

// expand resolves glob patterns. Unsupported files matched by a pattern are
// skipped; an unsupported file named explicitly is an error from the loader.
func (s *QAServiceImpl) expand(paths []string) ([]string, error) {
	seen := make(map[string]struct{})
	var out []string
	add := func(p string) {
		if _, dup := seen[p]; dup {
			return
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	for _, p := range paths {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		matches, err := filepath.Glob(p)
		if err != nil {
			return nil, fmt.Errorf("bad pattern %q: %w", p, err)
		}
		if len(matches) == 0 || (len(matches) == 1 && matches[0] == p) {
			add(p)
			continue
		}
		sort.Strings(matches)
		for _, m := range matches {
			if s.loader.Supports(m) {
				add(m)
			}
		}
	}
	return out, nil
}

func (s *QAServiceImpl) summarize(docs []domain.Document) (string, error) {
	if s.summarizer == nil {
		return "", nil
	}
	var sb strings.Builder
	for _, d := range docs {
		sb.WriteString(d.Content)
		sb.WriteString("\n")
	}
	return s.summarizer.Summarize(sb.String(), s.settings.SummarySentences)
}

// chunkResult holds the model output for one chunk.
type chunkResult struct {
	spans []domain.Span
	err   error
}

// candidate is a chunk tagged with the position of its document in the Ask
// call, so documents sharing or lacking an ID stay apart.
type candidate struct {
	chunk domain.Chunk
	doc   int
}

// Ask queries the model over every chunk of docs and returns the best topK
// answers, highest score first.
func (s *QAServiceImpl) Ask(ctx context.Context, docs []domain.Document, question string, topK int) ([]domain.Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}
	if len(docs) == 0 {
		return nil, ErrNoDocuments
	}
	if topK <= 0 {
		topK = s.settings.TopK
	}

	var all []candidate
	for i, d := range docs {
		cs, err := s.chunker.Chunk(d)
		if err != nil {
			return nil, fmt.Errorf("chunk %s: %w", d.Name, err)
		}
		for _, c := range cs {
			all = append(all, candidate{chunk: c, doc: i})
		}
	}
	if len(all) == 0 {
		return nil, nil
	}
	candidates := s.selectChunks(question, all)
	s.logger.Debug("querying model",
		zap.String("model", s.model.Name()),
		zap.Int("chunks", len(all)),
		zap.Int("candidates", len(candidates)))

	results, err := s.runModel(ctx, question, candidates, topK)
	if err != nil {
		return nil, err
	}

	var failures []error
	for i, r := range results {
		if r.err != nil {
			failures = append(failures, fmt.Errorf("chunk %d of %s: %w", candidates[i].chunk.Index, docs[candidates[i].doc].Name, r.err))
		}
	}
	if len(failures) == len(candidates) {
		return nil, errors.Join(failures...)
	}
	for _, f := range failures {
		s.logger.Warn("model failed on chunk", zap.Error(f))
	}

	answers := rank(docs, candidates, results, s.settings.MinScore)
	if len(answers) > topK {
		answers = answers[:topK]
	}
	return answers, nil
}

// runModel fans the chunks out over a bounded worker pool.
func (s *QAServiceImpl) runModel(ctx context.Context, question string, candidates []candidate, topK int) ([]chunkResult, error) {
	pool, err := ants.NewPool(s.settings.Workers)
	if err != nil {
		return nil, err
	}
	defer pool.Release()

	results := make([]chunkResult, len(candidates))
	var wg sync.WaitGroup
	for i := range candidates {
		wg.Add(1)
		task := func() {
			defer wg.Done()
			if err := ctx.Err(); err != nil {
				results[i].err = err
				return
			}
			results[i].spans, results[i].err = s.model.Answer(ctx, question, candidates[i].chunk.Text, topK)
		}
		if err := pool.Submit(task); err != nil {
			wg.Done()
			results[i].err = err
		}
	}
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// selectChunks keeps the MaxChunks chunks most similar to the question.
// When retrieval cannot discriminate, the first MaxChunks chunks are used.
func (s *QAServiceImpl) selectChunks(question string, candidates []candidate) []candidate {
	limit := s.settings.MaxChunks
	if limit <= 0 || len(candidates) <= limit {
		return candidates
	}
	selected, err := s.retrieve(question, candidates, limit)
	if err != nil {
		s.logger.Debug("retrieval skipped", zap.Error(err))
		return candidates[:limit]
	}
	return selected
}

var errNoSignal = errors.New("question shares no terms with the documents")

// retrieve stores the chunks under their position in candidates and maps the
// hits back by that position. Hits come first, then unmatched chunks in
// document order until limit is reached.
func (s *QAServiceImpl) retrieve(question string, candidates []candidate, limit int) ([]candidate, error) {
	texts := make([]string, len(candidates))
	keyed := make([]domain.Chunk, len(candidates))
	for i, c := range candidates {
		texts[i] = c.chunk.Text
		keyed[i] = c.chunk
		keyed[i].ChunkID = strconv.Itoa(i)
	}
	emb := s.newEmbedder()
	if err := emb.Prepare(texts); err != nil {
		return nil, err
	}
	if kt, ok := emb.(interface{ KnownTerms(string) int }); ok && kt.KnownTerms(question) == 0 {
		return nil, errNoSignal
	}
	vectors := make([][]float64, len(texts))
	for i, text := range texts {
		vec, err := emb.Embed(text)
		if err != nil {
			return nil, err
		}
		vectors[i] = vec
	}
	// remote embedders only know their dimension after the first vector
	store := s.newStore()
	if err := store.Init(emb.Dimension()); err != nil {
		return nil, err
	}
	defer func() {
		if err := store.Clear(); err != nil {
			s.logger.Debug("vector store clear failed", zap.Error(err))
		}
	}()
	if err := store.Upsert(keyed, vectors); err != nil {
		return nil, err
	}
	qv, err := emb.Embed(question)
	if err != nil {
		return nil, err
	}
	hits, err := store.Search(qv, limit)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 || hits[0].Score <= 1e-9 {
		return nil, errNoSignal
	}
	picked := make(map[int]bool, limit)
	out := make([]candidate, 0, limit)
	for _, h := range hits {
		pos, err := strconv.Atoi(h.Chunk.ChunkID)
		if err != nil || pos < 0 || pos >= len(candidates) {
			return nil, fmt.Errorf("vector store returned unknown chunk %q", h.Chunk.ChunkID)
		}
		if picked[pos] || h.Score <= 1e-9 {
			continue
		}
		picked[pos] = true
		out = append(out, candidates[pos])
	}
	// stores may drop unrelated chunks; fill up in document order
	for pos := 0; len(out) < limit && pos < len(candidates); pos++ {
		if !picked[pos] {
			picked[pos] = true
			out = append(out, candidates[pos])
		}
	}
	return out, nil
}

type answerKey struct {
	doc        int
	start, end int
}

type rankedAnswer struct {
	domain.Answer
	doc int
}

// rank lifts spans into document coordinates, merges duplicates produced by
// overlapping windows and orders by score, then document order, then offset.
func rank(docs []domain.Document, candidates []candidate, results []chunkResult, minScore float64) []domain.Answer {
	best := make(map[answerKey]int)
	var ranked []rankedAnswer
	for i, r := range results {
		if r.err != nil {
			continue
		}
		c := candidates[i]
		ch := c.chunk
		for _, sp := range r.spans {
			if strings.TrimSpace(sp.Text) == "" || sp.Score < minScore {
				continue
			}
			if sp.Start < 0 || sp.End > len(ch.Text) || sp.Start >= sp.End {
				continue
			}
			a := rankedAnswer{
				Answer: domain.Answer{
					Text:         sp.Text,
					Score:        sp.Score,
					DocumentID:   docs[c.doc].ID,
					DocumentName: docs[c.doc].Name,
					ChunkIndex:   ch.Index,
					Start:        ch.Start + sp.Start,
					End:          ch.Start + sp.End,
					Context:      ch.Text,
					ContextStart: ch.Start,
				},
				doc: c.doc,
			}
			key := answerKey{a.doc, a.Start, a.End}
			if j, ok := best[key]; ok {
				if a.Score > ranked[j].Score {
					ranked[j] = a
				}
				continue
			}
			best[key] = len(ranked)
			ranked = append(ranked, a)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.doc != b.doc {
			return a.doc < b.doc
		}
		return a.Start < b.Start
	})
	answers := make([]domain.Answer, len(ranked))
	for i, a := range ranked {
		answers[i] = a.Answer
	}
	return answers
}
